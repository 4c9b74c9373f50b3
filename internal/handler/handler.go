package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-sync/internal/middleware"
	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/service"
	"github.com/ashwinyue/next-sync/internal/service/event"
	"github.com/ashwinyue/next-sync/internal/service/orchestrator"
	"github.com/ashwinyue/next-sync/internal/service/vectorsync"
)

// StoreService 存储、文档与对账
type StoreService interface {
	ListStores(ctx context.Context, ownerID string, page, pageSize int) ([]*model.VectorStore, int64, error)
	GetStore(ctx context.Context, storeID string) (*model.VectorStore, error)
	GetStoreStats(ctx context.Context, storeID string) (*vectorsync.StoreStats, error)
	ListDocuments(ctx context.Context, storeID string, page, pageSize int) ([]*model.VectorDocument, int64, error)
	DeleteDocument(ctx context.Context, documentID, tenantID string) (*vectorsync.DeleteResult, error)
	GetStoreNamesForGeneration(ctx context.Context, actorID string, role model.UserRole, parentTenantID string) ([]string, error)
	AuditStoreVsRemote(ctx context.Context, storeID string) (*vectorsync.AuditResult, error)
	CleanupOrphansOnRemote(ctx context.Context, storeID string) (*vectorsync.CleanupResult, error)
	CleanupSourceOrphans(ctx context.Context, storeID, tenantID string) (*vectorsync.CleanupResult, error)
	ReconcileBySourceType(ctx context.Context, storeID string, sourceType model.SourceType, validIDs []string, tenantID string) (*vectorsync.CleanupResult, error)
	ListReports(ctx context.Context, storeID string, limit int) ([]*model.SyncAuditReport, error)
}

// SyncRunner 同步编排
type SyncRunner interface {
	Sync(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// TaskQueue 后台任务队列
type TaskQueue interface {
	Enqueue(ctx context.Context, kind string, payload interface{}) (*model.SyncTask, error)
	Get(ctx context.Context, id string) (*model.SyncTask, error)
	List(ctx context.Context, status model.SyncTaskStatus, limit int) ([]*model.SyncTask, error)
	RetryFailed(ctx context.Context, limit int) (int, error)
}

// ProgressTokens 进度流令牌
type ProgressTokens interface {
	Issue(ctx context.Context, tenantID, channel string) (string, *event.Grant, error)
	Validate(ctx context.Context, token, channel string) (*event.Grant, error)
	Revoke(ctx context.Context, token string) error
}

// AccessChecker 请求方的所属关系与租户校验
type AccessChecker interface {
	CheckOwner(ctx context.Context, actor *model.User, ownerType model.OwnerType, ownerID string) error
	CheckOwnerID(ctx context.Context, actor *model.User, ownerID string) error
	CheckStore(ctx context.Context, actor *model.User, storeID string) (*model.VectorStore, error)
	CheckDocument(ctx context.Context, actor *model.User, documentID string) error
	CredentialTenant(actor *model.User, requested string) (string, error)
	CheckChannel(actor *model.User, channel string) error
}

// Handlers 处理器集合
type Handlers struct {
	Auth     *AuthHandler
	Store    *StoreHandler
	Sync     *SyncHandler
	Progress *ProgressHandler
	File     *FileHandler
	Tenant   *TenantHandler
}

// NewHandlers 创建所有处理器
func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Auth:     NewAuthHandler(svc.Auth),
		Store:    NewStoreHandler(svc.Sync, svc.Access),
		Sync:     NewSyncHandler(svc.Orchestrator, svc.Outbox, svc.Access),
		Progress: NewProgressHandler(svc.Tokens, svc.Events, svc.Access),
		File:     NewFileHandler(svc.Files),
		Tenant:   NewTenantHandler(svc.Credentials),
	}
}

// currentUser 当前用户；未登录时已写入 401
func currentUser(c *gin.Context) (*model.User, bool) {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		Unauthorized(c, "authentication required")
	}
	return user, ok
}

// pageParams 读取分页参数，默认第 1 页每页 20 条，最多 100 条
func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func limitParam(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > 500 {
		return 500
	}
	return limit
}
