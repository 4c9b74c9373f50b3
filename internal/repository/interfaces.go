// Package repository 定义数据访问接口
// 接口抽象使依赖注入和单元测试成为可能
package repository

import (
	"context"

	"github.com/ashwinyue/next-sync/internal/model"
)

// ========== StoreRepository 接口 ==========

// StoreRepository 向量存储数据访问接口
type StoreRepository interface {
	Create(ctx context.Context, store *model.VectorStore) error
	GetByID(ctx context.Context, id string) (*model.VectorStore, error)
	// FindActiveByOwner 返回 (ownerID, ownerType) 下第一个活跃存储
	FindActiveByOwner(ctx context.Context, ownerID string, ownerType model.OwnerType) (*model.VectorStore, error)
	ListActiveByOwners(ctx context.Context, ownerType model.OwnerType, ownerIDs []string) ([]*model.VectorStore, error)
	ListActiveByType(ctx context.Context, ownerType model.OwnerType) ([]*model.VectorStore, error)
	List(ctx context.Context, ownerID string, offset, limit int) ([]*model.VectorStore, int64, error)
	Deactivate(ctx context.Context, id string) error
	// AdjustDocumentCount 计数器增减，下限为 0
	AdjustDocumentCount(ctx context.Context, id string, delta int) error
}

// ========== DocumentRepository 接口 ==========

// DocumentRepository 向量文档数据访问接口
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.VectorDocument) error
	GetByID(ctx context.Context, id string) (*model.VectorDocument, error)
	Delete(ctx context.Context, id string) error
	ListByStore(ctx context.Context, storeID string) ([]*model.VectorDocument, error)
	ListByStorePaged(ctx context.Context, storeID string, offset, limit int) ([]*model.VectorDocument, int64, error)
	ListByStoreAndSourceType(ctx context.Context, storeID string, sourceType model.SourceType) ([]*model.VectorDocument, error)
	// FindBySource storeID 为空时不限制存储
	FindBySource(ctx context.Context, storeID string, sourceType model.SourceType, sourceID string) ([]*model.VectorDocument, error)
	// FindIndexedBySource 返回最新的已索引（含 degraded）文档，不存在时返回 ErrNotFound
	FindIndexedBySource(ctx context.Context, storeID string, sourceType model.SourceType, sourceID string) (*model.VectorDocument, error)
	// ListChunksBySource 返回 {baseID}_chunk_{n} 形式的所有分块文档
	ListChunksBySource(ctx context.Context, storeID string, sourceType model.SourceType, baseID string) ([]*model.VectorDocument, error)
	CountByStatus(ctx context.Context, storeID string) (map[model.DocumentStatus]int64, error)
}

// ========== 凭证相关接口 ==========

// TenantRepository 租户数据访问接口
type TenantRepository interface {
	Create(ctx context.Context, tenant *model.Tenant) error
	GetByID(ctx context.Context, id string) (*model.Tenant, error)
	Update(ctx context.Context, tenant *model.Tenant) error
}

// CredentialRepository 共享凭证池数据访问接口
type CredentialRepository interface {
	ListActiveSharedKeys(ctx context.Context) ([]string, error)
	AddSharedKey(ctx context.Context, key *model.SharedCredentialKey) error
}

// UserRepository 用户数据访问接口
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	ListClientIDs(ctx context.Context, consultantID string) ([]string, error)
}

// AgentConfigRepository 消息机器人配置数据访问接口
type AgentConfigRepository interface {
	GetByID(ctx context.Context, id string) (*model.WhatsappAgentConfig, error)
}

// ========== 对账 / 任务 ==========

// AuditReportRepository 对账报告数据访问接口
type AuditReportRepository interface {
	Create(ctx context.Context, report *model.SyncAuditReport) error
	ListByStore(ctx context.Context, storeID string, limit int) ([]*model.SyncAuditReport, error)
}

// SyncTaskRepository 后台任务数据访问接口
type SyncTaskRepository interface {
	Create(ctx context.Context, task *model.SyncTask) error
	GetByID(ctx context.Context, id string) (*model.SyncTask, error)
	MarkRunning(ctx context.Context, id string) error
	MarkSucceeded(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, lastErr string) error
	// Requeue 重新置为 pending，保留尝试次数
	Requeue(ctx context.Context, id string) error
	ListByStatus(ctx context.Context, status model.SyncTaskStatus, limit int) ([]*model.SyncTask, error)
}

// FileRepository 资料库文件记录
type FileRepository interface {
	Create(ctx context.Context, file *model.StoredFile) error
	GetByID(ctx context.Context, id, ownerID string) (*model.StoredFile, error)
	ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]*model.StoredFile, int64, error)
	Delete(ctx context.Context, id string) error
}

// ========== 来源业务表 ==========

// SourceRepository 来源业务表只读访问
type SourceRepository interface {
	ListLibraryDocuments(ctx context.Context, consultantID string) ([]*model.LibraryDocument, error)
	ListKnowledgeDocuments(ctx context.Context, consultantID string) ([]*model.KnowledgeDocument, error)
	ListClientKnowledge(ctx context.Context, clientID string) ([]*model.ClientKnowledgeDocument, error)
	ListExercises(ctx context.Context, consultantID string) ([]*model.Exercise, error)
	ListConsultations(ctx context.Context, clientID string) ([]*model.Consultation, error)
	ListLessons(ctx context.Context, consultantID string) ([]*model.UniversityLesson, error)
	ListFinancialSnapshots(ctx context.Context, clientID string) ([]*model.FinancialSnapshot, error)
	ListAgentKnowledge(ctx context.Context, agentConfigID string) ([]*model.AgentKnowledgeItem, error)

	// ExistingIDs 返回 ids 中在该来源表里仍存在的那部分；
	// 未登记（见 SourceTables）的来源类型返回 ErrUnmappedSource
	ExistingIDs(ctx context.Context, sourceType model.SourceType, ids []string) (map[string]bool, error)
}

// 确保实现了接口
var (
	_ StoreRepository       = (*storeRepositoryImpl)(nil)
	_ DocumentRepository    = (*documentRepositoryImpl)(nil)
	_ TenantRepository      = (*tenantRepositoryImpl)(nil)
	_ CredentialRepository  = (*credentialRepositoryImpl)(nil)
	_ UserRepository        = (*userRepositoryImpl)(nil)
	_ AgentConfigRepository = (*agentConfigRepositoryImpl)(nil)
	_ AuditReportRepository = (*auditReportRepositoryImpl)(nil)
	_ SyncTaskRepository    = (*syncTaskRepositoryImpl)(nil)
	_ FileRepository        = (*fileRepositoryImpl)(nil)
	_ SourceRepository      = (*sourceRepositoryImpl)(nil)
)
