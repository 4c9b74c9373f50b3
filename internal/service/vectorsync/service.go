// Package vectorsync 负责本地文档记录与远程向量存储之间的同步与对账
package vectorsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ashwinyue/next-sync/internal/config"
	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/remote"
	"github.com/ashwinyue/next-sync/internal/repository"
)

var (
	ErrStoreNotFound        = errors.New("store not found")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrOperationTimeout     = errors.New("remote operation timed out")
	ErrPollingFailed        = errors.New("polling remote operation failed")
	ErrUploadRejected       = errors.New("remote upload rejected")
	ErrIdentifierExtraction = errors.New("could not extract remote document id")
	ErrStaging              = errors.New("failed to stage content")
)

// CredentialResolver 为存储选择远程客户端
type CredentialResolver interface {
	ClientForStore(ctx context.Context, store *model.VectorStore, explicitTenantID string) (remote.Client, error)
}

// Service 同步服务
type Service struct {
	stores    repository.StoreRepository
	documents repository.DocumentRepository
	audits    repository.AuditReportRepository
	users     repository.UserRepository
	sources   repository.SourceRepository
	creds     CredentialResolver

	cfg        config.SyncConfig
	locker     Locker
	extractors []IDExtractor
	log        logrus.FieldLogger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option 服务选项
type Option func(*Service)

// WithLocker 启用按文档键加锁
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithLogger 设置 logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) { s.log = log }
}

// WithExtractors 替换 ID 提取策略
func WithExtractors(extractors ...IDExtractor) Option {
	return func(s *Service) { s.extractors = extractors }
}

// WithSleeper 替换轮询等待函数
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = sleep }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService 创建同步服务
func NewService(repos *repository.Repositories, creds CredentialResolver, cfg config.SyncConfig, opts ...Option) *Service {
	s := &Service{
		stores:     repos.Store,
		documents:  repos.Document,
		audits:     repos.AuditReport,
		users:      repos.User,
		sources:    repos.Source,
		creds:      creds,
		cfg:        cfg,
		locker:     NoopLocker{},
		extractors: DefaultExtractors(),
		log:        logrus.StandardLogger(),
		sleep:      sleepContext,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChunkingConfig 配置中的远程分块参数
func (s *Service) ChunkingConfig() model.ChunkingConfig {
	return model.ChunkingConfig{
		MaxTokensPerChunk: s.cfg.MaxTokensPerChunk,
		MaxOverlapTokens:  s.cfg.MaxOverlapTokens,
	}
}

// GetStore 获取存储
func (s *Service) GetStore(ctx context.Context, storeID string) (*model.VectorStore, error) {
	store, err := s.stores.GetByID(ctx, storeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
		}
		return nil, fmt.Errorf("failed to load store %s: %w", storeID, err)
	}
	return store, nil
}

// ListStores 分页列出存储
func (s *Service) ListStores(ctx context.Context, ownerID string, page, pageSize int) ([]*model.VectorStore, int64, error) {
	offset, limit := pageBounds(page, pageSize)
	return s.stores.List(ctx, ownerID, offset, limit)
}

// ListDocuments 分页列出存储下的文档
func (s *Service) ListDocuments(ctx context.Context, storeID string, page, pageSize int) ([]*model.VectorDocument, int64, error) {
	if _, err := s.GetStore(ctx, storeID); err != nil {
		return nil, 0, err
	}
	offset, limit := pageBounds(page, pageSize)
	return s.documents.ListByStorePaged(ctx, storeID, offset, limit)
}

// StoreStats 存储统计
type StoreStats struct {
	StoreID       string                         `json:"store_id"`
	DocumentCount int                            `json:"document_count"`
	ByStatus      map[model.DocumentStatus]int64 `json:"by_status"`
}

// GetStoreStats 统计存储下各状态文档数
func (s *Service) GetStoreStats(ctx context.Context, storeID string) (*StoreStats, error) {
	store, err := s.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	counts, err := s.documents.CountByStatus(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	return &StoreStats{StoreID: store.ID, DocumentCount: store.DocumentCount, ByStatus: counts}, nil
}

// EnsureStore 返回所属者的第一个活跃存储，不存在时远程创建并落库
func (s *Service) EnsureStore(ctx context.Context, ownerID string, ownerType model.OwnerType, displayName string) (*model.VectorStore, error) {
	store, err := s.stores.FindActiveByOwner(ctx, ownerID, ownerType)
	if err == nil {
		return store, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to find store: %w", err)
	}

	store = &model.VectorStore{
		DisplayName: displayName,
		OwnerID:     ownerID,
		OwnerType:   ownerType,
		IsActive:    true,
	}
	client, err := s.creds.ClientForStore(ctx, store, "")
	if err != nil {
		return nil, err
	}

	created, err := client.CreateStore(ctx, displayName)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote store: %w", err)
	}
	store.RemoteName = created.Name

	if err := s.stores.Create(ctx, store); err != nil {
		return nil, fmt.Errorf("failed to save store: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"store_id":    store.ID,
		"owner_id":    ownerID,
		"owner_type":  ownerType,
		"remote_name": store.RemoteName,
	}).Info("vector store created")
	return store, nil
}

// NeedsReupload 没有已索引文档或哈希不同时返回 true。
// storeID 为空时在所有存储中查找。
func (s *Service) NeedsReupload(ctx context.Context, storeID string, sourceType model.SourceType, sourceID, hash string) (bool, error) {
	doc, err := s.documents.FindIndexedBySource(ctx, storeID, sourceType, sourceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("failed to look up indexed document: %w", err)
	}
	return doc.ContentHash != hash, nil
}

// IsSourceIndexed 来源是否已索引（原 ID 或 {id}_chunk_0）
func (s *Service) IsSourceIndexed(ctx context.Context, storeID string, sourceType model.SourceType, sourceID string) (bool, error) {
	for _, id := range []string{sourceID, ChunkSourceID(sourceID, 0)} {
		_, err := s.documents.FindIndexedBySource(ctx, storeID, sourceType, id)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return false, err
		}
	}
	return false, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func pageBounds(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return (page - 1) * pageSize, pageSize
}
