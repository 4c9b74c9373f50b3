// Package orchestrator 按来源类型批量同步业务数据到所属者的向量存储
//
// 一次运行：解析目标存储 -> 检查一次凭证 -> 提取文本 -> 逐行上传（有界并发 + 限速）。
// 单行失败只记录在结果里，不影响其他行。
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ashwinyue/next-sync/internal/config"
	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/remote"
	"github.com/ashwinyue/next-sync/internal/repository"
	"github.com/ashwinyue/next-sync/internal/service/chunk"
	"github.com/ashwinyue/next-sync/internal/service/event"
	"github.com/ashwinyue/next-sync/internal/service/vectorsync"
)

// Syncer 上传管道
type Syncer interface {
	EnsureStore(ctx context.Context, ownerID string, ownerType model.OwnerType, displayName string) (*model.VectorStore, error)
	UploadFromContent(ctx context.Context, content string, req vectorsync.UploadRequest) (*vectorsync.UploadResult, error)
	PruneStaleChunks(ctx context.Context, storeID string, sourceType model.SourceType, baseID string, keep []string, tenantID string) (int, error)
	ReconcileBySourceType(ctx context.Context, storeID string, sourceType model.SourceType, validIDs []string, tenantID string) (*vectorsync.CleanupResult, error)
}

// CredentialChecker 运行前检查存储是否有可用凭证
type CredentialChecker interface {
	ClientForStore(ctx context.Context, store *model.VectorStore, explicitTenantID string) (remote.Client, error)
}

// Extractor 从文件存储中提取文本
type Extractor interface {
	ExtractFile(ctx context.Context, filePath, fileName string) (string, error)
}

// ItemError 单行失败
type ItemError struct {
	SourceID string `json:"source_id"`
	Error    string `json:"error"`
}

// Result 一次运行的汇总
type Result struct {
	SourceType model.SourceType `json:"source_type"`
	StoreID    string           `json:"store_id,omitempty"`
	Total      int              `json:"total"`
	Synced     int              `json:"synced"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	Pruned     int              `json:"pruned,omitempty"`
	Errors     []ItemError      `json:"errors,omitempty"`
}

// item 待同步的一行
type item struct {
	SourceID    string
	DisplayName string
	Content     string
	// FilePath Content 为空时从文件提取
	FilePath string
	FileName string
	MimeType string
	ClientID string
	Metadata map[string]string
}

// target 一次运行的目标存储
type target struct {
	SourceType model.SourceType
	OwnerID    string
	OwnerType  model.OwnerType
	StoreName  string
	TenantID   string
	// Scope 进度通道所属租户
	Scope      string
	RunChannel string
}

// Service 同步编排服务
type Service struct {
	syncer    Syncer
	creds     CredentialChecker
	sources   repository.SourceRepository
	extractor Extractor
	bus       *event.EventBus
	splitter  *chunk.Splitter
	limiter   *rate.Limiter
	workers   int
	log       logrus.FieldLogger
}

// Option 配置项
type Option func(*Service)

// WithEventBus 发布进度事件
func WithEventBus(bus *event.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithExtractor 设置文件文本提取器
func WithExtractor(e Extractor) Option {
	return func(s *Service) { s.extractor = e }
}

// WithLogger 设置日志
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) { s.log = log }
}

// NewService 创建同步编排服务
func NewService(ctx context.Context, syncer Syncer, creds CredentialChecker, sources repository.SourceRepository, cfg config.SyncConfig, opts ...Option) (*Service, error) {
	splitter, err := chunk.NewSplitter(ctx, cfg.MaxRowChars, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create row splitter: %w", err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	s := &Service{
		syncer:   syncer,
		creds:    creds,
		sources:  sources,
		splitter: splitter,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		workers:  workers,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// run 对一组行执行同步。只有存储解析和凭证检查失败会返回 error
func (s *Service) run(ctx context.Context, t target, load func(ctx context.Context) ([]item, error)) (*Result, error) {
	result := &Result{SourceType: t.SourceType}
	bus := s.bus
	if t.RunChannel == "" {
		bus = nil
	}
	reporter := event.NewReporter(bus, t.RunChannel)
	log := s.log.WithFields(logrus.Fields{
		"source_type": t.SourceType,
		"owner_id":    t.OwnerID,
	})

	fail := func(err error) (*Result, error) {
		reporter.Report(ctx, event.PhaseError, 0, err.Error(), nil)
		return nil, err
	}

	reporter.Report(ctx, event.PhaseStart, 0, fmt.Sprintf("syncing %s", t.SourceType), nil)

	store, err := s.syncer.EnsureStore(ctx, t.OwnerID, t.OwnerType, t.StoreName)
	if err != nil {
		return fail(fmt.Errorf("failed to resolve store: %w", err))
	}
	result.StoreID = store.ID

	// 凭证在整次运行中只检查一次
	if _, err := s.creds.ClientForStore(ctx, store, t.TenantID); err != nil {
		return fail(err)
	}

	items, err := load(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to load %s rows: %w", t.SourceType, err))
	}
	result.Total = len(items)

	var mu sync.Mutex
	record := func(fn func(r *Result)) {
		mu.Lock()
		defer mu.Unlock()
		fn(result)
	}
	itemFailed := func(sourceID string, err error) {
		record(func(r *Result) {
			r.Failed++
			r.Errors = append(r.Errors, ItemError{SourceID: sourceID, Error: err.Error()})
		})
		log.WithField("source_id", sourceID).WithError(err).Warn("row sync failed")
	}

	// 提取阶段
	ready := s.extractAll(ctx, t, items, reporter, itemFailed)
	reporter.Report(ctx, event.PhaseExtractingComplete, 30,
		fmt.Sprintf("%d of %d rows ready", len(ready), len(items)), nil)

	// 同步阶段
	done := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, it := range ready {
		g.Go(func() error {
			outcome, pruned, err := s.syncItem(gctx, store, t, it)
			if err != nil {
				itemFailed(it.SourceID, err)
			} else {
				record(func(r *Result) {
					r.Pruned += pruned
					if outcome == outcomeUnchanged {
						r.Skipped++
					} else {
						r.Synced++
					}
				})
			}

			// 在锁内发布，保证百分比单调递增
			mu.Lock()
			done++
			reporter.Report(ctx, event.PhaseSyncing, 30+done*70/len(ready), it.DisplayName,
				map[string]interface{}{"source_id": it.SourceID})
			mu.Unlock()
			// 单行失败不取消其他行
			return nil
		})
	}
	_ = g.Wait()

	log.WithFields(logrus.Fields{
		"store_id": store.ID,
		"total":    result.Total,
		"synced":   result.Synced,
		"skipped":  result.Skipped,
		"failed":   result.Failed,
	}).Info("source sync finished")

	reporter.Report(ctx, event.PhaseComplete, 100,
		fmt.Sprintf("%d synced, %d unchanged, %d failed", result.Synced, result.Skipped, result.Failed),
		map[string]interface{}{"total": result.Total, "synced": result.Synced, "skipped": result.Skipped, "failed": result.Failed})
	return result, nil
}

// extractAll 为没有文本的行提取文件内容，返回可同步的行
func (s *Service) extractAll(ctx context.Context, t target, items []item, reporter *event.Reporter, itemFailed func(string, error)) []item {
	ready := make([]item, 0, len(items))
	for i, it := range items {
		drop := func(err error) {
			itemFailed(it.SourceID, err)
			s.documentReporter(t, it.SourceID).Report(ctx, event.PhaseError, 0, err.Error(), nil)
		}
		if it.Content == "" && it.FilePath != "" {
			reporter.Report(ctx, event.PhaseExtracting, i*30/len(items), it.DisplayName,
				map[string]interface{}{"source_id": it.SourceID})
			if s.extractor == nil {
				drop(fmt.Errorf("no extractor configured for %s", it.FileName))
				continue
			}
			text, err := s.extractor.ExtractFile(ctx, it.FilePath, it.FileName)
			if err != nil {
				drop(fmt.Errorf("failed to extract text: %w", err))
				continue
			}
			it.Content = text
		}
		if it.Content == "" {
			drop(fmt.Errorf("row has no content"))
			continue
		}
		ready = append(ready, it)
	}
	return ready
}

// documentReporter 单行的进度通道；没有运行通道时不发布
func (s *Service) documentReporter(t target, sourceID string) *event.Reporter {
	if t.RunChannel == "" {
		return event.NewReporter(nil, "")
	}
	return event.NewReporter(s.bus, event.DocumentChannel(t.Scope, sourceID))
}

type outcome int

const (
	outcomeUploaded outcome = iota
	outcomeUnchanged
)

// syncItem 上传一行。超长行按 {id}_chunk_{n} 拆分，并清理多余的旧分块。
// 行的进度发布在 document 通道：start -> syncing（每个分块）-> complete | error
func (s *Service) syncItem(ctx context.Context, store *model.VectorStore, t target, it item) (got outcome, pruned int, err error) {
	doc := s.documentReporter(t, it.SourceID)
	doc.Report(ctx, event.PhaseStart, 0, it.DisplayName, nil)
	defer func() {
		if err != nil {
			doc.Report(ctx, event.PhaseError, 0, err.Error(), nil)
			return
		}
		doc.Report(ctx, event.PhaseComplete, 100, it.DisplayName,
			map[string]interface{}{"unchanged": got == outcomeUnchanged, "pruned": pruned})
	}()

	parts, err := s.splitter.Split(ctx, it.Content)
	if err != nil {
		return 0, 0, err
	}
	if len(parts) == 0 {
		return 0, 0, fmt.Errorf("row has no content")
	}

	ids := make([]string, len(parts))
	for n := range parts {
		if len(parts) == 1 {
			ids[n] = it.SourceID
		} else {
			ids[n] = vectorsync.ChunkSourceID(it.SourceID, n)
		}
	}

	got = outcomeUnchanged
	for n, part := range parts {
		if err := s.limiter.Wait(ctx); err != nil {
			return 0, 0, err
		}

		displayName := it.DisplayName
		if len(parts) > 1 {
			displayName = fmt.Sprintf("%s (%d/%d)", it.DisplayName, n+1, len(parts))
		}
		doc.Report(ctx, event.PhaseSyncing, n*100/len(parts), displayName,
			map[string]interface{}{"part": n + 1, "parts": len(parts)})

		up, err := s.syncer.UploadFromContent(ctx, part, vectorsync.UploadRequest{
			StoreID:     store.ID,
			SourceType:  t.SourceType,
			SourceID:    ids[n],
			DisplayName: displayName,
			FileName:    it.FileName,
			MimeType:    it.MimeType,
			ClientID:    it.ClientID,
			TenantID:    t.TenantID,
			Metadata:    it.Metadata,
		})
		if err != nil {
			return 0, 0, err
		}
		if !up.Success {
			return 0, 0, up.Err
		}
		if !up.Unchanged {
			got = outcomeUploaded
		}
	}

	pruned, err = s.syncer.PruneStaleChunks(ctx, store.ID, t.SourceType, it.SourceID, ids, t.TenantID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prune stale chunks: %w", err)
	}
	return got, pruned, nil
}
