package vectorsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/remote"
	"github.com/ashwinyue/next-sync/internal/service/credential"
)

// UploadRequest 上传参数
type UploadRequest struct {
	StoreID     string
	SourceType  model.SourceType
	SourceID    string // 为空时不做去重和替换
	DisplayName string
	FileName    string
	MimeType    string
	ClientID    string
	// TenantID 显式指定凭证租户
	TenantID string
	Metadata map[string]string
	// SkipHashCheck 跳过内容未变化检查
	SkipHashCheck bool
}

// UploadResult 上传结果。除缺少凭证外，所有失败都记录在这里
type UploadResult struct {
	Success    bool   `json:"success"`
	DocumentID string `json:"document_id,omitempty"`
	// Unchanged 内容未变化，未调用远程
	Unchanged bool `json:"unchanged,omitempty"`
	// Degraded 远程已接收但只拿到合成 ID
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
	Err      error  `json:"-"`
}

func failed(err error) *UploadResult {
	return &UploadResult{Success: false, Error: err.Error(), Err: err}
}

// UploadFromContent 将文本内容上传到存储。
// 返回的 error 只有 credential.ErrNoCredentials 一种，其余失败见 UploadResult.Err。
func (s *Service) UploadFromContent(ctx context.Context, content string, req UploadRequest) (*UploadResult, error) {
	hash := ContentHash([]byte(content))

	if unchanged, err := s.unchanged(ctx, req, hash); err != nil {
		return failed(err), nil
	} else if unchanged {
		return &UploadResult{Success: true, Unchanged: true}, nil
	}

	tmp, err := os.CreateTemp(s.cfg.TempDir, "next-sync-*.txt")
	if err != nil {
		return failed(fmt.Errorf("%w: %v", ErrStaging, err)), nil
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return failed(fmt.Errorf("%w: %v", ErrStaging, err)), nil
	}
	if err := tmp.Close(); err != nil {
		return failed(fmt.Errorf("%w: %v", ErrStaging, err)), nil
	}

	if req.MimeType == "" {
		req.MimeType = "text/plain"
	}
	return s.upload(ctx, tmp.Name(), hash, int64(len(content)), req)
}

// UploadFromFile 上传已有文件，指纹按文件字节计算
func (s *Service) UploadFromFile(ctx context.Context, filePath string, req UploadRequest) (*UploadResult, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return failed(fmt.Errorf("%w: %v", ErrStaging, err)), nil
	}
	hash := ContentHash(data)

	if unchanged, err := s.unchanged(ctx, req, hash); err != nil {
		return failed(err), nil
	} else if unchanged {
		return &UploadResult{Success: true, Unchanged: true}, nil
	}
	return s.upload(ctx, filePath, hash, int64(len(data)), req)
}

func (s *Service) unchanged(ctx context.Context, req UploadRequest, hash string) (bool, error) {
	if req.SkipHashCheck || req.SourceID == "" {
		return false, nil
	}
	needs, err := s.NeedsReupload(ctx, req.StoreID, req.SourceType, req.SourceID, hash)
	if err != nil {
		return false, err
	}
	return !needs, nil
}

func (s *Service) upload(ctx context.Context, filePath, hash string, size int64, req UploadRequest) (*UploadResult, error) {
	log := s.log.WithFields(logrus.Fields{
		"store_id":    req.StoreID,
		"source_type": req.SourceType,
		"source_id":   req.SourceID,
	})

	store, err := s.GetStore(ctx, req.StoreID)
	if err != nil {
		return failed(err), nil
	}

	// 只有“没有凭证”需要中止整批同步，其余解析失败只算本条失败
	client, err := s.creds.ClientForStore(ctx, store, req.TenantID)
	if err != nil {
		if errors.Is(err, credential.ErrNoCredentials) {
			return nil, err
		}
		return failed(fmt.Errorf("failed to resolve credentials: %w", err)), nil
	}

	if req.SourceID != "" {
		unlock, err := s.lock(ctx, store.ID, req.SourceType, req.SourceID)
		if err != nil {
			return failed(err), nil
		}
		defer unlock()

		// 先删后插，删除完成前不上传
		if err := s.replaceExisting(ctx, client, store, req.SourceType, req.SourceID); err != nil {
			return failed(err), nil
		}
	}

	cfg := s.ChunkingConfig()
	op, err := client.UploadChunked(ctx, filePath, store.RemoteName, remote.ChunkingConfig{
		MaxTokensPerChunk: cfg.MaxTokensPerChunk,
		MaxOverlapTokens:  cfg.MaxOverlapTokens,
	}, remote.UploadOptions{
		DisplayName: req.DisplayName,
		MimeType:    req.MimeType,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return failed(fmt.Errorf("%w: %v", ErrUploadRejected, err)), nil
	}

	op, err = s.waitForOperation(ctx, client, op, log)
	if err != nil {
		return failed(err), nil
	}
	if op.Error != "" {
		return failed(fmt.Errorf("%w: %s", ErrUploadRejected, op.Error)), nil
	}

	status := model.DocumentStatusIndexed
	remoteID, strategy, ok := extractID(s.extractors, op)
	if !ok {
		if s.cfg.FailOnSyntheticID {
			return failed(fmt.Errorf("%w: operation %s", ErrIdentifierExtraction, op.Name)), nil
		}
		remoteID = fmt.Sprintf("synthetic-%d", s.now().UnixMilli())
		status = model.DocumentStatusDegraded
		log.WithFields(logrus.Fields{
			"severity":  "critical",
			"operation": op.Name,
			"remote_id": remoteID,
		}).Error("no remote document id in operation result, stored synthetic id")
	} else {
		log.WithField("strategy", strategy).Debug("remote document id extracted")
	}

	now := s.now()
	doc := &model.VectorDocument{
		StoreID:        store.ID,
		RemoteFileID:   remoteID,
		FileName:       req.FileName,
		DisplayName:    req.DisplayName,
		MimeType:       req.MimeType,
		Status:         status,
		SourceType:     req.SourceType,
		SourceID:       req.SourceID,
		ContentHash:    hash,
		ContentSize:    size,
		ChunkingConfig: cfg,
		CustomMetadata: metadataJSON(req.Metadata),
		ClientID:       req.ClientID,
		IndexedAt:      &now,
		LastModifiedAt: &now,
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		return failed(fmt.Errorf("failed to save document: %w", err)), nil
	}
	if err := s.stores.AdjustDocumentCount(ctx, store.ID, 1); err != nil {
		log.WithError(err).Warn("failed to increment document count")
	}

	log.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"remote_id":   remoteID,
	}).Info("document uploaded")

	return &UploadResult{
		Success:    true,
		DocumentID: doc.ID,
		Degraded:   status == model.DocumentStatusDegraded,
	}, nil
}

// waitForOperation 轮询直到完成；连续失败 MaxPollErrors 次或超过 MaxPollAttempts 次后放弃
func (s *Service) waitForOperation(ctx context.Context, client remote.Client, op *remote.Operation, log logrus.FieldLogger) (*remote.Operation, error) {
	consecutiveErrors := 0
	for attempt := 1; !op.Done; attempt++ {
		if attempt > s.cfg.MaxPollAttempts {
			return nil, fmt.Errorf("%w: %s after %d attempts", ErrOperationTimeout, op.Name, s.cfg.MaxPollAttempts)
		}
		if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
			return nil, err
		}

		next, err := client.PollOperation(ctx, op)
		if err != nil {
			consecutiveErrors++
			log.WithError(err).WithField("attempt", attempt).Warn("poll failed")
			if consecutiveErrors >= s.cfg.MaxPollErrors {
				return nil, fmt.Errorf("%w: %d consecutive errors: %v", ErrPollingFailed, consecutiveErrors, err)
			}
			continue
		}
		consecutiveErrors = 0
		op = next

		entry := log.WithField("attempt", attempt)
		if attempt%s.cfg.PollLogEvery == 0 {
			entry.Info("waiting for remote operation")
		} else {
			entry.Debug("polled remote operation")
		}
	}
	return op, nil
}

// replaceExisting 删除同一存储中同一来源的旧文档
func (s *Service) replaceExisting(ctx context.Context, client remote.Client, store *model.VectorStore, sourceType model.SourceType, sourceID string) error {
	existing, err := s.documents.FindBySource(ctx, store.ID, sourceType, sourceID)
	if err != nil {
		return fmt.Errorf("failed to find existing documents: %w", err)
	}
	for _, doc := range existing {
		if err := s.removeDocument(ctx, client, store, doc); err != nil {
			return fmt.Errorf("failed to replace document %s: %w", doc.ID, err)
		}
	}
	return nil
}

// PruneStaleChunks 删除某来源行在 keep 之外的全部变体（原 ID 与 _chunk_n）
func (s *Service) PruneStaleChunks(ctx context.Context, storeID string, sourceType model.SourceType, baseID string, keep []string, tenantID string) (int, error) {
	store, err := s.GetStore(ctx, storeID)
	if err != nil {
		return 0, err
	}

	bare, err := s.documents.FindBySource(ctx, storeID, sourceType, baseID)
	if err != nil {
		return 0, fmt.Errorf("failed to find documents: %w", err)
	}
	chunks, err := s.documents.ListChunksBySource(ctx, storeID, sourceType, baseID)
	if err != nil {
		return 0, fmt.Errorf("failed to find chunk documents: %w", err)
	}

	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}
	var stale []*model.VectorDocument
	for _, doc := range bare {
		if !keepSet[doc.SourceID] {
			stale = append(stale, doc)
		}
	}
	for _, doc := range chunks {
		// LIKE 也会匹配 {baseID}_chunk_x_chunk_y，按单次剥离规则过滤
		if ExtractBaseID(doc.SourceID) == baseID && !keepSet[doc.SourceID] {
			stale = append(stale, doc)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	client, err := s.creds.ClientForStore(ctx, store, tenantID)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, doc := range stale {
		if err := s.removeDocument(ctx, client, store, doc); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// removeDocument 先删远程（不存在视为成功），再删本地并减计数
func (s *Service) removeDocument(ctx context.Context, client remote.Client, store *model.VectorStore, doc *model.VectorDocument) error {
	if doc.RemoteFileID != "" {
		name := remoteDocumentName(store, doc.RemoteFileID)
		if err := client.DeleteDocument(ctx, name, true); err != nil && !errors.Is(err, remote.ErrNotFound) {
			return fmt.Errorf("failed to delete remote document %s: %w", name, err)
		}
	}

	if err := s.documents.Delete(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to delete document row: %w", err)
	}
	if err := s.stores.AdjustDocumentCount(ctx, store.ID, -1); err != nil {
		s.log.WithField("store_id", store.ID).WithError(err).Warn("failed to decrement document count")
	}
	return nil
}

func (s *Service) lock(ctx context.Context, storeID string, sourceType model.SourceType, sourceID string) (func(), error) {
	if !s.cfg.KeyLock {
		return func() {}, nil
	}
	return s.locker.Lock(ctx, lockKey(storeID, string(sourceType), sourceID))
}

// remoteDocumentName 本地可能只存了文档 ID，补全为资源名
func remoteDocumentName(store *model.VectorStore, remoteFileID string) string {
	if strings.HasPrefix(remoteFileID, "stores/") {
		return remoteFileID
	}
	return remote.DocumentName(store.RemoteName, remoteFileID)
}

func metadataJSON(meta map[string]string) model.JSON {
	if len(meta) == 0 {
		return nil
	}
	out := make(model.JSON, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
