package vectorsync

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/remote"
	"github.com/ashwinyue/next-sync/internal/repository"
)

// LocalEntry 只在本地存在的文档
type LocalEntry struct {
	RemoteID   string `json:"remote_id"`
	DocumentID string `json:"document_id"`
}

// RemoteEntry 只在远程存在的文档
type RemoteEntry struct {
	RemoteID    string `json:"remote_id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
}

// AuditResult 本地与远程的集合差
type AuditResult struct {
	StoreID      string        `json:"store_id"`
	LocalCount   int           `json:"local_count"`
	RemoteCount  int           `json:"remote_count"`
	OnlyInDB     []LocalEntry  `json:"only_in_db"`
	OnlyOnRemote []RemoteEntry `json:"only_on_remote"`
	InBoth       int           `json:"in_both"`
	ReportID     string        `json:"report_id,omitempty"`
}

// CleanupResult 清理结果。单条失败不会中断循环
type CleanupResult struct {
	StoreID string       `json:"store_id"`
	Scanned int          `json:"scanned"`
	Deleted int          `json:"deleted"`
	Failed  int          `json:"failed"`
	Errors  []string     `json:"errors,omitempty"`
	Audit   *AuditResult `json:"audit,omitempty"`
}

func (r *CleanupResult) fail(format string, args ...interface{}) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// AuditStoreVsRemote 对比本地文档与远程文档，按远程 ID（资源名最后一段）做纯集合差
func (s *Service) AuditStoreVsRemote(ctx context.Context, storeID string) (*AuditResult, error) {
	store, client, err := s.storeAndClient(ctx, storeID, "")
	if err != nil {
		return nil, err
	}
	result, err := s.audit(ctx, store, client)
	if err != nil {
		return nil, err
	}

	result.ReportID = s.saveReport(ctx, &model.SyncAuditReport{
		StoreID:      store.ID,
		Kind:         model.AuditKindAudit,
		LocalCount:   result.LocalCount,
		RemoteCount:  result.RemoteCount,
		OnlyInDB:     len(result.OnlyInDB),
		OnlyOnRemote: len(result.OnlyOnRemote),
		InBoth:       result.InBoth,
		Details: model.JSON{
			"only_in_db":     result.OnlyInDB,
			"only_on_remote": result.OnlyOnRemote,
		},
	})
	return result, nil
}

func (s *Service) audit(ctx context.Context, store *model.VectorStore, client remote.Client) (*AuditResult, error) {
	docs, err := s.documents.ListByStore(ctx, store.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list local documents: %w", err)
	}

	remoteDocs, err := client.ListDocuments(ctx, store.RemoteName)
	if err != nil {
		if !errors.Is(err, remote.ErrNotFound) {
			return nil, fmt.Errorf("failed to list remote documents: %w", err)
		}
		// 远程存储不存在，按空集合处理
		s.log.WithField("store_id", store.ID).Warn("remote store not found, treating as empty")
		remoteDocs = nil
	}

	local := make(map[string]string, len(docs))
	for _, doc := range docs {
		local[remote.LastSegment(doc.RemoteFileID)] = doc.ID
	}
	remoteSet := make(map[string]remote.Document, len(remoteDocs))
	for _, d := range remoteDocs {
		remoteSet[remote.LastSegment(d.Name)] = d
	}

	result := &AuditResult{
		StoreID:      store.ID,
		LocalCount:   len(local),
		RemoteCount:  len(remoteSet),
		OnlyInDB:     []LocalEntry{},
		OnlyOnRemote: []RemoteEntry{},
	}
	for id, docID := range local {
		if _, ok := remoteSet[id]; !ok {
			result.OnlyInDB = append(result.OnlyInDB, LocalEntry{RemoteID: id, DocumentID: docID})
		}
	}
	for id, d := range remoteSet {
		if _, ok := local[id]; !ok {
			result.OnlyOnRemote = append(result.OnlyOnRemote, RemoteEntry{RemoteID: id, Name: d.Name, DisplayName: d.DisplayName})
		}
	}
	result.InBoth = result.LocalCount - len(result.OnlyInDB)

	sort.Slice(result.OnlyInDB, func(i, j int) bool { return result.OnlyInDB[i].RemoteID < result.OnlyInDB[j].RemoteID })
	sort.Slice(result.OnlyOnRemote, func(i, j int) bool { return result.OnlyOnRemote[i].RemoteID < result.OnlyOnRemote[j].RemoteID })

	s.log.WithFields(logrus.Fields{
		"store_id":       store.ID,
		"local":          result.LocalCount,
		"remote":         result.RemoteCount,
		"only_in_db":     len(result.OnlyInDB),
		"only_on_remote": len(result.OnlyOnRemote),
	}).Info("store audit completed")
	return result, nil
}

// CleanupOrphansOnRemote 删除只在远程存在的文档；远程不存在视为已清理
func (s *Service) CleanupOrphansOnRemote(ctx context.Context, storeID string) (*CleanupResult, error) {
	store, client, err := s.storeAndClient(ctx, storeID, "")
	if err != nil {
		return nil, err
	}

	// 先完成枚举再删除
	audit, err := s.audit(ctx, store, client)
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{StoreID: store.ID, Scanned: len(audit.OnlyOnRemote), Audit: audit}
	for _, entry := range audit.OnlyOnRemote {
		if err := client.DeleteDocument(ctx, entry.Name, true); err != nil && !errors.Is(err, remote.ErrNotFound) {
			result.fail("%s: %v", entry.Name, err)
			continue
		}
		result.Deleted++
	}

	s.saveCleanupReport(ctx, model.AuditKindCleanupRemote, result)
	return result, nil
}

// FindSourceOrphans 找出来源记录已不存在的文档。
// 没有登记来源表的类型跳过，不视为孤儿。
func (s *Service) FindSourceOrphans(ctx context.Context, storeID string) ([]*model.VectorDocument, error) {
	if _, err := s.GetStore(ctx, storeID); err != nil {
		return nil, err
	}
	docs, err := s.documents.ListByStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	groups := make(map[model.SourceType][]*model.VectorDocument)
	for _, doc := range docs {
		if doc.SourceID == "" {
			continue
		}
		groups[doc.SourceType] = append(groups[doc.SourceType], doc)
	}

	types := make([]model.SourceType, 0, len(groups))
	for t := range groups {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var orphans []*model.VectorDocument
	for _, sourceType := range types {
		group := groups[sourceType]
		seen := make(map[string]bool, len(group))
		baseIDs := make([]string, 0, len(group))
		for _, doc := range group {
			base := ExtractBaseID(doc.SourceID)
			if !seen[base] {
				seen[base] = true
				baseIDs = append(baseIDs, base)
			}
		}

		existing, err := s.sources.ExistingIDs(ctx, sourceType, baseIDs)
		if err != nil {
			if errors.Is(err, repository.ErrUnmappedSource) {
				s.log.WithFields(logrus.Fields{
					"store_id":    storeID,
					"source_type": sourceType,
				}).Warn("no source table for source type, skipping orphan check")
				continue
			}
			return nil, fmt.Errorf("failed to check %s sources: %w", sourceType, err)
		}

		for _, doc := range group {
			if !existing[ExtractBaseID(doc.SourceID)] {
				orphans = append(orphans, doc)
			}
		}
	}
	return orphans, nil
}

// CleanupSourceOrphans 找出来源孤儿后逐个走正常删除流程
func (s *Service) CleanupSourceOrphans(ctx context.Context, storeID, tenantID string) (*CleanupResult, error) {
	orphans, err := s.FindSourceOrphans(ctx, storeID)
	if err != nil {
		return nil, err
	}
	result, err := s.removeAll(ctx, storeID, tenantID, orphans)
	if err != nil {
		return nil, err
	}
	s.saveCleanupReport(ctx, model.AuditKindCleanupSource, result)
	return result, nil
}

// ReconcileBySourceType 删除该类型下 sourceId（或其基础 ID）不在 validIDs 中的文档；
// validIDs 为空表示删除该类型全部文档
func (s *Service) ReconcileBySourceType(ctx context.Context, storeID string, sourceType model.SourceType, validIDs []string, tenantID string) (*CleanupResult, error) {
	if _, err := s.GetStore(ctx, storeID); err != nil {
		return nil, err
	}
	docs, err := s.documents.ListByStoreAndSourceType(ctx, storeID, sourceType)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	valid := make(map[string]bool, len(validIDs))
	for _, id := range validIDs {
		valid[id] = true
	}
	var stale []*model.VectorDocument
	for _, doc := range docs {
		if valid[doc.SourceID] || valid[ExtractBaseID(doc.SourceID)] {
			continue
		}
		stale = append(stale, doc)
	}

	result, err := s.removeAll(ctx, storeID, tenantID, stale)
	if err != nil {
		return nil, err
	}
	s.saveCleanupReport(ctx, model.AuditKindReconcile, result)
	return result, nil
}

func (s *Service) removeAll(ctx context.Context, storeID, tenantID string, docs []*model.VectorDocument) (*CleanupResult, error) {
	result := &CleanupResult{StoreID: storeID, Scanned: len(docs)}
	if len(docs) == 0 {
		return result, nil
	}

	store, client, err := s.storeAndClient(ctx, storeID, tenantID)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if err := s.removeDocument(ctx, client, store, doc); err != nil {
			result.fail("%s: %v", doc.ID, err)
			continue
		}
		result.Deleted++
	}
	return result, nil
}

func (s *Service) storeAndClient(ctx context.Context, storeID, tenantID string) (*model.VectorStore, remote.Client, error) {
	store, err := s.GetStore(ctx, storeID)
	if err != nil {
		return nil, nil, err
	}
	client, err := s.creds.ClientForStore(ctx, store, tenantID)
	if err != nil {
		return nil, nil, err
	}
	return store, client, nil
}

func (s *Service) saveCleanupReport(ctx context.Context, kind model.AuditKind, result *CleanupResult) {
	report := &model.SyncAuditReport{
		StoreID: result.StoreID,
		Kind:    kind,
		Deleted: result.Deleted,
		Failed:  result.Failed,
		Details: model.JSON{"scanned": result.Scanned, "errors": result.Errors},
	}
	if result.Audit != nil {
		report.LocalCount = result.Audit.LocalCount
		report.RemoteCount = result.Audit.RemoteCount
		report.OnlyInDB = len(result.Audit.OnlyInDB)
		report.OnlyOnRemote = len(result.Audit.OnlyOnRemote)
		report.InBoth = result.Audit.InBoth
	}
	s.saveReport(ctx, report)

	s.log.WithFields(logrus.Fields{
		"store_id": result.StoreID,
		"kind":     kind,
		"deleted":  result.Deleted,
		"failed":   result.Failed,
	}).Info("cleanup completed")
}

// saveReport 报告写入失败只记日志
func (s *Service) saveReport(ctx context.Context, report *model.SyncAuditReport) string {
	if err := s.audits.Create(ctx, report); err != nil {
		s.log.WithField("store_id", report.StoreID).WithError(err).Warn("failed to save audit report")
		return ""
	}
	return report.ID
}

// ListReports 最近的对账报告
func (s *Service) ListReports(ctx context.Context, storeID string, limit int) ([]*model.SyncAuditReport, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.audits.ListByStore(ctx, storeID, limit)
}
