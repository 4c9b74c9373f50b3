package vectorsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ashwinyue/next-sync/internal/repository"
)

// DeleteResult 删除结果
type DeleteResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

func deleteFailed(err error) *DeleteResult {
	return &DeleteResult{Success: false, Error: err.Error(), Err: err}
}

// DeleteDocument 删除文档：远程不存在视为成功；远程其他错误时不动本地记录。
// tenantID 可覆盖存储所属者的凭证。返回的 error 只有凭证解析失败一种。
func (s *Service) DeleteDocument(ctx context.Context, documentID, tenantID string) (*DeleteResult, error) {
	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return deleteFailed(fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)), nil
		}
		return deleteFailed(fmt.Errorf("failed to load document: %w", err)), nil
	}

	store, err := s.GetStore(ctx, doc.StoreID)
	if err != nil {
		return deleteFailed(err), nil
	}

	client, err := s.creds.ClientForStore(ctx, store, tenantID)
	if err != nil {
		return nil, err
	}

	if err := s.removeDocument(ctx, client, store, doc); err != nil {
		return deleteFailed(err), nil
	}

	s.log.WithFields(logrus.Fields{
		"store_id":    store.ID,
		"document_id": doc.ID,
		"source_type": doc.SourceType,
		"source_id":   doc.SourceID,
	}).Info("document deleted")
	return &DeleteResult{Success: true}, nil
}
