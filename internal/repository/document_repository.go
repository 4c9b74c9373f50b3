package repository

import (
	"context"

	"github.com/ashwinyue/next-sync/internal/model"
	"gorm.io/gorm"
)

type documentRepositoryImpl struct {
	db *gorm.DB
}

// NewDocumentRepository 创建向量文档仓库
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepositoryImpl{db: db}
}

// Create 创建文档记录
func (r *documentRepositoryImpl) Create(ctx context.Context, doc *model.VectorDocument) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

// GetByID 根据 ID 获取文档
func (r *documentRepositoryImpl) GetByID(ctx context.Context, id string) (*model.VectorDocument, error) {
	var doc model.VectorDocument
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

// Delete 删除文档记录
func (r *documentRepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.VectorDocument{}, "id = ?", id).Error
}

// ListByStore 列出存储下全部文档
func (r *documentRepositoryImpl) ListByStore(ctx context.Context, storeID string) ([]*model.VectorDocument, error) {
	var docs []*model.VectorDocument
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("created_at ASC").
		Find(&docs).Error
	return docs, err
}

// ListByStorePaged 分页列出存储下的文档
func (r *documentRepositoryImpl) ListByStorePaged(ctx context.Context, storeID string, offset, limit int) ([]*model.VectorDocument, int64, error) {
	var docs []*model.VectorDocument
	var total int64

	query := r.db.WithContext(ctx).Model(&model.VectorDocument{}).Where("store_id = ?", storeID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&docs).Error
	return docs, total, err
}

// ListByStoreAndSourceType 列出存储下某来源类型的文档
func (r *documentRepositoryImpl) ListByStoreAndSourceType(ctx context.Context, storeID string, sourceType model.SourceType) ([]*model.VectorDocument, error) {
	var docs []*model.VectorDocument
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND source_type = ?", storeID, sourceType).
		Find(&docs).Error
	return docs, err
}

// FindBySource 按来源查找文档
func (r *documentRepositoryImpl) FindBySource(ctx context.Context, storeID string, sourceType model.SourceType, sourceID string) ([]*model.VectorDocument, error) {
	var docs []*model.VectorDocument
	err := r.sourceQuery(ctx, storeID, sourceType).
		Where("source_id = ?", sourceID).
		Find(&docs).Error
	return docs, err
}

// FindIndexedBySource 查找最新的已索引文档
func (r *documentRepositoryImpl) FindIndexedBySource(ctx context.Context, storeID string, sourceType model.SourceType, sourceID string) (*model.VectorDocument, error) {
	var doc model.VectorDocument
	err := r.sourceQuery(ctx, storeID, sourceType).
		Where("source_id = ? AND status IN ?", sourceID,
			[]model.DocumentStatus{model.DocumentStatusIndexed, model.DocumentStatusDegraded}).
		Order("created_at DESC").
		First(&doc).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

// ListChunksBySource 查找某来源行的全部分块文档
func (r *documentRepositoryImpl) ListChunksBySource(ctx context.Context, storeID string, sourceType model.SourceType, baseID string) ([]*model.VectorDocument, error) {
	var docs []*model.VectorDocument
	// _ 在 LIKE 中是通配符，需要转义
	pattern := escapeLike(baseID) + `\_chunk\_%`
	err := r.sourceQuery(ctx, storeID, sourceType).
		Where(`source_id LIKE ? ESCAPE '\'`, pattern).
		Find(&docs).Error
	return docs, err
}

// CountByStatus 按状态统计存储下的文档数
func (r *documentRepositoryImpl) CountByStatus(ctx context.Context, storeID string) (map[model.DocumentStatus]int64, error) {
	var rows []struct {
		Status model.DocumentStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&model.VectorDocument{}).
		Select("status, COUNT(*) AS count").
		Where("store_id = ?", storeID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[model.DocumentStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *documentRepositoryImpl) sourceQuery(ctx context.Context, storeID string, sourceType model.SourceType) *gorm.DB {
	query := r.db.WithContext(ctx).Where("source_type = ?", sourceType)
	if storeID != "" {
		query = query.Where("store_id = ?", storeID)
	}
	return query
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, c := range s {
		if c == '%' || c == '_' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}
