package repository

import (
	"context"

	"github.com/ashwinyue/next-sync/internal/model"
	"gorm.io/gorm"
)

type storeRepositoryImpl struct {
	db *gorm.DB
}

// NewStoreRepository 创建向量存储仓库
func NewStoreRepository(db *gorm.DB) StoreRepository {
	return &storeRepositoryImpl{db: db}
}

// Create 创建存储
func (r *storeRepositoryImpl) Create(ctx context.Context, store *model.VectorStore) error {
	return r.db.WithContext(ctx).Create(store).Error
}

// GetByID 根据 ID 获取存储
func (r *storeRepositoryImpl) GetByID(ctx context.Context, id string) (*model.VectorStore, error) {
	var store model.VectorStore
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&store).Error; err != nil {
		return nil, notFound(err)
	}
	return &store, nil
}

// FindActiveByOwner 按创建时间取第一个活跃存储，允许存在重复
func (r *storeRepositoryImpl) FindActiveByOwner(ctx context.Context, ownerID string, ownerType model.OwnerType) (*model.VectorStore, error) {
	var store model.VectorStore
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND owner_type = ? AND is_active = ?", ownerID, ownerType, true).
		Order("created_at ASC").
		First(&store).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &store, nil
}

// ListActiveByOwners 列出一组所属者的活跃存储
func (r *storeRepositoryImpl) ListActiveByOwners(ctx context.Context, ownerType model.OwnerType, ownerIDs []string) ([]*model.VectorStore, error) {
	var stores []*model.VectorStore
	if len(ownerIDs) == 0 {
		return stores, nil
	}
	err := r.db.WithContext(ctx).
		Where("owner_type = ? AND owner_id IN ? AND is_active = ?", ownerType, ownerIDs, true).
		Order("created_at ASC").
		Find(&stores).Error
	return stores, err
}

// ListActiveByType 列出某类所属者的全部活跃存储
func (r *storeRepositoryImpl) ListActiveByType(ctx context.Context, ownerType model.OwnerType) ([]*model.VectorStore, error) {
	var stores []*model.VectorStore
	err := r.db.WithContext(ctx).
		Where("owner_type = ? AND is_active = ?", ownerType, true).
		Order("created_at ASC").
		Find(&stores).Error
	return stores, err
}

// List 分页列出存储
func (r *storeRepositoryImpl) List(ctx context.Context, ownerID string, offset, limit int) ([]*model.VectorStore, int64, error) {
	var stores []*model.VectorStore
	var total int64

	query := r.db.WithContext(ctx).Model(&model.VectorStore{})
	if ownerID != "" {
		query = query.Where("owner_id = ?", ownerID)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&stores).Error
	return stores, total, err
}

// Deactivate 停用存储（不做物理删除）
func (r *storeRepositoryImpl) Deactivate(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.VectorStore{}).
		Where("id = ?", id).
		Update("is_active", false).Error
}

// AdjustDocumentCount 调整文档计数
func (r *storeRepositoryImpl) AdjustDocumentCount(ctx context.Context, id string, delta int) error {
	return r.db.WithContext(ctx).Model(&model.VectorStore{}).
		Where("id = ?", id).
		Update("document_count", gorm.Expr("GREATEST(document_count + ?, 0)", delta)).Error
}
