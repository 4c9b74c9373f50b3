package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ashwinyue/next-sync/internal/model"
)

type fileRepositoryImpl struct {
	db *gorm.DB
}

// NewFileRepository 创建资料库文件仓库
func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepositoryImpl{db: db}
}

func (r *fileRepositoryImpl) Create(ctx context.Context, file *model.StoredFile) error {
	return r.db.WithContext(ctx).Create(file).Error
}

// GetByID ownerID 非空时只返回该所属者的文件，其他人的文件视为不存在
func (r *fileRepositoryImpl) GetByID(ctx context.Context, id, ownerID string) (*model.StoredFile, error) {
	query := r.db.WithContext(ctx).Where("id = ?", id)
	if ownerID != "" {
		query = query.Where("owner_id = ?", ownerID)
	}

	var file model.StoredFile
	if err := query.First(&file).Error; err != nil {
		return nil, notFound(err)
	}
	return &file, nil
}

// ListByOwner 分页列出文件，ownerID 为空时列出全部
func (r *fileRepositoryImpl) ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]*model.StoredFile, int64, error) {
	var files []*model.StoredFile
	var total int64

	query := r.db.WithContext(ctx).Model(&model.StoredFile{})
	if ownerID != "" {
		query = query.Where("owner_id = ?", ownerID)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&files).Error
	return files, total, err
}

func (r *fileRepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.StoredFile{}, "id = ?", id).Error
}
