package repository

import (
	"context"

	"github.com/ashwinyue/next-sync/internal/model"
	"gorm.io/gorm"
)

type auditReportRepositoryImpl struct {
	db *gorm.DB
}

// NewAuditReportRepository 创建对账报告仓库
func NewAuditReportRepository(db *gorm.DB) AuditReportRepository {
	return &auditReportRepositoryImpl{db: db}
}

// Create 保存对账报告
func (r *auditReportRepositoryImpl) Create(ctx context.Context, report *model.SyncAuditReport) error {
	return r.db.WithContext(ctx).Create(report).Error
}

// ListByStore 最近的对账报告
func (r *auditReportRepositoryImpl) ListByStore(ctx context.Context, storeID string, limit int) ([]*model.SyncAuditReport, error) {
	var reports []*model.SyncAuditReport
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("created_at DESC").
		Limit(limit).
		Find(&reports).Error
	return reports, err
}

type syncTaskRepositoryImpl struct {
	db *gorm.DB
}

// NewSyncTaskRepository 创建后台任务仓库
func NewSyncTaskRepository(db *gorm.DB) SyncTaskRepository {
	return &syncTaskRepositoryImpl{db: db}
}

// Create 创建任务
func (r *syncTaskRepositoryImpl) Create(ctx context.Context, task *model.SyncTask) error {
	return r.db.WithContext(ctx).Create(task).Error
}

// GetByID 根据 ID 获取任务
func (r *syncTaskRepositoryImpl) GetByID(ctx context.Context, id string) (*model.SyncTask, error) {
	var task model.SyncTask
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

// MarkRunning 标记为运行中，并累加尝试次数
func (r *syncTaskRepositoryImpl) MarkRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.SyncTask{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":   model.SyncTaskStatusRunning,
			"attempts": gorm.Expr("attempts + 1"),
		}).Error
}

// MarkSucceeded 标记为成功
func (r *syncTaskRepositoryImpl) MarkSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.SyncTask{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.SyncTaskStatusSucceeded,
			"last_error": "",
		}).Error
}

// MarkFailed 标记为失败
func (r *syncTaskRepositoryImpl) MarkFailed(ctx context.Context, id string, lastErr string) error {
	return r.db.WithContext(ctx).Model(&model.SyncTask{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.SyncTaskStatusFailed,
			"last_error": lastErr,
		}).Error
}

// Requeue 重新入队
func (r *syncTaskRepositoryImpl) Requeue(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.SyncTask{}).Where("id = ?", id).
		Update("status", model.SyncTaskStatusPending).Error
}

// ListByStatus 按状态列出任务
func (r *syncTaskRepositoryImpl) ListByStatus(ctx context.Context, status model.SyncTaskStatus, limit int) ([]*model.SyncTask, error) {
	var tasks []*model.SyncTask
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}
