package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashwinyue/next-sync/internal/model"
	"gorm.io/gorm"
)

// ErrUnmappedSource 来源类型没有登记对应的业务表
var ErrUnmappedSource = errors.New("source type has no lookup table")

// SourceTables 来源类型 -> 业务表。
// 只有登记在这里的来源类型才能做来源孤儿检测。
var SourceTables = map[model.SourceType]string{
	model.SourceTypeLibrary:                model.LibraryDocument{}.TableName(),
	model.SourceTypeKnowledgeBase:          model.KnowledgeDocument{}.TableName(),
	model.SourceTypeClientKnowledge:        model.ClientKnowledgeDocument{}.TableName(),
	model.SourceTypeExercise:               model.Exercise{}.TableName(),
	model.SourceTypeConsultation:           model.Consultation{}.TableName(),
	model.SourceTypeUniversityLesson:       model.UniversityLesson{}.TableName(),
	model.SourceTypeFinancialData:          model.FinancialSnapshot{}.TableName(),
	model.SourceTypeWhatsappAgentKnowledge: model.AgentKnowledgeItem{}.TableName(),
}

type sourceRepositoryImpl struct {
	db *gorm.DB
}

// NewSourceRepository 创建来源业务表仓库
func NewSourceRepository(db *gorm.DB) SourceRepository {
	return &sourceRepositoryImpl{db: db}
}

// ListLibraryDocuments 顾问资料库
func (r *sourceRepositoryImpl) ListLibraryDocuments(ctx context.Context, consultantID string) ([]*model.LibraryDocument, error) {
	var rows []*model.LibraryDocument
	err := r.db.WithContext(ctx).Where("consultant_id = ?", consultantID).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

// ListKnowledgeDocuments 顾问知识库
func (r *sourceRepositoryImpl) ListKnowledgeDocuments(ctx context.Context, consultantID string) ([]*model.KnowledgeDocument, error) {
	var rows []*model.KnowledgeDocument
	err := r.db.WithContext(ctx).Where("consultant_id = ?", consultantID).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

// ListClientKnowledge 客户私有知识
func (r *sourceRepositoryImpl) ListClientKnowledge(ctx context.Context, clientID string) ([]*model.ClientKnowledgeDocument, error) {
	var rows []*model.ClientKnowledgeDocument
	err := r.db.WithContext(ctx).Where("client_id = ?", clientID).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

// ListExercises 顾问的练习
func (r *sourceRepositoryImpl) ListExercises(ctx context.Context, consultantID string) ([]*model.Exercise, error) {
	var rows []*model.Exercise
	err := r.db.WithContext(ctx).Where("consultant_id = ?", consultantID).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

// ListConsultations 客户的咨询记录
func (r *sourceRepositoryImpl) ListConsultations(ctx context.Context, clientID string) ([]*model.Consultation, error) {
	var rows []*model.Consultation
	err := r.db.WithContext(ctx).Where("client_id = ?", clientID).Order("scheduled_at ASC").Find(&rows).Error
	return rows, err
}

// ListLessons 顾问的课程
func (r *sourceRepositoryImpl) ListLessons(ctx context.Context, consultantID string) ([]*model.UniversityLesson, error) {
	var rows []*model.UniversityLesson
	err := r.db.WithContext(ctx).Where("consultant_id = ?", consultantID).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

// ListFinancialSnapshots 客户财务快照
func (r *sourceRepositoryImpl) ListFinancialSnapshots(ctx context.Context, clientID string) ([]*model.FinancialSnapshot, error) {
	var rows []*model.FinancialSnapshot
	err := r.db.WithContext(ctx).Where("client_id = ?", clientID).Order("period ASC").Find(&rows).Error
	return rows, err
}

// ListAgentKnowledge 机器人知识条目
func (r *sourceRepositoryImpl) ListAgentKnowledge(ctx context.Context, agentConfigID string) ([]*model.AgentKnowledgeItem, error) {
	var rows []*model.AgentKnowledgeItem
	err := r.db.WithContext(ctx).Where("agent_config_id = ?", agentConfigID).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

// ExistingIDs 查询仍存在的来源行
func (r *sourceRepositoryImpl) ExistingIDs(ctx context.Context, sourceType model.SourceType, ids []string) (map[string]bool, error) {
	table, ok := SourceTables[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnmappedSource, sourceType)
	}

	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	var found []string
	if err := r.db.WithContext(ctx).Table(table).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}
