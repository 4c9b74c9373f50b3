package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditKind 对账运行类型
type AuditKind string

const (
	AuditKindAudit         AuditKind = "audit"
	AuditKindCleanupRemote AuditKind = "cleanup_remote"
	AuditKindCleanupSource AuditKind = "cleanup_source"
	AuditKindReconcile     AuditKind = "reconcile_source_type"
)

// SyncAuditReport 一次对账/清理的持久化结果
type SyncAuditReport struct {
	ID           string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	StoreID      string    `json:"store_id" gorm:"type:varchar(36);index"`
	Kind         AuditKind `json:"kind" gorm:"type:varchar(32)"`
	LocalCount   int       `json:"local_count"`
	RemoteCount  int       `json:"remote_count"`
	OnlyInDB     int       `json:"only_in_db"`
	OnlyOnRemote int       `json:"only_on_remote"`
	InBoth       int       `json:"in_both"`
	Deleted      int       `json:"deleted"`
	Failed       int       `json:"failed"`
	Details      JSON      `json:"details,omitempty" gorm:"type:jsonb"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate GORM 钩子
func (r *SyncAuditReport) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// TableName 指定表名
func (SyncAuditReport) TableName() string {
	return "sync_audit_reports"
}

// SyncTaskStatus 任务状态
type SyncTaskStatus string

const (
	SyncTaskStatusPending   SyncTaskStatus = "pending"
	SyncTaskStatusRunning   SyncTaskStatus = "running"
	SyncTaskStatusSucceeded SyncTaskStatus = "succeeded"
	SyncTaskStatusFailed    SyncTaskStatus = "failed"
)

// SyncTask 后台同步任务（outbox）
type SyncTask struct {
	ID        string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	Kind      string         `json:"kind" gorm:"type:varchar(64);index"`
	Payload   JSON           `json:"payload" gorm:"type:jsonb"`
	Status    SyncTaskStatus `json:"status" gorm:"type:varchar(20);index;default:'pending'"`
	Attempts  int            `json:"attempts" gorm:"default:0"`
	LastError string         `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// BeforeCreate GORM 钩子
func (t *SyncTask) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// TableName 指定表名
func (SyncTask) TableName() string {
	return "sync_tasks"
}
