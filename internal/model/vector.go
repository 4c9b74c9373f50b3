// Package model 提供向量存储同步相关的数据模型
package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OwnerType 存储所属者类型
type OwnerType string

const (
	OwnerTypeConsultant    OwnerType = "consultant"     // 顾问
	OwnerTypeClient        OwnerType = "client"         // 顾问的客户
	OwnerTypeSystem        OwnerType = "system"         // 系统公共池
	OwnerTypeWhatsappAgent OwnerType = "whatsapp_agent" // 消息机器人配置
)

// DocumentStatus 文档同步状态
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusIndexed    DocumentStatus = "indexed"
	DocumentStatusFailed     DocumentStatus = "failed"
	// DocumentStatusDegraded 远程已接收，但只拿到了合成 ID
	DocumentStatusDegraded DocumentStatus = "degraded"
)

// SourceType 文档来源类型
type SourceType string

const (
	SourceTypeLibrary                SourceType = "library"
	SourceTypeKnowledgeBase          SourceType = "knowledge_base"
	SourceTypeClientKnowledge        SourceType = "client_knowledge"
	SourceTypeExercise               SourceType = "exercise"
	SourceTypeConsultation           SourceType = "consultation"
	SourceTypeUniversity             SourceType = "university"
	SourceTypeUniversityLesson       SourceType = "university_lesson"
	SourceTypeFinancialData          SourceType = "financial_data"
	SourceTypeManual                 SourceType = "manual"
	SourceTypeConsultantGuide        SourceType = "consultant_guide"
	SourceTypeExerciseExternalDoc    SourceType = "exercise_external_doc"
	SourceTypeWhatsappAgentKnowledge SourceType = "whatsapp_agent_knowledge"
)

// ChunkingConfig 远程分块参数
type ChunkingConfig struct {
	MaxTokensPerChunk int `json:"max_tokens_per_chunk"`
	MaxOverlapTokens  int `json:"max_overlap_tokens"`
}

// Value 实现 driver.Valuer 接口
func (c ChunkingConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan 实现 sql.Scanner 接口
func (c *ChunkingConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, c)
}

// JSON 自由格式的 JSON 对象
type JSON map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan 实现 sql.Scanner 接口
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return nil
	}
	return json.Unmarshal(b, j)
}

// VectorStore 远程语义检索存储（一个所属者一个）
type VectorStore struct {
	ID            string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	RemoteName    string    `json:"remote_name" gorm:"type:varchar(255);not null"`
	DisplayName   string    `json:"display_name" gorm:"type:varchar(255)"`
	Description   string    `json:"description" gorm:"type:text"`
	OwnerID       string    `json:"owner_id" gorm:"type:varchar(36);index:idx_store_owner"`
	OwnerType     OwnerType `json:"owner_type" gorm:"type:varchar(32);index:idx_store_owner"`
	DocumentCount int       `json:"document_count" gorm:"default:0"`
	IsActive      bool      `json:"is_active" gorm:"default:true"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// BeforeCreate GORM 钩子
func (s *VectorStore) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// TableName 指定表名
func (VectorStore) TableName() string {
	return "vector_stores"
}

// VectorDocument 推送到远程存储的一条本地记录
type VectorDocument struct {
	ID             string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	StoreID        string         `json:"store_id" gorm:"type:varchar(36);index;not null"`
	RemoteFileID   string         `json:"remote_file_id" gorm:"type:varchar(512)"`
	FileName       string         `json:"file_name" gorm:"type:varchar(255)"`
	DisplayName    string         `json:"display_name" gorm:"type:varchar(255)"`
	MimeType       string         `json:"mime_type" gorm:"type:varchar(100)"`
	Status         DocumentStatus `json:"status" gorm:"type:varchar(20);index;default:'pending'"`
	SourceType     SourceType     `json:"source_type" gorm:"type:varchar(50);index:idx_doc_source"`
	SourceID       string         `json:"source_id,omitempty" gorm:"type:varchar(128);index:idx_doc_source"`
	ContentHash    string         `json:"content_hash" gorm:"type:varchar(16)"`
	ContentSize    int64          `json:"content_size" gorm:"default:0"`
	ChunkingConfig ChunkingConfig `json:"chunking_config" gorm:"type:jsonb"`
	CustomMetadata JSON           `json:"custom_metadata,omitempty" gorm:"type:jsonb"`
	ClientID       string         `json:"client_id,omitempty" gorm:"type:varchar(36);index"`
	IndexedAt      *time.Time     `json:"indexed_at,omitempty"`
	LastModifiedAt *time.Time     `json:"last_modified_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// BeforeCreate GORM 钩子
func (d *VectorDocument) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

// TableName 指定表名
func (VectorDocument) TableName() string {
	return "vector_documents"
}
