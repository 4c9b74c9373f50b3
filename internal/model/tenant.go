// Package model 提供租户相关的数据模型
package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantKind 租户类型
type TenantKind string

const (
	TenantKindConsultant TenantKind = "consultant"
	// TenantKindClient 依附于某个顾问（ParentID）
	TenantKindClient TenantKind = "client"
)

// StringList 以 JSON 数组存储的字符串列表
type StringList []string

// Value 实现 driver.Valuer 接口
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan 实现 sql.Scanner 接口
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
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
	return json.Unmarshal(b, l)
}

// Tenant 租户（顾问或客户）及其远程凭证
type Tenant struct {
	ID       string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	Name     string     `json:"name" gorm:"type:varchar(255);not null"`
	Kind     TenantKind `json:"kind" gorm:"type:varchar(32);default:'consultant'"`
	ParentID string     `json:"parent_id,omitempty" gorm:"type:varchar(36);index"`
	Status   string     `json:"status" gorm:"type:varchar(50);default:'active'"`

	// 凭证配置
	SharedPoolOptIn bool       `json:"shared_pool_opt_in" gorm:"default:true"`
	OwnKeys         StringList `json:"-" gorm:"type:jsonb"`
	OwnKeyIndex     int        `json:"own_key_index" gorm:"default:0"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// BeforeCreate GORM 钩子
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// TableName 指定表名
func (Tenant) TableName() string {
	return "tenants"
}

// IsDependent 是否依附于上级租户
func (t *Tenant) IsDependent() bool {
	return t.Kind == TenantKindClient && t.ParentID != ""
}

// SharedCredentialKey 共享凭证池中的一个密钥
type SharedCredentialKey struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	Key       string    `json:"-" gorm:"type:varchar(512);not null"`
	Label     string    `json:"label" gorm:"type:varchar(100)"`
	IsActive  bool      `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate GORM 钩子
func (k *SharedCredentialKey) BeforeCreate(tx *gorm.DB) error {
	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	return nil
}

// TableName 指定表名
func (SharedCredentialKey) TableName() string {
	return "shared_credential_keys"
}

// WhatsappAgentConfig 消息机器人配置，归属于一个顾问
type WhatsappAgentConfig struct {
	ID           string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	ConsultantID string    `json:"consultant_id" gorm:"type:varchar(36);index"`
	AgentName    string    `json:"agent_name" gorm:"type:varchar(255)"`
	IsActive     bool      `json:"is_active" gorm:"default:true"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (WhatsappAgentConfig) TableName() string {
	return "whatsapp_agent_configs"
}
