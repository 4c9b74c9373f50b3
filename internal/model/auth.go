package model

import "time"

// UserRole 用户角色
type UserRole string

const (
	UserRoleConsultant UserRole = "consultant"
	UserRoleClient     UserRole = "client"
	UserRoleAdmin      UserRole = "admin"
)

// User 用户
type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Email        string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	Role         UserRole  `gorm:"size:32;default:'consultant'" json:"role"`
	TenantID     string    `gorm:"index;size:36" json:"tenant_id"`           // 租户 ID
	ConsultantID string    `gorm:"index;size:36" json:"consultant_id"`       // 客户所属的顾问
	IsActive     bool      `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}
