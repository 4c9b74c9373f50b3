// Package repository 数据访问层
package repository

import (
	"context"

	"github.com/ashwinyue/next-sync/internal/model"
	"gorm.io/gorm"
)

type tenantRepositoryImpl struct {
	db *gorm.DB
}

// NewTenantRepository 创建租户仓库
func NewTenantRepository(db *gorm.DB) TenantRepository {
	return &tenantRepositoryImpl{db: db}
}

// Create 创建租户
// Select("*") 保证 SharedPoolOptIn=false 也会写入，而不是被列默认值覆盖
func (r *tenantRepositoryImpl) Create(ctx context.Context, tenant *model.Tenant) error {
	return r.db.WithContext(ctx).Select("*").Create(tenant).Error
}

// GetByID 根据 ID 获取租户
func (r *tenantRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Tenant, error) {
	var tenant model.Tenant
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error; err != nil {
		return nil, notFound(err)
	}
	return &tenant, nil
}

// Update 更新租户
func (r *tenantRepositoryImpl) Update(ctx context.Context, tenant *model.Tenant) error {
	return r.db.WithContext(ctx).Save(tenant).Error
}

type credentialRepositoryImpl struct {
	db *gorm.DB
}

// NewCredentialRepository 创建共享凭证池仓库
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepositoryImpl{db: db}
}

// ListActiveSharedKeys 列出共享池中所有启用的密钥
func (r *credentialRepositoryImpl) ListActiveSharedKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).Model(&model.SharedCredentialKey{}).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Pluck("key", &keys).Error
	return keys, err
}

// AddSharedKey 添加共享密钥
func (r *credentialRepositoryImpl) AddSharedKey(ctx context.Context, key *model.SharedCredentialKey) error {
	return r.db.WithContext(ctx).Create(key).Error
}

type agentConfigRepositoryImpl struct {
	db *gorm.DB
}

// NewAgentConfigRepository 创建消息机器人配置仓库
func NewAgentConfigRepository(db *gorm.DB) AgentConfigRepository {
	return &agentConfigRepositoryImpl{db: db}
}

// GetByID 根据 ID 获取配置
func (r *agentConfigRepositoryImpl) GetByID(ctx context.Context, id string) (*model.WhatsappAgentConfig, error) {
	var cfg model.WhatsappAgentConfig
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&cfg).Error; err != nil {
		return nil, notFound(err)
	}
	return &cfg, nil
}
