package repository

import (
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// Repositories 仓库集合，用于统一管理所有仓库
type Repositories struct {
	DB          *gorm.DB // 直接访问数据库
	Store       StoreRepository
	Document    DocumentRepository
	Tenant      TenantRepository
	Credential  CredentialRepository
	User        UserRepository
	AgentConfig AgentConfigRepository
	AuditReport AuditReportRepository
	SyncTask    SyncTaskRepository
	File        FileRepository
	Source      SourceRepository
}

// NewRepositories 创建所有仓库
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DB:          db,
		Store:       NewStoreRepository(db),
		Document:    NewDocumentRepository(db),
		Tenant:      NewTenantRepository(db),
		Credential:  NewCredentialRepository(db),
		User:        NewUserRepository(db),
		AgentConfig: NewAgentConfigRepository(db),
		AuditReport: NewAuditReportRepository(db),
		SyncTask:    NewSyncTaskRepository(db),
		File:        NewFileRepository(db),
		Source:      NewSourceRepository(db),
	}
}

// notFound 将 gorm 的未找到错误转换为 ErrNotFound
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
