package model

import (
	"time"
)

// StoredFile 存储的文件信息（资料库上传的原始文件）
type StoredFile struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	OwnerID     string    `json:"owner_id" gorm:"index;size:36"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	ContentType string    `json:"content_type"`
	StorageType string    `json:"storage_type"` // local, minio
	FilePath    string    `json:"file_path"`    // 存储系统中的相对路径或对象名
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName 指定表名
func (StoredFile) TableName() string {
	return "stored_files"
}
