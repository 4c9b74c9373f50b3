// Package file 资料库原始文件的存储（本地或 MinIO）
//
// 对象 key 统一为 library/{ownerID}/{uuid}{ext}，只接受能提取文本的类型。
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrFileNotFound 文件不存在
	ErrFileNotFound = errors.New("file not found")
	// ErrUnsupportedType 无法提取文本的文件类型
	ErrUnsupportedType = errors.New("unsupported library file type")
)

// Storage 对象存储
type Storage interface {
	// Put 写入 key，返回实际写入的字节数。size 未知时传 -1
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (int64, error)
	// Open 读取 key，不存在时返回 ErrFileNotFound
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Remove 删除 key，不存在视为成功
	Remove(ctx context.Context, key string) error
}

// StorageType 存储类型
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeMinIO StorageType = "minio"
)

const libraryPrefix = "library"

// 扩展名 -> 规范内容类型
var libraryTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".html": "text/html",
	".htm":  "text/html",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
}

// 内容类型 -> 扩展名，文件名没有可用扩展名时使用
var extensionsByType = map[string]string{
	"application/pdf": ".pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"text/html":        ".html",
	"text/plain":       ".txt",
	"text/markdown":    ".md",
	"text/csv":         ".csv",
	"application/json": ".json",
}

// ObjectKey 为所属者的新文件生成 key，并返回规范化后的内容类型
func ObjectKey(ownerID, fileName, contentType string) (string, string, error) {
	if ownerID == "" || strings.ContainsAny(ownerID, `/\`) || strings.Contains(ownerID, "..") {
		return "", "", fmt.Errorf("invalid owner id: %q", ownerID)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	canonical, ok := libraryTypes[ext]
	if !ok {
		mediaType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
		if ext, ok = extensionsByType[mediaType]; !ok {
			return "", "", fmt.Errorf("%w: %q (%s)", ErrUnsupportedType, fileName, contentType)
		}
		canonical = mediaType
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = canonical
	}

	return fmt.Sprintf("%s/%s/%s%s", libraryPrefix, ownerID, uuid.New().String(), ext), contentType, nil
}
