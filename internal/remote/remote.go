// Package remote 定义远程向量存储客户端的接口，以及 Meilisearch / Elasticsearch 实现
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound 远程资源不存在
var ErrNotFound = errors.New("remote resource not found")

// ChunkingConfig 远程分块参数
type ChunkingConfig struct {
	MaxTokensPerChunk int
	MaxOverlapTokens  int
}

// UploadOptions 上传附加参数
type UploadOptions struct {
	DisplayName string
	MimeType    string
	Metadata    map[string]string
}

// Operation 长耗时操作句柄，调用方原样传回 PollOperation
type Operation struct {
	Name     string                 `json:"name"`
	Done     bool                   `json:"done"`
	Result   interface{}            `json:"result,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Document 远程文档
type Document struct {
	Name        string    `json:"name"` // stores/{store}/documents/{id}
	DisplayName string    `json:"display_name,omitempty"`
	CreateTime  time.Time `json:"create_time,omitempty"`
}

// Store 远程存储
type Store struct {
	Name        string `json:"name"` // stores/{store}
	DisplayName string `json:"display_name"`
}

// Client 远程存储客户端
type Client interface {
	CreateStore(ctx context.Context, displayName string) (*Store, error)
	UploadChunked(ctx context.Context, filePath, storeName string, cfg ChunkingConfig, opts UploadOptions) (*Operation, error)
	// PollOperation 无副作用地重新检查操作状态，可能偶发失败
	PollOperation(ctx context.Context, op *Operation) (*Operation, error)
	ListDocuments(ctx context.Context, storeName string) ([]Document, error)
	// DeleteDocument 文档不存在时返回 ErrNotFound
	DeleteDocument(ctx context.Context, name string, force bool) error
}

// Factory 使用指定 API Key 创建客户端
type Factory func(apiKey string) (Client, error)

const (
	storesPrefix      = "stores/"
	documentsSegment  = "/documents/"
	operationsSegment = "/operations/"
)

// StoreName 组装存储资源名
func StoreName(storeID string) string {
	return storesPrefix + storeID
}

// DocumentName 组装文档资源名
func DocumentName(storeName, documentID string) string {
	return strings.TrimSuffix(storeName, "/") + documentsSegment + documentID
}

// ParseStoreName 从 stores/{id} 中取出 id
func ParseStoreName(name string) (string, error) {
	if !strings.HasPrefix(name, storesPrefix) {
		return "", fmt.Errorf("invalid store name: %q", name)
	}
	id := strings.TrimPrefix(name, storesPrefix)
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("invalid store name: %q", name)
	}
	return id, nil
}

// ParseDocumentName 从 stores/{store}/documents/{id} 中取出两段 id
func ParseDocumentName(name string) (storeID, documentID string, err error) {
	rest, ok := strings.CutPrefix(name, storesPrefix)
	if !ok {
		return "", "", fmt.Errorf("invalid document name: %q", name)
	}
	storeID, documentID, ok = strings.Cut(rest, documentsSegment)
	if !ok || storeID == "" || documentID == "" || strings.Contains(documentID, "/") {
		return "", "", fmt.Errorf("invalid document name: %q", name)
	}
	return storeID, documentID, nil
}

// LastSegment 资源名的最后一段
func LastSegment(name string) string {
	name = strings.TrimSuffix(name, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
