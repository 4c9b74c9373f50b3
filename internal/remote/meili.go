package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	meili "github.com/meilisearch/meilisearch-go"

	"github.com/ashwinyue/next-sync/internal/service/chunk"
)

const meiliPageSize = 1000

// meiliRecord 每个上传的文档在索引中对应一条记录，分块内容保存在 chunks 中
type meiliRecord struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	MimeType    string            `json:"mime_type,omitempty"`
	Chunks      []string          `json:"chunks,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreateTime  int64             `json:"create_time"`
}

// MeiliClient 基于 Meilisearch 的远程存储：索引 = 存储，任务 = 操作
type MeiliClient struct {
	client meili.ServiceManager
	now    func() time.Time
}

var _ Client = (*MeiliClient)(nil)

// NewMeiliClient 创建 Meilisearch 客户端
func NewMeiliClient(host, apiKey string) *MeiliClient {
	return &MeiliClient{
		client: meili.New(host, meili.WithAPIKey(apiKey)),
		now:    time.Now,
	}
}

// MeiliFactory 按 API Key 创建客户端
func MeiliFactory(host string) Factory {
	return func(apiKey string) (Client, error) {
		if apiKey == "" {
			return nil, errors.New("meilisearch api key is empty")
		}
		return NewMeiliClient(host, apiKey), nil
	}
}

// CreateStore 创建索引
func (m *MeiliClient) CreateStore(ctx context.Context, displayName string) (*Store, error) {
	uid := uuid.New().String()
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        uid,
		PrimaryKey: "id",
	}); err != nil {
		return nil, fmt.Errorf("failed to create index %s: %w", uid, err)
	}
	return &Store{Name: StoreName(uid), DisplayName: displayName}, nil
}

// UploadChunked 读取文件、分块并写入一条记录，返回对应的任务
func (m *MeiliClient) UploadChunked(ctx context.Context, filePath, storeName string, cfg ChunkingConfig, opts UploadOptions) (*Operation, error) {
	uid, err := ParseStoreName(storeName)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload file: %w", err)
	}

	splitter, err := chunk.NewTokenSplitter(ctx, cfg.MaxTokensPerChunk, cfg.MaxOverlapTokens)
	if err != nil {
		return nil, err
	}
	chunks, err := splitter.Split(ctx, string(content))
	if err != nil {
		return nil, err
	}

	displayName := opts.DisplayName
	if displayName == "" {
		displayName = filepath.Base(filePath)
	}

	record := meiliRecord{
		ID:          uuid.New().String(),
		DisplayName: displayName,
		MimeType:    opts.MimeType,
		Chunks:      chunks,
		Metadata:    opts.Metadata,
		CreateTime:  m.now().Unix(),
	}

	task, err := m.client.Index(uid).AddDocuments([]meiliRecord{record}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to add document: %w", err)
	}

	docName := DocumentName(storeName, record.ID)
	return &Operation{
		Name: storeName + operationsSegment + strconv.FormatInt(task.TaskUID, 10),
		Metadata: map[string]interface{}{
			"file": map[string]interface{}{
				"name":        docName,
				"displayName": displayName,
			},
		},
	}, nil
}

// PollOperation 查询任务状态
func (m *MeiliClient) PollOperation(ctx context.Context, op *Operation) (*Operation, error) {
	taskUID, err := strconv.ParseInt(LastSegment(op.Name), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid operation name %q: %w", op.Name, err)
	}

	task, err := m.client.GetTask(taskUID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task %d: %w", taskUID, err)
	}

	next := &Operation{Name: op.Name, Metadata: op.Metadata}
	switch task.Status {
	case meili.TaskStatusSucceeded:
		next.Done = true
		if file, ok := op.Metadata["file"].(map[string]interface{}); ok {
			next.Result = map[string]interface{}{"name": file["name"]}
		}
	case meili.TaskStatusFailed, meili.TaskStatusCanceled:
		next.Done = true
		next.Error = task.Error.Message
		if next.Error == "" {
			next.Error = string(task.Status)
		}
	}
	return next, nil
}

// ListDocuments 分页列出索引中的全部记录
func (m *MeiliClient) ListDocuments(ctx context.Context, storeName string) ([]Document, error) {
	uid, err := ParseStoreName(storeName)
	if err != nil {
		return nil, err
	}

	index := m.client.Index(uid)
	var docs []Document
	for offset := int64(0); ; offset += meiliPageSize {
		var resp meili.DocumentsResult
		err := index.GetDocuments(&meili.DocumentsQuery{
			Offset: offset,
			Limit:  meiliPageSize,
			Fields: []string{"id", "display_name", "create_time"},
		}, &resp)
		if err != nil {
			if isMeiliNotFound(err) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, storeName)
			}
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}

		records, err := decodeMeiliRecords(resp.Results)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			docs = append(docs, Document{
				Name:        DocumentName(storeName, r.ID),
				DisplayName: r.DisplayName,
				CreateTime:  time.Unix(r.CreateTime, 0),
			})
		}

		if len(records) < meiliPageSize || offset+meiliPageSize >= resp.Total {
			break
		}
	}
	return docs, nil
}

// DeleteDocument 删除记录。Meilisearch 删除不存在的记录也会成功，
// 所以先查询一次以便返回 ErrNotFound
func (m *MeiliClient) DeleteDocument(ctx context.Context, name string, force bool) error {
	storeID, docID, err := ParseDocumentName(name)
	if err != nil {
		return err
	}

	index := m.client.Index(storeID)
	var existing meiliRecord
	if err := index.GetDocument(docID, nil, &existing); err != nil {
		if isMeiliNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to get document: %w", err)
	}

	if _, err := index.DeleteDocument(docID, nil); err != nil {
		if isMeiliNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// decodeMeiliRecords 结果的元素类型随 SDK 版本不同，统一经 JSON 转换
func decodeMeiliRecords(results interface{}) ([]meiliRecord, error) {
	raw, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("failed to encode documents: %w", err)
	}
	var records []meiliRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return records, nil
}

func isMeiliNotFound(err error) bool {
	var apiErr *meili.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return strings.Contains(err.Error(), "not_found")
}
