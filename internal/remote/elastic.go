package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	"github.com/ashwinyue/next-sync/internal/service/chunk"
)

const (
	elasticPageSize  = 500
	elasticKeepAlive = "1m"
)

// ElasticClient 基于 Elasticsearch 的远程存储：索引 = 存储。
// 写入是同步的，UploadChunked 返回的操作已经完成。
type ElasticClient struct {
	es  *elasticsearch.Client
	now func() time.Time
}

var _ Client = (*ElasticClient)(nil)

// NewElasticClient 创建 Elasticsearch 客户端；username 为空时把 apiKey 当作 API Key 使用
func NewElasticClient(addresses []string, username, apiKey string) (*ElasticClient, error) {
	cfg := elasticsearch.Config{Addresses: addresses}
	if username != "" {
		cfg.Username = username
		cfg.Password = apiKey
	} else {
		cfg.APIKey = apiKey
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ES client: %w", err)
	}
	return &ElasticClient{es: es, now: time.Now}, nil
}

// ElasticFactory 按 API Key 创建客户端
func ElasticFactory(addresses []string, username string) Factory {
	return func(apiKey string) (Client, error) {
		return NewElasticClient(addresses, username, apiKey)
	}
}

// CreateStore 创建索引
func (c *ElasticClient) CreateStore(ctx context.Context, displayName string) (*Store, error) {
	index := uuid.New().String()

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"display_name": map[string]interface{}{"type": "keyword"},
				"mime_type":    map[string]interface{}{"type": "keyword"},
				"chunks":       map[string]interface{}{"type": "text"},
				"metadata":     map[string]interface{}{"type": "object"},
				"create_time":  map[string]interface{}{"type": "date", "format": "epoch_second"},
			},
		},
		"settings": map[string]interface{}{
			"number_of_shards":   1,
			"number_of_replicas": 0,
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mapping: %w", err)
	}

	req := esapi.IndicesCreateRequest{
		Index: index,
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("failed to create index: %s", res.String())
	}
	return &Store{Name: StoreName(index), DisplayName: displayName}, nil
}

// UploadChunked 分块后同步写入
func (c *ElasticClient) UploadChunked(ctx context.Context, filePath, storeName string, cfg ChunkingConfig, opts UploadOptions) (*Operation, error) {
	index, err := ParseStoreName(storeName)
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

	docID := uuid.New().String()
	body, err := json.Marshal(map[string]interface{}{
		"display_name": displayName,
		"mime_type":    opts.MimeType,
		"chunks":       chunks,
		"metadata":     opts.Metadata,
		"create_time":  c.now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: docID,
		Body:       bytes.NewReader(body),
		Refresh:    "wait_for",
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("failed to index document: %s", res.String())
	}

	// 元数据中携带文档名，结果为空
	return &Operation{
		Name: storeName + operationsSegment + "index-" + docID,
		Done: true,
		Metadata: map[string]interface{}{
			"file": map[string]interface{}{
				"name":        DocumentName(storeName, docID),
				"displayName": displayName,
			},
		},
	}, nil
}

// PollOperation 写入是同步的，直接返回
func (c *ElasticClient) PollOperation(ctx context.Context, op *Operation) (*Operation, error) {
	if op == nil {
		return nil, errors.New("operation is nil")
	}
	return op, nil
}

type esSearchResponse struct {
	PitID string `json:"pit_id"`
	Hits  struct {
		Hits []struct {
			ID     string `json:"_id"`
			Source struct {
				DisplayName string `json:"display_name"`
				CreateTime  int64  `json:"create_time"`
			} `json:"_source"`
			Sort []interface{} `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
}

// ListDocuments 列出索引中的全部文档。
// 用 point-in-time + search_after 翻页，不受 index.max_result_window 限制
func (c *ElasticClient) ListDocuments(ctx context.Context, storeName string) ([]Document, error) {
	index, err := ParseStoreName(storeName)
	if err != nil {
		return nil, err
	}

	pitID, err := c.openPointInTime(ctx, index, storeName)
	if err != nil {
		return nil, err
	}
	defer func() { c.closePointInTime(pitID) }()

	var (
		docs        []Document
		searchAfter []interface{}
	)
	for {
		body := map[string]interface{}{
			"query":   map[string]interface{}{"match_all": map[string]interface{}{}},
			"_source": []string{"display_name", "create_time"},
			"pit":     map[string]interface{}{"id": pitID, "keep_alive": elasticKeepAlive},
			"sort":    []map[string]string{{"_shard_doc": "asc"}},
			"size":    elasticPageSize,
		}
		if searchAfter != nil {
			body["search_after"] = searchAfter
		}
		query, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}

		// 带 pit 的搜索不能再指定索引
		req := esapi.SearchRequest{Body: bytes.NewReader(query)}
		res, err := req.Do(ctx, c.es)
		if err != nil {
			return nil, fmt.Errorf("failed to search: %w", err)
		}

		page, err := decodeSearch(res, storeName)
		if err != nil {
			return nil, err
		}
		if page.PitID != "" {
			pitID = page.PitID
		}
		for _, hit := range page.Hits.Hits {
			docs = append(docs, Document{
				Name:        DocumentName(storeName, hit.ID),
				DisplayName: hit.Source.DisplayName,
				CreateTime:  time.Unix(hit.Source.CreateTime, 0),
			})
		}

		hits := page.Hits.Hits
		if len(hits) < elasticPageSize || len(hits[len(hits)-1].Sort) == 0 {
			break
		}
		searchAfter = hits[len(hits)-1].Sort
	}
	return docs, nil
}

func (c *ElasticClient) openPointInTime(ctx context.Context, index, storeName string) (string, error) {
	req := esapi.OpenPointInTimeRequest{
		Index:     []string{index},
		KeepAlive: elasticKeepAlive,
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return "", fmt.Errorf("failed to open point in time: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrNotFound, storeName)
	}
	if res.IsError() {
		return "", fmt.Errorf("failed to open point in time: %s", res.String())
	}

	var pit struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&pit); err != nil {
		return "", fmt.Errorf("failed to decode point in time: %w", err)
	}
	if pit.ID == "" {
		return "", errors.New("empty point in time id")
	}
	return pit.ID, nil
}

// closePointInTime 尽力释放，失败时等 keep_alive 到期
func (c *ElasticClient) closePointInTime(pitID string) {
	body, err := json.Marshal(map[string]string{"id": pitID})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := esapi.ClosePointInTimeRequest{Body: bytes.NewReader(body)}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return
	}
	res.Body.Close()
}

// DeleteDocument 删除文档
func (c *ElasticClient) DeleteDocument(ctx context.Context, name string, force bool) error {
	index, docID, err := ParseDocumentName(name)
	if err != nil {
		return err
	}

	req := esapi.DeleteRequest{
		Index:      index,
		DocumentID: docID,
		Refresh:    "true",
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if res.IsError() {
		return fmt.Errorf("failed to delete document: %s", res.String())
	}
	return nil
}

func decodeSearch(res *esapi.Response, storeName string) (*esSearchResponse, error) {
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, storeName)
	}
	if res.IsError() {
		return nil, fmt.Errorf("search failed: %s", res.String())
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	var page esSearchResponse
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &page, nil
}
