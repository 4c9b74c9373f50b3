// Package extract 将资料库原始文件解析为纯文本
// 直接使用 eino-ext 的文档解析器
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/parser/docx"
	"github.com/cloudwego/eino-ext/components/document/parser/html"
	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoparser "github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"

	"github.com/ashwinyue/next-sync/internal/service/file"
)

// ErrUnsupportedType 不支持的文件类型
var ErrUnsupportedType = errors.New("unsupported file type")

// Service 文本提取服务
type Service struct {
	storage file.Storage
}

// NewService 创建文本提取服务
func NewService(storage file.Storage) *Service {
	return &Service{storage: storage}
}

// Supported 按扩展名判断是否能提取
func Supported(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf", ".docx", ".html", ".htm", ".txt", ".md", ".csv", ".json":
		return true
	}
	return false
}

// ExtractFile 读取存储中的文件并提取文本。fileName 决定解析器
func (s *Service) ExtractFile(ctx context.Context, filePath, fileName string) (string, error) {
	if fileName == "" {
		fileName = filePath
	}
	p, err := newParser(ctx, fileName)
	if err != nil {
		return "", err
	}

	reader, err := s.storage.Open(ctx, filePath)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	return parse(ctx, p, reader)
}

// ExtractReader 从 reader 提取文本
func ExtractReader(ctx context.Context, reader io.Reader, fileName string) (string, error) {
	p, err := newParser(ctx, fileName)
	if err != nil {
		return "", err
	}
	return parse(ctx, p, reader)
}

func parse(ctx context.Context, p einoparser.Parser, reader io.Reader) (string, error) {
	docs, err := p.Parse(ctx, reader)
	if err != nil {
		return "", fmt.Errorf("parser failed: %w", err)
	}

	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if text := strings.TrimSpace(d.Content); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// newParser 按扩展名创建解析器
func newParser(ctx context.Context, fileName string) (einoparser.Parser, error) {
	ext := strings.ToLower(filepath.Ext(fileName))

	switch ext {
	case ".pdf":
		return pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
	case ".docx":
		return docx.NewDocxParser(ctx, &docx.Config{
			ToSections:      false,
			IncludeComments: false,
			IncludeHeaders:  true,
			IncludeFooters:  false,
			IncludeTables:   true,
		})
	case ".html", ".htm":
		bodySelector := "body"
		return html.NewParser(ctx, &html.Config{
			Selector: &bodySelector,
		})
	case ".txt", ".md", ".csv", ".json":
		return &textParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
}

// textParser 纯文本解析器
type textParser struct{}

func (p *textParser) Parse(_ context.Context, reader io.Reader, opts ...einoparser.Option) ([]*schema.Document, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read: %w", err)
	}

	text := string(content)
	if text == "" {
		return []*schema.Document{}, nil
	}

	return []*schema.Document{
		{
			Content:  text,
			MetaData: make(map[string]any),
		},
	}, nil
}
