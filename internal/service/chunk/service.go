// Package chunk 提供文本分块，直接使用 eino-ext recursive splitter
package chunk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

// CharsPerToken token 数与字符数的近似换算
const CharsPerToken = 4

var (
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
)

// defaultSeparators 中英文混排的分隔符，按优先级排列
var defaultSeparators = []string{"\n\n", "\n", ". ", "。", "? ", "？", "! ", "！", ", ", "，", " ", ""}

// Splitter 文本分块器
type Splitter struct {
	transformer document.Transformer
	chunkSize   int
	overlapSize int
}

// NewSplitter 按字符数创建分块器
func NewSplitter(ctx context.Context, chunkSize, overlapSize int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if overlapSize < 0 || overlapSize >= chunkSize {
		overlapSize = 0
	}

	transformer, err := recursive.NewSplitter(ctx, &recursive.Config{
		ChunkSize:   chunkSize,
		OverlapSize: overlapSize,
		Separators:  defaultSeparators,
		KeepType:    recursive.KeepTypeNone,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create splitter: %w", err)
	}

	return &Splitter{
		transformer: transformer,
		chunkSize:   chunkSize,
		overlapSize: overlapSize,
	}, nil
}

// NewTokenSplitter 按 token 数创建分块器（按 CharsPerToken 换算为字符）
func NewTokenSplitter(ctx context.Context, maxTokensPerChunk, maxOverlapTokens int) (*Splitter, error) {
	return NewSplitter(ctx, maxTokensPerChunk*CharsPerToken, maxOverlapTokens*CharsPerToken)
}

// ChunkSize 每块最大字符数
func (s *Splitter) ChunkSize() int {
	return s.chunkSize
}

// Split 将文本切分为若干块；不超过 chunkSize 的文本原样返回一块
func (s *Splitter) Split(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if len([]rune(text)) <= s.chunkSize {
		return []string{text}, nil
	}

	docs, err := s.transformer.Transform(ctx, []*schema.Document{{Content: text}})
	if err != nil {
		return nil, fmt.Errorf("splitter failed: %w", err)
	}

	chunks := make([]string, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		chunks = append(chunks, d.Content)
	}
	return chunks, nil
}
