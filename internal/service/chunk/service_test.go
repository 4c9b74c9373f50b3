// Package chunk 提供文本分块单元测试
package chunk

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// ========== NewSplitter 测试 ==========

func TestNewSplitter_InvalidSize(t *testing.T) {
	_, err := NewSplitter(context.Background(), 0, 0)
	if !errors.Is(err, ErrInvalidChunkSize) {
		t.Errorf("NewSplitter(0) error = %v, want ErrInvalidChunkSize", err)
	}
}

func TestNewSplitter_OverlapClamped(t *testing.T) {
	s, err := NewSplitter(context.Background(), 10, 50)
	if err != nil {
		t.Fatalf("NewSplitter() error = %v", err)
	}
	if s.overlapSize != 0 {
		t.Errorf("overlapSize = %d, want 0", s.overlapSize)
	}
}

func TestNewTokenSplitter(t *testing.T) {
	s, err := NewTokenSplitter(context.Background(), 400, 40)
	if err != nil {
		t.Fatalf("NewTokenSplitter() error = %v", err)
	}
	if s.ChunkSize() != 400*CharsPerToken {
		t.Errorf("ChunkSize() = %d, want %d", s.ChunkSize(), 400*CharsPerToken)
	}
	if s.overlapSize != 40*CharsPerToken {
		t.Errorf("overlapSize = %d, want %d", s.overlapSize, 40*CharsPerToken)
	}
}

// ========== Split 测试 ==========

func TestSplit_Empty(t *testing.T) {
	s, err := NewSplitter(context.Background(), 100, 0)
	if err != nil {
		t.Fatalf("NewSplitter() error = %v", err)
	}

	chunks, err := s.Split(context.Background(), "   \n ")
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("Split() returned %d chunks, want 0", len(chunks))
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	s, err := NewSplitter(context.Background(), 100, 0)
	if err != nil {
		t.Fatalf("NewSplitter() error = %v", err)
	}

	text := "短文本不需要切分"
	chunks, err := s.Split(context.Background(), text)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 1 || chunks[0] != text {
		t.Errorf("Split() = %v, want [%q]", chunks, text)
	}
}

func TestSplit_LongTextMultipleChunks(t *testing.T) {
	s, err := NewSplitter(context.Background(), 50, 0)
	if err != nil {
		t.Fatalf("NewSplitter() error = %v", err)
	}

	paragraphs := make([]string, 10)
	for i := range paragraphs {
		paragraphs[i] = "This paragraph is about thirty chars."
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks, err := s.Split(context.Background(), text)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("Split() returned %d chunks, want >= 2", len(chunks))
	}
	for i, c := range chunks {
		if strings.TrimSpace(c) == "" {
			t.Errorf("chunk %d is blank", i)
		}
	}
}
