// Package extract 提供文本提取单元测试
package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/document/parser"

	"github.com/ashwinyue/next-sync/internal/service/file"
)

// ========== textParser 测试 ==========

func TestTextParser_Parse(t *testing.T) {
	p := &textParser{}

	tests := []struct {
		name        string
		content     string
		wantDocs    int
		wantContent string
	}{
		{"simple text", "Hello, world!", 1, "Hello, world!"},
		{"multiline text", "Line 1\nLine 2", 1, "Line 1\nLine 2"},
		{"empty content", "", 0, ""},
		{"unicode content", "Hello 世界", 1, "Hello 世界"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := p.Parse(context.Background(), strings.NewReader(tt.content))
			if err != nil {
				t.Fatalf("Parse() unexpected error: %v", err)
			}
			if len(docs) != tt.wantDocs {
				t.Fatalf("Parse() returned %d docs, want %d", len(docs), tt.wantDocs)
			}
			if tt.wantDocs > 0 && docs[0].Content != tt.wantContent {
				t.Errorf("Parse()[0].Content = %q, want %q", docs[0].Content, tt.wantContent)
			}
		})
	}
}

func TestTextParser_ParserInterface(t *testing.T) {
	var _ parser.Parser = &textParser{}
}

// ========== newParser 测试 ==========

func TestNewParser(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"a.txt", "A.MD", "b.csv", "c.html", "d.htm"} {
		if _, err := newParser(ctx, name); err != nil {
			t.Errorf("newParser(%q) error = %v", name, err)
		}
	}

	_, err := newParser(ctx, "movie.mp4")
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("newParser(mp4) error = %v, want ErrUnsupportedType", err)
	}
}

func TestSupported(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"report.pdf", true},
		{"Report.DOCX", true},
		{"page.html", true},
		{"notes.md", true},
		{"audio.mp3", false},
		{"noext", false},
	}
	for _, tt := range tests {
		if got := Supported(tt.name); got != tt.want {
			t.Errorf("Supported(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// ========== Service 测试 ==========

func TestExtractFile(t *testing.T) {
	storage, err := file.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	path := "library/C1/guide.md"
	if _, err := storage.Put(ctx, path, strings.NewReader("  # Guide\n\nbody  "), -1, "text/markdown"); err != nil {
		t.Fatal(err)
	}

	svc := NewService(storage)
	text, err := svc.ExtractFile(ctx, path, "guide.md")
	if err != nil {
		t.Fatalf("ExtractFile() error = %v", err)
	}
	if text != "# Guide\n\nbody" {
		t.Errorf("ExtractFile() = %q", text)
	}

	if _, err := svc.ExtractFile(ctx, "library/C1/missing.md", ""); !errors.Is(err, file.ErrFileNotFound) {
		t.Errorf("missing file error = %v", err)
	}
}

func TestExtractReader_HTML(t *testing.T) {
	text, err := ExtractReader(context.Background(),
		strings.NewReader("<html><body><p>Hello</p></body></html>"), "page.html")
	if err != nil {
		t.Fatalf("ExtractReader() error = %v", err)
	}
	if !strings.Contains(text, "Hello") {
		t.Errorf("ExtractReader() = %q, want it to contain Hello", text)
	}
}
