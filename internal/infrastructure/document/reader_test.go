package document

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestExtractTextFromPlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("first line\nsecond line\n"), 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	reader := NewReader(zap.NewNop())
	doc, err := reader.ExtractText(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to extract text: %v", err)
	}

	if doc.Pages != 1 {
		t.Errorf("Expected 1 page, got %d", doc.Pages)
	}
	if !strings.Contains(doc.Text, "second line") {
		t.Errorf("Expected file contents in text, got %q", doc.Text)
	}
	if doc.Path != path {
		t.Errorf("Expected path %q, got %q", path, doc.Path)
	}
}

func TestExtractTextMissingFile(t *testing.T) {
	reader := NewReader(zap.NewNop())

	_, err := reader.ExtractText(context.Background(), filepath.Join(t.TempDir(), "absent.pdf"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	if !strings.Contains(err.Error(), "document not found") {
		t.Errorf("Expected not-found error, got %v", err)
	}
}

func TestExtractTextRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("not a real pdf"), 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	reader := NewReader(zap.NewNop())
	_, err := reader.ExtractText(context.Background(), path)
	if err == nil {
		t.Fatal("Expected error for corrupt document")
	}
}
