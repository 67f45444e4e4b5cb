package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harlan/fieldsync/internal/store"
)

// TestInitCreatesCacheDirectory tests that init creates the .fieldsync directory
func TestInitCreatesCacheDirectory(t *testing.T) {
	dir := t.TempDir()

	st, err := store.Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer st.Close()

	cachePath := filepath.Join(dir, ".fieldsync")
	if info, err := os.Stat(cachePath); err != nil || !info.IsDir() {
		t.Errorf("Expected .fieldsync directory to exist at %s", cachePath)
	}
	dbPath := filepath.Join(cachePath, "cache.db")
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("Expected cache.db to exist at %s", dbPath)
	}
}

// TestInitIdempotent tests that init can be called multiple times safely
func TestInitIdempotent(t *testing.T) {
	dir := t.TempDir()

	st1, err := store.Initialize(dir)
	if err != nil {
		t.Fatalf("First Initialize failed: %v", err)
	}
	st1.Close()

	st2, err := store.Initialize(dir)
	if err != nil {
		t.Fatalf("Second Initialize failed: %v", err)
	}
	defer st2.Close()
}

func TestAddToGitignore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")

	addToGitignore(path)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read .gitignore: %v", err)
	}
	if !strings.Contains(string(content), ".fieldsync/") {
		t.Errorf(".fieldsync/ not added: %q", content)
	}

	// Second call must not duplicate the entry
	addToGitignore(path)
	content, _ = os.ReadFile(path)
	if strings.Count(string(content), ".fieldsync/") != 1 {
		t.Errorf("Entry duplicated: %q", content)
	}
}

func TestAddToGitignoreMissingTrailingNewline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	if err := os.WriteFile(path, []byte("node_modules"), 0644); err != nil {
		t.Fatalf("write .gitignore: %v", err)
	}

	addToGitignore(path)
	content, _ := os.ReadFile(path)
	if !strings.Contains(string(content), "node_modules\n.fieldsync/\n") {
		t.Errorf("Entry should start on its own line: %q", content)
	}
}
