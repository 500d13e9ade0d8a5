// Package testutil provides shared test helpers for setting up site trees and
// tracking stores.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/tracker"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// Site creates temporary source and output directories with their providers.
func Site(t *testing.T) (src, dst *storage.FS) {
	t.Helper()
	src, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	dst, err = storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return src, dst
}

// Store opens a tracking store over root backed by a temporary rows file.
func Store(t *testing.T, root string) (*tracker.Store, string) {
	t.Helper()
	db := filepath.Join(t.TempDir(), ".files")
	s := tracker.New(root, tracker.NewFileBackend(db), Logger())
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	return s, db
}

// WriteFile writes content to rel below root and sets its mtime.
func WriteFile(t *testing.T, root, rel, content string, mtime time.Time) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(p, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}
