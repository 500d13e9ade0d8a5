// Package storage provides rooted file-system access for site sources and
// build outputs.
package storage

import "github.com/starford/folio/internal/models"

// Provider is the interface for file operations below a root directory.
type Provider interface {
	// List walks dir (relative to root) and returns the files whose names end
	// with one of exts, skipping directories named in exclude.
	List(dir string, exts []string, exclude []string) ([]models.SourceFile, error)
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// Exists reports whether a regular file exists at path.
	Exists(path string) (bool, error)
	// Abs resolves path (relative to root) to an absolute path.
	Abs(path string) (string, error)
	// Root returns the absolute root directory.
	Root() string
}
