// Package tracker records, per source file, the content checksum and the
// creation/modification timestamps that drive incremental builds.
package tracker

import (
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/starford/folio/internal/apperr"
)

// Entry is the tracked state of one source file.
type Entry struct {
	Path       string   `json:"path"`
	CreatedAt  float64  `json:"created_at"`
	ModifiedAt float64  `json:"modified_at"` // 0 until the first content change
	Checksum   string   `json:"checksum"`
	Tags       []string `json:"tags,omitempty"`
}

// Modified reports whether the file changed at least once after creation.
func (e Entry) Modified() bool {
	return e.ModifiedAt != 0
}

func (e Entry) clone() Entry {
	e.Tags = slices.Clone(e.Tags)
	return e
}

// Key normalizes p into the slash-separated form used as tracking key.
// Absolute paths and paths escaping the source root are rejected.
func Key(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("tracker: empty path: %w", apperr.ErrInvalid)
	}
	if filepath.IsAbs(p) || strings.HasPrefix(filepath.ToSlash(p), "/") {
		return "", fmt.Errorf("tracker: absolute path %q: %w", p, apperr.ErrInvalid)
	}
	k := path.Clean(filepath.ToSlash(p))
	if k == "." || k == ".." || strings.HasPrefix(k, "../") {
		return "", fmt.Errorf("tracker: path %q escapes source root: %w", p, apperr.ErrInvalid)
	}
	if strings.ContainsAny(k, fieldSep+"\r\n") {
		return "", fmt.Errorf("tracker: path %q contains a reserved character: %w", p, apperr.ErrInvalid)
	}
	return k, nil
}

// normalizeTags drops duplicates while keeping the first-seen order.
func normalizeTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || strings.ContainsAny(t, tagSep+fieldSep+"\r\n") {
			return nil, fmt.Errorf("tracker: tag %q: %w", t, apperr.ErrInvalid)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// SameTags reports whether a and b hold the same set of tags, ignoring order
// and duplicates.
func SameTags(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, t := range a {
		as[t] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, ok := as[t]; !ok {
			return false
		}
		bs[t] = struct{}{}
	}
	return len(as) == len(bs)
}
