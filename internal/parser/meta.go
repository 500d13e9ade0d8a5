// Package parser converts Markdown sources into HTML and a front-matter
// mapping of string keys to string-list values.
package parser

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/starford/folio/internal/apperr"
)

// Meta is the front matter of a document. Keys are lower-case; every value
// is a list because front matter is multi-valued per key.
type Meta map[string][]string

// Has reports whether key is present, even with no values.
func (m Meta) Has(key string) bool {
	_, ok := m[strings.ToLower(key)]
	return ok
}

// Get returns the first value of key, or def when the key is absent or empty.
func (m Meta) Get(key, def string) string {
	vals := m[strings.ToLower(key)]
	if len(vals) == 0 {
		return def
	}
	return vals[0]
}

// Must returns the first value of key or an error naming the key.
func (m Meta) Must(key string) (string, error) {
	vals, ok := m[strings.ToLower(key)]
	if !ok || len(vals) == 0 {
		return "", fmt.Errorf("front matter key %q: %w", key, apperr.ErrMissingKey)
	}
	return vals[0], nil
}

// List returns a copy of every value of key.
func (m Meta) List(key string) []string {
	return slices.Clone(m[strings.ToLower(key)])
}

// metaFromMap flattens decoded front matter into a Meta.
func metaFromMap(raw map[string]any) Meta {
	m := make(Meta, len(raw))
	for k, v := range raw {
		m[strings.ToLower(strings.TrimSpace(k))] = toStrings(v)
	}
	return m
}

func toStrings(v any) []string {
	switch x := v.(type) {
	case nil:
		return []string{}
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if item == nil {
				continue
			}
			out = append(out, scalar(item))
		}
		return out
	case []string:
		return slices.Clone(x)
	default:
		return []string{scalar(x)}
	}
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}
