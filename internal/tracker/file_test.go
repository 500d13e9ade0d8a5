package tracker

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/starford/folio/internal/apperr"
)

func TestFormatParseRow(t *testing.T) {
	cases := []Entry{
		{Path: "a.md", CreatedAt: 1700000000.25, Checksum: "5d41402abc4b2a76b9719d911017c592"},
		{Path: "blog/b c.md", CreatedAt: 1, ModifiedAt: 2.5, Checksum: "ff", Tags: []string{"go", "web dev"}},
	}
	for _, want := range cases {
		got, err := parseRow(formatRow(want))
		if err != nil {
			t.Fatalf("parseRow(%q): %v", formatRow(want), err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %+v, want %+v", got, want)
		}
	}
}

func TestFormatRow_NoTagsMarker(t *testing.T) {
	row := formatRow(Entry{Path: "a.md", CreatedAt: 10, Checksum: "c"})
	if row != "a.md|10|0|c|-" {
		t.Errorf("row = %q", row)
	}
}

func TestParseRow_BadNumbers(t *testing.T) {
	for _, line := range []string{
		"a.md|x|0|c|-",
		"a.md|1|y|c|-",
		"|1|0|c|-",
	} {
		if _, err := parseRow(line); !errors.Is(err, apperr.ErrMalformed) {
			t.Errorf("parseRow(%q) err = %v, want ErrMalformed", line, err)
		}
	}
}

func TestFileBackend_MissingIsNotFound(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "missing"))
	entries, found, err := b.Load()
	if err != nil || found || entries != nil {
		t.Errorf("Load = %v, %v, %v; want nil, false, nil", entries, found, err)
	}
}

func TestFileBackend_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(filepath.Join(dir, ".files"))
	if err := b.Save([]Entry{{Path: "a.md", CreatedAt: 1, Checksum: "c"}}); err != nil {
		t.Fatal(err)
	}
	if err := b.Save(nil); err != nil {
		t.Fatal(err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, ".folio-db-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
	data, _ := os.ReadFile(filepath.Join(dir, ".files"))
	if len(data) != 0 {
		t.Errorf("content = %q, want empty", data)
	}
}
