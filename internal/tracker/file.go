package tracker

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/starford/folio/internal/apperr"
)

const (
	fieldSep  = "|"
	tagSep    = ","
	noTags    = "-"
	numFields = 5
)

// FileBackend stores entries as pipe-delimited rows:
//
//	path|created_at|modified_at|checksum|tags
//
// tags are comma-joined, or "-" when there are none.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend reading and writing the file at path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Location returns the backing file path.
func (b *FileBackend) Location() string { return b.path }

// Load parses every row of the backing file. A missing file is not an error.
func (b *FileBackend) Load() ([]Entry, bool, error) {
	info, err := os.Stat(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("tracker: stat %s: %w", b.path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, false, fmt.Errorf("tracker: %s is not a regular file: %w", b.path, apperr.ErrMalformed)
	}

	f, err := os.Open(b.path)
	if err != nil {
		return nil, false, fmt.Errorf("tracker: open %s: %w", b.path, err)
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	row := 0
	for sc.Scan() {
		row++
		e, err := parseRow(sc.Text())
		if err != nil {
			return nil, true, fmt.Errorf("tracker: %s row %d: %w", b.path, row, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, true, fmt.Errorf("tracker: read %s: %w: %w", b.path, apperr.ErrMalformed, err)
	}
	return out, true, nil
}

// Save writes all entries to a temp file next to the backing file, fsyncs it
// and renames it over the previous contents.
func (b *FileBackend) Save(entries []Entry) error {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(formatRow(e))
		sb.WriteByte('\n')
	}
	return writeAtomic(b.path, []byte(sb.String()))
}

func parseRow(line string) (Entry, error) {
	fields := strings.Split(line, fieldSep)
	if len(fields) != numFields {
		return Entry{}, fmt.Errorf("has %d fields, want %d: %q: %w", len(fields), numFields, line, apperr.ErrMalformed)
	}
	ctime, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Entry{}, fmt.Errorf("created_at %q: %w", fields[1], apperr.ErrMalformed)
	}
	mtime, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Entry{}, fmt.Errorf("modified_at %q: %w", fields[2], apperr.ErrMalformed)
	}
	if fields[0] == "" || fields[3] == "" {
		return Entry{}, fmt.Errorf("empty path or checksum: %q: %w", line, apperr.ErrMalformed)
	}
	e := Entry{
		Path:       fields[0],
		CreatedAt:  ctime,
		ModifiedAt: mtime,
		Checksum:   fields[3],
	}
	if fields[4] != noTags && fields[4] != "" {
		e.Tags = strings.Split(fields[4], tagSep)
	}
	return e, nil
}

func formatRow(e Entry) string {
	tags := noTags
	if len(e.Tags) > 0 {
		tags = strings.Join(e.Tags, tagSep)
	}
	return strings.Join([]string{
		e.Path,
		strconv.FormatFloat(e.CreatedAt, 'f', -1, 64),
		strconv.FormatFloat(e.ModifiedAt, 'f', -1, 64),
		e.Checksum,
		tags,
	}, fieldSep)
}

// writeAtomic writes content via tmp file -> fsync -> rename.
func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("tracker: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".folio-db-*")
	if err != nil {
		return fmt.Errorf("tracker: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("tracker: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("tracker: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tracker: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("tracker: rename: %w", err)
	}
	success = true
	return nil
}
