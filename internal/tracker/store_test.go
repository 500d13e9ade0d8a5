package tracker

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/folio/internal/apperr"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testStore returns a store over a fresh source dir with a file backend.
func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	db := filepath.Join(t.TempDir(), ".files")
	s := New(root, NewFileBackend(db), quietLogger())
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s, root
}

func writeSource(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestObserve_NewFile(t *testing.T) {
	s, root := testStore(t)
	p := writeSource(t, root, "a.md", "# A")
	mtime := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := os.Chtimes(p, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	changed, err := s.Observe("a.md")
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if !changed {
		t.Fatal("new file should be reported as changed")
	}
	e, ok := s.Lookup("a.md")
	if !ok {
		t.Fatal("entry missing after Observe")
	}
	if e.ModifiedAt != 0 {
		t.Errorf("ModifiedAt = %v, want sentinel 0", e.ModifiedAt)
	}
	if e.CreatedAt != float64(mtime.Unix()) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, float64(mtime.Unix()))
	}
	if len(e.Checksum) != 32 {
		t.Errorf("checksum = %q, want 32 hex chars", e.Checksum)
	}
}

func TestObserve_Idempotent(t *testing.T) {
	s, root := testStore(t)
	writeSource(t, root, "a.md", "# A")

	first, err := s.Observe("a.md")
	if err != nil {
		t.Fatal(err)
	}
	before, _ := s.Lookup("a.md")
	muts := s.Mutations()

	second, err := s.Observe("a.md")
	if err != nil {
		t.Fatal(err)
	}
	after, _ := s.Lookup("a.md")

	if !first || second {
		t.Errorf("Observe twice = %v, %v; want true, false", first, second)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("entry changed on second observe: %+v -> %+v", before, after)
	}
	if s.Mutations() != muts {
		t.Errorf("mutations = %d, want %d", s.Mutations(), muts)
	}
}

func TestObserve_TouchWithoutContentChange(t *testing.T) {
	s, root := testStore(t)
	p := writeSource(t, root, "a.md", "# A")
	if _, err := s.Observe("a.md"); err != nil {
		t.Fatal(err)
	}

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(p, later, later); err != nil {
		t.Fatal(err)
	}
	changed, err := s.Observe("a.md")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("mtime-only change must not be reported as a content change")
	}
	if e, _ := s.Lookup("a.md"); e.Modified() {
		t.Errorf("ModifiedAt = %v, want sentinel", e.ModifiedAt)
	}
}

func TestObserve_ContentChangePreservesCreationAndTags(t *testing.T) {
	s, root := testStore(t)
	p := writeSource(t, root, "a.md", "# A")
	if _, err := s.Observe("a.md"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateTags("a.md", []string{"go"}); err != nil {
		t.Fatal(err)
	}
	orig, _ := s.Lookup("a.md")

	writeSource(t, root, "a.md", "# A, edited")
	mtime := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	if err := os.Chtimes(p, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	changed, err := s.Observe("a.md")
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("content change not detected")
	}
	e, _ := s.Lookup("a.md")
	if e.CreatedAt != orig.CreatedAt {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, orig.CreatedAt)
	}
	if e.ModifiedAt != float64(mtime.UnixNano())/1e9 {
		t.Errorf("ModifiedAt = %v, want %v", e.ModifiedAt, float64(mtime.UnixNano())/1e9)
	}
	if e.Checksum == orig.Checksum {
		t.Error("checksum not updated")
	}
	if !reflect.DeepEqual(e.Tags, []string{"go"}) {
		t.Errorf("tags = %v, want [go]", e.Tags)
	}
}

func TestObserve_KeyNormalization(t *testing.T) {
	s, root := testStore(t)
	writeSource(t, root, "blog/post.md", "x")

	if _, err := s.Observe("blog/./post.md"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Lookup("blog/post.md"); !ok {
		t.Error("normalized key not found")
	}
	if changed, _ := s.Observe("blog/post.md"); changed {
		t.Error("same file under another spelling reported as changed")
	}

	for _, bad := range []string{"", "/etc/passwd", "../outside.md", "a|b.md"} {
		if _, err := s.Observe(bad); !errors.Is(err, apperr.ErrInvalid) {
			t.Errorf("Observe(%q) err = %v, want ErrInvalid", bad, err)
		}
	}
}

func TestObserve_MissingFile(t *testing.T) {
	s, _ := testStore(t)
	_, err := s.Observe("ghost.md")
	if !errors.Is(err, apperr.ErrIO) {
		t.Fatalf("err = %v, want ErrIO", err)
	}
	if s.Len() != 0 {
		t.Error("failed observe must not create an entry")
	}
}

func TestUpdateTags_UnknownPath(t *testing.T) {
	s, _ := testStore(t)
	err := s.UpdateTags("nope.md", []string{"x"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateTags_SameSetIsNoop(t *testing.T) {
	s, root := testStore(t)
	writeSource(t, root, "a.md", "x")
	if _, err := s.Observe("a.md"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateTags("a.md", []string{"b", "a"}); err != nil {
		t.Fatal(err)
	}
	before := s.Mutations()
	raw := formatRow(mustLookup(t, s, "a.md"))

	if err := s.UpdateTags("a.md", []string{"a", "b", "a"}); err != nil {
		t.Fatal(err)
	}
	if s.Mutations() != before {
		t.Errorf("mutations = %d, want %d", s.Mutations(), before)
	}
	if got := formatRow(mustLookup(t, s, "a.md")); got != raw {
		t.Errorf("stored row = %q, want %q", got, raw)
	}

	if err := s.UpdateTags("a.md", []string{"a"}); err != nil {
		t.Fatal(err)
	}
	if s.Mutations() != before+1 {
		t.Errorf("differing set should mutate once, mutations = %d", s.Mutations())
	}
}

func TestUpdateTags_RejectsReservedCharacters(t *testing.T) {
	s, root := testStore(t)
	writeSource(t, root, "a.md", "x")
	_, _ = s.Observe("a.md")
	for _, bad := range []string{"a,b", "a|b", ""} {
		if err := s.UpdateTags("a.md", []string{bad}); !errors.Is(err, apperr.ErrInvalid) {
			t.Errorf("UpdateTags(%q) err = %v, want ErrInvalid", bad, err)
		}
	}
}

func TestPersistLoad_RoundTrip(t *testing.T) {
	root := t.TempDir()
	db := filepath.Join(t.TempDir(), "state", ".files")
	s := New(root, NewFileBackend(db), quietLogger())
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	writeSource(t, root, "a.md", "a")
	writeSource(t, root, "sub/b.md", "b")
	_, _ = s.Observe("a.md")
	_, _ = s.Observe("sub/b.md")
	_ = s.UpdateTags("sub/b.md", []string{"x", "y"})
	writeSource(t, root, "a.md", "a2")
	_, _ = s.Observe("a.md")

	if err := s.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	fresh := New(root, NewFileBackend(db), quietLogger())
	if err := fresh.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(fresh.Entries(), s.Entries()) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", fresh.Entries(), s.Entries())
	}
}

func TestPersist_SkipsWhenUnchanged(t *testing.T) {
	s, root := testStore(t)
	writeSource(t, root, "a.md", "a")
	_, _ = s.Observe("a.md")
	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}
	db := s.backend.Location()
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(db, old, old); err != nil {
		t.Fatal(err)
	}

	_, _ = s.Observe("a.md")
	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}
	info, _ := os.Stat(db)
	if !info.ModTime().Equal(old) {
		t.Error("store file rewritten although nothing changed")
	}
}

func TestPersist_FirstRunCreatesFile(t *testing.T) {
	s, _ := testStore(t)
	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.backend.Location()); err != nil {
		t.Errorf("store file not created: %v", err)
	}
}

func TestLoad_MalformedRowIsFatal(t *testing.T) {
	db := filepath.Join(t.TempDir(), ".files")
	content := "a.md|1700000000|0|5d41402abc4b2a76b9719d911017c592|-\n" +
		"b.md|1700000000|5d41402abc4b2a76b9719d911017c592\n"
	if err := os.WriteFile(db, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(t.TempDir(), NewFileBackend(db), quietLogger())
	err := s.Load()
	if !errors.Is(err, apperr.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
	if !strings.Contains(err.Error(), "row 2") || !strings.Contains(err.Error(), "3 fields") {
		t.Errorf("error should identify the row: %v", err)
	}
}

func TestLoad_DuplicateRow(t *testing.T) {
	db := filepath.Join(t.TempDir(), ".files")
	row := "a.md|1|0|5d41402abc4b2a76b9719d911017c592|-\n"
	if err := os.WriteFile(db, []byte(row+row), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(t.TempDir(), NewFileBackend(db), quietLogger())
	if err := s.Load(); !errors.Is(err, apperr.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestLoad_BackingIsDirectory(t *testing.T) {
	s := New(t.TempDir(), NewFileBackend(t.TempDir()), quietLogger())
	if err := s.Load(); !errors.Is(err, apperr.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestPrune(t *testing.T) {
	s, root := testStore(t)
	writeSource(t, root, "keep.md", "k")
	p := writeSource(t, root, "gone.md", "g")
	_, _ = s.Observe("keep.md")
	_, _ = s.Observe("gone.md")
	_ = os.Remove(p)

	removed, err := s.Prune()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(removed, []string{"gone.md"}) {
		t.Errorf("removed = %v, want [gone.md]", removed)
	}
	if _, ok := s.Lookup("gone.md"); ok {
		t.Error("pruned entry still present")
	}
	if _, ok := s.Lookup("keep.md"); !ok {
		t.Error("existing entry pruned")
	}
}

func TestRestore_RevertsObservedChange(t *testing.T) {
	s, root := testStore(t)
	writeSource(t, root, "a.md", "v1")
	if _, err := s.Observe("a.md"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateTags("a.md", []string{"go"}); err != nil {
		t.Fatal(err)
	}
	prev, existed := s.Lookup("a.md")

	writeSource(t, root, "a.md", "v2")
	if changed, err := s.Observe("a.md"); err != nil || !changed {
		t.Fatalf("Observe = %v, %v", changed, err)
	}
	if err := s.Restore("a.md", prev, existed); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := mustLookup(t, s, "a.md"); !reflect.DeepEqual(got, prev) {
		t.Errorf("entry = %+v, want %+v", got, prev)
	}

	changed, err := s.Observe("a.md")
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("restored entry should be reported as changed again")
	}
}

func TestRestore_DropsNewEntry(t *testing.T) {
	s, root := testStore(t)
	writeSource(t, root, "a.md", "a")
	writeSource(t, root, "b.md", "b")
	if _, err := s.Observe("a.md"); err != nil {
		t.Fatal(err)
	}
	prev, existed := s.Lookup("b.md")
	if _, err := s.Observe("b.md"); err != nil {
		t.Fatal(err)
	}

	if err := s.Restore("b.md", prev, existed); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, ok := s.Lookup("b.md"); ok {
		t.Error("b.md should no longer be tracked")
	}
	entries := s.Entries()
	if len(entries) != 1 || entries[0].Path != "a.md" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestRestore_MismatchedEntry(t *testing.T) {
	s, _ := testStore(t)
	err := s.Restore("a.md", Entry{Path: "b.md"}, true)
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestObserve_Concurrent(t *testing.T) {
	s, root := testStore(t)
	const n = 20
	for i := range n {
		writeSource(t, root, filepath.Join("c", string(rune('a'+i))+".md"), "x")
	}
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Observe("c/" + string(rune('a'+i)) + ".md"); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	if s.Len() != n {
		t.Errorf("Len = %d, want %d", s.Len(), n)
	}
}

func mustLookup(t *testing.T, s *Store, path string) Entry {
	t.Helper()
	e, ok := s.Lookup(path)
	if !ok {
		t.Fatalf("no entry for %s", path)
	}
	return e
}
