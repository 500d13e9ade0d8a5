package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

type recorder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *recorder) rebuild(_ context.Context, paths []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, paths)
	return r.err
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func startWatch(t *testing.T, rec *recorder, roots ...string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = Watch(ctx, roots, 100*time.Millisecond, quietLogger(), rec.rebuild)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
}

func TestWatch_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatch(t, rec, dir)

	for _, name := range []string{"a.md", "b.md", "c.md"} {
		_ = os.WriteFile(filepath.Join(dir, name), []byte("# x"), 0o644)
	}

	eventually(t, 3*time.Second, 50*time.Millisecond, func() bool {
		return len(rec.snapshot()) > 0
	}, "no rebuild after writes")

	time.Sleep(300 * time.Millisecond)
	calls := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("rebuilds = %d, want 1 for a burst", len(calls))
	}
	if len(calls[0]) != 3 {
		t.Errorf("paths = %v, want 3", calls[0])
	}
}

func TestWatch_NewDirectoryWatched(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatch(t, rec, dir)

	sub := filepath.Join(dir, "blog")
	_ = os.Mkdir(sub, 0o755)
	time.Sleep(300 * time.Millisecond)
	before := len(rec.snapshot())

	_ = os.WriteFile(filepath.Join(sub, "post.md"), []byte("# post"), 0o644)

	want := filepath.Join(sub, "post.md")
	eventually(t, 3*time.Second, 50*time.Millisecond, func() bool {
		calls := rec.snapshot()
		for _, c := range calls[min(before, len(calls)):] {
			for _, p := range c {
				if p == want {
					return true
				}
			}
		}
		return false
	}, "file in new directory did not trigger a rebuild")
}

func TestWatch_IgnoresHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatch(t, rec, dir)

	_ = os.WriteFile(filepath.Join(dir, ".folio-tmp-123"), []byte("x"), 0o644)
	time.Sleep(400 * time.Millisecond)
	if n := len(rec.snapshot()); n != 0 {
		t.Errorf("rebuilds = %d, want 0 for hidden files", n)
	}
}

func TestWatch_RebuildErrorKeepsWatching(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{err: errors.New("boom")}
	startWatch(t, rec, dir)

	_ = os.WriteFile(filepath.Join(dir, "a.md"), []byte("1"), 0o644)
	eventually(t, 3*time.Second, 50*time.Millisecond, func() bool {
		return len(rec.snapshot()) == 1
	}, "first rebuild missing")

	_ = os.WriteFile(filepath.Join(dir, "b.md"), []byte("2"), 0o644)
	eventually(t, 3*time.Second, 50*time.Millisecond, func() bool {
		return len(rec.snapshot()) == 2
	}, "watcher stopped after a failed rebuild")
}

func TestWatch_MissingRoot(t *testing.T) {
	err := Watch(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, 0, quietLogger(), func(context.Context, []string) error { return nil })
	if err == nil {
		t.Error("expected error for a missing root")
	}
}
