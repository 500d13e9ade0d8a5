package tracker

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/checksum"
)

// Store is the in-memory view of the tracked files of one site. It is
// created once per run and handed to every component that needs it.
//
// All methods are safe for concurrent use; a single mutex guards the
// entry map, so sections built in parallel serialize their mutations.
type Store struct {
	root    string
	backend Backend
	logger  *slog.Logger

	mu        sync.Mutex
	entries   map[string]*Entry
	order     []string // insertion order
	mutations uint64
	saved     uint64 // mutations count at last Load/Persist
	found     bool   // backing location existed at Load
}

// New returns an empty store tracking files below root.
func New(root string, backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		root:    root,
		backend: backend,
		logger:  logger,
		entries: make(map[string]*Entry),
	}
}

// Root returns the directory tracking keys are relative to.
func (s *Store) Root() string { return s.root }

// Load replaces the in-memory state with the persisted entries.
// A missing backing location leaves the store empty.
func (s *Store) Load() error {
	entries, found, err := s.backend.Load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*Entry, len(entries))
	s.order = s.order[:0]
	s.found = found
	if !found {
		s.logger.Warn("tracker: backing store not found, starting empty; ignore on first run",
			slog.String("location", s.backend.Location()))
		s.saved = s.mutations
		return nil
	}
	for i := range entries {
		e := entries[i].clone()
		if _, dup := s.entries[e.Path]; dup {
			return fmt.Errorf("tracker: duplicate entry %q in %s: %w", e.Path, s.backend.Location(), apperr.ErrMalformed)
		}
		s.entries[e.Path] = &e
		s.order = append(s.order, e.Path)
	}
	s.saved = s.mutations
	s.logger.Debug("tracker: loaded",
		slog.String("location", s.backend.Location()),
		slog.Int("entries", len(entries)))
	return nil
}

// Persist writes every entry through the backend. Nothing is written when
// no mutation happened since the last Load or Persist and the backing
// location already exists.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.found && s.mutations == s.saved {
		s.logger.Debug("tracker: no changes to persist", slog.String("location", s.backend.Location()))
		return nil
	}
	if err := s.backend.Save(s.snapshotLocked()); err != nil {
		return err
	}
	s.found = true
	s.saved = s.mutations
	s.logger.Debug("tracker: persisted",
		slog.String("location", s.backend.Location()),
		slog.Int("entries", len(s.order)))
	return nil
}

// Observe checksums the file at path (relative to the root) and records
// its state. It returns true when the file is new or its content differs
// from the recorded checksum; an unchanged file is left untouched.
func (s *Store) Observe(path string) (bool, error) {
	key, err := Key(path)
	if err != nil {
		return false, err
	}
	sum, mtime, err := checksum.File(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		return false, fmt.Errorf("tracker: observe %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.entries[key]
	if !ok {
		s.entries[key] = &Entry{Path: key, CreatedAt: mtime, Checksum: sum}
		s.order = append(s.order, key)
		s.mutations++
		s.logger.Debug("tracker: new entry", slog.String("path", key), slog.String("checksum", sum))
		return true, nil
	}
	if old.Checksum == sum {
		return false, nil
	}

	first := !old.Modified()
	old.ModifiedAt = mtime
	old.Checksum = sum
	s.mutations++
	s.logger.Debug("tracker: entry modified",
		slog.String("path", key),
		slog.Bool("first_modification", first),
		slog.String("checksum", sum))
	return true, nil
}

// UpdateTags replaces the tag list of an already observed path. A tag set
// equal to the stored one is not a mutation.
func (s *Store) UpdateTags(path string, tags []string) error {
	key, err := Key(path)
	if err != nil {
		return err
	}
	norm, err := normalizeTags(tags)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("tracker: update tags of %q: %w", key, apperr.ErrNotFound)
	}
	if SameTags(e.Tags, norm) {
		return nil
	}
	s.logger.Debug("tracker: tags updated",
		slog.String("path", key),
		slog.String("old", strings.Join(e.Tags, ",")),
		slog.String("new", strings.Join(norm, ",")))
	e.Tags = norm
	s.mutations++
	return nil
}

// Restore puts path back to the state captured by Lookup before it was
// observed: prev when existed is true, untracked otherwise.
func (s *Store) Restore(path string, prev Entry, existed bool) error {
	key, err := Key(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[key]
	if !existed {
		if !ok {
			return nil
		}
		delete(s.entries, key)
		s.order = slices.DeleteFunc(s.order, func(k string) bool { return k == key })
		s.mutations++
		s.logger.Debug("tracker: entry dropped", slog.String("path", key))
		return nil
	}
	if prev.Path != key {
		return fmt.Errorf("tracker: restore %q from entry %q: %w", key, prev.Path, apperr.ErrInvalid)
	}
	restored := prev.clone()
	if ok {
		*cur = restored
	} else {
		s.entries[key] = &restored
		s.order = append(s.order, key)
	}
	s.mutations++
	s.logger.Debug("tracker: entry restored", slog.String("path", key), slog.String("checksum", prev.Checksum))
	return nil
}

// Lookup returns a copy of the entry for path.
func (s *Store) Lookup(path string) (Entry, bool) {
	key, err := Key(path)
	if err != nil {
		return Entry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Entries returns copies of all entries in insertion order.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Len returns the number of tracked paths.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Mutations returns the number of state changes since the store was created.
func (s *Store) Mutations() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}

// Prune drops entries whose source file no longer exists below the root
// and returns the removed keys.
func (s *Store) Prune() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for _, key := range s.order {
		_, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(key)))
		if err == nil {
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("tracker: prune stat %s: %w", key, err)
		}
		delete(s.entries, key)
		removed = append(removed, key)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	s.order = slices.DeleteFunc(s.order, func(k string) bool {
		_, ok := s.entries[k]
		return !ok
	})
	s.mutations++
	s.logger.Info("tracker: pruned", slog.Int("removed", len(removed)))
	return removed, nil
}

func (s *Store) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.entries[k].clone())
	}
	return out
}
