// Package siteservice runs builds and answers queries about tracked sources.
// It is shared by the CLI, the preview API and the MCP tools.
package siteservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/builder"
	"github.com/starford/folio/internal/parser"
	"github.com/starford/folio/internal/render"
	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/tracker"
)

// Store drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Section pairs the build settings of a section with its templates.
type Section struct {
	builder.Section
	Templates render.Templates
}

// Options configures a Service.
type Options struct {
	Src       string
	Dst       string
	Templates string
	DB        string
	Driver    string

	Extensions []string
	Build      builder.Options
	Site       render.Site
	Sections   []Section
	Version    string
}

// SectionReport summarises the build of one section.
type SectionReport struct {
	Dir      string   `json:"dir"`
	Pages    int      `json:"pages"`
	Changed  []string `json:"changed"`
	Rendered int      `json:"rendered"`
	Tags     []string `json:"tags"`
	Copied   []string `json:"copied,omitempty"`
	Skipped  []string `json:"skipped,omitempty"`
}

// Report summarises one build.
type Report struct {
	BuildID  string          `json:"build_id"`
	Sections []SectionReport `json:"sections"`
	Pages    int             `json:"pages"`
	Rendered int             `json:"rendered"`
	Duration time.Duration   `json:"duration"`
}

// Changed returns the changed sources of every section, relative to the
// source root.
func (r *Report) Changed() []string {
	var out []string
	for _, s := range r.Sections {
		out = append(out, s.Changed...)
	}
	return out
}

// Service coordinates the tracking store, the builder and the renderer.
// Builds are serialized.
type Service struct {
	opts   Options
	logger *slog.Logger
	mu     sync.Mutex
}

// NewService creates a new site service.
func NewService(opts Options, logger *slog.Logger) *Service {
	if opts.Driver == "" {
		opts.Driver = DriverFile
	}
	return &Service{opts: opts, logger: logger}
}

// Build runs one incremental build. force renders every page regardless of
// its tracked state. The tracking store is persisted only after every
// section rendered.
func (s *Service) Build(ctx context.Context, force bool) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	buildID := uuid.NewString()
	logger := s.logger.With(slog.String("build_id", buildID))

	src, err := storage.NewFS(s.opts.Src)
	if err != nil {
		return nil, fmt.Errorf("siteservice: source: %w", err)
	}
	dst, err := storage.EnsureFS(s.opts.Dst)
	if err != nil {
		return nil, fmt.Errorf("siteservice: destination: %w", err)
	}

	store, closeStore, err := s.openStore(src.Root(), logger)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	bopts := s.opts.Build
	bopts.Force = bopts.Force || force
	b := builder.New(store, parser.NewMarkdown(s.opts.Extensions), src, dst, bopts, logger)

	sections := make([]builder.Section, len(s.opts.Sections))
	for i, sec := range s.opts.Sections {
		sections[i] = sec.Section
	}
	results, err := b.Build(ctx, sections)
	if err != nil {
		return nil, err
	}

	info := render.NewInfo(s.opts.Version, buildID, start, bopts.Formats)
	r, err := render.New(s.opts.Templates, dst, s.opts.Site, info, logger)
	if err != nil {
		return nil, err
	}

	report := &Report{BuildID: buildID}
	for i, res := range results {
		stats, err := r.Render(ctx, res, s.opts.Sections[i].Templates)
		if err != nil {
			return nil, err
		}
		report.Sections = append(report.Sections, sectionReport(res, stats))
		report.Pages += len(res.Pages)
		report.Rendered += stats.Pages
	}

	if err := store.Persist(); err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	logger.Info("siteservice: build finished",
		slog.Int("pages", report.Pages),
		slog.Int("rendered", report.Rendered),
		slog.String("duration", report.Duration.String()))
	return report, nil
}

func sectionReport(res *builder.Result, stats render.Stats) SectionReport {
	rep := SectionReport{
		Dir:      res.Section.Dir,
		Pages:    len(res.Pages),
		Changed:  []string{},
		Rendered: stats.Pages,
		Tags:     res.Tags,
		Copied:   res.Copied,
		Skipped:  res.Skipped,
	}
	if rep.Tags == nil {
		rep.Tags = []string{}
	}
	for _, p := range res.Changed {
		rep.Changed = append(rep.Changed, joinKey(res.Section.Dir, p.Name))
	}
	return rep
}

func joinKey(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// Files returns every tracked source entry. Before the first build there is
// no backing store and the result is empty.
func (s *Service) Files(_ context.Context) ([]tracker.Entry, error) {
	store, closeStore, err := s.queryStore()
	if err != nil || store == nil {
		return nil, err
	}
	defer closeStore()
	return store.Entries(), nil
}

// File returns the tracked entry of path, relative to the source root.
func (s *Service) File(_ context.Context, path string) (tracker.Entry, error) {
	key, err := tracker.Key(path)
	if err != nil {
		return tracker.Entry{}, err
	}
	store, closeStore, err := s.queryStore()
	if err != nil {
		return tracker.Entry{}, err
	}
	if store == nil {
		return tracker.Entry{}, fmt.Errorf("siteservice: %s: %w", key, apperr.ErrNotFound)
	}
	defer closeStore()

	e, ok := store.Lookup(key)
	if !ok {
		return tracker.Entry{}, fmt.Errorf("siteservice: %s: %w", key, apperr.ErrNotFound)
	}
	return e, nil
}

// Prune drops entries whose source no longer exists and persists the store.
func (s *Service) Prune(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	store, closeStore, err := s.openStore(s.opts.Src, s.logger)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	removed, err := store.Prune()
	if err != nil {
		return nil, err
	}
	if err := store.Persist(); err != nil {
		return nil, err
	}
	s.logger.Info("siteservice: pruned", slog.Int("removed", len(removed)))
	return removed, nil
}

// openStore opens and loads the tracking store for the configured driver.
// queryStore opens the store for read-only queries. It returns a nil store
// when the backing location does not exist yet, without creating it.
func (s *Service) queryStore() (*tracker.Store, func(), error) {
	if s.opts.Driver != DriverFile && s.opts.Driver != DriverSQLite {
		return nil, nil, fmt.Errorf("siteservice: store driver %q: %w", s.opts.Driver, apperr.ErrInvalid)
	}
	if _, err := os.Stat(s.opts.DB); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("siteservice: no store yet", slog.String("location", s.opts.DB))
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("siteservice: stat store: %w", err)
	}
	return s.openStore(s.opts.Src, s.logger)
}

func (s *Service) openStore(root string, logger *slog.Logger) (*tracker.Store, func(), error) {
	var backend tracker.Backend
	closeFn := func() {}
	switch s.opts.Driver {
	case DriverFile:
		backend = tracker.NewFileBackend(s.opts.DB)
	case DriverSQLite:
		db, err := tracker.OpenSQLite(s.opts.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("siteservice: %w", err)
		}
		backend = db
		closeFn = func() {
			if err := db.Close(); err != nil {
				logger.Warn("siteservice: close store", slog.String("error", err.Error()))
			}
		}
	default:
		return nil, nil, fmt.Errorf("siteservice: store driver %q: %w", s.opts.Driver, apperr.ErrInvalid)
	}

	store := tracker.New(root, backend, logger)
	if err := store.Load(); err != nil {
		closeFn()
		return nil, nil, err
	}
	return store, closeFn, nil
}
