// Package builder decides which pages of a site must be rendered. It walks
// the sources of each section, records them in the tracking store, derives
// page metadata and links the pages of a section in creation order.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"golang.org/x/sync/errgroup"

	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/page"
	"github.com/starford/folio/internal/parser"
	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/tracker"
)

// Section is one source directory built with its own settings.
type Section struct {
	Dir          string // slash path below the source root, "" for the root
	URL          string
	Tags         bool
	ExcludeDirs  []string
	DefaultImage string
	Mandatory    []string
}

// Options holds the settings shared by every section.
type Options struct {
	Force      bool
	Parallel   bool
	SkipErrors bool

	BaseURL      string
	StaticURL    string
	DefaultImage string
	Formats      map[string]string
}

// Result is the outcome of building one section.
type Result struct {
	Section Section
	// Pages holds every page of the section, newest first.
	Pages []*models.Page
	// Changed holds the pages whose source was new or modified.
	Changed []*models.Page
	// Render holds the pages whose output must be written.
	Render []*models.Page
	// Tags is the sorted set of tags used by Pages.
	Tags []string
	// Copied lists the HTML sources copied verbatim into the output.
	Copied []string
	// Skipped lists sources dropped because of errors.
	Skipped []string
}

// Builder builds sections against a shared tracking store.
type Builder struct {
	store  *tracker.Store
	conv   parser.Converter
	src    storage.Provider
	dst    storage.Provider
	opts   Options
	logger *slog.Logger
}

// New returns a Builder. src must be rooted at the same directory as store.
func New(store *tracker.Store, conv parser.Converter, src, dst storage.Provider, opts Options, logger *slog.Logger) *Builder {
	return &Builder{
		store:  store,
		conv:   conv,
		src:    src,
		dst:    dst,
		opts:   opts,
		logger: logger,
	}
}

// Build builds every section, sequentially unless Parallel is set. Results
// are returned in section order.
func (b *Builder) Build(ctx context.Context, sections []Section) ([]*Result, error) {
	results := make([]*Result, len(sections))
	if !b.opts.Parallel {
		for i, sec := range sections {
			res, err := b.BuildSection(ctx, sec)
			if err != nil {
				return nil, err
			}
			results[i] = res
		}
		return results, nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	for i, sec := range sections {
		g.Go(func() error {
			res, err := b.BuildSection(gCtx, sec)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// BuildSection observes every Markdown source of sec and returns its pages.
func (b *Builder) BuildSection(ctx context.Context, sec Section) (*Result, error) {
	logger := b.logger.With(slog.String("section", sectionName(sec)))
	res := &Result{Section: sec}

	copied, err := b.copyHTML(sec)
	if err != nil {
		return nil, err
	}
	res.Copied = copied

	files, err := b.src.List(sec.Dir, []string{".md"}, sec.ExcludeDirs)
	if err != nil {
		return nil, fmt.Errorf("builder: list %s: %w", sectionName(sec), err)
	}

	site := &page.Site{
		SectionURL:   sec.URL,
		BaseURL:      b.opts.BaseURL,
		StaticURL:    b.opts.StaticURL,
		SectionImage: sec.DefaultImage,
		DefaultImage: b.opts.DefaultImage,
		Tags:         sec.Tags,
		Mandatory:    sec.Mandatory,
		Formats:      b.opts.Formats,
		Logger:       logger,
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, changed, err := b.buildPage(sec, f.Path, site)
		if err != nil {
			if !b.opts.SkipErrors {
				return nil, err
			}
			logger.Warn("builder: skipping source",
				slog.String("path", f.Path),
				slog.String("error", err.Error()))
			res.Skipped = append(res.Skipped, f.Path)
			continue
		}
		p.Changed = changed
		res.Pages = append(res.Pages, p)
	}

	Link(res.Pages)
	res.Tags = DistinctTags(res.Pages)

	for _, p := range res.Pages {
		if p.Changed {
			res.Changed = append(res.Changed, p)
		}
		render := b.opts.Force || p.Changed
		if !render {
			exists, err := b.dst.Exists(path.Join(sec.Dir, page.OutputName(p.Name)))
			if err != nil {
				return nil, fmt.Errorf("builder: %w", err)
			}
			render = !exists
		}
		if render {
			res.Render = append(res.Render, p)
		}
	}

	logger.Info("builder: section built",
		slog.Int("pages", len(res.Pages)),
		slog.Int("changed", len(res.Changed)),
		slog.Int("render", len(res.Render)),
		slog.Int("tags", len(res.Tags)))
	return res, nil
}

// buildPage tracks, converts and parses one source named relative to the
// section dir. A source that fails after being observed is rolled back in
// the store so the next run sees it as changed again.
func (b *Builder) buildPage(sec Section, name string, site *page.Site) (*models.Page, bool, error) {
	key := path.Join(sec.Dir, name)

	prev, existed := b.store.Lookup(key)
	changed, err := b.store.Observe(key)
	if err != nil {
		return nil, false, fmt.Errorf("builder: observe: %w", err)
	}
	p, err := b.parsePage(sec, key, name, site)
	if err != nil {
		if rerr := b.store.Restore(key, prev, existed); rerr != nil {
			return nil, false, errors.Join(err, fmt.Errorf("builder: %w", rerr))
		}
		return nil, false, err
	}
	return p, changed, nil
}

func (b *Builder) parsePage(sec Section, key, name string, site *page.Site) (*models.Page, error) {
	entry, ok := b.store.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("builder: %s vanished from the store", key)
	}

	data, err := b.src.Read(key)
	if err != nil {
		return nil, fmt.Errorf("builder: %w", err)
	}
	doc, err := b.conv.Convert(data)
	if err != nil {
		return nil, fmt.Errorf("builder: convert %s: %w", key, err)
	}

	p, err := page.Parse(name, doc.Meta, entry, doc.HTML, site)
	if err != nil {
		return nil, fmt.Errorf("builder: %w", err)
	}

	if sec.Tags {
		tags := p.TagNames()
		if !tracker.SameTags(entry.Tags, tags) {
			if err := b.store.UpdateTags(key, tags); err != nil {
				return nil, fmt.Errorf("builder: %w", err)
			}
		}
	}
	return p, nil
}

// copyHTML copies HTML sources of sec that are missing from the output.
func (b *Builder) copyHTML(sec Section) ([]string, error) {
	files, err := b.src.List(sec.Dir, []string{".html"}, sec.ExcludeDirs)
	if err != nil {
		return nil, fmt.Errorf("builder: list html %s: %w", sectionName(sec), err)
	}
	var copied []string
	for _, f := range files {
		rel := path.Join(sec.Dir, f.Path)
		ok, err := storage.CopyIfMissing(b.dst, b.src, rel)
		if err != nil {
			return nil, fmt.Errorf("builder: copy %s: %w", rel, err)
		}
		if ok {
			b.logger.Debug("builder: copied html source", slog.String("path", rel))
			copied = append(copied, rel)
		}
	}
	return copied, nil
}

func sectionName(sec Section) string {
	if sec.Dir == "" {
		return "/"
	}
	return sec.Dir
}
