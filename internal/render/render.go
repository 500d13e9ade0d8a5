// Package render writes the outputs of a built section through pongo2
// templates.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path"
	"time"

	"github.com/flosch/pongo2/v6"

	"github.com/starford/folio/internal/builder"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/page"
	"github.com/starford/folio/internal/storage"
)

// Output file names of the section-wide templates.
const (
	IndexFile   = "index.html"
	RSSFile     = "rss.xml"
	SitemapFile = "sitemap.xml"
)

func init() {
	// Sources are authored by the site owner.
	pongo2.SetAutoescape(false)
}

// Templates names the templates of a section. Empty names are not rendered,
// except Page which is required.
type Templates struct {
	Page    string
	Tags    string
	Index   string
	RSS     string
	Sitemap string
}

// Site is the site-wide data exposed to templates as "site".
type Site struct {
	BaseURL      string
	StaticURL    string
	DefaultImage string
}

// Info is the run data exposed to templates as "info".
type Info struct {
	Version        string
	BuildID        string
	RSSRunDate     string
	SitemapRunDate string
}

// NewInfo formats the run dates of now with the rss_date and sitemap_date
// layouts.
func NewInfo(version, buildID string, now time.Time, formats map[string]string) Info {
	now = now.UTC()
	return Info{
		Version:        version,
		BuildID:        buildID,
		RSSRunDate:     now.Format(formats["rss_date"]),
		SitemapRunDate: now.Format(formats["sitemap_date"]),
	}
}

// Stats counts the files written by Render.
type Stats struct {
	Pages int
	Tags  int
	Other int
}

// Renderer renders sections into a destination provider.
type Renderer struct {
	set    *pongo2.TemplateSet
	dst    storage.Provider
	site   Site
	info   Info
	logger *slog.Logger
}

// New returns a Renderer loading templates from dir.
func New(dir string, dst storage.Provider, site Site, info Info, logger *slog.Logger) (*Renderer, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("render: templates dir: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("render: templates dir %s is not a directory", dir)
	}
	loader, err := pongo2.NewLocalFileSystemLoader(dir)
	if err != nil {
		return nil, fmt.Errorf("render: templates loader: %w", err)
	}
	return &Renderer{
		set:    pongo2.NewSet("folio", loader),
		dst:    dst,
		site:   site,
		info:   info,
		logger: logger,
	}, nil
}

// Render writes the pages selected by res, one index per tag and the
// section-wide templates that tpls names.
func (r *Renderer) Render(ctx context.Context, res *builder.Result, tpls Templates) (Stats, error) {
	var stats Stats
	base := pongo2.Context{
		"site":      r.site,
		"info":      r.info,
		"section":   res.Section,
		"all_pages": res.Pages,
		"all_tags":  res.Tags,
	}

	for _, p := range res.Render {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		data := with(base, pongo2.Context{
			"page":     p,
			"next":     sibling(res.Pages, p.Next),
			"previous": sibling(res.Pages, p.Previous),
		})
		if err := r.write(tpls.Page, path.Join(res.Section.Dir, page.OutputName(p.Name)), data); err != nil {
			return stats, err
		}
		stats.Pages++
	}

	if tpls.Tags != "" && res.Section.Tags {
		for _, tag := range res.Tags {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			data := with(base, pongo2.Context{
				"tag":       models.TagLink{Name: tag, URL: page.TagURL(res.Section.URL, tag)},
				"tag_pages": tagged(res.Pages, tag),
			})
			if err := r.write(tpls.Tags, path.Join(res.Section.Dir, page.TagFile(tag)), data); err != nil {
				return stats, err
			}
			stats.Tags++
		}
	}

	for _, out := range []struct{ tpl, file string }{
		{tpls.Index, IndexFile},
		{tpls.RSS, RSSFile},
		{tpls.Sitemap, SitemapFile},
	} {
		if out.tpl == "" {
			continue
		}
		if err := r.write(out.tpl, path.Join(res.Section.Dir, out.file), base); err != nil {
			return stats, err
		}
		stats.Other++
	}

	r.logger.Info("render: section written",
		slog.String("section", res.Section.URL),
		slog.Int("pages", stats.Pages),
		slog.Int("tags", stats.Tags),
		slog.Int("other", stats.Other))
	return stats, nil
}

func (r *Renderer) write(name, out string, data pongo2.Context) error {
	tpl, err := r.set.FromCache(name)
	if err != nil {
		return fmt.Errorf("render: load %s: %w", name, err)
	}
	content, err := tpl.ExecuteBytes(data)
	if err != nil {
		return fmt.Errorf("render: execute %s for %s: %w", name, out, err)
	}
	if err := r.dst.Write(out, content); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	r.logger.Debug("render: wrote", slog.String("path", out), slog.String("template", name))
	return nil
}

func with(base, extra pongo2.Context) pongo2.Context {
	out := make(pongo2.Context, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}

// sibling returns an untyped nil when absent so templates test it as false.
func sibling(pages []*models.Page, i int) any {
	if i < 0 || i >= len(pages) {
		return nil
	}
	return pages[i]
}

func tagged(pages []*models.Page, tag string) []*models.Page {
	var out []*models.Page
	for _, p := range pages {
		if p.HasTag(tag) {
			out = append(out, p)
		}
	}
	return out
}
