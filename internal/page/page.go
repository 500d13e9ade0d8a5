// Package page derives page metadata from a tracked entry and the front
// matter of its source document.
package page

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/starford/folio/internal/checksum"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/parser"
	"github.com/starford/folio/internal/tracker"
)

// DefaultLang is used when the front matter names no lang.
const DefaultLang = "en"

// Site carries the section and site settings a page depends on.
type Site struct {
	SectionURL   string
	BaseURL      string
	StaticURL    string
	SectionImage string
	DefaultImage string
	Tags         bool
	Mandatory    []string
	Formats      map[string]string
	Logger       *slog.Logger
}

func (s *Site) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Parse builds the metadata of the page name from its front matter and the
// tracked entry of its source. name is relative to the section source dir.
func Parse(name string, meta parser.Meta, entry tracker.Entry, html string, site *Site) (*models.Page, error) {
	for _, key := range site.Mandatory {
		if _, err := meta.Must(key); err != nil {
			return nil, fmt.Errorf("page: %s: %w", name, err)
		}
	}

	p := &models.Page{
		Name:       name,
		CTimestamp: entry.CreatedAt,
		MTimestamp: entry.ModifiedAt,
		CreatedAt:  checksum.Time(entry.CreatedAt),
		HTML:       html,
		Title:      meta.Get("title", ""),
		Author:     meta.Get("author", ""),
		Summary:    meta.Get("summary", ""),
		Lang:       meta.Get("lang", DefaultLang),
		URL:        site.SectionURL + "/" + OutputName(name),
		Meta:       meta,
		Next:       -1,
		Previous:   -1,
	}
	if entry.Modified() {
		p.ModifiedAt = checksum.Time(entry.ModifiedAt)
	}
	p.SetFormatter(site.Formats, site.logger())

	p.CreatedDates = make(map[string]string, len(site.Formats))
	p.ModifiedDates = make(map[string]string, len(site.Formats))
	for fname, layout := range site.Formats {
		p.CreatedDates[fname] = p.CreatedAt.UTC().Format(layout)
		if p.Modified() {
			p.ModifiedDates[fname] = p.ModifiedAt.UTC().Format(layout)
		}
	}

	if site.Tags {
		for _, tag := range Tags(meta) {
			p.Tags = append(p.Tags, models.TagLink{Name: tag, URL: TagURL(site.SectionURL, tag)})
		}
	}

	p.ImageURL = imageURL(name, meta, site)
	return p, nil
}

// Tags returns the trimmed, deduplicated and sorted tags of meta.
func Tags(meta parser.Meta) []string {
	var out []string
	for _, t := range meta.List("tags") {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// OutputName maps a Markdown source name to its HTML output name.
func OutputName(name string) string {
	return strings.TrimSuffix(name, ".md") + ".html"
}

// TagURL returns the URL of the index page of tag below sectionURL.
func TagURL(sectionURL, tag string) string {
	return sectionURL + "/tag/@" + tag + ".html"
}

// TagFile returns the output path of the index page of tag, relative to the
// section output dir.
func TagFile(tag string) string {
	return "tag/@" + tag + ".html"
}

func imageURL(name string, meta parser.Meta, site *Site) string {
	img := meta.Get("image_url", "")
	if img == "" {
		img = site.SectionImage
	}
	if img == "" {
		img = site.DefaultImage
	}
	if img == "" {
		site.logger().Warn("page: no image url",
			slog.String("page", name))
		return ""
	}
	if strings.Contains(img, "://") || strings.HasPrefix(img, "//") {
		return img
	}
	prefix := site.StaticURL
	if prefix == "" {
		prefix = site.BaseURL
	}
	return prefix + "/" + strings.TrimLeft(img, "/")
}
