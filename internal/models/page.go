// Package models defines the domain types shared by folio packages.
package models

import (
	"log/slog"
	"time"
)

// TagLink pairs a tag with the URL of its tag index page.
type TagLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Page is one parsed Markdown document of a build batch.
type Page struct {
	Name       string    `json:"name"` // relative to the section source dir
	CTimestamp float64   `json:"ctimestamp"`
	MTimestamp float64   `json:"mtimestamp"` // 0 when never modified
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at,omitzero"`

	HTML     string    `json:"-"`
	Title    string    `json:"title"`
	Author   string    `json:"author"`
	Summary  string    `json:"summary"`
	Lang     string    `json:"lang"`
	Tags     []TagLink `json:"tags,omitempty"`
	URL      string    `json:"url"`
	ImageURL string    `json:"image_url,omitempty"`

	Meta map[string][]string `json:"meta,omitempty"`

	CreatedDates  map[string]string `json:"created_dates,omitempty"`
	ModifiedDates map[string]string `json:"modified_dates,omitempty"`

	// Changed is true when the source was new or modified in this run.
	Changed bool `json:"changed"`

	// Next and Previous index into the owning batch; -1 when absent.
	Next     int `json:"next"`
	Previous int `json:"previous"`

	formats map[string]string
	logger  *slog.Logger
}

// SetFormatter attaches the named date layouts used by CDate and MDate.
func (p *Page) SetFormatter(formats map[string]string, logger *slog.Logger) {
	p.formats = formats
	p.logger = logger
}

// Modified reports whether the source changed after it was first seen.
func (p *Page) Modified() bool {
	return p.MTimestamp != 0
}

// CDate formats the creation time with the named layout.
func (p *Page) CDate(name string) string {
	return p.format(name, p.CreatedAt)
}

// MDate formats the modification time with the named layout. It is empty
// for pages never modified since creation.
func (p *Page) MDate(name string) string {
	if !p.Modified() {
		return ""
	}
	return p.format(name, p.ModifiedAt)
}

func (p *Page) format(name string, t time.Time) string {
	layout, ok := p.formats[name]
	if !ok {
		if p.logger != nil {
			p.logger.Warn("page: unknown date format",
				slog.String("format", name),
				slog.String("page", p.Name))
		}
		return ""
	}
	return t.UTC().Format(layout)
}

// HasTag reports whether the page carries the tag name.
func (p *Page) HasTag(name string) bool {
	for _, t := range p.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// TagNames returns the page's tag names in order.
func (p *Page) TagNames() []string {
	out := make([]string, len(p.Tags))
	for i, t := range p.Tags {
		out[i] = t.Name
	}
	return out
}

// SourceFile describes a discovered file below a source directory.
type SourceFile struct {
	Path      string    `json:"path"` // slash-separated, relative to the listed dir
	UpdatedAt time.Time `json:"updated_at"`
}
