package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/folio/internal/parser"
)

// Store drivers.
const (
	StoreDriverFile   = "file"
	StoreDriverSQLite = "sqlite"
)

// Per-file error policies.
const (
	OnErrorAbort = "abort"
	OnErrorSkip  = "skip"
)

// RootDir is the section dir that maps to the site root.
const RootDir = "/"

// Default date layouts, keyed by format name.
var defaultFormats = map[string]string{
	"date":         "Mon, Jan 02, 2006 @ 15:04 MST",
	"rss_date":     "Mon, 02 Jan 2006 15:04:05 GMT",
	"sitemap_date": "2006-01-02",
}

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Path     PathConfig        `yaml:"path"`
	Store    StoreConfig       `yaml:"store"`
	URL      URLConfig         `yaml:"url"`
	Formats  map[string]string `yaml:"formats"`
	Markdown MarkdownConfig    `yaml:"markdown"`
	Build    BuildConfig       `yaml:"build"`
	Sections []SectionConfig   `yaml:"sections"`
}

// Validate validates the configuration and fills in derived defaults.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Path.Validate(); err != nil {
		return fmt.Errorf("path: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.URL.Validate(); err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if err := c.Markdown.Validate(); err != nil {
		return fmt.Errorf("markdown: %w", err)
	}
	if err := c.Build.Validate(); err != nil {
		return fmt.Errorf("build: %w", err)
	}

	if c.Formats == nil {
		c.Formats = make(map[string]string, len(defaultFormats))
	}
	for name, layout := range defaultFormats {
		if _, ok := c.Formats[name]; !ok {
			c.Formats[name] = layout
		}
	}

	if len(c.Sections) == 0 {
		return errors.New("sections: at least one section is required")
	}
	if c.Sections[0].Dir != RootDir {
		return fmt.Errorf("sections: the first section must be %q, found %q", RootDir, c.Sections[0].Dir)
	}
	seen := make(map[string]struct{}, len(c.Sections))
	for i := range c.Sections {
		s := &c.Sections[i]
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sections[%d] %q: %w", i, s.Dir, err)
		}
		if _, dup := seen[s.Dir]; dup {
			return fmt.Errorf("sections[%d]: duplicate dir %q", i, s.Dir)
		}
		seen[s.Dir] = struct{}{}
	}
	return c.checkNesting()
}

// checkNesting requires every section nested below another to be listed in
// the outer section's exclude_dirs, so each source belongs to one section.
func (c *Config) checkNesting() error {
	for i := range c.Sections {
		outer := &c.Sections[i]
		for j := range c.Sections {
			inner := &c.Sections[j]
			if i == j || inner.IsRoot() {
				continue
			}
			rel := inner.Dir
			if !outer.IsRoot() {
				if !strings.HasPrefix(inner.Dir, outer.Dir+"/") {
					continue
				}
				rel = strings.TrimPrefix(inner.Dir, outer.Dir+"/")
			}
			excluded := slices.ContainsFunc(strings.Split(rel, "/"), func(name string) bool {
				return slices.Contains(outer.ExcludeDirs, name)
			})
			if !excluded {
				return fmt.Errorf("sections: %q is nested in %q but not listed in its exclude_dirs", inner.Dir, outer.Dir)
			}
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds the preview server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
	// Token, when set, is required as a Bearer token on /api routes.
	Token string `yaml:"token"`
}

// Address returns the preview server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// PathConfig locates the site directories and the tracking database.
type PathConfig struct {
	Src       string `yaml:"src"`
	Dst       string `yaml:"dst"`
	Templates string `yaml:"templates"`
	DB        string `yaml:"db"`
}

// Validate validates the path configuration.
func (c *PathConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Src, validation.Required, validation.By(expanded)),
		validation.Field(&c.Dst, validation.Required, validation.By(expanded)),
		validation.Field(&c.Templates, validation.Required, validation.By(expanded)),
		validation.Field(&c.DB, validation.Required, validation.By(expanded)),
	)
}

// expanded rejects paths still holding a "$", usually an unset env var.
func expanded(v any) error {
	s, _ := v.(string)
	if strings.Contains(s, "$") {
		return fmt.Errorf("%q contains \"$\", probably an undefined environment variable", s)
	}
	return nil
}

// StoreConfig selects the tracking store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = StoreDriverFile
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.In(StoreDriverFile, StoreDriverSQLite)),
	)
}

// URLConfig holds the public URLs of the site.
type URLConfig struct {
	Base         string `yaml:"base"`
	Static       string `yaml:"static"`
	DefaultImage string `yaml:"default_image"`
}

// Validate validates the URL configuration.
func (c *URLConfig) Validate() error {
	c.Base = strings.TrimRight(c.Base, "/")
	c.Static = strings.TrimRight(c.Static, "/")
	return validation.ValidateStruct(c,
		validation.Field(&c.Base, validation.Required),
	)
}

// MarkdownConfig selects the goldmark extensions.
type MarkdownConfig struct {
	Extensions []string `yaml:"extensions"`
}

// Validate validates the Markdown configuration.
func (c *MarkdownConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Extensions, validation.Each(validation.By(func(v any) error {
			name, _ := v.(string)
			if !parser.KnownExtension(name) {
				return fmt.Errorf("unknown extension %q", name)
			}
			return nil
		}))),
	)
}

// BuildConfig controls the build orchestrator.
type BuildConfig struct {
	Force    bool   `yaml:"force"`
	Parallel bool   `yaml:"parallel"`
	OnError  string `yaml:"on_error"`
}

// Validate validates the build configuration.
func (c *BuildConfig) Validate() error {
	if c.OnError == "" {
		c.OnError = OnErrorAbort
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.OnError, validation.In(OnErrorAbort, OnErrorSkip)),
	)
}

// SectionConfig describes one directory of the site built with its own
// templates.
type SectionConfig struct {
	Dir          string           `yaml:"dir"`
	Tags         bool             `yaml:"tags"`
	ExcludeDirs  []string         `yaml:"exclude_dirs"`
	DefaultImage string           `yaml:"default_image"`
	Mandatory    []string         `yaml:"mandatory"`
	Templates    SectionTemplates `yaml:"templates"`
}

// SectionTemplates names the templates rendered for a section. Only Page is
// required; the others are rendered when set.
type SectionTemplates struct {
	Page    string `yaml:"page"`
	Tags    string `yaml:"tags"`
	Index   string `yaml:"index"`
	RSS     string `yaml:"rss"`
	Sitemap string `yaml:"sitemap"`
}

// Validate validates the section configuration.
func (c *SectionConfig) Validate() error {
	c.Dir = strings.TrimSpace(c.Dir)
	if c.Dir != RootDir {
		if filepath.IsAbs(c.Dir) || strings.HasPrefix(c.Dir, "/") {
			return fmt.Errorf("dir %q cannot be absolute", c.Dir)
		}
		c.Dir = path.Clean(filepath.ToSlash(c.Dir))
		if c.Dir == "." || c.Dir == ".." || strings.HasPrefix(c.Dir, "../") {
			return fmt.Errorf("dir %q must stay inside the source tree", c.Dir)
		}
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.Templates),
	)
}

// Validate validates the template names.
func (c SectionTemplates) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Page, validation.Required),
	)
}

// IsRoot reports whether the section maps to the site root.
func (c *SectionConfig) IsRoot() bool {
	return c.Dir == RootDir
}

// Rel returns the section dir relative to the source root ("" for root).
func (c *SectionConfig) Rel() string {
	if c.IsRoot() {
		return ""
	}
	return c.Dir
}

// SrcDir returns the section source directory below src.
func (c *SectionConfig) SrcDir(src string) string {
	return filepath.Join(src, filepath.FromSlash(c.Rel()))
}

// DstDir returns the section output directory below dst.
func (c *SectionConfig) DstDir(dst string) string {
	return filepath.Join(dst, filepath.FromSlash(c.Rel()))
}

// BaseURL returns the section URL below base.
func (c *SectionConfig) BaseURL(base string) string {
	if c.IsRoot() {
		return base
	}
	return base + "/" + c.Dir
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	formats := make(map[string]string, len(defaultFormats))
	for k, v := range defaultFormats {
		formats[k] = v
	}
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Path: PathConfig{
			Src:       "./src",
			Dst:       "./dst",
			Templates: "./templates",
			DB:        "./.files",
		},
		Store: StoreConfig{
			Driver: StoreDriverFile,
		},
		URL: URLConfig{
			Base: "http://localhost:8080",
		},
		Formats: formats,
		Build: BuildConfig{
			OnError: OnErrorAbort,
		},
		Sections: []SectionConfig{
			{
				Dir:       RootDir,
				Templates: SectionTemplates{Page: "page.html"},
			},
		},
	}
}
