package page

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/parser"
	"github.com/starford/folio/internal/tracker"
)

func testSite() *Site {
	return &Site{
		SectionURL: "https://example.com/blog",
		BaseURL:    "https://example.com",
		Tags:       true,
		Formats: map[string]string{
			"date":         "2006-01-02 15:04",
			"sitemap_date": "2006-01-02",
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// 2024-03-05 12:30:00 UTC
const created = 1709641800

func TestParse_Defaults(t *testing.T) {
	entry := tracker.Entry{Path: "blog/post.md", CreatedAt: created}
	p, err := Parse("post.md", parser.Meta{"title": {"Hello"}}, entry, "<p>hi</p>", testSite())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Title != "Hello" {
		t.Errorf("Title = %q, want %q", p.Title, "Hello")
	}
	if p.Author != "" || p.Summary != "" {
		t.Errorf("Author = %q, Summary = %q, want empty", p.Author, p.Summary)
	}
	if p.Lang != "en" {
		t.Errorf("Lang = %q, want %q", p.Lang, "en")
	}
	if p.URL != "https://example.com/blog/post.html" {
		t.Errorf("URL = %q", p.URL)
	}
	if p.Next != -1 || p.Previous != -1 {
		t.Errorf("Next/Previous = %d/%d, want -1/-1", p.Next, p.Previous)
	}
	if p.HTML != "<p>hi</p>" {
		t.Errorf("HTML = %q", p.HTML)
	}
}

func TestParse_Dates(t *testing.T) {
	entry := tracker.Entry{Path: "post.md", CreatedAt: created}
	p, err := Parse("post.md", parser.Meta{}, entry, "", testSite())
	if err != nil {
		t.Fatal(err)
	}
	if got := p.CreatedDates["date"]; got != "2024-03-05 12:30" {
		t.Errorf("CreatedDates[date] = %q", got)
	}
	if got := p.CDate("sitemap_date"); got != "2024-03-05" {
		t.Errorf("CDate = %q", got)
	}
	if len(p.ModifiedDates) != 0 {
		t.Errorf("ModifiedDates = %v, want empty for unmodified page", p.ModifiedDates)
	}
	if p.MDate("date") != "" {
		t.Errorf("MDate = %q, want empty", p.MDate("date"))
	}
	if !p.ModifiedAt.IsZero() {
		t.Errorf("ModifiedAt = %v, want zero", p.ModifiedAt)
	}
	if p.CDate("nope") != "" {
		t.Error("unknown format should yield an empty string")
	}

	entry.ModifiedAt = created + 86400
	p, err = Parse("post.md", parser.Meta{}, entry, "", testSite())
	if err != nil {
		t.Fatal(err)
	}
	if got := p.ModifiedDates["sitemap_date"]; got != "2024-03-06" {
		t.Errorf("ModifiedDates[sitemap_date] = %q", got)
	}
	if got := p.MDate("date"); got != "2024-03-06 12:30" {
		t.Errorf("MDate = %q", got)
	}
}

func TestParse_Tags(t *testing.T) {
	meta := parser.Meta{"tags": {"zeta", "alpha", " zeta ", ""}}
	p, err := Parse("post.md", meta, tracker.Entry{CreatedAt: created}, "", testSite())
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Tags) != 2 {
		t.Fatalf("Tags = %+v, want 2", p.Tags)
	}
	if p.Tags[0].Name != "alpha" || p.Tags[1].Name != "zeta" {
		t.Errorf("tags not sorted: %v", p.TagNames())
	}
	if p.Tags[0].URL != "https://example.com/blog/tag/@alpha.html" {
		t.Errorf("tag URL = %q", p.Tags[0].URL)
	}
	if !p.HasTag("zeta") || p.HasTag("beta") {
		t.Error("HasTag mismatch")
	}
}

func TestParse_TagsDisabled(t *testing.T) {
	site := testSite()
	site.Tags = false
	p, err := Parse("post.md", parser.Meta{"tags": {"x"}}, tracker.Entry{}, "", site)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Tags) != 0 {
		t.Errorf("Tags = %+v, want none when tags are disabled", p.Tags)
	}
}

func TestParse_MandatoryKey(t *testing.T) {
	site := testSite()
	site.Mandatory = []string{"title", "summary"}
	_, err := Parse("drafts/post.md", parser.Meta{"title": {"T"}}, tracker.Entry{}, "", site)
	if !errors.Is(err, apperr.ErrMissingKey) {
		t.Fatalf("err = %v, want ErrMissingKey", err)
	}
	if !strings.Contains(err.Error(), "summary") || !strings.Contains(err.Error(), "drafts/post.md") {
		t.Errorf("error %q should name the key and the file", err)
	}
}

func TestParse_ImageURL(t *testing.T) {
	cases := []struct {
		name    string
		meta    parser.Meta
		section string
		global  string
		static  string
		want    string
	}{
		{"front matter wins", parser.Meta{"image_url": {"img/a.png"}}, "sec.png", "glob.png", "", "https://example.com/img/a.png"},
		{"section default", parser.Meta{}, "sec.png", "glob.png", "", "https://example.com/sec.png"},
		{"global default", parser.Meta{}, "", "/glob.png", "https://static.example.com", "https://static.example.com/glob.png"},
		{"absolute kept", parser.Meta{"image_url": {"https://cdn.example.com/x.png"}}, "", "", "", "https://cdn.example.com/x.png"},
		{"none", parser.Meta{}, "", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			site := testSite()
			site.SectionImage = tc.section
			site.DefaultImage = tc.global
			site.StaticURL = tc.static
			p, err := Parse("post.md", tc.meta, tracker.Entry{}, "", site)
			if err != nil {
				t.Fatal(err)
			}
			if p.ImageURL != tc.want {
				t.Errorf("ImageURL = %q, want %q", p.ImageURL, tc.want)
			}
		})
	}
}

func TestOutputNames(t *testing.T) {
	if got := OutputName("a/b.md"); got != "a/b.html" {
		t.Errorf("OutputName = %q", got)
	}
	if got := TagFile("go"); got != "tag/@go.html" {
		t.Errorf("TagFile = %q", got)
	}
}
