package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/adrg/frontmatter"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldparser "github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/starford/folio/internal/apperr"
)

// Document is the result of converting one Markdown source.
type Document struct {
	HTML string
	Meta Meta
}

// Converter turns raw Markdown into a Document.
type Converter interface {
	Convert(src []byte) (*Document, error)
}

// Markdown converts documents with goldmark. Front matter is split off with
// adrg/frontmatter before conversion. Raw HTML in sources is passed through
// unescaped: sources are trusted author content.
type Markdown struct {
	engine goldmark.Markdown
}

var _ Converter = (*Markdown)(nil)

// NewMarkdown builds a converter with the named goldmark extensions. An empty
// list selects the default set.
func NewMarkdown(extensions []string) *Markdown {
	return &Markdown{
		engine: goldmark.New(
			goldmark.WithExtensions(collectExtensions(extensions)...),
			goldmark.WithParserOptions(goldparser.WithAutoHeadingID()),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
}

// Convert splits the front matter from src and renders the remaining body.
func (m *Markdown) Convert(src []byte) (*Document, error) {
	raw := map[string]any{}
	body, err := frontmatter.Parse(bytes.NewReader(src), &raw)
	if err != nil {
		return nil, fmt.Errorf("parser: front matter: %w: %w", apperr.ErrMalformed, err)
	}

	var buf bytes.Buffer
	if err := m.engine.Convert(body, &buf); err != nil {
		return nil, fmt.Errorf("parser: markdown: %w", err)
	}
	return &Document{HTML: buf.String(), Meta: metaFromMap(raw)}, nil
}

var extensionRegistry = map[string]goldmark.Extender{
	"gfm":           extension.GFM,
	"table":         extension.Table,
	"tables":        extension.Table,
	"strikethrough": extension.Strikethrough,
	"tilde":         extension.Strikethrough,
	"linkify":       extension.Linkify,
	"tasklist":      extension.TaskList,
	"checklist":     extension.TaskList,
	"definition":    extension.DefinitionList,
	"footnote":      extension.Footnote,
	"typographer":   extension.Typographer,
	"smarty":        extension.Typographer,
}

// DefaultExtensions is the extension set used when none is configured.
var DefaultExtensions = []string{"gfm", "footnote", "definition", "typographer"}

func collectExtensions(names []string) []goldmark.Extender {
	if len(names) == 0 {
		names = DefaultExtensions
	}

	var out []goldmark.Extender
	seen := map[string]struct{}{}
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := seen[key]; ok {
			continue
		}
		ext, ok := extensionRegistry[key]
		if !ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ext)
	}
	return out
}

// KnownExtension reports whether name maps to a goldmark extension.
func KnownExtension(name string) bool {
	_, ok := extensionRegistry[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
