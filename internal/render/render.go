// Package render turns feed entries into post text.
//
// Templates use Handlebars syntax. Each template sees two values: feedData,
// the feed's metadata, and item, the entry being published. Values written
// with double braces are HTML-escaped; use triple braces for raw output.
//
//	New post: {{item.title}} {{item.link}}
package render

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/rivo/uniseg"

	"github.com/joschi/blueskyfeedbot/internal/feed"
)

// MaxGraphemes is the longest post text, counted in grapheme clusters.
const MaxGraphemes = 300

// ErrEmptyTemplate is returned by Compile for a blank template.
var ErrEmptyTemplate = errors.New("template is empty")

// Template is a compiled status template.
type Template struct {
	source string
	tpl    *raymond.Template
}

// Compile parses a template once so that every entry in a run renders with it.
func Compile(source string) (*Template, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptyTemplate
	}
	tpl, err := raymond.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}
	return &Template{source: source, tpl: tpl}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(source string) *Template {
	t, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return t
}

// Source returns the template text.
func (t *Template) Source() string {
	return t.source
}

// Render executes the template for one entry without truncation.
func (t *Template) Render(meta feed.Metadata, e feed.Entry) (string, error) {
	out, err := t.tpl.Exec(map[string]any{
		"feedData": meta.TemplateData(),
		"item":     e.TemplateData(),
	})
	if err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return out, nil
}

// Status renders an entry and truncates the result to MaxGraphemes.
func (t *Template) Status(meta feed.Metadata, e feed.Entry) (string, error) {
	out, err := t.Render(meta, e)
	if err != nil {
		return "", err
	}
	return Truncate(out, MaxGraphemes), nil
}

// Length counts the grapheme clusters in s.
func Length(s string) int {
	return uniseg.GraphemeClusterCount(s)
}

// Truncate cuts s to at most max grapheme clusters. A cluster is never split,
// so combined emoji and accented letters survive intact. No ellipsis is
// appended.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if Length(s) <= max {
		return s
	}
	g := uniseg.NewGraphemes(s)
	end := 0
	for n := 0; n < max && g.Next(); n++ {
		_, end = g.Positions()
	}
	return s[:end]
}
