package bluesky

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
)

// PostType is the lexicon type of a post record.
const PostType = "app.bsky.feed.post"

// createdAtLayout is RFC 3339 with millisecond precision.
const createdAtLayout = "2006-01-02T15:04:05.000Z07:00"

// Post is an app.bsky.feed.post record.
type Post struct {
	Type      string   `json:"$type"`
	Text      string   `json:"text"`
	Facets    []Facet  `json:"facets,omitempty"`
	CreatedAt string   `json:"createdAt"`
	Langs     []string `json:"langs,omitempty"`
}

// NewPost builds a post record. createdAt is converted to UTC. An empty lang
// leaves langs unset.
func NewPost(text string, facets []Facet, createdAt time.Time, lang string) Post {
	p := Post{
		Type:      PostType,
		Text:      text,
		Facets:    facets,
		CreatedAt: createdAt.UTC().Format(createdAtLayout),
	}
	if lang != "" {
		p.Langs = []string{lang}
	}
	return p
}

// CanonicalLanguage normalises a BCP 47 tag as found in feed metadata, so
// "en-us" becomes "en-US". An empty tag stays empty.
func CanonicalLanguage(tag string) (string, error) {
	if tag == "" {
		return "", nil
	}
	t, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("invalid language tag %q: %w", tag, err)
	}
	return t.String(), nil
}
