package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// DefaultUserAgent identifies the bot to feed servers.
const DefaultUserAgent = "blueskyfeedbot (+https://github.com/joschi/blueskyfeedbot)"

// maxFeedSize bounds how much of a response body is parsed.
const maxFeedSize = 10 << 20

// HTTPError reports a non-2xx response from the feed server.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status %s", e.URL, e.Status)
}

// Fetcher downloads and parses RSS, Atom and JSON feeds.
type Fetcher struct {
	client    *http.Client
	parser    *gofeed.Parser
	userAgent string
}

// NewFetcher creates a Fetcher. A nil client gets a 30 second timeout.
func NewFetcher(client *http.Client, userAgent string) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Fetcher{
		client:    client,
		parser:    gofeed.NewParser(),
		userAgent: userAgent,
	}
}

// Fetch retrieves feedURL and converts it.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return Feed{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return Feed{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Feed{}, &HTTPError{URL: feedURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	parsed, err := f.parser.Parse(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return Feed{}, fmt.Errorf("parsing feed: %w", err)
	}
	return Convert(parsed), nil
}

// Convert maps a parsed gofeed document onto Feed.
func Convert(src *gofeed.Feed) Feed {
	out := Feed{
		Metadata: Metadata{
			Title:       strings.TrimSpace(src.Title),
			Link:        strings.TrimSpace(src.Link),
			Description: strings.TrimSpace(src.Description),
			Language:    strings.TrimSpace(src.Language),
			Generator:   strings.TrimSpace(src.Generator),
			Published:   timestamp(src.PublishedParsed, src.Published, src.UpdatedParsed, src.Updated),
		},
		Entries: make([]Entry, 0, len(src.Items)),
	}
	for _, item := range src.Items {
		if item == nil {
			continue
		}
		out.Entries = append(out.Entries, convertItem(item))
	}
	return out
}

func convertItem(item *gofeed.Item) Entry {
	link := strings.TrimSpace(item.Link)
	if link == "" && len(item.Links) > 0 {
		link = strings.TrimSpace(item.Links[0])
	}

	id := strings.TrimSpace(item.GUID)
	if id == "" {
		id = link
	}

	fields := map[string]any{}
	if item.Content != "" {
		fields["content"] = item.Content
	}
	if item.Updated != "" {
		fields["updated"] = timestamp(item.UpdatedParsed, item.Updated, nil, "")
	}
	if len(item.Categories) > 0 {
		fields["categories"] = item.Categories
	}
	if author := authorName(item); author != "" {
		fields["author"] = author
	}
	if item.Image != nil && item.Image.URL != "" {
		fields["image"] = item.Image.URL
	}

	return Entry{
		ID:          id,
		Link:        link,
		Title:       strings.TrimSpace(item.Title),
		Description: strings.TrimSpace(item.Description),
		Published:   timestamp(item.PublishedParsed, item.Published, item.UpdatedParsed, item.Updated),
		Fields:      fields,
	}
}

func authorName(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}

// timestamp normalises a published date for lexicographic ordering.
// Atom entries without a published date fall back to their updated date.
func timestamp(parsed *time.Time, raw string, fallbackParsed *time.Time, fallbackRaw string) string {
	if parsed != nil {
		return parsed.UTC().Format(time.RFC3339)
	}
	if raw = strings.TrimSpace(raw); raw != "" {
		return raw
	}
	if fallbackParsed != nil {
		return fallbackParsed.UTC().Format(time.RFC3339)
	}
	return strings.TrimSpace(fallbackRaw)
}
