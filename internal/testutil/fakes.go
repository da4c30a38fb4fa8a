package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/joschi/blueskyfeedbot/internal/bluesky"
	"github.com/joschi/blueskyfeedbot/internal/feed"
)

// Entry builds a feed entry titled after its link.
func Entry(link, published string) feed.Entry {
	return feed.Entry{
		ID:        link,
		Link:      link,
		Title:     "Post " + link,
		Published: published,
	}
}

// NewFeed builds a feed with fixed metadata.
func NewFeed(entries ...feed.Entry) feed.Feed {
	return feed.Feed{
		Metadata: feed.Metadata{
			Title:    "Test Feed",
			Link:     "https://feed.example.com",
			Language: "en",
		},
		Entries: entries,
	}
}

// FakeFetcher returns a canned feed or error.
type FakeFetcher struct {
	Feed feed.Feed
	Err  error

	mu    sync.Mutex
	calls []string
}

// Fetch records url and returns the canned result.
func (f *FakeFetcher) Fetch(ctx context.Context, url string) (feed.Feed, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return feed.Feed{}, err
	}
	if f.Err != nil {
		return feed.Feed{}, f.Err
	}
	return f.Feed, nil
}

// Calls returns the URLs fetched so far.
func (f *FakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// PublishedPost is one call to FakePublisher.Publish that succeeded.
type PublishedPost struct {
	Text         string
	Lang         string
	DetectFacets bool
}

// FakePublisher records posts instead of sending them.
type FakePublisher struct {
	// LoginErr is returned by Login.
	LoginErr error

	// FailOn maps post text to the error Publish returns for it.
	FailOn map[string]error

	// BeforePublish runs before each Publish with the 1-based call number.
	BeforePublish func(n int)

	mu     sync.Mutex
	logins int
	calls  int
	posts  []PublishedPost
}

// Login counts the call and returns LoginErr.
func (p *FakePublisher) Login(ctx context.Context) error {
	p.mu.Lock()
	p.logins++
	p.mu.Unlock()
	return p.LoginErr
}

// Publish records the post unless FailOn has an error for text.
func (p *FakePublisher) Publish(ctx context.Context, text, lang string, detectFacets bool) (bluesky.Receipt, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	hook := p.BeforePublish
	p.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err := ctx.Err(); err != nil {
		return bluesky.Receipt{}, err
	}
	if err, ok := p.FailOn[text]; ok {
		return bluesky.Receipt{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, PublishedPost{Text: text, Lang: lang, DetectFacets: detectFacets})
	return bluesky.Receipt{
		URI: fmt.Sprintf("at://did:plc:fake/app.bsky.feed.post/%d", len(p.posts)),
		CID: fmt.Sprintf("bafyfake%d", len(p.posts)),
	}, nil
}

// Posts returns the successfully published posts in order.
func (p *FakePublisher) Posts() []PublishedPost {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedPost(nil), p.posts...)
}

// Texts returns the text of every published post.
func (p *FakePublisher) Texts() []string {
	posts := p.Posts()
	out := make([]string, len(posts))
	for i, post := range posts {
		out[i] = post.Text
	}
	return out
}

// Logins returns how often Login was called.
func (p *FakePublisher) Logins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logins
}
