package bluesky

import (
	"context"
	"log/slog"
	"time"
)

// Publisher posts rendered text under one account. It logs in once and
// reuses the session for every post of a run.
type Publisher struct {
	client     *Client
	identifier string
	password   string
	session    *Session
	now        func() time.Time
	logger     *slog.Logger
	langs      map[string]string
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithClock sets the source of createdAt timestamps.
func WithClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		p.now = now
	}
}

// WithLogger sets the publisher's logger.
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a publisher for the account identified by identifier.
func NewPublisher(client *Client, identifier, password string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client:     client,
		identifier: identifier,
		password:   password,
		now:        time.Now,
		logger:     slog.Default(),
		langs:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "publisher")
	return p
}

// Login creates the session used by Publish.
func (p *Publisher) Login(ctx context.Context) error {
	sess, err := p.client.Login(ctx, p.identifier, p.password)
	if err != nil {
		return err
	}
	p.session = sess
	return nil
}

// Session returns the current session, or nil before Login.
func (p *Publisher) Session() *Session {
	return p.session
}

// Publish posts text. lang is the feed's language tag as found in its
// metadata; an invalid tag is dropped. When detectFacets is set, links,
// mentions and hashtags are annotated; if detection fails the post is sent
// without facets.
func (p *Publisher) Publish(ctx context.Context, text, lang string, detectFacets bool) (Receipt, error) {
	if p.session == nil {
		return Receipt{}, ErrNoSession
	}

	var facets []Facet
	if detectFacets {
		var err error
		facets, err = DetectFacets(ctx, text, p.client)
		if err != nil {
			if ctx.Err() != nil {
				return Receipt{}, ctx.Err()
			}
			p.logger.Warn("facet detection failed, posting plain text", "error", err)
			facets = nil
		}
	}

	post := NewPost(text, facets, p.now(), p.language(lang))
	p.logger.Debug("creating record",
		"text", post.Text,
		"facets", len(post.Facets),
		"langs", post.Langs,
		"created_at", post.CreatedAt,
	)

	receipt, err := p.client.CreatePost(ctx, p.session, post)
	if err != nil {
		return Receipt{}, err
	}
	p.logger.Debug("record created", "uri", receipt.URI, "cid", receipt.CID)
	return receipt, nil
}

// language canonicalises tag, warning once per invalid tag.
func (p *Publisher) language(tag string) string {
	if canon, ok := p.langs[tag]; ok {
		return canon
	}
	canon, err := CanonicalLanguage(tag)
	if err != nil {
		p.logger.Warn("ignoring feed language", "error", err)
	}
	p.langs[tag] = canon
	return canon
}
