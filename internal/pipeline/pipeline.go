// Package pipeline runs one feed-to-Bluesky publishing pass.
//
// A run fetches the feed, loads the cache of already-seen entries, filters
// and orders the new ones, publishes up to the run's post limit, and persists
// the updated cache. Every surviving entry is recorded as seen exactly once,
// whether it was published, skipped by the limit, or failed, so no entry is
// ever attempted twice.
//
// Runs are strictly sequential. The process holds no state between runs; the
// cache store is the only memory.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/joschi/blueskyfeedbot/internal/bluesky"
	"github.com/joschi/blueskyfeedbot/internal/cache"
	"github.com/joschi/blueskyfeedbot/internal/dedupe"
	"github.com/joschi/blueskyfeedbot/internal/feed"
	"github.com/joschi/blueskyfeedbot/internal/fingerprint"
	"github.com/joschi/blueskyfeedbot/internal/quota"
)

// FeedFetcher retrieves and parses a feed.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (feed.Feed, error)
}

// Renderer produces the post text for an entry.
type Renderer interface {
	Status(meta feed.Metadata, e feed.Entry) (string, error)
}

// Publisher posts text to the social network.
type Publisher interface {
	Login(ctx context.Context) error
	Publish(ctx context.Context, text, lang string, detectFacets bool) (bluesky.Receipt, error)
}

// Recorder observes finished runs.
type Recorder interface {
	ObserveRun(r *Report) error
}

// Default limits.
const (
	DefaultCacheLimit       = 100
	DefaultInitialPostLimit = 10
	DefaultPostLimit        = 5
)

// ErrNoPublisher is the cause of the ErrCodeAuth error returned by a live
// run that was created without a publisher.
var ErrNoPublisher = errors.New("no publisher configured for a live run")

// Options holds the per-run settings.
type Options struct {
	FeedURL string

	// CacheLimit is the number of digests kept after a run.
	CacheLimit int

	// InitialPostLimit applies when no cache exists yet; PostLimit otherwise.
	// A negative limit disables the cap.
	InitialPostLimit int
	PostLimit        int

	// DryRun records new entries as seen without logging in or posting.
	DryRun bool

	DisableFacets bool
}

// Report summarises a run.
type Report struct {
	RunID          string      `json:"run_id"`
	State          State       `json:"state"`
	States         []State     `json:"-"`
	DryRun         bool        `json:"dry_run"`
	FirstRun       bool        `json:"first_run"`
	Limit          int         `json:"limit"`
	Fetched        int         `json:"fetched"`
	New            int         `json:"new"`
	Posted         int         `json:"posted"`
	SkippedByLimit int         `json:"skipped_by_limit"`
	Failures       []*RunError `json:"failures,omitempty"`
	CacheBefore    int         `json:"cache_before"`
	CacheAfter     int         `json:"cache_after"`
	Evicted        int         `json:"evicted"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
	Error          string      `json:"error,omitempty"`

	Err error `json:"-"`
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Pipeline wires the collaborators of a run.
type Pipeline struct {
	fetcher   FeedFetcher
	store     cache.Store
	renderer  Renderer
	publisher Publisher
	opts      Options

	logger  *slog.Logger
	now     func() time.Time
	runIDs  RunIDGenerator
	metrics Recorder
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithClock sets the clock used for report timestamps. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithRunIDs sets the run ID generator. Default: UUIDv7Generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(p *Pipeline) {
		p.runIDs = g
	}
}

// WithMetrics registers a recorder that observes every finished run.
func WithMetrics(r Recorder) Option {
	return func(p *Pipeline) {
		p.metrics = r
	}
}

// New creates a pipeline. publisher may be nil for dry runs; a live run
// without one fails with ErrNoPublisher.
func New(fetcher FeedFetcher, store cache.Store, renderer Renderer, publisher Publisher, opts Options, options ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:   fetcher,
		store:     store,
		renderer:  renderer,
		publisher: publisher,
		opts:      opts,
		logger:    slog.Default(),
		now:       time.Now,
		runIDs:    UUIDv7Generator{},
	}
	for _, opt := range options {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline")
	return p
}

// run carries the state of a single Run call.
type run struct {
	*Pipeline
	report *Report
	logger *slog.Logger
}

// Run executes one pass. The returned report is never nil.
//
// The error is the first fatal error, a cache write failure, or an
// ErrCodeEntries summary when only individual entries failed.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	r := &run{
		Pipeline: p,
		report: &Report{
			State:     StateInit,
			States:    []State{StateInit},
			DryRun:    p.opts.DryRun,
			StartedAt: p.now(),
		},
	}
	r.report.RunID = p.runIDs.Generate()
	r.logger = p.logger.With("run_id", r.report.RunID)

	err := r.execute(ctx)
	r.report.FinishedAt = p.now()
	r.report.Err = err
	if err != nil {
		r.report.Error = err.Error()
		r.transition(StateFailed)
		r.logger.Error("run failed", "error", err)
	} else {
		r.transition(StateDone)
		r.logger.Info("run finished",
			"posted", r.report.Posted,
			"new", r.report.New,
			"skipped_by_limit", r.report.SkippedByLimit,
			"duration", r.report.Duration(),
		)
	}

	if p.metrics != nil {
		if merr := p.metrics.ObserveRun(r.report); merr != nil {
			r.logger.Warn("recording run metrics failed", "error", merr)
		}
	}
	return r.report, err
}

func (r *run) transition(to State) {
	r.logger.Debug("state transition", "from", r.report.State, "to", to)
	r.report.State = to
	r.report.States = append(r.report.States, to)
}

func (r *run) execute(ctx context.Context) error {
	rep := r.report

	if !r.opts.DryRun && r.publisher == nil {
		return newAuthError(ErrNoPublisher)
	}

	f, err := r.fetcher.Fetch(ctx, r.opts.FeedURL)
	if err != nil {
		if ctx.Err() != nil {
			return newCanceledError("fetching feed", ctx.Err())
		}
		return newFetchError(r.opts.FeedURL, err)
	}
	rep.Fetched = len(f.Entries)
	r.logger.Debug("fetched feed", "url", r.opts.FeedURL, "title", f.Metadata.Title, "entries", rep.Fetched)
	r.transition(StateFeedAcquired)

	loaded, err := r.store.Load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return newCanceledError("loading cache", ctx.Err())
		}
		return newCacheReadError(err)
	}
	c := loaded.Cache
	rep.FirstRun = loaded.FirstRun
	rep.CacheBefore = c.Len()
	if loaded.FirstRun {
		r.logger.Info("no cache found, starting a new one", "path", r.store.Path())
	}
	r.transition(StateCacheLoaded)

	entries := dedupe.Filter(f.Entries, c)
	rep.New = len(entries)
	for _, e := range entries {
		r.logger.Debug("new entry", "link", e.Link, "title", e.Title, "published", e.Published)
	}
	r.transition(StateDeduplicated)

	rep.Limit = quota.Select(loaded.FirstRun, r.opts.InitialPostLimit, r.opts.PostLimit)

	var loopErr error
	if r.opts.DryRun {
		r.transition(StateDryRunRecording)
		loopErr = r.record(ctx, entries, c)
	} else {
		r.transition(StatePublishing)
		if len(entries) > 0 {
			if err := r.publisher.Login(ctx); err != nil {
				if ctx.Err() != nil {
					return newCanceledError("logging in", ctx.Err())
				}
				return newAuthError(err)
			}
		}
		loopErr = r.publish(ctx, f.Metadata, entries, c)
	}

	writeErr := r.persist(ctx, c)

	switch {
	case loopErr != nil:
		return loopErr
	case writeErr != nil:
		return writeErr
	case len(rep.Failures) > 0:
		return newEntriesError(len(rep.Failures), len(entries))
	}
	return nil
}

// record marks every entry as seen without publishing.
func (r *run) record(ctx context.Context, entries []feed.Entry, c *cache.Cache) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return newCanceledError("recording entries", err)
		}
		d, err := fingerprint.FromLink(e.Link)
		if err != nil {
			r.fail(e, "recording entry", err)
			continue
		}
		if !c.Append(d) {
			r.logger.Debug("skipping duplicate entry", "title", e.Title, "digest", d.Short())
			continue
		}
		r.logger.Debug("recorded entry", "title", e.Title, "digest", d.Short())
	}
	return nil
}

func (r *run) publish(ctx context.Context, meta feed.Metadata, entries []feed.Entry, c *cache.Cache) error {
	q := quota.New(r.report.Limit)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return newCanceledError("publishing entries", err)
		}

		d, err := fingerprint.FromLink(e.Link)
		if err != nil {
			r.fail(e, "publishing entry", err)
			continue
		}
		log := r.logger.With("title", e.Title, "digest", d.Short())
		if c.Contains(d) {
			log.Debug("skipping duplicate entry")
			continue
		}

		if !q.Allow() {
			log.Debug("skipping entry due to post limit", "limit", q.Limit())
			r.report.SkippedByLimit++
			c.Append(d)
			continue
		}

		text, err := r.renderer.Status(meta, e)
		if err != nil {
			r.fail(e, "rendering entry", err)
			c.Append(d)
			continue
		}
		log.Debug("rendered entry", "text", text)

		receipt, err := r.publisher.Publish(ctx, text, meta.Language, !r.opts.DisableFacets)
		c.Append(d)
		if err != nil {
			if ctx.Err() != nil {
				return newCanceledError("publishing entries", ctx.Err())
			}
			r.fail(e, "publishing entry", err)
			continue
		}
		q.Record()
		r.report.Posted++
		log.Info("published entry", "uri", receipt.URI)
	}
	return nil
}

// persist saves the cache even when ctx is done, so work already published
// is not repeated by the next run.
func (r *run) persist(ctx context.Context, c *cache.Cache) error {
	evicted, err := r.store.Save(context.WithoutCancel(ctx), c, r.opts.CacheLimit)
	if err != nil {
		return newCacheWriteError(err)
	}
	r.report.Evicted = evicted
	r.report.CacheAfter = c.Len()
	r.transition(StateCachePersisted)
	return nil
}

func (r *run) fail(e feed.Entry, stage string, err error) {
	re := newEntryError(e.Link, stage, err)
	r.report.Failures = append(r.report.Failures, re)
	if errors.Is(err, fingerprint.ErrMissingLink) {
		r.logger.Error("entry has no link", "title", e.Title)
		return
	}
	r.logger.Error("entry failed", "link", e.Link, "title", e.Title, "error", err)
}
