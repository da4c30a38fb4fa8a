// Package cache persists the set of feed entries the bot has already handled.
//
// The cache is the only state carried between runs. It is loaded once at the
// start of a run, appended to in memory while entries are processed, and
// written back once at the end after trimming it to the configured size.
//
// Two backends exist:
//   - FileStore: a single JSON array of hex digests, oldest first (default)
//   - SQLiteStore: the same ordered list in a SQLite table, selected for
//     paths ending in .db, .sqlite or .sqlite3
//
// Neither backend locks against concurrent runs. Scheduling must guarantee
// that at most one run uses a given cache path at a time.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// LoadResult is the outcome of loading persisted state.
//
// FirstRun is true when no persisted state existed at all. An existing but
// empty cache is not a first run.
type LoadResult struct {
	Cache    *Cache
	FirstRun bool
}

// Store loads and saves a Cache.
type Store interface {
	// Load reads persisted state. A missing resource yields an empty cache
	// with FirstRun set; anything else that prevents reading is a *ReadError.
	Load(ctx context.Context) (LoadResult, error)

	// Save trims c to limit entries, dropping the oldest, and persists it.
	// It returns the number of evicted digests. Failures are *WriteError.
	Save(ctx context.Context, c *Cache, limit int) (int, error)

	// Path returns the location of the persisted state.
	Path() string
}

// Open returns the Store for path, chosen by file extension.
func Open(path string, logger *slog.Logger) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return NewSQLiteStore(path, logger), nil
	default:
		return NewFileStore(path, logger), nil
	}
}

// ReadError reports persisted state that exists but cannot be used.
// A run must not publish anything after a ReadError: treating a corrupt cache
// as empty would re-post the whole feed.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading cache %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// WriteError reports a failure to persist the cache. Entries published in
// the run are not rolled back, so they may be published again next run.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing cache %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
