package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joschi/blueskyfeedbot/internal/fingerprint"
)

// FileStore keeps the cache as a JSON array of hex digests, oldest first.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a JSON file store at path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:   path,
		logger: logger.With("component", "cache", "backend", "file"),
	}
}

// Path returns the cache file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the cache file.
//
// A missing file is a first run. A zero-length file is an empty cache that is
// not a first run. Invalid JSON, non-string elements and malformed digests are
// read errors.
func (s *FileStore) Load(_ context.Context) (LoadResult, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("cache file not found, starting with an empty cache", "path", s.path)
		return LoadResult{Cache: New(), FirstRun: true}, nil
	}
	if err != nil {
		return LoadResult{}, &ReadError{Path: s.path, Err: err}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		s.logger.Warn("cache file is empty", "path", s.path)
		return LoadResult{Cache: New()}, nil
	}

	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return LoadResult{}, &ReadError{Path: s.path, Err: fmt.Errorf("decoding JSON: %w", err)}
	}

	digests := make([]fingerprint.Digest, 0, len(raw))
	for i, r := range raw {
		d, err := fingerprint.Parse(r)
		if err != nil {
			return LoadResult{}, &ReadError{Path: s.path, Err: fmt.Errorf("element %d: %w", i, err)}
		}
		digests = append(digests, d)
	}

	c := New(digests...)
	if dup := len(digests) - c.Len(); dup > 0 {
		s.logger.Debug("collapsed duplicate cache entries", "duplicates", dup)
	}
	s.logger.Debug("cache loaded", "path", s.path, "entries", c.Len())
	return LoadResult{Cache: c}, nil
}

// Save evicts down to limit and replaces the cache file.
//
// The new content is written to a temporary file in the same directory and
// renamed over the old one, so an interrupted write leaves the previous cache
// intact.
func (s *FileStore) Save(_ context.Context, c *Cache, limit int) (int, error) {
	evicted := c.Evict(limit)
	if evicted > 0 {
		s.logger.Info("cache limit reached, removing oldest entries", "evicted", evicted, "limit", limit)
	}

	data, err := json.Marshal(c.Digests())
	if err != nil {
		return evicted, &WriteError{Path: s.path, Err: err}
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return evicted, &WriteError{Path: s.path, Err: err}
	}

	s.logger.Debug("cache written", "path", s.path, "entries", c.Len())
	return evicted, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("syncing temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temporary file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		cleanup()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replacing cache file: %w", err)
	}
	return nil
}
