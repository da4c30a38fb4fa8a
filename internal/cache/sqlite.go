package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joschi/blueskyfeedbot/internal/fingerprint"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - fingerprints table
const currentSchemaVersion = 1

// SQLiteStore keeps the cache in a SQLite database.
//
// Row order (seq) mirrors cache order. Save inserts digests that are not yet
// present in cache order, then deletes everything but the newest rows, so the
// table and the in-memory cache agree after every successful save.
//
// The database is opened per operation; a run touches it exactly twice.
type SQLiteStore struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a SQLite-backed store at path.
// The database file is not created until the first Save.
func NewSQLiteStore(path string, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{
		path:   path,
		logger: logger.With("component", "cache", "backend", "sqlite"),
		now:    time.Now,
	}
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Load reads all digests in write order without modifying the database.
// A missing database file is a first run.
func (s *SQLiteStore) Load(ctx context.Context) (LoadResult, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("cache database not found, starting with an empty cache", "path", s.path)
		return LoadResult{Cache: New(), FirstRun: true}, nil
	} else if err != nil {
		return LoadResult{}, &ReadError{Path: s.path, Err: err}
	}

	db, err := openReadOnly(s.path)
	if err != nil {
		return LoadResult{}, &ReadError{Path: s.path, Err: err}
	}
	defer db.Close()

	version, err := schemaVersion(ctx, db)
	if err != nil {
		return LoadResult{}, &ReadError{Path: s.path, Err: err}
	}
	if version == 0 {
		// Created by something other than Save, or never written to.
		s.logger.Warn("cache database has no schema", "path", s.path)
		return LoadResult{Cache: New()}, nil
	}

	rows, err := db.QueryContext(ctx, `SELECT digest FROM fingerprints ORDER BY seq ASC`)
	if err != nil {
		return LoadResult{}, &ReadError{Path: s.path, Err: fmt.Errorf("querying fingerprints: %w", err)}
	}
	defer rows.Close()

	var digests []fingerprint.Digest
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return LoadResult{}, &ReadError{Path: s.path, Err: err}
		}
		d, err := fingerprint.Parse(raw)
		if err != nil {
			return LoadResult{}, &ReadError{Path: s.path, Err: err}
		}
		digests = append(digests, d)
	}
	if err := rows.Err(); err != nil {
		return LoadResult{}, &ReadError{Path: s.path, Err: err}
	}

	c := New(digests...)
	s.logger.Debug("cache loaded", "path", s.path, "entries", c.Len())
	return LoadResult{Cache: c}, nil
}

// Save evicts down to limit and writes the cache in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, c *Cache, limit int) (int, error) {
	evicted := c.Evict(limit)
	if evicted > 0 {
		s.logger.Info("cache limit reached, removing oldest entries", "evicted", evicted, "limit", limit)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return evicted, &WriteError{Path: s.path, Err: fmt.Errorf("creating cache directory: %w", err)}
	}

	db, err := openDB(s.path)
	if err != nil {
		return evicted, &WriteError{Path: s.path, Err: err}
	}
	defer db.Close()

	if err := s.write(ctx, db, c); err != nil {
		return evicted, &WriteError{Path: s.path, Err: err}
	}

	s.logger.Debug("cache written", "path", s.path, "entries", c.Len())
	return evicted, nil
}

func (s *SQLiteStore) write(ctx context.Context, db *sql.DB, c *Cache) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO fingerprints (digest, recorded_at) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	recordedAt := s.now().UTC().Format(time.RFC3339)
	for _, d := range c.Digests() {
		if _, err := stmt.ExecContext(ctx, d.String(), recordedAt); err != nil {
			return fmt.Errorf("insert %s: %w", d.Short(), err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM fingerprints
		WHERE seq NOT IN (SELECT seq FROM fingerprints ORDER BY seq DESC LIMIT ?)
	`, c.Len()); err != nil {
		return fmt.Errorf("trim fingerprints: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// openDB opens the database and applies pragmas and schema.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

// applyPragmas keeps the database in a single file (no WAL sidecars), since
// CI caches and artifacts usually carry only the named path between runs.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = DELETE",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// openReadOnly opens an existing database for Load. Neither schema nor
// pragmas are written, so read-only mounts work.
func openReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// schemaVersion reads user_version and rejects databases written by a newer
// release.
func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return 0, fmt.Errorf("cache schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	return version, nil
}

func applySchema(db *sql.DB) error {
	version, err := schemaVersion(context.Background(), db)
	if err != nil {
		return err
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}
