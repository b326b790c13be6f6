// Package sqlite implements the storage contract and the message queue over
// a SQLite database. It is the only backend with cross-process guarantees:
// the two ordering-sensitive paths (event seq minting and queue dequeue)
// run inside immediate-mode transactions.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Options tunes the database connection. The zero value is usable: WAL and
// foreign keys on, 5s busy timeout.
type Options struct {
	Path               string
	DisableWAL         bool
	BusyTimeoutMS      int
	CacheKB            int
	DisableForeignKeys bool
	Logger             *slog.Logger
}

// Store is the SQL backend. One Store holds a single connection; SQLite
// serializes writers, and the single conn keeps in-process callers from
// tripping over each other's transactions.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens (creating if needed) the database, applies pragmas and runs
// pending migrations. Concurrent Opens against the same path share one
// migration run.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("sqlite: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	busyTimeout := opts.BusyTimeoutMS
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}
	foreignKeys := "on"
	if opts.DisableForeignKeys {
		foreignKeys = "off"
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=%s&_txlock=immediate",
		url.PathEscape(opts.Path), busyTimeout, foreignKeys)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := &Store{db: db, path: opts.Path, logger: logger}

	if err := store.configurePragmas(context.Background(), opts); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// DB exposes the underlying handle for tests and diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) configurePragmas(ctx context.Context, opts Options) error {
	journal := "PRAGMA journal_mode=WAL;"
	if opts.DisableWAL {
		journal = "PRAGMA journal_mode=DELETE;"
	}
	pragmas := []string{
		journal,
		"PRAGMA synchronous=FULL;",
	}
	if opts.CacheKB > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size=-%d;", opts.CacheKB))
	}
	for _, q := range pragmas {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

// retryOnBusy retries f when SQLite reports BUSY or LOCKED, with exponential
// backoff and bounded jitter on top of the driver's busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.Intn(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks for SQLITE_BUSY (5) or SQLITE_LOCKED (6) without
// importing the driver's error type into every call site.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
