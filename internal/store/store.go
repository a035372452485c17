// Package store implements C1, the typed persistent KV store, on top of
// SQLite via modernc.org/sqlite (pure Go, no cgo) with schema migrations
// applied through github.com/pressly/goose/v3. Grounded on the teacher's
// BaselineManager (internal/sync/baseline.go): a single pooled connection
// (sole-writer pattern), WAL journaling, and a busy_timeout under which a
// connection waits on SQLite's file lock before failing. Open takes no lock
// of its own, so a second opener of the same database file is not refused.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure Go SQLite driver, registers as "sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// busyTimeoutMS bounds how long a connection waits on SQLite's file lock
// before failing with "database is locked". Together with the sole-writer
// SetMaxOpenConns(1) below it serializes this process's own writes; it does
// not keep a second process from opening the same file, which only sees
// "database is locked" when another connection holds a write lock for
// longer than this timeout.
const busyTimeoutMS = 2000

// walJournalSizeLimit bounds the WAL file size, mirroring the teacher's
// walJournalSizeLimit constant.
const walJournalSizeLimit = 64 * 1024 * 1024

// Store is the typed KV persistence layer for all BDP metadata (spec.md §4.1).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the SQLite database at dbPath, applies pending
// migrations, and returns a ready Store. Use ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)"+
			"&_pragma=journal_size_limit(%d)",
		dbPath, busyTimeoutMS, walJournalSizeLimit,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection ever writes, so cross-store
	// atomicity within a goroutine is trivially satisfied. A second process
	// is held back only by SQLite's own file lock, for the length of each
	// write transaction.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("store opened", slog.String("path", dbPath))

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// runMigrations applies all pending schema migrations via goose's
// Provider API, mirroring the teacher's internal/sync/migrations.go.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}
