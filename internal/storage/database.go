// Package storage is the on-device store for decks, cards, the sync queue
// and a few scalar settings. It is backed by a single SQLite file.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store is a handle to an open database. Reads may run concurrently; writes
// are serialized through Update.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	logger  *slog.Logger
}

// Option configures Open.
type Option func(*Store)

// WithLogger sets the logger used for migration and transaction diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, storageErr("open", "", fmt.Errorf("failed to open database: %w", err))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storageErr("open", "", fmt.Errorf("failed to connect to database: %w", err))
	}
	s.db = db

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

func (s *Store) migrate(ctx context.Context) error {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return storageErr("migrate", "", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, migrations)
	if err != nil {
		return storageErr("migrate", "", fmt.Errorf("failed to load migrations: %w", err))
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return storageErr("migrate", "", fmt.Errorf("failed to apply migrations: %w", err))
	}
	for _, r := range results {
		s.logger.Info("applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Update runs fn in a write transaction. Only one Update runs at a time, so a
// read-modify-write inside fn cannot interleave with another writer. The
// transaction commits if fn returns nil and rolls back otherwise; fn's error
// is returned unchanged.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", "", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Tx{q: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.Error("failed to roll back transaction", "error", rbErr, "cause", err)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return storageErr("commit", "", err)
	}
	return nil
}

// reader runs queries directly against the pool, outside any transaction.
func (s *Store) reader() *Tx {
	return &Tx{q: s.db}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx exposes the store contract inside a single Update transaction.
type Tx struct {
	q querier
}

// Timestamps are stored as RFC 3339 text in UTC with a fixed-width fraction
// so that text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
