// Package index persists the path -> fingerprint table kept in sync with a
// watched directory tree.
package index

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/fsindex/internal/db"
)

const (
	// DefaultFileName is the backing file name used when none is configured.
	DefaultFileName = "db.sqlite3"

	defaultMaxOpenConns = 8
)

const createSchema = `
CREATE TABLE IF NOT EXISTS files (filename TEXT, sha TEXT);
CREATE UNIQUE INDEX IF NOT EXISTS files_index ON files (filename);
`

const dropSchema = `
DROP INDEX IF EXISTS files_index;
DROP TABLE IF EXISTS files;
`

var (
	ErrClosed   = errors.New("index store closed")
	ErrReadOnly = errors.New("index store is read-only")
)

// Entry is one row of the files table.
type Entry struct {
	RelPath     string `db:"filename" json:"filename"`
	Fingerprint string `db:"sha" json:"sha"`
}

// Store is the SQLite backed index. Its connection pool hands every
// operation its own connection, so a Store is safe for concurrent use while
// no connection is ever shared between goroutines.
type Store struct {
	db       *sqlx.DB
	path     string
	readOnly bool
	closed   atomic.Bool
	logger   *slog.Logger
}

type StoreOption func(*storeConfig)

type storeConfig struct {
	logger       *slog.Logger
	maxOpenConns int
	readOnly     bool
}

func WithLogger(logger *slog.Logger) StoreOption {
	return func(c *storeConfig) {
		c.logger = logger
	}
}

// WithMaxOpenConns caps the number of concurrently open connections.
func WithMaxOpenConns(n int) StoreOption {
	return func(c *storeConfig) {
		c.maxOpenConns = n
	}
}

// WithReadOnly opens an existing index for reading only. The database file
// is not created and its journal mode is not changed; writes fail with
// ErrReadOnly.
func WithReadOnly() StoreOption {
	return func(c *storeConfig) {
		c.readOnly = true
	}
}

// Open opens (creating if needed) the index database at path. The schema is
// not touched; call EnsureSchema before writing.
func Open(path string, opts ...StoreOption) (*Store, error) {
	cfg := &storeConfig{
		logger:       slog.Default(),
		maxOpenConns: defaultMaxOpenConns,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if path != db.MemoryPath {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve index path: %w", err)
		}
		path = abs
	}

	dbOpts := []db.SqliteOption{
		db.WithPath(path),
		db.WithTxLock("deferred"),
		db.WithMaxOpenConns(cfg.maxOpenConns),
		db.WithMaxIdleConns(cfg.maxOpenConns),
		db.WithLogger(cfg.logger),
	}
	if cfg.readOnly {
		dbOpts = append(dbOpts, db.WithReadOnly())
	}

	conn, err := db.NewSqliteDb(dbOpts...)
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}

	return &Store{
		db:       conn,
		path:     path,
		readOnly: cfg.readOnly,
		logger:   cfg.logger.With("component", "index"),
	}, nil
}

// Path returns the absolute path of the backing file.
func (s *Store) Path() string {
	return s.path
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	return nil
}

// EnsureSchema creates the files table and its unique index if missing.
// With dropExisting the previous table and its content are removed first.
func (s *Store) EnsureSchema(ctx context.Context, dropExisting bool) error {
	return s.write(ctx, func(tx *sqlx.Tx) error {
		if dropExisting {
			s.logger.Warn("index drop table", "path", s.path)
			if _, err := tx.ExecContext(ctx, dropSchema); err != nil {
				return fmt.Errorf("drop schema: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, createSchema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		return nil
	})
}

// Upsert inserts the entry for relPath or replaces the existing one.
func (s *Store) Upsert(ctx context.Context, relPath, fingerprint string) error {
	err := s.write(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO files (filename, sha) VALUES (?, ?)", relPath, fingerprint)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", relPath, err)
	}
	s.logger.Debug("index upsert", "path", relPath, "sha", fingerprint)
	return nil
}

// Delete removes the entry for relPath. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, relPath string) error {
	var affected int64
	err := s.write(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM files WHERE filename = ?", relPath)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", relPath, err)
	}
	s.logger.Debug("index delete", "path", relPath, "rows", affected)
	return nil
}

// Find returns every row whose key is relPath. Zero or several rows are
// reported as they are; interpreting them is up to the caller.
func (s *Store) Find(ctx context.Context, relPath string) ([]Entry, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var entries []Entry
	if err := conn.SelectContext(ctx, &entries,
		"SELECT filename, sha FROM files WHERE filename = ?", relPath); err != nil {
		return nil, fmt.Errorf("find %s: %w", relPath, err)
	}
	return entries, nil
}

// Count returns the number of rows in the table.
func (s *Store) Count(ctx context.Context) (int, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var count int
	if err := conn.GetContext(ctx, &count, "SELECT COUNT(*) FROM files"); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

// ScanAll lazily yields every row. Each range over the returned sequence
// runs a fresh query, so it can be iterated more than once. A failure is
// yielded once as the error value and ends the sequence.
func (s *Store) ScanAll(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		conn, err := s.conn(ctx)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		defer conn.Close()

		rows, err := conn.QueryxContext(ctx, "SELECT filename, sha FROM files")
		if err != nil {
			yield(Entry{}, fmt.Errorf("scan entries: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var entry Entry
			if err := rows.StructScan(&entry); err != nil {
				yield(Entry{}, fmt.Errorf("scan entry: %w", err))
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Entry{}, fmt.Errorf("scan entries: %w", err))
		}
	}
}

// conn checks out a dedicated connection for one operation.
func (s *Store) conn(ctx context.Context) (*sqlx.Conn, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, nil
}

// write runs fn in its own deferred transaction on its own connection and
// commits. No transaction outlives a single call.
func (s *Store) write(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if s.readOnly {
		return ErrReadOnly
	}
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
