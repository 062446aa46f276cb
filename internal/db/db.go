package db

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/fsindex/internal/utils"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrNotExist is returned when a read-only database file is missing.
var ErrNotExist = errors.New("database does not exist")

// Connection-scoped pragmas. They are applied through the DSN so that every
// pooled connection gets them, not only the first one.
const (
	busyTimeoutMillis = 5000
	journalMode       = "wal"
)

// config holds internal configuration for DB creation
type config struct {
	path         string
	pragmas      string
	txLock       string
	maxOpenConns int
	maxIdleConns int
	readOnly     bool
	logger       *slog.Logger
}

// SqliteOption defines a function that configures the DB
type SqliteOption func(*config)

// WithPath sets the path for the SQLite database.
// Use MemoryPath for an in-memory database.
func WithPath(path string) SqliteOption {
	return func(c *config) {
		c.path = path
	}
}

// WithPragmas runs additional pragma statements once the database is open.
func WithPragmas(pragmas string) SqliteOption {
	return func(c *config) {
		c.pragmas = pragmas
	}
}

// WithTxLock sets the lock mode used by BEGIN: deferred, immediate or exclusive.
func WithTxLock(mode string) SqliteOption {
	return func(c *config) {
		c.txLock = mode
	}
}

// WithMaxOpenConns sets the maximum number of open connections
func WithMaxOpenConns(n int) SqliteOption {
	return func(c *config) {
		c.maxOpenConns = n
	}
}

// WithMaxIdleConns sets the maximum number of idle connections
func WithMaxIdleConns(n int) SqliteOption {
	return func(c *config) {
		c.maxIdleConns = n
	}
}

// WithReadOnly opens an existing database without write access. The
// journal mode is left as it is and no file is created.
func WithReadOnly() SqliteOption {
	return func(c *config) {
		c.readOnly = true
	}
}

// WithLogger sets the logger used while opening the database
func WithLogger(logger *slog.Logger) SqliteOption {
	return func(c *config) {
		c.logger = logger
	}
}

// NewSqliteDb creates a new sqlx.DB with the provided options
func NewSqliteDb(opts ...SqliteOption) (*sqlx.DB, error) {
	cfg := &config{
		path:         MemoryPath,
		txLock:       "deferred",
		maxOpenConns: 0, // Default is unlimited
		maxIdleConns: 2,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	var dsn string
	switch {
	case cfg.path != MemoryPath && cfg.readOnly:
		if !utils.FileExists(cfg.path) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, cfg.path)
		}
		dsn = readOnlyDSN(cfg.path)
	case cfg.path != MemoryPath:
		if err := utils.EnsureParent(cfg.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fileDSN(cfg.path, cfg.txLock)
	default:
		// every connection to :memory: is a separate database
		dsn = MemoryPath
		cfg.maxOpenConns = 1
	}

	cfg.logger.Debug("db open", "driver", driverID, "path", cfg.path, "txlock", cfg.txLock, "readonly", cfg.readOnly)
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.maxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.maxOpenConns)
	}
	if cfg.maxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.maxIdleConns)
	}

	if cfg.pragmas != "" {
		if _, err := db.Exec(cfg.pragmas); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragmas: %w", err)
		}
	}

	return db, nil
}
