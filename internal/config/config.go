// Package config holds the settings shared by the fsindex commands.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/openmined/fsindex/internal/index"
	"github.com/openmined/fsindex/internal/indexer"
	"github.com/openmined/fsindex/internal/utils"
	"github.com/openmined/fsindex/internal/watch"
)

var (
	ErrRootEmpty     = errors.New("root is required")
	ErrRootNotDir    = errors.New("root is not a directory")
	ErrInvalidWorker = errors.New("workers must be at least 1")
	ErrInvalidTiming = errors.New("debounce and move window must not be negative")
	ErrNoExtensions  = errors.New("extension list is empty")
	ErrLogLevel      = errors.New("unknown log level")
)

const DefaultLogLevel = "info"

type Config struct {
	Root       string        `mapstructure:"root"`
	DbPath     string        `mapstructure:"db_path"`
	Extensions []string      `mapstructure:"extensions"`
	DropTable  bool          `mapstructure:"drop_table"`
	DumpOnExit bool          `mapstructure:"dump_on_exit"`
	Workers    int           `mapstructure:"workers"`
	Debounce   time.Duration `mapstructure:"debounce"`
	MoveWindow time.Duration `mapstructure:"move_window"`
	ShowDigest bool          `mapstructure:"show_digest"`
	LogLevel   string        `mapstructure:"log_level"`
	LogFile    string        `mapstructure:"log_file"`
	IgnoreFile string        `mapstructure:"ignore_file"`
	// Path is the config file in use, if any.
	Path string `mapstructure:"-"`
}

// Default returns a config with every optional field set.
func Default() *Config {
	return &Config{
		DbPath:     "./" + index.DefaultFileName,
		Extensions: append([]string(nil), indexer.DefaultExtensions...),
		Workers:    watch.DefaultWorkers,
		Debounce:   watch.DefaultDebounceTimeout,
		MoveWindow: watch.DefaultMoveWindow,
		LogLevel:   DefaultLogLevel,
	}
}

// Validate checks the config and resolves its paths to absolute ones. A
// relative ignore file is taken relative to the root.
func (c *Config) Validate() error {
	if c.Root == "" {
		return ErrRootEmpty
	}

	root, err := utils.ResolvePath(c.Root)
	if err != nil {
		return fmt.Errorf("root %q: %w", c.Root, err)
	}
	if !utils.DirExists(root) {
		return fmt.Errorf("%w: %s", ErrRootNotDir, root)
	}
	// notifications carry the resolved path
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	c.Root = root

	if c.DbPath == "" {
		c.DbPath = index.DefaultFileName
	}
	dbPath, err := utils.ResolvePath(c.DbPath)
	if err != nil {
		return fmt.Errorf("db path %q: %w", c.DbPath, err)
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(dbPath)); err == nil {
		dbPath = filepath.Join(dir, filepath.Base(dbPath))
	}
	c.DbPath = dbPath

	if c.IgnoreFile == "" {
		c.IgnoreFile = indexer.IgnoreFileName
	}
	if !filepath.IsAbs(c.IgnoreFile) {
		c.IgnoreFile = filepath.Join(c.Root, c.IgnoreFile)
	}

	c.Extensions = indexer.NormalizeExtensions(c.Extensions...)
	if len(c.Extensions) == 0 {
		return ErrNoExtensions
	}

	if c.Workers < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidWorker, c.Workers)
	}
	if c.Debounce < 0 || c.MoveWindow < 0 {
		return ErrInvalidTiming
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFile != "" {
		logFile, err := utils.ResolvePath(c.LogFile)
		if err != nil {
			return fmt.Errorf("log file %q: %w", c.LogFile, err)
		}
		c.LogFile = logFile
	}

	return nil
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrLogLevel, name)
	}
}
