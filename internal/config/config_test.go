package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/fsindex/internal/indexer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return root
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "./db.sqlite3", cfg.DbPath)
	assert.Equal(t, indexer.DefaultExtensions, cfg.Extensions)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 50*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 100*time.Millisecond, cfg.MoveWindow)
	assert.Equal(t, "info", cfg.LogLevel)

	// the default list is copied, not shared
	cfg.Extensions[0] = "changed"
	assert.NotEqual(t, "changed", indexer.DefaultExtensions[0])
}

func TestValidate_ResolvesPaths(t *testing.T) {
	root := tempRoot(t)
	cfg := Default()
	cfg.Root = root
	cfg.DbPath = filepath.Join(root, "index.db")

	require.NoError(t, cfg.Validate())
	assert.Equal(t, root, cfg.Root)
	assert.Equal(t, filepath.Join(root, "index.db"), cfg.DbPath)
	assert.Equal(t, filepath.Join(root, indexer.IgnoreFileName), cfg.IgnoreFile)
	assert.True(t, filepath.IsAbs(cfg.DbPath))
}

func TestValidate_RelativeDbPath(t *testing.T) {
	cfg := Default()
	cfg.Root = tempRoot(t)

	require.NoError(t, cfg.Validate())
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "db.sqlite3"), cfg.DbPath)
}

func TestValidate_Extensions(t *testing.T) {
	cfg := Default()
	cfg.Root = tempRoot(t)
	cfg.Extensions = []string{".PDF", " docx ,zip", "", "*"}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"pdf", "docx", "zip", "*"}, cfg.Extensions)
}

func TestValidate_Errors(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"empty root", func(c *Config) { c.Root = "" }, ErrRootEmpty},
		{"missing root", func(c *Config) { c.Root = filepath.Join(t.TempDir(), "nope") }, ErrRootNotDir},
		{"root is a file", func(c *Config) { c.Root = file }, ErrRootNotDir},
		{"zero workers", func(c *Config) { c.Workers = 0 }, ErrInvalidWorker},
		{"negative debounce", func(c *Config) { c.Debounce = -time.Second }, ErrInvalidTiming},
		{"negative move window", func(c *Config) { c.MoveWindow = -time.Second }, ErrInvalidTiming},
		{"no extensions", func(c *Config) { c.Extensions = []string{" ", ""} }, ErrNoExtensions},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, ErrLogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Root = tempRoot(t)
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidate_IgnoreFile(t *testing.T) {
	root := tempRoot(t)
	abs := filepath.Join(t.TempDir(), "rules")

	cfg := Default()
	cfg.Root = root
	cfg.IgnoreFile = "custom.ignore"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join(root, "custom.ignore"), cfg.IgnoreFile)

	cfg = Default()
	cfg.Root = root
	cfg.IgnoreFile = abs
	require.NoError(t, cfg.Validate())
	assert.Equal(t, abs, cfg.IgnoreFile)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("trace")
	assert.ErrorIs(t, err, ErrLogLevel)
}
