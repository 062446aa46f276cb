package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/fsindex/internal/config"
	"github.com/openmined/fsindex/internal/utils"
	"github.com/openmined/fsindex/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "fsindex"
)

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"db":          "db_path",
	"extensions":  "extensions",
	"drop-table":  "drop_table",
	"dump":        "dump_on_exit",
	"workers":     "workers",
	"debounce":    "debounce",
	"move-window": "move_window",
	"show-digest": "show_digest",
	"log":         "log_level",
	"log-file":    "log_file",
	"ignore-file": "ignore_file",
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fsindex",
		Short:         "Keep a SQLite index of a directory tree in sync with the filesystem",
		Version:       version.Detailed(),
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (json or yaml)")
	rootCmd.PersistentFlags().String("log", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "shorthand for --log debug")
	rootCmd.PersistentFlags().String("log-file", "", "also write logs to this file")

	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newDumpCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func main() {
	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig merges defaults, the config file, FSINDEX_* environment
// variables and command line flags, in increasing order of precedence.
// A positional argument overrides the root.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	v := viper.New()

	defaults := config.Default()
	v.SetDefault("root", defaults.Root)
	v.SetDefault("db_path", defaults.DbPath)
	v.SetDefault("extensions", defaults.Extensions)
	v.SetDefault("drop_table", defaults.DropTable)
	v.SetDefault("dump_on_exit", defaults.DumpOnExit)
	v.SetDefault("workers", defaults.Workers)
	v.SetDefault("debounce", defaults.Debounce)
	v.SetDefault("move_window", defaults.MoveWindow)
	v.SetDefault("show_digest", defaults.ShowDigest)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_file", defaults.LogFile)
	v.SetDefault("ignore_file", defaults.IgnoreFile)

	// config path
	if flag := cmd.Flag("config"); flag != nil && flag.Changed {
		v.SetConfigFile(flag.Value.String())
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(home, ".config", "fsindex"))
		v.SetConfigName(configFileName)
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		var notFound viper.ConfigFileNotFoundError
		if !enoent && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	// Set up environment variables
	v.SetEnvPrefix("FSINDEX")
	v.AutomaticEnv()

	// Bind flags to viper
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	if len(args) > 0 {
		v.Set("root", args[0])
	}

	cfg := &config.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// setupLogger builds the console logger and, when a log file is configured,
// fans records out to it as well. The returned func closes the log file.
func setupLogger(cfg *config.Config, console *os.File) (*slog.Logger, func(), error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	consoleHandler := tint.NewHandler(console, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(console.Fd()),
	})
	if cfg.LogFile == "" {
		return slog.New(consoleHandler), func() {}, nil
	}

	if err := utils.EnsureParent(cfg.LogFile); err != nil {
		return nil, nil, fmt.Errorf("log directory: %w", err)
	}
	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: level})
	logger := slog.New(utils.NewMultiLogHandler(consoleHandler, fileHandler))
	return logger, func() { file.Close() }, nil
}

// prepare loads and validates the config and sets up logging for a command.
func prepare(cmd *cobra.Command, args []string, validate func(*config.Config) error) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, nil, nil, err
	}

	logger, closeLog, err := setupLogger(cfg, os.Stderr)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Path != "" {
		logger.Debug("config loaded", "path", cfg.Path)
	}

	cmd.SilenceUsage = true
	return cfg, logger, closeLog, nil
}
