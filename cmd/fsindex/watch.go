package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/fsindex/internal/config"
	"github.com/openmined/fsindex/internal/index"
	"github.com/openmined/fsindex/internal/indexer"
	"github.com/openmined/fsindex/internal/watch"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [root]",
		Short: "Watch a directory tree and keep the index in sync until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, err := prepare(cmd, args, (*config.Config).Validate)
			if err != nil {
				return err
			}
			defer closeLog()
			return runWatch(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().String("db", "", "index database file (default ./db.sqlite3)")
	cmd.Flags().StringSliceP("extensions", "e", nil, "extensions to index, * for all (default office, image and zip types)")
	cmd.Flags().Bool("drop-table", false, "drop the index table before watching")
	cmd.Flags().Bool("dump", false, "log the full index content on exit")
	cmd.Flags().IntP("workers", "w", watch.DefaultWorkers, "number of index writers")
	cmd.Flags().Duration("debounce", watch.DefaultDebounceTimeout, "quiet period before a create/write burst is applied")
	cmd.Flags().Duration("move-window", watch.DefaultMoveWindow, "time a rename waits for its destination")
	cmd.Flags().Bool("show-digest", false, "log the sha256 of created and modified files")
	cmd.Flags().String("ignore-file", "", "gitignore style rules, relative to root (default .fsindexignore)")
	return cmd
}

func runWatch(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("fsindex watch", "root", cfg.Root, "db", cfg.DbPath, "extensions", cfg.Extensions)

	store, err := index.Open(cfg.DbPath, index.WithLogger(logger))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx, cfg.DropTable); err != nil {
		return err
	}
	if err := listIndex(ctx, store, logger, slog.LevelDebug); err != nil {
		return err
	}

	ignore := indexer.LoadIgnoreList(cfg.IgnoreFile, logger)
	classifier := indexer.NewClassifier(cfg.Root,
		indexer.WithStorePath(store.Path()),
		indexer.WithExtensions(cfg.Extensions...),
		indexer.WithIgnoreList(ignore),
	)
	synchronizer := indexer.NewSynchronizer(classifier, store,
		indexer.WithLogger(logger),
		indexer.WithContentDigest(cfg.ShowDigest),
	)

	watcher := watch.NewFileWatcher(cfg.Root, logger)
	watcher.SetDebounceTimeout(cfg.Debounce)
	watcher.SetMoveWindow(cfg.MoveWindow)

	session := watch.NewSession(watcher, synchronizer,
		watch.WithWorkers(cfg.Workers),
		watch.WithLogger(logger),
	)

	runErr := session.Run(ctx)

	stats := synchronizer.Stats()
	logger.Info("index stats",
		"applied", humanize.Comma(int64(stats.Applied)),
		"dropped", humanize.Comma(int64(stats.Dropped)),
		"failed", humanize.Comma(int64(stats.Failed)),
	)

	if cfg.DumpOnExit {
		// ctx is cancelled by now
		if err := listIndex(context.WithoutCancel(ctx), store, logger, slog.LevelInfo); err != nil {
			logger.Error("index dump", "error", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("Bye!")
	return nil
}

// listIndex logs the entry count and every entry at the given level.
func listIndex(ctx context.Context, store *index.Store, logger *slog.Logger, level slog.Level) error {
	if !logger.Enabled(ctx, level) {
		return nil
	}

	started := time.Now()
	count := 0
	for entry, err := range store.ScanAll(ctx) {
		if err != nil {
			return fmt.Errorf("list index: %w", err)
		}
		count++
		logger.Log(ctx, level, "index entry", "sha", entry.Fingerprint, "filename", entry.RelPath)
	}
	logger.Log(ctx, level, "index content", "entries", humanize.Comma(int64(count)), "elapsed", time.Since(started).Round(time.Millisecond))
	return nil
}
