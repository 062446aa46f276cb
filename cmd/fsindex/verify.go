package main

import (
	"fmt"

	"github.com/openmined/fsindex/internal/config"
	"github.com/openmined/fsindex/internal/index"
	"github.com/openmined/fsindex/internal/indexer"
	"github.com/openmined/fsindex/internal/utils"
	"github.com/openmined/fsindex/internal/verify"
	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	var orphans, filtered bool

	cmd := &cobra.Command{
		Use:   "verify [root]",
		Short: "Check every file under root against the index",
		Long: `Walks root and checks that each file has exactly one index entry holding
its path fingerprint. Exits with status 1 when any divergence is found.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, err := prepare(cmd, args, validateVerify)
			if err != nil {
				return err
			}
			defer closeLog()

			store, err := index.Open(cfg.DbPath, index.WithReadOnly(), index.WithLogger(logger))
			if err != nil {
				return err
			}
			defer store.Close()

			opts := []verify.Option{
				verify.WithLogger(logger),
				verify.WithOrphanCheck(orphans),
			}
			if filtered {
				classifier := indexer.NewClassifier(cfg.Root,
					indexer.WithStorePath(store.Path()),
					indexer.WithExtensions(cfg.Extensions...),
					indexer.WithIgnoreList(indexer.LoadIgnoreList(cfg.IgnoreFile, logger)),
				)
				opts = append(opts, verify.WithSkip(func(path string) bool {
					return !classifier.Allowed(path)
				}))
			}

			report, err := verify.New(store, opts...).Verify(cmd.Context(), cfg.Root)
			if err != nil {
				return err
			}
			if err := report.Write(cmd.OutOrStdout()); err != nil {
				return err
			}
			return report.Err()
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().String("db", "", "index database file (default ./db.sqlite3)")
	cmd.Flags().BoolVar(&orphans, "orphans", false, "also list index entries with no file on disk")
	cmd.Flags().BoolVar(&filtered, "filtered", false, "only check files the watcher would index")
	cmd.Flags().StringSliceP("extensions", "e", nil, "extension allow-list used by --filtered")
	cmd.Flags().String("ignore-file", "", "ignore rules used by --filtered")
	return cmd
}

// validateVerify also requires the index to exist, since opening a missing
// database would create an empty one.
func validateVerify(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !utils.FileExists(cfg.DbPath) {
		return fmt.Errorf("index not found: %s", cfg.DbPath)
	}
	return nil
}
