package main

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/openmined/fsindex/internal/config"
	"github.com/openmined/fsindex/internal/index"
	"github.com/openmined/fsindex/internal/utils"
	"github.com/spf13/cobra"
)

const (
	formatText = "text"
	formatJSON = "json"
)

func newDumpCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every index entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != formatText && format != formatJSON {
				return fmt.Errorf("unknown format %q (want %s or %s)", format, formatText, formatJSON)
			}

			cfg, logger, closeLog, err := prepare(cmd, args, validateDump)
			if err != nil {
				return err
			}
			defer closeLog()

			store, err := index.Open(cfg.DbPath, index.WithReadOnly(), index.WithLogger(logger))
			if err != nil {
				return err
			}
			defer store.Close()

			return dumpIndex(cmd.Context(), store, cmd.OutOrStdout(), format)
		},
	}

	cmd.Flags().String("db", "", "index database file (default ./db.sqlite3)")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format (text or json)")
	return cmd
}

// validateDump only needs the database path.
func validateDump(cfg *config.Config) error {
	dbPath, err := utils.ResolvePath(cfg.DbPath)
	if err != nil {
		return fmt.Errorf("db path %q: %w", cfg.DbPath, err)
	}
	if !utils.FileExists(dbPath) {
		return fmt.Errorf("index not found: %s", dbPath)
	}
	cfg.DbPath = dbPath
	_, err = config.ParseLevel(cfg.LogLevel)
	return err
}

func dumpIndex(ctx context.Context, store *index.Store, w io.Writer, format string) error {
	var entries []index.Entry
	for entry, err := range store.ScanAll(ctx) {
		if err != nil {
			return fmt.Errorf("dump index: %w", err)
		}
		entries = append(entries, entry)
	}

	if format == formatJSON {
		if entries == nil {
			entries = []index.Entry{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	bw := bufio.NewWriter(w)
	for _, entry := range entries {
		fmt.Fprintf(bw, "%s\t%s\n", entry.Fingerprint, entry.RelPath)
	}
	return bw.Flush()
}
