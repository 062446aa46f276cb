// Package verify audits a file index against the directory tree it
// describes.
package verify

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"path/filepath"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/fsindex/internal/fingerprint"
	"github.com/openmined/fsindex/internal/index"
)

// Store is the read side of the index the verifier needs.
type Store interface {
	Find(ctx context.Context, relPath string) ([]index.Entry, error)
	ScanAll(ctx context.Context) iter.Seq2[index.Entry, error]
}

// Verifier walks a tree and checks every file's index entry. It never
// writes to the store. Run alongside a live watch session it only sees a
// snapshot, and may report drift that is about to be repaired.
type Verifier struct {
	store       Store
	logger      *slog.Logger
	skip        func(path string) bool
	orphanCheck bool
}

type Option func(*Verifier)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithSkip excludes files for which skip returns true. Skipped files are
// counted but not checked.
func WithSkip(skip func(path string) bool) Option {
	return func(v *Verifier) {
		v.skip = skip
	}
}

// WithOrphanCheck adds a pass over the whole index listing entries whose
// file was not found during the walk.
func WithOrphanCheck(enabled bool) Option {
	return func(v *Verifier) {
		v.orphanCheck = enabled
	}
}

func New(store Store, opts ...Option) *Verifier {
	v := &Verifier{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With("component", "verify")
	return v
}

// Verify checks every regular file below root. Findings go into the
// report; an error is only returned when the walk or the store fails.
func (v *Verifier) Verify(ctx context.Context, root string) (*Report, error) {
	started := time.Now()
	root = filepath.Clean(root)
	report := &Report{Root: root, OrphanCheck: v.orphanCheck}
	seen := mapset.NewThreadUnsafeSet[string]()

	v.logger.Info("verify start", "root", root)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			v.logger.Warn("verify walk", "path", path, "error", err)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		report.TotalFiles++
		seen.Add(rel)

		if v.skip != nil && v.skip(path) {
			report.Skipped++
			return nil
		}

		invalid, err := v.check(ctx, rel)
		if err != nil {
			return err
		}
		if invalid != nil {
			v.logger.Debug("verify invalid", "path", rel, "reason", invalid.Detail())
			report.Invalid = append(report.Invalid, *invalid)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", root, err)
	}

	if v.orphanCheck {
		for entry, err := range v.store.ScanAll(ctx) {
			if err != nil {
				return nil, fmt.Errorf("orphan check: %w", err)
			}
			if !seen.Contains(entry.RelPath) {
				report.Orphans = append(report.Orphans, entry)
			}
		}
	}

	report.Elapsed = time.Since(started)
	if report.OK() {
		v.logger.Info("verify done", "files", report.TotalFiles, "elapsed", report.Elapsed)
	} else {
		v.logger.Error("verify done", "files", report.TotalFiles, "invalid", len(report.Invalid),
			"orphans", len(report.Orphans), "elapsed", report.Elapsed)
	}
	return report, nil
}

func (v *Verifier) check(ctx context.Context, rel string) (*InvalidPath, error) {
	v.logger.Debug("verify check", "path", rel)

	entries, err := v.store.Find(ctx, rel)
	if err != nil {
		return nil, err
	}
	if len(entries) != 1 {
		return &InvalidPath{Path: rel, Reason: ReasonWrongCardinality, Rows: len(entries)}, nil
	}

	expected := fingerprint.Of(rel)
	if actual := entries[0].Fingerprint; actual != expected {
		return &InvalidPath{Path: rel, Reason: ReasonFingerprintMismatch, Expected: expected, Actual: actual}, nil
	}
	return nil, nil
}
