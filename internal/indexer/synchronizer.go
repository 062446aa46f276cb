package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/openmined/fsindex/internal/fingerprint"
)

// Store is the pair of primitives the synchronizer writes through. There is
// deliberately no rename primitive: a move is a delete followed by an
// upsert, and a failure between the two is visible in the index.
type Store interface {
	Upsert(ctx context.Context, relPath, fingerprint string) error
	Delete(ctx context.Context, relPath string) error
}

// Stats counts terminal states of handled events.
type Stats struct {
	Applied uint64
	Dropped uint64
	Failed  uint64
}

// Synchronizer applies classified events to the index store. Handle is safe
// to call from many goroutines at once.
type Synchronizer struct {
	classifier *Classifier
	store      Store
	logger     *slog.Logger
	showDigest bool

	applied atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

type SynchronizerOption func(*Synchronizer)

func WithLogger(logger *slog.Logger) SynchronizerOption {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// WithContentDigest logs the SHA-256 of file contents on upsert. The digest
// is informational only and never written to the store.
func WithContentDigest(enabled bool) SynchronizerOption {
	return func(s *Synchronizer) {
		s.showDigest = enabled
	}
}

func NewSynchronizer(classifier *Classifier, store Store, opts ...SynchronizerOption) *Synchronizer {
	s := &Synchronizer{
		classifier: classifier,
		store:      store,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sync")
	return s
}

// Handle classifies ev and applies the resulting ops in order. Every op is
// attempted even if an earlier one failed; failures are joined into the
// returned error. Nothing is retried.
func (s *Synchronizer) Handle(ctx context.Context, ev Event) error {
	s.logger.Debug("event received", "kind", ev.Kind, "path", ev.Path, "dest", ev.Dest, "dir", ev.IsDir)

	decision := s.classifier.Classify(ev)
	if !decision.Actionable() {
		s.dropped.Add(1)
		s.logger.Debug("event dropped", "kind", ev.Kind, "path", ev.Path, "reason", decision.Reason)
		return nil
	}

	var errs []error
	for _, op := range decision.Ops {
		if err := s.apply(ctx, ev, op); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		s.failed.Add(1)
		return fmt.Errorf("%s: %w", ev, errors.Join(errs...))
	}
	s.applied.Add(1)
	return nil
}

func (s *Synchronizer) apply(ctx context.Context, ev Event, op Op) error {
	switch op.Kind {
	case OpDelete:
		if err := s.store.Delete(ctx, op.RelPath); err != nil {
			return err
		}
		s.logger.Info("index removed", "event", ev.Kind, "path", op.RelPath)
	case OpUpsert:
		sha := fingerprint.Of(op.RelPath)
		if err := s.store.Upsert(ctx, op.RelPath, sha); err != nil {
			return err
		}
		if s.showDigest {
			s.logDigest(ev, op)
		}
		s.logger.Info("index saved", "event", ev.Kind, "path", op.RelPath, "sha", sha)
	}
	return nil
}

func (s *Synchronizer) logDigest(ev Event, op Op) {
	digest, err := fingerprint.ContentDigest(op.Path)
	if err != nil {
		s.logger.Warn("content digest", "path", op.RelPath, "error", err)
		return
	}
	s.logger.Info("content digest", "event", ev.Kind, "path", op.RelPath, "sha256", digest)
}

// Stats returns a snapshot of the counters.
func (s *Synchronizer) Stats() Stats {
	return Stats{
		Applied: s.applied.Load(),
		Dropped: s.dropped.Load(),
		Failed:  s.failed.Load(),
	}
}
