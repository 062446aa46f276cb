package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/openmined/fsindex/internal/indexer"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers  = 4
	workerQueueSize = 16
)

// Source delivers filesystem events until it is stopped. Stop must close
// the Events channel after the last event.
type Source interface {
	Start(ctx context.Context) error
	Events() <-chan indexer.Event
	Stop()
}

// Handler applies one event. It is called concurrently from the workers.
type Handler interface {
	Handle(ctx context.Context, ev indexer.Event) error
}

// Session binds a Source to a Handler and runs until its context is
// cancelled. Events are routed to workers by path, so events for one path
// are handled in the order they were delivered.
type Session struct {
	id      string
	source  Source
	handler Handler
	workers int
	logger  *slog.Logger
}

type SessionOption func(*Session)

func WithWorkers(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

func NewSession(source Source, handler Handler, opts ...SessionOption) *Session {
	s := &Session{
		id:      uuid.NewString(),
		source:  source,
		handler: handler,
		workers: DefaultWorkers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", s.id)
	return s
}

// ID identifies the session in logs.
func (s *Session) ID() string {
	return s.id
}

// Run starts the source and blocks until ctx is cancelled (or the source
// ends on its own). It then stops the source and waits until every event
// it delivered has been handled. Handlers run on a context that is not
// cancelled with ctx, so an in-flight store write always completes.
func (s *Session) Run(ctx context.Context) error {
	started := time.Now()
	s.logger.Info("watch session start", "workers", s.workers)

	if err := s.source.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	handlerCtx := context.WithoutCancel(ctx)
	queues := make([]chan indexer.Event, s.workers)
	var g errgroup.Group

	for i := range queues {
		queue := make(chan indexer.Event, workerQueueSize)
		queues[i] = queue
		g.Go(func() error {
			s.work(handlerCtx, i, queue)
			return nil
		})
	}

	dispatched := make(chan struct{})
	g.Go(func() error {
		defer close(dispatched)
		defer func() {
			for _, queue := range queues {
				close(queue)
			}
		}()
		for ev := range s.source.Events() {
			queues[s.route(ev)] <- ev
		}
		return nil
	})

	select {
	case <-ctx.Done():
		s.logger.Info("watch session stopping")
	case <-dispatched:
		s.logger.Warn("watch session source ended")
	}

	s.source.Stop()
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("watch session stopped", "elapsed", time.Since(started).Round(time.Millisecond))
	return nil
}

// route picks the worker by the path an event leaves in the index. A move
// is keyed by its destination, so a later event on the new path cannot
// overtake the move's upsert.
func (s *Session) route(ev indexer.Event) int {
	key := ev.Path
	if ev.Kind == indexer.Moved {
		key = ev.Dest
	}
	return int(xxhash.Sum64String(key) % uint64(s.workers))
}

func (s *Session) work(ctx context.Context, id int, queue <-chan indexer.Event) {
	for ev := range queue {
		if err := s.handler.Handle(ctx, ev); err != nil {
			s.logger.Error("index update failed", "worker", id, "event", ev.Kind, "path", ev.Path, "dest", ev.Dest, "error", err)
		}
	}
}
