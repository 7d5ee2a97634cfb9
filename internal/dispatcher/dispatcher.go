// Package dispatcher manages worker fan-out over the priority queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/sc2-map-indexer/internal/mapindex"
	"github.com/JakeFAU/sc2-map-indexer/internal/metrics"
	"github.com/JakeFAU/sc2-map-indexer/internal/queue/memory"
	"github.com/JakeFAU/sc2-map-indexer/internal/worker"
)

// ErrNotStarted is returned by Shutdown when Start was never called.
var ErrNotStarted = errors.New("dispatcher not started")

// Config sizes the pool.
type Config struct {
	Concurrency int
	QueueDepth  int
}

// Dispatcher fans out queued events to a fixed pool of workers.
type Dispatcher struct {
	queue   *memory.Queue[worker.Task]
	workers []*worker.Worker
	ids     mapindex.IDGenerator
	logger  *zap.Logger

	once    sync.Once
	started atomic.Bool
	wg      sync.WaitGroup
}

// New creates a Dispatcher with cfg.Concurrency workers.
func New(
	cfg Config,
	processor mapindex.Processor,
	clock mapindex.Clock,
	ids mapindex.IDGenerator,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.Concurrency * 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	queue := memory.NewQueue[worker.Task](cfg.QueueDepth)
	workers := make([]*worker.Worker, 0, cfg.Concurrency)
	for i := 0; i < cfg.Concurrency; i++ {
		workers = append(workers, worker.New(i, queue, processor, clock, logger))
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		ids:     ids,
		logger:  logger,
	}
}

// Start launches the workers. In-flight events are never canceled by
// ctx; use Shutdown to drain.
func (d *Dispatcher) Start(ctx context.Context) {
	d.once.Do(func() {
		d.started.Store(true)
		runCtx := context.WithoutCancel(ctx)
		for _, w := range d.workers {
			d.wg.Add(1)
			go func(wk *worker.Worker) {
				defer d.wg.Done()
				wk.Run(runCtx)
			}(w)
		}
		d.logger.Info("dispatcher started", zap.Int("workers", len(d.workers)))
	})
}

// Started reports whether Start has run.
func (d *Dispatcher) Started() bool {
	return d.started.Load()
}

// Submit validates and enqueues an event, returning its task id.
// It blocks while the queue is full.
func (d *Dispatcher) Submit(ctx context.Context, event mapindex.Event) (string, error) {
	if err := event.Validate(); err != nil {
		return "", fmt.Errorf("invalid event: %w", err)
	}
	id, err := d.ids.NewID()
	if err != nil {
		return "", err
	}
	if err := d.queue.Enqueue(ctx, worker.Task{ID: id, Event: event}, event.Priority()); err != nil {
		return "", fmt.Errorf("queue enqueue: %w", err)
	}
	metrics.SetQueueDepth(d.queue.Len())
	return id, nil
}

// Shutdown stops accepting events and waits for queued and in-flight work
// to finish, or for ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.queue.Close()
	if !d.started.Load() {
		return ErrNotStarted
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info("dispatcher drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}
