// Package worker implements the event processing loop.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sc2-map-indexer/internal/mapindex"
	"github.com/JakeFAU/sc2-map-indexer/internal/metrics"
	"github.com/JakeFAU/sc2-map-indexer/internal/queue/memory"
)

// Task is one queued event with its tracking id.
type Task struct {
	ID    string
	Event mapindex.Event
}

// Event outcomes reported to metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeFatal   = "fatal"
)

// Worker consumes queued tasks and runs them through the processor.
type Worker struct {
	id        int
	queue     *memory.Queue[Task]
	processor mapindex.Processor
	clock     mapindex.Clock
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	id int,
	queue *memory.Queue[Task],
	processor mapindex.Processor,
	clock mapindex.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		queue:     queue,
		processor: processor,
		clock:     clock,
		logger:    logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming tasks until the queue is closed and drained or ctx finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, memory.ErrClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		metrics.SetQueueDepth(w.queue.Len())
		w.logger.Debug("dequeued event", zap.String("task_id", task.ID))
		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task Task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	target := task.Event.Target()
	logger := w.logger.With(
		zap.String("task_id", task.ID),
		zap.String("kind", string(task.Event.Kind)),
		zap.Int("region", target.RegionID),
		zap.Uint32("map_id", target.MapID),
	)

	start := w.clock.Now()
	err := w.safeProcess(ctx, task.Event)
	elapsed := w.clock.Now().Sub(start)

	outcome := Outcome(err)
	metrics.ObserveEvent(string(task.Event.Kind), outcome, elapsed)
	switch outcome {
	case OutcomeSuccess:
		logger.Debug("event processed", zap.Duration("elapsed", elapsed))
	case OutcomeFatal:
		logger.Error("event failed", zap.String("severity", "fatal"), zap.Duration("elapsed", elapsed), zap.Error(err))
	default:
		logger.Warn("event failed", zap.Duration("elapsed", elapsed), zap.Error(err))
	}
}

// safeProcess keeps a panicking event from taking the pool down.
func (w *Worker) safeProcess(ctx context.Context, event mapindex.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing event: %v", r)
		}
	}()
	return w.processor.Process(ctx, event)
}

// Outcome classifies a processing result for metrics and logging.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case mapindex.IsFatal(err):
		return OutcomeFatal
	default:
		return OutcomeFailed
	}
}
