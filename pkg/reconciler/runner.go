package reconciler

import (
	"context"
	"errors"
	"sync"

	"github.com/flocksync/flocksync/pkg/broker"
	"github.com/flocksync/flocksync/pkg/log"
	"github.com/flocksync/flocksync/pkg/metrics"
)

// Runner consumes reconciliation tasks from the broker with a bounded
// worker pool. Per-group serialization comes from the broker itself; the
// pool only bounds how many distinct groups reconcile in parallel.
type Runner struct {
	engine      *Engine
	broker      broker.Broker
	concurrency int
	metrics     bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRunner creates a runner. Concurrency below 2 is raised to 2.
func NewRunner(engine *Engine, b broker.Broker, concurrency int, metricsEnabled bool) *Runner {
	if concurrency < 2 {
		concurrency = 2
	}
	return &Runner{
		engine:      engine,
		broker:      b,
		concurrency: concurrency,
		metrics:     metricsEnabled,
	}
}

// Start launches the worker pool.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	for i := 0; i < r.concurrency; i++ {
		r.wg.Add(1)
		go r.work(ctx)
	}
}

// Stop cancels the workers and waits for in-flight tasks to finish.
func (r *Runner) Stop() {
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	})
}

func (r *Runner) work(ctx context.Context) {
	defer r.wg.Done()
	logger := log.WithComponent("reconciler")

	for {
		task, err := r.broker.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, broker.ErrClosed) {
				return
			}
			logger.Error().Err(err).Msg("dequeue failed")
			continue
		}

		if err := r.engine.Reconcile(ctx, &task.ReconciliationTask); err != nil {
			logger.Error().Err(err).
				Str("task_id", task.ID).
				Str("scaling_group", task.Group).
				Int("attempt", task.Attempt).
				Msg("reconciliation failed, returning task")
			if nackErr := r.broker.Nack(task); nackErr != nil {
				if errors.Is(nackErr, broker.ErrDeliveryExhausted) {
					// Already dead-lettered inside the broker; other
					// groups keep reconciling.
					if r.metrics {
						metrics.TasksDeadLettered.Inc()
					}
				} else {
					logger.Error().Err(nackErr).Str("task_id", task.ID).Msg("nack failed")
				}
			}
			continue
		}

		if err := r.broker.Ack(task); err != nil {
			logger.Error().Err(err).Str("task_id", task.ID).Msg("ack failed")
		}
	}
}
