package reconciler

import (
	"context"
	"time"

	"github.com/flocksync/flocksync/pkg/broker"
	"github.com/flocksync/flocksync/pkg/lifecycle"
	"github.com/flocksync/flocksync/pkg/log"
	"github.com/flocksync/flocksync/pkg/store"
	"github.com/flocksync/flocksync/pkg/types"
)

// Scheduler periodically enqueues a reconciliation task for every group in
// the config set. It is the self-healing trigger: even with no lifecycle
// events, DNS re-converges on this interval.
type Scheduler struct {
	configs  lifecycle.ConfigLoader
	broker   broker.Broker
	interval time.Duration
	stopCh   chan struct{}
}

// NewScheduler creates a scheduler.
func NewScheduler(configs lifecycle.ConfigLoader, b broker.Broker, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		configs:  configs,
		broker:   b,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the scheduling loop
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	// Enqueue once at startup so a fresh controller converges immediately.
	s.enqueueAll()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.enqueueAll()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) enqueueAll() {
	logger := log.WithComponent("scheduler")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	configs, err := s.configs(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load configs")
		return
	}
	groups := store.Groups(configs)
	for _, group := range groups {
		if err := s.broker.Enqueue(ctx, group, types.TriggerSchedule); err != nil {
			logger.Error().Err(err).Str("scaling_group", group).Msg("failed to enqueue task")
		}
	}
	logger.Debug().Int("groups", len(groups)).Msg("scheduled reconciliation")
}
