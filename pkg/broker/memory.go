package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flocksync/flocksync/pkg/log"
	"github.com/flocksync/flocksync/pkg/types"
)

// MemoryBroker is the in-process queue. Tasks live only in memory; the
// durable variant is boltBroker.
type MemoryBroker struct {
	mu          sync.Mutex
	pending     map[string][]*types.ReconciliationTask
	order       []string // groups in FIFO arrival order
	inflight    map[string]uint64
	deadLetters []types.ReconciliationTask
	maxAttempts int
	nextReceipt uint64
	// wake is closed and replaced under mu to broadcast to every waiting
	// Dequeue; a single-slot channel can drop a wakeup when several acks
	// land while more than one worker is idle.
	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewMemoryBroker creates an in-process broker. maxAttempts bounds
// redeliveries before a task is dead-lettered.
func NewMemoryBroker(maxAttempts int) *MemoryBroker {
	if maxAttempts < 1 {
		maxAttempts = 4
	}
	return &MemoryBroker{
		pending:     make(map[string][]*types.ReconciliationTask),
		inflight:    make(map[string]uint64),
		maxAttempts: maxAttempts,
		wake:        make(chan struct{}),
		closed:      make(chan struct{}),
	}
}

func (b *MemoryBroker) Enqueue(ctx context.Context, group string, reason types.TriggerReason) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// One waiting task per group: a reconciliation recomputes everything,
	// so queueing duplicates only adds latency. A task already in flight
	// does not collapse the new one; the membership change it announces
	// may have landed after that run's snapshot.
	queue := b.pending[group]
	_, busy := b.inflight[group]
	if len(queue) >= 2 || (len(queue) == 1 && !busy) {
		return nil
	}
	b.pending[group] = append(b.pending[group], &types.ReconciliationTask{
		ID:         uuid.New().String(),
		Group:      group,
		Reason:     reason,
		EnqueuedAt: time.Now(),
		Attempt:    1,
	})
	b.enqueueOrderLocked(group)
	b.signal()
	return nil
}

func (b *MemoryBroker) Dequeue(ctx context.Context) (*Task, error) {
	for {
		b.mu.Lock()
		task := b.nextLocked()
		wake := b.wake
		b.mu.Unlock()
		if task != nil {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.closed:
			return nil, ErrClosed
		case <-wake:
		}
	}
}

func (b *MemoryBroker) Ack(task *Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inflight[task.Group] != task.receipt {
		return fmt.Errorf("task %s is not in flight", task.ID)
	}
	delete(b.inflight, task.Group)
	b.popLocked(task.Group)
	b.signal()
	return nil
}

func (b *MemoryBroker) Nack(task *Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inflight[task.Group] != task.receipt {
		return fmt.Errorf("task %s is not in flight", task.ID)
	}
	delete(b.inflight, task.Group)

	queue := b.pending[task.Group]
	if len(queue) == 0 {
		b.signal()
		return nil
	}
	head := queue[0]
	if head.Attempt >= b.maxAttempts {
		b.popLocked(task.Group)
		b.deadLetters = append(b.deadLetters, *head)
		logger := log.WithComponent("broker")
		logger.Error().
			Str("task_id", head.ID).
			Str("scaling_group", head.Group).
			Int("attempts", head.Attempt).
			Msg("task dead-lettered")
		b.signal()
		return fmt.Errorf("%w: task %s for group %s", ErrDeliveryExhausted, head.ID, head.Group)
	}
	head.Attempt++
	head.Reason = types.TriggerRetry
	b.signal()
	return nil
}

// DeadLetters returns a copy of the dead-letter list.
func (b *MemoryBroker) DeadLetters() ([]types.ReconciliationTask, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.ReconciliationTask(nil), b.deadLetters...), nil
}

func (b *MemoryBroker) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

// nextLocked hands out the head task of the first FIFO group that has no
// task in flight, or nil.
func (b *MemoryBroker) nextLocked() *Task {
	for _, group := range b.order {
		if _, busy := b.inflight[group]; busy {
			continue
		}
		queue := b.pending[group]
		if len(queue) == 0 {
			continue
		}
		b.nextReceipt++
		b.inflight[group] = b.nextReceipt
		return &Task{ReconciliationTask: *queue[0], receipt: b.nextReceipt}
	}
	return nil
}

func (b *MemoryBroker) popLocked(group string) {
	queue := b.pending[group]
	if len(queue) <= 1 {
		delete(b.pending, group)
		for i, g := range b.order {
			if g == group {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
		return
	}
	b.pending[group] = queue[1:]
}

func (b *MemoryBroker) enqueueOrderLocked(group string) {
	for _, g := range b.order {
		if g == group {
			return
		}
	}
	b.order = append(b.order, group)
}

// signal broadcasts to every waiter. Callers hold b.mu.
func (b *MemoryBroker) signal() {
	close(b.wake)
	b.wake = make(chan struct{})
}
