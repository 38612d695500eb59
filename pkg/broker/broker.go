// Package broker delivers reconciliation tasks: one task per scaling group
// at a time, FIFO per group, with bounded redelivery and a dead-letter
// destination. Two backends exist: an in-process queue for standalone and
// test use, and a durable BoltDB-backed queue that survives restarts.
package broker

import (
	"context"
	"errors"

	"github.com/flocksync/flocksync/pkg/types"
)

var (
	// ErrClosed is returned by operations on a closed broker.
	ErrClosed = errors.New("broker closed")
	// ErrDeliveryExhausted is returned by Nack when the task exceeded its
	// redelivery bound and was moved to the dead-letter destination.
	ErrDeliveryExhausted = errors.New("delivery attempts exhausted")
)

// Task is a reconciliation task in flight. Receipt ties Ack/Nack back to
// the delivery that handed the task out.
type Task struct {
	types.ReconciliationTask
	receipt uint64
}

// Broker is the task delivery contract. Dequeue blocks until a task is
// available or the context is done. A group with an in-flight task is never
// handed out again until that task is Acked or Nacked.
type Broker interface {
	Enqueue(ctx context.Context, group string, reason types.TriggerReason) error
	Dequeue(ctx context.Context) (*Task, error)
	Ack(task *Task) error
	Nack(task *Task) error
	Close() error
}

// DeadLetterReader exposes the dead-letter destination for inspection.
type DeadLetterReader interface {
	DeadLetters() ([]types.ReconciliationTask, error)
}
