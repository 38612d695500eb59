package broker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/flocksync/flocksync/pkg/log"
	"github.com/flocksync/flocksync/pkg/types"
)

var (
	bucketTasks = []byte("queue_tasks")
	bucketDead  = []byte("queue_dead")
)

// BoltBroker is the durable queue. Pending tasks and dead letters are
// persisted, so an interrupted controller resumes where it stopped. In-flight
// bookkeeping is in memory only: an in-flight task whose worker dies is still
// on disk and simply becomes deliverable again on restart.
type BoltBroker struct {
	db          *bolt.DB
	maxAttempts int

	mu       sync.Mutex
	inflight map[string]uint64
	// wake is closed and replaced under mu to broadcast to every waiting
	// Dequeue.
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewBoltBroker opens a durable broker inside an existing database.
func NewBoltBroker(db *bolt.DB, maxAttempts int) (*BoltBroker, error) {
	if maxAttempts < 1 {
		maxAttempts = 4
	}
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTasks); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketDead)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create queue buckets: %w", err)
	}
	return &BoltBroker{
		db:          db,
		maxAttempts: maxAttempts,
		inflight:    make(map[string]uint64),
		wake:        make(chan struct{}),
		closed:      make(chan struct{}),
	}, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func (b *BoltBroker) Enqueue(ctx context.Context, group string, reason types.TriggerReason) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTasks)

		waiting := 0
		_, busy := b.inflight[group]
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var task types.ReconciliationTask
			if err := json.Unmarshal(v, &task); err != nil {
				continue
			}
			if task.Group == group {
				waiting++
			}
		}
		if busy {
			waiting-- // head of the group's queue is in flight, not waiting
		}
		if waiting > 0 {
			return nil
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		task := types.ReconciliationTask{
			ID:         uuid.New().String(),
			Group:      group,
			Reason:     reason,
			EnqueuedAt: time.Now(),
			Attempt:    1,
		}
		data, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		return bucket.Put(seqKey(seq), data)
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue task for %s: %w", group, err)
	}
	b.signal()
	return nil
}

func (b *BoltBroker) Dequeue(ctx context.Context) (*Task, error) {
	for {
		task, wake, err := b.next()
		if err != nil {
			return nil, err
		}
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

// next scans pending tasks in enqueue order and hands out the first task of
// the first group with nothing in flight. Key order makes the first match
// per group its oldest task, preserving per-group FIFO. The returned wake
// channel is snapshotted under the same lock so a signal between the scan
// and the wait is not lost.
func (b *BoltBroker) next() (*Task, chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out *Task
	err := b.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketTasks).Cursor()
		seen := make(map[string]bool)
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var task types.ReconciliationTask
			if err := json.Unmarshal(v, &task); err != nil {
				continue
			}
			if seen[task.Group] {
				continue
			}
			seen[task.Group] = true
			if _, busy := b.inflight[task.Group]; busy {
				continue
			}
			seq := binary.BigEndian.Uint64(k)
			out = &Task{ReconciliationTask: task, receipt: seq}
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if out != nil {
		b.inflight[out.Group] = out.receipt
	}
	return out, b.wake, nil
}

func (b *BoltBroker) Ack(task *Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inflight[task.Group] != task.receipt {
		return fmt.Errorf("task %s is not in flight", task.ID)
	}
	delete(b.inflight, task.Group)

	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete(seqKey(task.receipt))
	})
	if err != nil {
		return fmt.Errorf("failed to ack task %s: %w", task.ID, err)
	}
	b.signal()
	return nil
}

func (b *BoltBroker) Nack(task *Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inflight[task.Group] != task.receipt {
		return fmt.Errorf("task %s is not in flight", task.ID)
	}
	delete(b.inflight, task.Group)

	exhausted := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTasks)
		key := seqKey(task.receipt)
		data := bucket.Get(key)
		if data == nil {
			return nil
		}
		var stored types.ReconciliationTask
		if err := json.Unmarshal(data, &stored); err != nil {
			return err
		}
		if stored.Attempt >= b.maxAttempts {
			exhausted = true
			if err := bucket.Delete(key); err != nil {
				return err
			}
			return tx.Bucket(bucketDead).Put(key, data)
		}
		stored.Attempt++
		stored.Reason = types.TriggerRetry
		updated, err := json.Marshal(&stored)
		if err != nil {
			return err
		}
		return bucket.Put(key, updated)
	})
	if err != nil {
		return fmt.Errorf("failed to nack task %s: %w", task.ID, err)
	}
	b.signal()
	if exhausted {
		logger := log.WithComponent("broker")
		logger.Error().
			Str("task_id", task.ID).
			Str("scaling_group", task.Group).
			Int("attempts", task.Attempt).
			Msg("task dead-lettered")
		return fmt.Errorf("%w: task %s for group %s", ErrDeliveryExhausted, task.ID, task.Group)
	}
	return nil
}

// DeadLetters returns the persisted dead-letter tasks.
func (b *BoltBroker) DeadLetters() ([]types.ReconciliationTask, error) {
	var out []types.ReconciliationTask
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDead).ForEach(func(k, v []byte) error {
			var task types.ReconciliationTask
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			out = append(out, task)
			return nil
		})
	})
	return out, err
}

func (b *BoltBroker) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

// signal broadcasts to every waiter. Callers hold b.mu.
func (b *BoltBroker) signal() {
	close(b.wake)
	b.wake = make(chan struct{})
}
