package broker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/flocksync/flocksync/pkg/types"
)

func openTestBroker(t *testing.T) (*BoltBroker, *bolt.DB) {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "queue.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	b, err := NewBoltBroker(db, 2)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, db
}

func TestBoltBrokerRoundtrip(t *testing.T) {
	b, _ := openTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerEvent))

	task, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "web", task.Group)
	assert.Equal(t, types.TriggerEvent, task.Reason)
	require.NoError(t, b.Ack(task))

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = b.Dequeue(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBoltBrokerPerGroupFIFO(t *testing.T) {
	b, _ := openTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerSchedule))
	require.NoError(t, b.Enqueue(ctx, "api", types.TriggerSchedule))

	first, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "web", first.Group)

	// web is busy, so the next delivery skips to api.
	second, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "api", second.Group)

	require.NoError(t, b.Ack(first))
	require.NoError(t, b.Ack(second))
}

func TestBoltBrokerCollapsesWaitingDuplicates(t *testing.T) {
	b, _ := openTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerSchedule))
	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerSchedule))

	task, err := b.Dequeue(ctx)
	require.NoError(t, err)

	// One arrival while in flight is kept, further ones collapse.
	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerEvent))
	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerEvent))
	require.NoError(t, b.Ack(task))

	task, err = b.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Ack(task))

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = b.Dequeue(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBoltBrokerNackAndDeadLetter(t *testing.T) {
	b, _ := openTestBroker(t) // maxAttempts = 2
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerSchedule))

	task, err := b.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Nack(task))

	task, err = b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, task.Attempt)
	assert.Equal(t, types.TriggerRetry, task.Reason)

	err = b.Nack(task)
	assert.ErrorIs(t, err, ErrDeliveryExhausted)

	dead, err := b.DeadLetters()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "web", dead[0].Group)
}

func TestBoltBrokerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.db")
	ctx := context.Background()

	db, err := bolt.Open(path, 0600, nil)
	require.NoError(t, err)
	b, err := NewBoltBroker(db, 4)
	require.NoError(t, err)
	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerEvent))
	require.NoError(t, b.Close())
	require.NoError(t, db.Close())

	db, err = bolt.Open(path, 0600, nil)
	require.NoError(t, err)
	defer db.Close()
	b, err = NewBoltBroker(db, 4)
	require.NoError(t, err)
	defer b.Close()

	task, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "web", task.Group)
	require.NoError(t, b.Ack(task))
}

func TestBoltBrokerBackToBackAcksWakeAllWaiters(t *testing.T) {
	b, _ := openTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, "g1", types.TriggerSchedule))
	require.NoError(t, b.Enqueue(ctx, "g2", types.TriggerSchedule))
	first, err := b.Dequeue(ctx)
	require.NoError(t, err)
	second, err := b.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Enqueue(ctx, "g1", types.TriggerEvent))
	require.NoError(t, b.Enqueue(ctx, "g2", types.TriggerEvent))

	got := make(chan string, 2)
	for i := 0; i < 2; i++ {
		go func() {
			workerCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			task, err := b.Dequeue(workerCtx)
			if err != nil {
				got <- "error: " + err.Error()
				return
			}
			got <- task.Group
		}()
	}
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Ack(first))
	require.NoError(t, b.Ack(second))

	groups := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case g := <-got:
			groups[g] = true
		case <-time.After(time.Second):
			t.Fatal("a worker never woke after the acks")
		}
	}
	assert.True(t, groups["g1"], "g1 task not delivered: %v", groups)
	assert.True(t, groups["g2"], "g2 task not delivered: %v", groups)
}
