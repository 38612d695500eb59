package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flocksync/flocksync/pkg/types"
)

func TestMemoryBrokerEnqueueDequeue(t *testing.T) {
	b := NewMemoryBroker(4)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerSchedule))

	task, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "web", task.Group)
	assert.Equal(t, types.TriggerSchedule, task.Reason)
	assert.Equal(t, 1, task.Attempt)
	assert.NotEmpty(t, task.ID)

	require.NoError(t, b.Ack(task))
}

func TestMemoryBrokerPerGroupSerialization(t *testing.T) {
	b := NewMemoryBroker(4)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerSchedule))

	first, err := b.Dequeue(ctx)
	require.NoError(t, err)

	// A second task for the same group arrives while the first is in
	// flight; it must not be handed out until the first is acked.
	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerEvent))

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = b.Dequeue(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, b.Ack(first))

	second, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "web", second.Group)
	assert.Equal(t, types.TriggerEvent, second.Reason)
	require.NoError(t, b.Ack(second))
}

func TestMemoryBrokerCrossGroupConcurrency(t *testing.T) {
	b := NewMemoryBroker(4)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerSchedule))
	require.NoError(t, b.Enqueue(ctx, "api", types.TriggerSchedule))

	first, err := b.Dequeue(ctx)
	require.NoError(t, err)
	second, err := b.Dequeue(ctx)
	require.NoError(t, err)

	// Different groups are dequeued concurrently, FIFO across groups.
	assert.Equal(t, "web", first.Group)
	assert.Equal(t, "api", second.Group)

	require.NoError(t, b.Ack(first))
	require.NoError(t, b.Ack(second))
}

func TestMemoryBrokerCollapsesDuplicates(t *testing.T) {
	b := NewMemoryBroker(4)
	defer b.Close()

	ctx := context.Background()

	// Nothing in flight: one waiting task per group.
	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerSchedule))
	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerSchedule))
	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerSchedule))

	task, err := b.Dequeue(ctx)
	require.NoError(t, err)

	// One more may queue behind the in-flight task; further arrivals
	// collapse into it.
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

func TestMemoryBrokerNackRedelivers(t *testing.T) {
	b := NewMemoryBroker(4)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerSchedule))

	task, err := b.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Nack(task))

	redelivered, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, redelivered.ID)
	assert.Equal(t, 2, redelivered.Attempt)
	assert.Equal(t, types.TriggerRetry, redelivered.Reason)
	require.NoError(t, b.Ack(redelivered))
}

func TestMemoryBrokerDeadLettersAfterMaxAttempts(t *testing.T) {
	b := NewMemoryBroker(4)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerSchedule))

	var lastErr error
	for attempt := 1; attempt <= 4; attempt++ {
		task, err := b.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, attempt, task.Attempt)
		lastErr = b.Nack(task)
	}
	assert.ErrorIs(t, lastErr, ErrDeliveryExhausted)

	dead, err := b.DeadLetters()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "web", dead[0].Group)
	assert.Equal(t, 4, dead[0].Attempt)

	// The group is free again after dead-lettering.
	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerSchedule))
	task, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, task.Attempt)
	require.NoError(t, b.Ack(task))
}

func TestMemoryBrokerAckRequiresInFlight(t *testing.T) {
	b := NewMemoryBroker(4)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, "web", types.TriggerSchedule))
	task, err := b.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Ack(task))
	assert.Error(t, b.Ack(task))
	assert.Error(t, b.Nack(task))
}

func TestMemoryBrokerBackToBackAcksWakeAllWaiters(t *testing.T) {
	b := NewMemoryBroker(4)
	defer b.Close()
	ctx := context.Background()

	// Two groups with their heads in flight and one task waiting behind each.
	require.NoError(t, b.Enqueue(ctx, "g1", types.TriggerSchedule))
	require.NoError(t, b.Enqueue(ctx, "g2", types.TriggerSchedule))
	first, err := b.Dequeue(ctx)
	require.NoError(t, err)
	second, err := b.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Enqueue(ctx, "g1", types.TriggerEvent))
	require.NoError(t, b.Enqueue(ctx, "g2", types.TriggerEvent))

	// Two idle workers block before the acks land.
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

func TestMemoryBrokerClose(t *testing.T) {
	b := NewMemoryBroker(4)
	require.NoError(t, b.Close())

	err := b.Enqueue(context.Background(), "web", types.TriggerSchedule)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = b.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	// Closing twice is safe.
	assert.NoError(t, b.Close())
}
