package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var queueNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryQueue_PopDueIsNonDestructive(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "wait-1", queueNow.Add(-time.Minute)))

	due, err := q.PopDue(ctx, queueNow, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	// The entry survives until explicitly removed after a claim.
	due, err = q.PopDue(ctx, queueNow, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, q.Remove(ctx, "wait-1"))

	due, err = q.PopDue(ctx, queueNow, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestMemoryQueue_PopDueOrderAndLimit(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "wait-c", queueNow.Add(-time.Minute)))
	require.NoError(t, q.Enqueue(ctx, "wait-a", queueNow.Add(-3*time.Minute)))
	require.NoError(t, q.Enqueue(ctx, "wait-b", queueNow.Add(-2*time.Minute)))
	require.NoError(t, q.Enqueue(ctx, "wait-future", queueNow.Add(time.Hour)))

	due, err := q.PopDue(ctx, queueNow, 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "wait-a", due[0].WaitExecutionID)
	assert.Equal(t, "wait-b", due[1].WaitExecutionID)
}

func TestMemoryQueue_EnqueueReplacesSchedule(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "wait-1", queueNow.Add(time.Hour)))
	require.NoError(t, q.Enqueue(ctx, "wait-1", queueNow.Add(-time.Minute)))

	due, err := q.PopDue(ctx, queueNow, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, queueNow.Add(-time.Minute), due[0].ScheduledAt)
}

func TestMemoryQueue_CancelAbsentIsNoOp(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Cancel(ctx, "never-enqueued"))

	require.NoError(t, q.Enqueue(ctx, "wait-1", queueNow.Add(-time.Minute)))
	require.NoError(t, q.Cancel(ctx, "wait-1"))

	due, err := q.PopDue(ctx, queueNow, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}
