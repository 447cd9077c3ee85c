package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waitline/waitline/pkg/models"
	"github.com/waitline/waitline/pkg/persistence"
)

var fileNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Persistence {
	t.Helper()

	return NewPersistence(t.TempDir())
}

func sampleWait(id, stepID string) *models.WaitExecution {
	scheduledAt := fileNow.Add(time.Hour)

	return &models.WaitExecution{
		ID:                  id,
		WorkflowExecutionID: "wfexec-1",
		StepID:              stepID,
		WaitType:            models.WaitTypeFixedTime,
		ScheduledAt:         &scheduledAt,
		Status:              models.WaitStatusScheduled,
		Version:             1,
		CreatedAt:           fileNow,
		UpdatedAt:           fileNow,
	}
}

func TestFileWaitRepository_RoundTrip(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()

	wait := sampleWait("wait-1", "step-1")
	require.NoError(t, store.WaitExecutions().Create(ctx, wait))

	fetched, err := store.WaitExecutions().GetByID(ctx, "wait-1")
	require.NoError(t, err)
	assert.Equal(t, wait.ID, fetched.ID)
	assert.Equal(t, wait.Status, fetched.Status)
	require.NotNil(t, fetched.ScheduledAt)
	assert.True(t, wait.ScheduledAt.Equal(*fetched.ScheduledAt))

	_, err = store.WaitExecutions().GetByID(ctx, "missing")
	assert.True(t, persistence.IsWaitExecutionNotFound(err))
}

func TestFileWaitRepository_ActiveStepUniqueness(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.WaitExecutions().Create(ctx, sampleWait("wait-1", "step-1")))

	err := store.WaitExecutions().Create(ctx, sampleWait("wait-2", "step-1"))
	assert.True(t, persistence.IsWaitAlreadyExists(err))

	require.NoError(t, store.WaitExecutions().Create(ctx, sampleWait("wait-2", "step-2")))
}

func TestFileWaitRepository_TransitionStatus(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.WaitExecutions().Create(ctx, sampleWait("wait-1", "step-1")))

	err := store.WaitExecutions().TransitionStatus(ctx,
		"wait-1", 7, models.WaitStatusResumed, models.ResumedByScheduler, fileNow)
	assert.True(t, persistence.IsVersionConflict(err))

	require.NoError(t, store.WaitExecutions().TransitionStatus(ctx,
		"wait-1", 1, models.WaitStatusResumed, models.ResumedByScheduler, fileNow))

	fetched, err := store.WaitExecutions().GetByID(ctx, "wait-1")
	require.NoError(t, err)
	assert.Equal(t, models.WaitStatusResumed, fetched.Status)
	assert.Equal(t, int64(2), fetched.Version)

	// Terminal records refuse further transitions.
	err = store.WaitExecutions().TransitionStatus(ctx,
		"wait-1", 2, models.WaitStatusCancelled, models.ResumedByCancelled, fileNow)
	assert.True(t, persistence.IsVersionConflict(err))
}

func TestFileListenerRepository_Lifecycle(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()

	expiresAt := fileNow.Add(time.Hour)
	listener := &models.EventListener{
		ID:              "listener-1",
		WaitExecutionID: "wait-1",
		EventType:       "email_open",
		ContactID:       "contact-1",
		ExpiresAt:       &expiresAt,
		Status:          models.ListenerStatusActive,
		CreatedAt:       fileNow,
		UpdatedAt:       fileNow,
	}
	require.NoError(t, store.EventListeners().Create(ctx, listener))

	active, err := store.EventListeners().ActiveByKey(ctx, "email_open", "contact-1")
	require.NoError(t, err)
	require.Len(t, active, 1)

	expired, err := store.EventListeners().ActiveExpiredBefore(ctx, expiresAt.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	require.NoError(t, store.EventListeners().MarkMatched(ctx, "listener-1", "evt-1", fileNow))

	matched, err := store.EventListeners().GetByID(ctx, "listener-1")
	require.NoError(t, err)
	assert.Equal(t, models.ListenerStatusMatched, matched.Status)

	// Settled listeners are no longer matchable and further updates are
	// no-ops.
	active, err = store.EventListeners().ActiveByKey(ctx, "email_open", "contact-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, store.EventListeners().UpdateStatus(ctx, "listener-1", models.ListenerStatusExpired, fileNow))

	still, err := store.EventListeners().GetByID(ctx, "listener-1")
	require.NoError(t, err)
	assert.Equal(t, models.ListenerStatusMatched, still.Status)
}
