package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waitline/waitline/pkg/models"
	"github.com/waitline/waitline/pkg/persistence/memory"
	"github.com/waitline/waitline/pkg/queue"
)

type recordingCallbacks struct {
	resumes      atomic.Int64
	timeoutExits atomic.Int64

	mu         sync.Mutex
	lastReason string
	lastBy     models.ResumedBy
}

func (r *recordingCallbacks) OnResume(_ context.Context, _, _ string, resumedBy models.ResumedBy) error {
	r.resumes.Add(1)
	r.mu.Lock()
	r.lastBy = resumedBy
	r.mu.Unlock()

	return nil
}

func (r *recordingCallbacks) OnTimeoutExit(_ context.Context, _, _ string, reason string) error {
	r.timeoutExits.Add(1)
	r.mu.Lock()
	r.lastReason = reason
	r.mu.Unlock()

	return nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *memory.Persistence, queue.SchedulerQueue, *recordingCallbacks, *clockwork.FakeClock) {
	t.Helper()

	store := memory.NewPersistence()
	schedulerQueue := queue.NewMemoryQueue()
	callbacks := &recordingCallbacks{}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	coord := &Coordinator{
		waits:     store.WaitExecutions(),
		listeners: store.EventListeners(),
		queue:     schedulerQueue,
		callbacks: callbacks,
		clock:     clock,
		logger:    slog.Default(),
	}

	return coord, store, schedulerQueue, callbacks, clock
}

func createWait(t *testing.T, store *memory.Persistence, status models.WaitStatus) *models.WaitExecution {
	t.Helper()

	scheduledAt := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	wait := &models.WaitExecution{
		ID:                  "wait-1",
		WorkflowExecutionID: "wfexec-1",
		StepID:              "step-1",
		WaitType:            models.WaitTypeFixedTime,
		ScheduledAt:         &scheduledAt,
		Status:              status,
		Version:             1,
		CreatedAt:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, store.WaitExecutions().Create(context.Background(), wait))

	return wait
}

func TestAttemptResume_Success(t *testing.T) {
	coord, store, schedulerQueue, callbacks, _ := newTestCoordinator(t)
	ctx := context.Background()

	wait := createWait(t, store, models.WaitStatusScheduled)
	require.NoError(t, schedulerQueue.Enqueue(ctx, wait.ID, *wait.ScheduledAt))

	outcome, err := coord.AttemptResume(ctx, Request{
		WaitExecutionID: wait.ID,
		Status:          models.WaitStatusResumed,
		ResumedBy:       models.ResumedByScheduler,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Transitioned)
	assert.Equal(t, models.WaitStatusResumed, outcome.Wait.Status)
	assert.Equal(t, models.ResumedByScheduler, outcome.Wait.ResumedBy)
	require.NotNil(t, outcome.Wait.ResumedAt)

	assert.Equal(t, int64(1), callbacks.resumes.Load())
	assert.Equal(t, int64(0), callbacks.timeoutExits.Load())

	// Queue entry is gone after the claim.
	due, err := schedulerQueue.PopDue(ctx, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestAttemptResume_AlreadyTerminalIsNoOp(t *testing.T) {
	coord, store, _, callbacks, _ := newTestCoordinator(t)
	ctx := context.Background()

	wait := createWait(t, store, models.WaitStatusScheduled)

	outcome, err := coord.AttemptResume(ctx, Request{
		WaitExecutionID: wait.ID,
		Status:          models.WaitStatusResumed,
		ResumedBy:       models.ResumedByScheduler,
	})
	require.NoError(t, err)
	require.True(t, outcome.Transitioned)

	// Second attempt observes the terminal state and does nothing.
	outcome, err = coord.AttemptResume(ctx, Request{
		WaitExecutionID: wait.ID,
		Status:          models.WaitStatusCancelled,
		ResumedBy:       models.ResumedByCancelled,
	})
	require.NoError(t, err)
	assert.False(t, outcome.Transitioned)
	assert.Equal(t, models.WaitStatusResumed, outcome.Wait.Status)

	assert.Equal(t, int64(1), callbacks.resumes.Load())
}

func TestAttemptResume_ConcurrentClaimsExactlyOneWinner(t *testing.T) {
	coord, store, _, callbacks, _ := newTestCoordinator(t)
	ctx := context.Background()

	wait := createWait(t, store, models.WaitStatusScheduled)

	const claimants = 16

	var (
		wg          sync.WaitGroup
		transitions atomic.Int64
	)

	for i := 0; i < claimants; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			outcome, err := coord.AttemptResume(ctx, Request{
				WaitExecutionID: wait.ID,
				Status:          models.WaitStatusResumed,
				ResumedBy:       models.ResumedByScheduler,
			})
			if err != nil {
				return
			}

			if outcome.Transitioned {
				transitions.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(1), transitions.Load(), "exactly one claimant transitions the wait")
	assert.Equal(t, int64(1), callbacks.resumes.Load(), "engine resumed exactly once")
}

func TestAttemptResume_TimeoutExitInvokesTerminate(t *testing.T) {
	coord, store, _, callbacks, _ := newTestCoordinator(t)
	ctx := context.Background()

	timeoutAt := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	wait := &models.WaitExecution{
		ID:                  "wait-evt",
		WorkflowExecutionID: "wfexec-1",
		StepID:              "step-2",
		WaitType:            models.WaitTypeForEvent,
		EventType:           "email_open",
		ContactID:           "contact-1",
		EventTimeoutAt:      &timeoutAt,
		TimeoutAction:       models.TimeoutActionExit,
		Status:              models.WaitStatusWaiting,
		Version:             1,
	}
	require.NoError(t, store.WaitExecutions().Create(ctx, wait))

	listener := &models.EventListener{
		ID:                  "listener-1",
		WaitExecutionID:     wait.ID,
		WorkflowExecutionID: wait.WorkflowExecutionID,
		EventType:           "email_open",
		ContactID:           "contact-1",
		ExpiresAt:           &timeoutAt,
		Status:              models.ListenerStatusActive,
	}
	require.NoError(t, store.EventListeners().Create(ctx, listener))

	outcome, err := coord.AttemptResume(ctx, Request{
		WaitExecutionID: wait.ID,
		Status:          models.WaitStatusTimeout,
		ResumedBy:       models.ResumedByTimeout,
		ListenerID:      listener.ID,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Transitioned)

	assert.Equal(t, int64(0), callbacks.resumes.Load())
	assert.Equal(t, int64(1), callbacks.timeoutExits.Load())
	assert.Equal(t, models.TerminateReasonWaitTimeout, callbacks.lastReason)

	stored, err := store.EventListeners().GetByID(ctx, listener.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListenerStatusExpired, stored.Status)
}

func TestAttemptResume_TimeoutContinueResumesEngine(t *testing.T) {
	coord, store, _, callbacks, _ := newTestCoordinator(t)
	ctx := context.Background()

	wait := &models.WaitExecution{
		ID:                  "wait-evt-cont",
		WorkflowExecutionID: "wfexec-1",
		StepID:              "step-3",
		WaitType:            models.WaitTypeForEvent,
		EventType:           "email_click",
		ContactID:           "contact-1",
		TimeoutAction:       models.TimeoutActionContinue,
		Status:              models.WaitStatusWaiting,
		Version:             1,
	}
	require.NoError(t, store.WaitExecutions().Create(ctx, wait))

	outcome, err := coord.AttemptResume(ctx, Request{
		WaitExecutionID: wait.ID,
		Status:          models.WaitStatusTimeout,
		ResumedBy:       models.ResumedByTimeout,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Transitioned)

	assert.Equal(t, int64(1), callbacks.resumes.Load())
	assert.Equal(t, models.ResumedByTimeout, callbacks.lastBy)
	assert.Equal(t, int64(0), callbacks.timeoutExits.Load())
}

func TestAttemptResume_CancellationClosesListenersWithoutCallback(t *testing.T) {
	coord, store, _, callbacks, _ := newTestCoordinator(t)
	ctx := context.Background()

	wait := &models.WaitExecution{
		ID:                  "wait-cancel",
		WorkflowExecutionID: "wfexec-9",
		StepID:              "step-1",
		WaitType:            models.WaitTypeForEvent,
		EventType:           "form_submit",
		ContactID:           "contact-7",
		Status:              models.WaitStatusWaiting,
		Version:             1,
	}
	require.NoError(t, store.WaitExecutions().Create(ctx, wait))

	listener := &models.EventListener{
		ID:                  "listener-cancel",
		WaitExecutionID:     wait.ID,
		WorkflowExecutionID: wait.WorkflowExecutionID,
		EventType:           "form_submit",
		ContactID:           "contact-7",
		Status:              models.ListenerStatusActive,
	}
	require.NoError(t, store.EventListeners().Create(ctx, listener))

	outcome, err := coord.AttemptResume(ctx, Request{
		WaitExecutionID: wait.ID,
		Status:          models.WaitStatusCancelled,
		ResumedBy:       models.ResumedByCancelled,
		Reason:          "workflow_deactivated",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Transitioned)

	assert.Equal(t, int64(0), callbacks.resumes.Load())
	assert.Equal(t, int64(0), callbacks.timeoutExits.Load())

	stored, err := store.EventListeners().GetByID(ctx, listener.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListenerStatusCancelled, stored.Status)
}
