// Package coordinator owns every transition of a wait execution into a
// terminal state. Concurrent dispatchers, concurrent event delivery, and
// cancellation races all converge on the same compare-and-set here, so
// exactly one caller wins and everyone else observes an idempotent no-op.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/waitline/waitline/pkg/events"
	"github.com/waitline/waitline/pkg/eventbus"
	"github.com/waitline/waitline/pkg/models"
	"github.com/waitline/waitline/pkg/persistence"
	"github.com/waitline/waitline/pkg/protocol"
	"github.com/waitline/waitline/pkg/queue"
)

// ErrTransientConflict is returned when the compare-and-set lost twice
// in a row. The caller retries on its next poll cycle; the wait stays
// claimable.
var ErrTransientConflict = errors.New("transient resume conflict, retry on next cycle")

// Request describes one resume attempt.
type Request struct {
	WaitExecutionID string

	// Status is the terminal state to claim: resumed, timeout,
	// cancelled, or error.
	Status    models.WaitStatus
	ResumedBy models.ResumedBy

	// ListenerID and EventID record which listener matched (event path)
	// or expired (timeout path).
	ListenerID string
	EventID    string

	// Reason annotates cancellations and terminate callbacks.
	Reason string
}

// Outcome reports what a resume attempt observed. Transitioned is false
// when the wait was already terminal: not an error, just a lost race.
type Outcome struct {
	Wait         *models.WaitExecution
	Transitioned bool
}

// Coordinator performs the atomic claim and the post-commit follow-ups:
// queue/listener deregistration, lifecycle event publication, and the
// engine callback.
type Coordinator struct {
	waits     persistence.WaitExecutionRepository
	listeners persistence.EventListenerRepository
	queue     queue.SchedulerQueue
	publisher eventbus.EventPublisher
	callbacks protocol.EngineCallbacks
	clock     clockwork.Clock
	logger    *slog.Logger
}

func NewCoordinator(
	store persistence.Persistence,
	schedulerQueue queue.SchedulerQueue,
	publisher eventbus.EventPublisher,
	callbacks protocol.EngineCallbacks,
	deps protocol.Dependencies,
) *Coordinator {
	return &Coordinator{
		waits:     store.WaitExecutions(),
		listeners: store.EventListeners(),
		queue:     schedulerQueue,
		publisher: publisher,
		callbacks: callbacks,
		clock:     deps.Clock,
		logger:    deps.Logger.With("component", "resume_coordinator"),
	}
}

// AttemptResume claims the wait for req.Status. Already-terminal waits
// return a no-op Outcome with the final state: double resumes,
// resume-after-cancel, and simultaneous cancel/resume are absorbed here
// rather than surfaced as errors. The first compare-and-set to commit
// wins; no ordering between a scheduled resume and a cancellation
// arriving in the same instant is promised beyond that.
func (c *Coordinator) AttemptResume(ctx context.Context, req Request) (*Outcome, error) {
	wait, err := c.waits.GetByID(ctx, req.WaitExecutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load wait execution: %w", err)
	}

	// One local retry on a lost compare-and-set; after that the caller
	// defers to its next cycle.
	for attempt := 0; attempt < 2; attempt++ {
		if wait.Status.Terminal() {
			return &Outcome{Wait: wait, Transitioned: false}, nil
		}

		now := c.clock.Now().UTC()

		err = c.waits.TransitionStatus(ctx, wait.ID, wait.Version, req.Status, req.ResumedBy, now)
		if err == nil {
			wait.Status = req.Status
			wait.ResumedBy = req.ResumedBy
			wait.ResumedAt = &now
			wait.Version++

			c.afterCommit(ctx, wait, req)

			return &Outcome{Wait: wait, Transitioned: true}, nil
		}

		if !persistence.IsVersionConflict(err) {
			return nil, fmt.Errorf("failed to transition wait execution: %w", err)
		}

		wait, err = c.waits.GetByID(ctx, req.WaitExecutionID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload wait execution: %w", err)
		}
	}

	c.logger.Warn("Resume claim lost twice, deferring to next cycle",
		"wait_execution_id", req.WaitExecutionID,
		"requested_status", req.Status)

	return nil, ErrTransientConflict
}

// afterCommit runs the follow-ups once the claim is durable. All of
// them are retry-safe: the queue entry and listener updates are
// idempotent, and the engine callbacks are an idempotency contract with
// the workflow engine. Failures are logged, never unwound; the state
// transition already happened.
func (c *Coordinator) afterCommit(ctx context.Context, wait *models.WaitExecution, req Request) {
	if err := c.queue.Remove(ctx, wait.ID); err != nil {
		c.logger.Error("Failed to remove claimed resume from queue", "wait_execution_id", wait.ID, "error", err)
	}

	c.settleListeners(ctx, wait, req)
	c.publish(ctx, wait, req)
	c.notifyEngine(ctx, wait, req)
}

func (c *Coordinator) settleListeners(ctx context.Context, wait *models.WaitExecution, req Request) {
	switch {
	case req.Status == models.WaitStatusResumed && req.ResumedBy == models.ResumedByEvent && req.ListenerID != "":
		if err := c.listeners.MarkMatched(ctx, req.ListenerID, req.EventID, *wait.ResumedAt); err != nil {
			c.logger.Error("Failed to mark listener matched", "listener_id", req.ListenerID, "error", err)
		}
	case req.Status == models.WaitStatusTimeout && req.ListenerID != "":
		if err := c.listeners.UpdateStatus(ctx, req.ListenerID, models.ListenerStatusExpired, c.clock.Now().UTC()); err != nil {
			c.logger.Error("Failed to mark listener expired", "listener_id", req.ListenerID, "error", err)
		}
	default:
		// Cancellation or manual resume: close whatever listeners the
		// wait still holds, in the same logical operation.
		active, err := c.listeners.ActiveByWaitExecution(ctx, wait.ID)
		if err != nil {
			c.logger.Error("Failed to list listeners for cleanup", "wait_execution_id", wait.ID, "error", err)

			return
		}

		for _, listener := range active {
			if err := c.listeners.UpdateStatus(ctx, listener.ID, models.ListenerStatusCancelled, c.clock.Now().UTC()); err != nil {
				c.logger.Error("Failed to cancel listener", "listener_id", listener.ID, "error", err)
			}
		}
	}
}

func (c *Coordinator) publish(ctx context.Context, wait *models.WaitExecution, req Request) {
	if c.publisher == nil {
		return
	}

	base := events.BaseEvent{
		ID:                  uuid.NewString(),
		Timestamp:           c.clock.Now().UTC(),
		WaitExecutionID:     wait.ID,
		WorkflowExecutionID: wait.WorkflowExecutionID,
		StepID:              wait.StepID,
	}

	var event eventbus.Event

	switch req.Status {
	case models.WaitStatusResumed:
		base.Type = events.WaitResumedEvent
		event = events.WaitResumed{BaseEvent: base, ResumedBy: req.ResumedBy, ResumedAt: *wait.ResumedAt}
	case models.WaitStatusTimeout:
		base.Type = events.WaitTimedOutEvent
		event = events.WaitTimedOut{BaseEvent: base, TimeoutAction: wait.TimeoutAction}
	case models.WaitStatusCancelled:
		base.Type = events.WaitCancelledEvent
		event = events.WaitCancelled{BaseEvent: base, Reason: req.Reason}
	default:
		return
	}

	if err := c.publisher.Publish(ctx, wait.WorkflowExecutionID, event); err != nil {
		c.logger.Error("Failed to publish wait lifecycle event", "wait_execution_id", wait.ID, "error", err)
	}
}

// notifyEngine invokes the workflow engine callback after the claim is
// committed, outside any store transaction, so a slow engine cannot
// stall other waits' claims.
func (c *Coordinator) notifyEngine(ctx context.Context, wait *models.WaitExecution, req Request) {
	if c.callbacks == nil {
		return
	}

	var err error

	switch req.Status {
	case models.WaitStatusResumed:
		err = c.callbacks.OnResume(ctx, wait.WorkflowExecutionID, wait.StepID, req.ResumedBy)
	case models.WaitStatusTimeout:
		if wait.TimeoutAction == models.TimeoutActionExit {
			err = c.callbacks.OnTimeoutExit(ctx, wait.WorkflowExecutionID, wait.StepID, models.TerminateReasonWaitTimeout)
		} else {
			err = c.callbacks.OnResume(ctx, wait.WorkflowExecutionID, wait.StepID, models.ResumedByTimeout)
		}
	default:
		// Cancellation short-circuits the wait; the engine initiated or
		// observed the trigger itself and gets no callback.
		return
	}

	if err != nil {
		c.logger.Error("Engine callback failed",
			"wait_execution_id", wait.ID,
			"workflow_execution_id", wait.WorkflowExecutionID,
			"step_id", wait.StepID,
			"error", err)
	}
}
