// Package persistence provides the durable store abstraction for wait
// executions and event listeners.
package persistence

import (
	"context"
	"time"

	"github.com/waitline/waitline/pkg/models"
)

// ListPendingFilter narrows pending-wait listings for the admin surface.
type ListPendingFilter struct {
	WaitType            *models.WaitType
	WorkflowExecutionID string
	Limit               int
	Offset              int
}

// WaitExecutionRepository stores WaitExecution records. Status fields are
// mutated exclusively through TransitionStatus so that every resume,
// timeout, and cancellation path converges on the same compare-and-set.
type WaitExecutionRepository interface {
	// Create inserts a new record. ErrWaitAlreadyExists is returned when
	// an active wait already holds the (workflowExecutionID, stepID) key.
	Create(ctx context.Context, wait *models.WaitExecution) error

	GetByID(ctx context.Context, id string) (*models.WaitExecution, error)

	// GetActiveByStep returns the active (waiting or scheduled) wait for
	// the step, or ErrWaitExecutionNotFound.
	GetActiveByStep(ctx context.Context, workflowExecutionID, stepID string) (*models.WaitExecution, error)

	// TransitionStatus performs the conditional update from a
	// non-terminal status into newStatus, guarded by expectedVersion.
	// ErrVersionConflict is returned when no row matches; the caller
	// re-reads to distinguish a lost race from a stale version.
	TransitionStatus(ctx context.Context, id string, expectedVersion int64, newStatus models.WaitStatus, resumedBy models.ResumedBy, resumedAt time.Time) error

	// ListPending returns waiting and scheduled records.
	ListPending(ctx context.Context, filter ListPendingFilter) ([]*models.WaitExecution, error)

	// ListOverdue returns scheduled records whose scheduledAt is before
	// dueBefore, oldest first.
	ListOverdue(ctx context.Context, dueBefore time.Time, limit int) ([]*models.WaitExecution, error)

	// ListActiveByWorkflowExecution returns active waits for a workflow
	// execution, for cancellation cascades.
	ListActiveByWorkflowExecution(ctx context.Context, workflowExecutionID string) ([]*models.WaitExecution, error)
}

// EventListenerRepository stores EventListener records and serves the
// narrow (eventType, contactID) match lookup plus the expiry sweep.
type EventListenerRepository interface {
	Create(ctx context.Context, listener *models.EventListener) error

	GetByID(ctx context.Context, id string) (*models.EventListener, error)

	// ActiveByKey returns active listeners for the match key.
	ActiveByKey(ctx context.Context, eventType, contactID string) ([]*models.EventListener, error)

	// ActiveExpiredBefore returns active listeners whose expiresAt is at
	// or before now, oldest expiry first.
	ActiveExpiredBefore(ctx context.Context, now time.Time, limit int) ([]*models.EventListener, error)

	// ActiveByWaitExecution returns active listeners owned by a wait.
	ActiveByWaitExecution(ctx context.Context, waitExecutionID string) ([]*models.EventListener, error)

	// ActiveByContact returns active listeners for a contact, for
	// opt-out cancellation cascades.
	ActiveByContact(ctx context.Context, contactID string) ([]*models.EventListener, error)

	// MarkMatched transitions an active listener to matched. A listener
	// already out of active status is a no-op, not an error.
	MarkMatched(ctx context.Context, id, eventID string, matchedAt time.Time) error

	// UpdateStatus transitions an active listener to expired or
	// cancelled. Already-inactive listeners are a no-op.
	UpdateStatus(ctx context.Context, id string, status models.ListenerStatus, updatedAt time.Time) error
}

// Persistence bundles the repositories behind one durable store.
type Persistence interface {
	WaitExecutions() WaitExecutionRepository
	EventListeners() EventListenerRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
