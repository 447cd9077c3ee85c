// Package cancellation cascades lifecycle changes onto active waits.
// Workflow deactivation, contact opt-out, and goal attainment all end
// the same way: every affected wait is claimed as cancelled through the
// resume coordinator, its queue entry and listeners cleaned up with it.
package cancellation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/waitline/waitline/pkg/coordinator"
	"github.com/waitline/waitline/pkg/models"
	"github.com/waitline/waitline/pkg/persistence"
	"github.com/waitline/waitline/pkg/protocol"
)

// Cancellation reasons recorded on the wait's lifecycle event.
const (
	ReasonManual              = "manual"
	ReasonWorkflowDeactivated = "workflow_deactivated"
	ReasonContactOptOut       = "contact_opt_out"
	ReasonGoalAchieved        = "goal_achieved"
)

// Manager cancels waits individually or in cascades. Cancellation never
// invokes the workflow engine; the workflow simply stops where it was.
type Manager struct {
	waits     persistence.WaitExecutionRepository
	listeners persistence.EventListenerRepository
	resumer   *coordinator.Coordinator
	logger    *slog.Logger
}

func NewManager(store persistence.Persistence, resumer *coordinator.Coordinator, deps protocol.Dependencies) *Manager {
	return &Manager{
		waits:     store.WaitExecutions(),
		listeners: store.EventListeners(),
		resumer:   resumer,
		logger:    deps.Logger.With("component", "cancellation"),
	}
}

// Cancel cancels one wait. Cancelling an already-terminal wait is an
// idempotent no-op; the returned bool reports whether this call did the
// cancelling.
func (m *Manager) Cancel(ctx context.Context, waitExecutionID, reason string) (bool, error) {
	outcome, err := m.resumer.AttemptResume(ctx, coordinator.Request{
		WaitExecutionID: waitExecutionID,
		Status:          models.WaitStatusCancelled,
		ResumedBy:       models.ResumedByCancelled,
		Reason:          reason,
	})
	if err != nil {
		return false, fmt.Errorf("failed to cancel wait %s: %w", waitExecutionID, err)
	}

	if outcome.Transitioned {
		m.logger.Info("Cancelled wait execution",
			"wait_execution_id", waitExecutionID,
			"reason", reason)
	}

	return outcome.Transitioned, nil
}

// CancelAllForWorkflowExecution cancels every active wait of a workflow
// execution. Waits that settle concurrently are skipped; the count of
// waits actually cancelled is returned.
func (m *Manager) CancelAllForWorkflowExecution(ctx context.Context, workflowExecutionID, reason string) (int, error) {
	active, err := m.waits.ListActiveByWorkflowExecution(ctx, workflowExecutionID)
	if err != nil {
		return 0, fmt.Errorf("failed to list active waits: %w", err)
	}

	cancelled := 0

	for _, wait := range active {
		transitioned, err := m.cancelTolerant(ctx, wait.ID, reason)
		if err != nil {
			return cancelled, err
		}

		if transitioned {
			cancelled++
		}
	}

	if cancelled > 0 {
		m.logger.Info("Cancelled waits for workflow execution",
			"workflow_execution_id", workflowExecutionID,
			"reason", reason,
			"cancelled", cancelled)
	}

	return cancelled, nil
}

// CancelAllForContact cancels every event wait listening on behalf of a
// contact, for opt-out cascades. Time-based waits of the contact's
// workflows are not touched; only its listeners identify it here.
func (m *Manager) CancelAllForContact(ctx context.Context, contactID, reason string) (int, error) {
	active, err := m.listeners.ActiveByContact(ctx, contactID)
	if err != nil {
		return 0, fmt.Errorf("failed to list contact listeners: %w", err)
	}

	cancelled := 0

	for _, listener := range active {
		transitioned, err := m.cancelTolerant(ctx, listener.WaitExecutionID, reason)
		if err != nil {
			return cancelled, err
		}

		if transitioned {
			cancelled++
		}
	}

	if cancelled > 0 {
		m.logger.Info("Cancelled waits for contact",
			"contact_id", contactID,
			"reason", reason,
			"cancelled", cancelled)
	}

	return cancelled, nil
}

// cancelTolerant swallows transient claim conflicts so one contested
// wait does not abort the rest of a cascade.
func (m *Manager) cancelTolerant(ctx context.Context, waitExecutionID, reason string) (bool, error) {
	outcome, err := m.resumer.AttemptResume(ctx, coordinator.Request{
		WaitExecutionID: waitExecutionID,
		Status:          models.WaitStatusCancelled,
		ResumedBy:       models.ResumedByCancelled,
		Reason:          reason,
	})
	if err != nil {
		if errors.Is(err, coordinator.ErrTransientConflict) || persistence.IsWaitExecutionNotFound(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to cancel wait %s: %w", waitExecutionID, err)
	}

	return outcome.Transitioned, nil
}
