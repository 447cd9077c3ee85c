// Package listeners maintains the registry of active event listeners
// and routes inbound contact events to the waits they should resume.
package listeners

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/waitline/waitline/pkg/coordinator"
	"github.com/waitline/waitline/pkg/models"
	"github.com/waitline/waitline/pkg/persistence"
	"github.com/waitline/waitline/pkg/protocol"
)

// MatchResult reports the outcome of routing one inbound event.
type MatchResult struct {
	// Matched holds the listeners whose waits this event resumed.
	Matched []*models.EventListener

	// Skipped counts listeners that looked active but lost the resume
	// race or were already settled by the time we claimed them.
	Skipped int
}

// Registry registers listeners when event waits are created and matches
// inbound events against them. Matching is mediated by the resume
// coordinator, so a listener whose wait was concurrently cancelled or
// timed out is skipped silently rather than resumed twice.
type Registry struct {
	listeners persistence.EventListenerRepository
	resumer   *coordinator.Coordinator
	clock     clockwork.Clock
	logger    *slog.Logger
}

func NewRegistry(store persistence.Persistence, resumer *coordinator.Coordinator, deps protocol.Dependencies) *Registry {
	return &Registry{
		listeners: store.EventListeners(),
		resumer:   resumer,
		clock:     deps.Clock,
		logger:    deps.Logger.With("component", "listener_registry"),
	}
}

// Register creates an active listener for an event wait. ExpiresAt is
// copied from the wait's event timeout, nil for indefinite waits.
func (r *Registry) Register(ctx context.Context, wait *models.WaitExecution) (*models.EventListener, error) {
	if wait.WaitType != models.WaitTypeForEvent {
		return nil, fmt.Errorf("wait %s is not an event wait", wait.ID)
	}

	now := r.clock.Now().UTC()
	listener := &models.EventListener{
		ID:                  uuid.NewString(),
		WaitExecutionID:     wait.ID,
		WorkflowExecutionID: wait.WorkflowExecutionID,
		EventType:           wait.EventType,
		ContactID:           wait.ContactID,
		CorrelationID:       wait.CorrelationID,
		ExpiresAt:           wait.EventTimeoutAt,
		Status:              models.ListenerStatusActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := r.listeners.Create(ctx, listener); err != nil {
		return nil, fmt.Errorf("failed to register listener: %w", err)
	}

	r.logger.Info("Registered event listener",
		"listener_id", listener.ID,
		"wait_execution_id", wait.ID,
		"event_type", listener.EventType,
		"contact_id", listener.ContactID)

	return listener, nil
}

// Match routes one inbound event. Every active listener whose key
// matches gets its wait claimed independently: several workflows
// waiting on the same contact event each resume exactly once, and
// listeners that lose a concurrent race are skipped without error. An
// event matching nothing is a no-op.
func (r *Registry) Match(ctx context.Context, eventType, contactID, correlationID, eventID string, occurredAt time.Time) (*MatchResult, error) {
	candidates, err := r.listeners.ActiveByKey(ctx, eventType, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to query listeners: %w", err)
	}

	result := &MatchResult{}

	for _, listener := range candidates {
		// A listener carrying a correlation ID only matches the event
		// that carries the same one.
		if listener.CorrelationID != "" && listener.CorrelationID != correlationID {
			continue
		}

		// A listener past its expiry races with the timeout sweep; let
		// the sweep win so the configured timeoutAction applies.
		if listener.Expired(occurredAt) {
			result.Skipped++

			continue
		}

		outcome, err := r.resumer.AttemptResume(ctx, coordinator.Request{
			WaitExecutionID: listener.WaitExecutionID,
			Status:          models.WaitStatusResumed,
			ResumedBy:       models.ResumedByEvent,
			ListenerID:      listener.ID,
			EventID:         eventID,
		})
		if err != nil {
			if errors.Is(err, coordinator.ErrTransientConflict) {
				result.Skipped++

				continue
			}

			return result, fmt.Errorf("failed to resume wait %s: %w", listener.WaitExecutionID, err)
		}

		if outcome.Transitioned {
			result.Matched = append(result.Matched, listener)
		} else {
			result.Skipped++
		}
	}

	if len(result.Matched) > 0 {
		r.logger.Info("Event matched listeners",
			"event_type", eventType,
			"contact_id", contactID,
			"event_id", eventID,
			"matched", len(result.Matched),
			"skipped", result.Skipped)
	}

	return result, nil
}

// SweepExpired claims waits whose listeners passed their expiry. Each
// expired listener's wait transitions to timeout through the
// coordinator, which applies the wait's timeoutAction and marks the
// listener expired after the claim.
func (r *Registry) SweepExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	expired, err := r.listeners.ActiveExpiredBefore(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to query expired listeners: %w", err)
	}

	swept := 0

	for _, listener := range expired {
		outcome, err := r.resumer.AttemptResume(ctx, coordinator.Request{
			WaitExecutionID: listener.WaitExecutionID,
			Status:          models.WaitStatusTimeout,
			ResumedBy:       models.ResumedByTimeout,
			ListenerID:      listener.ID,
		})
		if err != nil {
			if errors.Is(err, coordinator.ErrTransientConflict) {
				continue
			}

			r.logger.Error("Failed to time out wait",
				"wait_execution_id", listener.WaitExecutionID,
				"listener_id", listener.ID,
				"error", err)

			continue
		}

		if outcome.Transitioned {
			swept++
		} else if !outcome.Wait.Status.Terminal() {
			// Should not happen, but never strand an active wait with a
			// dead listener.
			continue
		} else if err := r.listeners.UpdateStatus(ctx, listener.ID, models.ListenerStatusExpired, now.UTC()); err != nil {
			r.logger.Error("Failed to expire listener of settled wait", "listener_id", listener.ID, "error", err)
		}
	}

	return swept, nil
}
