// Package engine exposes the wait engine's operations: creating waits,
// ingesting contact events, cancelling, and inspecting pending state.
// It composes the resolver, store, scheduler queue, listener registry,
// and resume coordinator into one service the API and workflow engine
// talk to.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/waitline/waitline/pkg/cancellation"
	"github.com/waitline/waitline/pkg/coordinator"
	"github.com/waitline/waitline/pkg/eventbus"
	"github.com/waitline/waitline/pkg/events"
	"github.com/waitline/waitline/pkg/listeners"
	"github.com/waitline/waitline/pkg/models"
	"github.com/waitline/waitline/pkg/persistence"
	"github.com/waitline/waitline/pkg/protocol"
	"github.com/waitline/waitline/pkg/queue"
	"github.com/waitline/waitline/pkg/resolver"
)

// InboundEvent is a normalized contact event delivered to Notify.
type InboundEvent struct {
	ID            string
	EventType     string
	ContactID     string
	CorrelationID string
	OccurredAt    time.Time
}

// Service is the wait engine facade.
type Service struct {
	resolver  *resolver.Resolver
	waits     persistence.WaitExecutionRepository
	store     persistence.Persistence
	queue     queue.SchedulerQueue
	registry  *listeners.Registry
	resumer   *coordinator.Coordinator
	canceller *cancellation.Manager
	publisher eventbus.EventPublisher
	callbacks protocol.EngineCallbacks
	clock     clockwork.Clock
	logger    *slog.Logger
}

func NewService(
	store persistence.Persistence,
	schedulerQueue queue.SchedulerQueue,
	publisher eventbus.EventPublisher,
	callbacks protocol.EngineCallbacks,
	deps protocol.Dependencies,
) *Service {
	resumer := coordinator.NewCoordinator(store, schedulerQueue, publisher, callbacks, deps)

	return &Service{
		resolver:  resolver.NewResolver(deps.Logger, deps.Clock),
		waits:     store.WaitExecutions(),
		store:     store,
		queue:     schedulerQueue,
		registry:  listeners.NewRegistry(store, resumer, deps),
		resumer:   resumer,
		canceller: cancellation.NewManager(store, resumer, deps),
		publisher: publisher,
		callbacks: callbacks,
		clock:     deps.Clock,
		logger:    deps.Logger.With("component", "wait_engine"),
	}
}

// Coordinator exposes the resume coordinator for the dispatcher.
func (s *Service) Coordinator() *coordinator.Coordinator {
	return s.resumer
}

// Registry exposes the listener registry for the dispatcher.
func (s *Service) Registry() *listeners.Registry {
	return s.registry
}

// CreateWait validates the request, persists the wait, and activates
// it: time waits are enqueued for their resume instant, event waits get
// an active listener, and waits whose target already passed come back
// resumed with the workflow engine notified to continue immediately.
// Nothing is persisted when validation fails.
func (s *Service) CreateWait(ctx context.Context, req resolver.Request) (*models.WaitExecution, error) {
	wait, err := s.resolver.Resolve(req)
	if err != nil {
		return nil, err
	}

	if err := s.waits.Create(ctx, wait); err != nil {
		return nil, fmt.Errorf("failed to persist wait execution: %w", err)
	}

	switch wait.Status {
	case models.WaitStatusScheduled:
		if err := s.queue.Enqueue(ctx, wait.ID, *wait.ScheduledAt); err != nil {
			s.rollbackCreate(ctx, wait)

			return nil, fmt.Errorf("failed to enqueue scheduled resume: %w", err)
		}

		s.publishScheduled(ctx, wait)
	case models.WaitStatusWaiting:
		if _, err := s.registry.Register(ctx, wait); err != nil {
			s.rollbackCreate(ctx, wait)

			return nil, err
		}

		s.publishScheduled(ctx, wait)
	case models.WaitStatusResumed:
		// Past-date wait: the record is terminal from birth and the
		// workflow continues without pausing.
		s.publishResumed(ctx, wait)

		if s.callbacks != nil {
			if err := s.callbacks.OnResume(ctx, wait.WorkflowExecutionID, wait.StepID, wait.ResumedBy); err != nil {
				s.logger.Error("Engine callback failed for past-date wait",
					"wait_execution_id", wait.ID, "error", err)
			}
		}
	}

	s.logger.Info("Created wait execution",
		"wait_execution_id", wait.ID,
		"workflow_execution_id", wait.WorkflowExecutionID,
		"step_id", wait.StepID,
		"wait_type", wait.WaitType,
		"status", wait.Status)

	return wait, nil
}

// rollbackCreate cancels a wait whose activation step failed after the
// record was persisted, so no unreachable non-terminal wait survives
// and the step is released for a retry.
func (s *Service) rollbackCreate(ctx context.Context, wait *models.WaitExecution) {
	if _, err := s.canceller.Cancel(ctx, wait.ID, "activation_failed"); err != nil {
		s.logger.Error("Failed to cancel wait after activation failure",
			"wait_execution_id", wait.ID, "error", err)
	}
}

// GetWait returns one wait execution by ID.
func (s *Service) GetWait(ctx context.Context, id string) (*models.WaitExecution, error) {
	return s.waits.GetByID(ctx, id)
}

// GetActiveWait returns the active wait holding a workflow step, if any.
func (s *Service) GetActiveWait(ctx context.Context, workflowExecutionID, stepID string) (*models.WaitExecution, error) {
	return s.waits.GetActiveByStep(ctx, workflowExecutionID, stepID)
}

// Notify ingests one contact event and resumes every wait listening for
// it. Events that match nothing are dropped silently.
func (s *Service) Notify(ctx context.Context, event InboundEvent) (*listeners.MatchResult, error) {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.clock.Now().UTC()
	}

	return s.registry.Match(ctx, event.EventType, event.ContactID, event.CorrelationID, event.ID, occurredAt)
}

// Cancel cancels a single wait execution.
func (s *Service) Cancel(ctx context.Context, waitExecutionID, reason string) (bool, error) {
	if reason == "" {
		reason = cancellation.ReasonManual
	}

	return s.canceller.Cancel(ctx, waitExecutionID, reason)
}

// CancelWorkflowExecution cancels every active wait of an execution.
func (s *Service) CancelWorkflowExecution(ctx context.Context, workflowExecutionID, reason string) (int, error) {
	if reason == "" {
		reason = cancellation.ReasonWorkflowDeactivated
	}

	return s.canceller.CancelAllForWorkflowExecution(ctx, workflowExecutionID, reason)
}

// CancelContact cancels every event wait listening for a contact.
func (s *Service) CancelContact(ctx context.Context, contactID, reason string) (int, error) {
	if reason == "" {
		reason = cancellation.ReasonContactOptOut
	}

	return s.canceller.CancelAllForContact(ctx, contactID, reason)
}

// ManualResume forces a wait to resume ahead of schedule, for operator
// intervention. Resuming a terminal wait returns false with no error.
func (s *Service) ManualResume(ctx context.Context, waitExecutionID string) (bool, error) {
	outcome, err := s.resumer.AttemptResume(ctx, coordinator.Request{
		WaitExecutionID: waitExecutionID,
		Status:          models.WaitStatusResumed,
		ResumedBy:       models.ResumedByManual,
	})
	if err != nil {
		return false, err
	}

	if outcome.Transitioned {
		s.logger.Info("Manually resumed wait execution", "wait_execution_id", waitExecutionID)
	}

	return outcome.Transitioned, nil
}

// ListPending lists waiting and scheduled waits for the admin surface.
func (s *Service) ListPending(ctx context.Context, filter persistence.ListPendingFilter) ([]*models.WaitExecution, error) {
	return s.waits.ListPending(ctx, filter)
}

// ListOverdue lists scheduled waits whose resume instant passed more
// than staleness ago without being claimed.
func (s *Service) ListOverdue(ctx context.Context, staleness time.Duration, limit int) ([]*models.WaitExecution, error) {
	dueBefore := s.clock.Now().UTC().Add(-staleness)

	return s.waits.ListOverdue(ctx, dueBefore, limit)
}

// HealthCheck verifies the durable store is reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}

func (s *Service) publishScheduled(ctx context.Context, wait *models.WaitExecution) {
	if s.publisher == nil {
		return
	}

	event := events.WaitScheduled{
		BaseEvent:   s.baseEvent(events.WaitScheduledEvent, wait),
		WaitType:    wait.WaitType,
		ScheduledAt: wait.ScheduledAt,
	}

	if err := s.publisher.Publish(ctx, wait.WorkflowExecutionID, event); err != nil {
		s.logger.Error("Failed to publish wait scheduled event", "wait_execution_id", wait.ID, "error", err)
	}
}

func (s *Service) publishResumed(ctx context.Context, wait *models.WaitExecution) {
	if s.publisher == nil {
		return
	}

	event := events.WaitResumed{
		BaseEvent: s.baseEvent(events.WaitResumedEvent, wait),
		ResumedBy: wait.ResumedBy,
		ResumedAt: *wait.ResumedAt,
	}

	if err := s.publisher.Publish(ctx, wait.WorkflowExecutionID, event); err != nil {
		s.logger.Error("Failed to publish wait resumed event", "wait_execution_id", wait.ID, "error", err)
	}
}

func (s *Service) baseEvent(eventType events.EventType, wait *models.WaitExecution) events.BaseEvent {
	return events.BaseEvent{
		ID:                  uuid.NewString(),
		Type:                eventType,
		Timestamp:           s.clock.Now().UTC(),
		WaitExecutionID:     wait.ID,
		WorkflowExecutionID: wait.WorkflowExecutionID,
		StepID:              wait.StepID,
	}
}
