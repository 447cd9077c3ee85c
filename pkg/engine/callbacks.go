package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/waitline/waitline/pkg/eventbus"
	"github.com/waitline/waitline/pkg/events"
	"github.com/waitline/waitline/pkg/models"
	"github.com/waitline/waitline/pkg/protocol"
)

// BusCallbacks implements protocol.EngineCallbacks by publishing resume
// and terminate requests on the event bus, for deployments where the
// workflow engine runs in another process and consumes them there. The
// engine deduplicates by (workflow execution, step), which keeps the
// idempotency contract across redeliveries.
type BusCallbacks struct {
	publisher eventbus.EventPublisher
	clock     clockwork.Clock
}

func NewBusCallbacks(publisher eventbus.EventPublisher, deps protocol.Dependencies) *BusCallbacks {
	return &BusCallbacks{publisher: publisher, clock: deps.Clock}
}

func (b *BusCallbacks) OnResume(ctx context.Context, workflowExecutionID, stepID string, resumedBy models.ResumedBy) error {
	event := events.ResumeRequested{
		BaseEvent: events.BaseEvent{
			ID:                  uuid.NewString(),
			Type:                events.WaitResumeRequestedEvent,
			Timestamp:           b.clock.Now().UTC(),
			WorkflowExecutionID: workflowExecutionID,
			StepID:              stepID,
		},
		ResumedBy: resumedBy,
	}

	if err := b.publisher.Publish(ctx, workflowExecutionID, event); err != nil {
		return fmt.Errorf("failed to publish resume request: %w", err)
	}

	return nil
}

func (b *BusCallbacks) OnTimeoutExit(ctx context.Context, workflowExecutionID, stepID string, reason string) error {
	event := events.TerminateRequested{
		BaseEvent: events.BaseEvent{
			ID:                  uuid.NewString(),
			Type:                events.WaitTerminateRequested,
			Timestamp:           b.clock.Now().UTC(),
			WorkflowExecutionID: workflowExecutionID,
			StepID:              stepID,
		},
		Reason: reason,
	}

	if err := b.publisher.Publish(ctx, workflowExecutionID, event); err != nil {
		return fmt.Errorf("failed to publish terminate request: %w", err)
	}

	return nil
}
