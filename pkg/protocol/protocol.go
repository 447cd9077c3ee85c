// Package protocol defines the contracts between the wait engine and the
// external workflow execution engine.
package protocol

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/waitline/waitline/pkg/models"
)

// EngineCallbacks is implemented by the workflow execution engine. The
// coordinator invokes these after a resume claim is durably committed; a
// crash between commit and callback means the callback is retried, so
// both methods must be idempotent per (workflowExecutionID, stepID).
type EngineCallbacks interface {
	// OnResume tells the engine to continue the execution at the step
	// following the wait step.
	OnResume(ctx context.Context, workflowExecutionID, stepID string, resumedBy models.ResumedBy) error

	// OnTimeoutExit tells the engine to terminate the execution. Reason
	// is models.TerminateReasonWaitTimeout for expired event waits with
	// the exit timeout action.
	OnTimeoutExit(ctx context.Context, workflowExecutionID, stepID string, reason string) error
}

// Dependencies carries shared infrastructure handed to engine components
// at construction time.
type Dependencies struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
}
