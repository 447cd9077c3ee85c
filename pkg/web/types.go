// Package web provides HTTP request and response types for the wait API.
package web

import (
	"encoding/json"
	"time"
)

// CreateWaitRequest represents the request body for creating a wait.
type CreateWaitRequest struct {
	WorkflowExecutionID string          `json:"workflow_execution_id" validate:"required"`
	StepID              string          `json:"step_id"               validate:"required"`
	WaitType            string          `json:"wait_type"             validate:"required,oneof=fixed_time until_date until_time for_event"`
	Config              json.RawMessage `json:"config"                validate:"required"`
	ContactTimezone     string          `json:"contact_timezone,omitempty"`
	AccountTimezone     string          `json:"account_timezone,omitempty"`
}

// NotifyEventRequest represents an inbound contact event.
type NotifyEventRequest struct {
	EventID       string    `json:"event_id"   validate:"required"`
	EventType     string    `json:"event_type" validate:"required"`
	ContactID     string    `json:"contact_id" validate:"required"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at,omitempty"`
}

// CancelRequest carries the optional cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}
