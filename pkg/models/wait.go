// Package models defines the core domain records for wait-step scheduling and event resume.
package models

import (
	"encoding/json"
	"time"
)

// WaitType classifies how a paused step is resumed.
type WaitType string

const (
	WaitTypeFixedTime WaitType = "fixed_time" // Duration from now (amount + unit)
	WaitTypeUntilDate WaitType = "until_date" // Absolute target date
	WaitTypeUntilTime WaitType = "until_time" // Next local time-of-day occurrence
	WaitTypeForEvent  WaitType = "for_event"  // External event with timeout
)

// WaitStatus represents the lifecycle state of a wait execution.
// Waiting and scheduled are the only non-terminal states; every other
// status is immutable once set.
type WaitStatus string

const (
	WaitStatusWaiting   WaitStatus = "waiting"   // Event wait, listener active
	WaitStatusScheduled WaitStatus = "scheduled" // Time wait, queued for resume
	WaitStatusResumed   WaitStatus = "resumed"
	WaitStatusTimeout   WaitStatus = "timeout"
	WaitStatusCancelled WaitStatus = "cancelled"
	WaitStatusError     WaitStatus = "error"
)

// Terminal reports whether the status permits no further transition.
func (s WaitStatus) Terminal() bool {
	return s != WaitStatusWaiting && s != WaitStatusScheduled
}

// ResumedBy records which path won the resume claim.
type ResumedBy string

const (
	ResumedByScheduler ResumedBy = "scheduler"
	ResumedByEvent     ResumedBy = "event"
	ResumedByTimeout   ResumedBy = "timeout"
	ResumedByPastDate  ResumedBy = "past_date"
	ResumedByManual    ResumedBy = "manual"
	ResumedByCancelled ResumedBy = "cancelled"
)

// TimeoutAction controls what happens to the workflow execution when an
// event wait expires without a match.
type TimeoutAction string

const (
	TimeoutActionContinue TimeoutAction = "continue" // Resume at the next step
	TimeoutActionExit     TimeoutAction = "exit"     // Terminate the execution
)

// TerminateReasonWaitTimeout is passed to the engine's terminate callback
// when an event wait with TimeoutActionExit expires.
const TerminateReasonWaitTimeout = "wait_timeout"

// WaitExecution is the durable record of a workflow paused at a step.
// At most one active wait exists per (WorkflowExecutionID, StepID) pair.
// ScheduledAt and EventTimeoutAt are always UTC; Timezone is display and
// recompute metadata only.
type WaitExecution struct {
	ID                  string          `json:"id"`
	WorkflowExecutionID string          `json:"workflow_execution_id" validate:"required"`
	StepID              string          `json:"step_id"               validate:"required"`
	WaitType            WaitType        `json:"wait_type"             validate:"required,oneof=fixed_time until_date until_time for_event"`
	Config              json.RawMessage `json:"config,omitempty"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Timezone    string     `json:"timezone,omitempty"`

	EventType      string        `json:"event_type,omitempty"`
	ContactID      string        `json:"contact_id,omitempty"`
	CorrelationID  string        `json:"correlation_id,omitempty"`
	EventTimeoutAt *time.Time    `json:"event_timeout_at,omitempty"`
	TimeoutAction  TimeoutAction `json:"timeout_action,omitempty"`

	Status    WaitStatus `json:"status"`
	ResumedAt *time.Time `json:"resumed_at,omitempty"`
	ResumedBy ResumedBy  `json:"resumed_by,omitempty"`

	// Version guards the compare-and-set on status transitions.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the wait can still be resumed or cancelled.
func (w *WaitExecution) Active() bool {
	return !w.Status.Terminal()
}

// Overdue reports whether a scheduled wait has been due for longer than
// the given staleness threshold at time now.
func (w *WaitExecution) Overdue(now time.Time, staleness time.Duration) bool {
	if w.Status != WaitStatusScheduled || w.ScheduledAt == nil {
		return false
	}

	return now.Sub(*w.ScheduledAt) > staleness
}
