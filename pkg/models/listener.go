package models

import "time"

// ListenerStatus represents the lifecycle state of an event listener.
type ListenerStatus string

const (
	ListenerStatusActive    ListenerStatus = "active"
	ListenerStatusMatched   ListenerStatus = "matched"
	ListenerStatusExpired   ListenerStatus = "expired"
	ListenerStatusCancelled ListenerStatus = "cancelled"
)

// EventListener is a registered match criterion for an event wait. It
// holds a back-reference to its WaitExecution by ID only; the wait
// record stays authoritative for the overall lifecycle. An active
// listener always corresponds to a wait in waiting status.
type EventListener struct {
	ID                  string         `json:"id"`
	WaitExecutionID     string         `json:"wait_execution_id"     validate:"required"`
	WorkflowExecutionID string         `json:"workflow_execution_id" validate:"required"`
	EventType           string         `json:"event_type"            validate:"required"`
	ContactID           string         `json:"contact_id"            validate:"required"`
	CorrelationID       string         `json:"correlation_id,omitempty"`
	ExpiresAt           *time.Time     `json:"expires_at,omitempty"`
	Status              ListenerStatus `json:"status"`
	MatchedAt           *time.Time     `json:"matched_at,omitempty"`
	MatchedEventID      string         `json:"matched_event_id,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Expired reports whether the listener's timeout has passed at time
// now. A listener without an expiry listens indefinitely.
func (l *EventListener) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}
