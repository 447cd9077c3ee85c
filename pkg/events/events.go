// Package events defines the wait lifecycle notifications published on
// the event bus so downstream systems can observe pauses and resumes
// without polling the store.
package events

import (
	"time"

	"github.com/waitline/waitline/pkg/models"
)

type EventType string

// Topic carries all wait lifecycle events.
const Topic = "waitline.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	WaitScheduledEvent       EventType = "wait.scheduled"
	WaitResumedEvent         EventType = "wait.resumed"
	WaitTimedOutEvent        EventType = "wait.timeout"
	WaitCancelledEvent       EventType = "wait.cancelled"
	ListenerRegisteredEvent  EventType = "wait.listener.registered"
	ListenerMatchedEvent     EventType = "wait.listener.matched"
	WaitTerminateRequested   EventType = "wait.terminate.requested"
	WaitResumeRequestedEvent EventType = "wait.resume.requested"
)

type BaseEvent struct {
	ID                  string         `json:"id"`
	Type                EventType      `json:"type"`
	Timestamp           time.Time      `json:"timestamp"`
	WaitExecutionID     string         `json:"wait_execution_id"`
	WorkflowExecutionID string         `json:"workflow_execution_id"`
	StepID              string         `json:"step_id"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// WaitScheduled is published when a wait execution is created.
type WaitScheduled struct {
	BaseEvent

	WaitType    models.WaitType `json:"wait_type"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
}

func (e WaitScheduled) GetType() EventType {
	return WaitScheduledEvent
}

// WaitResumed is published after a resume claim commits.
type WaitResumed struct {
	BaseEvent

	ResumedBy models.ResumedBy `json:"resumed_by"`
	ResumedAt time.Time        `json:"resumed_at"`
}

func (e WaitResumed) GetType() EventType {
	return WaitResumedEvent
}

// WaitTimedOut is published when an event wait expires.
type WaitTimedOut struct {
	BaseEvent

	TimeoutAction models.TimeoutAction `json:"timeout_action"`
}

func (e WaitTimedOut) GetType() EventType {
	return WaitTimedOutEvent
}

// WaitCancelled is published after a cancellation commits.
type WaitCancelled struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e WaitCancelled) GetType() EventType {
	return WaitCancelledEvent
}

// ListenerMatched is published when an incoming event claims a listener.
type ListenerMatched struct {
	BaseEvent

	ListenerID string `json:"listener_id"`
	EventID    string `json:"matched_event_id"`
}

func (e ListenerMatched) GetType() EventType {
	return ListenerMatchedEvent
}

// ResumeRequested asks the workflow engine to continue an execution at
// the step after the wait. Consumed by engines that integrate over the
// bus instead of an in-process callback.
type ResumeRequested struct {
	BaseEvent

	ResumedBy models.ResumedBy `json:"resumed_by"`
}

func (e ResumeRequested) GetType() EventType {
	return WaitResumeRequestedEvent
}

// TerminateRequested asks the workflow engine to terminate an execution,
// currently only with reason wait_timeout.
type TerminateRequested struct {
	BaseEvent

	Reason string `json:"reason"`
}

func (e TerminateRequested) GetType() EventType {
	return WaitTerminateRequested
}
