// Package queue provides the durable time-ordered set of pending resume
// jobs for scheduled waits.
package queue

import (
	"context"
	"time"
)

// Entry is one pending resume job. The member is the wait execution ID,
// which is one-to-one with the active (workflowExecutionID, stepID) key.
type Entry struct {
	WaitExecutionID string
	ScheduledAt     time.Time
}

// SchedulerQueue is a durable registry scored by scheduledAt.
//
// PopDue never removes entries: removal happens only after the resume
// coordinator confirms a successful claim, so a dispatcher crash
// mid-batch leaves the jobs due and they are re-picked on the next poll.
type SchedulerQueue interface {
	// Enqueue registers a pending resume. Re-enqueueing the same wait
	// replaces its score rather than duplicating the entry.
	Enqueue(ctx context.Context, waitExecutionID string, scheduledAt time.Time) error

	// Cancel removes the entry. Absent entries are a no-op: cancellation
	// must never fail because it ran twice.
	Cancel(ctx context.Context, waitExecutionID string) error

	// PopDue returns up to limit entries with scheduledAt at or before
	// now, oldest first, without removing them.
	PopDue(ctx context.Context, now time.Time, limit int) ([]Entry, error)

	// Remove deletes an entry after its claim was confirmed.
	Remove(ctx context.Context, waitExecutionID string) error

	Close(ctx context.Context) error
}
