package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is a process-local SchedulerQueue for tests and
// single-node development.
type MemoryQueue struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string]time.Time)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, waitExecutionID string, scheduledAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries[waitExecutionID] = scheduledAt.UTC()

	return nil
}

func (q *MemoryQueue) Cancel(_ context.Context, waitExecutionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.entries, waitExecutionID)

	return nil
}

func (q *MemoryQueue) PopDue(_ context.Context, now time.Time, limit int) ([]Entry, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var due []Entry

	for id, scheduledAt := range q.entries {
		if !scheduledAt.After(now) {
			due = append(due, Entry{WaitExecutionID: id, ScheduledAt: scheduledAt})
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (q *MemoryQueue) Remove(_ context.Context, waitExecutionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.entries, waitExecutionID)

	return nil
}

func (q *MemoryQueue) Close(_ context.Context) error {
	return nil
}
