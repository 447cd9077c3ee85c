// Package memory provides an in-memory persistence implementation for
// development and deterministic tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/waitline/waitline/pkg/models"
	"github.com/waitline/waitline/pkg/persistence"
)

// Persistence implements persistence.Persistence with process-local maps.
// All mutations copy records so callers never share pointers with the store.
type Persistence struct {
	mu        sync.RWMutex
	waits     map[string]*models.WaitExecution
	listeners map[string]*models.EventListener
}

func NewPersistence() *Persistence {
	return &Persistence{
		waits:     make(map[string]*models.WaitExecution),
		listeners: make(map[string]*models.EventListener),
	}
}

func (p *Persistence) WaitExecutions() persistence.WaitExecutionRepository {
	return &waitRepository{store: p}
}

func (p *Persistence) EventListeners() persistence.EventListenerRepository {
	return &listenerRepository{store: p}
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

type waitRepository struct {
	store *Persistence
}

func (r *waitRepository) Create(_ context.Context, wait *models.WaitExecution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, existing := range r.store.waits {
		if existing.WorkflowExecutionID == wait.WorkflowExecutionID &&
			existing.StepID == wait.StepID && existing.Active() {
			return persistence.NewWaitExecutionError("Create", wait.ID, persistence.ErrWaitAlreadyExists)
		}
	}

	clone := *wait
	r.store.waits[wait.ID] = &clone

	return nil
}

func (r *waitRepository) GetByID(_ context.Context, id string) (*models.WaitExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	wait, ok := r.store.waits[id]
	if !ok {
		return nil, persistence.NewWaitExecutionError("GetByID", id, persistence.ErrWaitExecutionNotFound)
	}

	clone := *wait

	return &clone, nil
}

func (r *waitRepository) GetActiveByStep(_ context.Context, workflowExecutionID, stepID string) (*models.WaitExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, wait := range r.store.waits {
		if wait.WorkflowExecutionID == workflowExecutionID && wait.StepID == stepID && wait.Active() {
			clone := *wait

			return &clone, nil
		}
	}

	return nil, persistence.NewWaitExecutionError("GetActiveByStep", "", persistence.ErrWaitExecutionNotFound)
}

func (r *waitRepository) TransitionStatus(_ context.Context, id string, expectedVersion int64, newStatus models.WaitStatus, resumedBy models.ResumedBy, resumedAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	wait, ok := r.store.waits[id]
	if !ok {
		return persistence.NewWaitExecutionError("TransitionStatus", id, persistence.ErrWaitExecutionNotFound)
	}

	if wait.Version != expectedVersion || wait.Status.Terminal() {
		return persistence.NewWaitExecutionError("TransitionStatus", id, persistence.ErrVersionConflict)
	}

	wait.Status = newStatus
	wait.ResumedBy = resumedBy
	wait.ResumedAt = &resumedAt
	wait.Version++
	wait.UpdatedAt = resumedAt

	return nil
}

func (r *waitRepository) ListPending(_ context.Context, filter persistence.ListPendingFilter) ([]*models.WaitExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*models.WaitExecution

	for _, wait := range r.store.waits {
		if !wait.Active() {
			continue
		}

		if filter.WaitType != nil && wait.WaitType != *filter.WaitType {
			continue
		}

		if filter.WorkflowExecutionID != "" && wait.WorkflowExecutionID != filter.WorkflowExecutionID {
			continue
		}

		clone := *wait
		result = append(result, &clone)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return paginate(result, filter.Offset, filter.Limit), nil
}

func (r *waitRepository) ListOverdue(_ context.Context, dueBefore time.Time, limit int) ([]*models.WaitExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*models.WaitExecution

	for _, wait := range r.store.waits {
		if wait.Status != models.WaitStatusScheduled || wait.ScheduledAt == nil {
			continue
		}

		if wait.ScheduledAt.Before(dueBefore) {
			clone := *wait
			result = append(result, &clone)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledAt.Before(*result[j].ScheduledAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (r *waitRepository) ListActiveByWorkflowExecution(_ context.Context, workflowExecutionID string) ([]*models.WaitExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*models.WaitExecution

	for _, wait := range r.store.waits {
		if wait.WorkflowExecutionID == workflowExecutionID && wait.Active() {
			clone := *wait
			result = append(result, &clone)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func paginate(waits []*models.WaitExecution, offset, limit int) []*models.WaitExecution {
	if offset > 0 {
		if offset >= len(waits) {
			return nil
		}

		waits = waits[offset:]
	}

	if limit > 0 && len(waits) > limit {
		waits = waits[:limit]
	}

	return waits
}

type listenerRepository struct {
	store *Persistence
}

func (r *listenerRepository) Create(_ context.Context, listener *models.EventListener) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	clone := *listener
	r.store.listeners[listener.ID] = &clone

	return nil
}

func (r *listenerRepository) GetByID(_ context.Context, id string) (*models.EventListener, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	listener, ok := r.store.listeners[id]
	if !ok {
		return nil, persistence.NewListenerError("GetByID", id, persistence.ErrListenerNotFound)
	}

	clone := *listener

	return &clone, nil
}

func (r *listenerRepository) ActiveByKey(_ context.Context, eventType, contactID string) ([]*models.EventListener, error) {
	return r.collect(func(l *models.EventListener) bool {
		return l.Status == models.ListenerStatusActive && l.EventType == eventType && l.ContactID == contactID
	}), nil
}

func (r *listenerRepository) ActiveExpiredBefore(_ context.Context, now time.Time, limit int) ([]*models.EventListener, error) {
	result := r.collect(func(l *models.EventListener) bool {
		return l.Status == models.ListenerStatusActive && l.Expired(now)
	})

	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(*result[j].ExpiresAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (r *listenerRepository) ActiveByWaitExecution(_ context.Context, waitExecutionID string) ([]*models.EventListener, error) {
	return r.collect(func(l *models.EventListener) bool {
		return l.Status == models.ListenerStatusActive && l.WaitExecutionID == waitExecutionID
	}), nil
}

func (r *listenerRepository) ActiveByContact(_ context.Context, contactID string) ([]*models.EventListener, error) {
	return r.collect(func(l *models.EventListener) bool {
		return l.Status == models.ListenerStatusActive && l.ContactID == contactID
	}), nil
}

func (r *listenerRepository) MarkMatched(_ context.Context, id, eventID string, matchedAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	listener, ok := r.store.listeners[id]
	if !ok {
		return persistence.NewListenerError("MarkMatched", id, persistence.ErrListenerNotFound)
	}

	if listener.Status != models.ListenerStatusActive {
		return nil
	}

	listener.Status = models.ListenerStatusMatched
	listener.MatchedEventID = eventID
	listener.MatchedAt = &matchedAt
	listener.UpdatedAt = matchedAt

	return nil
}

func (r *listenerRepository) UpdateStatus(_ context.Context, id string, status models.ListenerStatus, updatedAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	listener, ok := r.store.listeners[id]
	if !ok {
		return persistence.NewListenerError("UpdateStatus", id, persistence.ErrListenerNotFound)
	}

	if listener.Status != models.ListenerStatusActive {
		return nil
	}

	listener.Status = status
	listener.UpdatedAt = updatedAt.UTC()

	return nil
}

func (r *listenerRepository) collect(match func(*models.EventListener) bool) []*models.EventListener {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*models.EventListener

	for _, listener := range r.store.listeners {
		if match(listener) {
			clone := *listener
			result = append(result, &clone)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result
}
