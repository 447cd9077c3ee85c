package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/waitline/waitline/pkg/models"
	"github.com/waitline/waitline/pkg/persistence"
)

// WaitExecutionRepository stores one JSON file per wait execution under
// <root>/waits.
type WaitExecutionRepository struct {
	store *Persistence
}

func (r *WaitExecutionRepository) dir() string {
	return filepath.Join(r.store.root, "waits")
}

func (r *WaitExecutionRepository) path(id string) string {
	return filepath.Join(r.dir(), id+".json")
}

func (r *WaitExecutionRepository) Create(_ context.Context, wait *models.WaitExecution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existing, err := r.loadAll()
	if err != nil {
		return persistence.NewWaitExecutionError("Create", wait.ID, err)
	}

	for _, other := range existing {
		if other.WorkflowExecutionID == wait.WorkflowExecutionID &&
			other.StepID == wait.StepID && other.Active() {
			return persistence.NewWaitExecutionError("Create", wait.ID, persistence.ErrWaitAlreadyExists)
		}
	}

	if err := r.write(wait); err != nil {
		return persistence.NewWaitExecutionError("Create", wait.ID, err)
	}

	return nil
}

func (r *WaitExecutionRepository) GetByID(_ context.Context, id string) (*models.WaitExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	wait, err := r.read(id)
	if err != nil {
		return nil, persistence.NewWaitExecutionError("GetByID", id, err)
	}

	return wait, nil
}

func (r *WaitExecutionRepository) GetActiveByStep(_ context.Context, workflowExecutionID, stepID string) (*models.WaitExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	waits, err := r.loadAll()
	if err != nil {
		return nil, persistence.NewWaitExecutionError("GetActiveByStep", "", err)
	}

	for _, wait := range waits {
		if wait.WorkflowExecutionID == workflowExecutionID && wait.StepID == stepID && wait.Active() {
			return wait, nil
		}
	}

	return nil, persistence.NewWaitExecutionError("GetActiveByStep", "", persistence.ErrWaitExecutionNotFound)
}

func (r *WaitExecutionRepository) TransitionStatus(_ context.Context, id string, expectedVersion int64, newStatus models.WaitStatus, resumedBy models.ResumedBy, resumedAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	wait, err := r.read(id)
	if err != nil {
		return persistence.NewWaitExecutionError("TransitionStatus", id, err)
	}

	if wait.Version != expectedVersion || wait.Status.Terminal() {
		return persistence.NewWaitExecutionError("TransitionStatus", id, persistence.ErrVersionConflict)
	}

	wait.Status = newStatus
	wait.ResumedBy = resumedBy
	wait.ResumedAt = &resumedAt
	wait.Version++
	wait.UpdatedAt = resumedAt

	if err := r.write(wait); err != nil {
		return persistence.NewWaitExecutionError("TransitionStatus", id, err)
	}

	return nil
}

func (r *WaitExecutionRepository) ListPending(_ context.Context, filter persistence.ListPendingFilter) ([]*models.WaitExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	waits, err := r.loadAll()
	if err != nil {
		return nil, persistence.NewWaitExecutionError("ListPending", "", err)
	}

	var result []*models.WaitExecution

	for _, wait := range waits {
		if !wait.Active() {
			continue
		}

		if filter.WaitType != nil && wait.WaitType != *filter.WaitType {
			continue
		}

		if filter.WorkflowExecutionID != "" && wait.WorkflowExecutionID != filter.WorkflowExecutionID {
			continue
		}

		result = append(result, wait)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}

		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result, nil
}

func (r *WaitExecutionRepository) ListOverdue(_ context.Context, dueBefore time.Time, limit int) ([]*models.WaitExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	waits, err := r.loadAll()
	if err != nil {
		return nil, persistence.NewWaitExecutionError("ListOverdue", "", err)
	}

	var result []*models.WaitExecution

	for _, wait := range waits {
		if wait.Status == models.WaitStatusScheduled && wait.ScheduledAt != nil && wait.ScheduledAt.Before(dueBefore) {
			result = append(result, wait)
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

func (r *WaitExecutionRepository) ListActiveByWorkflowExecution(_ context.Context, workflowExecutionID string) ([]*models.WaitExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	waits, err := r.loadAll()
	if err != nil {
		return nil, persistence.NewWaitExecutionError("ListActiveByWorkflowExecution", "", err)
	}

	var result []*models.WaitExecution

	for _, wait := range waits {
		if wait.WorkflowExecutionID == workflowExecutionID && wait.Active() {
			result = append(result, wait)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (r *WaitExecutionRepository) read(id string) (*models.WaitExecution, error) {
	data, err := os.ReadFile(r.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrWaitExecutionNotFound
		}

		return nil, fmt.Errorf("failed to read wait execution file: %w", err)
	}

	var wait models.WaitExecution
	if err := json.Unmarshal(data, &wait); err != nil {
		return nil, fmt.Errorf("failed to decode wait execution file: %w", err)
	}

	return &wait, nil
}

func (r *WaitExecutionRepository) write(wait *models.WaitExecution) error {
	if err := os.MkdirAll(r.dir(), 0o755); err != nil {
		return fmt.Errorf("failed to create waits directory: %w", err)
	}

	data, err := json.MarshalIndent(wait, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode wait execution: %w", err)
	}

	if err := os.WriteFile(r.path(wait.ID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write wait execution file: %w", err)
	}

	return nil
}

func (r *WaitExecutionRepository) loadAll() ([]*models.WaitExecution, error) {
	entries, err := os.ReadDir(r.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read waits directory: %w", err)
	}

	var waits []*models.WaitExecution

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		wait, err := r.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}

		waits = append(waits, wait)
	}

	return waits, nil
}
