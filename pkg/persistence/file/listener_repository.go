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

// EventListenerRepository stores one JSON file per listener under
// <root>/listeners.
type EventListenerRepository struct {
	store *Persistence
}

func (r *EventListenerRepository) dir() string {
	return filepath.Join(r.store.root, "listeners")
}

func (r *EventListenerRepository) path(id string) string {
	return filepath.Join(r.dir(), id+".json")
}

func (r *EventListenerRepository) Create(_ context.Context, listener *models.EventListener) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if err := r.write(listener); err != nil {
		return persistence.NewListenerError("Create", listener.ID, err)
	}

	return nil
}

func (r *EventListenerRepository) GetByID(_ context.Context, id string) (*models.EventListener, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	listener, err := r.read(id)
	if err != nil {
		return nil, persistence.NewListenerError("GetByID", id, err)
	}

	return listener, nil
}

func (r *EventListenerRepository) ActiveByKey(_ context.Context, eventType, contactID string) ([]*models.EventListener, error) {
	return r.filter("ActiveByKey", func(l *models.EventListener) bool {
		return l.Status == models.ListenerStatusActive && l.EventType == eventType && l.ContactID == contactID
	})
}

func (r *EventListenerRepository) ActiveExpiredBefore(_ context.Context, now time.Time, limit int) ([]*models.EventListener, error) {
	listeners, err := r.filter("ActiveExpiredBefore", func(l *models.EventListener) bool {
		return l.Status == models.ListenerStatusActive && l.Expired(now)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(listeners, func(i, j int) bool {
		return listeners[i].ExpiresAt.Before(*listeners[j].ExpiresAt)
	})

	if limit > 0 && len(listeners) > limit {
		listeners = listeners[:limit]
	}

	return listeners, nil
}

func (r *EventListenerRepository) ActiveByWaitExecution(_ context.Context, waitExecutionID string) ([]*models.EventListener, error) {
	return r.filter("ActiveByWaitExecution", func(l *models.EventListener) bool {
		return l.Status == models.ListenerStatusActive && l.WaitExecutionID == waitExecutionID
	})
}

func (r *EventListenerRepository) ActiveByContact(_ context.Context, contactID string) ([]*models.EventListener, error) {
	return r.filter("ActiveByContact", func(l *models.EventListener) bool {
		return l.Status == models.ListenerStatusActive && l.ContactID == contactID
	})
}

func (r *EventListenerRepository) MarkMatched(_ context.Context, id, eventID string, matchedAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	listener, err := r.read(id)
	if err != nil {
		return persistence.NewListenerError("MarkMatched", id, err)
	}

	if listener.Status != models.ListenerStatusActive {
		return nil
	}

	listener.Status = models.ListenerStatusMatched
	listener.MatchedEventID = eventID
	listener.MatchedAt = &matchedAt
	listener.UpdatedAt = matchedAt

	if err := r.write(listener); err != nil {
		return persistence.NewListenerError("MarkMatched", id, err)
	}

	return nil
}

func (r *EventListenerRepository) UpdateStatus(_ context.Context, id string, status models.ListenerStatus, updatedAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	listener, err := r.read(id)
	if err != nil {
		return persistence.NewListenerError("UpdateStatus", id, err)
	}

	if listener.Status != models.ListenerStatusActive {
		return nil
	}

	listener.Status = status
	listener.UpdatedAt = updatedAt.UTC()

	if err := r.write(listener); err != nil {
		return persistence.NewListenerError("UpdateStatus", id, err)
	}

	return nil
}

func (r *EventListenerRepository) filter(op string, match func(*models.EventListener) bool) ([]*models.EventListener, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	all, err := r.loadAll()
	if err != nil {
		return nil, persistence.NewListenerError(op, "", err)
	}

	var result []*models.EventListener

	for _, listener := range all {
		if match(listener) {
			result = append(result, listener)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (r *EventListenerRepository) read(id string) (*models.EventListener, error) {
	data, err := os.ReadFile(r.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrListenerNotFound
		}

		return nil, fmt.Errorf("failed to read listener file: %w", err)
	}

	var listener models.EventListener
	if err := json.Unmarshal(data, &listener); err != nil {
		return nil, fmt.Errorf("failed to decode listener file: %w", err)
	}

	return &listener, nil
}

func (r *EventListenerRepository) write(listener *models.EventListener) error {
	if err := os.MkdirAll(r.dir(), 0o755); err != nil {
		return fmt.Errorf("failed to create listeners directory: %w", err)
	}

	data, err := json.MarshalIndent(listener, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode listener: %w", err)
	}

	if err := os.WriteFile(r.path(listener.ID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write listener file: %w", err)
	}

	return nil
}

func (r *EventListenerRepository) loadAll() ([]*models.EventListener, error) {
	entries, err := os.ReadDir(r.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read listeners directory: %w", err)
	}

	var listeners []*models.EventListener

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		listener, err := r.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}

		listeners = append(listeners, listener)
	}

	return listeners, nil
}
