package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/waitline/waitline/pkg/models"
	"github.com/waitline/waitline/pkg/persistence"
)

const listenerColumns = `
	id, wait_execution_id, workflow_execution_id, event_type, contact_id,
	correlation_id, expires_at, status, matched_at, matched_event_id,
	created_at, updated_at
`

// EventListenerRepository implements persistence.EventListenerRepository
// on PostgreSQL.
type EventListenerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *EventListenerRepository) Create(ctx context.Context, listener *models.EventListener) error {
	query := `
		INSERT INTO event_listeners (` + listenerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		listener.ID,
		listener.WaitExecutionID,
		listener.WorkflowExecutionID,
		listener.EventType,
		listener.ContactID,
		nullString(listener.CorrelationID),
		nullTime(listener.ExpiresAt),
		string(listener.Status),
		nullTime(listener.MatchedAt),
		nullString(listener.MatchedEventID),
		listener.CreatedAt,
		listener.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to create event listener", "listener_id", listener.ID, "error", err)

		return persistence.NewListenerError("Create", listener.ID, err)
	}

	return nil
}

func (r *EventListenerRepository) GetByID(ctx context.Context, id string) (*models.EventListener, error) {
	query := `SELECT ` + listenerColumns + ` FROM event_listeners WHERE id = $1`

	listener, err := scanListener(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewListenerError("GetByID", id, persistence.ErrListenerNotFound)
		}

		return nil, persistence.NewListenerError("GetByID", id, err)
	}

	return listener, nil
}

func (r *EventListenerRepository) ActiveByKey(ctx context.Context, eventType, contactID string) ([]*models.EventListener, error) {
	query := `
		SELECT ` + listenerColumns + `
		FROM event_listeners
		WHERE event_type = $1 AND contact_id = $2 AND status = 'active'
		ORDER BY created_at ASC
	`

	return r.queryListeners(ctx, "ActiveByKey", query, eventType, contactID)
}

func (r *EventListenerRepository) ActiveExpiredBefore(ctx context.Context, now time.Time, limit int) ([]*models.EventListener, error) {
	query := `
		SELECT ` + listenerColumns + `
		FROM event_listeners
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`

	return r.queryListeners(ctx, "ActiveExpiredBefore", query, now.UTC(), limit)
}

func (r *EventListenerRepository) ActiveByWaitExecution(ctx context.Context, waitExecutionID string) ([]*models.EventListener, error) {
	query := `
		SELECT ` + listenerColumns + `
		FROM event_listeners
		WHERE wait_execution_id = $1 AND status = 'active'
		ORDER BY created_at ASC
	`

	return r.queryListeners(ctx, "ActiveByWaitExecution", query, waitExecutionID)
}

func (r *EventListenerRepository) ActiveByContact(ctx context.Context, contactID string) ([]*models.EventListener, error) {
	query := `
		SELECT ` + listenerColumns + `
		FROM event_listeners
		WHERE contact_id = $1 AND status = 'active'
		ORDER BY created_at ASC
	`

	return r.queryListeners(ctx, "ActiveByContact", query, contactID)
}

func (r *EventListenerRepository) MarkMatched(ctx context.Context, id, eventID string, matchedAt time.Time) error {
	// Guarded on active status so a listener that lost the race keeps
	// its original outcome.
	query := `
		UPDATE event_listeners
		SET status = 'matched', matched_event_id = $1, matched_at = $2, updated_at = $2
		WHERE id = $3 AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query, eventID, matchedAt.UTC(), id)
	if err != nil {
		return persistence.NewListenerError("MarkMatched", id, err)
	}

	if err := r.requireExists(ctx, "MarkMatched", id, result); err != nil {
		return err
	}

	return nil
}

func (r *EventListenerRepository) UpdateStatus(ctx context.Context, id string, status models.ListenerStatus, updatedAt time.Time) error {
	query := `
		UPDATE event_listeners
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query, string(status), updatedAt.UTC(), id)
	if err != nil {
		return persistence.NewListenerError("UpdateStatus", id, err)
	}

	if err := r.requireExists(ctx, "UpdateStatus", id, result); err != nil {
		return err
	}

	return nil
}

// requireExists reports not-found when an active-guarded update matched
// nothing and the row is genuinely absent; an inactive row is a no-op.
func (r *EventListenerRepository) requireExists(ctx context.Context, op, id string, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewListenerError(op, id, err)
	}

	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM event_listeners WHERE id = $1)", id).Scan(&exists); err != nil {
		return persistence.NewListenerError(op, id, err)
	}

	if !exists {
		return persistence.NewListenerError(op, id, persistence.ErrListenerNotFound)
	}

	return nil
}

func (r *EventListenerRepository) queryListeners(ctx context.Context, op, query string, args ...any) ([]*models.EventListener, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query event listeners", "op", op, "error", err)

		return nil, persistence.NewListenerError(op, "", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "Failed to close rows", "error", closeErr)
		}
	}()

	var listeners []*models.EventListener

	for rows.Next() {
		listener, err := scanListener(rows)
		if err != nil {
			return nil, persistence.NewListenerError(op, "", err)
		}

		listeners = append(listeners, listener)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewListenerError(op, "", err)
	}

	return listeners, nil
}

func scanListener(row rowScanner) (*models.EventListener, error) {
	var (
		listener       models.EventListener
		correlationID  sql.NullString
		expiresAt      sql.NullTime
		matchedAt      sql.NullTime
		matchedEventID sql.NullString
		status         string
	)

	err := row.Scan(
		&listener.ID,
		&listener.WaitExecutionID,
		&listener.WorkflowExecutionID,
		&listener.EventType,
		&listener.ContactID,
		&correlationID,
		&expiresAt,
		&status,
		&matchedAt,
		&matchedEventID,
		&listener.CreatedAt,
		&listener.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	listener.Status = models.ListenerStatus(status)
	listener.CorrelationID = correlationID.String
	listener.MatchedEventID = matchedEventID.String
	listener.CreatedAt = listener.CreatedAt.UTC()
	listener.UpdatedAt = listener.UpdatedAt.UTC()

	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		listener.ExpiresAt = &t
	}

	if matchedAt.Valid {
		t := matchedAt.Time.UTC()
		listener.MatchedAt = &t
	}

	return &listener, nil
}
