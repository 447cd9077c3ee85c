package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/waitline/waitline/pkg/models"
	"github.com/waitline/waitline/pkg/persistence"
)

const uniqueViolation = "23505"

const waitColumns = `
	id, workflow_execution_id, step_id, wait_type, config,
	scheduled_at, timezone, event_type, contact_id, correlation_id,
	event_timeout_at, timeout_action, status, resumed_at, resumed_by,
	version, created_at, updated_at
`

// WaitExecutionRepository implements persistence.WaitExecutionRepository
// on PostgreSQL.
type WaitExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *WaitExecutionRepository) Create(ctx context.Context, wait *models.WaitExecution) error {
	query := `
		INSERT INTO wait_executions (` + waitColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := r.db.ExecContext(ctx, query,
		wait.ID,
		wait.WorkflowExecutionID,
		wait.StepID,
		string(wait.WaitType),
		[]byte(wait.Config),
		nullTime(wait.ScheduledAt),
		wait.Timezone,
		nullString(wait.EventType),
		nullString(wait.ContactID),
		nullString(wait.CorrelationID),
		nullTime(wait.EventTimeoutAt),
		nullString(string(wait.TimeoutAction)),
		string(wait.Status),
		nullTime(wait.ResumedAt),
		nullString(string(wait.ResumedBy)),
		wait.Version,
		wait.CreatedAt,
		wait.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewWaitExecutionError("Create", wait.ID, persistence.ErrWaitAlreadyExists)
		}

		r.logger.ErrorContext(ctx, "Failed to create wait execution", "wait_execution_id", wait.ID, "error", err)

		return persistence.NewWaitExecutionError("Create", wait.ID, err)
	}

	return nil
}

func (r *WaitExecutionRepository) GetByID(ctx context.Context, id string) (*models.WaitExecution, error) {
	query := `SELECT ` + waitColumns + ` FROM wait_executions WHERE id = $1`

	wait, err := scanWait(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWaitExecutionError("GetByID", id, persistence.ErrWaitExecutionNotFound)
		}

		return nil, persistence.NewWaitExecutionError("GetByID", id, err)
	}

	return wait, nil
}

func (r *WaitExecutionRepository) GetActiveByStep(ctx context.Context, workflowExecutionID, stepID string) (*models.WaitExecution, error) {
	query := `
		SELECT ` + waitColumns + `
		FROM wait_executions
		WHERE workflow_execution_id = $1 AND step_id = $2 AND status IN ('waiting', 'scheduled')
		LIMIT 1
	`

	wait, err := scanWait(r.db.QueryRowContext(ctx, query, workflowExecutionID, stepID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWaitExecutionError("GetActiveByStep", "", persistence.ErrWaitExecutionNotFound)
		}

		return nil, persistence.NewWaitExecutionError("GetActiveByStep", "", err)
	}

	return wait, nil
}

// TransitionStatus is the compare-and-set every resume, timeout, and
// cancellation converges on: the row must still hold expectedVersion and
// a non-terminal status.
func (r *WaitExecutionRepository) TransitionStatus(ctx context.Context, id string, expectedVersion int64, newStatus models.WaitStatus, resumedBy models.ResumedBy, resumedAt time.Time) error {
	query := `
		UPDATE wait_executions
		SET status = $1, resumed_by = $2, resumed_at = $3, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5 AND status IN ('waiting', 'scheduled')
	`

	result, err := r.db.ExecContext(ctx, query, string(newStatus), string(resumedBy), resumedAt.UTC(), id, expectedVersion)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to transition wait execution", "wait_execution_id", id, "error", err)

		return persistence.NewWaitExecutionError("TransitionStatus", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWaitExecutionError("TransitionStatus", id, err)
	}

	if affected == 0 {
		// Distinguish a missing record from a lost race.
		var exists bool
		if err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM wait_executions WHERE id = $1)", id).Scan(&exists); err != nil {
			return persistence.NewWaitExecutionError("TransitionStatus", id, err)
		}

		if !exists {
			return persistence.NewWaitExecutionError("TransitionStatus", id, persistence.ErrWaitExecutionNotFound)
		}

		return persistence.NewWaitExecutionError("TransitionStatus", id, persistence.ErrVersionConflict)
	}

	return nil
}

func (r *WaitExecutionRepository) ListPending(ctx context.Context, filter persistence.ListPendingFilter) ([]*models.WaitExecution, error) {
	query := `
		SELECT ` + waitColumns + `
		FROM wait_executions
		WHERE status IN ('waiting', 'scheduled')
	`

	args := []any{}

	if filter.WaitType != nil {
		args = append(args, string(*filter.WaitType))
		query += " AND wait_type = $" + strconv.Itoa(len(args))
	}

	if filter.WorkflowExecutionID != "" {
		args = append(args, filter.WorkflowExecutionID)
		query += " AND workflow_execution_id = $" + strconv.Itoa(len(args))
	}

	query += " ORDER BY created_at ASC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	return r.queryWaits(ctx, "ListPending", query, args...)
}

func (r *WaitExecutionRepository) ListOverdue(ctx context.Context, dueBefore time.Time, limit int) ([]*models.WaitExecution, error) {
	query := `
		SELECT ` + waitColumns + `
		FROM wait_executions
		WHERE status = 'scheduled' AND scheduled_at < $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`

	return r.queryWaits(ctx, "ListOverdue", query, dueBefore.UTC(), limit)
}

func (r *WaitExecutionRepository) ListActiveByWorkflowExecution(ctx context.Context, workflowExecutionID string) ([]*models.WaitExecution, error) {
	query := `
		SELECT ` + waitColumns + `
		FROM wait_executions
		WHERE workflow_execution_id = $1 AND status IN ('waiting', 'scheduled')
		ORDER BY created_at ASC
	`

	return r.queryWaits(ctx, "ListActiveByWorkflowExecution", query, workflowExecutionID)
}

func (r *WaitExecutionRepository) queryWaits(ctx context.Context, op, query string, args ...any) ([]*models.WaitExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query wait executions", "op", op, "error", err)

		return nil, persistence.NewWaitExecutionError(op, "", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "Failed to close rows", "error", closeErr)
		}
	}()

	var waits []*models.WaitExecution

	for rows.Next() {
		wait, err := scanWait(rows)
		if err != nil {
			return nil, persistence.NewWaitExecutionError(op, "", err)
		}

		waits = append(waits, wait)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewWaitExecutionError(op, "", err)
	}

	return waits, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWait(row rowScanner) (*models.WaitExecution, error) {
	var (
		wait           models.WaitExecution
		config         []byte
		scheduledAt    sql.NullTime
		eventType      sql.NullString
		contactID      sql.NullString
		correlationID  sql.NullString
		eventTimeoutAt sql.NullTime
		timeoutAction  sql.NullString
		resumedAt      sql.NullTime
		resumedBy      sql.NullString
		waitType       string
		status         string
	)

	err := row.Scan(
		&wait.ID,
		&wait.WorkflowExecutionID,
		&wait.StepID,
		&waitType,
		&config,
		&scheduledAt,
		&wait.Timezone,
		&eventType,
		&contactID,
		&correlationID,
		&eventTimeoutAt,
		&timeoutAction,
		&status,
		&resumedAt,
		&resumedBy,
		&wait.Version,
		&wait.CreatedAt,
		&wait.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	wait.WaitType = models.WaitType(waitType)
	wait.Status = models.WaitStatus(status)
	wait.Config = config
	wait.EventType = eventType.String
	wait.ContactID = contactID.String
	wait.CorrelationID = correlationID.String
	wait.TimeoutAction = models.TimeoutAction(timeoutAction.String)
	wait.ResumedBy = models.ResumedBy(resumedBy.String)

	if scheduledAt.Valid {
		t := scheduledAt.Time.UTC()
		wait.ScheduledAt = &t
	}

	if eventTimeoutAt.Valid {
		t := eventTimeoutAt.Time.UTC()
		wait.EventTimeoutAt = &t
	}

	if resumedAt.Valid {
		t := resumedAt.Time.UTC()
		wait.ResumedAt = &t
	}

	wait.CreatedAt = wait.CreatedAt.UTC()
	wait.UpdatedAt = wait.UpdatedAt.UTC()

	return &wait, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}
