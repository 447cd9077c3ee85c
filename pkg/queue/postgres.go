package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/waitline/waitline/pkg/persistence/sqlbase"
)

// PostgresQueue implements SchedulerQueue on a PostgreSQL table so
// deployments can run without Redis.
type PostgresQueue struct {
	db     *sql.DB
	logger *slog.Logger
}

func queueMigrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS pending_resumes (
				wait_execution_id TEXT PRIMARY KEY,
				scheduled_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_pending_resumes_scheduled_at
				ON pending_resumes (scheduled_at);
		`,
	}
}

func NewPostgresQueue(ctx context.Context, logger *slog.Logger, databaseURL string) (*PostgresQueue, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, "queue_schema_migrations", queueMigrations())

	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run scheduler queue migrations: %w", err)
	}

	return &PostgresQueue{
		db:     database,
		logger: logger.With("component", "postgres_scheduler_queue"),
	}, nil
}

func (q *PostgresQueue) Enqueue(ctx context.Context, waitExecutionID string, scheduledAt time.Time) error {
	query := `
		INSERT INTO pending_resumes (wait_execution_id, scheduled_at)
		VALUES ($1, $2)
		ON CONFLICT (wait_execution_id)
		DO UPDATE SET scheduled_at = EXCLUDED.scheduled_at
	`

	if _, err := q.db.ExecContext(ctx, query, waitExecutionID, scheduledAt.UTC()); err != nil {
		q.logger.ErrorContext(ctx, "Failed to enqueue pending resume", "wait_execution_id", waitExecutionID, "error", err)

		return fmt.Errorf("failed to enqueue pending resume: %w", err)
	}

	return nil
}

func (q *PostgresQueue) Cancel(ctx context.Context, waitExecutionID string) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM pending_resumes WHERE wait_execution_id = $1", waitExecutionID); err != nil {
		return fmt.Errorf("failed to cancel pending resume: %w", err)
	}

	return nil
}

func (q *PostgresQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	query := `
		SELECT wait_execution_id, scheduled_at
		FROM pending_resumes
		WHERE scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`

	rows, err := q.db.QueryContext(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read due resumes: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			q.logger.ErrorContext(ctx, "Failed to close rows", "error", closeErr)
		}
	}()

	var entries []Entry

	for rows.Next() {
		var entry Entry

		if err := rows.Scan(&entry.WaitExecutionID, &entry.ScheduledAt); err != nil {
			return nil, fmt.Errorf("failed to scan due resume: %w", err)
		}

		entry.ScheduledAt = entry.ScheduledAt.UTC()
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due resumes: %w", err)
	}

	return entries, nil
}

func (q *PostgresQueue) Remove(ctx context.Context, waitExecutionID string) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM pending_resumes WHERE wait_execution_id = $1", waitExecutionID); err != nil {
		return fmt.Errorf("failed to remove claimed resume: %w", err)
	}

	return nil
}

func (q *PostgresQueue) Close(_ context.Context) error {
	return q.db.Close()
}
