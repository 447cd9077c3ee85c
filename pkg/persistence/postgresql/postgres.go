// Package postgresql provides the PostgreSQL persistence implementation
// for wait executions and event listeners.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/waitline/waitline/pkg/persistence"
	"github.com/waitline/waitline/pkg/persistence/sqlbase"
)

// Persistence implements persistence.Persistence using PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	waitRepo     *WaitExecutionRepository
	listenerRepo *EventListenerRepository
}

func storeMigrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS wait_executions (
				id TEXT PRIMARY KEY,
				workflow_execution_id TEXT NOT NULL,
				step_id TEXT NOT NULL,
				wait_type TEXT NOT NULL,
				config JSONB,
				scheduled_at TIMESTAMP WITH TIME ZONE,
				timezone TEXT NOT NULL DEFAULT 'UTC',
				event_type TEXT,
				contact_id TEXT,
				correlation_id TEXT,
				event_timeout_at TIMESTAMP WITH TIME ZONE,
				timeout_action TEXT,
				status TEXT NOT NULL,
				resumed_at TIMESTAMP WITH TIME ZONE,
				resumed_by TEXT,
				version BIGINT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX IF NOT EXISTS uniq_wait_executions_active_step
				ON wait_executions (workflow_execution_id, step_id)
				WHERE status IN ('waiting', 'scheduled');

			CREATE INDEX IF NOT EXISTS idx_wait_executions_status_scheduled_at
				ON wait_executions (status, scheduled_at);

			CREATE TABLE IF NOT EXISTS event_listeners (
				id TEXT PRIMARY KEY,
				wait_execution_id TEXT NOT NULL,
				workflow_execution_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				contact_id TEXT NOT NULL,
				correlation_id TEXT,
				expires_at TIMESTAMP WITH TIME ZONE,
				status TEXT NOT NULL,
				matched_at TIMESTAMP WITH TIME ZONE,
				matched_event_id TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_event_listeners_active_key
				ON event_listeners (event_type, contact_id)
				WHERE status = 'active';

			CREATE INDEX IF NOT EXISTS idx_event_listeners_active_expires_at
				ON event_listeners (expires_at)
				WHERE status = 'active';
		`,
	}
}

// NewPersistence connects, migrates, and returns the store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, "wait_schema_migrations", storeMigrations())

	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run wait store migrations: %w", err)
	}

	storeLogger := logger.With("component", "wait_postgres_persistence")
	storeLogger.InfoContext(ctx, "Wait store PostgreSQL persistence initialized")

	return &Persistence{
		db:           database,
		logger:       storeLogger,
		waitRepo:     &WaitExecutionRepository{db: database, logger: storeLogger},
		listenerRepo: &EventListenerRepository{db: database, logger: storeLogger},
	}, nil
}

func (p *Persistence) WaitExecutions() persistence.WaitExecutionRepository {
	return p.waitRepo
}

func (p *Persistence) EventListeners() persistence.EventListenerRepository {
	return p.listenerRepo
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Persistence) Close(_ context.Context) error {
	return p.db.Close()
}
