// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/waitline/waitline/pkg/persistence"
	"github.com/waitline/waitline/pkg/persistence/file"
	"github.com/waitline/waitline/pkg/persistence/memory"
	"github.com/waitline/waitline/pkg/persistence/postgresql"
)

// NewPersistence creates a durable store from the database URL scheme:
// postgres:// for PostgreSQL, memory:// for the in-process store, and
// anything else a file-backed store rooted at the given path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres persistence: %w", err)
		}

		return store, nil
	case strings.HasPrefix(databaseURL, "memory://"):
		return memory.NewPersistence(), nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}
