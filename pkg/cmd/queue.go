package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/waitline/waitline/pkg/queue"
)

// NewSchedulerQueue creates a scheduler queue from the queue URL scheme:
// redis:// for the sorted-set queue, postgres:// for the table-backed
// queue, and memory:// for the in-process queue.
func NewSchedulerQueue(ctx context.Context, logger *slog.Logger, queueURL string) (queue.SchedulerQueue, error) {
	switch {
	case strings.HasPrefix(queueURL, "redis://"), strings.HasPrefix(queueURL, "rediss://"):
		q, err := queue.NewRedisQueue(ctx, logger, queueURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis queue: %w", err)
		}

		return q, nil
	case strings.HasPrefix(queueURL, "postgres://"), strings.HasPrefix(queueURL, "postgresql://"):
		q, err := queue.NewPostgresQueue(ctx, logger, queueURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres queue: %w", err)
		}

		return q, nil
	case queueURL == "" || strings.HasPrefix(queueURL, "memory://"):
		return queue.NewMemoryQueue(), nil
	default:
		return nil, fmt.Errorf("unsupported scheduler queue url: %q", queueURL)
	}
}
