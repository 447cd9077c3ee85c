package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingResumeKey = "waitline:pending_resumes"

// RedisQueue implements SchedulerQueue on a Redis sorted set, scored by
// the resume instant in unix milliseconds.
type RedisQueue struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisQueue(ctx context.Context, logger *slog.Logger, redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisQueue{
		client: client,
		logger: logger.With("component", "redis_scheduler_queue"),
	}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, waitExecutionID string, scheduledAt time.Time) error {
	member := redis.Z{
		Score:  float64(scheduledAt.UTC().UnixMilli()),
		Member: waitExecutionID,
	}

	// ZADD on an existing member replaces the score, which gives the
	// idempotent re-enqueue semantics for free.
	if err := q.client.ZAdd(ctx, pendingResumeKey, member).Err(); err != nil {
		q.logger.ErrorContext(ctx, "Failed to enqueue pending resume", "wait_execution_id", waitExecutionID, "error", err)

		return fmt.Errorf("failed to enqueue pending resume: %w", err)
	}

	return nil
}

func (q *RedisQueue) Cancel(ctx context.Context, waitExecutionID string) error {
	if err := q.client.ZRem(ctx, pendingResumeKey, waitExecutionID).Err(); err != nil {
		return fmt.Errorf("failed to cancel pending resume: %w", err)
	}

	return nil
}

func (q *RedisQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	opt := &redis.ZRangeBy{
		Min:   "0",
		Max:   strconv.FormatInt(now.UTC().UnixMilli(), 10),
		Count: int64(limit),
	}

	members, err := q.client.ZRangeByScoreWithScores(ctx, pendingResumeKey, opt).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Entry{}, nil
		}

		return nil, fmt.Errorf("failed to read due resumes: %w", err)
	}

	entries := make([]Entry, 0, len(members))

	for _, member := range members {
		id, ok := member.Member.(string)
		if !ok {
			continue
		}

		entries = append(entries, Entry{
			WaitExecutionID: id,
			ScheduledAt:     time.UnixMilli(int64(member.Score)).UTC(),
		})
	}

	return entries, nil
}

func (q *RedisQueue) Remove(ctx context.Context, waitExecutionID string) error {
	if err := q.client.ZRem(ctx, pendingResumeKey, waitExecutionID).Err(); err != nil {
		return fmt.Errorf("failed to remove claimed resume: %w", err)
	}

	return nil
}

func (q *RedisQueue) Close(_ context.Context) error {
	return q.client.Close()
}
