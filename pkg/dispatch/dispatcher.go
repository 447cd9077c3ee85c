// Package dispatch runs the polling loop that turns due queue entries
// into resume claims and sweeps expired event listeners. Multiple
// dispatcher instances can poll the same queue; the coordinator's
// compare-and-set makes duplicate pops harmless.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/waitline/waitline/pkg/coordinator"
	"github.com/waitline/waitline/pkg/listeners"
	"github.com/waitline/waitline/pkg/models"
	"github.com/waitline/waitline/pkg/otelhelper"
	"github.com/waitline/waitline/pkg/persistence"
	"github.com/waitline/waitline/pkg/protocol"
	"github.com/waitline/waitline/pkg/queue"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultBatchSize    = 100
)

// CycleStats reports what one polling cycle accomplished.
type CycleStats struct {
	Resumed  int
	TimedOut int
	Skipped  int
}

// Dispatcher polls the scheduler queue for due waits and the listener
// registry for expired event waits.
type Dispatcher struct {
	queue    queue.SchedulerQueue
	resumer  *coordinator.Coordinator
	registry *listeners.Registry
	clock    clockwork.Clock
	logger   *slog.Logger
	tracer   trace.Tracer

	pollInterval time.Duration
	batchSize    int

	mu      sync.Mutex
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

func WithBatchSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.batchSize = size
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

func NewDispatcher(
	schedulerQueue queue.SchedulerQueue,
	resumer *coordinator.Coordinator,
	registry *listeners.Registry,
	deps protocol.Dependencies,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		queue:        schedulerQueue,
		resumer:      resumer,
		registry:     registry,
		clock:        deps.Clock,
		logger:       deps.Logger.With("component", "dispatcher"),
		tracer:       noop.NewTracerProvider().Tracer("dispatcher"),
		pollInterval: DefaultPollInterval,
		batchSize:    DefaultBatchSize,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Start launches the polling loop. Calling Start on a running
// dispatcher is an error.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errors.New("dispatcher already started")
	}

	d.started = true
	d.done = make(chan struct{})

	d.wg.Add(1)

	go d.loop(ctx, d.done)

	d.logger.Info("Dispatcher started",
		"poll_interval", d.pollInterval.String(),
		"batch_size", d.batchSize)

	return nil
}

// Stop halts the polling loop and waits for the in-flight cycle.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()

	if !d.started {
		d.mu.Unlock()

		return nil
	}

	d.started = false
	close(d.done)
	d.mu.Unlock()

	finished := make(chan struct{})

	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		d.logger.Info("Dispatcher stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) loop(ctx context.Context, done chan struct{}) {
	defer d.wg.Done()

	ticker := d.clock.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			stats, err := d.RunCycle(ctx)
			if err != nil {
				d.logger.Error("Dispatch cycle failed", "error", err)

				continue
			}

			if stats.Resumed > 0 || stats.TimedOut > 0 || stats.Skipped > 0 {
				d.logger.Info("Dispatch cycle completed",
					"resumed", stats.Resumed,
					"timed_out", stats.TimedOut,
					"skipped", stats.Skipped)
			}
		}
	}
}

// RunCycle performs one polling cycle: claim due time waits, then sweep
// expired event listeners. Exported so operators and tests can force a
// cycle without waiting for the ticker.
func (d *Dispatcher) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatch.cycle")
	defer span.End()

	now := d.clock.Now().UTC()

	due, err := d.queue.PopDue(ctx, now, d.batchSize)
	if err != nil {
		otelhelper.SetError(span, err)

		return stats, fmt.Errorf("failed to pop due entries: %w", err)
	}

	for _, entry := range due {
		outcome, err := d.resumer.AttemptResume(ctx, coordinator.Request{
			WaitExecutionID: entry.WaitExecutionID,
			Status:          models.WaitStatusResumed,
			ResumedBy:       models.ResumedByScheduler,
		})

		switch {
		case err == nil && outcome.Transitioned:
			stats.Resumed++
		case err == nil:
			// Settled elsewhere; drop the stale queue entry.
			stats.Skipped++

			if err := d.queue.Remove(ctx, entry.WaitExecutionID); err != nil {
				d.logger.Error("Failed to drop stale queue entry",
					"wait_execution_id", entry.WaitExecutionID, "error", err)
			}
		case errors.Is(err, coordinator.ErrTransientConflict):
			stats.Skipped++
		case persistence.IsWaitExecutionNotFound(err):
			stats.Skipped++

			d.logger.Warn("Queue entry references unknown wait, dropping",
				"wait_execution_id", entry.WaitExecutionID)

			if err := d.queue.Remove(ctx, entry.WaitExecutionID); err != nil {
				d.logger.Error("Failed to drop orphaned queue entry",
					"wait_execution_id", entry.WaitExecutionID, "error", err)
			}
		default:
			// Entry stays in the queue for the next cycle.
			stats.Skipped++

			d.logger.Error("Failed to resume due wait",
				"wait_execution_id", entry.WaitExecutionID, "error", err)
		}
	}

	swept, err := d.registry.SweepExpired(ctx, now, d.batchSize)
	if err != nil {
		otelhelper.SetError(span, err)

		return stats, fmt.Errorf("failed to sweep expired listeners: %w", err)
	}

	stats.TimedOut = swept

	span.SetAttributes(
		attribute.Int("dispatch.resumed", stats.Resumed),
		attribute.Int("dispatch.timed_out", stats.TimedOut),
		attribute.Int("dispatch.skipped", stats.Skipped),
	)

	return stats, nil
}
