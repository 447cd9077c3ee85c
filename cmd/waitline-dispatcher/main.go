package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"

	"github.com/waitline/waitline/pkg/cmd"
	"github.com/waitline/waitline/pkg/dispatch"
	"github.com/waitline/waitline/pkg/engine"
	"github.com/waitline/waitline/pkg/log"
	"github.com/waitline/waitline/pkg/otelhelper"
	"github.com/waitline/waitline/pkg/protocol"
)

func main() {
	command := &cli.Command{
		Name:                  "waitline-dispatcher",
		Usage:                 "Start the Waitline dispatcher service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dispatcher-id",
				Aliases: []string{"id"},
				Usage:   "Custom dispatcher ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("DISPATCHER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "queue-url",
				Usage:   "Scheduler queue URL (redis://, postgres://, memory://)",
				Value:   "memory://",
				Sources: cli.EnvVars("QUEUE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Interval between dispatch cycles",
				Value:   dispatch.DefaultPollInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum due waits claimed per cycle",
				Value:   dispatch.DefaultBatchSize,
				Sources: cli.EnvVars("BATCH_SIZE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: runDispatcher,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func runDispatcher(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	dispatcherID := command.String("dispatcher-id")
	if dispatcherID == "" {
		dispatcherID = fmt.Sprintf("dispatcher-%s", uuid.New().String()[:8])
	}

	logger := log.WithModule("waitline-dispatcher").With("dispatcher_id", dispatcherID)

	logger.Info("Initializing Waitline Dispatcher", "dispatcher_id", dispatcherID)

	tracer, err := otelhelper.NewTracer(ctx, "waitline-dispatcher")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	schedulerQueue, err := cmd.NewSchedulerQueue(ctx, logger, command.String("queue-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := schedulerQueue.Close(ctx); err != nil {
			logger.Error("Failed to close scheduler queue", "error", err)
		}
	}()

	deps := protocol.Dependencies{Logger: logger, Clock: clockwork.NewRealClock()}
	callbacks := engine.NewBusCallbacks(eventBus, deps)
	service := engine.NewService(store, schedulerQueue, eventBus, callbacks, deps)

	dispatcher := dispatch.NewDispatcher(
		schedulerQueue,
		service.Coordinator(),
		service.Registry(),
		deps,
		dispatch.WithPollInterval(command.Duration("poll-interval")),
		dispatch.WithBatchSize(command.Int("batch-size")),
		dispatch.WithTracer(tracer),
	)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatcher.Start(runCtx); err != nil {
		return err
	}

	<-runCtx.Done()

	logger.Info("Shutting down dispatcher")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := dispatcher.Stop(shutdownCtx); err != nil {
		slog.Error("Failed to stop dispatcher cleanly", "error", err)
	}

	return nil
}
