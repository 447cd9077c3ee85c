package main

import (
	"context"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/waitline/waitline/pkg/cmd"
	"github.com/waitline/waitline/pkg/engine"
	"github.com/waitline/waitline/pkg/log"
	"github.com/waitline/waitline/pkg/protocol"
	"github.com/waitline/waitline/pkg/web"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "waitline-api",
		Usage:                 "Create and manage wait executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
			&cli.StringFlag{
				Name:    "overdue-report-schedule",
				Usage:   "Cron schedule for the overdue wait report",
				Value:   "*/10 * * * *",
				Sources: cli.EnvVars("OVERDUE_REPORT_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Waitline API")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			schedulerQueue, err := cmd.NewSchedulerQueue(ctx, logger, command.String("queue-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := schedulerQueue.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close scheduler queue", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			deps := protocol.Dependencies{Logger: logger, Clock: clockwork.NewRealClock()}
			callbacks := engine.NewBusCallbacks(eventBus, deps)
			service := engine.NewService(store, schedulerQueue, eventBus, callbacks, deps)

			reporter := startOverdueReport(ctx, service, command.String("overdue-report-schedule"))
			defer reporter.Stop()

			api := NewAPI(logger, service)

			if err := api.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

// startOverdueReport logs scheduled waits that sat unclaimed past the
// staleness threshold, so operators notice a stalled dispatcher.
func startOverdueReport(ctx context.Context, service *engine.Service, schedule string) *cron.Cron {
	logger := log.WithModule("overdue-report")
	reporter := cron.New()

	_, err := reporter.AddFunc(schedule, func() {
		reportCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		overdue, err := service.ListOverdue(reportCtx, web.DefaultOverdueStaleness, 100)
		if err != nil {
			logger.Error("Failed to list overdue waits", "error", err)

			return
		}

		if len(overdue) == 0 {
			return
		}

		logger.Warn("Scheduled waits overdue for resume", "count", len(overdue))

		for _, wait := range overdue {
			logger.Warn("Overdue wait",
				"wait_execution_id", wait.ID,
				"workflow_execution_id", wait.WorkflowExecutionID,
				"step_id", wait.StepID,
				"scheduled_at", wait.ScheduledAt)
		}
	})
	if err != nil {
		logger.Error("Failed to schedule overdue report", "error", err)
	}

	reporter.Start()

	return reporter
}
