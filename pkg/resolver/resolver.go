// Package resolver validates wait requests and produces canonical
// WaitExecution records. Every failure happens before anything is
// persisted, so no partial state is ever created.
package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/waitline/waitline/pkg/models"
	"github.com/waitline/waitline/pkg/timeengine"
)

// Request is a raw wait request from the workflow execution engine.
type Request struct {
	WorkflowExecutionID string          `validate:"required"`
	StepID              string          `validate:"required"`
	WaitType            models.WaitType `validate:"required"`
	Config              json.RawMessage `validate:"required"`

	// Timezone fallbacks for until_time waits, lowest priority last.
	ContactTimezone string
	AccountTimezone string
}

// Resolver turns raw wait requests into canonical WaitExecution records.
type Resolver struct {
	validate *validator.Validate
	clock    clockwork.Clock
	logger   *slog.Logger
}

func NewResolver(logger *slog.Logger, clock clockwork.Clock) *Resolver {
	return &Resolver{
		validate: validator.New(),
		clock:    clock,
		logger:   logger.With("component", "wait_resolver"),
	}
}

// Resolve validates req and produces the WaitExecution to persist. The
// result status is scheduled (time wait with a future instant), waiting
// (event wait), or resumed with ResumedBy past_date when the target date
// has already passed; the caller continues the execution immediately
// instead of pausing it.
func (r *Resolver) Resolve(req Request) (*models.WaitExecution, error) {
	if err := r.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}

	if err := validateConfigShape(req.WaitType, req.Config); err != nil {
		return nil, err
	}

	now := r.clock.Now().UTC()

	wait := &models.WaitExecution{
		ID:                  uuid.New().String(),
		WorkflowExecutionID: req.WorkflowExecutionID,
		StepID:              req.StepID,
		WaitType:            req.WaitType,
		Config:              req.Config,
		Timezone:            "UTC",
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	switch req.WaitType {
	case models.WaitTypeFixedTime:
		return r.resolveFixedTime(req, wait, now)
	case models.WaitTypeUntilDate:
		return r.resolveUntilDate(req, wait, now)
	case models.WaitTypeUntilTime:
		return r.resolveUntilTime(req, wait, now)
	case models.WaitTypeForEvent:
		return r.resolveForEvent(req, wait, now)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownWaitType, req.WaitType)
	}
}

func (r *Resolver) resolveFixedTime(req Request, wait *models.WaitExecution, now time.Time) (*models.WaitExecution, error) {
	var config models.FixedTimeConfig
	if err := r.decodeConfig(req.Config, &config); err != nil {
		return nil, err
	}

	scheduledAt, err := timeengine.DurationResumeAt(now, config.Amount, config.Unit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDurationOutOfRange, err)
	}

	wait.Status = models.WaitStatusScheduled
	wait.ScheduledAt = &scheduledAt

	return wait, nil
}

func (r *Resolver) resolveUntilDate(req Request, wait *models.WaitExecution, now time.Time) (*models.WaitExecution, error) {
	var config models.UntilDateConfig
	if err := r.decodeConfig(req.Config, &config); err != nil {
		return nil, err
	}

	target, err := parseDate(config.Date)
	if err != nil {
		return nil, err
	}

	resumeAt, past, err := timeengine.DateResumeAt(now, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDateOutOfRange, err)
	}

	if past {
		r.logger.Warn("Wait target date already passed, continuing immediately",
			"workflow_execution_id", req.WorkflowExecutionID,
			"step_id", req.StepID,
			"target", target.Format(time.RFC3339))

		wait.Status = models.WaitStatusResumed
		wait.ResumedBy = models.ResumedByPastDate
		wait.ResumedAt = &now

		return wait, nil
	}

	wait.Status = models.WaitStatusScheduled
	wait.ScheduledAt = &resumeAt

	return wait, nil
}

func (r *Resolver) resolveUntilTime(req Request, wait *models.WaitExecution, now time.Time) (*models.WaitExecution, error) {
	var config models.UntilTimeConfig
	if err := r.decodeConfig(req.Config, &config); err != nil {
		return nil, err
	}

	loc, err := timeengine.ResolveTimezone(config.Timezone, req.ContactTimezone, req.AccountTimezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownTimezone, err)
	}

	weekdays, err := timeengine.ParseWeekdays(config.Weekdays)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}

	scheduledAt, err := timeengine.TimeOfDayResumeAt(now, config.Time, loc, weekdays)
	if err != nil {
		if errors.Is(err, timeengine.ErrMalformedTime) {
			return nil, fmt.Errorf("%w: %q", ErrMalformedTimeOfDay, config.Time)
		}

		return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}

	wait.Status = models.WaitStatusScheduled
	wait.ScheduledAt = &scheduledAt
	wait.Timezone = loc.String()

	return wait, nil
}

func (r *Resolver) resolveForEvent(req Request, wait *models.WaitExecution, now time.Time) (*models.WaitExecution, error) {
	var config models.ForEventConfig
	if err := r.decodeConfig(req.Config, &config); err != nil {
		return nil, err
	}

	if !models.KnownEventType(config.EventType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, config.EventType)
	}

	wait.Status = models.WaitStatusWaiting
	wait.EventType = config.EventType
	wait.ContactID = config.ContactID
	wait.CorrelationID = config.CorrelationID
	wait.TimeoutAction = config.TimeoutAction

	if config.Timeout != nil {
		// Timeouts obey the same bounds as fixed-time waits.
		timeoutAt, err := timeengine.DurationResumeAt(now, config.Timeout.Amount, config.Timeout.Unit)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDurationOutOfRange, err)
		}

		wait.EventTimeoutAt = &timeoutAt
	}

	if wait.TimeoutAction == "" {
		wait.TimeoutAction = models.TimeoutActionContinue
	}

	return wait, nil
}

// decodeConfig unmarshals the raw config and applies struct tag rules.
func (r *Resolver) decodeConfig(raw json.RawMessage, config any) error {
	if err := json.Unmarshal(raw, config); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}

	if err := r.validate.Struct(config); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}

	return nil
}

// parseDate accepts RFC 3339 instants and bare dates (midnight UTC).
func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}

	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedDate, value)
}
