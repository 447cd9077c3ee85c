package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waitline/waitline/pkg/engine"
	"github.com/waitline/waitline/pkg/models"
	"github.com/waitline/waitline/pkg/persistence/memory"
	"github.com/waitline/waitline/pkg/protocol"
	"github.com/waitline/waitline/pkg/queue"
	"github.com/waitline/waitline/pkg/resolver"
	"github.com/waitline/waitline/pkg/web"
)

type noopCallbacks struct{}

func (noopCallbacks) OnResume(_ context.Context, _, _ string, _ models.ResumedBy) error {
	return nil
}

func (noopCallbacks) OnTimeoutExit(_ context.Context, _, _ string, _ string) error {
	return nil
}

func setupTestApp(t *testing.T) (*fiber.App, *engine.Service) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	service := engine.NewService(
		memory.NewPersistence(),
		queue.NewMemoryQueue(),
		nil,
		noopCallbacks{},
		protocol.Dependencies{Logger: slog.Default(), Clock: clock},
	)

	handlers := web.NewAPIHandlers(service, validator.New(validator.WithRequiredStructEnabled()))
	app := fiber.New()
	handlers.RegisterRoutes(app)

	return app, service
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()

	var payload []byte

	if str, ok := body.(string); ok {
		payload = []byte(str)
	} else {
		var err error

		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func TestAPIHandlers_CreateWait(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		validateResult func(t *testing.T, body []byte)
	}{
		{
			name: "successful fixed_time creation",
			requestBody: web.CreateWaitRequest{
				WorkflowExecutionID: "wfexec-1",
				StepID:              "step-1",
				WaitType:            "fixed_time",
				Config:              json.RawMessage(`{"amount": 30, "unit": "minutes"}`),
			},
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var wait models.WaitExecution

				require.NoError(t, json.Unmarshal(body, &wait))
				assert.NotEmpty(t, wait.ID)
				assert.Equal(t, models.WaitStatusScheduled, wait.Status)
				require.NotNil(t, wait.ScheduledAt)
				assert.Equal(t, time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC), *wait.ScheduledAt)
			},
		},
		{
			name: "successful for_event creation",
			requestBody: web.CreateWaitRequest{
				WorkflowExecutionID: "wfexec-1",
				StepID:              "step-1",
				WaitType:            "for_event",
				Config:              json.RawMessage(`{"event_type": "email_open", "contact_id": "contact-1"}`),
			},
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var wait models.WaitExecution

				require.NoError(t, json.Unmarshal(body, &wait))
				assert.Equal(t, models.WaitStatusWaiting, wait.Status)
				assert.Equal(t, "email_open", wait.EventType)
			},
		},
		{
			name: "validation error - missing step id",
			requestBody: web.CreateWaitRequest{
				WorkflowExecutionID: "wfexec-1",
				WaitType:            "fixed_time",
				Config:              json.RawMessage(`{"amount": 30, "unit": "minutes"}`),
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "validation error - unknown wait type",
			requestBody: web.CreateWaitRequest{
				WorkflowExecutionID: "wfexec-1",
				StepID:              "step-1",
				WaitType:            "wait_forever",
				Config:              json.RawMessage(`{}`),
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "invalid config - negative amount",
			requestBody: web.CreateWaitRequest{
				WorkflowExecutionID: "wfexec-1",
				StepID:              "step-1",
				WaitType:            "fixed_time",
				Config:              json.RawMessage(`{"amount": -1, "unit": "minutes"}`),
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "invalid config - duration beyond maximum",
			requestBody: web.CreateWaitRequest{
				WorkflowExecutionID: "wfexec-1",
				StepID:              "step-1",
				WaitType:            "fixed_time",
				Config:              json.RawMessage(`{"amount": 13, "unit": "weeks"}`),
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "invalid config - unknown event type",
			requestBody: web.CreateWaitRequest{
				WorkflowExecutionID: "wfexec-1",
				StepID:              "step-1",
				WaitType:            "for_event",
				Config:              json.RawMessage(`{"event_type": "meteor_strike", "contact_id": "contact-1"}`),
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "not-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			resp := postJSON(t, app, "/waits", tt.requestBody)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.validateResult != nil && resp.StatusCode == http.StatusCreated {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				tt.validateResult(t, body)
			}
		})
	}
}

func TestAPIHandlers_CreateWait_DuplicateStepConflicts(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	request := web.CreateWaitRequest{
		WorkflowExecutionID: "wfexec-1",
		StepID:              "step-1",
		WaitType:            "fixed_time",
		Config:              json.RawMessage(`{"amount": 1, "unit": "hours"}`),
	}

	resp := postJSON(t, app, "/waits", request)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, app, "/waits", request)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_GetWait(t *testing.T) {
	t.Parallel()

	app, service := setupTestApp(t)

	wait, err := service.CreateWait(context.Background(), resolver.Request{
		WorkflowExecutionID: "wfexec-1",
		StepID:              "step-1",
		WaitType:            models.WaitTypeFixedTime,
		Config:              json.RawMessage(`{"amount": 1, "unit": "days"}`),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/waits/"+wait.ID, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.WaitExecution

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, wait.ID, fetched.ID)

	req = httptest.NewRequest(http.MethodGet, "/waits/unknown-id", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ListPendingWaits(t *testing.T) {
	t.Parallel()

	app, service := setupTestApp(t)
	ctx := context.Background()

	_, err := service.CreateWait(ctx, resolver.Request{
		WorkflowExecutionID: "wfexec-1",
		StepID:              "step-1",
		WaitType:            models.WaitTypeFixedTime,
		Config:              json.RawMessage(`{"amount": 1, "unit": "hours"}`),
	})
	require.NoError(t, err)

	_, err = service.CreateWait(ctx, resolver.Request{
		WorkflowExecutionID: "wfexec-2",
		StepID:              "step-1",
		WaitType:            models.WaitTypeForEvent,
		Config:              json.RawMessage(`{"event_type": "email_open", "contact_id": "contact-1"}`),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/waits?wait_type=for_event", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Waits []models.WaitExecution `json:"waits"`
		Count int                    `json:"count"`
	}

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, 1, payload.Count)
	assert.Equal(t, models.WaitTypeForEvent, payload.Waits[0].WaitType)
}

func TestAPIHandlers_NotifyEvent(t *testing.T) {
	t.Parallel()

	app, service := setupTestApp(t)

	wait, err := service.CreateWait(context.Background(), resolver.Request{
		WorkflowExecutionID: "wfexec-1",
		StepID:              "step-1",
		WaitType:            models.WaitTypeForEvent,
		Config:              json.RawMessage(`{"event_type": "email_open", "contact_id": "contact-1"}`),
	})
	require.NoError(t, err)

	resp := postJSON(t, app, "/events", web.NotifyEventRequest{
		EventID:   "evt-1",
		EventType: "email_open",
		ContactID: "contact-1",
	})

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		MatchedWaitExecutionIDs []string `json:"matched_wait_execution_ids"`
	}

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, []string{wait.ID}, payload.MatchedWaitExecutionIDs)
}

func TestAPIHandlers_CancelWait(t *testing.T) {
	t.Parallel()

	app, service := setupTestApp(t)

	wait, err := service.CreateWait(context.Background(), resolver.Request{
		WorkflowExecutionID: "wfexec-1",
		StepID:              "step-1",
		WaitType:            models.WaitTypeFixedTime,
		Config:              json.RawMessage(`{"amount": 2, "unit": "days"}`),
	})
	require.NoError(t, err)

	resp := postJSON(t, app, "/waits/"+wait.ID+"/cancel", web.CancelRequest{Reason: "manual"})

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := service.GetWait(context.Background(), wait.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WaitStatusCancelled, stored.Status)
}

func TestAPIHandlers_ResumeWait(t *testing.T) {
	t.Parallel()

	app, service := setupTestApp(t)

	wait, err := service.CreateWait(context.Background(), resolver.Request{
		WorkflowExecutionID: "wfexec-1",
		StepID:              "step-1",
		WaitType:            models.WaitTypeFixedTime,
		Config:              json.RawMessage(`{"amount": 2, "unit": "days"}`),
	})
	require.NoError(t, err)

	resp := postJSON(t, app, "/waits/"+wait.ID+"/resume", nil)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := service.GetWait(context.Background(), wait.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WaitStatusResumed, stored.Status)
	assert.Equal(t, models.ResumedByManual, stored.ResumedBy)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
