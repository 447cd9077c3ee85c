// Package web provides HTTP handlers and REST API endpoints for wait
// management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/waitline/waitline/pkg/engine"
	"github.com/waitline/waitline/pkg/models"
	"github.com/waitline/waitline/pkg/persistence"
	"github.com/waitline/waitline/pkg/resolver"
)

// DefaultOverdueStaleness flags scheduled waits unclaimed this long past
// their resume instant.
const DefaultOverdueStaleness = 5 * time.Minute

type APIHandlers struct {
	service   *engine.Service
	validator *validator.Validate
}

func NewAPIHandlers(service *engine.Service, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		service:   service,
		validator: validator,
	}
}

// RegisterRoutes mounts all wait API routes on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	app.Post("/waits", h.CreateWait)
	app.Get("/waits", h.ListPendingWaits)
	app.Get("/waits/overdue", h.ListOverdueWaits)
	app.Get("/waits/:id", h.GetWait)
	app.Post("/waits/:id/resume", h.ResumeWait)
	app.Post("/waits/:id/cancel", h.CancelWait)

	app.Post("/events", h.NotifyEvent)

	app.Post("/workflow-executions/:id/cancel-waits", h.CancelWorkflowExecutionWaits)
	app.Post("/contacts/:id/cancel-waits", h.CancelContactWaits)
}

func (h *APIHandlers) CreateWait(c fiber.Ctx) error {
	var req CreateWaitRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	wait, err := h.service.CreateWait(c.Context(), resolver.Request{
		WorkflowExecutionID: req.WorkflowExecutionID,
		StepID:              req.StepID,
		WaitType:            models.WaitType(req.WaitType),
		Config:              req.Config,
		ContactTimezone:     req.ContactTimezone,
		AccountTimezone:     req.AccountTimezone,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(wait)
}

func (h *APIHandlers) GetWait(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Wait execution ID is required")
	}

	wait, err := h.service.GetWait(c.Context(), id)
	if err != nil {
		if persistence.IsWaitExecutionNotFound(err) {
			return notFound(c, "Wait execution not found")
		}

		return internalError(c, err)
	}

	return c.JSON(wait)
}

func (h *APIHandlers) ListPendingWaits(c fiber.Ctx) error {
	filter, err := h.parsePendingFilter(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	waits, err := h.service.ListPending(c.Context(), *filter)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"waits": waits,
		"count": len(waits),
		"pagination": fiber.Map{
			"limit":  filter.Limit,
			"offset": filter.Offset,
		},
	})
}

// parsePendingFilter parses and validates query parameters for listing
// pending waits.
func (h *APIHandlers) parsePendingFilter(c fiber.Ctx) (*persistence.ListPendingFilter, error) {
	filter := &persistence.ListPendingFilter{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		filter.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		filter.Offset = offset
	}

	if waitTypeStr := c.Query("wait_type"); waitTypeStr != "" {
		waitType := models.WaitType(waitTypeStr)
		filter.WaitType = &waitType
	}

	filter.WorkflowExecutionID = c.Query("workflow_execution_id")

	return filter, nil
}

func (h *APIHandlers) ListOverdueWaits(c fiber.Ctx) error {
	staleness := DefaultOverdueStaleness

	if stalenessStr := c.Query("staleness"); stalenessStr != "" {
		parsed, err := time.ParseDuration(stalenessStr)
		if err != nil || parsed < 0 {
			return badRequest(c, "Invalid staleness duration")
		}

		staleness = parsed
	}

	limit := 100

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit")
		}

		limit = parsed
	}

	waits, err := h.service.ListOverdue(c.Context(), staleness, limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"waits":     waits,
		"count":     len(waits),
		"staleness": staleness.String(),
	})
}

func (h *APIHandlers) ResumeWait(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Wait execution ID is required")
	}

	transitioned, err := h.service.ManualResume(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"resumed": transitioned})
}

func (h *APIHandlers) CancelWait(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Wait execution ID is required")
	}

	var req CancelRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	transitioned, err := h.service.Cancel(c.Context(), id, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"cancelled": transitioned})
}

func (h *APIHandlers) NotifyEvent(c fiber.Ctx) error {
	var req NotifyEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.service.Notify(c.Context(), engine.InboundEvent{
		ID:            req.EventID,
		EventType:     req.EventType,
		ContactID:     req.ContactID,
		CorrelationID: req.CorrelationID,
		OccurredAt:    req.OccurredAt,
	})
	if err != nil {
		return internalError(c, err)
	}

	matched := make([]string, 0, len(result.Matched))
	for _, listener := range result.Matched {
		matched = append(matched, listener.WaitExecutionID)
	}

	return c.JSON(fiber.Map{
		"matched_wait_execution_ids": matched,
		"skipped":                    result.Skipped,
	})
}

func (h *APIHandlers) CancelWorkflowExecutionWaits(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow execution ID is required")
	}

	var req CancelRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	cancelled, err := h.service.CancelWorkflowExecution(c.Context(), id, req.Reason)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"cancelled": cancelled})
}

func (h *APIHandlers) CancelContactWaits(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Contact ID is required")
	}

	var req CancelRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	cancelled, err := h.service.CancelContact(c.Context(), id, req.Reason)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"cancelled": cancelled})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.service.HealthCheck(c.Context())

	status := "healthy"
	message := "Waitline API is healthy"
	httpStatus := http.StatusOK

	if err != nil {
		status = "unhealthy"
		message = "Waitline API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}
