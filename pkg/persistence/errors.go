// Package persistence provides standardized error types for store operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWaitExecutionNotFound indicates no wait execution matches the identifier.
	ErrWaitExecutionNotFound = errors.New("wait execution not found")

	// ErrListenerNotFound indicates no event listener matches the identifier.
	ErrListenerNotFound = errors.New("event listener not found")

	// ErrWaitAlreadyExists indicates an active wait already holds the
	// (workflow execution, step) key.
	ErrWaitAlreadyExists = errors.New("active wait already exists for step")

	// ErrVersionConflict indicates the conditional status update matched no
	// row: either the version was stale or the record is already terminal.
	ErrVersionConflict = errors.New("wait execution version conflict")
)

// WaitExecutionError wraps wait-execution store errors with operation context.
type WaitExecutionError struct {
	Op              string // Operation being performed (e.g., "Create", "TransitionStatus")
	WaitExecutionID string
	Err             error
}

func (e *WaitExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for wait execution %s: %v", e.Op, e.WaitExecutionID, e.Err)
}

func (e *WaitExecutionError) Unwrap() error {
	return e.Err
}

func (e *WaitExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWaitExecutionError creates a wait execution error with context.
func NewWaitExecutionError(op, waitExecutionID string, err error) *WaitExecutionError {
	return &WaitExecutionError{
		Op:              op,
		WaitExecutionID: waitExecutionID,
		Err:             err,
	}
}

// ListenerError wraps event-listener store errors with operation context.
type ListenerError struct {
	Op         string
	ListenerID string
	Err        error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("%s operation failed for listener %s: %v", e.Op, e.ListenerID, e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}

func (e *ListenerError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewListenerError creates a listener error with context.
func NewListenerError(op, listenerID string, err error) *ListenerError {
	return &ListenerError{
		Op:         op,
		ListenerID: listenerID,
		Err:        err,
	}
}

// IsWaitExecutionNotFound checks if an error indicates a missing wait execution.
func IsWaitExecutionNotFound(err error) bool {
	return errors.Is(err, ErrWaitExecutionNotFound)
}

// IsListenerNotFound checks if an error indicates a missing listener.
func IsListenerNotFound(err error) bool {
	return errors.Is(err, ErrListenerNotFound)
}

// IsVersionConflict checks if an error indicates a lost compare-and-set.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsWaitAlreadyExists checks if an error indicates a duplicate active wait.
func IsWaitAlreadyExists(err error) bool {
	return errors.Is(err, ErrWaitAlreadyExists)
}
