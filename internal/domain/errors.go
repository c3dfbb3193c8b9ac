package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition indicates a status change not allowed by the
	// lifecycle transition table.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrQueueUnavailable indicates that a task queue is closed or unknown.
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrStageTimeout indicates that a stage exceeded its execution deadline.
	ErrStageTimeout = errors.New("stage timeout")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrInternalError indicates an internal server error.
	ErrInternalError = errors.New("internal error")

	// ErrCancelled indicates that an operation was cancelled.
	ErrCancelled = errors.New("cancelled")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AlreadyExistsError provides details about a duplicate entity.
type AlreadyExistsError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *AlreadyExistsError) Unwrap() error {
	return ErrAlreadyExists
}

// InvalidTransitionError provides details about a rejected status change.
type InvalidTransitionError struct {
	PaperID uuid.UUID
	From    ProcessingStatus
	To      ProcessingStatus
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("paper %s: initial status must be %s, got %s", e.PaperID, StatusUploaded, e.To)
	}
	return fmt.Sprintf("paper %s: invalid transition %s -> %s", e.PaperID, e.From, e.To)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// StageError wraps a failure from a stage handler with an explicit
// classification. Handlers that know whether their failure is worth retrying
// return a StageError; unclassified errors fall back to message heuristics.
type StageError struct {
	Stage     Stage
	Permanent bool
	Err       error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("stage %s: %s failure: %v", e.Stage, kind, e.Err)
}

// Unwrap returns the underlying cause error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(entity, id string) *AlreadyExistsError {
	return &AlreadyExistsError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewInvalidTransitionError creates a new InvalidTransitionError.
func NewInvalidTransitionError(paperID uuid.UUID, from, to ProcessingStatus) *InvalidTransitionError {
	return &InvalidTransitionError{
		PaperID: paperID,
		From:    from,
		To:      to,
	}
}

// NewTransientStageError wraps err as a retryable stage failure.
func NewTransientStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Permanent: false, Err: err}
}

// NewPermanentStageError wraps err as a non-retryable stage failure.
func NewPermanentStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Permanent: true, Err: err}
}
