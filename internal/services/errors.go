package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sjperalta/custodia-api/internal/locker"
	"github.com/sjperalta/custodia-api/internal/repository"
	"github.com/sjperalta/custodia-api/internal/statemachine"
	"gorm.io/gorm"
)

// Error kinds. Match them with errors.Is.
var (
	ErrValidation   = errors.New("validation_error")
	ErrInvalidState = errors.New("invalid_state")
	ErrConflict     = errors.New("conflict")
	ErrPersistence  = errors.New("persistence_error")
	ErrNotFound     = errors.New("not_found")
)

// Error is a domain error carrying its kind and the violated rule
type Error struct {
	Kind   error
	Field  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s %s", e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Is matches the error's kind
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the same operation
func (e *Error) Retryable() bool {
	return e.Kind == ErrConflict || e.Kind == ErrPersistence
}

// ValidationError reports a malformed or missing field
func ValidationError(field, reason string) *Error {
	return &Error{Kind: ErrValidation, Field: field, Reason: reason}
}

// InvalidStateError reports a transition not allowed from the current status
func InvalidStateError(reason string) *Error {
	return &Error{Kind: ErrInvalidState, Reason: reason}
}

// ConflictError reports a concurrent mutation on the same asset
func ConflictError(reason string, err error) *Error {
	return &Error{Kind: ErrConflict, Reason: reason, Err: err}
}

// PersistenceError reports an unavailable or slow store
func PersistenceError(reason string, err error) *Error {
	return &Error{Kind: ErrPersistence, Reason: reason, Err: err}
}

// NotFoundError reports a missing record
func NotFoundError(entity string, id any) *Error {
	return &Error{Kind: ErrNotFound, Reason: fmt.Sprintf("%s %v not found", entity, id), Err: gorm.ErrRecordNotFound}
}

// classifyStoreError maps whatever escaped a transaction onto the error
// taxonomy. Domain errors pass through unchanged.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr
	}

	switch {
	case errors.Is(err, statemachine.ErrInvalidTransition):
		return &Error{Kind: ErrInvalidState, Reason: strings.TrimPrefix(err.Error(), statemachine.ErrInvalidTransition.Error()+": "), Err: err}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &Error{Kind: ErrNotFound, Reason: "record not found", Err: err}
	case errors.Is(err, locker.ErrNotObtained):
		return ConflictError("asset is busy with a concurrent operation", err)
	case errors.Is(err, repository.ErrStaleRecord):
		return ConflictError("asset was modified concurrently", err)
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return ConflictError("a conflicting record already exists", err)
	case isDeadlock(err):
		return ConflictError("concurrent transaction deadlocked", err)
	case errors.Is(err, context.DeadlineExceeded):
		return PersistenceError("storage timeout", err)
	case errors.Is(err, context.Canceled):
		return PersistenceError("request cancelled before commit", err)
	default:
		return PersistenceError("storage unavailable", err)
	}
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}

func isDeadlock(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "Deadlock found") ||
		strings.Contains(msg, "SQLSTATE 40P01")
}
