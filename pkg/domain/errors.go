package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures reported by an entity API.
type ErrorKind string

// Error kinds interpreted by the coordination layer.
const (
	// ErrValidation indicates the request was rejected before persistence.
	ErrValidation ErrorKind = "validation"
	// ErrConflict indicates the submitted version did not match the stored version.
	ErrConflict ErrorKind = "conflict"
	// ErrNotFound indicates the addressed record does not exist.
	ErrNotFound ErrorKind = "not_found"
	// ErrPermission indicates the caller is not allowed to perform the operation.
	ErrPermission ErrorKind = "permission"
	// ErrTransport covers network, timeout and server failures.
	ErrTransport ErrorKind = "transport"
)

// APIError is the structured failure returned by entity API implementations.
type APIError struct {
	Kind    ErrorKind
	Entity  EntityType
	ID      EntityID
	Message string
	Err     error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.ID != 0 {
		return fmt.Sprintf("%s %s %d: %s", e.Kind, e.Entity, e.ID, msg)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Kind, e.Entity, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewValidationError builds a validation failure.
func NewValidationError(entity EntityType, format string, args ...any) *APIError {
	return &APIError{Kind: ErrValidation, Entity: entity, Message: fmt.Sprintf(format, args...)}
}

// NewConflictError reports a stale optimistic-lock version.
func NewConflictError(entity EntityType, id EntityID, submitted, stored int64) *APIError {
	return &APIError{
		Kind:    ErrConflict,
		Entity:  entity,
		ID:      id,
		Message: fmt.Sprintf("version %d is stale (current %d)", submitted, stored),
	}
}

// NewNotFoundError reports a missing record.
func NewNotFoundError(entity EntityType, id EntityID) *APIError {
	return &APIError{Kind: ErrNotFound, Entity: entity, ID: id, Message: "not found"}
}

// KindOf extracts the error kind, defaulting to ErrTransport for unstructured errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ErrTransport
}

// IsConflict reports whether err is an optimistic-lock conflict.
func IsConflict(err error) bool { return err != nil && KindOf(err) == ErrConflict }

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return err != nil && KindOf(err) == ErrNotFound }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return err != nil && KindOf(err) == ErrValidation }

// IsPermission reports whether err is a permission failure.
func IsPermission(err error) bool { return err != nil && KindOf(err) == ErrPermission }

// TransitionError is returned when a deal lifecycle transition is illegal for
// the deal's current state. It is raised before any API call.
type TransitionError struct {
	DealID EntityID
	From   DealStatus
	Action TransitionKind
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s deal %d in status %s: %s", e.Action, e.DealID, e.From, e.Reason)
}
