// Package fault defines the error taxonomy shared by the scheduling and
// messaging services. Callers branch on category, never on error text.
package fault

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

type NotFoundError struct {
	Reason string
}

func (e *NotFoundError) Error() string { return e.Reason }

// ExternalServiceError wraps a failure from a collaborator (document
// rendering, data-source fetch, queue transport, directory lookup).
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *ExternalServiceError) Unwrap() error { return e.Err }

func Validation(reason string) error { return &ValidationError{Reason: reason} }
func Conflict(reason string) error   { return &ConflictError{Reason: reason} }
func NotFound(reason string) error   { return &NotFoundError{Reason: reason} }

func External(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalServiceError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsExternal(err error) bool {
	var e *ExternalServiceError
	return errors.As(err, &e)
}
