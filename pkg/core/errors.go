// Package core implements the reconciliation and materialization engine of
// the featherstore control plane: diffing declared definitions against the
// registry, driving idempotent registry and infrastructure updates, and
// dispatching and tracking materialization jobs.
package core

import (
	"errors"
	"fmt"

	"github.com/featherstore/featherstore/pkg/model"
)

// ErrorKind classifies an engine error for the caller's retry decision.
type ErrorKind string

const (
	// ErrKindValidation indicates bad or inconsistent definitions. Fatal to
	// the call; no registry write has occurred.
	ErrKindValidation ErrorKind = "validation"

	// ErrKindConflict indicates a registry commit lost a race with a
	// concurrent apply. The caller must retry the whole call.
	ErrKindConflict ErrorKind = "conflict"

	// ErrKindInvalidRange indicates a malformed materialization time window.
	// Fatal; no job was submitted.
	ErrKindInvalidRange ErrorKind = "invalid_range"

	// ErrKindProvider indicates an infra provider or batch engine failure,
	// surfaced with the underlying cause. The core never retries these.
	ErrKindProvider ErrorKind = "provider"

	// ErrKindInconsistency indicates the infra update succeeded but the
	// registry commit failed: physical resources and registry metadata have
	// diverged and an operator must reconcile them.
	ErrKindInconsistency ErrorKind = "inconsistency"

	// ErrKindNotFound indicates a referenced object is absent from the
	// registry.
	ErrKindNotFound ErrorKind = "not_found"
)

// Error is a classified engine error, optionally scoped to one registry
// object and the rule it violated.
type Error struct {
	Kind    ErrorKind
	Message string
	Object  model.Ref
	Rule    string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Object.Name != "" {
		msg += fmt.Sprintf(" (object=%s)", e.Object)
	}
	if e.Rule != "" {
		msg += fmt.Sprintf(" (rule=%s)", e.Rule)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so callers can test taxonomy membership with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithObject scopes the error to a registry object.
func (e *Error) WithObject(kind model.ObjectKind, name string) *Error {
	e.Object = model.Ref{Kind: kind, Name: name}
	return e
}

// WithRule names the validation rule that failed.
func (e *Error) WithRule(rule string) *Error {
	e.Rule = rule
	return e
}

// NewValidationError creates an error for bad or inconsistent definitions.
func NewValidationError(message string) *Error {
	return &Error{Kind: ErrKindValidation, Message: message}
}

// NewConflictError creates an error for a lost registry commit race.
func NewConflictError(message string, err error) *Error {
	return &Error{Kind: ErrKindConflict, Message: message, Err: err}
}

// NewInvalidRangeError creates an error for a malformed time window.
func NewInvalidRangeError(message string) *Error {
	return &Error{Kind: ErrKindInvalidRange, Message: message}
}

// NewProviderError creates an error wrapping an infra provider or batch
// engine failure.
func NewProviderError(message string, err error) *Error {
	return &Error{Kind: ErrKindProvider, Message: message, Err: err}
}

// NewInconsistencyError creates an error for divergent infra and registry
// state after a post-infra commit failure.
func NewInconsistencyError(message string, err error) *Error {
	return &Error{Kind: ErrKindInconsistency, Message: message, Err: err}
}

// NewNotFoundError creates an error for a missing registry object.
func NewNotFoundError(kind model.ObjectKind, name string) *Error {
	e := &Error{Kind: ErrKindNotFound, Message: "object not found"}
	return e.WithObject(kind, name)
}

func isKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return isKind(err, ErrKindValidation) }

// IsConflict reports whether err is a concurrent modification error.
func IsConflict(err error) bool { return isKind(err, ErrKindConflict) }

// IsInvalidRange reports whether err is an invalid range error.
func IsInvalidRange(err error) bool { return isKind(err, ErrKindInvalidRange) }

// IsProvider reports whether err is a provider error.
func IsProvider(err error) bool { return isKind(err, ErrKindProvider) }

// IsInconsistency reports whether err is an inconsistency error.
func IsInconsistency(err error) bool { return isKind(err, ErrKindInconsistency) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return isKind(err, ErrKindNotFound) }

// Kind returns the classification of err, or the empty kind for unclassified
// errors.
func Kind(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
