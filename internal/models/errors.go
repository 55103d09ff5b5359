package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures from external calls so the shared retry
// policy can switch on them exhaustively.
type ErrorKind string

const (
	// ErrorKindMaxTokenExceeded means the prompt or completion exceeded the
	// model's context window. Permanent for the entity/field.
	ErrorKindMaxTokenExceeded ErrorKind = "exceeded_max_token"
	// ErrorKindTooManyRequests means the upstream reported throttling.
	// System-wide and transient: enter a sleep window and requeue unchanged.
	ErrorKindTooManyRequests ErrorKind = "too_many_requests"
	// ErrorKindContentInvalid means the generated content failed validation
	// (e.g. a rewritten title outside the allowed length). Permanent.
	ErrorKindContentInvalid ErrorKind = "content_invalid"
	// ErrorKindConfig means a programming or configuration error such as a
	// missing field generator. Logged and dropped, never retried.
	ErrorKindConfig ErrorKind = "config"
	// ErrorKindGeneric covers everything else: bounded-attempt requeue.
	ErrorKindGeneric ErrorKind = "generic"
)

// CallError is a typed error value returned by external call sites.
type CallError struct {
	Kind    ErrorKind
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewCallError builds a CallError with the given kind and formatted message.
func NewCallError(kind ErrorKind, format string, args ...any) *CallError {
	return &CallError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err, defaulting to generic.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrorKindGeneric
}
