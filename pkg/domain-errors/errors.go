// Package domainerrors provides code-tagged errors for the evidence exchange
// domain. Services attach a Code so transport can translate uniformly; stores
// return pkg/platform/sentinel errors and services wrap them here.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error for transport translation and retry policy.
type Code string

const (
	// CodePermissionDenied: actor lacks the role or ownership the operation
	// requires. Never retried.
	CodePermissionDenied Code = "permission_denied"
	// CodeInvalidState: transition attempted from a non-eligible state,
	// including double fulfillment. Conflict; retry only after refetch.
	CodeInvalidState Code = "invalid_state"
	// CodeTypeMismatch: evidence document category does not match the
	// requested item's category. Never retried.
	CodeTypeMismatch Code = "type_mismatch"
	// CodeAccessDenied: read-path visibility failure.
	CodeAccessDenied Code = "access_denied"
	// CodeStorageFailure: ledger or audit write failed. The enclosing unit of
	// work rolls back, so the caller may retry the whole operation.
	CodeStorageFailure Code = "storage_failure"

	CodeNotFound     Code = "not_found"
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeUnauthorized Code = "unauthorized"
	CodeTimeout      Code = "timeout"
	CodeInternal     Code = "internal"
)

// DomainError carries a Code plus a human-readable message. It wraps an
// optional cause for errors.Is/As chains.
type DomainError struct {
	Code    Code
	Message string
	cause   error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.cause }

// New creates a DomainError with the given code and message.
func New(code Code, message string) error {
	return &DomainError{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &DomainError{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *DomainError
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		if err == nil {
			return false
		}
	}
	return false
}

// Is is a convenience alias for HasCode, matching call sites that read
// dErrors.Is(err, dErrors.CodeX).
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the outermost code, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a domain code to its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodePermissionDenied, CodeAccessDenied:
		return http.StatusForbidden
	case CodeInvalidState, CodeTypeMismatch:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeBadRequest, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeStorageFailure, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
