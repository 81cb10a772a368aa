package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure into a stable outcome category.
type Kind string

const (
	KindValidation Kind = "VALIDATION_ERROR"
	KindNotFound   Kind = "NOT_FOUND"
	KindPermission Kind = "PERMISSION_DENIED"
	KindConflict   Kind = "CONFLICT"
	KindInvariant  Kind = "INVARIANT_VIOLATION"
	KindInternal   Kind = "INTERNAL_ERROR"
	// KindUnauthenticated is raised by the authentication layer, never by the engine.
	KindUnauthenticated Kind = "UNAUTHENTICATED"
)

var (
	// ErrValidation matches any validation error via errors.Is.
	ErrValidation = &Error{Kind: KindValidation}
	// ErrNotFound matches any not-found error via errors.Is.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrPermission matches any permission error via errors.Is.
	ErrPermission = &Error{Kind: KindPermission}
	// ErrConflict matches any conflict error via errors.Is.
	ErrConflict = &Error{Kind: KindConflict}
	// ErrInvariant matches any invariant violation via errors.Is.
	ErrInvariant = &Error{Kind: KindInvariant}
	// ErrInternal matches any internal error via errors.Is.
	ErrInternal = &Error{Kind: KindInternal}
	// ErrUnauthenticated matches any authentication failure via errors.Is.
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
)

// Error is a classified domain error. Message is safe to show to callers;
// the wrapped cause is for diagnostic logging only.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Validation reports malformed or missing input.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// ValidationWithDetails reports malformed input with per-field messages.
func ValidationWithDetails(message string, details map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// NotFound reports a referenced entity that does not exist.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Permission reports a caller lacking the required role or ownership.
func Permission(message string) *Error {
	return &Error{Kind: KindPermission, Message: message}
}

// Conflict reports a precondition about current state that does not hold.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Invariant reports an operation that would break a standing invariant.
func Invariant(message string) *Error {
	return &Error{Kind: KindInvariant, Message: message}
}

// Unauthenticated reports missing or rejected credentials.
func Unauthenticated(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

// Internal wraps an unexpected store failure. The cause never reaches the caller.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", cause: cause}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
	Details    map[string]string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, message, code string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
	}
}

// ToErrorResponse converts an HTTPError to ErrorResponse.
func (e *HTTPError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Code:    e.Code,
		Details: e.Details,
	}
}

// StatusFor returns the HTTP status for a kind.
func StatusFor(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPermission:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindInvariant:
		return http.StatusUnprocessableEntity
	case KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// MapErrorToHTTP maps domain errors to HTTP errors. Unclassified errors and
// internal errors collapse to a generic 500 without their cause.
func MapErrorToHTTP(err error) *HTTPError {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		return NewHTTPError(http.StatusInternalServerError, "internal server error", string(KindInternal))
	}
	httpErr := NewHTTPError(StatusFor(e.Kind), e.Message, string(e.Kind))
	httpErr.Details = e.Details
	return httpErr
}
