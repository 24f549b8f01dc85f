package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a service error. Route adapters map kinds to HTTP
// statuses and safe messages; services never touch status codes directly.
type Kind string

const (
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
	KindRateLimited         Kind = "rate_limited"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindAPIKeyLimitExceeded Kind = "api_key_limit_exceeded"
	KindValidation          Kind = "validation"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamError       Kind = "upstream_error"
	KindTimeout             Kind = "timeout"
	KindConflict            Kind = "conflict"
	KindInternal            Kind = "internal"
)

// Error is a typed service error. Message must already be safe to return
// to clients: no prompts, no image bytes, no bearer secrets.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfterSeconds is a hint attached to rate_limited errors.
	RetryAfterSeconds int
	cause             error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a typed error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a typed error with an underlying cause. The cause is kept
// for logs only and never rendered to clients.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the Kind from err, defaulting to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// statusByKind maps the taxonomy to user-visible HTTP statuses.
var statusByKind = map[Kind]int{
	KindUnauthorized:        http.StatusUnauthorized,
	KindForbidden:           http.StatusForbidden,
	KindNotFound:            http.StatusNotFound,
	KindRateLimited:         http.StatusTooManyRequests,
	KindInsufficientCredits: http.StatusTooManyRequests,
	KindAPIKeyLimitExceeded: http.StatusTooManyRequests,
	KindValidation:          http.StatusBadRequest,
	KindUpstreamUnavailable: http.StatusServiceUnavailable,
	KindUpstreamError:       http.StatusBadGateway,
	KindTimeout:             http.StatusGatewayTimeout,
	KindConflict:            http.StatusConflict,
	KindInternal:            http.StatusInternalServerError,
}

// Status returns the HTTP status for err.
func Status(err error) int {
	if s, ok := statusByKind[KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the client may retry the same request.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindUpstreamUnavailable, KindUpstreamError, KindTimeout:
		return true
	}
	return false
}

// Message returns the safe client-facing message for err. Untyped errors
// collapse to a generic message so internals never leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
