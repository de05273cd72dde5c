// Package apierror maps gateway failures to typed kinds, HTTP statuses and generic client bodies.
// Client messages never carry the underlying cause.
package apierror

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Kind classifies a failure so callers branch on kind, not message text.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindThreat
	KindRateLimited
	KindAuth
	KindForbidden
	KindTooLarge
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindThreat:
		return "threat"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindTooLarge:
		return "too_large"
	case KindIntegrity:
		return "integrity"
	default:
		return "internal"
	}
}

// Status returns the HTTP status for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindThreat, KindIntegrity:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Machine-readable codes.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeThreatDetected  = "THREAT_DETECTED"
	CodeIPBlocked       = "IP_BLOCKED"
	CodeRateLimited     = "RATE_LIMIT_EXCEEDED"
	CodeRefreshThrottle = "REFRESH_THROTTLED"
	CodeBruteForce      = "TOO_MANY_ATTEMPTS"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeMissingToken    = "MISSING_TOKEN"
	CodeForbidden       = "FORBIDDEN"
	CodeCSRFMissing     = "CSRF_TOKEN_MISSING"
	CodeCSRFInvalid     = "CSRF_TOKEN_INVALID"
	CodeTooLarge        = "REQUEST_TOO_LARGE"
	CodeQueryRejected   = "QUERY_REJECTED"
	CodeInternal        = "INTERNAL_ERROR"
)

// MsgInvalidToken is the only message clients see for any token failure.
const MsgInvalidToken = "Invalid or expired token"

// Error is a classified failure. Message is safe for clients; Err is for logs only.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Code + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status for the error kind.
func (e *Error) Status() int { return e.Kind.Status() }

// New returns an Error of kind with a client code and message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches cause to a new Error for server-side logging.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// Validation is a 400 for malformed input.
func Validation(message string) *Error {
	return New(KindValidation, CodeValidation, message)
}

// Threat is a 400 for a detected attack payload.
func Threat(code string) *Error {
	return New(KindThreat, code, "Request blocked by security policy")
}

// RateLimited is a 429 carrying retryAfter.
func RateLimited(code string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Code: code, Message: "Too many requests, please try again later", RetryAfter: retryAfter}
}

// Auth is a 401 with the generic token message whatever cause is.
func Auth(cause error) *Error {
	return Wrap(KindAuth, CodeInvalidToken, MsgInvalidToken, cause)
}

// Forbidden is a 403.
func Forbidden(code, message string) *Error {
	return New(KindForbidden, code, message)
}

// TooLarge is a 413.
func TooLarge() *Error {
	return New(KindTooLarge, CodeTooLarge, "Request entity too large")
}

// Integrity is a rejected query shape; the cause is never surfaced.
func Integrity(cause error) *Error {
	return Wrap(KindIntegrity, CodeQueryRejected, "Request could not be processed", cause)
}

// Internal is a 500 with a generic message.
func Internal(cause error) *Error {
	return Wrap(KindInternal, CodeInternal, "Internal server error", cause)
}

// As returns the *Error in err's chain, or an Internal wrapping err.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// KindOf returns the kind of err; KindInternal when unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Body is the JSON error envelope.
type Body struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Write writes err as the JSON envelope with its status and Retry-After when set.
func Write(w http.ResponseWriter, err error) {
	e := As(err)
	body := Body{Success: false, Message: e.Message, Code: e.Code}
	if e.RetryAfter > 0 {
		secs := int(math.Ceil(e.RetryAfter.Seconds()))
		body.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	WriteJSON(w, e.Status(), body)
}

// WriteJSON writes v as JSON with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
