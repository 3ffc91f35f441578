// Package errors provides the structured error type shared by the console
// and its Decision Service client.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Decision Service transport
	ErrCodeServiceUnavailable ErrorCode = "DECISION_SERVICE_UNAVAILABLE"
	ErrCodeServiceTimeout     ErrorCode = "DECISION_SERVICE_TIMEOUT"
	ErrCodeBadStatus          ErrorCode = "DECISION_SERVICE_BAD_STATUS"
	ErrCodeContractViolation  ErrorCode = "RESPONSE_CONTRACT_VIOLATION"
	ErrCodeNotFound           ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"

	// Conversation
	ErrCodeConversationBusy   ErrorCode = "CONVERSATION_BUSY"
	ErrCodeConversationClosed ErrorCode = "CONVERSATION_CLOSED"
	ErrCodeEmptyMessage       ErrorCode = "EMPTY_MESSAGE"

	// KYC wizard
	ErrCodeStepIncomplete    ErrorCode = "WIZARD_STEP_INCOMPLETE"
	ErrCodeSubmitNotAllowed  ErrorCode = "WIZARD_SUBMIT_NOT_ALLOWED"
	ErrCodeSubmitInFlight    ErrorCode = "KYC_SUBMIT_IN_FLIGHT"
	ErrCodeAlreadySubmitted  ErrorCode = "KYC_ALREADY_SUBMITTED"
	ErrCodeVerificationError ErrorCode = "KYC_VERIFICATION_FAILED"

	// Session / storage
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeStoreFailed     ErrorCode = "SESSION_STORE_FAILED"
	ErrCodeTranscriptWrite ErrorCode = "TRANSCRIPT_WRITE_FAILED"

	ErrCodeUnknown ErrorCode = "UNKNOWN_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches two StandardErrors by code so callers can compare against the
// zero-detail values returned by the constructors below.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata returns e with key set in its metadata map.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message string, cause error, retryable bool) *StandardError {
	se := &StandardError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
	if cause != nil {
		se.Details = cause.Error()
	}
	return se
}

func NewServiceUnavailableError(err error) *StandardError {
	return newError(ErrCodeServiceUnavailable, "Decision Service unreachable", err, true)
}

func NewServiceTimeoutError(err error) *StandardError {
	return newError(ErrCodeServiceTimeout, "Decision Service request timed out", err, true)
}

func NewBadStatusError(endpoint string, status int) *StandardError {
	se := newError(ErrCodeBadStatus, fmt.Sprintf("Decision Service %s returned status %d", endpoint, status), nil, status >= 500)
	return se.WithMetadata("status", status).WithMetadata("endpoint", endpoint)
}

func NewContractViolationError(endpoint string, err error) *StandardError {
	return newError(ErrCodeContractViolation, fmt.Sprintf("malformed %s response", endpoint), err, false)
}

func NewNotFoundError(resource string) *StandardError {
	return newError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), nil, false)
}

func NewUnauthorizedError(endpoint string) *StandardError {
	return newError(ErrCodeUnauthorized, fmt.Sprintf("Decision Service rejected credentials for %s", endpoint), nil, false)
}

func NewStepIncompleteError(step string, details string) *StandardError {
	se := newError(ErrCodeStepIncomplete, fmt.Sprintf("%s step is incomplete", step), nil, false)
	se.Details = details
	return se
}

func NewStoreError(op string, err error) *StandardError {
	return newError(ErrCodeStoreFailed, fmt.Sprintf("session store %s failed", op), err, true)
}

func NewTranscriptWriteError(err error) *StandardError {
	return newError(ErrCodeTranscriptWrite, "transcript write failed", err, true)
}

// Sentinels for errors.Is comparisons.
var (
	ErrServiceUnavailable = &StandardError{Code: ErrCodeServiceUnavailable}
	ErrServiceTimeout     = &StandardError{Code: ErrCodeServiceTimeout}
	ErrBadStatus          = &StandardError{Code: ErrCodeBadStatus}
	ErrContractViolation  = &StandardError{Code: ErrCodeContractViolation}
	ErrNotFound           = &StandardError{Code: ErrCodeNotFound}
	ErrUnauthorized       = &StandardError{Code: ErrCodeUnauthorized}
	ErrStepIncomplete     = &StandardError{Code: ErrCodeStepIncomplete}
	ErrSessionNotFound    = &StandardError{Code: ErrCodeSessionNotFound}
)

// IsTransport reports whether err is a transport-level failure of a Decision
// Service call: unreachable, timed out, non-2xx or an unreadable body.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	var se *StandardError
	if stderrors.As(err, &se) {
		switch se.Code {
		case ErrCodeServiceUnavailable, ErrCodeServiceTimeout, ErrCodeBadStatus,
			ErrCodeContractViolation, ErrCodeNotFound, ErrCodeUnauthorized:
			return true
		}
		return false
	}
	return stderrors.Is(err, context.DeadlineExceeded)
}

// IsRetryable reports whether a fresh user-initiated attempt may succeed.
func IsRetryable(err error) bool {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// Normalize converts any error into a StandardError.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var se *StandardError
	if stderrors.As(err, &se) {
		return se
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewServiceTimeoutError(err)
	}
	return newError(ErrCodeUnknown, "unexpected error", err, false)
}

// Is and As re-export the standard library helpers so callers only import
// this package.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

func New(text string) error { return stderrors.New(text) }
