// Package errors provides domain-specific errors for the clinicsync offline core.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// Sentinel errors for common domain error conditions.
var (
	ErrOffline          = errors.New("client is offline")
	ErrInvalidAction    = errors.New("invalid sync action")
	ErrMissingEntityID  = errors.New("record has no id")
	ErrEntityRequired   = errors.New("entity type required")
	ErrTenantRequired   = errors.New("tenant id required")
	ErrRecordNotFound   = errors.New("record not found")
	ErrStoreClosed      = errors.New("store is closed")
	ErrDrainInProgress  = errors.New("drain already in progress")
	ErrNoCachedResponse = errors.New("no cached response")
)

// ErrorCode categorizes errors for handling and reporting.
type ErrorCode string

const (
	CodeValidation    ErrorCode = "VALIDATION"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeTransport     ErrorCode = "TRANSPORT"
	CodeStorage       ErrorCode = "STORAGE"
	CodeConfiguration ErrorCode = "CONFIG"
)

// ClinicsyncError wraps errors with additional context for debugging and handling.
type ClinicsyncError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error returns a formatted error string including the code, message, and cause if present.
func (e *ClinicsyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for use with errors.Is and errors.As.
func (e *ClinicsyncError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ClinicsyncError with the given code, message, and optional cause.
func NewError(code ErrorCode, message string, cause error) *ClinicsyncError {
	return &ClinicsyncError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Validation is shorthand for a CodeValidation error wrapping cause.
func Validation(message string, cause error) *ClinicsyncError {
	return NewError(CodeValidation, message, cause)
}

// Storage is shorthand for a CodeStorage error wrapping cause.
func Storage(message string, cause error) *ClinicsyncError {
	return NewError(CodeStorage, message, cause)
}

// WithContext adds a key-value pair to the error's context and returns the error.
func WithContext(err *ClinicsyncError, key string, value interface{}) *ClinicsyncError {
	if err.Context == nil {
		err.Context = make(map[string]interface{})
	}
	err.Context[key] = value
	return err
}

// CodeOf returns the code of the first ClinicsyncError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var ce *ClinicsyncError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsValidation reports whether err is a validation failure. Validation errors
// are the only offline-core failures that propagate to callers.
func IsValidation(err error) bool {
	if CodeOf(err) == CodeValidation {
		return true
	}
	return errors.Is(err, ErrInvalidAction) ||
		errors.Is(err, ErrMissingEntityID) ||
		errors.Is(err, ErrEntityRequired) ||
		errors.Is(err, ErrTenantRequired)
}

// IsTransportError reports whether err means no response was received at all.
// HTTP error statuses are not transport errors.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	if CodeOf(err) == CodeTransport || errors.Is(err, ErrOffline) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// url.Error wraps whatever the transport returned; fall back to the
	// message for transports that do not expose typed errors.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	msg := err.Error()
	for _, pattern := range []string{"connection refused", "no such host", "network is unreachable", "connection reset", "i/o timeout"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// StatusCoder is implemented by errors that carry the backend's HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// HTTPStatus returns the backend status carried by err's chain, or 0.
func HTTPStatus(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}

// IsClientRejection reports whether the backend refused the request with a
// 4xx status that will not change on retry. 408 and 429 are retryable.
func IsClientRejection(err error) bool {
	code := HTTPStatus(err)
	if code < 400 || code >= 500 {
		return false
	}
	return code != 408 && code != 429
}

// IsRetryable reports whether a failed delivery may succeed later: no
// response at all, a 5xx, or a retryable 4xx. A canceled caller is not.
func IsRetryable(err error) bool {
	if err == nil || IsValidation(err) || errors.Is(err, context.Canceled) {
		return false
	}
	if IsTransportError(err) {
		return true
	}
	code := HTTPStatus(err)
	return code >= 500 || code == 408 || code == 429
}

// Transport marks cause as a transport failure.
func Transport(message string, cause error) *ClinicsyncError {
	return NewError(CodeTransport, message, cause)
}

// Is reports whether err matches target using errors.Is semantics.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target and sets target to that error value.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
