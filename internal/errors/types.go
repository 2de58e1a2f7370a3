package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Kind classifies every failure the orchestrator can surface. Tool-level
// kinds are recoverable: they are formatted and fed back to the model as a
// tool result. UpstreamError and ResourceExhausted terminate the job.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindInvalidWorkingDir Kind = "invalid_working_dir"
	KindPathViolation     Kind = "path_violation"
	KindTooLarge          Kind = "too_large"
	KindNotFound          Kind = "not_found"
	KindNoMatch           Kind = "no_match"
	KindUnknownTool       Kind = "unknown_tool"
	KindTimeout           Kind = "timeout"
	KindNetworkError      Kind = "network_error"
	KindUpstreamError     Kind = "upstream_error"
	KindResourceExhausted Kind = "resource_exhausted"
	KindInternal          Kind = "internal"
)

// Error is the domain error carried across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a domain error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain. Errors without a domain
// wrapper classify as KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Fatal reports whether an error must terminate the agent loop instead of
// being surfaced to the model as a recoverable tool failure.
func Fatal(err error) bool {
	switch KindOf(err) {
	case KindUpstreamError, KindResourceExhausted:
		return true
	}
	return false
}

// TransientError marks an error as retry-able by the retry helpers.
type TransientError struct {
	Err        error
	RetryAfter int // seconds, from a Retry-After header when present
	StatusCode int
	Message    string
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks an error as non-retry-able.
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewTransientError creates a transient error with a model-friendly message.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewPermanentError creates a permanent error with a model-friendly message.
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

// IsTransient checks if an error is retry-able.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	// Domain errors never retry implicitly; the caller decided their kind.
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == KindNetworkError || de.Kind == KindTimeout
	}

	if isNetworkError(err) {
		return true
	}

	if statusCode := extractHTTPStatusCode(err); statusCode > 0 {
		return isTransientHTTPStatus(statusCode)
	}

	if isSyscallError(err) {
		return true
	}

	return false
}

// FormatForLLM converts technical errors into messages the model can act on.
func FormatForLLM(err error) string {
	if err == nil {
		return ""
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) && transientErr.Message != "" {
		return transientErr.Message
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) && permanentErr.Message != "" {
		return permanentErr.Message
	}

	var de *Error
	if errors.As(err, &de) {
		switch de.Kind {
		case KindPathViolation:
			return fmt.Sprintf("Path escapes the job working directory: %s. Use paths inside the working directory.", de.Message)
		case KindTooLarge:
			return fmt.Sprintf("%s. Read a smaller range with offset/limit.", de.Message)
		case KindNoMatch:
			return fmt.Sprintf("%s. Check the exact text, including whitespace.", de.Message)
		case KindUnknownTool:
			return fmt.Sprintf("%s. Only advertised tools can be called.", de.Message)
		case KindTimeout:
			return fmt.Sprintf("%s. Break the operation into smaller steps or raise the timeout.", de.Message)
		default:
			return de.Error()
		}
	}

	errStr := err.Error()
	lowerErr := strings.ToLower(errStr)

	if strings.Contains(lowerErr, "rate limit") || strings.Contains(lowerErr, "429") {
		return "API rate limit reached. The request will be retried with backoff."
	}
	if strings.Contains(lowerErr, "timeout") || strings.Contains(lowerErr, "deadline exceeded") {
		return "Request timed out. Try breaking the operation into smaller steps."
	}
	if strings.Contains(lowerErr, "connection refused") {
		return "Service is not reachable. Check that the upstream endpoint is running."
	}
	if strings.Contains(lowerErr, "unauthorized") || strings.Contains(lowerErr, "401") {
		return "Authentication failed. Check the API key configuration."
	}
	if strings.Contains(lowerErr, "not found") || strings.Contains(lowerErr, "404") {
		return "Resource not found. Verify the path or identifier."
	}

	return errStr
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"deadline exceeded",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

var httpStatusCodes = []string{"429", "500", "502", "503", "504", "400", "401", "403", "404"}

func extractHTTPStatusCode(err error) int {
	lowerErr := strings.ToLower(err.Error())
	for _, code := range httpStatusCodes {
		if strings.Contains(lowerErr, "status "+code) || strings.Contains(lowerErr, " "+code+":") {
			var n int
			fmt.Sscanf(code, "%d", &n)
			return n
		}
	}
	return 0
}
