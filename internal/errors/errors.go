// Package errors provides error types and handling for the bridge client.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// Connection represents failures to reach the browser host (refused, DNS, reset).
	Connection
	// ClientTimeout represents the local network budget running out.
	ClientTimeout
	// RemoteHTTP represents a non-2xx response from the browser host.
	RemoteHTTP
	// MalformedBody represents a response body that is not a JSON object.
	MalformedBody
	// RemoteReported represents an explicit success:false from the browser host.
	RemoteReported
	// ShapeValidation represents a success response whose payload has the wrong shape.
	ShapeValidation
	// InvalidArgument represents bad caller input detected before any request.
	InvalidArgument
	// Cancelled represents caller context cancellation.
	Cancelled
	// Internal represents a recovered programming error.
	Internal
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case Connection:
		return "connection"
	case ClientTimeout:
		return "client_timeout"
	case RemoteHTTP:
		return "remote_http"
	case MalformedBody:
		return "malformed_body"
	case RemoteReported:
		return "remote_reported"
	case ShapeValidation:
		return "shape_validation"
	case InvalidArgument:
		return "invalid_argument"
	case Cancelled:
		return "cancelled"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// IsRetryable reports whether a caller may reasonably retry errors of this type.
// The bridge client never retries on its own.
func (t ErrorType) IsRetryable() bool {
	switch t {
	case Connection, ClientTimeout, RemoteHTTP:
		return true
	default:
		return false
	}
}

// BridgeError represents a categorized failure of one bridge command.
type BridgeError struct {
	Type       ErrorType
	Session    string
	Operation  string
	Message    string
	Cause      error
	StatusCode int
	Retryable  bool
}

// Error implements the error interface.
func (e *BridgeError) Error() string {
	where := e.Operation
	if e.Session != "" {
		where = fmt.Sprintf("%s on session %q", e.Operation, e.Session)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s: %s (caused by: %v)",
			e.Type.String(), where, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s: %s", e.Type.String(), where, e.Message)
}

// Unwrap returns the underlying error.
func (e *BridgeError) Unwrap() error {
	return e.Cause
}

// Is matches another BridgeError by type.
func (e *BridgeError) Is(target error) bool {
	t, ok := target.(*BridgeError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithSession returns a copy of the error annotated with the session id.
func (e *BridgeError) WithSession(session string) *BridgeError {
	cp := *e
	cp.Session = session
	return &cp
}

// New creates a new BridgeError.
func New(errType ErrorType, operation, message string, cause error) *BridgeError {
	return &BridgeError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Cause:     cause,
		Retryable: errType.IsRetryable(),
	}
}

// NewConnectionError creates a connection error.
func NewConnectionError(operation string, cause error) *BridgeError {
	return New(Connection, operation, "browser host unreachable", cause)
}

// NewClientTimeoutError creates a client-side timeout error.
func NewClientTimeoutError(operation string, cause error) *BridgeError {
	return New(ClientTimeout, operation, "client network budget exceeded", cause)
}

// NewRemoteHTTPError creates an error for a non-2xx response.
func NewRemoteHTTPError(operation string, statusCode int, message string) *BridgeError {
	if message == "" {
		message = fmt.Sprintf("browser host returned %d", statusCode)
	}
	err := New(RemoteHTTP, operation, message, nil)
	err.StatusCode = statusCode
	// 4xx means the command itself was rejected
	err.Retryable = statusCode >= 500
	return err
}

// NewMalformedBodyError creates an error for an unparseable response body.
func NewMalformedBodyError(operation string, statusCode int, cause error) *BridgeError {
	err := New(MalformedBody, operation, "response body is not a JSON object", cause)
	err.StatusCode = statusCode
	return err
}

// NewRemoteReportedError creates an error carrying the host's own failure message.
func NewRemoteReportedError(operation, message string) *BridgeError {
	if message == "" {
		message = "unknown error"
	}
	return New(RemoteReported, operation, message, nil)
}

// NewShapeError creates a shape validation error.
func NewShapeError(operation, message string) *BridgeError {
	return New(ShapeValidation, operation, message, nil)
}

// NewInvalidArgumentError creates an invalid argument error.
func NewInvalidArgumentError(operation, message string) *BridgeError {
	return New(InvalidArgument, operation, message, nil)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(operation string, cause error) *BridgeError {
	return New(Cancelled, operation, "operation cancelled", cause)
}

// NewInternalError creates an error for a recovered panic.
func NewInternalError(operation string, recovered interface{}) *BridgeError {
	return New(Internal, operation, fmt.Sprintf("unexpected failure: %v", recovered), nil)
}

// Categorize determines the error type of a failed round trip.
func Categorize(err error, operation string) *BridgeError {
	if err == nil {
		return nil
	}

	var bridgeErr *BridgeError
	if errors.As(err, &bridgeErr) {
		return bridgeErr
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(operation, err)
	}

	// A dial that times out never reached the host.
	if isDialError(err) {
		return NewConnectionError(operation, err)
	}

	if isTimeout(err) {
		return NewClientTimeoutError(operation, err)
	}

	if isNetworkError(err) {
		return NewConnectionError(operation, err)
	}

	return New(Unknown, operation, err.Error(), err)
}

// CategorizeHTTPStatus creates an error from an HTTP status code, or nil for 2xx.
func CategorizeHTTPStatus(statusCode int, operation, message string) *BridgeError {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	return NewRemoteHTTPError(operation, statusCode, message)
}

// isTimeout checks if an error is a timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "Client.Timeout exceeded") ||
		strings.Contains(errStr, "deadline exceeded")
}

// isDialError reports whether err came from opening the connection.
func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// isNetworkError checks if an error is network-related.
func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp")
}

// IsRetryable checks if a caller may retry an error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var bridgeErr *BridgeError
	if errors.As(err, &bridgeErr) {
		return bridgeErr.Retryable
	}

	return isTimeout(err) || isNetworkError(err)
}

// GetStatusCode extracts the remote status code from an error.
func GetStatusCode(err error) int {
	var bridgeErr *BridgeError
	if errors.As(err, &bridgeErr) {
		return bridgeErr.StatusCode
	}
	return 0
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var bridgeErr *BridgeError
	if errors.As(err, &bridgeErr) {
		return bridgeErr.Type
	}
	return Unknown
}

// Is reports whether err carries the given type.
func Is(err error, errType ErrorType) bool {
	return GetErrorType(err) == errType
}
