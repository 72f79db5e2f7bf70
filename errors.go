package zulip

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulip/client-go/internal/apierrors"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrMissingCredentials is returned when the email or API key is empty.
	ErrMissingCredentials = errors.New("email and API key are required")

	// ErrMissingSite is returned when no server URL is configured.
	ErrMissingSite = errors.New("missing server URL")

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("client has been closed")

	// ErrBadEventQueueID is matched by errors for queues the server no
	// longer knows, typically after expiry or a server restart.
	ErrBadEventQueueID = errors.New("bad event queue id")

	// ErrServer is matched by every error reported in a server response.
	ErrServer = errors.New("server error")

	// ErrConnection is returned when the server could not be reached.
	ErrConnection = errors.New("connection error")

	// ErrHTTP is returned when a response body is not a JSON object.
	ErrHTTP = errors.New("http error")

	// ErrUnexpected is returned for any other request failure.
	ErrUnexpected = errors.New("unexpected error")

	// ErrInvalidImportData is returned when an exported queue file is invalid.
	ErrInvalidImportData = errors.New("invalid import data")

	// ErrQueueMismatch is returned when an exported queue belongs to a
	// different server or user.
	ErrQueueMismatch = errors.New("exported queue belongs to another server or user")

	// ErrMonitorRunning is returned by EventMonitor.Start when it is
	// already running.
	ErrMonitorRunning = errors.New("event monitor already running")
)

// ZulipError is implemented by all SDK errors.
type ZulipError interface {
	error
	ZulipError() // marker method
}

// APIError is an error reported by the server.
type APIError struct {
	StatusCode int
	// Code is the machine-readable error code, if the server sent one.
	Code    string
	Message string
	// QueueID is set on queue errors.
	QueueID string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// ZulipError implements the ZulipError interface.
func (e *APIError) ZulipError() {}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrServer:
		return true
	case ErrBadEventQueueID:
		return errors.Is(e.internal(), apierrors.ErrBadEventQueueID)
	}
	return false
}

func (e *APIError) internal() error {
	return &apierrors.ServerError{StatusCode: e.StatusCode, Code: e.Code, Message: e.Message}
}

// ConnectionError represents a network-level failure that outlasted the
// client's retries.
type ConnectionError struct {
	Message string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection error: %v", e.Err)
	}
	return fmt.Sprintf("connection error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// ZulipError implements the ZulipError interface.
func (e *ConnectionError) ZulipError() {}

// HTTPError represents a response that could not be parsed.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Message)
}

// Is implements errors.Is for sentinel error matching.
func (e *HTTPError) Is(target error) bool {
	return target == ErrHTTP
}

// ZulipError implements the ZulipError interface.
func (e *HTTPError) ZulipError() {}

// UnexpectedError wraps any other failure while issuing a request.
type UnexpectedError struct {
	Message string
	Err     error
}

func (e *UnexpectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected error: %v", e.Err)
	}
	return fmt.Sprintf("unexpected error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *UnexpectedError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *UnexpectedError) Is(target error) bool {
	return target == ErrUnexpected
}

// ZulipError implements the ZulipError interface.
func (e *UnexpectedError) ZulipError() {}

// TimeoutError represents an operation that exceeded its deadline.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Timeout)
}

// ZulipError implements the ZulipError interface.
func (e *TimeoutError) ZulipError() {}

// wrapError converts internal API errors to public errors.
// This ensures that errors.Is() checks work with public sentinel errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var serverErr *apierrors.ServerError
	if errors.As(err, &serverErr) {
		return &APIError{
			StatusCode: serverErr.StatusCode,
			Code:       serverErr.Code,
			Message:    serverErr.Message,
			QueueID:    serverErr.QueueID,
		}
	}

	var connErr *apierrors.ConnectionError
	if errors.As(err, &connErr) {
		return &ConnectionError{Message: connErr.Message, Err: connErr.Err}
	}

	var httpErr *apierrors.HTTPError
	if errors.As(err, &httpErr) {
		return &HTTPError{StatusCode: httpErr.StatusCode, Message: httpErr.Message}
	}

	var unexpectedErr *apierrors.UnexpectedError
	if errors.As(err, &unexpectedErr) {
		return &UnexpectedError{Message: unexpectedErr.Message, Err: unexpectedErr.Err}
	}

	switch {
	case errors.Is(err, apierrors.ErrMissingCredentials):
		return ErrMissingCredentials
	case errors.Is(err, apierrors.ErrMissingSite):
		return ErrMissingSite
	}
	return err
}
