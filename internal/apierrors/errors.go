// Package apierrors provides the error taxonomy shared by the transport,
// the polling loop and the public client.
package apierrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrMissingCredentials is returned when the email or API key is missing.
	ErrMissingCredentials = errors.New("email and API key are required")

	// ErrMissingSite is returned when no server URL is configured.
	ErrMissingSite = errors.New("server URL is required")

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("client has been closed")

	// ErrConnection matches every connection-error result.
	ErrConnection = errors.New("connection error")

	// ErrHTTP matches every http-error result.
	ErrHTTP = errors.New("unexpected response from the server")

	// ErrUnexpected matches every unexpected-error result.
	ErrUnexpected = errors.New("unexpected error")

	// ErrServer matches every error reported by the server in the response body.
	ErrServer = errors.New("server returned error")

	// ErrBadEventQueueID is returned when the server no longer knows the
	// event queue, usually because it expired or the server restarted.
	ErrBadEventQueueID = errors.New("bad event queue id")
)

// Kind is the value of the "result" field of a response.
type Kind string

const (
	// KindSuccess is a successful server response.
	KindSuccess Kind = "success"
	// KindServer is an application error reported by the server.
	KindServer Kind = "error"
	// KindConnection is a network failure after local retries were exhausted.
	KindConnection Kind = "connection-error"
	// KindHTTP is a response that could not be parsed.
	KindHTTP Kind = "http-error"
	// KindUnexpected is any other failure while issuing the request.
	KindUnexpected Kind = "unexpected-error"
)

// IsError reports whether the kind denotes a failure. Any result value
// containing "error" is treated as one, matching the server's convention.
func (k Kind) IsError() bool {
	return strings.Contains(string(k), "error")
}

// BadEventQueueCode is the machine-readable code the server attaches to
// unknown queue errors.
const BadEventQueueCode = "BAD_EVENT_QUEUE_ID"

// badEventQueuePrefix is the message prefix for unknown queue errors.
const badEventQueuePrefix = "Bad event queue id"

// ServerError is an error reported by the server in a parsed response body.
type ServerError struct {
	StatusCode int
	Code       string
	Message    string
	QueueID    string
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Is implements errors.Is for sentinel error matching.
func (e *ServerError) Is(target error) bool {
	switch target {
	case ErrServer:
		return true
	case ErrBadEventQueueID:
		return e.Code == BadEventQueueCode || strings.HasPrefix(e.Message, badEventQueuePrefix)
	}
	return false
}

// ConnectionError represents a network-level failure.
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

// HTTPError represents a response whose body was not a valid JSON object.
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

// KindOf returns the result kind an error corresponds to. It returns
// KindSuccess for nil and KindUnexpected for errors outside the taxonomy.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindSuccess
	case errors.Is(err, ErrServer):
		return KindServer
	case errors.Is(err, ErrConnection):
		return KindConnection
	case errors.Is(err, ErrHTTP):
		return KindHTTP
	default:
		return KindUnexpected
	}
}
