package api

import (
	"encoding/json"
	"fmt"

	"github.com/zulip/client-go/internal/apierrors"
)

// Result is the uniform outcome of one API call.
type Result struct {
	// Kind is the value of the "result" field, or a synthetic error kind.
	Kind       apierrors.Kind
	Msg        string
	Code       string
	QueueID    string
	StatusCode int
	// Body is the raw JSON object returned by the server. It is nil for
	// synthetic results.
	Body json.RawMessage

	err error
}

// IsError reports whether the result describes a failure.
func (r *Result) IsError() bool {
	return r.Kind.IsError()
}

// Err returns the typed error for a failed result, or nil.
func (r *Result) Err() error {
	if !r.IsError() {
		return nil
	}
	switch r.Kind {
	case apierrors.KindConnection:
		return &apierrors.ConnectionError{Message: r.Msg, Err: r.err}
	case apierrors.KindHTTP:
		return &apierrors.HTTPError{StatusCode: r.StatusCode, Message: r.Msg}
	case apierrors.KindUnexpected:
		return &apierrors.UnexpectedError{Message: r.Msg, Err: r.err}
	default:
		return &apierrors.ServerError{
			StatusCode: r.StatusCode,
			Code:       r.Code,
			Message:    r.Msg,
			QueueID:    r.QueueID,
		}
	}
}

// Decode unmarshals the response body into v. Failed results return their
// error instead.
func (r *Result) Decode(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.Body) == 0 {
		return &apierrors.HTTPError{StatusCode: r.StatusCode, Message: serverErrorMsg}
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Map returns the result in the wire shape: the server's object, or
// {"result": kind, "msg": msg} for synthetic results.
func (r *Result) Map() map[string]any {
	if len(r.Body) > 0 {
		var m map[string]any
		if err := json.Unmarshal(r.Body, &m); err == nil {
			return m
		}
	}
	m := map[string]any{
		"result": string(r.Kind),
		"msg":    r.Msg,
	}
	if r.Kind == apierrors.KindHTTP {
		m["status_code"] = r.StatusCode
	}
	return m
}

func connectionResult(err error) *Result {
	return &Result{
		Kind: apierrors.KindConnection,
		Msg:  fmt.Sprintf("Unable to connect to the server: %v", err),
		err:  err,
	}
}

func unexpectedResult(err error) *Result {
	return &Result{
		Kind: apierrors.KindUnexpected,
		Msg:  fmt.Sprintf("Unexpected error: %v", err),
		err:  err,
	}
}
