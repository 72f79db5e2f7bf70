package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/zulip/client-go/internal/api"
	"github.com/zulip/client-go/internal/backoff"
	"github.com/zulip/client-go/internal/clock"
)

// Source is the server-side event queue registry.
// *api.Client implements it.
type Source interface {
	Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error)
	GetEvents(ctx context.Context, queueID string, lastEventID int64) ([]api.Event, error)
	Deregister(ctx context.Context, queueID string) error
}

// Handle identifies a registered queue and the newest event delivered
// from it.
type Handle struct {
	QueueID     string `json:"queue_id"`
	LastEventID int64  `json:"last_event_id"`
}

// Valid reports whether the handle refers to a queue.
func (h Handle) Valid() bool {
	return h.QueueID != ""
}

// EventHandler is invoked for every delivered event in arrival order.
// Returning an error stops the poller.
type EventHandler func(ctx context.Context, event api.Event) error

// Config holds the configuration for a Poller.
type Config struct {
	// Source is the queue registry. Required.
	Source Source

	// EventTypes restricts the queue to these event types. Nil means all.
	EventTypes []string

	// Narrow restricts message events, e.g. [["stream", "devel"]].
	Narrow [][]string

	// AllPublicStreams requests messages from every public stream.
	AllPublicStreams bool

	// RegisterPath overrides the register endpoint path.
	RegisterPath string

	// Handle resumes an existing queue instead of registering a new one.
	Handle Handle

	// KeepQueue skips the deregister call when Run returns so the handle
	// can be persisted and resumed later.
	KeepQueue bool

	// OnRegister is called with every newly registered handle.
	OnRegister func(Handle)

	// RegisterBackoff paces register retries.
	// If nil, defaults to a random exponential policy.
	RegisterBackoff backoff.Policy

	// PollBackoff paces poll retries after errors that keep the handle.
	// If nil, defaults to a fixed DefaultPollRetryDelay policy.
	PollBackoff backoff.Policy

	// DeregisterTimeout bounds the cleanup deregister call.
	// If zero, defaults to DefaultDeregisterTimeout.
	DeregisterTimeout time.Duration

	// Verbose logs every poll failure at Warn instead of Debug.
	Verbose bool

	// Clock is used by the default backoff policies.
	Clock clock.Clock

	// Logger receives lifecycle logs. If nil, logs are discarded.
	Logger *slog.Logger
}

// Default poller values.
const (
	DefaultPollRetryDelay    = time.Second
	DefaultDeregisterTimeout = 5 * time.Second
)
