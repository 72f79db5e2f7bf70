package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zulip/client-go/internal/api"
	"github.com/zulip/client-go/internal/apierrors"
	"github.com/zulip/client-go/internal/backoff"
	"github.com/zulip/client-go/internal/clock"
)

var (
	// ErrNoSource is returned by NewPoller when Config.Source is nil.
	ErrNoSource = errors.New("delivery: no event source configured")

	// ErrNoQueueID reports a register response without a queue id. It is
	// retried like any other register failure.
	ErrNoQueueID = errors.New("delivery: register response has no queue_id")
)

// Poller owns one event queue subscription.
type Poller struct {
	source          Source
	request         api.RegisterRequest
	keepQueue       bool
	onRegister      func(Handle)
	registerBackoff backoff.Policy
	pollBackoff     backoff.Policy
	deregisterTTL   time.Duration
	verbose         bool
	logger          *slog.Logger

	mu     sync.Mutex
	handle Handle
}

// NewPoller creates a poller. No request is made until Run.
func NewPoller(cfg Config) (*Poller, error) {
	if cfg.Source == nil {
		return nil, ErrNoSource
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.DeregisterTimeout == 0 {
		cfg.DeregisterTimeout = DefaultDeregisterTimeout
	}
	if cfg.RegisterBackoff == nil {
		cfg.RegisterBackoff = backoff.NewRandomExponential(
			backoff.WithClock(cfg.Clock),
			backoff.WithLogger(cfg.Logger),
		)
	}
	if cfg.PollBackoff == nil {
		cfg.PollBackoff = backoff.NewFixed(DefaultPollRetryDelay,
			backoff.WithClock(cfg.Clock),
			backoff.WithLogger(cfg.Logger),
		)
	}

	return &Poller{
		source: cfg.Source,
		request: api.RegisterRequest{
			EventTypes:       cfg.EventTypes,
			Narrow:           cfg.Narrow,
			AllPublicStreams: cfg.AllPublicStreams,
			PathOverride:     cfg.RegisterPath,
		},
		keepQueue:       cfg.KeepQueue,
		onRegister:      cfg.OnRegister,
		registerBackoff: cfg.RegisterBackoff,
		pollBackoff:     cfg.PollBackoff,
		deregisterTTL:   cfg.DeregisterTimeout,
		verbose:         cfg.Verbose,
		logger:          cfg.Logger,
		handle:          cfg.Handle,
	}, nil
}

// Handle returns the current queue handle. It is the zero Handle while
// unregistered.
func (p *Poller) Handle() Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

func (p *Poller) setHandle(h Handle) {
	p.mu.Lock()
	p.handle = h
	p.mu.Unlock()
}

// advance records id as delivered.
func (p *Poller) advance(id int64) {
	p.mu.Lock()
	p.handle.LastEventID = max(p.handle.LastEventID, id)
	p.mu.Unlock()
}

// Run registers a queue if needed and delivers events to handler until ctx
// is cancelled or handler returns an error. Either way the queue is
// deregistered on return unless KeepQueue is set, in which case Handle
// reports where to resume.
func (p *Poller) Run(ctx context.Context, handler EventHandler) error {
	for {
		if err := ctx.Err(); err != nil {
			p.shutdown(ctx)
			return err
		}

		handle := p.Handle()
		if !handle.Valid() {
			if err := p.register(ctx); err != nil {
				p.shutdown(ctx)
				return err
			}
			continue
		}

		events, err := p.source.GetEvents(ctx, handle.QueueID, handle.LastEventID)
		if err != nil {
			p.pollFailed(ctx, handle, err)
			continue
		}
		p.pollBackoff.Succeed()

		for _, event := range events {
			p.advance(event.ID)
			if err := handler(ctx, event); err != nil {
				p.shutdown(ctx)
				return fmt.Errorf("handle event %d: %w", event.ID, err)
			}
		}
	}
}

func (p *Poller) register(ctx context.Context) error {
	for {
		resp, err := p.source.Register(ctx, p.request)
		if err == nil && (resp == nil || resp.QueueID == "") {
			err = ErrNoQueueID
		}
		if err == nil {
			p.registerBackoff.Succeed()
			handle := Handle{QueueID: resp.QueueID, LastEventID: resp.LastEventID}
			p.setHandle(handle)
			p.logger.Info("registered event queue",
				"queue_id", handle.QueueID,
				"last_event_id", handle.LastEventID,
			)
			if p.onRegister != nil {
				p.onRegister(handle)
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		p.logger.Warn("failed to register event queue, retrying",
			"error", err,
			"attempt", p.registerBackoff.Attempts()+1,
		)
		if err := p.registerBackoff.Fail(ctx); err != nil {
			return err
		}
	}
}

func (p *Poller) pollFailed(ctx context.Context, handle Handle, err error) {
	if ctx.Err() != nil {
		return
	}

	if errors.Is(err, apierrors.ErrBadEventQueueID) {
		p.logger.Warn("event queue no longer exists, re-registering; events may have been missed",
			"queue_id", handle.QueueID,
			"last_event_id", handle.LastEventID,
		)
		p.setHandle(Handle{})
		return
	}

	level := slog.LevelDebug
	if p.verbose {
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, "failed to get events, retrying",
		"queue_id", handle.QueueID,
		"kind", apierrors.KindOf(err),
		"error", err,
	)
	// A cancelled wait is picked up by Run's next ctx check.
	_ = p.pollBackoff.Fail(ctx)
}

// shutdown deregisters the queue when Run stops.
func (p *Poller) shutdown(ctx context.Context) {
	handle := p.Handle()
	if p.keepQueue || !handle.Valid() {
		return
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.deregisterTTL)
	defer cancel()

	if err := p.source.Deregister(cleanupCtx, handle.QueueID); err != nil {
		p.logger.Warn("failed to deregister event queue",
			"queue_id", handle.QueueID,
			"error", err,
		)
		return
	}
	p.logger.Debug("deregistered event queue", "queue_id", handle.QueueID)
	p.setHandle(Handle{})
}
