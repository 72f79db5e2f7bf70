package backoff

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/zulip/client-go/internal/clock"
)

// DefaultMaxRetries bounds the failure counter when no limit is configured.
const DefaultMaxRetries = 10

// Policy is a stateful retry pacer.
type Policy interface {
	// KeepGoing reports whether the attempt budget is not yet exhausted.
	// It first resets the counter if the success timeout has elapsed.
	KeepGoing() bool

	// Succeed resets the failure counter.
	Succeed()

	// Fail records a failure and blocks for the policy's delay. It
	// returns ctx.Err() if the context is cancelled while waiting.
	Fail(ctx context.Context) error

	// Attempts returns the current failure count.
	Attempts() int
}

// Factory builds a fresh Policy for one retry site.
type Factory func() Policy

// Backoff implements Policy. Construct it with NewCounting, NewFixed or
// NewRandomExponential.
type Backoff struct {
	mu             sync.Mutex
	maxRetries     int
	successTimeout time.Duration
	attempts       int
	lastAttempt    time.Time

	unit     time.Duration
	clock    clock.Clock
	randInt  func(n int) int
	logger   *slog.Logger
	logLevel slog.Level

	// delay computes the wait and its upper bound for the given
	// (already incremented) failure count. Nil means no wait.
	delay func(attempts int) (wait, ceiling time.Duration)
}

// Option configures a Backoff.
type Option func(*Backoff)

// WithMaxRetries bounds the failure counter. KeepGoing reports false once
// the counter reaches n.
func WithMaxRetries(n int) Option {
	return func(b *Backoff) {
		b.maxRetries = n
	}
}

// WithSuccessTimeout makes an idle period longer than d reset the counter.
// Zero disables the idle reset.
func WithSuccessTimeout(d time.Duration) Option {
	return func(b *Backoff) {
		b.successTimeout = d
	}
}

// WithClock sets the time source used for idle detection and waits.
func WithClock(c clock.Clock) Option {
	return func(b *Backoff) {
		b.clock = c
	}
}

// WithRand sets the source of jitter. fn must return a value in [0, n).
func WithRand(fn func(n int) int) Option {
	return func(b *Backoff) {
		b.randInt = fn
	}
}

// WithUnit sets the length of one delay unit for the exponential variant.
// Default: 1 second.
func WithUnit(d time.Duration) Option {
	return func(b *Backoff) {
		b.unit = d
	}
}

// WithLogger sets the logger that reports waits.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backoff) {
		b.logger = logger
	}
}

func newBackoff(opts []Option) *Backoff {
	b := &Backoff{
		maxRetries: DefaultMaxRetries,
		unit:       time.Second,
		clock:      clock.Real(),
		randInt:    rand.IntN,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		logLevel:   slog.LevelDebug,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewCounting returns a policy that only counts failures and never waits.
func NewCounting(opts ...Option) *Backoff {
	return newBackoff(opts)
}

// NewFixed returns a policy that waits d after every failure.
func NewFixed(d time.Duration, opts ...Option) *Backoff {
	b := newBackoff(opts)
	b.delay = func(int) (time.Duration, time.Duration) {
		return d, d
	}
	return b
}

// NewRandomExponential returns a policy whose wait after the n-th
// consecutive failure is scale+randint(1, scale) units, where
// scale = floor(2^(n/2 - 1)) + 1.
func NewRandomExponential(opts ...Option) *Backoff {
	b := newBackoff(opts)
	b.logLevel = slog.LevelWarn
	b.delay = func(attempts int) (time.Duration, time.Duration) {
		scale := Scale(attempts)
		units := scale + 1 + b.randInt(scale)
		return time.Duration(units) * b.unit, time.Duration(2*scale) * b.unit
	}
	return b
}

// Scale returns the exponential delay scale, in units, after the given
// number of consecutive failures.
func Scale(attempts int) int {
	return int(math.Pow(2, float64(attempts)/2-1)) + 1
}

// KeepGoing implements Policy.
func (b *Backoff) KeepGoing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkSuccessTimeout()
	return b.attempts < b.maxRetries
}

// Succeed implements Policy.
func (b *Backoff) Succeed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
	b.lastAttempt = b.clock.Now()
}

// Fail implements Policy.
func (b *Backoff) Fail(ctx context.Context) error {
	b.mu.Lock()
	b.checkSuccessTimeout()
	b.attempts = min(b.attempts+1, b.maxRetries)
	b.lastAttempt = b.clock.Now()
	attempts := b.attempts
	b.mu.Unlock()

	if b.delay == nil {
		return nil
	}
	wait, ceiling := b.delay(attempts)
	b.logger.Log(ctx, b.logLevel, "sleeping before retrying",
		"delay", wait,
		"max", ceiling,
		"attempt", attempts,
	)
	return clock.Sleep(ctx, b.clock, wait)
}

// Attempts implements Policy.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// checkSuccessTimeout must be called with mu held.
func (b *Backoff) checkSuccessTimeout() {
	if b.successTimeout > 0 && !b.lastAttempt.IsZero() &&
		b.clock.Now().Sub(b.lastAttempt) > b.successTimeout {
		b.attempts = 0
	}
}
