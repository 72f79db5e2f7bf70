package zulip

import (
	"context"
	"errors"
	"sync"

	"github.com/zulip/client-go/internal/delivery"
)

// Subscription represents an active subscription that can be unsubscribed.
type Subscription interface {
	// Unsubscribe stops the subscription and releases resources.
	Unsubscribe()
}

// internalSubscription implements the Subscription interface.
type internalSubscription struct {
	cancel func()
}

func (s *internalSubscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

// EventMonitor runs an event queue in the background and routes events to
// callbacks registered with OnEvent and OnMessage. Callbacks run on the
// monitor's goroutine, one event at a time, in delivery order.
type EventMonitor struct {
	client     *Client
	opts       []WatchOption
	dispatcher *Dispatcher

	mu      sync.Mutex
	poller  *delivery.Poller
	session *session
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	started bool
}

// NewEventMonitor creates a monitor. Callbacks may be registered before or
// after Start.
func (c *Client) NewEventMonitor(opts ...WatchOption) *EventMonitor {
	return &EventMonitor{
		client:     c,
		opts:       opts,
		dispatcher: NewDispatcher(),
		done:       make(chan struct{}),
	}
}

// OnEvent registers a callback for events of eventType, or for every event
// when eventType is AllEvents.
func (m *EventMonitor) OnEvent(eventType string, callback EventCallback) Subscription {
	return &internalSubscription{cancel: m.dispatcher.Subscribe(eventType, callback)}
}

// OnMessage registers a callback for message events.
func (m *EventMonitor) OnMessage(callback func(*Message)) Subscription {
	return m.OnEvent("message", func(event Event) {
		if msg := event.Message(); msg != nil {
			callback(msg)
		}
	})
}

// Start registers the queue and begins delivering events in the background.
// The monitor stops when ctx is cancelled, Stop is called or the client is
// closed. A monitor can only be started once.
func (m *EventMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrMonitorRunning
	}

	ctx, s, err := m.client.track(ctx)
	if err != nil {
		return err
	}
	w := newWatchConfig(m.opts)
	poller, err := m.client.newPoller(w)
	if err != nil {
		s.done()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	m.poller = poller
	m.session = s
	m.cancel = cancel
	m.started = true

	go func() {
		defer close(m.done)
		defer s.done()
		err := m.client.run(ctx, s, w, poller, m.dispatcher.Handler())
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
	}()
	return nil
}

// Stop cancels the monitor, waits for the queue to be cleaned up and
// removes every callback. It returns the error that ended the monitor, if
// any. Stop on a monitor that was never started is a no-op.
//
// Called from one of the monitor's own callbacks, Stop does not wait: the
// monitor finishes after the callback returns, and Done reports when.
func (m *EventMonitor) Stop() error {
	m.mu.Lock()
	started, cancel, s := m.started, m.cancel, m.session
	m.mu.Unlock()
	if !started {
		return nil
	}

	cancel()
	s.wait()
	m.dispatcher.Clear()
	return m.Err()
}

// Done is closed when the monitor has stopped.
func (m *EventMonitor) Done() <-chan struct{} {
	return m.done
}

// Err returns the error that ended the monitor, or nil if it is running or
// was cancelled.
func (m *EventMonitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Handle returns the current queue handle. It is the zero handle before
// registration completes.
func (m *EventMonitor) Handle() QueueHandle {
	m.mu.Lock()
	poller := m.poller
	m.mu.Unlock()
	if poller == nil {
		return QueueHandle{}
	}
	return poller.Handle()
}
