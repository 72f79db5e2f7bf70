package zulip

import (
	"context"
	"errors"
	"fmt"
)

// Watch returns a channel that receives events as they arrive. The channel
// is closed once the subscription ends, which happens when ctx is
// cancelled or the client is closed. Delivery blocks while the channel is
// full, so events are never dropped.
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
//	defer cancel()
//
//	for event := range client.Watch(ctx, zulip.WithEventTypes("message")) {
//	    fmt.Println(event.Type, event.ID)
//	}
func (c *Client) Watch(ctx context.Context, opts ...WatchOption) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		_ = c.CallOnEachEvent(ctx, func(ctx context.Context, event Event) error {
			select {
			case ch <- event:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}, opts...)
	}()
	return ch
}

// WaitForEvent subscribes to a new queue and returns the first event for
// which match returns true. The queue is deregistered before returning.
func (c *Client) WaitForEvent(ctx context.Context, match func(Event) bool, opts ...WatchOption) (*Event, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var found *Event
	err := c.CallOnEachEvent(ctx, func(_ context.Context, event Event) error {
		if found == nil && match(event) {
			found = &event
			cancel()
		}
		return nil
	}, opts...)
	if found != nil {
		return found, nil
	}
	return nil, err
}

// WaitForMessage waits for a message matching the given criteria.
func (c *Client) WaitForMessage(ctx context.Context, opts ...WaitOption) (*Message, error) {
	msgs, err := c.WaitForMessageCount(ctx, 1, opts...)
	if err != nil {
		return nil, err
	}
	return msgs[0], nil
}

// WaitForMessageCount waits until count matching messages have arrived.
func (c *Client) WaitForMessageCount(ctx context.Context, count int, opts ...WaitOption) ([]*Message, error) {
	if count < 0 {
		return nil, fmt.Errorf("count must be non-negative, got %d", count)
	}
	if count == 0 {
		return []*Message{}, nil
	}

	cfg := &waitConfig{
		timeout: defaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	var results []*Message
	err := c.CallOnEachMessage(waitCtx, func(_ context.Context, msg *Message) error {
		if len(results) < count && cfg.Matches(msg) {
			results = append(results, msg)
			if len(results) == count {
				cancel()
			}
		}
		return nil
	}, cfg.watch...)
	if len(results) == count {
		return results, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, &TimeoutError{Operation: "wait for message", Timeout: cfg.timeout}
	}
	return nil, err
}
