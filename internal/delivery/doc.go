// Package delivery implements the long-polling event loop that consumes a
// server-side event queue.
//
// # Lifecycle
//
// A [Poller] moves through three states:
//
//   - unregistered: no queue handle. The poller calls register, retrying
//     failures through the register backoff policy until it succeeds.
//   - registered: a [Handle] holds the queue id and the last delivered
//     event id.
//   - polling: get_events is long-polled with the handle. Each delivered
//     event advances LastEventID to max(LastEventID, event.ID) before the
//     handler runs.
//
// A "Bad event queue id" error (the queue expired or the server restarted)
// drops the handle and the next iteration registers a fresh queue. Events
// buffered only in the dead queue are lost; the poller logs the gap at Warn.
// Any other error keeps the handle and retries the same poll after the poll
// backoff policy's delay.
//
// # Usage
//
//	poller, err := delivery.NewPoller(delivery.Config{
//	    Source:     apiClient,
//	    EventTypes: []string{"message"},
//	})
//	if err != nil {
//	    return err
//	}
//	err = poller.Run(ctx, func(ctx context.Context, ev api.Event) error {
//	    fmt.Println(ev.ID, ev.Type)
//	    return nil
//	})
//
// # Cancellation
//
// Run checks ctx before every long poll. Once ctx is cancelled it deregisters
// the queue on a best-effort basis (unless KeepQueue is set) and returns
// ctx.Err(). A handler error stops Run immediately and gets the same
// cleanup; with KeepQueue the handle stays in place so the caller can
// resume with [Config.Handle].
//
// # Thread Safety
//
// Run must not be called concurrently on one Poller. [Poller.Handle] may be
// called from any goroutine.
package delivery
