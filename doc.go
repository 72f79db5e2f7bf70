// Package zulip provides a Go client for the Zulip chat server API.
//
// The client wraps the HTTP API with retries for transient failures and
// exposes the server's long-polling event queues as a blocking loop that
// survives connection loss, server restarts and queue expiry.
//
// Basic usage:
//
//	client, err := zulip.New("bot@example.com", "your-api-key",
//	    zulip.WithSite("chat.example.com"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Print every message until interrupted
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//
//	err = client.CallOnEachMessage(ctx, func(ctx context.Context, msg *zulip.Message) error {
//	    fmt.Printf("%s: %s\n", msg.SenderEmail, msg.Content)
//	    return nil
//	})
//
// Credentials can also be read from a zuliprc file, ZULIP_* environment
// variables or command-line flags with the zuliprc package and passed to
// NewFromConfig.
//
// Events are delivered in the order the server returns them and never
// twice from the same queue. When a queue expires, a new one is registered
// transparently; events that arrived in between are not replayed.
package zulip
