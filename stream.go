package zulip

import (
	"context"
	"strings"
)

// MessageWriter is an io.Writer that sends every Write as one message.
// Empty and whitespace-only writes are skipped.
type MessageWriter struct {
	client  *Client
	ctx     context.Context
	msgType string
	to      []string
	subject string
}

// NewStreamWriter returns a writer posting to a stream topic.
func (c *Client) NewStreamWriter(ctx context.Context, stream, subject string) *MessageWriter {
	return &MessageWriter{
		client:  c,
		ctx:     ctx,
		msgType: MessageTypeStream,
		to:      []string{stream},
		subject: subject,
	}
}

// NewPrivateWriter returns a writer sending private messages to the given
// recipients.
func (c *Client) NewPrivateWriter(ctx context.Context, to ...string) *MessageWriter {
	return &MessageWriter{
		client:  c,
		ctx:     ctx,
		msgType: MessageTypePrivate,
		to:      to,
	}
}

// Write sends p as a message.
func (w *MessageWriter) Write(p []byte) (int, error) {
	if _, err := w.WriteString(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteString sends s as a message.
func (w *MessageWriter) WriteString(s string) (int, error) {
	if strings.TrimSpace(s) == "" {
		return len(s), nil
	}
	_, err := w.client.SendMessage(w.ctx, SendMessageRequest{
		Type:    w.msgType,
		To:      w.to,
		Subject: w.subject,
		Content: s,
	})
	if err != nil {
		return 0, err
	}
	return len(s), nil
}

// Flush is a no-op; every write is sent immediately.
func (w *MessageWriter) Flush() error {
	return nil
}
