package zulip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestStreamWriter(t *testing.T) {
	f := newFakeZulip(t)
	client := newTestClient(t, f)

	w := client.NewStreamWriter(context.Background(), "devel", "build log")
	if _, err := fmt.Fprint(w, "build #12 passed"); err != nil {
		t.Fatalf("Fprint() error = %v", err)
	}
	if n, err := io.WriteString(w, "  \n"); err != nil || n != 3 {
		t.Errorf("WriteString(blank) = %d, %v", n, err)
	}
	if err := w.Flush(); err != nil {
		t.Errorf("Flush() error = %v", err)
	}

	sent := f.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	got := sent[0]
	if got.Get("type") != "stream" || got.Get("to") != "devel" || got.Get("subject") != "build log" || got.Get("content") != "build #12 passed" {
		t.Errorf("sent = %v", got)
	}
}

func TestPrivateWriter(t *testing.T) {
	f := newFakeZulip(t)
	client := newTestClient(t, f)

	w := client.NewPrivateWriter(context.Background(), "alice@example.com", "bob@example.com")
	if n, err := w.Write([]byte("ping")); err != nil || n != 4 {
		t.Fatalf("Write() = %d, %v", n, err)
	}

	got := f.sentMessages()[0]
	if got.Get("type") != "private" || got.Get("to") != `["alice@example.com","bob@example.com"]` {
		t.Errorf("sent = %v", got)
	}
	if got.Has("subject") {
		t.Error("private message sent with a subject")
	}
}

func TestMessageWriter_Error(t *testing.T) {
	f := newFakeZulip(t)
	client := newTestClient(t, f)
	_ = client.Close()

	w := client.NewStreamWriter(context.Background(), "devel", "x")
	if n, err := w.Write([]byte("lost")); n != 0 || !errors.Is(err, ErrClientClosed) {
		t.Errorf("Write() = %d, %v", n, err)
	}
}
