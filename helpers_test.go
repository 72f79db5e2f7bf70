package zulip

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulip/client-go/internal/clock"
)

// fakeZulip serves the event queue endpoints. Events pushed with push are
// returned one batch per poll; polls with nothing queued answer with an
// empty batch after a short wait.
type fakeZulip struct {
	server  *httptest.Server
	batches chan string

	mu       sync.Mutex
	calls    []string
	queues   int
	expired  map[string]bool
	sent     []url.Values
	register []url.Values
}

func newFakeZulip(t *testing.T) *fakeZulip {
	t.Helper()
	f := &fakeZulip{
		batches: make(chan string, 16),
		expired: make(map[string]bool),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeZulip) serve(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	if r.Method != http.MethodGet {
		data, _ := io.ReadAll(r.Body)
		params, _ = url.ParseQuery(string(data))
	}
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/register":
		f.mu.Lock()
		f.queues++
		queueID := fmt.Sprintf("q%d", f.queues)
		f.calls = append(f.calls, "register")
		f.register = append(f.register, params)
		f.mu.Unlock()
		fmt.Fprintf(w, `{"result":"success","msg":"","queue_id":%q,"last_event_id":-1}`, queueID)

	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/events":
		queueID := params.Get("queue_id")
		f.mu.Lock()
		f.calls = append(f.calls, "poll "+queueID+" "+params.Get("last_event_id"))
		expired := f.expired[queueID]
		f.mu.Unlock()
		if expired {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"result":"error","msg":"Bad event queue id: %s","code":"BAD_EVENT_QUEUE_ID","queue_id":%q}`, queueID, queueID)
			return
		}
		select {
		case batch := <-f.batches:
			fmt.Fprintf(w, `{"result":"success","msg":"","events":[%s]}`, batch)
		case <-r.Context().Done():
		case <-time.After(20 * time.Millisecond):
			fmt.Fprint(w, `{"result":"success","msg":"","events":[]}`)
		}

	case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/events":
		f.mu.Lock()
		f.calls = append(f.calls, "deregister "+params.Get("queue_id"))
		f.mu.Unlock()
		fmt.Fprint(w, `{"result":"success","msg":""}`)

	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/messages":
		f.mu.Lock()
		f.sent = append(f.sent, params)
		f.mu.Unlock()
		fmt.Fprint(w, `{"result":"success","msg":"","id":42}`)

	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/users/me/subscriptions":
		fmt.Fprint(w, `{"result":"success","msg":"","subscriptions":[{"stream_id":1,"name":"devel","color":"#76ce90"},{"stream_id":7,"name":"social","invite_only":true}]}`)

	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"result":"error","msg":"Not Found"}`)
	}
}

// push queues one batch of comma-separated event objects.
func (f *fakeZulip) push(events ...string) {
	f.batches <- strings.Join(events, ",")
}

func (f *fakeZulip) expire(queueID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired[queueID] = true
}

func (f *fakeZulip) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeZulip) count(prefix string) int {
	n := 0
	for _, call := range f.recorded() {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeZulip) registered() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.register...)
}

func (f *fakeZulip) sentMessages() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.sent...)
}

// waitFor polls cond until it holds or the test deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 5s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func messageEvent(id int64, subject, sender, content string) string {
	return fmt.Sprintf(`{"id":%d,"type":"message","message":{"id":%d,"type":"stream","display_recipient":"devel","subject":%q,"sender_email":%q,"content":%q}}`,
		id, 100+id, subject, sender, content)
}

func newTestClient(t *testing.T, f *fakeZulip, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithSite(f.server.URL),
		withClock(clock.Fake(time.Unix(1_700_000_000, 0))),
	}, opts...)
	client, err := New("bot@example.com", "secret", opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
