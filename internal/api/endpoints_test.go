package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/zulip/client-go/internal/apierrors"
)

type capturedRequest struct {
	method string
	path   string
	params url.Values
}

// captureServer records every request and answers with body.
func captureServer(t *testing.T, body string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()
		if r.Method != http.MethodGet {
			data, _ := io.ReadAll(r.Body)
			params, _ = url.ParseQuery(string(data))
		}
		captured = append(captured, capturedRequest{method: r.Method, path: r.URL.EscapedPath(), params: params})
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server, &captured
}

func TestRegister_Params(t *testing.T) {
	server, captured := captureServer(t, `{"result":"success","msg":"","queue_id":"Q1","last_event_id":-1}`)
	client, _ := newTestClient(t, server.URL)

	resp, err := client.Register(context.Background(), RegisterRequest{
		EventTypes: []string{"message", "subscription"},
		Narrow:     [][]string{{"stream", "devel"}},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if resp.QueueID != "Q1" || resp.LastEventID != -1 {
		t.Errorf("Register() = %+v", resp)
	}

	got := (*captured)[0]
	if got.method != http.MethodPost || got.path != "/api/v1/register" {
		t.Errorf("request = %s %s", got.method, got.path)
	}
	if got.params.Get("event_types") != `["message","subscription"]` {
		t.Errorf("event_types = %q", got.params.Get("event_types"))
	}
	if got.params.Get("narrow") != `[["stream","devel"]]` {
		t.Errorf("narrow = %q", got.params.Get("narrow"))
	}
}

func TestRegister_PathOverride(t *testing.T) {
	server, captured := captureServer(t, `{"result":"success","msg":"","queue_id":"Q1","last_event_id":-1}`)
	client, _ := newTestClient(t, server.URL)

	if _, err := client.Register(context.Background(), RegisterRequest{PathOverride: "events"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if (*captured)[0].path != "/api/v1/events" {
		t.Errorf("path = %q", (*captured)[0].path)
	}
	if (*captured)[0].params.Has("event_types") {
		t.Error("event_types sent for an unrestricted queue")
	}
}

func TestDeregister(t *testing.T) {
	server, captured := captureServer(t, `{"result":"success","msg":""}`)
	client, _ := newTestClient(t, server.URL)

	if err := client.Deregister(context.Background(), "Q1"); err != nil {
		t.Fatalf("Deregister() error = %v", err)
	}
	got := (*captured)[0]
	if got.method != http.MethodDelete || got.path != "/api/v1/events" || got.params.Get("queue_id") != "Q1" {
		t.Errorf("request = %+v", got)
	}
}

func TestGetEvents_DecodesEvents(t *testing.T) {
	server, _ := captureServer(t, `{"result":"success","msg":"","events":[
		{"id":2,"type":"message","message":{"id":10,"sender_email":"a@example.com","type":"stream","display_recipient":"devel","subject":"t","content":"hello"}},
		{"id":1,"type":"presence","email":"b@example.com"}
	]}`)
	client, _ := newTestClient(t, server.URL)

	events, err := client.GetEvents(context.Background(), "Q1", -1)
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].ID != 2 || events[1].ID != 1 {
		t.Errorf("ids = %d, %d; want array order 2, 1", events[0].ID, events[1].ID)
	}
	if got := events[1].Get("email").String(); got != "b@example.com" {
		t.Errorf("Get(email) = %q", got)
	}

	msg := events[0].Message()
	if msg == nil {
		t.Fatal("Message() = nil")
	}
	if msg.ID != 10 || msg.Recipient != "devel" || msg.Content != "hello" || msg.SenderEmail != "a@example.com" {
		t.Errorf("Message() = %+v", msg)
	}
	if events[1].Message() != nil {
		t.Error("Message() on a presence event should be nil")
	}
}

func TestGetEvents_SkipsMalformedEvents(t *testing.T) {
	server, _ := captureServer(t, `{"result":"success","msg":"","events":[
		{"id":1,"type":"message"},
		"oops",
		null,
		{"id":2,"type":"presence"}
	]}`)
	var logs bytes.Buffer
	client, _ := newTestClient(t, server.URL, func(c *Config) {
		c.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	})

	events, err := client.GetEvents(context.Background(), "Q1", -1)
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != 2 || events[0].ID != 1 || events[1].ID != 2 {
		t.Fatalf("events = %+v, want ids 1 and 2", events)
	}
	if n := strings.Count(logs.String(), "skipping malformed event"); n != 2 {
		t.Errorf("malformed event warnings = %d, want 2; logs:\n%s", n, logs.String())
	}
	if !strings.Contains(logs.String(), "level=WARN") {
		t.Errorf("logs = %s, want WARN level", logs.String())
	}
}

func TestEvent_PrivateMessageRecipients(t *testing.T) {
	var ev Event
	raw := `{"id":5,"type":"message","message":{"id":3,"type":"private","display_recipient":[{"email":"a@example.com"},{"email":"b@example.com"}]}}`
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	msg := ev.Message()
	if msg == nil {
		t.Fatal("Message() = nil")
	}
	if len(msg.Recipients) != 2 || msg.Recipients[1] != "b@example.com" {
		t.Errorf("Recipients = %v", msg.Recipients)
	}
	if msg.Recipient != "" {
		t.Errorf("Recipient = %q, want empty for private messages", msg.Recipient)
	}

	out, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != raw {
		t.Errorf("Marshal() = %s, want raw event", out)
	}
}

func TestEvent_UnmarshalRejectsNonObject(t *testing.T) {
	var ev Event
	if err := json.Unmarshal([]byte(`[1]`), &ev); err == nil {
		t.Error("expected error for non-object event")
	}
}

func TestSendMessage_StreamRecipient(t *testing.T) {
	server, captured := captureServer(t, `{"result":"success","msg":"","id":9}`)
	client, _ := newTestClient(t, server.URL)

	_, err := client.SendMessage(context.Background(), SendMessageRequest{
		Type:    MessageTypeStream,
		To:      []string{"devel"},
		Subject: "build",
		Content: "green",
	})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	got := (*captured)[0].params
	if got.Get("to") != "devel" || got.Get("subject") != "build" {
		t.Errorf("params = %v", got)
	}
}

func TestUpdateMessage(t *testing.T) {
	server, captured := captureServer(t, `{"result":"success","msg":""}`)
	client, _ := newTestClient(t, server.URL)

	if err := client.UpdateMessage(context.Background(), UpdateMessageRequest{MessageID: 12, Content: "edited"}); err != nil {
		t.Fatalf("UpdateMessage() error = %v", err)
	}
	got := (*captured)[0]
	if got.method != http.MethodPatch || got.params.Get("message_id") != "12" || got.params.Get("content") != "edited" {
		t.Errorf("request = %+v", got)
	}
	if got.params.Has("subject") {
		t.Error("empty subject should not be sent")
	}
}

func TestSubscriptions(t *testing.T) {
	server, captured := captureServer(t, `{"result":"success","msg":"","removed":["devel"],"not_subscribed":[]}`)
	client, _ := newTestClient(t, server.URL)

	resp, err := client.RemoveSubscriptions(context.Background(), []string{"devel"})
	if err != nil {
		t.Fatalf("RemoveSubscriptions() error = %v", err)
	}
	if len(resp.Removed) != 1 {
		t.Errorf("Removed = %v", resp.Removed)
	}
	got := (*captured)[0]
	if got.method != http.MethodPatch || got.path != "/api/v1/users/me/subscriptions" {
		t.Errorf("request = %s %s", got.method, got.path)
	}
	if got.params.Get("delete") != `["devel"]` {
		t.Errorf("delete = %q", got.params.Get("delete"))
	}

	params, err := AddSubscriptionsRequest{
		Subscriptions: []StreamSpec{{Name: "ops"}},
		Principals:    []string{"a@example.com"},
	}.Params()
	if err != nil {
		t.Fatalf("Params() error = %v", err)
	}
	if params.Get("subscriptions") != `[{"name":"ops"}]` || params.Get("principals") != `["a@example.com"]` {
		t.Errorf("params = %v", params)
	}
}

func TestGetSubscribers_EscapesStream(t *testing.T) {
	server, captured := captureServer(t, `{"result":"success","msg":"","subscribers":["a@example.com"]}`)
	client, _ := newTestClient(t, server.URL)

	subs, err := client.GetSubscribers(context.Background(), "dev ops/alerts")
	if err != nil {
		t.Fatalf("GetSubscribers() error = %v", err)
	}
	if len(subs) != 1 {
		t.Errorf("subscribers = %v", subs)
	}
	if (*captured)[0].path != "/api/v1/streams/dev%20ops%2Falerts/members" {
		t.Errorf("path = %q", (*captured)[0].path)
	}
}

func TestListEndpoints(t *testing.T) {
	server, captured := captureServer(t, `{"result":"success","msg":"",
		"streams":[{"stream_id":1,"name":"devel"}],
		"members":[{"user_id":7,"email":"a@example.com"}],
		"subscriptions":[{"stream_id":1,"name":"devel"}],
		"rendered":"<p>hi</p>"}`)
	client, _ := newTestClient(t, server.URL)
	ctx := context.Background()

	streams, err := client.GetStreams(ctx, GetStreamsRequest{IncludeDefault: true})
	if err != nil || len(streams) != 1 || streams[0].Name != "devel" {
		t.Errorf("GetStreams() = %v, %v", streams, err)
	}
	members, err := client.GetMembers(ctx)
	if err != nil || len(members) != 1 || members[0].UserID != 7 {
		t.Errorf("GetMembers() = %v, %v", members, err)
	}
	subs, err := client.ListSubscriptions(ctx)
	if err != nil || len(subs) != 1 {
		t.Errorf("ListSubscriptions() = %v, %v", subs, err)
	}
	rendered, err := client.RenderMessage(ctx, "hi")
	if err != nil || rendered != "<p>hi</p>" {
		t.Errorf("RenderMessage() = %q, %v", rendered, err)
	}
	export, err := client.Export(ctx)
	if err != nil || len(export) == 0 {
		t.Errorf("Export() = %s, %v", export, err)
	}

	wantPaths := []string{
		"/api/v1/streams",
		"/api/v1/users",
		"/api/v1/users/me/subscriptions",
		"/api/v1/messages/render",
		"/api/v1/export",
	}
	for i, want := range wantPaths {
		if (*captured)[i].path != want {
			t.Errorf("request %d path = %q, want %q", i, (*captured)[i].path, want)
		}
	}
	if (*captured)[0].params.Get("include_default") != "true" {
		t.Errorf("include_default = %q", (*captured)[0].params.Get("include_default"))
	}
}

func TestCreateUser_ServerError(t *testing.T) {
	server, _ := captureServer(t, `{"result":"error","msg":"Must be an organization administrator"}`)
	client, _ := newTestClient(t, server.URL)

	err := client.CreateUser(context.Background(), CreateUserRequest{Email: "new@example.com", FullName: "New"})
	if !errors.Is(err, apierrors.ErrServer) {
		t.Errorf("CreateUser() error = %v, want ErrServer", err)
	}
	if errors.Is(err, apierrors.ErrBadEventQueueID) {
		t.Error("generic server error must not match ErrBadEventQueueID")
	}
}
