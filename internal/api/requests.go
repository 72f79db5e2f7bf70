package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Request is one API operation.
type Request interface {
	// Method is the HTTP method.
	Method() string
	// Path is relative to BaseURL + APIVersion.
	Path() string
	// Params serializes the request fields.
	Params() (url.Values, error)
	// LongPoll reports whether the server may hold the request open.
	LongPoll() bool
}

// params accumulates request fields. Strings are sent verbatim and every
// other value is JSON-encoded.
type params struct {
	values url.Values
	err    error
}

func newParams() *params {
	return &params{values: url.Values{}}
}

func (p *params) str(key, value string) *params {
	p.values.Set(key, value)
	return p
}

// optStr sets key only when value is non-empty.
func (p *params) optStr(key, value string) *params {
	if value != "" {
		p.values.Set(key, value)
	}
	return p
}

func (p *params) encode(key string, value any) *params {
	if p.err != nil {
		return p
	}
	data, err := json.Marshal(value)
	if err != nil {
		p.err = fmt.Errorf("encode %s: %w", key, err)
		return p
	}
	p.values.Set(key, string(data))
	return p
}

func (p *params) number(key string, value int64) *params {
	p.values.Set(key, strconv.FormatInt(value, 10))
	return p
}

func (p *params) build() (url.Values, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.values, nil
}

// RegisterRequest allocates an event queue.
type RegisterRequest struct {
	// EventTypes limits the queue to the given event types. Empty means all.
	EventTypes []string
	// Narrow is a message filter such as [["stream", "devel"]].
	Narrow [][]string
	// ApplyMarkdown requests rendered message content.
	ApplyMarkdown *bool
	// AllPublicStreams includes messages from streams the user is not
	// subscribed to.
	AllPublicStreams bool
	// PathOverride replaces the default "register" path.
	PathOverride string
}

func (RegisterRequest) Method() string { return http.MethodPost }
func (RegisterRequest) LongPoll() bool { return false }

func (r RegisterRequest) Path() string {
	if r.PathOverride != "" {
		return r.PathOverride
	}
	return "register"
}

func (r RegisterRequest) Params() (url.Values, error) {
	p := newParams()
	if r.EventTypes != nil {
		p.encode("event_types", r.EventTypes)
	}
	if len(r.Narrow) > 0 {
		p.encode("narrow", r.Narrow)
	}
	if r.ApplyMarkdown != nil {
		p.encode("apply_markdown", *r.ApplyMarkdown)
	}
	if r.AllPublicStreams {
		p.encode("all_public_streams", true)
	}
	return p.build()
}

// GetEventsRequest long-polls a queue for events after LastEventID.
type GetEventsRequest struct {
	QueueID     string
	LastEventID int64
	DontBlock   bool
}

func (GetEventsRequest) Method() string { return http.MethodGet }
func (GetEventsRequest) Path() string   { return "events" }
func (GetEventsRequest) LongPoll() bool { return true }

func (r GetEventsRequest) Params() (url.Values, error) {
	p := newParams().
		str("queue_id", r.QueueID).
		number("last_event_id", r.LastEventID)
	if r.DontBlock {
		p.encode("dont_block", true)
	}
	return p.build()
}

// DeregisterRequest deletes a queue.
type DeregisterRequest struct {
	QueueID string
}

func (DeregisterRequest) Method() string { return http.MethodDelete }
func (DeregisterRequest) Path() string   { return "events" }
func (DeregisterRequest) LongPoll() bool { return false }

func (r DeregisterRequest) Params() (url.Values, error) {
	return newParams().str("queue_id", r.QueueID).build()
}

// Message types.
const (
	MessageTypeStream  = "stream"
	MessageTypePrivate = "private"
)

// SendMessageRequest sends a stream or private message.
type SendMessageRequest struct {
	// Type is MessageTypeStream or MessageTypePrivate.
	Type string
	// To is a stream name for stream messages, or recipient emails for
	// private messages.
	To      []string
	Subject string
	Content string
}

func (SendMessageRequest) Method() string { return http.MethodPost }
func (SendMessageRequest) Path() string   { return "messages" }
func (SendMessageRequest) LongPoll() bool { return false }

func (r SendMessageRequest) Params() (url.Values, error) {
	p := newParams().
		str("type", r.Type).
		str("content", r.Content).
		optStr("subject", r.Subject)
	if r.Type == MessageTypeStream && len(r.To) == 1 {
		p.str("to", r.To[0])
	} else {
		p.encode("to", r.To)
	}
	return p.build()
}

// UpdateMessageRequest edits a message's content or subject.
type UpdateMessageRequest struct {
	MessageID int64
	Content   string
	Subject   string
}

func (UpdateMessageRequest) Method() string { return http.MethodPatch }
func (UpdateMessageRequest) Path() string   { return "messages" }
func (UpdateMessageRequest) LongPoll() bool { return false }

func (r UpdateMessageRequest) Params() (url.Values, error) {
	return newParams().
		number("message_id", r.MessageID).
		optStr("content", r.Content).
		optStr("subject", r.Subject).
		build()
}

// ExportRequest fetches a full export of the user's realm data.
type ExportRequest struct{}

func (ExportRequest) Method() string              { return http.MethodGet }
func (ExportRequest) Path() string                { return "export" }
func (ExportRequest) LongPoll() bool              { return false }
func (ExportRequest) Params() (url.Values, error) { return url.Values{}, nil }

// GetProfileRequest fetches the authenticated user's profile.
type GetProfileRequest struct {
	// ClientGravatar lets the server omit gravatar URLs.
	ClientGravatar bool
}

func (GetProfileRequest) Method() string { return http.MethodGet }
func (GetProfileRequest) Path() string   { return "users/me" }
func (GetProfileRequest) LongPoll() bool { return false }

func (r GetProfileRequest) Params() (url.Values, error) {
	p := newParams()
	if r.ClientGravatar {
		p.encode("client_gravatar", true)
	}
	return p.build()
}

// GetStreamsRequest lists streams.
type GetStreamsRequest struct {
	IncludePublic     *bool
	IncludeSubscribed *bool
	IncludeDefault    bool
}

func (GetStreamsRequest) Method() string { return http.MethodGet }
func (GetStreamsRequest) Path() string   { return "streams" }
func (GetStreamsRequest) LongPoll() bool { return false }

func (r GetStreamsRequest) Params() (url.Values, error) {
	p := newParams()
	if r.IncludePublic != nil {
		p.encode("include_public", *r.IncludePublic)
	}
	if r.IncludeSubscribed != nil {
		p.encode("include_subscribed", *r.IncludeSubscribed)
	}
	if r.IncludeDefault {
		p.encode("include_default", true)
	}
	return p.build()
}

// GetMembersRequest lists the realm's users.
type GetMembersRequest struct{}

func (GetMembersRequest) Method() string              { return http.MethodGet }
func (GetMembersRequest) Path() string                { return "users" }
func (GetMembersRequest) LongPoll() bool              { return false }
func (GetMembersRequest) Params() (url.Values, error) { return url.Values{}, nil }

// ListSubscriptionsRequest lists the user's stream subscriptions.
type ListSubscriptionsRequest struct{}

func (ListSubscriptionsRequest) Method() string              { return http.MethodGet }
func (ListSubscriptionsRequest) Path() string                { return "users/me/subscriptions" }
func (ListSubscriptionsRequest) LongPoll() bool              { return false }
func (ListSubscriptionsRequest) Params() (url.Values, error) { return url.Values{}, nil }

// StreamSpec names a stream to subscribe to.
type StreamSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// AddSubscriptionsRequest subscribes to streams, creating missing ones.
type AddSubscriptionsRequest struct {
	Subscriptions []StreamSpec
	// Principals subscribes other users by email.
	Principals []string
	InviteOnly bool
}

func (AddSubscriptionsRequest) Method() string { return http.MethodPost }
func (AddSubscriptionsRequest) Path() string   { return "users/me/subscriptions" }
func (AddSubscriptionsRequest) LongPoll() bool { return false }

func (r AddSubscriptionsRequest) Params() (url.Values, error) {
	p := newParams().encode("subscriptions", r.Subscriptions)
	if len(r.Principals) > 0 {
		p.encode("principals", r.Principals)
	}
	if r.InviteOnly {
		p.encode("invite_only", true)
	}
	return p.build()
}

// RemoveSubscriptionsRequest unsubscribes from streams by name.
type RemoveSubscriptionsRequest struct {
	Streams []string
}

func (RemoveSubscriptionsRequest) Method() string { return http.MethodPatch }
func (RemoveSubscriptionsRequest) Path() string   { return "users/me/subscriptions" }
func (RemoveSubscriptionsRequest) LongPoll() bool { return false }

func (r RemoveSubscriptionsRequest) Params() (url.Values, error) {
	return newParams().encode("delete", r.Streams).build()
}

// GetSubscribersRequest lists the members of a stream.
type GetSubscribersRequest struct {
	Stream string
}

func (GetSubscribersRequest) Method() string              { return http.MethodGet }
func (GetSubscribersRequest) LongPoll() bool              { return false }
func (GetSubscribersRequest) Params() (url.Values, error) { return url.Values{}, nil }

func (r GetSubscribersRequest) Path() string {
	return "streams/" + url.PathEscape(r.Stream) + "/members"
}

// RenderMessageRequest renders Markdown content to HTML.
type RenderMessageRequest struct {
	Content string
}

func (RenderMessageRequest) Method() string { return http.MethodGet }
func (RenderMessageRequest) Path() string   { return "messages/render" }
func (RenderMessageRequest) LongPoll() bool { return false }

func (r RenderMessageRequest) Params() (url.Values, error) {
	return newParams().str("content", r.Content).build()
}

// CreateUserRequest creates a user. Requires administrator credentials.
type CreateUserRequest struct {
	Email     string
	Password  string
	FullName  string
	ShortName string
}

func (CreateUserRequest) Method() string { return http.MethodPost }
func (CreateUserRequest) Path() string   { return "users" }
func (CreateUserRequest) LongPoll() bool { return false }

func (r CreateUserRequest) Params() (url.Values, error) {
	return newParams().
		str("email", r.Email).
		str("password", r.Password).
		str("full_name", r.FullName).
		str("short_name", r.ShortName).
		build()
}
