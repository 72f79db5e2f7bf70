package api

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// RegisterResponse is the register response.
type RegisterResponse struct {
	QueueID     string `json:"queue_id"`
	LastEventID int64  `json:"last_event_id"`
	// MaxMessageID is the newest message id visible when the queue was
	// created.
	MaxMessageID int64 `json:"max_message_id,omitempty"`
}

// GetEventsResponse is the get_events response. Events are kept raw so
// that one malformed element does not discard the rest of the batch.
type GetEventsResponse struct {
	Events  []json.RawMessage `json:"events"`
	QueueID string            `json:"queue_id,omitempty"`
}

// Event is one event delivered from a queue.
type Event struct {
	ID   int64
	Type string
	// Raw is the complete event object.
	Raw json.RawMessage
}

// UnmarshalJSON keeps the raw payload and reads id and type from it.
func (e *Event) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid event JSON")
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return fmt.Errorf("event is not an object")
	}
	e.ID = parsed.Get("id").Int()
	e.Type = parsed.Get("type").String()
	e.Raw = append(e.Raw[:0], data...)
	return nil
}

// MarshalJSON returns the raw event.
func (e Event) MarshalJSON() ([]byte, error) {
	if len(e.Raw) == 0 {
		return json.Marshal(map[string]any{"id": e.ID, "type": e.Type})
	}
	return e.Raw, nil
}

// Get reads a payload field by gjson path, e.g. "message.content".
func (e Event) Get(path string) gjson.Result {
	return gjson.GetBytes(e.Raw, path)
}

// Message returns the nested message of a "message" event, or nil.
func (e Event) Message() *Message {
	if e.Type != "message" {
		return nil
	}
	m := e.Get("message")
	if !m.IsObject() {
		return nil
	}
	return messageFromResult(m)
}

// Message is a chat message.
type Message struct {
	ID             int64
	SenderID       int64
	SenderEmail    string
	SenderFullName string
	Type           string
	StreamID       int64
	Subject        string
	Content        string
	Timestamp      int64
	// Recipient is the stream name for stream messages.
	Recipient string
	// Recipients holds the participant emails of private messages.
	Recipients []string
	Raw        json.RawMessage
}

func messageFromResult(m gjson.Result) *Message {
	msg := &Message{
		ID:             m.Get("id").Int(),
		SenderID:       m.Get("sender_id").Int(),
		SenderEmail:    m.Get("sender_email").String(),
		SenderFullName: m.Get("sender_full_name").String(),
		Type:           m.Get("type").String(),
		StreamID:       m.Get("stream_id").Int(),
		Subject:        m.Get("subject").String(),
		Content:        m.Get("content").String(),
		Timestamp:      m.Get("timestamp").Int(),
		Raw:            json.RawMessage(m.Raw),
	}

	recipient := m.Get("display_recipient")
	if recipient.IsArray() {
		for _, r := range recipient.Array() {
			msg.Recipients = append(msg.Recipients, r.Get("email").String())
		}
	} else {
		msg.Recipient = recipient.String()
	}
	return msg
}

// SendMessageResponse is the send_message response.
type SendMessageResponse struct {
	ID int64 `json:"id"`
}

// Profile is the authenticated user's profile.
type Profile struct {
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	IsAdmin   bool   `json:"is_admin"`
	IsBot     bool   `json:"is_bot"`
	MaxMsgID  int64  `json:"max_message_id"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Stream is a channel messages are posted to.
type Stream struct {
	StreamID    int64  `json:"stream_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	InviteOnly  bool   `json:"invite_only"`
}

// User is a member of the realm.
type User struct {
	UserID   int64  `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	IsAdmin  bool   `json:"is_admin"`
	IsBot    bool   `json:"is_bot"`
	IsActive bool   `json:"is_active"`
}

// Subscription is one of the user's stream subscriptions.
type Subscription struct {
	StreamID    int64  `json:"stream_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	InviteOnly  bool   `json:"invite_only"`
	Color       string `json:"color,omitempty"`
	InHomeView  bool   `json:"in_home_view"`
}

// SubscribeResponse is the add_subscriptions response, keyed by user email.
type SubscribeResponse struct {
	Subscribed        map[string][]string `json:"subscribed"`
	AlreadySubscribed map[string][]string `json:"already_subscribed"`
	Unauthorized      []string            `json:"unauthorized,omitempty"`
}

// UnsubscribeResponse is the remove_subscriptions response.
type UnsubscribeResponse struct {
	Removed    []string `json:"removed"`
	NotRemoved []string `json:"not_subscribed"`
}
