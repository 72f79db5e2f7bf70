package api

import (
	"context"
	"encoding/json"
)

// Do executes req and decodes a successful response into result. A nil
// result discards the body.
func (c *Client) Do(ctx context.Context, req Request, result any) error {
	res := c.Execute(ctx, req)
	if err := res.Err(); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return res.Decode(result)
}

// Register allocates an event queue.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var result RegisterResponse
	if err := c.Do(ctx, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetEvents long-polls the queue for events newer than lastEventID.
func (c *Client) GetEvents(ctx context.Context, queueID string, lastEventID int64) ([]Event, error) {
	var result GetEventsResponse
	req := GetEventsRequest{QueueID: queueID, LastEventID: lastEventID}
	if err := c.Do(ctx, req, &result); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(result.Events))
	for i, raw := range result.Events {
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			c.logger.Warn("skipping malformed event",
				"queue_id", queueID,
				"index", i,
				"error", err,
			)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Deregister deletes the queue.
func (c *Client) Deregister(ctx context.Context, queueID string) error {
	return c.Do(ctx, DeregisterRequest{QueueID: queueID}, nil)
}

// SendMessage sends a message and returns its id.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (int64, error) {
	var result SendMessageResponse
	if err := c.Do(ctx, req, &result); err != nil {
		return 0, err
	}
	return result.ID, nil
}

// UpdateMessage edits a message.
func (c *Client) UpdateMessage(ctx context.Context, req UpdateMessageRequest) error {
	return c.Do(ctx, req, nil)
}

// Export returns the raw realm export.
func (c *Client) Export(ctx context.Context) (json.RawMessage, error) {
	res := c.Execute(ctx, ExportRequest{})
	if err := res.Err(); err != nil {
		return nil, err
	}
	return res.Body, nil
}

// GetProfile returns the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	var result Profile
	if err := c.Do(ctx, GetProfileRequest{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetStreams lists the streams visible to the user.
func (c *Client) GetStreams(ctx context.Context, req GetStreamsRequest) ([]Stream, error) {
	var result struct {
		Streams []Stream `json:"streams"`
	}
	if err := c.Do(ctx, req, &result); err != nil {
		return nil, err
	}
	return result.Streams, nil
}

// GetMembers lists the realm's users.
func (c *Client) GetMembers(ctx context.Context) ([]User, error) {
	var result struct {
		Members []User `json:"members"`
	}
	if err := c.Do(ctx, GetMembersRequest{}, &result); err != nil {
		return nil, err
	}
	return result.Members, nil
}

// ListSubscriptions lists the user's subscriptions.
func (c *Client) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var result struct {
		Subscriptions []Subscription `json:"subscriptions"`
	}
	if err := c.Do(ctx, ListSubscriptionsRequest{}, &result); err != nil {
		return nil, err
	}
	return result.Subscriptions, nil
}

// AddSubscriptions subscribes to streams.
func (c *Client) AddSubscriptions(ctx context.Context, req AddSubscriptionsRequest) (*SubscribeResponse, error) {
	var result SubscribeResponse
	if err := c.Do(ctx, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RemoveSubscriptions unsubscribes from streams.
func (c *Client) RemoveSubscriptions(ctx context.Context, streams []string) (*UnsubscribeResponse, error) {
	var result UnsubscribeResponse
	if err := c.Do(ctx, RemoveSubscriptionsRequest{Streams: streams}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSubscribers lists the emails subscribed to stream.
func (c *Client) GetSubscribers(ctx context.Context, stream string) ([]string, error) {
	var result struct {
		Subscribers []string `json:"subscribers"`
	}
	if err := c.Do(ctx, GetSubscribersRequest{Stream: stream}, &result); err != nil {
		return nil, err
	}
	return result.Subscribers, nil
}

// RenderMessage renders Markdown content to HTML.
func (c *Client) RenderMessage(ctx context.Context, content string) (string, error) {
	var result struct {
		Rendered string `json:"rendered"`
	}
	if err := c.Do(ctx, RenderMessageRequest{Content: content}, &result); err != nil {
		return "", err
	}
	return result.Rendered, nil
}

// CreateUser creates a user.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) error {
	return c.Do(ctx, req, nil)
}
