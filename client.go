package zulip

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/zulip/client-go/internal/api"
	"github.com/zulip/client-go/internal/clock"
	"github.com/zulip/client-go/internal/delivery"
	"github.com/zulip/client-go/zuliprc"
)

// Version is the library version reported in the default User-Agent.
const Version = api.Version

// Event is one event delivered from a queue. Payload fields are read with
// Get, e.g. event.Get("message.content").String().
type Event = api.Event

// Message is a message event payload.
type Message = api.Message

// QueueHandle identifies a registered event queue and the newest event
// delivered from it.
type QueueHandle = delivery.Handle

// Request and response types.
type (
	SendMessageRequest      = api.SendMessageRequest
	UpdateMessageRequest    = api.UpdateMessageRequest
	GetStreamsRequest       = api.GetStreamsRequest
	AddSubscriptionsRequest = api.AddSubscriptionsRequest
	StreamSpec              = api.StreamSpec
	CreateUserRequest       = api.CreateUserRequest
	Request                 = api.Request
	Profile                 = api.Profile
	Stream                  = api.Stream
	User                    = api.User
	StreamSubscription      = api.Subscription
	SubscribeResponse       = api.SubscribeResponse
	UnsubscribeResponse     = api.UnsubscribeResponse
)

// Message types.
const (
	MessageTypeStream  = api.MessageTypeStream
	MessageTypePrivate = api.MessageTypePrivate
)

// EventHandler is invoked for every delivered event, in the order the
// server returned them. Returning an error ends the subscription.
type EventHandler func(ctx context.Context, event Event) error

// MessageHandler is invoked for every delivered message event.
type MessageHandler func(ctx context.Context, message *Message) error

// Client is a Zulip API client. It is safe for concurrent use.
type Client struct {
	apiClient *api.Client
	cfg       *clientConfig
	email     string

	mu     sync.Mutex
	closed bool
	// sessions tracks active subscriptions so Close can wait for their
	// queues to be deregistered.
	sessions map[*session]struct{}

	closeCtx    context.Context
	closeCancel context.CancelFunc
}

// buildAPIClient creates and configures an API client from the given config.
func buildAPIClient(email, apiKey string, cfg *clientConfig) (*api.Client, error) {
	return api.NewClient(api.Config{
		BaseURL:       cfg.site,
		Email:         email,
		APIKey:        apiKey,
		ClientName:    cfg.clientName,
		HTTPClient:    cfg.httpClient,
		TLS:           cfg.tls,
		Timeout:       cfg.timeout,
		RetryOnErrors: cfg.retries > 0,
		MaxRetries:    cfg.retries,
		Verbose:       cfg.verbose,
		Clock:         cfg.clock,
		Logger:        cfg.logger,
	})
}

// New creates a client authenticated as email with apiKey. WithSite is
// required.
func New(email, apiKey string, opts ...Option) (*Client, error) {
	if email == "" || apiKey == "" {
		return nil, ErrMissingCredentials
	}

	cfg := &clientConfig{
		retries: api.DefaultMaxRetries,
		clock:   clock.Real(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.site == "" {
		return nil, ErrMissingSite
	}

	apiClient, err := buildAPIClient(email, apiKey, cfg)
	if err != nil {
		return nil, wrapError(err)
	}

	closeCtx, closeCancel := context.WithCancel(context.Background())
	return &Client{
		apiClient:   apiClient,
		cfg:         cfg,
		email:       email,
		sessions:    make(map[*session]struct{}),
		closeCtx:    closeCtx,
		closeCancel: closeCancel,
	}, nil
}

// NewFromConfig creates a client from a resolved zuliprc configuration.
// Options override the configuration.
func NewFromConfig(rc *zuliprc.Config, opts ...Option) (*Client, error) {
	if rc == nil {
		return nil, ErrMissingCredentials
	}
	return New(rc.Email, rc.APIKey, append([]Option{WithConfig(rc)}, opts...)...)
}

// Site returns the normalized API root, e.g. "https://chat.example.com/api/".
func (c *Client) Site() string {
	return c.apiClient.BaseURL()
}

// Email returns the email the client authenticates as.
func (c *Client) Email() string {
	return c.email
}

// UserAgent returns the User-Agent header sent with every request.
func (c *Client) UserAgent() string {
	return c.apiClient.UserAgent()
}

// checkClosed returns ErrClientClosed if the client has been closed.
func (c *Client) checkClosed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// session is one running subscription.
type session struct {
	client    *Client
	stop      func() bool
	cancel    context.CancelFunc
	finished  chan struct{}
	inHandler atomic.Int32
}

// track derives a context that is also cancelled by Close and registers
// the caller as a running subscription. The session's done method must be
// called when the subscription has finished.
func (c *Client) track(ctx context.Context) (context.Context, *session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClientClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		client:   c,
		stop:     context.AfterFunc(c.closeCtx, cancel),
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	c.sessions[s] = struct{}{}
	return ctx, s, nil
}

func (s *session) done() {
	s.stop()
	s.cancel()
	s.client.mu.Lock()
	delete(s.client.sessions, s)
	s.client.mu.Unlock()
	close(s.finished)
}

// guard marks the session as inside handler for the duration of each call.
func (s *session) guard(handler EventHandler) EventHandler {
	return func(ctx context.Context, event Event) error {
		s.inHandler.Add(1)
		defer s.inHandler.Add(-1)
		return handler(ctx, event)
	}
}

// wait blocks until the session has finished. It returns immediately if a
// handler of the session is running, since that handler may be the caller.
func (s *session) wait() {
	if s.inHandler.Load() > 0 {
		return
	}
	<-s.finished
}

// Do executes any request and decodes the successful response into result,
// which may be nil.
func (c *Client) Do(ctx context.Context, req Request, result any) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	return wrapError(c.apiClient.Do(ctx, req, result))
}

// SendMessage sends a message and returns its id.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (int64, error) {
	if err := c.checkClosed(); err != nil {
		return 0, err
	}
	id, err := c.apiClient.SendMessage(ctx, req)
	return id, wrapError(err)
}

// UpdateMessage edits the subject or content of a message.
func (c *Client) UpdateMessage(ctx context.Context, req UpdateMessageRequest) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	return wrapError(c.apiClient.UpdateMessage(ctx, req))
}

// GetProfile returns the profile of the calling user.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	profile, err := c.apiClient.GetProfile(ctx)
	return profile, wrapError(err)
}

// GetStreams lists streams visible to the calling user.
func (c *Client) GetStreams(ctx context.Context, req GetStreamsRequest) ([]Stream, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	streams, err := c.apiClient.GetStreams(ctx, req)
	return streams, wrapError(err)
}

// GetMembers lists the users of the organization.
func (c *Client) GetMembers(ctx context.Context) ([]User, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	members, err := c.apiClient.GetMembers(ctx)
	return members, wrapError(err)
}

// ListSubscriptions lists the streams the calling user is subscribed to.
func (c *Client) ListSubscriptions(ctx context.Context) ([]StreamSubscription, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	subs, err := c.apiClient.ListSubscriptions(ctx)
	return subs, wrapError(err)
}

// AddSubscriptions subscribes users to streams, creating missing streams.
func (c *Client) AddSubscriptions(ctx context.Context, req AddSubscriptionsRequest) (*SubscribeResponse, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	resp, err := c.apiClient.AddSubscriptions(ctx, req)
	return resp, wrapError(err)
}

// RemoveSubscriptions unsubscribes the calling user from streams.
func (c *Client) RemoveSubscriptions(ctx context.Context, streams ...string) (*UnsubscribeResponse, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	resp, err := c.apiClient.RemoveSubscriptions(ctx, streams)
	return resp, wrapError(err)
}

// GetSubscribers lists the emails subscribed to a stream.
func (c *Client) GetSubscribers(ctx context.Context, stream string) ([]string, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	emails, err := c.apiClient.GetSubscribers(ctx, stream)
	return emails, wrapError(err)
}

// RenderMessage renders Markdown content to HTML.
func (c *Client) RenderMessage(ctx context.Context, content string) (string, error) {
	if err := c.checkClosed(); err != nil {
		return "", err
	}
	rendered, err := c.apiClient.RenderMessage(ctx, content)
	return rendered, wrapError(err)
}

// CreateUser creates a user. It requires administrator rights.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	return wrapError(c.apiClient.CreateUser(ctx, req))
}

// Export returns the raw organization export.
func (c *Client) Export(ctx context.Context) (json.RawMessage, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	data, err := c.apiClient.Export(ctx)
	return data, wrapError(err)
}

// Deregister deletes an event queue on the server.
func (c *Client) Deregister(ctx context.Context, queueID string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	return wrapError(c.apiClient.Deregister(ctx, queueID))
}

// newPoller builds a poller for one subscription, resuming from the queue
// file when one is configured.
func (c *Client) newPoller(w *watchConfig) (*delivery.Poller, error) {
	if w.queueFile != "" && !w.handle.Valid() {
		handle, err := c.loadQueueFile(w.queueFile)
		if err != nil {
			return nil, err
		}
		w.handle = handle
	}

	pcfg := w.pollerConfig()
	pcfg.Source = c.apiClient
	pcfg.Verbose = c.cfg.verbose
	pcfg.Clock = c.cfg.clock
	pcfg.Logger = c.cfg.logger
	if w.queueFile != "" {
		onRegister := w.onRegister
		pcfg.OnRegister = func(h QueueHandle) {
			c.saveQueueFile(w, h)
			if onRegister != nil {
				onRegister(h)
			}
		}
	}
	return delivery.NewPoller(pcfg)
}

// run drives a poller until ctx is cancelled or handler fails.
func (c *Client) run(ctx context.Context, s *session, w *watchConfig, poller *delivery.Poller, handler EventHandler) error {
	err := poller.Run(ctx, delivery.EventHandler(s.guard(handler)))
	if w.queueFile != "" {
		c.saveQueueFile(w, poller.Handle())
	}
	return err
}

// CallOnEachEvent registers an event queue and calls handler for every
// event until ctx is cancelled, handler returns an error or the client is
// closed. Connection failures, server errors and expired queues are
// handled internally by retrying and re-registering.
//
// When it returns the queue is deregistered unless WithKeepQueue or
// WithQueueFile was given. On cancellation ctx.Err() is returned.
func (c *Client) CallOnEachEvent(ctx context.Context, handler EventHandler, opts ...WatchOption) error {
	ctx, s, err := c.track(ctx)
	if err != nil {
		return err
	}
	defer s.done()

	w := newWatchConfig(opts)
	poller, err := c.newPoller(w)
	if err != nil {
		return err
	}
	return c.run(ctx, s, w, poller, handler)
}

// CallOnEachMessage is CallOnEachEvent restricted to message events.
func (c *Client) CallOnEachMessage(ctx context.Context, handler MessageHandler, opts ...WatchOption) error {
	opts = append(opts, WithEventTypes("message"))
	return c.CallOnEachEvent(ctx, messageHandler(handler), opts...)
}

// messageHandler adapts a MessageHandler, skipping non-message events.
func messageHandler(handler MessageHandler) EventHandler {
	return func(ctx context.Context, event Event) error {
		if event.Type != "message" {
			return nil
		}
		msg := event.Message()
		if msg == nil {
			return nil
		}
		return handler(ctx, msg)
	}
}

// Close stops every running subscription, waits for their queues to be
// deregistered and releases idle connections. Close is idempotent.
//
// Close may be called from an event handler or monitor callback. A
// subscription whose handler is running when Close is called, including
// the caller's own, is not waited for; it stops as soon as the handler
// returns.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := make([]*session, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	c.closeCancel()
	for _, s := range sessions {
		s.wait()
	}
	c.apiClient.CloseIdleConnections()
	return nil
}
