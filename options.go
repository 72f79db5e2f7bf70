package zulip

import (
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/zulip/client-go/internal/api"
	"github.com/zulip/client-go/internal/clock"
	"github.com/zulip/client-go/internal/delivery"
	"github.com/zulip/client-go/zuliprc"
)

const (
	defaultWaitTimeout = 60 * time.Second
)

// clientConfig holds configuration for the client.
type clientConfig struct {
	site       string
	clientName string
	httpClient *http.Client
	tls        api.TLSConfig
	timeout    time.Duration
	retries    int
	verbose    bool
	logger     *slog.Logger
	clock      clock.Clock
}

// watchConfig holds configuration for one event queue subscription.
type watchConfig struct {
	eventTypes       []string
	narrow           [][]string
	allPublicStreams bool
	registerPath     string
	handle           QueueHandle
	keepQueue        bool
	queueFile        string
	onRegister       func(QueueHandle)
}

// waitConfig holds configuration for waiting on messages.
type waitConfig struct {
	subject      string
	subjectRegex *regexp.Regexp
	sender       string
	senderRegex  *regexp.Regexp
	stream       string
	predicate    func(*Message) bool
	timeout      time.Duration
	watch        []WatchOption
}

// Option configures the client.
type Option func(*clientConfig)

// WatchOption configures an event queue subscription.
type WatchOption func(*watchConfig)

// WaitOption configures message waiting.
type WaitOption func(*waitConfig)

// WithSite sets the server address. It is normalized to the API root, so
// "chat.example.com", "https://chat.example.com" and
// "https://chat.example.com/api" are equivalent.
func WithSite(site string) Option {
	return func(c *clientConfig) {
		c.site = site
	}
}

// WithHTTPClient sets a custom HTTP client. It replaces the TLS and
// timeout options.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithClientName sets the client name reported in the User-Agent.
// Default: ZulipGo/<version>
func WithClientName(name string) Option {
	return func(c *clientConfig) {
		c.clientName = name
	}
}

// WithTimeout sets the per-request timeout. Long polls that outlast it are
// retried silently.
// Default: 90 seconds
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithRetries sets how many times a request is retried after a 5xx
// response or a connection failure. Zero disables retries.
// Default: 10
func WithRetries(count int) Option {
	return func(c *clientConfig) {
		c.retries = count
	}
}

// WithInsecure disables server certificate verification.
func WithInsecure(insecure bool) Option {
	return func(c *clientConfig) {
		c.tls.Insecure = insecure
	}
}

// WithCertBundle verifies the server against the PEM certificates in path
// instead of the system roots.
func WithCertBundle(path string) Option {
	return func(c *clientConfig) {
		c.tls.CertBundle = path
	}
}

// WithClientCert presents a client certificate. key may be empty when cert
// holds the private key as well.
func WithClientCert(cert, key string) Option {
	return func(c *clientConfig) {
		c.tls.ClientCert = cert
		c.tls.ClientCertKey = key
	}
}

// WithVerbose reports retries and poll failures at Warn level.
func WithVerbose(verbose bool) Option {
	return func(c *clientConfig) {
		c.verbose = verbose
	}
}

// WithLogger sets the structured logger. Default: logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithConfig applies a resolved zuliprc configuration. Options passed after
// it override its values.
func WithConfig(rc *zuliprc.Config) Option {
	return func(c *clientConfig) {
		if rc.Site != "" {
			c.site = rc.Site
		}
		if rc.ClientName != "" {
			c.clientName = rc.ClientName
		}
		c.tls = api.TLSConfig{
			Insecure:      rc.Insecure,
			CertBundle:    rc.CertBundle,
			ClientCert:    rc.ClientCert,
			ClientCertKey: rc.ClientCertKey,
		}
		c.verbose = c.verbose || rc.Verbose
	}
}

// withClock replaces the clock used for retry waits.
func withClock(clk clock.Clock) Option {
	return func(c *clientConfig) {
		c.clock = clk
	}
}

// WithEventTypes restricts the queue to the given event types.
func WithEventTypes(types ...string) WatchOption {
	return func(c *watchConfig) {
		c.eventTypes = types
	}
}

// WithNarrow restricts message events to a narrow such as
// [][]string{{"stream", "devel"}}.
func WithNarrow(narrow [][]string) WatchOption {
	return func(c *watchConfig) {
		c.narrow = narrow
	}
}

// WithAllPublicStreams receives messages from every public stream, not
// only subscribed ones.
func WithAllPublicStreams() WatchOption {
	return func(c *watchConfig) {
		c.allPublicStreams = true
	}
}

// WithRegisterPath overrides the register endpoint path.
func WithRegisterPath(path string) WatchOption {
	return func(c *watchConfig) {
		c.registerPath = path
	}
}

// WithQueueHandle resumes an existing queue instead of registering a new one.
func WithQueueHandle(handle QueueHandle) WatchOption {
	return func(c *watchConfig) {
		c.handle = handle
	}
}

// WithKeepQueue leaves the queue registered on the server when the
// subscription ends, so its handle can be resumed.
func WithKeepQueue() WatchOption {
	return func(c *watchConfig) {
		c.keepQueue = true
	}
}

// WithQueueFile persists the queue handle to path and resumes from it on
// the next run. It implies WithKeepQueue.
func WithQueueFile(path string) WatchOption {
	return func(c *watchConfig) {
		c.queueFile = path
		c.keepQueue = true
	}
}

// WithOnRegister calls fn with every newly registered queue handle.
func WithOnRegister(fn func(QueueHandle)) WatchOption {
	return func(c *watchConfig) {
		c.onRegister = fn
	}
}

// WithSubject filters messages by exact subject match.
func WithSubject(subject string) WaitOption {
	return func(c *waitConfig) {
		c.subject = subject
	}
}

// WithSubjectRegex filters messages by subject regex.
func WithSubjectRegex(pattern *regexp.Regexp) WaitOption {
	return func(c *waitConfig) {
		c.subjectRegex = pattern
	}
}

// WithSender filters messages by exact sender email.
func WithSender(email string) WaitOption {
	return func(c *waitConfig) {
		c.sender = email
	}
}

// WithSenderRegex filters messages by sender email regex.
func WithSenderRegex(pattern *regexp.Regexp) WaitOption {
	return func(c *waitConfig) {
		c.senderRegex = pattern
	}
}

// WithStream filters messages by stream name.
func WithStream(stream string) WaitOption {
	return func(c *waitConfig) {
		c.stream = stream
	}
}

// WithPredicate filters messages by custom predicate.
func WithPredicate(fn func(*Message) bool) WaitOption {
	return func(c *waitConfig) {
		c.predicate = fn
	}
}

// WithWaitTimeout sets the timeout for waiting.
// Default: 60 seconds
func WithWaitTimeout(timeout time.Duration) WaitOption {
	return func(c *waitConfig) {
		c.timeout = timeout
	}
}

// WithWatchOptions applies queue options to the subscription used while
// waiting.
func WithWatchOptions(opts ...WatchOption) WaitOption {
	return func(c *waitConfig) {
		c.watch = append(c.watch, opts...)
	}
}

// Matches checks if a message matches the wait criteria.
func (w *waitConfig) Matches(m *Message) bool {
	if w.subject != "" && m.Subject != w.subject {
		return false
	}
	if w.subjectRegex != nil && !w.subjectRegex.MatchString(m.Subject) {
		return false
	}
	if w.sender != "" && !strings.EqualFold(m.SenderEmail, w.sender) {
		return false
	}
	if w.senderRegex != nil && !w.senderRegex.MatchString(m.SenderEmail) {
		return false
	}
	if w.stream != "" && (m.Type != MessageTypeStream || m.Recipient != w.stream) {
		return false
	}
	if w.predicate != nil && !w.predicate(m) {
		return false
	}
	return true
}

func newWatchConfig(opts []WatchOption) *watchConfig {
	cfg := &watchConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// pollerConfig translates the subscription options for the delivery layer.
func (w *watchConfig) pollerConfig() delivery.Config {
	return delivery.Config{
		EventTypes:       w.eventTypes,
		Narrow:           w.narrow,
		AllPublicStreams: w.allPublicStreams,
		RegisterPath:     w.registerPath,
		Handle:           w.handle,
		KeepQueue:        w.keepQueue,
		OnRegister:       w.onRegister,
	}
}
