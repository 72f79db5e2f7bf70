package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/zulip/client-go/internal/apierrors"
	"github.com/zulip/client-go/internal/backoff"
	"github.com/zulip/client-go/internal/clock"
)

// APIVersion is the version prefix joined to every request path.
const APIVersion = "v1/"

// Default client values.
const (
	DefaultTimeout       = 90 * time.Second
	DefaultMaxRetries    = 10
	DefaultRetryDelay    = time.Second
	DefaultClientName    = "ZulipGo/" + Version
	serverErrorMsg       = "Unexpected error from the server"
	formContentType      = "application/x-www-form-urlencoded"
	dontBlockParam       = "dont_block"
	dontBlockParamValue  = "true"
)

// Version is the client library version reported in the User-Agent.
const Version = "0.3.0"

// Config holds the configuration for creating a Client.
type Config struct {
	// BaseURL is the API root. It is normalized with NormalizeSite.
	BaseURL string
	// Email and APIKey are the HTTP Basic Auth credentials.
	Email  string
	APIKey string
	// ClientName identifies the client in the User-Agent header.
	ClientName string
	// HTTPClient overrides the HTTP client built from TLS and Timeout.
	HTTPClient *http.Client
	// TLS configures certificate verification and the client certificate.
	TLS TLSConfig
	// Timeout bounds every HTTP call. Default: 90 seconds.
	Timeout time.Duration
	// RetryOnErrors enables in-process retry of 5xx responses and
	// connection failures.
	RetryOnErrors bool
	// MaxRetries and RetryDelay shape the default retry policy.
	MaxRetries int
	RetryDelay time.Duration
	// RetryPolicy overrides the per-call retry policy entirely.
	RetryPolicy backoff.Factory
	// Verbose reports retries at Warn/Info instead of Debug.
	Verbose bool
	// Clock is used for retry waits. Default: the real clock.
	Clock clock.Clock
	// Logger receives retry diagnostics. Default: discarded.
	Logger *slog.Logger
}

// Client is the HTTP API client.
type Client struct {
	baseURL       string
	email         string
	apiKey        string
	userAgent     string
	httpClient    *http.Client
	retryOnErrors bool
	retryPolicy   backoff.Factory
	verbose       bool
	logger        *slog.Logger
}

// NewClient creates a new API client from cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Email == "" || cfg.APIKey == "" {
		return nil, apierrors.ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		return nil, apierrors.ErrMissingSite
	}

	baseURL, err := NormalizeSite(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.ClientName == "" {
		cfg.ClientName = DefaultClientName
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient, err = newHTTPClient(cfg.TLS, cfg.Timeout)
		if err != nil {
			return nil, err
		}
	}

	retryPolicy := cfg.RetryPolicy
	if retryPolicy == nil {
		maxRetries, delay, clk, logger := cfg.MaxRetries, cfg.RetryDelay, cfg.Clock, cfg.Logger
		retryPolicy = func() backoff.Policy {
			return backoff.NewFixed(delay,
				backoff.WithMaxRetries(maxRetries),
				backoff.WithClock(clk),
				backoff.WithLogger(logger),
			)
		}
	}

	return &Client{
		baseURL:       baseURL,
		email:         cfg.Email,
		apiKey:        cfg.APIKey,
		userAgent:     UserAgent(cfg.ClientName),
		httpClient:    httpClient,
		retryOnErrors: cfg.RetryOnErrors,
		retryPolicy:   retryPolicy,
		verbose:       cfg.Verbose,
		logger:        cfg.Logger,
	}, nil
}

// Option configures the API client created by New.
type Option func(*Config)

// WithBaseURL sets the base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithClientName sets the name reported in the User-Agent.
func WithClientName(name string) Option {
	return func(c *Config) {
		c.ClientName = name
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithRetries sets the number of in-process retries. Zero disables retry.
func WithRetries(retries int) Option {
	return func(c *Config) {
		c.RetryOnErrors = retries > 0
		c.MaxRetries = retries
	}
}

// WithTLS sets the TLS policy.
func WithTLS(tlsConfig TLSConfig) Option {
	return func(c *Config) {
		c.TLS = tlsConfig
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// New creates a new API client with retry enabled.
func New(email, apiKey string, opts ...Option) (*Client, error) {
	cfg := Config{
		Email:         email,
		APIKey:        apiKey,
		RetryOnErrors: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewClient(cfg)
}

// SetHTTPClient sets a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// BaseURL returns the normalized API root, ending in "/api/".
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UserAgent returns the User-Agent header sent with every request.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// CloseIdleConnections drops pooled connections so the next request opens
// a fresh socket.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// NormalizeSite converts a user-supplied server address into the API base
// URL. A bare "localhost..." site gets http://, any other site without a
// scheme gets https://. The result always ends in exactly one "/api/".
func NormalizeSite(site string) (string, error) {
	site = strings.TrimSpace(site)
	if site == "" {
		return "", apierrors.ErrMissingSite
	}
	switch {
	case strings.HasPrefix(site, "localhost"):
		site = "http://" + site
	case !strings.HasPrefix(site, "http"):
		site = "https://" + site
	}
	site = strings.TrimRight(site, "/")
	if !strings.HasSuffix(site, "/api") {
		site += "/api"
	}
	if _, err := url.Parse(site); err != nil {
		return "", fmt.Errorf("invalid site %q: %w", site, err)
	}
	return site + "/", nil
}

// queryState is the per-call retry state of one Execute invocation.
type queryState struct {
	params        url.Values
	policy        backoff.Policy
	hadErrorRetry bool
}

// Execute sends req and returns its result. Transient failures are retried
// in-process; nothing is returned as a Go error.
func (c *Client) Execute(ctx context.Context, req Request) *Result {
	params, err := req.Params()
	if err != nil {
		return unexpectedResult(fmt.Errorf("encode %s request: %w", req.Path(), err))
	}

	q := &queryState{
		params: params,
		policy: c.retryPolicy(),
	}

	for {
		status, body, err := c.send(ctx, req.Method(), req.Path(), q.params)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				c.endErrorRetry(q, req, false)
				return connectionResult(ctxErr)
			}
			switch classify(err) {
			case failureTimeout:
				if req.LongPoll() {
					// The server held the poll past our timeout; poll again.
					continue
				}
				c.endErrorRetry(q, req, false)
				return connectionResult(err)
			case failureConnection:
				if c.errorRetry(ctx, q, req, "") {
					continue
				}
				c.endErrorRetry(q, req, false)
				return connectionResult(err)
			default:
				return unexpectedResult(err)
			}
		}

		if status >= 500 {
			if c.errorRetry(ctx, q, req, fmt.Sprintf("server %d", status)) {
				continue
			}
		}

		if result, ok := parseResult(status, body); ok {
			c.endErrorRetry(q, req, true)
			return result
		}
		c.endErrorRetry(q, req, false)
		return &Result{
			Kind:       apierrors.KindHTTP,
			Msg:        serverErrorMsg,
			StatusCode: status,
		}
	}
}

// errorRetry decides whether a failed attempt is retried and, if so,
// waits out the retry delay.
func (c *Client) errorRetry(ctx context.Context, q *queryState, req Request, detail string) bool {
	if !c.retryOnErrors || !q.policy.KeepGoing() {
		return false
	}

	level := slog.LevelDebug
	if c.verbose && !q.hadErrorRetry {
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "connection error, retrying",
		"path", req.Path(),
		"detail", detail,
		"attempt", q.policy.Attempts()+1,
	)
	q.hadErrorRetry = true

	q.params.Set(dontBlockParam, dontBlockParamValue)
	return q.policy.Fail(ctx) == nil
}

func (c *Client) endErrorRetry(q *queryState, req Request, succeeded bool) {
	if !q.hadErrorRetry || !c.verbose {
		return
	}
	if succeeded {
		c.logger.Info("request succeeded after retry", "path", req.Path())
	} else {
		c.logger.Warn("request failed after retry", "path", req.Path())
	}
}

// send issues one HTTP request and reads the whole response body.
func (c *Client) send(ctx context.Context, method, path string, params url.Values) (int, []byte, error) {
	endpoint := c.baseURL + APIVersion + path

	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			endpoint += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.email, c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", formContentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

type failureClass int

const (
	failureOther failureClass = iota
	failureTimeout
	failureConnection
)

// classify sorts a transport error into timeout, connection or other.
// Certificate verification failures are never retried.
func classify(err error) failureClass {
	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidCert x509.CertificateInvalidError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostnameErr) || errors.As(err, &invalidCert) {
		return failureOther
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failureTimeout
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		return failureConnection
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return failureConnection
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return failureConnection
	}
	return failureOther
}

// parseResult decodes a response body that must be a JSON object.
func parseResult(status int, body []byte) (*Result, bool) {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(body, &object); err != nil || object == nil {
		return nil, false
	}

	var envelope struct {
		Result  string `json:"result"`
		Msg     string `json:"msg"`
		Code    string `json:"code"`
		QueueID string `json:"queue_id"`
	}
	// Fields of unexpected types are left empty.
	_ = json.Unmarshal(body, &envelope)

	kind := apierrors.Kind(envelope.Result)
	if kind == "" {
		kind = apierrors.KindSuccess
		if status >= 400 {
			kind = apierrors.KindServer
		}
	}

	return &Result{
		Kind:       kind,
		Msg:        envelope.Msg,
		Code:       envelope.Code,
		QueueID:    envelope.QueueID,
		StatusCode: status,
		Body:       json.RawMessage(body),
	}, true
}
