// Package service provides the outbound HTTP client shared by every
// external integration: retry with exponential backoff, a typed error
// taxonomy, optional authentication and a health probe.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v5"

	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/logger"
)

const (
	// maxAttempts is the total number of tries per request, including the first.
	maxAttempts = 5

	// initialInterval is the wait before the first retry.
	initialInterval = 500 * time.Millisecond

	// retryMultiplier doubles the wait between consecutive retries.
	retryMultiplier = 2.0

	// DefaultTimeout is the per-attempt read timeout.
	DefaultTimeout = 10 * time.Second

	// HealthTimeout is the per-probe timeout for health checks.
	HealthTimeout = 2 * time.Second
)

// Status is the health state reported by a service probe.
type Status string

// Health states, ordered by severity in health.Reduce.
const (
	StatusUp       Status = "UP"
	StatusDegraded Status = "DEGRADED"
	StatusError    Status = "ERROR"
	StatusDown     Status = "DOWN"
)

// Classifier turns a health probe response into a Status. The response body
// is still open; implementations must not retain it.
type Classifier func(*http.Response) Status

// ErrorFormatter renders a service-specific message for an upstream 4xx.
type ErrorFormatter func(status int, body string) string

// Client is a uniform outbound HTTP client for one external dependency.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client

	username string
	password string
	bearer   string
	headers  map[string]string

	timeout       time.Duration
	retryInterval time.Duration
	healthURL     string
	healthTimeout time.Duration
	classify      Classifier
	errorFormat   ErrorFormatter

	enabled bool
}

// Option configures a Client.
type Option func(*Client)

// WithBasicAuth sets basic-auth credentials for every request.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithBearer sets a bearer token for every request.
func WithBearer(token string) Option {
	return func(c *Client) {
		c.bearer = token
	}
}

// WithHeaders sets default headers applied to every request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		c.headers = headers
	}
}

// WithTimeout overrides the per-attempt read timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithHealth sets the probe URL and an optional response classifier.
func WithHealth(probeURL string, classify Classifier) Option {
	return func(c *Client) {
		c.healthURL = probeURL
		c.classify = classify
	}
}

// WithErrorFormat sets the message formatter for upstream 4xx responses.
func WithErrorFormat(format ErrorFormatter) Option {
	return func(c *Client) {
		c.errorFormat = format
	}
}

// WithHTTPClient replaces the underlying HTTP client. Intended for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Disabled marks the integration as disabled by configuration. Any request
// through a disabled client fails with a config error.
func Disabled() Option {
	return func(c *Client) {
		c.enabled = false
	}
}

// New creates a client for the named service rooted at baseURL.
func New(name, baseURL string, opts ...Option) *Client {
	c := &Client{
		name:          name,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		httpClient:    &http.Client{},
		timeout:       DefaultTimeout,
		retryInterval: initialInterval,
		healthTimeout: HealthTimeout,
		enabled:       true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the service name used in logs and health reports.
func (c *Client) Name() string {
	return c.name
}

// Enabled reports whether the integration is configured and active.
func (c *Client) Enabled() bool {
	return c.enabled
}

// Request describes one outbound call.
type Request struct {
	// Method is the HTTP method.
	Method string

	// Path is resolved against the client base URL unless it is absolute.
	Path string

	// Query is appended to the URL.
	Query url.Values

	// Body is JSON-encoded when non-nil.
	Body any

	// Headers are merged over the client defaults.
	Headers map[string]string

	// Timeout overrides the client per-attempt timeout when positive.
	Timeout time.Duration
}

// Response is the decoded result of a call.
type Response struct {
	// Status is the HTTP status code.
	Status int

	// Header holds the response headers.
	Header http.Header

	// JSON holds the raw body when the response was JSON.
	JSON json.RawMessage

	// Text holds the body when the response was not JSON.
	Text string
}

// Decode unmarshals the JSON body into out.
func (r *Response) Decode(out any) error {
	if err := json.Unmarshal(r.JSON, out); err != nil {
		return apperrors.NewUpstreamServerError("malformed JSON response", err)
	}
	return nil
}

// Do performs the request with the retry policy: up to five attempts with
// exponential backoff on connection errors, timeouts and 5xx responses.
// A 4xx response never retries and surfaces as an upstream client error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if !c.enabled {
		return nil, apperrors.NewConfigError(fmt.Sprintf("%s service is disabled", c.name), nil)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	policy.Multiplier = retryMultiplier
	policy.Reset()

	attempt := 0
	operation := func() (*Response, error) {
		attempt++
		return c.doOnce(ctx, req)
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(maxAttempts),
		backoff.WithNotify(func(err error, duration time.Duration) {
			logger.Warnf("%s request failed (attempt %d/%d): %v. Retrying in %s",
				c.name, attempt, maxAttempts, err, duration)
		}),
	)
	if err != nil {
		return nil, c.finalError(err)
	}
	return resp, nil
}

// DoJSON performs the request and decodes the JSON body into out.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// doOnce performs a single attempt. Retryable failures are returned as plain
// errors; terminal ones are wrapped in backoff.Permanent.
func (c *Client) doOnce(ctx context.Context, req Request) (*Response, error) {
	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := c.buildRequest(attemptCtx, req)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Connection errors and timeouts are retryable transport failures.
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case httpResp.StatusCode >= 500:
		return nil, fmt.Errorf("%s answered HTTP %d", c.name, httpResp.StatusCode)
	case httpResp.StatusCode >= 400:
		message := c.formatError(httpResp.StatusCode, string(body))
		return nil, backoff.Permanent(
			apperrors.NewUpstreamClientError(httpResp.StatusCode, message, nil))
	}

	resp := &Response{Status: httpResp.StatusCode, Header: httpResp.Header}
	contentType := httpResp.Header.Get("Content-Type")
	if isJSONContentType(contentType) {
		resp.JSON = json.RawMessage(body)
		return resp, nil
	}

	// A non-JSON body where the contract promises JSON is a server fault.
	if expectsJSON(req.Method) && len(body) > 0 {
		return nil, backoff.Permanent(apperrors.NewUpstreamServerError(
			fmt.Sprintf("%s answered non-JSON content type %q", c.name, contentType), nil))
	}
	resp.Text = string(body)
	return resp, nil
}

func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	target := req.Path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + "/" + strings.TrimPrefix(req.Path, "/")
	}
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, apperrors.NewInternalError("encoding request body", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, apperrors.NewInternalError("building request", err)
	}

	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" || c.password != "" {
		httpReq.SetBasicAuth(c.username, c.password)
	}
	if c.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	return httpReq, nil
}

// finalError maps the terminal failure of a retried request onto the
// application error taxonomy.
func (c *Client) finalError(err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.NewUpstreamTimeoutError(
			fmt.Sprintf("%s did not answer in time", c.name), err)
	}
	return apperrors.NewUpstreamServerError(
		fmt.Sprintf("%s request failed", c.name), err)
}

func (c *Client) formatError(status int, body string) string {
	if c.errorFormat != nil {
		return c.errorFormat(status, body)
	}
	return fmt.Sprintf("%s rejected the request with HTTP %d", c.name, status)
}

// Health issues the configured probe and classifies the response.
// A transport failure maps to ERROR; without a classifier any 2xx or 3xx
// response counts as UP and everything else as DOWN.
func (c *Client) Health(ctx context.Context) Status {
	if !c.enabled || c.healthURL == "" {
		return StatusError
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return StatusError
	}
	if c.username != "" || c.password != "" {
		httpReq.SetBasicAuth(c.username, c.password)
	}
	if c.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return StatusError
	}
	defer func() { _ = resp.Body.Close() }()

	if c.classify != nil {
		return c.classify(resp)
	}
	if resp.StatusCode < 400 {
		return StatusUp
	}
	return StatusDown
}

func isJSONContentType(contentType string) bool {
	mediaType := contentType
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		mediaType = contentType[:idx]
	}
	return strings.HasSuffix(strings.TrimSpace(mediaType), "json")
}

func expectsJSON(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}
