// Package api is the authenticated HTTP client for one platform instance.
//
// A Client owns its bearer token, refreshes it shortly before expiry, waits
// on the shared per-endpoint rate limiter before every call and retries a
// throttled (429) request exactly once after a fixed back-off.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lherron/acctmigrate/internal/logging"
	"github.com/lherron/acctmigrate/internal/ratelimit"
)

const (
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimitBackoff is how long to wait after a 429 before the retry.
	DefaultRateLimitBackoff = 60 * time.Second

	// DefaultRefreshLeeway renews the token this long before it expires.
	DefaultRefreshLeeway = 60 * time.Second

	authPath = "/auth/vendor"

	headerTenant      = "frontegg-tenant-id"
	headerEnvironment = "frontegg-environment-id"
	headerVendor      = "frontegg-vendor-id"
)

// Instance identifies one platform deployment and its vendor credentials.
type Instance struct {
	// Name is "source" or "destination"; used in logs and errors.
	Name     string
	BaseURL  string
	ClientID string
	Secret   string
}

// Config configures a Client.
type Config struct {
	Instance         Instance
	Timeout          time.Duration
	RateLimitBackoff time.Duration
	RefreshLeeway    time.Duration

	// HTTPClient overrides the underlying client (tests install httpmock on it).
	HTTPClient *http.Client
}

// Client issues authenticated, rate-limited calls against one instance.
type Client struct {
	inst    Instance
	http    *http.Client
	limiter *ratelimit.Limiter
	log     logging.Logger
	backoff time.Duration
	leeway  time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Client. limiter may be shared between clients; endpoint keys
// are prefixed with the instance name so budgets stay independent.
func New(cfg Config, limiter *ratelimit.Limiter, log logging.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimitBackoff <= 0 {
		cfg.RateLimitBackoff = DefaultRateLimitBackoff
	}
	if cfg.RefreshLeeway <= 0 {
		cfg.RefreshLeeway = DefaultRefreshLeeway
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if limiter == nil {
		limiter = ratelimit.New(0)
	}
	if log == nil {
		log = logging.Discard()
	}
	cfg.Instance.BaseURL = strings.TrimRight(cfg.Instance.BaseURL, "/")

	return &Client{
		inst:    cfg.Instance,
		http:    httpClient,
		limiter: limiter,
		log:     log.With("instance", cfg.Instance.Name),
		backoff: cfg.RateLimitBackoff,
		leeway:  cfg.RefreshLeeway,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Name returns the instance name.
func (c *Client) Name() string { return c.inst.Name }

// ClientID returns the vendor client id, which doubles as the environment
// and vendor id for scoped endpoints.
func (c *Client) ClientID() string { return c.inst.ClientID }

// BaseURL returns the instance base URL.
func (c *Client) BaseURL() string { return c.inst.BaseURL }

type authRequest struct {
	ClientID string `json:"clientId"`
	Secret   string `json:"secret"`
}

type authResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

// Authenticate obtains a fresh token. Failures are returned as *AuthError.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	body, err := json.Marshal(authRequest{ClientID: c.inst.ClientID, Secret: c.inst.Secret})
	if err != nil {
		return &AuthError{Instance: c.inst.Name, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.inst.BaseURL+authPath, bytes.NewReader(body))
	if err != nil {
		return &AuthError{Instance: c.inst.Name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &AuthError{Instance: c.inst.Name, Err: err}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &AuthError{Instance: c.inst.Name, Err: &HTTPError{
			Method: http.MethodPost, URL: req.URL.String(), Status: resp.StatusCode, Body: string(data),
		}}
	}

	var ar authResponse
	if err := json.Unmarshal(data, &ar); err != nil {
		return &AuthError{Instance: c.inst.Name, Err: fmt.Errorf("invalid auth response: %w", err)}
	}
	if ar.Token == "" {
		return &AuthError{Instance: c.inst.Name, Err: fmt.Errorf("auth response has no token")}
	}

	c.token = ar.Token
	c.expires = c.now().Add(time.Duration(ar.ExpiresIn) * time.Second)
	c.log.Debug("authenticated", "expires_in", ar.ExpiresIn)
	return nil
}

// bearer returns a valid token, refreshing it if it is missing or about to
// expire.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" || !c.now().Add(c.leeway).Before(c.expires) {
		if c.token != "" {
			c.log.Debug("refreshing token")
		}
		if err := c.authenticateLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.token, nil
}

// Option adjusts a single request.
type Option func(*http.Request)

// WithTenant scopes a request to a tenant.
func WithTenant(tenantID string) Option {
	return func(r *http.Request) {
		if tenantID != "" {
			r.Header.Set(headerTenant, tenantID)
		}
	}
}

// WithHeader sets an arbitrary header.
func WithHeader(key, value string) Option {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

// WithEnvironment returns the option that sets the environment header to
// this client's id.
func (c *Client) WithEnvironment() Option {
	return WithHeader(headerEnvironment, c.inst.ClientID)
}

// WithVendor returns the option that sets the vendor header to this
// client's id.
func (c *Client) WithVendor() Option {
	return WithHeader(headerVendor, c.inst.ClientID)
}

// Response is a successful (2xx) response with its body read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("invalid JSON response: %w", err)
	}
	return nil
}

// Get issues a GET. path may carry a query string.
func (c *Client) Get(ctx context.Context, path string, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body, opts...)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Do issues a JSON request. body is marshalled unless nil.
func (c *Client) Do(ctx context.Context, method, path string, body any, opts ...Option) (*Response, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s %s body: %w", method, path, err)
		}
		payload = data
	}
	contentType := ""
	if payload != nil {
		contentType = "application/json"
	}
	return c.send(ctx, method, path, payload, contentType, opts)
}

// send performs the request with rate limiting and the single 429 retry.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, contentType string, opts []Option) (*Response, error) {
	endpoint := c.endpointKey(method, path)

	resp, err := c.attempt(ctx, endpoint, method, path, payload, contentType, opts)
	if err != nil || resp.Status != http.StatusTooManyRequests {
		return c.finish(method, path, resp, err)
	}

	c.log.Warn("rate limit exceeded, retrying after back-off", "endpoint", endpoint, "backoff", c.backoff)
	if err := c.sleep(ctx, c.backoff); err != nil {
		return nil, err
	}

	resp, err = c.attempt(ctx, endpoint, method, path, payload, contentType, opts)
	if err == nil && resp.Status == http.StatusTooManyRequests {
		return nil, &RateLimitError{Endpoint: endpoint, Err: c.httpError(method, path, resp)}
	}
	return c.finish(method, path, resp, err)
}

func (c *Client) attempt(ctx context.Context, endpoint, method, path string, payload []byte, contentType string, opts []Option) (*Response, error) {
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return nil, err
	}

	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.inst.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, opt := range opts {
		opt(req)
	}

	start := c.now()
	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %s response: %w", method, path, err)
	}
	c.log.Debug("request", "method", method, "path", path, "status", httpResp.StatusCode, "elapsed", c.now().Sub(start))

	return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

func (c *Client) finish(method, path string, resp *Response, err error) (*Response, error) {
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status > 299 {
		return nil, c.httpError(method, path, resp)
	}
	return resp, nil
}

func (c *Client) httpError(method, path string, resp *Response) *HTTPError {
	return &HTTPError{Method: method, URL: c.inst.BaseURL + path, Status: resp.Status, Body: string(resp.Body)}
}

// endpointKey strips the query so paging through a collection shares one
// budget.
func (c *Client) endpointKey(method, path string) string {
	if u, err := url.Parse(path); err == nil {
		path = u.Path
	}
	return c.inst.Name + " " + method + " " + path
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
