// Package api talks to the remote entity REST API: the CSRF token endpoint,
// point reads and the create/replace/delete writes the sync engine replays.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	sferrors "github.com/dsbaciga/captainslog/offline/internal/errors"
	"github.com/dsbaciga/captainslog/offline/internal/types"
)

// CSRFHeader carries the token obtained from the refresh endpoint on writes.
const CSRFHeader = "X-CSRF-Token"

// Client is a thin REST client over resty. It is safe for concurrent use.
type Client struct {
	http       *resty.Client
	csrfPath   string
	healthPath string
	log        zerolog.Logger

	mu        sync.RWMutex
	csrfToken string
}

// Option configures a Client during construction in New.
type Option func(*Client) error

// WithTimeout sets the per-request timeout. The value must be greater than zero.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("http timeout must be > 0")
		}
		c.http.SetTimeout(d)
		return nil
	}
}

// WithCSRFPath overrides the token refresh path (default /auth/csrf-token).
func WithCSRFPath(p string) Option {
	return func(c *Client) error {
		if p == "" {
			return fmt.Errorf("csrf path cannot be empty")
		}
		c.csrfPath = p
		return nil
	}
}

// WithHealthPath overrides the health probe path (default /health).
func WithHealthPath(p string) Option {
	return func(c *Client) error {
		if p == "" {
			return fmt.Errorf("health path cannot be empty")
		}
		c.healthPath = p
		return nil
	}
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) error {
		if rt == nil {
			return fmt.Errorf("transport cannot be nil")
		}
		c.http.SetTransport(rt)
		return nil
	}
}

// WithAuthToken sends a bearer token on every request.
func WithAuthToken(token string) Option {
	return func(c *Client) error {
		if token != "" {
			c.http.SetAuthToken(token)
		}
		return nil
	}
}

// WithDebugLogging wraps the current transport so each request/response is
// logged when enabled is true. Apply after WithTransport.
func WithDebugLogging(enabled bool) Option {
	return func(c *Client) error {
		if enabled {
			base := c.http.GetClient().Transport
			if base == nil {
				base = http.DefaultTransport
			}
			c.http.SetTransport(&debugTransport{base: base})
		}
		return nil
	}
}

// WithLogger sets the logger used for request failures.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

// New constructs a Client for baseURL, e.g. http://localhost:3000/api.
func New(baseURL string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}

	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json").
			SetTimeout(30 * time.Second),
		csrfPath:   "/auth/csrf-token",
		healthPath: "/health",
		log:        zerolog.Nop(),
	}

	// Auto-enable debug via env variable without changing code.
	if debugLoggingRequested() {
		opts = append(opts, WithDebugLogging(true))
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RefreshCSRFToken fetches a fresh token and attaches it to later writes.
func (c *Client) RefreshCSRFToken(ctx context.Context) error {
	const op = "refresh csrf token"

	resp, err := c.http.R().SetContext(ctx).Get(c.csrfPath)
	if err != nil {
		return sferrors.NewNetworkError(op, err)
	}
	if !resp.IsSuccess() {
		return sferrors.NewHTTPError(resp.StatusCode(), resp.String(), op)
	}

	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	if body.CSRFToken == "" {
		return fmt.Errorf("%s: empty token in response", op)
	}

	c.mu.Lock()
	c.csrfToken = body.CSRFToken
	c.mu.Unlock()
	return nil
}

// Health probes the API health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get(c.healthPath)
	if err != nil {
		return sferrors.NewNetworkError("health", err)
	}
	if !resp.IsSuccess() {
		return sferrors.NewHTTPError(resp.StatusCode(), resp.String(), "health")
	}
	return nil
}

// Get reads {endpoint}/{id}. A null data envelope yields (nil, nil).
func (c *Client) Get(ctx context.Context, endpoint, id string) (types.Payload, error) {
	op := "get " + endpoint
	resp, err := c.http.R().SetContext(ctx).Get(itemPath(endpoint, id))
	if err != nil {
		return nil, sferrors.NewNetworkError(op, err)
	}
	if !resp.IsSuccess() {
		return nil, sferrors.NewHTTPError(resp.StatusCode(), resp.String(), op)
	}
	return decodeEnvelope(resp.Body())
}

// Create POSTs data to endpoint and returns the created entity, if the server
// sent one back.
func (c *Client) Create(ctx context.Context, endpoint string, data types.Payload) (types.Payload, error) {
	op := "create " + endpoint
	resp, err := c.write(ctx).SetBody(bodyOf(data)).Post(endpoint)
	if err != nil {
		return nil, sferrors.NewNetworkError(op, err)
	}
	if !resp.IsSuccess() {
		return nil, sferrors.NewHTTPError(resp.StatusCode(), resp.String(), op)
	}
	if len(resp.Body()) == 0 {
		return nil, nil
	}
	created, err := decodeEnvelope(resp.Body())
	if err != nil {
		// the write happened; an odd response body must not turn it into a retry
		c.log.Warn().Err(err).Str("endpoint", endpoint).Msg("create response not decodable")
		return nil, nil
	}
	return created, nil
}

// Replace PUTs the full payload to {endpoint}/{id}.
func (c *Client) Replace(ctx context.Context, endpoint, id string, data types.Payload) error {
	op := "replace " + endpoint
	resp, err := c.write(ctx).SetBody(bodyOf(data)).Put(itemPath(endpoint, id))
	if err != nil {
		return sferrors.NewNetworkError(op, err)
	}
	if !resp.IsSuccess() {
		return sferrors.NewHTTPError(resp.StatusCode(), resp.String(), op)
	}
	return nil
}

// Delete removes {endpoint}/{id}.
func (c *Client) Delete(ctx context.Context, endpoint, id string) error {
	op := "delete " + endpoint
	resp, err := c.write(ctx).Delete(itemPath(endpoint, id))
	if err != nil {
		return sferrors.NewNetworkError(op, err)
	}
	if !resp.IsSuccess() {
		return sferrors.NewHTTPError(resp.StatusCode(), resp.String(), op)
	}
	return nil
}

func (c *Client) write(ctx context.Context) *resty.Request {
	r := c.http.R().SetContext(ctx)
	c.mu.RLock()
	if c.csrfToken != "" {
		r.SetHeader(CSRFHeader, c.csrfToken)
	}
	c.mu.RUnlock()
	return r
}

func itemPath(endpoint, id string) string {
	return endpoint + "/" + url.PathEscape(id)
}

func bodyOf(data types.Payload) any {
	if data == nil {
		return map[string]any{}
	}
	return map[string]any(data)
}

// decodeEnvelope unwraps {"data": ...}. Bodies without the envelope are taken
// as the entity itself.
func decodeEnvelope(body []byte) (types.Payload, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	raw, ok := env["data"]
	if !ok {
		var p types.Payload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return p, nil
	}
	var p types.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return p, nil
}
