// Package client provides the HTTP transport used by simulated users:
// request building, bearer authentication, retries and response parsing.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/finance/tools/loadgen/internal/config"
)

// UserAgent is sent with every request unless overridden by target headers.
const UserAgent = "Finance-LoadGen/1.0"

// Client is the HTTP client shared by all simulated users of a run.
//
// Thread Safety: Safe for concurrent use. Default headers are fixed at
// construction.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	headers     map[string]string
	retryConfig RetryConfig
}

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries  int
	RetryDelay  time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	ShouldRetry func(resp *http.Response, err error) bool
}

// DefaultRetryConfig returns a config that never retries; simulated users
// report the first outcome of each request.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  0,
		RetryDelay:  500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		ShouldRetry: RetryOnServerError,
	}
}

// RetryOnServerError retries transport errors, 5xx and 429 responses.
func RetryOnServerError(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

// Option configures a Client.
type Option func(*Client)

// WithRetry sets the retry policy. Zero fields other than MaxRetries take
// their DefaultRetryConfig values.
func WithRetry(rc RetryConfig) Option {
	return func(c *Client) {
		def := DefaultRetryConfig()
		if rc.RetryDelay <= 0 {
			rc.RetryDelay = def.RetryDelay
		}
		if rc.MaxDelay <= 0 {
			rc.MaxDelay = def.MaxDelay
		}
		if rc.Multiplier <= 0 {
			rc.Multiplier = def.Multiplier
		}
		if rc.ShouldRetry == nil {
			rc.ShouldRetry = def.ShouldRetry
		}
		c.retryConfig = rc
	}
}

// NewClient creates a client for the target system.
func NewClient(cfg config.TargetConfig, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		baseURL: base,
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
			"User-Agent":   UserAgent,
		},
		retryConfig: DefaultRetryConfig(),
	}
	for k, v := range cfg.Headers {
		c.headers[k] = v
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Request represents an HTTP request to be executed.
type Request struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Headers     map[string]string
	Body        any

	// Token, when set, is sent as "Authorization: Bearer <Token>".
	Token string
}

// Response represents an HTTP response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// Do executes req, retrying according to the client's retry policy.
// A non-2xx status is not an error; only transport failures are.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	u, err := c.BuildURL(req.Path, req.QueryParams)
	if err != nil {
		return nil, fmt.Errorf("building URL: %w", err)
	}

	var body []byte
	if req.Body != nil {
		body, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var (
		resp    *Response
		lastErr error
	)
	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return resp, ctx.Err()
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
		if err != nil {
			return nil, fmt.Errorf("creating HTTP request: %w", err)
		}
		c.setHeaders(httpReq, req.Headers)
		if req.Token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+req.Token)
		}

		start := time.Now()
		httpResp, err := c.httpClient.Do(httpReq)
		if err == nil {
			resp = &Response{
				StatusCode: httpResp.StatusCode,
				Headers:    httpResp.Header,
				Attempts:   attempt + 1,
			}
			resp.Body, err = io.ReadAll(httpResp.Body)
			httpResp.Body.Close()
			resp.Duration = time.Since(start)
			if err != nil {
				err = fmt.Errorf("reading response body: %w", err)
			}
		} else {
			resp = &Response{Duration: time.Since(start), Attempts: attempt + 1}
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt < c.retryConfig.MaxRetries && c.retryConfig.ShouldRetry(httpResp, err) {
			continue
		}
		break
	}

	return resp, lastErr
}

// BuildURL joins path and query parameters onto the base URL.
func (c *Client) BuildURL(path string, queryParams map[string]string) (*url.URL, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parsing path: %w", err)
	}

	u := *c.baseURL
	u.Path = strings.TrimSuffix(c.baseURL.Path, "/") + ref.Path
	u.RawPath = ""
	if ref.RawPath != "" {
		u.RawPath = strings.TrimSuffix(c.baseURL.EscapedPath(), "/") + ref.RawPath
	}

	q := ref.Query()
	for k, v := range queryParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	return &u, nil
}

func (c *Client) setHeaders(req *http.Request, custom map[string]string) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range custom {
		req.Header.Set(k, v)
	}
}

// calculateBackoff returns an exponential delay with ±25% jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryConfig.RetryDelay) * math.Pow(c.retryConfig.Multiplier, float64(attempt-1))
	if limit := float64(c.retryConfig.MaxDelay); limit > 0 && delay > limit {
		delay = limit
	}
	jitter := delay * 0.25
	return time.Duration(delay + (rand.Float64()*2-1)*jitter)
}

// BaseURL returns the client's base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
