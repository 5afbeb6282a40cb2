package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/finance/tools/loadgen/internal/config"
)

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(config.TargetConfig{BaseURL: url, Timeout: 5 * time.Second}, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(config.TargetConfig{})
	assert.Error(t, err)

	_, err = NewClient(config.TargetConfig{BaseURL: "localhost:8000"})
	assert.Error(t, err)

	c, err := NewClient(config.TargetConfig{BaseURL: "http://localhost:8000"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", c.BaseURL())
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		path  string
		query map[string]string
		want  string
	}{
		{name: "simple", base: "http://h:8000", path: "/health", want: "http://h:8000/health"},
		{name: "missing slash", base: "http://h:8000", path: "health", want: "http://h:8000/health"},
		{name: "base prefix", base: "http://h/api", path: "/stocks/predict", want: "http://h/api/stocks/predict"},
		{
			name:  "query",
			base:  "http://h",
			path:  "/stocks/predict",
			query: map[string]string{"ticker": "AAPL"},
			want:  "http://h/stocks/predict?ticker=AAPL",
		},
		{
			name:  "query merged with inline",
			base:  "http://h",
			path:  "/risk/assess?portfolio_id=123",
			query: map[string]string{"detail": "full"},
			want:  "http://h/risk/assess?detail=full&portfolio_id=123",
		},
		{name: "escaped segment", base: "http://h", path: "/user/a%20b/risk-score", want: "http://h/user/a%20b/risk-score"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(config.TargetConfig{BaseURL: tt.base})
			require.NoError(t, err)
			u, err := c.BuildURL(tt.path, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestDo_HeadersAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/budget/add", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "u-1", r.Header.Get("X-Loadgen-User"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 100.5, body["amount"])
		assert.Equal(t, "Food", body["category"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	resp, err := c.Do(context.Background(), Request{
		Method:  http.MethodPost,
		Path:    "/budget/add",
		Body:    map[string]any{"amount": 100.50, "category": "Food"},
		Headers: map[string]string{"X-Loadgen-User": "u-1"},
		Token:   "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, 1, resp.Attempts)
	assert.Positive(t, resp.Duration)
}

func TestDo_NoTokenNoAuthorization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := newTestClient(t, server.URL).Do(context.Background(), Request{Path: "/health"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDo_TargetHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "staging", r.Header.Get("X-Env"))
		assert.Equal(t, "v2", r.Header.Get("X-Extra"))
	}))
	defer server.Close()

	c, err := NewClient(config.TargetConfig{BaseURL: server.URL, Headers: map[string]string{"X-Env": "staging"}})
	require.NoError(t, err)

	_, err = c.Do(context.Background(), Request{Path: "/", Headers: map[string]string{"X-Extra": "v2"}})
	require.NoError(t, err)
}

func TestDo_ErrorStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	resp, err := newTestClient(t, server.URL).Do(context.Background(), Request{Path: "/x"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "boom", string(resp.Body))
}

func TestDo_DefaultNeverRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Do(context.Background(), Request{Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_RetryResendsBody(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"a":1}`, string(body))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, WithRetry(RetryConfig{
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2,
	}))

	resp, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/", Body: map[string]int{"a": 1}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	resp, err := newTestClient(t, url).Do(context.Background(), Request{Path: "/"})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Zero(t, resp.StatusCode)
}

func TestDo_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestClient(t, server.URL).Do(ctx, Request{Path: "/"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithRetry_FillsDefaults(t *testing.T) {
	c := newTestClient(t, "http://localhost", WithRetry(RetryConfig{MaxRetries: 2}))

	assert.Equal(t, 2, c.retryConfig.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, c.retryConfig.RetryDelay)
	assert.Equal(t, 10*time.Second, c.retryConfig.MaxDelay)
	assert.Equal(t, 2.0, c.retryConfig.Multiplier)
	require.NotNil(t, c.retryConfig.ShouldRetry)
	assert.True(t, c.retryConfig.ShouldRetry(&http.Response{StatusCode: http.StatusBadGateway}, nil))
	assert.False(t, c.retryConfig.ShouldRetry(&http.Response{StatusCode: http.StatusNotFound}, nil))
}

func TestCalculateBackoff_Capped(t *testing.T) {
	c := newTestClient(t, "http://localhost", WithRetry(RetryConfig{
		RetryDelay: 100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 10,
	}))

	d := c.calculateBackoff(5)
	assert.LessOrEqual(t, d, 1250*time.Millisecond)
	assert.GreaterOrEqual(t, d, 750*time.Millisecond)
}
