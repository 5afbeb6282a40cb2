package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/finance/tools/loadgen/internal/config"
)

var (
	// ErrLoginFailed is returned when the login endpoint answers with a non-200 status.
	ErrLoginFailed = errors.New("client: login failed")
	// ErrTokenMissing is returned when a successful login response carries no token.
	ErrTokenMissing = errors.New("client: token missing from login response")
)

// maxErrorBody caps how much of a response body is copied into errors and logs.
const maxErrorBody = 512

// LoginRequest is the login request payload.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session holds the credentials of one simulated user after login.
// The token is kept in memory only; it is never refreshed or revoked.
type Session struct {
	Username string
	Token    string

	// Subject and ExpiresAt are read from the token's claims when it is a JWT.
	// The signature is not verified.
	Subject   string
	ExpiresAt time.Time
}

// HasToken reports whether the session carries a token. A nil session has none.
func (s *Session) HasToken() bool {
	return s != nil && s.Token != ""
}

// BearerToken returns the token, or "" for a nil session.
func (s *Session) BearerToken() string {
	if s == nil {
		return ""
	}
	return s.Token
}

// Expired reports whether the token's exp claim is in the past at now.
// Tokens without an exp claim never expire.
func (s *Session) Expired(now time.Time) bool {
	return s.HasToken() && !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Login posts the credentials in cfg, with headers added to the request, and
// extracts the token from the response. The returned Response is non-nil
// whenever the request reached the server, including on ErrLoginFailed and
// ErrTokenMissing.
func (c *Client) Login(ctx context.Context, cfg config.LoginConfig, headers map[string]string) (*Session, *Response, error) {
	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = config.DefaultLoginEndpoint
	}
	fields := cfg.TokenFields
	if len(fields) == 0 {
		fields = config.DefaultTokenFields
	}

	resp, err := c.Do(ctx, Request{
		Method:  method,
		Path:    endpoint,
		Headers: headers,
		Body:    LoginRequest{Username: cfg.Username, Password: cfg.Password},
	})
	if err != nil {
		return nil, resp, fmt.Errorf("login request failed: %w", err)
	}

	parser := NewResponseParser()
	if resp.StatusCode != http.StatusOK {
		detail := parser.ParseErrorResponse(resp.Body)
		return nil, resp, fmt.Errorf("%w: %d - %s", ErrLoginFailed, resp.StatusCode, Truncate([]byte(detail), maxErrorBody))
	}

	token, ok := parser.FirstString(resp.Body, fields...)
	if !ok {
		return nil, resp, fmt.Errorf("%w: looked for %v", ErrTokenMissing, fields)
	}

	session := &Session{Username: cfg.Username, Token: token}
	session.Subject, session.ExpiresAt = inspectToken(token)
	return session, resp, nil
}

// inspectToken reads sub and exp from a JWT without verifying it.
// Opaque tokens yield zero values.
func inspectToken(token string) (string, time.Time) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", time.Time{}
	}

	var (
		subject string
		expires time.Time
	)
	if sub, err := claims.GetSubject(); err == nil {
		subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expires = exp.Time
	}
	return subject, expires
}

// Truncate returns body as a string of at most limit bytes.
func Truncate(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
