// Package user runs one simulated user: a single login followed by weighted
// random tasks separated by a random pause.
package user

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/finance/tools/loadgen/internal/client"
	"github.com/example/finance/tools/loadgen/internal/config"
	"github.com/example/finance/tools/loadgen/internal/generator"
	"github.com/example/finance/tools/loadgen/internal/loadctrl"
	"github.com/example/finance/tools/loadgen/internal/metrics"
	"github.com/example/finance/tools/loadgen/internal/selector"
)

// HeaderUserID carries the simulated user's id on every request.
const HeaderUserID = "X-Loadgen-User"

// maxLogBody caps how much of a response body is logged.
const maxLogBody = 256

// ErrNoToken is attached to results skipped for lack of a token.
var ErrNoToken = errors.New("no valid token")

var errorParser = client.NewResponseParser()

// WaitFunc returns the pause between two tasks.
type WaitFunc func(min, max time.Duration) time.Duration

// User is one simulated user. A User is driven by a single goroutine;
// it shares nothing with other users except the client, resolver and recorder.
type User struct {
	id       string
	profile  config.ProfileConfig
	client   *client.Client
	resolver *generator.Resolver
	recorder metrics.Recorder
	log      *zap.Logger

	limiter loadctrl.RateLimiter
	wait    WaitFunc
	rand    selector.RandIntn

	tasks   *selector.Weighted[config.TaskConfig]
	session *client.Session

	expiryLogged bool
}

// Option configures a User.
type Option func(*User)

// WithLimiter makes the user wait on limiter before each request.
func WithLimiter(limiter loadctrl.RateLimiter) Option {
	return func(u *User) {
		u.limiter = limiter
	}
}

// WithWait replaces the uniform random pause.
func WithWait(fn WaitFunc) Option {
	return func(u *User) {
		u.wait = fn
	}
}

// WithRand sets the random source used for task selection.
func WithRand(fn selector.RandIntn) Option {
	return func(u *User) {
		u.rand = fn
	}
}

// New creates a user running profile. A profile without selectable tasks is
// allowed; such a user logs in and then idles until stopped.
func New(
	id string,
	profile config.ProfileConfig,
	c *client.Client,
	resolver *generator.Resolver,
	recorder metrics.Recorder,
	log *zap.Logger,
	opts ...Option,
) (*User, error) {
	if c == nil {
		return nil, errors.New("user: client is required")
	}
	if resolver == nil {
		resolver = generator.NewResolver(nil)
	}
	if recorder == nil {
		recorder = metrics.Tee()
	}
	if log == nil {
		log = zap.NewNop()
	}

	u := &User{
		id:       id,
		profile:  profile,
		client:   c,
		resolver: resolver,
		recorder: recorder,
		log:      log.With(zap.String("user_id", id), zap.String("profile", profile.Name)),
		wait:     selector.UniformDuration,
		rand:     selector.CryptoIntn,
	}
	for _, opt := range opts {
		opt(u)
	}

	tasks, err := selector.NewWeighted(profile.EnabledTasks(),
		func(t config.TaskConfig) int { return t.EffectiveWeight() },
		selector.WithRand(u.rand))
	switch {
	case err == nil:
		u.tasks = tasks
	case errors.Is(err, selector.ErrNoItems):
		u.log.Warn("profile has no selectable tasks")
	default:
		return nil, fmt.Errorf("building task selector: %w", err)
	}

	return u, nil
}

// ID returns the user's id.
func (u *User) ID() string {
	return u.id
}

// Profile returns the profile name.
func (u *User) Profile() string {
	return u.profile.Name
}

// Session returns the session obtained by Start; it is nil before Start or
// after a failed login.
func (u *User) Session() *client.Session {
	return u.session
}

// Start performs the one login of the user's lifetime. A failed login is
// logged and recorded; the user then continues without a token.
func (u *User) Start(ctx context.Context) {
	login := u.profile.Login
	if login == nil {
		return
	}

	method := login.Method
	if method == "" {
		method = http.MethodPost
	}
	endpoint := login.Endpoint
	if endpoint == "" {
		endpoint = config.DefaultLoginEndpoint
	}

	if err := u.acquire(ctx); err != nil {
		return
	}

	started := time.Now()
	session, resp, err := u.client.Login(ctx, *login, u.identityHeaders())

	result := metrics.Result{
		Task:      endpoint,
		Profile:   u.profile.Name,
		Method:    method,
		Path:      endpoint,
		Timestamp: started,
		Latency:   time.Since(started),
	}
	if resp != nil {
		result.StatusCode = resp.StatusCode
		result.Latency = resp.Duration
		result.ResponseSize = int64(len(resp.Body))
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		result.Error = err
		u.recorder.Record(result)
		u.recorder.RecordLogin(u.profile.Name, false)

		fields := []zap.Field{zap.String("username", login.Username), zap.Error(err)}
		if resp != nil && resp.StatusCode > 0 {
			fields = append(fields, zap.Int("status", resp.StatusCode))
			fields = append(fields, bodyFields(resp.Body)...)
		}
		u.log.Warn("login failed", fields...)
		return
	}

	result.Success = true
	u.recorder.Record(result)
	u.recorder.RecordLogin(u.profile.Name, true)
	u.session = session

	fields := []zap.Field{zap.String("base_url", u.client.BaseURL())}
	if session.Subject != "" {
		fields = append(fields, zap.String("subject", session.Subject))
	}
	if !session.ExpiresAt.IsZero() {
		fields = append(fields, zap.Time("expires_at", session.ExpiresAt))
	}
	u.log.Info("login successful", fields...)
}

// Run logs in and then executes tasks until ctx is done.
func (u *User) Run(ctx context.Context) {
	u.Start(ctx)

	if u.tasks == nil {
		<-ctx.Done()
		return
	}

	for ctx.Err() == nil {
		task, err := u.tasks.Select()
		if err != nil {
			u.log.Error("selecting task", zap.Error(err))
			return
		}

		u.RunTask(ctx, task)

		if !u.pause(ctx) {
			return
		}
	}
}

// pause sleeps for the profile's wait time; it returns false if ctx ends first.
func (u *User) pause(ctx context.Context) bool {
	d := u.wait(u.profile.WaitTime.Min, u.profile.WaitTime.Max)
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RunTask executes one task and records its result. Failures are logged and
// never returned; the user always carries on.
func (u *User) RunTask(ctx context.Context, task config.TaskConfig) metrics.Result {
	result := metrics.Result{
		Task:      task.Name,
		Profile:   u.profile.Name,
		Method:    task.Method,
		Path:      task.Path,
		Timestamp: time.Now(),
	}

	token := ""
	switch task.Auth {
	case config.AuthNone:
	case config.AuthOptional:
		token = u.session.BearerToken()
	default:
		if !u.session.HasToken() {
			result.Skipped = true
			result.Error = ErrNoToken
			u.recorder.Record(result)
			u.log.Info("skipping task: no valid token", zap.String("task", task.Name))
			return result
		}
		token = u.session.BearerToken()
	}
	if token != "" && !u.expiryLogged && u.session.Expired(time.Now()) {
		u.expiryLogged = true
		u.log.Warn("session token has expired, sending it anyway",
			zap.Time("expires_at", u.session.ExpiresAt))
	}

	req, err := u.buildRequest(task, token)
	if err != nil {
		result.Skipped = true
		result.Error = fmt.Errorf("building request: %w", err)
		u.recorder.Record(result)
		u.log.Error("skipping task: building request failed", zap.String("task", task.Name), zap.Error(err))
		return result
	}

	if err := u.acquire(ctx); err != nil {
		result.Error = err
		return result
	}

	resp, err := u.client.Do(ctx, req)
	if resp != nil {
		result.StatusCode = resp.StatusCode
		result.Latency = resp.Duration
		result.ResponseSize = int64(len(resp.Body))
		if resp.Attempts > 1 {
			u.log.Debug("request retried", zap.String("task", task.Name), zap.Int("attempts", resp.Attempts))
		}
	}

	switch {
	case err != nil:
		result.Error = err
		if ctx.Err() != nil {
			return result
		}
		u.log.Warn("task failed", zap.String("task", task.Name), zap.Error(err))
	case !task.IsExpected(resp.StatusCode):
		fields := []zap.Field{zap.String("task", task.Name), zap.Int("status", resp.StatusCode)}
		u.log.Warn("task failed", append(fields, bodyFields(resp.Body)...)...)
	default:
		result.Success = true
	}

	u.recorder.Record(result)
	return result
}

func (u *User) acquire(ctx context.Context) error {
	if u.limiter == nil {
		return nil
	}
	return u.limiter.Acquire(ctx)
}

// buildRequest resolves the task's parameters into a client request.
func (u *User) buildRequest(task config.TaskConfig, token string) (client.Request, error) {
	path, err := u.expandPath(task.Path, task.PathParams)
	if err != nil {
		return client.Request{}, err
	}

	query, err := u.resolver.ResolveStrings(task.Query)
	if err != nil {
		return client.Request{}, fmt.Errorf("query: %w", err)
	}

	var body any
	if len(task.Body) > 0 || len(task.BodyParams) > 0 {
		generated, err := u.resolver.ResolveAll(task.BodyParams)
		if err != nil {
			return client.Request{}, fmt.Errorf("body: %w", err)
		}
		merged := maps.Clone(task.Body)
		if merged == nil {
			merged = make(map[string]any, len(generated))
		}
		maps.Copy(merged, generated)
		body = merged
	}

	headers := make(map[string]string, len(task.Headers)+1)
	maps.Copy(headers, task.Headers)
	maps.Copy(headers, u.identityHeaders())

	return client.Request{
		Method:      task.Method,
		Path:        path,
		QueryParams: query,
		Headers:     headers,
		Body:        body,
		Token:       token,
	}, nil
}

// identityHeaders returns a fresh header map carrying the user's id.
func (u *User) identityHeaders() map[string]string {
	headers := make(map[string]string, 1)
	if u.id != "" {
		headers[HeaderUserID] = u.id
	}
	return headers
}

// bodyFields describes a response body for logging. The error detail is
// added when the body is a JSON error document.
func bodyFields(body []byte) []zap.Field {
	fields := []zap.Field{zap.String("body", client.Truncate(body, maxLogBody))}
	if detail := errorParser.ParseErrorResponse(body); detail != string(body) {
		fields = append(fields, zap.String("detail", client.Truncate([]byte(detail), maxLogBody)))
	}
	return fields
}

func (u *User) expandPath(path string, params map[string]config.ParamConfig) (string, error) {
	for _, name := range config.PathParamNames(path) {
		p, ok := params[name]
		if !ok {
			return "", fmt.Errorf("%w: no value for path parameter %q", generator.ErrInvalidConfig, name)
		}
		value, err := u.resolver.ResolveString(p)
		if err != nil {
			return "", fmt.Errorf("path: %w", err)
		}
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(value))
	}
	return path, nil
}
