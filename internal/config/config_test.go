package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromBytes_MinimalConfig(t *testing.T) {
	yaml := `
name: "Test Config"
target:
  baseURL: "http://localhost:8000/"
profiles:
  - name: "health"
    tasks:
      - name: "/health"
        method: "get"
        path: "/health"
        auth: "none"
`
	cfg, err := LoadFromBytes([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, "Test Config", cfg.Name)
	assert.Equal(t, "http://localhost:8000", cfg.Target.BaseURL) // trailing slash trimmed
	assert.Equal(t, 30*time.Second, cfg.Target.Timeout)         // Default
	assert.Equal(t, 5*time.Minute, cfg.Duration)                // Default
	assert.Equal(t, 1, cfg.Users)                               // Default
	assert.Equal(t, 1.0, cfg.SpawnRate)                         // Default: Users
	assert.Equal(t, 10*time.Second, cfg.Output.ReportInterval)  // Default

	require.Len(t, cfg.Profiles, 1)
	p := cfg.Profiles[0]
	assert.Equal(t, 1, p.EffectiveWeight())
	assert.Equal(t, time.Second, p.WaitTime.Min)
	assert.Equal(t, 3*time.Second, p.WaitTime.Max)
	assert.Nil(t, p.Login)

	require.Len(t, p.Tasks, 1)
	task := p.Tasks[0]
	assert.Equal(t, "GET", task.Method)
	require.NotNil(t, task.Weight)
	assert.Equal(t, 1, *task.Weight)
	assert.Equal(t, AuthNone, task.Auth)
	assert.Equal(t, []int{200}, task.ExpectedStatus)
}

func TestLoadFromBytes_FullConfig(t *testing.T) {
	yaml := `
name: "Budget Load"
description: "budget service"
version: "2.0"
target:
  baseURL: "https://finance.example.com"
  timeout: 5s
  tlsSkipVerify: true
  headers:
    X-Env: "staging"
duration: 2m
users: 20
spawnRate: 4
fixtures:
  user_ids: ["19aaa01d-4413-467c-82ee-2f30defb2fee", "123e4567-e89b-12d3-a456-426614174000"]
rateLimiter:
  qps: 50
  burstSize: 5
log:
  level: debug
  format: json
output:
  reportInterval: 5s
  json:
    enabled: true
    file: "results/{{.Timestamp}}.json"
  prometheus:
    enabled: true
    port: 9191
profiles:
  - name: budget
    weight: 3
    waitTime: {min: 500ms, max: 2s}
    login:
      username: johndoe
      password: "123"
    tasks:
      - name: /budget/transactions
        method: GET
        path: /budget/transactions/{user_id}
        weight: 2
        pathParams:
          user_id: {fixture: user_ids}
      - name: /budget/add
        method: POST
        path: /budget/add
        body:
          category: Food
          date: "2025-05-10"
        bodyParams:
          amount:
            generator: {type: float, min: 5, max: 500}
      - name: /profile/risk_score
        method: GET
        path: /profile/risk_score
        expectedStatus: [200, 204]
        query:
          user_id: {fixture: user_ids}
`
	cfg, err := LoadFromBytes([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, "2.0", cfg.Version)
	assert.Equal(t, 5*time.Second, cfg.Target.Timeout)
	assert.True(t, cfg.Target.TLSSkipVerify)
	assert.Equal(t, "staging", cfg.Target.Headers["X-Env"])
	assert.Equal(t, 2*time.Minute, cfg.Duration)
	assert.Equal(t, 20, cfg.Users)
	assert.Equal(t, 4.0, cfg.SpawnRate)
	assert.Equal(t, 50.0, cfg.RateLimiter.QPS)
	assert.Equal(t, 5, cfg.RateLimiter.BurstSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Output.JSON.Enabled)
	assert.Equal(t, 9191, cfg.Output.Prometheus.Port)
	assert.Equal(t, "/metrics", cfg.Output.Prometheus.Path)

	p := cfg.GetProfile("budget")
	require.NotNil(t, p)
	assert.Equal(t, 3, p.EffectiveWeight())
	assert.Equal(t, 500*time.Millisecond, p.WaitTime.Min)
	require.NotNil(t, p.Login)
	assert.Equal(t, "/auth/login", p.Login.Endpoint)
	assert.Equal(t, "POST", p.Login.Method)
	assert.Equal(t, []string{"token", "access_token"}, p.Login.TokenFields)

	assert.Equal(t, 4, p.TotalTaskWeight())
	assert.Equal(t, AuthRequired, p.Tasks[0].Auth)
	assert.Equal(t, "Food", p.Tasks[1].Body["category"])
	assert.Equal(t, "float", p.Tasks[1].BodyParams["amount"].Generator.Type)
	assert.True(t, p.Tasks[2].IsExpected(204))
	assert.False(t, p.Tasks[2].IsExpected(404))
}

func TestLoadFromBytes_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing name",
			yaml: `
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: GET, path: /t}]}]`,
		},
		{
			name: "missing base url",
			yaml: `
name: n
profiles: [{name: a, tasks: [{name: t, method: GET, path: /t}]}]`,
		},
		{
			name: "no profiles",
			yaml: `
name: n
target: {baseURL: "http://x"}`,
		},
		{
			name: "all profiles disabled",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, disabled: true, tasks: [{name: t, method: GET, path: /t}]}]`,
		},
		{
			name: "profile without tasks",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a}]`,
		},
		{
			name: "duplicate profile",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles:
  - {name: a, tasks: [{name: t, method: GET, path: /t}]}
  - {name: a, tasks: [{name: t, method: GET, path: /t}]}`,
		},
		{
			name: "duplicate task",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: GET, path: /t}, {name: t, method: GET, path: /u}]}]`,
		},
		{
			name: "bad method",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: FETCH, path: /t}]}]`,
		},
		{
			name: "relative path",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: GET, path: t}]}]`,
		},
		{
			name: "unknown auth mode",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: GET, path: /t, auth: sometimes}]}]`,
		},
		{
			name: "wait min greater than max",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, waitTime: {min: 3s, max: 1s}, tasks: [{name: t, method: GET, path: /t}]}]`,
		},
		{
			name: "missing path param",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: GET, path: "/t/{user_id}"}]}]`,
		},
		{
			name: "unknown fixture",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: GET, path: /t, query: {q: {fixture: nope}}}]}]`,
		},
		{
			name: "invalid expected status",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: GET, path: /t, expectedStatus: [42]}]}]`,
		},
		{
			name: "login without username",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, login: {password: p}, tasks: [{name: t, method: GET, path: /t}]}]`,
		},
		{
			name: "misspelled generator type",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: GET, path: /t, query: {amount: {generator: {type: flaot, max: 5}}}}]}]`,
		},
		{
			name: "parameter without source",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: GET, path: "/t/{id}", pathParams: {id: {}}}]}]`,
		},
		{
			name: "generator without type",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: POST, path: /t, bodyParams: {amount: {generator: {min: 1, max: 2}}}}]}]`,
		},
		{
			name: "float generator min above max",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: GET, path: /t, query: {amount: {generator: {type: float, min: 9, max: 1}}}}]}]`,
		},
		{
			name: "choice generator without choices",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: GET, path: /t, query: {kind: {generator: {type: choice}}}}]}]`,
		},
		{
			name: "all task weights zero",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: GET, path: /t, weight: 0}]}]`,
		},
		{
			name: "all profile weights zero",
			yaml: `
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, weight: 0, tasks: [{name: t, method: GET, path: /t}]}]`,
		},
		{
			name: "negative retries",
			yaml: `
name: n
target: {baseURL: "http://x", retries: -1}
profiles: [{name: a, tasks: [{name: t, method: GET, path: /t}]}]`,
		},
		{
			name: "negative users",
			yaml: `
name: n
users: -1
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: GET, path: /t}]}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadFromBytes_ValidationNamesTheParameter(t *testing.T) {
	_, err := LoadFromBytes([]byte(`
name: n
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: GET, path: /t, query: {amount: {generator: {type: flaot}}}}]}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile a: task t: query.amount")
	assert.Contains(t, err.Error(), `unknown generator type "flaot"`)
}

func TestLoadFromBytes_ExplicitZeroWeight(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
name: n
target: {baseURL: "http://x"}
profiles:
  - name: budget
    tasks:
      - {name: /budget/report, method: GET, path: /budget/report}
      - {name: /budget/email, method: GET, path: /budget/email, weight: 0}
  - name: admin
    weight: 0
    tasks:
      - {name: /health, method: GET, path: /health}
`))
	require.NoError(t, err)

	budget := cfg.GetProfile("budget")
	require.NotNil(t, budget)
	assert.Equal(t, 1, budget.EffectiveWeight())
	assert.Equal(t, 1, budget.Tasks[0].EffectiveWeight())
	assert.Equal(t, 0, budget.Tasks[1].EffectiveWeight())
	assert.Equal(t, 1, budget.TotalTaskWeight())

	admin := cfg.GetProfile("admin")
	require.NotNil(t, admin)
	assert.Equal(t, 0, admin.EffectiveWeight())
	assert.Equal(t, 1, cfg.TotalWeight())

	// Defaults are idempotent and never overwrite an explicit zero.
	cfg.ApplyDefaults()
	assert.Equal(t, 0, cfg.GetProfile("admin").EffectiveWeight())
}

func TestLoadFromBytes_Retries(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
name: n
target: {baseURL: "http://x", retries: 2}
profiles: [{name: a, tasks: [{name: t, method: GET, path: /t}]}]`))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Target.Retries)
	assert.Equal(t, DefaultRetryDelay, cfg.Target.RetryDelay)
}

func TestParamConfig_Validate(t *testing.T) {
	assert.NoError(t, (&ParamConfig{Value: "x"}).Validate())
	assert.NoError(t, (&ParamConfig{Fixture: "ids"}).Validate())
	assert.NoError(t, (&ParamConfig{Generator: &GeneratorConfig{Type: "uuid"}}).Validate())
	assert.NoError(t, (&ParamConfig{Value: "x", Generator: &GeneratorConfig{Type: "bogus"}}).Validate())
	assert.Error(t, (&ParamConfig{}).Validate())
	assert.Error(t, (&ParamConfig{Generator: &GeneratorConfig{Type: "faker"}}).Validate())
	negative := -1
	assert.Error(t, (&ParamConfig{Generator: &GeneratorConfig{Type: "float", Max: 1, Precision: &negative}}).Validate())
}

func TestLoadFromBytes_InvalidYAML(t *testing.T) {
	_, err := LoadFromBytes([]byte("name: [unterminated"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadFromFile(t *testing.T) {
	t.Run("file not found", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorIs(t, err, ErrConfigNotFound)
	})

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cfg.yaml")
		content := `
name: file
target: {baseURL: "http://x"}
profiles: [{name: a, tasks: [{name: t, method: GET, path: /t}]}]`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "file", cfg.Name)
	})
}

func TestPathParamNames(t *testing.T) {
	assert.Equal(t, []string{"user_id"}, PathParamNames("/budget/transactions/summary/{user_id}"))
	assert.Equal(t, []string{"a", "b"}, PathParamNames("/x/{a}/y/{b}"))
	assert.Empty(t, PathParamNames("/health"))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FIN_USER", "johndoe")
	t.Setenv("FIN_PASS", "s3cret")

	cfg := &Config{Profiles: []ProfileConfig{
		{Name: "a", Login: &LoginConfig{Username: "${FIN_USER}", Password: "${FIN_PASS}"}},
		{Name: "b"},
	}}
	cfg.ExpandEnv()

	assert.Equal(t, "johndoe", cfg.Profiles[0].Login.Username)
	assert.Equal(t, "s3cret", cfg.Profiles[0].Login.Password)
}

func TestFilterProfiles(t *testing.T) {
	cfg := &Config{Profiles: []ProfileConfig{{Name: "a"}, {Name: "b"}, {Name: "c"}}}

	require.NoError(t, cfg.FilterProfiles([]string{"c", "a"}))
	require.Len(t, cfg.Profiles, 2)
	assert.Equal(t, "c", cfg.Profiles[0].Name)
	assert.Equal(t, "a", cfg.Profiles[1].Name)

	err := cfg.FilterProfiles([]string{"zzz"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	assert.NoError(t, cfg.FilterProfiles(nil))
}

func TestTotalWeight(t *testing.T) {
	cfg := &Config{Profiles: []ProfileConfig{
		{Name: "a", Weight: Weight(2)},
		{Name: "b", Weight: Weight(3)},
		{Name: "c", Weight: Weight(5), Disabled: true},
		{Name: "d"},
	}}
	assert.Equal(t, 6, cfg.TotalWeight())
	assert.Len(t, cfg.EnabledProfiles(), 3)
}

func TestProfile_EnabledTasks(t *testing.T) {
	p := ProfileConfig{Tasks: []TaskConfig{
		{Name: "a", Weight: Weight(3)},
		{Name: "b", Weight: Weight(1), Disabled: true},
	}}
	assert.Len(t, p.EnabledTasks(), 1)
	assert.Equal(t, 3, p.TotalTaskWeight())
}

func TestAuthMode_Valid(t *testing.T) {
	assert.True(t, AuthRequired.Valid())
	assert.True(t, AuthOptional.Valid())
	assert.True(t, AuthNone.Valid())
	assert.False(t, AuthMode("maybe").Valid())
}
