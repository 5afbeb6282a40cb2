// Package config provides configuration structures for the load generator.
// The main Config struct ties together the target, the user profiles and
// the reporting outputs.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/example/finance/tools/loadgen/internal/loadctrl"
	"github.com/example/finance/tools/loadgen/internal/logger"
	"gopkg.in/yaml.v3"
)

// Errors returned by the config package.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("config: invalid configuration")
	// ErrConfigNotFound is returned when the config file is not found.
	ErrConfigNotFound = errors.New("config: configuration file not found")
)

// AuthMode controls how a task treats the session token.
type AuthMode string

const (
	// AuthRequired sends the bearer token and skips the task when there is none.
	AuthRequired AuthMode = "required"
	// AuthOptional sends the bearer token only if the session has one.
	AuthOptional AuthMode = "optional"
	// AuthNone never sends an Authorization header.
	AuthNone AuthMode = "none"
)

// Valid reports whether m is a known auth mode.
func (m AuthMode) Valid() bool {
	switch m {
	case AuthRequired, AuthOptional, AuthNone:
		return true
	}
	return false
}

// Default values.
const (
	DefaultDuration       = 5 * time.Minute
	DefaultTimeout        = 30 * time.Second
	DefaultWaitMin        = 1 * time.Second
	DefaultWaitMax        = 3 * time.Second
	DefaultReportInterval = 10 * time.Second
	DefaultLoginEndpoint  = "/auth/login"
	DefaultPrometheusPort = 9090
	DefaultRetryDelay     = 500 * time.Millisecond
)

// DefaultTokenFields lists the login response fields probed for the token.
var DefaultTokenFields = []string{"token", "access_token"}

// Config is the root configuration structure for the load generator.
type Config struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name" json:"name"`

	// Description provides additional context about the configuration.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Version is the configuration schema version.
	Version string `yaml:"version" json:"version"`

	// Target describes the service under test.
	Target TargetConfig `yaml:"target" json:"target"`

	// Duration is the total duration of the load test.
	// Default: 5m
	Duration time.Duration `yaml:"duration" json:"duration"`

	// Users is the number of concurrent virtual users.
	// Default: 1
	Users int `yaml:"users" json:"users"`

	// SpawnRate is how many users are started per second.
	// Default: Users (all at once within the first second)
	SpawnRate float64 `yaml:"spawnRate,omitempty" json:"spawnRate,omitempty"`

	// Profiles are the user classes; each spawned user runs one of them.
	Profiles []ProfileConfig `yaml:"profiles" json:"profiles"`

	// Fixtures are named static lists used as randomized request inputs.
	Fixtures map[string][]string `yaml:"fixtures,omitempty" json:"fixtures,omitempty"`

	// RateLimiter optionally caps the request rate across all users.
	RateLimiter loadctrl.RateLimiterConfig `yaml:"rateLimiter,omitempty" json:"rateLimiter,omitempty"`

	// Log configures structured logging.
	Log logger.Config `yaml:"log,omitempty" json:"log,omitempty"`

	// Output configures output and reporting.
	Output OutputConfig `yaml:"output,omitempty" json:"output,omitempty"`
}

// TargetConfig holds target system configuration.
type TargetConfig struct {
	// BaseURL is the base URL of the target system (e.g., "http://localhost:8000").
	BaseURL string `yaml:"baseURL" json:"baseURL"`

	// Timeout is the request timeout.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// TLSSkipVerify skips TLS certificate verification (for testing only).
	TLSSkipVerify bool `yaml:"tlsSkipVerify,omitempty" json:"tlsSkipVerify,omitempty"`

	// Headers are additional headers to include in all requests.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Retries is how many times a request is resent after a transport error
	// or a 5xx response. Default: 0
	Retries int `yaml:"retries,omitempty" json:"retries,omitempty"`

	// RetryDelay is the first backoff delay; it doubles on every retry.
	// Default: 500ms
	RetryDelay time.Duration `yaml:"retryDelay,omitempty" json:"retryDelay,omitempty"`
}

// ProfileConfig describes one class of simulated user.
type ProfileConfig struct {
	// Name identifies the profile (e.g., "budget").
	Name string `yaml:"name" json:"name"`

	// Description provides context about the profile.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Weight is the relative share of users that run this profile. An
	// explicit 0 keeps the profile configured but never spawns it.
	// Default: 1
	Weight *int `yaml:"weight,omitempty" json:"weight,omitempty"`

	// WaitTime is the pause between two tasks of the same user.
	WaitTime WaitTimeConfig `yaml:"waitTime,omitempty" json:"waitTime,omitempty"`

	// Login is performed once when the user starts. Nil means no login.
	Login *LoginConfig `yaml:"login,omitempty" json:"login,omitempty"`

	// Tasks are the weighted actions the user picks from.
	Tasks []TaskConfig `yaml:"tasks" json:"tasks"`

	// Disabled excludes the profile from the run.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// WaitTimeConfig is a uniform wait range.
type WaitTimeConfig struct {
	// Min is the minimum pause. Default: 1s
	Min time.Duration `yaml:"min" json:"min"`
	// Max is the maximum pause. Default: 3s
	Max time.Duration `yaml:"max" json:"max"`
}

// LoginConfig configures the session login.
type LoginConfig struct {
	// Endpoint is the login endpoint path.
	// Default: "/auth/login"
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// Method is the HTTP method.
	// Default: "POST"
	Method string `yaml:"method,omitempty" json:"method,omitempty"`

	// Username is the login username. ${VAR} references are expanded.
	Username string `yaml:"username" json:"username"`

	// Password is the login password. ${VAR} references are expanded.
	Password string `yaml:"password" json:"-"`

	// TokenFields are response fields probed in order for the token.
	// Dotted paths such as "data.access_token" are allowed.
	// Default: ["token", "access_token"]
	TokenFields []string `yaml:"tokenFields,omitempty" json:"tokenFields,omitempty"`
}

// TaskConfig configures a single weighted action.
type TaskConfig struct {
	// Name identifies the task in logs and statistics (e.g., "/budget/predictions").
	Name string `yaml:"name" json:"name"`

	// Method is the HTTP method.
	Method string `yaml:"method" json:"method"`

	// Path is the URL path; {param} placeholders are filled from PathParams.
	Path string `yaml:"path" json:"path"`

	// Weight is the relative frequency of this task. An explicit 0 keeps
	// the task out of selection.
	// Default: 1
	Weight *int `yaml:"weight,omitempty" json:"weight,omitempty"`

	// Auth controls bearer token handling.
	// Default: "required"
	Auth AuthMode `yaml:"auth,omitempty" json:"auth,omitempty"`

	// Query are the query string parameters.
	Query map[string]ParamConfig `yaml:"query,omitempty" json:"query,omitempty"`

	// PathParams fill {param} placeholders in Path.
	PathParams map[string]ParamConfig `yaml:"pathParams,omitempty" json:"pathParams,omitempty"`

	// Body is a static JSON body.
	Body map[string]any `yaml:"body,omitempty" json:"body,omitempty"`

	// BodyParams are generated body fields, merged over Body.
	BodyParams map[string]ParamConfig `yaml:"bodyParams,omitempty" json:"bodyParams,omitempty"`

	// Headers are additional headers for this task.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// ExpectedStatus lists the status codes that count as success.
	// Default: [200]
	ExpectedStatus []int `yaml:"expectedStatus,omitempty" json:"expectedStatus,omitempty"`

	// Disabled excludes the task from selection.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// ParamConfig configures a single request input. Exactly one source is used:
// Value, then Fixture, then Generator.
type ParamConfig struct {
	// Value is a static value.
	Value string `yaml:"value,omitempty" json:"value,omitempty"`

	// Fixture names a list in Config.Fixtures to pick from at random.
	Fixture string `yaml:"fixture,omitempty" json:"fixture,omitempty"`

	// Generator generates the value.
	Generator *GeneratorConfig `yaml:"generator,omitempty" json:"generator,omitempty"`
}

// GeneratorConfig configures a data generator.
type GeneratorConfig struct {
	// Type is one of "faker", "float", "int", "uuid", "date", "choice".
	Type string `yaml:"type" json:"type"`

	// Faker is the gofakeit function name for the faker type (e.g., "company").
	Faker string `yaml:"faker,omitempty" json:"faker,omitempty"`

	// Min and Max bound numeric generators.
	Min float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max float64 `yaml:"max,omitempty" json:"max,omitempty"`

	// Precision is the number of decimals kept by the float generator.
	// Default: 2
	Precision *int `yaml:"precision,omitempty" json:"precision,omitempty"`

	// Choices are the candidates for the choice generator.
	Choices []string `yaml:"choices,omitempty" json:"choices,omitempty"`

	// Layout is the time layout for the date generator.
	// Default: "2006-01-02"
	Layout string `yaml:"layout,omitempty" json:"layout,omitempty"`
}

// OutputConfig configures output and reporting.
type OutputConfig struct {
	// ReportInterval is how often to print progress lines.
	// Default: 10s
	ReportInterval time.Duration `yaml:"reportInterval,omitempty" json:"reportInterval,omitempty"`

	// Verbose lists every failure reason in the final report instead of
	// the most frequent ones.
	Verbose bool `yaml:"verbose,omitempty" json:"verbose,omitempty"`

	// JSON configures the JSON report file.
	JSON JSONOutputConfig `yaml:"json,omitempty" json:"json,omitempty"`

	// Prometheus configures the metrics endpoint.
	Prometheus PrometheusOutputConfig `yaml:"prometheus,omitempty" json:"prometheus,omitempty"`
}

// JSONOutputConfig configures the JSON report.
type JSONOutputConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// File is the report path; {{.Timestamp}} is replaced by the run start time.
	File string `yaml:"file,omitempty" json:"file,omitempty"`
}

// PrometheusOutputConfig configures the Prometheus exporter.
type PrometheusOutputConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port,omitempty" json:"port,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var pathParamPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// PathParamNames returns the {param} names found in path, in order.
func PathParamNames(path string) []string {
	matches := pathParamPattern.FindAllStringSubmatch(path, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if c.Target.BaseURL == "" {
		return fmt.Errorf("%w: target.baseURL is required", ErrInvalidConfig)
	}
	if c.Users < 0 {
		return fmt.Errorf("%w: users must be non-negative", ErrInvalidConfig)
	}
	if c.SpawnRate < 0 {
		return fmt.Errorf("%w: spawnRate must be non-negative", ErrInvalidConfig)
	}
	if c.RateLimiter.QPS < 0 {
		return fmt.Errorf("%w: rateLimiter.qps must be non-negative", ErrInvalidConfig)
	}
	if c.Target.Retries < 0 || c.Target.RetryDelay < 0 {
		return fmt.Errorf("%w: target.retries and target.retryDelay must be non-negative", ErrInvalidConfig)
	}
	if len(c.EnabledProfiles()) == 0 {
		return fmt.Errorf("%w: at least one enabled profile is required", ErrInvalidConfig)
	}

	profileNames := make(map[string]bool)
	for i := range c.Profiles {
		p := &c.Profiles[i]
		if p.Name == "" {
			return fmt.Errorf("%w: profiles[%d].name is required", ErrInvalidConfig, i)
		}
		if profileNames[p.Name] {
			return fmt.Errorf("%w: duplicate profile name: %s", ErrInvalidConfig, p.Name)
		}
		profileNames[p.Name] = true

		if err := c.validateProfile(p); err != nil {
			return err
		}
	}

	if c.TotalWeight() == 0 {
		return fmt.Errorf("%w: total profile weight must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) validateProfile(p *ProfileConfig) error {
	if p.EffectiveWeight() < 0 {
		return fmt.Errorf("%w: profile %s: weight must be non-negative", ErrInvalidConfig, p.Name)
	}
	if p.WaitTime.Min < 0 || p.WaitTime.Max < 0 {
		return fmt.Errorf("%w: profile %s: waitTime must be non-negative", ErrInvalidConfig, p.Name)
	}
	if p.WaitTime.Min > p.WaitTime.Max {
		return fmt.Errorf("%w: profile %s: waitTime.min must be <= waitTime.max", ErrInvalidConfig, p.Name)
	}
	if len(p.Tasks) == 0 {
		return fmt.Errorf("%w: profile %s: at least one task is required", ErrInvalidConfig, p.Name)
	}
	if p.Login != nil && p.Login.Username == "" {
		return fmt.Errorf("%w: profile %s: login.username is required", ErrInvalidConfig, p.Name)
	}

	taskNames := make(map[string]bool)
	for i := range p.Tasks {
		t := &p.Tasks[i]
		if t.Name == "" {
			return fmt.Errorf("%w: profile %s: tasks[%d].name is required", ErrInvalidConfig, p.Name, i)
		}
		if taskNames[t.Name] {
			return fmt.Errorf("%w: profile %s: duplicate task name: %s", ErrInvalidConfig, p.Name, t.Name)
		}
		taskNames[t.Name] = true

		if err := c.validateTask(p.Name, t); err != nil {
			return err
		}
	}

	if p.TotalTaskWeight() == 0 {
		return fmt.Errorf("%w: profile %s: total task weight must be positive", ErrInvalidConfig, p.Name)
	}
	return nil
}

func (c *Config) validateTask(profile string, t *TaskConfig) error {
	prefix := fmt.Sprintf("profile %s: task %s", profile, t.Name)

	if t.Method == "" {
		return fmt.Errorf("%w: %s: method is required", ErrInvalidConfig, prefix)
	}
	if !validMethod(t.Method) {
		return fmt.Errorf("%w: %s: unsupported method %q", ErrInvalidConfig, prefix, t.Method)
	}
	if t.Path == "" || !strings.HasPrefix(t.Path, "/") {
		return fmt.Errorf("%w: %s: path must start with /", ErrInvalidConfig, prefix)
	}
	if t.EffectiveWeight() < 0 {
		return fmt.Errorf("%w: %s: weight must be non-negative", ErrInvalidConfig, prefix)
	}
	if !t.Auth.Valid() {
		return fmt.Errorf("%w: %s: unknown auth mode %q", ErrInvalidConfig, prefix, t.Auth)
	}
	for _, code := range t.ExpectedStatus {
		if code < 100 || code > 599 {
			return fmt.Errorf("%w: %s: invalid expected status %d", ErrInvalidConfig, prefix, code)
		}
	}

	for _, name := range PathParamNames(t.Path) {
		if _, ok := t.PathParams[name]; !ok {
			return fmt.Errorf("%w: %s: missing pathParams entry for {%s}", ErrInvalidConfig, prefix, name)
		}
	}

	params := make(map[string]ParamConfig)
	for k, v := range t.Query {
		params["query."+k] = v
	}
	for k, v := range t.PathParams {
		params["pathParams."+k] = v
	}
	for k, v := range t.BodyParams {
		params["bodyParams."+k] = v
	}
	for key, p := range params {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %s: %v", ErrInvalidConfig, prefix, key, err)
		}
		if p.Fixture != "" {
			if _, ok := c.Fixtures[p.Fixture]; !ok {
				return fmt.Errorf("%w: %s: %s references unknown fixture %q", ErrInvalidConfig, prefix, key, p.Fixture)
			}
			if len(c.Fixtures[p.Fixture]) == 0 {
				return fmt.Errorf("%w: %s: fixture %q is empty", ErrInvalidConfig, prefix, p.Fixture)
			}
		}
	}
	return nil
}

// Validate checks that the parameter has a source and that its generator,
// if it is the source used, is well formed.
func (p *ParamConfig) Validate() error {
	switch {
	case p.Value != "", p.Fixture != "":
		return nil
	case p.Generator != nil:
		return p.Generator.Validate()
	default:
		return errors.New("one of value, fixture or generator is required")
	}
}

// Validate checks the generator type and its arguments. Faker function
// names are checked when the generator is built.
func (g *GeneratorConfig) Validate() error {
	switch g.Type {
	case "faker":
		if g.Faker == "" {
			return errors.New("faker generator needs a faker function name")
		}
	case "float", "int":
		if g.Min > g.Max {
			return fmt.Errorf("%s min %v > max %v", g.Type, g.Min, g.Max)
		}
		if g.Precision != nil && *g.Precision < 0 {
			return fmt.Errorf("negative precision %d", *g.Precision)
		}
	case "uuid", "date":
	case "choice":
		if len(g.Choices) == 0 {
			return errors.New("choice generator needs at least one choice")
		}
	case "":
		return errors.New("generator type is required")
	default:
		return fmt.Errorf("unknown generator type %q", g.Type)
	}
	return nil
}

func validMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead:
		return true
	}
	return false
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Duration == 0 {
		c.Duration = DefaultDuration
	}
	if c.Users == 0 {
		c.Users = 1
	}
	if c.SpawnRate == 0 {
		c.SpawnRate = float64(c.Users)
	}
	if c.Target.Timeout == 0 {
		c.Target.Timeout = DefaultTimeout
	}
	if c.Target.Retries > 0 && c.Target.RetryDelay == 0 {
		c.Target.RetryDelay = DefaultRetryDelay
	}
	c.Target.BaseURL = strings.TrimRight(c.Target.BaseURL, "/")

	for i := range c.Profiles {
		c.Profiles[i].ApplyDefaults()
	}

	c.Log.ApplyDefaults()

	if c.Output.ReportInterval == 0 {
		c.Output.ReportInterval = DefaultReportInterval
	}
	if c.Output.Prometheus.Port == 0 {
		c.Output.Prometheus.Port = DefaultPrometheusPort
	}
	if c.Output.Prometheus.Path == "" {
		c.Output.Prometheus.Path = "/metrics"
	}
}

// ApplyDefaults applies default values to the profile and its tasks.
func (p *ProfileConfig) ApplyDefaults() {
	if p.Weight == nil {
		p.Weight = Weight(1)
	}
	if p.WaitTime.Min == 0 && p.WaitTime.Max == 0 {
		p.WaitTime.Min = DefaultWaitMin
		p.WaitTime.Max = DefaultWaitMax
	}
	if p.Login != nil {
		if p.Login.Endpoint == "" {
			p.Login.Endpoint = DefaultLoginEndpoint
		}
		if p.Login.Method == "" {
			p.Login.Method = http.MethodPost
		}
		if len(p.Login.TokenFields) == 0 {
			p.Login.TokenFields = slices.Clone(DefaultTokenFields)
		}
	}
	for i := range p.Tasks {
		t := &p.Tasks[i]
		t.Method = strings.ToUpper(t.Method)
		if t.Weight == nil {
			t.Weight = Weight(1)
		}
		if t.Auth == "" {
			t.Auth = AuthRequired
		}
		if len(t.ExpectedStatus) == 0 {
			t.ExpectedStatus = []int{http.StatusOK}
		}
	}
}

// ExpandEnv expands ${VAR} references in login credentials.
func (c *Config) ExpandEnv() {
	for i := range c.Profiles {
		if l := c.Profiles[i].Login; l != nil {
			l.Username = os.ExpandEnv(l.Username)
			l.Password = os.ExpandEnv(l.Password)
		}
	}
}

// EnabledProfiles returns all non-disabled profiles.
func (c *Config) EnabledProfiles() []ProfileConfig {
	var enabled []ProfileConfig
	for _, p := range c.Profiles {
		if !p.Disabled {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

// GetProfile returns a profile by name.
func (c *Config) GetProfile(name string) *ProfileConfig {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i]
		}
	}
	return nil
}

// FilterProfiles keeps only the named profiles. Unknown names are reported.
func (c *Config) FilterProfiles(names []string) error {
	if len(names) == 0 {
		return nil
	}
	var kept []ProfileConfig
	for _, name := range names {
		p := c.GetProfile(name)
		if p == nil {
			return fmt.Errorf("%w: unknown profile %q", ErrInvalidConfig, name)
		}
		kept = append(kept, *p)
	}
	c.Profiles = kept
	return nil
}

// TotalWeight returns the sum of all enabled profile weights.
func (c *Config) TotalWeight() int {
	total := 0
	for _, p := range c.Profiles {
		if !p.Disabled {
			total += p.EffectiveWeight()
		}
	}
	return total
}

// Weight returns a pointer to w for use in ProfileConfig and TaskConfig.
func Weight(w int) *int {
	return &w
}

// EffectiveWeight returns the profile weight, 1 when unset.
func (p *ProfileConfig) EffectiveWeight() int {
	if p.Weight == nil {
		return 1
	}
	return *p.Weight
}

// EnabledTasks returns all non-disabled tasks.
func (p *ProfileConfig) EnabledTasks() []TaskConfig {
	var enabled []TaskConfig
	for _, t := range p.Tasks {
		if !t.Disabled {
			enabled = append(enabled, t)
		}
	}
	return enabled
}

// TotalTaskWeight returns the sum of all enabled task weights.
func (p *ProfileConfig) TotalTaskWeight() int {
	total := 0
	for _, t := range p.Tasks {
		if !t.Disabled {
			total += t.EffectiveWeight()
		}
	}
	return total
}

// EffectiveWeight returns the task weight, 1 when unset.
func (t *TaskConfig) EffectiveWeight() int {
	if t.Weight == nil {
		return 1
	}
	return *t.Weight
}

// IsExpected reports whether status counts as success for the task.
func (t *TaskConfig) IsExpected(status int) bool {
	return slices.Contains(t.ExpectedStatus, status)
}
