// Package main provides the CLI entry point for the load generator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/example/finance/tools/loadgen/internal/config"
	"github.com/example/finance/tools/loadgen/internal/contract"
	"github.com/example/finance/tools/loadgen/internal/generator"
	"github.com/example/finance/tools/loadgen/internal/logger"
	"github.com/example/finance/tools/loadgen/internal/runner"
	"github.com/example/finance/tools/loadgen/internal/scenario"
)

// Version information (populated at build time)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// DefaultTarget is used when neither -target, LOADGEN_TARGET nor a config file sets one.
const DefaultTarget = "http://localhost:8000"

// options holds the parsed command line.
type options struct {
	configPath     string
	target         string
	profiles       string
	profilesDir    string
	envFile        string
	users          int
	spawnRate      float64
	duration       time.Duration
	qps            float64
	retries        int
	verbose        bool
	list           bool
	validate       bool
	dryRun         bool
	showVersion    bool
	openapiPath    string
	openapiStrict  bool
	outputFormat   string
	outputFile     string
	prometheusAddr string
	logLevel       string
	logFormat      string
}

func newFlagSet(opts *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("loadgen", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// Configuration
	fs.StringVar(&opts.configPath, "config", "", "Path to the YAML configuration file")
	fs.StringVar(&opts.configPath, "c", "", "Path to the YAML configuration file (shorthand)")
	fs.StringVar(&opts.target, "target", "", "Base URL of the finance API")
	fs.StringVar(&opts.profiles, "profiles", "", "Comma-separated profile names to run")
	fs.StringVar(&opts.profilesDir, "profiles-dir", "", "Directory of extra profile YAML files")
	fs.StringVar(&opts.envFile, "env-file", "", "Path to a .env file (default: .env if present)")

	// Override flags
	fs.IntVar(&opts.users, "users", 0, "Override number of simulated users")
	fs.IntVar(&opts.users, "u", 0, "Override number of simulated users (shorthand)")
	fs.Float64Var(&opts.spawnRate, "spawn-rate", 0, "Override users started per second")
	fs.DurationVar(&opts.duration, "duration", 0, "Override test duration (e.g., 5m, 1h)")
	fs.DurationVar(&opts.duration, "d", 0, "Override test duration (shorthand)")
	fs.Float64Var(&opts.qps, "qps", 0, "Cap total requests per second across all users")
	fs.IntVar(&opts.retries, "retries", 0, "Resend a request up to n times after a transport error or 5xx")

	// Utility flags
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable verbose output")
	fs.BoolVar(&opts.verbose, "v", false, "Enable verbose output (shorthand)")
	fs.BoolVar(&opts.list, "list", false, "List profiles and their tasks")
	fs.BoolVar(&opts.list, "l", false, "List profiles and their tasks (shorthand)")
	fs.BoolVar(&opts.validate, "validate", false, "Validate configuration and exit")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Show execution plan without running")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")

	// Contract check
	fs.StringVar(&opts.openapiPath, "openapi", "", "OpenAPI document (file or URL) to check tasks against")
	fs.BoolVar(&opts.openapiStrict, "openapi-strict", false, "Exit with an error when the OpenAPI check finds mismatches")

	// Output flags
	fs.StringVar(&opts.outputFormat, "output", "", "Output format: console, json, or console,json (enables JSON report)")
	fs.StringVar(&opts.outputFile, "output-file", "", "JSON output file path (overrides config, supports {{.Timestamp}})")
	fs.StringVar(&opts.prometheusAddr, "prometheus", "", "Prometheus metrics endpoint (e.g., :9090 or localhost:9090)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&opts.logFormat, "log-format", "", "Log format: console or json")

	fs.Usage = func() { printUsage(stderr) }
	return fs
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Load Generator - Finance API Load Testing Tool

USAGE:
    loadgen [options]                   (built-in profiles)
    loadgen -config <path> [options]

DESCRIPTION:
    Simulates users of the finance API. Each user logs in once, then repeatedly
    picks a weighted random task, sends one request and pauses 1-3 seconds.
    Unexpected status codes are logged and counted; the run always continues.

CONFIGURATION:
    -config, -c <path>    Path to the YAML configuration file
    -target <url>         Base URL of the API (default: $LOADGEN_TARGET or http://localhost:8000)
    -profiles <names>     Comma-separated profiles (finance, admin, budget, predictions, profile, user-auth)
    -profiles-dir <dir>   Load extra profile files (*.yaml) into the built-in set
    -env-file <path>      Load environment variables from a .env file

OVERRIDE OPTIONS:
    -users, -u <n>        Number of simulated users
    -spawn-rate <n>       Users started per second
    -duration, -d <dur>   Test duration (e.g., "5m", "1h30m")
    -qps <n>              Cap total requests per second
    -retries <n>          Retry transport errors and 5xx responses up to n times

UTILITY OPTIONS:
    -list, -l             List profiles and tasks
    -validate             Validate configuration and exit
    -dry-run              Show execution plan without running
    -openapi <file|url>   Check tasks against the API's OpenAPI document
    -openapi-strict       Fail when the OpenAPI check finds mismatches
    -verbose, -v          Enable verbose output
    -version              Show version information
    -help, -h             Show this help message

OUTPUT OPTIONS:
    -output <format>      Output format: console, json, or console,json
    -output-file <path>   JSON output file (supports {{.Timestamp}} template)
    -prometheus <addr>    Enable Prometheus metrics endpoint (e.g., :9090)
    -log-level <level>    debug, info, warn, error
    -log-format <format>  console or json

EXAMPLES:
    # Run every built-in profile against a local API
    loadgen -target http://localhost:8000 -users 20 -spawn-rate 2 -duration 5m

    # Only budget users, with a JSON report
    loadgen -profiles budget -users 10 -output json

    # Run from a configuration file
    loadgen -config configs/finance.yaml

    # Check the configured tasks against the API's OpenAPI document
    loadgen -config configs/finance.yaml -openapi http://localhost:8000/openapi.json -validate

    # Dry run to see execution plan
    loadgen -profiles budget,profile -dry-run -v
`)
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := newFlagSet(&opts, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if opts.showVersion {
		printVersion(stdout)
		return 0
	}

	if err := loadEnv(opts.envFile); err != nil {
		fmt.Fprintf(stderr, "Error loading env file: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %v\n", err)
		return 1
	}

	applyOverrides(cfg, opts, stdout)
	cfg.ExpandEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return 1
	}
	if err := generator.CheckConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	if opts.openapiPath != "" {
		if err := checkContract(ctx, cfg, opts, stdout); err != nil {
			fmt.Fprintf(stderr, "OpenAPI check failed: %v\n", err)
			return 1
		}
	}

	if opts.validate {
		fmt.Fprintf(stdout, "Configuration '%s' is valid.\n", cfg.Name)
		printConfigSummary(stdout, cfg)
		return 0
	}

	if opts.list {
		printProfileList(stdout, cfg, opts.verbose)
		return 0
	}

	if opts.dryRun {
		printExecutionPlan(stdout, cfg, opts.verbose)
		return 0
	}

	if err := runLoadTest(ctx, cfg, stdout); err != nil {
		fmt.Fprintf(stderr, "Error running load test: %v\n", err)
		return 1
	}
	return 0
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "loadgen version %s\n", version)
	fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// loadEnv loads path, or ./.env when path is empty and the file exists.
// Variables already set in the environment win.
func loadEnv(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

func loadConfig(opts options) (*config.Config, error) {
	names := splitList(opts.profiles)

	if opts.configPath != "" {
		cfg, err := config.LoadFromFile(opts.configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.FilterProfiles(names); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	registry := scenario.NewRegistry()
	if err := registry.LoadFromDirectory(opts.profilesDir); err != nil {
		return nil, err
	}
	return registry.Config(DefaultTarget, names...)
}

func applyOverrides(cfg *config.Config, opts options, w io.Writer) {
	if opts.target != "" {
		cfg.Target.BaseURL = opts.target
	} else if env := os.Getenv("LOADGEN_TARGET"); env != "" && opts.configPath == "" {
		cfg.Target.BaseURL = env
	}
	if opts.verbose {
		fmt.Fprintf(w, "Target: %s\n", cfg.Target.BaseURL)
	}

	if opts.users > 0 {
		cfg.Users = opts.users
		if opts.spawnRate == 0 && cfg.SpawnRate > float64(opts.users) {
			cfg.SpawnRate = float64(opts.users)
		}
		if opts.verbose {
			fmt.Fprintf(w, "Override: users = %d\n", opts.users)
		}
	}

	if opts.spawnRate > 0 {
		cfg.SpawnRate = opts.spawnRate
		if opts.verbose {
			fmt.Fprintf(w, "Override: spawn rate = %.1f/s\n", opts.spawnRate)
		}
	}

	if opts.duration > 0 {
		cfg.Duration = opts.duration
		if opts.verbose {
			fmt.Fprintf(w, "Override: duration = %v\n", opts.duration)
		}
	}

	if opts.qps > 0 {
		cfg.RateLimiter.QPS = opts.qps
		if opts.verbose {
			fmt.Fprintf(w, "Override: qps = %.1f\n", opts.qps)
		}
	}

	if opts.retries > 0 {
		cfg.Target.Retries = opts.retries
		if opts.verbose {
			fmt.Fprintf(w, "Override: retries = %d\n", opts.retries)
		}
	}

	if opts.verbose {
		cfg.Output.Verbose = true
	}

	if opts.outputFormat != "" && strings.Contains(strings.ToLower(opts.outputFormat), "json") {
		cfg.Output.JSON.Enabled = true
		if opts.verbose {
			fmt.Fprintf(w, "Override: output format = %s (JSON enabled)\n", opts.outputFormat)
		}
	}

	if opts.outputFile != "" {
		cfg.Output.JSON.Enabled = true
		cfg.Output.JSON.File = opts.outputFile
		if opts.verbose {
			fmt.Fprintf(w, "Override: output file = %s\n", opts.outputFile)
		}
	}

	if opts.prometheusAddr != "" {
		cfg.Output.Prometheus.Enabled = true
		if port := parsePrometheusPort(opts.prometheusAddr); port > 0 {
			cfg.Output.Prometheus.Port = port
		}
		if opts.verbose {
			fmt.Fprintf(w, "Override: Prometheus enabled on port %d\n", cfg.Output.Prometheus.Port)
		}
	}

	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
}

// parsePrometheusPort extracts port from address string.
// Supports formats: :9090, localhost:9090, 9090
// Returns 0 for invalid ports (including out of range 1-65535).
func parsePrometheusPort(addr string) int {
	addr = strings.TrimSpace(addr)
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		addr = addr[i+1:]
	}

	var port int
	if _, err := fmt.Sscanf(addr, "%d", &port); err != nil {
		return 0
	}
	if port <= 0 || port > 65535 {
		return 0
	}
	return port
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func checkContract(ctx context.Context, cfg *config.Config, opts options, w io.Writer) error {
	checker, err := contract.Load(ctx, opts.openapiPath)
	if err != nil {
		return err
	}
	report := checker.Check(ctx, cfg)

	fmt.Fprintf(w, "OpenAPI check against '%s' (v%s): %d operations checked, %d finding(s)\n",
		report.Title, report.Version, report.Checked, len(report.Findings))
	if report.ValidationError != nil {
		fmt.Fprintf(w, "  warning: document does not validate: %v\n", report.ValidationError)
	}
	for _, f := range report.Findings {
		fmt.Fprintf(w, "  - %s\n", f)
	}

	if opts.openapiStrict {
		return report.Err()
	}
	return nil
}

func printConfigSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration Summary:")
	fmt.Fprintf(w, "  Name:        %s\n", cfg.Name)
	fmt.Fprintf(w, "  Version:     %s\n", cfg.Version)
	fmt.Fprintf(w, "  Target:      %s\n", cfg.Target.BaseURL)
	fmt.Fprintf(w, "  Duration:    %v\n", cfg.Duration)
	fmt.Fprintf(w, "  Users:       %d\n", cfg.Users)
	fmt.Fprintf(w, "  Spawn Rate:  %.1f/s\n", cfg.SpawnRate)
	fmt.Fprintf(w, "  Profiles:    %d\n", len(cfg.EnabledProfiles()))
	if cfg.RateLimiter.Enabled() {
		fmt.Fprintf(w, "  QPS Cap:     %.1f\n", cfg.RateLimiter.QPS)
	}
	if cfg.Target.Retries > 0 {
		fmt.Fprintf(w, "  Retries:     %d (first delay %v)\n", cfg.Target.Retries, cfg.Target.RetryDelay)
	}
}

func authLabel(mode config.AuthMode) string {
	switch mode {
	case config.AuthNone:
		return "NOAUTH"
	case config.AuthOptional:
		return "OPTAUTH"
	default:
		return "AUTH"
	}
}

func printProfileList(w io.Writer, cfg *config.Config, verbose bool) {
	fmt.Fprintf(w, "Profiles in '%s' (%d total):\n", cfg.Name, len(cfg.Profiles))
	fmt.Fprintln(w)

	for _, p := range cfg.Profiles {
		status := ""
		if p.Disabled {
			status = " [DISABLED]"
		}
		login := "no login"
		if p.Login != nil {
			login = "login as " + p.Login.Username
		}
		fmt.Fprintf(w, "== %s (w:%d, %s)%s ==\n", strings.ToUpper(p.Name), p.EffectiveWeight(), login, status)

		for _, t := range p.Tasks {
			status := ""
			if t.Disabled {
				status = " [DISABLED]"
			}
			fmt.Fprintf(w, "  %-6s %-45s w:%-3d %s%s\n", t.Method, t.Path, t.EffectiveWeight(), authLabel(t.Auth), status)
			if verbose && len(t.ExpectedStatus) > 0 {
				fmt.Fprintf(w, "         expect: %v\n", t.ExpectedStatus)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  Total Weight: %d\n", cfg.TotalWeight())
	fmt.Fprintf(w, "  Enabled:      %d\n", len(cfg.EnabledProfiles()))
}

func printExecutionPlan(w io.Writer, cfg *config.Config, verbose bool) {
	fmt.Fprintln(w, "=== Execution Plan (Dry Run) ===")
	fmt.Fprintln(w)

	printConfigSummary(w, cfg)

	totalWeight := cfg.TotalWeight()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "User Distribution:")
	for _, p := range cfg.EnabledProfiles() {
		share := float64(p.EffectiveWeight()) / float64(totalWeight) * 100
		fmt.Fprintf(w, "  %-20s %5.1f%%  (~%.1f users, wait %v-%v)\n",
			p.Name, share, share/100*float64(cfg.Users), p.WaitTime.Min, p.WaitTime.Max)

		type taskWeight struct {
			name   string
			weight int
		}
		tasks := make([]taskWeight, 0, len(p.Tasks))
		for _, t := range p.EnabledTasks() {
			tasks = append(tasks, taskWeight{t.Name, t.EffectiveWeight()})
		}
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].weight > tasks[j].weight
		})

		shown := len(tasks)
		if !verbose {
			shown = min(5, shown)
		}
		taskTotal := p.TotalTaskWeight()
		for i := range shown {
			pct := float64(tasks[i].weight) / float64(taskTotal) * 100
			fmt.Fprintf(w, "      %-40s w:%-3d (%.1f%%)\n", tasks[i].name, tasks[i].weight, pct)
		}
		if len(tasks) > shown {
			fmt.Fprintf(w, "      ... and %d more tasks\n", len(tasks)-shown)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Ready to execute. Remove -dry-run flag to start the load test.")
}

func runLoadTest(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	r, err := runner.New(cfg,
		runner.WithLogger(log),
		runner.WithOutput(stdout),
		runner.WithVersion(version))
	if err != nil {
		return err
	}

	snapshot, err := r.Run(ctx)
	if err != nil {
		return err
	}
	log.Info("load test finished",
		zap.Int64("requests", snapshot.TotalRequests),
		zap.Int64("failed", snapshot.FailedRequests),
		zap.Int64("skipped", snapshot.SkippedTasks))
	return nil
}
