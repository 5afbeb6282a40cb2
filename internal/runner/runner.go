// Package runner provides the main load test runner that orchestrates all components.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/finance/tools/loadgen/internal/client"
	"github.com/example/finance/tools/loadgen/internal/config"
	"github.com/example/finance/tools/loadgen/internal/generator"
	"github.com/example/finance/tools/loadgen/internal/loadctrl"
	"github.com/example/finance/tools/loadgen/internal/metrics"
	"github.com/example/finance/tools/loadgen/internal/selector"
	"github.com/example/finance/tools/loadgen/internal/user"
)

// DefaultReportFile is used when JSON output is enabled without a file name.
const DefaultReportFile = "loadgen-report-{{.Timestamp}}.json"

// ErrAlreadyRunning is returned when Run is called on a running Runner.
var ErrAlreadyRunning = errors.New("runner: already running")

// Runner spawns simulated users and collects their results.
type Runner struct {
	cfg       *config.Config
	client    *client.Client
	resolver  *generator.Resolver
	collector *metrics.Collector
	exporter  *metrics.PrometheusExporter
	recorder  metrics.Recorder
	limiter   loadctrl.RateLimiter
	console   *metrics.Console
	reporter  *metrics.Reporter
	profiles  *selector.Weighted[config.ProfileConfig]

	log           *zap.Logger
	out           io.Writer
	version       string
	runID         string
	userOpts      []user.Option
	handleSignals bool

	running     atomic.Bool
	activeUsers atomic.Int64
	spawned     atomic.Int64
	wg          sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runner) {
		r.log = log
	}
}

// WithOutput sets where the banner, progress and final report are written.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) {
		r.out = w
	}
}

// WithVersion sets the version recorded in the JSON report.
func WithVersion(version string) Option {
	return func(r *Runner) {
		r.version = version
	}
}

// WithUserOptions passes options to every spawned user.
func WithUserOptions(opts ...user.Option) Option {
	return func(r *Runner) {
		r.userOpts = append(r.userOpts, opts...)
	}
}

// WithoutSignalHandling stops Run from reacting to SIGINT and SIGTERM.
func WithoutSignalHandling() Option {
	return func(r *Runner) {
		r.handleSignals = false
	}
}

// New creates a new load test runner.
func New(cfg *config.Config, opts ...Option) (*Runner, error) {
	r := &Runner{
		cfg:           cfg,
		log:           zap.NewNop(),
		out:           os.Stdout,
		handleSignals: true,
		runID:         uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Named("runner").With(zap.String("run_id", r.runID))

	if err := generator.CheckConfig(cfg); err != nil {
		return nil, err
	}

	var clientOpts []client.Option
	if cfg.Target.Retries > 0 {
		clientOpts = append(clientOpts, client.WithRetry(client.RetryConfig{
			MaxRetries: cfg.Target.Retries,
			RetryDelay: cfg.Target.RetryDelay,
		}))
	}
	httpClient, err := client.NewClient(cfg.Target, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP client: %w", err)
	}
	r.client = httpClient

	profiles, err := selector.NewWeighted(cfg.EnabledProfiles(),
		func(p config.ProfileConfig) int { return p.EffectiveWeight() })
	if err != nil {
		return nil, fmt.Errorf("selecting profiles: %w", err)
	}
	r.profiles = profiles

	r.resolver = generator.NewResolver(cfg.Fixtures)
	r.collector = metrics.NewCollector(metrics.DefaultCollectorConfig())
	r.limiter = loadctrl.New(cfg.RateLimiter)
	r.console = metrics.NewConsole(metrics.ConsoleConfig{
		Writer:        r.out,
		UseColors:     isTerminal(r.out),
		TotalDuration: cfg.Duration,
		Verbose:       cfg.Output.Verbose,
	})
	r.reporter = metrics.NewReporter(r.version)

	if cfg.Output.Prometheus.Enabled {
		r.exporter = metrics.NewPrometheusExporter(metrics.PrometheusExporterConfig{
			Port: cfg.Output.Prometheus.Port,
			Path: cfg.Output.Prometheus.Path,
		})
		r.recorder = metrics.Tee(r.collector, r.exporter)
	} else {
		r.recorder = r.collector
	}

	return r, nil
}

// RunID returns the identifier of this run.
func (r *Runner) RunID() string {
	return r.runID
}

// Run executes the load test until the configured duration elapses, ctx is
// cancelled or a termination signal arrives. Target failures never make Run
// fail; the returned snapshot carries them.
func (r *Runner) Run(ctx context.Context) (metrics.Snapshot, error) {
	if r.running.Swap(true) {
		return metrics.Snapshot{}, ErrAlreadyRunning
	}
	defer r.running.Store(false)
	defer r.client.Close()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Duration)
	defer cancel()

	var sigCh chan os.Signal
	if r.handleSignals {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	if r.exporter != nil {
		if err := r.exporter.Start(); err != nil {
			return metrics.Snapshot{}, err
		}
		defer r.stopExporter()
		r.log.Info("prometheus exporter started", zap.String("address", r.exporter.Address()))
	}

	r.printBanner()
	r.collector.Start()
	r.log.Info("load test started",
		zap.Int("users", r.cfg.Users),
		zap.Float64("spawn_rate", r.cfg.SpawnRate),
		zap.Duration("duration", r.cfg.Duration))

	var bg sync.WaitGroup
	bg.Add(2)
	go func() {
		defer bg.Done()
		r.spawnUsers(ctx)
	}()
	go func() {
		defer bg.Done()
		r.runProgressReporter(ctx)
	}()

	select {
	case <-ctx.Done():
		r.log.Info("test duration reached")
	case sig := <-sigCh:
		r.log.Info("received signal, stopping", zap.String("signal", sig.String()))
		cancel()
	}

	bg.Wait()
	r.wg.Wait()
	r.collector.Stop()

	snapshot := r.collector.Snapshot()
	r.console.PrintFinalReport(snapshot)
	r.printLimiterStats()

	if r.cfg.Output.JSON.Enabled {
		r.writeReport(snapshot)
	}
	return snapshot, nil
}

// spawnUsers starts cfg.Users users at cfg.SpawnRate users per second.
func (r *Runner) spawnUsers(ctx context.Context) {
	interval := time.Duration(0)
	if r.cfg.SpawnRate > 0 {
		interval = time.Duration(float64(time.Second) / r.cfg.SpawnRate)
	}

	for i := 0; i < r.cfg.Users; i++ {
		if i > 0 && interval > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return
		}

		if err := r.spawnUser(ctx); err != nil {
			r.log.Error("spawning user", zap.Error(err))
		}
	}
	r.log.Info("all users spawned", zap.Int64("users", r.spawned.Load()))
}

func (r *Runner) spawnUser(ctx context.Context) error {
	profile, err := r.profiles.Select()
	if err != nil {
		return err
	}

	opts := []user.Option{user.WithLimiter(r.limiter)}
	opts = append(opts, r.userOpts...)

	u, err := user.New(uuid.NewString(), profile, r.client, r.resolver, r.recorder, r.log.Named("user"), opts...)
	if err != nil {
		return fmt.Errorf("profile %s: %w", profile.Name, err)
	}

	r.spawned.Add(1)
	r.recorder.SetActiveUsers(int(r.activeUsers.Add(1)))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.recorder.SetActiveUsers(int(r.activeUsers.Add(-1)))
		}()
		u.Run(ctx)
	}()
	return nil
}

// runProgressReporter reports progress periodically.
func (r *Runner) runProgressReporter(ctx context.Context) {
	if r.cfg.Output.ReportInterval <= 0 {
		return
	}
	ticker := time.NewTicker(r.cfg.Output.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.console.PrintProgress(r.collector.Snapshot())
		}
	}
}

func (r *Runner) writeReport(snapshot metrics.Snapshot) {
	profiles := make([]string, 0, len(r.cfg.Profiles))
	for _, p := range r.cfg.EnabledProfiles() {
		profiles = append(profiles, p.Name)
	}

	report := r.reporter.GenerateReport(snapshot, metrics.ReportOptions{
		RunID:             r.runID,
		ConfigName:        r.cfg.Name,
		ConfigDescription: r.cfg.Description,
		TargetBaseURL:     r.cfg.Target.BaseURL,
		TestDuration:      r.cfg.Duration,
		Users:             r.cfg.Users,
		SpawnRate:         r.cfg.SpawnRate,
		Profiles:          profiles,
		RateLimitQPS:      r.cfg.RateLimiter.QPS,
	})

	file := r.cfg.Output.JSON.File
	if file == "" {
		file = DefaultReportFile
	}
	path, err := r.reporter.WriteToFile(report, file)
	if err != nil {
		r.log.Error("writing JSON report", zap.Error(err))
		return
	}
	fmt.Fprintf(r.out, "JSON report written to %s\n", path)
}

func (r *Runner) stopExporter() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.exporter.Stop(ctx); err != nil {
		r.log.Warn("stopping prometheus exporter", zap.Error(err))
	}
}

// printBanner prints the test banner.
func (r *Runner) printBanner() {
	w := r.out
	fmt.Fprintln(w, "╔════════════════════════════════════════════════════════════╗")
	fmt.Fprintf(w, "║  Load Generator: %-42s ║\n", truncate(r.cfg.Name, 42))
	fmt.Fprintln(w, "╠════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Target:    %-48s ║\n", truncate(r.cfg.Target.BaseURL, 48))
	fmt.Fprintf(w, "║  Duration:  %-48s ║\n", r.cfg.Duration)
	fmt.Fprintf(w, "║  Users:     %-48s ║\n", fmt.Sprintf("%d (%.1f/s)", r.cfg.Users, r.cfg.SpawnRate))
	fmt.Fprintf(w, "║  Profiles:  %-48d ║\n", len(r.cfg.EnabledProfiles()))
	if r.limiter != nil {
		fmt.Fprintf(w, "║  QPS Cap:   %-48s ║\n",
			fmt.Sprintf("%.1f (burst %d)", r.limiter.CurrentRate(), r.limiter.BurstSize()))
	}
	if r.cfg.Target.Retries > 0 {
		fmt.Fprintf(w, "║  Retries:   %-48d ║\n", r.cfg.Target.Retries)
	}
	fmt.Fprintln(w, "╚════════════════════════════════════════════════════════════╝")
}

// printLimiterStats reports how long requests waited on the QPS cap.
func (r *Runner) printLimiterStats() {
	if r.limiter == nil {
		return
	}
	stats := r.limiter.Stats()
	fmt.Fprintf(r.out, "Rate limiter: %d requests admitted at %.1f QPS, wait avg=%s max=%s\n",
		stats.TotalAcquired, stats.CurrentQPS,
		stats.AvgWaitTime.Round(time.Microsecond), stats.MaxWaitTime.Round(time.Microsecond))
	r.log.Info("rate limiter stats",
		zap.Int64("acquired", stats.TotalAcquired),
		zap.Duration("avg_wait", stats.AvgWaitTime),
		zap.Duration("max_wait", stats.MaxWaitTime))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// truncate truncates a string to max length.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
