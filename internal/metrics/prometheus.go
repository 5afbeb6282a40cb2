package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Prometheus metric names.
const (
	MetricRequestsTotal          = "loadgen_requests_total"
	MetricRequestDurationSeconds = "loadgen_request_duration_seconds"
	MetricActiveUsers            = "loadgen_active_users"
	MetricLoginsTotal            = "loadgen_logins_total"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// PrometheusExporter exposes run metrics on an HTTP endpoint.
// It implements Recorder.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type PrometheusExporter struct {
	mu     sync.RWMutex
	config PrometheusExporterConfig

	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeUsers     prometheus.Gauge
	loginsTotal     *prometheus.CounterVec

	server    *http.Server
	ln        net.Listener
	running   bool
	lastError error
}

// PrometheusExporterConfig holds configuration for the Prometheus exporter.
type PrometheusExporterConfig struct {
	// Port is the HTTP port; 0 picks a free port.
	Port int

	// Path is the URL path for the metrics endpoint.
	// Default: /metrics
	Path string

	// HistogramBuckets are the request duration buckets in seconds.
	// Default: prometheus.DefBuckets
	HistogramBuckets []float64
}

// NewPrometheusExporter creates an exporter with its own registry.
func NewPrometheusExporter(config PrometheusExporterConfig) *PrometheusExporter {
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if len(config.HistogramBuckets) == 0 {
		config.HistogramBuckets = prometheus.DefBuckets
	}

	e := &PrometheusExporter{
		config:   config,
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRequestsTotal,
			Help: "Task executions by task, HTTP status and outcome.",
		}, []string{"task", "status", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricRequestDurationSeconds,
			Help:    "Duration of requests sent by simulated users, in seconds.",
			Buckets: config.HistogramBuckets,
		}, []string{"task"}),
		activeUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricActiveUsers,
			Help: "Number of running simulated users.",
		}),
		loginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricLoginsTotal,
			Help: "Login attempts by profile and outcome.",
		}, []string{"profile", "outcome"}),
	}

	e.registry.MustRegister(e.requestsTotal, e.requestDuration, e.activeUsers, e.loginsTotal)
	return e
}

// Start starts the HTTP server for the metrics endpoint.
func (e *PrometheusExporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", e.config.Port))
	if err != nil {
		return fmt.Errorf("starting Prometheus exporter: %w", err)
	}
	e.ln = ln

	mux := http.NewServeMux()
	mux.Handle(e.config.Path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	e.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.mu.Lock()
			e.lastError = err
			e.mu.Unlock()
		}
	}()

	e.running = true
	return nil
}

// Stop shuts the HTTP server down.
func (e *PrometheusExporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false
	return e.server.Shutdown(ctx)
}

// Record implements Recorder.
func (e *PrometheusExporter) Record(result Result) {
	outcome := OutcomeSuccess
	switch {
	case result.Skipped:
		outcome = OutcomeSkipped
	case !result.Success:
		outcome = OutcomeFailure
	}

	status := "0"
	if result.StatusCode > 0 {
		status = strconv.Itoa(result.StatusCode)
	}
	e.requestsTotal.WithLabelValues(result.Task, status, outcome).Inc()

	if !result.Skipped {
		e.requestDuration.WithLabelValues(result.Task).Observe(result.Latency.Seconds())
	}
}

// RecordLogin implements Recorder.
func (e *PrometheusExporter) RecordLogin(profile string, success bool) {
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeFailure
	}
	e.loginsTotal.WithLabelValues(profile, outcome).Inc()
}

// SetActiveUsers implements Recorder.
func (e *PrometheusExporter) SetActiveUsers(n int) {
	e.activeUsers.Set(float64(n))
}

// Address returns the metrics URL; it is only meaningful after Start.
func (e *PrometheusExporter) Address() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	port := e.config.Port
	if e.ln != nil {
		port = e.ln.Addr().(*net.TCPAddr).Port
	}
	return fmt.Sprintf("http://localhost:%d%s", port, e.config.Path)
}

// IsRunning returns whether the exporter is serving.
func (e *PrometheusExporter) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// LastError returns the last error from the HTTP server, if any.
func (e *PrometheusExporter) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastError
}

// Gather collects all metric families from the registry.
func (e *PrometheusExporter) Gather() ([]*dto.MetricFamily, error) {
	return e.registry.Gather()
}
