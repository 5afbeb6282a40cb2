// Package metrics collects per-task request statistics for a load test run
// and reports them on the console, as JSON and to Prometheus.
package metrics

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Recorder receives the outcome of every simulated user action.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Recorder interface {
	// Record records one task execution, including skipped ones.
	Record(result Result)

	// RecordLogin records one login attempt for a profile.
	RecordLogin(profile string, success bool)

	// SetActiveUsers reports the number of running simulated users.
	SetActiveUsers(n int)
}

// Tee fans every call out to all non-nil recorders.
func Tee(recorders ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multiRecorder []Recorder

func (m multiRecorder) Record(result Result) {
	for _, r := range m {
		r.Record(result)
	}
}

func (m multiRecorder) RecordLogin(profile string, success bool) {
	for _, r := range m {
		r.RecordLogin(profile, success)
	}
}

func (m multiRecorder) SetActiveUsers(n int) {
	for _, r := range m {
		r.SetActiveUsers(n)
	}
}

// Result is the outcome of one task execution.
type Result struct {
	Task         string
	Profile      string
	Method       string
	Path         string
	StatusCode   int
	Latency      time.Duration
	Success      bool
	ResponseSize int64
	Timestamp    time.Time
	Error        error

	// Skipped marks a task that was never sent, either because it needed a
	// token the user does not have or because its request could not be
	// built. Skipped results carry no status or latency.
	Skipped bool
}

// FailureReason returns a short description of why the result failed.
func (r Result) FailureReason() string {
	switch {
	case r.Skipped && r.Error != nil:
		return "skipped: " + r.Error.Error()
	case r.Skipped:
		return "skipped: no valid token"
	case r.Error != nil:
		return r.Error.Error()
	case r.StatusCode > 0:
		return fmt.Sprintf("HTTP %d", r.StatusCode)
	default:
		return "unknown"
	}
}

// Collector aggregates results into run-wide and per-task statistics.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	endTime   time.Time

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	skippedTasks    atomic.Int64
	totalBytes      atomic.Int64
	loginSuccess    atomic.Int64
	loginFailure    atomic.Int64
	activeUsers     atomic.Int64

	// latencies keeps a sliding window of the most recent samples.
	latencies    []int64
	latencyMu    sync.Mutex
	maxLatencies int

	statsMu     sync.Mutex
	taskStats   map[string]*taskStats
	statusCodes map[int]int64
}

// CollectorConfig holds configuration for the metrics collector.
type CollectorConfig struct {
	// MaxLatencies bounds the samples kept for run-wide percentiles.
	// Default: 100000
	MaxLatencies int
}

const (
	defaultMaxLatencies     = 100000
	defaultTaskMaxLatencies = 10000
)

// DefaultCollectorConfig returns default configuration.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{MaxLatencies: defaultMaxLatencies}
}

type taskStats struct {
	name           string
	method         string
	path           string
	total          int64
	success        int64
	failed         int64
	skipped        int64
	totalLatencyNs int64
	minLatency     time.Duration
	maxLatency     time.Duration
	totalBytes     int64
	latencies      []int64
	failures       map[string]int64
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	SkippedTasks    int64
	TotalBytes      int64

	LoginSuccess int64
	LoginFailure int64
	ActiveUsers  int

	MinLatency time.Duration
	AvgLatency time.Duration
	P50Latency time.Duration
	P95Latency time.Duration
	P99Latency time.Duration
	MaxLatency time.Duration

	// SuccessRate is a percentage of sent requests (0.0 - 100.0).
	SuccessRate float64
	QPS         float64

	StatusCodes map[int]int64
	TaskStats   map[string]*TaskSnapshot
}

// TaskSnapshot holds statistics for a single task.
type TaskSnapshot struct {
	Name            string
	Method          string
	Path            string
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	SkippedTasks    int64
	TotalBytes      int64
	MinLatency      time.Duration
	AvgLatency      time.Duration
	P50Latency      time.Duration
	P95Latency      time.Duration
	P99Latency      time.Duration
	MaxLatency      time.Duration
	SuccessRate     float64
	QPS             float64

	// Failures counts failed or skipped executions by reason.
	Failures map[string]int64
}

// SortedTasks returns task snapshots ordered by request count, then name.
func (s Snapshot) SortedTasks() []*TaskSnapshot {
	tasks := slices.Collect(maps.Values(s.TaskStats))
	slices.SortFunc(tasks, func(a, b *TaskSnapshot) int {
		if a.TotalRequests != b.TotalRequests {
			if a.TotalRequests > b.TotalRequests {
				return -1
			}
			return 1
		}
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return tasks
}

// NewCollector creates a new metrics collector.
func NewCollector(config CollectorConfig) *Collector {
	if config.MaxLatencies <= 0 {
		config.MaxLatencies = defaultMaxLatencies
	}
	return &Collector{
		latencies:    make([]int64, 0, min(config.MaxLatencies, 1024)),
		maxLatencies: config.MaxLatencies,
		taskStats:    make(map[string]*taskStats),
		statusCodes:  make(map[int]int64),
	}
}

// Start marks the beginning of metrics collection.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
	c.endTime = time.Time{}
}

// Stop marks the end of metrics collection.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endTime = time.Now()
}

// Record records a task result.
func (c *Collector) Record(result Result) {
	if result.Skipped {
		c.skippedTasks.Add(1)
	} else {
		c.totalRequests.Add(1)
		if result.Success {
			c.successRequests.Add(1)
		} else {
			c.failedRequests.Add(1)
		}
		c.totalBytes.Add(result.ResponseSize)
		c.recordLatency(result.Latency.Nanoseconds())
	}

	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	if result.StatusCode > 0 {
		c.statusCodes[result.StatusCode]++
	}
	if result.Task != "" {
		c.recordTask(result)
	}
}

// RecordLogin records a login attempt.
func (c *Collector) RecordLogin(_ string, success bool) {
	if success {
		c.loginSuccess.Add(1)
	} else {
		c.loginFailure.Add(1)
	}
}

// SetActiveUsers records the number of running users.
func (c *Collector) SetActiveUsers(n int) {
	c.activeUsers.Store(int64(n))
}

// recordLatency appends a sample; when the window is full the older half is dropped.
func (c *Collector) recordLatency(latencyNs int64) {
	c.latencyMu.Lock()
	defer c.latencyMu.Unlock()

	if len(c.latencies) >= c.maxLatencies {
		keep := c.maxLatencies / 2
		c.latencies = append(c.latencies[:0], c.latencies[len(c.latencies)-keep:]...)
	}
	c.latencies = append(c.latencies, latencyNs)
}

// recordTask must be called with statsMu held.
func (c *Collector) recordTask(result Result) {
	stats, ok := c.taskStats[result.Task]
	if !ok {
		stats = &taskStats{
			name:     result.Task,
			method:   result.Method,
			path:     result.Path,
			failures: make(map[string]int64),
		}
		c.taskStats[result.Task] = stats
	}

	if result.Skipped {
		stats.skipped++
		stats.failures[result.FailureReason()]++
		return
	}

	stats.total++
	if result.Success {
		stats.success++
	} else {
		stats.failed++
		stats.failures[result.FailureReason()]++
	}
	stats.totalBytes += result.ResponseSize
	stats.totalLatencyNs += result.Latency.Nanoseconds()
	if stats.minLatency == 0 || result.Latency < stats.minLatency {
		stats.minLatency = result.Latency
	}
	if result.Latency > stats.maxLatency {
		stats.maxLatency = result.Latency
	}

	if len(stats.latencies) >= defaultTaskMaxLatencies {
		keep := defaultTaskMaxLatencies / 2
		stats.latencies = append(stats.latencies[:0], stats.latencies[len(stats.latencies)-keep:]...)
	}
	stats.latencies = append(stats.latencies, result.Latency.Nanoseconds())
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	duration := c.Duration()
	c.mu.RLock()
	startTime, endTime := c.startTime, c.endTime
	c.mu.RUnlock()

	snap := Snapshot{
		StartTime:       startTime,
		EndTime:         endTime,
		Duration:        duration,
		TotalRequests:   c.totalRequests.Load(),
		SuccessRequests: c.successRequests.Load(),
		FailedRequests:  c.failedRequests.Load(),
		SkippedTasks:    c.skippedTasks.Load(),
		TotalBytes:      c.totalBytes.Load(),
		LoginSuccess:    c.loginSuccess.Load(),
		LoginFailure:    c.loginFailure.Load(),
		ActiveUsers:     int(c.activeUsers.Load()),
	}

	c.latencyMu.Lock()
	samples := slices.Clone(c.latencies)
	c.latencyMu.Unlock()
	lat := computeLatencies(samples)
	snap.MinLatency, snap.AvgLatency, snap.MaxLatency = lat.min, lat.avg, lat.max
	snap.P50Latency, snap.P95Latency, snap.P99Latency = lat.p50, lat.p95, lat.p99

	if snap.TotalRequests > 0 {
		snap.SuccessRate = float64(snap.SuccessRequests) / float64(snap.TotalRequests) * 100
	}
	if duration > 0 {
		snap.QPS = float64(snap.TotalRequests) / duration.Seconds()
	}

	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	snap.StatusCodes = maps.Clone(c.statusCodes)
	snap.TaskStats = make(map[string]*TaskSnapshot, len(c.taskStats))
	for name, stats := range c.taskStats {
		snap.TaskStats[name] = stats.snapshot(duration)
	}
	return snap
}

func (s *taskStats) snapshot(duration time.Duration) *TaskSnapshot {
	ts := &TaskSnapshot{
		Name:            s.name,
		Method:          s.method,
		Path:            s.path,
		TotalRequests:   s.total,
		SuccessRequests: s.success,
		FailedRequests:  s.failed,
		SkippedTasks:    s.skipped,
		TotalBytes:      s.totalBytes,
		MinLatency:      s.minLatency,
		MaxLatency:      s.maxLatency,
		Failures:        maps.Clone(s.failures),
	}
	if s.total > 0 {
		ts.AvgLatency = time.Duration(s.totalLatencyNs / s.total)
		ts.SuccessRate = float64(s.success) / float64(s.total) * 100
	}
	if duration > 0 {
		ts.QPS = float64(s.total) / duration.Seconds()
	}
	lat := computeLatencies(slices.Clone(s.latencies))
	ts.P50Latency, ts.P95Latency, ts.P99Latency = lat.p50, lat.p95, lat.p99
	return ts
}

type latencySummary struct {
	min, avg, p50, p95, p99, max time.Duration
}

// computeLatencies sorts samples in place.
func computeLatencies(samples []int64) latencySummary {
	n := len(samples)
	if n == 0 {
		return latencySummary{}
	}
	slices.Sort(samples)

	var sum int64
	for _, v := range samples {
		sum += v
	}
	return latencySummary{
		min: time.Duration(samples[0]),
		avg: time.Duration(sum / int64(n)),
		p50: time.Duration(samples[percentileIndex(n, 0.50)]),
		p95: time.Duration(samples[percentileIndex(n, 0.95)]),
		p99: time.Duration(samples[percentileIndex(n, 0.99)]),
		max: time.Duration(samples[n-1]),
	}
}

func percentileIndex(n int, percentile float64) int {
	idx := int(float64(n) * percentile)
	return max(0, min(idx, n-1))
}

// TotalRequests returns the number of requests sent so far.
func (c *Collector) TotalRequests() int64 {
	return c.totalRequests.Load()
}

// SuccessRate returns the current success rate (0.0 - 100.0).
func (c *Collector) SuccessRate() float64 {
	total := c.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return float64(c.successRequests.Load()) / float64(total) * 100
}

// Duration returns the elapsed collection time.
func (c *Collector) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.startTime.IsZero():
		return 0
	case c.endTime.IsZero():
		return time.Since(c.startTime)
	default:
		return c.endTime.Sub(c.startTime)
	}
}
