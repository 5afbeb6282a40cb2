package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// JSONReport is the machine-readable result of a run.
type JSONReport struct {
	Metadata      ReportMetadata      `json:"metadata"`
	Configuration ReportConfiguration `json:"configuration"`
	Summary       ReportSummary       `json:"summary"`
	Tasks         []TaskReport        `json:"tasks"`
	StatusCodes   map[string]int64    `json:"statusCodes"`
	Failures      []FailureEntry      `json:"failures,omitempty"`
}

// ReportMetadata contains metadata about the report.
type ReportMetadata struct {
	Version     string    `json:"version"`
	RunID       string    `json:"runId,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
	Generator   string    `json:"generator"`
}

// ReportConfiguration captures the run configuration.
type ReportConfiguration struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	TargetBaseURL string   `json:"targetBaseURL"`
	Duration      Duration `json:"duration"`
	Users         int      `json:"users"`
	SpawnRate     float64  `json:"spawnRate"`
	Profiles      []string `json:"profiles"`
	RateLimitQPS  float64  `json:"rateLimitQPS,omitempty"`
}

// Duration wraps time.Duration for JSON serialization.
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler for Duration.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"seconds": d.Seconds(),
		"display": formatDuration(d.Duration),
	})
}

// UnmarshalJSON implements json.Unmarshaler for Duration.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if seconds, ok := obj["seconds"].(float64); ok {
		d.Duration = time.Duration(seconds * float64(time.Second))
	}
	return nil
}

// ReportSummary contains overall run statistics.
type ReportSummary struct {
	StartTime       time.Time    `json:"startTime"`
	EndTime         time.Time    `json:"endTime"`
	Duration        Duration     `json:"duration"`
	TotalRequests   int64        `json:"totalRequests"`
	SuccessRequests int64        `json:"successRequests"`
	FailedRequests  int64        `json:"failedRequests"`
	SkippedTasks    int64        `json:"skippedTasks"`
	LoginSuccess    int64        `json:"loginSuccess"`
	LoginFailure    int64        `json:"loginFailure"`
	TotalBytes      int64        `json:"totalBytes"`
	SuccessRate     float64      `json:"successRate"`
	QPS             float64      `json:"qps"`
	Latency         LatencyStats `json:"latency"`
}

// LatencyStats contains latency statistics in milliseconds.
type LatencyStats struct {
	MinMs float64 `json:"minMs"`
	AvgMs float64 `json:"avgMs"`
	P50Ms float64 `json:"p50Ms"`
	P95Ms float64 `json:"p95Ms"`
	P99Ms float64 `json:"p99Ms"`
	MaxMs float64 `json:"maxMs"`
}

// TaskReport contains statistics for a single task.
type TaskReport struct {
	Name            string       `json:"name"`
	Method          string       `json:"method"`
	Path            string       `json:"path"`
	TotalRequests   int64        `json:"totalRequests"`
	SuccessRequests int64        `json:"successRequests"`
	FailedRequests  int64        `json:"failedRequests"`
	SkippedTasks    int64        `json:"skippedTasks"`
	SuccessRate     float64      `json:"successRate"`
	QPS             float64      `json:"qps"`
	Latency         LatencyStats `json:"latency"`
}

// ReportOptions carries run metadata that the snapshot does not hold.
type ReportOptions struct {
	RunID             string
	ConfigName        string
	ConfigDescription string
	TargetBaseURL     string
	TestDuration      time.Duration
	Users             int
	SpawnRate         float64
	Profiles          []string
	RateLimitQPS      float64
}

// Reporter generates JSON reports from run metrics.
type Reporter struct {
	version string
}

// NewReporter creates a new Reporter.
func NewReporter(version string) *Reporter {
	if version == "" {
		version = "dev"
	}
	return &Reporter{version: version}
}

// GenerateReport creates a JSON report from a metrics snapshot.
func (r *Reporter) GenerateReport(s Snapshot, opts ReportOptions) *JSONReport {
	report := &JSONReport{
		Metadata: ReportMetadata{
			Version:     r.version,
			RunID:       opts.RunID,
			GeneratedAt: time.Now().UTC(),
			Generator:   "loadgen",
		},
		Configuration: ReportConfiguration{
			Name:          opts.ConfigName,
			Description:   opts.ConfigDescription,
			TargetBaseURL: opts.TargetBaseURL,
			Duration:      Duration{opts.TestDuration},
			Users:         opts.Users,
			SpawnRate:     opts.SpawnRate,
			Profiles:      opts.Profiles,
			RateLimitQPS:  opts.RateLimitQPS,
		},
		Summary: ReportSummary{
			StartTime:       s.StartTime,
			EndTime:         s.EndTime,
			Duration:        Duration{s.Duration},
			TotalRequests:   s.TotalRequests,
			SuccessRequests: s.SuccessRequests,
			FailedRequests:  s.FailedRequests,
			SkippedTasks:    s.SkippedTasks,
			LoginSuccess:    s.LoginSuccess,
			LoginFailure:    s.LoginFailure,
			TotalBytes:      s.TotalBytes,
			SuccessRate:     s.SuccessRate,
			QPS:             s.QPS,
			Latency: latencyStats(latencySummary{
				min: s.MinLatency, avg: s.AvgLatency, p50: s.P50Latency,
				p95: s.P95Latency, p99: s.P99Latency, max: s.MaxLatency,
			}),
		},
		StatusCodes: make(map[string]int64, len(s.StatusCodes)),
	}

	for code, count := range s.StatusCodes {
		report.StatusCodes[strconv.Itoa(code)] = count
	}

	tasks := s.SortedTasks()
	report.Tasks = make([]TaskReport, 0, len(tasks))
	for _, t := range tasks {
		report.Tasks = append(report.Tasks, TaskReport{
			Name:            t.Name,
			Method:          t.Method,
			Path:            t.Path,
			TotalRequests:   t.TotalRequests,
			SuccessRequests: t.SuccessRequests,
			FailedRequests:  t.FailedRequests,
			SkippedTasks:    t.SkippedTasks,
			SuccessRate:     t.SuccessRate,
			QPS:             t.QPS,
			Latency: latencyStats(latencySummary{
				min: t.MinLatency, avg: t.AvgLatency, p50: t.P50Latency,
				p95: t.P95Latency, p99: t.P99Latency, max: t.MaxLatency,
			}),
		})
	}
	report.Failures = collectFailures(tasks)

	return report
}

func latencyStats(l latencySummary) LatencyStats {
	ms := func(d time.Duration) float64 { return float64(d.Nanoseconds()) / 1e6 }
	return LatencyStats{
		MinMs: ms(l.min),
		AvgMs: ms(l.avg),
		P50Ms: ms(l.p50),
		P95Ms: ms(l.p95),
		P99Ms: ms(l.p99),
		MaxMs: ms(l.max),
	}
}

// ToJSON serializes the report with indentation.
func (r *Reporter) ToJSON(report *JSONReport) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

// WriteToFile writes the report to path and returns the expanded path.
// {{.Timestamp}} in path is replaced with the current time (YYYYMMDD-HHMMSS).
func (r *Reporter) WriteToFile(report *JSONReport, path string) (string, error) {
	path = expandPathTemplate(path, time.Now())

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating report directory: %w", err)
		}
	}

	data, err := r.ToJSON(report)
	if err != nil {
		return "", fmt.Errorf("marshaling report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

func expandPathTemplate(path string, now time.Time) string {
	return strings.ReplaceAll(path, "{{.Timestamp}}", now.Format("20060102-150405"))
}
