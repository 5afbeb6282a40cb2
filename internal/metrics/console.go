package metrics

import (
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// Console writes progress lines and the final statistics table.
//
// Thread Safety: Safe for concurrent use.
type Console struct {
	mu     sync.Mutex
	writer io.Writer
	config ConsoleConfig
}

// ConsoleConfig holds configuration for console output.
type ConsoleConfig struct {
	// Writer is the output destination. Default: os.Stdout
	Writer io.Writer

	// UseColors enables ANSI color codes.
	UseColors bool

	// TotalDuration is the planned run length, shown in progress lines when set.
	TotalDuration time.Duration

	// Verbose lists every failure reason in the final report. Otherwise only
	// the maxFailures most frequent are shown.
	Verbose bool
}

// maxFailures caps the failures table when the console is not verbose.
const maxFailures = 5

// ANSI color codes.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// Success rate thresholds for color coding.
const (
	successRateExcellent = 99.0
	successRateGood      = 95.0
)

// NewConsole creates a new console reporter.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	return &Console{writer: config.Writer, config: config}
}

func (c *Console) color(code string) string {
	if c.config.UseColors {
		return code
	}
	return ""
}

// PrintProgress writes one progress line.
func (c *Console) PrintProgress(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := formatDuration(s.Duration)
	if c.config.TotalDuration > 0 {
		elapsed += "/" + formatDuration(c.config.TotalDuration)
	}

	fmt.Fprintf(c.writer, "[%s] Requests: %d | QPS: %.1f | Success: %s%.1f%%%s | P95: %s | Users: %d",
		elapsed, s.TotalRequests, s.QPS,
		c.successRateColor(s.SuccessRate), s.SuccessRate, c.color(colorReset),
		formatLatency(s.P95Latency), s.ActiveUsers)
	if s.SkippedTasks > 0 {
		fmt.Fprintf(c.writer, " | Skipped: %d", s.SkippedTasks)
	}
	fmt.Fprintln(c.writer)
}

// PrintFinalReport writes the summary, the per-task table and the failure table.
func (c *Console) PrintFinalReport(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.writer
	bold, cyan, reset := c.color(colorBold), c.color(colorCyan), c.color(colorReset)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s╔══════════════════════════════════════════════════════════════╗%s\n", bold, reset)
	fmt.Fprintf(w, "%s║                   LOAD TEST FINAL REPORT                     ║%s\n", bold, reset)
	fmt.Fprintf(w, "%s╚══════════════════════════════════════════════════════════════╝%s\n", bold, reset)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s── Summary ───────────────────────────────────────────────────%s\n", cyan, reset)
	if !s.StartTime.IsZero() {
		fmt.Fprintf(w, "  Start Time:       %s\n", s.StartTime.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "  Duration:         %s\n", formatDuration(s.Duration))
	fmt.Fprintf(w, "  Logins:           %d ok, %d failed\n", s.LoginSuccess, s.LoginFailure)
	fmt.Fprintf(w, "  Requests:         %d (%d failed)\n", s.TotalRequests, s.FailedRequests)
	fmt.Fprintf(w, "  Skipped Tasks:    %d\n", s.SkippedTasks)
	fmt.Fprintf(w, "  Success Rate:     %s%.2f%%%s\n", c.successRateColor(s.SuccessRate), s.SuccessRate, reset)
	fmt.Fprintf(w, "  Throughput:       %.2f req/s\n", s.QPS)
	fmt.Fprintf(w, "  Data Received:    %s\n", formatBytes(s.TotalBytes))
	fmt.Fprintf(w, "  Latency:          min=%s avg=%s p50=%s p95=%s p99=%s max=%s\n",
		formatLatency(s.MinLatency), formatLatency(s.AvgLatency), formatLatency(s.P50Latency),
		formatLatency(s.P95Latency), formatLatency(s.P99Latency), formatLatency(s.MaxLatency))
	fmt.Fprintln(w)

	if len(s.StatusCodes) > 0 {
		codes := make([]int, 0, len(s.StatusCodes))
		for code := range s.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		parts := make([]string, 0, len(codes))
		for _, code := range codes {
			parts = append(parts, fmt.Sprintf("%s%d%s:%d", c.statusCodeColor(code), code, reset, s.StatusCodes[code]))
		}
		fmt.Fprintf(w, "  Status Codes:     %s\n\n", strings.Join(parts, " "))
	}

	tasks := s.SortedTasks()
	if len(tasks) > 0 {
		fmt.Fprintf(w, "%s── Tasks ─────────────────────────────────────────────────────%s\n", cyan, reset)
		fmt.Fprintf(w, "  %-6s %-32s %8s %8s %8s %9s %9s %9s %9s %8s\n",
			"Type", "Name", "# reqs", "# fails", "# skip", "Avg", "Min", "Max", "P95", "req/s")
		fmt.Fprintf(w, "  %s%s%s\n", c.color(colorDim), strings.Repeat("─", 112), reset)
		for _, t := range tasks {
			fmt.Fprintf(w, "  %-6s %-32s %8d %8d %8d %9s %9s %9s %9s %8.2f\n",
				t.Method, truncateName(t.Name, 32),
				t.TotalRequests, t.FailedRequests, t.SkippedTasks,
				formatLatency(t.AvgLatency), formatLatency(t.MinLatency),
				formatLatency(t.MaxLatency), formatLatency(t.P95Latency), t.QPS)
		}
		fmt.Fprintln(w)
	}

	if failures := collectFailures(tasks); len(failures) > 0 {
		shown := failures
		if !c.config.Verbose && len(shown) > maxFailures {
			shown = shown[:maxFailures]
		}
		fmt.Fprintf(w, "%s── Failures ──────────────────────────────────────────────────%s\n", cyan, reset)
		fmt.Fprintf(w, "  %8s  %-6s %-32s %s\n", "# occ", "Method", "Name", "Reason")
		for _, f := range shown {
			fmt.Fprintf(w, "  %8d  %-6s %-32s %s%s%s\n",
				f.Count, f.Method, truncateName(f.Task, 32), c.color(colorRed), f.Reason, reset)
		}
		if hidden := len(failures) - len(shown); hidden > 0 {
			fmt.Fprintf(w, "  ... and %d more (use -v to list all)\n", hidden)
		}
		fmt.Fprintln(w)
	}
}

// FailureEntry counts one failure reason for one task.
type FailureEntry struct {
	Task   string `json:"task"`
	Method string `json:"method"`
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// collectFailures flattens per-task failures, most frequent first.
func collectFailures(tasks []*TaskSnapshot) []FailureEntry {
	var out []FailureEntry
	for _, t := range tasks {
		for reason, count := range t.Failures {
			out = append(out, FailureEntry{Task: t.Name, Method: t.Method, Reason: reason, Count: count})
		}
	}
	slices.SortFunc(out, func(a, b FailureEntry) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Task+a.Reason, b.Task+b.Reason)
	})
	return out
}

func truncateName(name string, width int) string {
	if len(name) <= width {
		return name
	}
	return name[:width-3] + "..."
}

func (c *Console) successRateColor(rate float64) string {
	switch {
	case rate >= successRateExcellent:
		return c.color(colorGreen)
	case rate >= successRateGood:
		return c.color(colorYellow)
	default:
		return c.color(colorRed)
	}
}

func (c *Console) statusCodeColor(code int) string {
	switch {
	case code >= 200 && code < 300:
		return c.color(colorGreen)
	case code >= 400 && code < 500:
		return c.color(colorYellow)
	case code >= 500:
		return c.color(colorRed)
	default:
		return ""
	}
}

// formatLatency formats a duration for display.
func formatLatency(d time.Duration) string {
	switch {
	case d == 0:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1000)
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// formatBytes formats a byte count for display.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
