package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporter_GenerateReport(t *testing.T) {
	r := NewReporter("1.2.3")
	report := r.GenerateReport(sampleSnapshot(), ReportOptions{
		RunID:         "run-1",
		ConfigName:    "finance",
		TargetBaseURL: "http://localhost:8000",
		TestDuration:  time.Minute,
		Users:         10,
		SpawnRate:     2,
		Profiles:      []string{"finance"},
	})

	assert.Equal(t, "1.2.3", report.Metadata.Version)
	assert.Equal(t, "run-1", report.Metadata.RunID)
	assert.Equal(t, "loadgen", report.Metadata.Generator)
	assert.Equal(t, 10, report.Configuration.Users)
	assert.Equal(t, int64(2), report.Summary.TotalRequests)
	assert.Equal(t, int64(1), report.Summary.SkippedTasks)
	assert.Equal(t, int64(1), report.Summary.LoginSuccess)
	assert.Equal(t, map[string]int64{"200": 1, "422": 1}, report.StatusCodes)
	assert.Len(t, report.Tasks, 3)
	assert.Len(t, report.Failures, 2)
}

func TestNewReporter_DefaultVersion(t *testing.T) {
	assert.Equal(t, "dev", NewReporter("").version)
}

func TestReporter_WriteToFile(t *testing.T) {
	r := NewReporter("1.0.0")
	report := r.GenerateReport(sampleSnapshot(), ReportOptions{ConfigName: "finance"})

	path := filepath.Join(t.TempDir(), "reports", "run-{{.Timestamp}}.json")
	written, err := r.WriteToFile(report, path)
	require.NoError(t, err)
	assert.NotContains(t, written, "{{")
	assert.True(t, strings.HasPrefix(filepath.Base(written), "run-"))

	data, err := os.ReadFile(written)
	require.NoError(t, err)

	var decoded JSONReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "finance", decoded.Configuration.Name)
	assert.Equal(t, report.Summary.TotalRequests, decoded.Summary.TotalRequests)
}

func TestExpandPathTemplate(t *testing.T) {
	now := time.Date(2025, 5, 10, 8, 30, 15, 0, time.UTC)
	assert.Equal(t, "report-20250510-083015.json", expandPathTemplate("report-{{.Timestamp}}.json", now))
	assert.Equal(t, "plain.json", expandPathTemplate("plain.json", now))
}

func TestDuration_JSON(t *testing.T) {
	data, err := json.Marshal(Duration{90 * time.Second})
	require.NoError(t, err)
	assert.JSONEq(t, `{"seconds":90,"display":"1m30s"}`, string(data))

	var d Duration
	require.NoError(t, json.Unmarshal(data, &d))
	assert.Equal(t, 90*time.Second, d.Duration)
}
