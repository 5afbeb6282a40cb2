package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(t *testing.T, families []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}

func labels(m *dto.Metric) map[string]string {
	out := map[string]string{}
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func TestPrometheusExporter_Record(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{})

	e.Record(okResult("/health", 10*time.Millisecond))
	e.Record(okResult("/health", 20*time.Millisecond))
	e.Record(Result{Task: "/budget/add", StatusCode: 500, Latency: time.Millisecond})
	e.Record(Result{Task: "/budget/goals", Skipped: true})

	families, err := e.Gather()
	require.NoError(t, err)

	requests := findFamily(t, families, MetricRequestsTotal)
	got := map[string]float64{}
	for _, m := range requests.GetMetric() {
		l := labels(m)
		got[l["task"]+"|"+l["status"]+"|"+l["outcome"]] = m.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{
		"/health|200|success":     2,
		"/budget/add|500|failure": 1,
		"/budget/goals|0|skipped": 1,
	}, got)

	durations := findFamily(t, families, MetricRequestDurationSeconds)
	counts := map[string]uint64{}
	for _, m := range durations.GetMetric() {
		counts[labels(m)["task"]] = m.GetHistogram().GetSampleCount()
	}
	assert.Equal(t, map[string]uint64{"/health": 2, "/budget/add": 1}, counts)
}

func TestPrometheusExporter_LoginsAndUsers(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{})

	e.RecordLogin("budget", true)
	e.RecordLogin("budget", false)
	e.RecordLogin("budget", false)
	e.SetActiveUsers(4)

	families, err := e.Gather()
	require.NoError(t, err)

	users := findFamily(t, families, MetricActiveUsers)
	assert.Equal(t, 4.0, users.GetMetric()[0].GetGauge().GetValue())

	logins := findFamily(t, families, MetricLoginsTotal)
	got := map[string]float64{}
	for _, m := range logins.GetMetric() {
		got[labels(m)["outcome"]] = m.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{OutcomeSuccess: 1, OutcomeFailure: 2}, got)
}

func TestPrometheusExporter_StartStop(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{Port: 0})
	require.NoError(t, e.Start())
	assert.True(t, e.IsRunning())
	require.NoError(t, e.Start())

	e.Record(okResult("/health", time.Millisecond))

	resp, err := http.Get(e.Address())
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), MetricRequestsTotal))

	health := strings.Replace(e.Address(), "/metrics", "/health", 1)
	resp, err = http.Get(health)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))
	assert.False(t, e.IsRunning())
	assert.NoError(t, e.Stop(ctx))
	assert.NoError(t, e.LastError())
}
