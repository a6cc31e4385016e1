package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveStageDuration("execute", 150*time.Millisecond)
	pr.IncStageResult("execute", ResultSuccess)
	pr.IncStageResult("render", ResultSkipped)
	pr.ObserveRunDuration(2 * time.Second)
	pr.IncRunOutcome("success")
	pr.AddRunsInFlight(1)
	pr.AddRunsInFlight(-1)
	pr.ObserveHTTPRequest("POST", "/run-notebook", 200, 10*time.Millisecond)

	assert.InDelta(t, 1, counterValue(pr.stageResults.WithLabelValues("render", "skipped")), 0)
	assert.InDelta(t, 1, counterValue(pr.runOutcome.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, counterValue(pr.httpRequests.WithLabelValues("POST", "/run-notebook", "200")), 0)

	var g dto.Metric
	require.NoError(t, pr.runsInFlight.Write(&g))
	assert.InDelta(t, 0, g.GetGauge().GetValue(), 0)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func counterValue(c prom.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return -1
	}
	return m.GetCounter().GetValue()
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.ObserveStageDuration("x", time.Second)
		pr.IncRunOutcome("error")
		pr.ObserveHTTPRequest("GET", "/", 200, time.Millisecond)
	})
}

func TestHTTPHandler(t *testing.T) {
	reg := NewRegistry()
	NewPrometheusRecorder(reg).IncRunOutcome("success")

	srv := httptest.NewServer(HTTPHandler(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "nbrunner_run_outcomes_total")
	assert.Contains(t, string(body), "go_goroutines")
}

var _ Recorder = NoopRecorder{}
var _ Recorder = (*PrometheusRecorder)(nil)
