package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ExecutionLifecycle(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry(), prometheus.NewRegistry())

	m.ExecutionStarted()
	m.ExecutionStarted()
	assert.InDelta(t, 2, testutil.ToFloat64(m.ExecutionsActive), 0)

	m.ExecutionFinished(KindWorkflow, "completed", 10*time.Millisecond)
	m.ExecutionFinished(KindRule, "failed", 20*time.Millisecond)

	assert.InDelta(t, 0, testutil.ToFloat64(m.ExecutionsActive), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues(KindWorkflow, "completed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues(KindRule, "failed")), 0)
}

func TestMetrics_ActionsAndPasses(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry(), prometheus.NewRegistry())

	m.ActionFinished("assign_ticket", "completed", time.Millisecond)
	m.ActionFinished("assign_ticket", "failed", time.Millisecond)
	m.SchedulingPass(3)
	m.SchedulingPass(0)

	assert.InDelta(t, 1, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("assign_ticket", "failed")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.SchedulingPasses), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.RuleFirings), 0)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodGet, "/workflows/:id", http.StatusNotFound, time.Millisecond)

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, recorder.Code)

	body, err := io.ReadAll(recorder.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `deskflow_api_http_requests_total{method="GET",path="/workflows/:id",status="4xx"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
