package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Enqueued()
	m.Enqueued()
	m.Finished("completed", "error")
	m.Callback("skipped")
	m.StageError("analyze", "upstream")
	m.ObserveStage("summarize", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsEnqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsFinished.WithLabelValues("completed", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Callbacks.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExtractionErrors.WithLabelValues("analyze", "upstream")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "planning_jobs_enqueued_total 2")
	assert.Contains(t, rec.Body.String(), "planning_stage_duration_seconds_bucket")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Enqueued()
		m.Finished("failed", "pending")
		m.Callback("processed")
		m.ObserveStage("download", time.Now())
		m.StageError("download", "upstream")
	})
}
