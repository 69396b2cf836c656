package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	t.Parallel()
	r := New()

	r.ObserveDate(StatusProcessed, 2*time.Second)
	r.ObserveDate(StatusProcessed, time.Second)
	r.ObserveDate(StatusSkipped, 0)
	r.ObservePlot(StatusFailed)
	r.ObserveError("extraction")
	r.AddBytes(2048)
	r.AddBytes(-5)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.dates.WithLabelValues(StatusProcessed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.dates.WithLabelValues(StatusSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.plots.WithLabelValues(StatusFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errors.WithLabelValues("extraction")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(r.bytesWritten))
	// Only processed dates feed the latency histogram.
	assert.Equal(t, 1, testutil.CollectAndCount(r.dateDuration))
}

func TestRecorder_TrackPlot(t *testing.T) {
	t.Parallel()
	r := New()
	doneA := r.TrackPlot()
	doneB := r.TrackPlot()
	assert.Equal(t, 2.0, testutil.ToFloat64(r.inFlight))
	doneA()
	doneB()
	assert.Equal(t, 0.0, testutil.ToFloat64(r.inFlight))
}

func TestRecorder_Handler(t *testing.T) {
	t.Parallel()
	r := New()
	r.ObserveStage("extract", 30*time.Millisecond)
	r.ObserveCloudCoverage(12)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `canopy_stage_duration_seconds_count{stage="extract"} 1`), body)
	assert.Contains(t, body, "canopy_cloud_coverage_percent_bucket")
}

func TestRecorder_NilIsNoop(t *testing.T) {
	t.Parallel()
	var r *Recorder
	r.ObserveDate(StatusFailed, time.Second)
	r.ObservePlot(StatusProcessed)
	r.ObserveError("x")
	r.ObserveStage("x", time.Second)
	r.ObserveCloudCoverage(1)
	r.AddBytes(1)
	r.TrackPlot()()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
