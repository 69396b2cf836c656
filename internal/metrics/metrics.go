// Package metrics exposes pipeline counters and latency histograms in the
// Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Date outcomes.
const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// Recorder owns a private registry so tests and multiple pipelines in one
// process do not collide on the default one. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	dates         *prometheus.CounterVec
	plots         *prometheus.CounterVec
	errors        *prometheus.CounterVec
	dateDuration  prometheus.Histogram
	stageDuration *prometheus.HistogramVec
	cloudCover    prometheus.Histogram
	bytesWritten  prometheus.Counter
	inFlight      prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		dates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canopy",
			Name:      "dates_total",
			Help:      "Acquisition dates handled, by outcome.",
		}, []string{"status"}),
		plots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canopy",
			Name:      "plots_total",
			Help:      "Plots finished, by outcome.",
		}, []string{"status"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canopy",
			Name:      "errors_total",
			Help:      "Processing errors, by kind.",
		}, []string{"kind"}),
		dateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "canopy",
			Name:      "date_duration_seconds",
			Help:      "Wall time to process one acquisition date.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~102s
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "canopy",
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
		cloudCover: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "canopy",
			Name:      "cloud_coverage_percent",
			Help:      "Cloud coverage of extracted acquisitions.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canopy",
			Name:      "output_bytes_total",
			Help:      "Bytes written to the output tree.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "canopy",
			Name:      "plots_in_flight",
			Help:      "Plots currently being processed.",
		}),
	}
	r.registry.MustRegister(r.dates, r.plots, r.errors, r.dateDuration, r.stageDuration, r.cloudCover, r.bytesWritten, r.inFlight)
	return r
}

// Registry exposes the underlying registry for gathering in tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry at /metrics.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) ObserveDate(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.dates.WithLabelValues(status).Inc()
	if status == StatusProcessed {
		r.dateDuration.Observe(d.Seconds())
	}
}

func (r *Recorder) ObservePlot(status string) {
	if r == nil {
		return
	}
	r.plots.WithLabelValues(status).Inc()
}

func (r *Recorder) ObserveError(kind string) {
	if r == nil {
		return
	}
	r.errors.WithLabelValues(kind).Inc()
}

func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (r *Recorder) ObserveCloudCoverage(pct float64) {
	if r == nil {
		return
	}
	r.cloudCover.Observe(pct)
}

func (r *Recorder) AddBytes(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.bytesWritten.Add(float64(n))
}

// TrackPlot bumps the in-flight gauge and returns the matching decrement.
func (r *Recorder) TrackPlot() func() {
	if r == nil {
		return func() {}
	}
	r.inFlight.Inc()
	return r.inFlight.Dec
}
