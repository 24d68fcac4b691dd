// ABOUTME: Prometheus metrics exposition for scan activity.
// ABOUTME: Tracks scan counts, verdicts, finding severities, and analysis concurrency.

package metrics

import (
	"net/http"
	"time"

	"github.com/malpack/malscan/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds the Prometheus series the scan pipeline reports into
type Metrics struct {
	registry *prometheus.Registry
	logger   *logrus.Logger

	scansTotal       *prometheus.CounterVec
	findingsTotal    *prometheus.CounterVec
	filesScanned     prometheus.Counter
	scanDuration     *prometheus.HistogramVec
	analysisInFlight prometheus.Gauge
}

// New creates and registers the malscan metric series
func New(logger *logrus.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logger:   logger,

		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "malscan_scans_total",
				Help: "Number of package scans completed, by detection method and verdict",
			},
			[]string{"method", "verdict"},
		),

		findingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "malscan_findings_total",
				Help: "Number of findings reported by structured scans, by severity",
			},
			[]string{"severity"},
		),

		filesScanned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "malscan_files_scanned_total",
				Help: "Number of files submitted for analysis",
			},
		),

		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "malscan_scan_duration_seconds",
				Help:    "Wall-clock duration of package scans, by detection method",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"method"},
		),

		analysisInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "malscan_analysis_in_flight",
				Help: "Number of per-file analysis calls currently outstanding",
			},
		),
	}

	m.registry.MustRegister(
		m.scansTotal,
		m.findingsTotal,
		m.filesScanned,
		m.scanDuration,
		m.analysisInFlight,
	)

	return m
}

// Handler returns the HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveScan records a completed scan's envelope
func (m *Metrics) ObserveScan(summary *types.ScanSummary, duration time.Duration) {
	m.scansTotal.WithLabelValues(string(summary.Method), string(summary.Verdict)).Inc()
	m.scanDuration.WithLabelValues(string(summary.Method)).Observe(duration.Seconds())
	m.filesScanned.Add(float64(summary.FilesScanned))

	for severity, count := range summary.Stats {
		if count > 0 {
			m.findingsTotal.WithLabelValues(string(severity)).Add(float64(count))
		}
	}
}

// AnalysisStarted marks one analysis call as in flight
func (m *Metrics) AnalysisStarted() {
	m.analysisInFlight.Inc()
}

// AnalysisFinished marks one analysis call as settled
func (m *Metrics) AnalysisFinished() {
	m.analysisInFlight.Dec()
}

// Registry exposes the underlying registry, used by tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
