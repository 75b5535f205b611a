// Package metrics exposes sync progress as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notionsync/internal/etl"
	"notionsync/internal/relations"
)

const namespace = "notionsync"

// Metrics holds every collector on a private registry.
type Metrics struct {
	// Counters
	Pages     *prometheus.CounterVec
	Records   *prometheus.CounterVec
	Rows      *prometheus.CounterVec
	Columns   *prometheus.CounterVec
	Failures  *prometheus.CounterVec
	Junctions *prometheus.CounterVec
	Passes    *prometheus.CounterVec

	// Gauges
	LastPass prometheus.Gauge

	// Histograms
	TableDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

var (
	_ etl.Observer       = (*Metrics)(nil)
	_ relations.Observer = (*Metrics)(nil)
)

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.Pages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Source result pages fetched, by table",
		},
		[]string{"table"},
	)
	m.Records = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "Source records fetched, by table",
		},
		[]string{"table"},
	)
	m.Rows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows upserted, by table",
		},
		[]string{"table"},
	)
	m.Columns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "columns_added_total",
			Help:      "Columns added by schema evolution, by table",
		},
		[]string{"table"},
	)
	m.Failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "table_failures_total",
			Help:      "Table syncs that ended in FAILED, by table",
		},
		[]string{"table"},
	)
	m.Junctions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "junction_rows_total",
			Help:      "Rows inserted into junction tables, by junction table",
		},
		[]string{"table"},
	)
	m.Passes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Sync passes, by outcome",
		},
		[]string{"outcome"}, // "clean", "partial"
	)

	m.LastPass = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_pass_timestamp_seconds",
			Help:      "Unix time the last sync pass finished",
		},
	)

	m.TableDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "table_sync_duration_seconds",
			Help:      "Time to sync one table",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"table", "status"},
	)

	m.registry.MustRegister(
		m.Pages,
		m.Records,
		m.Rows,
		m.Columns,
		m.Failures,
		m.Junctions,
		m.Passes,
		m.LastPass,
		m.TableDuration,
	)
	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler for the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns a server exposing /metrics and /health on addr.
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// ── Observers ──────────────────────────────────────────────

func (m *Metrics) PageFetched(table string, records int) {
	m.Pages.WithLabelValues(table).Inc()
	m.Records.WithLabelValues(table).Add(float64(records))
}

func (m *Metrics) RowsWritten(table string, rows int) {
	m.Rows.WithLabelValues(table).Add(float64(rows))
}

func (m *Metrics) ColumnsAdded(table string, columns int) {
	m.Columns.WithLabelValues(table).Add(float64(columns))
}

func (m *Metrics) TableFinished(table string, d time.Duration, ok bool) {
	status := "success"
	if !ok {
		status = "error"
		m.Failures.WithLabelValues(table).Inc()
	}
	m.TableDuration.WithLabelValues(table, status).Observe(d.Seconds())
}

func (m *Metrics) JunctionRows(table string, rows int) {
	m.Junctions.WithLabelValues(table).Add(float64(rows))
}

// PassFinished records the outcome of one sync pass.
func (m *Metrics) PassFinished(s etl.RunSummary) {
	outcome := "clean"
	if s.Failed > 0 {
		outcome = "partial"
	}
	m.Passes.WithLabelValues(outcome).Inc()
	m.LastPass.Set(float64(s.FinishedAt.Unix()))
}
