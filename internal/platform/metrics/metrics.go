// Package metrics exposes the server's prometheus collectors: HTTP request
// metrics recorded by an Echo middleware, plus counters for the screen's
// fetch, export and deletion workflows.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "patientforms"

// Fetch outcomes.
const (
	FetchApplied = "applied"
	FetchStale   = "stale"
	FetchFailed  = "failed"
)

var defaultDurationBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	activeRequests prometheus.Gauge

	fetches      *prometheus.CounterVec
	exports      *prometheus.CounterVec
	exportedRows prometheus.Counter
	missingRows  prometheus.Counter
	deletions    *prometheus.CounterVec
	screens      prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   defaultDurationBuckets,
		}, []string{"method", "route"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "Requests currently being served.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_fetches_total",
			Help:      "Page fetches by outcome (applied, stale, failed).",
		}, []string{"outcome"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Export attempts by profile, format and result.",
		}, []string{"profile", "format", "result"}),
		exportedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exported_rows_total",
			Help:      "Rows written to export artifacts.",
		}),
		missingRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_missing_records_total",
			Help:      "Selected records omitted from exports because they were not loaded.",
		}),
		deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletions_total",
			Help:      "Confirmed deletions by mode and result.",
		}, []string{"mode", "result"}),
		screens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "screens_active",
			Help:      "Mounted screen sessions.",
		}),
	}

	reg.MustRegister(
		m.httpRequests, m.httpDuration, m.activeRequests,
		m.fetches, m.exports, m.exportedRows, m.missingRows,
		m.deletions, m.screens,
	)
	return m
}

// NewIsolated builds Metrics on a private registry.
func NewIsolated() *Metrics {
	reg := prometheus.NewRegistry()
	return New(reg, reg)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) Fetch(outcome string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome).Inc()
}

// FetchCounter returns the page fetch counter for one outcome.
func (m *Metrics) FetchCounter(outcome string) prometheus.Counter {
	return m.fetches.WithLabelValues(outcome)
}

func (m *Metrics) Export(profile, format string, rows, missing int, err error) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(profile, format, result(err)).Inc()
	if err == nil {
		m.exportedRows.Add(float64(rows))
		m.missingRows.Add(float64(missing))
	}
}

func (m *Metrics) Deletion(mode string, err error) {
	if m == nil {
		return
	}
	m.deletions.WithLabelValues(mode, result(err)).Inc()
}

func (m *Metrics) ScreenMounted() {
	if m == nil {
		return
	}
	m.screens.Inc()
}

func (m *Metrics) ScreenUnmounted() {
	if m == nil {
		return
	}
	m.screens.Dec()
}

// Middleware records request count, latency and in-flight requests.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.activeRequests.Inc()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			m.activeRequests.Dec()
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Response().Status)).Inc()
			return nil
		}
	}
}

// Handler serves the prometheus text exposition.
func (m *Metrics) Handler() echo.HandlerFunc {
	if m == nil || m.gatherer == nil {
		return echo.WrapHandler(promhttp.Handler())
	}
	return echo.WrapHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}
