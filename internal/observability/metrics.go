package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ledger metrics
	DebitsTotal     *prometheus.CounterVec
	UpgradesTotal   *prometheus.CounterVec
	DiamondsBalance prometheus.Gauge

	// Generation metrics
	GenerationsTotal *prometheus.CounterVec

	// Persistence metrics
	PersistenceOpsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangaforge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mangaforge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		DebitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangaforge_debits_total",
				Help: "Admission attempts by action and result",
			},
			[]string{"action", "result"},
		),
		UpgradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangaforge_upgrades_total",
				Help: "Plan upgrades applied by target plan code",
			},
			[]string{"plan"},
		),
		DiamondsBalance: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mangaforge_diamonds_balance",
				Help: "Current diamond balance, -1 when unlimited",
			},
		),
		GenerationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangaforge_generations_total",
				Help: "Finished generation attempts by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		PersistenceOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangaforge_persistence_ops_total",
				Help: "Ledger store operations by tier, op and result",
			},
			[]string{"tier", "op", "result"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DebitsTotal,
		m.UpgradesTotal,
		m.DiamondsBalance,
		m.GenerationsTotal,
		m.PersistenceOpsTotal,
	)

	return m
}

func (m *Metrics) ObserveDebit(action, result string) {
	if m == nil {
		return
	}
	m.DebitsTotal.WithLabelValues(action, result).Inc()
}

func (m *Metrics) ObserveUpgrade(plan string) {
	if m == nil {
		return
	}
	m.UpgradesTotal.WithLabelValues(plan).Inc()
}

// SetDiamonds records the balance; pass -1 for unlimited.
func (m *Metrics) SetDiamonds(v int64) {
	if m == nil {
		return
	}
	m.DiamondsBalance.Set(float64(v))
}

func (m *Metrics) ObserveGeneration(kind, outcome string) {
	if m == nil {
		return
	}
	m.GenerationsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObservePersistence(tier, op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PersistenceOpsTotal.WithLabelValues(tier, op, result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records request counts and durations. pathLabel maps a request to a
// low-cardinality label such as the matched route pattern.
func HTTPMetricsMiddleware(metrics *Metrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if pathLabel != nil {
				if label := pathLabel(r); label != "" {
					path = label
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}
