package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics holds the request-level Prometheus metrics
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestsActive  prometheus.Gauge
}

// NewHTTPMetrics creates and registers the HTTP metrics
func NewHTTPMetrics(registry *prometheus.Registry) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_http_requests_total",
				Help: "HTTP requests by method, route, and status",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authz_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RequestsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authz_http_requests_active",
				Help: "In-flight HTTP requests",
			},
		),
	}

	registry.MustRegister(m.RequestsTotal, m.RequestDuration, m.RequestsActive)
	return m
}

type metricsRecorder struct {
	http.ResponseWriter
	status int
}

func (r *metricsRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware instruments each request. The route template from mux is
// used as the label so path parameters do not explode cardinality.
func (m *HTTPMetrics) Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.RequestsActive.Inc()
			defer m.RequestsActive.Dec()

			recorder := &metricsRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if template, err := current.GetPathTemplate(); err == nil {
					route = template
				}
			}

			m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(recorder.status)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterDBStats exposes connection pool gauges sampled at scrape time
func RegisterDBStats(registry *prometheus.Registry, db *sql.DB) {
	registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "authz_db_connections_open",
			Help: "Open connections in the Postgres pool",
		}, func() float64 {
			return float64(db.Stats().OpenConnections)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "authz_db_connections_idle",
			Help: "Idle connections in the Postgres pool",
		}, func() float64 {
			return float64(db.Stats().Idle)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "authz_db_connections_waiting",
			Help: "Requests waiting on the Postgres pool",
		}, func() float64 {
			return float64(db.Stats().WaitCount)
		}),
	)
}
