package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the facade's prometheus collectors on a private registry so
// multiple servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	engineOps       *prometheus.CounterVec
	dialogs         *prometheus.CounterVec
}

// NewMetrics registers the collectors. sessionCount feeds the active-session
// gauge on every scrape.
func NewMetrics(sessionCount func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "csentry_request_duration_seconds",
				Help: "HTTP request latency by route.",
			},
			[]string{"method", "route", "status"},
		),
		engineOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csentry_engine_operations_total",
				Help: "Engine operations by name and outcome.",
			},
			[]string{"op", "status"},
		),
		dialogs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csentry_dialogs_intercepted_total",
				Help: "Dialogs intercepted and auto-answered, by dialog name.",
			},
			[]string{"dialog"},
		),
	}

	activeSessions := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "csentry_active_sessions",
			Help: "Live sessions in the registry.",
		},
		func() float64 { return float64(sessionCount()) },
	)

	m.registry.MustRegister(m.requestDuration, m.engineOps, m.dialogs, activeSessions)
	return m
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation counts one engine operation outcome: ok, refused or error.
func (m *Metrics) ObserveOperation(op, status string) {
	m.engineOps.WithLabelValues(op, status).Inc()
}

// ObserveDialog counts one intercepted dialog. Wire into the responder with
// dialog.WithObserver(m.ObserveDialog).
func (m *Metrics) ObserveDialog(dialogName string) {
	m.dialogs.WithLabelValues(dialogName).Inc()
}

// requestTimer records request latency labeled by the matched chi route.
func (m *Metrics) requestTimer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		m.requestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}
