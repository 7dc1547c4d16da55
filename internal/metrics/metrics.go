package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	checks       *prometheus.CounterVec
	registers    *prometheus.CounterVec
	adminActions *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licensed",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "licensed",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licensed",
			Name:      "license_checks_total",
			Help:      "License checks by reported status.",
		}, []string{"status"}),
		registers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licensed",
			Name:      "license_registrations_total",
			Help:      "Registration attempts by outcome.",
		}, []string{"status"}),
		adminActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licensed",
			Name:      "admin_actions_total",
			Help:      "Administrative actions by action and outcome.",
		}, []string{"action", "status"}),
	}
	reg.MustRegister(
		m.requests, m.duration, m.checks, m.registers, m.adminActions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveRequest(route string, code int, took time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(route).Observe(took.Seconds())
}

func (m *Metrics) ObserveCheck(status string) { m.checks.WithLabelValues(status).Inc() }

func (m *Metrics) ObserveRegister(status string) { m.registers.WithLabelValues(status).Inc() }

func (m *Metrics) ObserveAdmin(action, status string) {
	m.adminActions.WithLabelValues(action, status).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
