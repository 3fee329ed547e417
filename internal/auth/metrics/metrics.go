// Package metrics holds the Prometheus counters exported on /metrics.
//
// All methods are safe on a nil *Metrics so callers that run without a
// registry (tests, tools) need no guard.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessiond"

// Outcome labels for the login and refresh counters.
const (
	ResultSuccess     = "success"
	ResultRejected    = "rejected"
	ResultUnavailable = "unavailable"
	ResultError       = "error"
)

type Metrics struct {
	logins        *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	reuseDetected prometheus.Counter
	revocations   *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates the counters and registers them on reg. It panics on duplicate
// registration, like prometheus.MustRegister.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_total",
			Help:      "Login attempts partitioned by outcome.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Refresh token rotations partitioned by outcome.",
		}, []string{"result"}),
		reuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_reuse_detected_total",
			Help:      "Replays of an already consumed refresh token.",
		}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "Session revocations partitioned by trigger.",
		}, []string{"reason"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route, method and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
	}

	reg.MustRegister(m.logins, m.refreshes, m.reuseDetected, m.revocations, m.httpDuration)
	return m
}

// NewRegistry returns a registry carrying the Go runtime and process
// collectors alongside the service counters.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, New(reg)
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

// ReuseDetected counts one replay. It satisfies session.Recorder.
func (m *Metrics) ReuseDetected() {
	if m == nil {
		return
	}
	m.reuseDetected.Inc()
}

// Revoked counts a revocation with reason "logout", "logout_all" or "reuse".
func (m *Metrics) Revoked(reason string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(reason).Inc()
}

// InstrumentHandler records request latency for h under the route label.
// The route is the mux pattern, never the raw path, to keep cardinality flat.
func (m *Metrics) InstrumentHandler(route string, h http.Handler) http.Handler {
	if m == nil {
		return h
	}
	obs := m.httpDuration.MustCurryWith(prometheus.Labels{"route": route})
	return promhttp.InstrumentHandlerDuration(obs, h)
}
