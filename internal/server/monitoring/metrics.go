// Package monitoring exposes Prometheus metrics for the HTTP surface and
// the domain events operators alert on.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "paykeeper"

// Metrics owns a private registry so several instances can coexist in tests.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	otpEvents      *prometheus.CounterVec
	paymentEvents  *prometheus.CounterVec
	relayerSubmits *prometheus.CounterVec
	passcodeChecks *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.otpEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "otp_events_total",
		Help:      "One-time passcodes issued and verified",
	}, []string{"event"})

	m.paymentEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_transitions_total",
		Help:      "Payment link and request status transitions",
	}, []string{"kind", "status"})

	m.relayerSubmits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relayer_submissions_total",
		Help:      "Transfers handed to external services",
	}, []string{"network", "result"})

	m.passcodeChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "passcode_verifications_total",
		Help:      "Wallet passcode verification outcomes",
	}, []string{"result"})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.otpEvents,
		m.paymentEvents,
		m.relayerSubmits,
		m.passcodeChecks,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// OTP events: "issued", "verified", "rejected".
func (m *Metrics) IncOTP(event string) {
	if m == nil {
		return
	}
	m.otpEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) IncPayment(kind, status string) {
	if m == nil {
		return
	}
	m.paymentEvents.WithLabelValues(kind, status).Inc()
}

// IncRelayer counts submissions by network and result ("accepted", "failed").
func (m *Metrics) IncRelayer(network, result string) {
	if m == nil {
		return
	}
	m.relayerSubmits.WithLabelValues(network, result).Inc()
}

func (m *Metrics) IncPasscode(verified bool) {
	if m == nil {
		return
	}
	m.passcodeChecks.WithLabelValues(strconv.FormatBool(verified)).Inc()
}
