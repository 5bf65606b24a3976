// Package metrics exposes service counters in the Prometheus text format.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keyledger"

// Metrics holds the collectors on a private registry, so tests can create
// as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	Registrations  *prometheus.CounterVec
	Logins         *prometheus.CounterVec
	Verifications  *prometheus.CounterVec
	Purchases      *prometheus.CounterVec
	KeysIssued     prometheus.Counter
	KeyValidations *prometheus.CounterVec
	EmailsSent     *prometheus.CounterVec
	RateLimited    prometheus.Counter
	Backups        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "registrations_total",
			Help: "Registration attempts by result.",
		}, []string{"result"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "email_verifications_total",
			Help: "Email verification attempts by result.",
		}, []string{"result"}),
		Purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "purchases_total",
			Help: "Completed purchases by plan.",
		}, []string{"plan"}),
		KeysIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "license_keys_issued_total",
			Help: "License keys written to the ledger.",
		}),
		KeyValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "license_key_validations_total",
			Help: "License key validations and redemptions by result.",
		}, []string{"result"}),
		EmailsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "emails_total",
			Help: "Outgoing email by result.",
		}, []string{"result"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_requests_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		Backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "backups_total",
			Help: "Database snapshot attempts by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.requestDuration,
		m.Registrations, m.Logins, m.Verifications, m.Purchases,
		m.KeysIssued, m.KeyValidations, m.EmailsSent, m.RateLimited, m.Backups,
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Result returns "ok" for nil and "error" otherwise, for use as a label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// EmailResult records the outcome of one email delivery.
func (m *Metrics) EmailResult(err error) {
	m.EmailsSent.WithLabelValues(Result(err)).Inc()
}

// BackupResult records the outcome of one snapshot attempt.
func (m *Metrics) BackupResult(err error) {
	m.Backups.WithLabelValues(Result(err)).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets WebSocket upgrades pass through.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

// Instrument counts requests and their latency, labelled by the ServeMux
// pattern that matched. It must wrap the mux so the pattern is set.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
