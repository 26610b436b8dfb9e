// Package metrics exposes the Prometheus collectors of the aggregator.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on a private registry so tests can create
// independent instances.
type Metrics struct {
	registry *prometheus.Registry

	BankCalls           *prometheus.CounterVec
	BankCallDuration    *prometheus.HistogramVec
	TokenIssued         *prometheus.CounterVec
	ConsentOutcomes     *prometheus.CounterVec
	PartialFailures     *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	CashbackActivations prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		BankCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finguru",
			Name:      "bank_calls_total",
			Help:      "Upstream bank calls by bank, operation and outcome.",
		}, []string{"bank", "operation", "outcome"}),
		BankCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "finguru",
			Name:      "bank_call_duration_seconds",
			Help:      "Latency of upstream bank calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"bank", "operation"}),
		TokenIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finguru",
			Name:      "token_issued_total",
			Help:      "Bank tokens issued upstream (cache misses).",
		}, []string{"bank"}),
		ConsentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finguru",
			Name:      "consent_requests_total",
			Help:      "Consent requests by bank and resulting status.",
		}, []string{"bank", "status"}),
		PartialFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finguru",
			Name:      "aggregation_partial_failures_total",
			Help:      "Banks excluded from aggregate results, by reason.",
		}, []string{"bank", "reason"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finguru",
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "finguru",
			Name:      "http_request_duration_seconds",
			Help:      "API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		CashbackActivations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finguru",
			Name:      "cashback_activations_total",
			Help:      "Cashback bonuses activated.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.BankCalls,
		m.BankCallDuration,
		m.TokenIssued,
		m.ConsentOutcomes,
		m.PartialFailures,
		m.HTTPRequests,
		m.HTTPDuration,
		m.CashbackActivations,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveBankCall records one upstream call. Nil receivers are ignored so
// components can run without metrics.
func (m *Metrics) ObserveBankCall(bank, op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BankCalls.WithLabelValues(bank, op, outcome).Inc()
	m.BankCallDuration.WithLabelValues(bank, op).Observe(d.Seconds())
}

func (m *Metrics) ObserveTokenIssued(bank string) {
	if m == nil {
		return
	}
	m.TokenIssued.WithLabelValues(bank).Inc()
}

func (m *Metrics) ObserveConsent(bank, status string) {
	if m == nil {
		return
	}
	m.ConsentOutcomes.WithLabelValues(bank, status).Inc()
}

func (m *Metrics) ObservePartialFailure(bank, reason string) {
	if m == nil {
		return
	}
	m.PartialFailures.WithLabelValues(bank, reason).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) ObserveCashbackActivated() {
	if m == nil {
		return
	}
	m.CashbackActivations.Inc()
}
