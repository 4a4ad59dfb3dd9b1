// Package metrics registers and records the Prometheus metrics for the
// control plane. A single Collector owns the registry and the per-concern
// metric groups; components receive the group they need.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "triton"
)

// Collector owns the registry and all metric groups.
type Collector struct {
	registry *prometheus.Registry

	Requests  *RequestMetrics
	Intent    *IntentMetrics
	Approvals *ApprovalMetrics
	Provider  *ProviderMetrics
	Trace     *TraceMetrics
}

// NewCollector creates a collector with its own registry. A nil registry
// allocates a fresh one.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &Collector{
		registry:  registry,
		Requests:  newRequestMetrics(registry),
		Intent:    newIntentMetrics(registry),
		Approvals: newApprovalMetrics(registry),
		Provider:  newProviderMetrics(registry),
		Trace:     newTraceMetrics(registry),
	}
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// RequestMetrics tracks the HTTP surface.
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func newRequestMetrics(registry *prometheus.Registry) *RequestMetrics {
	m := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total HTTP requests by route and status code",
			},
			[]string{"route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 30, 60},
			},
			[]string{"route"},
		),
	}
	registry.MustRegister(m.requestsTotal, m.requestDuration)
	return m
}

// Observe records one served request.
func (m *RequestMetrics) Observe(route, status string, seconds float64) {
	m.requestsTotal.WithLabelValues(route, status).Inc()
	m.requestDuration.WithLabelValues(route).Observe(seconds)
}

// IntentMetrics tracks router decisions.
type IntentMetrics struct {
	decisionsTotal   *prometheus.CounterVec
	cacheHitsTotal   prometheus.Counter
	hitlQueuedTotal  prometheus.Counter
	shadowDivergence prometheus.Counter
}

func newIntentMetrics(registry *prometheus.Registry) *IntentMetrics {
	m := &IntentMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "intent_decisions_total",
				Help:      "Intent decisions by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intent_cache_hits_total",
			Help:      "Tier-1 intent cache hits",
		}),
		hitlQueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intent_hitl_queued_total",
			Help:      "Requests queued for human review",
		}),
		shadowDivergence: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intent_shadow_divergence_total",
			Help:      "Shadow decisions that disagreed with the legacy route",
		}),
	}
	registry.MustRegister(m.decisionsTotal, m.cacheHitsTotal, m.hitlQueuedTotal, m.shadowDivergence)
	return m
}

// RecordDecision records one routed decision.
func (m *IntentMetrics) RecordDecision(tier, outcome string, cacheHit, hitlQueued bool) {
	m.decisionsTotal.WithLabelValues(tier, outcome).Inc()
	if cacheHit {
		m.cacheHitsTotal.Inc()
	}
	if hitlQueued {
		m.hitlQueuedTotal.Inc()
	}
}

// RecordShadowDivergence records one shadow/legacy disagreement.
func (m *IntentMetrics) RecordShadowDivergence() {
	m.shadowDivergence.Inc()
}

// ApprovalMetrics tracks the approval gate.
type ApprovalMetrics struct {
	validationsTotal *prometheus.CounterVec
	issuedTotal      prometheus.Counter
}

func newApprovalMetrics(registry *prometheus.Registry) *ApprovalMetrics {
	m := &ApprovalMetrics{
		validationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approval_validations_total",
				Help:      "Approval validations by outcome reason",
			},
			[]string{"reason"},
		),
		issuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_issued_total",
			Help:      "Approvals issued",
		}),
	}
	registry.MustRegister(m.validationsTotal, m.issuedTotal)
	return m
}

// RecordValidation records one validate-and-consume outcome.
func (m *ApprovalMetrics) RecordValidation(reason string) {
	m.validationsTotal.WithLabelValues(reason).Inc()
}

// RecordIssued records one issued approval.
func (m *ApprovalMetrics) RecordIssued() {
	m.issuedTotal.Inc()
}

// ProviderMetrics tracks outbound provider calls and the circuit breaker.
type ProviderMetrics struct {
	callsTotal       *prometheus.CounterVec
	callDuration     *prometheus.HistogramVec
	breakerState     *prometheus.GaugeVec
	breakerOpens prometheus.Counter
}

func newProviderMetrics(registry *prometheus.Registry) *ProviderMetrics {
	m := &ProviderMetrics{
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Provider calls by provider and outcome kind",
			},
			[]string{"provider", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Provider call duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"provider"},
		),
		breakerOpens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_breaker_opens_total",
			Help:      "Circuit breaker open transitions",
		}),
	}
	registry.MustRegister(m.callsTotal, m.callDuration, m.breakerState, m.breakerOpens)
	return m
}

// RecordCall records one provider call.
func (m *ProviderMetrics) RecordCall(provider, outcome string, seconds float64) {
	m.callsTotal.WithLabelValues(provider, outcome).Inc()
	m.callDuration.WithLabelValues(provider).Observe(seconds)
}

// SetBreakerState publishes the current breaker state for a provider.
func (m *ProviderMetrics) SetBreakerState(provider, state string) {
	var v float64
	switch state {
	case "open":
		v = 1
		m.breakerOpens.Inc()
	case "half_open":
		v = 2
	}
	m.breakerState.WithLabelValues(provider).Set(v)
}

// TraceMetrics tracks the ledger.
type TraceMetrics struct {
	appendsTotal   *prometheus.CounterVec
	appendDuration prometheus.Histogram
}

func newTraceMetrics(registry *prometheus.Registry) *TraceMetrics {
	m := &TraceMetrics{
		appendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trace_appends_total",
				Help:      "Trace step appends by step type",
			},
			[]string{"step_type"},
		),
		appendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trace_append_duration_seconds",
			Help:      "Trace append duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
	}
	registry.MustRegister(m.appendsTotal, m.appendDuration)
	return m
}

// RecordAppend records one ledger append.
func (m *TraceMetrics) RecordAppend(stepType string, seconds float64) {
	m.appendsTotal.WithLabelValues(stepType).Inc()
	m.appendDuration.Observe(seconds)
}
