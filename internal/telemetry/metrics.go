package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Outcomes for coach_requests_total.
const (
	OutcomeSuccess     = "success"
	OutcomeRejected    = "rejected"
	OutcomeProviderErr = "provider_error"
	OutcomeLedgerErr   = "ledger_error"
)

// Metrics holds the gateway's collectors on their own registry so tests can
// build as many as they like. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	cost            *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	budgetRemaining prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_requests_total",
				Help: "Coaching requests by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_rejections_total",
				Help: "Requests refused by a budget, quota or throttle limit",
			},
			[]string{"reason"},
		),
		cost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_cost_usd_total",
				Help: "Recorded provider spend in USD",
			},
			[]string{"provider"},
		),
		providerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coach_provider_latency_seconds",
				Help:    "Provider completion latency",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
			},
			[]string{"provider"},
		),
		budgetRemaining: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coach_budget_remaining_usd",
				Help: "Budget left before the system stops admitting requests",
			},
		),
	}

	m.registry.MustRegister(
		m.requests,
		m.rejections,
		m.cost,
		m.providerLatency,
		m.budgetRemaining,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(providerName, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(providerName, outcome).Inc()
}

func (m *Metrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveCost(providerName string, usd decimal.Decimal) {
	if m == nil {
		return
	}
	m.cost.WithLabelValues(providerName).Add(usd.InexactFloat64())
}

func (m *Metrics) ObserveLatency(providerName string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(providerName).Observe(d.Seconds())
}

func (m *Metrics) SetBudgetRemaining(usd decimal.Decimal) {
	if m == nil {
		return
	}
	m.budgetRemaining.Set(usd.InexactFloat64())
}
