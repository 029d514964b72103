package arb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus series the pipeline reports through,
// backing both the Finder's narrow FinderMetrics surface and the
// broader PipelineMetricsSnapshot read by the CLI stats reporter (§7).
type Metrics struct {
	OpportunitiesFound     prometheus.Counter
	OpportunitiesFiltered  *prometheus.CounterVec
	OpportunitiesAttempted prometheus.Counter
	ExecutionsSucceeded    prometheus.Counter
	ExecutionsFailed       *prometheus.CounterVec
	QuoteErrors            *prometheus.CounterVec
	QuoteMisses            *prometheus.CounterVec

	BorrowedLamports prometheus.Counter
	ProfitLamports   prometheus.Counter
	LossLamports     prometheus.Counter

	CircuitBreakerOpen prometheus.Gauge
	PipelineLatency    *prometheus.HistogramVec
}

// NewMetrics registers and returns the metrics set. Call once per process;
// the caller owns exposing the default registry on an HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		OpportunitiesFound: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arb_opportunities_found_total",
			Help: "Total number of round-trip opportunities discovered",
		}),
		OpportunitiesFiltered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_opportunities_filtered_total",
			Help: "Total number of opportunities dropped before execution, by reason",
		}, []string{"reason"}),
		OpportunitiesAttempted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arb_opportunities_attempted_total",
			Help: "Total number of opportunities that reached the executor",
		}),
		ExecutionsSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arb_executions_succeeded_total",
			Help: "Total number of opportunities executed successfully",
		}),
		ExecutionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_executions_failed_total",
			Help: "Total number of failed executions, by stage",
		}, []string{"stage"}),
		QuoteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_quote_errors_total",
			Help: "Total number of aggregator quote errors, by asset pair",
		}, []string{"pair"}),
		QuoteMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_quote_misses_total",
			Help: "Total number of aggregator quotes with no route, by asset pair",
		}, []string{"pair"}),
		BorrowedLamports: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arb_borrowed_lamports_total",
			Help: "Total lamports borrowed across all attempted executions",
		}),
		ProfitLamports: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arb_profit_lamports_total",
			Help: "Total net profit lamports across successful executions",
		}),
		LossLamports: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arb_loss_lamports_total",
			Help: "Total lamports lost on failed executions",
		}),
		CircuitBreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "arb_circuit_breaker_open",
			Help: "1 if the trading circuit breaker is currently open, else 0",
		}),
		PipelineLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arb_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"stage"}),
	}
}

// RecordOpportunityFound implements FinderMetrics.
func (m *Metrics) RecordOpportunityFound() {
	m.OpportunitiesFound.Inc()
}

// RecordQuoteError implements FinderMetrics.
func (m *Metrics) RecordQuoteError(pair string) {
	m.QuoteErrors.WithLabelValues(pair).Inc()
}

// RecordQuoteMiss implements FinderMetrics.
func (m *Metrics) RecordQuoteMiss(pair string) {
	m.QuoteMisses.WithLabelValues(pair).Inc()
}

// RecordFiltered records an opportunity dropped before reaching the
// executor, tagged with the drop reason (one of the Outcome* constants).
func (m *Metrics) RecordFiltered(reason string) {
	m.OpportunitiesFiltered.WithLabelValues(reason).Inc()
}

// RecordAttempt records an opportunity that reached the executor, along
// with the borrow amount committed to it.
func (m *Metrics) RecordAttempt(borrowAmount uint64) {
	m.OpportunitiesAttempted.Inc()
	m.BorrowedLamports.Add(float64(borrowAmount))
}

// RecordOutcome records the terminal outcome of an executed opportunity.
func (m *Metrics) RecordOutcome(outcome Outcome, stage string) {
	if outcome.Success {
		m.ExecutionsSucceeded.Inc()
		m.ProfitLamports.Add(float64(outcome.LossLamports))
		return
	}
	m.ExecutionsFailed.WithLabelValues(stage).Inc()
	m.LossLamports.Add(float64(outcome.LossLamports))
}

// SetCircuitBreakerOpen reports the breaker's current state as a gauge.
func (m *Metrics) SetCircuitBreakerOpen(open bool) {
	if open {
		m.CircuitBreakerOpen.Set(1)
		return
	}
	m.CircuitBreakerOpen.Set(0)
}
