package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	statusUpdates  *prometheus.CounterVec
	patternMatches *prometheus.CounterVec
	targetsCreated *prometheus.CounterVec
	targetsFailed  *prometheus.CounterVec
	tradeResults   *prometheus.CounterVec
	riskRejections *prometheus.CounterVec
	emergencies    *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		statusUpdates: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snipeflow_status_updates_total",
				Help: "Total number of symbol status updates processed",
			},
			[]string{"symbol"},
		),
		patternMatches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snipeflow_pattern_matches_total",
				Help: "Total number of pattern matches emitted",
			},
			[]string{"pattern_type"},
		),
		targetsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snipeflow_targets_created_total",
				Help: "Total number of snipe targets created",
			},
			[]string{"pattern_type"},
		),
		targetsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snipeflow_targets_failed_total",
				Help: "Total number of snipe target creation failures",
			},
			[]string{"pattern_type"},
		),
		tradeResults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snipeflow_trade_results_total",
				Help: "Total number of terminal trade results",
			},
			[]string{"symbol", "outcome"},
		),
		riskRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snipeflow_risk_rejections_total",
				Help: "Total number of trades blocked by the risk gate",
			},
			[]string{"reason"},
		),
		emergencies: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snipeflow_emergency_events_total",
				Help: "Total number of emergency coordinator events",
			},
			[]string{"event"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snipeflow_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "snipeflow_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "snipeflow_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordStatusUpdate(symbol string) {
	r.statusUpdates.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordPatternMatch(patternType string) {
	r.patternMatches.WithLabelValues(patternType).Inc()
}

func (r *Recorder) RecordTargetCreated(patternType string) {
	r.targetsCreated.WithLabelValues(patternType).Inc()
}

func (r *Recorder) RecordTargetFailed(patternType string) {
	r.targetsFailed.WithLabelValues(patternType).Inc()
}

func (r *Recorder) RecordTradeResult(symbol string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	r.tradeResults.WithLabelValues(symbol, outcome).Inc()
}

func (r *Recorder) RecordRiskRejection(reason string) {
	r.riskRejections.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordEmergency(event string) {
	r.emergencies.WithLabelValues(event).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
