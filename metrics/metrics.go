// Package metrics exposes audit progress and outcomes to Prometheus.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type AuditMetrics struct {
	rounds        *prometheus.CounterVec
	findings      *prometheus.CounterVec
	queryRetries  *prometheus.CounterVec
	queryFailures *prometheus.CounterVec
	roundDuration prometheus.Histogram
	lastRound     *prometheus.GaugeVec
	realizedLoss  *prometheus.GaugeVec
}

var (
	auditOnce     sync.Once
	auditRegistry *AuditMetrics
)

// Audit returns the process-wide collectors, registering them on first use.
func Audit() *AuditMetrics {
	auditOnce.Do(func() {
		auditRegistry = &AuditMetrics{
			rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rewardaudit_rounds_total",
				Help: "Count of audited rounds by outcome status.",
			}, []string{"status"}),
			findings: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rewardaudit_findings_total",
				Help: "Count of findings reported by kind.",
			}, []string{"kind"}),
			queryRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rewardaudit_query_retries_total",
				Help: "Number of retried chain state queries by operation.",
			}, []string{"op"}),
			queryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rewardaudit_query_failures_total",
				Help: "Number of chain state queries that exhausted their retries.",
			}, []string{"op"}),
			roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "rewardaudit_round_duration_seconds",
				Help:    "Wall time spent auditing one round.",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			}),
			lastRound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "rewardaudit_last_round",
				Help: "Most recent round audited, by outcome status.",
			}, []string{"status"}),
			realizedLoss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "rewardaudit_realized_loss",
				Help: "Realized rounding loss of the most recent round by reward part.",
			}, []string{"part"}),
		}
		prometheus.MustRegister(
			auditRegistry.rounds,
			auditRegistry.findings,
			auditRegistry.queryRetries,
			auditRegistry.queryFailures,
			auditRegistry.roundDuration,
			auditRegistry.lastRound,
			auditRegistry.realizedLoss,
		)
	})
	return auditRegistry
}

func (m *AuditMetrics) ObserveRound(round uint32, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(status).Inc()
	m.lastRound.WithLabelValues(status).Set(float64(round))
	m.roundDuration.Observe(took.Seconds())
}

func (m *AuditMetrics) ObserveFinding(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.findings.WithLabelValues(kind).Inc()
}

func (m *AuditMetrics) ObserveRetry(op string) {
	if m == nil {
		return
	}
	m.queryRetries.WithLabelValues(op).Inc()
}

func (m *AuditMetrics) ObserveQueryFailure(op string) {
	if m == nil {
		return
	}
	m.queryFailures.WithLabelValues(op).Inc()
}

// SetRealizedLoss records a loss given as a decimal string. Values that do not
// parse are dropped.
func (m *AuditMetrics) SetRealizedLoss(part, amount string) {
	if m == nil {
		return
	}
	v, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return
	}
	m.realizedLoss.WithLabelValues(part).Set(v)
}
