package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestAuditMetricsRecord(t *testing.T) {

	m := Audit()
	assert.Same(t, m, Audit())

	before := testutil.ToFloat64(m.rounds.WithLabelValues("Fail"))
	m.ObserveRound(10, "Fail", time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(m.rounds.WithLabelValues("Fail")))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.lastRound.WithLabelValues("Fail")))

	m.ObserveFinding("")
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.findings.WithLabelValues("unknown")), float64(1))

	m.SetRealizedLoss("bond", "12")
	m.SetRealizedLoss("bond", "not a number")
	assert.Equal(t, float64(12), testutil.ToFloat64(m.realizedLoss.WithLabelValues("bond")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *AuditMetrics
	assert.NotPanics(t, func() {
		m.ObserveRound(1, "Pass", 0)
		m.ObserveFinding("RewardMismatch")
		m.ObserveRetry("ReadValue")
		m.ObserveQueryFailure("ReadValue")
		m.SetRealizedLoss("bond", "1")
	})
}
