package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheus_Defaults(t *testing.T) {
	p := NewPrometheus(nil, "")

	require.Equal(t, prometheus.DefaultRegisterer, p.reg)
	require.Equal(t, "heartlink", p.namespace)
}

func TestPrometheusCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	p.RecordSubmit(ResultCreated)
	p.RecordSubmit(ResultCreated)
	p.RecordSubmit(ResultAlreadyPending)
	p.RecordPairAttempt(ResultMatched)
	p.RecordRequestTransition("expired")
	p.SetPendingRequests(42)
	p.RecordWarnings(3)
	p.RecordWarnings(0)

	require.InDelta(t, 2, testutil.ToFloat64(p.submits.WithLabelValues(ResultCreated)), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.submits.WithLabelValues(ResultAlreadyPending)), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.pairAttempts.WithLabelValues(ResultMatched)), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.transitions.WithLabelValues("expired")), 0)
	require.InDelta(t, 42, testutil.ToFloat64(p.pendingGauge), 0)
	require.InDelta(t, 3, testutil.ToFloat64(p.warningsIssued), 0)
}

func TestPrometheusCollector_Sweep(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	p.RecordSweep(false, 0)
	p.RecordSweep(true, 0.02)
	p.AddSweepItems(SweepExpiredRequests, 2)
	p.AddSweepItems(SweepFailures, 0)

	require.InDelta(t, 1, testutil.ToFloat64(p.sweeps.WithLabelValues("true")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.sweeps.WithLabelValues("false")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(p.sweepItems.WithLabelValues(SweepExpiredRequests)), 0)

	expected := `
# HELP test_maintenance_sweep_items_total Items handled by sweeps by kind (expired_requests,ended_rooms,expired_waiting_rooms,failures).
# TYPE test_maintenance_sweep_items_total counter
test_maintenance_sweep_items_total{kind="expired_requests"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_maintenance_sweep_items_total"))
}

func TestNopMetrics_DoesNotPanic(t *testing.T) {
	var c Collector = NewNop()

	require.NotPanics(t, func() {
		c.RecordSubmit(ResultError)
		c.RecordPairAttempt(ResultRaceLost)
		c.RecordRequestTransition("matched")
		c.RecordSweep(true, 1)
		c.AddSweepItems(SweepEndedRooms, 5)
		c.SetPendingRequests(-1)
		c.RecordWarnings(2)
	})
}
