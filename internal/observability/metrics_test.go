package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordersUpdateCollectors(t *testing.T) {
	m := NewMetrics()

	m.RecordToolRun("lint", "success", 20*time.Millisecond)
	m.RecordToolRun("lint", "success", 30*time.Millisecond)
	m.RecordToolRun("run", "timed_out", time.Second)
	require.Equal(t, 2.0, testutil.ToFloat64(m.ToolRuns.WithLabelValues("lint", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ToolRuns.WithLabelValues("run", "timed_out")))

	m.RecordProposalTransition("", "proposed")
	m.RecordProposalTransition("approved", "applied")
	require.Equal(t, 1.0, testutil.ToFloat64(m.ProposalTransitions.WithLabelValues("none", "proposed")))

	m.RecordBudget(true, 3, false)
	require.Equal(t, 1.0, testutil.ToFloat64(m.BudgetEvents.WithLabelValues("excerpt_truncated")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.BudgetEvents.WithLabelValues("message_dropped")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.BudgetEvents.WithLabelValues("overflow")))

	m.RecordModelFailure("", "gpt-4o")
	require.Equal(t, 1.0, testutil.ToFloat64(m.ModelFailures.WithLabelValues("unknown", "gpt-4o")))

	m.IncActiveSessions("ndjson")
	m.IncActiveSessions("ndjson")
	m.DecActiveSessions("ndjson")
	require.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSession.WithLabelValues("ndjson")))

	m.RecordVerdict("A", 95)
	m.RecordChat("stop", time.Second)
	m.RecordTransportError("connect", "")
	require.Equal(t, 1.0, testutil.ToFloat64(m.TransportErrs.WithLabelValues("connect", "unknown")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordToolRun("lint", "success", time.Millisecond)
	m.RecordVerdict("A", 100)
	m.RecordProposalTransition("proposed", "approved")
	m.RecordBudget(true, 1, true)
	m.RecordChat("stop", time.Millisecond)
	m.IncActiveSessions("connect")
	m.DecActiveSessions("connect")
	m.RecordTransportError("connect", "write")
	m.RecordModelUsage("coder", "m")
	m.RecordModelFailure("coder", "m")
}
