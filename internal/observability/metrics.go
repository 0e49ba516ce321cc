package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the pipeline, assistant and daemon.
// All Record methods are safe on a nil receiver.
type Metrics struct {
	registry            *prometheus.Registry
	ToolRuns            *prometheus.CounterVec
	ToolDuration        *prometheus.HistogramVec
	VerdictScores       *prometheus.HistogramVec
	ProposalTransitions *prometheus.CounterVec
	BudgetEvents        *prometheus.CounterVec
	ChatRequests        *prometheus.CounterVec
	ChatDuration        *prometheus.HistogramVec
	ActiveSession       *prometheus.GaugeVec
	TransportErrs       *prometheus.CounterVec
	ModelUsage          *prometheus.CounterVec
	ModelFailures       *prometheus.CounterVec
}

// NewMetrics constructs a metrics registry with all collectors registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	toolRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "codevet_tool_runs_total",
		Help: "Tool invocations by kind and outcome",
	}, []string{"kind", "outcome"})

	toolDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "codevet_tool_duration_seconds",
		Help:    "Tool invocation wall time in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	scores := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "codevet_verdict_score",
		Help:    "Health scores of vetted fragments",
		Buckets: prometheus.LinearBuckets(10, 10, 10),
	}, []string{"grade"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "codevet_proposal_transitions_total",
		Help: "Change proposal state transitions",
	}, []string{"from", "to"})

	budgetEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "codevet_budget_events_total",
		Help: "Context budget adjustments (excerpt_truncated, message_dropped, overflow)",
	}, []string{"event"})

	reqs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "codevet_chat_requests_total",
		Help: "Total assistant chat turns",
	}, []string{"finish_reason"})

	durs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "codevet_chat_duration_seconds",
		Help:    "Assistant chat turn duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"finish_reason"})

	active := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "codevet_transport_active_sessions",
		Help: "Active streaming sessions by transport",
	}, []string{"transport"})

	trErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "codevet_transport_errors_total",
		Help: "Transport-level errors (handler/streaming) by transport and reason",
	}, []string{"transport", "reason"})

	modelUsage := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "codevet_model_usage_total",
		Help: "Model selections by assistant mode",
	}, []string{"mode", "model"})

	modelFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "codevet_model_failures_total",
		Help: "Model failures by assistant mode and model",
	}, []string{"mode", "model"})

	reg.MustRegister(toolRuns, toolDur, scores, transitions, budgetEvents, reqs, durs, active, trErrors, modelUsage, modelFailures)

	return &Metrics{
		registry:            reg,
		ToolRuns:            toolRuns,
		ToolDuration:        toolDur,
		VerdictScores:       scores,
		ProposalTransitions: transitions,
		BudgetEvents:        budgetEvents,
		ChatRequests:        reqs,
		ChatDuration:        durs,
		ActiveSession:       active,
		TransportErrs:       trErrors,
		ModelUsage:          modelUsage,
		ModelFailures:       modelFailures,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordToolRun records one tool invocation.
func (m *Metrics) RecordToolRun(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolRuns.WithLabelValues(orUnknown(kind), orUnknown(outcome)).Inc()
	m.ToolDuration.WithLabelValues(orUnknown(kind)).Observe(duration.Seconds())
}

// RecordVerdict records a fragment score.
func (m *Metrics) RecordVerdict(grade string, score int) {
	if m == nil {
		return
	}
	m.VerdictScores.WithLabelValues(orUnknown(grade)).Observe(float64(score))
}

// RecordProposalTransition counts a state change. from is empty for newly created proposals.
func (m *Metrics) RecordProposalTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.ProposalTransitions.WithLabelValues(from, orUnknown(to)).Inc()
}

// RecordBudget records how the context budget shaped a payload.
func (m *Metrics) RecordBudget(excerptTruncated bool, dropped int, overflow bool) {
	if m == nil {
		return
	}
	if excerptTruncated {
		m.BudgetEvents.WithLabelValues("excerpt_truncated").Inc()
	}
	if dropped > 0 {
		m.BudgetEvents.WithLabelValues("message_dropped").Add(float64(dropped))
	}
	if overflow {
		m.BudgetEvents.WithLabelValues("overflow").Inc()
	}
}

// RecordChat records counts and duration of one assistant turn.
func (m *Metrics) RecordChat(finishReason string, duration time.Duration) {
	if m == nil {
		return
	}
	finishReason = orUnknown(finishReason)
	m.ChatRequests.WithLabelValues(finishReason).Inc()
	m.ChatDuration.WithLabelValues(finishReason).Observe(duration.Seconds())
}

// IncActiveSessions increments the active session gauge.
func (m *Metrics) IncActiveSessions(transport string) {
	if m == nil {
		return
	}
	m.ActiveSession.WithLabelValues(transport).Inc()
}

// DecActiveSessions decrements the active session gauge.
func (m *Metrics) DecActiveSessions(transport string) {
	if m == nil {
		return
	}
	m.ActiveSession.WithLabelValues(transport).Dec()
}

// RecordTransportError records a transport-level error.
func (m *Metrics) RecordTransportError(transport, reason string) {
	if m == nil {
		return
	}
	m.TransportErrs.WithLabelValues(orUnknown(transport), orUnknown(reason)).Inc()
}

// RecordModelUsage increments usage counter for a mode/model selection.
func (m *Metrics) RecordModelUsage(mode, model string) {
	if m == nil {
		return
	}
	m.ModelUsage.WithLabelValues(orUnknown(mode), orUnknown(model)).Inc()
}

// RecordModelFailure increments failure counter for a mode/model selection.
func (m *Metrics) RecordModelFailure(mode, model string) {
	if m == nil {
		return
	}
	m.ModelFailures.WithLabelValues(orUnknown(mode), orUnknown(model)).Inc()
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
