package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters for the conversational workflow engine. A nil
// receiver is a no-op, so wiring metrics is optional everywhere.
type EngineMetrics struct {
	turnsTotal     *prometheus.CounterVec
	toolCallsTotal *prometheus.CounterVec
	outcomesTotal  *prometheus.CounterVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Total conversation turns processed",
		}, []string{"flow"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "engine",
			Name:      "tool_calls_total",
			Help:      "Total EMR gateway calls by operation and status",
		}, []string{"operation", "status"}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "engine",
			Name:      "outcomes_total",
			Help:      "Total terminated flows by outcome",
		}, []string{"flow", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.toolCallsTotal, m.outcomesTotal)
	return m
}

func (m *EngineMetrics) ObserveTurn(flow string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(flow).Inc()
}

func (m *EngineMetrics) ObserveToolCall(operation, status string) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(operation, status).Inc()
}

func (m *EngineMetrics) ObserveOutcome(flow, outcome string) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(flow, outcome).Inc()
}
