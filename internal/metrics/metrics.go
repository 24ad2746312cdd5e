package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cortexadvisor"

// Turn outcomes.
const (
	OutcomeComplete  = "complete"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Tool call statuses.
const (
	ToolOK       = "ok"
	ToolError    = "error"
	ToolNotFound = "not_found"
)

// Model call phases.
const (
	PhasePlan  = "plan"
	PhaseFinal = "final"
)

type Metrics struct {
	Turns      *prometheus.CounterVec
	ToolCalls  *prometheus.CounterVec
	ModelCalls *prometheus.CounterVec
}

// New registers the counters on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turns processed, by outcome.",
		}, []string{"outcome"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Plan steps dispatched, by tool and status.",
		}, []string{"tool", "status"}),
		ModelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Chat model calls, by phase.",
		}, []string{"phase"}),
	}
	if reg != nil {
		reg.MustRegister(m.Turns, m.ToolCalls, m.ModelCalls)
	}
	return m
}

func (m *Metrics) Turn(outcome string) {
	if m != nil {
		m.Turns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Tool(name, status string) {
	if m != nil {
		m.ToolCalls.WithLabelValues(name, status).Inc()
	}
}

func (m *Metrics) Model(phase string) {
	if m != nil {
		m.ModelCalls.WithLabelValues(phase).Inc()
	}
}

// Handler exposes gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
