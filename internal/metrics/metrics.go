// Package metrics registers the Prometheus collectors the AgentSet exposes
// on /metrics: agent counts by status, step latencies, and the lifecycle
// health-score gauge (spec §4.6).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AgentsByStatus tracks the current number of agents in each AgentStatus.
	AgentsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agentset",
		Name:      "agents_by_status",
		Help:      "Number of agents currently in each lifecycle status.",
	}, []string{"status"})

	// StepDuration observes wall-clock time spent executing a step, by verb.
	StepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentset",
		Name:      "step_duration_seconds",
		Help:      "Time spent executing a step, labeled by actionVerb.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"action_verb"})

	// StepOutcomes counts completed step executions by terminal status.
	StepOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentset",
		Name:      "step_outcomes_total",
		Help:      "Count of steps reaching a terminal status.",
	}, []string{"status"})

	// AgentHealthScore reports the most recent health score computed by the
	// lifecycle manager for each agent.
	AgentHealthScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agentset",
		Name:      "agent_health_score",
		Help:      "Most recent health score (0-100) per agent.",
	}, []string{"agent_id"})

	// DelegationsTotal counts delegation outcomes.
	DelegationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentset",
		Name:      "delegations_total",
		Help:      "Count of task delegations by outcome.",
	}, []string{"outcome"})

	// ConflictsTotal counts conflict resolutions by strategy and outcome.
	ConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentset",
		Name:      "conflicts_total",
		Help:      "Count of resolved conflicts by strategy and outcome.",
	}, []string{"strategy", "outcome"})
)

// Registry bundles all collectors for a single prometheus.Registerer call.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(AgentsByStatus, StepDuration, StepOutcomes, AgentHealthScore, DelegationsTotal, ConflictsTotal)
}
