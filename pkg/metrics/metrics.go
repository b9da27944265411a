// Package metrics registers the prometheus collectors exported by the
// workflow engine and the AI router, following the
// "<component>_<noun>_total"/"_seconds" naming used across the wider stack.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InstancesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowd_instances_created_total",
		Help: "Workflow instances created, labeled by definition key.",
	}, []string{"definition_key"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowd_transitions_total",
		Help: "Workflow transitions applied, labeled by definition key, trigger, and outcome.",
	}, []string{"definition_key", "trigger", "outcome"})

	TransitionDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "workflowd_transition_duration_seconds",
		Help:    "Time to apply a single Advance call, from read to commit.",
		Buckets: prometheus.DefBuckets,
	}, []string{"definition_key"})

	OptimisticRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowd_optimistic_retries_total",
		Help: "Advance retries caused by an optimistic concurrency conflict.",
	}, []string{"definition_key"})

	ActionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowd_action_failures_total",
		Help: "On-enter action failures, labeled by action name and execution mode.",
	}, []string{"action", "execution_mode"})

	OverdueInstancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowd_overdue_instances_total",
		Help: "Instances newly marked overdue by the SLA sweep.",
	}, []string{"definition_key"})

	ActiveInstances = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "workflowd_active_instances",
		Help: "Instances currently in a non-terminal state, labeled by organization.",
	}, []string{"organization_id"})

	AIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowd_ai_requests_total",
		Help: "AI router requests, labeled by provider, model, and outcome.",
	}, []string{"provider", "model", "outcome"})

	AIRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "workflowd_ai_request_duration_seconds",
		Help:    "AI provider call latency, labeled by provider and model.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "model"})

	AIFailoversTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowd_ai_failovers_total",
		Help: "Times the router excluded a provider mid-request and re-selected.",
	}, []string{"from_provider", "reason"})

	AIProviderHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "workflowd_ai_provider_health",
		Help: "Provider health as a gauge: 1=healthy, 0.5=degraded, 0=down.",
	}, []string{"provider"})

	AICostEstimateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowd_ai_cost_estimate_usd_total",
		Help: "Cumulative estimated USD cost of AI requests, labeled by provider.",
	}, []string{"provider"})
)

// ProviderHealthValue maps a qualitative health reading to the gauge scale
// used by AIProviderHealth.
func ProviderHealthValue(healthy, degraded bool) float64 {
	switch {
	case healthy:
		return 1
	case degraded:
		return 0.5
	default:
		return 0
	}
}
