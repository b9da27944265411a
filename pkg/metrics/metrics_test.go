package metrics_test

import (
	"testing"

	"github.com/workflowdev/workflowd/pkg/metrics"
)

func TestProviderHealthValue(t *testing.T) {
	cases := []struct {
		healthy, degraded bool
		want              float64
	}{
		{healthy: true, degraded: false, want: 1},
		{healthy: false, degraded: true, want: 0.5},
		{healthy: false, degraded: false, want: 0},
	}
	for _, tc := range cases {
		if got := metrics.ProviderHealthValue(tc.healthy, tc.degraded); got != tc.want {
			t.Fatalf("ProviderHealthValue(%v, %v) = %v, want %v", tc.healthy, tc.degraded, got, tc.want)
		}
	}
}

func TestCountersAreRegisteredAndIncrementable(t *testing.T) {
	metrics.InstancesCreatedTotal.WithLabelValues("approval").Inc()
	metrics.TransitionsTotal.WithLabelValues("approval", "approve", "success").Inc()
	metrics.ActionFailuresTotal.WithLabelValues("run_ai_insight", "post_commit").Inc()
	metrics.AIRequestsTotal.WithLabelValues("anthropic", "claude-3", "success").Inc()
	metrics.AIProviderHealth.WithLabelValues("anthropic").Set(1)
}
