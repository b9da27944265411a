// Package model holds the transient request/response types and the model
// registry entries the AI router scores against. None of these are
// persisted as-is; only a promoted summary becomes a
// pkg/workflow/model.AIInsight.
package model

import "time"

// TaskType is the kind of AI operation being requested.
type TaskType string

const (
	TaskSummarize TaskType = "summarize"
	TaskAnalyze TaskType = "analyze"
	TaskSuggest TaskType = "suggest"
	TaskClassify TaskType = "classify"
	TaskExtract TaskType = "extract"
	TaskTranslate TaskType = "translate"
	TaskGenerate TaskType = "generate"
)

// Strategy governs how the router scores candidate models for a request.
type Strategy string

const (
	StrategyPerformance Strategy = "performance"
	StrategyCost Strategy = "cost"
	StrategySpeed Strategy = "speed"
	StrategyBalanced Strategy = "balanced"
	StrategyFallback Strategy = "fallback"
)

// LatencyClass buckets a model's expected response time.
type LatencyClass string

const (
	LatencyFast LatencyClass = "fast"
	LatencyStandard LatencyClass = "standard"
	LatencySlow LatencyClass = "slow"
)

// Capability is a tag describing what a model is good at.
type Capability string

const (
	CapabilityReasoning Capability = "reasoning"
	CapabilityAnalysis Capability = "analysis"
	CapabilityCoding Capability = "coding"
	CapabilityCreative Capability = "creative"
	CapabilityFast Capability = "fast"
	CapabilityMultimodal Capability = "multimodal"
)

// ModelDescriptor is one registry entry.
type ModelDescriptor struct {
	ProviderID string
	ModelID string
	QualityRank int // 1 = best
	CostPerInputUnit float64
	CostPerOutputUnit float64
	MaxContext int
	Capabilities map[Capability]bool
	ExpectedLatencyClass LatencyClass
}

// HasCapability reports whether the descriptor carries capability tag c.
// The router maps each task type onto one capability tag for filtering;
// several task types share a tag.
func (d ModelDescriptor) HasCapability(c Capability) bool {
	return d.Capabilities != nil && d.Capabilities[c]
}

// Request is a transient AI request.
type Request struct {
	TaskType TaskType
	Content string
	SystemPrompt string
	MaxTokens int
	Temperature float64
	Context map[string]any
}

// FinishReason describes why a provider stopped generating.
type FinishReason string

const (
	FinishStop FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishError FinishReason = "error"
)

// Response is a transient AI response.
type Response struct {
	Content string
	ModelUsed string
	ProviderUsed string
	TokensInput int
	TokensOutput int
	CostEstimate float64
	LatencyMS int64
	FinishedReason FinishReason
}

// SelectionCriteria parameterizes router.Select.
type SelectionCriteria struct {
	TaskType TaskType
	Strategy Strategy
	MaxCost *float64
	MinQuality *int
	PreferProvider string
}

// HealthStatus is a provider's current operating state.
type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown HealthStatus = "down"
)

// Health is the result of a provider HealthCheck call.
type Health struct {
	Status HealthStatus
	LatencySampleMS int64
	ErrorRateWindow float64
	CheckedAt time.Time
}
