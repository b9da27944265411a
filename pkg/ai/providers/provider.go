// Package providers defines the AI Provider interface every concrete
// integration (anthropic, bedrock, openai) implements, plus the error
// taxonomy the router classifies on.
package providers

import (
	"context"

	aimodel "github.com/workflowdev/workflowd/pkg/ai/model"
)

// ProviderError classifies a provider failure so the router can decide
// whether to retry, fail over, or propagate.
type ProviderError string

const (
	ErrRateLimited ProviderError = "rate_limited"
	ErrBudgetExceeded ProviderError = "budget_exceeded"
	ErrTimeout ProviderError = "timeout"
	ErrUpstream5xx ProviderError = "upstream_5xx"
	ErrInvalidRequest ProviderError = "invalid_request"
	ErrUnavailable ProviderError = "unavailable"
)

// AIError wraps a classified provider failure.
type AIError struct {
	Kind ProviderError
	Message string
	Cause error
}

func (e *AIError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *AIError) Unwrap() error { return e.Cause }

// NewAIError builds an AIError of the given kind.
func NewAIError(kind ProviderError, message string, cause error) *AIError {
	return &AIError{Kind: kind, Message: message, Cause: cause}
}

// Retryable reports whether the router should attempt failover for this
// error kind, versus propagating it unchanged.
func (k ProviderError) Retryable() bool {
	switch k {
	case ErrRateLimited, ErrBudgetExceeded, ErrTimeout, ErrUpstream5xx, ErrUnavailable:
		return true
	case ErrInvalidRequest:
		return false
	default:
		return false
	}
}

// Provider is the interface every AI integration implements.
type Provider interface {
	// ID is the stable provider identifier used in routing/health/budget
	// bookkeeping (e.g. "anthropic", "bedrock", "openai").
	ID() string
	ListModels(ctx context.Context) ([]aimodel.ModelDescriptor, error)
	Process(ctx context.Context, req aimodel.Request, modelID string) (*aimodel.Response, error)
	HealthCheck(ctx context.Context) (aimodel.Health, error)
	EstimateCost(ctx context.Context, req aimodel.Request, modelID string) (float64, error)
}
