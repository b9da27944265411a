// Package anthropic implements providers.Provider against Anthropic's
// Messages API via github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	aimodel "github.com/workflowdev/workflowd/pkg/ai/model"
	"github.com/workflowdev/workflowd/pkg/ai/providers"
)

// Config configures the provider's own models and pricing, since Anthropic's
// API has no ListModels endpoint — the catalog is maintained here. The
// router reads it once, when the provider is registered; its health probe
// does not refresh it.
type Config struct {
	APIKey string
	Models []aimodel.ModelDescriptor
}

// Provider is the Anthropic-backed providers.Provider.
type Provider struct {
	client anthropic.Client
	models []aimodel.ModelDescriptor
	logger *logrus.Logger
}

// New builds a Provider. apiKey may be empty if ANTHROPIC_API_KEY is set in
// the environment, matching the SDK's own default resolution.
func New(cfg Config, logger *logrus.Logger) *Provider {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	models := cfg.Models
	if len(models) == 0 {
		models = defaultModels()
	}
	return &Provider{
		client: anthropic.NewClient(opts...),
		models: models,
		logger: logger,
	}
}

func defaultModels() []aimodel.ModelDescriptor {
	return []aimodel.ModelDescriptor{
		{
			ProviderID: "anthropic", ModelID: "claude-opus-4-1-20250805",
			QualityRank: 1, CostPerInputUnit: 0.000015, CostPerOutputUnit: 0.000075,
			MaxContext: 200_000, ExpectedLatencyClass: aimodel.LatencyStandard,
			Capabilities: caps(aimodel.CapabilityReasoning, aimodel.CapabilityAnalysis, aimodel.CapabilityCoding),
		},
		{
			ProviderID: "anthropic", ModelID: "claude-sonnet-4-5-20250929",
			QualityRank: 2, CostPerInputUnit: 0.000003, CostPerOutputUnit: 0.000015,
			MaxContext: 200_000, ExpectedLatencyClass: aimodel.LatencyFast,
			Capabilities: caps(aimodel.CapabilityAnalysis, aimodel.CapabilityCoding, aimodel.CapabilityFast),
		},
		{
			ProviderID: "anthropic", ModelID: "claude-haiku-4-5-20251001",
			QualityRank: 4, CostPerInputUnit: 0.0000008, CostPerOutputUnit: 0.000004,
			MaxContext: 200_000, ExpectedLatencyClass: aimodel.LatencyFast,
			Capabilities: caps(aimodel.CapabilityFast, aimodel.CapabilityCreative),
		},
	}
}

func caps(cs...aimodel.Capability) map[aimodel.Capability]bool {
	m := make(map[aimodel.Capability]bool, len(cs))
	for _, c := range cs {
		m[c] = true
	}
	return m
}

func (p *Provider) ID() string { return "anthropic" }

func (p *Provider) ListModels(ctx context.Context) ([]aimodel.ModelDescriptor, error) {
	return p.models, nil
}

func (p *Provider) EstimateCost(ctx context.Context, req aimodel.Request, modelID string) (float64, error) {
	desc, ok := p.describe(modelID)
	if !ok {
		return 0, providers.NewAIError(providers.ErrInvalidRequest, "unknown model: "+modelID, nil)
	}
	inputUnits := float64(estimateTokens(req.Content) + estimateTokens(req.SystemPrompt))
	outputUnits := float64(req.MaxTokens)
	if outputUnits == 0 {
		outputUnits = 512
	}
	return inputUnits*desc.CostPerInputUnit + outputUnits*desc.CostPerOutputUnit, nil
}

func (p *Provider) Process(ctx context.Context, req aimodel.Request, modelID string) (*aimodel.Response, error) {
	desc, ok := p.describe(modelID)
	if !ok {
		return nil, providers.NewAIError(providers.ErrInvalidRequest, "unknown model: "+modelID, nil)
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model: anthropic.Model(modelID),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Content)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	start := time.Now()
	msg, err := p.client.Messages.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return nil, translateError(err)
	}

	content := ""
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += text.Text
		}
	}

	finish := aimodel.FinishStop
	if string(msg.StopReason) == "max_tokens" {
		finish = aimodel.FinishLength
	}

	cost, _ := p.EstimateCost(ctx, req, modelID)
	_ = desc

	return &aimodel.Response{
		Content: content,
		ModelUsed: modelID,
		ProviderUsed: p.ID(),
		TokensInput: int(msg.Usage.InputTokens),
		TokensOutput: int(msg.Usage.OutputTokens),
		CostEstimate: cost,
		LatencyMS: latency.Milliseconds(),
		FinishedReason: finish,
	}, nil
}

func (p *Provider) HealthCheck(ctx context.Context) (aimodel.Health, error) {
	start := time.Now()
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model: anthropic.Model(p.models[len(p.models)-1].ModelID),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	latency := time.Since(start)
	if err != nil {
		return aimodel.Health{Status: aimodel.HealthDown, LatencySampleMS: latency.Milliseconds(), CheckedAt: time.Now()}, translateError(err)
	}
	return aimodel.Health{Status: aimodel.HealthHealthy, LatencySampleMS: latency.Milliseconds(), CheckedAt: time.Now()}, nil
}

func (p *Provider) describe(modelID string) (aimodel.ModelDescriptor, bool) {
	for _, d := range p.models {
		if d.ModelID == modelID {
			return d, true
		}
	}
	return aimodel.ModelDescriptor{}, false
}

// estimateTokens is a cheap, provider-agnostic heuristic (~4 chars/token)
// used only for pre-call cost estimation, never for billing truth.
func estimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return len(s)/4 + 1
}

func translateError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return providers.NewAIError(providers.ErrRateLimited, "anthropic rate limited", err)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return providers.NewAIError(providers.ErrTimeout, "anthropic timeout", err)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return providers.NewAIError(providers.ErrInvalidRequest, "anthropic rejected request", err)
		default:
			if apiErr.StatusCode >= 500 {
				return providers.NewAIError(providers.ErrUpstream5xx, "anthropic upstream error", err)
			}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return providers.NewAIError(providers.ErrTimeout, "anthropic call timed out", err)
	}
	return providers.NewAIError(providers.ErrUnavailable, "anthropic call failed", err)
}
