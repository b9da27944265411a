// Package openai implements providers.Provider over an OpenAI-compatible
// chat-completions endpoint via github.com/tmc/langchaingo's llms/openai
// binding. It is the default "fallback" strategy provider:
// langchaingo's uniform llms.Model interface lets this package cover any
// OpenAI-compatible deployment (OpenAI itself, Azure OpenAI, local
// gateways) without a bespoke client.
package openai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	aimodel "github.com/workflowdev/workflowd/pkg/ai/model"
	"github.com/workflowdev/workflowd/pkg/ai/providers"
)

// Config configures the langchaingo OpenAI client.
type Config struct {
	APIKey string
	BaseURL string
	Models []aimodel.ModelDescriptor
}

// Provider is the langchaingo-backed providers.Provider.
type Provider struct {
	llm llms.Model
	models []aimodel.ModelDescriptor
	logger *logrus.Logger
}

// New builds a Provider around a single underlying llms.Model created with
// no default model; Process selects the model on each call via
// llms.WithModel.
func New(cfg Config, logger *logrus.Logger) (*Provider, error) {
	opts := []openai.Option{}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, providers.NewAIError(providers.ErrUnavailable, "failed to build openai client", err)
	}
	models := cfg.Models
	if len(models) == 0 {
		models = defaultModels()
	}
	return &Provider{llm: llm, models: models, logger: logger}, nil
}

func defaultModels() []aimodel.ModelDescriptor {
	return []aimodel.ModelDescriptor{
		{
			ProviderID: "openai", ModelID: "gpt-4o",
			QualityRank: 2, CostPerInputUnit: 0.0000025, CostPerOutputUnit: 0.00001,
			MaxContext: 128_000, ExpectedLatencyClass: aimodel.LatencyStandard,
			Capabilities: caps(aimodel.CapabilityAnalysis, aimodel.CapabilityCoding, aimodel.CapabilityMultimodal),
		},
		{
			ProviderID: "openai", ModelID: "gpt-4o-mini",
			QualityRank: 3, CostPerInputUnit: 0.00000015, CostPerOutputUnit: 0.0000006,
			MaxContext: 128_000, ExpectedLatencyClass: aimodel.LatencyFast,
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

func (p *Provider) ID() string { return "openai" }

func (p *Provider) ListModels(ctx context.Context) ([]aimodel.ModelDescriptor, error) {
	return p.models, nil
}

func (p *Provider) EstimateCost(ctx context.Context, req aimodel.Request, modelID string) (float64, error) {
	desc, ok := p.describe(modelID)
	if !ok {
		return 0, providers.NewAIError(providers.ErrInvalidRequest, "unknown model: "+modelID, nil)
	}
	inputUnits := float64(len(req.Content)+len(req.SystemPrompt)) / 4
	outputUnits := float64(req.MaxTokens)
	if outputUnits == 0 {
		outputUnits = 512
	}
	return inputUnits*desc.CostPerInputUnit + outputUnits*desc.CostPerOutputUnit, nil
}

func (p *Provider) Process(ctx context.Context, req aimodel.Request, modelID string) (*aimodel.Response, error) {
	if _, ok := p.describe(modelID); !ok {
		return nil, providers.NewAIError(providers.ErrInvalidRequest, "unknown model: "+modelID, nil)
	}

	content := []llms.MessageContent{}
	if req.SystemPrompt != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, req.Content))

	callOpts := []llms.CallOption{llms.WithModel(modelID)}
	if req.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(req.Temperature))
	}

	start := time.Now()
	out, err := p.llm.GenerateContent(ctx, content, callOpts...)
	latency := time.Since(start)
	if err != nil {
		return nil, translateError(err)
	}
	if len(out.Choices) == 0 {
		return nil, providers.NewAIError(providers.ErrUpstream5xx, "openai returned no choices", nil)
	}
	choice := out.Choices[0]

	finish := aimodel.FinishStop
	if strings.EqualFold(choice.StopReason, "length") {
		finish = aimodel.FinishLength
	}

	cost, _ := p.EstimateCost(ctx, req, modelID)

	resp := &aimodel.Response{
		Content: choice.Content,
		ModelUsed: modelID,
		ProviderUsed: p.ID(),
		CostEstimate: cost,
		LatencyMS: latency.Milliseconds(),
		FinishedReason: finish,
	}
	if choice.GenerationInfo != nil {
		if v, ok := choice.GenerationInfo["PromptTokens"].(int); ok {
			resp.TokensInput = v
		}
		if v, ok := choice.GenerationInfo["CompletionTokens"].(int); ok {
			resp.TokensOutput = v
		}
	}
	return resp, nil
}

func (p *Provider) HealthCheck(ctx context.Context) (aimodel.Health, error) {
	start := time.Now()
	_, err := p.llm.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "ping")},
		llms.WithModel(p.models[len(p.models)-1].ModelID), llms.WithMaxTokens(1))
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

func translateError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return providers.NewAIError(providers.ErrRateLimited, "openai rate limited", err)
	case strings.Contains(msg, "deadline") || errors.Is(err, context.DeadlineExceeded):
		return providers.NewAIError(providers.ErrTimeout, "openai call timed out", err)
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "400"):
		return providers.NewAIError(providers.ErrInvalidRequest, "openai rejected request", err)
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503"):
		return providers.NewAIError(providers.ErrUpstream5xx, "openai upstream error", err)
	default:
		return providers.NewAIError(providers.ErrUnavailable, "openai call failed", err)
	}
}
