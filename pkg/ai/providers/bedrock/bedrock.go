// Package bedrock implements providers.Provider against AWS Bedrock's
// Converse API via github.com/aws/aws-sdk-go-v2/service/bedrockruntime,
// exposing Claude and Titan models hosted on Bedrock as a second,
// independently-failing provider.
package bedrock

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"

	aimodel "github.com/workflowdev/workflowd/pkg/ai/model"
	"github.com/workflowdev/workflowd/pkg/ai/providers"
)

// Config configures the Bedrock region and the models this deployment has
// been granted access to.
type Config struct {
	Region string
	Models []aimodel.ModelDescriptor
}

// Provider is the Bedrock-backed providers.Provider.
type Provider struct {
	client *bedrockruntime.Client
	models []aimodel.ModelDescriptor
	logger *logrus.Logger
}

// New builds a Provider from the default AWS credential chain plus cfg.Region.
func New(ctx context.Context, cfg Config, logger *logrus.Logger) (*Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, providers.NewAIError(providers.ErrUnavailable, "failed to load AWS config", err)
	}
	models := cfg.Models
	if len(models) == 0 {
		models = defaultModels()
	}
	return &Provider{
		client: bedrockruntime.NewFromConfig(awsCfg),
		models: models,
		logger: logger,
	}, nil
}

func defaultModels() []aimodel.ModelDescriptor {
	return []aimodel.ModelDescriptor{
		{
			ProviderID: "bedrock", ModelID: "anthropic.claude-3-5-sonnet-20241022-v2:0",
			QualityRank: 2, CostPerInputUnit: 0.000003, CostPerOutputUnit: 0.000015,
			MaxContext: 200_000, ExpectedLatencyClass: aimodel.LatencyStandard,
			Capabilities: caps(aimodel.CapabilityAnalysis, aimodel.CapabilityCoding, aimodel.CapabilityReasoning),
		},
		{
			ProviderID: "bedrock", ModelID: "amazon.titan-text-premier-v1:0",
			QualityRank: 5, CostPerInputUnit: 0.0000005, CostPerOutputUnit: 0.0000015,
			MaxContext: 32_000, ExpectedLatencyClass: aimodel.LatencyFast,
			Capabilities: caps(aimodel.CapabilityFast),
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

func (p *Provider) ID() string { return "bedrock" }

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

	maxTokens := int32(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(modelID),
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: req.Content}},
			},
		},
		InferenceConfig: &types.InferenceConfiguration{MaxTokens: aws.Int32(maxTokens)},
	}
	if req.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
	}

	start := time.Now()
	out, err := p.client.Converse(ctx, input)
	latency := time.Since(start)
	if err != nil {
		return nil, translateError(err)
	}

	content := ""
	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if text, ok := block.(*types.ContentBlockMemberText); ok {
				content += text.Value
			}
		}
	}

	finish := aimodel.FinishStop
	if out.StopReason == types.StopReasonMaxTokens {
		finish = aimodel.FinishLength
	}

	cost, _ := p.EstimateCost(ctx, req, modelID)

	resp := &aimodel.Response{
		Content: content,
		ModelUsed: modelID,
		ProviderUsed: p.ID(),
		CostEstimate: cost,
		LatencyMS: latency.Milliseconds(),
		FinishedReason: finish,
	}
	if out.Usage != nil {
		resp.TokensInput = int(aws.ToInt32(out.Usage.InputTokens))
		resp.TokensOutput = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	return resp, nil
}

func (p *Provider) HealthCheck(ctx context.Context) (aimodel.Health, error) {
	start := time.Now()
	_, err := p.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(p.models[len(p.models)-1].ModelID),
		Messages: []types.Message{
			{Role: types.ConversationRoleUser, Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "ping"}}},
		},
		InferenceConfig: &types.InferenceConfiguration{MaxTokens: aws.Int32(1)},
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

func translateError(err error) error {
	var throttled *types.ThrottlingException
	if errors.As(err, &throttled) {
		return providers.NewAIError(providers.ErrRateLimited, "bedrock throttled", err)
	}
	var validation *types.ValidationException
	if errors.As(err, &validation) {
		return providers.NewAIError(providers.ErrInvalidRequest, "bedrock rejected request", err)
	}
	var serviceUnavailable *types.ServiceUnavailableException
	if errors.As(err, &serviceUnavailable) {
		return providers.NewAIError(providers.ErrUnavailable, "bedrock unavailable", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return providers.NewAIError(providers.ErrUpstream5xx, "bedrock upstream error: "+apiErr.ErrorCode(), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return providers.NewAIError(providers.ErrTimeout, "bedrock call timed out", err)
	}
	return providers.NewAIError(providers.ErrUnavailable, "bedrock call failed", err)
}
