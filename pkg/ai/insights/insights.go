// Package insights turns an AI router response into a model.AIInsight and,
// for transitions configured with an auto-advance trigger, decides whether
// the insight's confidence clears the bar to fire it automatically.
// Grounded in the confidence-scored prediction pattern, where every
// prediction carries a Confidence and callers branch on it before acting.
// Here the "prediction" is the AI response itself.
package insights

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	aimodel "github.com/workflowdev/workflowd/pkg/ai/model"
	"github.com/workflowdev/workflowd/pkg/ai/router"
	"github.com/workflowdev/workflowd/pkg/authctx"
	"github.com/workflowdev/workflowd/pkg/events"
	"github.com/workflowdev/workflowd/pkg/repository"
	"github.com/workflowdev/workflowd/pkg/workflow/actions"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

// Generator runs run_ai_insight actions: call the router, persist the
// resulting AIInsight, and optionally fire an auto-advance trigger back into
// the state machine when confidence clears the configured threshold.
type Generator struct {
	Router     *router.Manager
	Store      repository.InsightRepository
	Publisher  events.Publisher
	Logger     *logrus.Logger
	clock      func() time.Time
}

// New builds a Generator.
func New(r *router.Manager, store repository.InsightRepository, publisher events.Publisher, logger *logrus.Logger) *Generator {
	return &Generator{Router: r, Store: store, Publisher: publisher, Logger: logger, clock: time.Now}
}

// Params is the shape of an ActionDeclaration.Params for run_ai_insight.
type Params struct {
	Kind               model.InsightKind
	TaskType           aimodel.TaskType
	Strategy           aimodel.Strategy
	Prompt             string
	SystemPrompt       string
	ConfidenceThreshold float64
	AutoAdvanceTrigger string
}

// ParseParams extracts Params from an ActionDeclaration's free-form map,
// applying conservative defaults so a minimal declaration still works.
func ParseParams(raw map[string]any) Params {
	p := Params{
		Kind:     model.InsightKind(stringOr(raw, "kind", string(model.InsightAnalyze))),
		TaskType: aimodel.TaskType(stringOr(raw, "task_type", string(aimodel.TaskAnalyze))),
		Strategy: aimodel.Strategy(stringOr(raw, "strategy", string(aimodel.StrategyBalanced))),
		Prompt:   stringOr(raw, "prompt", ""),
		SystemPrompt: stringOr(raw, "system_prompt", ""),
		ConfidenceThreshold: floatOr(raw, "confidence_threshold", 0.8),
		AutoAdvanceTrigger: stringOr(raw, "auto_advance_trigger", ""),
	}
	return p
}

func stringOr(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func floatOr(m map[string]any, key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

// Outcome is what running run_ai_insight produced.
type Outcome struct {
	Insight         *model.AIInsight
	ShouldAutoAdvance bool
	Trigger         string
}

// Generate calls the router with Params, persists the resulting insight
// against instance, and reports whether its confidence clears the
// configured threshold for AutoAdvanceTrigger.
func (g *Generator) Generate(ctx context.Context, instance *model.WorkflowInstance, actor authctx.Context, p Params) (Outcome, error) {
	if p.Prompt == "" {
		return Outcome{}, fmt.Errorf("run_ai_insight requires params.prompt")
	}

	req := aimodel.Request{
		TaskType:     p.TaskType,
		Content:      p.Prompt,
		SystemPrompt: p.SystemPrompt,
		Context:      instance.Context,
	}
	criteria := aimodel.SelectionCriteria{TaskType: p.TaskType, Strategy: p.Strategy}

	resp, err := g.Router.Process(ctx, req, criteria)
	if err != nil {
		return Outcome{}, fmt.Errorf("run_ai_insight: %w", err)
	}

	confidence := confidenceFromResponse(resp)

	insight := &model.AIInsight{
		ID:         uuid.NewString(),
		InstanceID: instance.ID,
		Kind:       p.Kind,
		Content:    resp.Content,
		Confidence: confidence,
		ModelID:    resp.ModelUsed,
		ProviderID: resp.ProviderUsed,
		CreatedAt:  g.now(),
	}

	if g.Store != nil {
		if err := g.Store.SaveInsight(ctx, insight); err != nil {
			return Outcome{}, fmt.Errorf("failed to persist insight: %w", err)
		}
	}

	if g.Publisher != nil {
		_ = g.Publisher.Publish(ctx, events.Event{
			Kind: events.KindInsightAttached, InstanceID: instance.ID, OrgID: instance.OrganizationID, At: g.now(),
			Payload: map[string]any{"insight_id": insight.ID, "kind": string(insight.Kind), "confidence": insight.Confidence},
		})
	}

	out := Outcome{Insight: insight}
	if p.AutoAdvanceTrigger != "" && confidence >= p.ConfidenceThreshold {
		out.ShouldAutoAdvance = true
		out.Trigger = p.AutoAdvanceTrigger
	}
	return out, nil
}

func (g *Generator) now() time.Time {
	if g.clock != nil {
		return g.clock()
	}
	return time.Now()
}

// confidenceFromResponse derives a 0..1 confidence from the provider
// response. Providers in this codebase don't return a native confidence
// score, so this falls back to a finish-reason heuristic: a clean stop is
// high confidence, a length-truncated or otherwise non-stop finish is
// penalized since the model may not have completed its reasoning.
func confidenceFromResponse(resp *aimodel.Response) float64 {
	switch resp.FinishedReason {
	case aimodel.FinishStop:
		return 0.9
	case aimodel.FinishLength:
		return 0.6
	default:
		return 0.5
	}
}

// Action adapts Generator into a pkg/workflow/actions.Action named
// "run_ai_insight", living in this package rather than pkg/workflow/actions
// so that package need not depend on pkg/ai/router.
type Action struct {
	Generator *Generator
	// OnAutoAdvance is invoked when an insight's confidence clears its
	// threshold; the engine wires this to its own Advance method so the
	// state machine, not this package, owns transition semantics.
	OnAutoAdvance func(ctx context.Context, instanceID, trigger string, actor authctx.Context) error
}

var _ actions.Action = (*Action)(nil)

func (a *Action) Name() string { return "run_ai_insight" }

func (a *Action) Execute(ctx context.Context, ec actions.ExecutionContext) error {
	p := ParseParams(ec.Declaration.Params)
	out, err := a.Generator.Generate(ctx, ec.Instance, ec.Actor, p)
	if err != nil {
		return err
	}
	if out.ShouldAutoAdvance && a.OnAutoAdvance != nil {
		return a.OnAutoAdvance(ctx, ec.Instance.ID, out.Trigger, ec.Actor)
	}
	return nil
}
