package insights

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"

	aimodel "github.com/workflowdev/workflowd/pkg/ai/model"
	"github.com/workflowdev/workflowd/pkg/ai/router"
	"github.com/workflowdev/workflowd/pkg/authctx"
	"github.com/workflowdev/workflowd/pkg/events"
	"github.com/workflowdev/workflowd/pkg/repository/memory"
	"github.com/workflowdev/workflowd/pkg/workflow/actions"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

// stubProvider is a minimal providers.Provider that always succeeds with a
// fixed finish reason, so tests can control the confidence
// confidenceFromResponse derives without a real AI backend.
type stubProvider struct {
	id     string
	finish aimodel.FinishReason
}

func (p *stubProvider) ID() string { return p.id }

func (p *stubProvider) ListModels(ctx context.Context) ([]aimodel.ModelDescriptor, error) {
	return []aimodel.ModelDescriptor{{
		ProviderID: p.id, ModelID: "stub-model", QualityRank: 1,
		Capabilities: map[aimodel.Capability]bool{
			aimodel.CapabilityAnalysis: true,
			aimodel.CapabilityFast:     true,
			aimodel.CapabilityReasoning: true,
			aimodel.CapabilityCreative: true,
			aimodel.CapabilityCoding:   true,
		},
	}}, nil
}

func (p *stubProvider) Process(ctx context.Context, req aimodel.Request, modelID string) (*aimodel.Response, error) {
	return &aimodel.Response{
		Content: "stub insight content", ModelUsed: modelID, ProviderUsed: p.id,
		FinishedReason: p.finish,
	}, nil
}

func (p *stubProvider) HealthCheck(ctx context.Context) (aimodel.Health, error) {
	return aimodel.Health{Status: aimodel.HealthHealthy}, nil
}

func (p *stubProvider) EstimateCost(ctx context.Context, req aimodel.Request, modelID string) (float64, error) {
	return 0, nil
}

func newTestRouter(t *testing.T, finish aimodel.FinishReason) *router.Manager {
	t.Helper()
	mgr := router.New(router.NewLimiter(nil), logrus.New())
	err := mgr.Register(context.Background(), router.Registration{
		Provider: &stubProvider{id: "stub", finish: finish}, Priority: 1, Enabled: true, RPM: 60,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return mgr
}

func TestGenerateRequiresPrompt(t *testing.T) {
	gen := New(newTestRouter(t, aimodel.FinishStop), memory.New(), events.NewInMemory(), logrus.New())
	instance := &model.WorkflowInstance{ID: "inst-1", OrganizationID: "org-1"}
	_, err := gen.Generate(context.Background(), instance, authctx.Context{}, Params{})
	if err == nil {
		t.Fatal("expected error when Params.Prompt is empty")
	}
}

func TestGeneratePersistsInsightAndPublishesEvent(t *testing.T) {
	store := memory.New()
	bus := events.NewInMemory()
	ch, unsubscribe := bus.Subscribe(context.Background(), events.KindInsightAttached)
	defer unsubscribe()

	gen := New(newTestRouter(t, aimodel.FinishStop), store, bus, logrus.New())
	instance := &model.WorkflowInstance{ID: "inst-1", OrganizationID: "org-1"}

	out, err := gen.Generate(context.Background(), instance, authctx.Context{}, Params{
		Kind: model.InsightAnalyze, TaskType: aimodel.TaskAnalyze, Strategy: aimodel.StrategyBalanced,
		Prompt: "summarize this",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Insight == nil || out.Insight.Content != "stub insight content" {
		t.Fatalf("unexpected insight: %+v", out.Insight)
	}

	saved, err := store.ListInsights(context.Background(), instance.ID)
	if err != nil {
		t.Fatalf("ListInsights: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("expected 1 persisted insight, got %d", len(saved))
	}

	select {
	case evt := <-ch:
		if evt.Kind != events.KindInsightAttached {
			t.Fatalf("expected KindInsightAttached, got %s", evt.Kind)
		}
	default:
		t.Fatal("expected an insight-attached event to be published")
	}
}

func TestGenerateAutoAdvanceRequiresConfidenceThreshold(t *testing.T) {
	// FinishLength maps to confidence 0.6 (see confidenceFromResponse).
	gen := New(newTestRouter(t, aimodel.FinishLength), memory.New(), events.NewInMemory(), logrus.New())
	instance := &model.WorkflowInstance{ID: "inst-1", OrganizationID: "org-1"}

	out, err := gen.Generate(context.Background(), instance, authctx.Context{}, Params{
		Prompt: "classify", AutoAdvanceTrigger: "advance", ConfidenceThreshold: 0.8,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.ShouldAutoAdvance {
		t.Fatal("expected confidence 0.6 to fall short of a 0.8 threshold")
	}
}

func TestGenerateAutoAdvanceFiresAboveThreshold(t *testing.T) {
	// FinishStop maps to confidence 0.9 (see confidenceFromResponse).
	gen := New(newTestRouter(t, aimodel.FinishStop), memory.New(), events.NewInMemory(), logrus.New())
	instance := &model.WorkflowInstance{ID: "inst-1", OrganizationID: "org-1"}

	out, err := gen.Generate(context.Background(), instance, authctx.Context{}, Params{
		Prompt: "classify", AutoAdvanceTrigger: "advance", ConfidenceThreshold: 0.8,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !out.ShouldAutoAdvance || out.Trigger != "advance" {
		t.Fatalf("expected auto-advance to fire with trigger %q, got %+v", "advance", out)
	}
}

func TestActionCallsOnAutoAdvanceWhenConfident(t *testing.T) {
	gen := New(newTestRouter(t, aimodel.FinishStop), memory.New(), events.NewInMemory(), logrus.New())
	instance := &model.WorkflowInstance{ID: "inst-1", OrganizationID: "org-1"}

	var calledWithTrigger string
	action := &Action{
		Generator: gen,
		OnAutoAdvance: func(ctx context.Context, instanceID, trigger string, actor authctx.Context) error {
			calledWithTrigger = trigger
			return nil
		},
	}

	err := action.Execute(context.Background(), actions.ExecutionContext{
		Instance: instance,
		Declaration: model.ActionDeclaration{
			Name: "run_ai_insight",
			Params: map[string]any{
				"prompt":               "classify",
				"auto_advance_trigger": "start_investigation",
				"confidence_threshold": 0.5,
			},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calledWithTrigger != "start_investigation" {
		t.Fatalf("expected OnAutoAdvance to be called with trigger %q, got %q", "start_investigation", calledWithTrigger)
	}
}

func TestParseParamsAppliesDefaults(t *testing.T) {
	p := ParseParams(map[string]any{"prompt": "hi"})
	if p.Kind != model.InsightAnalyze {
		t.Fatalf("expected default kind %q, got %q", model.InsightAnalyze, p.Kind)
	}
	if p.ConfidenceThreshold != 0.8 {
		t.Fatalf("expected default confidence threshold 0.8, got %v", p.ConfidenceThreshold)
	}
	if p.Prompt != "hi" {
		t.Fatalf("expected prompt to round-trip, got %q", p.Prompt)
	}
}
