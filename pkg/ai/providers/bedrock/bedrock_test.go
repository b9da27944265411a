package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"

	aimodel "github.com/workflowdev/workflowd/pkg/ai/model"
	"github.com/workflowdev/workflowd/pkg/ai/providers"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(context.Background(), Config{Region: "us-east-1"}, logrus.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestIDIsBedrock(t *testing.T) {
	p := newTestProvider(t)
	if p.ID() != "bedrock" {
		t.Fatalf("expected provider id %q, got %q", "bedrock", p.ID())
	}
}

func TestNewFallsBackToDefaultModelsWhenNoneConfigured(t *testing.T) {
	p := newTestProvider(t)
	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) == 0 {
		t.Fatal("expected the default model catalog to be non-empty")
	}
}

func TestEstimateCostForUnknownModelErrors(t *testing.T) {
	p := newTestProvider(t)
	_, err := p.EstimateCost(context.Background(), aimodel.Request{Content: "hi"}, "does-not-exist")
	if err == nil {
		t.Fatal("expected an error estimating cost for an unknown model")
	}
}

func TestEstimateCostIsPositiveForAKnownModel(t *testing.T) {
	p := newTestProvider(t)
	models, _ := p.ListModels(context.Background())
	cost, err := p.EstimateCost(context.Background(), aimodel.Request{Content: "hello there"}, models[0].ModelID)
	if err != nil {
		t.Fatalf("EstimateCost: %v", err)
	}
	if cost <= 0 {
		t.Fatalf("expected a positive cost estimate, got %v", cost)
	}
}

func TestTranslateErrorClassifiesDeadlineExceeded(t *testing.T) {
	err := translateError(context.DeadlineExceeded)
	var aiErr *providers.AIError
	if !errors.As(err, &aiErr) || aiErr.Kind != providers.ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %+v", err)
	}
}

type fakeAPIError struct{ code string }

func (e fakeAPIError) Error() string                 { return "api error: " + e.code }
func (e fakeAPIError) ErrorCode() string             { return e.code }
func (e fakeAPIError) ErrorMessage() string          { return "fake upstream failure" }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

func TestTranslateErrorClassifiesGenericAPIErrorAsUpstream5xx(t *testing.T) {
	err := translateError(fakeAPIError{code: "InternalServerException"})
	var aiErr *providers.AIError
	if !errors.As(err, &aiErr) || aiErr.Kind != providers.ErrUpstream5xx {
		t.Fatalf("expected ErrUpstream5xx, got %+v", err)
	}
}

func TestTranslateErrorDefaultsToUnavailable(t *testing.T) {
	err := translateError(errors.New("some unexpected failure"))
	var aiErr *providers.AIError
	if !errors.As(err, &aiErr) || aiErr.Kind != providers.ErrUnavailable {
		t.Fatalf("expected ErrUnavailable, got %+v", err)
	}
}
