package registry

import (
	"context"
	"testing"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/workflow/guards"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

type memStore struct {
	byKey map[string]map[int]*model.WorkflowDefinition
}

func newMemStore() *memStore {
	return &memStore{byKey: make(map[string]map[int]*model.WorkflowDefinition)}
}

func (s *memStore) SaveDefinition(ctx context.Context, def *model.WorkflowDefinition) error {
	if s.byKey[def.Key] == nil {
		s.byKey[def.Key] = make(map[int]*model.WorkflowDefinition)
	}
	s.byKey[def.Key][def.Version] = def
	return nil
}

func (s *memStore) GetDefinition(ctx context.Context, key string, version int) (*model.WorkflowDefinition, error) {
	versions, ok := s.byKey[key]
	if !ok {
		return nil, apperrors.NewNotFoundError("definition")
	}
	def, ok := versions[version]
	if !ok {
		return nil, apperrors.NewNotFoundError("definition")
	}
	return def, nil
}

func (s *memStore) GetLatestDefinition(ctx context.Context, key string) (*model.WorkflowDefinition, error) {
	versions, ok := s.byKey[key]
	if !ok {
		return nil, apperrors.NewNotFoundError("definition")
	}
	best := -1
	for v := range versions {
		if v > best {
			best = v
		}
	}
	if best == -1 {
		return nil, apperrors.NewNotFoundError("definition")
	}
	return versions[best], nil
}

func (s *memStore) GetDefinitionByID(ctx context.Context, id string) (*model.WorkflowDefinition, error) {
	for _, versions := range s.byKey {
		for _, def := range versions {
			if def.ID == id {
				return def, nil
			}
		}
	}
	return nil, apperrors.NewNotFoundError("definition")
}

func (s *memStore) ListDefinitions(ctx context.Context, filter ListFilter) ([]*model.WorkflowDefinition, error) {
	var out []*model.WorkflowDefinition
	for _, versions := range s.byKey {
		for _, def := range versions {
			out = append(out, def)
		}
	}
	return out, nil
}

func validApprovalDef() *model.WorkflowDefinition {
	return &model.WorkflowDefinition{
		Key:     "approval-v1",
		Version: 1,
		Name:    "Approval",
		States: []model.State{
			{Name: "draft", Initial: true},
			{Name: "submitted"},
			{Name: "approved", Terminal: model.TerminalSuccess},
			{Name: "rejected", Terminal: model.TerminalFailure},
		},
		Transitions: []model.Transition{
			{From: "draft", To: "submitted", Trigger: "submit"},
			{From: "submitted", To: "approved", Trigger: "approve", RequiredRoles: []string{"manager"}, GuardRef: "amount_ok"},
			{From: "submitted", To: "rejected", Trigger: "reject", RequiredRoles: []string{"manager"}},
		},
	}
}

func TestRegister_ValidDefinition(t *testing.T) {
	r := New(newMemStore(), guards.NewDefaultRegistry(), nil)
	def, err := r.Register(context.Background(), validApprovalDef())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.ID == "" {
		t.Fatal("expected an ID to be assigned")
	}

	got, err := r.GetByKey(context.Background(), "approval-v1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Key != def.Key || got.Version != def.Version {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, def)
	}
}

func TestRegister_RejectsDuplicateFromTrigger(t *testing.T) {
	def := validApprovalDef()
	def.Transitions = append(def.Transitions, model.Transition{From: "submitted", To: "rejected", Trigger: "reject"})

	r := New(newMemStore(), guards.NewDefaultRegistry(), nil)
	_, err := r.Register(context.Background(), def)
	if !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRegister_RejectsUnreachableState(t *testing.T) {
	def := validApprovalDef()
	def.States = append(def.States, model.State{Name: "orphan"})

	r := New(newMemStore(), guards.NewDefaultRegistry(), nil)
	_, err := r.Register(context.Background(), def)
	if !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRegister_RejectsTerminalWithOutgoingTransitions(t *testing.T) {
	def := validApprovalDef()
	def.Transitions = append(def.Transitions, model.Transition{From: "approved", To: "draft", Trigger: "reopen"})

	r := New(newMemStore(), guards.NewDefaultRegistry(), nil)
	_, err := r.Register(context.Background(), def)
	if !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRegister_RejectsMultipleInitialStates(t *testing.T) {
	def := validApprovalDef()
	def.States[1].Initial = true

	r := New(newMemStore(), guards.NewDefaultRegistry(), nil)
	_, err := r.Register(context.Background(), def)
	if !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRegister_RejectsUnknownGuardRef(t *testing.T) {
	def := validApprovalDef()
	def.Transitions[1].GuardRef = "does_not_exist"

	r := New(newMemStore(), guards.NewDefaultRegistry(), nil)
	_, err := r.Register(context.Background(), def)
	if !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestGetByKey_NotFound(t *testing.T) {
	r := New(newMemStore(), guards.NewDefaultRegistry(), nil)
	_, err := r.GetByKey(context.Background(), "missing", 0)
	if !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
