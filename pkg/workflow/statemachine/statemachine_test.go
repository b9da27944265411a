package statemachine

import (
	"testing"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/authctx"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

type staticGuards map[string]Guard

func (g staticGuards) Lookup(ref string) (Guard, bool) {
	fn, ok := g[ref]
	return fn, ok
}

func approvalDefinition() *model.WorkflowDefinition {
	return &model.WorkflowDefinition{
		Key: "approval-v1",
		Version: 1,
		States: []model.State{
			{Name: "draft", Initial: true},
			{Name: "submitted"},
			{Name: "approved", Terminal: model.TerminalSuccess},
			{Name: "rejected", Terminal: model.TerminalFailure},
		},
		Transitions: []model.Transition{
			{From: "draft", To: "submitted", Trigger: "submit"},
			{From: "submitted", To: "draft", Trigger: "revise"},
			{From: "submitted", To: "approved", Trigger: "approve", RequiredRoles: []string{"manager"}, GuardRef: "amount_ok"},
			{From: "submitted", To: "rejected", Trigger: "reject", RequiredRoles: []string{"manager"}},
		},
	}
}

func TestTransition_HappyPath(t *testing.T) {
	guards := staticGuards{"amount_ok": func(ctx map[string]any, actor authctx.Context) bool { return true }}
	sm := New(guards)
	def := approvalDefinition()

	next, err := sm.Transition(def, "draft", "submit", authctx.Context{Roles: []string{"employee"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != "submitted" {
		t.Fatalf("expected submitted, got %s", next)
	}

	next, err = sm.Transition(def, "submitted", "approve", authctx.Context{Roles: []string{"manager"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != "approved" {
		t.Fatalf("expected approved, got %s", next)
	}
}

func TestTransition_Forbidden(t *testing.T) {
	guards := staticGuards{"amount_ok": func(ctx map[string]any, actor authctx.Context) bool { return true }}
	sm := New(guards)
	def := approvalDefinition()

	_, err := sm.Transition(def, "submitted", "approve", authctx.Context{Roles: []string{"employee"}}, nil)
	if !apperrors.IsType(err, apperrors.ErrorTypeForbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestTransition_UnknownTrigger(t *testing.T) {
	sm := New(staticGuards{})
	def := approvalDefinition()

	_, err := sm.Transition(def, "draft", "approve", authctx.Context{Roles: []string{"manager"}}, nil)
	if !apperrors.IsType(err, apperrors.ErrorTypeUnknownTrigger) {
		t.Fatalf("expected UnknownTrigger, got %v", err)
	}
}

func TestTransition_GuardFailed(t *testing.T) {
	guards := staticGuards{"amount_ok": func(ctx map[string]any, actor authctx.Context) bool { return false }}
	sm := New(guards)
	def := approvalDefinition()

	_, err := sm.Transition(def, "submitted", "approve", authctx.Context{Roles: []string{"manager"}}, nil)
	if !apperrors.IsType(err, apperrors.ErrorTypeGuardFailed) {
		t.Fatalf("expected GuardFailed, got %v", err)
	}
}

func TestTransition_TerminalState(t *testing.T) {
	sm := New(staticGuards{})
	def := approvalDefinition()

	_, err := sm.Transition(def, "approved", "submit", authctx.Context{}, nil)
	if !apperrors.IsType(err, apperrors.ErrorTypeAlreadyCompleted) {
		t.Fatalf("expected AlreadyCompleted, got %v", err)
	}
}

func TestValidTransitions_OrderAndFiltering(t *testing.T) {
	guards := staticGuards{"amount_ok": func(ctx map[string]any, actor authctx.Context) bool { return true }}
	sm := New(guards)
	def := approvalDefinition()

	ts := sm.ValidTransitions(def, "submitted", nil, authctx.Context{Roles: []string{"manager"}})
	if len(ts) != 3 {
		t.Fatalf("expected 3 valid transitions for a manager, got %d", len(ts))
	}
	if ts[0].Trigger != "revise" || ts[1].Trigger != "approve" || ts[2].Trigger != "reject" {
		t.Fatalf("expected declaration order preserved, got %v, %v, %v", ts[0].Trigger, ts[1].Trigger, ts[2].Trigger)
	}

	// revise declares no required roles, so it stays available to anyone.
	ts = sm.ValidTransitions(def, "submitted", nil, authctx.Context{Roles: []string{"employee"}})
	if len(ts) != 1 || ts[0].Trigger != "revise" {
		t.Fatalf("expected only the role-free revise transition for an employee, got %d", len(ts))
	}
}

func TestProgress_Linear(t *testing.T) {
	sm := New(staticGuards{})
	def := approvalDefinition()

	tests := []struct {
		state string
		want int
	}{
		{"draft", 0},
		{"submitted", 50},
		{"approved", 100},
		{"rejected", 100},
	}
	for _, tc := range tests {
		got := sm.Progress(def, tc.state)
		if got != tc.want {
			t.Errorf("Progress(%s) = %d, want %d", tc.state, got, tc.want)
		}
	}
}

func TestProgress_RevisitingEarlierStateDropsProgress(t *testing.T) {
	sm := New(staticGuards{})
	def := approvalDefinition()

	// Scenario B: after submit -> revise, progress returns to 0.
	if got := sm.Progress(def, "draft"); got != 0 {
		t.Fatalf("Progress(draft) after revise = %d, want 0", got)
	}
}

func TestIsTerminal(t *testing.T) {
	sm := New(staticGuards{})
	def := approvalDefinition()

	if sm.IsTerminal(def, "draft") {
		t.Fatal("draft should not be terminal")
	}
	if !sm.IsTerminal(def, "approved") {
		t.Fatal("approved should be terminal")
	}
	if sm.TerminalKind(def, "approved") != model.TerminalSuccess {
		t.Fatal("approved should be TerminalSuccess")
	}
	if sm.TerminalKind(def, "rejected") != model.TerminalFailure {
		t.Fatal("rejected should be TerminalFailure")
	}
}
