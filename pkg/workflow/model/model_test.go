package model

import (
	"testing"
	"time"
)

func TestStateIsTerminal(t *testing.T) {
	if (State{Name: "draft"}).IsTerminal() {
		t.Fatal("expected a state with no Terminal kind to not be terminal")
	}
	if !(State{Name: "approved", Terminal: TerminalSuccess}).IsTerminal() {
		t.Fatal("expected TerminalSuccess to be terminal")
	}
	if !(State{Name: "rejected", Terminal: TerminalFailure}).IsTerminal() {
		t.Fatal("expected TerminalFailure to be terminal")
	}
}

func TestWorkflowDefinitionInitialState(t *testing.T) {
	def := &WorkflowDefinition{States: []State{
		{Name: "draft", Initial: true},
		{Name: "approved", Terminal: TerminalSuccess},
	}}
	if got := def.InitialState(); got != "draft" {
		t.Fatalf("expected initial state %q, got %q", "draft", got)
	}
}

func TestWorkflowDefinitionInitialStateWithNoneDeclared(t *testing.T) {
	def := &WorkflowDefinition{States: []State{{Name: "draft"}}}
	if got := def.InitialState(); got != "" {
		t.Fatalf("expected empty string with no initial state declared, got %q", got)
	}
}

func TestWorkflowDefinitionStateByName(t *testing.T) {
	def := &WorkflowDefinition{States: []State{{Name: "draft", Initial: true}}}
	s, ok := def.StateByName("draft")
	if !ok || s.Name != "draft" {
		t.Fatalf("expected to find state draft, got %+v ok=%v", s, ok)
	}
	if _, ok := def.StateByName("missing"); ok {
		t.Fatal("expected StateByName to report false for an undeclared state")
	}
}

func TestWorkflowInstanceStatusReflectsTerminalKind(t *testing.T) {
	now := time.Now()
	instance := &WorkflowInstance{}
	if got := instance.Status(TerminalSuccess, now); got != StatusCompleted {
		t.Fatalf("expected StatusCompleted, got %q", got)
	}
	if got := instance.Status(TerminalFailure, now); got != StatusFailed {
		t.Fatalf("expected StatusFailed, got %q", got)
	}
}

func TestWorkflowInstanceStatusOverdueWhenPastDueAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	instance := &WorkflowInstance{DueAt: &past}
	if got := instance.Status(NotTerminal, now); got != StatusOverdue {
		t.Fatalf("expected StatusOverdue, got %q", got)
	}
}

func TestWorkflowInstanceStatusActiveWithoutDueAtOrWhenNotYetDue(t *testing.T) {
	now := time.Now()
	instance := &WorkflowInstance{}
	if got := instance.Status(NotTerminal, now); got != StatusActive {
		t.Fatalf("expected StatusActive with no DueAt, got %q", got)
	}

	future := now.Add(time.Hour)
	instance.DueAt = &future
	if got := instance.Status(NotTerminal, now); got != StatusActive {
		t.Fatalf("expected StatusActive when DueAt is in the future, got %q", got)
	}
}
