package testutil

import (
	"testing"
	"time"
)

func TestStandardDefinitionHasInitialAndTerminalStates(t *testing.T) {
	f := NewFactory()
	def := f.StandardDefinition()

	if got := def.InitialState(); got != DefaultInitialState {
		t.Fatalf("InitialState() = %q, want %q", got, DefaultInitialState)
	}
	approved, ok := def.StateByName(DefaultApprovedState)
	if !ok || !approved.IsTerminal() {
		t.Fatalf("expected %q to be a terminal state", DefaultApprovedState)
	}
	rejected, ok := def.StateByName(DefaultRejectedState)
	if !ok || !rejected.IsTerminal() {
		t.Fatalf("expected %q to be a terminal state", DefaultRejectedState)
	}
}

func TestStandardInstanceStartsInInitialState(t *testing.T) {
	f := NewFactory()
	def := f.StandardDefinition()
	instance := f.StandardInstance(def)

	if instance.CurrentState != def.InitialState() {
		t.Fatalf("instance state = %q, want %q", instance.CurrentState, def.InitialState())
	}
	if instance.DefinitionID != def.ID {
		t.Fatalf("instance.DefinitionID = %q, want %q", instance.DefinitionID, def.ID)
	}
}

func TestOverdueInstanceDueAtIsInPast(t *testing.T) {
	f := NewFactory()
	instance := f.OverdueInstance(f.StandardDefinition())

	if instance.DueAt == nil {
		t.Fatal("expected DueAt to be set")
	}
	if !instance.DueAt.Before(time.Now()) {
		t.Fatalf("expected DueAt to be in the past, got %v", instance.DueAt)
	}
}

func TestApproverHasApproverRole(t *testing.T) {
	f := NewFactory()
	actor := f.Approver()

	if !actor.HasRole(DefaultApproverRole) {
		t.Fatalf("expected actor to have role %q", DefaultApproverRole)
	}
}

func TestActorWithIdempotencyKeyRoundTrips(t *testing.T) {
	f := NewFactory()
	actor := f.ActorWithIdempotencyKey("key-1")

	got, ok := actor.IdempotencyKey()
	if !ok || got != "key-1" {
		t.Fatalf("IdempotencyKey() = (%q, %v), want (\"key-1\", true)", got, ok)
	}
}
