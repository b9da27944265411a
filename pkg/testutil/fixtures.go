// Package testutil centralizes test data construction for the workflow
// engine, its repositories, and the AI router so individual _test.go files
// don't each hand-roll definitions, instances, and auth contexts.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/workflowdev/workflowd/pkg/authctx"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

// Default fixture values, named so callers can reference them instead of
// repeating magic strings across tests.
const (
	DefaultOrgID          = "org-test"
	DefaultUserID         = "user-test"
	DefaultDefinitionKey  = "approval"
	DefaultInitialState   = "draft"
	DefaultApprovedState  = "approved"
	DefaultRejectedState  = "rejected"
	DefaultApproveTrigger = "approve"
	DefaultRejectTrigger  = "reject"
	DefaultApproverRole   = "approver"
)

// Factory builds related model and authctx fixtures for a single test.
// Its zero value is ready to use.
type Factory struct{}

// NewFactory returns a ready-to-use fixture Factory.
func NewFactory() *Factory { return &Factory{} }

// StandardDefinition returns a two-transition approval workflow: draft ->
// approved (success terminal) or draft -> rejected (failure terminal), the
// shape exercised by most engine and statemachine tests.
func (f *Factory) StandardDefinition() *model.WorkflowDefinition {
	return &model.WorkflowDefinition{
		ID:      "def-" + uuid.NewString(),
		Key:     DefaultDefinitionKey,
		Version: 1,
		Name:    "Approval",
		States: []model.State{
			{Name: DefaultInitialState, Initial: true},
			{Name: DefaultApprovedState, Terminal: model.TerminalSuccess},
			{Name: DefaultRejectedState, Terminal: model.TerminalFailure},
		},
		Transitions: []model.Transition{
			{
				From:          DefaultInitialState,
				To:            DefaultApprovedState,
				Trigger:       DefaultApproveTrigger,
				RequiredRoles: []string{DefaultApproverRole},
			},
			{
				From:    DefaultInitialState,
				To:      DefaultRejectedState,
				Trigger: DefaultRejectTrigger,
			},
		},
		SLA: &model.SLA{
			TotalDuration: 24 * time.Hour,
		},
		CreatedAt: time.Now(),
	}
}

// DefinitionWithAction returns a StandardDefinition whose approve transition
// runs the named on-enter action, for tests that exercise pkg/workflow/actions
// or pkg/ai/insights wiring.
func (f *Factory) DefinitionWithAction(actionName string, mode model.ExecutionMode) *model.WorkflowDefinition {
	def := f.StandardDefinition()
	def.Transitions[0].OnEnterActions = []model.ActionDeclaration{
		{Name: actionName, ExecutionMode: mode},
	}
	return def
}

// StandardInstance returns a running instance of def, created via
// StandardDefinition, sitting in its initial state.
func (f *Factory) StandardInstance(def *model.WorkflowDefinition) *model.WorkflowInstance {
	now := time.Now()
	return &model.WorkflowInstance{
		ID:             "inst-" + uuid.NewString(),
		DefinitionID:   def.ID,
		OrganizationID: DefaultOrgID,
		CreatedBy:      DefaultUserID,
		CurrentState:   def.InitialState(),
		Context:        map[string]any{"requested_by": DefaultUserID},
		Priority:       model.PriorityNormal,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
}

// OverdueInstance returns a StandardInstance whose DueAt is already in the
// past, for SLA sweep tests.
func (f *Factory) OverdueInstance(def *model.WorkflowDefinition) *model.WorkflowInstance {
	instance := f.StandardInstance(def)
	due := time.Now().Add(-time.Hour)
	instance.DueAt = &due
	return instance
}

// HistoryEntry returns a single audit record transitioning instance from
// fromState to toState.
func (f *Factory) HistoryEntry(instance *model.WorkflowInstance, fromState, toState, trigger string) model.HistoryEntry {
	var from *string
	if fromState != "" {
		from = &fromState
	}
	return model.HistoryEntry{
		ID:         "hist-" + uuid.NewString(),
		InstanceID: instance.ID,
		FromState:  from,
		ToState:    toState,
		Trigger:    trigger,
		ActorID:    DefaultUserID,
		At:         time.Now(),
	}
}

// Insight returns an AI-produced attachment to instance.
func (f *Factory) Insight(instance *model.WorkflowInstance, kind model.InsightKind) *model.AIInsight {
	return &model.AIInsight{
		ID:         "insight-" + uuid.NewString(),
		InstanceID: instance.ID,
		Kind:       kind,
		Content:    "generated insight content",
		Confidence: 0.85,
		ModelID:    "claude-3",
		ProviderID: "anthropic",
		CreatedAt:  time.Now(),
	}
}

// Actor returns an authctx.Context for DefaultUserID scoped to DefaultOrgID
// carrying roles.
func (f *Factory) Actor(roles ...string) authctx.Context {
	return authctx.Context{
		UserID:         DefaultUserID,
		OrganizationID: DefaultOrgID,
		Roles:          roles,
	}
}

// ActorWithIdempotencyKey returns an Actor whose Metadata carries the given
// idempotency key.
func (f *Factory) ActorWithIdempotencyKey(key string, roles ...string) authctx.Context {
	actor := f.Actor(roles...)
	actor.Metadata = map[string]string{"idempotency_key": key}
	return actor
}

// Approver returns an Actor holding DefaultApproverRole.
func (f *Factory) Approver() authctx.Context {
	return f.Actor(DefaultApproverRole)
}
