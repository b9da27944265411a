// Package templates is a catalog of prebuilt WorkflowDefinitions, grounded
// in the WorkflowTemplateFactory pattern: a factory with one Build<Name>
// method per shipped template, each returning a ready-to-register
// definition rather than requiring every deployment to hand-author its own
// approval/triage/review graphs from scratch.
package templates

import (
	"time"

	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

// Factory builds the definitions workflowd ships out of the box.
type Factory struct{}

// NewFactory builds a Factory. It carries no state; every Build<Name> method
// is a pure constructor.
func NewFactory() *Factory { return &Factory{} }

// Descriptor names one catalog entry for listing (GET /workflow-definitions
// templates, or an admin UI populating a "start from a template" picker).
type Descriptor struct {
	Key         string
	Name        string
	Description string
}

// Catalog lists every built-in template without building its full definition.
func (f *Factory) Catalog() []Descriptor {
	return []Descriptor{
		{Key: "approval", Name: "Approval", Description: "Single-approver draft/submit/approve/reject flow."},
		{Key: "incident-triage", Name: "Incident Triage", Description: "Triage an incoming incident through acknowledgement, investigation, and resolution."},
		{Key: "content-review", Name: "Content Review", Description: "Editorial review with AI-assisted summarization before publish."},
	}
}

// Build constructs the named template's definition, or returns ok=false for
// an unknown key.
func (f *Factory) Build(key string) (model.WorkflowDefinition, bool) {
	switch key {
	case "approval":
		return f.BuildApprovalWorkflow(), true
	case "incident-triage":
		return f.BuildIncidentTriageWorkflow(), true
	case "content-review":
		return f.BuildContentReviewWorkflow(), true
	default:
		return model.WorkflowDefinition{}, false
	}
}

// BuildApprovalWorkflow returns the canonical draft -> submitted ->
// approved|rejected template, with an amount_ok guard on the approve
// trigger and a revise trigger that loops submitted back to draft.
func (f *Factory) BuildApprovalWorkflow() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Key:         "approval",
		Version:     1,
		Name:        "Approval",
		Description: "Single-approver draft/submit/approve/reject flow.",
		States: []model.State{
			{Name: "draft", Initial: true},
			{Name: "submitted"},
			{Name: "approved", Terminal: model.TerminalSuccess},
			{Name: "rejected", Terminal: model.TerminalFailure},
		},
		Transitions: []model.Transition{
			{From: "draft", To: "submitted", Trigger: "submit"},
			{
				From: "submitted", To: "approved", Trigger: "approve",
				RequiredRoles: []string{"approver"},
				GuardRef:      "amount_ok",
				OnEnterActions: []model.ActionDeclaration{
					{Name: "emit_notification", ExecutionMode: model.ExecutionPostCommit},
				},
			},
			{
				From: "submitted", To: "rejected", Trigger: "reject",
				RequiredRoles: []string{"approver"},
				OnEnterActions: []model.ActionDeclaration{
					{Name: "emit_notification", ExecutionMode: model.ExecutionPostCommit},
				},
			},
			{From: "submitted", To: "draft", Trigger: "revise"},
		},
		SLA: &model.SLA{TotalDuration: 72 * time.Hour},
	}
}

// BuildIncidentTriageWorkflow returns a triage flow that runs an AI
// classification insight on acknowledgement and auto-advances to
// investigating when the model is confident enough.
func (f *Factory) BuildIncidentTriageWorkflow() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Key:         "incident-triage",
		Version:     1,
		Name:        "Incident Triage",
		Description: "Triage an incoming incident through acknowledgement, investigation, and resolution.",
		States: []model.State{
			{Name: "reported", Initial: true},
			{Name: "acknowledged"},
			{Name: "investigating"},
			{Name: "resolved", Terminal: model.TerminalSuccess},
			{Name: "closed_as_noise", Terminal: model.TerminalFailure},
		},
		Transitions: []model.Transition{
			{
				From: "reported", To: "acknowledged", Trigger: "acknowledge",
				RequiredRoles: []string{"responder"},
				OnEnterActions: []model.ActionDeclaration{
					{
						Name:          "run_ai_insight",
						ExecutionMode: model.ExecutionPostCommit,
						Params: map[string]any{
							"kind":                 "classify",
							"task_type":            "classify",
							"strategy":             "speed",
							"prompt":               "Classify the severity and likely root cause of this incident from its context.",
							"confidence_threshold": 0.85,
							"auto_advance_trigger": "start_investigation",
						},
					},
					{Name: "set_due_at", ExecutionMode: model.ExecutionSynchronous, Mandatory: true,
						Params: map[string]any{"duration_seconds": 3600}},
				},
			},
			{From: "acknowledged", To: "investigating", Trigger: "start_investigation", RequiredRoles: []string{"responder"}},
			{From: "investigating", To: "resolved", Trigger: "resolve", RequiredRoles: []string{"responder"}},
			{From: "investigating", To: "closed_as_noise", Trigger: "dismiss", RequiredRoles: []string{"responder"}},
			{From: "acknowledged", To: "closed_as_noise", Trigger: "dismiss", RequiredRoles: []string{"responder"}},
		},
		SLA: &model.SLA{
			TotalDuration:    24 * time.Hour,
			PerStateDuration: map[string]time.Duration{"reported": 15 * time.Minute},
		},
	}
}

// BuildContentReviewWorkflow returns an editorial review flow that
// summarizes a draft with AI before handing it to a human reviewer.
func (f *Factory) BuildContentReviewWorkflow() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Key:         "content-review",
		Version:     1,
		Name:        "Content Review",
		Description: "Editorial review with AI-assisted summarization before publish.",
		States: []model.State{
			{Name: "drafting", Initial: true},
			{Name: "in_review"},
			{Name: "changes_requested"},
			{Name: "published", Terminal: model.TerminalSuccess},
			{Name: "archived", Terminal: model.TerminalFailure},
		},
		Transitions: []model.Transition{
			{
				From: "drafting", To: "in_review", Trigger: "submit_for_review",
				OnEnterActions: []model.ActionDeclaration{
					{
						Name:          "run_ai_insight",
						ExecutionMode: model.ExecutionPostCommit,
						Params: map[string]any{
							"kind":      "summarize",
							"task_type": "summarize",
							"strategy":  "cost",
							"prompt":    "Summarize this draft in two sentences for the reviewer.",
						},
					},
				},
			},
			{From: "in_review", To: "published", Trigger: "approve", RequiredRoles: []string{"editor"}},
			{From: "in_review", To: "changes_requested", Trigger: "request_changes", RequiredRoles: []string{"editor"}},
			{From: "changes_requested", To: "drafting", Trigger: "revise"},
			{From: "in_review", To: "archived", Trigger: "archive", RequiredRoles: []string{"editor"}},
		},
		SLA: &model.SLA{TotalDuration: 7 * 24 * time.Hour},
	}
}
