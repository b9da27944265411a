// Package model holds the pure data types of the workflow engine: definitions,
// instances, history, and the AI insights attached to them. Nothing in this
// package talks to a database, a clock source other than the caller, or the
// network — it is interpreted by pkg/workflow/statemachine and persisted
// through pkg/repository.
package model

import "time"

// Priority is the business priority of a workflow instance.
type Priority string

const (
	PriorityLow Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Status is the derived, read-only lifecycle status of an instance.
type Status string

const (
	StatusActive Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed Status = "failed"
	StatusOverdue Status = "overdue"
)

// TerminalKind distinguishes the two flavors of terminal state.
type TerminalKind string

const (
	NotTerminal TerminalKind = ""
	TerminalSuccess TerminalKind = "success"
	TerminalFailure TerminalKind = "failure"
)

// State is one node of a WorkflowDefinition's state graph.
type State struct {
	Name string `json:"name" yaml:"name" db:"name"`
	Initial bool `json:"initial,omitempty" yaml:"initial,omitempty" db:"initial"`
	Terminal TerminalKind `json:"terminal,omitempty" yaml:"terminal,omitempty" db:"terminal"`
}

// IsTerminal reports whether the state ends the workflow.
func (s State) IsTerminal() bool { return s.Terminal != NotTerminal }

// ExecutionMode distinguishes in-transaction actions from post-commit ones.
type ExecutionMode string

const (
	// ExecutionSynchronous actions run inside the Advance transaction; a
	// failure aborts the transition entirely.
	ExecutionSynchronous ExecutionMode = "synchronous"
	// ExecutionPostCommit actions run after the transition has committed;
	// their failure never rolls back state.
	ExecutionPostCommit ExecutionMode = "post_commit"
)

// ActionDeclaration names an on-enter action and how it must be run.
type ActionDeclaration struct {
	Name string `json:"name" yaml:"name"`
	ExecutionMode ExecutionMode `json:"execution_mode" yaml:"execution_mode"`
	Mandatory bool `json:"mandatory,omitempty" yaml:"mandatory,omitempty"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Transition is a labeled edge between two declared states.
type Transition struct {
	From string `json:"from" yaml:"from"`
	To string `json:"to" yaml:"to"`
	Trigger string `json:"trigger" yaml:"trigger"`
	GuardRef string `json:"guard,omitempty" yaml:"guard,omitempty"`
	RequiredRoles []string `json:"required_roles,omitempty" yaml:"required_roles,omitempty"`
	OnEnterActions []ActionDeclaration `json:"on_enter_actions,omitempty" yaml:"on_enter_actions,omitempty"`
}

// SLA declares the service-level timing expectations of a definition.
type SLA struct {
	TotalDuration time.Duration `json:"total_duration,omitempty" yaml:"total_duration,omitempty"`
	PerStateDuration map[string]time.Duration `json:"per_state_durations,omitempty" yaml:"per_state_durations,omitempty"`
}

// WorkflowDefinition is an immutable, versioned template for instances.
type WorkflowDefinition struct {
	ID string `json:"id" db:"id"`
	Key string `json:"key" db:"key"`
	Version int `json:"version" db:"version"`
	Name string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`
	States []State `json:"states" db:"-"`
	Transitions []Transition `json:"transitions" db:"-"`
	SLA *SLA `json:"sla,omitempty" db:"-"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// InitialState returns the single state marked initial, or "" if none (a
// structurally invalid definition should never reach this point).
func (d *WorkflowDefinition) InitialState() string {
	for _, s := range d.States {
		if s.Initial {
			return s.Name
		}
	}
	return ""
}

// StateByName looks up a declared state, or returns false.
func (d *WorkflowDefinition) StateByName(name string) (State, bool) {
	for _, s := range d.States {
		if s.Name == name {
			return s, true
		}
	}
	return State{}, false
}

// WorkflowInstance is a running occurrence of a WorkflowDefinition.
type WorkflowInstance struct {
	ID string `json:"id" db:"id"`
	DefinitionID string `json:"definition_id" db:"definition_id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	CreatedBy string `json:"created_by" db:"created_by"`
	AssignedTo string `json:"assigned_to,omitempty" db:"assigned_to"`
	CurrentState string `json:"current_state" db:"current_state"`
	Context map[string]any `json:"context" db:"-"`
	Priority Priority `json:"priority" db:"priority"`
	DueAt *time.Time `json:"due_at,omitempty" db:"due_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	OverdueNotified bool `json:"-" db:"overdue_notified"`

	// Version backs optimistic-locking retries.
	Version int `json:"-" db:"version"`

	// IdempotencyKey, when non-empty, is the key Create() was invoked with.
	IdempotencyKey string `json:"-" db:"idempotency_key"`
}

// Status derives the read-only lifecycle status.
// terminal reports whether CurrentState is terminal and, if so, which kind.
func (i *WorkflowInstance) Status(terminal TerminalKind, now time.Time) Status {
	switch terminal {
	case TerminalSuccess:
		return StatusCompleted
	case TerminalFailure:
		return StatusFailed
	default:
		if i.DueAt != nil && i.DueAt.Before(now) {
			return StatusOverdue
		}
		return StatusActive
	}
}

// HistoryEntry is one append-only audit record of a transition.
type HistoryEntry struct {
	ID string `json:"id" db:"id"`
	InstanceID string `json:"instance_id" db:"instance_id"`
	FromState *string `json:"from_state" db:"from_state"`
	ToState string `json:"to_state" db:"to_state"`
	Trigger string `json:"trigger" db:"trigger"`
	ActorID string `json:"actor_id" db:"actor_id"`
	At time.Time `json:"at" db:"at"`
	Notes string `json:"notes,omitempty" db:"notes"`
	ContextDelta map[string]any `json:"context_delta,omitempty" db:"-"`
}

// InsightKind enumerates the AI operations that can produce an insight.
type InsightKind string

const (
	InsightSummarize InsightKind = "summarize"
	InsightAnalyze InsightKind = "analyze"
	InsightSuggest InsightKind = "suggest"
	InsightClassify InsightKind = "classify"
	InsightExtract InsightKind = "extract"
	InsightTranslate InsightKind = "translate"
	InsightGenerate InsightKind = "generate"
)

// AIInsight is an optional AI-produced attachment to an instance. It may
// outlive the instance when detached (InstanceID == "").
type AIInsight struct {
	ID string `json:"id" db:"id"`
	InstanceID string `json:"instance_id,omitempty" db:"instance_id"`
	Kind InsightKind `json:"kind" db:"kind"`
	Content string `json:"content" db:"content"`
	Confidence float64 `json:"confidence" db:"confidence"`
	ModelID string `json:"model_id" db:"model_id"`
	ProviderID string `json:"provider_id" db:"provider_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
