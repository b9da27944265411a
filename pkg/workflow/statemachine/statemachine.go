// Package statemachine interprets a model.WorkflowDefinition as a data-driven
// graph: no per-definition Go types, no code generation. A single
// StateMachine evaluates guards, checks roles, and computes derived facts
// (progress, terminality) for any definition handed to it.
package statemachine

import (
	"sort"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/authctx"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

// Guard is a pure predicate evaluated against an instance's working context
// and the acting caller. Guards never return an error for a "no" answer —
// only for a genuine resolution failure (an unregistered ref), which is
// caught at registration time, not at evaluation time.
type Guard func(context map[string]any, actor authctx.Context) bool

// GuardRegistry resolves a guard reference declared on a Transition to its
// predicate. Injected so callers can supply business-specific guards without
// this package knowing about them.
type GuardRegistry interface {
	Lookup(ref string) (Guard, bool)
}

// StateMachine is the single interpreter for every registered definition.
type StateMachine struct {
	guards GuardRegistry
}

// New builds a StateMachine backed by the given guard registry.
func New(guards GuardRegistry) *StateMachine {
	return &StateMachine{guards: guards}
}

// IsTerminal reports whether state is declared terminal in def.
func (m *StateMachine) IsTerminal(def *model.WorkflowDefinition, state string) bool {
	s, ok := def.StateByName(state)
	return ok && s.IsTerminal()
}

// TerminalKind reports the terminal flavor of state, or model.NotTerminal.
func (m *StateMachine) TerminalKind(def *model.WorkflowDefinition, state string) model.TerminalKind {
	s, ok := def.StateByName(state)
	if !ok {
		return model.NotTerminal
	}
	return s.Terminal
}

// ValidTransitions returns the transitions out of current whose guard
// passes and whose required roles, if any are declared, intersect the
// actor's roles, in the order they were declared on the definition.
func (m *StateMachine) ValidTransitions(def *model.WorkflowDefinition, current string, context map[string]any, actor authctx.Context) []model.Transition {
	var out []model.Transition
	for _, t := range def.Transitions {
		if t.From != current {
			continue
		}
		if !actor.HasAnyRole(t.RequiredRoles) {
			continue
		}
		if !m.evalGuard(t.GuardRef, context, actor) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (m *StateMachine) evalGuard(ref string, context map[string]any, actor authctx.Context) bool {
	if ref == "" {
		return true
	}
	if m.guards == nil {
		return false
	}
	guard, ok := m.guards.Lookup(ref)
	if !ok {
		return false
	}
	return guard(context, actor)
}

// Transition resolves the unique (current, trigger) transition and returns
// the resulting state, or one of UnknownTrigger/GuardFailed/Forbidden/
// AlreadyCompleted as an *errors.AppError.
func (m *StateMachine) Transition(def *model.WorkflowDefinition, current, trigger string, actor authctx.Context, context map[string]any) (string, error) {
	if m.IsTerminal(def, current) {
		return "", apperrors.New(apperrors.ErrorTypeAlreadyCompleted, "instance is in a terminal state")
	}

	t, ok := m.findTransition(def, current, trigger)
	if !ok {
		return "", apperrors.NewUnknownTriggerError(trigger, current)
	}

	if !actor.HasAnyRole(t.RequiredRoles) {
		return "", apperrors.NewForbiddenError("actor lacks a required role for this transition")
	}

	if t.GuardRef != "" {
		if m.guards == nil {
			return "", apperrors.NewGuardFailedError(trigger)
		}
		guard, ok := m.guards.Lookup(t.GuardRef)
		if !ok {
			return "", apperrors.Newf(apperrors.ErrorTypeInternal, "unregistered guard ref: %s", t.GuardRef)
		}
		if !guard(context, actor) {
			return "", apperrors.NewGuardFailedError(trigger)
		}
	}

	return t.To, nil
}

func (m *StateMachine) findTransition(def *model.WorkflowDefinition, from, trigger string) (model.Transition, bool) {
	for _, t := range def.Transitions {
		if t.From == from && t.Trigger == trigger {
			return t, true
		}
	}
	return model.Transition{}, false
}

// Progress computes a 0..100 percentage: for linear definitions this is
// index-based; for DAG definitions it is min_distance(initial, current) /
// min_distance(initial, nearest terminal reachable through current),
// capped at 99 unless current is itself terminal.
func (m *StateMachine) Progress(def *model.WorkflowDefinition, current string) int {
	initial := def.InitialState()
	if initial == "" {
		return 0
	}
	if current == initial {
		if m.IsTerminal(def, initial) {
			return 100
		}
		return 0
	}

	distFromInitial := bfsDistances(def, initial)
	d, reachable := distFromInitial[current]
	if !reachable {
		return 0
	}
	if m.IsTerminal(def, current) {
		return 100
	}

	nearest, ok := nearestTerminalDistance(def, current, distFromInitial[current])
	if !ok || nearest == 0 {
		return 0
	}
	pct := (d * 100) / nearest
	if pct > 99 {
		pct = 99
	}
	return pct
}

// nearestTerminalDistance finds the shortest initial->terminal path that
// passes through current, expressed as total distance from initial.
func nearestTerminalDistance(def *model.WorkflowDefinition, current string, distToCurrent int) (int, bool) {
	distFromCurrent := bfsDistances(def, current)
	best := -1
	for _, s := range def.States {
		if !s.IsTerminal() {
			continue
		}
		d, ok := distFromCurrent[s.Name]
		if !ok {
			continue
		}
		total := distToCurrent + d
		if best == -1 || total < best {
			best = total
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// bfsDistances returns, for every state reachable from start following
// transitions forward, its shortest distance (in edges) from start.
func bfsDistances(def *model.WorkflowDefinition, start string) map[string]int {
	dist := map[string]int{start: 0}
	queue := []string{start}
	adj := adjacency(def)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		neighbors := adj[cur]
		sort.Strings(neighbors)
		for _, next := range neighbors {
			if _, seen := dist[next]; seen {
				continue
			}
			dist[next] = dist[cur] + 1
			queue = append(queue, next)
		}
	}
	return dist
}

func adjacency(def *model.WorkflowDefinition) map[string][]string {
	adj := make(map[string][]string)
	for _, t := range def.Transitions {
		adj[t.From] = append(adj[t.From], t.To)
	}
	return adj
}
