// Package actions provides the registry of named on-enter actions that
// statemachine.Transition declarations reference by name, the same way
// pkg/workflow/guards resolves guard refs. Grounded in the post-condition
// validator registry pattern: a type-keyed table of pluggable handlers, run
// either synchronously (in-transaction) or after commit, with a mandatory
// flag controlling whether a failure aborts the transition.
package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/workflowdev/workflowd/pkg/authctx"
	"github.com/workflowdev/workflowd/pkg/events"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

// ExecutionContext carries everything an action needs: the instance as it
// stands after the transition (state already updated), the transition that
// fired, and the declaration's own params.
type ExecutionContext struct {
	Instance    *model.WorkflowInstance
	Transition  model.Transition
	Declaration model.ActionDeclaration
	Actor       authctx.Context
	Now         time.Time
}

// Action is one named on-enter behavior.
type Action interface {
	Name() string
	Execute(ctx context.Context, ec ExecutionContext) error
}

// Result records the outcome of running a single action, whether or not its
// failure aborted the transition.
type Result struct {
	Name    string
	Mode    model.ExecutionMode
	Err     error
	Skipped bool
}

// Outcome is the aggregate of running every on-enter action declared on a
// transition.
type Outcome struct {
	Results []Result
	// Aborted is true when a mandatory synchronous action failed; the
	// caller (pkg/workflow/engine) must roll the transition back.
	Aborted bool
}

// Registry resolves action names to handlers and runs a transition's
// declared actions: RunSynchronous runs the synchronous ones before the
// transition is persisted, RunPostCommit runs the post-commit ones, in the
// caller's goroutine, after it has committed.
type Registry struct {
	actions   map[string]Action
	publisher events.Publisher
	logger    *logrus.Logger
}

// NewRegistry builds a Registry seeded with the built-in actions.
func NewRegistry(publisher events.Publisher, logger *logrus.Logger) *Registry {
	r := &Registry{actions: make(map[string]Action), publisher: publisher, logger: logger}
	r.Register(&emitNotification{publisher: publisher})
	r.Register(&setDueAt{})
	return r
}

// Register adds or replaces an action handler. run_ai_insight is registered
// separately by pkg/ai/insights, which needs a router handle this package
// does not depend on.
func (r *Registry) Register(a Action) {
	r.actions[a.Name()] = a
}

// Lookup reports whether name is a known action.
func (r *Registry) Lookup(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// Has reports whether name is a known action, without handing back the
// handler itself. Satisfies registry.KnownActions so definition validation
// can reject unresolvable action refs without importing this package's
// Action type.
func (r *Registry) Has(name string) bool {
	_, ok := r.actions[name]
	return ok
}

// RunSynchronous executes every declared action whose ExecutionMode is
// synchronous, in declaration order, stopping at the first mandatory
// failure. Post-commit actions are collected but not run here.
func (r *Registry) RunSynchronous(ctx context.Context, instance *model.WorkflowInstance, transition model.Transition, actor authctx.Context, now time.Time) Outcome {
	var out Outcome
	for _, decl := range transition.OnEnterActions {
		if decl.ExecutionMode != model.ExecutionSynchronous {
			continue
		}
		res := r.run(ctx, instance, transition, decl, actor, now)
		out.Results = append(out.Results, res)
		if res.Err != nil && decl.Mandatory {
			out.Aborted = true
			return out
		}
	}
	return out
}

// RunPostCommit executes every declared post_commit action after the
// transition has already committed. Failures are logged and published as
// workflow.action.failed events; they never affect instance state, even when
// Mandatory is set (mandatory only governs synchronous actions).
func (r *Registry) RunPostCommit(ctx context.Context, instance *model.WorkflowInstance, transition model.Transition, actor authctx.Context, now time.Time) []Result {
	var results []Result
	for _, decl := range transition.OnEnterActions {
		if decl.ExecutionMode != model.ExecutionPostCommit {
			continue
		}
		res := r.run(ctx, instance, transition, decl, actor, now)
		results = append(results, res)
		if res.Err != nil {
			r.logger.WithFields(logrus.Fields{
				"instance_id": instance.ID, "action": decl.Name, "error": res.Err,
			}).Warn("post-commit action failed")
			if r.publisher != nil {
				_ = r.publisher.Publish(ctx, events.Event{
					Kind: events.KindActionFailed, InstanceID: instance.ID, OrgID: instance.OrganizationID, At: now,
					Payload: map[string]any{"action": decl.Name, "error": res.Err.Error()},
				})
			}
		}
	}
	return results
}

func (r *Registry) run(ctx context.Context, instance *model.WorkflowInstance, transition model.Transition, decl model.ActionDeclaration, actor authctx.Context, now time.Time) Result {
	action, ok := r.Lookup(decl.Name)
	if !ok {
		return Result{Name: decl.Name, Mode: decl.ExecutionMode, Err: fmt.Errorf("unregistered action: %s", decl.Name)}
	}
	err := action.Execute(ctx, ExecutionContext{Instance: instance, Transition: transition, Declaration: decl, Actor: actor, Now: now})
	return Result{Name: decl.Name, Mode: decl.ExecutionMode, Err: err}
}

// emitNotification publishes a workflow event carrying the declaration's
// params as payload; it never touches instance.Context.
type emitNotification struct {
	publisher events.Publisher
}

func (a *emitNotification) Name() string { return "emit_notification" }

func (a *emitNotification) Execute(ctx context.Context, ec ExecutionContext) error {
	if a.publisher == nil {
		return nil
	}
	return a.publisher.Publish(ctx, events.Event{
		Kind:       events.KindTransitioned,
		InstanceID: ec.Instance.ID,
		OrgID:      ec.Instance.OrganizationID,
		At:         ec.Now,
		Payload:    ec.Declaration.Params,
	})
}

// setDueAt sets instance.DueAt to now + the declared duration, read from
// params["duration_seconds"]. It mutates the instance in place; the caller
// is responsible for persisting it as part of the same transition.
type setDueAt struct{}

func (a *setDueAt) Name() string { return "set_due_at" }

func (a *setDueAt) Execute(ctx context.Context, ec ExecutionContext) error {
	secs, ok := ec.Declaration.Params["duration_seconds"]
	if !ok {
		return fmt.Errorf("set_due_at requires params.duration_seconds")
	}
	var duration time.Duration
	switch v := secs.(type) {
	case float64:
		duration = time.Duration(v) * time.Second
	case int:
		duration = time.Duration(v) * time.Second
	default:
		return fmt.Errorf("set_due_at: duration_seconds must be numeric, got %T", secs)
	}
	due := ec.Now.Add(duration)
	ec.Instance.DueAt = &due
	return nil
}
