// Package engine implements the WorkflowEngine: the orchestration layer
// that ties pkg/workflow/statemachine (pure transition logic) to
// pkg/repository (persistence), pkg/workflow/actions (on-enter side
// effects), and pkg/events (notifications) into Create/Advance/Get/
// ListForUser/Stats/SlaSweep operations.
package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/authctx"
	"github.com/workflowdev/workflowd/pkg/events"
	"github.com/workflowdev/workflowd/pkg/metrics"
	"github.com/workflowdev/workflowd/pkg/repository"
	"github.com/workflowdev/workflowd/pkg/workflow/actions"
	"github.com/workflowdev/workflowd/pkg/workflow/idempotency"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
	"github.com/workflowdev/workflowd/pkg/workflow/registry"
	"github.com/workflowdev/workflowd/pkg/workflow/statemachine"
)

// maxOptimisticRetries bounds how many times Advance re-reads and retries a
// transition after losing a concurrent write race on instance.Version.
const maxOptimisticRetries = 5

// Engine is the workflow orchestration entrypoint.
type Engine struct {
	repo      repository.WorkflowRepository
	registry  *registry.Registry
	machine   *statemachine.StateMachine
	actions   *actions.Registry
	publisher events.Publisher
	idemp     *idempotency.Store
	logger    *logrus.Logger
	clock     func() time.Time
}

// New wires an Engine from its collaborators.
func New(
	repo repository.WorkflowRepository,
	reg *registry.Registry,
	machine *statemachine.StateMachine,
	actionRegistry *actions.Registry,
	publisher events.Publisher,
	idemp *idempotency.Store,
	logger *logrus.Logger,
) *Engine {
	return &Engine{
		repo: repo, registry: reg, machine: machine, actions: actionRegistry,
		publisher: publisher, idemp: idemp, logger: logger, clock: time.Now,
	}
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	DefinitionKey     string
	DefinitionVersion int // 0 means latest
	OrganizationID    string
	Priority          model.Priority
	Context           map[string]any
	IdempotencyKey    string
}

// Create instantiates a new WorkflowInstance in its definition's initial
// state. When req.IdempotencyKey is set and already claimed, Create returns
// the existing instance instead of creating a duplicate.
func (e *Engine) Create(ctx context.Context, req CreateRequest, actor authctx.Context) (*model.WorkflowInstance, error) {
	def, err := e.registry.GetByKey(ctx, req.DefinitionKey, req.DefinitionVersion)
	if err != nil {
		return nil, err
	}
	initial := def.InitialState()
	if initial == "" {
		return nil, apperrors.New(apperrors.ErrorTypeInternal, "definition has no initial state").WithDetails(req.DefinitionKey)
	}

	instanceID := uuid.NewString()

	if req.IdempotencyKey != "" && e.idemp != nil {
		existingID, claimed, err := e.idemp.Claim(ctx, req.OrganizationID, req.IdempotencyKey, instanceID)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "idempotency claim failed")
		}
		if !claimed {
			existing, err := e.repo.GetInstance(ctx, existingID)
			if err != nil {
				return nil, err
			}
			return existing, nil
		}
	}

	now := e.clock()
	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}

	var dueAt *time.Time
	if def.SLA != nil && def.SLA.TotalDuration > 0 {
		d := now.Add(def.SLA.TotalDuration)
		dueAt = &d
	}

	instance := &model.WorkflowInstance{
		ID:             instanceID,
		DefinitionID:   def.ID,
		OrganizationID: req.OrganizationID,
		CreatedBy:      actor.UserID,
		CurrentState:   initial,
		Context:        req.Context,
		Priority:       priority,
		DueAt:          dueAt,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
		IdempotencyKey: req.IdempotencyKey,
	}

	seed := model.HistoryEntry{
		ID: uuid.NewString(), InstanceID: instance.ID, FromState: nil, ToState: initial,
		Trigger: "create", ActorID: actor.UserID, At: now,
	}

	if err := e.repo.CreateInstance(ctx, instance, seed); err != nil {
		if req.IdempotencyKey != "" && e.idemp != nil {
			_ = e.idemp.Release(ctx, req.OrganizationID, req.IdempotencyKey)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to create instance")
	}

	if e.publisher != nil {
		_ = e.publisher.Publish(ctx, events.Event{
			Kind: events.KindInstanceCreated, InstanceID: instance.ID, OrgID: instance.OrganizationID, At: now,
		})
	}

	metrics.InstancesCreatedTotal.WithLabelValues(req.DefinitionKey).Inc()
	return instance, nil
}

// AdvanceRequest is the input to Advance.
type AdvanceRequest struct {
	InstanceID string
	Trigger    string
	Notes      string
	// ContextDelta, if non-nil, is merged into the instance's working
	// context alongside the state transition.
	ContextDelta map[string]any
}

// Advance fires trigger against instance.CurrentState, runs declared
// on-enter actions, and persists the new state and history entry. It
// retries on an optimistic-concurrency conflict up to maxOptimisticRetries
// times with jittered backoff, since the read-modify-write spans guard
// evaluation and action execution.
func (e *Engine) Advance(ctx context.Context, req AdvanceRequest, actor authctx.Context) (*model.WorkflowInstance, error) {
	start := e.clock()
	defKey := e.definitionKeyForInstance(ctx, req.InstanceID)

	var lastErr error
	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		instance, aborted, err := e.tryAdvance(ctx, req, actor)
		if err == nil {
			metrics.TransitionsTotal.WithLabelValues(defKey, req.Trigger, "success").Inc()
			metrics.TransitionDurationSeconds.WithLabelValues(defKey).Observe(e.clock().Sub(start).Seconds())
			return instance, nil
		}
		if err != repository.ErrOptimisticConflict {
			metrics.TransitionsTotal.WithLabelValues(defKey, req.Trigger, "error").Inc()
			return nil, err
		}
		lastErr = err
		metrics.OptimisticRetriesTotal.WithLabelValues(defKey).Inc()
		if aborted {
			break
		}
		backoff(attempt)
	}
	metrics.TransitionsTotal.WithLabelValues(defKey, req.Trigger, "conflict").Inc()
	return nil, apperrors.Wrap(lastErr, apperrors.ErrorTypeConflict, "failed to advance instance after concurrent modification retries")
}

// definitionKeyForInstance resolves a metrics label best-effort; an empty
// string is used if the instance or its definition cannot be found, rather
// than failing the whole Advance call over a labeling lookup.
func (e *Engine) definitionKeyForInstance(ctx context.Context, instanceID string) string {
	instance, err := e.repo.GetInstance(ctx, instanceID)
	if err != nil {
		return ""
	}
	def, err := e.registry.GetByID(ctx, instance.DefinitionID)
	if err != nil {
		return ""
	}
	return def.Key
}

func backoff(attempt int) {
	base := time.Duration(attempt+1) * 10 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base)))
	time.Sleep(base + jitter)
}

// tryAdvance is one attempt of the read-transition-persist cycle. The bool
// return reports whether a mandatory synchronous action aborted the
// transition (in which case retrying would not help).
func (e *Engine) tryAdvance(ctx context.Context, req AdvanceRequest, actor authctx.Context) (*model.WorkflowInstance, bool, error) {
	instance, err := e.getScoped(ctx, req.InstanceID, actor)
	if err != nil {
		return nil, false, err
	}

	def, err := e.registry.GetByID(ctx, instance.DefinitionID)
	if err != nil {
		return nil, false, err
	}

	workingContext := instance.Context
	if workingContext == nil {
		workingContext = make(map[string]any)
	}

	toState, err := e.machine.Transition(def, instance.CurrentState, req.Trigger, actor, workingContext)
	if err != nil {
		return nil, false, err
	}

	transition, ok := e.findTransition(def, instance.CurrentState, req.Trigger)
	if !ok {
		return nil, false, apperrors.NewUnknownTriggerError(req.Trigger, instance.CurrentState)
	}

	now := e.clock()
	fromState := instance.CurrentState
	instance.CurrentState = toState
	instance.UpdatedAt = now
	if req.ContextDelta != nil {
		if instance.Context == nil {
			instance.Context = make(map[string]any)
		}
		for k, v := range req.ContextDelta {
			instance.Context[k] = v
		}
	}

	state, _ := def.StateByName(toState)
	if state.IsTerminal() {
		instance.CompletedAt = &now
	}

	outcome := e.actions.RunSynchronous(ctx, instance, transition, actor, now)
	if outcome.Aborted {
		failed := outcome.Results[len(outcome.Results)-1]
		metrics.ActionFailuresTotal.WithLabelValues(failed.Name, string(model.ExecutionSynchronous)).Inc()
		return nil, true, apperrors.NewActionFailedError(failed.Name, failed.Err)
	}

	entry := model.HistoryEntry{
		ID: uuid.NewString(), InstanceID: instance.ID, FromState: &fromState, ToState: toState,
		Trigger: req.Trigger, ActorID: actor.UserID, At: now, Notes: req.Notes, ContextDelta: req.ContextDelta,
	}

	if err := e.repo.SaveTransition(ctx, instance, entry); err != nil {
		return nil, false, err
	}

	e.actions.RunPostCommit(ctx, instance, transition, actor, now)

	if e.publisher != nil {
		kind := events.KindTransitioned
		if state.Terminal == model.TerminalSuccess {
			kind = events.KindCompleted
		} else if state.Terminal == model.TerminalFailure {
			kind = events.KindFailed
		}
		_ = e.publisher.Publish(ctx, events.Event{
			Kind: kind, InstanceID: instance.ID, OrgID: instance.OrganizationID, At: now,
			Payload: map[string]any{"from_state": fromState, "to_state": toState, "trigger": req.Trigger},
		})
	}

	return instance, false, nil
}

func (e *Engine) findTransition(def *model.WorkflowDefinition, from, trigger string) (model.Transition, bool) {
	for _, t := range def.Transitions {
		if t.From == from && t.Trigger == trigger {
			return t, true
		}
	}
	return model.Transition{}, false
}

// Get fetches a single instance, scoped to the caller's organization. A
// cross-org instance ID is reported as NotFound rather than Forbidden so
// existence of another organization's instance is never leaked.
func (e *Engine) Get(ctx context.Context, id string, actor authctx.Context) (*model.WorkflowInstance, error) {
	return e.getScoped(ctx, id, actor)
}

// getScoped fetches an instance by ID and verifies it belongs to actor's
// organization, masking cross-org access as NotFound.
func (e *Engine) getScoped(ctx context.Context, id string, actor authctx.Context) (*model.WorkflowInstance, error) {
	instance, err := e.repo.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if instance.OrganizationID != actor.OrganizationID {
		return nil, apperrors.NewNotFoundError("workflow instance")
	}
	return instance, nil
}

// ListForUser lists instances matching filter, typically scoped by the
// caller to their own organization and optionally their own assignments.
func (e *Engine) ListForUser(ctx context.Context, filter repository.InstanceFilter) ([]*model.WorkflowInstance, error) {
	return e.repo.ListInstances(ctx, filter)
}

// History returns the append-only audit trail for an instance.
func (e *Engine) History(ctx context.Context, instanceID string) ([]model.HistoryEntry, error) {
	return e.repo.ListHistory(ctx, instanceID)
}

// Insights returns the AI insights attached to an instance.
func (e *Engine) Insights(ctx context.Context, instanceID string) ([]*model.AIInsight, error) {
	return e.repo.ListInsights(ctx, instanceID)
}

// Stats aggregates per-status counts, average completion time, and overdue
// count for an organization.
func (e *Engine) Stats(ctx context.Context, orgID string) (repository.Stats, error) {
	return e.repo.Stats(ctx, orgID)
}

// SlaSweep scans active instances past their due_at and marks them overdue,
// idempotently: MarkOverdueNotified reports whether a given instance was
// already notified so workflow.overdue fires at most once.
func (e *Engine) SlaSweep(ctx context.Context) (int, error) {
	now := e.clock()
	overdue, err := e.repo.ListOverdueActive(ctx, now)
	if err != nil {
		return 0, err
	}

	notified := 0
	for _, instance := range overdue {
		alreadyNotified, err := e.repo.MarkOverdueNotified(ctx, instance.ID)
		if err != nil {
			e.logger.WithError(err).WithField("instance_id", instance.ID).Warn("failed to mark instance overdue")
			continue
		}
		if alreadyNotified {
			continue
		}
		notified++
		if e.publisher != nil {
			_ = e.publisher.Publish(ctx, events.Event{
				Kind: events.KindOverdue, InstanceID: instance.ID, OrgID: instance.OrganizationID, At: now,
			})
		}
		defKey := ""
		if def, err := e.registry.GetByID(ctx, instance.DefinitionID); err == nil {
			defKey = def.Key
		}
		metrics.OverdueInstancesTotal.WithLabelValues(defKey).Inc()
	}
	return notified, nil
}
