// Package registry is the Workflow Definition Registry: it
// stores and retrieves versioned definitions and validates structural
// invariants at ingest time. Definitions are immutable once registered.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/repository"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
	"github.com/workflowdev/workflowd/pkg/workflow/statemachine"
)

// Store is the persistence contract the registry needs. A real deployment
// backs this with pkg/repository/postgres; tests and examples can use
// pkg/repository/memory.
type Store = repository.DefinitionRepository

// ListFilter paginates List.
type ListFilter = repository.DefinitionFilter

// KnownGuards reports whether a guard ref is registered, used only at
// validation time so Register can reject unresolvable refs.
// statemachine.GuardRegistry (e.g. guards.DefaultRegistry) satisfies this.
type KnownGuards = statemachine.GuardRegistry

// KnownActions reports whether an on-enter action ref is registered, used
// only at validation time so Register can reject unresolvable refs.
// actions.Registry satisfies this via its Has method.
type KnownActions interface {
	Has(name string) bool
}

// Registry is the Workflow Definition Registry.
type Registry struct {
	store   Store
	guards  KnownGuards
	actions KnownActions

	mu sync.Mutex
	clock func() time.Time
}

// New builds a Registry backed by store, validating guard and action
// references against guards/actionRegistry at Register time. actionRegistry
// may be nil, in which case action refs are not validated at ingest time and
// an unregistered name only fails when the transition actually runs.
func New(store Store, guards KnownGuards, actionRegistry KnownActions) *Registry {
	return &Registry{store: store, guards: guards, actions: actionRegistry, clock: time.Now}
}

// Register validates def's structural invariants and inserts it. The
// caller is expected to have already set Key/Version/Name/States/Transitions;
// ID and CreatedAt are assigned here.
func (r *Registry) Register(ctx context.Context, def *model.WorkflowDefinition) (*model.WorkflowDefinition, error) {
	if err := r.validate(def); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	def.CreatedAt = r.clock()

	if err := r.store.SaveDefinition(ctx, def); err != nil {
		return nil, apperrors.NewDatabaseError("save_definition", err)
	}
	return def, nil
}

// GetByKey returns the definition for key at version, or the latest version
// when version is 0.
func (r *Registry) GetByKey(ctx context.Context, key string, version int) (*model.WorkflowDefinition, error) {
	if key == "" {
		return nil, apperrors.NewValidationError("key is required")
	}
	var (
		def *model.WorkflowDefinition
		err error
	)
	if version == 0 {
		def, err = r.store.GetLatestDefinition(ctx, key)
	} else {
		def, err = r.store.GetDefinition(ctx, key, version)
	}
	if err != nil {
		return nil, apperrors.NewNotFoundError("definition")
	}
	return def, nil
}

// GetByID returns the definition with the given storage ID, used by the
// engine to resolve an instance's DefinitionID back to its full definition.
func (r *Registry) GetByID(ctx context.Context, id string) (*model.WorkflowDefinition, error) {
	def, err := r.store.GetDefinitionByID(ctx, id)
	if err != nil {
		return nil, apperrors.NewNotFoundError("definition")
	}
	return def, nil
}

// List returns a paginated, read-only listing.
func (r *Registry) List(ctx context.Context, filter ListFilter) ([]*model.WorkflowDefinition, error) {
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	defs, err := r.store.ListDefinitions(ctx, filter)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_definitions", err)
	}
	return defs, nil
}

// validate enforces every structural invariant: unique state names, exactly
// one initial state, every transition's from/to states and guard/action refs
// resolvable, no duplicate (from_state, trigger) pairs, terminal states have
// no outgoing transitions, and every state is reachable from the initial one.
func (r *Registry) validate(def *model.WorkflowDefinition) error {
	if def.Key == "" {
		return apperrors.NewValidationError("key is required")
	}
	if def.Version < 1 {
		return apperrors.NewValidationError("version must be >= 1")
	}
	if len(def.States) == 0 {
		return apperrors.NewValidationError("at least one state is required")
	}

	known := make(map[string]bool, len(def.States))
	initials := 0
	for _, s := range def.States {
		if known[s.Name] {
			return apperrors.Newf(apperrors.ErrorTypeValidation, "duplicate state name: %s", s.Name)
		}
		known[s.Name] = true
		if s.Initial {
			initials++
		}
	}
	if initials != 1 {
		return apperrors.Newf(apperrors.ErrorTypeValidation, "exactly one initial state is required, found %d", initials)
	}

	seenFromTrigger := make(map[string]bool, len(def.Transitions))
	outgoingFrom := make(map[string]bool, len(def.Transitions))
	for _, t := range def.Transitions {
		if !known[t.From] {
			return apperrors.Newf(apperrors.ErrorTypeValidation, "transition references undeclared from_state: %s", t.From)
		}
		if !known[t.To] {
			return apperrors.Newf(apperrors.ErrorTypeValidation, "transition references undeclared to_state: %s", t.To)
		}
		pairKey := t.From + "\x00" + t.Trigger
		if seenFromTrigger[pairKey] {
			return apperrors.Newf(apperrors.ErrorTypeValidation, "duplicate (from_state, trigger) pair: (%s, %s)", t.From, t.Trigger)
		}
		seenFromTrigger[pairKey] = true
		outgoingFrom[t.From] = true

		if t.GuardRef != "" && r.guards != nil {
			if _, ok := r.guards.Lookup(t.GuardRef); !ok {
				return apperrors.Newf(apperrors.ErrorTypeValidation, "unregistered guard ref: %s", t.GuardRef)
			}
		}

		if r.actions != nil {
			for _, decl := range t.OnEnterActions {
				if !r.actions.Has(decl.Name) {
					return apperrors.Newf(apperrors.ErrorTypeValidation, "unregistered action ref: %s", decl.Name)
				}
			}
		}
	}

	for _, s := range def.States {
		if s.IsTerminal() && outgoingFrom[s.Name] {
			return apperrors.Newf(apperrors.ErrorTypeValidation, "terminal state %q has outgoing transitions", s.Name)
		}
	}

	if !reachableFromInitial(def, known) {
		return apperrors.NewValidationError("one or more states are unreachable from the initial state")
	}

	return nil
}

// reachableFromInitial walks the transition graph from the initial state and
// confirms every declared state is reachable.
func reachableFromInitial(def *model.WorkflowDefinition, known map[string]bool) bool {
	initial := def.InitialState()
	adj := make(map[string][]string)
	for _, t := range def.Transitions {
		adj[t.From] = append(adj[t.From], t.To)
	}

	visited := map[string]bool{initial: true}
	queue := []string{initial}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next := adj[cur]
		sort.Strings(next)
		for _, n := range next {
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	for name := range known {
		if !visited[name] {
			return false
		}
	}
	return true
}
