// Package memory is an in-process WorkflowRepository implementation: no
// database, just mutex-guarded maps. It backs unit tests and lets the
// engine run end-to-end in examples without a Postgres instance.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/repository"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

// Store is the in-memory repository.WorkflowRepository.
type Store struct {
	mu sync.Mutex

	definitionsByKey map[string]map[int]*model.WorkflowDefinition
	definitionsByID  map[string]*model.WorkflowDefinition

	instances map[string]*model.WorkflowInstance
	history   map[string][]model.HistoryEntry
	insights  map[string][]*model.AIInsight
	idemIndex map[string]string // orgID\x00key -> instanceID
}

var errNotFound = apperrors.NewNotFoundError("resource")

// New builds an empty Store.
func New() *Store {
	return &Store{
		definitionsByKey: make(map[string]map[int]*model.WorkflowDefinition),
		definitionsByID:  make(map[string]*model.WorkflowDefinition),
		instances:        make(map[string]*model.WorkflowInstance),
		history:          make(map[string][]model.HistoryEntry),
		insights:         make(map[string][]*model.AIInsight),
		idemIndex:        make(map[string]string),
	}
}

var _ repository.WorkflowRepository = (*Store)(nil)

func (s *Store) SaveDefinition(ctx context.Context, def *model.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.definitionsByKey[def.Key] == nil {
		s.definitionsByKey[def.Key] = make(map[int]*model.WorkflowDefinition)
	}
	s.definitionsByKey[def.Key][def.Version] = def
	s.definitionsByID[def.ID] = def
	return nil
}

func (s *Store) GetDefinition(ctx context.Context, key string, version int) (*model.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.definitionsByKey[key]
	if !ok {
		return nil, errNotFound
	}
	def, ok := versions[version]
	if !ok {
		return nil, errNotFound
	}
	return def, nil
}

func (s *Store) GetLatestDefinition(ctx context.Context, key string) (*model.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.definitionsByKey[key]
	if !ok || len(versions) == 0 {
		return nil, errNotFound
	}
	best := -1
	for v := range versions {
		if v > best {
			best = v
		}
	}
	return versions[best], nil
}

func (s *Store) GetDefinitionByID(ctx context.Context, id string) (*model.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.definitionsByID[id]
	if !ok {
		return nil, errNotFound
	}
	return def, nil
}

func (s *Store) ListDefinitions(ctx context.Context, filter repository.DefinitionFilter) ([]*model.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.WorkflowDefinition
	for key, versions := range s.definitionsByKey {
		if filter.Key != "" && key != filter.Key {
			continue
		}
		for _, def := range versions {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Version < out[j].Version
	})
	return paginate(out, filter.Page, filter.PageSize), nil
}

func (s *Store) CreateInstance(ctx context.Context, instance *model.WorkflowInstance, seed model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[instance.ID] = cloneInstance(instance)
	s.history[instance.ID] = append(s.history[instance.ID], seed)
	if instance.IdempotencyKey != "" {
		s.idemIndex[instance.OrganizationID+"\x00"+instance.IdempotencyKey] = instance.ID
	}
	return nil
}

func (s *Store) GetInstance(ctx context.Context, id string) (*model.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	instance, ok := s.instances[id]
	if !ok {
		return nil, errNotFound
	}
	return cloneInstance(instance), nil
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, orgID, key string) (*model.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.idemIndex[orgID+"\x00"+key]
	if !ok {
		return nil, errNotFound
	}
	return cloneInstance(s.instances[id]), nil
}

func (s *Store) ListInstances(ctx context.Context, filter repository.InstanceFilter) ([]*model.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.WorkflowInstance
	now := time.Now()
	for _, instance := range s.instances {
		if filter.OrganizationID != "" && instance.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.AssignedTo != "" && instance.AssignedTo != filter.AssignedTo {
			continue
		}
		if filter.Priority != "" && instance.Priority != filter.Priority {
			continue
		}
		terminal := s.terminalKindFor(instance)
		status := instance.Status(terminal, now)
		if filter.Status != "" && status != filter.Status {
			continue
		}
		if filter.OverdueOnly && status != model.StatusOverdue {
			continue
		}
		out = append(out, cloneInstance(instance))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginateInstances(out, filter.Page, filter.PageSize), nil
}

// terminalKindFor looks up the instance's definition to determine whether
// its current state is terminal. Returns model.NotTerminal if the
// definition cannot be found, treating the instance conservatively as
// still active.
func (s *Store) terminalKindFor(instance *model.WorkflowInstance) model.TerminalKind {
	def, ok := s.definitionsByID[instance.DefinitionID]
	if !ok {
		return model.NotTerminal
	}
	state, ok := def.StateByName(instance.CurrentState)
	if !ok {
		return model.NotTerminal
	}
	return state.Terminal
}

func (s *Store) SaveTransition(ctx context.Context, instance *model.WorkflowInstance, entry model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.instances[instance.ID]
	if !ok {
		return errNotFound
	}
	if existing.Version != instance.Version {
		return repository.ErrOptimisticConflict
	}
	instance.Version++
	s.instances[instance.ID] = cloneInstance(instance)
	s.history[instance.ID] = append(s.history[instance.ID], entry)
	return nil
}

func (s *Store) MarkOverdueNotified(ctx context.Context, instanceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	instance, ok := s.instances[instanceID]
	if !ok {
		return false, errNotFound
	}
	if instance.OverdueNotified {
		return true, nil
	}
	instance.OverdueNotified = true
	return false, nil
}

func (s *Store) ListOverdueActive(ctx context.Context, now time.Time) ([]*model.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.WorkflowInstance
	for _, instance := range s.instances {
		if instance.DueAt == nil || !instance.DueAt.Before(now) {
			continue
		}
		if s.terminalKindFor(instance) != model.NotTerminal {
			continue
		}
		out = append(out, cloneInstance(instance))
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context, orgID string) (repository.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := repository.Stats{CountsByStatus: make(map[model.Status]int)}
	now := time.Now()
	var totalCompletionSecs float64
	var completedCount int
	for _, instance := range s.instances {
		if instance.OrganizationID != orgID {
			continue
		}
		status := instance.Status(s.terminalKindFor(instance), now)
		stats.CountsByStatus[status]++
		if status == model.StatusOverdue {
			stats.OverdueCount++
		}
		if instance.CompletedAt != nil {
			totalCompletionSecs += instance.CompletedAt.Sub(instance.CreatedAt).Seconds()
			completedCount++
		}
	}
	if completedCount > 0 {
		stats.AvgCompletionSecs = totalCompletionSecs / float64(completedCount)
	}
	return stats, nil
}

func (s *Store) ListHistory(ctx context.Context, instanceID string) ([]model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.history[instanceID]
	out := make([]model.HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *Store) SaveInsight(ctx context.Context, insight *model.AIInsight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights[insight.InstanceID] = append(s.insights[insight.InstanceID], insight)
	return nil
}

func (s *Store) ListInsights(ctx context.Context, instanceID string) ([]*model.AIInsight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.AIInsight(nil), s.insights[instanceID]...), nil
}

func (s *Store) DetachInsights(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, insight := range s.insights[instanceID] {
		insight.InstanceID = ""
	}
	delete(s.insights, instanceID)
	return nil
}

func cloneInstance(i *model.WorkflowInstance) *model.WorkflowInstance {
	cp := *i
	if i.Context != nil {
		cp.Context = make(map[string]any, len(i.Context))
		for k, v := range i.Context {
			cp.Context[k] = v
		}
	}
	return &cp
}

func paginate(defs []*model.WorkflowDefinition, page, pageSize int) []*model.WorkflowDefinition {
	if pageSize <= 0 {
		return defs
	}
	start := page * pageSize
	if start >= len(defs) {
		return nil
	}
	end := start + pageSize
	if end > len(defs) {
		end = len(defs)
	}
	return defs[start:end]
}

func paginateInstances(instances []*model.WorkflowInstance, page, pageSize int) []*model.WorkflowInstance {
	if pageSize <= 0 {
		return instances
	}
	start := page * pageSize
	if start >= len(instances) {
		return nil
	}
	end := start + pageSize
	if end > len(instances) {
		end = len(instances)
	}
	return instances[start:end]
}
