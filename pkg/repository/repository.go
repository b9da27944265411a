// Package repository is the abstract persistence contract:
// transactional semantics over the four entity kinds, with no assumption
// about the backing store. pkg/repository/postgres and pkg/repository/memory
// each implement it.
package repository

import (
	"context"
	"time"

	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

// InstanceFilter narrows WorkflowRepository.ListInstances.
type InstanceFilter struct {
	OrganizationID string
	AssignedTo string
	Status model.Status
	Priority model.Priority
	OverdueOnly bool
	Page int
	PageSize int
}

// Stats is the aggregate computed by WorkflowRepository.Stats.
type Stats struct {
	CountsByStatus map[model.Status]int
	AvgCompletionSecs float64
	OverdueCount int
}

// ErrOptimisticConflict is returned by UpdateInstance when the stored
// Version does not match the expected one; WorkflowEngine.Advance retries a
// bounded number of times before surfacing errors.Conflict.
var ErrOptimisticConflict = conflictSentinel{}

type conflictSentinel struct{}

func (conflictSentinel) Error() string { return "optimistic lock conflict" }

// WorkflowRepository is the aggregate repository the engine depends on. A
// single interface (rather than one per entity) lets SaveTransition commit
// the instance update and the history append as one atomic unit, matching
// "single-transaction: either history+instance update both
// commit or neither does".
type WorkflowRepository interface {
	DefinitionRepository
	InstanceRepository
	HistoryRepository
	InsightRepository
}

// DefinitionFilter paginates DefinitionRepository.ListDefinitions.
type DefinitionFilter struct {
	Key string
	Page int
	PageSize int
}

// DefinitionRepository backs pkg/workflow/registry.Store.
type DefinitionRepository interface {
	SaveDefinition(ctx context.Context, def *model.WorkflowDefinition) error
	GetDefinition(ctx context.Context, key string, version int) (*model.WorkflowDefinition, error)
	GetLatestDefinition(ctx context.Context, key string) (*model.WorkflowDefinition, error)
	GetDefinitionByID(ctx context.Context, id string) (*model.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*model.WorkflowDefinition, error)
}

// InstanceRepository manages WorkflowInstance rows.
type InstanceRepository interface {
	CreateInstance(ctx context.Context, instance *model.WorkflowInstance, seed model.HistoryEntry) error
	GetInstance(ctx context.Context, id string) (*model.WorkflowInstance, error)
	// FindByIdempotencyKey supports optional Create idempotency.
	FindByIdempotencyKey(ctx context.Context, orgID, key string) (*model.WorkflowInstance, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*model.WorkflowInstance, error)
	// SaveTransition atomically persists the instance's new state/context and
	// appends entry, enforcing optimistic concurrency on instance.Version.
	// Returns ErrOptimisticConflict if the stored version has moved on.
	SaveTransition(ctx context.Context, instance *model.WorkflowInstance, entry model.HistoryEntry) error
	// MarkOverdueNotified flips the idempotency sidecar flag used by SlaSweep
	// so workflow.overdue fires at most once per instance.
	MarkOverdueNotified(ctx context.Context, instanceID string) (alreadyNotified bool, err error)
	// ListOverdueActive returns active instances whose due_at has passed.
	ListOverdueActive(ctx context.Context, now time.Time) ([]*model.WorkflowInstance, error)
	Stats(ctx context.Context, orgID string) (Stats, error)
}

// HistoryRepository is read access to the append-only audit trail; writes
// happen only through InstanceRepository.SaveTransition/CreateInstance so
// that instance+history always commit together.
type HistoryRepository interface {
	ListHistory(ctx context.Context, instanceID string) ([]model.HistoryEntry, error)
}

// InsightRepository manages AIInsight attachments.
type InsightRepository interface {
	SaveInsight(ctx context.Context, insight *model.AIInsight) error
	ListInsights(ctx context.Context, instanceID string) ([]*model.AIInsight, error)
	// DetachInsights nulls InstanceID on every insight of a deleted instance,
	// letting them outlive it.
	DetachInsights(ctx context.Context, instanceID string) error
}
