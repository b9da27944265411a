package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/repository"
	"github.com/workflowdev/workflowd/pkg/repository/postgres/sqlutil"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

func (s *Store) CreateInstance(ctx context.Context, instance *model.WorkflowInstance, seed model.HistoryEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError("begin_create_instance", err)
	}
	defer tx.Rollback()

	ctxJSON, err := json.Marshal(instance.Context)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal instance context")
	}

	const insertInstance = `
		INSERT INTO workflow_instances
			(id, definition_id, organization_id, created_by, assigned_to, current_state, context,
			 priority, due_at, created_at, updated_at, version, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.ExecContext(ctx, insertInstance,
		instance.ID, instance.DefinitionID, instance.OrganizationID, instance.CreatedBy, instance.AssignedTo,
		instance.CurrentState, ctxJSON, instance.Priority, sqlutil.ToNullTime(instance.DueAt),
		instance.CreatedAt, instance.UpdatedAt, instance.Version, instance.IdempotencyKey,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError("an instance with this idempotency key already exists")
		}
		return apperrors.NewDatabaseError("create_instance", err)
	}

	if err := insertHistory(ctx, tx, seed); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("commit_create_instance", err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, entry model.HistoryEntry) error {
	delta, err := json.Marshal(entry.ContextDelta)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal context delta")
	}
	const q = `
		INSERT INTO workflow_history (id, instance_id, from_state, to_state, trigger, actor_id, at, notes, context_delta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.ExecContext(ctx, q, entry.ID, entry.InstanceID, entry.FromState, entry.ToState, entry.Trigger,
		entry.ActorID, entry.At, entry.Notes, delta)
	if err != nil {
		return apperrors.NewDatabaseError("insert_history", err)
	}
	return nil
}

const selectInstanceCols = `
	id, definition_id, organization_id, created_by, assigned_to, current_state, context,
	priority, due_at, created_at, updated_at, completed_at, overdue_notified, version, idempotency_key
`

// instanceRow is the sqlx.StructScan target for selectInstanceCols: the
// JSONB and nullable columns need a manual conversion step the model type
// itself doesn't carry (model.WorkflowInstance.Context is db:"-").
type instanceRow struct {
	ID              string         `db:"id"`
	DefinitionID    string         `db:"definition_id"`
	OrganizationID  string         `db:"organization_id"`
	CreatedBy       string         `db:"created_by"`
	AssignedTo      string         `db:"assigned_to"`
	CurrentState    string         `db:"current_state"`
	Context         []byte         `db:"context"`
	Priority        model.Priority `db:"priority"`
	DueAt           sql.NullTime   `db:"due_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	OverdueNotified bool           `db:"overdue_notified"`
	Version         int            `db:"version"`
	IdempotencyKey  string         `db:"idempotency_key"`
}

func (r instanceRow) toModel() (*model.WorkflowInstance, error) {
	i := &model.WorkflowInstance{
		ID: r.ID, DefinitionID: r.DefinitionID, OrganizationID: r.OrganizationID,
		CreatedBy: r.CreatedBy, AssignedTo: r.AssignedTo, CurrentState: r.CurrentState,
		Priority: r.Priority, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		OverdueNotified: r.OverdueNotified, Version: r.Version, IdempotencyKey: r.IdempotencyKey,
	}
	if len(r.Context) > 0 {
		if err := json.Unmarshal(r.Context, &i.Context); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal instance context")
		}
	}
	i.DueAt = sqlutil.FromNullTime(r.DueAt)
	i.CompletedAt = sqlutil.FromNullTime(r.CompletedAt)
	return i, nil
}

func (s *Store) scanInstanceRow(row structScanner) (*model.WorkflowInstance, error) {
	var r instanceRow
	if err := row.StructScan(&r); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, apperrors.NewDatabaseError("scan_instance", err)
	}
	return r.toModel()
}

func (s *Store) GetInstance(ctx context.Context, id string) (*model.WorkflowInstance, error) {
	q := fmt.Sprintf("SELECT %s FROM workflow_instances WHERE id = $1", selectInstanceCols)
	instance, err := s.scanInstanceRow(s.db.QueryRowxContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("workflow instance")
	}
	return instance, err
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, orgID, key string) (*model.WorkflowInstance, error) {
	q := fmt.Sprintf("SELECT %s FROM workflow_instances WHERE organization_id = $1 AND idempotency_key = $2", selectInstanceCols)
	instance, err := s.scanInstanceRow(s.db.QueryRowxContext(ctx, q, orgID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("workflow instance")
	}
	return instance, err
}

func (s *Store) ListInstances(ctx context.Context, filter repository.InstanceFilter) ([]*model.WorkflowInstance, error) {
	q := fmt.Sprintf("SELECT %s FROM workflow_instances", selectInstanceCols)
	var clauses []string
	var args []any

	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.OrganizationID != "" {
		add("organization_id = $%d", filter.OrganizationID)
	}
	if filter.AssignedTo != "" {
		add("assigned_to = $%d", filter.AssignedTo)
	}
	if filter.Priority != "" {
		add("priority = $%d", filter.Priority)
	}
	if filter.OverdueOnly {
		clauses = append(clauses, "due_at IS NOT NULL AND due_at < now() AND completed_at IS NULL")
	}
	if filter.Status != "" {
		if c, ok := statusClause(filter.Status); ok {
			clauses = append(clauses, c)
		}
	}
	for i, c := range clauses {
		if i == 0 {
			q += " WHERE " + c
		} else {
			q += " AND " + c
		}
	}
	q += " ORDER BY created_at"
	if filter.PageSize > 0 {
		args = append(args, filter.PageSize, filter.Page*filter.PageSize)
		q += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := s.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_instances", err)
	}
	defer rows.Close()

	var out []*model.WorkflowInstance
	for rows.Next() {
		instance, err := s.scanInstanceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list_instances", err)
	}
	return out, nil
}

// stateTerminalSubquery resolves workflow_instances.current_state to the
// terminal flavor declared on its definition's matching state entry, by
// scanning the definition's states JSONB array. Empty string means
// not-terminal, mirroring model.NotTerminal.
const stateTerminalSubquery = `(
	SELECT coalesce(st->>'terminal', '')
	FROM workflow_definitions wd, jsonb_array_elements(wd.states) st
	WHERE wd.id = workflow_instances.definition_id AND st->>'name' = workflow_instances.current_state
	LIMIT 1
)`

// statusClause renders the WHERE fragment for a derived model.Status. ok is
// false for a status with no SQL-expressible definition (there are none
// today, but new Status values should fail closed rather than silently
// matching everything).
func statusClause(status model.Status) (string, bool) {
	switch status {
	case model.StatusCompleted:
		return stateTerminalSubquery + " = 'success'", true
	case model.StatusFailed:
		return stateTerminalSubquery + " = 'failure'", true
	case model.StatusOverdue:
		return "due_at IS NOT NULL AND due_at < now() AND " + stateTerminalSubquery + " = ''", true
	case model.StatusActive:
		return "(due_at IS NULL OR due_at >= now()) AND " + stateTerminalSubquery + " = ''", true
	default:
		return "", false
	}
}

// SaveTransition updates the instance row and appends a history entry in a
// single transaction, enforcing optimistic concurrency on the row's stored
// version. The UPDATE's WHERE clause both checks and increments the
// version atomically, so a concurrent writer's transaction can never
// silently clobber this one.
func (s *Store) SaveTransition(ctx context.Context, instance *model.WorkflowInstance, entry model.HistoryEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError("begin_save_transition", err)
	}
	defer tx.Rollback()

	ctxJSON, err := json.Marshal(instance.Context)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal instance context")
	}

	const q = `
		UPDATE workflow_instances
		SET current_state = $1, context = $2, updated_at = $3, completed_at = $4, version = version + 1
		WHERE id = $5 AND version = $6
	`
	res, err := tx.ExecContext(ctx, q, instance.CurrentState, ctxJSON, instance.UpdatedAt,
		sqlutil.ToNullTime(instance.CompletedAt), instance.ID, instance.Version)
	if err != nil {
		return apperrors.NewDatabaseError("save_transition", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError("save_transition_rows_affected", err)
	}
	if affected == 0 {
		return repository.ErrOptimisticConflict
	}

	if err := insertHistory(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("commit_save_transition", err)
	}
	instance.Version++
	return nil
}

func (s *Store) MarkOverdueNotified(ctx context.Context, instanceID string) (bool, error) {
	const q = `UPDATE workflow_instances SET overdue_notified = true WHERE id = $1 AND NOT overdue_notified`
	res, err := s.db.ExecContext(ctx, q, instanceID)
	if err != nil {
		return false, apperrors.NewDatabaseError("mark_overdue_notified", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError("mark_overdue_notified_rows_affected", err)
	}
	// affected == 0 means either the row was already notified, or it does
	// not exist; either way the caller should not re-notify.
	return affected == 0, nil
}

func (s *Store) ListOverdueActive(ctx context.Context, now time.Time) ([]*model.WorkflowInstance, error) {
	q := fmt.Sprintf(`SELECT %s FROM workflow_instances
		WHERE due_at IS NOT NULL AND due_at < $1 AND completed_at IS NULL`, selectInstanceCols)
	rows, err := s.db.QueryxContext(ctx, q, now)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_overdue_active", err)
	}
	defer rows.Close()

	var out []*model.WorkflowInstance
	for rows.Next() {
		instance, err := s.scanInstanceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list_overdue_active", err)
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context, orgID string) (repository.Stats, error) {
	stats := repository.Stats{CountsByStatus: make(map[model.Status]int)}

	const overdueQ = `
		SELECT count(*) FROM workflow_instances
		WHERE organization_id = $1 AND completed_at IS NULL AND due_at IS NOT NULL AND due_at < now()
	`
	if err := s.db.QueryRowContext(ctx, overdueQ, orgID).Scan(&stats.OverdueCount); err != nil {
		return stats, apperrors.NewDatabaseError("stats_overdue", err)
	}
	stats.CountsByStatus[model.StatusOverdue] = stats.OverdueCount

	var activeCount int
	const activeQ = `
		SELECT count(*) FROM workflow_instances
		WHERE organization_id = $1 AND completed_at IS NULL AND (due_at IS NULL OR due_at >= now())
	`
	if err := s.db.QueryRowContext(ctx, activeQ, orgID).Scan(&activeCount); err != nil {
		return stats, apperrors.NewDatabaseError("stats_active", err)
	}
	stats.CountsByStatus[model.StatusActive] = activeCount

	const avgQ = `
		SELECT coalesce(avg(extract(epoch FROM completed_at - created_at)), 0)
		FROM workflow_instances WHERE organization_id = $1 AND completed_at IS NOT NULL
	`
	if err := s.db.QueryRowContext(ctx, avgQ, orgID).Scan(&stats.AvgCompletionSecs); err != nil {
		return stats, apperrors.NewDatabaseError("stats_avg_completion", err)
	}

	return stats, nil
}
