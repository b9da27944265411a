package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/repository"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

func (s *Store) SaveDefinition(ctx context.Context, def *model.WorkflowDefinition) error {
	states, err := json.Marshal(def.States)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal states")
	}
	transitions, err := json.Marshal(def.Transitions)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal transitions")
	}
	var sla []byte
	if def.SLA != nil {
		sla, err = json.Marshal(def.SLA)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal sla")
		}
	}

	const q = `
		INSERT INTO workflow_definitions (id, key, version, name, description, states, transitions, sla, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, q, def.ID, def.Key, def.Version, def.Name, def.Description, states, transitions, sla, def.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError("a definition with this key and version already exists")
		}
		return apperrors.NewDatabaseError("save_definition", err)
	}
	return nil
}

func (s *Store) GetDefinition(ctx context.Context, key string, version int) (*model.WorkflowDefinition, error) {
	const q = `
		SELECT id, key, version, name, description, states, transitions, sla, created_at
		FROM workflow_definitions WHERE key = $1 AND version = $2
	`
	return s.scanDefinition(s.db.QueryRowxContext(ctx, q, key, version))
}

func (s *Store) GetLatestDefinition(ctx context.Context, key string) (*model.WorkflowDefinition, error) {
	const q = `
		SELECT id, key, version, name, description, states, transitions, sla, created_at
		FROM workflow_definitions WHERE key = $1 ORDER BY version DESC LIMIT 1
	`
	return s.scanDefinition(s.db.QueryRowxContext(ctx, q, key))
}

func (s *Store) GetDefinitionByID(ctx context.Context, id string) (*model.WorkflowDefinition, error) {
	const q = `
		SELECT id, key, version, name, description, states, transitions, sla, created_at
		FROM workflow_definitions WHERE id = $1
	`
	return s.scanDefinition(s.db.QueryRowxContext(ctx, q, id))
}

func (s *Store) ListDefinitions(ctx context.Context, filter repository.DefinitionFilter) ([]*model.WorkflowDefinition, error) {
	q := `
		SELECT id, key, version, name, description, states, transitions, sla, created_at
		FROM workflow_definitions
	`
	args := []any{}
	if filter.Key != "" {
		args = append(args, filter.Key)
		q += " WHERE key = $1"
	}
	q += " ORDER BY key, version"
	if filter.PageSize > 0 {
		args = append(args, filter.PageSize, filter.Page*filter.PageSize)
		q += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := s.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_definitions", err)
	}
	defer rows.Close()

	var out []*model.WorkflowDefinition
	for rows.Next() {
		def, err := s.scanDefinitionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list_definitions", err)
	}
	return out, nil
}

// structScanner is satisfied by both *sqlx.Row and *sqlx.Rows, letting
// scan helpers StructScan a single row or iterate a result set the same way.
type structScanner interface {
	StructScan(dest any) error
}

// definitionRow is the sqlx.StructScan target for a workflow_definitions
// row: states/transitions/sla stay raw JSON since model.WorkflowDefinition
// marks those fields db:"-".
type definitionRow struct {
	ID          string    `db:"id"`
	Key         string    `db:"key"`
	Version     int       `db:"version"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	States      []byte    `db:"states"`
	Transitions []byte    `db:"transitions"`
	SLA         []byte    `db:"sla"`
	CreatedAt   time.Time `db:"created_at"`
}

func (s *Store) scanDefinition(row structScanner) (*model.WorkflowDefinition, error) {
	def, err := s.scanDefinitionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("workflow definition")
		}
		return nil, err
	}
	return def, nil
}

func (s *Store) scanDefinitionRow(row structScanner) (*model.WorkflowDefinition, error) {
	var r definitionRow
	if err := row.StructScan(&r); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, apperrors.NewDatabaseError("scan_definition", err)
	}
	def := model.WorkflowDefinition{
		ID: r.ID, Key: r.Key, Version: r.Version, Name: r.Name, Description: r.Description, CreatedAt: r.CreatedAt,
	}
	if err := json.Unmarshal(r.States, &def.States); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal states")
	}
	if err := json.Unmarshal(r.Transitions, &def.Transitions); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal transitions")
	}
	if len(r.SLA) > 0 {
		var sla model.SLA
		if err := json.Unmarshal(r.SLA, &sla); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal sla")
		}
		def.SLA = &sla
	}
	return &def, nil
}
