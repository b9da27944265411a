package postgres

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

// historyRow is the sqlx.Select target for a workflow_history row:
// context_delta stays raw JSON since model.HistoryEntry marks that field
// db:"-".
type historyRow struct {
	ID           string    `db:"id"`
	InstanceID   string    `db:"instance_id"`
	FromState    *string   `db:"from_state"`
	ToState      string    `db:"to_state"`
	Trigger      string    `db:"trigger"`
	ActorID      string    `db:"actor_id"`
	At           time.Time `db:"at"`
	Notes        string    `db:"notes"`
	ContextDelta []byte    `db:"context_delta"`
}

func (s *Store) ListHistory(ctx context.Context, instanceID string) ([]model.HistoryEntry, error) {
	const q = `
		SELECT id, instance_id, from_state, to_state, trigger, actor_id, at, notes, context_delta
		FROM workflow_history WHERE instance_id = $1 ORDER BY at
	`
	var rows []historyRow
	if err := s.db.SelectContext(ctx, &rows, q, instanceID); err != nil {
		return nil, apperrors.NewDatabaseError("list_history", err)
	}

	out := make([]model.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		e := model.HistoryEntry{
			ID: r.ID, InstanceID: r.InstanceID, FromState: r.FromState, ToState: r.ToState,
			Trigger: r.Trigger, ActorID: r.ActorID, At: r.At, Notes: r.Notes,
		}
		if len(r.ContextDelta) > 0 {
			if err := json.Unmarshal(r.ContextDelta, &e.ContextDelta); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal context delta")
			}
		}
		out = append(out, e)
	}
	return out, nil
}
