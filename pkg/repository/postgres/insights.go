package postgres

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/repository/postgres/sqlutil"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

// insightRow is the sqlx.Select target for an ai_insights row: instance_id
// is nullable (insights can outlive a deleted instance) while
// model.AIInsight.InstanceID is a plain string.
type insightRow struct {
	ID         string            `db:"id"`
	InstanceID sql.NullString    `db:"instance_id"`
	Kind       model.InsightKind `db:"kind"`
	Content    string            `db:"content"`
	Confidence float64           `db:"confidence"`
	ModelID    string            `db:"model_id"`
	ProviderID string            `db:"provider_id"`
	CreatedAt  time.Time         `db:"created_at"`
}

func (s *Store) SaveInsight(ctx context.Context, insight *model.AIInsight) error {
	const q = `
		INSERT INTO ai_insights (id, instance_id, kind, content, confidence, model_id, provider_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, q, insight.ID, sqlutil.ToNullStringValue(insight.InstanceID), insight.Kind,
		insight.Content, insight.Confidence, insight.ModelID, insight.ProviderID, insight.CreatedAt)
	if err != nil {
		return apperrors.NewDatabaseError("save_insight", err)
	}
	return nil
}

func (s *Store) ListInsights(ctx context.Context, instanceID string) ([]*model.AIInsight, error) {
	const q = `
		SELECT id, instance_id, kind, content, confidence, model_id, provider_id, created_at
		FROM ai_insights WHERE instance_id = $1 ORDER BY created_at
	`
	var rows []insightRow
	if err := s.db.SelectContext(ctx, &rows, q, instanceID); err != nil {
		return nil, apperrors.NewDatabaseError("list_insights", err)
	}

	out := make([]*model.AIInsight, 0, len(rows))
	for _, r := range rows {
		insight := &model.AIInsight{
			ID: r.ID, Kind: r.Kind, Content: r.Content, Confidence: r.Confidence,
			ModelID: r.ModelID, ProviderID: r.ProviderID, CreatedAt: r.CreatedAt,
		}
		if r.InstanceID.Valid {
			insight.InstanceID = r.InstanceID.String
		}
		out = append(out, insight)
	}
	return out, nil
}

func (s *Store) DetachInsights(ctx context.Context, instanceID string) error {
	const q = `UPDATE ai_insights SET instance_id = NULL WHERE instance_id = $1`
	if _, err := s.db.ExecContext(ctx, q, instanceID); err != nil {
		return apperrors.NewDatabaseError("detach_insights", err)
	}
	return nil
}
