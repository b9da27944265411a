package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

func TestSaveAndGetDefinition(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	def := &model.WorkflowDefinition{
		ID:      "def-1",
		Key:     "approval",
		Version: 1,
		Name:    "Approval",
		States: []model.State{
			{Name: "draft", Initial: true},
			{Name: "approved", Terminal: model.TerminalSuccess},
		},
		Transitions: []model.Transition{{From: "draft", To: "approved", Trigger: "approve"}},
		CreatedAt:   time.Now(),
	}

	mock.ExpectExec("INSERT INTO workflow_definitions").WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.SaveDefinition(ctx, def); err != nil {
		t.Fatalf("SaveDefinition: %v", err)
	}

	states, _ := json.Marshal(def.States)
	transitions, _ := json.Marshal(def.Transitions)
	rows := sqlmock.NewRows([]string{"id", "key", "version", "name", "description", "states", "transitions", "sla", "created_at"}).
		AddRow(def.ID, def.Key, def.Version, def.Name, def.Description, states, transitions, nil, def.CreatedAt)
	mock.ExpectQuery("SELECT (.+) FROM workflow_definitions WHERE key = \\$1 AND version = \\$2").
		WithArgs("approval", 1).
		WillReturnRows(rows)

	got, err := store.GetDefinition(ctx, "approval", 1)
	if err != nil {
		t.Fatalf("GetDefinition: %v", err)
	}
	if got.ID != def.ID || len(got.States) != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestGetDefinitionNotFound(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM workflow_definitions WHERE key = \\$1 AND version = \\$2").
		WithArgs("missing", 1).
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := store.GetDefinition(ctx, "missing", 1)
	if !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
