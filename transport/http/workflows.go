package http

import (
	"net/http"
	"strconv"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/authctx"
	"github.com/workflowdev/workflowd/pkg/repository"
	"github.com/workflowdev/workflowd/pkg/workflow/engine"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

func actorOrUnauthorized(w http.ResponseWriter, s *server, r *http.Request) (authctx.Context, bool) {
	actor, ok := authctx.FromContext(r.Context())
	if !ok {
		s.writeError(w, apperrors.NewAuthError("missing caller identity"))
		return authctx.Context{}, false
	}
	return actor, true
}

// createWorkflowRequest is the POST /workflows body.
type createWorkflowRequest struct {
	DefinitionKey     string         `json:"definition_key" validate:"required"`
	DefinitionVersion int            `json:"version,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
	Priority          string         `json:"priority,omitempty" validate:"omitempty,oneof=low normal high urgent"`
	IdempotencyKey    string         `json:"idempotency_key,omitempty"`
}

func (s *server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, s, r)
	if !ok {
		return
	}

	var req createWorkflowRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !s.validateStruct(w, &req) {
		return
	}

	instance, err := s.deps.Engine.Create(r.Context(), engine.CreateRequest{
		DefinitionKey:     req.DefinitionKey,
		DefinitionVersion: req.DefinitionVersion,
		OrganizationID:    actor.OrganizationID,
		Priority:          model.Priority(req.Priority),
		Context:           req.Context,
		IdempotencyKey:    req.IdempotencyKey,
	}, actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, instance)
}

func (s *server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, s, r)
	if !ok {
		return
	}
	instance, err := s.deps.Engine.Get(r.Context(), chiParam(r, "id"), actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, instance)
}

// advanceWorkflowRequest is the PATCH /workflows/{id}/next body.
type advanceWorkflowRequest struct {
	Trigger      string         `json:"trigger" validate:"required"`
	Notes        string         `json:"notes,omitempty"`
	ContextPatch map[string]any `json:"context_patch,omitempty"`
}

func (s *server) handleAdvanceWorkflow(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, s, r)
	if !ok {
		return
	}

	var req advanceWorkflowRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !s.validateStruct(w, &req) {
		return
	}

	instance, err := s.deps.Engine.Advance(r.Context(), engine.AdvanceRequest{
		InstanceID:   chiParam(r, "id"),
		Trigger:      req.Trigger,
		Notes:        req.Notes,
		ContextDelta: req.ContextPatch,
	}, actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, instance)
}

func (s *server) handleListForUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, s, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := repository.InstanceFilter{
		OrganizationID: actor.OrganizationID,
		AssignedTo:     chiParam(r, "userID"),
		Status:         model.Status(q.Get("status")),
		Priority:       model.Priority(q.Get("priority")),
		OverdueOnly:    q.Get("overdue") == "true",
		Page:           atoiOr(q.Get("page"), 1),
		PageSize:       atoiOr(q.Get("page_size"), 20),
	}

	instances, err := s.deps.Engine.ListForUser(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, instances)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, s, r)
	if !ok {
		return
	}
	stats, err := s.deps.Engine.Stats(r.Context(), actor.OrganizationID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleSlaCheck(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, s, r)
	if !ok {
		return
	}
	if !actor.HasRole("admin") {
		s.writeError(w, apperrors.NewForbiddenError("sla-check requires the admin role"))
		return
	}
	notified, err := s.deps.Engine.SlaSweep(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"notified": notified})
}

func atoiOr(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
