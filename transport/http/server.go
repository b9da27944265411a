// Package http implements the authoritative §6 HTTP surface as a set of
// chi handlers over the workflow engine, definition registry, and AI
// router. Routing only: authentication and organization scoping are
// delegated to the AuthContext the caller's request context already
// carries (see pkg/authctx and internal/server) rather than performed here.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/go-logr/logr"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/ai/router"
	"github.com/workflowdev/workflowd/pkg/workflow/engine"
	"github.com/workflowdev/workflowd/pkg/workflow/registry"
)

// Dependencies are the collaborators the handlers call into. None of them
// are owned by this package; internal/server constructs and injects them.
type Dependencies struct {
	Engine   *engine.Engine
	Registry *registry.Registry
	Router   *router.Manager
	Logger   logr.Logger
}

type server struct {
	deps     Dependencies
	validate *validator.Validate
}

// Mount registers every §6 route under r (expected to already be scoped to
// the /api/v1 prefix by the caller).
func Mount(r chi.Router, deps Dependencies) {
	s := &server{deps: deps, validate: validator.New()}

	r.Post("/workflows", s.handleCreateWorkflow)
	r.Get("/workflows/stats", s.handleStats)
	r.Get("/workflows/sla-check", s.handleSlaCheck)
	r.Get("/workflows/user/{userID}", s.handleListForUser)
	r.Get("/workflows/{id}", s.handleGetWorkflow)
	r.Patch("/workflows/{id}/next", s.handleAdvanceWorkflow)

	r.Post("/definitions", s.handleRegisterDefinition)
	r.Get("/definitions", s.handleListDefinitions)

	r.Post("/ai/summarize", s.handleAISummarize)
	r.Post("/ai/analyze", s.handleAIAnalyze)
	r.Post("/ai/suggest", s.handleAISuggest)
	r.Get("/ai/health", s.handleAIHealth)
	r.Get("/ai/models", s.handleAIModels)
}

// errorResponse is the JSON body written for every non-2xx response.
type errorResponse struct {
	Error   string `json:"error"`
	Type    string `json:"type"`
	Details string `json:"details,omitempty"`
}

func (s *server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps err through internal/errors' ErrorType -> status code
// table so callers never have to string-match error messages.
func (s *server) writeError(w http.ResponseWriter, err error) {
	status := apperrors.GetStatusCode(err)
	resp := errorResponse{
		Error: apperrors.SafeErrorMessage(err),
		Type:  string(apperrors.GetType(err)),
	}
	if appErr, ok := err.(*apperrors.AppError); ok {
		resp.Details = appErr.Details
	}
	s.writeJSON(w, status, resp)
}

func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "invalid JSON body"))
		return false
	}
	return true
}

func (s *server) validateStruct(w http.ResponseWriter, v any) bool {
	if err := s.validate.Struct(v); err != nil {
		s.writeError(w, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "request validation failed"))
		return false
	}
	return true
}

func chiParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}
