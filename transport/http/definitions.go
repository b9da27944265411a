package http

import (
	"net/http"
	"time"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/repository"
	"github.com/workflowdev/workflowd/pkg/workflow/model"
)

// definitionDocument is the JSON shape accepted by POST /definitions,
// matching the wire format documented in the workflow definition registry's
// external interface.
type definitionDocument struct {
	Key         string                    `json:"key" validate:"required"`
	Version     int                       `json:"version" validate:"required,min=1"`
	Name        string                    `json:"name" validate:"required"`
	Description string                    `json:"description,omitempty"`
	States      []definitionState         `json:"states" validate:"required,min=1,dive"`
	Transitions []definitionTransition    `json:"transitions" validate:"dive"`
	SLA         *definitionSLA            `json:"sla,omitempty"`
}

type definitionState struct {
	Name     string `json:"name" validate:"required"`
	Initial  bool   `json:"initial,omitempty"`
	Terminal string `json:"terminal,omitempty" validate:"omitempty,oneof=success failure"`
}

type definitionTransition struct {
	From           string                     `json:"from" validate:"required"`
	To             string                     `json:"to" validate:"required"`
	Trigger        string                     `json:"trigger" validate:"required"`
	GuardRef       string                     `json:"guard,omitempty"`
	RequiredRoles  []string                   `json:"required_roles,omitempty"`
	OnEnterActions []definitionActionDecl     `json:"on_enter_actions,omitempty"`
}

type definitionActionDecl struct {
	Name          string         `json:"name" validate:"required"`
	ExecutionMode string         `json:"execution_mode" validate:"required,oneof=synchronous post_commit"`
	Mandatory     bool           `json:"mandatory,omitempty"`
	Params        map[string]any `json:"params,omitempty"`
}

type definitionSLA struct {
	TotalDurationSeconds int64            `json:"total_duration_seconds,omitempty"`
	PerStateSeconds      map[string]int64 `json:"per_state_durations,omitempty"`
}

func (d *definitionDocument) toModel() *model.WorkflowDefinition {
	def := &model.WorkflowDefinition{
		Key:         d.Key,
		Version:     d.Version,
		Name:        d.Name,
		Description: d.Description,
	}
	for _, st := range d.States {
		def.States = append(def.States, model.State{
			Name:     st.Name,
			Initial:  st.Initial,
			Terminal: model.TerminalKind(st.Terminal),
		})
	}
	for _, t := range d.Transitions {
		transition := model.Transition{
			From:          t.From,
			To:            t.To,
			Trigger:       t.Trigger,
			GuardRef:      t.GuardRef,
			RequiredRoles: t.RequiredRoles,
		}
		for _, a := range t.OnEnterActions {
			transition.OnEnterActions = append(transition.OnEnterActions, model.ActionDeclaration{
				Name:          a.Name,
				ExecutionMode: model.ExecutionMode(a.ExecutionMode),
				Mandatory:     a.Mandatory,
				Params:        a.Params,
			})
		}
		def.Transitions = append(def.Transitions, transition)
	}
	if d.SLA != nil {
		sla := &model.SLA{
			TotalDuration: time.Duration(d.SLA.TotalDurationSeconds) * time.Second,
		}
		if len(d.SLA.PerStateSeconds) > 0 {
			sla.PerStateDuration = make(map[string]time.Duration, len(d.SLA.PerStateSeconds))
			for state, secs := range d.SLA.PerStateSeconds {
				sla.PerStateDuration[state] = time.Duration(secs) * time.Second
			}
		}
		def.SLA = sla
	}
	return def
}

func (s *server) handleRegisterDefinition(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, s, r)
	if !ok {
		return
	}
	if !actor.HasRole("admin") {
		s.writeError(w, apperrors.NewForbiddenError("registering a definition requires the admin role"))
		return
	}

	var doc definitionDocument
	if !s.decodeJSON(w, r, &doc) {
		return
	}
	if !s.validateStruct(w, &doc) {
		return
	}

	def, err := s.deps.Registry.Register(r.Context(), doc.toModel())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, def)
}

func (s *server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOrUnauthorized(w, s, r); !ok {
		return
	}

	q := r.URL.Query()
	filter := repository.DefinitionFilter{
		Key:      q.Get("key"),
		Page:     atoiOr(q.Get("page"), 1),
		PageSize: atoiOr(q.Get("page_size"), 20),
	}
	defs, err := s.deps.Registry.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, defs)
}
