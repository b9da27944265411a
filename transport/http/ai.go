package http

import (
	"errors"
	"net/http"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	aimodel "github.com/workflowdev/workflowd/pkg/ai/model"
	"github.com/workflowdev/workflowd/pkg/ai/router"
)

// aiRequest is the common shape shared by /ai/summarize, /ai/analyze, and
// /ai/suggest: each endpoint differs only in which field holds the payload
// and which TaskType it implies.
type aiRequest struct {
	Text        string         `json:"text,omitempty"`
	Content     string         `json:"content,omitempty"`
	ContextData map[string]any `json:"context_data,omitempty"`
	Strategy    string         `json:"strategy,omitempty" validate:"omitempty,oneof=performance cost speed balanced fallback"`
	MaxCost     *float64       `json:"max_cost,omitempty"`
}

type aiResponse struct {
	Content      string  `json:"content"`
	ModelUsed    string  `json:"model_used"`
	ProviderUsed string  `json:"provider_used"`
	CostEstimate float64 `json:"cost_estimate"`
	LatencyMS    int64   `json:"latency_ms"`
}

func toAIResponse(resp *aimodel.Response) aiResponse {
	return aiResponse{
		Content:      resp.Content,
		ModelUsed:    resp.ModelUsed,
		ProviderUsed: resp.ProviderUsed,
		CostEstimate: resp.CostEstimate,
		LatencyMS:    resp.LatencyMS,
	}
}

func (s *server) runAI(w http.ResponseWriter, r *http.Request, taskType aimodel.TaskType, content string, req aiRequest) {
	criteria := aimodel.SelectionCriteria{
		TaskType: taskType,
		Strategy: aimodel.Strategy(req.Strategy),
		MaxCost:  req.MaxCost,
	}
	if criteria.Strategy == "" {
		criteria.Strategy = aimodel.StrategyBalanced
	}

	resp, err := s.deps.Router.Process(r.Context(), aimodel.Request{
		TaskType: taskType,
		Content:  content,
		Context:  req.ContextData,
	}, criteria)
	if err != nil {
		s.writeAIError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toAIResponse(resp))
}

func (s *server) handleAISummarize(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOrUnauthorized(w, s, r); !ok {
		return
	}
	var req aiRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !s.validateStruct(w, &req) {
		return
	}
	if req.Text == "" {
		s.writeError(w, apperrors.NewValidationError("text is required"))
		return
	}
	s.runAI(w, r, aimodel.TaskSummarize, req.Text, req)
}

func (s *server) handleAIAnalyze(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOrUnauthorized(w, s, r); !ok {
		return
	}
	var req aiRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !s.validateStruct(w, &req) {
		return
	}
	if req.Content == "" {
		s.writeError(w, apperrors.NewValidationError("content is required"))
		return
	}
	s.runAI(w, r, aimodel.TaskAnalyze, req.Content, req)
}

func (s *server) handleAISuggest(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOrUnauthorized(w, s, r); !ok {
		return
	}
	var req aiRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !s.validateStruct(w, &req) {
		return
	}
	if req.ContextData == nil {
		s.writeError(w, apperrors.NewValidationError("context_data is required"))
		return
	}
	s.runAI(w, r, aimodel.TaskSuggest, "", req)
}

func (s *server) handleAIHealth(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOrUnauthorized(w, s, r); !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Router.Health())
}

func (s *server) handleAIModels(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOrUnauthorized(w, s, r); !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Router.ListModels())
}

// writeAIError maps router.AllProvidersFailed to 502 per the §6 status
// table; every other AI error already carries its own AppError status.
func (s *server) writeAIError(w http.ResponseWriter, err error) {
	var allFailed *router.AllProvidersFailed
	if errors.As(err, &allFailed) {
		s.writeJSON(w, http.StatusBadGateway, errorResponse{
			Error: "all configured AI providers failed",
			Type:  "ai_provider",
		})
		return
	}
	s.writeError(w, err)
}
