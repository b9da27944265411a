package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/sirupsen/logrus"

	"github.com/workflowdev/workflowd/pkg/ai/router"
	"github.com/workflowdev/workflowd/pkg/authctx"
	"github.com/workflowdev/workflowd/pkg/events"
	"github.com/workflowdev/workflowd/pkg/repository/memory"
	"github.com/workflowdev/workflowd/pkg/testutil"
	"github.com/workflowdev/workflowd/pkg/workflow/actions"
	"github.com/workflowdev/workflowd/pkg/workflow/engine"
	"github.com/workflowdev/workflowd/pkg/workflow/guards"
	"github.com/workflowdev/workflowd/pkg/workflow/registry"
	"github.com/workflowdev/workflowd/pkg/workflow/statemachine"
)

// testHarness wires the full stack the way internal/server would, against
// an in-memory store, so these tests exercise the handlers without a
// database or AI provider credentials.
type testHarness struct {
	server *httptest.Server
	actor  authctx.Context
}

// withActor wraps r in a middleware that injects actor into the request
// context, standing in for internal/server's real AuthResolver middleware.
func withActor(actor authctx.Context, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(authctx.WithContext(r.Context(), actor)))
	})
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store := memory.New()
	guardRegistry := guards.NewDefaultRegistry()
	reg := registry.New(store, guardRegistry, nil)
	machine := statemachine.New(guardRegistry)
	actionRegistry := actions.NewRegistry(events.NewInMemory(), logger)
	eng := engine.New(store, reg, machine, actionRegistry, events.NewInMemory(), nil, logger)
	aiManager := router.New(router.NewLimiter(nil), logger)

	f := testutil.NewFactory()
	if _, err := reg.Register(context.Background(), f.StandardDefinition()); err != nil {
		t.Fatalf("register definition: %v", err)
	}

	actor := f.Approver()

	r := chi.NewRouter()
	Mount(r, Dependencies{Engine: eng, Registry: reg, Router: aiManager, Logger: logr.Discard()})

	return &testHarness{
		server: httptest.NewServer(withActor(actor, r)),
		actor:  actor,
	}
}

func (h *testHarness) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(h.server.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (h *testHarness) patchJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPatch, h.server.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build PATCH %s: %v", path, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH %s: %v", path, err)
	}
	return resp
}

func TestCreateAndAdvanceWorkflow(t *testing.T) {
	h := newHarness(t)
	defer h.server.Close()

	createResp := h.postJSON(t, "/workflows", createWorkflowRequest{
		DefinitionKey: testutil.DefaultDefinitionKey,
		Context:       map[string]any{"amount": 100},
	})
	defer createResp.Body.Close()
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", createResp.StatusCode, http.StatusCreated)
	}

	var created map[string]any
	if err := json.NewDecoder(createResp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	instanceID, _ := created["id"].(string)
	if instanceID == "" {
		t.Fatalf("create response missing id: %+v", created)
	}
	if created["current_state"] != testutil.DefaultInitialState {
		t.Fatalf("current_state = %v, want %v", created["current_state"], testutil.DefaultInitialState)
	}

	resp, err := h.server.Client().Get(fmt.Sprintf("%s/workflows/%s", h.server.URL, instanceID))
	if err != nil {
		t.Fatalf("GET workflow: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	advanceResp := h.patchJSON(t, fmt.Sprintf("/workflows/%s/next", instanceID), advanceWorkflowRequest{
		Trigger: testutil.DefaultApproveTrigger,
	})
	defer advanceResp.Body.Close()
	if advanceResp.StatusCode != http.StatusOK {
		t.Fatalf("advance status = %d, want %d", advanceResp.StatusCode, http.StatusOK)
	}
	var advanced map[string]any
	if err := json.NewDecoder(advanceResp.Body).Decode(&advanced); err != nil {
		t.Fatalf("decode advance response: %v", err)
	}
	if advanced["current_state"] != testutil.DefaultApprovedState {
		t.Fatalf("current_state after advance = %v, want %v", advanced["current_state"], testutil.DefaultApprovedState)
	}
}

func TestAdvanceUnknownTriggerIsUnprocessable(t *testing.T) {
	h := newHarness(t)
	defer h.server.Close()

	createResp := h.postJSON(t, "/workflows", createWorkflowRequest{DefinitionKey: testutil.DefaultDefinitionKey})
	defer createResp.Body.Close()
	var created map[string]any
	_ = json.NewDecoder(createResp.Body).Decode(&created)
	instanceID := created["id"].(string)

	resp := h.patchJSON(t, fmt.Sprintf("/workflows/%s/next", instanceID), advanceWorkflowRequest{Trigger: "does-not-exist"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestAIEndpointsWithNoProvidersReturnBadGateway(t *testing.T) {
	h := newHarness(t)
	defer h.server.Close()

	resp := h.postJSON(t, "/ai/summarize", aiRequest{Text: "summarize this"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadGateway)
	}
}

func TestAIModelsAndHealthAreEmptyWithNoProviders(t *testing.T) {
	h := newHarness(t)
	defer h.server.Close()

	resp, err := http.Get(h.server.URL + "/ai/models")
	if err != nil {
		t.Fatalf("GET /ai/models: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestRegisterDefinitionRequiresAdminRole(t *testing.T) {
	h := newHarness(t)
	defer h.server.Close()

	resp := h.postJSON(t, "/definitions", map[string]any{"key": "other", "version": 1, "name": "x"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}
