package httpapi

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/internal/workflows"
)

const sampleDefinition = `
name: feature-delivery
version: "1"
workflow_type: code
stages:
  - id: code_generation
    required: true
    parallel_agents:
      - id: coder
        role: implementer
        prompt: Write the change.
    routing:
      on_success: ""
retrieval:
  file_level_search: true
`

func loadedRegistry(t *testing.T) *workflow.Registry {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature-delivery.yaml"), []byte(sampleDefinition), 0o644))
	reg := workflow.NewRegistry(zap.NewNop())
	require.NoError(t, reg.LoadDirectory(dir))
	return reg
}

func newTestHandler(t *testing.T) *ExecutionHandler {
	return NewExecutionHandler(loadedRegistry(t), nil, nil, "pipeline-queue", workflows.EngineLimits{}, zap.NewNop())
}

func TestSubmitRejectsMissingFields(t *testing.T) {
	h := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	for name, body := range map[string]string{
		"empty workflow":  `{"workspace_id":"ws","task_description":"t"}`,
		"empty workspace": `{"workflow":"feature-delivery","task_description":"t"}`,
		"blank task":      `{"workflow":"feature-delivery","workspace_id":"ws","task_description":"  "}`,
		"malformed":       `{`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/executions", strings.NewReader(body))
			mux.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSubmitUnknownWorkflow(t *testing.T) {
	h := newTestHandler(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/executions",
		strings.NewReader(`{"workflow":"nope","workspace_id":"ws","task_description":"t"}`))
	h.handleExecutions(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown workflow")
}

func TestSubmitRejectsInvalidDecision(t *testing.T) {
	h := newTestHandler(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/executions",
		strings.NewReader(`{"workflow":"feature-delivery","workspace_id":"ws","task_description":"t","decisions":{"code_generation":"MAYBE"}}`))
	h.handleExecutions(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INCLUDE or SKIP")
}

func TestSubmitRequiresPost(t *testing.T) {
	h := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.handleExecutions(rec, httptest.NewRequest(http.MethodGet, "/api/v1/executions", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestExecutionStatusValidatesID(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.handleExecutionByID(rec, httptest.NewRequest(http.MethodGet, "/api/v1/executions/not-a-uuid", nil))
	// History is nil in this handler, which takes precedence.
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListWorkflows(t *testing.T) {
	h := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.handleListWorkflows(rec, httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "feature-delivery")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
