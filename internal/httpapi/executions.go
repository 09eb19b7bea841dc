// Package httpapi exposes the pipeline over HTTP: execution submission and
// status, workflow definition listing, and live event streams over SSE and
// WebSocket.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/db"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/internal/workflows"
)

// ExecutionHandler serves submission and status endpoints.
type ExecutionHandler struct {
	registry  *workflow.Registry
	temporal  client.Client
	history   *db.Client
	taskQueue string
	engine    workflows.EngineLimits
	logger    *zap.Logger
}

func NewExecutionHandler(registry *workflow.Registry, temporal client.Client, history *db.Client, taskQueue string, engine workflows.EngineLimits, logger *zap.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		registry:  registry,
		temporal:  temporal,
		history:   history,
		taskQueue: taskQueue,
		engine:    engine,
		logger:    logger,
	}
}

// RegisterRoutes registers execution routes on the provided mux.
func (h *ExecutionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/executions", h.handleExecutions)
	mux.HandleFunc("/api/v1/executions/", h.handleExecutionByID)
	mux.HandleFunc("/api/v1/workflows", h.handleListWorkflows)
}

type submitRequest struct {
	Workflow        string            `json:"workflow"`
	WorkspaceID     string            `json:"workspace_id"`
	TaskDescription string            `json:"task_description"`
	Decisions       map[string]string `json:"decisions,omitempty"`
}

type submitResponse struct {
	ExecutionID string `json:"execution_id"`
	RunID       string `json:"run_id"`
	Workflow    string `json:"workflow"`
	Status      string `json:"status"`
}

func (h *ExecutionHandler) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Workflow == "" || req.WorkspaceID == "" || strings.TrimSpace(req.TaskDescription) == "" {
		writeError(w, http.StatusBadRequest, "workflow, workspace_id and task_description are required")
		return
	}

	entry, ok := h.registry.Get(req.Workflow)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown workflow "+req.Workflow)
		return
	}

	decisions := make(map[string]workflow.StageDecision, len(req.Decisions))
	for stageID, d := range req.Decisions {
		switch workflow.StageDecision(strings.ToUpper(d)) {
		case workflow.DecisionInclude:
			decisions[stageID] = workflow.DecisionInclude
		case workflow.DecisionSkip:
			decisions[stageID] = workflow.DecisionSkip
		default:
			writeError(w, http.StatusBadRequest, "decision for "+stageID+" must be INCLUDE or SKIP")
			return
		}
	}

	executionID := uuid.New().String()
	input := workflows.PipelineInput{
		ExecutionID:     executionID,
		WorkflowName:    entry.Definition.Name,
		WorkspaceID:     req.WorkspaceID,
		TaskDescription: req.TaskDescription,
		Definition:      entry.Definition,
		Decisions:       decisions,
		Engine:          h.engine,
	}
	run, err := h.temporal.ExecuteWorkflow(r.Context(), client.StartWorkflowOptions{
		ID:        "pipeline-" + executionID,
		TaskQueue: h.taskQueue,
	}, workflows.PipelineWorkflow, input)
	if err != nil {
		h.logger.Error("Failed to start pipeline workflow",
			zap.String("workflow", req.Workflow),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "failed to start execution")
		return
	}

	h.logger.Info("Pipeline execution started",
		zap.String("execution_id", executionID),
		zap.String("workflow", entry.Definition.Name),
		zap.String("workspace", req.WorkspaceID),
	)
	writeJSON(w, http.StatusAccepted, submitResponse{
		ExecutionID: executionID,
		RunID:       run.GetRunID(),
		Workflow:    entry.Definition.Name,
		Status:      db.StatusRunning,
	})
}

type executionResponse struct {
	ExecutionID        string              `json:"execution_id"`
	Workflow           string              `json:"workflow"`
	WorkspaceID        string              `json:"workspace_id"`
	TaskDescription    string              `json:"task_description"`
	Status             string              `json:"status"`
	EnrichmentAttempts int                 `json:"enrichment_attempts"`
	Result             map[string]any      `json:"result,omitempty"`
	Error              string              `json:"error,omitempty"`
	StartedAt          time.Time           `json:"started_at"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
	Iterations         []iterationResponse `json:"iterations"`
}

type iterationResponse struct {
	StageID       string         `json:"stage_id"`
	Attempt       int            `json:"attempt"`
	Status        string         `json:"status"`
	RetrievalMode string         `json:"retrieval_mode,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	CreatedAt     time.Time      `json:"created_at"`
}

// GET /api/v1/executions/{id}
func (h *ExecutionHandler) handleExecutionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "execution history is not configured")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/executions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "execution id required")
		return
	}
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "execution id must be a UUID")
		return
	}

	exec, err := h.history.GetExecution(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	iterations, err := h.history.ListIterations(r.Context(), id)
	if err != nil {
		h.logger.Warn("Failed to list iterations", zap.String("execution_id", id), zap.Error(err))
	}

	resp := executionResponse{
		ExecutionID:        exec.ID.String(),
		Workflow:           exec.WorkflowName,
		WorkspaceID:        exec.WorkspaceID,
		TaskDescription:    exec.TaskDescription,
		Status:             exec.Status,
		EnrichmentAttempts: exec.EnrichmentAttempts,
		Result:             exec.Result,
		StartedAt:          exec.StartedAt,
	}
	if exec.ErrorMessage.Valid {
		resp.Error = exec.ErrorMessage.String
	}
	if exec.CompletedAt.Valid {
		t := exec.CompletedAt.Time
		resp.CompletedAt = &t
	}
	for _, it := range iterations {
		ir := iterationResponse{
			StageID:    it.StageID,
			Attempt:    it.Attempt,
			Status:     it.Status,
			Output:     it.Output,
			DurationMs: it.DurationMs,
			CreatedAt:  it.CreatedAt,
		}
		if it.RetrievalMode.Valid {
			ir.RetrievalMode = it.RetrievalMode.String
		}
		if it.ErrorMessage.Valid {
			ir.Error = it.ErrorMessage.String
		}
		resp.Iterations = append(resp.Iterations, ir)
	}
	writeJSON(w, http.StatusOK, resp)
}

type workflowSummary struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Hash    string `json:"hash"`
}

// GET /api/v1/workflows
func (h *ExecutionHandler) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	summaries := h.registry.List()
	out := make([]workflowSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, workflowSummary{Key: s.Key, Name: s.Name, Version: s.Version, Hash: s.ContentHash})
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
