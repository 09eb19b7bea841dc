package activities

import (
	"time"

	"github.com/weftlabs/weft/internal/retrieval"
)

// Activity names referenced from workflow code.
const (
	ActivityUpfrontRetrieval  = "UpfrontRetrieval"
	ActivityAdaptiveRetrieval = "AdaptiveRetrieval"
	ActivityExecuteStageAgent = "ExecuteStageAgent"
	ActivityEmitProgress      = "EmitProgress"
	ActivityRecordExecution   = "RecordExecution"
	ActivityFinishExecution   = "FinishExecution"
	ActivityRecordIteration   = "RecordIteration"
	ActivityCleanupIndex      = "CleanupIndex"
)

// RetrievalInput drives one retrieval pass for a stage. Strategy carries
// the definition's retrieval toggles so each pass is gated by the
// workflow it serves, not by process configuration.
type RetrievalInput struct {
	ExecutionID     string             `json:"execution_id"`
	WorkspaceID     string             `json:"workspace_id"`
	StageID         string             `json:"stage_id"`
	TaskDescription string             `json:"task_description"`
	Guidance        string             `json:"guidance"`
	TokenBudget     int                `json:"token_budget"`
	Strategy        retrieval.Strategy `json:"strategy"`
	FilteredFiles   []string           `json:"filtered_files,omitempty"`
	FailureContext  string             `json:"failure_context,omitempty"`
}

// ContextBundle is the fused retrieval output cached in workflow state.
// Degraded means a source or the reranker failed during the pass;
// Enriched means the bundle came out of an adaptive pass.
type ContextBundle struct {
	Text          string                  `json:"text"`
	TotalTokens   int                     `json:"total_tokens"`
	FilteredFiles []string                `json:"filtered_files"`
	SubQueries    []string                `json:"sub_queries"`
	Chunks        []BundleChunk           `json:"chunks,omitempty"`
	Issues        []retrieval.SourceIssue `json:"issues,omitempty"`
	Degraded      bool                    `json:"degraded"`
	Enriched      bool                    `json:"enriched"`
	Attribution   map[string]BundleSource `json:"attribution,omitempty"`
}

// BundleChunk attributes one retained chunk to its source and location.
type BundleChunk struct {
	Source    string `json:"source"`
	FilePath  string `json:"file_path,omitempty"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	Tokens    int    `json:"tokens"`
}

// BundleSource mirrors fusion attribution for serialization.
type BundleSource struct {
	Chunks int `json:"chunks"`
	Tokens int `json:"tokens"`
}

// StageAgentInput runs one agent of a stage attempt.
type StageAgentInput struct {
	ExecutionID     string `json:"execution_id"`
	StageID         string `json:"stage_id"`
	AgentID         string `json:"agent_id"`
	Role            string `json:"role"`
	Prompt          string `json:"prompt"`
	TaskDescription string `json:"task_description"`
	Context         string `json:"context"`
	Attempt         int    `json:"attempt"`
}

// StageAgentResult is one agent's outcome. A failed agent is data for the
// aggregation policy, not an activity error.
type StageAgentResult struct {
	AgentID    string `json:"agent_id"`
	Role       string `json:"role"`
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
	TokensUsed int    `json:"tokens_used"`
	DurationMs int64  `json:"duration_ms"`
}

// EmitProgressInput publishes one execution event to subscribers.
type EmitProgressInput struct {
	ExecutionID string    `json:"execution_id"`
	EventType   string    `json:"event_type"`
	StageID     string    `json:"stage_id,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// RecordExecutionInput opens a history row for a run.
type RecordExecutionInput struct {
	ExecutionID     string `json:"execution_id"`
	WorkflowName    string `json:"workflow_name"`
	WorkspaceID     string `json:"workspace_id"`
	TaskDescription string `json:"task_description"`
}

// FinishExecutionInput closes a run's history row.
type FinishExecutionInput struct {
	ExecutionID        string                 `json:"execution_id"`
	Status             string                 `json:"status"`
	EnrichmentAttempts int                    `json:"enrichment_attempts"`
	Result             map[string]interface{} `json:"result,omitempty"`
	ErrorMessage       string                 `json:"error_message,omitempty"`
}

// RecordIterationInput persists one stage attempt.
type RecordIterationInput struct {
	ExecutionID   string                 `json:"execution_id"`
	StageID       string                 `json:"stage_id"`
	Attempt       int                    `json:"attempt"`
	Status        string                 `json:"status"`
	RetrievalMode string                 `json:"retrieval_mode,omitempty"`
	Output        map[string]interface{} `json:"output,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	DurationMs    int64                  `json:"duration_ms"`
}

// CleanupIndexInput removes an execution's function-level index entries.
type CleanupIndexInput struct {
	ExecutionID string `json:"execution_id"`
}
