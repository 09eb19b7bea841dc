package workflows

import (
	"time"

	"github.com/weftlabs/weft/internal/workflow"
)

// EngineLimits bounds retry and enrichment behavior for a run.
type EngineLimits struct {
	// DefaultMaxAttempts is the floor for per-stage attempts; a stage's
	// own max_attempts can only raise it.
	DefaultMaxAttempts int `json:"default_max_attempts"`
	// MaxAdaptiveCycles caps adaptive retrieval passes per stage.
	MaxAdaptiveCycles int `json:"max_adaptive_cycles"`
	// MaxRoutingSteps guards against pathological failure-edge loops.
	MaxRoutingSteps int `json:"max_routing_steps"`
	// StageTimeout bounds each retrieval and agent activity.
	StageTimeout time.Duration `json:"stage_timeout"`
}

// PipelineInput starts one execution. The definition travels in the input
// so the workflow replays against exactly the version it started with,
// regardless of registry reloads.
type PipelineInput struct {
	ExecutionID     string                            `json:"execution_id"`
	WorkflowName    string                            `json:"workflow_name"`
	WorkspaceID     string                            `json:"workspace_id"`
	TaskDescription string                            `json:"task_description"`
	Definition      *workflow.Definition              `json:"definition"`
	Decisions       map[string]workflow.StageDecision `json:"decisions,omitempty"`
	Engine          EngineLimits                      `json:"engine"`
}

// StageAttempt is one history entry, kept for failed attempts too.
type StageAttempt struct {
	StageID       string `json:"stage_id"`
	Attempt       int    `json:"attempt"`
	Status        string `json:"status"`
	RetrievalMode string `json:"retrieval_mode,omitempty"`
	Error         string `json:"error,omitempty"`
}

// PipelineResult is the workflow's return value. EnrichmentAttempts
// counts adaptive passes per stage; stages that never enriched are
// absent.
type PipelineResult struct {
	Success            bool              `json:"success"`
	Status             string            `json:"status"`
	StageOutputs       map[string]string `json:"stage_outputs"`
	EnrichmentAttempts map[string]int    `json:"enrichment_attempts,omitempty"`
	History            []StageAttempt    `json:"history"`
	Error              string            `json:"error,omitempty"`
}

// Terminal statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)
