// Package workflows contains the Temporal workflow driving a pipeline
// execution: a deterministic walk over the assembled routing table with
// per-stage retrieval, parallel agents, aggregation policies, bounded
// retries, and adaptive retrieval between failed attempts.
package workflows

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	tworkflow "go.temporal.io/sdk/workflow"

	"github.com/weftlabs/weft/internal/activities"
	ometrics "github.com/weftlabs/weft/internal/metrics"
	"github.com/weftlabs/weft/internal/plan"
	"github.com/weftlabs/weft/internal/retrieval"
	"github.com/weftlabs/weft/internal/streaming"
	"github.com/weftlabs/weft/internal/workflow"
)

// retrievalStrategy converts the definition's toggle set into the form
// the retrieval activities consume.
func retrievalStrategy(rs workflow.RetrievalStrategy) retrieval.Strategy {
	names := make([]string, 0, len(rs.Sources))
	for _, s := range rs.Sources {
		names = append(names, s.Name)
	}
	return retrieval.Strategy{
		FileLevelSearch:   rs.FileLevelSearch,
		SelectiveParsing:  rs.SelectiveASTParsing,
		LSPIntegration:    rs.LSPIntegration,
		MinRelevanceScore: rs.MinRelevanceScore,
		ExcludePatterns:   rs.ExcludePatterns,
		Sources:           names,
	}
}

type pipelineState struct {
	attempts map[string]int
	bundles  map[string]activities.ContextBundle
	outputs  map[string]string
	history  []StageAttempt
	// enrichments counts adaptive passes per stage; the budget is
	// per-stage, so one flaky stage never starves the rest of the run.
	enrichments map[string]int
	steps       int
}

func totalEnrichments(byStage map[string]int) int {
	total := 0
	for _, n := range byStage {
		total += n
	}
	return total
}

// PipelineWorkflow executes one run. The execution plan is assembled
// in-workflow from the input definition; assembly is pure, so replay is
// safe.
func PipelineWorkflow(ctx tworkflow.Context, input PipelineInput) (PipelineResult, error) {
	logger := tworkflow.GetLogger(ctx)
	logger.Info("Starting pipeline",
		"execution_id", input.ExecutionID,
		"workflow", input.WorkflowName,
		"workspace", input.WorkspaceID,
	)
	start := tworkflow.Now(ctx)

	limits := input.Engine
	if limits.DefaultMaxAttempts <= 0 {
		limits.DefaultMaxAttempts = 2
	}
	if limits.MaxAdaptiveCycles <= 0 {
		limits.MaxAdaptiveCycles = 2
	}
	if limits.StageTimeout <= 0 {
		limits.StageTimeout = 5 * time.Minute
	}

	executionPlan, err := plan.Assemble(input.Definition, input.Decisions, input.Definition.Retrieval)
	if err != nil {
		return PipelineResult{Status: StatusFailed, Error: err.Error()}, err
	}
	if limits.MaxRoutingSteps <= 0 {
		limits.MaxRoutingSteps = len(executionPlan.Order)*limits.DefaultMaxAttempts*4 + 16
	}

	actCtx := tworkflow.WithActivityOptions(ctx, tworkflow.ActivityOptions{
		StartToCloseTimeout: limits.StageTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	emitCtx := tworkflow.WithActivityOptions(ctx, tworkflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	_ = tworkflow.ExecuteActivity(emitCtx, activities.ActivityRecordExecution, activities.RecordExecutionInput{
		ExecutionID:     input.ExecutionID,
		WorkflowName:    input.WorkflowName,
		WorkspaceID:     input.WorkspaceID,
		TaskDescription: input.TaskDescription,
	}).Get(ctx, nil)
	emit(ctx, emitCtx, input.ExecutionID, streaming.EventWorkflowStarted, "", 0, input.WorkflowName)

	state := &pipelineState{
		attempts:    make(map[string]int),
		bundles:     make(map[string]activities.ContextBundle),
		outputs:     make(map[string]string),
		enrichments: make(map[string]int),
	}

	status, runErr := runPlan(ctx, actCtx, emitCtx, input, limits, executionPlan, state)

	result := PipelineResult{
		Success:            status == StatusCompleted,
		Status:             status,
		StageOutputs:       state.outputs,
		EnrichmentAttempts: state.enrichments,
		History:            state.history,
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	finish := activities.FinishExecutionInput{
		ExecutionID:        input.ExecutionID,
		Status:             status,
		EnrichmentAttempts: totalEnrichments(state.enrichments),
		Result:             map[string]interface{}{"stage_outputs": state.outputs},
		ErrorMessage:       result.Error,
	}
	_ = tworkflow.ExecuteActivity(emitCtx, activities.ActivityFinishExecution, finish).Get(ctx, nil)
	_ = tworkflow.ExecuteActivity(emitCtx, activities.ActivityCleanupIndex, activities.CleanupIndexInput{
		ExecutionID: input.ExecutionID,
	}).Get(ctx, nil)

	switch status {
	case StatusCompleted:
		emit(ctx, emitCtx, input.ExecutionID, streaming.EventWorkflowCompleted, "", 0, "")
	case StatusAborted:
		emit(ctx, emitCtx, input.ExecutionID, streaming.EventWorkflowAborted, "", 0, result.Error)
	default:
		emit(ctx, emitCtx, input.ExecutionID, streaming.EventErrorOccurred, "", 0, result.Error)
	}
	ometrics.RecordWorkflowMetrics(input.WorkflowName, status, tworkflow.Now(ctx).Sub(start).Seconds())
	logger.Info("Pipeline finished",
		"execution_id", input.ExecutionID,
		"status", status,
		"enrichment_attempts", totalEnrichments(state.enrichments),
	)
	// Failed and aborted runs are pipeline outcomes, not workflow errors;
	// callers read Status and History from the result.
	return result, nil
}

func runPlan(ctx tworkflow.Context, actCtx, emitCtx tworkflow.Context, input PipelineInput, limits EngineLimits, executionPlan *plan.ExecutionPlan, state *pipelineState) (string, error) {
	logger := tworkflow.GetLogger(ctx)
	strategy := retrievalStrategy(executionPlan.Retrieval)
	current := executionPlan.EntryStage

	for current != "" {
		if current == workflow.RouteAbort {
			return StatusAborted, fmt.Errorf("aborted by routing")
		}
		state.steps++
		if state.steps > limits.MaxRoutingSteps {
			return StatusAborted, fmt.Errorf("routing step limit %d exceeded", limits.MaxRoutingSteps)
		}

		entry := executionPlan.RoutingTable[current]
		tc, ok := executionPlan.TaskContext[current]
		if !ok {
			return StatusFailed, fmt.Errorf("stage %s missing from plan", current)
		}
		maxAttempts := limits.DefaultMaxAttempts
		if entry.MaxAttempts > maxAttempts {
			maxAttempts = entry.MaxAttempts
		}
		if state.attempts[current] >= maxAttempts {
			// Re-entered via a failure edge with no attempts left.
			return StatusFailed, fmt.Errorf("stage %s attempts exhausted", current)
		}
		state.attempts[current]++
		attempt := state.attempts[current]

		emit(ctx, emitCtx, input.ExecutionID, streaming.EventNodeExecuting, current, attempt, "")

		// First attempt pays for the full two-phase retrieval; later
		// attempts reuse the cached (possibly enriched) bundle.
		bundle, have := state.bundles[current]
		if !have {
			emit(ctx, emitCtx, input.ExecutionID, streaming.EventRetrievalProgress, current, attempt, "upfront retrieval")
			err := tworkflow.ExecuteActivity(actCtx, activities.ActivityUpfrontRetrieval, activities.RetrievalInput{
				ExecutionID:     input.ExecutionID,
				WorkspaceID:     input.WorkspaceID,
				StageID:         current,
				TaskDescription: input.TaskDescription,
				Guidance:        tc.RetrievalGuidance,
				TokenBudget:     tc.TokenBudget,
				Strategy:        strategy,
			}).Get(ctx, &bundle)
			if err != nil {
				// Retrieval failure here means the vector store is gone;
				// the run cannot proceed in any direction.
				return StatusAborted, fmt.Errorf("upfront retrieval for %s: %w", current, err)
			}
			state.bundles[current] = bundle
		}

		results, err := runStageAgents(ctx, actCtx, input, tc, bundle.Text, attempt)
		if err != nil {
			return StatusFailed, err
		}
		failed, failureReport := aggregate(tc.AggregationPolicy, results)

		attemptStatus := "completed"
		if failed {
			attemptStatus = "failed"
		}
		mode := "cached"
		if attempt == 1 {
			mode = "upfront"
		} else if bundle.Enriched {
			mode = "adaptive"
		}
		state.history = append(state.history, StageAttempt{
			StageID:       current,
			Attempt:       attempt,
			Status:        attemptStatus,
			RetrievalMode: mode,
			Error:         failureReport,
		})
		recordIteration(ctx, emitCtx, input.ExecutionID, current, attempt, attemptStatus, mode, results, failureReport)

		if !failed {
			state.outputs[current] = bestOutput(results)
			emit(ctx, emitCtx, input.ExecutionID, streaming.EventStageComplete, current, attempt, "")
			emit(ctx, emitCtx, input.ExecutionID, streaming.EventEdgeRouting, current, attempt, routeLabel(entry.OnSuccess))
			current = entry.OnSuccess
			continue
		}

		logger.Info("Stage attempt failed",
			"stage", current,
			"attempt", attempt,
			"policy", string(tc.AggregationPolicy),
		)

		if state.attempts[current] < maxAttempts {
			// Enrich context before the retry when the workflow allows it
			// and this stage's adaptive budget lasts; otherwise retry with
			// what we have.
			if executionPlan.Retrieval.AllowsEnrichment && state.enrichments[current] < limits.MaxAdaptiveCycles {
				state.enrichments[current]++
				ometrics.AdaptiveRetrievalCycles.WithLabelValues(current).Inc()
				emit(ctx, emitCtx, input.ExecutionID, streaming.EventAdaptiveRetrieval, current, attempt, failureReport)

				var enriched activities.ContextBundle
				err := tworkflow.ExecuteActivity(actCtx, activities.ActivityAdaptiveRetrieval, activities.RetrievalInput{
					ExecutionID:     input.ExecutionID,
					WorkspaceID:     input.WorkspaceID,
					StageID:         current,
					TaskDescription: input.TaskDescription,
					Guidance:        tc.RetrievalGuidance,
					TokenBudget:     tc.TokenBudget,
					Strategy:        strategy,
					FilteredFiles:   bundle.FilteredFiles,
					FailureContext:  failureReport,
				}).Get(ctx, &enriched)
				if err != nil {
					logger.Warn("Adaptive retrieval failed, retrying with cached context",
						"stage", current, "error", err)
				} else {
					enriched.Enriched = true
					if len(enriched.FilteredFiles) == 0 {
						enriched.FilteredFiles = bundle.FilteredFiles
					}
					state.bundles[current] = enriched
				}
			}
			continue // retry same stage
		}

		emit(ctx, emitCtx, input.ExecutionID, streaming.EventEdgeRouting, current, attempt, routeLabel(entry.OnFailure))
		if entry.OnFailure == "" {
			return StatusFailed, fmt.Errorf("stage %s failed after %d attempts: %s", current, attempt, failureReport)
		}
		current = entry.OnFailure
	}
	return StatusCompleted, nil
}

// runStageAgents fans the stage's agents out as parallel activities and
// collects every result before aggregation.
func runStageAgents(ctx tworkflow.Context, actCtx tworkflow.Context, input PipelineInput, tc plan.TaskContext, contextText string, attempt int) ([]activities.StageAgentResult, error) {
	futures := make([]tworkflow.Future, len(tc.Agents))
	for i, agent := range tc.Agents {
		futures[i] = tworkflow.ExecuteActivity(actCtx, activities.ActivityExecuteStageAgent, activities.StageAgentInput{
			ExecutionID:     input.ExecutionID,
			StageID:         tc.StageID,
			AgentID:         agent.ID,
			Role:            agent.Role,
			Prompt:          agent.Prompt,
			TaskDescription: input.TaskDescription,
			Context:         contextText,
			Attempt:         attempt,
		})
	}

	completionCh := tworkflow.NewChannel(ctx)
	for i, fut := range futures {
		agentID := tc.Agents[i].ID
		f := fut
		tworkflow.Go(ctx, func(gCtx tworkflow.Context) {
			var res activities.StageAgentResult
			if err := f.Get(gCtx, &res); err != nil {
				res = activities.StageAgentResult{AgentID: agentID, Success: false, Error: err.Error()}
			}
			completionCh.Send(gCtx, res)
		})
	}

	results := make([]activities.StageAgentResult, 0, len(futures))
	for len(results) < len(futures) {
		var res activities.StageAgentResult
		completionCh.Receive(ctx, &res)
		results = append(results, res)
	}
	// Deterministic order for aggregation and persistence.
	byID := make(map[string]activities.StageAgentResult, len(results))
	for _, r := range results {
		byID[r.AgentID] = r
	}
	ordered := make([]activities.StageAgentResult, 0, len(results))
	for _, agent := range tc.Agents {
		if r, ok := byID[agent.ID]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered, nil
}

// aggregate applies the stage's aggregation policy and builds a failure
// report from the losing agents.
func aggregate(policy workflow.AggregationPolicy, results []activities.StageAgentResult) (bool, string) {
	failures := 0
	var reasons []string
	for _, r := range results {
		if !r.Success {
			failures++
			reason := r.Error
			if reason == "" {
				reason = "agent reported failure"
			}
			reasons = append(reasons, fmt.Sprintf("%s: %s", r.AgentID, reason))
		}
	}

	var failed bool
	switch policy {
	case workflow.AggregateAllFail:
		failed = failures == len(results) && len(results) > 0
	case workflow.AggregateMajorityFail:
		failed = failures*2 > len(results)
	default: // any-fails
		failed = failures > 0
	}
	if !failed {
		return false, ""
	}
	return true, strings.Join(reasons, "; ")
}

// bestOutput picks the longest successful output as the stage deliverable.
func bestOutput(results []activities.StageAgentResult) string {
	var out string
	for _, r := range results {
		if r.Success && len(r.Output) > len(out) {
			out = r.Output
		}
	}
	return out
}

func routeLabel(target string) string {
	if target == "" {
		return "done"
	}
	return target
}

func emit(ctx tworkflow.Context, emitCtx tworkflow.Context, executionID string, evt streaming.EventType, stageID string, attempt int, message string) {
	_ = tworkflow.ExecuteActivity(emitCtx, activities.ActivityEmitProgress, activities.EmitProgressInput{
		ExecutionID: executionID,
		EventType:   string(evt),
		StageID:     stageID,
		Attempt:     attempt,
		Message:     message,
		Timestamp:   tworkflow.Now(ctx).UTC(),
	}).Get(ctx, nil)
}

func recordIteration(ctx tworkflow.Context, emitCtx tworkflow.Context, executionID, stageID string, attempt int, status, mode string, results []activities.StageAgentResult, failureReport string) {
	output := make(map[string]interface{}, len(results))
	for _, r := range results {
		output[r.AgentID] = map[string]interface{}{
			"success":     r.Success,
			"tokens_used": r.TokensUsed,
			"duration_ms": r.DurationMs,
		}
	}
	_ = tworkflow.ExecuteActivity(emitCtx, activities.ActivityRecordIteration, activities.RecordIterationInput{
		ExecutionID:   executionID,
		StageID:       stageID,
		Attempt:       attempt,
		Status:        status,
		RetrievalMode: mode,
		Output:        output,
		ErrorMessage:  failureReport,
	}).Get(ctx, nil)
}
