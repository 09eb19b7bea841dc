package activities

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/db"
)

// RecordExecution opens the history row for a run.
func (a *Activities) RecordExecution(ctx context.Context, in RecordExecutionInput) error {
	if a.history == nil {
		return nil
	}
	id, err := uuid.Parse(in.ExecutionID)
	if err != nil {
		a.logger.Warn("Skipping history for non-UUID execution id", zap.String("execution_id", in.ExecutionID))
		return nil
	}
	return a.history.SaveExecution(ctx, &db.Execution{
		ID:              id,
		WorkflowName:    in.WorkflowName,
		WorkspaceID:     in.WorkspaceID,
		TaskDescription: in.TaskDescription,
		Status:          db.StatusRunning,
		StartedAt:       time.Now().UTC(),
	})
}

// FinishExecution closes the run's history row with its terminal status.
func (a *Activities) FinishExecution(ctx context.Context, in FinishExecutionInput) error {
	if a.history == nil {
		return nil
	}
	id, err := uuid.Parse(in.ExecutionID)
	if err != nil {
		return nil
	}
	rec := &db.Execution{
		ID:                 id,
		Status:             in.Status,
		EnrichmentAttempts: in.EnrichmentAttempts,
		Result:             db.JSONB(in.Result),
		CompletedAt:        sql.NullTime{Time: time.Now().UTC(), Valid: true},
	}
	if in.ErrorMessage != "" {
		rec.ErrorMessage = sql.NullString{String: in.ErrorMessage, Valid: true}
	}
	return a.history.UpdateExecution(ctx, rec)
}

// RecordIteration persists one stage attempt, successful or not. Failed
// attempts are first-class history; the routing table alone decides what
// happens next.
func (a *Activities) RecordIteration(ctx context.Context, in RecordIterationInput) error {
	if a.history == nil {
		return nil
	}
	execID, err := uuid.Parse(in.ExecutionID)
	if err != nil {
		return nil
	}
	it := &db.Iteration{
		ID:          uuid.New(),
		ExecutionID: execID,
		StageID:     in.StageID,
		Attempt:     in.Attempt,
		Status:      in.Status,
		Output:      db.JSONB(in.Output),
		DurationMs:  in.DurationMs,
		CreatedAt:   time.Now().UTC(),
	}
	if in.RetrievalMode != "" {
		it.RetrievalMode = sql.NullString{String: in.RetrievalMode, Valid: true}
	}
	if in.ErrorMessage != "" {
		it.ErrorMessage = sql.NullString{String: in.ErrorMessage, Valid: true}
	}
	return a.history.SaveIterationSync(ctx, it)
}
