package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/retrieval"
)

// UpfrontRetrieval runs the full two-phase pass for a stage: file-level
// search, selective parsing, function-level search, auxiliary sources,
// then fusion into a budget-bounded bundle.
func (a *Activities) UpfrontRetrieval(ctx context.Context, in RetrievalInput) (ContextBundle, error) {
	return a.retrieve(ctx, in, retrieval.ModeUpfront)
}

// AdaptiveRetrieval runs the cheap enrichment pass after a stage failure.
// It reuses the upfront file filter and generates subqueries from the
// failure output; parsing never runs again.
func (a *Activities) AdaptiveRetrieval(ctx context.Context, in RetrievalInput) (ContextBundle, error) {
	return a.retrieve(ctx, in, retrieval.ModeAdaptive)
}

func (a *Activities) retrieve(ctx context.Context, in RetrievalInput, mode retrieval.Mode) (ContextBundle, error) {
	logger := a.logger
	if activity.IsActivity(ctx) {
		if info := activity.GetInfo(ctx); info.WorkflowExecution.ID != "" {
			logger = logger.With(zap.String("workflow_id", info.WorkflowExecution.ID))
		}
	}

	res, err := a.agent.Retrieve(ctx, retrieval.Request{
		ExecutionID:     in.ExecutionID,
		WorkspaceID:     in.WorkspaceID,
		StageID:         in.StageID,
		TaskDescription: in.TaskDescription,
		Guidance:        in.Guidance,
		Mode:            mode,
		Strategy:        in.Strategy,
		FilteredFiles:   in.FilteredFiles,
		FailureContext:  in.FailureContext,
	})
	if err != nil {
		return ContextBundle{}, fmt.Errorf("retrieval pass (%s): %w", mode, err)
	}

	query := in.TaskDescription
	if in.Guidance != "" {
		query += "\n" + in.Guidance
	}
	bundle, err := a.fuser.Fuse(ctx, query, res.Chunks, in.TokenBudget)
	if err != nil {
		return ContextBundle{}, fmt.Errorf("fuse context: %w", err)
	}

	logger.Info("Retrieval pass complete",
		zap.String("stage", in.StageID),
		zap.String("mode", string(mode)),
		zap.Int("filtered_files", len(res.FilteredFiles)),
		zap.Int("chunks", len(res.Chunks)),
		zap.Int("bundle_tokens", bundle.TotalTokens),
		zap.Int("degraded_sources", len(res.Issues)),
	)

	out := ContextBundle{
		Text:          bundle.Text(),
		TotalTokens:   bundle.TotalTokens,
		FilteredFiles: res.FilteredFiles,
		SubQueries:    res.SubQueries,
		Issues:        res.Issues,
		Degraded:      bundle.Degraded || len(res.Issues) > 0,
		Enriched:      mode == retrieval.ModeAdaptive,
	}
	if len(bundle.Chunks) > 0 {
		out.Chunks = make([]BundleChunk, len(bundle.Chunks))
		for i, c := range bundle.Chunks {
			out.Chunks[i] = BundleChunk{
				Source:    c.Source,
				FilePath:  c.FilePath,
				StartLine: c.StartLine,
				EndLine:   c.EndLine,
				Tokens:    c.Tokens,
			}
		}
	}
	if len(bundle.Attribution) > 0 {
		out.Attribution = make(map[string]BundleSource, len(bundle.Attribution))
		for src, stat := range bundle.Attribution {
			out.Attribution[src] = BundleSource{Chunks: stat.Chunks, Tokens: stat.Tokens}
		}
	}
	return out, nil
}

// CleanupIndex drops the execution-scoped function index after a run ends.
func (a *Activities) CleanupIndex(ctx context.Context, in CleanupIndexInput) error {
	if a.store == nil {
		return nil
	}
	if err := a.store.DeleteByExecution(ctx, in.ExecutionID); err != nil {
		// Index leftovers are filtered by execution_id at query time, so
		// a failed cleanup is worth a warning, not a workflow failure.
		a.logger.Warn("Function index cleanup failed",
			zap.String("execution_id", in.ExecutionID), zap.Error(err))
	}
	return nil
}
