package activities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/llm"
	ometrics "github.com/weftlabs/weft/internal/metrics"
)

// ExecuteStageAgent runs a single agent of a stage attempt against the
// completion service. Model-level failure is returned as data so the
// workflow's aggregation policy can weigh it against sibling agents;
// only transport problems surface as activity errors for Temporal retry.
func (a *Activities) ExecuteStageAgent(ctx context.Context, in StageAgentInput) (StageAgentResult, error) {
	start := time.Now()

	prompt := buildAgentPrompt(in)
	result, err := a.llm.Complete(ctx, llm.CompletionRequest{
		System: in.Prompt,
		Prompt: prompt,
	})
	if err != nil {
		return StageAgentResult{}, fmt.Errorf("stage agent %s: %w", in.AgentID, err)
	}

	out := StageAgentResult{
		AgentID:    in.AgentID,
		Role:       in.Role,
		Output:     result.Text,
		TokensUsed: result.TokensUsed,
		DurationMs: time.Since(start).Milliseconds(),
	}
	out.Success, out.Error = judgeOutput(result.Text)

	status := "completed"
	if !out.Success {
		status = "failed"
	}
	ometrics.RecordStageMetrics(in.StageID, status, time.Since(start).Seconds())
	a.logger.Info("Stage agent finished",
		zap.String("stage", in.StageID),
		zap.String("agent", in.AgentID),
		zap.Int("attempt", in.Attempt),
		zap.Bool("success", out.Success),
		zap.Int("tokens", out.TokensUsed),
	)
	return out, nil
}

func buildAgentPrompt(in StageAgentInput) string {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(in.TaskDescription)
	b.WriteString("\nStage: ")
	b.WriteString(in.StageID)
	b.WriteString("\nRole: ")
	b.WriteString(in.Role)
	if in.Context != "" {
		b.WriteString("\n\nRelevant code context:\n")
		b.WriteString(in.Context)
	}
	b.WriteString("\n\nProduce the deliverable for this stage. If you cannot complete it, start your answer with FAILED: and explain why.")
	return b.String()
}

// judgeOutput applies the failure protocol: agents report inability with a
// FAILED: prefix, and an empty completion counts as failure too.
func judgeOutput(text string) (bool, string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false, "empty agent output"
	}
	if strings.HasPrefix(trimmed, "FAILED:") {
		return false, strings.TrimSpace(strings.TrimPrefix(trimmed, "FAILED:"))
	}
	return true, ""
}
