package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/llm"
)

// LLMSubQueryGenerator asks the completion service for focused subqueries.
// A malformed or failed completion falls back to the task description
// itself so a retrieval pass always has at least one query.
type LLMSubQueryGenerator struct {
	client *llm.Client
	min    int
	max    int
	log    *zap.Logger
}

func NewLLMSubQueryGenerator(client *llm.Client, min, max int, logger *zap.Logger) *LLMSubQueryGenerator {
	if min <= 0 {
		min = 2
	}
	if max < min {
		max = min + 2
	}
	return &LLMSubQueryGenerator{client: client, min: min, max: max, log: logger}
}

const upfrontPrompt = `You decompose a software task into search queries against a code index.
Task: %s
Stage: %s
Guidance: %s

Answer with JSON only: {"queries": ["...", "..."]}. Produce between %d and %d queries, each a short phrase naming concrete code concepts.`

const adaptivePrompt = `A previous attempt at this task failed. Generate search queries that would surface the code needed to fix it.
Task: %s
Stage: %s
Failure output:
%s

Answer with JSON only: {"queries": ["...", "..."]}. Produce between %d and %d queries focused on the failure.`

func (g *LLMSubQueryGenerator) Generate(ctx context.Context, req Request) ([]string, error) {
	var prompt string
	if req.Mode == ModeAdaptive {
		prompt = fmt.Sprintf(adaptivePrompt, req.TaskDescription, req.StageID, req.FailureContext, g.min, g.max)
	} else {
		prompt = fmt.Sprintf(upfrontPrompt, req.TaskDescription, req.StageID, req.Guidance, g.min, g.max)
	}

	var out struct {
		Queries []string `json:"queries"`
	}
	err := g.client.CompleteJSON(ctx, llm.CompletionRequest{Prompt: prompt, Temperature: 0.2}, &out)
	queries := sanitizeQueries(out.Queries, g.max)
	if err != nil || len(queries) == 0 {
		if g.log != nil {
			g.log.Warn("Subquery generation fell back to task description",
				zap.String("stage", req.StageID), zap.Error(err))
		}
		return fallbackQueries(req, g.min), nil
	}
	for len(queries) < g.min {
		queries = append(queries, req.TaskDescription)
	}
	return queries, nil
}

func sanitizeQueries(in []string, max int) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, q := range in {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
		if len(out) == max {
			break
		}
	}
	return out
}

func fallbackQueries(req Request, min int) []string {
	queries := []string{req.TaskDescription}
	if req.Guidance != "" {
		queries = append(queries, req.Guidance)
	}
	if req.Mode == ModeAdaptive && req.FailureContext != "" {
		queries = append(queries, firstLine(req.FailureContext))
	}
	for len(queries) < min {
		queries = append(queries, req.TaskDescription)
	}
	return queries
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
