// Package retrieval implements the two-phase selective retrieval agent.
// Phase one searches file-level summaries and keeps a small set of
// relevant files; phase two parses only those files and searches the
// resulting function-level index. An adaptive pass after a stage failure
// reuses the upfront file filter and skips both file search and parsing.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/fusion"
	ometrics "github.com/weftlabs/weft/internal/metrics"
	"github.com/weftlabs/weft/internal/vectorstore"
)

// Agent runs retrieval passes.
type Agent struct {
	cfg      Config
	store    Store
	embedder Embedder
	parser   Parser
	subq     SubQueryGenerator
	sources  []Source
	log      *zap.Logger
}

func NewAgent(cfg Config, store Store, embedder Embedder, parser Parser, subq SubQueryGenerator, sources []Source, logger *zap.Logger) *Agent {
	if cfg.FileTopK <= 0 {
		cfg.FileTopK = 50
	}
	if cfg.FunctionTopK <= 0 {
		cfg.FunctionTopK = 15
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 3 * time.Second
	}
	return &Agent{cfg: cfg, store: store, embedder: embedder, parser: parser, subq: subq, sources: sources, log: logger}
}

// Retrieve runs one pass. Vector store failures abort the pass; auxiliary
// source failures are recorded as issues and the pass proceeds.
func (a *Agent) Retrieve(ctx context.Context, req Request) (*Result, error) {
	if req.WorkspaceID == "" {
		return nil, fmt.Errorf("retrieval: workspace id required")
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeUpfront
	}
	start := time.Now()

	result, err := a.retrieve(ctx, req, mode)
	status := "ok"
	if err != nil {
		status = "error"
	} else if len(result.Issues) > 0 {
		status = "degraded"
	}
	ometrics.RecordRetrievalMetrics(string(mode), status, time.Since(start).Seconds())
	return result, err
}

func (a *Agent) retrieve(ctx context.Context, req Request, mode Mode) (*Result, error) {
	queries, err := a.subq.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("retrieval: generate subqueries: %w", err)
	}
	vectors, err := a.embedder.EmbedBatch(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed subqueries: %w", err)
	}

	result := &Result{SubQueries: queries}

	// Phase one: file-level filtering. Adaptive passes reuse the filter
	// computed up front instead of searching and parsing again, and a
	// strategy without file-level search skips the vector store entirely.
	if mode == ModeAdaptive {
		result.FilteredFiles = req.FilteredFiles
	} else if req.Strategy.FileLevelSearch {
		files, fileChunks, err := a.filePhase(ctx, req, queries, vectors)
		if err != nil {
			return nil, err
		}
		result.FilteredFiles = files
		result.Chunks = append(result.Chunks, fileChunks...)
		ometrics.FilteredFiles.WithLabelValues(req.StageID).Observe(float64(len(files)))

		if req.Strategy.SelectiveParsing && a.parser != nil {
			if err := a.indexFunctions(ctx, req, files); err != nil {
				return nil, err
			}
		}
	}

	// Phase two: function-level search over the filtered set.
	if req.Strategy.SelectiveParsing && len(result.FilteredFiles) > 0 {
		fnChunks, err := a.functionPhase(ctx, req, vectors, result.FilteredFiles)
		if err != nil {
			return nil, err
		}
		result.Chunks = append(result.Chunks, fnChunks...)
	}

	// Auxiliary sources fan out in parallel, each under its own timeout.
	chunks, issues := a.fetchSources(ctx, req.withFiles(result.FilteredFiles), queries, a.enabledSources(req.Strategy))
	result.Chunks = append(result.Chunks, chunks...)
	result.Issues = issues
	return result, nil
}

// enabledSources filters the configured sources down to what the
// workflow's strategy allows. The LSP bridge additionally needs its own
// toggle on.
func (a *Agent) enabledSources(strat Strategy) []Source {
	out := make([]Source, 0, len(a.sources))
	for _, src := range a.sources {
		if src.Name() == "lsp" && !strat.LSPIntegration {
			continue
		}
		if len(strat.Sources) > 0 && !containsName(strat.Sources, src.Name()) {
			continue
		}
		out = append(out, src)
	}
	return out
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// threshold resolves the effective relevance cutoff: the workflow's own
// score when set, the process default otherwise.
func (a *Agent) threshold(strat Strategy) float64 {
	if strat.MinRelevanceScore > 0 {
		return strat.MinRelevanceScore
	}
	return a.cfg.MinRelevanceScore
}

func (r Request) withFiles(files []string) Request {
	r.FilteredFiles = files
	return r
}

func (a *Agent) filePhase(ctx context.Context, req Request, queries []string, vectors [][]float32) ([]string, []fusion.Chunk, error) {
	type fileHit struct {
		chunk fusion.Chunk
		score float64
	}
	best := make(map[string]fileHit)
	var order []string

	for i, vec := range vectors {
		hits, err := a.store.Search(ctx, vectorstore.SearchParams{
			Collection:     a.store.FileCollection(),
			Vector:         vec,
			TopK:           a.cfg.FileTopK,
			ScoreThreshold: a.threshold(req.Strategy),
			Filter: vectorstore.Filter{
				WorkspaceID: req.WorkspaceID,
				Type:        vectorstore.DocTypeFile,
			},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("retrieval: file search (query %d): %w", i, err)
		}
		for _, h := range hits {
			path := h.FilePath()
			if path == "" || a.excluded(path, req.Strategy) {
				continue
			}
			prev, ok := best[path]
			if !ok {
				order = append(order, path)
			}
			if !ok || h.Score > prev.score {
				best[path] = fileHit{
					score: h.Score,
					chunk: fusion.Chunk{
						ID:             h.ID,
						Content:        h.Content(),
						Source:         "vector_files",
						SourcePriority: 1,
						FilePath:       path,
						Score:          h.Score,
						Vector:         h.Vector,
					},
				}
			}
		}
	}

	// Keep the strongest FileTopK paths overall; sort is stable on score
	// with first-seen order breaking ties.
	sort.SliceStable(order, func(i, j int) bool {
		return best[order[i]].score > best[order[j]].score
	})
	if len(order) > a.cfg.FileTopK {
		order = order[:a.cfg.FileTopK]
	}

	files := make([]string, 0, len(order))
	chunks := make([]fusion.Chunk, 0, len(order))
	for _, path := range order {
		files = append(files, path)
		if best[path].chunk.Content != "" {
			chunks = append(chunks, best[path].chunk)
		}
	}
	return files, chunks, nil
}

// indexFunctions parses the filtered files and indexes the extracted
// functions under this execution. Parsing failures degrade to file-level
// context only.
func (a *Agent) indexFunctions(ctx context.Context, req Request, files []string) error {
	if len(files) == 0 {
		return nil
	}
	docs, err := a.parser.ParseFiles(ctx, req.WorkspaceID, files)
	if err != nil {
		if a.log != nil {
			a.log.Warn("Selective parse failed, continuing with file-level context",
				zap.String("stage", req.StageID), zap.Error(err))
		}
		return nil
	}
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Signature + "\n" + d.Content
	}
	vecs, err := a.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("retrieval: embed functions: %w", err)
	}

	points := make([]vectorstore.Point, len(docs))
	for i, d := range docs {
		points[i] = vectorstore.Point{
			ID:     uuid.New().String(),
			Vector: vecs[i],
			Payload: map[string]interface{}{
				"workspace_id":     req.WorkspaceID,
				"execution_id":     req.ExecutionID,
				"type":             string(vectorstore.DocTypeFunction),
				"belongs_to_stage": req.StageID,
				"file_path":        d.FilePath,
				"function_name":    d.Name,
				"signature":        d.Signature,
				"content":          d.Content,
				"start_line":       d.StartLine,
				"end_line":         d.EndLine,
			},
		}
	}
	if err := a.store.Upsert(ctx, a.store.FunctionCollection(), points); err != nil {
		return fmt.Errorf("retrieval: index functions: %w", err)
	}
	return nil
}

func (a *Agent) functionPhase(ctx context.Context, req Request, vectors [][]float32, files []string) ([]fusion.Chunk, error) {
	seen := make(map[string]struct{})
	var chunks []fusion.Chunk
	for i, vec := range vectors {
		hits, err := a.store.Search(ctx, vectorstore.SearchParams{
			Collection:     a.store.FunctionCollection(),
			Vector:         vec,
			TopK:           a.cfg.FunctionTopK,
			ScoreThreshold: a.threshold(req.Strategy),
			Filter: vectorstore.Filter{
				WorkspaceID:    req.WorkspaceID,
				Type:           vectorstore.DocTypeFunction,
				BelongsToStage: req.StageID,
				ExecutionID:    req.ExecutionID,
				FilePaths:      files,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("retrieval: function search (query %d): %w", i, err)
		}
		for _, h := range hits {
			if _, dup := seen[h.ID]; dup {
				continue
			}
			seen[h.ID] = struct{}{}
			chunks = append(chunks, fusion.Chunk{
				ID:             h.ID,
				Content:        h.Content(),
				Source:         "vector_functions",
				SourcePriority: 0,
				FilePath:       h.FilePath(),
				Score:          h.Score,
				Vector:         h.Vector,
				StartLine:      h.IntField("start_line"),
				EndLine:        h.IntField("end_line"),
			})
		}
	}
	return chunks, nil
}

// fetchSources queries the allowed auxiliary sources concurrently. Each
// call gets an independent timeout; an error or timeout degrades that
// source only.
func (a *Agent) fetchSources(ctx context.Context, req Request, queries []string, sources []Source) ([]fusion.Chunk, []SourceIssue) {
	if len(sources) == 0 {
		return nil, nil
	}
	type outcome struct {
		idx    int
		chunks []fusion.Chunk
		err    error
	}
	results := make([]outcome, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			srcCtx, cancel := context.WithTimeout(ctx, a.cfg.SourceTimeout)
			defer cancel()
			chunks, err := src.Fetch(srcCtx, req, queries)
			results[i] = outcome{idx: i, chunks: chunks, err: err}
		}(i, src)
	}
	wg.Wait()

	var chunks []fusion.Chunk
	var issues []SourceIssue
	for i, r := range results {
		name := sources[i].Name()
		if r.err != nil {
			reason := "error"
			if errors.Is(r.err, context.DeadlineExceeded) {
				reason = "timeout"
			}
			ometrics.RetrievalSourceResults.WithLabelValues(name, reason).Inc()
			issues = append(issues, SourceIssue{Source: name, Reason: r.err.Error()})
			if a.log != nil {
				a.log.Warn("Auxiliary source degraded",
					zap.String("source", name), zap.Error(r.err))
			}
			continue
		}
		ometrics.RetrievalSourceResults.WithLabelValues(name, "ok").Inc()
		chunks = append(chunks, r.chunks...)
	}
	return chunks, issues
}

// excluded checks the workflow's own patterns first, then the process
// baseline. Patterns are additive, never overriding.
func (a *Agent) excluded(path string, strat Strategy) bool {
	for _, patterns := range [][]string{strat.ExcludePatterns, a.cfg.ExcludePatterns} {
		for _, pattern := range patterns {
			if ok, err := doublestar.Match(pattern, path); err == nil && ok {
				return true
			}
		}
	}
	return false
}
