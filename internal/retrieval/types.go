package retrieval

import (
	"context"
	"time"

	"github.com/weftlabs/weft/internal/fusion"
	"github.com/weftlabs/weft/internal/vectorstore"
)

// Mode selects between the full two-phase pass and the cheaper adaptive
// pass that reuses a previous pass's file filter.
type Mode string

const (
	ModeUpfront  Mode = "upfront"
	ModeAdaptive Mode = "adaptive"
)

// Strategy carries a workflow definition's retrieval toggles into a
// single pass. Every pass gates on the strategy it was handed, so two
// workflows with different toggle sets can share one agent instance.
type Strategy struct {
	// FileLevelSearch gates phase one. When off, the pass skips the
	// vector store entirely and context comes from auxiliary sources.
	FileLevelSearch bool `json:"file_level_search"`
	// SelectiveParsing gates phase two: parsing the filtered files and
	// searching the function-level index.
	SelectiveParsing  bool     `json:"selective_parsing"`
	LSPIntegration    bool     `json:"lsp_integration"`
	MinRelevanceScore float64  `json:"min_relevance_score,omitempty"`
	ExcludePatterns   []string `json:"exclude_patterns,omitempty"`
	// Sources names the auxiliary sources this workflow may consult.
	// Empty means every configured source.
	Sources []string `json:"sources,omitempty"`
}

// Request describes one retrieval pass for a stage.
type Request struct {
	ExecutionID     string
	WorkspaceID     string
	StageID         string
	TaskDescription string
	Guidance        string
	Mode            Mode
	Strategy        Strategy
	// FilteredFiles carries the file filter from the upfront pass when
	// Mode is adaptive; the adaptive pass never re-runs file search or
	// parsing.
	FilteredFiles []string
	// FailureContext holds the failed attempt's error output; adaptive
	// subqueries are generated from it.
	FailureContext string
}

// SourceIssue records a source that failed or timed out during a pass.
// Issues degrade the result; they never fail it.
type SourceIssue struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// Result is the raw material handed to fusion.
type Result struct {
	Chunks        []fusion.Chunk
	FilteredFiles []string
	SubQueries    []string
	Issues        []SourceIssue
}

// FunctionDoc is one parsed function ready for function-level indexing.
type FunctionDoc struct {
	FilePath  string `json:"file_path"`
	Name      string `json:"name"`
	Signature string `json:"signature"`
	Content   string `json:"content"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Store is the vector store surface the agent needs.
type Store interface {
	Search(ctx context.Context, p vectorstore.SearchParams) ([]vectorstore.Hit, error)
	Upsert(ctx context.Context, collection string, points []vectorstore.Point) error
	FileCollection() string
	FunctionCollection() string
}

// Embedder turns texts into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Parser extracts function-level documents from selected files.
type Parser interface {
	ParseFiles(ctx context.Context, workspaceID string, paths []string) ([]FunctionDoc, error)
}

// SubQueryGenerator expands a stage task into focused search queries.
type SubQueryGenerator interface {
	Generate(ctx context.Context, req Request) ([]string, error)
}

// Source is an auxiliary context provider queried alongside the vector
// store (LSP, docs, and similar). Each source call runs under its own
// timeout; a slow source degrades the pass for itself only.
type Source interface {
	Name() string
	Priority() int
	Fetch(ctx context.Context, req Request, queries []string) ([]fusion.Chunk, error)
}

// Config tunes the agent. MinRelevanceScore and ExcludePatterns are
// process-wide baselines; per-workflow strategies override the score and
// add their own patterns on top.
type Config struct {
	FileTopK          int
	FunctionTopK      int
	MinRelevanceScore float64
	MinSubqueries     int
	MaxSubqueries     int
	SourceTimeout     time.Duration
	ExcludePatterns   []string
}
