package workflow

// Type discriminates retrieval behavior between code and non-code pipelines.
type Type string

const (
	TypeCode    Type = "code"
	TypeNonCode Type = "non_code"
)

// AggregationPolicy decides how parallel agent outcomes collapse into a
// single stage outcome.
type AggregationPolicy string

const (
	AggregateAnyFails     AggregationPolicy = "any-fails"
	AggregateAllFail      AggregationPolicy = "all-fail"
	AggregateMajorityFail AggregationPolicy = "majority-fail"
)

// RouteAbort is the sentinel routing target that terminates the execution.
// An empty routing target means the terminal done state.
const RouteAbort = "ABORT"

// StageDecision is a per-stage inclusion decision supplied at submit time.
type StageDecision string

const (
	DecisionInclude StageDecision = "INCLUDE"
	DecisionSkip    StageDecision = "SKIP"
)

// Definition captures a user-defined multi-stage workflow.
type Definition struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Version      string            `yaml:"version"`
	WorkflowType Type              `yaml:"workflow_type"`
	Stages       []StageSpec       `yaml:"stages"`
	Retrieval    RetrievalStrategy `yaml:"retrieval"`
	Metadata     map[string]any    `yaml:"metadata"`
}

// StageSpec defines one unit of work in the pipeline.
type StageSpec struct {
	ID                string            `yaml:"id"`
	Required          bool              `yaml:"required"`
	RetrievalGuidance string            `yaml:"retrieval_guidance"`
	ParallelAgents    []AgentRef        `yaml:"parallel_agents"`
	AggregationPolicy AggregationPolicy `yaml:"aggregation_policy"`
	Routing           Routing           `yaml:"routing"`
}

// Routing holds the conditional edges out of a stage. OnSuccess and
// OnFailure name another stage, the RouteAbort sentinel, or are empty for
// the terminal done state.
type Routing struct {
	OnSuccess   string `yaml:"on_success"`
	OnFailure   string `yaml:"on_failure"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// AgentRef names an agent executed within a stage.
type AgentRef struct {
	ID     string `yaml:"id"`
	Role   string `yaml:"role"`
	Prompt string `yaml:"prompt"`
}

// SourceSpec describes an auxiliary retrieval source and its rank for
// deterministic tie-breaking during fusion.
type SourceSpec struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`
}

// RetrievalStrategy is the per-workflow retrieval toggle set.
// SelectiveASTParsing == false means no function-level phase runs.
type RetrievalStrategy struct {
	FileLevelSearch     bool           `yaml:"file_level_search"`
	SelectiveASTParsing bool           `yaml:"selective_ast_parsing"`
	LSPIntegration      bool           `yaml:"lsp_integration"`
	AllowsEnrichment    bool           `yaml:"allows_enrichment"`
	MinRelevanceScore   float64        `yaml:"min_relevance_score"`
	ExcludePatterns     []string       `yaml:"exclude_patterns"`
	Sources             []SourceSpec   `yaml:"sources"`
	TokenBudget         map[string]int `yaml:"token_budget"`
}

// StageByID returns a pointer to the stage with the supplied ID, if present.
func (d *Definition) StageByID(id string) *StageSpec {
	for i := range d.Stages {
		if d.Stages[i].ID == id {
			return &d.Stages[i]
		}
	}
	return nil
}

// BudgetFor returns the token budget for a stage, falling back to a default.
func (rs RetrievalStrategy) BudgetFor(stageID string, fallback int) int {
	if b, ok := rs.TokenBudget[stageID]; ok && b > 0 {
		return b
	}
	return fallback
}
