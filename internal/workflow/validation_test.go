package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDefinition() *Definition {
	return &Definition{
		Name:         "pipeline",
		Version:      "1.0.0",
		WorkflowType: TypeCode,
		Stages: []StageSpec{
			{
				ID:             "generate",
				Required:       true,
				ParallelAgents: []AgentRef{{ID: "coder"}},
				Routing:        Routing{OnSuccess: "review", OnFailure: RouteAbort, MaxAttempts: 3},
			},
			{
				ID:             "review",
				Required:       true,
				ParallelAgents: []AgentRef{{ID: "reviewer"}},
				Routing:        Routing{OnFailure: RouteAbort, MaxAttempts: 2},
			},
		},
		Retrieval: RetrievalStrategy{
			FileLevelSearch:   true,
			MinRelevanceScore: 0.3,
			Sources:           []SourceSpec{{Name: "codebase", Priority: 1}},
			TokenBudget:       map[string]int{"generate": 4000},
		},
	}
}

func TestValidateDefinitionOK(t *testing.T) {
	assert.NoError(t, ValidateDefinition(validDefinition()))
}

func TestValidateDefinitionDuplicateStage(t *testing.T) {
	def := validDefinition()
	def.Stages = append(def.Stages, def.Stages[0])

	err := ValidateDefinition(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate stage id")
}

func TestValidateDefinitionUnknownRoutingTarget(t *testing.T) {
	def := validDefinition()
	def.Stages[0].Routing.OnSuccess = "nonexistent"

	err := ValidateDefinition(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
}

func TestValidateDefinitionSuccessCycle(t *testing.T) {
	def := validDefinition()
	def.Stages[1].Routing.OnSuccess = "generate"

	err := ValidateDefinition(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidateDefinitionParseWithoutFileSearch(t *testing.T) {
	def := validDefinition()
	def.Retrieval.SelectiveASTParsing = true
	def.Retrieval.FileLevelSearch = false

	err := ValidateDefinition(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selective_ast_parsing requires file_level_search")
}

func TestValidateDefinitionBudgetForUnknownStage(t *testing.T) {
	def := validDefinition()
	def.Retrieval.TokenBudget["ghost"] = 100

	err := ValidateDefinition(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
}

func TestValidateLoadedSample(t *testing.T) {
	def, err := LoadDefinition(strings.NewReader(sampleDefinition))
	require.NoError(t, err)
	assert.NoError(t, ValidateDefinition(def))
}
