package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDefinition = `
name: code_assist
description: Multi-stage code assistant pipeline
version: "1.0.0"
workflow_type: code
stages:
  - id: code_generation
    required: true
    retrieval_guidance: "implementation files and signatures for the requested change"
    aggregation_policy: any-fails
    parallel_agents:
      - id: coder
        role: implementation
    routing:
      on_success: test_generation
      on_failure: ABORT
      max_attempts: 3
  - id: test_generation
    required: true
    retrieval_guidance: "existing test layout and fixtures"
    parallel_agents:
      - id: tester
        role: tests
    routing:
      on_failure: ABORT
      max_attempts: 2
  - id: documentation
    required: false
    parallel_agents:
      - id: doc_writer
        role: docs
    routing: {}
retrieval:
  file_level_search: true
  selective_ast_parsing: true
  allows_enrichment: true
  min_relevance_score: 0.35
  exclude_patterns:
    - "**/*_test.go"
    - "vendor/**"
  sources:
    - name: codebase
      priority: 1
    - name: web
      priority: 2
  token_budget:
    code_generation: 4000
    test_generation: 3000
`

func TestLoadDefinition(t *testing.T) {
	def, err := LoadDefinition(strings.NewReader(sampleDefinition))
	require.NoError(t, err)
	require.NotNil(t, def)

	assert.Equal(t, "code_assist", def.Name)
	assert.Equal(t, TypeCode, def.WorkflowType)
	require.Len(t, def.Stages, 3)
	assert.True(t, def.Stages[0].Required)
	assert.False(t, def.Stages[2].Required)
	assert.Equal(t, "test_generation", def.Stages[0].Routing.OnSuccess)
	assert.Equal(t, RouteAbort, def.Stages[0].Routing.OnFailure)
	assert.Equal(t, 3, def.Stages[0].Routing.MaxAttempts)
	assert.True(t, def.Retrieval.SelectiveASTParsing)
	assert.Equal(t, 4000, def.Retrieval.TokenBudget["code_generation"])
}

func TestLoadDefinitionRejectsUnknownFields(t *testing.T) {
	bad := `
name: bad
workflow_type: code
unknown_field: true
`
	_, err := LoadDefinition(strings.NewReader(bad))
	assert.Error(t, err)
}

func TestBudgetForFallsBack(t *testing.T) {
	def, err := LoadDefinition(strings.NewReader(sampleDefinition))
	require.NoError(t, err)

	assert.Equal(t, 4000, def.Retrieval.BudgetFor("code_generation", 2000))
	assert.Equal(t, 2000, def.Retrieval.BudgetFor("documentation", 2000))
}
