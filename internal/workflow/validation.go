package workflow

import (
	"fmt"
	"strings"
)

// ValidationIssue captures a single validation failure with a stable code for metrics.
type ValidationIssue struct {
	Code    string
	Message string
}

// ValidationError aggregates workflow definition validation failures.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "workflow definition validation failed"
	}
	if len(e.Issues) == 1 {
		return e.Issues[0].Message
	}
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Message
	}
	return fmt.Sprintf("%d validation errors: %s", len(e.Issues), strings.Join(msgs, "; "))
}

// HasIssues reports whether any validation problems were captured.
func (e *ValidationError) HasIssues() bool {
	return e != nil && len(e.Issues) > 0
}

var allowedPolicies = map[AggregationPolicy]struct{}{
	AggregateAnyFails:     {},
	AggregateAllFail:      {},
	AggregateMajorityFail: {},
}

// ValidateDefinition performs structural checks and returns a ValidationError
// when problems exist. A definition that passes is safe to hand to the plan
// assembler.
func ValidateDefinition(def *Definition) error {
	if def == nil {
		return &ValidationError{Issues: []ValidationIssue{{Code: "definition_nil", Message: "workflow definition is nil"}}}
	}

	var issues []ValidationIssue

	if strings.TrimSpace(def.Name) == "" {
		issues = append(issues, ValidationIssue{Code: "name_missing", Message: "workflow name is required"})
	}
	if def.WorkflowType != TypeCode && def.WorkflowType != TypeNonCode {
		issues = append(issues, ValidationIssue{
			Code:    "workflow_type_invalid",
			Message: fmt.Sprintf("workflow_type must be %q or %q, got %q", TypeCode, TypeNonCode, def.WorkflowType),
		})
	}
	if len(def.Stages) == 0 {
		issues = append(issues, ValidationIssue{Code: "stages_missing", Message: "workflow has no stages"})
	}

	ids := make(map[string]struct{}, len(def.Stages))
	for _, stage := range def.Stages {
		if strings.TrimSpace(stage.ID) == "" {
			issues = append(issues, ValidationIssue{Code: "stage_id_missing", Message: "stage id is required"})
			continue
		}
		if _, dup := ids[stage.ID]; dup {
			issues = append(issues, ValidationIssue{
				Code:    "stage_id_duplicate",
				Message: fmt.Sprintf("duplicate stage id %q", stage.ID),
			})
		}
		ids[stage.ID] = struct{}{}

		if len(stage.ParallelAgents) == 0 {
			issues = append(issues, ValidationIssue{
				Code:    "stage_agents_missing",
				Message: fmt.Sprintf("stage %q has no agents", stage.ID),
			})
		}
		if stage.AggregationPolicy != "" {
			if _, ok := allowedPolicies[stage.AggregationPolicy]; !ok {
				issues = append(issues, ValidationIssue{
					Code:    "aggregation_policy_invalid",
					Message: fmt.Sprintf("stage %q has unknown aggregation policy %q", stage.ID, stage.AggregationPolicy),
				})
			}
		}
		if stage.Routing.MaxAttempts < 0 {
			issues = append(issues, ValidationIssue{
				Code:    "max_attempts_negative",
				Message: fmt.Sprintf("stage %q has negative max_attempts", stage.ID),
			})
		}
	}

	// Routing targets must name a known stage, the abort sentinel, or be empty.
	for _, stage := range def.Stages {
		for _, target := range []string{stage.Routing.OnSuccess, stage.Routing.OnFailure} {
			if target == "" || target == RouteAbort {
				continue
			}
			if _, ok := ids[target]; !ok {
				issues = append(issues, ValidationIssue{
					Code:    "routing_target_unknown",
					Message: fmt.Sprintf("stage %q routes to unknown stage %q", stage.ID, target),
				})
			}
		}
	}

	// The success path must not cycle: a workflow that can never terminate
	// on the happy path is a configuration error.
	if cycle := findSuccessCycle(def, ids); cycle != "" {
		issues = append(issues, ValidationIssue{
			Code:    "routing_success_cycle",
			Message: fmt.Sprintf("success routing contains a cycle through stage %q", cycle),
		})
	}

	if def.Retrieval.SelectiveASTParsing && !def.Retrieval.FileLevelSearch {
		issues = append(issues, ValidationIssue{
			Code:    "retrieval_phase_order",
			Message: "selective_ast_parsing requires file_level_search",
		})
	}
	if def.Retrieval.MinRelevanceScore < 0 || def.Retrieval.MinRelevanceScore > 1 {
		issues = append(issues, ValidationIssue{
			Code:    "min_relevance_score_range",
			Message: fmt.Sprintf("min_relevance_score %v out of [0,1]", def.Retrieval.MinRelevanceScore),
		})
	}
	seenSources := make(map[string]struct{}, len(def.Retrieval.Sources))
	for _, src := range def.Retrieval.Sources {
		if strings.TrimSpace(src.Name) == "" {
			issues = append(issues, ValidationIssue{Code: "source_name_missing", Message: "retrieval source name is required"})
			continue
		}
		if _, dup := seenSources[src.Name]; dup {
			issues = append(issues, ValidationIssue{
				Code:    "source_duplicate",
				Message: fmt.Sprintf("duplicate retrieval source %q", src.Name),
			})
		}
		seenSources[src.Name] = struct{}{}
	}
	for stageID, budget := range def.Retrieval.TokenBudget {
		if _, ok := ids[stageID]; !ok {
			issues = append(issues, ValidationIssue{
				Code:    "token_budget_unknown_stage",
				Message: fmt.Sprintf("token_budget references unknown stage %q", stageID),
			})
		}
		if budget <= 0 {
			issues = append(issues, ValidationIssue{
				Code:    "token_budget_invalid",
				Message: fmt.Sprintf("token_budget for stage %q must be positive", stageID),
			})
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// findSuccessCycle walks on_success edges from every stage and reports the
// first stage revisited within a single walk, or "".
func findSuccessCycle(def *Definition, ids map[string]struct{}) string {
	next := make(map[string]string, len(def.Stages))
	for _, stage := range def.Stages {
		next[stage.ID] = stage.Routing.OnSuccess
	}
	for _, stage := range def.Stages {
		seen := map[string]struct{}{}
		cur := stage.ID
		for cur != "" && cur != RouteAbort {
			if _, revisited := seen[cur]; revisited {
				return cur
			}
			seen[cur] = struct{}{}
			if _, known := ids[cur]; !known {
				break
			}
			cur = next[cur]
		}
	}
	return ""
}
