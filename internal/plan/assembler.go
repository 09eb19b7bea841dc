// Package plan turns a workflow definition plus stage-inclusion decisions
// into an immutable execution plan. Assembly is a pure function: no I/O,
// no clock, no randomness, so identical inputs always produce identical
// plans, and the result is safe to replay inside a deterministic workflow.
package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/weftlabs/weft/internal/workflow"
)

// ErrInvalidWorkflow wraps assembly-time configuration failures.
type ErrInvalidWorkflow struct {
	Reason string
}

func (e *ErrInvalidWorkflow) Error() string {
	return fmt.Sprintf("invalid workflow config: %s", e.Reason)
}

// RoutingEntry is a stage's outgoing edges, copied verbatim from the
// definition and then resolved so every target names a planned stage,
// the abort sentinel, or the terminal done state (empty).
type RoutingEntry struct {
	OnSuccess   string `json:"on_success"`
	OnFailure   string `json:"on_failure"`
	MaxAttempts int    `json:"max_attempts"`
}

// TaskContext carries everything a stage node needs at execution time.
type TaskContext struct {
	StageID           string                     `json:"stage_id"`
	Required          bool                       `json:"required"`
	RetrievalGuidance string                     `json:"retrieval_guidance"`
	Agents            []workflow.AgentRef        `json:"agents"`
	AggregationPolicy workflow.AggregationPolicy `json:"aggregation_policy"`
	TokenBudget       int                        `json:"token_budget"`
}

// ExecutionPlan is the fixed routing table and per-stage task descriptors.
// It is never mutated after assembly; only ExecutionState changes during a
// run.
type ExecutionPlan struct {
	WorkflowName string                     `json:"workflow_name"`
	WorkflowType workflow.Type              `json:"workflow_type"`
	RoutingTable map[string]RoutingEntry    `json:"routing_table"`
	TaskContext  map[string]TaskContext     `json:"task_context"`
	Order        []string                   `json:"order"`
	EntryStage   string                     `json:"entry_stage"`
	Retrieval    workflow.RetrievalStrategy `json:"retrieval"`
	Checksum     string                     `json:"checksum"`
}

// DefaultTokenBudget applies when a stage has no explicit budget.
const DefaultTokenBudget = 4000

// Assemble builds an ExecutionPlan from a validated definition. A stage is
// planned iff it is required or its decision is INCLUDE. Inputs are never
// mutated.
func Assemble(def *workflow.Definition, decisions map[string]workflow.StageDecision, retrieval workflow.RetrievalStrategy) (*ExecutionPlan, error) {
	if def == nil {
		return nil, &ErrInvalidWorkflow{Reason: "definition is nil"}
	}
	if err := workflow.ValidateDefinition(def); err != nil {
		return nil, &ErrInvalidWorkflow{Reason: err.Error()}
	}

	known := make(map[string]struct{}, len(def.Stages))
	for _, stage := range def.Stages {
		known[stage.ID] = struct{}{}
	}
	for id := range decisions {
		if _, ok := known[id]; !ok {
			return nil, &ErrInvalidWorkflow{Reason: fmt.Sprintf("decision references unknown stage %q", id)}
		}
	}

	planned := make(map[string]bool, len(def.Stages))
	for _, stage := range def.Stages {
		planned[stage.ID] = stage.Required || decisions[stage.ID] == workflow.DecisionInclude
	}

	p := &ExecutionPlan{
		WorkflowName: def.Name,
		WorkflowType: def.WorkflowType,
		RoutingTable: make(map[string]RoutingEntry),
		TaskContext:  make(map[string]TaskContext),
		Retrieval:    retrieval,
	}

	for _, stage := range def.Stages {
		if !planned[stage.ID] {
			continue
		}
		p.Order = append(p.Order, stage.ID)

		policy := stage.AggregationPolicy
		if policy == "" {
			policy = workflow.AggregateAnyFails
		}
		agents := append([]workflow.AgentRef(nil), stage.ParallelAgents...)

		p.RoutingTable[stage.ID] = RoutingEntry{
			OnSuccess:   resolveTarget(def, planned, stage.Routing.OnSuccess, true),
			OnFailure:   resolveTarget(def, planned, stage.Routing.OnFailure, false),
			MaxAttempts: stage.Routing.MaxAttempts,
		}
		p.TaskContext[stage.ID] = TaskContext{
			StageID:           stage.ID,
			Required:          stage.Required,
			RetrievalGuidance: stage.RetrievalGuidance,
			Agents:            agents,
			AggregationPolicy: policy,
			TokenBudget:       retrieval.BudgetFor(stage.ID, DefaultTokenBudget),
		}
	}

	if len(p.Order) == 0 {
		return nil, &ErrInvalidWorkflow{Reason: "no stages planned"}
	}
	p.EntryStage = p.Order[0]
	p.Checksum = checksum(p)
	return p, nil
}

// resolveTarget follows edges through skipped stages so the routing table
// only ever points at planned stages. A success edge through a skipped
// stage continues along that stage's success edge; likewise for failure.
func resolveTarget(def *workflow.Definition, planned map[string]bool, target string, success bool) string {
	for hops := 0; hops <= len(def.Stages); hops++ {
		if target == "" || target == workflow.RouteAbort {
			return target
		}
		if planned[target] {
			return target
		}
		next := def.StageByID(target)
		if next == nil {
			return ""
		}
		if success {
			target = next.Routing.OnSuccess
		} else {
			target = next.Routing.OnFailure
		}
	}
	return ""
}

// checksum produces a stable fingerprint of the assembled plan.
func checksum(p *ExecutionPlan) string {
	var b strings.Builder
	b.WriteString(p.WorkflowName)
	b.WriteByte('|')
	b.WriteString(string(p.WorkflowType))
	for _, id := range p.Order {
		entry := p.RoutingTable[id]
		tc := p.TaskContext[id]
		fmt.Fprintf(&b, "|%s>%s!%s@%d#%s$%d", id, entry.OnSuccess, entry.OnFailure, entry.MaxAttempts, tc.AggregationPolicy, tc.TokenBudget)
		agentIDs := make([]string, len(tc.Agents))
		for i, a := range tc.Agents {
			agentIDs[i] = a.ID
		}
		sort.Strings(agentIDs)
		b.WriteString("&" + strings.Join(agentIDs, ","))
	}
	fmt.Fprintf(&b, "|retrieval:%t,%t,%t,%t,%g,%s",
		p.Retrieval.FileLevelSearch,
		p.Retrieval.SelectiveASTParsing,
		p.Retrieval.LSPIntegration,
		p.Retrieval.AllowsEnrichment,
		p.Retrieval.MinRelevanceScore,
		strings.Join(p.Retrieval.ExcludePatterns, ","),
	)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
