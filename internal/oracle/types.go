// Package oracle is the boundary to the language model that analyzes
// goals, proposes exploration actions, and produces plans. Everything
// behind the Oracle interface is opaque to the engine; everything in
// front of it is validated, typed data.
package oracle

import (
	"context"
	"fmt"
)

// Phase selects what kind of response the engine expects.
type Phase string

const (
	PhaseAnalyze Phase = "analyze"
	PhaseExplore Phase = "explore"
	PhasePlan    Phase = "plan"
	PhaseReplan  Phase = "replan"
)

// Mode is the execution depth the analysis phase selects. It tunes how
// much exploration happens, never correctness.
type Mode string

const (
	ModeFast        Mode = "fast"
	ModeHybrid      Mode = "hybrid"
	ModeExploratory Mode = "exploratory"
)

// ToolInfo describes one available tool for prompt assembly.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ReadOnly    bool   `json:"read_only"`
}

// SimilarTask is a prior task surfaced from history for replanning.
type SimilarTask struct {
	Goal    string `json:"goal"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// PromptContext carries everything the oracle may need for one request.
// Fields irrelevant to the phase are left zero.
type PromptContext struct {
	Phase Phase
	Goal  string
	Mode  Mode

	// Observations is the rendered, compressed observation log.
	Observations string

	// MemorySnapshot is the working-memory summary (files, commands).
	MemorySnapshot string

	Tools []ToolInfo

	// Replanning inputs.
	FailedStep    string
	FailureReason string
	DoneSteps     []string
	SimilarTasks  []SimilarTask
}

// PlanStep is one proposed step of a plan.
type PlanStep struct {
	ID            int            `json:"id"`
	Description   string         `json:"description"`
	Tool          string         `json:"tool"`
	Params        map[string]any `json:"params"`
	VerifyWith    string         `json:"verify_with,omitempty"`
	EstimatedRisk int            `json:"estimated_risk,omitempty"`
}

// Analysis is the response to PhaseAnalyze.
type Analysis struct {
	Complexity  string `json:"complexity"`
	Uncertainty string `json:"uncertainty"`
	Mode        Mode   `json:"mode"`
}

// ExplorationAction is the response to PhaseExplore. Done means the
// oracle has seen enough and exploration should stop.
type ExplorationAction struct {
	Done      bool           `json:"done"`
	Tool      string         `json:"tool,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// PlanResponse is the response to PhasePlan and PhaseReplan.
type PlanResponse struct {
	Steps     []PlanStep `json:"steps"`
	Reasoning string     `json:"reasoning,omitempty"`
}

// Response is the tagged union of oracle answers. Exactly one variant
// is non-nil, matching the request's phase.
type Response struct {
	Analysis    *Analysis
	Exploration *ExplorationAction
	Plan        *PlanResponse
}

// Validate checks that the response carries the variant the phase
// requires.
func (r *Response) Validate(phase Phase) error {
	switch phase {
	case PhaseAnalyze:
		if r.Analysis == nil {
			return fmt.Errorf("missing analysis variant")
		}
	case PhaseExplore:
		if r.Exploration == nil {
			return fmt.Errorf("missing exploration variant")
		}
		if !r.Exploration.Done && r.Exploration.Tool == "" {
			return fmt.Errorf("exploration action names no tool")
		}
	case PhasePlan, PhaseReplan:
		if r.Plan == nil {
			return fmt.Errorf("missing plan variant")
		}
		for i, step := range r.Plan.Steps {
			if step.Tool == "" {
				return fmt.Errorf("step %d names no tool", i)
			}
		}
	default:
		return fmt.Errorf("unknown phase %q", phase)
	}
	return nil
}

// Oracle proposes the next move for a task. Implementations must
// return validated responses; malformed provider output surfaces as a
// *MalformedResponseError.
type Oracle interface {
	Propose(ctx context.Context, pc PromptContext) (*Response, error)
}
