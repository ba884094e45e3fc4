// Package engine drives a task through analysis, exploration, planning,
// execution, and verification, replanning on failure until the task
// succeeds or is aborted.
package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/example/steward/internal/memory"
	"github.com/example/steward/internal/oracle"
)

// Task is one unit of work handed to the engine.
type Task struct {
	ID         string
	Goal       string
	Mode       oracle.Mode // empty means the analysis phase decides
	WorkingDir string
}

// NewTask creates a Task with a fresh ID.
func NewTask(goal string) Task {
	return Task{ID: uuid.New().String(), Goal: goal}
}

// StepStatus is the lifecycle state of one plan step. Transitions are
// monotonic: pending -> running -> one terminal status.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepRejected  StepStatus = "rejected"
)

func (s StepStatus) terminal() bool {
	switch s {
	case StepSucceeded, StepFailed, StepSkipped, StepRejected:
		return true
	}
	return false
}

// Step is one executable unit of a plan.
type Step struct {
	ID            int
	Description   string
	Tool          string
	Params        map[string]any
	VerifyWith    string
	EstimatedRisk int

	Status StepStatus
	Detail string // error text, rejection reason, or verification note
}

// setStatus applies a transition, refusing to leave a terminal state.
func (s *Step) setStatus(status StepStatus, detail string) {
	if s.Status.terminal() {
		return
	}
	s.Status = status
	if detail != "" {
		s.Detail = detail
	}
}

// Signature identifies the step's action for loop and replan
// comparisons.
func (s *Step) Signature() string {
	return memory.Signature(s.Tool, s.Params)
}

// Plan is an ordered list of steps.
type Plan struct {
	Steps     []*Step
	Reasoning string
}

func planFromResponse(resp *oracle.PlanResponse) *Plan {
	plan := &Plan{Reasoning: resp.Reasoning}
	for i, ps := range resp.Steps {
		id := ps.ID
		if id == 0 {
			id = i + 1
		}
		plan.Steps = append(plan.Steps, &Step{
			ID:            id,
			Description:   ps.Description,
			Tool:          ps.Tool,
			Params:        ps.Params,
			VerifyWith:    ps.VerifyWith,
			EstimatedRisk: ps.EstimatedRisk,
			Status:        StepPending,
		})
	}
	return plan
}

// Outcome is the terminal state of a task.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeAborted   Outcome = "aborted"
)

// StepReport is the final record of one step for the task result.
type StepReport struct {
	ID          int        `json:"id"`
	Description string     `json:"description"`
	Tool        string     `json:"tool"`
	Status      StepStatus `json:"status"`
	Detail      string     `json:"detail,omitempty"`
}

// Result is what Run returns.
type Result struct {
	TaskID  string         `json:"task_id"`
	Outcome Outcome        `json:"outcome"`
	Mode    oracle.Mode    `json:"mode"`
	Steps   []StepReport   `json:"steps"`
	Stats   map[string]int `json:"stats"`

	// Err holds the terminal failure for aborted tasks.
	Err error `json:"-"`
}

func (r *Result) String() string {
	return fmt.Sprintf("task %s %s (%d steps)", r.TaskID, r.Outcome, len(r.Steps))
}
