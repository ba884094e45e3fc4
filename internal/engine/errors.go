package engine

import "errors"

// Terminal failure reasons for a task. The engine wraps these with
// detail; callers match with errors.Is.
var (
	// ErrRiskBlocked means a step matched the destructive blacklist.
	ErrRiskBlocked = errors.New("step blocked by risk policy")

	// ErrUserRejected means the user declined a step, or the
	// confirmation timed out (timeouts count as rejection).
	ErrUserRejected = errors.New("step rejected by user")

	// ErrLoopDetected means working memory flagged repetitive behavior
	// and replanning could not break out of it.
	ErrLoopDetected = errors.New("execution loop detected")

	// ErrPlanningEmpty means the oracle produced no steps even after
	// re-prompting.
	ErrPlanningEmpty = errors.New("oracle produced an empty plan")

	// ErrReplanningExhausted means the replanning budget ran out, or a
	// revised plan failed on the same step signature as before.
	ErrReplanningExhausted = errors.New("replanning exhausted")
)
