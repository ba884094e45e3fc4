package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/steward/internal/oracle"
	"github.com/example/steward/internal/risk"
	"github.com/example/steward/internal/tools"
)

type stubCall struct {
	tool   string
	params map[string]any
}

type stubEnv struct {
	mu    sync.Mutex
	calls []stubCall
}

func (s *stubEnv) record(tool string, params map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, stubCall{tool: tool, params: params})
}

func (s *stubEnv) toolNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.calls))
	for i, c := range s.calls {
		names[i] = c.tool
	}
	return names
}

func stubRegistry(rec *stubEnv, outputs map[string]string) *tools.Registry {
	registry := tools.NewRegistry()
	register := func(name string, readOnly bool) {
		registry.Register(tools.Tool{
			Definition: tools.Definition{Name: name, Description: name, ReadOnly: readOnly},
			Executor: func(ctx context.Context, params map[string]any, env tools.Environment) (string, error) {
				rec.record(name, params)
				if out, ok := outputs[name]; ok {
					return out, nil
				}
				return "ok", nil
			},
		})
	}
	register("read_file", true)
	register("list_files", true)
	register("write_file", false)
	register("execute_command", false)
	return registry
}

func newTestEngine(t *testing.T, o oracle.Oracle, rec *stubEnv, outputs map[string]string, confirmer Confirmer, cfg Config) *Engine {
	t.Helper()
	registry := stubRegistry(rec, outputs)
	env := tools.NewLocalEnvironment(t.TempDir())
	d := tools.NewDispatcher(registry, env, nil, time.Second)
	scorer := risk.NewScorer(risk.WithAutoApproveCeiling(30))
	if cfg.StepTimeout == 0 {
		cfg.StepTimeout = time.Second
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = time.Second
	}
	return New(o, d, scorer, confirmer, nil, nil, cfg)
}

func planOf(steps ...oracle.PlanStep) *oracle.Response {
	return &oracle.Response{Plan: &oracle.PlanResponse{Steps: steps}}
}

func readStep(id int, path string) oracle.PlanStep {
	return oracle.PlanStep{ID: id, Description: "read " + path, Tool: "read_file", Params: map[string]any{"path": path}}
}

func TestRunHappyPath(t *testing.T) {
	scripted := oracle.NewScripted().
		Enqueue(planOf(readStep(1, "a.go"), readStep(2, "b.go")))

	rec := &stubEnv{}
	e := newTestEngine(t, scripted, rec, nil, AutoConfirmer{Approve: true}, Config{})

	result := e.Run(context.Background(), Task{ID: "t1", Goal: "read two files", Mode: oracle.ModeFast}, nil)

	require.NoError(t, result.Err)
	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, StepSucceeded, result.Steps[0].Status)
	assert.Equal(t, StepSucceeded, result.Steps[1].Status)
	assert.Equal(t, []string{"read_file", "read_file"}, rec.toolNames())
}

func TestAnalysisFailureDegradesToHybrid(t *testing.T) {
	scripted := oracle.NewScripted().
		EnqueueError(&oracle.ServerError{}).                                       // analysis
		Enqueue(&oracle.Response{Exploration: &oracle.ExplorationAction{Done: true}}). // exploration ends at once
		Enqueue(planOf(readStep(1, "a.go")))

	rec := &stubEnv{}
	e := newTestEngine(t, scripted, rec, nil, AutoConfirmer{Approve: true}, Config{})

	result := e.Run(context.Background(), Task{ID: "t2", Goal: "goal"}, nil)
	require.NoError(t, result.Err)
	assert.Equal(t, oracle.ModeHybrid, result.Mode)
}

type blockingConfirmer struct{}

func (blockingConfirmer) Confirm(ctx context.Context, req ConfirmRequest) (bool, error) {
	<-ctx.Done()
	return true, ctx.Err()
}

func TestConfirmTimeoutRejects(t *testing.T) {
	writeStep := oracle.PlanStep{ID: 1, Description: "write file", Tool: "write_file",
		Params: map[string]any{"path": "x.txt", "content": "hi"}}
	scripted := oracle.NewScripted().
		Enqueue(planOf(writeStep)).
		Enqueue(planOf(writeStep)) // replan proposes the same step

	rec := &stubEnv{}
	e := newTestEngine(t, scripted, rec, nil, blockingConfirmer{}, Config{
		ConfirmTimeout: 20 * time.Millisecond,
		MaxReplans:     2,
	})

	result := e.Run(context.Background(), Task{ID: "t3", Goal: "write", Mode: oracle.ModeFast}, nil)

	assert.Equal(t, OutcomeAborted, result.Outcome)
	assert.ErrorIs(t, result.Err, ErrReplanningExhausted)
	assert.ErrorIs(t, result.Err, ErrUserRejected)
	assert.Empty(t, rec.toolNames(), "nothing may execute without approval")
}

func TestBlockedStepIsSkippedNotExecuted(t *testing.T) {
	dangerous := oracle.PlanStep{ID: 1, Description: "wipe disk", Tool: "execute_command",
		Params: map[string]any{"command": "rm -rf /"}}
	safe := readStep(2, "a.go")
	scripted := oracle.NewScripted().Enqueue(planOf(dangerous, safe))

	rec := &stubEnv{}
	e := newTestEngine(t, scripted, rec, nil, AutoConfirmer{Approve: true}, Config{})

	result := e.Run(context.Background(), Task{ID: "t4", Goal: "goal", Mode: oracle.ModeFast}, nil)

	require.NoError(t, result.Err)
	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, StepSkipped, result.Steps[0].Status)
	assert.Equal(t, StepSucceeded, result.Steps[1].Status)
	assert.Equal(t, []string{"read_file"}, rec.toolNames(), "the blocked command never runs")
	assert.Len(t, scripted.Calls(), 1, "a blocked step alone does not force a replan")
}

func TestVerificationFailureTriggersReplan(t *testing.T) {
	failing := oracle.PlanStep{ID: 1, Description: "check output", Tool: "read_file",
		Params: map[string]any{"path": "a.go"}, VerifyWith: "contains:impossible"}
	passing := oracle.PlanStep{ID: 1, Description: "retry differently", Tool: "read_file",
		Params: map[string]any{"path": "b.go"}}
	scripted := oracle.NewScripted().
		Enqueue(planOf(failing)).
		Enqueue(planOf(passing))

	rec := &stubEnv{}
	e := newTestEngine(t, scripted, rec, map[string]string{"read_file": "actual contents"},
		AutoConfirmer{Approve: true}, Config{ConsecutiveFailureThreshold: 1})

	result := e.Run(context.Background(), Task{ID: "t5", Goal: "goal", Mode: oracle.ModeFast}, nil)

	require.NoError(t, result.Err)
	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	assert.Equal(t, 1, result.Stats["replans"])

	calls := scripted.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, oracle.PhaseReplan, calls[1].Phase)
	assert.Contains(t, calls[1].FailureReason, "does not contain")
}

func TestLeftoverFailureGetsReplanRound(t *testing.T) {
	// The failure stays below the consecutive threshold, so no inline
	// replan fires; the end-of-plan check spends a round on it instead.
	failing := oracle.PlanStep{ID: 1, Description: "check", Tool: "read_file",
		Params: map[string]any{"path": "a.go"}, VerifyWith: "contains:nope"}
	passing := readStep(1, "b.go")
	scripted := oracle.NewScripted().
		Enqueue(planOf(failing)).
		Enqueue(planOf(passing))

	rec := &stubEnv{}
	e := newTestEngine(t, scripted, rec, map[string]string{"read_file": "actual contents"},
		AutoConfirmer{Approve: true}, Config{ConsecutiveFailureThreshold: 5})

	result := e.Run(context.Background(), Task{ID: "t10", Goal: "goal", Mode: oracle.ModeFast}, nil)

	require.NoError(t, result.Err)
	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	assert.Equal(t, 1, result.Stats["replans"])

	calls := scripted.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, oracle.PhaseReplan, calls[1].Phase)
}

func TestEmptyPlanAborts(t *testing.T) {
	empty := &oracle.Response{Plan: &oracle.PlanResponse{}}
	scripted := oracle.NewScripted().Enqueue(empty).Enqueue(empty).Enqueue(empty)

	rec := &stubEnv{}
	e := newTestEngine(t, scripted, rec, nil, AutoConfirmer{Approve: true}, Config{EmptyPlanRetries: 2})

	result := e.Run(context.Background(), Task{ID: "t6", Goal: "goal", Mode: oracle.ModeFast}, nil)

	assert.Equal(t, OutcomeAborted, result.Outcome)
	assert.ErrorIs(t, result.Err, ErrPlanningEmpty)
	assert.Len(t, scripted.Calls(), 3, "empty plans are re-prompted up to the bound")
}

func TestRepetitiveStepsAbortAsLoop(t *testing.T) {
	scripted := oracle.NewScripted().
		Enqueue(planOf(readStep(1, "same.go"), readStep(2, "same.go"),
			readStep(3, "same.go"), readStep(4, "same.go")))

	rec := &stubEnv{}
	e := newTestEngine(t, scripted, rec, nil, AutoConfirmer{Approve: true}, Config{MaxLoops: 1})

	result := e.Run(context.Background(), Task{ID: "t7", Goal: "goal", Mode: oracle.ModeFast}, nil)

	assert.Equal(t, OutcomeAborted, result.Outcome)
	assert.ErrorIs(t, result.Err, ErrLoopDetected)
	assert.Len(t, rec.toolNames(), 4, "the fourth read trips the detector")
}

func TestStepStatusIsMonotonic(t *testing.T) {
	step := &Step{Status: StepPending}
	step.setStatus(StepRunning, "")
	step.setStatus(StepFailed, "boom")
	step.setStatus(StepSucceeded, "")

	assert.Equal(t, StepFailed, step.Status, "terminal status cannot change")
	assert.Equal(t, "boom", step.Detail)
}

type fakeHistory struct {
	mu      sync.Mutex
	saved   []string
	similar []oracle.SimilarTask
}

func (f *fakeHistory) Save(ctx context.Context, goal, outcome, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, goal+"/"+outcome)
	return nil
}

func (f *fakeHistory) FindSimilar(ctx context.Context, goal string, limit int) ([]oracle.SimilarTask, error) {
	return f.similar, nil
}

func TestHistorySavedAndSurfacedOnReplan(t *testing.T) {
	failing := oracle.PlanStep{ID: 1, Description: "check", Tool: "read_file",
		Params: map[string]any{"path": "a.go"}, VerifyWith: "contains:nope"}
	passing := readStep(1, "b.go")
	scripted := oracle.NewScripted().
		Enqueue(planOf(failing)).
		Enqueue(planOf(passing))

	history := &fakeHistory{similar: []oracle.SimilarTask{{Goal: "old goal", Outcome: "succeeded"}}}

	rec := &stubEnv{}
	registry := stubRegistry(rec, nil)
	env := tools.NewLocalEnvironment(t.TempDir())
	d := tools.NewDispatcher(registry, env, nil, time.Second)
	e := New(scripted, d, risk.NewScorer(risk.WithAutoApproveCeiling(30)),
		AutoConfirmer{Approve: true}, history, nil,
		Config{ConsecutiveFailureThreshold: 1, StepTimeout: time.Second, ConfirmTimeout: time.Second})

	result := e.Run(context.Background(), Task{ID: "t8", Goal: "goal", Mode: oracle.ModeFast}, nil)
	require.NoError(t, result.Err)

	history.mu.Lock()
	defer history.mu.Unlock()
	require.Len(t, history.saved, 1)
	assert.Equal(t, "goal/succeeded", history.saved[0])

	calls := scripted.Calls()
	require.Len(t, calls, 2)
	require.Len(t, calls[1].SimilarTasks, 1)
	assert.Equal(t, "old goal", calls[1].SimilarTasks[0].Goal)
}

func TestEventsAreEmitted(t *testing.T) {
	scripted := oracle.NewScripted().Enqueue(planOf(readStep(1, "a.go")))

	rec := &stubEnv{}
	e := newTestEngine(t, scripted, rec, nil, AutoConfirmer{Approve: true}, Config{})

	emitter := NewEventEmitter("t9", 128)
	result := e.Run(context.Background(), Task{ID: "t9", Goal: "goal", Mode: oracle.ModeFast}, emitter)
	emitter.Close()
	require.NoError(t, result.Err)

	kinds := map[EventKind]bool{}
	for event := range emitter.Events() {
		kinds[event.Kind] = true
	}
	assert.True(t, kinds[EventTaskStart])
	assert.True(t, kinds[EventStepStart])
	assert.True(t, kinds[EventStepEnd])
	assert.True(t, kinds[EventTaskEnd])
}

func TestVerifierPredicates(t *testing.T) {
	env := tools.NewLocalEnvironment(t.TempDir())
	require.NoError(t, env.WriteFile("present.txt", "data"))
	v := NewVerifier(env)
	ctx := context.Background()

	ok, _ := v.Verify(ctx, "none", tools.Result{Success: true})
	assert.True(t, ok)

	ok, why := v.Verify(ctx, "exit_zero", tools.Result{Success: false, Error: "exit code 2"})
	assert.False(t, ok)
	assert.Contains(t, why, "exit code 2")

	ok, _ = v.Verify(ctx, "file_exists:present.txt", tools.Result{Success: true})
	assert.True(t, ok)

	ok, _ = v.Verify(ctx, "file_exists:absent.txt", tools.Result{Success: true})
	assert.False(t, ok)

	ok, _ = v.Verify(ctx, "contains:data", tools.Result{Success: true, Output: "has data inside"})
	assert.True(t, ok)

	ok, why = v.Verify(ctx, "frobnicate:x", tools.Result{Success: true})
	assert.False(t, ok)
	assert.Contains(t, why, "unknown verification predicate")
}
