package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/steward/internal/explore"
	"github.com/example/steward/internal/memory"
	"github.com/example/steward/internal/obslog"
	"github.com/example/steward/internal/oracle"
	"github.com/example/steward/internal/risk"
	"github.com/example/steward/internal/tools"
)

// State names the phase a task is in.
type State string

const (
	StateAnalyzing  State = "analyzing"
	StateExploring  State = "exploring"
	StatePlanning   State = "planning"
	StateExecuting  State = "executing"
	StateVerifying  State = "verifying"
	StateReplanning State = "replanning"
	StateSucceeded  State = "succeeded"
	StateAborted    State = "aborted"
)

// History is the engine's view of the task-history store.
type History interface {
	Save(ctx context.Context, goal, outcome, detail string) error
	FindSimilar(ctx context.Context, goal string, limit int) ([]oracle.SimilarTask, error)
}

// Config bounds the engine's loops. Zero values take the defaults.
type Config struct {
	// MaxReplans caps full replanning rounds per task.
	MaxReplans int

	// ConsecutiveFailureThreshold is how many step failures in a row
	// trigger replanning instead of moving on.
	ConsecutiveFailureThreshold int

	// EmptyPlanRetries is how many times an empty plan is re-requested
	// before the task aborts.
	EmptyPlanRetries int

	// ExplorationSteps caps exploration tool calls; exploratory mode
	// doubles it, fast mode skips exploration entirely.
	ExplorationSteps int

	// MaxLoops aborts the task once working memory has flagged this
	// many loops.
	MaxLoops int

	StepTimeout    time.Duration
	ConfirmTimeout time.Duration

	// Observation log sizing.
	MaxObservations   int
	KeepRecent        int
	CompressThreshold int
}

func (c Config) withDefaults() Config {
	if c.MaxReplans <= 0 {
		c.MaxReplans = 3
	}
	if c.ConsecutiveFailureThreshold <= 0 {
		c.ConsecutiveFailureThreshold = 2
	}
	if c.EmptyPlanRetries <= 0 {
		c.EmptyPlanRetries = 2
	}
	if c.ExplorationSteps <= 0 {
		c.ExplorationSteps = 10
	}
	if c.MaxLoops <= 0 {
		c.MaxLoops = 2
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 2 * time.Minute
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 60 * time.Second
	}
	if c.MaxObservations <= 0 {
		c.MaxObservations = 40
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = 10
	}
	if c.CompressThreshold <= 0 {
		c.CompressThreshold = 60
	}
	return c
}

// Engine runs tasks. One Engine serves many tasks; per-task state lives
// in Run.
type Engine struct {
	oracle     oracle.Oracle
	dispatcher *tools.Dispatcher
	scorer     *risk.Scorer
	confirmer  Confirmer
	history    History // may be nil
	logger     *zap.Logger
	cfg        Config
}

// New creates an Engine.
func New(o oracle.Oracle, d *tools.Dispatcher, scorer *risk.Scorer, confirmer Confirmer, history History, logger *zap.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if confirmer == nil {
		confirmer = AutoConfirmer{Approve: false}
	}
	return &Engine{
		oracle:     o,
		dispatcher: d,
		scorer:     scorer,
		confirmer:  confirmer,
		history:    history,
		logger:     logger,
		cfg:        cfg.withDefaults(),
	}
}

// run-scoped state.
type run struct {
	task    Task
	mem     *memory.WorkingMemory
	log     *obslog.Manager
	emitter *EventEmitter
	mode    oracle.Mode

	plan      *Plan
	doneSteps []string

	replans      int
	consecutive  int
	failureCount map[string]int
	exploreStats explore.Stats
}

// Run drives one task to a terminal state. The emitter may be nil.
// Run itself never returns an error; terminal failures land in
// Result.Err with Outcome aborted.
func (e *Engine) Run(ctx context.Context, task Task, emitter *EventEmitter) *Result {
	if task.ID == "" {
		task = NewTask(task.Goal)
	}
	if emitter == nil {
		emitter = NewEventEmitter(task.ID, 1)
	}

	r := &run{
		task:         task,
		mem:          memory.New(),
		log:          obslog.NewManager(e.cfg.MaxObservations, e.cfg.KeepRecent, e.cfg.CompressThreshold),
		emitter:      emitter,
		mode:         task.Mode,
		failureCount: make(map[string]int),
	}

	emitter.Emit(EventTaskStart, map[string]any{"goal": task.Goal})
	result := e.execute(ctx, r)
	emitter.Emit(EventTaskEnd, map[string]any{"outcome": string(result.Outcome)})

	if e.history != nil {
		detail := ""
		if result.Err != nil {
			detail = result.Err.Error()
		}
		if err := e.history.Save(context.WithoutCancel(ctx), task.Goal, string(result.Outcome), detail); err != nil {
			e.logger.Warn("history save failed", zap.Error(err))
		}
	}
	return result
}

func (e *Engine) execute(ctx context.Context, r *run) *Result {
	e.setState(r, StateAnalyzing)
	if r.mode == "" {
		r.mode = e.analyze(ctx, r)
	}

	if r.mode != oracle.ModeFast {
		e.setState(r, StateExploring)
		e.explorePhase(ctx, r)
	}

	e.setState(r, StatePlanning)
	if err := e.planPhase(ctx, r, oracle.PhasePlan, "", ""); err != nil {
		return e.abort(r, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return e.abort(r, err)
		}

		step := r.nextPending()
		if step == nil {
			done, result := e.finish(r)
			if done {
				return result
			}
			// Failed steps remain; spend a replanning round on them.
			failed := r.firstFailed()
			if err := e.replan(ctx, r, failed, errors.New(failed.Detail)); err != nil {
				return e.abort(r, err)
			}
			continue
		}

		e.setState(r, StateExecuting)
		sr := e.runStep(ctx, r, step)

		switch {
		case sr.status == StepSucceeded:
			r.consecutive = 0
			r.doneSteps = append(r.doneSteps, step.Description)

		case sr.status == StepSkipped:
			// Nothing to do.

		case sr.loop:
			r.mem.NoteLoop()
			if r.mem.LoopCount() >= e.cfg.MaxLoops {
				return e.abort(r, fmt.Errorf("%w: %s", ErrLoopDetected, sr.reason))
			}
			if err := e.replan(ctx, r, step, fmt.Errorf("%w: %s", ErrLoopDetected, sr.reason)); err != nil {
				return e.abort(r, err)
			}

		default: // failed or rejected
			sig := step.Signature()
			r.failureCount[sig]++
			if r.failureCount[sig] >= 2 {
				return e.abort(r, fmt.Errorf("%w: step %q failed again after replanning: %w",
					ErrReplanningExhausted, step.Description, sr.cause))
			}

			if sr.status == StepRejected {
				if err := e.replan(ctx, r, step, sr.cause); err != nil {
					return e.abort(r, err)
				}
				break
			}

			r.consecutive++
			if r.consecutive >= e.cfg.ConsecutiveFailureThreshold {
				if err := e.replan(ctx, r, step, sr.cause); err != nil {
					return e.abort(r, err)
				}
			}
		}
	}
}

// analyze asks the oracle to pick the execution mode. Any failure
// degrades to hybrid rather than blocking the task.
func (e *Engine) analyze(ctx context.Context, r *run) oracle.Mode {
	resp, err := e.oracle.Propose(ctx, oracle.PromptContext{
		Phase: oracle.PhaseAnalyze,
		Goal:  r.task.Goal,
	})
	if err != nil {
		e.logger.Warn("analysis failed, using hybrid mode", zap.Error(err))
		r.emitter.Emit(EventWarning, map[string]any{"warning": "analysis failed: " + err.Error()})
		return oracle.ModeHybrid
	}
	return resp.Analysis.Mode
}

func (e *Engine) explorePhase(ctx context.Context, r *run) {
	steps := e.cfg.ExplorationSteps
	if r.mode == oracle.ModeExploratory {
		steps *= 2
	}
	explorer := explore.New(e.oracle, e.dispatcher, e.logger, steps, e.cfg.StepTimeout)
	findings, err := explorer.Run(ctx, r.task.Goal, r.mem, r.log)
	if findings != nil {
		r.exploreStats = findings.Stats
	}
	if err != nil {
		// Exploration is best-effort; planning proceeds on whatever was
		// gathered.
		e.logger.Warn("exploration ended early", zap.Error(err))
		r.emitter.Emit(EventWarning, map[string]any{"warning": "exploration ended early: " + err.Error()})
	}
}

// planPhase requests a plan (or replan) and installs it. Empty plans
// are re-requested up to the configured bound.
func (e *Engine) planPhase(ctx context.Context, r *run, phase oracle.Phase, failedStep, failureReason string) error {
	pc := oracle.PromptContext{
		Phase:          phase,
		Goal:           r.task.Goal,
		Mode:           r.mode,
		Observations:   r.log.Render(),
		MemorySnapshot: r.mem.Snapshot(),
		Tools:          e.toolInfos(),
		FailedStep:     failedStep,
		FailureReason:  failureReason,
		DoneSteps:      r.doneSteps,
	}
	if phase == oracle.PhaseReplan && e.history != nil {
		if similar, err := e.history.FindSimilar(ctx, r.task.Goal, 3); err == nil {
			pc.SimilarTasks = similar
		}
	}

	for attempt := 0; ; attempt++ {
		resp, err := e.oracle.Propose(ctx, pc)
		if err != nil {
			return fmt.Errorf("%s: %w", phase, err)
		}
		if len(resp.Plan.Steps) > 0 {
			r.plan = planFromResponse(resp.Plan)
			r.log.Add(fmt.Sprintf("plan with %d steps: %s", len(r.plan.Steps), resp.Plan.Reasoning), obslog.KindInfo)
			return nil
		}
		if attempt >= e.cfg.EmptyPlanRetries {
			return fmt.Errorf("%w after %d attempts", ErrPlanningEmpty, attempt+1)
		}
		r.emitter.Emit(EventWarning, map[string]any{"warning": "empty plan, re-prompting"})
	}
}

func (e *Engine) replan(ctx context.Context, r *run, failed *Step, cause error) error {
	r.replans++
	if r.replans > e.cfg.MaxReplans {
		return fmt.Errorf("%w: %d rounds used: %w", ErrReplanningExhausted, e.cfg.MaxReplans, cause)
	}
	e.setState(r, StateReplanning)

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	if err := e.planPhase(ctx, r, oracle.PhaseReplan, failed.Description, reason); err != nil {
		return err
	}
	r.consecutive = 0
	return nil
}

type stepResult struct {
	status StepStatus
	cause  error
	loop   bool
	reason string
}

// runStep takes one step through risk gating, confirmation, execution,
// loop detection, and verification.
func (e *Engine) runStep(ctx context.Context, r *run, step *Step) stepResult {
	step.setStatus(StepRunning, "")
	r.emitter.Emit(EventStepStart, map[string]any{
		"step": step.ID, "tool": step.Tool, "description": step.Description,
	})
	defer func() {
		r.emitter.Emit(EventStepEnd, map[string]any{
			"step": step.ID, "status": string(step.Status), "detail": step.Detail,
		})
	}()

	score := e.scorer.Score(step.Tool, step.Params)

	if score.Blocked {
		// Non-executable risk skips the step and moves on; the critical
		// observation tells the oracle what was refused.
		detail := "blocked by risk policy: " + score.Reason
		step.setStatus(StepSkipped, detail)
		r.log.Add(fmt.Sprintf("step %d (%s) %s", step.ID, step.Tool, detail), obslog.KindError)
		return stepResult{status: StepSkipped, cause: fmt.Errorf("%w: %s", ErrRiskBlocked, score.Reason)}
	}

	if !e.scorer.IsAutoApproved(score) {
		r.emitter.Emit(EventConfirm, map[string]any{
			"step": step.ID, "tool": step.Tool, "risk": score.Value,
		})
		approved := confirmWithTimeout(ctx, e.confirmer, ConfirmRequest{
			StepDescription: step.Description,
			Tool:            step.Tool,
			Params:          step.Params,
			Risk:            score,
		}, e.cfg.ConfirmTimeout)
		if !approved {
			step.setStatus(StepRejected, "rejected by user")
			r.log.AddRejection(step.Description, "")
			return stepResult{status: StepRejected, cause: fmt.Errorf("%w: step %d", ErrUserRejected, step.ID)}
		}
	}

	r.log.NextIteration()
	result, err := e.dispatcher.Execute(ctx, step.Tool, step.Params, e.cfg.StepTimeout)
	r.mem.Record(step.Tool, step.Params, result.Success)

	if err != nil {
		detail := result.Error
		if detail == "" {
			detail = err.Error()
		}
		step.setStatus(StepFailed, detail)
		r.log.Add(fmt.Sprintf("step %d (%s) failed: %s", step.ID, step.Tool, detail), obslog.KindError)
		return stepResult{status: StepFailed, cause: err}
	}

	if looping, reason := r.mem.DetectLoop(); looping {
		step.setStatus(StepFailed, "loop: "+reason)
		r.log.Add("loop detected: "+reason, obslog.KindError)
		return stepResult{status: StepFailed, loop: true, reason: reason}
	}

	e.setState(r, StateVerifying)
	verifier := NewVerifier(e.dispatcher.Environment())
	ok, why := verifier.Verify(ctx, step.VerifyWith, result)
	if !ok {
		step.setStatus(StepFailed, "verification failed: "+why)
		r.log.Add(fmt.Sprintf("step %d verification failed: %s", step.ID, why), obslog.KindError)
		return stepResult{status: StepFailed, cause: errors.New(why)}
	}

	step.setStatus(StepSucceeded, "")
	r.log.Add(fmt.Sprintf("step %d (%s) succeeded: %s", step.ID, step.Tool, result.Output), obslog.KindSuccess)
	r.emitter.Emit(EventObservation, map[string]any{"step": step.ID, "output": result.Output})
	return stepResult{status: StepSucceeded}
}

func (e *Engine) setState(r *run, state State) {
	r.emitter.Emit(EventStateChange, map[string]any{"state": string(state)})
}

func (r *run) nextPending() *Step {
	if r.plan == nil {
		return nil
	}
	for _, step := range r.plan.Steps {
		if !step.Status.terminal() {
			return step
		}
	}
	return nil
}

// finish decides the task's fate once no pending steps remain. It
// returns done=false when failed steps are worth another replanning
// round. Rejected steps never reach here: a rejection replans inline,
// replacing the plan, or aborts on the spot.
func (e *Engine) finish(r *run) (bool, *Result) {
	firstFailure := r.firstFailed()
	if firstFailure == nil {
		e.setState(r, StateSucceeded)
		return true, e.result(r, OutcomeSucceeded, nil)
	}
	if r.replans < e.cfg.MaxReplans {
		return false, nil
	}
	return true, e.abort(r, fmt.Errorf("%w: step %q failed: %s",
		ErrReplanningExhausted, firstFailure.Description, firstFailure.Detail))
}

func (r *run) firstFailed() *Step {
	for _, step := range r.plan.Steps {
		if step.Status == StepFailed {
			return step
		}
	}
	return nil
}

func (e *Engine) abort(r *run, err error) *Result {
	e.setState(r, StateAborted)
	e.logger.Info("task aborted", zap.String("task", r.task.ID), zap.Error(err))
	return e.result(r, OutcomeAborted, err)
}

func (e *Engine) result(r *run, outcome Outcome, err error) *Result {
	result := &Result{
		TaskID:  r.task.ID,
		Outcome: outcome,
		Mode:    r.mode,
		Stats:   r.mem.Stats(),
		Err:     err,
	}
	result.Stats["replans"] = r.replans
	result.Stats["exploration_steps"] = r.exploreStats.Steps
	result.Stats["exploration_loops_avoided"] = r.exploreStats.LoopsAvoided
	if r.plan != nil {
		for _, step := range r.plan.Steps {
			result.Steps = append(result.Steps, StepReport{
				ID:          step.ID,
				Description: step.Description,
				Tool:        step.Tool,
				Status:      step.Status,
				Detail:      step.Detail,
			})
		}
	}
	return result
}

func (e *Engine) toolInfos() []oracle.ToolInfo {
	defs := e.dispatcher.Registry().Definitions()
	infos := make([]oracle.ToolInfo, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, oracle.ToolInfo{
			Name:        def.Name,
			Description: def.Description,
			ReadOnly:    def.ReadOnly,
		})
	}
	return infos
}
