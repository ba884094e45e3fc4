package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sentinel errors for dispatch failures. Callers match with errors.Is.
var (
	// ErrUnknownTool means the requested tool is not registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrToolTimeout means the per-call deadline expired. Timed-out
	// calls are never retried: the side effect may have happened.
	ErrToolTimeout = errors.New("tool timed out")
)

// ExecutionError wraps a failure reported by the tool itself.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Result is the normalized outcome of one tool call.
type Result struct {
	Success  bool           `json:"success"`
	Output   string         `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Dispatcher executes tool calls: registry lookup, per-call timeout,
// output truncation, normalized results.
type Dispatcher struct {
	registry *Registry
	env      Environment
	logger   *zap.Logger

	defaultTimeout time.Duration
	charLimits     map[string]int
	lineLimits     map[string]int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCharLimits overrides per-tool character budgets for output
// truncation. Tools not listed keep the defaults.
func WithCharLimits(limits map[string]int) DispatcherOption {
	return func(d *Dispatcher) { d.charLimits = limits }
}

// WithLineLimits overrides per-tool line budgets for output truncation.
func WithLineLimits(limits map[string]int) DispatcherOption {
	return func(d *Dispatcher) { d.lineLimits = limits }
}

// NewDispatcher creates a Dispatcher over a registry and environment.
func NewDispatcher(registry *Registry, env Environment, logger *zap.Logger, defaultTimeout time.Duration, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	d := &Dispatcher{
		registry:       registry,
		env:            env,
		logger:         logger,
		defaultTimeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the dispatcher's registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Environment returns the dispatcher's execution environment.
func (d *Dispatcher) Environment() Environment { return d.env }

// Execute runs one tool call. A zero timeout uses the dispatcher
// default. The returned Result always carries either Output or Error;
// the error return distinguishes dispatch failures (unknown tool,
// timeout) from tool-level failures, which land in Result.Error.
func (d *Dispatcher) Execute(ctx context.Context, name string, params map[string]any, timeout time.Duration) (Result, error) {
	tool := d.registry.Lookup(name)
	if tool == nil {
		return Result{Success: false, Error: fmt.Sprintf("unknown tool %q", name)},
			fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	output, err := tool.Executor(callCtx, params, d.env)
	elapsed := time.Since(start)

	d.logger.Debug("tool call finished",
		zap.String("tool", name),
		zap.Duration("elapsed", elapsed),
		zap.Bool("success", err == nil))

	if callCtx.Err() == context.DeadlineExceeded {
		return Result{
				Success:  false,
				Error:    fmt.Sprintf("tool %s exceeded %s timeout", name, timeout),
				Metadata: map[string]any{"elapsed_ms": elapsed.Milliseconds(), "timed_out": true},
			},
			fmt.Errorf("%w: %s after %s", ErrToolTimeout, name, timeout)
	}

	if err != nil {
		return Result{
			Success:  false,
			Error:    err.Error(),
			Metadata: map[string]any{"elapsed_ms": elapsed.Milliseconds()},
		}, &ExecutionError{Tool: name, Err: err}
	}

	return Result{
		Success:  true,
		Output:   TruncateToolOutput(output, name, d.charLimits, d.lineLimits),
		Metadata: map[string]any{"elapsed_ms": elapsed.Milliseconds()},
	}, nil
}
