package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teilomillet/gollm"
	"go.uber.org/zap"
)

type generateFunc func(ctx context.Context, prompt *gollm.Prompt) (string, error)

// defaultCallTimeout bounds one model call. A stalled provider must
// surface as a TimeoutError, never hang the task.
const defaultCallTimeout = 60 * time.Second

// Client is the production Oracle: prompt assembly, a gollm-backed
// model call with retry, and schema validation of the answer.
type Client struct {
	provider string
	model    string
	generate generateFunc
	policy   RetryPolicy
	timeout  time.Duration
	logger   *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) ClientOption {
	return func(c *Client) { c.policy = policy }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithTimeout sets the per-call deadline for one model request. Zero or
// negative keeps the default.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewClient builds a Client for the given provider and model. An empty
// apiKey falls through to the provider's environment variable.
func NewClient(provider, model, apiKey string, opts ...ClientOption) (*Client, error) {
	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(4096),
		gollm.SetTemperature(0.2),
		gollm.SetMaxRetries(0), // retry handled here, with error classification
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(apiKey))
	}

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("create llm for provider %s: %w", provider, err)
	}

	c := &Client{
		provider: provider,
		model:    model,
		generate: func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
			return llm.Generate(ctx, prompt)
		},
		policy:  DefaultRetryPolicy(),
		timeout: defaultCallTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// newClientWithGenerator is the test seam: a Client whose model call is
// an arbitrary function.
func newClientWithGenerator(provider string, generate generateFunc, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		generate: generate,
		policy:   DefaultRetryPolicy(),
		timeout:  defaultCallTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Propose sends one phase-specific request. Malformed answers and
// transient provider failures are retried per the policy; the final
// error keeps its type so callers can classify it.
func (c *Client) Propose(ctx context.Context, pc PromptContext) (*Response, error) {
	prompt := buildPrompt(pc)

	return Retry(ctx, c.policy, func(ctx context.Context) (*Response, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		raw, err := c.generate(callCtx, prompt)
		if err != nil {
			if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				timedOut := &TimeoutError{OracleError: OracleError{
					Message: fmt.Sprintf("oracle call exceeded %s", c.timeout),
					Cause:   err,
				}}
				c.logger.Warn("oracle call timed out",
					zap.String("phase", string(pc.Phase)),
					zap.Duration("timeout", c.timeout))
				return nil, timedOut
			}
			classified := classifyProviderError(c.provider, err)
			c.logger.Warn("oracle call failed",
				zap.String("phase", string(pc.Phase)),
				zap.Error(classified))
			return nil, classified
		}
		resp, err := parseResponse(pc.Phase, raw)
		if err != nil {
			c.logger.Warn("oracle response rejected",
				zap.String("phase", string(pc.Phase)),
				zap.Error(err))
			return nil, err
		}
		return resp, nil
	})
}

const systemPrompt = `You are the planning component of a terminal task agent.
You answer only with JSON in a fenced code block. You never include
commentary outside the code block.`

// buildPrompt renders the phase-specific request text.
func buildPrompt(pc PromptContext) *gollm.Prompt {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n", pc.Goal)
	if pc.Mode != "" {
		fmt.Fprintf(&sb, "Mode: %s\n", pc.Mode)
	}

	if len(pc.Tools) > 0 {
		sb.WriteString("\nAvailable tools:\n")
		for _, tool := range pc.Tools {
			marker := ""
			if tool.ReadOnly {
				marker = " (read-only)"
			}
			fmt.Fprintf(&sb, "- %s%s: %s\n", tool.Name, marker, tool.Description)
		}
	}

	if pc.Observations != "" {
		sb.WriteString("\nObservations so far:\n" + pc.Observations + "\n")
	}
	if pc.MemorySnapshot != "" {
		sb.WriteString("\nWork done so far:\n" + pc.MemorySnapshot + "\n")
	}

	switch pc.Phase {
	case PhaseAnalyze:
		sb.WriteString(`
Classify this task. Respond with JSON:
{"complexity": "low|medium|high", "uncertainty": "low|medium|high", "mode": "fast|hybrid|exploratory"}
Use "fast" when the goal needs no investigation, "exploratory" when the
workspace must be understood first, otherwise "hybrid".`)

	case PhaseExplore:
		sb.WriteString(`
Pick ONE read-only tool call that most reduces uncertainty about this
goal, or declare exploration finished. Respond with JSON:
{"done": false, "tool": "...", "params": {...}, "reasoning": "..."}
or {"done": true, "reasoning": "..."}`)

	case PhasePlan:
		sb.WriteString(`
Produce a step-by-step plan. Respond with JSON:
{"steps": [{"id": 1, "description": "...", "tool": "...", "params": {...},
"verify_with": "exit_zero|file_exists:<path>|contains:<text>|none",
"estimated_risk": 0-100}], "reasoning": "..."}
Steps run in order. Keep the plan minimal.`)

	case PhaseReplan:
		if pc.FailedStep != "" {
			fmt.Fprintf(&sb, "\nFailed step: %s\nFailure: %s\n", pc.FailedStep, pc.FailureReason)
		}
		if len(pc.DoneSteps) > 0 {
			sb.WriteString("Steps already completed (do not repeat):\n")
			for _, done := range pc.DoneSteps {
				sb.WriteString("- " + done + "\n")
			}
		}
		if len(pc.SimilarTasks) > 0 {
			sb.WriteString("Similar past tasks:\n")
			for _, st := range pc.SimilarTasks {
				fmt.Fprintf(&sb, "- [%s] %s\n", st.Outcome, st.Goal)
			}
		}
		sb.WriteString(`
Produce a revised plan for the REMAINING work only, avoiding the failed
approach. Respond with the same JSON schema as planning:
{"steps": [...], "reasoning": "..."}`)
	}

	return gollm.NewPrompt(sb.String(),
		gollm.WithSystemPrompt(systemPrompt, gollm.CacheTypeEphemeral))
}
