package oracle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilomillet/gollm"
)

func TestExtractJSONFencedBlock(t *testing.T) {
	text := "Here is the plan:\n```json\n{\"steps\": []}\n```\nDone."
	doc, ok := extractJSON(text)
	require.True(t, ok)
	assert.JSONEq(t, `{"steps": []}`, doc)
}

func TestExtractJSONUntaggedFence(t *testing.T) {
	text := "```\n{\"done\": true}\n```"
	doc, ok := extractJSON(text)
	require.True(t, ok)
	assert.JSONEq(t, `{"done": true}`, doc)
}

func TestExtractJSONBareObject(t *testing.T) {
	text := `Sure. {"mode": "fast", "note": "a {brace} in a string"} trailing prose`
	doc, ok := extractJSON(text)
	require.True(t, ok)
	assert.JSONEq(t, `{"mode": "fast", "note": "a {brace} in a string"}`, doc)
}

func TestExtractJSONNone(t *testing.T) {
	_, ok := extractJSON("no structured content here")
	assert.False(t, ok)
}

func TestParsePlanResponse(t *testing.T) {
	raw := "```json\n" + `{
		"steps": [
			{"id": 1, "description": "create file", "tool": "write_file",
			 "params": {"path": "a.txt", "content": "hi"},
			 "verify_with": "file_exists:a.txt", "estimated_risk": 50}
		],
		"reasoning": "single step suffices"
	}` + "\n```"

	resp, err := parseResponse(PhasePlan, raw)
	require.NoError(t, err)
	require.NotNil(t, resp.Plan)
	require.Len(t, resp.Plan.Steps, 1)
	step := resp.Plan.Steps[0]
	assert.Equal(t, "write_file", step.Tool)
	assert.Equal(t, "file_exists:a.txt", step.VerifyWith)
	assert.Equal(t, "a.txt", step.Params["path"])
}

func TestParsePlanBareArray(t *testing.T) {
	raw := `[{"id": 1, "description": "list", "tool": "list_files", "params": {}}]`
	resp, err := parseResponse(PhasePlan, raw)
	require.NoError(t, err)
	require.Len(t, resp.Plan.Steps, 1)
	assert.Equal(t, "list_files", resp.Plan.Steps[0].Tool)
}

func TestParseMalformedIsRetryable(t *testing.T) {
	_, err := parseResponse(PhasePlan, "I cannot produce a plan right now.")
	var malformedErr *MalformedResponseError
	require.ErrorAs(t, err, &malformedErr)
	assert.True(t, IsRetryable(err))
}

func TestParsePlanStepWithoutToolIsMalformed(t *testing.T) {
	raw := `{"steps": [{"id": 1, "description": "do something"}]}`
	_, err := parseResponse(PhasePlan, raw)
	var malformedErr *MalformedResponseError
	assert.ErrorAs(t, err, &malformedErr)
}

func TestParseAnalysisDefaultsToHybrid(t *testing.T) {
	resp, err := parseResponse(PhaseAnalyze, `{"complexity": "low", "uncertainty": "low", "mode": "turbo"}`)
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, resp.Analysis.Mode)
}

func TestParseExploration(t *testing.T) {
	resp, err := parseResponse(PhaseExplore, `{"done": false, "tool": "file_tree", "params": {"depth": 2}}`)
	require.NoError(t, err)
	assert.False(t, resp.Exploration.Done)
	assert.Equal(t, "file_tree", resp.Exploration.Tool)

	resp, err = parseResponse(PhaseExplore, `{"done": true, "reasoning": "enough context"}`)
	require.NoError(t, err)
	assert.True(t, resp.Exploration.Done)
}

func TestIsRetryableClassification(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(&AuthenticationError{}))
	assert.False(t, IsRetryable(&ContextLengthError{}))
	assert.True(t, IsRetryable(&RateLimitError{}))
	assert.True(t, IsRetryable(&ServerError{}))
	assert.True(t, IsRetryable(&TimeoutError{}))
	assert.True(t, IsRetryable(&MalformedResponseError{}))
	assert.False(t, IsRetryable(errors.New("plain error")))
}

func TestClassifyProviderError(t *testing.T) {
	err := classifyProviderError("openai", errors.New("429 rate limit exceeded"))
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.True(t, IsRetryable(err))

	err = classifyProviderError("openai", errors.New("401 unauthorized"))
	var auth *AuthenticationError
	require.ErrorAs(t, err, &auth)
	assert.False(t, IsRetryable(err))

	err = classifyProviderError("anthropic", errors.New("request timeout while waiting"))
	var timeout *TimeoutError
	assert.ErrorAs(t, err, &timeout)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{MaxRetries: 3, BaseDelay: 0.001, BackoffMultiplier: 1, MaxDelay: 0.01},
		func(ctx context.Context) (int, error) {
			calls++
			return 0, &AuthenticationError{ProviderError: ProviderError{OracleError: OracleError{Message: "bad key"}}}
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), RetryPolicy{MaxRetries: 3, BaseDelay: 0.001, BackoffMultiplier: 1, MaxDelay: 0.01},
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", &ServerError{ProviderError: ProviderError{OracleError: OracleError{Message: "overloaded"}, Retryable: true}}
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestClientRetriesMalformedResponse(t *testing.T) {
	calls := 0
	client := newClientWithGenerator("test", func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
		calls++
		if calls == 1 {
			return "sorry, here is prose instead of JSON", nil
		}
		return `{"steps": [{"id": 1, "description": "list", "tool": "list_files", "params": {}}]}`, nil
	}, WithRetryPolicy(RetryPolicy{MaxRetries: 2, BaseDelay: 0.001, BackoffMultiplier: 1, MaxDelay: 0.01}))

	resp, err := client.Propose(context.Background(), PromptContext{Phase: PhasePlan, Goal: "list files"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, resp.Plan.Steps, 1)
}

func TestClientTimesOutStalledProvider(t *testing.T) {
	stalled := func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	client := newClientWithGenerator("test", stalled,
		WithTimeout(30*time.Millisecond),
		WithRetryPolicy(RetryPolicy{MaxRetries: 0}))

	start := time.Now()
	_, err := client.Propose(context.Background(), PromptContext{Phase: PhasePlan, Goal: "goal"})

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.True(t, IsRetryable(err))
	assert.Less(t, time.Since(start), time.Second, "the deadline frees a hung call")
}

func TestClientCancellationIsNotATimeout(t *testing.T) {
	stalled := func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	client := newClientWithGenerator("test", stalled,
		WithTimeout(time.Minute),
		WithRetryPolicy(RetryPolicy{MaxRetries: 0}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := client.Propose(ctx, PromptContext{Phase: PhasePlan, Goal: "goal"})

	require.Error(t, err)
	var timeout *TimeoutError
	assert.False(t, errors.As(err, &timeout), "caller cancellation must not masquerade as a provider timeout")
}

func TestClientSurfacesTypedErrorAfterRetries(t *testing.T) {
	client := newClientWithGenerator("test", func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
		return "", fmt.Errorf("500 internal server error")
	}, WithRetryPolicy(RetryPolicy{MaxRetries: 1, BaseDelay: 0.001, BackoffMultiplier: 1, MaxDelay: 0.01}))

	_, err := client.Propose(context.Background(), PromptContext{Phase: PhasePlan, Goal: "x"})
	var server *ServerError
	assert.ErrorAs(t, err, &server)
}

func TestScriptedOracle(t *testing.T) {
	s := NewScripted().
		Enqueue(&Response{Analysis: &Analysis{Mode: ModeFast}}).
		EnqueueError(&ServerError{})

	resp, err := s.Propose(context.Background(), PromptContext{Phase: PhaseAnalyze, Goal: "g"})
	require.NoError(t, err)
	assert.Equal(t, ModeFast, resp.Analysis.Mode)

	_, err = s.Propose(context.Background(), PromptContext{Phase: PhasePlan})
	assert.Error(t, err)

	_, err = s.Propose(context.Background(), PromptContext{Phase: PhasePlan})
	assert.ErrorContains(t, err, "exhausted")

	assert.Len(t, s.Calls(), 3)
}
