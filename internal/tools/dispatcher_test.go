package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	registry := NewRegistry()
	RegisterCoreTools(registry)
	env := NewLocalEnvironment(t.TempDir())
	return NewDispatcher(registry, env, nil, 5*time.Second)
}

func TestExecuteUnknownTool(t *testing.T) {
	d := newTestDispatcher(t)

	result, err := d.Execute(context.Background(), "teleport", nil, 0)
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "teleport")
}

func TestExecuteWriteThenRead(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	result, err := d.Execute(ctx, "write_file", map[string]any{
		"path":    "notes/hello.txt",
		"content": "first line\nsecond line",
	}, 0)
	require.NoError(t, err)
	assert.True(t, result.Success)

	result, err = d.Execute(ctx, "read_file", map[string]any{"path": "notes/hello.txt"}, 0)
	require.NoError(t, err)
	assert.Contains(t, result.Output, "1 | first line")
	assert.Contains(t, result.Output, "2 | second line")
}

func TestExecuteTimeoutIsNotRetried(t *testing.T) {
	d := newTestDispatcher(t)
	d.registry.Register(Tool{
		Definition: Definition{Name: "slow"},
		Executor: func(ctx context.Context, params map[string]any, env Environment) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(2 * time.Second):
				return "done", nil
			}
		},
	})

	start := time.Now()
	result, err := d.Execute(context.Background(), "slow", nil, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrToolTimeout)
	assert.False(t, result.Success)
	assert.Less(t, time.Since(start), time.Second, "a single attempt, no retry")
	assert.Equal(t, true, result.Metadata["timed_out"])
}

func TestExecuteToolFailure(t *testing.T) {
	d := newTestDispatcher(t)

	result, err := d.Execute(context.Background(), "read_file", map[string]any{"path": "missing.txt"}, 0)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "read_file", execErr.Tool)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestExecuteEditFileRequiresUniqueMatch(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	_, err := d.Execute(ctx, "write_file", map[string]any{
		"path":    "dup.txt",
		"content": "x\nx\n",
	}, 0)
	require.NoError(t, err)

	_, err = d.Execute(ctx, "edit_file", map[string]any{
		"path":     "dup.txt",
		"old_text": "x",
		"new_text": "y",
	}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unique")
}

func TestExecuteCommandCapturesExitCode(t *testing.T) {
	d := newTestDispatcher(t)

	result, err := d.Execute(context.Background(), "execute_command", map[string]any{
		"command": "echo out; echo err >&2; exit 3",
	}, 0)
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "exit code 3")
}

func TestExecuteCommandSuccess(t *testing.T) {
	d := newTestDispatcher(t)

	result, err := d.Execute(context.Background(), "execute_command", map[string]any{
		"command": "echo hello",
	}, 0)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Output, "hello")
}

func TestReadOnlyNames(t *testing.T) {
	registry := NewRegistry()
	RegisterCoreTools(registry)

	readOnly := registry.ReadOnlyNames()
	assert.Contains(t, readOnly, "read_file")
	assert.Contains(t, readOnly, "search_files")
	assert.Contains(t, readOnly, "git_status")
	assert.NotContains(t, readOnly, "write_file")
	assert.NotContains(t, readOnly, "execute_command")
	assert.NotContains(t, readOnly, "git_push")
}

func TestListFilesAndTree(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := d.Execute(ctx, "write_file", map[string]any{
			"path":    fmt.Sprintf("pkg/sub/file%d.go", i),
			"content": "package sub",
		}, 0)
		require.NoError(t, err)
	}

	result, err := d.Execute(ctx, "list_files", map[string]any{"path": "pkg/sub"}, 0)
	require.NoError(t, err)
	assert.Contains(t, result.Output, "file0.go")

	result, err = d.Execute(ctx, "file_tree", map[string]any{"depth": 3}, 0)
	require.NoError(t, err)
	assert.Contains(t, result.Output, "pkg/")
	assert.Contains(t, result.Output, "file2.go")
}

func TestDispatcherLimitOverrides(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Tool{
		Definition: Definition{Name: "chatty"},
		Executor: func(ctx context.Context, params map[string]any, env Environment) (string, error) {
			var sb strings.Builder
			for i := 0; i < 100; i++ {
				fmt.Fprintf(&sb, "line %d\n", i)
			}
			return sb.String(), nil
		},
	})
	env := NewLocalEnvironment(t.TempDir())
	d := NewDispatcher(registry, env, nil, time.Second,
		WithCharLimits(map[string]int{"chatty": 200}),
		WithLineLimits(map[string]int{"chatty": 10}),
	)

	result, err := d.Execute(context.Background(), "chatty", nil, 0)
	require.NoError(t, err)
	assert.Contains(t, result.Output, "truncated")
	assert.True(t, LooksTruncated(result.Output))
	assert.LessOrEqual(t, len(strings.Split(result.Output, "\n")), 12)
}

func TestParamHelpers(t *testing.T) {
	params := map[string]any{
		"s": "text",
		"f": float64(7), // JSON numbers decode as float64
		"b": true,
	}

	s, ok := StringParam(params, "s")
	assert.True(t, ok)
	assert.Equal(t, "text", s)

	n, ok := IntParam(params, "f")
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	b, ok := BoolParam(params, "b")
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = StringParam(params, "missing")
	assert.False(t, ok)

	require.NotPanics(t, func() { _, _ = IntParam(params, "s") })
}
