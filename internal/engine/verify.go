package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/steward/internal/tools"
)

// Verifier checks a step's verify_with predicate against the tool
// result and the filesystem.
type Verifier struct {
	env tools.Environment
}

// NewVerifier creates a Verifier over an environment.
func NewVerifier(env tools.Environment) *Verifier {
	return &Verifier{env: env}
}

// Verify evaluates one predicate. Supported forms:
//
//	none / ""          step passes if the tool reported success
//	exit_zero          same as none (commands already fail on nonzero exit)
//	file_exists:<path> the path exists afterwards
//	contains:<text>    the tool output contains the text
//
// Unknown predicates fail verification rather than passing silently.
func (v *Verifier) Verify(ctx context.Context, predicate string, result tools.Result) (bool, string) {
	predicate = strings.TrimSpace(predicate)

	switch {
	case predicate == "" || predicate == "none" || predicate == "exit_zero":
		if result.Success {
			return true, ""
		}
		return false, "tool reported failure: " + result.Error

	case strings.HasPrefix(predicate, "file_exists:"):
		path := strings.TrimPrefix(predicate, "file_exists:")
		if path == "" {
			return false, "file_exists predicate names no path"
		}
		if v.env.FileExists(path) {
			return true, ""
		}
		return false, fmt.Sprintf("expected file %s does not exist", path)

	case strings.HasPrefix(predicate, "contains:"):
		want := strings.TrimPrefix(predicate, "contains:")
		if strings.Contains(result.Output, want) {
			return true, ""
		}
		return false, fmt.Sprintf("output does not contain %q", want)

	default:
		return false, fmt.Sprintf("unknown verification predicate %q", predicate)
	}
}
