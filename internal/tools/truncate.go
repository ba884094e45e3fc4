package tools

import (
	"fmt"
	"regexp"
	"strings"
)

// TruncationMode specifies which part of oversized output survives.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// Per-tool character budgets for output included in observations.
var DefaultToolCharLimits = map[string]int{
	"read_file":       50000,
	"execute_command": 30000,
	"search_files":    20000,
	"grep":            20000,
	"file_tree":       20000,
	"list_files":      20000,
	"edit_file":       10000,
	"write_file":      1000,
}

var defaultTruncationModes = map[string]TruncationMode{
	"read_file":       TruncateHeadTail,
	"execute_command": TruncateHeadTail,
	"search_files":    TruncateTail,
	"grep":            TruncateTail,
	"file_tree":       TruncateTail,
	"list_files":      TruncateTail,
	"edit_file":       TruncateTail,
	"write_file":      TruncateTail,
}

// Line limits applied after character truncation.
var DefaultToolLineLimits = map[string]int{
	"execute_command": 256,
	"search_files":    200,
	"grep":            200,
	"file_tree":       500,
	"list_files":      500,
}

// TruncateOutput applies character-based truncation.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars

	if mode == TruncateTail {
		return fmt.Sprintf("[output truncated: first %d characters removed]\n\n", removed) +
			output[len(output)-maxChars:]
	}

	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n\n[output truncated: %d characters removed from the middle; re-run with narrower parameters for specific parts]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateLines applies line-based truncation with a head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}
	head := maxLines / 2
	tail := maxLines - head
	omitted := len(lines) - head - tail
	return strings.Join(lines[:head], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tail:], "\n")
}

// TruncateToolOutput applies the per-tool truncation pipeline: character
// budget first (bounds pathological output), then line budget for
// readability.
func TruncateToolOutput(output, toolName string, charLimits, lineLimits map[string]int) string {
	maxChars, ok := charLimits[toolName]
	if !ok {
		maxChars, ok = DefaultToolCharLimits[toolName]
		if !ok {
			maxChars = 30000
		}
	}
	mode, ok := defaultTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}
	result := TruncateOutput(output, maxChars, mode)

	maxLines := 0
	if lineLimits != nil {
		maxLines = lineLimits[toolName]
	}
	if maxLines == 0 {
		maxLines = DefaultToolLineLimits[toolName]
	}
	if maxLines > 0 {
		result = TruncateLines(result, maxLines)
	}
	return result
}

var omittedBanner = regexp.MustCompile(`\[\.\.\. \d+ lines omitted \.\.\.\]`)

// LooksTruncated reports whether tool output appears to have been cut
// off, either by this package's truncation or upstream. Used to decide
// whether re-running with narrower parameters could reveal more.
func LooksTruncated(output string) bool {
	if strings.Contains(strings.ToLower(output), "truncated") {
		return true
	}
	if omittedBanner.MatchString(output) {
		return true
	}
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "..." {
			return true
		}
	}
	return false
}
