// Package memory tracks what a single task execution has already done.
//
// WorkingMemory is a per-task ledger of tool calls, file reads, and
// executed commands. The executor consults it after every tool call to
// detect looping behavior: an agent re-reading the same file, re-running
// the same command, or hammering one tool. Each task owns exactly one
// WorkingMemory; it is mutated only from that task's executor goroutine
// and discarded when the task terminates.
package memory

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Tools invoked once per distinct target. A raw usage count on these is
// not evidence of looping (ten write_file calls may be ten files), so
// rule 2 skips them; rules 1, 3, and 4 still catch genuine repeats.
var countExemptTools = map[string]bool{
	"execute_command": true,
	"write_file":      true,
	"edit_file":       true,
	"search_files":    true,
	"grep":            true,
	"read_file":       true,
	"list_files":      true,
	"git_add":         true,
	"git_commit":      true,
}

// CommandRecord is one executed shell command.
type CommandRecord struct {
	Command string    `json:"command"`
	Time    time.Time `json:"time"`
	Success bool      `json:"success"`
}

// WorkingMemory is the mutable operation history for one task.
type WorkingMemory struct {
	toolCounts   map[string]int
	filesRead    []string
	filesWritten []string
	commands     []CommandRecord
	knownFacts   []string
	loopCount    int
}

// New creates an empty WorkingMemory.
func New() *WorkingMemory {
	return &WorkingMemory{
		toolCounts: make(map[string]int),
	}
}

// Record notes one completed tool call. File-read, file-write, and
// command histories are derived from well-known tool names; everything
// contributes to the per-tool usage count.
func (m *WorkingMemory) Record(toolName string, params map[string]any, success bool) {
	m.toolCounts[toolName]++

	switch toolName {
	case "read_file":
		if path, _ := params["path"].(string); path != "" {
			m.filesRead = append(m.filesRead, path)
		}
	case "write_file", "edit_file":
		if path, _ := params["path"].(string); path != "" {
			m.filesWritten = append(m.filesWritten, path)
		}
	case "execute_command":
		if command, _ := params["command"].(string); command != "" {
			m.commands = append(m.commands, CommandRecord{
				Command: command,
				Time:    time.Now(),
				Success: success,
			})
		}
	}
}

// AddFact records a free-form fact learned during execution, surfaced
// to the oracle when replanning.
func (m *WorkingMemory) AddFact(fact string) {
	m.knownFacts = append(m.knownFacts, fact)
}

// FilesWritten returns the ordered list of files created or modified.
func (m *WorkingMemory) FilesWritten() []string {
	out := make([]string, len(m.filesWritten))
	copy(out, m.filesWritten)
	return out
}

// Commands returns the ordered command history.
func (m *WorkingMemory) Commands() []CommandRecord {
	out := make([]CommandRecord, len(m.commands))
	copy(out, m.commands)
	return out
}

// LoopCount returns how many times a loop verdict has been recorded.
func (m *WorkingMemory) LoopCount() int { return m.loopCount }

// NoteLoop increments the loop counter after the caller has acted on a
// positive DetectLoop verdict.
func (m *WorkingMemory) NoteLoop() { m.loopCount++ }

const (
	maxFileReads       = 3  // rule 1: reads of one path beyond this is a loop
	maxToolUses        = 10 // rule 2: non-exempt tool uses beyond this is a loop
	oscillationWindow  = 5  // rule 3: window of recent reads examined
	oscillationFiles   = 2  // rule 3: distinct files at or under this
	oscillationRepeats = 3  // rule 3: most-repeated file at or over this
	identicalStrict    = 3  // rule 4: identical commands in a row (strict)
	identicalLenient   = 5  // rule 4: identical commands in a row (lenient)
)

// DetectLoop evaluates the loop rules in order; the first match wins.
// It reads but never mutates the memory, so repeated calls on an
// unchanged WorkingMemory return the same verdict.
//
// The rules key on equality of the exact action (same path, same
// verbatim command), not raw frequency: frequency alone false-positives
// on legitimately repetitive multi-target work.
func (m *WorkingMemory) DetectLoop() (bool, string) {
	return m.detectLoop(identicalStrict)
}

// DetectLoopLenient applies the relaxed identical-command tolerance
// (five in a row instead of three), used during exploration where some
// repetition is expected.
func (m *WorkingMemory) DetectLoopLenient() (bool, string) {
	return m.detectLoop(identicalLenient)
}

func (m *WorkingMemory) detectLoop(identicalRuns int) (bool, string) {
	// Rule 1: one file read too many times.
	readCounts := make(map[string]int)
	for _, path := range m.filesRead {
		readCounts[path]++
	}
	for _, path := range sortedKeys(readCounts) {
		if count := readCounts[path]; count > maxFileReads {
			return true, fmt.Sprintf("file %q read %d times", path, count)
		}
	}

	// Rule 2: a non-exempt tool hammered.
	for _, tool := range sortedKeys(m.toolCounts) {
		if countExemptTools[tool] {
			continue
		}
		if count := m.toolCounts[tool]; count > maxToolUses {
			return true, fmt.Sprintf("tool %q used %d times", tool, count)
		}
	}

	// Rule 3: oscillating between the same few files.
	if len(m.filesRead) >= oscillationWindow {
		window := m.filesRead[len(m.filesRead)-oscillationWindow:]
		distinct := make(map[string]int)
		for _, path := range window {
			distinct[path]++
		}
		if len(distinct) <= oscillationFiles {
			top := 0
			for _, count := range distinct {
				if count > top {
					top = count
				}
			}
			if top >= oscillationRepeats {
				return true, fmt.Sprintf("oscillating between same files: %s", strings.Join(sortedKeys(distinct), ", "))
			}
		}
	}

	// Rule 4: the same command repeated verbatim.
	if len(m.commands) >= identicalRuns {
		tail := m.commands[len(m.commands)-identicalRuns:]
		same := true
		for _, record := range tail[1:] {
			if record.Command != tail[0].Command {
				same = false
				break
			}
		}
		if same {
			return true, fmt.Sprintf("identical command repeated %d times: %q", identicalRuns, tail[0].Command)
		}
	}

	return false, ""
}

// Snapshot renders the memory as prompt text for the oracle: counts,
// recent files, recent commands. Used when replanning so the oracle
// sees what has already been done.
func (m *WorkingMemory) Snapshot() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Files read (%d):", len(m.filesRead)))
	writeRecent(&sb, m.filesRead, 10)

	sb.WriteString(fmt.Sprintf("\nFiles written (%d):", len(m.filesWritten)))
	writeRecent(&sb, m.filesWritten, 10)

	sb.WriteString(fmt.Sprintf("\nCommands executed (%d):", len(m.commands)))
	if len(m.commands) == 0 {
		sb.WriteString(" none")
	}
	start := len(m.commands) - 5
	if start < 0 {
		start = 0
	}
	for _, record := range m.commands[start:] {
		status := "ok"
		if !record.Success {
			status = "failed"
		}
		sb.WriteString(fmt.Sprintf("\n  [%s] %s", status, truncateString(record.Command, 60)))
	}

	if len(m.knownFacts) > 0 {
		sb.WriteString("\nKnown facts:")
		start := len(m.knownFacts) - 5
		if start < 0 {
			start = 0
		}
		for _, fact := range m.knownFacts[start:] {
			sb.WriteString("\n  - " + fact)
		}
	}

	if len(m.toolCounts) > 0 {
		sb.WriteString("\nTool usage:")
		for _, tool := range sortedKeys(m.toolCounts) {
			sb.WriteString(fmt.Sprintf(" %s=%d", tool, m.toolCounts[tool]))
		}
	}

	return sb.String()
}

// Stats returns summary counters for the task's final report.
func (m *WorkingMemory) Stats() map[string]int {
	unique := make(map[string]bool)
	for _, path := range m.filesRead {
		unique[path] = true
	}
	return map[string]int{
		"files_read":        len(m.filesRead),
		"unique_files_read": len(unique),
		"files_written":     len(m.filesWritten),
		"commands_run":      len(m.commands),
		"loops_detected":    m.loopCount,
	}
}

func writeRecent(sb *strings.Builder, items []string, max int) {
	if len(items) == 0 {
		sb.WriteString(" none")
		return
	}
	start := len(items) - max
	if start < 0 {
		start = 0
	}
	sb.WriteString(" " + strings.Join(items[start:], ", "))
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Signature computes a deterministic identity for a tool call: the tool
// name plus a hash of its canonically-serialized parameters. Two calls
// with the same tool and semantically equal parameters produce the same
// signature regardless of map iteration order. Used only for equality
// comparison in loop avoidance, never stored long-term.
func Signature(toolName string, params map[string]any) string {
	canonical := canonicalize(params)
	h := sha256.Sum256([]byte(canonical))
	return fmt.Sprintf("%s:%x", toolName, h[:8])
}

// canonicalize renders parameters with sorted keys so serialization is
// stable. encoding/json already sorts map keys, which covers nesting.
func canonicalize(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(data)
}
