// Package risk assigns a 0-100 danger score to a proposed tool call.
//
// Scoring is a pure function of the tool name and its parameters, so the
// same call always produces the same score within a run. The score gates
// how the engine treats the step: auto-approve, ask the user, or refuse
// to execute entirely.
package risk

import (
	"fmt"
	"regexp"
	"strings"
)

// Level is the coarse classification of a Score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Score is the result of assessing one tool call.
type Score struct {
	Value int   `json:"value"` // 0-100
	Level Level `json:"level"`

	// Blocked marks calls matching the destructive blacklist. Blocked
	// calls are never executable, regardless of user confirmation.
	Blocked bool `json:"blocked"`

	// Reason names the blacklist pattern or heuristic that drove the
	// score, for the audit trail.
	Reason string `json:"reason,omitempty"`
}

// Thresholds maps score bands to levels. Values are inclusive upper
// bounds for their band.
type Thresholds struct {
	Low    int `yaml:"low"`
	Medium int `yaml:"medium"`
	High   int `yaml:"high"`
}

// DefaultThresholds returns the standard band boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 30, Medium: 60, High: 90}
}

// Scorer computes risk scores. Stateless apart from its configuration;
// safe for concurrent use.
type Scorer struct {
	thresholds Thresholds

	// AutoApproveCeiling permits read-only calls scoring at or below
	// this value to bypass interactive confirmation. Zero disables
	// auto-approval.
	autoApproveCeiling int

	extraBlacklist []*regexp.Regexp
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithThresholds overrides the level band boundaries.
func WithThresholds(t Thresholds) Option {
	return func(s *Scorer) { s.thresholds = t }
}

// WithAutoApproveCeiling sets the score at or below which read-only
// calls skip confirmation.
func WithAutoApproveCeiling(ceiling int) Option {
	return func(s *Scorer) { s.autoApproveCeiling = ceiling }
}

// WithExtraBlacklist adds caller-supplied destructive patterns on top of
// the built-in set. Invalid patterns are dropped.
func WithExtraBlacklist(patterns []string) Option {
	return func(s *Scorer) {
		for _, p := range patterns {
			if re, err := regexp.Compile(p); err == nil {
				s.extraBlacklist = append(s.extraBlacklist, re)
			}
		}
	}
}

// NewScorer creates a Scorer with the given options.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		thresholds:         DefaultThresholds(),
		autoApproveCeiling: 30,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Base scores per tool. Tools not listed default to medium risk.
var toolBaseScores = map[string]int{
	// Read-only operations.
	"read_file":    10,
	"list_files":   10,
	"file_tree":    10,
	"search_files": 10,
	"grep":         10,
	"glob":         10,
	"git_status":   10,
	"git_log":      10,
	"git_diff":     10,
	"docker_ps":    10,
	"docker_logs":  10,
	"system_info":  10,
	"check_port":   10,

	// Write or modify operations.
	"write_file":   50,
	"edit_file":    50,
	"git_add":      50,
	"git_commit":   50,
	"http_request": 50,

	// Destructive or remote operations.
	"git_checkout":    70,
	"git_pull":        70,
	"git_push":        70,
	"git_branch":      60,
	"delete_file":     75,
	"execute_command": 60, // refined by command text below
}

// Command-text bands, checked in order. Later bands override earlier
// ones so the most dangerous match wins.
var (
	readonlyCommands = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(ls|cat|less|more|head|tail|grep|find|which|whereis|pwd|wc|stat|file)(\s|$)`),
		regexp.MustCompile(`(?i)^git\s+(status|log|diff|show)(\s|$)`),
		regexp.MustCompile(`(?i)^git\s+branch\s*$`),
		regexp.MustCompile(`(?i)^docker\s+(ps|images|inspect|logs|stats)(\s|$)`),
	}
	writeCommands = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(echo|touch|mkdir|cp|mv)\s`),
		regexp.MustCompile(`(?i)^git\s+(add|commit|stash)(\s|$)`),
		regexp.MustCompile(`(?i)^docker\s+(run|start|stop)\s`),
	}
	highRiskCommands = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^git\s+push(\s|$)`),
		regexp.MustCompile(`(?i)^git\s+pull(\s|$)`),
		regexp.MustCompile(`(?i)^git\s+checkout\s`),
		regexp.MustCompile(`(?i)^git\s+branch\s.*(-[dD]|--delete)`),
	}
	deleteCommands = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brm\b`),
		regexp.MustCompile(`(?i)\brmdir\b`),
		regexp.MustCompile(`(?i)^git\s+(reset|clean)(\s|$)`),
		regexp.MustCompile(`(?i)^docker\s+(rm|rmi|prune)(\s|$)`),
	}
	systemCommands = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^sudo\s`),
		regexp.MustCompile(`(?i)\bchmod\b`),
		regexp.MustCompile(`(?i)\bchown\b`),
		regexp.MustCompile(`(?i)\bkill\b`),
		regexp.MustCompile(`(?i)\bpkill\b`),
		regexp.MustCompile(`(?i)^(apt|apt-get|yum|dnf|brew|choco)\s+(install|remove|purge)`),
	}
)

// Destructive patterns that are never executable.
var builtinBlacklist = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-\w+\s+)*-\w*[rf]\w*\s+/\s*$`),
	regexp.MustCompile(`rm\s+(-\w+\s+)*-\w*[rf]\w*\s+/\*`),
	regexp.MustCompile(`rm\s+(-\w+\s+)*-\w*[rf]\w*\s+~\s*/?\*?\s*$`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`dd\s+if=/dev/(zero|u?random)`),
	regexp.MustCompile(`>\s*/dev/(sd[a-z]|hd[a-z]|nvme\d+)`),
	regexp.MustCompile(`chmod\s+-R\s+777\s+/\s*$`),
	regexp.MustCompile(`:\(\)\{\s*:\|:&\s*\};:`), // fork bomb
	regexp.MustCompile(`git\s+push\s+.*(--force|-f)\s+.*\b(main|master)\b`),
	regexp.MustCompile(`git\s+push\s+.*\b(main|master)\b.*\s(--force|-f)(\s|$)`),
}

// Score assesses a single tool call. Pure: no I/O, no stored state
// beyond the Scorer's configuration.
func (s *Scorer) Score(toolName string, params map[string]any) Score {
	// Terminal commands are judged by their command text, everything
	// else by the tool's base score plus parameter adjustments.
	var value int
	var reason string

	if toolName == "execute_command" {
		command, _ := params["command"].(string)
		if blocked, pattern := s.checkBlacklist(command); blocked {
			return Score{
				Value:   clampBlocked(s.scoreCommand(command)),
				Level:   LevelCritical,
				Blocked: true,
				Reason:  fmt.Sprintf("matches destructive pattern %q", pattern),
			}
		}
		value = s.scoreCommand(command)
	} else {
		value, reason = s.scoreTool(toolName, params)
	}

	if value > 100 {
		value = 100
	}
	if value < 0 {
		value = 0
	}
	return Score{Value: value, Level: s.levelFor(value), Reason: reason}
}

// IsAutoApproved reports whether a score may bypass confirmation. Only
// read-only calls under the configured ceiling qualify.
func (s *Scorer) IsAutoApproved(sc Score) bool {
	return !sc.Blocked && s.autoApproveCeiling > 0 && sc.Value <= s.autoApproveCeiling
}

func (s *Scorer) levelFor(value int) Level {
	switch {
	case value <= s.thresholds.Low:
		return LevelLow
	case value <= s.thresholds.Medium:
		return LevelMedium
	case value <= s.thresholds.High:
		return LevelHigh
	default:
		return LevelCritical
	}
}

func (s *Scorer) checkBlacklist(command string) (bool, string) {
	for _, re := range builtinBlacklist {
		if re.MatchString(command) {
			return true, re.String()
		}
	}
	for _, re := range s.extraBlacklist {
		if re.MatchString(command) {
			return true, re.String()
		}
	}
	return false, ""
}

// scoreCommand assigns a risk value to a shell command string.
func (s *Scorer) scoreCommand(command string) int {
	command = strings.TrimSpace(command)
	if command == "" {
		return 0
	}

	for _, re := range readonlyCommands {
		if re.MatchString(command) {
			return 10
		}
	}

	score := 0
	for _, re := range writeCommands {
		if re.MatchString(command) {
			score = 50
		}
	}
	for _, re := range highRiskCommands {
		if re.MatchString(command) {
			score = 70
		}
	}
	for _, re := range deleteCommands {
		if re.MatchString(command) {
			score = 75
		}
	}
	for _, re := range systemCommands {
		if re.MatchString(command) {
			score = 95
		}
	}

	fields := strings.Fields(command)
	hasForce := strings.Contains(command, "--force")
	for _, f := range fields {
		if f == "-f" {
			hasForce = true
		}
	}
	if hasForce {
		if score < 80 {
			score = 80
		}
		score = min(score+15, 100)
	}
	if strings.Contains(command, "-rf") || strings.Contains(command, "-fr") {
		if score < 85 {
			score = 85
		}
	}
	if strings.ContainsAny(command, "|>") {
		score += 5
	}

	return min(score, 100)
}

// scoreTool assigns a risk value to a non-command tool call.
func (s *Scorer) scoreTool(toolName string, params map[string]any) (int, string) {
	score, ok := toolBaseScores[toolName]
	if !ok {
		return 50, "unknown tool, assuming medium risk"
	}

	switch toolName {
	case "git_push":
		if force, _ := params["force"].(bool); force {
			return 85, "force push"
		}
	case "git_branch":
		switch action, _ := params["action"].(string); action {
		case "delete":
			return 75, "branch deletion"
		case "create", "rename":
			return 50, ""
		}
	case "delete_file":
		if recursive, _ := params["recursive"].(bool); recursive {
			score = 85
		}
		if force, _ := params["force"].(bool); force {
			score = min(score+10, 95)
		}
	case "git_checkout":
		if path, _ := params["file_path"].(string); path != "" {
			// Restoring a file discards uncommitted changes.
			return 70, "checkout discards changes"
		}
	}

	return score, ""
}

// clampBlocked forces a blocked call's score into the 91-100 band.
func clampBlocked(value int) int {
	if value < 91 {
		return 91
	}
	return min(value, 100)
}
