// Package obslog maintains the observation log a task accumulates while
// it runs, and compresses it when it grows past the prompt budget.
package obslog

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind classifies an observation.
type Kind string

const (
	KindToolResult    Kind = "tool_result"
	KindCommandResult Kind = "command_result"
	KindError         Kind = "error"
	KindRejection     Kind = "rejection"
	KindSuccess       Kind = "success"
	KindInfo          Kind = "info"
)

// Observation is one entry in the log. Iteration is the engine loop
// index at which it was recorded; entries within an iteration keep
// insertion order.
type Observation struct {
	Content   string    `json:"content"`
	Kind      Kind      `json:"kind"`
	Iteration int       `json:"iteration"`
	Time      time.Time `json:"time"`

	// Critical observations survive every compression. Errors and
	// rejections are always critical: they explain why later decisions
	// were made.
	Critical bool `json:"critical"`
}

// Compress shrinks a log to at most maxSize entries. Critical entries
// and the keepRecent newest entries are always retained; the remaining
// middle is stride-sampled to fill whatever budget is left. The result
// is sorted by iteration so chronological order survives.
//
// Compression never reorders and never fabricates entries; it only
// drops middle entries. If the input already fits it is returned as-is.
func Compress(obs []Observation, maxSize, keepRecent int) []Observation {
	if maxSize <= 0 || len(obs) <= maxSize {
		return obs
	}
	if keepRecent < 0 {
		keepRecent = 0
	}
	if keepRecent > len(obs) {
		keepRecent = len(obs)
	}

	recentStart := len(obs) - keepRecent
	kept := make([]Observation, 0, maxSize)
	var middle []Observation

	for i, o := range obs {
		switch {
		case i >= recentStart:
			kept = append(kept, o)
		case o.Critical:
			kept = append(kept, o)
		default:
			middle = append(middle, o)
		}
	}

	budget := maxSize - len(kept)
	if budget > 0 && len(middle) > 0 {
		if budget >= len(middle) {
			kept = append(kept, middle...)
		} else {
			step := len(middle) / budget
			if step < 1 {
				step = 1
			}
			for i := 0; i < len(middle) && budget > 0; i += step {
				kept = append(kept, middle[i])
				budget--
			}
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Iteration < kept[j].Iteration
	})
	return kept
}

// Manager owns the observation log for one task. It keeps two views:
// the working view, compressed on demand for prompt assembly, and the
// full history, retained verbatim for the audit trail.
type Manager struct {
	observations []Observation
	history      []Observation
	iteration    int

	maxSize    int
	keepRecent int

	// compressThreshold triggers automatic compression on Add once the
	// working view exceeds it. Zero disables auto-compression.
	compressThreshold int
}

// NewManager creates a Manager. maxSize bounds the compressed view,
// keepRecent is the recency window compression never drops.
func NewManager(maxSize, keepRecent, compressThreshold int) *Manager {
	return &Manager{
		maxSize:           maxSize,
		keepRecent:        keepRecent,
		compressThreshold: compressThreshold,
	}
}

// NextIteration advances the iteration counter and returns it.
func (m *Manager) NextIteration() int {
	m.iteration++
	return m.iteration
}

// Iteration returns the current iteration counter.
func (m *Manager) Iteration() int { return m.iteration }

// Add appends an observation at the current iteration. Errors and
// rejections are marked critical automatically.
func (m *Manager) Add(content string, kind Kind) {
	o := Observation{
		Content:   content,
		Kind:      kind,
		Iteration: m.iteration,
		Time:      time.Now(),
		Critical:  kind == KindError || kind == KindRejection,
	}
	m.observations = append(m.observations, o)
	m.history = append(m.history, o)

	if m.compressThreshold > 0 && len(m.observations) > m.compressThreshold {
		m.observations = Compress(m.observations, m.maxSize, m.keepRecent)
	}
}

// AddRejection records a user rejection of a step. Rejections are
// critical so the oracle does not propose the rejected action again.
func (m *Manager) AddRejection(stepDescription, reason string) {
	content := fmt.Sprintf("User rejected step %q", stepDescription)
	if reason != "" {
		content += ": " + reason
	}
	m.Add(content, KindRejection)
}

// Observations returns the current working view.
func (m *Manager) Observations() []Observation {
	out := make([]Observation, len(m.observations))
	copy(out, m.observations)
	return out
}

// History returns every observation ever added, uncompressed.
func (m *Manager) History() []Observation {
	out := make([]Observation, len(m.history))
	copy(out, m.history)
	return out
}

// Render formats the working view as numbered context text for prompt
// assembly.
func (m *Manager) Render() string {
	if len(m.observations) == 0 {
		return "No observations yet."
	}
	var sb strings.Builder
	for i, o := range m.observations {
		marker := ""
		if o.Critical {
			marker = "!"
		}
		sb.WriteString(fmt.Sprintf("%d.%s [iter %d, %s] %s\n", i+1, marker, o.Iteration, o.Kind, o.Content))
	}
	return sb.String()
}
