// Package explore runs the read-only investigation phase before
// planning: the oracle proposes one observation-gathering tool call at
// a time, and the explorer executes it while steering around loops and
// truncated output.
package explore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/steward/internal/memory"
	"github.com/example/steward/internal/obslog"
	"github.com/example/steward/internal/oracle"
	"github.com/example/steward/internal/tools"
)

// When the oracle repeats a tool call already tried, the explorer
// substitutes a different angle on the same information instead of
// re-running it.
var alternativeTools = map[string]string{
	"file_tree":       "search_files",
	"list_files":      "search_files",
	"search_files":    "read_file",
	"grep":            "read_file",
	"read_file":       "list_files",
	"execute_command": "read_file",
}

// Stats summarizes one exploration run.
type Stats struct {
	Steps        int `json:"steps"`
	LoopsAvoided int `json:"loops_avoided"`
	Truncated    int `json:"truncated"`
	Skipped      int `json:"skipped"`
}

// Findings is what exploration hands to planning.
type Findings struct {
	Stats Stats

	// StoppedEarly is true when the oracle declared itself done before
	// the step cap.
	StoppedEarly bool
}

// Explorer drives the exploration loop.
type Explorer struct {
	oracle     oracle.Oracle
	dispatcher *tools.Dispatcher
	logger     *zap.Logger

	maxSteps    int
	stepTimeout time.Duration

	readOnly map[string]bool

	// seen maps tool-call signatures to true once executed.
	seen map[string]bool

	// narrowed holds per-tool parameter overrides applied after that
	// tool returned truncated output.
	narrowed map[string]map[string]any
}

// New creates an Explorer. maxSteps bounds the number of tool calls.
func New(o oracle.Oracle, d *tools.Dispatcher, logger *zap.Logger, maxSteps int, stepTimeout time.Duration) *Explorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSteps <= 0 {
		maxSteps = 10
	}
	readOnly := make(map[string]bool)
	for _, name := range d.Registry().ReadOnlyNames() {
		readOnly[name] = true
	}
	return &Explorer{
		oracle:      o,
		dispatcher:  d,
		logger:      logger,
		maxSteps:    maxSteps,
		stepTimeout: stepTimeout,
		readOnly:    readOnly,
		seen:        make(map[string]bool),
		narrowed:    make(map[string]map[string]any),
	}
}

// Run explores until the oracle is done or the step cap is hit.
// Observations land in log; tool usage lands in mem.
func (e *Explorer) Run(ctx context.Context, goal string, mem *memory.WorkingMemory, log *obslog.Manager) (*Findings, error) {
	findings := &Findings{}

	toolInfos := e.readOnlyToolInfos()

	for findings.Stats.Steps < e.maxSteps {
		if err := ctx.Err(); err != nil {
			return findings, err
		}

		resp, err := e.oracle.Propose(ctx, oracle.PromptContext{
			Phase:          oracle.PhaseExplore,
			Goal:           goal,
			Observations:   log.Render(),
			MemorySnapshot: mem.Snapshot(),
			Tools:          toolInfos,
		})
		if err != nil {
			return findings, fmt.Errorf("exploration proposal: %w", err)
		}

		action := resp.Exploration
		if action.Done {
			findings.StoppedEarly = true
			return findings, nil
		}

		name, params, substituted := e.resolveCall(action.Tool, action.Params)
		if substituted {
			findings.Stats.LoopsAvoided++
		}
		if name == "" {
			// No unseen angle left for this call; tell the oracle.
			findings.Stats.Skipped++
			log.Add(fmt.Sprintf("skipped %s: already tried with the same parameters and no alternative left", action.Tool), obslog.KindInfo)
			continue
		}

		e.seen[memory.Signature(name, params)] = true
		findings.Stats.Steps++

		result, err := e.dispatcher.Execute(ctx, name, params, e.stepTimeout)
		mem.Record(name, params, result.Success)
		log.NextIteration()

		if err != nil || !result.Success {
			detail := result.Error
			if detail == "" && err != nil {
				detail = err.Error()
			}
			log.Add(fmt.Sprintf("%s failed: %s", name, detail), obslog.KindError)
			continue
		}

		log.Add(fmt.Sprintf("%s: %s", name, result.Output), obslog.KindToolResult)

		if tools.LooksTruncated(result.Output) {
			findings.Stats.Truncated++
			e.narrowParams(name, params)
		}

		if looping, reason := mem.DetectLoopLenient(); looping {
			mem.NoteLoop()
			e.logger.Debug("exploration loop detected", zap.String("reason", reason))
			log.Add("exploration looping: "+reason, obslog.KindInfo)
			return findings, nil
		}
	}

	return findings, nil
}

// resolveCall returns the tool and parameters to actually run. A repeat
// of an already-seen call is redirected through the alternative table;
// a repeat whose alternative was also seen is dropped. Non-read-only
// proposals are rejected outright.
func (e *Explorer) resolveCall(name string, params map[string]any) (string, map[string]any, bool) {
	if !e.readOnly[name] {
		// The oracle proposed a mutating tool during exploration; try
		// the read-only alternative instead.
		alt := alternativeTools[name]
		if alt == "" || !e.readOnly[alt] {
			return "", nil, false
		}
		name, params = alt, e.carryParams(alt, params)
	}

	params = e.applyNarrowing(name, params)
	if !e.seen[memory.Signature(name, params)] {
		return name, params, false
	}

	alt := alternativeTools[name]
	if alt == "" || !e.readOnly[alt] {
		return "", nil, false
	}
	altParams := e.applyNarrowing(alt, e.carryParams(alt, params))
	if e.seen[memory.Signature(alt, altParams)] {
		return "", nil, true
	}
	return alt, altParams, true
}

// carryParams maps parameters onto a substituted tool. Only the path
// survives; tool-specific parameters would not mean the same thing.
func (e *Explorer) carryParams(alt string, params map[string]any) map[string]any {
	out := map[string]any{}
	if path, ok := tools.StringParam(params, "path"); ok && path != "" {
		out["path"] = path
	}
	if alt == "search_files" {
		if pattern, ok := tools.StringParam(params, "pattern"); ok && pattern != "" {
			out["pattern"] = pattern
		} else {
			out["pattern"] = `\w+`
		}
	}
	return out
}

// narrowParams records tighter parameters for the next call of a tool
// whose output came back truncated.
func (e *Explorer) narrowParams(name string, params map[string]any) {
	overrides := map[string]any{}
	switch name {
	case "file_tree":
		depth, ok := tools.IntParam(params, "depth")
		if !ok || depth <= 0 {
			depth = 3
		}
		if depth > 1 {
			overrides["depth"] = depth - 1
		}
	case "search_files", "grep":
		maxResults, ok := tools.IntParam(params, "max_results")
		if !ok || maxResults <= 0 {
			maxResults = 100
		}
		overrides["max_results"] = max(maxResults/2, 10)
	case "read_file":
		limit, ok := tools.IntParam(params, "limit")
		if !ok || limit <= 0 {
			limit = 400
		}
		overrides["limit"] = max(limit/2, 50)
	}
	if len(overrides) > 0 {
		e.narrowed[name] = overrides
	}
}

func (e *Explorer) applyNarrowing(name string, params map[string]any) map[string]any {
	overrides := e.narrowed[name]
	if len(overrides) == 0 {
		return params
	}
	out := make(map[string]any, len(params)+len(overrides))
	for k, v := range params {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func (e *Explorer) readOnlyToolInfos() []oracle.ToolInfo {
	defs := e.dispatcher.Registry().Definitions()
	var infos []oracle.ToolInfo
	for _, def := range defs {
		if def.ReadOnly {
			infos = append(infos, oracle.ToolInfo{
				Name:        def.Name,
				Description: def.Description,
				ReadOnly:    true,
			})
		}
	}
	return infos
}
