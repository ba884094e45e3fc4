package oracle

import (
	"encoding/json"
	"strings"
)

// extractJSON pulls the first JSON document out of model output. Models
// often wrap JSON in fenced code blocks or surround it with prose; the
// extraction tolerates both.
func extractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)

	// Fenced code block, with or without a language tag.
	if idx := strings.Index(text, "```"); idx != -1 {
		rest := text[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl != -1 {
			tag := strings.TrimSpace(rest[:nl])
			if tag == "" || strings.EqualFold(tag, "json") {
				rest = rest[nl+1:]
			}
		}
		if end := strings.Index(rest, "```"); end != -1 {
			candidate := strings.TrimSpace(rest[:end])
			if candidate != "" {
				return candidate, true
			}
		}
	}

	// Bare JSON: first balanced object or array.
	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return "", false
	}
	open := text[start]
	var closer byte = '}'
	if open == '[' {
		closer = ']'
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func malformed(phase Phase, raw string, cause error) error {
	trimmed := raw
	if len(trimmed) > 500 {
		trimmed = trimmed[:500]
	}
	return &MalformedResponseError{
		OracleError: OracleError{
			Message: "malformed " + string(phase) + " response",
			Cause:   cause,
		},
		Raw: trimmed,
	}
}

// parseResponse decodes raw model output into the variant the phase
// expects. Any parse or validation failure is a MalformedResponseError.
func parseResponse(phase Phase, raw string) (*Response, error) {
	doc, ok := extractJSON(raw)
	if !ok {
		return nil, malformed(phase, raw, nil)
	}

	resp := &Response{}
	var err error
	switch phase {
	case PhaseAnalyze:
		var a Analysis
		if err = json.Unmarshal([]byte(doc), &a); err == nil {
			switch a.Mode {
			case ModeFast, ModeHybrid, ModeExploratory:
			case "":
				a.Mode = ModeHybrid
			default:
				a.Mode = ModeHybrid
			}
			resp.Analysis = &a
		}
	case PhaseExplore:
		var action ExplorationAction
		if err = json.Unmarshal([]byte(doc), &action); err == nil {
			resp.Exploration = &action
		}
	case PhasePlan, PhaseReplan:
		var plan PlanResponse
		if err = json.Unmarshal([]byte(doc), &plan); err != nil {
			// Some models return the bare steps array.
			var steps []PlanStep
			if arrErr := json.Unmarshal([]byte(doc), &steps); arrErr == nil {
				plan.Steps = steps
				err = nil
			}
		}
		if err == nil {
			resp.Plan = &plan
		}
	}
	if err != nil {
		return nil, malformed(phase, raw, err)
	}
	if err := resp.Validate(phase); err != nil {
		return nil, malformed(phase, raw, err)
	}
	return resp, nil
}
