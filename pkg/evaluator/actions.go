package evaluator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionType identifies one kind of browser action the model may request.
type ActionType string

const (
	// ActionNavigate loads a URL.
	ActionNavigate ActionType = "navigate"

	// ActionClick clicks the element matching a selector.
	ActionClick ActionType = "click"

	// ActionFill fills the input matching a selector with a value.
	ActionFill ActionType = "fill"

	// ActionWait waits for the element matching a selector to appear.
	ActionWait ActionType = "wait"

	// ActionFinish ends the evaluation with a verdict and summary.
	ActionFinish ActionType = "finish"
)

// Action is one decision returned by the model.
type Action struct {
	Type     ActionType `json:"action"`
	URL      string     `json:"url,omitempty"`
	Selector string     `json:"selector,omitempty"`
	Value    string     `json:"value,omitempty"`
	Verdict  string     `json:"verdict,omitempty"`
	Summary  string     `json:"summary,omitempty"`
}

// ParseAction extracts the first JSON object from a model reply and decodes
// it as an Action. Models frequently wrap JSON in code fences or prose, so
// everything outside the outermost braces is ignored.
func ParseAction(reply string) (*Action, error) {
	raw, err := extractJSONObject(reply)
	if err != nil {
		return nil, err
	}

	var action Action
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		return nil, fmt.Errorf("malformed action JSON: %w", err)
	}

	if err := action.validate(); err != nil {
		return nil, err
	}
	return &action, nil
}

func (a *Action) validate() error {
	switch a.Type {
	case ActionNavigate:
		if a.URL == "" {
			return fmt.Errorf("navigate action requires a url")
		}
	case ActionClick, ActionWait:
		if a.Selector == "" {
			return fmt.Errorf("%s action requires a selector", a.Type)
		}
	case ActionFill:
		if a.Selector == "" {
			return fmt.Errorf("fill action requires a selector")
		}
	case ActionFinish:
		if a.Verdict == "" {
			return fmt.Errorf("finish action requires a verdict")
		}
	case "":
		return fmt.Errorf("action type is required")
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// extractJSONObject returns the outermost balanced JSON object in s.
func extractJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", fmt.Errorf("no JSON object in model reply")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in model reply")
}
