package statemachine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Document is the running execution state. Each completed state's output is
// merged at its result path; concurrent branches write to disjoint paths.
type Document map[string]any

// CloneDocument deep-copies the map and slice structure of a document.
func CloneDocument(doc Document) Document {
	if doc == nil {
		return Document{}
	}
	return Document(cloneValue(map[string]any(doc)).(map[string]any))
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[k] = cloneValue(v)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = cloneValue(v)
		}
		return out
	default:
		return typed
	}
}

// ResolvePath resolves a dotted path against the document. A leading "$." or
// "$" is accepted, and slice elements may be addressed either as "items.0" or
// "items[0]".
func ResolvePath(doc Document, path string) (any, bool) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, false
	}
	if len(parts) == 0 {
		return map[string]any(doc), true
	}

	var current any = map[string]any(doc)
	for _, part := range parts {
		switch typed := current.(type) {
		case map[string]any:
			next, ok := typed[part]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			index, err := strconv.Atoi(part)
			if err != nil || index < 0 || index >= len(typed) {
				return nil, false
			}
			current = typed[index]
		default:
			return nil, false
		}
	}
	return current, true
}

// ApplyResult merges a state's output into the document at the result path.
// An empty result path discards the output; "$" replaces the whole document,
// which requires the output to be an object.
func ApplyResult(doc Document, resultPath string, result any) (Document, error) {
	out := CloneDocument(doc)

	trimmed := strings.TrimSpace(resultPath)
	if trimmed == "" {
		return out, nil
	}
	parts, err := splitPath(trimmed)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		replacement, ok := result.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("result path %q requires an object result", resultPath)
		}
		return Document(cloneValue(replacement).(map[string]any)), nil
	}

	current := map[string]any(out)
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = cloneValue(result)
	return out, nil
}

// EvaluateChoice returns the next state for a choice given the document. Rules
// are evaluated in order; the default applies when none match. Numeric
// comparison is strict less-than and string comparison is exact and
// case-sensitive.
func EvaluateChoice(state State, doc Document) (string, error) {
	if state.Kind != KindChoice {
		return "", fmt.Errorf("state %q is not a choice", state.Name)
	}
	for _, rule := range state.Choices {
		matched, err := evaluateRule(rule, doc)
		if err != nil {
			return "", err
		}
		if matched {
			return rule.Next, nil
		}
	}
	if strings.TrimSpace(state.Default) == "" {
		return "", fmt.Errorf("choice %q has no default", state.Name)
	}
	return state.Default, nil
}

func evaluateRule(rule ChoiceRule, doc Document) (bool, error) {
	value, ok := ResolvePath(doc, rule.Variable)
	if !ok {
		return false, fmt.Errorf("choice variable %q not present", rule.Variable)
	}
	switch rule.Op {
	case OpNumericLessThan:
		number, ok := toFloat64(value)
		if !ok {
			return false, fmt.Errorf("choice variable %q is not numeric", rule.Variable)
		}
		return number < rule.NumericValue, nil
	case OpStringEquals:
		text, ok := value.(string)
		if !ok {
			return false, fmt.Errorf("choice variable %q is not a string", rule.Variable)
		}
		return text == rule.StringValue, nil
	default:
		return false, fmt.Errorf("choice op unsupported: %q", rule.Op)
	}
}

func toFloat64(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func splitPath(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	if path == "" {
		return nil, nil
	}
	parts := strings.Split(path, ".")
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return nil, fmt.Errorf("invalid path segment in %q", path)
		}
	}
	return parts, nil
}
