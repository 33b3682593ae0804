package statemachine

import (
	"fmt"
	"strings"
)

// ValidationError aggregates definition validation issues.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "definition validation failed"
	}
	return "definition validation failed: " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}

// Validate performs strict validation of a definition before submission.
func Validate(def Definition) error {
	issues := &ValidationError{}

	if strings.TrimSpace(def.Name) == "" {
		issues.Add("definition name is required")
	}
	validateGraph(issues, "", def.StartAt, def.States)
	return issues.OrNil()
}

func validateGraph(issues *ValidationError, scope, startAt string, states map[string]State) {
	if len(states) == 0 {
		issues.Add(prefixed(scope, "states must be non-empty"))
		return
	}
	if strings.TrimSpace(startAt) == "" {
		issues.Add(prefixed(scope, "startAt is required"))
	} else if _, ok := states[startAt]; !ok {
		issues.Add(prefixed(scope, fmt.Sprintf("startAt %q not found", startAt)))
	}

	for name, state := range states {
		if strings.TrimSpace(name) == "" {
			issues.Add(prefixed(scope, "state name is required"))
			continue
		}
		if state.Name != name {
			issues.Add(prefixed(scope, fmt.Sprintf("state %q name mismatch (%q)", name, state.Name)))
		}
		validateState(issues, scope, state, states)
	}

	if hasNextCycle(states) {
		issues.Add(prefixed(scope, "transition graph contains a cycle"))
	}
}

func validateState(issues *ValidationError, scope string, state State, states map[string]State) {
	label := state.Name
	if scope != "" {
		label = scope + "." + state.Name
	}

	switch {
	case isTask(state.Kind):
		if strings.TrimSpace(state.Resource) == "" {
			issues.Add(fmt.Sprintf("state[%s] resource is required", label))
		}
		if !state.End && strings.TrimSpace(state.Next) == "" {
			issues.Add(fmt.Sprintf("state[%s] must set next or end", label))
		}
		validateTarget(issues, label, "next", state.Next, states)
		for i, rule := range state.Catch {
			if len(rule.ErrorEquals) == 0 {
				issues.Add(fmt.Sprintf("state[%s] catch[%d] errorEquals must be non-empty", label, i))
			}
			if strings.TrimSpace(rule.Next) == "" {
				issues.Add(fmt.Sprintf("state[%s] catch[%d] next is required", label, i))
				continue
			}
			validateTarget(issues, label, fmt.Sprintf("catch[%d]", i), rule.Next, states)
		}

	case state.Kind == KindParallel:
		if len(state.Branches) == 0 {
			issues.Add(fmt.Sprintf("state[%s] branches must be non-empty", label))
		}
		for i, branch := range state.Branches {
			validateGraph(issues, fmt.Sprintf("%s.branch[%d]", label, i), branch.StartAt, branch.States)
		}
		if !state.End && strings.TrimSpace(state.Next) == "" {
			issues.Add(fmt.Sprintf("state[%s] must set next or end", label))
		}
		validateTarget(issues, label, "next", state.Next, states)
		for i, rule := range state.Catch {
			validateTarget(issues, label, fmt.Sprintf("catch[%d]", i), rule.Next, states)
		}

	case state.Kind == KindChoice:
		if len(state.Choices) == 0 {
			issues.Add(fmt.Sprintf("state[%s] choices must be non-empty", label))
		}
		if strings.TrimSpace(state.Default) == "" {
			issues.Add(fmt.Sprintf("state[%s] default is required", label))
		} else {
			validateTarget(issues, label, "default", state.Default, states)
		}
		for i, rule := range state.Choices {
			if strings.TrimSpace(rule.Variable) == "" {
				issues.Add(fmt.Sprintf("state[%s] choices[%d] variable is required", label, i))
			}
			switch rule.Op {
			case OpNumericLessThan, OpStringEquals:
			default:
				issues.Add(fmt.Sprintf("state[%s] choices[%d] op unsupported: %q", label, i, rule.Op))
			}
			if strings.TrimSpace(rule.Next) == "" {
				issues.Add(fmt.Sprintf("state[%s] choices[%d] next is required", label, i))
				continue
			}
			validateTarget(issues, label, fmt.Sprintf("choices[%d]", i), rule.Next, states)
		}

	case state.Kind == KindSucceed:
		if state.Next != "" {
			issues.Add(fmt.Sprintf("state[%s] succeed state must not set next", label))
		}

	case state.Kind == KindFail:
		if state.Next != "" {
			issues.Add(fmt.Sprintf("state[%s] fail state must not set next", label))
		}
		if strings.TrimSpace(state.Error) == "" {
			issues.Add(fmt.Sprintf("state[%s] fail state requires error", label))
		}
		if strings.TrimSpace(state.Cause) == "" {
			issues.Add(fmt.Sprintf("state[%s] fail state requires cause", label))
		}

	default:
		issues.Add(fmt.Sprintf("state[%s] kind unsupported: %q", label, state.Kind))
	}
}

func validateTarget(issues *ValidationError, label, field, target string, states map[string]State) {
	target = strings.TrimSpace(target)
	if target == "" {
		return
	}
	if _, ok := states[target]; !ok {
		issues.Add(fmt.Sprintf("state[%s] %s target %q not found", label, field, target))
	}
}

func hasNextCycle(states map[string]State) bool {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	adj := make(map[string][]string, len(states))
	for name, state := range states {
		if next := strings.TrimSpace(state.Next); next != "" {
			adj[name] = append(adj[name], next)
		}
		if def := strings.TrimSpace(state.Default); def != "" {
			adj[name] = append(adj[name], def)
		}
		for _, rule := range state.Choices {
			if next := strings.TrimSpace(rule.Next); next != "" {
				adj[name] = append(adj[name], next)
			}
		}
		for _, rule := range state.Catch {
			if next := strings.TrimSpace(rule.Next); next != "" {
				adj[name] = append(adj[name], next)
			}
		}
	}

	visited := make(map[string]int, len(states))
	var visit func(string) bool
	visit = func(node string) bool {
		switch visited[node] {
		case visiting:
			return true
		case done:
			return false
		}
		visited[node] = visiting
		for _, next := range adj[node] {
			if visit(next) {
				return true
			}
		}
		visited[node] = done
		return false
	}

	for node := range states {
		if visited[node] == unvisited {
			if visit(node) {
				return true
			}
		}
	}
	return false
}

func prefixed(scope, msg string) string {
	if scope == "" {
		return msg
	}
	return scope + ": " + msg
}
