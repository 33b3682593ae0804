// Package interpreter walks a state-machine definition deterministically with
// pluggable task handlers. It is not a workflow engine: it exists to dry-run
// the fixed pipeline topologies and to verify their routing behavior without
// submitting anything to the hosted execution service.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/driftline-labs/driftline-go/internal/statemachine"
)

// TaskError carries a named error from a task handler so catch rules can
// match on it. Any other handler error is treated as a generic task failure.
type TaskError struct {
	Name    string
	Message string
}

func (e *TaskError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// Task is one unit of work handed to a handler. Parameters are resolved
// against the current document before the handler runs.
type Task struct {
	State      statemachine.State
	Parameters map[string]any
	Document   statemachine.Document
}

// TaskHandler executes one task state and returns its output.
type TaskHandler interface {
	Execute(ctx context.Context, task Task) (any, error)
}

type TaskHandlerFunc func(ctx context.Context, task Task) (any, error)

func (f TaskHandlerFunc) Execute(ctx context.Context, task Task) (any, error) {
	return f(ctx, task)
}

// Terminal statuses reported by the interpreter.
const (
	StatusSucceeded = "Succeeded"
	StatusFailed    = "Failed"
)

// Outcome is the terminal result of interpreting a definition.
type Outcome struct {
	Status    string
	FailState string
	Error     string
	Cause     string
	Document  statemachine.Document
}

type Interpreter struct {
	handler TaskHandler
}

func New(handler TaskHandler) (*Interpreter, error) {
	if handler == nil {
		return nil, errors.New("task handler is required")
	}
	return &Interpreter{handler: handler}, nil
}

// Run interprets the definition against the given execution input. The input
// is seeded under the document's "input" key, matching the dotted paths the
// definitions use.
func (i *Interpreter) Run(ctx context.Context, def statemachine.Definition, input map[string]string) (Outcome, error) {
	if err := statemachine.Validate(def); err != nil {
		return Outcome{}, err
	}

	seeded := make(map[string]any, len(input))
	for key, value := range input {
		seeded[key] = value
	}
	doc := statemachine.Document{"input": seeded}

	return i.runChain(ctx, def.StartAt, def.States, doc)
}

func (i *Interpreter) runChain(ctx context.Context, startAt string, states map[string]statemachine.State, doc statemachine.Document) (Outcome, error) {
	current := startAt
	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		state, ok := states[current]
		if !ok {
			return Outcome{}, fmt.Errorf("state %q not found", current)
		}

		switch state.Kind {
		case statemachine.KindSucceed:
			return Outcome{Status: StatusSucceeded, Document: doc}, nil

		case statemachine.KindFail:
			return Outcome{
				Status:    StatusFailed,
				FailState: state.Name,
				Error:     state.Error,
				Cause:     state.Cause,
				Document:  doc,
			}, nil

		case statemachine.KindChoice:
			next, err := statemachine.EvaluateChoice(state, doc)
			if err != nil {
				return Outcome{
					Status:   StatusFailed,
					Error:    statemachine.ErrorTaskFailed,
					Cause:    err.Error(),
					Document: doc,
				}, nil
			}
			current = next

		case statemachine.KindParallel:
			outcome, next, done, err := i.runParallel(ctx, state, doc)
			if err != nil {
				return Outcome{}, err
			}
			if done {
				return outcome, nil
			}
			doc = outcome.Document
			current = next

		default:
			outcome, next, done, err := i.runTask(ctx, state, doc)
			if err != nil {
				return Outcome{}, err
			}
			if done {
				return outcome, nil
			}
			doc = outcome.Document
			current = next
		}
	}
}

func (i *Interpreter) runTask(ctx context.Context, state statemachine.State, doc statemachine.Document) (Outcome, string, bool, error) {
	params := resolveParameters(state.Parameters, doc)
	result, err := i.handler.Execute(ctx, Task{State: state, Parameters: params, Document: doc})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, "", false, ctxErr
		}
		errName := statemachine.ErrorTaskFailed
		var taskErr *TaskError
		if errors.As(err, &taskErr) && strings.TrimSpace(taskErr.Name) != "" {
			errName = taskErr.Name
		}
		for _, rule := range state.Catch {
			if rule.Matches(errName) {
				return Outcome{Document: doc}, rule.Next, false, nil
			}
		}
		// Uncaught: the execution fails without reaching a named fail state.
		return Outcome{
			Status:   StatusFailed,
			Error:    errName,
			Cause:    err.Error(),
			Document: doc,
		}, "", true, nil
	}

	merged, err := statemachine.ApplyResult(doc, state.ResultPath, result)
	if err != nil {
		return Outcome{}, "", false, err
	}
	if state.End {
		return Outcome{Status: StatusSucceeded, Document: merged}, "", true, nil
	}
	return Outcome{Document: merged}, state.Next, false, nil
}

// runParallel executes every branch concurrently against a copy of the
// document and joins on completion of all. Success requires every branch to
// reach a non-failure terminal. When branches fail, the lowest-indexed
// failure decides the overall outcome so results are deterministic.
func (i *Interpreter) runParallel(ctx context.Context, state statemachine.State, doc statemachine.Document) (Outcome, string, bool, error) {
	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make([]Outcome, len(state.Branches))
	errs := make([]error, len(state.Branches))

	var wg sync.WaitGroup
	for idx, branch := range state.Branches {
		wg.Add(1)
		go func(idx int, branch statemachine.Chain) {
			defer wg.Done()
			outcome, err := i.runChain(branchCtx, branch.StartAt, branch.States, statemachine.CloneDocument(doc))
			outcomes[idx] = outcome
			errs[idx] = err
			if err == nil && outcome.Status == StatusFailed {
				cancel()
			}
		}(idx, branch)
	}
	wg.Wait()

	for idx := range state.Branches {
		if errs[idx] != nil && !errors.Is(errs[idx], context.Canceled) {
			return Outcome{}, "", false, errs[idx]
		}
	}
	for idx := range state.Branches {
		if errs[idx] == nil && outcomes[idx].Status == StatusFailed {
			failed := outcomes[idx]
			failed.Document = doc
			return failed, "", true, nil
		}
	}
	for idx := range state.Branches {
		if errs[idx] != nil {
			return Outcome{}, "", false, errs[idx]
		}
	}

	branchOutputs := make([]any, len(outcomes))
	for idx, outcome := range outcomes {
		branchOutputs[idx] = map[string]any(outcome.Document)
	}
	merged, err := statemachine.ApplyResult(doc, state.ResultPath, branchOutputs)
	if err != nil {
		return Outcome{}, "", false, err
	}
	if state.End {
		return Outcome{Status: StatusSucceeded, Document: merged}, "", true, nil
	}
	return Outcome{Document: merged}, state.Next, false, nil
}

// resolveParameters substitutes "$."-prefixed string values with the value at
// that path in the current document. Unresolvable paths yield nil rather than
// failing, so simulations do not have to fabricate every intermediate result.
func resolveParameters(params map[string]any, doc statemachine.Document) map[string]any {
	if len(params) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(params))
	for key, value := range params {
		text, ok := value.(string)
		if !ok || !strings.HasPrefix(text, "$.") {
			out[key] = value
			continue
		}
		resolved, found := statemachine.ResolvePath(doc, text)
		if !found {
			out[key] = nil
			continue
		}
		out[key] = resolved
	}
	return out
}
