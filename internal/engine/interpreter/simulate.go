package interpreter

import (
	"context"
	"strings"

	"github.com/driftline-labs/driftline-go/internal/statemachine"
)

// SimulatedStep declares how a simulated task state behaves.
type SimulatedStep struct {
	Fail      bool           `json:"fail,omitempty"`
	ErrorName string         `json:"errorName,omitempty"`
	Message   string         `json:"message,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
}

// Simulation maps state names to simulated outcomes. States without an entry
// succeed with an empty result.
type Simulation map[string]SimulatedStep

// NewSimulator returns a task handler that replays the given simulation.
func NewSimulator(sim Simulation) TaskHandler {
	return TaskHandlerFunc(func(ctx context.Context, task Task) (any, error) {
		step, ok := sim[task.State.Name]
		if !ok {
			return map[string]any{}, nil
		}
		if step.Fail {
			name := strings.TrimSpace(step.ErrorName)
			if name == "" {
				name = statemachine.ErrorTaskFailed
			}
			message := strings.TrimSpace(step.Message)
			if message == "" {
				message = "simulated failure"
			}
			return nil, &TaskError{Name: name, Message: message}
		}
		if step.Result == nil {
			return map[string]any{}, nil
		}
		return step.Result, nil
	})
}
