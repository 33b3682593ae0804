package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/driftline-labs/driftline-go/internal/engine/interpreter"
	"github.com/driftline-labs/driftline-go/internal/statemachine"
)

// Local runs executions in-process through the interpreter instead of a
// hosted service. It exists for development and dry-run deployments; the
// simulation decides task outcomes.
type Local struct {
	sim interpreter.Simulation
	now func() time.Time

	mu         sync.Mutex
	executions map[string]ExecutionStatus
}

func NewLocal(sim interpreter.Simulation) *Local {
	return &Local{
		sim:        sim,
		now:        time.Now,
		executions: make(map[string]ExecutionStatus),
	}
}

func (l *Local) StartExecution(ctx context.Context, def statemachine.Definition, input StartInput) (ExecutionStatus, error) {
	executionID := strings.TrimSpace(input.ExecutionID)
	if executionID == "" {
		return ExecutionStatus{}, errors.New("execution id is required")
	}

	interp, err := interpreter.New(interpreter.NewSimulator(l.sim))
	if err != nil {
		return ExecutionStatus{}, err
	}

	startedAt := l.now().UTC()
	outcome, err := interp.Run(ctx, def, input.Input)
	if err != nil {
		return ExecutionStatus{}, err
	}

	status := ExecutionStatus{
		ExecutionID: executionID,
		Status:      outcome.Status,
		FailState:   outcome.FailState,
		Error:       outcome.Error,
		Cause:       outcome.Cause,
		Output:      outcome.Document,
		StartedAt:   startedAt,
		StoppedAt:   l.now().UTC(),
	}

	l.mu.Lock()
	l.executions[executionID] = status
	l.mu.Unlock()

	return status, nil
}

func (l *Local) DescribeExecution(ctx context.Context, executionID string) (ExecutionStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	status, ok := l.executions[strings.TrimSpace(executionID)]
	if !ok {
		return ExecutionStatus{}, ErrExecutionNotFound
	}
	return status, nil
}
