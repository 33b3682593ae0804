package engine

import (
	"context"
	"time"

	"github.com/driftline-labs/driftline-go/internal/statemachine"
)

// Execution statuses reported by an engine.
const (
	StatusRunning   = "Running"
	StatusSucceeded = "Succeeded"
	StatusFailed    = "Failed"
)

// StartInput is a validated execution input: the named string parameters the
// definition resolves at runtime. It is immutable once the execution starts.
type StartInput struct {
	ExecutionID string
	Input       map[string]string
}

// ExecutionStatus is an engine's view of an execution. FailState, Error and
// Cause are set only for failed executions that terminated in a named fail
// state; a generic task failure leaves FailState empty.
type ExecutionStatus struct {
	ExecutionID string
	Status      string
	FailState   string
	Error       string
	Cause       string
	Output      statemachine.Document
	StartedAt   time.Time
	StoppedAt   time.Time
}

// Engine submits definitions to a workflow-execution service. Scheduling,
// state transitions and retries belong entirely to the engine; this module
// only describes graphs and hands them over.
type Engine interface {
	StartExecution(ctx context.Context, def statemachine.Definition, input StartInput) (ExecutionStatus, error)
	DescribeExecution(ctx context.Context, executionID string) (ExecutionStatus, error)
}
