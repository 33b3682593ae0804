package domain

import (
	"errors"
	"strings"
	"time"
)

// Execution statuses mirror the workflow engine's terminal and running
// states.
const (
	ExecutionStatusRunning   = "Running"
	ExecutionStatusSucceeded = "Succeeded"
	ExecutionStatusFailed    = "Failed"
)

// Execution is one submission of a pipeline state machine.
type Execution struct {
	ID           string
	Pipeline     string
	StateMachine string
	Status       string
	Input        Metadata
	SubmittedBy  string
	SubmittedAt  time.Time
	UpdatedAt    time.Time
	FailState    string
	ErrorName    string
	Cause        string
	Output       Metadata
}

func (e Execution) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("execution id is required")
	}
	if strings.TrimSpace(e.Pipeline) == "" {
		return errors.New("pipeline is required")
	}
	if strings.TrimSpace(e.StateMachine) == "" {
		return errors.New("state machine name is required")
	}
	if !validExecutionStatus(e.Status) {
		return errors.New("status must be Running, Succeeded, or Failed")
	}
	if e.SubmittedAt.IsZero() {
		return errors.New("submitted at is required")
	}
	return nil
}

func validExecutionStatus(s string) bool {
	switch s {
	case ExecutionStatusRunning, ExecutionStatusSucceeded, ExecutionStatusFailed:
		return true
	}
	return false
}
