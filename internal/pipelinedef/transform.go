package pipelinedef

import (
	"fmt"

	"github.com/driftline-labs/driftline-go/internal/statemachine"
)

// Transform pipeline state names.
const (
	StateTransformJob            = "TransformJob"
	StateAddHeader               = "AddHeader"
	StateMonitorJob              = "MonitorJob"
	StateMonitorJobFailed        = "MonitorJobFailed"
	StateQueryMonitorResults     = "QueryMonitorResults"
	StateCheckViolations         = "CheckViolations"
	StateMonitorCompleted        = "Completed"
	StateCompletedWithViolations = "Completed with Violations"
)

// Errors raised by the transform pipeline's fail states.
const (
	ErrorMonitorJobFailed = "SageMakerMonitorJobFailed"
	ErrorDriftDetected    = "DataDriftDetected"
)

// MonitorStatusPath is the dotted path CheckViolations reads the monitoring
// job's terminal status from.
const MonitorStatusPath = "$.results.ProcessingJobStatus"

// Baseline artifacts consumed by the monitor job, relative to the baseline
// output location, and the violations report it writes.
const (
	BaselineConstraintsObject = "baseline_results/constraints.json"
	BaselineStatisticsObject  = "baseline_results/statistics.json"
	ViolationsObject          = "constraint_violations.json"
)

// Transform builds the batch-inference and drift-monitoring pipeline:
// TransformJob, AddHeader, MonitorJob, QueryMonitorResults, CheckViolations.
// Only the monitor job carries a catch; a transform or function failure
// propagates untrapped as a generic task failure.
func Transform(cfg Config) (statemachine.Definition, error) {
	if err := cfg.Validate(); err != nil {
		return statemachine.Definition{}, fmt.Errorf("pipeline config: %w", err)
	}

	tags := map[string]string{
		"GitBranch":     "$.input." + FieldGitBranch,
		"GitCommitHash": "$.input." + FieldGitCommitHash,
		"DataVersionId": "$.input." + FieldDataVersionID,
	}

	chain := statemachine.NewChain(
		statemachine.State{
			Name:     StateTransformJob,
			Kind:     statemachine.KindTransformJob,
			Resource: ResourceTransformJob,
			Parameters: map[string]any{
				"JobName":   "$.input." + FieldTransformJobName,
				"ModelName": "$.input." + FieldModelName,
			},
			ResultPath: "$.transform",
			Tags:       tags,
		},
		statemachine.State{
			Name:     StateAddHeader,
			Kind:     statemachine.KindFunction,
			Resource: cfg.Functions.AddHeader,
			Parameters: map[string]any{
				"TransformOutputUri": "$.transform.OutputUri",
			},
			ResultPath: "$.header",
		},
		statemachine.State{
			Name:     StateMonitorJob,
			Kind:     statemachine.KindProcessingJob,
			Resource: ResourceProcessingJob,
			Parameters: map[string]any{
				"JobName":           "$.input." + FieldMonitorJobName,
				"OutputUri":         "$.input." + FieldMonitorOutputURI,
				"ConstraintsObject": BaselineConstraintsObject,
				"StatisticsObject":  BaselineStatisticsObject,
				"MaxRuntimeSeconds": cfg.Jobs.MonitorMaxRuntimeSeconds,
			},
			ResultPath: "$.monitor",
			Tags:       tags,
			Catch:      statemachine.CatchAllTo(StateMonitorJobFailed),
		},
		statemachine.State{
			Name:     StateQueryMonitorResults,
			Kind:     statemachine.KindFunction,
			Resource: cfg.Functions.QueryMonitorResults,
			Parameters: map[string]any{
				"MonitorJobName":   "$.input." + FieldMonitorJobName,
				"MonitorOutputUri": "$.input." + FieldMonitorOutputURI,
			},
			ResultPath: "$.results",
		},
		statemachine.State{
			Name: StateCheckViolations,
			Kind: statemachine.KindChoice,
			Choices: []statemachine.ChoiceRule{{
				Variable:    MonitorStatusPath,
				Op:          statemachine.OpStringEquals,
				StringValue: cfg.Transform.ExpectedStatus,
				Next:        StateMonitorCompleted,
			}},
			Default: StateCompletedWithViolations,
		},
	).With(
		statemachine.State{
			Name:  StateMonitorJobFailed,
			Kind:  statemachine.KindFail,
			Error: ErrorMonitorJobFailed,
			Cause: "Monitor failed",
		},
		statemachine.State{
			Name: StateMonitorCompleted,
			Kind: statemachine.KindSucceed,
		},
		statemachine.State{
			Name:  StateCompletedWithViolations,
			Kind:  statemachine.KindFail,
			Error: ErrorDriftDetected,
			Cause: "Completed with Violations",
		},
	)

	return statemachine.New(PipelineTransform, chain)
}

// Definition returns the named pipeline's definition.
func Definition(name string, cfg Config) (statemachine.Definition, error) {
	switch name {
	case PipelineTraining:
		return Training(cfg)
	case PipelineTransform:
		return Transform(cfg)
	default:
		return statemachine.Definition{}, fmt.Errorf("unknown pipeline %q", name)
	}
}

// Schema returns the named pipeline's input schema.
func Schema(name string) (InputSchema, error) {
	switch name {
	case PipelineTraining:
		return TrainingInputSchema(), nil
	case PipelineTransform:
		return TransformInputSchema(), nil
	default:
		return InputSchema{}, fmt.Errorf("unknown pipeline %q", name)
	}
}
