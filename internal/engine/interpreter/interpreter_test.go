package interpreter

import (
	"context"
	"testing"

	"github.com/driftline-labs/driftline-go/internal/pipelinedef"
	"github.com/driftline-labs/driftline-go/internal/statemachine"
)

func trainingInput() map[string]string {
	return map[string]string{
		pipelinedef.FieldGitBranch:         "main",
		pipelinedef.FieldGitCommitHash:     "0a1b2c3",
		pipelinedef.FieldDataVersionID:     "dv-42",
		pipelinedef.FieldExperimentName:    "taxi-duration",
		pipelinedef.FieldTrialName:         "trial-7",
		pipelinedef.FieldBaselineJobName:   "baseline-7",
		pipelinedef.FieldBaselineOutputURI: "s3://artifacts/baseline-7",
		pipelinedef.FieldTrainingJobName:   "train-7",
		pipelinedef.FieldModelName:         "taxi-model",
	}
}

func transformInput() map[string]string {
	return map[string]string{
		pipelinedef.FieldGitBranch:        "main",
		pipelinedef.FieldGitCommitHash:    "0a1b2c3",
		pipelinedef.FieldDataVersionID:    "dv-42",
		pipelinedef.FieldExperimentName:   "taxi-duration",
		pipelinedef.FieldTrialName:        "trial-7",
		pipelinedef.FieldModelName:        "taxi-model",
		pipelinedef.FieldTransformJobName: "transform-7",
		pipelinedef.FieldMonitorJobName:   "monitor-7",
		pipelinedef.FieldMonitorOutputURI: "s3://artifacts/monitor-7",
	}
}

func runTraining(t *testing.T, sim Simulation) Outcome {
	t.Helper()
	def, err := pipelinedef.Training(pipelinedef.DefaultConfig())
	if err != nil {
		t.Fatalf("Training() err=%v", err)
	}
	interp, err := New(NewSimulator(sim))
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	outcome, err := interp.Run(context.Background(), def, trainingInput())
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	return outcome
}

func runTransform(t *testing.T, sim Simulation) Outcome {
	t.Helper()
	def, err := pipelinedef.Transform(pipelinedef.DefaultConfig())
	if err != nil {
		t.Fatalf("Transform() err=%v", err)
	}
	interp, err := New(NewSimulator(sim))
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	outcome, err := interp.Run(context.Background(), def, transformInput())
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	return outcome
}

func metricsResult(value float64) map[string]any {
	return map[string]any{
		"TrainingMetrics": []any{
			map[string]any{"MetricName": "rmse", "Value": value},
		},
	}
}

func TestTrainingSucceedsBelowThreshold(t *testing.T) {
	outcome := runTraining(t, Simulation{
		pipelinedef.StateQueryTrainingMetrics: {Result: metricsResult(9.99)},
	})
	if outcome.Status != StatusSucceeded {
		t.Fatalf("status=%q fail_state=%q error=%q cause=%q", outcome.Status, outcome.FailState, outcome.Error, outcome.Cause)
	}
}

func TestTrainingFailsAtExactThreshold(t *testing.T) {
	outcome := runTraining(t, Simulation{
		pipelinedef.StateQueryTrainingMetrics: {Result: metricsResult(10)},
	})
	if outcome.Status != StatusFailed {
		t.Fatalf("metric exactly at threshold must fail, got %q", outcome.Status)
	}
	if outcome.FailState != pipelinedef.StateModelErrorTooLow {
		t.Fatalf("fail state=%q, want %q", outcome.FailState, pipelinedef.StateModelErrorTooLow)
	}
	if outcome.Error != pipelinedef.ErrorModelErrorTooLow {
		t.Fatalf("error=%q, want %q", outcome.Error, pipelinedef.ErrorModelErrorTooLow)
	}
}

func TestTrainingFailsAboveThreshold(t *testing.T) {
	outcome := runTraining(t, Simulation{
		pipelinedef.StateQueryTrainingMetrics: {Result: metricsResult(23.4)},
	})
	if outcome.Status != StatusFailed || outcome.FailState != pipelinedef.StateModelErrorTooLow {
		t.Fatalf("status=%q fail_state=%q", outcome.Status, outcome.FailState)
	}
}

func TestBaselineFailureSurfacesBaselineError(t *testing.T) {
	outcome := runTraining(t, Simulation{
		pipelinedef.StateBaselineJob:          {Fail: true, Message: "container exited"},
		pipelinedef.StateQueryTrainingMetrics: {Result: metricsResult(5)},
	})
	if outcome.Status != StatusFailed {
		t.Fatalf("status=%q", outcome.Status)
	}
	if outcome.FailState != pipelinedef.StateBaselineJobFailed {
		t.Fatalf("fail state=%q, want %q", outcome.FailState, pipelinedef.StateBaselineJobFailed)
	}
	if outcome.Error != pipelinedef.ErrorBaselineJobFailed {
		t.Fatalf("error=%q, want %q", outcome.Error, pipelinedef.ErrorBaselineJobFailed)
	}
	if outcome.Cause != "Baseline failed" {
		t.Fatalf("cause=%q", outcome.Cause)
	}
}

func TestBaselineFailureWinsWhenBothBranchesFail(t *testing.T) {
	outcome := runTraining(t, Simulation{
		pipelinedef.StateBaselineJob: {Fail: true},
		pipelinedef.StateTrainingJob: {Fail: true},
	})
	if outcome.Status != StatusFailed {
		t.Fatalf("status=%q", outcome.Status)
	}
	if outcome.Error != pipelinedef.ErrorBaselineJobFailed {
		t.Fatalf("error=%q, want the baseline branch to decide", outcome.Error)
	}
}

func TestTrainingJobFailureSurfacesTrainingError(t *testing.T) {
	outcome := runTraining(t, Simulation{
		pipelinedef.StateTrainingJob: {Fail: true},
	})
	if outcome.Status != StatusFailed || outcome.Error != pipelinedef.ErrorTrainingJobFailed {
		t.Fatalf("status=%q error=%q", outcome.Status, outcome.Error)
	}
	if outcome.FailState != pipelinedef.StateTrainingJobFailed {
		t.Fatalf("fail state=%q", outcome.FailState)
	}
}

func TestUncaughtTaskFailureHasNoFailState(t *testing.T) {
	outcome := runTraining(t, Simulation{
		pipelinedef.StateSaveModel: {Fail: true, ErrorName: "RegistryUnavailable", Message: "registry down"},
	})
	if outcome.Status != StatusFailed {
		t.Fatalf("status=%q", outcome.Status)
	}
	if outcome.FailState != "" {
		t.Fatalf("uncaught failure must not reach a named fail state, got %q", outcome.FailState)
	}
	if outcome.Error != "RegistryUnavailable" {
		t.Fatalf("error=%q", outcome.Error)
	}
}

func TestTransformSucceedsOnCompletedStatus(t *testing.T) {
	outcome := runTransform(t, Simulation{
		pipelinedef.StateQueryMonitorResults: {Result: map[string]any{"ProcessingJobStatus": "Completed"}},
	})
	if outcome.Status != StatusSucceeded {
		t.Fatalf("status=%q fail_state=%q error=%q", outcome.Status, outcome.FailState, outcome.Error)
	}
}

func TestTransformViolationsRouteToDriftFailure(t *testing.T) {
	for _, status := range []string{"CompletedWithViolations", "completed", "Stopped"} {
		outcome := runTransform(t, Simulation{
			pipelinedef.StateQueryMonitorResults: {Result: map[string]any{"ProcessingJobStatus": status}},
		})
		if outcome.Status != StatusFailed {
			t.Fatalf("status %q: outcome=%q, want failure", status, outcome.Status)
		}
		if outcome.FailState != pipelinedef.StateCompletedWithViolations {
			t.Fatalf("status %q: fail state=%q", status, outcome.FailState)
		}
		if outcome.Error != pipelinedef.ErrorDriftDetected {
			t.Fatalf("status %q: error=%q", status, outcome.Error)
		}
	}
}

func TestMonitorJobFailureIsCaught(t *testing.T) {
	outcome := runTransform(t, Simulation{
		pipelinedef.StateMonitorJob: {Fail: true},
	})
	if outcome.Status != StatusFailed || outcome.Error != pipelinedef.ErrorMonitorJobFailed {
		t.Fatalf("status=%q error=%q", outcome.Status, outcome.Error)
	}
	if outcome.FailState != pipelinedef.StateMonitorJobFailed {
		t.Fatalf("fail state=%q", outcome.FailState)
	}
}

func TestSimulatorRecordsResolvedParameters(t *testing.T) {
	var captured map[string]any
	handler := TaskHandlerFunc(func(ctx context.Context, task Task) (any, error) {
		if task.State.Name == pipelinedef.StateCreateExperiment {
			captured = task.Parameters
		}
		return map[string]any{}, nil
	})
	def, err := pipelinedef.Training(pipelinedef.DefaultConfig())
	if err != nil {
		t.Fatalf("Training() err=%v", err)
	}
	interp, err := New(handler)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	outcome, err := interp.Run(context.Background(), def, trainingInput())
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	// Without a simulated metric the choice variable is absent and the
	// execution fails as a generic task failure.
	if outcome.Status != StatusFailed {
		t.Fatalf("status=%q", outcome.Status)
	}
	if captured == nil {
		t.Fatalf("create-experiment handler not invoked")
	}
	if captured["ExperimentName"] != "taxi-duration" || captured["TrialName"] != "trial-7" {
		t.Fatalf("parameters not resolved against the input: %+v", captured)
	}
}

func TestChoiceVariableMissingFailsExecution(t *testing.T) {
	outcome := runTraining(t, Simulation{})
	if outcome.Status != StatusFailed {
		t.Fatalf("status=%q", outcome.Status)
	}
	if outcome.FailState != "" {
		t.Fatalf("missing choice variable must not reach a named fail state, got %q", outcome.FailState)
	}
	if outcome.Error != statemachine.ErrorTaskFailed {
		t.Fatalf("error=%q, want %q", outcome.Error, statemachine.ErrorTaskFailed)
	}
}
