package pipelinedef

import (
	"fmt"

	"github.com/driftline-labs/driftline-go/internal/statemachine"
)

// Training pipeline state names.
const (
	StateCreateExperiment     = "CreateExperiment"
	StateSageMakerJobs        = "SageMakerJobs"
	StateBaselineJob          = "BaselineJob"
	StateBaselineJobFailed    = "BaselineJobFailed"
	StateTrainingJob          = "TrainingJob"
	StateTrainingJobFailed    = "TrainingJobFailed"
	StateSaveModel            = "SaveModel"
	StateQueryTrainingMetrics = "QueryTrainingMetrics"
	StateCheckAccuracy        = "CheckAccuracy"
	StateModelErrorAcceptable = "Model Error Acceptable"
	StateModelErrorTooLow     = "Model Error Too Low"
)

// Errors raised by the training pipeline's fail states.
const (
	ErrorBaselineJobFailed = "SageMakerBaselineJobFailed"
	ErrorTrainingJobFailed = "SageMakerTrainingJobFailed"
	ErrorModelErrorTooLow  = "ModelErrorTooLow"
)

// MetricValuePath is the dotted path CheckAccuracy reads the queried metric
// value from after QueryTrainingMetrics has merged its result.
const MetricValuePath = "$.results.TrainingMetrics[0].Value"

// Resource identifiers for managed-job states.
const (
	ResourceTrainingJob       = "managed/training-job"
	ResourceProcessingJob     = "managed/processing-job"
	ResourceTransformJob      = "managed/transform-job"
	ResourceModelRegistration = "managed/model-registration"
)

// Training builds the training pipeline definition:
// CreateExperiment, then a baseline branch and a train-evaluate branch run in
// parallel. Job failures are caught at branch level and routed to named fail
// states; failures of CreateExperiment, SaveModel and QueryTrainingMetrics
// are deliberately uncaught and surface as generic task failures.
func Training(cfg Config) (statemachine.Definition, error) {
	if err := cfg.Validate(); err != nil {
		return statemachine.Definition{}, fmt.Errorf("pipeline config: %w", err)
	}

	experiment := statemachine.ExperimentConfig{
		ExperimentName: "$.input." + FieldExperimentName,
		TrialName:      "$.input." + FieldTrialName,
	}
	tags := map[string]string{
		"GitBranch":     "$.input." + FieldGitBranch,
		"GitCommitHash": "$.input." + FieldGitCommitHash,
		"DataVersionId": "$.input." + FieldDataVersionID,
	}

	baselineBranch := statemachine.NewChain(
		statemachine.State{
			Name:     StateBaselineJob,
			Kind:     statemachine.KindProcessingJob,
			Resource: ResourceProcessingJob,
			Parameters: map[string]any{
				"JobName":           "$.input." + FieldBaselineJobName,
				"OutputUri":         "$.input." + FieldBaselineOutputURI,
				"MaxRuntimeSeconds": cfg.Jobs.BaselineMaxRuntimeSeconds,
			},
			ResultPath: "$.baseline",
			Tags:       tags,
			Experiment: experiment,
			Catch:      statemachine.CatchAllTo(StateBaselineJobFailed),
		},
	).With(statemachine.State{
		Name:  StateBaselineJobFailed,
		Kind:  statemachine.KindFail,
		Error: ErrorBaselineJobFailed,
		Cause: "Baseline failed",
	})

	trainBranch := statemachine.NewChain(
		statemachine.State{
			Name:     StateTrainingJob,
			Kind:     statemachine.KindTrainingJob,
			Resource: ResourceTrainingJob,
			Parameters: map[string]any{
				"JobName":       "$.input." + FieldTrainingJobName,
				"DataVersionId": "$.input." + FieldDataVersionID,
			},
			ResultPath: "$.training",
			Tags:       tags,
			Experiment: experiment,
			Catch:      statemachine.CatchAllTo(StateTrainingJobFailed),
		},
		statemachine.State{
			Name:     StateSaveModel,
			Kind:     statemachine.KindModelRegistration,
			Resource: ResourceModelRegistration,
			Parameters: map[string]any{
				"ModelName":     "$.input." + FieldModelName,
				"ModelArtifact": "$.training.ModelArtifactUri",
			},
			ResultPath: "$.model",
			Tags:       tags,
		},
		statemachine.State{
			Name:     StateQueryTrainingMetrics,
			Kind:     statemachine.KindFunction,
			Resource: cfg.Functions.QueryTrainingMetrics,
			Parameters: map[string]any{
				"TrainingJobName": "$.input." + FieldTrainingJobName,
				"MetricName":      cfg.Training.MetricName,
			},
			ResultPath: "$.results",
		},
		statemachine.State{
			Name: StateCheckAccuracy,
			Kind: statemachine.KindChoice,
			Choices: []statemachine.ChoiceRule{{
				Variable:     MetricValuePath,
				Op:           statemachine.OpNumericLessThan,
				NumericValue: cfg.Training.MetricThreshold,
				Next:         StateModelErrorAcceptable,
			}},
			Default: StateModelErrorTooLow,
		},
	).With(
		statemachine.State{
			Name:  StateTrainingJobFailed,
			Kind:  statemachine.KindFail,
			Error: ErrorTrainingJobFailed,
			Cause: "Training failed",
		},
		statemachine.State{
			Name: StateModelErrorAcceptable,
			Kind: statemachine.KindSucceed,
		},
		statemachine.State{
			Name:  StateModelErrorTooLow,
			Kind:  statemachine.KindFail,
			Error: ErrorModelErrorTooLow,
			Cause: fmt.Sprintf("%s is not below %v", cfg.Training.MetricName, cfg.Training.MetricThreshold),
		},
	)

	chain := statemachine.NewChain(
		statemachine.State{
			Name:     StateCreateExperiment,
			Kind:     statemachine.KindFunction,
			Resource: cfg.Functions.CreateExperiment,
			Parameters: map[string]any{
				"ExperimentName": "$.input." + FieldExperimentName,
				"TrialName":      "$.input." + FieldTrialName,
				"GitBranch":      "$.input." + FieldGitBranch,
				"GitCommitHash":  "$.input." + FieldGitCommitHash,
				"DataVersionId":  "$.input." + FieldDataVersionID,
			},
			ResultPath: "$.experiment",
		},
		statemachine.State{
			Name:       StateSageMakerJobs,
			Kind:       statemachine.KindParallel,
			Branches:   []statemachine.Chain{baselineBranch, trainBranch},
			ResultPath: "$.jobs",
		},
	)

	return statemachine.New(PipelineTraining, chain)
}
