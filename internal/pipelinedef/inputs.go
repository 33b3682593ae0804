package pipelinedef

import (
	"fmt"
	"sort"
	"strings"
)

// Execution input field names shared by both pipelines.
const (
	FieldGitBranch      = "GitBranch"
	FieldGitCommitHash  = "GitCommitHash"
	FieldDataVersionID  = "DataVersionId"
	FieldExperimentName = "ExperimentName"
	FieldTrialName      = "TrialName"

	FieldBaselineJobName   = "BaselineJobName"
	FieldBaselineOutputURI = "BaselineOutputUri"
	FieldTrainingJobName   = "TrainingJobName"
	FieldModelName         = "ModelName"

	FieldTransformJobName = "TransformJobName"
	FieldMonitorJobName   = "MonitorJobName"
	FieldMonitorOutputURI = "MonitorOutputUri"
)

// InputSchema declares the exact set of execution input fields a pipeline
// accepts. The schema is the wire contract: a missing or unknown field is a
// validation error and the execution must not start.
type InputSchema struct {
	Pipeline string
	Fields   []string
}

// TrainingInputSchema returns the training pipeline's input contract.
func TrainingInputSchema() InputSchema {
	return InputSchema{
		Pipeline: PipelineTraining,
		Fields: []string{
			FieldGitBranch,
			FieldGitCommitHash,
			FieldDataVersionID,
			FieldExperimentName,
			FieldTrialName,
			FieldBaselineJobName,
			FieldBaselineOutputURI,
			FieldTrainingJobName,
			FieldModelName,
		},
	}
}

// TransformInputSchema returns the transform pipeline's input contract.
func TransformInputSchema() InputSchema {
	return InputSchema{
		Pipeline: PipelineTransform,
		Fields: []string{
			FieldGitBranch,
			FieldGitCommitHash,
			FieldDataVersionID,
			FieldExperimentName,
			FieldTrialName,
			FieldModelName,
			FieldTransformJobName,
			FieldMonitorJobName,
			FieldMonitorOutputURI,
		},
	}
}

// Validate checks an execution input against the schema. Every declared field
// must be present and non-empty, and no undeclared field may appear.
func (s InputSchema) Validate(input map[string]string) error {
	declared := make(map[string]struct{}, len(s.Fields))
	var issues []string

	for _, field := range s.Fields {
		declared[field] = struct{}{}
		value, ok := input[field]
		if !ok {
			issues = append(issues, fmt.Sprintf("field %q is required", field))
			continue
		}
		if strings.TrimSpace(value) == "" {
			issues = append(issues, fmt.Sprintf("field %q must be non-empty", field))
		}
	}

	unknown := make([]string, 0)
	for field := range input {
		if _, ok := declared[field]; !ok {
			unknown = append(unknown, field)
		}
	}
	sort.Strings(unknown)
	for _, field := range unknown {
		issues = append(issues, fmt.Sprintf("field %q is not part of the %s input schema", field, s.Pipeline))
	}

	if len(issues) > 0 {
		return fmt.Errorf("invalid execution input: %s", strings.Join(issues, "; "))
	}
	return nil
}
