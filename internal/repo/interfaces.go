package repo

import (
	"context"
	"errors"

	"github.com/driftline-labs/driftline-go/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type ExecutionFilter struct {
	Pipeline string
	Status   string
	Limit    int
}

type MetricFilter struct {
	JobName    string
	MetricName string
	Limit      int
}

// ExecutionStatusUpdate carries the fields that may change after a
// describe call against the engine.
type ExecutionStatusUpdate struct {
	Status    string
	FailState string
	ErrorName string
	Cause     string
	Output    domain.Metadata
}

// ExecutionRepository persists pipeline execution records.
type ExecutionRepository interface {
	Create(ctx context.Context, execution domain.Execution) error
	Get(ctx context.Context, id string) (domain.Execution, error)
	List(ctx context.Context, filter ExecutionFilter) ([]domain.Execution, error)
	UpdateStatus(ctx context.Context, id string, update ExecutionStatusUpdate) error
}

// ExperimentRepository manages experiments, trials, and training metrics.
type ExperimentRepository interface {
	CreateExperiment(ctx context.Context, experiment domain.Experiment) error
	GetExperimentByName(ctx context.Context, name string) (domain.Experiment, error)
	CreateTrial(ctx context.Context, trial domain.Trial) error
	RecordMetric(ctx context.Context, metric domain.TrainingMetric) error
	ListMetrics(ctx context.Context, filter MetricFilter) ([]domain.TrainingMetric, error)
}

// JobRepository tracks managed job statuses.
type JobRepository interface {
	UpsertJob(ctx context.Context, job domain.JobRecord) error
	GetJob(ctx context.Context, name string) (domain.JobRecord, error)
}
