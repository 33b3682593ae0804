package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/driftline-labs/driftline-go/internal/domain"
	"github.com/driftline-labs/driftline-go/internal/repo"
)

type ExperimentStore struct {
	db DB
}

const (
	insertExperimentQuery = `INSERT INTO experiments (
		experiment_id,
		name,
		created_by,
		created_at,
		metadata
	) VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (name) DO NOTHING`

	selectExperimentByNameQuery = `SELECT experiment_id, name, created_by, created_at, metadata
	 FROM experiments
	 WHERE name = $1`

	insertTrialQuery = `INSERT INTO trials (
		trial_id,
		experiment_id,
		name,
		created_at
	) VALUES ($1,$2,$3,$4)`

	insertMetricQuery = `INSERT INTO training_metrics (
		job_name,
		metric_name,
		value,
		recorded_at
	) VALUES ($1,$2,$3,$4)`

	listMetricsQuery = `SELECT job_name, metric_name, value, recorded_at
	 FROM training_metrics
	 WHERE job_name = $1
	   AND ($2 = '' OR metric_name = $2)
	 ORDER BY recorded_at DESC
	 LIMIT $3`
)

func NewExperimentStore(db DB) *ExperimentStore {
	if db == nil {
		return nil
	}
	return &ExperimentStore{db: db}
}

func (s *ExperimentStore) CreateExperiment(ctx context.Context, experiment domain.Experiment) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("experiment store not initialized")
	}
	if experiment.CreatedAt.IsZero() {
		experiment.CreatedAt = normalizeTime(experiment.CreatedAt)
	}
	if err := experiment.Validate(); err != nil {
		return err
	}
	metadataJSON, err := encodeMetadata(experiment.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		insertExperimentQuery,
		strings.TrimSpace(experiment.ID),
		strings.TrimSpace(experiment.Name),
		nullIfEmpty(experiment.CreatedBy),
		experiment.CreatedAt.UTC(),
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}
	return nil
}

func (s *ExperimentStore) GetExperimentByName(ctx context.Context, name string) (domain.Experiment, error) {
	if s == nil || s.db == nil {
		return domain.Experiment{}, fmt.Errorf("experiment store not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Experiment{}, fmt.Errorf("experiment name is required")
	}
	var experiment domain.Experiment
	var createdBy sql.NullString
	var metadataJSON []byte
	row := s.db.QueryRowContext(ctx, selectExperimentByNameQuery, name)
	if err := row.Scan(&experiment.ID, &experiment.Name, &createdBy, &experiment.CreatedAt, &metadataJSON); err != nil {
		return domain.Experiment{}, handleNotFound(err)
	}
	metadata, err := decodeMetadata(metadataJSON)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("decode metadata: %w", err)
	}
	experiment.CreatedBy = createdBy.String
	experiment.Metadata = metadata
	return experiment, nil
}

func (s *ExperimentStore) CreateTrial(ctx context.Context, trial domain.Trial) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("experiment store not initialized")
	}
	if trial.CreatedAt.IsZero() {
		trial.CreatedAt = normalizeTime(trial.CreatedAt)
	}
	if err := trial.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertTrialQuery,
		strings.TrimSpace(trial.ID),
		strings.TrimSpace(trial.ExperimentID),
		strings.TrimSpace(trial.Name),
		trial.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert trial: %w", err)
	}
	return nil
}

func (s *ExperimentStore) RecordMetric(ctx context.Context, metric domain.TrainingMetric) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("experiment store not initialized")
	}
	if err := metric.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertMetricQuery,
		strings.TrimSpace(metric.JobName),
		strings.TrimSpace(metric.MetricName),
		metric.Value,
		normalizeTime(metric.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}
	return nil
}

func (s *ExperimentStore) ListMetrics(ctx context.Context, filter repo.MetricFilter) ([]domain.TrainingMetric, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("experiment store not initialized")
	}
	jobName := strings.TrimSpace(filter.JobName)
	if jobName == "" {
		return nil, fmt.Errorf("job name is required")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, listMetricsQuery, jobName, strings.TrimSpace(filter.MetricName), limit)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TrainingMetric, 0)
	for rows.Next() {
		var metric domain.TrainingMetric
		if err := rows.Scan(&metric.JobName, &metric.MetricName, &metric.Value, &metric.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, metric)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics: %w", err)
	}
	return out, nil
}
