package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/driftline-labs/driftline-go/internal/domain"
)

type JobStore struct {
	db DB
}

const (
	upsertJobQuery = `INSERT INTO managed_jobs (
		job_name,
		kind,
		status,
		recorded_at,
		detail
	) VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (job_name) DO UPDATE SET
		kind = EXCLUDED.kind,
		status = EXCLUDED.status,
		recorded_at = EXCLUDED.recorded_at,
		detail = EXCLUDED.detail`

	selectJobQuery = `SELECT job_name, kind, status, recorded_at, detail
	 FROM managed_jobs
	 WHERE job_name = $1`
)

func NewJobStore(db DB) *JobStore {
	if db == nil {
		return nil
	}
	return &JobStore{db: db}
}

func (s *JobStore) UpsertJob(ctx context.Context, job domain.JobRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job store not initialized")
	}
	if err := job.Validate(); err != nil {
		return err
	}
	detailJSON, err := encodeMetadata(job.Detail)
	if err != nil {
		return fmt.Errorf("encode detail: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		upsertJobQuery,
		strings.TrimSpace(job.Name),
		job.Kind,
		strings.TrimSpace(job.Status),
		normalizeTime(job.RecordedAt),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

func (s *JobStore) GetJob(ctx context.Context, name string) (domain.JobRecord, error) {
	if s == nil || s.db == nil {
		return domain.JobRecord{}, fmt.Errorf("job store not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.JobRecord{}, fmt.Errorf("job name is required")
	}
	var job domain.JobRecord
	var detailJSON []byte
	row := s.db.QueryRowContext(ctx, selectJobQuery, name)
	if err := row.Scan(&job.Name, &job.Kind, &job.Status, &job.RecordedAt, &detailJSON); err != nil {
		return domain.JobRecord{}, handleNotFound(err)
	}
	detail, err := decodeMetadata(detailJSON)
	if err != nil {
		return domain.JobRecord{}, fmt.Errorf("decode detail: %w", err)
	}
	job.Detail = detail
	return job, nil
}
