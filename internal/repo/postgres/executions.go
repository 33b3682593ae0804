package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/driftline-labs/driftline-go/internal/domain"
	"github.com/driftline-labs/driftline-go/internal/repo"
)

type ExecutionStore struct {
	db DB
}

const (
	insertExecutionQuery = `INSERT INTO pipeline_executions (
		execution_id,
		pipeline,
		state_machine,
		status,
		input,
		submitted_by,
		submitted_at,
		updated_at,
		fail_state,
		error_name,
		cause,
		output
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	selectExecutionQuery = `SELECT execution_id, pipeline, state_machine, status, input,
		submitted_by, submitted_at, updated_at, fail_state, error_name, cause, output
	 FROM pipeline_executions
	 WHERE execution_id = $1`

	listExecutionsQuery = `SELECT execution_id, pipeline, state_machine, status, input,
		submitted_by, submitted_at, updated_at, fail_state, error_name, cause, output
	 FROM pipeline_executions
	 WHERE ($1 = '' OR pipeline = $1)
	   AND ($2 = '' OR status = $2)
	 ORDER BY submitted_at DESC
	 LIMIT $3`

	updateExecutionStatusQuery = `UPDATE pipeline_executions
	 SET status = $2,
	     fail_state = $3,
	     error_name = $4,
	     cause = $5,
	     output = $6,
	     updated_at = $7
	 WHERE execution_id = $1`
)

func NewExecutionStore(db DB) *ExecutionStore {
	if db == nil {
		return nil
	}
	return &ExecutionStore{db: db}
}

func (s *ExecutionStore) Create(ctx context.Context, execution domain.Execution) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	if err := execution.Validate(); err != nil {
		return err
	}
	inputJSON, err := encodeMetadata(execution.Input)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	outputJSON, err := encodeMetadata(execution.Output)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	submittedAt := normalizeTime(execution.SubmittedAt)
	updatedAt := execution.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = submittedAt
	}
	_, err = s.db.ExecContext(
		ctx,
		insertExecutionQuery,
		strings.TrimSpace(execution.ID),
		strings.TrimSpace(execution.Pipeline),
		strings.TrimSpace(execution.StateMachine),
		strings.TrimSpace(execution.Status),
		inputJSON,
		nullIfEmpty(execution.SubmittedBy),
		submittedAt,
		updatedAt.UTC(),
		nullIfEmpty(execution.FailState),
		nullIfEmpty(execution.ErrorName),
		nullIfEmpty(execution.Cause),
		outputJSON,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *ExecutionStore) Get(ctx context.Context, id string) (domain.Execution, error) {
	if s == nil || s.db == nil {
		return domain.Execution{}, fmt.Errorf("execution store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Execution{}, fmt.Errorf("execution id is required")
	}
	row := s.db.QueryRowContext(ctx, selectExecutionQuery, id)
	execution, err := scanExecution(row)
	if err != nil {
		return domain.Execution{}, handleNotFound(err)
	}
	return execution, nil
}

func (s *ExecutionStore) List(ctx context.Context, filter repo.ExecutionFilter) ([]domain.Execution, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("execution store not initialized")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		listExecutionsQuery,
		strings.TrimSpace(filter.Pipeline),
		strings.TrimSpace(filter.Status),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Execution, 0)
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}

func (s *ExecutionStore) UpdateStatus(ctx context.Context, id string, update repo.ExecutionStatusUpdate) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("execution id is required")
	}
	if strings.TrimSpace(update.Status) == "" {
		return fmt.Errorf("status is required")
	}
	outputJSON, err := encodeMetadata(update.Output)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	result, err := s.db.ExecContext(
		ctx,
		updateExecutionStatusQuery,
		id,
		strings.TrimSpace(update.Status),
		nullIfEmpty(update.FailState),
		nullIfEmpty(update.ErrorName),
		nullIfEmpty(update.Cause),
		outputJSON,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (domain.Execution, error) {
	var execution domain.Execution
	var inputJSON []byte
	var outputJSON []byte
	var submittedBy sql.NullString
	var failState sql.NullString
	var errorName sql.NullString
	var cause sql.NullString
	if err := row.Scan(
		&execution.ID,
		&execution.Pipeline,
		&execution.StateMachine,
		&execution.Status,
		&inputJSON,
		&submittedBy,
		&execution.SubmittedAt,
		&execution.UpdatedAt,
		&failState,
		&errorName,
		&cause,
		&outputJSON,
	); err != nil {
		return domain.Execution{}, err
	}
	input, err := decodeMetadata(inputJSON)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("decode input: %w", err)
	}
	output, err := decodeMetadata(outputJSON)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("decode output: %w", err)
	}
	execution.Input = input
	execution.Output = output
	execution.SubmittedBy = submittedBy.String
	execution.FailState = failState.String
	execution.ErrorName = errorName.String
	execution.Cause = cause.String
	return execution, nil
}
