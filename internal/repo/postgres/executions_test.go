package postgres

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/driftline-labs/driftline-go/internal/domain"
)

type captureDB struct {
	query string
	args  []any
}

func (c *captureDB) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	c.query = query
	c.args = args
	return noopResult{}, nil
}

func (c *captureDB) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, sql.ErrNoRows
}

func (c *captureDB) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

type noopResult struct{}

func (noopResult) LastInsertId() (int64, error) { return 0, nil }
func (noopResult) RowsAffected() (int64, error) { return 1, nil }

func TestExecutionQueries(t *testing.T) {
	if !strings.Contains(insertExecutionQuery, "INSERT INTO pipeline_executions") {
		t.Fatalf("insert query targets wrong table")
	}
	for _, column := range []string{"fail_state", "error_name", "cause", "output"} {
		if !strings.Contains(insertExecutionQuery, column) {
			t.Fatalf("insert query missing column %q", column)
		}
	}
	if !strings.Contains(selectExecutionQuery, "WHERE execution_id = $1") {
		t.Fatalf("expected execution_id predicate in select query")
	}
	if !strings.Contains(listExecutionsQuery, "ORDER BY submitted_at DESC") {
		t.Fatalf("expected newest-first ordering in list query")
	}
	if !strings.Contains(listExecutionsQuery, "LIMIT $3") {
		t.Fatalf("expected bounded list query")
	}
	if !strings.Contains(updateExecutionStatusQuery, "WHERE execution_id = $1") {
		t.Fatalf("expected execution_id predicate in update query")
	}
	for _, column := range []string{"fail_state", "error_name", "cause", "output", "updated_at"} {
		if !strings.Contains(updateExecutionStatusQuery, column) {
			t.Fatalf("update query missing column %q", column)
		}
	}
}

func TestExecutionStoreCreatePersistsTerminalDetails(t *testing.T) {
	db := &captureDB{}
	store := NewExecutionStore(db)

	err := store.Create(context.Background(), domain.Execution{
		ID:           "exec-1",
		Pipeline:     "training",
		StateMachine: "training",
		Status:       domain.ExecutionStatusFailed,
		FailState:    "SageMakerCreateModel",
		ErrorName:    "SageMakerTrainingJobFailed",
		Cause:        "validation loss diverged",
		Output:       domain.Metadata{"TrainingJobName": "job-1"},
		SubmittedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}
	if len(db.args) != 12 {
		t.Fatalf("expected 12 insert arguments, got %d", len(db.args))
	}
	failState, ok := db.args[8].(sql.NullString)
	if !ok || !failState.Valid || failState.String != "SageMakerCreateModel" {
		t.Fatalf("fail state not persisted: %#v", db.args[8])
	}
	errorName, ok := db.args[9].(sql.NullString)
	if !ok || !errorName.Valid || errorName.String != "SageMakerTrainingJobFailed" {
		t.Fatalf("error name not persisted: %#v", db.args[9])
	}
	cause, ok := db.args[10].(sql.NullString)
	if !ok || !cause.Valid || cause.String != "validation loss diverged" {
		t.Fatalf("cause not persisted: %#v", db.args[10])
	}
	output, ok := db.args[11].([]byte)
	if !ok || !strings.Contains(string(output), "TrainingJobName") {
		t.Fatalf("output not persisted: %#v", db.args[11])
	}
}

func TestExperimentQueries(t *testing.T) {
	if !strings.Contains(insertExperimentQuery, "ON CONFLICT (name) DO NOTHING") {
		t.Fatalf("expected name-idempotent experiment insert")
	}
	if !strings.Contains(selectExperimentByNameQuery, "WHERE name = $1") {
		t.Fatalf("expected name predicate in experiment select")
	}
	if !strings.Contains(listMetricsQuery, "WHERE job_name = $1") {
		t.Fatalf("expected job_name predicate in metrics query")
	}
	if !strings.Contains(listMetricsQuery, "ORDER BY recorded_at DESC") {
		t.Fatalf("expected newest-first metrics ordering")
	}
}

func TestJobQueries(t *testing.T) {
	if !strings.Contains(upsertJobQuery, "ON CONFLICT (job_name) DO UPDATE") {
		t.Fatalf("expected job upsert conflict clause")
	}
	if !strings.Contains(selectJobQuery, "WHERE job_name = $1") {
		t.Fatalf("expected job_name predicate in job select")
	}
}
