package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driftline-labs/driftline-go/internal/domain"
	"github.com/driftline-labs/driftline-go/internal/engine"
	"github.com/driftline-labs/driftline-go/internal/engine/interpreter"
	"github.com/driftline-labs/driftline-go/internal/pipelinedef"
	"github.com/driftline-labs/driftline-go/internal/platform/auditlog"
	"github.com/driftline-labs/driftline-go/internal/platform/auth"
	"github.com/driftline-labs/driftline-go/internal/repo"
	"github.com/driftline-labs/driftline-go/internal/statemachine"
)

type pipelinesAPI struct {
	logger     *slog.Logger
	cfg        pipelinedef.Config
	engine     engine.Engine
	executions repo.ExecutionRepository
	db         *sql.DB
}

func newPipelinesAPI(logger *slog.Logger, cfg pipelinedef.Config, eng engine.Engine, executions repo.ExecutionRepository, db *sql.DB) *pipelinesAPI {
	return &pipelinesAPI{
		logger:     logger,
		cfg:        cfg,
		engine:     eng,
		executions: executions,
		db:         db,
	}
}

func (api *pipelinesAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /pipelines/{pipeline}/definition", api.handleGetDefinition)
	mux.HandleFunc("POST /pipelines/{pipeline}/executions", api.handleSubmitExecution)
	mux.HandleFunc("GET /pipelines/{pipeline}/executions/{execution_id}", api.handleGetExecution)
	mux.HandleFunc("POST /pipelines/{pipeline}/executions/{execution_id}/dryrun", api.handleDryRun)
}

func (api *pipelinesAPI) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	pipeline := strings.TrimSpace(r.PathValue("pipeline"))
	def, err := pipelinedef.Definition(pipeline, api.cfg)
	if err != nil {
		api.writeError(w, r, http.StatusNotFound, "unknown_pipeline")
		return
	}
	raw, err := statemachine.MarshalDefinition(def)
	if err != nil {
		api.logger.Error("marshal definition", "pipeline", pipeline, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

type submitExecutionRequest struct {
	Input map[string]string `json:"input"`
}

type executionResponse struct {
	ExecutionID  string         `json:"execution_id"`
	Pipeline     string         `json:"pipeline"`
	StateMachine string         `json:"state_machine"`
	Status       string         `json:"status"`
	Input        map[string]any `json:"input,omitempty"`
	SubmittedBy  string         `json:"submitted_by,omitempty"`
	SubmittedAt  time.Time      `json:"submitted_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	FailState    string         `json:"fail_state,omitempty"`
	Error        string         `json:"error,omitempty"`
	Cause        string         `json:"cause,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
}

func (api *pipelinesAPI) handleSubmitExecution(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	pipeline := strings.TrimSpace(r.PathValue("pipeline"))
	schema, err := pipelinedef.Schema(pipeline)
	if err != nil {
		api.writeError(w, r, http.StatusNotFound, "unknown_pipeline")
		return
	}

	var req submitExecutionRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := schema.Validate(req.Input); err != nil {
		api.writeErrorDetail(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	def, err := pipelinedef.Definition(pipeline, api.cfg)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	executionID := uuid.NewString()
	status, err := api.engine.StartExecution(r.Context(), def, engine.StartInput{
		ExecutionID: executionID,
		Input:       req.Input,
	})
	if err != nil {
		api.logger.Error("start execution", "pipeline", pipeline, "error", err)
		api.writeError(w, r, http.StatusBadGateway, "engine_unavailable")
		return
	}

	now := time.Now().UTC()
	execution := domain.Execution{
		ID:           status.ExecutionID,
		Pipeline:     pipeline,
		StateMachine: def.Name,
		Status:       status.Status,
		Input:        metadataFromInput(req.Input),
		SubmittedBy:  identity.Subject,
		SubmittedAt:  now,
		UpdatedAt:    now,
		FailState:    status.FailState,
		ErrorName:    status.Error,
		Cause:        status.Cause,
		Output:       domain.Metadata(status.Output),
	}
	if err := api.executions.Create(r.Context(), execution); err != nil {
		api.logger.Error("persist execution", "execution_id", execution.ID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.audit(r, identity, "pipeline.execution.submit", execution.ID, map[string]any{
		"pipeline":      pipeline,
		"state_machine": def.Name,
		"status":        execution.Status,
	})

	api.writeJSON(w, http.StatusCreated, toExecutionResponse(execution))
}

func (api *pipelinesAPI) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	pipeline := strings.TrimSpace(r.PathValue("pipeline"))
	executionID := strings.TrimSpace(r.PathValue("execution_id"))
	if executionID == "" {
		api.writeError(w, r, http.StatusBadRequest, "execution_id_required")
		return
	}

	execution, err := api.executions.Get(r.Context(), executionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "execution_not_found")
			return
		}
		api.logger.Error("load execution", "execution_id", executionID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if execution.Pipeline != pipeline {
		api.writeError(w, r, http.StatusNotFound, "execution_not_found")
		return
	}

	if execution.Status == domain.ExecutionStatusRunning {
		execution = api.refreshExecution(r.Context(), execution)
	}

	api.writeJSON(w, http.StatusOK, toExecutionResponse(execution))
}

// refreshExecution reconciles a running record against the engine. A describe
// failure leaves the stored record untouched.
func (api *pipelinesAPI) refreshExecution(ctx context.Context, execution domain.Execution) domain.Execution {
	status, err := api.engine.DescribeExecution(ctx, execution.ID)
	if err != nil {
		api.logger.Warn("describe execution", "execution_id", execution.ID, "error", err)
		return execution
	}
	if status.Status == execution.Status {
		return execution
	}

	update := repo.ExecutionStatusUpdate{
		Status:    status.Status,
		FailState: status.FailState,
		ErrorName: status.Error,
		Cause:     status.Cause,
		Output:    domain.Metadata(status.Output),
	}
	if err := api.executions.UpdateStatus(ctx, execution.ID, update); err != nil {
		api.logger.Error("update execution status", "execution_id", execution.ID, "error", err)
		return execution
	}

	execution.Status = update.Status
	execution.FailState = update.FailState
	execution.ErrorName = update.ErrorName
	execution.Cause = update.Cause
	execution.Output = update.Output
	execution.UpdatedAt = time.Now().UTC()
	return execution
}

type dryRunRequest struct {
	Input    map[string]string      `json:"input"`
	Simulate interpreter.Simulation `json:"simulate,omitempty"`
}

// handleDryRun interprets the definition locally with simulated task
// outcomes and persists the derived terminal record under the caller's
// execution id. Nothing is submitted to the engine.
func (api *pipelinesAPI) handleDryRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	pipeline := strings.TrimSpace(r.PathValue("pipeline"))
	executionID := strings.TrimSpace(r.PathValue("execution_id"))
	if executionID == "" {
		api.writeError(w, r, http.StatusBadRequest, "execution_id_required")
		return
	}

	schema, err := pipelinedef.Schema(pipeline)
	if err != nil {
		api.writeError(w, r, http.StatusNotFound, "unknown_pipeline")
		return
	}

	var req dryRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := schema.Validate(req.Input); err != nil {
		api.writeErrorDetail(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	def, err := pipelinedef.Definition(pipeline, api.cfg)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	interp, err := interpreter.New(interpreter.NewSimulator(req.Simulate))
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	outcome, err := interp.Run(r.Context(), def, req.Input)
	if err != nil {
		api.logger.Error("dry run", "pipeline", pipeline, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	now := time.Now().UTC()
	execution := domain.Execution{
		ID:           executionID,
		Pipeline:     pipeline,
		StateMachine: def.Name,
		Status:       outcome.Status,
		Input:        metadataFromInput(req.Input),
		SubmittedBy:  identity.Subject,
		SubmittedAt:  now,
		UpdatedAt:    now,
		FailState:    outcome.FailState,
		ErrorName:    outcome.Error,
		Cause:        outcome.Cause,
		Output:       domain.Metadata(outcome.Document),
	}
	if err := api.executions.Create(r.Context(), execution); err != nil {
		api.logger.Error("persist dry run", "execution_id", executionID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.audit(r, identity, "pipeline.execution.dryrun", executionID, map[string]any{
		"pipeline": pipeline,
		"status":   outcome.Status,
	})

	api.writeJSON(w, http.StatusOK, toExecutionResponse(execution))
}

func (api *pipelinesAPI) audit(r *http.Request, identity auth.Identity, action, resourceID string, payload map[string]any) {
	if api.db == nil {
		return
	}
	auditCtx, cancel := context.WithTimeout(r.Context(), 750*time.Millisecond)
	defer cancel()
	_, err := auditlog.Insert(auditCtx, api.db, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        identity.Subject,
		Action:       action,
		ResourceType: "pipeline_execution",
		ResourceID:   resourceID,
		RequestID:    r.Header.Get("X-Request-Id"),
		IP:           requestIP(r.RemoteAddr),
		UserAgent:    r.UserAgent(),
		Payload:      payload,
	})
	if err != nil {
		api.logger.Error("audit insert", "action", action, "resource_id", resourceID, "error", err)
	}
}

func toExecutionResponse(execution domain.Execution) executionResponse {
	return executionResponse{
		ExecutionID:  execution.ID,
		Pipeline:     execution.Pipeline,
		StateMachine: execution.StateMachine,
		Status:       execution.Status,
		Input:        execution.Input,
		SubmittedBy:  execution.SubmittedBy,
		SubmittedAt:  execution.SubmittedAt,
		UpdatedAt:    execution.UpdatedAt,
		FailState:    execution.FailState,
		Error:        execution.ErrorName,
		Cause:        execution.Cause,
		Output:       execution.Output,
	}
}

func metadataFromInput(input map[string]string) domain.Metadata {
	out := make(domain.Metadata, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *pipelinesAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *pipelinesAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func (api *pipelinesAPI) writeErrorDetail(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"detail":     detail,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
