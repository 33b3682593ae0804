package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driftline-labs/driftline-go/internal/domain"
	"github.com/driftline-labs/driftline-go/internal/pipelinedef"
	"github.com/driftline-labs/driftline-go/internal/platform/objectstore"
	"github.com/driftline-labs/driftline-go/internal/repo"
	"github.com/driftline-labs/driftline-go/internal/tasks"
)

// StatusCompletedWithViolations is reported when the monitor job completed
// but wrote a violations report.
const StatusCompletedWithViolations = "CompletedWithViolations"

type functionsAPI struct {
	logger      *slog.Logger
	experiments repo.ExperimentRepository
	jobs        repo.JobRepository
	store       objectstore.Store
	storeCfg    objectstore.Config
}

func newFunctionsAPI(logger *slog.Logger, experiments repo.ExperimentRepository, jobs repo.JobRepository, store objectstore.Store, storeCfg objectstore.Config) *functionsAPI {
	return &functionsAPI{
		logger:      logger,
		experiments: experiments,
		jobs:        jobs,
		store:       store,
		storeCfg:    storeCfg,
	}
}

func (api *functionsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /functions/create-experiment", api.handleCreateExperiment)
	mux.HandleFunc("POST /functions/query-training-metrics", api.handleQueryTrainingMetrics)
	mux.HandleFunc("POST /functions/add-header", api.handleAddHeader)
	mux.HandleFunc("POST /functions/join-predictions", api.handleJoinPredictions)
	mux.HandleFunc("POST /functions/query-monitor-results", api.handleQueryMonitorResults)

	mux.HandleFunc("POST /functions/record-job-status", api.handleRecordJobStatus)
	mux.HandleFunc("POST /functions/record-training-metric", api.handleRecordTrainingMetric)
}

type createExperimentRequest struct {
	ExperimentName string `json:"ExperimentName"`
	TrialName      string `json:"TrialName"`
	GitBranch      string `json:"GitBranch,omitempty"`
	GitCommitHash  string `json:"GitCommitHash,omitempty"`
	DataVersionID  string `json:"DataVersionId,omitempty"`
}

// handleCreateExperiment upserts the experiment by name and always creates a
// fresh trial under it. Resubmitting a pipeline with the same experiment name
// reuses the experiment.
func (api *functionsAPI) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	experimentName := strings.TrimSpace(req.ExperimentName)
	trialName := strings.TrimSpace(req.TrialName)
	if experimentName == "" || trialName == "" {
		api.writeError(w, r, http.StatusBadRequest, "experiment_and_trial_required")
		return
	}

	experiment, err := api.experiments.GetExperimentByName(r.Context(), experimentName)
	if errors.Is(err, repo.ErrNotFound) {
		experiment = domain.Experiment{
			ID:        uuid.NewString(),
			Name:      experimentName,
			CreatedAt: time.Now().UTC(),
			Metadata: domain.Metadata{
				"git_branch":      req.GitBranch,
				"git_commit_hash": req.GitCommitHash,
				"data_version_id": req.DataVersionID,
			},
		}
		if err := api.experiments.CreateExperiment(r.Context(), experiment); err != nil {
			api.logger.Error("create experiment", "name", experimentName, "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		// The insert is ON CONFLICT DO NOTHING; re-load so a concurrent
		// create resolves to the winning row.
		experiment, err = api.experiments.GetExperimentByName(r.Context(), experimentName)
		if err != nil {
			api.logger.Error("load experiment", "name", experimentName, "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
	} else if err != nil {
		api.logger.Error("load experiment", "name", experimentName, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	trial := domain.Trial{
		ID:           uuid.NewString(),
		ExperimentID: experiment.ID,
		Name:         trialName,
		CreatedAt:    time.Now().UTC(),
	}
	if err := api.experiments.CreateTrial(r.Context(), trial); err != nil {
		api.logger.Error("create trial", "name", trialName, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"ExperimentId":   experiment.ID,
		"ExperimentName": experiment.Name,
		"TrialId":        trial.ID,
		"TrialName":      trial.Name,
	})
}

type queryTrainingMetricsRequest struct {
	TrainingJobName string `json:"TrainingJobName"`
	MetricName      string `json:"MetricName"`
}

type trainingMetricPayload struct {
	MetricName string  `json:"MetricName"`
	Value      float64 `json:"Value"`
}

// handleQueryTrainingMetrics returns the most recent value recorded for the
// named metric of a training job, in the shape the CheckAccuracy choice
// reads: TrainingMetrics[0].Value.
func (api *functionsAPI) handleQueryTrainingMetrics(w http.ResponseWriter, r *http.Request) {
	var req queryTrainingMetricsRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	jobName := strings.TrimSpace(req.TrainingJobName)
	if jobName == "" {
		api.writeError(w, r, http.StatusBadRequest, "training_job_name_required")
		return
	}

	metrics, err := api.experiments.ListMetrics(r.Context(), repo.MetricFilter{
		JobName:    jobName,
		MetricName: strings.TrimSpace(req.MetricName),
		Limit:      10,
	})
	if err != nil {
		api.logger.Error("list metrics", "job_name", jobName, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if len(metrics) == 0 {
		api.writeError(w, r, http.StatusNotFound, "metrics_not_found")
		return
	}

	payload := make([]trainingMetricPayload, 0, len(metrics))
	for _, metric := range metrics {
		payload = append(payload, trainingMetricPayload{
			MetricName: metric.MetricName,
			Value:      metric.Value,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"TrainingMetrics": payload})
}

type addHeaderRequest struct {
	TransformOutputURI string `json:"TransformOutputUri"`
}

func (api *functionsAPI) handleAddHeader(w http.ResponseWriter, r *http.Request) {
	var req addHeaderRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	bucket, key, err := splitObjectURI(req.TransformOutputURI, api.storeCfg.BucketArtifacts)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_output_uri")
		return
	}

	writer, err := tasks.NewHeaderWriter(api.store, bucket)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	added, err := writer.AddHeader(r.Context(), key)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			api.writeError(w, r, http.StatusNotFound, "object_not_found")
			return
		}
		api.logger.Error("add header", "bucket", bucket, "key", key, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"HeaderAdded": added,
		"OutputUri":   strings.TrimSpace(req.TransformOutputURI),
	})
}

type joinPredictionsRequest struct {
	InputURI       string `json:"InputUri"`
	PredictionsURI string `json:"PredictionsUri"`
	OutputURI      string `json:"OutputUri"`
	DropHeader     bool   `json:"DropHeader,omitempty"`
}

// handleJoinPredictions applies the transform output filter: the first input
// column is dropped, the remaining columns are kept and the prediction is
// appended as the final column. The joined object keeps one row per consumed
// input row.
func (api *functionsAPI) handleJoinPredictions(w http.ResponseWriter, r *http.Request) {
	var req joinPredictionsRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	inBucket, inKey, err := splitObjectURI(req.InputURI, api.storeCfg.BucketDatasets)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_input_uri")
		return
	}
	predBucket, predKey, err := splitObjectURI(req.PredictionsURI, api.storeCfg.BucketArtifacts)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_predictions_uri")
		return
	}
	outBucket, outKey, err := splitObjectURI(req.OutputURI, api.storeCfg.BucketArtifacts)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_output_uri")
		return
	}

	input, _, err := api.store.Get(r.Context(), inBucket, inKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			api.writeError(w, r, http.StatusNotFound, "object_not_found")
			return
		}
		api.logger.Error("get join input", "bucket", inBucket, "key", inKey, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer input.Close()

	predictions, _, err := api.store.Get(r.Context(), predBucket, predKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			api.writeError(w, r, http.StatusNotFound, "object_not_found")
			return
		}
		api.logger.Error("get predictions", "bucket", predBucket, "key", predKey, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer predictions.Close()

	var joined bytes.Buffer
	rows, err := tasks.JoinPredictions(input, predictions, &joined, req.DropHeader)
	if err != nil {
		api.writeErrorDetail(w, r, http.StatusUnprocessableEntity, "join_failed", err.Error())
		return
	}

	if err := api.store.Put(r.Context(), outBucket, outKey, bytes.NewReader(joined.Bytes()), int64(joined.Len()), "text/csv"); err != nil {
		api.logger.Error("put joined output", "bucket", outBucket, "key", outKey, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"RowsJoined": rows,
		"OutputUri":  strings.TrimSpace(req.OutputURI),
	})
}

type queryMonitorResultsRequest struct {
	MonitorJobName   string `json:"MonitorJobName"`
	MonitorOutputURI string `json:"MonitorOutputUri"`
}

// handleQueryMonitorResults reports the monitor job's terminal status. A
// completed job that wrote a violations report is downgraded to
// CompletedWithViolations so the CheckViolations choice routes to its
// drift-detected fail state.
func (api *functionsAPI) handleQueryMonitorResults(w http.ResponseWriter, r *http.Request) {
	var req queryMonitorResultsRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	jobName := strings.TrimSpace(req.MonitorJobName)
	if jobName == "" {
		api.writeError(w, r, http.StatusBadRequest, "monitor_job_name_required")
		return
	}

	job, err := api.jobs.GetJob(r.Context(), jobName)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "job_not_found")
			return
		}
		api.logger.Error("load job", "job_name", jobName, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	status := job.Status
	violations := false
	if status == "Completed" {
		bucket, prefix, err := splitObjectURI(req.MonitorOutputURI, api.storeCfg.BucketArtifacts)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_output_uri")
			return
		}
		_, err = api.store.Stat(r.Context(), bucket, path.Join(prefix, pipelinedef.ViolationsObject))
		switch {
		case err == nil:
			status = StatusCompletedWithViolations
			violations = true
		case errors.Is(err, objectstore.ErrObjectNotFound):
		default:
			api.logger.Error("stat violations", "job_name", jobName, "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"ProcessingJobStatus": status,
		"ViolationsFound":     violations,
	})
}

type recordJobStatusRequest struct {
	JobName string         `json:"JobName"`
	Kind    string         `json:"Kind"`
	Status  string         `json:"Status"`
	Detail  map[string]any `json:"Detail,omitempty"`
}

// handleRecordJobStatus is the callback managed jobs hit when their status
// changes; query-monitor-results reads what it records.
func (api *functionsAPI) handleRecordJobStatus(w http.ResponseWriter, r *http.Request) {
	var req recordJobStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	job := domain.JobRecord{
		Name:       strings.TrimSpace(req.JobName),
		Kind:       strings.TrimSpace(req.Kind),
		Status:     strings.TrimSpace(req.Status),
		RecordedAt: time.Now().UTC(),
		Detail:     req.Detail,
	}
	if err := job.Validate(); err != nil {
		api.writeErrorDetail(w, r, http.StatusBadRequest, "invalid_job", err.Error())
		return
	}
	if err := api.jobs.UpsertJob(r.Context(), job); err != nil {
		api.logger.Error("upsert job", "job_name", job.Name, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"JobName": job.Name, "Status": job.Status})
}

type recordTrainingMetricRequest struct {
	TrainingJobName string  `json:"TrainingJobName"`
	MetricName      string  `json:"MetricName"`
	Value           float64 `json:"Value"`
}

func (api *functionsAPI) handleRecordTrainingMetric(w http.ResponseWriter, r *http.Request) {
	var req recordTrainingMetricRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	metric := domain.TrainingMetric{
		JobName:    strings.TrimSpace(req.TrainingJobName),
		MetricName: strings.TrimSpace(req.MetricName),
		Value:      req.Value,
		RecordedAt: time.Now().UTC(),
	}
	if err := metric.Validate(); err != nil {
		api.writeErrorDetail(w, r, http.StatusBadRequest, "invalid_metric", err.Error())
		return
	}
	if err := api.experiments.RecordMetric(r.Context(), metric); err != nil {
		api.logger.Error("record metric", "job_name", metric.JobName, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"TrainingJobName": metric.JobName,
		"MetricName":      metric.MetricName,
		"Value":           metric.Value,
	})
}

// splitObjectURI resolves an s3://bucket/key URI, or a bare key against the
// default bucket.
func splitObjectURI(uri, defaultBucket string) (string, string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", "", errors.New("object uri is required")
	}
	if rest, ok := strings.CutPrefix(uri, "s3://"); ok {
		bucket, key, found := strings.Cut(rest, "/")
		if !found || strings.TrimSpace(bucket) == "" || strings.TrimSpace(key) == "" {
			return "", "", errors.New("object uri must be s3://bucket/key")
		}
		return bucket, strings.Trim(key, "/"), nil
	}
	return defaultBucket, strings.Trim(uri, "/"), nil
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

func (api *functionsAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *functionsAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func (api *functionsAPI) writeErrorDetail(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"detail":     detail,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
