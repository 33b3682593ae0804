package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/driftline-labs/driftline-go/internal/domain"
	"github.com/driftline-labs/driftline-go/internal/platform/objectstore"
	"github.com/driftline-labs/driftline-go/internal/repo"
)

type memoryStore struct {
	objects map[string][]byte
}

var _ objectstore.Store = (*memoryStore)(nil)

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func storeKey(bucket, key string) string { return bucket + "/" + key }

func (s *memoryStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.objects[storeKey(bucket, key)] = data
	return nil
}

func (s *memoryStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, objectstore.ObjectInfo, error) {
	data, ok := s.objects[storeKey(bucket, key)]
	if !ok {
		return nil, objectstore.ObjectInfo{}, objectstore.ErrObjectNotFound
	}
	info := objectstore.ObjectInfo{Key: key, Size: int64(len(data))}
	return io.NopCloser(bytes.NewReader(data)), info, nil
}

func (s *memoryStore) Stat(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	data, ok := s.objects[storeKey(bucket, key)]
	if !ok {
		return objectstore.ObjectInfo{}, objectstore.ErrObjectNotFound
	}
	return objectstore.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (s *memoryStore) Delete(ctx context.Context, bucket, key string) error {
	delete(s.objects, storeKey(bucket, key))
	return nil
}

func (s *memoryStore) putString(bucket, key, data string) {
	s.objects[storeKey(bucket, key)] = []byte(data)
}

func (s *memoryStore) getString(t *testing.T, bucket, key string) string {
	t.Helper()
	data, ok := s.objects[storeKey(bucket, key)]
	if !ok {
		t.Fatalf("object %s/%s not found", bucket, key)
	}
	return string(data)
}

type fakeExperimentRepo struct {
	experiments map[string]domain.Experiment
	trials      []domain.Trial
	metrics     []domain.TrainingMetric
}

func newFakeExperimentRepo() *fakeExperimentRepo {
	return &fakeExperimentRepo{experiments: make(map[string]domain.Experiment)}
}

func (r *fakeExperimentRepo) CreateExperiment(ctx context.Context, experiment domain.Experiment) error {
	if _, ok := r.experiments[experiment.Name]; ok {
		return nil
	}
	r.experiments[experiment.Name] = experiment
	return nil
}

func (r *fakeExperimentRepo) GetExperimentByName(ctx context.Context, name string) (domain.Experiment, error) {
	experiment, ok := r.experiments[name]
	if !ok {
		return domain.Experiment{}, repo.ErrNotFound
	}
	return experiment, nil
}

func (r *fakeExperimentRepo) CreateTrial(ctx context.Context, trial domain.Trial) error {
	r.trials = append(r.trials, trial)
	return nil
}

func (r *fakeExperimentRepo) RecordMetric(ctx context.Context, metric domain.TrainingMetric) error {
	r.metrics = append(r.metrics, metric)
	return nil
}

func (r *fakeExperimentRepo) ListMetrics(ctx context.Context, filter repo.MetricFilter) ([]domain.TrainingMetric, error) {
	out := make([]domain.TrainingMetric, 0, len(r.metrics))
	for _, metric := range r.metrics {
		if metric.JobName != filter.JobName {
			continue
		}
		if filter.MetricName != "" && metric.MetricName != filter.MetricName {
			continue
		}
		out = append(out, metric)
	}
	return out, nil
}

type fakeJobRepo struct {
	jobs map[string]domain.JobRecord
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]domain.JobRecord)}
}

func (r *fakeJobRepo) UpsertJob(ctx context.Context, job domain.JobRecord) error {
	r.jobs[job.Name] = job
	return nil
}

func (r *fakeJobRepo) GetJob(ctx context.Context, name string) (domain.JobRecord, error) {
	job, ok := r.jobs[name]
	if !ok {
		return domain.JobRecord{}, repo.ErrNotFound
	}
	return job, nil
}

type functionsHarness struct {
	mux         *http.ServeMux
	experiments *fakeExperimentRepo
	jobs        *fakeJobRepo
	store       *memoryStore
}

func newFunctionsHarness() *functionsHarness {
	h := &functionsHarness{
		mux:         http.NewServeMux(),
		experiments: newFakeExperimentRepo(),
		jobs:        newFakeJobRepo(),
		store:       newMemoryStore(),
	}
	cfg := objectstore.Config{BucketDatasets: "datasets", BucketArtifacts: "artifacts"}
	api := newFunctionsAPI(slog.New(slog.DiscardHandler), h.experiments, h.jobs, h.store, cfg)
	api.register(h.mux)
	return h
}

func (h *functionsHarness) post(t *testing.T, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestCreateExperimentNewAndReuse(t *testing.T) {
	h := newFunctionsHarness()

	first := h.post(t, "/functions/create-experiment", map[string]any{
		"ExperimentName": "taxi-duration",
		"TrialName":      "trial-1",
		"GitBranch":      "main",
	})
	if first.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", first.Code, first.Body.String())
	}
	firstBody := decodeBody(t, first)
	if firstBody["ExperimentName"] != "taxi-duration" || firstBody["TrialName"] != "trial-1" {
		t.Fatalf("body=%v", firstBody)
	}

	second := h.post(t, "/functions/create-experiment", map[string]any{
		"ExperimentName": "taxi-duration",
		"TrialName":      "trial-2",
	})
	if second.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", second.Code, second.Body.String())
	}
	secondBody := decodeBody(t, second)
	if secondBody["ExperimentId"] != firstBody["ExperimentId"] {
		t.Fatalf("resubmission must reuse the experiment: %v vs %v", secondBody["ExperimentId"], firstBody["ExperimentId"])
	}
	if secondBody["TrialId"] == firstBody["TrialId"] {
		t.Fatalf("each submission must get a fresh trial")
	}
	if len(h.experiments.experiments) != 1 || len(h.experiments.trials) != 2 {
		t.Fatalf("experiments=%d trials=%d", len(h.experiments.experiments), len(h.experiments.trials))
	}
}

func TestCreateExperimentRequiresNames(t *testing.T) {
	h := newFunctionsHarness()
	rec := h.post(t, "/functions/create-experiment", map[string]any{"ExperimentName": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestQueryTrainingMetrics(t *testing.T) {
	h := newFunctionsHarness()
	h.experiments.metrics = []domain.TrainingMetric{
		{JobName: "train-7", MetricName: "rmse", Value: 9.2, RecordedAt: time.Now().UTC()},
		{JobName: "train-7", MetricName: "mae", Value: 4.1, RecordedAt: time.Now().UTC()},
	}

	rec := h.post(t, "/functions/query-training-metrics", map[string]any{
		"TrainingJobName": "train-7",
		"MetricName":      "rmse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		TrainingMetrics []struct {
			MetricName string
			Value      float64
		}
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.TrainingMetrics) != 1 || resp.TrainingMetrics[0].MetricName != "rmse" || resp.TrainingMetrics[0].Value != 9.2 {
		t.Fatalf("response=%+v", resp)
	}

	rec = h.post(t, "/functions/query-training-metrics", map[string]any{
		"TrainingJobName": "train-unknown",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job status=%d", rec.Code)
	}
}

func TestAddHeaderEndpoint(t *testing.T) {
	h := newFunctionsHarness()
	data := "12.5,2,3.1,14.75\n8.0,1,1.2,9.50\n"
	h.store.putString("transform-out", "predictions/part-0.csv", data)

	rec := h.post(t, "/functions/add-header", map[string]any{
		"TransformOutputUri": "s3://transform-out/predictions/part-0.csv",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["HeaderAdded"] != true {
		t.Fatalf("body=%v", body)
	}
	stored := h.store.getString(t, "transform-out", "predictions/part-0.csv")
	if !strings.HasPrefix(stored, "duration_minutes,passenger_count,trip_distance,total_amount\n") {
		t.Fatalf("header missing: %q", stored)
	}
	if !strings.HasSuffix(stored, data) {
		t.Fatalf("rows lost: %q", stored)
	}

	// Second call is a no-op.
	rec = h.post(t, "/functions/add-header", map[string]any{
		"TransformOutputUri": "s3://transform-out/predictions/part-0.csv",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if body := decodeBody(t, rec); body["HeaderAdded"] != false {
		t.Fatalf("second call body=%v", body)
	}
}

func TestAddHeaderDefaultsBucketForBareKey(t *testing.T) {
	h := newFunctionsHarness()
	h.store.putString("artifacts", "predictions/part-1.csv", "1,1,1,1\n")

	rec := h.post(t, "/functions/add-header", map[string]any{
		"TransformOutputUri": "predictions/part-1.csv",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestAddHeaderMissingObject(t *testing.T) {
	h := newFunctionsHarness()
	rec := h.post(t, "/functions/add-header", map[string]any{
		"TransformOutputUri": "s3://transform-out/missing.csv",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestJoinPredictionsEndpoint(t *testing.T) {
	h := newFunctionsHarness()
	h.store.putString("datasets", "test/input.csv", "id,12.5,2,3.1\nid2,8.0,1,1.2\n")
	h.store.putString("artifacts", "predictions/out.csv", "14.75\n9.50\n")

	rec := h.post(t, "/functions/join-predictions", map[string]any{
		"InputUri":       "s3://datasets/test/input.csv",
		"PredictionsUri": "s3://artifacts/predictions/out.csv",
		"OutputUri":      "s3://artifacts/joined/out.csv",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["RowsJoined"] != float64(2) {
		t.Fatalf("body=%v", body)
	}
	joined := h.store.getString(t, "artifacts", "joined/out.csv")
	want := "12.5,2,3.1,14.75\n8.0,1,1.2,9.50\n"
	if joined != want {
		t.Fatalf("joined=%q want %q", joined, want)
	}
}

func TestJoinPredictionsRowMismatch(t *testing.T) {
	h := newFunctionsHarness()
	h.store.putString("datasets", "test/input.csv", "id,12.5,2,3.1\nid2,8.0,1,1.2\n")
	h.store.putString("artifacts", "predictions/out.csv", "14.75\n")

	rec := h.post(t, "/functions/join-predictions", map[string]any{
		"InputUri":       "s3://datasets/test/input.csv",
		"PredictionsUri": "s3://artifacts/predictions/out.csv",
		"OutputUri":      "s3://artifacts/joined/out.csv",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestJoinPredictionsMissingInput(t *testing.T) {
	h := newFunctionsHarness()
	rec := h.post(t, "/functions/join-predictions", map[string]any{
		"InputUri":       "s3://datasets/missing.csv",
		"PredictionsUri": "s3://artifacts/predictions/out.csv",
		"OutputUri":      "s3://artifacts/joined/out.csv",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestQueryMonitorResults(t *testing.T) {
	h := newFunctionsHarness()
	h.jobs.jobs["monitor-7"] = domain.JobRecord{
		Name: "monitor-7", Kind: domain.JobKindProcessing,
		Status: "Completed", RecordedAt: time.Now().UTC(),
	}

	rec := h.post(t, "/functions/query-monitor-results", map[string]any{
		"MonitorJobName":   "monitor-7",
		"MonitorOutputUri": "s3://monitor-out/reports/monitor-7",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["ProcessingJobStatus"] != "Completed" || body["ViolationsFound"] != false {
		t.Fatalf("clean run body=%v", body)
	}
}

func TestQueryMonitorResultsDowngradesOnViolations(t *testing.T) {
	h := newFunctionsHarness()
	h.jobs.jobs["monitor-7"] = domain.JobRecord{
		Name: "monitor-7", Kind: domain.JobKindProcessing,
		Status: "Completed", RecordedAt: time.Now().UTC(),
	}
	h.store.putString("monitor-out", "reports/monitor-7/constraint_violations.json", `{"violations":[]}`)

	rec := h.post(t, "/functions/query-monitor-results", map[string]any{
		"MonitorJobName":   "monitor-7",
		"MonitorOutputUri": "s3://monitor-out/reports/monitor-7",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["ProcessingJobStatus"] != StatusCompletedWithViolations || body["ViolationsFound"] != true {
		t.Fatalf("body=%v", body)
	}
}

func TestQueryMonitorResultsKeepsNonCompletedStatus(t *testing.T) {
	h := newFunctionsHarness()
	h.jobs.jobs["monitor-7"] = domain.JobRecord{
		Name: "monitor-7", Kind: domain.JobKindProcessing,
		Status: "Failed", RecordedAt: time.Now().UTC(),
	}

	rec := h.post(t, "/functions/query-monitor-results", map[string]any{
		"MonitorJobName": "monitor-7",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["ProcessingJobStatus"] != "Failed" {
		t.Fatalf("body=%v", body)
	}
}

func TestQueryMonitorResultsUnknownJob(t *testing.T) {
	h := newFunctionsHarness()
	rec := h.post(t, "/functions/query-monitor-results", map[string]any{
		"MonitorJobName": "nope",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestRecordJobStatusFeedsMonitorQuery(t *testing.T) {
	h := newFunctionsHarness()

	rec := h.post(t, "/functions/record-job-status", map[string]any{
		"JobName": "monitor-9",
		"Kind":    domain.JobKindProcessing,
		"Status":  "Completed",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = h.post(t, "/functions/query-monitor-results", map[string]any{
		"MonitorJobName":   "monitor-9",
		"MonitorOutputUri": "s3://monitor-out/reports/monitor-9",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["ProcessingJobStatus"] != "Completed" {
		t.Fatalf("body=%v", body)
	}
}

func TestRecordJobStatusRejectsInvalid(t *testing.T) {
	h := newFunctionsHarness()
	rec := h.post(t, "/functions/record-job-status", map[string]any{
		"JobName": "",
		"Kind":    domain.JobKindProcessing,
		"Status":  "Completed",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestRecordTrainingMetric(t *testing.T) {
	h := newFunctionsHarness()

	rec := h.post(t, "/functions/record-training-metric", map[string]any{
		"TrainingJobName": "train-7",
		"MetricName":      "rmse",
		"Value":           9.2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if len(h.experiments.metrics) != 1 || h.experiments.metrics[0].Value != 9.2 {
		t.Fatalf("metrics=%+v", h.experiments.metrics)
	}

	rec = h.post(t, "/functions/record-training-metric", map[string]any{
		"TrainingJobName": "train-7",
		"MetricName":      "",
		"Value":           1.0,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid metric status=%d", rec.Code)
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(strings.NewReader(`{"Nope":1}`)))
	var dst queryTrainingMetricsRequest
	if err := decodeJSON(req, &dst); err == nil {
		t.Fatalf("unknown field must be rejected")
	}
}
