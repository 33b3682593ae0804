package auditlog

import (
	"net"
	"testing"
	"time"
)

func TestComputeIntegritySHA256_Deterministic(t *testing.T) {
	occurredAt := time.Unix(1700000000, 0).UTC()
	event := Event{
		OccurredAt:   occurredAt,
		Actor:        "alice",
		Action:       "pipeline.execution.submit",
		ResourceType: "pipeline_execution",
		ResourceID:   "9d1e2f30-0000-0000-0000-000000000001",
		RequestID:    "req-123",
		IP:           net.ParseIP("192.0.2.1"),
		UserAgent:    "test-agent",
	}
	payloadJSON := []byte(`{"pipeline":"training","status":"Running"}`)

	a, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b {
		t.Fatalf("integrity mismatch: %q vs %q", a, b)
	}
}

func TestComputeIntegritySHA256_ChangesOnPayload(t *testing.T) {
	occurredAt := time.Unix(1700000000, 0).UTC()
	event := Event{
		OccurredAt:   occurredAt,
		Actor:        "alice",
		Action:       "pipeline.execution.submit",
		ResourceType: "pipeline_execution",
		ResourceID:   "9d1e2f30-0000-0000-0000-000000000001",
	}

	a, err := ComputeIntegritySHA256(event, []byte(`{"status":"Running"}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, []byte(`{"status":"Failed"}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a == b {
		t.Fatalf("expected integrity to differ")
	}
}

func TestEventValidate(t *testing.T) {
	valid := Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        "alice",
		Action:       "pipeline.execution.submit",
		ResourceType: "pipeline_execution",
		ResourceID:   "exec-1",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	missingActor := valid
	missingActor.Actor = "  "
	if err := missingActor.Validate(); err == nil {
		t.Fatalf("expected error for blank actor")
	}

	missingTime := valid
	missingTime.OccurredAt = time.Time{}
	if err := missingTime.Validate(); err == nil {
		t.Fatalf("expected error for zero OccurredAt")
	}
}
