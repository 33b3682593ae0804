package domain

import (
	"errors"
	"strings"
	"time"
)

// Job kinds mirror the managed resources the pipelines submit.
const (
	JobKindTraining   = "training"
	JobKindProcessing = "processing"
	JobKindTransform  = "transform"
)

// JobRecord tracks the last observed status of a managed job.
type JobRecord struct {
	Name       string
	Kind       string
	Status     string
	RecordedAt time.Time
	Detail     Metadata
}

func (j JobRecord) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return errors.New("job name is required")
	}
	switch j.Kind {
	case JobKindTraining, JobKindProcessing, JobKindTransform:
	default:
		return errors.New("job kind must be training, processing, or transform")
	}
	if strings.TrimSpace(j.Status) == "" {
		return errors.New("job status is required")
	}
	return nil
}
