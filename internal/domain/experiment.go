package domain

import (
	"errors"
	"strings"
	"time"
)

// Experiment groups the trials produced by training pipeline runs.
type Experiment struct {
	ID        string
	Name      string
	CreatedBy string
	CreatedAt time.Time
	Metadata  Metadata
}

// Trial is a single training attempt inside an experiment.
type Trial struct {
	ID           string
	ExperimentID string
	Name         string
	CreatedAt    time.Time
}

// TrainingMetric is one scalar recorded for a training job.
type TrainingMetric struct {
	JobName    string
	MetricName string
	Value      float64
	RecordedAt time.Time
}

func (e Experiment) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("experiment id is required")
	}
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("experiment name is required")
	}
	if e.CreatedAt.IsZero() {
		return errors.New("created at is required")
	}
	return nil
}

func (t Trial) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("trial id is required")
	}
	if strings.TrimSpace(t.ExperimentID) == "" {
		return errors.New("experiment id is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("trial name is required")
	}
	return nil
}

func (m TrainingMetric) Validate() error {
	if strings.TrimSpace(m.JobName) == "" {
		return errors.New("job name is required")
	}
	if strings.TrimSpace(m.MetricName) == "" {
		return errors.New("metric name is required")
	}
	return nil
}
