package pipelinedef

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const ConfigSchemaV1 = "driftline.pipelines.v1"

// Pipeline identifiers accepted by the submission API.
const (
	PipelineTraining  = "training"
	PipelineTransform = "transform"
)

// Config carries the deployment-specific settings the two fixed topologies
// are parameterized with: function endpoint names, job runtime bounds and
// the business thresholds evaluated by the choice states.
type Config struct {
	Schema    string          `yaml:"schema"`
	Functions FunctionsConfig `yaml:"functions"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Training  TrainingConfig  `yaml:"training"`
	Transform TransformConfig `yaml:"transform"`
}

type FunctionsConfig struct {
	CreateExperiment     string `yaml:"create_experiment"`
	QueryTrainingMetrics string `yaml:"query_training_metrics"`
	AddHeader            string `yaml:"add_header"`
	QueryMonitorResults  string `yaml:"query_monitor_results"`
}

type JobsConfig struct {
	BaselineMaxRuntimeSeconds int `yaml:"baseline_max_runtime_seconds"`
	MonitorMaxRuntimeSeconds  int `yaml:"monitor_max_runtime_seconds"`
}

type TrainingConfig struct {
	MetricName      string  `yaml:"metric_name"`
	MetricThreshold float64 `yaml:"metric_threshold"`
}

type TransformConfig struct {
	ExpectedStatus string `yaml:"expected_status"`
}

// DefaultConfig returns the settings both pipelines ship with.
func DefaultConfig() Config {
	return Config{
		Schema: ConfigSchemaV1,
		Functions: FunctionsConfig{
			CreateExperiment:     "driftline-create-experiment",
			QueryTrainingMetrics: "driftline-query-training-metrics",
			AddHeader:            "driftline-add-header",
			QueryMonitorResults:  "driftline-query-monitor-results",
		},
		Jobs: JobsConfig{
			BaselineMaxRuntimeSeconds: 1800,
			MonitorMaxRuntimeSeconds:  1800,
		},
		Training: TrainingConfig{
			MetricName:      "rmse",
			MetricThreshold: 10,
		},
		Transform: TransformConfig{
			ExpectedStatus: "Completed",
		},
	}
}

// ParseConfig decodes and validates a YAML pipeline config.
func ParseConfig(input []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Schema) != ConfigSchemaV1 {
		return fmt.Errorf("config.schema must be %q", ConfigSchemaV1)
	}
	if strings.TrimSpace(c.Functions.CreateExperiment) == "" {
		return errors.New("functions.create_experiment is required")
	}
	if strings.TrimSpace(c.Functions.QueryTrainingMetrics) == "" {
		return errors.New("functions.query_training_metrics is required")
	}
	if strings.TrimSpace(c.Functions.AddHeader) == "" {
		return errors.New("functions.add_header is required")
	}
	if strings.TrimSpace(c.Functions.QueryMonitorResults) == "" {
		return errors.New("functions.query_monitor_results is required")
	}
	if c.Jobs.BaselineMaxRuntimeSeconds <= 0 {
		return errors.New("jobs.baseline_max_runtime_seconds must be positive")
	}
	if c.Jobs.MonitorMaxRuntimeSeconds <= 0 {
		return errors.New("jobs.monitor_max_runtime_seconds must be positive")
	}
	if strings.TrimSpace(c.Training.MetricName) == "" {
		return errors.New("training.metric_name is required")
	}
	if c.Training.MetricThreshold <= 0 {
		return errors.New("training.metric_threshold must be positive")
	}
	if strings.TrimSpace(c.Transform.ExpectedStatus) == "" {
		return errors.New("transform.expected_status is required")
	}
	return nil
}
