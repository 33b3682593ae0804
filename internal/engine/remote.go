package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/driftline-labs/driftline-go/internal/platform/env"
	"github.com/driftline-labs/driftline-go/internal/statemachine"
)

var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrUnauthorized      = errors.New("engine request unauthorized")
)

// APIError is a non-2xx engine response outside the mapped sentinel cases.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("engine api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("engine api error (status=%d): %s", e.StatusCode, body)
}

type RemoteConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

func RemoteConfigFromEnv() (RemoteConfig, error) {
	timeout, err := env.Duration("DRIFTLINE_ENGINE_TIMEOUT", 15*time.Second)
	if err != nil {
		return RemoteConfig{}, err
	}
	cfg := RemoteConfig{
		BaseURL: env.String("DRIFTLINE_ENGINE_URL", ""),
		Token:   env.String("DRIFTLINE_ENGINE_TOKEN", ""),
		Timeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return RemoteConfig{}, err
	}
	return cfg, nil
}

func (c RemoteConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("DRIFTLINE_ENGINE_URL is required")
	}
	if c.Timeout <= 0 {
		return errors.New("DRIFTLINE_ENGINE_TIMEOUT must be positive")
	}
	return nil
}

// Remote talks to the hosted state-machine service. The definition travels in
// its serialized form together with the execution input; everything after the
// submission call is the service's responsibility.
type Remote struct {
	baseURL string
	http    *http.Client
}

func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: cfg.Timeout}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		client.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
		}
	}
	return &Remote{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:    client,
	}, nil
}

type startExecutionRequest struct {
	ExecutionID string            `json:"executionId"`
	Definition  json.RawMessage   `json:"definition"`
	Input       map[string]string `json:"input"`
}

type executionStatusResponse struct {
	ExecutionID string                `json:"executionId"`
	Status      string                `json:"status"`
	FailState   string                `json:"failState,omitempty"`
	Error       string                `json:"error,omitempty"`
	Cause       string                `json:"cause,omitempty"`
	Output      statemachine.Document `json:"output,omitempty"`
	StartedAt   time.Time             `json:"startedAt"`
	StoppedAt   time.Time             `json:"stoppedAt"`
}

func (r *Remote) StartExecution(ctx context.Context, def statemachine.Definition, input StartInput) (ExecutionStatus, error) {
	if strings.TrimSpace(input.ExecutionID) == "" {
		return ExecutionStatus{}, errors.New("execution id is required")
	}
	defJSON, err := statemachine.MarshalDefinition(def)
	if err != nil {
		return ExecutionStatus{}, fmt.Errorf("marshal definition: %w", err)
	}

	body, err := json.Marshal(startExecutionRequest{
		ExecutionID: input.ExecutionID,
		Definition:  defJSON,
		Input:       input.Input,
	})
	if err != nil {
		return ExecutionStatus{}, fmt.Errorf("marshal start request: %w", err)
	}

	path := fmt.Sprintf("/v1/state-machines/%s/executions", def.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return ExecutionStatus{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out executionStatusResponse
	if err := r.do(req, &out); err != nil {
		return ExecutionStatus{}, err
	}
	return statusFromResponse(out), nil
}

func (r *Remote) DescribeExecution(ctx context.Context, executionID string) (ExecutionStatus, error) {
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return ExecutionStatus{}, errors.New("execution id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/executions/"+executionID, nil)
	if err != nil {
		return ExecutionStatus{}, err
	}
	var out executionStatusResponse
	if err := r.do(req, &out); err != nil {
		return ExecutionStatus{}, err
	}
	return statusFromResponse(out), nil
}

func (r *Remote) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode engine response: %w", err)
		}
		return nil
	case http.StatusNotFound:
		return ErrExecutionNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

func statusFromResponse(resp executionStatusResponse) ExecutionStatus {
	return ExecutionStatus{
		ExecutionID: resp.ExecutionID,
		Status:      resp.Status,
		FailState:   resp.FailState,
		Error:       resp.Error,
		Cause:       resp.Cause,
		Output:      resp.Output,
		StartedAt:   resp.StartedAt,
		StoppedAt:   resp.StoppedAt,
	}
}
