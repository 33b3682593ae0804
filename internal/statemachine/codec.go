package statemachine

import (
	"encoding/json"
	"fmt"
)

// MarshalDefinition serializes a definition with stable field names. The
// serialized form is the wire contract submitted to the execution engine.
func MarshalDefinition(def Definition) ([]byte, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}
	return json.Marshal(definitionPayload{
		Name:    def.Name,
		StartAt: def.StartAt,
		States:  statePayloads(def.States),
	})
}

// UnmarshalDefinition parses a serialized definition back into the domain
// form and validates it.
func UnmarshalDefinition(raw []byte) (Definition, error) {
	var payload definitionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Definition{}, fmt.Errorf("decode definition: %w", err)
	}
	def := Definition{
		Name:    payload.Name,
		StartAt: payload.StartAt,
		States:  statesFromPayloads(payload.States),
	}
	if err := Validate(def); err != nil {
		return Definition{}, err
	}
	return def, nil
}

type definitionPayload struct {
	Name    string                  `json:"name"`
	StartAt string                  `json:"startAt"`
	States  map[string]statePayload `json:"states"`
}

type statePayload struct {
	Kind       Kind               `json:"kind"`
	Resource   string             `json:"resource,omitempty"`
	Parameters map[string]any     `json:"parameters,omitempty"`
	ResultPath string             `json:"resultPath,omitempty"`
	Tags       map[string]string  `json:"tags,omitempty"`
	Experiment *experimentPayload `json:"experiment,omitempty"`
	Next       string             `json:"next,omitempty"`
	End        bool               `json:"end,omitempty"`
	Catch      []catchPayload     `json:"catch,omitempty"`
	Branches   []branchPayload    `json:"branches,omitempty"`
	Choices    []choicePayload    `json:"choices,omitempty"`
	Default    string             `json:"default,omitempty"`
	Error      string             `json:"error,omitempty"`
	Cause      string             `json:"cause,omitempty"`
}

type experimentPayload struct {
	ExperimentName string `json:"experimentName"`
	TrialName      string `json:"trialName"`
}

type catchPayload struct {
	ErrorEquals []string `json:"errorEquals"`
	Next        string   `json:"next"`
}

type branchPayload struct {
	StartAt string                  `json:"startAt"`
	States  map[string]statePayload `json:"states"`
}

type choicePayload struct {
	Variable     string    `json:"variable"`
	Op           CompareOp `json:"op"`
	NumericValue float64   `json:"numericValue,omitempty"`
	StringValue  string    `json:"stringValue,omitempty"`
	Next         string    `json:"next"`
}

func statePayloads(states map[string]State) map[string]statePayload {
	out := make(map[string]statePayload, len(states))
	for name, state := range states {
		payload := statePayload{
			Kind:       state.Kind,
			Resource:   state.Resource,
			Parameters: state.Parameters,
			ResultPath: state.ResultPath,
			Tags:       state.Tags,
			Next:       state.Next,
			End:        state.End,
			Default:    state.Default,
			Error:      state.Error,
			Cause:      state.Cause,
		}
		if state.Experiment != (ExperimentConfig{}) {
			payload.Experiment = &experimentPayload{
				ExperimentName: state.Experiment.ExperimentName,
				TrialName:      state.Experiment.TrialName,
			}
		}
		for _, rule := range state.Catch {
			payload.Catch = append(payload.Catch, catchPayload{
				ErrorEquals: rule.ErrorEquals,
				Next:        rule.Next,
			})
		}
		for _, branch := range state.Branches {
			payload.Branches = append(payload.Branches, branchPayload{
				StartAt: branch.StartAt,
				States:  statePayloads(branch.States),
			})
		}
		for _, rule := range state.Choices {
			payload.Choices = append(payload.Choices, choicePayload{
				Variable:     rule.Variable,
				Op:           rule.Op,
				NumericValue: rule.NumericValue,
				StringValue:  rule.StringValue,
				Next:         rule.Next,
			})
		}
		out[name] = payload
	}
	return out
}

func statesFromPayloads(payloads map[string]statePayload) map[string]State {
	out := make(map[string]State, len(payloads))
	for name, payload := range payloads {
		state := State{
			Name:       name,
			Kind:       payload.Kind,
			Resource:   payload.Resource,
			Parameters: payload.Parameters,
			ResultPath: payload.ResultPath,
			Tags:       payload.Tags,
			Next:       payload.Next,
			End:        payload.End,
			Default:    payload.Default,
			Error:      payload.Error,
			Cause:      payload.Cause,
		}
		if payload.Experiment != nil {
			state.Experiment = ExperimentConfig{
				ExperimentName: payload.Experiment.ExperimentName,
				TrialName:      payload.Experiment.TrialName,
			}
		}
		for _, rule := range payload.Catch {
			state.Catch = append(state.Catch, CatchRule{
				ErrorEquals: rule.ErrorEquals,
				Next:        rule.Next,
			})
		}
		for _, branch := range payload.Branches {
			state.Branches = append(state.Branches, Chain{
				StartAt: branch.StartAt,
				States:  statesFromPayloads(branch.States),
			})
		}
		for _, rule := range payload.Choices {
			state.Choices = append(state.Choices, ChoiceRule{
				Variable:     rule.Variable,
				Op:           rule.Op,
				NumericValue: rule.NumericValue,
				StringValue:  rule.StringValue,
				Next:         rule.Next,
			})
		}
		out[name] = state
	}
	return out
}
