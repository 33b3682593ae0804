package statemachine

import "strings"

// Kind discriminates the tagged state variants a definition may contain.
type Kind string

const (
	KindFunction          Kind = "function"
	KindTrainingJob       Kind = "training_job"
	KindProcessingJob     Kind = "processing_job"
	KindTransformJob      Kind = "transform_job"
	KindModelRegistration Kind = "model_registration"
	KindChoice            Kind = "choice"
	KindParallel          Kind = "parallel"
	KindSucceed           Kind = "succeed"
	KindFail              Kind = "fail"
)

// Well-known error names used by catch rules and the interpreter.
const (
	ErrorTaskFailed = "States.TaskFailed"
	CatchAll        = "States.ALL"
)

type CompareOp string

const (
	OpNumericLessThan CompareOp = "numeric_less_than"
	OpStringEquals    CompareOp = "string_equals"
)

// Definition is an immutable state-machine graph. It is built once, validated,
// serialized and submitted; it is never mutated after submission.
type Definition struct {
	Name    string
	StartAt string
	States  map[string]State
}

// State is a named unit of work. Exactly one variant's fields are meaningful,
// selected by Kind.
type State struct {
	Name       string
	Kind       Kind
	Resource   string
	Parameters map[string]any
	ResultPath string
	Tags       map[string]string
	Experiment ExperimentConfig

	Next string
	End  bool

	Catch []CatchRule

	// Parallel
	Branches []Chain

	// Choice
	Choices []ChoiceRule
	Default string

	// Fail
	Error string
	Cause string
}

// ExperimentConfig associates a task state with an experiment trial.
type ExperimentConfig struct {
	ExperimentName string
	TrialName      string
}

// CatchRule routes a matched task failure to a fail state.
type CatchRule struct {
	ErrorEquals []string
	Next        string
}

// ChoiceRule is one (predicate, next) pair of a choice state.
type ChoiceRule struct {
	Variable     string
	Op           CompareOp
	NumericValue float64
	StringValue  string
	Next         string
}

// Chain is an ordered sequence of states executed sequentially. Output state
// threads forward through each state's result path.
type Chain struct {
	StartAt string
	States  map[string]State
}

// NewChain links the given states sequentially. Next pointers are assigned in
// order and the final state is terminal. Choice, succeed and fail states keep
// their own routing.
func NewChain(states ...State) Chain {
	chain := Chain{States: make(map[string]State, len(states))}
	if len(states) == 0 {
		return chain
	}
	chain.StartAt = states[0].Name
	for i, state := range states {
		if !isRouted(state.Kind) {
			if i+1 < len(states) {
				state.Next = states[i+1].Name
			} else {
				state.End = true
			}
		}
		chain.States[state.Name] = state
	}
	return chain
}

// With adds states that are reachable only through choice, catch or default
// routing, without linking them into the sequential order.
func (c Chain) With(states ...State) Chain {
	if c.States == nil {
		c.States = make(map[string]State, len(states))
	}
	for _, state := range states {
		c.States[state.Name] = state
	}
	return c
}

// New builds a named definition from a chain and validates it.
func New(name string, chain Chain) (Definition, error) {
	def := Definition{
		Name:    strings.TrimSpace(name),
		StartAt: chain.StartAt,
		States:  chain.States,
	}
	if err := Validate(def); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// CatchAllTo routes any task failure to the named fail state.
func CatchAllTo(next string) []CatchRule {
	return []CatchRule{{ErrorEquals: []string{CatchAll}, Next: next}}
}

// Matches reports whether the rule catches the given error name.
func (r CatchRule) Matches(errName string) bool {
	for _, candidate := range r.ErrorEquals {
		if candidate == CatchAll || candidate == errName {
			return true
		}
	}
	return false
}

func isRouted(kind Kind) bool {
	switch kind {
	case KindChoice, KindSucceed, KindFail:
		return true
	default:
		return false
	}
}

func isTask(kind Kind) bool {
	switch kind {
	case KindFunction, KindTrainingJob, KindProcessingJob, KindTransformJob, KindModelRegistration:
		return true
	default:
		return false
	}
}
