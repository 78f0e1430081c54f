package dsl

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Step kinds. Each kind has a dedicated executor in the runtime.
const (
	StepCollect  = "collect"
	StepAction   = "action"
	StepBranch   = "branch"
	StepSay      = "say"
	StepConfirm  = "confirm"
	StepGenerate = "generate"
	StepCallFlow = "call_flow"
	StepSet      = "set"
	StepHandoff  = "handoff"
)

// stepKinds is the closed set of step types.
var stepKinds = map[string]struct{}{
	StepCollect:  {},
	StepAction:   {},
	StepBranch:   {},
	StepSay:      {},
	StepConfirm:  {},
	StepGenerate: {},
	StepCallFlow: {},
	StepSet:      {},
	StepHandoff:  {},
}

// Reserved transition targets. These are valid wherever a step id is
// expected as a jump/branch/on_* target, and are never usable as step ids.
const (
	TargetEnd      = "end"
	TargetError    = "error"
	TargetContinue = "continue"
	TargetCancel   = "cancel_flow"
)

// ReservedTargets is the set of reserved transition keywords.
var ReservedTargets = map[string]struct{}{
	TargetEnd:      {},
	TargetError:    {},
	TargetContinue: {},
	TargetCancel:   {},
}

// StepDef is the tagged step variant. ID, Type, When, and JumpTo are
// universal; exactly one of the kind-specific configs is non-nil, selected by
// Type.
type StepDef struct {
	ID     string
	Type   string
	When   string // raw guard expression; empty means unconditional
	JumpTo string

	Collect  *CollectStep
	Action   *ActionStep
	Branch   *BranchStep
	Say      *SayStep
	Confirm  *ConfirmStep
	Generate *GenerateStep
	CallFlow *CallFlowStep
	Set      *SetStep
	Handoff  *HandoffStep
}

// CollectStep gathers one slot value from the user.
type CollectStep struct {
	Slot        string  `yaml:"slot"`
	Force       bool    `yaml:"force"`
	MaxAttempts int     `yaml:"max_attempts"`
	OnInvalid   string  `yaml:"on_invalid"`
	Timeout     float64 `yaml:"timeout"` // seconds
	OnTimeout   string  `yaml:"on_timeout"`
}

// RetryDef is the retry policy of an action step.
type RetryDef struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Delay       float64  `yaml:"delay"`   // seconds before the first retry
	Backoff     string   `yaml:"backoff"` // fixed | linear | exponential
	RetryOn     []string `yaml:"retry_on"`
}

// ActionStep invokes a registered action.
type ActionStep struct {
	Call       string            `yaml:"call"`
	MapOutputs map[string]string `yaml:"map_outputs"`
	Timeout    float64           `yaml:"timeout"` // per-attempt wall clock, seconds
	Retry      *RetryDef         `yaml:"retry"`
	OnError    string            `yaml:"on_error"`
}

// BranchCase is one arm of a branch step. Condition is a raw expression;
// All/Any are the structured conjunction/disjunction forms. Exactly one of
// the three is set.
type BranchCase struct {
	Condition string   `yaml:"condition"`
	All       []string `yaml:"all"`
	Any       []string `yaml:"any"`
	Then      string   `yaml:"then"`
}

// BranchStep routes on the first matching case.
type BranchStep struct {
	Cases []BranchCase `yaml:"when"`
	Else  string       `yaml:"else"`
}

// SayStep emits a message. Exactly one of Message (inline template) or
// Response (named response key) is set.
type SayStep struct {
	Message  string `yaml:"message"`
	Response string `yaml:"response"`
}

// ConfirmStep asks the user to confirm before proceeding.
type ConfirmStep struct {
	Message        string `yaml:"message"`
	Response       string `yaml:"response"`
	OnYes          string `yaml:"on_yes"`
	OnNo           string `yaml:"on_no"`
	OnChange       string `yaml:"on_change"`
	OnCorrection   string `yaml:"on_correction"`
	OnModification string `yaml:"on_modification"`
	MaxAttempts    int    `yaml:"max_attempts"`
}

// GenerateStep calls the NLU's generative entry point.
type GenerateStep struct {
	Instruction string   `yaml:"instruction"`
	Context     []string `yaml:"context"`
	StoreAs     string   `yaml:"store_as"`
	OnError     string   `yaml:"on_error"`
}

// CallFlowStep pushes a sub-flow onto the stack.
type CallFlowStep struct {
	Flow    string            `yaml:"flow"`
	Inputs  map[string]string `yaml:"inputs"`
	Outputs map[string]string `yaml:"outputs"`
	OnError string            `yaml:"on_error"`
}

// SetStep writes evaluated values into flow or session scope. Keys of the
// form "session.x" target session scope.
type SetStep struct {
	Values map[string]any `yaml:"values"`
}

// HandoffStep escalates the conversation to a human queue.
type HandoffStep struct {
	Queue   string   `yaml:"queue"`
	Context []string `yaml:"context"`
	Message string   `yaml:"message"`
}

// stepHeader is the universal slice of a step mapping, decoded first to
// select the kind.
type stepHeader struct {
	Step   string `yaml:"step"`
	Type   string `yaml:"type"`
	JumpTo string `yaml:"jump_to"`
}

// universalKeys are allowed on every step regardless of kind. "when" is
// universal except on branch, where it carries the case list.
var universalKeys = []string{"step", "type", "when", "jump_to"}

// kindKeys lists the kind-specific keys accepted per step type.
var kindKeys = map[string][]string{
	StepCollect:  {"slot", "force", "max_attempts", "on_invalid", "timeout", "on_timeout"},
	StepAction:   {"call", "map_outputs", "timeout", "retry", "on_error"},
	StepBranch:   {"else"}, // "when" holds the cases
	StepSay:      {"message", "response"},
	StepConfirm:  {"message", "response", "on_yes", "on_no", "on_change", "on_correction", "on_modification", "max_attempts"},
	StepGenerate: {"instruction", "context", "store_as", "on_error"},
	StepCallFlow: {"flow", "inputs", "outputs", "on_error"},
	StepSet:      {"values"},
	StepHandoff:  {"queue", "context", "message"},
}

// UnmarshalYAML decodes a step mapping strictly: the universal header first,
// then the kind-specific body against the allowed key set for that kind.
func (s *StepDef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return yamlErrorf(node, "step must be a mapping")
	}

	var header stepHeader
	if err := node.Decode(&header); err != nil {
		return err
	}
	if header.Step == "" {
		return yamlErrorf(node, "step is missing the required 'step' id")
	}
	if header.Type == "" {
		return yamlErrorf(node, "step %q is missing the required 'type'", header.Step)
	}
	if _, ok := stepKinds[header.Type]; !ok {
		return yamlErrorf(node, "step %q has unknown type %q", header.Step, header.Type)
	}

	s.ID = header.Step
	s.Type = header.Type
	s.JumpTo = header.JumpTo

	allowed := append(append([]string{}, universalKeys...), kindKeys[header.Type]...)
	if err := checkKeys(node, "step "+header.Step, allowed); err != nil {
		return err
	}

	// The universal "when" guard; on branch the same key carries the cases.
	if s.Type != StepBranch {
		var guard struct {
			When string `yaml:"when"`
		}
		if err := node.Decode(&guard); err != nil {
			return err
		}
		s.When = guard.When
	}

	switch s.Type {
	case StepCollect:
		s.Collect = &CollectStep{}
		return node.Decode(s.Collect)
	case StepAction:
		s.Action = &ActionStep{}
		return node.Decode(s.Action)
	case StepBranch:
		s.Branch = &BranchStep{}
		return node.Decode(s.Branch)
	case StepSay:
		s.Say = &SayStep{}
		return node.Decode(s.Say)
	case StepConfirm:
		s.Confirm = &ConfirmStep{}
		return node.Decode(s.Confirm)
	case StepGenerate:
		s.Generate = &GenerateStep{}
		return node.Decode(s.Generate)
	case StepCallFlow:
		s.CallFlow = &CallFlowStep{}
		return node.Decode(s.CallFlow)
	case StepSet:
		s.Set = &SetStep{}
		return node.Decode(s.Set)
	case StepHandoff:
		s.Handoff = &HandoffStep{}
		return node.Decode(s.Handoff)
	}
	return nil
}

// OnError returns the step-level error target for kinds that declare one.
func (s *StepDef) OnError() string {
	switch s.Type {
	case StepAction:
		return s.Action.OnError
	case StepGenerate:
		return s.Generate.OnError
	case StepCallFlow:
		return s.CallFlow.OnError
	}
	return ""
}

// Blocking reports whether this step suspends the flow awaiting user input.
func (s *StepDef) Blocking() bool {
	return s.Type == StepCollect || s.Type == StepConfirm
}

// checkKeys rejects mapping keys outside the allowed set. The yaml decoder
// itself is lenient about extra keys on structs, so strict mode is enforced
// here with positions in the error message.
func checkKeys(node *yaml.Node, where string, allowed []string) error {
	set := make(map[string]struct{}, len(allowed))
	for _, k := range allowed {
		set[k] = struct{}{}
	}
	var unknown []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if _, ok := set[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return yamlErrorf(node, "%s has unknown keys %v", where, unknown)
}

// strictDecode decodes node into out after rejecting keys outside allowed.
func strictDecode(node *yaml.Node, out any, where string, allowed []string) error {
	if err := checkKeys(node, where, allowed); err != nil {
		return err
	}
	return node.Decode(out)
}

// yamlErrorf formats an error annotated with the node's source position.
func yamlErrorf(node *yaml.Node, format string, args ...any) error {
	return fmt.Errorf("line %d: %s", node.Line, fmt.Sprintf(format, args...))
}
