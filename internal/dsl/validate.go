package dsl

import (
	"fmt"
	"sort"
	"strings"
)

// SchemaError is one schema violation, located by a dotted document path.
type SchemaError struct {
	Path    string
	Message string
}

func (e SchemaError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// SchemaErrors aggregates every violation found in one validation pass.
type SchemaErrors []SchemaError

func (es SchemaErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("dsl: %d schema violation(s): %s", len(es), strings.Join(msgs, "; "))
}

// ValidateSchema checks the decoded document against the schema rules that
// the strict decoder cannot express: closed enums, required fields per step
// kind, and intra-document references (slots, responses). Violations are
// collected so callers see the complete picture in one pass.
func ValidateSchema(doc *Document) []SchemaError {
	var errs []SchemaError
	add := func(path, format string, args ...any) {
		errs = append(errs, SchemaError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	validateSettings(doc, add)

	for _, slot := range sortedSlots(doc.Slots) {
		path := "slots." + slot.name
		if slot.def.Type == "" {
			add(path, "missing type")
		} else if _, ok := slotTypes[slot.def.Type]; !ok {
			add(path, "unknown type %q", slot.def.Type)
		}
	}

	for _, fl := range sortedFlows(doc.Flows) {
		validateFlow(doc, fl.name, fl.def, add)
	}

	return errs
}

func validateSettings(doc *Document, add func(path, format string, args ...any)) {
	s := doc.Settings
	switch s.FlowManagement.OnLimitReached {
	case "cancel_oldest", "reject_new":
	default:
		add("settings.flow_management.on_limit_reached",
			"must be cancel_oldest or reject_new, got %q", s.FlowManagement.OnLimitReached)
	}
	switch s.Conversation.OnNoProgress {
	case "handoff", "fallback", "retry":
	default:
		add("settings.conversation.on_no_progress",
			"must be handoff, fallback or retry, got %q", s.Conversation.OnNoProgress)
	}
	if f := s.Conversation.DefaultFlow; f != "" {
		if _, ok := doc.Flows[f]; !ok {
			add("settings.conversation.default_flow", "references unknown flow %q", f)
		}
	}
	if f := s.Conversation.FallbackFlow; f != "" {
		if _, ok := doc.Flows[f]; !ok {
			add("settings.conversation.fallback_flow", "references unknown flow %q", f)
		}
	}
}

func validateFlow(doc *Document, name string, fl FlowDef, add func(path, format string, args ...any)) {
	path := "flows." + name
	if len(fl.Process) == 0 {
		add(path, "flow has no steps")
		return
	}

	for i := range fl.Process {
		step := &fl.Process[i]
		spath := fmt.Sprintf("%s.process[%s]", path, step.ID)

		if _, reserved := ReservedTargets[step.ID]; reserved {
			add(spath, "step id %q is a reserved keyword", step.ID)
		}

		switch step.Type {
		case StepCollect:
			if step.Collect.Slot == "" {
				add(spath, "collect requires a slot")
			} else if _, ok := doc.Slots[step.Collect.Slot]; !ok {
				add(spath, "collect references undeclared slot %q", step.Collect.Slot)
			}
		case StepAction:
			if step.Action.Call == "" {
				add(spath, "action requires a call target")
			}
			if r := step.Action.Retry; r != nil {
				switch r.Backoff {
				case "", "fixed", "linear", "exponential":
				default:
					add(spath, "retry backoff must be fixed, linear or exponential, got %q", r.Backoff)
				}
			}
		case StepBranch:
			if len(step.Branch.Cases) == 0 {
				add(spath, "branch requires at least one case")
			}
			for j, c := range step.Branch.Cases {
				set := 0
				if c.Condition != "" {
					set++
				}
				if len(c.All) > 0 {
					set++
				}
				if len(c.Any) > 0 {
					set++
				}
				if set != 1 {
					add(spath, "branch case %d must set exactly one of condition, all, any", j)
				}
				if c.Then == "" {
					add(spath, "branch case %d is missing a then target", j)
				}
			}
		case StepSay:
			validateUtterance(doc, spath, step.Say.Message, step.Say.Response, add)
		case StepConfirm:
			validateUtterance(doc, spath, step.Confirm.Message, step.Confirm.Response, add)
		case StepGenerate:
			if step.Generate.Instruction == "" {
				add(spath, "generate requires an instruction")
			}
		case StepCallFlow:
			if step.CallFlow.Flow == "" {
				add(spath, "call_flow requires a flow name")
			}
		case StepSet:
			if len(step.Set.Values) == 0 {
				add(spath, "set requires at least one value")
			}
		case StepHandoff:
			// queue is optional; settings.handoff.default_queue applies.
		}
	}
}

// validateUtterance checks the message/response pair of say and confirm.
func validateUtterance(doc *Document, spath, message, response string, add func(path, format string, args ...any)) {
	if message == "" && response == "" {
		add(spath, "requires a message or a response key")
		return
	}
	if message != "" && response != "" {
		add(spath, "message and response are mutually exclusive")
	}
	if response != "" {
		if _, ok := doc.Responses[response]; !ok {
			add(spath, "references unknown response %q", response)
		}
	}
}

// sortedFlows / sortedSlots give validation deterministic output order.

type namedFlow struct {
	name string
	def  FlowDef
}

func sortedFlows(m map[string]FlowDef) []namedFlow {
	out := make([]namedFlow, 0, len(m))
	for name, def := range m {
		out = append(out, namedFlow{name, def})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

type namedSlot struct {
	name string
	def  SlotDef
}

func sortedSlots(m map[string]SlotDef) []namedSlot {
	out := make([]namedSlot, 0, len(m))
	for name, def := range m {
		out = append(out, namedSlot{name, def})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
