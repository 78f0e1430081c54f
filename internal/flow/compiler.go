package flow

import (
	"sort"

	"github.com/sonilabs/soni/internal/dsl"
)

// Resolver answers compile-time registry lookups. A document that references
// an unbound action, validator, or normalizer fails compilation.
type Resolver interface {
	HasAction(name string) bool
	HasValidator(name string) bool
	HasNormalizer(name string) bool
}

// allowAll is the permissive resolver used when nil is passed, primarily by
// tests and the validate command before registries exist.
type allowAll struct{}

func (allowAll) HasAction(string) bool     { return true }
func (allowAll) HasValidator(string) bool  { return true }
func (allowAll) HasNormalizer(string) bool { return true }

// Compile translates a parsed document into executable graphs. All flows are
// compiled; errors across flows are collected and returned together.
// Warnings accompany a successful compile and never fail it.
func Compile(doc *dsl.Document, resolver Resolver) (*Config, []CompileWarning, error) {
	if resolver == nil {
		resolver = allowAll{}
	}

	cfg := &Config{Doc: doc, Graphs: map[string]*Graph{}}
	var errs CompileErrors
	var warnings []CompileWarning

	names := make([]string, 0, len(doc.Flows))
	for name := range doc.Flows {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := doc.Flows[name]
		graph, flowErrs, flowWarnings := compileFlow(doc, name, &def, resolver)
		errs = append(errs, flowErrs...)
		warnings = append(warnings, flowWarnings...)
		if graph != nil {
			cfg.Graphs[name] = graph
		}
	}

	if len(errs) > 0 {
		return nil, warnings, errs
	}
	return cfg, warnings, nil
}

// compileFlow lowers and links a single flow.
func compileFlow(doc *dsl.Document, name string, def *dsl.FlowDef, resolver Resolver) (*Graph, CompileErrors, []CompileWarning) {
	var errs CompileErrors
	var warnings []CompileWarning

	g := &Graph{
		Name:    name,
		Def:     def,
		Nodes:   map[string]*Node{},
		OnError: def.OnError,
	}

	// Pass 1: lowering. One node per declared step; duplicate ids rejected.
	for i := range def.Process {
		step := &def.Process[i]
		if _, dup := g.Nodes[step.ID]; dup {
			errs = append(errs, CompileError{
				Kind: KindDuplicateStepID, Flow: name, Step: step.ID,
				Message: "step id declared more than once",
			})
			continue
		}
		g.Nodes[step.ID] = &Node{ID: step.ID, Kind: step.Type, Step: step, Index: i}
		g.Order = append(g.Order, step.ID)
	}
	if len(g.Order) > 0 {
		g.Entry = g.Order[0]
	}

	// Pass 2: linking. Resolve default successors, validate every declared
	// transition target, and check the registries.
	for _, id := range g.Order {
		node := g.Nodes[id]

		next := node.Step.JumpTo
		if next == "" {
			next = dsl.TargetContinue
		}
		node.Next = g.Successor(node, next)
		if node.Step.JumpTo != "" {
			checkTarget(g, node.ID, node.Step.JumpTo, &errs)
		}

		for _, target := range declaredTargets(node.Step) {
			checkTarget(g, node.ID, target, &errs)
		}

		lintStep(doc, g, node, resolver, &errs, &warnings)
	}

	if def.OnError != "" {
		checkTarget(g, "", def.OnError, &errs)
	}

	validateStructure(g, &errs)

	if len(errs) > 0 {
		return nil, errs, warnings
	}
	return g, nil, warnings
}

// declaredTargets enumerates every explicit transition target of a step
// beyond jump_to.
func declaredTargets(step *dsl.StepDef) []string {
	var out []string
	add := func(targets ...string) {
		for _, t := range targets {
			if t != "" {
				out = append(out, t)
			}
		}
	}
	switch step.Type {
	case dsl.StepCollect:
		add(step.Collect.OnInvalid, step.Collect.OnTimeout)
	case dsl.StepAction:
		add(step.Action.OnError)
	case dsl.StepBranch:
		for _, c := range step.Branch.Cases {
			add(c.Then)
		}
		add(step.Branch.Else)
	case dsl.StepConfirm:
		add(step.Confirm.OnYes, step.Confirm.OnNo, step.Confirm.OnChange,
			step.Confirm.OnCorrection, step.Confirm.OnModification)
	case dsl.StepGenerate:
		add(step.Generate.OnError)
	case dsl.StepCallFlow:
		add(step.CallFlow.OnError)
	}
	return out
}

// checkTarget validates one transition target: a declared step id or a
// reserved keyword.
func checkTarget(g *Graph, from, target string, errs *CompileErrors) {
	if _, reserved := dsl.ReservedTargets[target]; reserved {
		return
	}
	if _, ok := g.Nodes[target]; !ok {
		*errs = append(*errs, CompileError{
			Kind: KindUnknownStepTarget, Flow: g.Name, Step: from,
			Message: "transition references unknown step " + quote(target),
		})
	}
}

// lintStep runs the per-kind compile checks: registry resolution and the
// branch exhaustiveness warning.
func lintStep(doc *dsl.Document, g *Graph, node *Node, resolver Resolver, errs *CompileErrors, warnings *[]CompileWarning) {
	step := node.Step
	switch step.Type {
	case dsl.StepCollect:
		slot, ok := doc.Slots[step.Collect.Slot]
		if !ok {
			return // reported by schema validation
		}
		if slot.Validator != "" && !resolver.HasValidator(slot.Validator) {
			*errs = append(*errs, CompileError{
				Kind: KindUnknownValidator, Flow: g.Name, Step: node.ID,
				Message: "validator " + quote(slot.Validator) + " is not registered",
			})
		}
		if slot.Normalizer != "" && !resolver.HasNormalizer(slot.Normalizer) {
			*errs = append(*errs, CompileError{
				Kind: KindUnknownNormalizer, Flow: g.Name, Step: node.ID,
				Message: "normalizer " + quote(slot.Normalizer) + " is not registered",
			})
		}
	case dsl.StepAction:
		name := step.Action.Call
		if _, declared := doc.Actions[name]; !declared || !resolver.HasAction(name) {
			*errs = append(*errs, CompileError{
				Kind: KindUnknownAction, Flow: g.Name, Step: node.ID,
				Message: "action " + quote(name) + " is not registered",
			})
		}
	case dsl.StepBranch:
		if step.Branch.Else == "" {
			*warnings = append(*warnings, CompileWarning{
				Flow: g.Name, Step: node.ID,
				Message: "branch has no else; unmatched input falls through to the next step",
			})
		}
	case dsl.StepCallFlow:
		if _, ok := doc.Flows[step.CallFlow.Flow]; !ok {
			*errs = append(*errs, CompileError{
				Kind: KindUnknownFlow, Flow: g.Name, Step: node.ID,
				Message: "call_flow references unknown flow " + quote(step.CallFlow.Flow),
			})
		}
	}
}

func quote(s string) string { return "\"" + s + "\"" }
