package runtime

import "github.com/sonilabs/soni/internal/flow"

// Dynamic scoping: before every understanding call the turn computes which
// flows the user may actually start, and that set is the only start
// vocabulary the understander is given. Commands naming anything else are
// out of scope and divert to the fallback flow instead of executing.

// availableTriggers returns the startable flows with their trigger phrases.
// A flow is in scope when it has triggers, is not already on top of the
// stack, and every declared input is resolvable from the current slots. A
// full stack under reject_new closes the vocabulary entirely.
func (t *turn) availableTriggers() map[string][]string {
	all := t.rt.cfg.Triggers()
	top := t.d.Top()

	fm := t.rt.cfg.Settings().FlowManagement
	blocked := top != nil && t.d.Depth() >= fm.MaxStackDepth && fm.OnLimitReached != "cancel_oldest"

	scoped := make(map[string][]string, len(all))
	for name, intents := range all {
		if len(intents) == 0 {
			continue
		}
		if top != nil && (blocked || name == top.FlowName) {
			continue
		}
		if !t.inputsSatisfiable(name) {
			continue
		}
		scoped[name] = intents
	}
	return scoped
}

// inputsSatisfiable reports whether every declared input of the flow can be
// seeded from the active frame or the session scope. A user-started flow
// gets no explicit inputs, so unsatisfiable ones stay out of scope.
func (t *turn) inputsSatisfiable(name string) bool {
	g := t.rt.cfg.Graph(name)
	if g == nil {
		return false
	}
	for _, in := range g.Def.Inputs {
		if _, ok := t.d.Slot(in); ok {
			continue
		}
		if _, ok := t.d.SessionSlots[in]; ok {
			continue
		}
		return false
	}
	return true
}

// inScope reports whether a start command for the named flow is currently
// allowed.
func (t *turn) inScope(name string) bool {
	_, ok := t.availableTriggers()[name]
	return ok
}

// seedInputs resolves a flow's declared inputs from the current slots for a
// user-initiated start, where no caller provides them explicitly.
func (t *turn) seedInputs(g *flow.Graph) map[string]any {
	if len(g.Def.Inputs) == 0 {
		return nil
	}
	inputs := map[string]any{}
	for _, in := range g.Def.Inputs {
		if v, ok := t.d.Slot(in); ok {
			inputs[in] = v
		} else if v, ok := t.d.SessionSlots[in]; ok {
			inputs[in] = v
		}
	}
	return inputs
}
