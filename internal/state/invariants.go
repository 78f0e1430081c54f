package state

import "fmt"

// Invariants checks the universal state invariants that must hold after
// every committed turn. It returns every violation found; an empty slice
// means the state is consistent.
func (d *Dialogue) Invariants() []error {
	var errs []error

	seen := map[string]struct{}{}
	for _, f := range d.FlowStack {
		if _, dup := seen[f.FlowID]; dup {
			errs = append(errs, fmt.Errorf("duplicate flow_id %q on stack", f.FlowID))
		}
		seen[f.FlowID] = struct{}{}
	}

	for id := range d.FlowSlots {
		if _, ok := seen[id]; !ok {
			errs = append(errs, fmt.Errorf("flow_slots entry %q has no stack frame", id))
		}
	}

	blocked := d.Conversation == WaitingForSlot || d.Conversation == Confirming
	if (d.Pending != nil) != blocked {
		errs = append(errs, fmt.Errorf(
			"pending_task presence (%v) inconsistent with conversation state %s",
			d.Pending != nil, d.Conversation))
	}
	if d.Conversation == WaitingForSlot && (d.Pending == nil || d.Pending.Kind != TaskCollect) {
		errs = append(errs, fmt.Errorf("waiting_for_slot without a collect task"))
	}

	if top := d.Top(); top != nil && top.CurrentStep != d.CurrentStep {
		errs = append(errs, fmt.Errorf(
			"current_step %q does not match top frame step %q", d.CurrentStep, top.CurrentStep))
	}

	return errs
}
