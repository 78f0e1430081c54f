package state

import (
	"strings"

	"github.com/google/uuid"
)

// Flow stack management. Frames are pushed by StartFlow commands and
// call_flow steps, and popped on completion, cancellation, or error. A
// frame's slots live in FlowSlots keyed by its unique flow_id; the entry is
// cleared at frame destruction so slot scope follows the frame, not the
// definition.

// newFlowID derives a unique frame id from the flow name plus a random
// suffix, e.g. "book_flight_a3f7c21d". Eight hex chars keep collisions out
// of reach for any realistic session length.
func newFlowID(flowName string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return flowName + "_" + suffix
}

// push creates an empty frame for flowName and makes it active. Inputs are
// seeded into both the frame record and its slot scope.
func (d *Dialogue) push(flowName string, inputs map[string]any) string {
	id := newFlowID(flowName)
	frame := FlowContext{
		FlowID:      id,
		FlowName:    flowName,
		StepHistory: []string{},
		Executions:  map[string]int{},
		Inputs:      cloneMap(inputs),
	}
	d.FlowStack = append(d.FlowStack, frame)
	slots := map[string]any{}
	for k, v := range inputs {
		slots[k] = v
	}
	d.FlowSlots[id] = slots
	d.CurrentStep = ""
	return id
}

// pop removes the active frame, clears its slot scope, and (for
// PopComplete) writes outputs into the parent's slots. The session-level
// CurrentStep is restored to the parent frame's position.
func (d *Dialogue) pop(mode PopMode, outputs map[string]any) error {
	top := d.Top()
	if top == nil {
		return nil
	}
	delete(d.FlowSlots, top.FlowID)
	d.FlowStack = d.FlowStack[:len(d.FlowStack)-1]

	parent := d.Top()
	if parent == nil {
		d.CurrentStep = ""
		return nil
	}
	d.CurrentStep = parent.CurrentStep

	if mode == PopComplete && len(outputs) > 0 {
		slots := d.FlowSlots[parent.FlowID]
		if slots == nil {
			slots = map[string]any{}
			d.FlowSlots[parent.FlowID] = slots
		}
		for k, v := range outputs {
			slots[k] = v
		}
	}
	return nil
}

// RecordExecution increments the active frame's execution counter for step
// and returns the new count. Used by the runtime's loop protection.
func (d *Dialogue) RecordExecution(step string) int {
	top := d.Top()
	if top == nil {
		return 0
	}
	if top.Executions == nil {
		top.Executions = map[string]int{}
	}
	top.Executions[step]++
	return top.Executions[step]
}
