package state

import (
	"fmt"
	"time"
)

// PopMode selects how a frame leaves the stack.
type PopMode string

const (
	PopNone     PopMode = ""
	PopComplete PopMode = "complete" // declared outputs propagate to parent
	PopCancel   PopMode = "cancel"   // no propagation
	PopError    PopMode = "error"    // no propagation; error vars already set
)

// OutboundKind discriminates outbound payloads.
type OutboundKind string

const (
	OutMessage OutboundKind = "message"
	OutHandoff OutboundKind = "handoff"
)

// Outbound is one message or signal produced by a node during a turn.
// Outbound order within a turn is delivery order.
type Outbound struct {
	Kind    OutboundKind   `json:"kind"`
	Text    string         `json:"text,omitempty"`
	Queue   string         `json:"queue,omitempty"`   // handoff only
	Context map[string]any `json:"context,omitempty"` // handoff only
}

// Delta is an immutable description of a state mutation produced by a node
// or by the command orchestrator. Executors return deltas; the runtime merges
// them atomically through Apply.
type Delta struct {
	SlotUpdates    map[string]any // active frame scope
	ClearSlots     []string       // active frame scope, applied before updates
	SessionUpdates map[string]any
	Metadata       map[string]any

	Push       string // flow name to push; "" = none
	PushInputs map[string]any

	Pop        PopMode
	PopOutputs map[string]any // written into the parent frame after pop

	AdvanceTo string // next step id for the active frame; "" = none

	Task      *PendingTask
	ClearTask bool

	State ConversationState // "" = unchanged

	Messages []Outbound
}

// Empty reports whether applying the delta would change nothing.
func (d Delta) Empty() bool {
	return len(d.SlotUpdates) == 0 && len(d.ClearSlots) == 0 &&
		len(d.SessionUpdates) == 0 && len(d.Metadata) == 0 &&
		d.Push == "" && d.Pop == PopNone && d.AdvanceTo == "" &&
		d.Task == nil && !d.ClearTask && d.State == "" && len(d.Messages) == 0
}

// Merge combines two deltas with d applied first and then next. Scalar
// fields from next win; maps are unioned.
func (d Delta) Merge(next Delta) Delta {
	out := d
	out.SlotUpdates = unionMap(d.SlotUpdates, next.SlotUpdates)
	out.SessionUpdates = unionMap(d.SessionUpdates, next.SessionUpdates)
	out.Metadata = unionMap(d.Metadata, next.Metadata)
	out.ClearSlots = append(append([]string(nil), d.ClearSlots...), next.ClearSlots...)
	out.Messages = append(append([]Outbound(nil), d.Messages...), next.Messages...)
	if next.Push != "" {
		out.Push = next.Push
		out.PushInputs = next.PushInputs
	}
	if next.Pop != PopNone {
		out.Pop = next.Pop
		out.PopOutputs = next.PopOutputs
	}
	if next.AdvanceTo != "" {
		out.AdvanceTo = next.AdvanceTo
	}
	if next.Task != nil {
		out.Task = next.Task
	}
	if next.ClearTask {
		out.ClearTask = true
		out.Task = next.Task
	}
	if next.State != "" {
		out.State = next.State
	}
	return out
}

func unionMap(a, b map[string]any) map[string]any {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Apply produces the successor state. The input dialogue is never mutated.
// Application order: metadata, session slots, frame slot clears/updates,
// push, pop (with output propagation), step advance, pending task,
// conversation state. An empty delta yields an equal state.
func Apply(d *Dialogue, delta Delta) (*Dialogue, error) {
	next := d.Clone()
	if delta.Empty() {
		return next, nil
	}
	next.UpdatedAt = time.Now()

	for k, v := range delta.Metadata {
		next.Metadata[k] = v
	}
	for k, v := range delta.SessionUpdates {
		next.SessionSlots[k] = v
	}

	if len(delta.ClearSlots) > 0 || len(delta.SlotUpdates) > 0 {
		top := next.Top()
		if top == nil {
			return nil, fmt.Errorf("state: slot update with empty flow stack")
		}
		slots := next.FlowSlots[top.FlowID]
		if slots == nil {
			slots = map[string]any{}
			next.FlowSlots[top.FlowID] = slots
		}
		for _, name := range delta.ClearSlots {
			delete(slots, name)
		}
		for k, v := range delta.SlotUpdates {
			slots[k] = v
		}
	}

	if delta.Push != "" {
		next.push(delta.Push, delta.PushInputs)
	}

	if delta.Pop != PopNone {
		if err := next.pop(delta.Pop, delta.PopOutputs); err != nil {
			return nil, err
		}
	}

	if delta.AdvanceTo != "" {
		top := next.Top()
		if top == nil {
			return nil, fmt.Errorf("state: step advance with empty flow stack")
		}
		top.CurrentStep = delta.AdvanceTo
		top.StepHistory = append(top.StepHistory, delta.AdvanceTo)
		next.CurrentStep = delta.AdvanceTo
	}

	if delta.ClearTask {
		next.Pending = nil
	}
	if delta.Task != nil {
		task := *delta.Task
		next.Pending = &task
	}

	if delta.State != "" {
		if err := next.Transition(delta.State); err != nil {
			return nil, err
		}
	}

	for _, out := range delta.Messages {
		if out.Kind == OutMessage {
			next.Messages = append(next.Messages, Message{
				Role:    "assistant",
				Content: out.Text,
				Time:    time.Now(),
			})
			next.LastResponse = out.Text
		}
	}

	return next, nil
}
