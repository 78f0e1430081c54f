// Package state models the per-session dialogue state as a pure,
// serializable value. All mutation flows through Apply(delta); node executors
// never touch the state in place. The transient runtime context (registries,
// NLU, config) is deliberately kept out of this package so a Dialogue can be
// checkpointed as plain JSON.
package state

import (
	"fmt"
	"time"
)

// ConversationState is the session-level state machine position. String
// values (not iota) so they round-trip cleanly through JSON checkpoints.
type ConversationState string

const (
	Idle            ConversationState = "idle"
	Understanding   ConversationState = "understanding"
	WaitingForSlot  ConversationState = "waiting_for_slot"
	ValidatingSlot  ConversationState = "validating_slot"
	ExecutingAction ConversationState = "executing_action"
	Confirming      ConversationState = "confirming"
	Completed       ConversationState = "completed"
	ErrorState      ConversationState = "error"
)

// transitions is the permitted adjacency of the conversation state machine.
// A transition to the current state is always a no-op and always allowed.
var transitions = map[ConversationState][]ConversationState{
	Idle:            {Understanding, ErrorState},
	Understanding:   {WaitingForSlot, ExecutingAction, Idle, ErrorState},
	WaitingForSlot:  {ValidatingSlot, Understanding, ErrorState},
	ValidatingSlot:  {WaitingForSlot, Understanding, ExecutingAction, ErrorState},
	ExecutingAction: {Completed, WaitingForSlot, Confirming, ErrorState},
	Confirming:      {ExecutingAction, Completed, Understanding, ErrorState},
	Completed:       {Idle},
	ErrorState:      {Understanding, Idle},
}

// CanTransition reports whether from may move to to under the adjacency
// table.
func CanTransition(from, to ConversationState) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TaskKind discriminates PendingTask variants.
type TaskKind string

const (
	TaskCollect TaskKind = "collect"
	TaskConfirm TaskKind = "confirm"
	TaskInform  TaskKind = "inform"
)

// PendingTask marks the session as blocked awaiting user input for a
// specific slot or confirmation.
type PendingTask struct {
	Kind     TaskKind `json:"kind"`
	Slot     string   `json:"slot,omitempty"`
	StepID   string   `json:"step_id,omitempty"`
	Attempts int      `json:"attempts"`

	// AskedAt is when the prompt was issued; collect deadlines are measured
	// against it. Timeouts counts expired deadlines for this task.
	AskedAt  time.Time `json:"asked_at,omitempty"`
	Timeouts int       `json:"timeouts,omitempty"`
}

// Message is one utterance in the conversation transcript.
type Message struct {
	Role    string    `json:"role"` // user | assistant
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// FlowContext is one live frame on the flow stack. FlowID is unique per
// instance and stable for the frame's lifetime; FlowName may repeat across
// frames.
type FlowContext struct {
	FlowID      string         `json:"flow_id"`
	FlowName    string         `json:"flow_name"`
	CurrentStep string         `json:"current_step"`
	StepHistory []string       `json:"step_history"`
	Executions  map[string]int `json:"executions"` // per-step run counter, loop protection
	Inputs      map[string]any `json:"inputs,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
}

// Dialogue is the complete per-session state.
type Dialogue struct {
	SessionID    string                    `json:"session_id"`
	Language     string                    `json:"language,omitempty"`
	Messages     []Message                 `json:"messages"`
	FlowStack    []FlowContext             `json:"flow_stack"`
	FlowSlots    map[string]map[string]any `json:"flow_slots"`
	SessionSlots map[string]any            `json:"session_slots"`
	Pending      *PendingTask              `json:"pending_task,omitempty"`
	Conversation ConversationState         `json:"conversation_state"`
	CurrentStep  string                    `json:"current_step,omitempty"`
	TurnCount    int                       `json:"turn_count"`
	LastResponse string                    `json:"last_response,omitempty"`
	Metadata     map[string]any            `json:"metadata"`
	Revision     uint64                    `json:"revision"`
	CreatedAt    time.Time                 `json:"created_at"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// New creates an idle Dialogue for a session. Collections are initialized
// non-nil so JSON serialization produces [] and {} rather than null.
func New(sessionID, language string) *Dialogue {
	now := time.Now()
	return &Dialogue{
		SessionID:    sessionID,
		Language:     language,
		Messages:     []Message{},
		FlowStack:    []FlowContext{},
		FlowSlots:    map[string]map[string]any{},
		SessionSlots: map[string]any{},
		Conversation: Idle,
		Metadata:     map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Top returns the active flow frame, or nil when the stack is empty.
func (d *Dialogue) Top() *FlowContext {
	if len(d.FlowStack) == 0 {
		return nil
	}
	return &d.FlowStack[len(d.FlowStack)-1]
}

// Depth returns the flow stack depth.
func (d *Dialogue) Depth() int { return len(d.FlowStack) }

// LocalSlots returns the slot map of the active frame, or nil when no flow
// is active. The returned map is live; callers that mutate must own a clone.
func (d *Dialogue) LocalSlots() map[string]any {
	top := d.Top()
	if top == nil {
		return nil
	}
	return d.FlowSlots[top.FlowID]
}

// Slot reads a slot from the active frame's scope.
func (d *Dialogue) Slot(name string) (any, bool) {
	slots := d.LocalSlots()
	if slots == nil {
		return nil, false
	}
	v, ok := slots[name]
	return v, ok
}

// Transition moves the conversation state machine, enforcing the adjacency
// table. Rejected transitions leave the state untouched.
func (d *Dialogue) Transition(to ConversationState) error {
	if !CanTransition(d.Conversation, to) {
		return fmt.Errorf("state: invalid transition %s -> %s", d.Conversation, to)
	}
	d.Conversation = to
	return nil
}

// Clone deep-copies the dialogue so the original stays untouched by Apply.
func (d *Dialogue) Clone() *Dialogue {
	out := *d
	out.Messages = append([]Message(nil), d.Messages...)
	out.FlowStack = make([]FlowContext, len(d.FlowStack))
	for i, f := range d.FlowStack {
		out.FlowStack[i] = f
		out.FlowStack[i].StepHistory = append([]string(nil), f.StepHistory...)
		out.FlowStack[i].Executions = cloneCounter(f.Executions)
		out.FlowStack[i].Inputs = cloneMap(f.Inputs)
		out.FlowStack[i].Outputs = cloneMap(f.Outputs)
	}
	out.FlowSlots = make(map[string]map[string]any, len(d.FlowSlots))
	for id, slots := range d.FlowSlots {
		out.FlowSlots[id] = cloneMap(slots)
	}
	out.SessionSlots = cloneMap(d.SessionSlots)
	out.Metadata = cloneMap(d.Metadata)
	if d.Pending != nil {
		p := *d.Pending
		out.Pending = &p
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneCounter(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
