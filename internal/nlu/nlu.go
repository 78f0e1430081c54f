// Package nlu defines the contract between the dialogue runtime and natural
// language understanding. The runtime never interprets raw text itself: it
// hands each user message to an Understander and acts on the structured
// result. Implementations range from the keyword matcher in this package to
// LLM-backed understanders supplied by the host.
package nlu

import (
	"context"
	"sort"
)

// Message types returned by full understanding.
const (
	MessageCommand  = "command"  // start, cancel, or modify a flow
	MessageSlot     = "slot"     // provides a value for the awaited slot
	MessageQuestion = "question" // asks something orthogonal to the task
	MessageChitchat = "chitchat" // no task content
	MessageUnknown  = "unknown"
)

// Command kinds, in descending execution priority.
const (
	CmdCancelFlow = "cancel_flow"
	CmdStartFlow  = "start_flow"
	CmdSetSlot    = "set_slot"
	CmdConfirmYes = "confirm_yes"
	CmdConfirmNo  = "confirm_no"
)

// cmdPriority orders concurrent commands from one message deterministically.
var cmdPriority = map[string]int{
	CmdCancelFlow: 0,
	CmdStartFlow:  1,
	CmdSetSlot:    2,
	CmdConfirmYes: 3,
	CmdConfirmNo:  3,
}

// Command is one structured instruction extracted from a user message.
type Command struct {
	Kind  string `json:"kind"`
	Flow  string `json:"flow,omitempty"`
	Slot  string `json:"slot,omitempty"`
	Value any    `json:"value,omitempty"`
}

// SortCommands orders commands by execution priority, stably, so a message
// carrying both a cancellation and a new request cancels first.
func SortCommands(cmds []Command) {
	sort.SliceStable(cmds, func(i, j int) bool {
		return cmdPriority[cmds[i].Kind] < cmdPriority[cmds[j].Kind]
	})
}

// FullResult is the outcome of understanding a message with no awaited slot:
// classification plus any commands and opportunistic slot fills.
type FullResult struct {
	MessageType string         `json:"message_type"`
	Commands    []Command      `json:"commands,omitempty"`
	Slots       map[string]any `json:"slots,omitempty"`
	Confidence  float64        `json:"confidence"`
	Reasoning   string         `json:"reasoning,omitempty"`
}

// Slot-mode result kinds: how the message relates to the awaited slot.
const (
	SlotValue        = "slot_value"
	SlotIntentChange = "intent_change"
	SlotQuestion     = "question"
	SlotClarify      = "clarification"
	SlotCorrection   = "correction"
	SlotCancellation = "cancellation"
	SlotConfirmation = "confirmation"
	SlotDenial       = "denial"
	SlotContinuation = "continuation"
)

// SlotResult is the outcome of understanding a message while a specific slot
// or confirmation is awaited.
type SlotResult struct {
	Kind       string  `json:"kind"`
	Value      any     `json:"value,omitempty"`
	TargetSlot string  `json:"target_slot,omitempty"`
	TargetFlow string  `json:"target_flow,omitempty"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Request carries one user message plus the dialogue context an understander
// needs to interpret it.
type Request struct {
	Message  string
	Language string

	// AwaitedSlot is the slot the runtime is blocked on, if any.
	AwaitedSlot string
	// SlotPrompt is the prompt that elicited the message, for grounding.
	SlotPrompt string
	// Confirming is set while a confirm step awaits yes/no.
	Confirming bool

	// Triggers maps each startable flow to its trigger phrases.
	Triggers map[string][]string
	// ActiveFlow names the flow on top of the stack, if any.
	ActiveFlow string
	// Transcript holds the most recent exchange, oldest first.
	Transcript []string
	// Slots is a read-only view of the current local slot scope.
	Slots map[string]any
}

// GenerateRequest asks the understander's generative side for free text.
type GenerateRequest struct {
	Instruction string
	Language    string
	Context     map[string]any
}

// Understander interprets user messages. UnderstandFull runs when no slot is
// awaited; UnderstandSlot runs while blocked on a collect or confirm step.
type Understander interface {
	UnderstandFull(ctx context.Context, req Request) (*FullResult, error)
	UnderstandSlot(ctx context.Context, req Request) (*SlotResult, error)
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}
