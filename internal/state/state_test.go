package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Conversation state machine
// ---------------------------------------------------------------------------

func TestCanTransition_AdjacencyTable(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to ConversationState }{
		{Idle, Understanding},
		{Idle, ErrorState},
		{Understanding, WaitingForSlot},
		{Understanding, ExecutingAction},
		{Understanding, Idle},
		{WaitingForSlot, ValidatingSlot},
		{WaitingForSlot, Understanding},
		{ValidatingSlot, WaitingForSlot},
		{ValidatingSlot, ExecutingAction},
		{ExecutingAction, Completed},
		{ExecutingAction, Confirming},
		{Confirming, ExecutingAction},
		{Confirming, Understanding},
		{Completed, Idle},
		{ErrorState, Understanding},
		{ErrorState, Idle},
	}
	for _, tt := range allowed {
		assert.True(t, CanTransition(tt.from, tt.to), "%s -> %s should be allowed", tt.from, tt.to)
	}

	rejected := []struct{ from, to ConversationState }{
		{Idle, WaitingForSlot},
		{Idle, Completed},
		{Completed, Understanding},
		{WaitingForSlot, ExecutingAction},
		{WaitingForSlot, Completed},
		{ExecutingAction, Idle},
		{Confirming, WaitingForSlot},
	}
	for _, tt := range rejected {
		assert.False(t, CanTransition(tt.from, tt.to), "%s -> %s should be rejected", tt.from, tt.to)
	}
}

func TestCanTransition_SelfIsNoOp(t *testing.T) {
	t.Parallel()

	for from := range transitions {
		assert.True(t, CanTransition(from, from))
	}
}

func TestTransition_RejectedLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	d := New("u1", "en")
	err := d.Transition(Completed)
	require.Error(t, err)
	assert.Equal(t, Idle, d.Conversation)
}

// ---------------------------------------------------------------------------
// Stack
// ---------------------------------------------------------------------------

func applyOK(t *testing.T, d *Dialogue, delta Delta) *Dialogue {
	t.Helper()
	next, err := Apply(d, delta)
	require.NoError(t, err)
	return next
}

func TestApply_PushCreatesFrameAndScope(t *testing.T) {
	t.Parallel()

	d := New("u1", "en")
	next := applyOK(t, d, Delta{Push: "book_flight", PushInputs: map[string]any{"origin": "MAD"}})

	require.Equal(t, 1, next.Depth())
	top := next.Top()
	assert.Equal(t, "book_flight", top.FlowName)
	assert.Contains(t, top.FlowID, "book_flight_")
	assert.Contains(t, next.FlowSlots, top.FlowID)

	v, ok := next.Slot("origin")
	require.True(t, ok)
	assert.Equal(t, "MAD", v)

	// Original untouched.
	assert.Equal(t, 0, d.Depth())
}

func TestApply_FlowIDsUniqueAcrossPushes(t *testing.T) {
	t.Parallel()

	d := New("u1", "en")
	d = applyOK(t, d, Delta{Push: "f"})
	d = applyOK(t, d, Delta{Push: "f"})

	require.Equal(t, 2, d.Depth())
	assert.NotEqual(t, d.FlowStack[0].FlowID, d.FlowStack[1].FlowID)
	assert.Empty(t, d.Invariants())

	// The random suffix is wide enough that ids stay unique over long
	// sessions, not just across a handful of pushes.
	assert.Len(t, d.FlowStack[0].FlowID, len("f_")+8)
}

func TestApply_PopClearsScopeAndPropagatesOutputs(t *testing.T) {
	t.Parallel()

	d := New("u1", "en")
	d = applyOK(t, d, Delta{Push: "parent"})
	parentID := d.Top().FlowID
	d = applyOK(t, d, Delta{AdvanceTo: "call_child"})
	d = applyOK(t, d, Delta{Push: "child"})
	childID := d.Top().FlowID
	d = applyOK(t, d, Delta{SlotUpdates: map[string]any{"total": 42}})

	d = applyOK(t, d, Delta{Pop: PopComplete, PopOutputs: map[string]any{"total": 42}})

	require.Equal(t, 1, d.Depth())
	assert.NotContains(t, d.FlowSlots, childID)
	assert.Equal(t, 42, d.FlowSlots[parentID]["total"])
	// Session-level step position restored to the parent frame.
	assert.Equal(t, "call_child", d.CurrentStep)
	assert.Empty(t, d.Invariants())
}

func TestApply_CancelPopSkipsOutputs(t *testing.T) {
	t.Parallel()

	d := New("u1", "en")
	d = applyOK(t, d, Delta{Push: "parent"})
	parentID := d.Top().FlowID
	d = applyOK(t, d, Delta{Push: "child"})

	d = applyOK(t, d, Delta{Pop: PopCancel, PopOutputs: map[string]any{"total": 42}})

	assert.NotContains(t, d.FlowSlots[parentID], "total")
}

func TestApply_SessionSlotsSurviveCancel(t *testing.T) {
	t.Parallel()

	d := New("u1", "en")
	d = applyOK(t, d, Delta{Push: "f"})
	d = applyOK(t, d, Delta{
		SlotUpdates:    map[string]any{"origin": "MAD"},
		SessionUpdates: map[string]any{"user_name": "Ada"},
	})
	d = applyOK(t, d, Delta{Pop: PopCancel})

	assert.Equal(t, "Ada", d.SessionSlots["user_name"])
	assert.Equal(t, 0, d.Depth())
	assert.Empty(t, d.FlowSlots)
}

// ---------------------------------------------------------------------------
// Apply semantics
// ---------------------------------------------------------------------------

func TestApply_EmptyDeltaIsIdentity(t *testing.T) {
	t.Parallel()

	d := New("u1", "en")
	d = applyOK(t, d, Delta{Push: "f"})
	d = applyOK(t, d, Delta{SlotUpdates: map[string]any{"a": 1}})

	next := applyOK(t, d, Delta{})

	a, err := json.Marshal(d)
	require.NoError(t, err)
	b, err := json.Marshal(next)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestApply_SlotUpdateWithoutFrameFails(t *testing.T) {
	t.Parallel()

	d := New("u1", "en")
	_, err := Apply(d, Delta{SlotUpdates: map[string]any{"a": 1}})
	assert.Error(t, err)
}

func TestApply_ClearSlotsBeforeUpdates(t *testing.T) {
	t.Parallel()

	d := New("u1", "en")
	d = applyOK(t, d, Delta{Push: "f"})
	d = applyOK(t, d, Delta{SlotUpdates: map[string]any{"a": 1, "b": 2}})
	d = applyOK(t, d, Delta{ClearSlots: []string{"a", "b"}, SlotUpdates: map[string]any{"b": 3}})

	_, ok := d.Slot("a")
	assert.False(t, ok)
	v, _ := d.Slot("b")
	assert.Equal(t, 3, v)
}

func TestApply_TaskAndStateTogether(t *testing.T) {
	t.Parallel()

	d := New("u1", "en")
	d = applyOK(t, d, Delta{Push: "f", State: Understanding})
	d = applyOK(t, d, Delta{
		Task:  &PendingTask{Kind: TaskCollect, Slot: "origin"},
		State: WaitingForSlot,
	})

	require.NotNil(t, d.Pending)
	assert.Equal(t, TaskCollect, d.Pending.Kind)
	assert.Equal(t, WaitingForSlot, d.Conversation)
	assert.Empty(t, d.Invariants())
}

func TestApply_InvalidTransitionFails(t *testing.T) {
	t.Parallel()

	d := New("u1", "en")
	_, err := Apply(d, Delta{State: Completed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid transition")
}

func TestApply_MessagesAppendToTranscript(t *testing.T) {
	t.Parallel()

	d := New("u1", "en")
	d = applyOK(t, d, Delta{Messages: []Outbound{
		{Kind: OutMessage, Text: "first"},
		{Kind: OutMessage, Text: "second"},
	}})

	require.Len(t, d.Messages, 2)
	assert.Equal(t, "assistant", d.Messages[0].Role)
	assert.Equal(t, "second", d.LastResponse)
}

func TestApply_HandoffOutboundNotInTranscript(t *testing.T) {
	t.Parallel()

	d := New("u1", "en")
	d = applyOK(t, d, Delta{Messages: []Outbound{{Kind: OutHandoff, Queue: "support"}}})
	assert.Empty(t, d.Messages)
}

// ---------------------------------------------------------------------------
// Merge
// ---------------------------------------------------------------------------

func TestMerge_MapsUnionLatterWins(t *testing.T) {
	t.Parallel()

	a := Delta{SlotUpdates: map[string]any{"x": 1, "y": 1}}
	b := Delta{SlotUpdates: map[string]any{"y": 2}, State: Understanding}
	m := a.Merge(b)

	assert.Equal(t, 1, m.SlotUpdates["x"])
	assert.Equal(t, 2, m.SlotUpdates["y"])
	assert.Equal(t, Understanding, m.State)
}

func TestMerge_MessagesConcatenateInOrder(t *testing.T) {
	t.Parallel()

	a := Delta{Messages: []Outbound{{Kind: OutMessage, Text: "1"}}}
	b := Delta{Messages: []Outbound{{Kind: OutMessage, Text: "2"}}}
	m := a.Merge(b)

	require.Len(t, m.Messages, 2)
	assert.Equal(t, "1", m.Messages[0].Text)
	assert.Equal(t, "2", m.Messages[1].Text)
}

// ---------------------------------------------------------------------------
// Serialization round-trip
// ---------------------------------------------------------------------------

func TestDialogue_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	d := New("u1", "es")
	d = applyOK(t, d, Delta{Push: "book", State: Understanding})
	d = applyOK(t, d, Delta{
		SlotUpdates:    map[string]any{"origin": "MAD"},
		SessionUpdates: map[string]any{"vip": true},
		AdvanceTo:      "ask_destination",
		Task:           &PendingTask{Kind: TaskCollect, Slot: "destination", Attempts: 1},
		State:          WaitingForSlot,
	})

	data, err := json.Marshal(d)
	require.NoError(t, err)

	var back Dialogue
	require.NoError(t, json.Unmarshal(data, &back))

	assert.Equal(t, d.SessionID, back.SessionID)
	assert.Equal(t, d.Conversation, back.Conversation)
	assert.Equal(t, d.CurrentStep, back.CurrentStep)
	require.NotNil(t, back.Pending)
	assert.Equal(t, d.Pending.Slot, back.Pending.Slot)
	assert.Equal(t, d.FlowStack[0].FlowID, back.FlowStack[0].FlowID)
	assert.Empty(t, back.Invariants())
}

// ---------------------------------------------------------------------------
// Loop counter
// ---------------------------------------------------------------------------

func TestRecordExecution_CountsPerFrame(t *testing.T) {
	t.Parallel()

	d := New("u1", "en")
	d = applyOK(t, d, Delta{Push: "f"})

	assert.Equal(t, 1, d.RecordExecution("s1"))
	assert.Equal(t, 2, d.RecordExecution("s1"))
	assert.Equal(t, 1, d.RecordExecution("s2"))

	// A fresh frame has fresh counters.
	d = applyOK(t, d, Delta{Push: "f"})
	assert.Equal(t, 1, d.RecordExecution("s1"))
}
