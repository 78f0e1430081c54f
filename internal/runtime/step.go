package runtime

import (
	"context"

	"github.com/sonilabs/soni/internal/dsl"
	"github.com/sonilabs/soni/internal/exec"
	"github.com/sonilabs/soni/internal/flow"
	"github.com/sonilabs/soni/internal/state"
)

// stepCurrent executes graph nodes until the active flow suspends, the
// stack drains, or an unhandled error ends the conversation.
func (t *turn) stepCurrent(ctx context.Context) error {
	if err := t.settleExecuting(); err != nil {
		return err
	}

	maxExec := t.rt.cfg.Settings().Runtime.MaxStepExecutions
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		top := t.d.Top()
		if top == nil {
			if t.d.Conversation == state.ExecutingAction {
				return t.d.Transition(state.Completed)
			}
			return nil
		}
		g := t.rt.cfg.Graph(top.FlowName)
		if g == nil {
			return t.failFlow(flow.Errf(flow.ErrUnknownRuntime, "", "no graph for flow %q", top.FlowName))
		}

		stepID := top.CurrentStep
		if stepID == "" {
			if err := t.apply(state.Delta{AdvanceTo: g.Entry}); err != nil {
				return err
			}
			continue
		}

		switch stepID {
		case flow.EndID:
			if err := t.completeTop(); err != nil {
				return err
			}
			continue
		case flow.CancelID:
			if err := t.cancelTop(false); err != nil {
				return err
			}
			if t.d.Top() == nil {
				return nil
			}
			continue
		case flow.ErrorID:
			ferr := t.raised
			t.raised = nil
			if ferr == nil {
				ferr = flow.Errf(flow.ErrAborted, "", "flow raised an error")
			}
			// Deliberate raise: the current flow's own handlers are
			// bypassed; the parent's apply.
			if err := t.propagateError(ferr); err != nil {
				return err
			}
			continue
		}

		node := g.Node(stepID)
		if node == nil {
			return t.failFlow(flow.Errf(flow.ErrUnknownRuntime, stepID, "step %q not in flow %q", stepID, top.FlowName))
		}

		if count := t.d.RecordExecution(stepID); count > maxExec {
			return t.failFlow(flow.Errf(flow.ErrLoopDetected, stepID,
				"step %q executed %d times in one flow", stepID, count))
		}

		if !exec.Guard(t.env(), node) {
			if err := t.apply(state.Delta{AdvanceTo: node.Next}); err != nil {
				return err
			}
			continue
		}

		result := exec.Execute(ctx, t.env(), node)

		if result.Err != nil {
			if err := t.routeError(g, node, result.Err, false); err != nil {
				return err
			}
			if t.d.Conversation == state.ErrorState {
				return nil
			}
			continue
		}

		if err := t.apply(result.Delta); err != nil {
			return err
		}

		if result.Suspend {
			if t.d.CurrentStep != node.ID {
				if err := t.apply(state.Delta{AdvanceTo: node.ID}); err != nil {
					return err
				}
			}
			return t.suspendState(result.Delta.Task)
		}

		if result.Delta.Push != "" {
			// The parent frame stays parked on the call step; stepping
			// continues in the child.
			continue
		}

		if result.Next != "" {
			if err := t.apply(state.Delta{AdvanceTo: result.Next}); err != nil {
				return err
			}
		}
	}
}

// completeTop pops the finished flow, propagating its declared outputs into
// the caller and advancing the caller past its call step. When the stack
// drains the conversation completes.
func (t *turn) completeTop() error {
	top := t.d.Top()
	g := t.rt.cfg.Graph(top.FlowName)

	outputs := map[string]any{}
	if g != nil {
		scope := t.d.FlowSlots[top.FlowID]
		for _, name := range g.Def.Outputs {
			if v, ok := scope[name]; ok {
				outputs[name] = v
			}
		}
	}

	callNode := t.parentCallNode()
	mapped := outputs
	if callNode != nil {
		mapped = exec.CallFlowOutputs(callNode, outputs)
	}
	if err := t.apply(state.Delta{Pop: state.PopComplete, PopOutputs: mapped, ClearTask: true}); err != nil {
		return err
	}
	if callNode != nil {
		return t.apply(state.Delta{AdvanceTo: callNode.Next})
	}
	return nil
}

// cancelTop cancels the active flow. With announce set a cancellation
// message is emitted. The caller, if any, resumes past its call step without
// outputs.
func (t *turn) cancelTop(announce bool) error {
	if t.d.Top() == nil {
		if announce {
			return t.say(t.canned(keyUnhandled, msgUnhandled))
		}
		return nil
	}

	callNode := t.parentCallNode()
	if err := t.apply(state.Delta{Pop: state.PopCancel, ClearTask: true}); err != nil {
		return err
	}
	if announce {
		if err := t.say(t.canned(keyCancelled, msgCancelled)); err != nil {
			return err
		}
	}
	if callNode != nil {
		if err := t.apply(state.Delta{AdvanceTo: callNode.Next}); err != nil {
			return err
		}
	}

	if t.d.Top() == nil {
		return t.settleIdle()
	}
	return nil
}

// settleExecuting walks the state machine to executing_action along legal
// edges, wherever the turn currently stands.
func (t *turn) settleExecuting() error {
	for t.d.Conversation != state.ExecutingAction {
		var next state.ConversationState
		switch t.d.Conversation {
		case state.Idle, state.ErrorState:
			next = state.Understanding
		case state.Understanding, state.ValidatingSlot, state.Confirming:
			next = state.ExecutingAction
		case state.WaitingForSlot:
			next = state.ValidatingSlot
		case state.Completed:
			next = state.Idle
		default:
			next = state.ExecutingAction
		}
		if err := t.d.Transition(next); err != nil {
			return err
		}
	}
	return nil
}

// settleIdle walks the state machine back to idle along legal edges.
func (t *turn) settleIdle() error {
	for t.d.Conversation != state.Idle {
		var next state.ConversationState
		switch t.d.Conversation {
		case state.ExecutingAction:
			next = state.Completed
		case state.WaitingForSlot, state.ValidatingSlot, state.Confirming:
			next = state.Understanding
		default:
			next = state.Idle
		}
		if err := t.d.Transition(next); err != nil {
			return err
		}
	}
	return nil
}

// parentCallNode returns the parent frame's current node when it is a
// call_flow step, i.e. when the active flow was entered as a subroutine.
func (t *turn) parentCallNode() *flow.Node {
	if t.d.Depth() < 2 {
		return nil
	}
	parent := t.d.FlowStack[t.d.Depth()-2]
	pg := t.rt.cfg.Graph(parent.FlowName)
	if pg == nil {
		return nil
	}
	node := pg.Node(parent.CurrentStep)
	if node == nil || node.Kind != dsl.StepCallFlow {
		return nil
	}
	return node
}

// startFlow pushes a user-initiated flow, honoring the stack limit policy.
// Returns whether the flow actually started.
func (t *turn) startFlow(name string, inputs map[string]any) (bool, error) {
	g := t.rt.cfg.Graph(name)
	if g == nil {
		t.rt.log.Warn("start of unknown flow requested", "flow", name)
		return false, t.say(t.canned(keyUnhandled, msgUnhandled))
	}
	if inputs == nil {
		inputs = t.seedInputs(g)
	}

	fm := t.rt.cfg.Settings().FlowManagement
	if t.d.Depth() >= fm.MaxStackDepth {
		if fm.OnLimitReached != "cancel_oldest" {
			return false, t.say(t.canned(keyBusy, msgBusy))
		}
		t.removeOldest()
	}
	if err := t.apply(state.Delta{Push: name, PushInputs: inputs}); err != nil {
		return false, err
	}
	return true, nil
}

// interruptFor suspends the current blocked flow and starts the requested
// one on top of it. The interrupted flow resumes where it left off when the
// new one finishes.
func (t *turn) interruptFor(name string) error {
	if err := t.apply(state.Delta{ClearTask: true}); err != nil {
		return err
	}
	if state.CanTransition(t.d.Conversation, state.Understanding) {
		if err := t.d.Transition(state.Understanding); err != nil {
			return err
		}
	}
	_, err := t.startFlow(name, nil)
	return err
}

// removeOldest drops the bottom frame of the stack under the cancel_oldest
// policy.
func (t *turn) removeOldest() {
	if t.d.Depth() == 0 {
		return
	}
	oldest := t.d.FlowStack[0]
	t.rt.log.Info("stack limit reached, cancelling oldest flow",
		"flow", oldest.FlowName, "flow_id", oldest.FlowID)
	delete(t.d.FlowSlots, oldest.FlowID)
	t.d.FlowStack = append([]state.FlowContext{}, t.d.FlowStack[1:]...)
	if top := t.d.Top(); top != nil {
		t.d.CurrentStep = top.CurrentStep
	} else {
		t.d.CurrentStep = ""
	}
}

// routeError routes a step failure: the step's own on_error first, then the
// flow's, then the caller's, and finally a terminal conversation failure.
// skipLocal bypasses the current flow's handlers, which is the semantics of
// a deliberate raise.
func (t *turn) routeError(g *flow.Graph, node *flow.Node, ferr *flow.FlowError, skipLocal bool) error {
	t.rt.log.Warn("step failed",
		"session", t.d.SessionID, "flow", g.Name, "step", node.ID,
		"error_type", ferr.Type, "err", ferr.Message)

	if ferr.Terminal() {
		return t.failFlow(ferr)
	}
	if !skipLocal {
		if target := node.Step.OnError(); target != "" {
			return t.enterHandler(g, g.Successor(node, target), ferr)
		}
		if g.OnError != "" {
			return t.enterHandler(g, g.Successor(node, g.OnError), ferr)
		}
	}
	return t.propagateError(ferr)
}

// enterHandler jumps to an error handler step with the error variables set
// on the handling frame's scope.
func (t *turn) enterHandler(g *flow.Graph, target string, ferr *flow.FlowError) error {
	switch target {
	case flow.ErrorID:
		return t.propagateError(ferr)
	case flow.EndID, flow.CancelID:
		return t.apply(state.Delta{AdvanceTo: target})
	}
	return t.apply(state.Delta{
		SlotUpdates: ferr.Vars(),
		AdvanceTo:   target,
	})
}

// propagateError pops the failing flow and re-routes the error at the
// caller's call step. With no caller left the conversation fails.
func (t *turn) propagateError(ferr *flow.FlowError) error {
	if t.d.Depth() < 2 {
		return t.failFlow(ferr)
	}
	callNode := t.parentCallNode()
	if err := t.apply(state.Delta{Pop: state.PopError, ClearTask: true}); err != nil {
		return err
	}
	top := t.d.Top()
	g := t.rt.cfg.Graph(top.FlowName)
	if callNode == nil {
		// The parent did not call us; it was interrupted. Route against
		// its current node if resolvable, else against the flow handler.
		if node := g.Node(top.CurrentStep); node != nil {
			return t.routeError(g, node, ferr, false)
		}
		if g.OnError != "" {
			return t.enterHandler(g, g.Successor(nil, g.OnError), ferr)
		}
		return t.failFlow(ferr)
	}
	return t.routeError(g, callNode, ferr, false)
}

// failFlow ends the conversation in the error state: the stack unwinds, the
// user gets an apology, and the next turn starts clean.
func (t *turn) failFlow(ferr *flow.FlowError) error {
	t.rt.log.Error("conversation failed",
		"session", t.d.SessionID, "error_type", ferr.Type, "err", ferr.Message)

	for t.d.Top() != nil {
		if err := t.apply(state.Delta{Pop: state.PopError, ClearTask: true}); err != nil {
			return err
		}
	}
	if err := t.say(t.canned(keyError, msgError)); err != nil {
		return err
	}
	return t.d.Transition(state.ErrorState)
}

// trackProgress maintains the no-progress counter and escalates when the
// conversation stalls.
func (t *turn) trackProgress() {
	const key = "turns_without_progress"
	if t.progressed {
		t.d.Metadata[key] = 0
		return
	}

	n := metaInt(t.d.Metadata[key]) + 1
	t.d.Metadata[key] = n

	conv := t.rt.cfg.Settings().Conversation
	if n < conv.MaxTurnsWithoutProgress {
		return
	}
	t.d.Metadata[key] = 0

	switch conv.OnNoProgress {
	case "fallback":
		if conv.FallbackFlow != "" && t.rt.cfg.Graph(conv.FallbackFlow) != nil {
			if state.CanTransition(t.d.Conversation, state.Understanding) {
				_ = t.d.Transition(state.Understanding)
			}
			_ = t.apply(state.Delta{ClearTask: true, Push: conv.FallbackFlow})
		}
	case "retry":
		// Keep waiting; the counter has been reset.
	default: // handoff
		_ = t.say(t.canned(keyEscalate, msgEscalate))
		t.out = append(t.out, state.Outbound{
			Kind:    state.OutHandoff,
			Queue:   t.rt.cfg.Settings().Handoff.DefaultQueue,
			Context: map[string]any{"reason": "no_progress", "turns": n},
		})
	}
}

// metaInt reads a metadata counter that may have round-tripped through JSON
// as float64.
func metaInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
