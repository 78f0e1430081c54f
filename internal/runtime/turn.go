package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sonilabs/soni/internal/checkpoint"
	"github.com/sonilabs/soni/internal/exec"
	"github.com/sonilabs/soni/internal/flow"
	"github.com/sonilabs/soni/internal/nlu"
	"github.com/sonilabs/soni/internal/state"
)

// TurnResult is the outcome of one processed turn. Revision is the session's
// monotonic state tag after the commit.
type TurnResult struct {
	SessionID string
	Messages  []state.Outbound
	State     state.ConversationState
	Revision  uint64
}

// Canned host messages, used when the document does not define the matching
// response key.
const (
	keyUnhandled = "cannot_help"
	keyCancelled = "cancellation_acknowledged"
	keyError     = "internal_error"
	keyBusy      = "finish_current_first"
	keyEscalate  = "escalating_to_human"

	msgUnhandled = "I'm not sure how to help with that."
	msgCancelled = "Okay, I've cancelled that."
	msgError     = "Something went wrong on my end. Let's start over."
	msgBusy      = "Let's finish what we're doing first."
	msgEscalate  = "Let me connect you with a human who can help."
)

// ProcessTurn runs one user message through the session and returns the
// outbound messages. State is checkpointed before returning; a cancelled
// context commits nothing.
func (r *Runtime) ProcessTurn(ctx context.Context, sessionID, message string) (*TurnResult, error) {
	release, err := r.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	d, err := r.loadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	t := &turn{rt: r, d: d}
	if err := t.run(ctx, message); err != nil {
		return nil, err
	}
	t.trackProgress()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := r.store.Save(ctx, t.d); err != nil {
		return nil, fmt.Errorf("runtime: checkpointing session %q: %w", sessionID, err)
	}
	return &TurnResult{
		SessionID: sessionID,
		Messages:  t.out,
		State:     t.d.Conversation,
		Revision:  t.d.Revision,
	}, nil
}

// loadOrCreate fetches the session's dialogue, starting a fresh one for new
// sessions and for sessions idle past the configured timeout.
func (r *Runtime) loadOrCreate(ctx context.Context, sessionID string) (*state.Dialogue, error) {
	d, err := r.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return state.New(sessionID, r.cfg.Settings().I18n.DefaultLanguage), nil
		}
		return nil, fmt.Errorf("runtime: loading session %q: %w", sessionID, err)
	}

	timeout := time.Duration(r.cfg.Settings().Conversation.SessionTimeout * float64(time.Second))
	if timeout > 0 && time.Since(d.UpdatedAt) > timeout {
		r.log.Info("session expired, starting fresh", "session", sessionID, "idle", time.Since(d.UpdatedAt))
		return state.New(sessionID, d.Language), nil
	}
	return d, nil
}

// turn carries the mutable state of one turn. The dialogue pointer is the
// turn's private copy; apply replaces it with each successor state.
type turn struct {
	rt *Runtime
	d  *state.Dialogue

	out        []state.Outbound
	progressed bool

	// raised carries the in-flight error while routing through the
	// synthetic error node.
	raised *flow.FlowError
}

// env assembles the executor environment for the active frame. Rebuilt after
// every apply because the dialogue pointer changes.
func (t *turn) env() *exec.Env {
	var g *flow.Graph
	if top := t.d.Top(); top != nil {
		g = t.rt.cfg.Graph(top.FlowName)
	}
	return &exec.Env{
		Config:    t.rt.cfg,
		Graph:     g,
		Dialogue:  t.d,
		Registry:  t.rt.registry,
		NormCache: t.rt.normCache,
		NLU:       t.rt.und,
		Responses: t.rt.responses,
		Log:       t.rt.log,
	}
}

// apply folds a delta into the turn's dialogue and collects its messages.
func (t *turn) apply(delta state.Delta) error {
	next, err := state.Apply(t.d, delta)
	if err != nil {
		return fmt.Errorf("runtime: applying delta: %w", err)
	}
	t.d = next
	t.out = append(t.out, delta.Messages...)
	if len(delta.SlotUpdates) > 0 || delta.Push != "" || delta.Pop != state.PopNone || delta.AdvanceTo != "" {
		t.progressed = true
	}
	return nil
}

func (t *turn) say(text string) error {
	return t.apply(state.Delta{Messages: []state.Outbound{{Kind: state.OutMessage, Text: text}}})
}

// canned resolves a host message, preferring a document-defined response.
func (t *turn) canned(key, fallback string) string {
	if t.rt.responses.Has(key) {
		return t.rt.responses.Resolve(key, t.lang())
	}
	return fallback
}

func (t *turn) lang() string {
	if t.d.Language != "" {
		return t.d.Language
	}
	return t.rt.cfg.Settings().I18n.DefaultLanguage
}

// run processes one user message.
func (t *turn) run(ctx context.Context, message string) error {
	t.d = t.d.Clone()
	t.d.Messages = append(t.d.Messages, state.Message{Role: "user", Content: message, Time: time.Now()})
	t.d.TurnCount++
	t.d.Revision++
	t.d.UpdatedAt = time.Now()

	if t.d.Pending != nil {
		return t.resumePending(ctx, message)
	}
	return t.handleOpen(ctx, message)
}

// nluRequest builds the understanding request for the current state. The
// trigger vocabulary is scoped to what the session may actually start.
func (t *turn) nluRequest(message string) nlu.Request {
	req := nlu.Request{
		Message:  message,
		Language: t.lang(),
		Triggers: t.availableTriggers(),
		Slots:    t.d.LocalSlots(),
	}
	if top := t.d.Top(); top != nil {
		req.ActiveFlow = top.FlowName
	}
	if p := t.d.Pending; p != nil {
		req.AwaitedSlot = p.Slot
		req.Confirming = p.Kind == state.TaskConfirm
	}
	req.SlotPrompt = t.d.LastResponse
	for _, m := range recentMessages(t.d, 6) {
		req.Transcript = append(req.Transcript, m.Role+": "+m.Content)
	}
	return req
}

func recentMessages(d *state.Dialogue, n int) []state.Message {
	if len(d.Messages) <= n {
		return d.Messages
	}
	return d.Messages[len(d.Messages)-n:]
}

// handleOpen processes a message with no pending task: full understanding,
// then the command orchestrator.
func (t *turn) handleOpen(ctx context.Context, message string) error {
	switch t.d.Conversation {
	case state.Completed:
		if err := t.d.Transition(state.Idle); err != nil {
			return err
		}
	}
	if err := t.d.Transition(state.Understanding); err != nil {
		return err
	}

	res, err := t.rt.und.UnderstandFull(ctx, t.nluRequest(message))
	if err != nil {
		t.rt.log.Warn("understanding failed", "session", t.d.SessionID, "err", err)
		return t.say(t.canned(keyUnhandled, msgUnhandled))
	}

	nlu.SortCommands(res.Commands)
	started := false
	for _, cmd := range res.Commands {
		switch cmd.Kind {
		case nlu.CmdCancelFlow:
			if err := t.cancelTop(true); err != nil {
				return err
			}
		case nlu.CmdStartFlow:
			if !t.inScope(cmd.Flow) {
				// Out of scope: skipped here, the fallback flow picks the
				// turn up below.
				t.rt.log.Warn("flow start out of scope",
					"session", t.d.SessionID, "flow", cmd.Flow)
				continue
			}
			ok, err := t.startFlow(cmd.Flow, nil)
			if err != nil {
				return err
			}
			started = started || ok
		case nlu.CmdSetSlot:
			if t.d.Top() != nil && cmd.Slot != "" {
				if err := t.apply(state.Delta{SlotUpdates: map[string]any{cmd.Slot: cmd.Value}}); err != nil {
					return err
				}
			}
		}
	}

	// Opportunistic slot fills from the classification.
	if len(res.Slots) > 0 && t.d.Top() != nil {
		if err := t.apply(state.Delta{SlotUpdates: res.Slots}); err != nil {
			return err
		}
	}

	if t.d.Top() == nil && !started {
		if name := t.pickFallbackFlow(); name != "" {
			if _, err := t.startFlow(name, nil); err != nil {
				return err
			}
		} else {
			if err := t.say(t.canned(keyUnhandled, msgUnhandled)); err != nil {
				return err
			}
		}
	}

	if t.d.Top() == nil {
		return t.d.Transition(state.Idle)
	}
	return t.stepCurrent(ctx)
}

// pickFallbackFlow selects the flow for an unhandled open message.
func (t *turn) pickFallbackFlow() string {
	conv := t.rt.cfg.Settings().Conversation
	if conv.FallbackFlow != "" {
		return conv.FallbackFlow
	}
	return conv.DefaultFlow
}

// resumePending processes a message while blocked on a collect or confirm
// task.
func (t *turn) resumePending(ctx context.Context, message string) error {
	pending := *t.d.Pending
	top := t.d.Top()
	if top == nil {
		// A pending task with no flow is unrecoverable; reset.
		t.d.Pending = nil
		return t.handleOpen(ctx, message)
	}
	g := t.rt.cfg.Graph(top.FlowName)
	node := g.Node(pending.StepID)
	if node == nil {
		return t.failFlow(flow.Errf(flow.ErrUnknownRuntime, pending.StepID, "pending step no longer exists"))
	}

	if cs := node.Step.Collect; pending.Kind == state.TaskCollect && cs != nil && cs.Timeout > 0 {
		deadline := pending.AskedAt.Add(time.Duration(cs.Timeout * float64(time.Second)))
		if !pending.AskedAt.IsZero() && time.Now().After(deadline) &&
			(cs.OnTimeout != "" || pending.Timeouts == 0) {
			t.rt.log.Info("collect deadline passed",
				"session", t.d.SessionID, "step", node.ID)
			if err := t.settleExecuting(); err != nil {
				return err
			}
			return t.consume(ctx, node, exec.CollectTimedOut(t.env(), node))
		}
	}

	res, err := t.rt.und.UnderstandSlot(ctx, t.nluRequest(message))
	if err != nil {
		t.rt.log.Warn("understanding failed", "session", t.d.SessionID, "err", err)
		return t.say(t.canned(keyUnhandled, msgUnhandled))
	}

	switch res.Kind {
	case nlu.SlotCancellation:
		if err := t.cancelTop(true); err != nil {
			return err
		}
		if t.d.Top() == nil {
			return nil
		}
		return t.stepCurrent(ctx)

	case nlu.SlotIntentChange:
		if res.TargetFlow == "" {
			return t.say(t.canned(keyUnhandled, msgUnhandled))
		}
		if !t.inScope(res.TargetFlow) {
			t.rt.log.Warn("intent out of scope",
				"session", t.d.SessionID, "flow", res.TargetFlow)
			if name := t.pickFallbackFlow(); name != "" && t.inScope(name) {
				if err := t.interruptFor(name); err != nil {
					return err
				}
				if t.d.Top() != nil && t.d.Top().FlowName == name {
					return t.stepCurrent(ctx)
				}
				return nil
			}
			return t.reprompt(ctx, node)
		}
		if err := t.interruptFor(res.TargetFlow); err != nil {
			return err
		}
		if t.d.Top() != nil && t.d.Top().FlowName == res.TargetFlow {
			return t.stepCurrent(ctx)
		}
		return nil
	}

	if pending.Kind == state.TaskConfirm {
		return t.resumeConfirm(ctx, node, res)
	}
	return t.resumeCollect(ctx, node, res)
}

// resumeCollect handles the reply to a collect task.
func (t *turn) resumeCollect(ctx context.Context, node *flow.Node, res *nlu.SlotResult) error {
	switch res.Kind {
	case nlu.SlotValue:
		if err := t.d.Transition(state.ValidatingSlot); err != nil {
			return err
		}
		result := exec.ResumeCollect(ctx, t.env(), node, res.Value)
		return t.consume(ctx, node, result)

	case nlu.SlotCorrection:
		// The user corrected an earlier slot; record it and re-ask.
		if res.TargetSlot != "" && res.Value != nil {
			if err := t.apply(state.Delta{SlotUpdates: map[string]any{res.TargetSlot: res.Value}}); err != nil {
				return err
			}
		}
		return t.reprompt(ctx, node)

	default:
		// Questions, clarifications, chitchat: hold position and re-ask.
		return t.reprompt(ctx, node)
	}
}

// resumeConfirm handles the reply to a confirm task.
func (t *turn) resumeConfirm(ctx context.Context, node *flow.Node, res *nlu.SlotResult) error {
	result := exec.ResumeConfirm(t.env(), node, res)
	return t.consume(ctx, node, result)
}

// reprompt re-executes the blocking node to re-ask its question.
func (t *turn) reprompt(ctx context.Context, node *flow.Node) error {
	result := exec.Execute(ctx, t.env(), node)
	if result.Suspend {
		return t.suspend(node, result)
	}
	// The slot got filled in the meantime; keep going.
	return t.consume(ctx, node, result)
}

// consume folds an executor result produced during resumption back into the
// turn and continues stepping.
func (t *turn) consume(ctx context.Context, node *flow.Node, result exec.Result) error {
	if result.Err != nil {
		g := t.rt.cfg.Graph(t.d.Top().FlowName)
		if err := t.routeError(g, node, result.Err, false); err != nil {
			return err
		}
		return t.stepCurrent(ctx)
	}
	if result.Suspend {
		if err := t.apply(result.Delta); err != nil {
			return err
		}
		return t.suspendState(result.Delta.Task)
	}
	if err := t.apply(result.Delta); err != nil {
		return err
	}
	if err := t.d.Transition(state.ExecutingAction); err != nil {
		return err
	}
	if result.Next != "" {
		if err := t.apply(state.Delta{AdvanceTo: result.Next}); err != nil {
			return err
		}
	}
	return t.stepCurrent(ctx)
}

// suspend applies a suspension result and parks the session on its task.
func (t *turn) suspend(node *flow.Node, result exec.Result) error {
	if err := t.apply(result.Delta); err != nil {
		return err
	}
	if t.d.CurrentStep != node.ID {
		if err := t.apply(state.Delta{AdvanceTo: node.ID}); err != nil {
			return err
		}
	}
	return t.suspendState(result.Delta.Task)
}

// suspendState moves the conversation into the waiting state matching the
// pending task kind.
func (t *turn) suspendState(task *state.PendingTask) error {
	if task == nil {
		return nil
	}
	target := state.WaitingForSlot
	if task.Kind == state.TaskConfirm {
		target = state.Confirming
	}
	if t.d.Conversation == target {
		return nil
	}
	if state.CanTransition(t.d.Conversation, target) {
		return t.d.Transition(target)
	}
	// Legal paths to the waiting states go through executing_action.
	if err := t.d.Transition(state.ExecutingAction); err != nil {
		return err
	}
	return t.d.Transition(target)
}
