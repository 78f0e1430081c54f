package exec

import (
	"context"
	"errors"
	"strings"

	"github.com/sonilabs/soni/internal/expr"
	"github.com/sonilabs/soni/internal/flow"
	"github.com/sonilabs/soni/internal/nlu"
	"github.com/sonilabs/soni/internal/state"
)

func generateRequest(env *Env, instruction string, contextVals map[string]any) nlu.GenerateRequest {
	return nlu.GenerateRequest{
		Instruction: instruction,
		Language:    env.lang(),
		Context:     contextVals,
	}
}

// executeSay emits one interpolated message and advances.
func executeSay(env *Env, node *flow.Node) Result {
	text := env.utterance(node.Step.Say.Message, node.Step.Say.Response)
	return Result{
		Delta: state.Delta{Messages: []state.Outbound{{Kind: state.OutMessage, Text: text}}},
		Next:  node.Next,
	}
}

// executeSet evaluates each value and writes it into flow or session scope.
// Keys prefixed "session." target session scope.
func executeSet(env *Env, node *flow.Node) Result {
	scope := env.exprEnv()
	var delta state.Delta
	for key, raw := range node.Step.Set.Values {
		value := expr.Value(raw, scope)
		if name, ok := strings.CutPrefix(key, "session."); ok {
			if delta.SessionUpdates == nil {
				delta.SessionUpdates = map[string]any{}
			}
			delta.SessionUpdates[name] = value
			continue
		}
		if delta.SlotUpdates == nil {
			delta.SlotUpdates = map[string]any{}
		}
		delta.SlotUpdates[key] = value
	}
	return Result{Delta: delta, Next: node.Next}
}

// executeBranch routes on the first matching case, falling back to else and
// then to the sequential successor.
func executeBranch(env *Env, node *flow.Node) Result {
	scope := env.exprEnv()
	for _, c := range node.Step.Branch.Cases {
		if branchCaseMatches(c.Condition, c.All, c.Any, scope) {
			return Result{Next: env.Graph.Successor(node, c.Then)}
		}
	}
	if node.Step.Branch.Else != "" {
		return Result{Next: env.Graph.Successor(node, node.Step.Branch.Else)}
	}
	return Result{Next: node.Next}
}

func branchCaseMatches(condition string, all, anyOf []string, scope map[string]any) bool {
	switch {
	case condition != "":
		return expr.Condition(condition, scope)
	case len(all) > 0:
		for _, c := range all {
			if !expr.Condition(c, scope) {
				return false
			}
		}
		return true
	case len(anyOf) > 0:
		for _, c := range anyOf {
			if expr.Condition(c, scope) {
				return true
			}
		}
	}
	return false
}

// executeGenerate asks the understander's generative side for text and
// stores it under store_as. Nothing else in the state may change.
func executeGenerate(ctx context.Context, env *Env, node *flow.Node) Result {
	step := node.Step.Generate
	scope := env.exprEnv()

	contextVals := make(map[string]any, len(step.Context))
	for _, name := range step.Context {
		if v, ok := env.lookupSlot(name); ok {
			contextVals[name] = v
		}
	}

	text, err := env.NLU.Generate(ctx, generateRequest(env, expr.Interpolate(step.Instruction, scope), contextVals))
	if err != nil {
		return fail(asFlowError(err, node.ID))
	}
	delta := state.Delta{}
	if step.StoreAs != "" {
		delta.SlotUpdates = map[string]any{step.StoreAs: text}
	}
	return Result{Delta: delta, Next: node.Next}
}

// executeHandoff escalates to a human queue and completes the conversation.
func executeHandoff(env *Env, node *flow.Node) Result {
	step := node.Step.Handoff
	queue := step.Queue
	if queue == "" {
		queue = env.Config.Settings().Handoff.DefaultQueue
	}

	handoffCtx := map[string]any{}
	for _, name := range step.Context {
		if v, ok := env.lookupSlot(name); ok {
			handoffCtx[name] = v
		}
	}

	var messages []state.Outbound
	if step.Message != "" {
		scope := env.exprEnv()
		scope["conversation_summary"] = transcriptSummary(env.Dialogue)
		messages = append(messages, state.Outbound{
			Kind: state.OutMessage,
			Text: expr.Interpolate(step.Message, scope),
		})
	}
	messages = append(messages, state.Outbound{
		Kind:    state.OutHandoff,
		Queue:   queue,
		Context: handoffCtx,
	})
	return Result{
		Delta: state.Delta{Messages: messages},
		Next:  flow.EndID,
	}
}

// transcriptSummary condenses the recent exchange for handoff context.
func transcriptSummary(d *state.Dialogue) string {
	const window = 6
	msgs := d.Messages
	if len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// asFlowError coerces an arbitrary handler error into a FlowError, defaulting
// the type to connection so documents can route on it.
func asFlowError(err error, step string) *flow.FlowError {
	var fe *flow.FlowError
	if errors.As(err, &fe) {
		if fe.Step == "" {
			fe.Step = step
		}
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return flow.Errf(flow.ErrTimeout, step, "%s", err.Error())
	}
	return flow.Errf(flow.ErrConnection, step, "%s", err.Error())
}
