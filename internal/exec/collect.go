package exec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sonilabs/soni/internal/expr"
	"github.com/sonilabs/soni/internal/flow"
	"github.com/sonilabs/soni/internal/registry"
	"github.com/sonilabs/soni/internal/state"
)

// enterCollect starts slot collection. An already filled slot is skipped
// unless the step forces re-collection, in which case the stale value is
// cleared before suspension so nothing reads it while the flow waits.
func enterCollect(env *Env, node *flow.Node) Result {
	step := node.Step.Collect
	if _, filled := env.Dialogue.Slot(step.Slot); filled {
		if !step.Force {
			return Result{Next: node.Next}
		}
		res := promptCollect(env, node, "", 0)
		res.Delta.ClearSlots = []string{step.Slot}
		return res
	}
	return promptCollect(env, node, "", 0)
}

// promptCollect emits the slot prompt (or a re-prompt after rejection) and
// suspends the flow on a collect task.
func promptCollect(env *Env, node *flow.Node, rejection string, attempts int) Result {
	step := node.Step.Collect
	slot := env.Config.Doc.Slots[step.Slot]

	prompt := slot.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("Please provide %s.", strings.ReplaceAll(step.Slot, "_", " "))
	}
	prompt = expr.Interpolate(prompt, env.exprEnv())

	var messages []state.Outbound
	if rejection != "" {
		messages = append(messages, state.Outbound{Kind: state.OutMessage, Text: rejection})
	}
	messages = append(messages, state.Outbound{Kind: state.OutMessage, Text: prompt})

	return Result{
		Suspend: true,
		Delta: state.Delta{
			Messages: messages,
			Task: &state.PendingTask{
				Kind:     state.TaskCollect,
				Slot:     step.Slot,
				StepID:   node.ID,
				Attempts: attempts,
				AskedAt:  time.Now(),
			},
		},
	}
}

// CollectTimedOut handles a reply that arrived after the step's deadline.
// An on_timeout target takes the flow there and the stale reply is dropped;
// without one the prompt is re-issued, once per task.
func CollectTimedOut(env *Env, node *flow.Node) Result {
	step := node.Step.Collect
	if step.OnTimeout != "" {
		return Result{
			Delta: state.Delta{ClearTask: true},
			Next:  env.Graph.Successor(node, step.OnTimeout),
		}
	}

	attempts, timeouts := 0, 0
	if p := env.Dialogue.Pending; p != nil && p.StepID == node.ID {
		attempts, timeouts = p.Attempts, p.Timeouts
	}
	res := promptCollect(env, node, "", attempts)
	res.Delta.Task.Timeouts = timeouts + 1
	return res
}

// ResumeCollect handles a user-provided value for the awaited slot:
// normalize, validate, and either fill the slot or re-prompt. When the
// attempt budget is exhausted the step routes to on_invalid, or escalates to
// the default handoff queue.
func ResumeCollect(ctx context.Context, env *Env, node *flow.Node, value any) Result {
	step := node.Step.Collect
	slot := env.Config.Doc.Slots[step.Slot]
	settings := env.Config.Settings()

	attempts := 0
	if p := env.Dialogue.Pending; p != nil && p.StepID == node.ID {
		attempts = p.Attempts
	}

	vctx, cancel := context.WithTimeout(ctx, time.Duration(settings.Collection.ValidationTimeout*float64(time.Second)))
	defer cancel()

	renv := registry.Env{
		Slot:     step.Slot,
		Language: env.lang(),
		Session:  env.Dialogue.SessionSlots,
	}

	normalized := value
	if slot.Normalizer != "" {
		fn, err := env.Registry.Normalizer(slot.Normalizer)
		if err != nil {
			return fail(flow.Errf(flow.ErrUnknownRuntime, node.ID, "%s", err.Error()))
		}
		normalized, err = env.NormCache.Normalize(vctx, slot.Normalizer, fn, value, renv)
		if err != nil {
			return rejectValue(env, node, attempts, err)
		}
	}

	if slot.Validator != "" {
		fn, err := env.Registry.Validator(slot.Validator)
		if err != nil {
			return fail(flow.Errf(flow.ErrUnknownRuntime, node.ID, "%s", err.Error()))
		}
		if err := fn(vctx, normalized, renv); err != nil {
			return rejectValue(env, node, attempts, err)
		}
	}

	return Result{
		Delta: state.Delta{
			SlotUpdates: map[string]any{step.Slot: normalized},
			ClearTask:   true,
		},
		Next: node.Next,
	}
}

// rejectValue handles one failed validation attempt.
func rejectValue(env *Env, node *flow.Node, attempts int, cause error) Result {
	step := node.Step.Collect
	slot := env.Config.Doc.Slots[step.Slot]
	settings := env.Config.Settings()

	attempts++
	maxAttempts := step.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = settings.Collection.MaxValidationAttempts
	}

	rejection := slot.InvalidMessage
	if rejection == "" {
		rejection = fmt.Sprintf("That doesn't look right: %s", cause.Error())
	} else {
		rejection = expr.Interpolate(rejection, env.exprEnv())
	}

	if attempts < maxAttempts {
		return promptCollect(env, node, rejection, attempts)
	}

	if step.OnInvalid != "" {
		return Result{
			Delta: state.Delta{ClearTask: true},
			Next:  env.Graph.Successor(node, step.OnInvalid),
		}
	}

	// Out of attempts with nowhere to route: hand the conversation to a
	// human rather than looping forever.
	env.Log.Warn("slot collection exhausted, escalating",
		"slot", step.Slot, "attempts", attempts)
	return Result{
		Delta: state.Delta{
			ClearTask: true,
			Messages: []state.Outbound{
				{Kind: state.OutMessage, Text: rejection},
				{Kind: state.OutHandoff, Queue: settings.Handoff.DefaultQueue,
					Context: map[string]any{"reason": "validation_exhausted", "slot": step.Slot}},
			},
		},
		Next: flow.EndID,
	}
}
