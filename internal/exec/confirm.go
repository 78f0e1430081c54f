package exec

import (
	"github.com/sonilabs/soni/internal/flow"
	"github.com/sonilabs/soni/internal/nlu"
	"github.com/sonilabs/soni/internal/state"
)

// enterConfirm asks the confirmation question and suspends on a confirm
// task.
func enterConfirm(env *Env, node *flow.Node) Result {
	return promptConfirm(env, node, 0)
}

func promptConfirm(env *Env, node *flow.Node, attempts int) Result {
	step := node.Step.Confirm
	return Result{
		Suspend: true,
		Delta: state.Delta{
			Messages: []state.Outbound{{
				Kind: state.OutMessage,
				Text: env.utterance(step.Message, step.Response),
			}},
			Task: &state.PendingTask{
				Kind:     state.TaskConfirm,
				StepID:   node.ID,
				Attempts: attempts,
			},
		},
	}
}

// ResumeConfirm routes on the user's reply to a confirmation. Corrections
// prefer on_correction over on_change; modifications prefer on_modification
// over on_change. Anything the reply fails to settle re-asks the question.
func ResumeConfirm(env *Env, node *flow.Node, res *nlu.SlotResult) Result {
	step := node.Step.Confirm

	target := func(candidates ...string) string {
		for _, c := range candidates {
			if c != "" {
				return env.Graph.Successor(node, c)
			}
		}
		return ""
	}

	switch res.Kind {
	case nlu.SlotConfirmation:
		next := target(step.OnYes)
		if next == "" {
			next = node.Next
		}
		return Result{Delta: state.Delta{ClearTask: true}, Next: next}

	case nlu.SlotDenial:
		next := target(step.OnNo)
		if next == "" {
			next = flow.EndID
		}
		return Result{Delta: state.Delta{ClearTask: true}, Next: next}

	case nlu.SlotCorrection, nlu.SlotValue:
		delta := state.Delta{ClearTask: true}
		if res.TargetSlot != "" && res.Value != nil {
			delta.SlotUpdates = map[string]any{res.TargetSlot: res.Value}
		}
		next := target(step.OnCorrection, step.OnChange)
		if next == "" {
			// With the slot updated, re-ask so the user confirms the new
			// values.
			next = node.ID
		}
		return Result{Delta: delta, Next: next}

	case nlu.SlotIntentChange:
		next := target(step.OnModification, step.OnChange)
		if next == "" {
			next = node.ID
		}
		return Result{Delta: state.Delta{ClearTask: true}, Next: next}
	}

	// Clarification, question, chitchat: answer-free re-ask, bounded by the
	// attempt budget.
	attempts := 0
	if p := env.Dialogue.Pending; p != nil && p.StepID == node.ID {
		attempts = p.Attempts
	}
	attempts++

	maxAttempts := step.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = env.Config.Settings().Collection.MaxValidationAttempts
	}
	if attempts < maxAttempts {
		return promptConfirm(env, node, attempts)
	}

	// The question won't settle: hand the conversation to a human rather
	// than asking it again every turn.
	env.Log.Warn("confirmation unsettled, escalating",
		"step", node.ID, "attempts", attempts)
	return Result{
		Delta: state.Delta{
			ClearTask: true,
			Messages: []state.Outbound{
				{Kind: state.OutHandoff, Queue: env.Config.Settings().Handoff.DefaultQueue,
					Context: map[string]any{"reason": "confirmation_exhausted", "step": node.ID}},
			},
		},
		Next: flow.EndID,
	}
}
