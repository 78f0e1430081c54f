package exec

import (
	"context"
	"time"

	"github.com/sonilabs/soni/internal/dsl"
	"github.com/sonilabs/soni/internal/flow"
	"github.com/sonilabs/soni/internal/registry"
	"github.com/sonilabs/soni/internal/state"
)

// executeAction invokes a registered action with inputs drawn from slot
// scope, retrying per the declared policy. Outputs land in the active frame's
// slots, optionally renamed through map_outputs.
func executeAction(ctx context.Context, env *Env, node *flow.Node) Result {
	step := node.Step.Action
	def := env.Config.Doc.Actions[step.Call]

	inputs := make(map[string]any, len(def.Inputs))
	for _, name := range def.Inputs {
		v, ok := env.lookupSlot(name)
		if !ok {
			return fail(flow.Errf(flow.ErrMissingInput, node.ID,
				"action %q requires input %q which is not filled", step.Call, name))
		}
		inputs[name] = v
	}

	fn, err := env.Registry.Action(step.Call)
	if err != nil {
		return fail(flow.Errf(flow.ErrUnknownRuntime, node.ID, "%s", err.Error()))
	}

	maxAttempts := 1
	if step.Retry != nil && step.Retry.MaxAttempts > 1 {
		maxAttempts = step.Retry.MaxAttempts
	}

	var lastErr *flow.FlowError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outputs, callErr := callAction(ctx, env, node, fn, inputs)
		if callErr == nil {
			return actionSuccess(step.MapOutputs, outputs, node)
		}
		lastErr = callErr

		if callErr.Terminal() || !retryable(step.Retry, callErr.Type) || attempt == maxAttempts {
			break
		}
		delay := backoffDelay(step.Retry, attempt)
		env.Log.Debug("action failed, retrying",
			"action", step.Call, "attempt", attempt, "error_type", callErr.Type, "delay", delay)
		if err := env.sleep(ctx, delay); err != nil {
			return fail(flow.Errf(flow.ErrTimeout, node.ID, "retry wait interrupted: %s", err.Error()))
		}
	}
	return fail(lastErr)
}

// callAction runs one attempt under the step timeout, converting panics into
// terminal runtime errors so a misbehaving handler cannot take the session
// down.
func callAction(ctx context.Context, env *Env, node *flow.Node, fn registry.Action, inputs map[string]any) (outputs map[string]any, ferr *flow.FlowError) {
	step := node.Step.Action
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(step.Timeout*float64(time.Second)))
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			env.Log.Error("action panicked", "action", step.Call, "panic", r)
			outputs = nil
			ferr = flow.Errf(flow.ErrUnknownRuntime, node.ID, "action %q panicked: %v", step.Call, r)
		}
	}()

	out, err := fn(ctx, inputs)
	if err != nil {
		return nil, asFlowError(err, node.ID)
	}
	return out, nil
}

func actionSuccess(mapOutputs map[string]string, outputs map[string]any, node *flow.Node) Result {
	updates := map[string]any{}
	if len(mapOutputs) == 0 {
		for k, v := range outputs {
			updates[k] = v
		}
	} else {
		for outputName, slotName := range mapOutputs {
			if v, ok := outputs[outputName]; ok {
				updates[slotName] = v
			}
		}
	}
	delta := state.Delta{}
	if len(updates) > 0 {
		delta.SlotUpdates = updates
	}
	return Result{Delta: delta, Next: node.Next}
}

// retryable reports whether the policy covers this error type. An empty
// retry_on list retries every non-terminal error.
func retryable(retry *dsl.RetryDef, errType string) bool {
	if retry == nil {
		return false
	}
	if len(retry.RetryOn) == 0 {
		return true
	}
	for _, t := range retry.RetryOn {
		if t == errType {
			return true
		}
	}
	return false
}

// backoffDelay computes the wait before the next attempt. attempt is
// 1-based: the delay after the attempt'th failure.
func backoffDelay(retry *dsl.RetryDef, attempt int) time.Duration {
	base := time.Duration(retry.Delay * float64(time.Second))
	if base <= 0 {
		base = time.Second
	}
	switch retry.Backoff {
	case "linear":
		return base * time.Duration(attempt)
	case "exponential":
		return base << (attempt - 1)
	default: // fixed
		return base
	}
}
