package exec

import (
	"github.com/sonilabs/soni/internal/expr"
	"github.com/sonilabs/soni/internal/flow"
	"github.com/sonilabs/soni/internal/state"
)

// executeCallFlow pushes the child flow with evaluated inputs. The parent
// frame stays parked on this step; when the child completes, the runtime
// maps the declared outputs back and advances the parent past it.
func executeCallFlow(env *Env, node *flow.Node) Result {
	step := node.Step.CallFlow
	settings := env.Config.Settings()

	if env.Dialogue.Depth() >= settings.FlowManagement.MaxStackDepth {
		return fail(flow.Errf(flow.ErrMaxStackDepth, node.ID,
			"flow stack is at its limit of %d", settings.FlowManagement.MaxStackDepth))
	}

	scope := env.exprEnv()
	inputs := make(map[string]any, len(step.Inputs))
	for childSlot, raw := range step.Inputs {
		inputs[childSlot] = expr.Value(raw, scope)
	}

	return Result{
		Delta: state.Delta{Push: step.Flow, PushInputs: inputs},
	}
}

// CallFlowOutputs maps a completed child's outputs into parent slot updates
// per the call step's outputs declaration. With no declaration, the child's
// declared flow outputs propagate by name.
func CallFlowOutputs(node *flow.Node, childOutputs map[string]any) map[string]any {
	step := node.Step.CallFlow
	if len(step.Outputs) == 0 {
		return childOutputs
	}
	out := make(map[string]any, len(step.Outputs))
	for childName, parentSlot := range step.Outputs {
		if v, ok := childOutputs[childName]; ok {
			out[parentSlot] = v
		}
	}
	return out
}
