// Package exec implements the node executors: the per-kind logic that turns
// one graph node plus the current dialogue into a state delta. Executors are
// pure with respect to dialogue state; they describe mutations as deltas and
// never write through the pointer they are given. Orchestration (state
// machine transitions, step advancement, checkpointing) lives in the runtime.
package exec

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sonilabs/soni/internal/dsl"
	"github.com/sonilabs/soni/internal/expr"
	"github.com/sonilabs/soni/internal/flow"
	"github.com/sonilabs/soni/internal/nlu"
	"github.com/sonilabs/soni/internal/registry"
	"github.com/sonilabs/soni/internal/response"
	"github.com/sonilabs/soni/internal/state"
)

// Env bundles the transient collaborators an executor needs for one step.
// It is assembled per turn by the runtime and never serialized.
type Env struct {
	Config    *flow.Config
	Graph     *flow.Graph
	Dialogue  *state.Dialogue
	Registry  *registry.Registry
	NormCache *registry.NormCache
	NLU       nlu.Understander
	Responses *response.Catalog
	Log       *log.Logger

	// Sleep waits between action retries. Injectable so tests do not wait
	// on real backoff delays.
	Sleep func(ctx context.Context, d time.Duration) error

	// ErrorVars holds the _error* variables while an error handler runs.
	ErrorVars map[string]any
}

// Result is the outcome of executing one node.
type Result struct {
	// Delta describes the state mutation, including any outbound messages.
	Delta state.Delta

	// Next is the resolved successor node id. Ignored when Suspend or Err
	// is set.
	Next string

	// Suspend means the node awaits user input; Delta carries the pending
	// task and the prompt.
	Suspend bool

	// Err is the step failure to route through on_error handling.
	Err *flow.FlowError
}

// fail wraps a FlowError as a Result.
func fail(err *flow.FlowError) Result { return Result{Err: err} }

// Execute runs a node on first entry. Blocking nodes return a suspension;
// resumption goes through ResumeCollect and ResumeConfirm with the parsed
// understanding of the user's reply.
func Execute(ctx context.Context, env *Env, node *flow.Node) Result {
	switch node.Kind {
	case dsl.StepSay:
		return executeSay(env, node)
	case dsl.StepSet:
		return executeSet(env, node)
	case dsl.StepBranch:
		return executeBranch(env, node)
	case dsl.StepCollect:
		return enterCollect(env, node)
	case dsl.StepConfirm:
		return enterConfirm(env, node)
	case dsl.StepAction:
		return executeAction(ctx, env, node)
	case dsl.StepGenerate:
		return executeGenerate(ctx, env, node)
	case dsl.StepCallFlow:
		return executeCallFlow(env, node)
	case dsl.StepHandoff:
		return executeHandoff(env, node)
	}
	return fail(flow.Errf(flow.ErrUnknownRuntime, node.ID, "no executor for step type %q", node.Kind))
}

// Guard evaluates a node's when condition. Evaluation errors read as false,
// so a broken guard skips the step instead of crashing the turn.
func Guard(env *Env, node *flow.Node) bool {
	if node.Step.When == "" {
		return true
	}
	return expr.Condition(node.Step.When, env.exprEnv())
}

// exprEnv builds the expression environment: active frame slots at top
// level, session slots under "session", error variables when present.
func (env *Env) exprEnv() map[string]any {
	return expr.BuildEnv(env.Dialogue.LocalSlots(), env.Dialogue.SessionSlots, env.ErrorVars)
}

// lang returns the session language, falling back to the document default.
func (env *Env) lang() string {
	if env.Dialogue.Language != "" {
		return env.Dialogue.Language
	}
	return env.Config.Settings().I18n.DefaultLanguage
}

// utterance resolves the message/response pair of say and confirm steps into
// interpolated text.
func (env *Env) utterance(message, responseKey string) string {
	tmpl := message
	if responseKey != "" {
		tmpl = env.Responses.Resolve(responseKey, env.lang())
	}
	return expr.Interpolate(tmpl, env.exprEnv())
}

// lookupSlot reads a name from the active frame scope, then session scope.
func (env *Env) lookupSlot(name string) (any, bool) {
	if v, ok := env.Dialogue.Slot(name); ok {
		return v, true
	}
	v, ok := env.Dialogue.SessionSlots[name]
	return v, ok
}

// sleep honors the injected clock, defaulting to a context-aware wait.
func (env *Env) sleep(ctx context.Context, d time.Duration) error {
	if env.Sleep != nil {
		return env.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
