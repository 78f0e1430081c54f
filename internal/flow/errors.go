package flow

import (
	"fmt"
	"strings"
)

// Compile-time error kinds.
const (
	KindDuplicateStepID   = "duplicate_step_id"
	KindUnknownStepTarget = "unknown_step_target"
	KindUnreachableNode   = "unreachable_node"
	KindUnsafeCycle       = "unsafe_cycle"
	KindUnknownAction     = "unknown_action"
	KindUnknownValidator  = "unknown_validator"
	KindUnknownNormalizer = "unknown_normalizer"
	KindUnknownFlow       = "unknown_flow"
)

// CompileError is one structural defect found during compilation.
type CompileError struct {
	Kind    string
	Flow    string
	Step    string
	Message string
}

func (e CompileError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: flow %q step %q: %s", e.Kind, e.Flow, e.Step, e.Message)
	}
	return fmt.Sprintf("%s: flow %q: %s", e.Kind, e.Flow, e.Message)
}

// CompileErrors aggregates every defect found in one compile pass.
type CompileErrors []CompileError

func (es CompileErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("flow: %d compile error(s): %s", len(es), strings.Join(msgs, "; "))
}

// CompileWarning is a non-fatal finding, reported alongside a successful
// compile.
type CompileWarning struct {
	Flow    string
	Step    string
	Message string
}

func (w CompileWarning) String() string {
	return fmt.Sprintf("flow %q step %q: %s", w.Flow, w.Step, w.Message)
}

// Runtime error types. Local types route through step/flow on_error; the
// rest terminate the flow with ERROR.
const (
	// Handled by step or flow on_error.
	ErrTimeout            = "timeout"
	ErrConnection         = "connection"
	ErrRateLimited        = "rate_limited"
	ErrValidation         = "validation"
	ErrNotFoundType       = "not_found"
	ErrPermission         = "permission"
	ErrPaymentFailed      = "payment_failed"
	ErrQueueNotFound      = "queue_not_found"
	ErrHandoffUnavailable = "handoff_unavailable"
	ErrAborted            = "aborted"

	// Terminal: the flow ends with ERROR.
	ErrLoopDetected      = "loop_detected"
	ErrMissingInput      = "missing_input"
	ErrInvalidTransition = "invalid_state_transition"
	ErrMaxStackDepth     = "max_stack_depth"
	ErrUnknownRuntime    = "unknown_runtime"
)

// terminalErrTypes never route through on_error.
var terminalErrTypes = map[string]struct{}{
	ErrLoopDetected:      {},
	ErrMissingInput:      {},
	ErrInvalidTransition: {},
	ErrMaxStackDepth:     {},
	ErrUnknownRuntime:    {},
}

// FlowError is a runtime step failure. Details carries the per-type payload
// surfaced through the _error_details variable.
type FlowError struct {
	Type    string
	Code    string
	Message string
	Step    string
	Details map[string]any
}

func (e *FlowError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s at step %q: %s", e.Type, e.Step, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Terminal reports whether the error bypasses on_error routing.
func (e *FlowError) Terminal() bool {
	_, ok := terminalErrTypes[e.Type]
	return ok
}

// Vars returns the error variables set atomically on the flow scope when a
// step fails terminally or routes to an error handler.
func (e *FlowError) Vars() map[string]any {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	return map[string]any{
		"_error":         true,
		"_error_type":    e.Type,
		"_error_message": e.Message,
		"_error_code":    e.Code,
		"_error_details": details,
	}
}

// Errf builds a FlowError with a formatted message.
func Errf(errType, step, format string, args ...any) *FlowError {
	return &FlowError{
		Type:    errType,
		Step:    step,
		Message: fmt.Sprintf(format, args...),
	}
}
