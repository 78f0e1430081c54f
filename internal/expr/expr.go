// Package expr evaluates the two expression forms of the flow language.
//
// Conditions (`when`, branch cases) and `{{ ... }}` values are typed
// expressions handled by expr-lang/expr with a dialogue-state environment.
// `{name}` is plain string interpolation. The engine is total: a failing
// condition evaluates to false, a failing set-expression yields nil, and a
// failing interpolation yields "".
package expr

import (
	"fmt"
	"strings"
	"sync"
	"time"

	exprlang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
)

// programCache memoizes compiled expressions. Flow documents contain a small,
// fixed set of expressions, so the cache is unbounded.
var programCache sync.Map // string -> *vm.Program

// builtins are available in every expression environment: date/time and id
// builtins plus the pipe filters.
func builtins() map[string]any {
	return map[string]any{
		"today": func() string { return time.Now().Format("2006-01-02") },
		"now":   func() string { return time.Now().Format(time.RFC3339) },
		"uuid":  func() string { return uuid.NewString() },
		"upper": func(s string) string { return strings.ToUpper(s) },
		"lower": func(s string) string { return strings.ToLower(s) },
		"trim":  func(s string) string { return strings.TrimSpace(s) },
		"length": func(v any) int {
			switch x := v.(type) {
			case nil:
				return 0
			case string:
				return len(x)
			case []any:
				return len(x)
			case map[string]any:
				return len(x)
			}
			return 0
		},
	}
}

// BuildEnv assembles the expression environment from the slot scopes.
// Resolution order is local flow slots, then `flow.*` (alias of local), then
// `session.*`, then the builtin error/validation variables carried in extra.
// Locals win on name collisions with builtins only when set.
func BuildEnv(local, session, extra map[string]any) map[string]any {
	env := builtins()
	for k, v := range extra {
		env[k] = v
	}
	sess := make(map[string]any, len(session))
	for k, v := range session {
		sess[k] = v
	}
	env["session"] = sess
	loc := make(map[string]any, len(local))
	for k, v := range local {
		loc[k] = v
		env[k] = v
	}
	env["flow"] = loc
	return env
}

// Eval evaluates a typed expression against env.
func Eval(src string, env map[string]any) (any, error) {
	program, err := compile(src)
	if err != nil {
		return nil, fmt.Errorf("expr: compiling %q: %w", src, err)
	}
	out, err := exprlang.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("expr: evaluating %q: %w", src, err)
	}
	return out, nil
}

// Condition evaluates a raw condition expression. Any compilation or
// evaluation error, and any non-boolean non-truthy result, yields false.
func Condition(src string, env map[string]any) bool {
	src = strings.TrimSpace(src)
	if src == "" {
		return true
	}
	out, err := Eval(src, env)
	if err != nil {
		return false
	}
	return Truthy(out)
}

// Truthy maps an arbitrary expression result onto a boolean: booleans as-is,
// nil false, empty strings/collections false, zero numbers false.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}

func compile(src string) (*vm.Program, error) {
	if cached, ok := programCache.Load(src); ok {
		return cached.(*vm.Program), nil
	}
	program, err := exprlang.Compile(src, exprlang.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	programCache.Store(src, program)
	return program, nil
}
