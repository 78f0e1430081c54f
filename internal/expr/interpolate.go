package expr

import (
	"fmt"
	"strings"
)

// Interpolate renders a template containing both interpolation forms:
// `{name}` resolves a variable (dotted paths allowed) and stringifies it,
// `{{ expr }}` evaluates a typed expression and stringifies the result.
// Unresolvable names and failing expressions render as "".
func Interpolate(tmpl string, env map[string]any) string {
	var b strings.Builder
	i := 0
	for i < len(tmpl) {
		ch := tmpl[i]
		if ch != '{' {
			b.WriteByte(ch)
			i++
			continue
		}

		// `{{ expr }}` has priority over `{name}`.
		if i+1 < len(tmpl) && tmpl[i+1] == '{' {
			end := strings.Index(tmpl[i+2:], "}}")
			if end < 0 {
				b.WriteByte(ch)
				i++
				continue
			}
			src := tmpl[i+2 : i+2+end]
			if out, err := Eval(strings.TrimSpace(src), env); err == nil {
				b.WriteString(Stringify(out))
			}
			i += 2 + end + 2
			continue
		}

		end := strings.IndexByte(tmpl[i+1:], '}')
		if end < 0 {
			b.WriteByte(ch)
			i++
			continue
		}
		name := strings.TrimSpace(tmpl[i+1 : i+1+end])
		if v, ok := Lookup(name, env); ok {
			b.WriteString(Stringify(v))
		}
		i += 1 + end + 1
	}
	return b.String()
}

// Value evaluates a set-step value: a string consisting solely of a
// `{{ expr }}` form is evaluated as a typed expression (errors yield nil),
// any other string containing braces is interpolated, and every other value
// is preserved as-is.
func Value(v any, env map[string]any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") && strings.Count(trimmed, "{{") == 1 {
		out, err := Eval(strings.TrimSpace(trimmed[2:len(trimmed)-2]), env)
		if err != nil {
			return nil
		}
		return out
	}
	if strings.ContainsRune(s, '{') {
		return Interpolate(s, env)
	}
	return s
}

// Lookup resolves a possibly dotted name against env, walking nested
// map[string]any values.
func Lookup(name string, env map[string]any) (any, bool) {
	parts := strings.Split(name, ".")
	var cur any = env
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Stringify renders an expression result for interpolation. nil renders as
// "" so undefined variables disappear from messages.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		// Render integral floats without the trailing ".0" that %v adds.
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	}
	return fmt.Sprintf("%v", v)
}
