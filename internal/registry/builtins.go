package registry

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// Builtin returns a registry pre-loaded with the stock validators and
// normalizers most documents reference. Hosts add their actions on top.
func Builtin() *Registry {
	r := New()

	r.MustRegisterValidator("email_format", func(_ context.Context, value any, _ Env) error {
		s, ok := value.(string)
		if !ok || !emailRe.MatchString(s) {
			return fmt.Errorf("%v is not a valid email address", value)
		}
		return nil
	})
	r.MustRegisterValidator("phone_format", func(_ context.Context, value any, _ Env) error {
		s, ok := value.(string)
		if !ok || !phoneRe.MatchString(strings.ReplaceAll(s, " ", "")) {
			return fmt.Errorf("%v is not a valid phone number", value)
		}
		return nil
	})
	r.MustRegisterValidator("non_empty", func(_ context.Context, value any, _ Env) error {
		if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
			return nil
		}
		return fmt.Errorf("a non-empty value is required")
	})
	r.MustRegisterValidator("future_date", func(_ context.Context, value any, _ Env) error {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%v is not a date", value)
		}
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			return fmt.Errorf("%q is not a date in YYYY-MM-DD form", s)
		}
		if d.Before(time.Now().Truncate(24 * time.Hour)) {
			return fmt.Errorf("%q is in the past", s)
		}
		return nil
	})
	r.MustRegisterValidator("positive_number", func(_ context.Context, value any, _ Env) error {
		switch v := value.(type) {
		case int:
			if v > 0 {
				return nil
			}
		case float64:
			if v > 0 {
				return nil
			}
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				return nil
			}
		}
		return fmt.Errorf("%v is not a positive number", value)
	})

	r.MustRegisterNormalizer("trim", func(_ context.Context, value any, _ Env) (any, error) {
		if s, ok := value.(string); ok {
			return strings.TrimSpace(s), nil
		}
		return value, nil
	})
	r.MustRegisterNormalizer("lowercase", func(_ context.Context, value any, _ Env) (any, error) {
		if s, ok := value.(string); ok {
			return strings.ToLower(strings.TrimSpace(s)), nil
		}
		return value, nil
	})
	r.MustRegisterNormalizer("uppercase", func(_ context.Context, value any, _ Env) (any, error) {
		if s, ok := value.(string); ok {
			return strings.ToUpper(strings.TrimSpace(s)), nil
		}
		return value, nil
	})
	r.MustRegisterNormalizer("to_number", func(_ context.Context, value any, _ Env) (any, error) {
		switch v := value.(type) {
		case int, float64:
			return v, nil
		case string:
			s := strings.TrimSpace(v)
			if i, err := strconv.Atoi(s); err == nil {
				return i, nil
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, nil
			}
			return nil, fmt.Errorf("%q is not a number", v)
		}
		return nil, fmt.Errorf("%v is not a number", value)
	})

	return r
}
