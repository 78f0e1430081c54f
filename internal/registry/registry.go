// Package registry binds the semantic names used in flow documents to Go
// code: actions, validators, and normalizers. Handlers are registered at
// startup; the compiler resolves names against a Registry before any session
// runs.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// handlerNameRe validates handler names: lowercase identifier with
// underscores, matching the names flow documents use.
var handlerNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ErrNotFound is returned by the lookup methods when no handler with the
// requested name has been registered.
var ErrNotFound = errors.New("handler not found")

// ErrDuplicateName is returned by the Register methods when a handler with
// the same name is already present.
var ErrDuplicateName = errors.New("handler already registered")

// ErrInvalidName is returned by the Register methods when the handler name
// is empty or contains invalid characters.
var ErrInvalidName = errors.New("invalid handler name")

// Env carries the request-scoped context handed to validators and
// normalizers: which slot is being filled and the session language.
type Env struct {
	Slot     string
	Language string
	Session  map[string]any
}

// Action is a side-effecting operation invoked by action steps. It receives
// the resolved inputs and returns named outputs. Errors should be
// *flow.FlowError values when the document is expected to route on them.
type Action func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// Validator checks a normalized slot value. A nil return accepts the value;
// any error rejects it and re-prompts the user.
type Validator func(ctx context.Context, value any, env Env) error

// Normalizer canonicalizes a raw slot value before validation. It must be
// deterministic for a given input so results can be cached.
type Normalizer func(ctx context.Context, value any, env Env) (any, error)

// Registry stores the named handlers for one deployment. It is safe for
// concurrent reads after all registrations are complete.
type Registry struct {
	actions     map[string]Action
	validators  map[string]Validator
	normalizers map[string]Normalizer
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		actions:     make(map[string]Action),
		validators:  make(map[string]Validator),
		normalizers: make(map[string]Normalizer),
	}
}

func checkName(kind, name string) error {
	if name == "" || !handlerNameRe.MatchString(name) {
		return fmt.Errorf("register %s %q: %w", kind, name, ErrInvalidName)
	}
	return nil
}

// RegisterAction adds an action under the given name.
// Returns ErrInvalidName or ErrDuplicateName on misuse.
func (r *Registry) RegisterAction(name string, fn Action) error {
	if err := checkName("action", name); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("register action %q: nil handler: %w", name, ErrInvalidName)
	}
	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("register action %q: %w", name, ErrDuplicateName)
	}
	r.actions[name] = fn
	return nil
}

// RegisterValidator adds a validator under the given name.
func (r *Registry) RegisterValidator(name string, fn Validator) error {
	if err := checkName("validator", name); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("register validator %q: nil handler: %w", name, ErrInvalidName)
	}
	if _, exists := r.validators[name]; exists {
		return fmt.Errorf("register validator %q: %w", name, ErrDuplicateName)
	}
	r.validators[name] = fn
	return nil
}

// RegisterNormalizer adds a normalizer under the given name.
func (r *Registry) RegisterNormalizer(name string, fn Normalizer) error {
	if err := checkName("normalizer", name); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("register normalizer %q: nil handler: %w", name, ErrInvalidName)
	}
	if _, exists := r.normalizers[name]; exists {
		return fmt.Errorf("register normalizer %q: %w", name, ErrDuplicateName)
	}
	r.normalizers[name] = fn
	return nil
}

// MustRegisterAction registers an action or panics. Only use this in
// initialization code, never in request-handling paths.
func (r *Registry) MustRegisterAction(name string, fn Action) {
	if err := r.RegisterAction(name, fn); err != nil {
		panic(fmt.Sprintf("registry.MustRegisterAction: %v", err))
	}
}

// MustRegisterValidator registers a validator or panics.
func (r *Registry) MustRegisterValidator(name string, fn Validator) {
	if err := r.RegisterValidator(name, fn); err != nil {
		panic(fmt.Sprintf("registry.MustRegisterValidator: %v", err))
	}
}

// MustRegisterNormalizer registers a normalizer or panics.
func (r *Registry) MustRegisterNormalizer(name string, fn Normalizer) {
	if err := r.RegisterNormalizer(name, fn); err != nil {
		panic(fmt.Sprintf("registry.MustRegisterNormalizer: %v", err))
	}
}

// Action returns the action registered under name.
func (r *Registry) Action(name string) (Action, error) {
	fn, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("action %q: %w", name, ErrNotFound)
	}
	return fn, nil
}

// Validator returns the validator registered under name.
func (r *Registry) Validator(name string) (Validator, error) {
	fn, ok := r.validators[name]
	if !ok {
		return nil, fmt.Errorf("validator %q: %w", name, ErrNotFound)
	}
	return fn, nil
}

// Normalizer returns the normalizer registered under name.
func (r *Registry) Normalizer(name string) (Normalizer, error) {
	fn, ok := r.normalizers[name]
	if !ok {
		return nil, fmt.Errorf("normalizer %q: %w", name, ErrNotFound)
	}
	return fn, nil
}

// HasAction reports whether an action with the given name is registered.
func (r *Registry) HasAction(name string) bool {
	_, ok := r.actions[name]
	return ok
}

// HasValidator reports whether a validator with the given name is registered.
func (r *Registry) HasValidator(name string) bool {
	_, ok := r.validators[name]
	return ok
}

// HasNormalizer reports whether a normalizer with the given name is
// registered.
func (r *Registry) HasNormalizer(name string) bool {
	_, ok := r.normalizers[name]
	return ok
}

// Actions returns the names of all registered actions, sorted.
func (r *Registry) Actions() []string { return sortedKeys(r.actions) }

// Validators returns the names of all registered validators, sorted.
func (r *Registry) Validators() []string { return sortedKeys(r.validators) }

// Normalizers returns the names of all registered normalizers, sorted.
func (r *Registry) Normalizers() []string { return sortedKeys(r.normalizers) }

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
