// Package dsl defines the declarative flow document format and parses it into
// the intermediate representation consumed by the compiler.
//
// A flow document is a YAML file with the top-level sections version,
// settings, responses, slots, actions, and flows. Parsing is strict: unknown
// keys are rejected everywhere except inside metadata buckets. The package
// produces a Document IR; structural validation of the flow graph itself
// (reachability, cycles, target resolution) happens in the compiler.
package dsl

import "gopkg.in/yaml.v3"

// Slot value types accepted by the schema.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeFloat   = "float"
	TypeBoolean = "boolean"
	TypeDate    = "date"
	TypeObject  = "object"
)

// slotTypes is the closed set of slot value types.
var slotTypes = map[string]struct{}{
	TypeString:  {},
	TypeInteger: {},
	TypeFloat:   {},
	TypeBoolean: {},
	TypeDate:    {},
	TypeObject:  {},
}

// Document is the parsed flow document.
type Document struct {
	Version   string                 `yaml:"version"`
	Settings  Settings               `yaml:"settings"`
	Responses map[string]ResponseDef `yaml:"responses"`
	Slots     map[string]SlotDef     `yaml:"slots"`
	Actions   map[string]ActionDef   `yaml:"actions"`
	Flows     map[string]FlowDef     `yaml:"flows"`
}

// Settings holds the recognized runtime options. Every field has a default
// applied by ApplyDefaults so the runtime never branches on zero values.
type Settings struct {
	Runtime        RuntimeSettings      `yaml:"runtime"`
	Persistence    PersistenceSettings  `yaml:"persistence"`
	FlowManagement FlowMgmtSettings     `yaml:"flow_management"`
	Conversation   ConversationSettings `yaml:"conversation"`
	Collection     CollectionSettings   `yaml:"collection"`
	Handoff        HandoffSettings      `yaml:"handoff"`
	I18n           I18nSettings         `yaml:"i18n"`
}

// RuntimeSettings guards graph execution.
type RuntimeSettings struct {
	// MaxStepExecutions caps how many times a single node may execute within
	// one flow frame before the flow fails with loop_detected.
	MaxStepExecutions int `yaml:"max_step_executions"`
}

// PersistenceSettings selects the checkpointer implementation. The value is
// opaque to the core; the host resolves it to a concrete Store.
type PersistenceSettings struct {
	Backend string `yaml:"backend"`
}

// FlowMgmtSettings bounds the flow stack.
type FlowMgmtSettings struct {
	MaxStackDepth  int    `yaml:"max_stack_depth"`
	OnLimitReached string `yaml:"on_limit_reached"` // cancel_oldest | reject_new
}

// ConversationSettings configures session-level behavior.
type ConversationSettings struct {
	DefaultFlow             string  `yaml:"default_flow"`
	FallbackFlow            string  `yaml:"fallback_flow"`
	SessionTimeout          float64 `yaml:"session_timeout"` // seconds of inactivity
	MaxTurnsWithoutProgress int     `yaml:"max_turns_without_progress"`
	OnNoProgress            string  `yaml:"on_no_progress"` // handoff | fallback | retry
}

// CollectionSettings configures slot collection.
type CollectionSettings struct {
	MaxValidationAttempts int     `yaml:"max_validation_attempts"`
	ValidationTimeout     float64 `yaml:"validation_timeout"` // seconds
}

// HandoffSettings configures escalation to a human queue.
type HandoffSettings struct {
	DefaultQueue string `yaml:"default_queue"`
}

// I18nSettings configures response language selection.
type I18nSettings struct {
	DefaultLanguage    string   `yaml:"default_language"`
	SupportedLanguages []string `yaml:"supported_languages"`
	AutoDetect         bool     `yaml:"auto_detect"`
}

// ApplyDefaults fills unset settings with their documented defaults.
func (s *Settings) ApplyDefaults() {
	if s.Runtime.MaxStepExecutions <= 0 {
		s.Runtime.MaxStepExecutions = 50
	}
	if s.Persistence.Backend == "" {
		s.Persistence.Backend = "memory"
	}
	if s.FlowManagement.MaxStackDepth <= 0 {
		s.FlowManagement.MaxStackDepth = 10
	}
	if s.FlowManagement.OnLimitReached == "" {
		s.FlowManagement.OnLimitReached = "reject_new"
	}
	if s.Conversation.SessionTimeout <= 0 {
		s.Conversation.SessionTimeout = 1800
	}
	if s.Conversation.MaxTurnsWithoutProgress <= 0 {
		s.Conversation.MaxTurnsWithoutProgress = 5
	}
	if s.Conversation.OnNoProgress == "" {
		s.Conversation.OnNoProgress = "handoff"
	}
	if s.Collection.MaxValidationAttempts <= 0 {
		s.Collection.MaxValidationAttempts = 3
	}
	if s.Collection.ValidationTimeout <= 0 {
		s.Collection.ValidationTimeout = 30
	}
	if s.Handoff.DefaultQueue == "" {
		s.Handoff.DefaultQueue = "general"
	}
	if s.I18n.DefaultLanguage == "" {
		s.I18n.DefaultLanguage = "en"
	}
}

// SlotDef declares a typed, named piece of information the dialogue collects.
// Validator and Normalizer are semantic names resolved through the registries
// at compile time.
type SlotDef struct {
	Type           string `yaml:"type"`
	Prompt         string `yaml:"prompt"`
	Required       bool   `yaml:"required"`
	Default        any    `yaml:"default"`
	Description    string `yaml:"description"`
	Validator      string `yaml:"validator"`
	Normalizer     string `yaml:"normalizer"`
	InvalidMessage string `yaml:"invalid_message"`
}

// ActionDef declares the contract of a side-effecting operation. Execution is
// bound through the action registry; the document never carries code.
type ActionDef struct {
	Description string   `yaml:"description"`
	Inputs      []string `yaml:"inputs"`
	Outputs     []string `yaml:"outputs"`
}

// TriggerDef carries the phrase examples used to train/ground the NLU for a
// flow.
type TriggerDef struct {
	Intents []string `yaml:"intents"`
}

// FlowDef is a named, ordered procedure describing a task-oriented dialogue.
type FlowDef struct {
	Description string         `yaml:"description"`
	Trigger     TriggerDef     `yaml:"trigger"`
	Inputs      []string       `yaml:"inputs"`
	Outputs     []string       `yaml:"outputs"`
	OnError     string         `yaml:"on_error"`
	Process     []StepDef      `yaml:"process"`
	Metadata    map[string]any `yaml:"metadata"`
}

// ResponseDef is one entry in the responses section. The YAML shape is
// flexible: a bare string, {default, variations}, or a per-language mapping
// whose values are themselves bare strings or {default, variations}.
type ResponseDef struct {
	Default    string
	Variations []string
	// Languages maps a language code to its translation.
	Languages map[string]ResponseVariant
}

// ResponseVariant is a single-language response body.
type ResponseVariant struct {
	Default    string
	Variations []string
}

// responseBody mirrors the {default, variations} YAML shape.
type responseBody struct {
	Default    string   `yaml:"default"`
	Variations []string `yaml:"variations"`
}

// UnmarshalYAML accepts the three documented shapes for a response entry.
func (r *ResponseDef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&r.Default)
	}
	if node.Kind != yaml.MappingNode {
		return yamlErrorf(node, "response entry must be a string or a mapping")
	}

	// Distinguish {default, variations} from a per-language mapping by key
	// names: anything that is not default/variations is a language code.
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch key {
		case "default":
			if err := val.Decode(&r.Default); err != nil {
				return err
			}
		case "variations":
			if err := val.Decode(&r.Variations); err != nil {
				return err
			}
		default:
			if r.Languages == nil {
				r.Languages = make(map[string]ResponseVariant)
			}
			var variant ResponseVariant
			if val.Kind == yaml.ScalarNode {
				if err := val.Decode(&variant.Default); err != nil {
					return err
				}
			} else {
				var body responseBody
				if err := strictDecode(val, &body, "response "+key, []string{"default", "variations"}); err != nil {
					return err
				}
				variant.Default = body.Default
				variant.Variations = body.Variations
			}
			r.Languages[key] = variant
		}
	}
	return nil
}
