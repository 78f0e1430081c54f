package dsl

import "gopkg.in/yaml.v3"

// Strict decoding hooks. The yaml decoder ignores unknown mapping keys by
// default; these UnmarshalYAML implementations reject them everywhere except
// metadata buckets, which stay open by design.

func (f *FlowDef) UnmarshalYAML(node *yaml.Node) error {
	type plain FlowDef
	return strictDecode(node, (*plain)(f), "flow",
		[]string{"description", "trigger", "inputs", "outputs", "on_error", "process", "metadata"})
}

func (t *TriggerDef) UnmarshalYAML(node *yaml.Node) error {
	type plain TriggerDef
	return strictDecode(node, (*plain)(t), "trigger", []string{"intents"})
}

func (s *SlotDef) UnmarshalYAML(node *yaml.Node) error {
	type plain SlotDef
	return strictDecode(node, (*plain)(s), "slot",
		[]string{"type", "prompt", "required", "default", "description", "validator", "normalizer", "invalid_message"})
}

func (a *ActionDef) UnmarshalYAML(node *yaml.Node) error {
	type plain ActionDef
	return strictDecode(node, (*plain)(a), "action", []string{"description", "inputs", "outputs"})
}

func (s *Settings) UnmarshalYAML(node *yaml.Node) error {
	type plain Settings
	return strictDecode(node, (*plain)(s), "settings",
		[]string{"runtime", "persistence", "flow_management", "conversation", "collection", "handoff", "i18n"})
}

func (s *RuntimeSettings) UnmarshalYAML(node *yaml.Node) error {
	type plain RuntimeSettings
	return strictDecode(node, (*plain)(s), "settings.runtime", []string{"max_step_executions"})
}

func (s *PersistenceSettings) UnmarshalYAML(node *yaml.Node) error {
	type plain PersistenceSettings
	return strictDecode(node, (*plain)(s), "settings.persistence", []string{"backend"})
}

func (s *FlowMgmtSettings) UnmarshalYAML(node *yaml.Node) error {
	type plain FlowMgmtSettings
	return strictDecode(node, (*plain)(s), "settings.flow_management",
		[]string{"max_stack_depth", "on_limit_reached"})
}

func (s *ConversationSettings) UnmarshalYAML(node *yaml.Node) error {
	type plain ConversationSettings
	return strictDecode(node, (*plain)(s), "settings.conversation",
		[]string{"default_flow", "fallback_flow", "session_timeout", "max_turns_without_progress", "on_no_progress"})
}

func (s *CollectionSettings) UnmarshalYAML(node *yaml.Node) error {
	type plain CollectionSettings
	return strictDecode(node, (*plain)(s), "settings.collection",
		[]string{"max_validation_attempts", "validation_timeout"})
}

func (s *HandoffSettings) UnmarshalYAML(node *yaml.Node) error {
	type plain HandoffSettings
	return strictDecode(node, (*plain)(s), "settings.handoff", []string{"default_queue"})
}

func (s *I18nSettings) UnmarshalYAML(node *yaml.Node) error {
	type plain I18nSettings
	return strictDecode(node, (*plain)(s), "settings.i18n",
		[]string{"default_language", "supported_languages", "auto_detect"})
}
