package dsl

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// topLevelKeys are the only keys accepted at document root.
var topLevelKeys = []string{"version", "settings", "responses", "slots", "actions", "flows"}

// Parse decodes a flow document from YAML text, applies settings defaults,
// and runs schema validation. It is a pure function of the input text.
//
// Parse fails on the first syntactic or strict-mode error; semantic schema
// violations are collected and returned together as a SchemaErrors value.
func Parse(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("dsl: parsing document: %w", err)
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, fmt.Errorf("dsl: document is empty")
	}

	body := root.Content[0]
	if body.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("dsl: document root must be a mapping")
	}
	if err := checkKeys(body, "document", topLevelKeys); err != nil {
		return nil, fmt.Errorf("dsl: %w", err)
	}

	var doc Document
	if err := body.Decode(&doc); err != nil {
		return nil, fmt.Errorf("dsl: decoding document: %w", err)
	}

	doc.Settings.ApplyDefaults()

	if errs := ValidateSchema(&doc); len(errs) > 0 {
		return nil, SchemaErrors(errs)
	}
	return &doc, nil
}

// ParseFile reads and parses the flow document at path.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dsl: reading %q: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Merge combines several parsed documents into one. Later documents win on
// version and settings; named sections must not collide. Used when the host
// splits flows across files.
func Merge(docs ...*Document) (*Document, error) {
	merged := &Document{
		Responses: map[string]ResponseDef{},
		Slots:     map[string]SlotDef{},
		Actions:   map[string]ActionDef{},
		Flows:     map[string]FlowDef{},
	}
	for _, doc := range docs {
		if doc.Version != "" {
			merged.Version = doc.Version
		}
		merged.Settings = doc.Settings
		for name, v := range doc.Responses {
			if _, dup := merged.Responses[name]; dup {
				return nil, fmt.Errorf("dsl: response %q defined in multiple documents", name)
			}
			merged.Responses[name] = v
		}
		for name, v := range doc.Slots {
			if _, dup := merged.Slots[name]; dup {
				return nil, fmt.Errorf("dsl: slot %q defined in multiple documents", name)
			}
			merged.Slots[name] = v
		}
		for name, v := range doc.Actions {
			if _, dup := merged.Actions[name]; dup {
				return nil, fmt.Errorf("dsl: action %q defined in multiple documents", name)
			}
			merged.Actions[name] = v
		}
		for name, v := range doc.Flows {
			if _, dup := merged.Flows[name]; dup {
				return nil, fmt.Errorf("dsl: flow %q defined in multiple documents", name)
			}
			merged.Flows[name] = v
		}
	}
	merged.Settings.ApplyDefaults()
	return merged, nil
}
