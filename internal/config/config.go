package config

// Config is the top-level host configuration structure mapping to soni.toml.
// It configures the process around the dialogue engine: where flow documents
// live, how sessions persist, and how the process logs. Dialogue behavior
// itself (timeouts, stack limits, languages) lives in the flow documents.
type Config struct {
	Session SessionConfig `toml:"session"`
	Flows   FlowsConfig   `toml:"flows"`
	NLU     NLUConfig     `toml:"nlu"`
	Logging LoggingConfig `toml:"logging"`
}

// SessionConfig maps to the [session] section in soni.toml.
type SessionConfig struct {
	// Backend selects the checkpoint store: "memory" or "bolt". Empty defers
	// to the flow document's persistence setting.
	Backend string `toml:"backend"`
	// Path is the bolt database file, used only with the bolt backend.
	Path string `toml:"path"`
	// LockPolicy handles overlapping turns on one session: "wait" or
	// "reject".
	LockPolicy string `toml:"lock_policy"`
	// StreamBuffer is the event channel capacity for streamed turns.
	StreamBuffer int `toml:"stream_buffer"`
}

// FlowsConfig maps to the [flows] section in soni.toml.
type FlowsConfig struct {
	// Paths are doublestar glob patterns, resolved relative to the config
	// file's directory, naming the flow documents to load.
	Paths []string `toml:"paths"`
}

// NLUConfig maps to the [nlu] section in soni.toml.
type NLUConfig struct {
	// Provider names the understander implementation. "keyword" is built in;
	// hosts register anything else programmatically.
	Provider string `toml:"provider"`
}

// LoggingConfig maps to the [logging] section in soni.toml.
type LoggingConfig struct {
	Level string `toml:"level"` // debug | info | warn | error
	JSON  bool   `toml:"json"`
}
