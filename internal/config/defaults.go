package config

// NewDefaults returns a Config populated with all default values.
func NewDefaults() *Config {
	return &Config{
		Session: SessionConfig{
			Backend:      "memory",
			Path:         "soni.db",
			LockPolicy:   "wait",
			StreamBuffer: 64,
		},
		Flows: FlowsConfig{
			Paths: []string{"flows/**/*.yaml", "flows/**/*.yml"},
		},
		NLU: NLUConfig{
			Provider: "keyword",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
