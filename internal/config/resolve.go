package config

// ConfigSource identifies where a configuration value came from.
type ConfigSource string

const (
	// SourceDefault indicates the value came from built-in defaults.
	SourceDefault ConfigSource = "default"
	// SourceFile indicates the value came from the soni.toml config file.
	SourceFile ConfigSource = "file"
	// SourceEnv indicates the value came from an environment variable.
	SourceEnv ConfigSource = "env"
	// SourceCLI indicates the value came from a CLI flag.
	SourceCLI ConfigSource = "cli"
)

// ResolvedConfig holds the fully-resolved configuration with source tracking.
// The Config field contains the merged values; Sources tracks where each came from.
type ResolvedConfig struct {
	Config  *Config
	Sources map[string]ConfigSource // key is dotted path, e.g., "session.backend"
	Path    string                  // path to the config file used (empty if none)
}

// CLIOverrides captures flag values that can override configuration.
// Nil fields mean "not set" (do not override). A *string that is nil means
// "not overridden"; a *string pointing to "" means "override to empty string."
type CLIOverrides struct {
	Backend    *string
	DBPath     *string
	LockPolicy *string
	FlowPaths  []string
	LogLevel   *string
	LogJSON    *bool
}

// EnvFunc is a function that looks up environment variables.
// Default implementation is os.LookupEnv. Injected for testability.
type EnvFunc func(key string) (string, bool)

// Resolve merges configuration from all sources in priority order:
// CLI flags > environment variables > config file > defaults.
func Resolve(defaults *Config, fileConfig *Config, envFn EnvFunc, overrides *CLIOverrides) *ResolvedConfig {
	rc := &ResolvedConfig{
		Config:  &Config{},
		Sources: make(map[string]ConfigSource),
	}

	if defaults == nil {
		defaults = &Config{}
	}
	if envFn == nil {
		envFn = func(string) (string, bool) { return "", false }
	}
	if overrides == nil {
		overrides = &CLIOverrides{}
	}

	// Layer 1: defaults as the base.
	resolveFromDefaults(rc, defaults)

	// Layer 2: file config on top (non-zero values override).
	if fileConfig != nil {
		resolveFromFile(rc, fileConfig)
	}

	// Layer 3: environment variables.
	resolveFromEnv(rc, envFn)

	// Layer 4: CLI overrides.
	resolveFromCLI(rc, overrides)

	return rc
}

// --- Layer 1: Defaults ---

func resolveFromDefaults(rc *ResolvedConfig, defaults *Config) {
	c := rc.Config
	d := defaults

	setString(&c.Session.Backend, d.Session.Backend, "session.backend", SourceDefault, rc.Sources)
	setString(&c.Session.Path, d.Session.Path, "session.path", SourceDefault, rc.Sources)
	setString(&c.Session.LockPolicy, d.Session.LockPolicy, "session.lock_policy", SourceDefault, rc.Sources)
	c.Session.StreamBuffer = d.Session.StreamBuffer
	rc.Sources["session.stream_buffer"] = SourceDefault

	if len(d.Flows.Paths) > 0 {
		c.Flows.Paths = append([]string(nil), d.Flows.Paths...)
	}
	rc.Sources["flows.paths"] = SourceDefault

	setString(&c.NLU.Provider, d.NLU.Provider, "nlu.provider", SourceDefault, rc.Sources)

	setString(&c.Logging.Level, d.Logging.Level, "logging.level", SourceDefault, rc.Sources)
	c.Logging.JSON = d.Logging.JSON
	rc.Sources["logging.json"] = SourceDefault
}

// --- Layer 2: File ---

func resolveFromFile(rc *ResolvedConfig, file *Config) {
	c := rc.Config

	mergeString(&c.Session.Backend, file.Session.Backend, "session.backend", SourceFile, rc.Sources)
	mergeString(&c.Session.Path, file.Session.Path, "session.path", SourceFile, rc.Sources)
	mergeString(&c.Session.LockPolicy, file.Session.LockPolicy, "session.lock_policy", SourceFile, rc.Sources)
	if file.Session.StreamBuffer > 0 {
		c.Session.StreamBuffer = file.Session.StreamBuffer
		rc.Sources["session.stream_buffer"] = SourceFile
	}

	if len(file.Flows.Paths) > 0 {
		c.Flows.Paths = append([]string(nil), file.Flows.Paths...)
		rc.Sources["flows.paths"] = SourceFile
	}

	mergeString(&c.NLU.Provider, file.NLU.Provider, "nlu.provider", SourceFile, rc.Sources)

	mergeString(&c.Logging.Level, file.Logging.Level, "logging.level", SourceFile, rc.Sources)
	if file.Logging.JSON {
		c.Logging.JSON = true
		rc.Sources["logging.json"] = SourceFile
	}
}

// --- Layer 3: Environment ---

// Environment variable mapping:
//
//	SONI_SESSION_BACKEND -> session.backend
//	SONI_SESSION_PATH    -> session.path
//	SONI_LOCK_POLICY     -> session.lock_policy
//	SONI_NLU_PROVIDER    -> nlu.provider
//	SONI_LOG_LEVEL       -> logging.level
func resolveFromEnv(rc *ResolvedConfig, envFn EnvFunc) {
	c := rc.Config

	if val, ok := envFn("SONI_SESSION_BACKEND"); ok {
		c.Session.Backend = val
		rc.Sources["session.backend"] = SourceEnv
	}
	if val, ok := envFn("SONI_SESSION_PATH"); ok {
		c.Session.Path = val
		rc.Sources["session.path"] = SourceEnv
	}
	if val, ok := envFn("SONI_LOCK_POLICY"); ok {
		c.Session.LockPolicy = val
		rc.Sources["session.lock_policy"] = SourceEnv
	}
	if val, ok := envFn("SONI_NLU_PROVIDER"); ok {
		c.NLU.Provider = val
		rc.Sources["nlu.provider"] = SourceEnv
	}
	if val, ok := envFn("SONI_LOG_LEVEL"); ok {
		c.Logging.Level = val
		rc.Sources["logging.level"] = SourceEnv
	}
}

// --- Layer 4: CLI overrides ---

func resolveFromCLI(rc *ResolvedConfig, overrides *CLIOverrides) {
	c := rc.Config

	if overrides.Backend != nil {
		c.Session.Backend = *overrides.Backend
		rc.Sources["session.backend"] = SourceCLI
	}
	if overrides.DBPath != nil {
		c.Session.Path = *overrides.DBPath
		rc.Sources["session.path"] = SourceCLI
	}
	if overrides.LockPolicy != nil {
		c.Session.LockPolicy = *overrides.LockPolicy
		rc.Sources["session.lock_policy"] = SourceCLI
	}
	if len(overrides.FlowPaths) > 0 {
		c.Flows.Paths = append([]string(nil), overrides.FlowPaths...)
		rc.Sources["flows.paths"] = SourceCLI
	}
	if overrides.LogLevel != nil {
		c.Logging.Level = *overrides.LogLevel
		rc.Sources["logging.level"] = SourceCLI
	}
	if overrides.LogJSON != nil {
		c.Logging.JSON = *overrides.LogJSON
		rc.Sources["logging.json"] = SourceCLI
	}
}

// --- Helpers ---

// setString unconditionally sets the target to the given value and records the source.
func setString(target *string, value string, path string, source ConfigSource, sources map[string]ConfigSource) {
	*target = value
	sources[path] = source
}

// mergeString overwrites the target only if value is non-empty (non-zero string).
// An empty string in the file means "not set in file", so it does not
// override the default.
func mergeString(target *string, value string, path string, source ConfigSource, sources map[string]ConfigSource) {
	if value != "" {
		*target = value
		sources[path] = source
	}
}
