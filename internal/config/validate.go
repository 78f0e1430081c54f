package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
)

// ValidationSeverity indicates whether a validation issue is an error or warning.
type ValidationSeverity string

const (
	// SeverityError indicates a fatal validation issue; the configuration is unusable.
	SeverityError ValidationSeverity = "error"
	// SeverityWarning indicates an informational validation issue; the configuration works
	// but may have problems.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue represents a single validation finding.
type ValidationIssue struct {
	Severity ValidationSeverity
	Field    string // dotted path, e.g., "session.backend"
	Message  string
}

// ValidationResult holds all validation findings.
type ValidationResult struct {
	Issues []ValidationIssue
}

// HasErrors returns true if any issue has error severity.
func (vr *ValidationResult) HasErrors() bool {
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only error-severity issues.
func (vr *ValidationResult) Errors() []ValidationIssue {
	var errs []ValidationIssue
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityError {
			errs = append(errs, issue)
		}
	}
	return errs
}

// Warnings returns only warning-severity issues.
func (vr *ValidationResult) Warnings() []ValidationIssue {
	var warns []ValidationIssue
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityWarning {
			warns = append(warns, issue)
		}
	}
	return warns
}

// validBackends is the set of valid values for session.backend.
var validBackends = map[string]bool{
	"":       true,
	"memory": true,
	"bolt":   true,
}

// validLockPolicies is the set of valid values for session.lock_policy.
var validLockPolicies = map[string]bool{
	"":       true,
	"wait":   true,
	"reject": true,
}

// validLogLevels is the set of valid values for logging.level.
var validLogLevels = map[string]bool{
	"":      true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for correctness and completeness.
// It performs structural validation, semantic validation, and unknown key
// detection. meta may be nil if no file was loaded.
//
// Returns validation results. Check HasErrors() to determine if the config is usable.
func Validate(cfg *Config, meta *toml.MetaData) *ValidationResult {
	vr := &ValidationResult{}

	if cfg == nil {
		addError(vr, "", "configuration is nil")
		return vr
	}

	validateSession(vr, &cfg.Session)
	validateFlows(vr, &cfg.Flows)
	validateLogging(vr, &cfg.Logging)
	validateUnknownKeys(vr, meta)

	return vr
}

// validateSession checks the [session] section.
func validateSession(vr *ValidationResult, s *SessionConfig) {
	if !validBackends[s.Backend] {
		addError(vr, "session.backend",
			fmt.Sprintf("unrecognized backend %q; must be one of: memory, bolt, or empty", s.Backend))
	}
	if s.Backend == "bolt" && s.Path == "" {
		addError(vr, "session.path", "must not be empty with the bolt backend")
	}
	if !validLockPolicies[s.LockPolicy] {
		addError(vr, "session.lock_policy",
			fmt.Sprintf("unrecognized lock policy %q; must be one of: wait, reject, or empty", s.LockPolicy))
	}
	if s.StreamBuffer < 0 {
		addError(vr, "session.stream_buffer", "must not be negative")
	}
}

// validateFlows checks the [flows] section.
func validateFlows(vr *ValidationResult, f *FlowsConfig) {
	if len(f.Paths) == 0 {
		addWarning(vr, "flows.paths", "no flow document patterns configured")
		return
	}
	for i, pattern := range f.Paths {
		if pattern == "" {
			addError(vr, fmt.Sprintf("flows.paths[%d]", i), "must not be an empty string")
			continue
		}
		if !doublestar.ValidatePattern(pattern) {
			addError(vr, fmt.Sprintf("flows.paths[%d]", i),
				fmt.Sprintf("invalid glob pattern %q", pattern))
		}
	}
}

// validateLogging checks the [logging] section.
func validateLogging(vr *ValidationResult, l *LoggingConfig) {
	if !validLogLevels[l.Level] {
		addError(vr, "logging.level",
			fmt.Sprintf("unrecognized level %q; must be one of: debug, info, warn, error, or empty", l.Level))
	}
}

// validateUnknownKeys checks for TOML keys that did not map to any config struct field.
func validateUnknownKeys(vr *ValidationResult, meta *toml.MetaData) {
	if meta == nil {
		return
	}

	for _, key := range meta.Undecoded() {
		path := strings.Join(key, ".")
		addWarning(vr, path, "unknown configuration key")
	}
}

// addError appends an error-severity issue to the validation result.
func addError(vr *ValidationResult, field, message string) {
	vr.Issues = append(vr.Issues, ValidationIssue{
		Severity: SeverityError,
		Field:    field,
		Message:  message,
	})
}

// addWarning appends a warning-severity issue to the validation result.
func addWarning(vr *ValidationResult, field, message string) {
	vr.Issues = append(vr.Issues, ValidationIssue{
		Severity: SeverityWarning,
		Field:    field,
		Message:  message,
	})
}
