package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldOf(issues []ValidationIssue) []string {
	var out []string
	for _, i := range issues {
		out = append(out, i.Field)
	}
	return out
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func TestValidate_DefaultsAreClean(t *testing.T) {
	t.Parallel()

	vr := Validate(NewDefaults(), nil)
	assert.False(t, vr.HasErrors())
	assert.Empty(t, vr.Warnings())
}

func TestValidate_UnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := NewDefaults()
	cfg.Session.Backend = "redis"

	vr := Validate(cfg, nil)
	require.True(t, vr.HasErrors())
	assert.Contains(t, fieldOf(vr.Errors()), "session.backend")
}

func TestValidate_BoltRequiresPath(t *testing.T) {
	t.Parallel()

	cfg := NewDefaults()
	cfg.Session.Backend = "bolt"
	cfg.Session.Path = ""

	vr := Validate(cfg, nil)
	require.True(t, vr.HasErrors())
	assert.Contains(t, fieldOf(vr.Errors()), "session.path")
}

func TestValidate_UnknownLockPolicy(t *testing.T) {
	t.Parallel()

	cfg := NewDefaults()
	cfg.Session.LockPolicy = "spin"

	vr := Validate(cfg, nil)
	assert.Contains(t, fieldOf(vr.Errors()), "session.lock_policy")
}

func TestValidate_NegativeStreamBuffer(t *testing.T) {
	t.Parallel()

	cfg := NewDefaults()
	cfg.Session.StreamBuffer = -1

	vr := Validate(cfg, nil)
	assert.Contains(t, fieldOf(vr.Errors()), "session.stream_buffer")
}

func TestValidate_EmptyFlowPatternsWarn(t *testing.T) {
	t.Parallel()

	cfg := NewDefaults()
	cfg.Flows.Paths = nil

	vr := Validate(cfg, nil)
	assert.False(t, vr.HasErrors())
	assert.Contains(t, fieldOf(vr.Warnings()), "flows.paths")
}

func TestValidate_BadGlobPattern(t *testing.T) {
	t.Parallel()

	cfg := NewDefaults()
	cfg.Flows.Paths = []string{"flows/[.yaml"}

	vr := Validate(cfg, nil)
	require.True(t, vr.HasErrors())
	assert.Contains(t, fieldOf(vr.Errors()), "flows.paths[0]")
}

func TestValidate_UnknownLogLevel(t *testing.T) {
	t.Parallel()

	cfg := NewDefaults()
	cfg.Logging.Level = "verbose"

	vr := Validate(cfg, nil)
	assert.Contains(t, fieldOf(vr.Errors()), "logging.level")
}

func TestValidate_NilConfig(t *testing.T) {
	t.Parallel()

	vr := Validate(nil, nil)
	assert.True(t, vr.HasErrors())
}
