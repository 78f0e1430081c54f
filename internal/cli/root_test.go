package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_PersistentFlags(t *testing.T) {
	for _, name := range []string{"verbose", "quiet", "config", "no-color"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "flag %q", name)
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	want := map[string]bool{
		"validate": false, "chat": false, "sessions": false,
		"version": false, "completion": false,
	}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, "subcommand %q not registered", name)
	}
}

func TestNewRootCmd_CarriesSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	require.NotNil(t, cmd)
	assert.Equal(t, "soni", cmd.Use)
	assert.NotEmpty(t, cmd.Commands())
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}
