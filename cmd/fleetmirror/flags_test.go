package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogsCommand_FlagsAndDefaults(t *testing.T) {
	cmd := newLogsCmd()

	lines := cmd.Flags().Lookup("lines")
	require.NotNil(t, lines)
	require.Equal(t, "n", lines.Shorthand)
	require.Equal(t, "50", lines.DefValue)

	follow := cmd.Flags().Lookup("follow")
	require.NotNil(t, follow)
	require.Equal(t, "f", follow.Shorthand)
	require.Equal(t, "false", follow.DefValue)
}

func TestStatusCommand_FlagsAndDefaults(t *testing.T) {
	cmd := newStatusCmd()

	asJSON := cmd.Flags().Lookup("json")
	require.NotNil(t, asJSON)
	require.Equal(t, "false", asJSON.DefValue)
}

func TestRunCommand_HiddenWithForegroundFlag(t *testing.T) {
	cmd := newRunCmd()
	require.True(t, cmd.Hidden)

	fg := cmd.Flags().Lookup("foreground")
	require.NotNil(t, fg)
	require.Equal(t, "false", fg.DefValue)
}
