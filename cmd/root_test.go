//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "validate", "migrate", "runs", "check"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "stageload", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"dataset", "reference-date", "warehouse", "json"} {
		require.NotNil(t, runCmd.Flags().Lookup(name), "run command should have --%s flag", name)
	}
	assert.Equal(t, []string{"true"}, runCmd.Flags().Lookup("dataset").Annotations["cobra_annotation_bash_completion_one_required_flag"])
}

func TestRunsCommand_Flags(t *testing.T) {
	flag := runsCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
	require.NotNil(t, runsCmd.Flags().Lookup("task"))
	require.NotNil(t, runsCmd.Flags().Lookup("current"))
}

func TestMigrateCommand_Flags(t *testing.T) {
	require.NotNil(t, migrateCmd.Flags().Lookup("warehouse"))
}
