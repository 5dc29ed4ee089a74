package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"analyze", "serve", "schedule", "ledger", "status"} {
		assert.True(t, names[want], "command %s not registered", want)
	}
}

func TestLedgerSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range ledgerCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["stats"])
	assert.True(t, names["cleanup"])
}

func TestAnalyzeFlags(t *testing.T) {
	require.NotNil(t, analyzeCmd.Flags().Lookup("mode"))
	require.NotNil(t, analyzeCmd.Flags().Lookup("lead"))
	require.NotNil(t, analyzeCmd.Flags().Lookup("dry-run"))
	assert.Equal(t, "new", analyzeCmd.Flags().Lookup("mode").DefValue)
}
