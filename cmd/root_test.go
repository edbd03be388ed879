package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"schools", "extract", "compare", "summarize", "export", "import", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "school-intel", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCompareCommand_Flags(t *testing.T) {
	flag := compareCmd.Flags().Lookup("fields")
	require.NotNil(t, flag)
	assert.Equal(t, []string{"true"}, flag.Annotations[cobra.BashCompOneRequiredFlag])

	format := compareCmd.Flags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, formatTable, format.DefValue)
}

func TestExtractCommand_Flags(t *testing.T) {
	for _, name := range []string{"manifest", "workers", "report"} {
		assert.NotNil(t, extractCmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "0", extractCmd.Flags().Lookup("workers").DefValue)
}

func TestSubcommandTrees(t *testing.T) {
	names := func(cmds []string) map[string]bool {
		m := make(map[string]bool)
		for _, c := range cmds {
			m[c] = true
		}
		return m
	}

	var summarize, export, schools []string
	for _, c := range summarizeCmd.Commands() {
		summarize = append(summarize, c.Name())
	}
	for _, c := range exportCmd.Commands() {
		export = append(export, c.Name())
	}
	for _, c := range schoolsCmd.Commands() {
		schools = append(schools, c.Name())
	}
	assert.Equal(t, map[string]bool{"school": true, "market": true}, names(summarize))
	assert.Equal(t, map[string]bool{"json": true, "xlsx": true}, names(export))
	assert.Equal(t, map[string]bool{"list": true, "load": true}, names(schools))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}
