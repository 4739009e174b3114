package cmd

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aslmdev/Crevion-Helper-Bot/crevion"
)

func TestVersionCommand(t *testing.T) {
	out := resetCLI(t)
	originalVersion := crevion.Version
	originalCommitSHA := crevion.CommitSHA
	originalBuildTime := crevion.BuildTime

	t.Cleanup(
		func() {
			crevion.Version = originalVersion
			crevion.CommitSHA = originalCommitSHA
			crevion.BuildTime = originalBuildTime
		},
	)

	crevion.Version = "1.0.0"
	crevion.CommitSHA = "abc123"
	crevion.BuildTime = "2026-10-01T12:00:00Z"

	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())

	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		crevion.Version,
		crevion.CommitSHA,
		crevion.BuildTime,
	)
	assert.Contains(t, out.String(), expected)
}
