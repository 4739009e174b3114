package cmd

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aslmdev/Crevion-Helper-Bot/permissions"
)

func TestPermissionsCommand(t *testing.T) {
	out := resetCLI(t)
	setTestDatabase(t)
	require.NoError(t, os.Setenv("CREVION_PERMISSIONS_OWNERS", testOwnerID))
	require.NoError(t, os.Setenv("CREVION_PERMISSIONS_ADMIN_ROLES", "200000000000000001"))

	run := func(args ...string) (string, error) {
		t.Helper()
		out.Reset()
		rootCmd.SetArgs(append([]string{"permissions"}, args...))
		err := rootCmd.Execute()
		return out.String(), err
	}

	output, err := run("add-owner", testOwner2ID)
	require.NoError(t, err)
	assert.Contains(t, output, "add owner "+testOwner2ID+": applied")

	output, err = run("add-owner", testOwner2ID)
	require.NoError(t, err)
	assert.Contains(t, output, "already present")

	output, err = run("remove-owner", testOwnerID)
	require.NoError(t, err)
	assert.Contains(t, output, "remove owner "+testOwnerID+": applied")

	_, err = run("remove-owner", testOwner2ID)
	assert.ErrorIs(t, err, permissions.ErrLastOwner)

	output, err = run("reset")
	require.NoError(t, err)
	assert.Contains(t, output, "permissions reset to defaults")

	output, err = run("show")
	require.NoError(t, err)
	var snapshot permissions.Config
	require.NoError(t, json.Unmarshal([]byte(output), &snapshot))
	assert.Equal(t, []string{testOwner2ID}, snapshot.Owners)
	assert.Equal(t, []string{"200000000000000001"}, snapshot.RolesByLevel[permissions.Admin])
}
