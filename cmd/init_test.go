package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/aslmdev/Crevion-Helper-Bot/crevion"
	"github.com/aslmdev/Crevion-Helper-Bot/permissions"
)

const (
	testOwnerID  = "100000000000000001"
	testOwner2ID = "100000000000000002"
)

// setTestDatabase points the CLI at a new sqlite database and returns its
// path.
func setTestDatabase(t testing.TB) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, os.Setenv("CREVION_DATABASE_TYPE", "sqlite"))
	require.NoError(t, os.Setenv("CREVION_DATABASE", dbPath))
	return dbPath
}

func openTestDatabase(t testing.TB, dbPath string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dbPath))
	require.NoError(t, err)
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)
	return db
}

func TestInitCommand(t *testing.T) {
	out := resetCLI(t)
	dbPath := setTestDatabase(t)
	require.NoError(t, os.Setenv("CREVION_PERMISSIONS_OWNERS", testOwnerID))
	require.NoError(t, os.Setenv("CREVION_PERMISSIONS_LINE_ROLES", "200000000000000003"))

	passwords := []string{"wrongpassword", "testpassword", "testpassword", "testpassword"}
	passwordIndex := 0
	customPasswordReader = func() ([]byte, error) {
		if passwordIndex >= len(passwords) {
			return nil, fmt.Errorf("no more passwords")
		}
		password := passwords[passwordIndex]
		passwordIndex++
		return []byte(password), nil
	}

	rootCmd.SetIn(strings.NewReader("testadmin\n"))
	rootCmd.SetArgs([]string{"init", "--owner", testOwner2ID})
	require.NoError(t, rootCmd.Execute())

	_, err := os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")

	output := out.String()
	assert.Contains(t, output, "Admin credentials are not set. Let's set them up.")
	assert.Contains(t, output, "Enter admin username:")
	assert.Contains(t, output, "Passwords do not match. Please try again.")
	assert.Contains(t, output, "Admin credentials set successfully")
	assert.Contains(t, output, "Bot owners: "+testOwnerID+", "+testOwner2ID)
	assert.Contains(t, output, "Initialization complete")

	db := openTestDatabase(t, dbPath)

	var settings crevion.BotSettings
	require.NoError(t, db.First(&settings).Error)
	assert.Equal(t, "testadmin", settings.AdminUsername)
	assert.NotEmpty(t, settings.AdminPassword)
	assert.NotEqual(t, "testpassword", settings.AdminPassword)

	mg := db.Migrator()
	assert.True(t, mg.HasTable(&crevion.BotSettings{}))
	assert.True(t, mg.HasTable(&crevion.InteractionLog{}))
	assert.True(t, mg.HasTable(&crevion.AutoReply{}))
	assert.True(t, mg.HasTable(&crevion.AutoLineChannel{}))
	assert.True(t, mg.HasTable(&crevion.Challenge{}))
	assert.True(t, mg.HasTable(&permissions.Record{}))

	store := permissions.NewGormStore(db, permissions.DefaultRecordName, permissions.Config{})
	snapshot, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{testOwnerID, testOwner2ID}, snapshot.Owners)
	assert.Equal(t, []string{"200000000000000003"}, snapshot.LineAccessRoles)
}

func TestInitCommand_CredentialsAlreadySet(t *testing.T) {
	out := resetCLI(t)
	dbPath := setTestDatabase(t)

	ctx := context.Background()
	db, err := crevion.CreateDB(ctx, "sqlite", dbPath)
	require.NoError(t, err)
	_, err = crevion.SetAdminCredentials(ctx, crevion.NewDatabase(db, nil, false), "admin", "password")
	require.NoError(t, err)

	customPasswordReader = func() ([]byte, error) {
		t.Error("password prompted")
		return nil, fmt.Errorf("unexpected prompt")
	}
	rootCmd.SetArgs([]string{"init"})
	require.NoError(t, rootCmd.Execute())

	output := out.String()
	assert.Contains(t, output, "Admin credentials are already set.")
	assert.Contains(t, output, "No bot owners are set.")
}
