package crevion

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aslmdev/Crevion-Helper-Bot/permissions"
)

const (
	testAdminUsername = "admin"
	testAdminPassword = "hunter2hunter2"
)

// apiClient talks to the admin API of a test bot, keeping the session
// cookie between requests.
type apiClient struct {
	t      testing.TB
	srv    *httptest.Server
	client *http.Client
}

func newAPIClient(t testing.TB, bot *Crevion) *apiClient {
	t.Helper()
	srv := httptest.NewServer(bot.api.engine)
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &apiClient{t: t, srv: srv, client: &http.Client{Jar: jar}}
}

// do sends body (JSON encoded unless nil) and decodes the response into
// out, if given. It returns the status code.
func (a *apiClient) do(method, path string, body any, out any) int {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(a.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.client.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// newLoggedInAPIClient sets up admin credentials and logs in.
func newLoggedInAPIClient(t testing.TB, bot *Crevion) *apiClient {
	t.Helper()
	a := newAPIClient(t, bot)
	status := a.do(
		http.MethodPost, "/api/setup", adminSetupPayload{
			Username:        testAdminUsername,
			Password:        testAdminPassword,
			ConfirmPassword: testAdminPassword,
		}, nil,
	)
	require.Equal(t, http.StatusCreated, status)

	var login loggedInResponse
	status = a.do(
		http.MethodPost, "/api/login",
		userLogin{Username: testAdminUsername, Password: testAdminPassword},
		&login,
	)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, testAdminUsername, login.Username)
	return a
}

func TestAPI_Setup(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	a := newAPIClient(t, bot)

	var setup setupResponse
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/setup/status", nil, &setup))
	assert.True(t, setup.Required)

	// nothing is reachable before setup
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/permissions", nil, nil))

	status := a.do(
		http.MethodPost, "/api/setup", adminSetupPayload{
			Username:        testAdminUsername,
			Password:        testAdminPassword,
			ConfirmPassword: "something else",
		}, nil,
	)
	assert.Equal(t, http.StatusBadRequest, status)

	status = a.do(
		http.MethodPost, "/api/setup", adminSetupPayload{
			Username:        testAdminUsername,
			Password:        "short",
			ConfirmPassword: "short",
		}, nil,
	)
	assert.Equal(t, http.StatusBadRequest, status)

	status = a.do(
		http.MethodPost, "/api/setup", adminSetupPayload{
			Username:        testAdminUsername,
			Password:        testAdminPassword,
			ConfirmPassword: testAdminPassword,
		}, nil,
	)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, testAdminUsername, reloadedSettings(t, bot).AdminUsername)

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/setup/status", nil, &setup))
	assert.False(t, setup.Required)

	// setup can't be repeated
	status = a.do(
		http.MethodPost, "/api/setup", adminSetupPayload{
			Username:        "intruder",
			Password:        testAdminPassword,
			ConfirmPassword: testAdminPassword,
		}, nil,
	)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/logged_in", nil, nil))
}

func TestAPI_LoginWrongPassword(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	_, err := SetAdminCredentials(context.Background(), bot.writeDB, testAdminUsername, testAdminPassword)
	require.NoError(t, err)
	require.NoError(t, bot.refreshSettings(context.Background()))

	a := newAPIClient(t, bot)
	status := a.do(
		http.MethodPost, "/api/login",
		userLogin{Username: testAdminUsername, Password: "wrong password"},
		nil,
	)
	assert.Equal(t, http.StatusUnauthorized, status)

	// login attempts are rate limited
	status = a.do(
		http.MethodPost, "/api/login",
		userLogin{Username: testAdminUsername, Password: testAdminPassword},
		nil,
	)
	assert.Equal(t, http.StatusTooManyRequests, status)
}

func TestAPI_Session(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	a := newLoggedInAPIClient(t, bot)

	var me loggedInResponse
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/logged_in", nil, &me))
	assert.Equal(t, testAdminUsername, me.Username)

	assert.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/logout", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/logged_in", nil, nil))
}

func TestAPI_HealthCheck(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	a := newAPIClient(t, bot)

	bot.startedAt = time.Now().Add(-90 * time.Second)
	var health healthCheckResponse
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/healthz", nil, &health))
	assert.False(t, health.DiscordGatewayConnected)
	assert.True(t, health.PermissionsAvailable)
	assert.Equal(t, "1m30s", health.Uptime)
	assert.True(t, health.NextChallenge.IsZero())

	// uptime is only reported once the bot is running
	bot.startedAt = time.Time{}
	health = healthCheckResponse{}
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/healthz", nil, &health))
	assert.Empty(t, health.Uptime)

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/nope", nil, nil))
}

func TestAPI_Settings(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	a := newLoggedInAPIClient(t, bot)

	var settings BotSettings
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/settings", nil, &settings))
	assert.Equal(t, DefaultPrefix, settings.Prefix)
	assert.Empty(t, settings.AdminPassword)

	status := a.do(http.MethodPatch, "/api/settings", map[string]any{"prefix": "toolong"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = a.do(
		http.MethodPatch, "/api/settings",
		map[string]any{"prefix": "!", "feature_error_reporting": false},
		&settings,
	)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "!", settings.Prefix)
	assert.False(t, settings.FeatureErrorReporting)
	assert.Equal(t, "!", bot.Settings().Prefix)

	status = a.do(
		http.MethodPatch, "/api/settings",
		map[string]any{"ai_channel_id": "400000000000000001"},
		&settings,
	)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "400000000000000001", settings.AIChannelID)

	// an empty string clears the channel
	status = a.do(http.MethodPatch, "/api/settings", map[string]any{"ai_channel_id": ""}, &settings)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, settings.AIChannelID)
}

func TestAPI_Interactions(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	a := newLoggedInAPIClient(t, bot)

	runSlash(t, bot, testMemberID, nil, commandPing)
	runSlash(t, bot, testMemberID, nil, commandStats)
	bot.runtimeWG.Wait()

	var logs []InteractionLog
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/interactions", nil, &logs))
	assert.Len(t, logs, 2)

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/interactions?allowed=false", nil, &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, commandStats, logs[0].Command)

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/interactions?command=ping", nil, &logs))
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Allowed)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/interactions?limit=1000", nil, nil))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/interactions?user_id=abc", nil, nil))
}

func TestAPI_Stats(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	a := newLoggedInAPIClient(t, bot)

	runSlash(t, bot, testMemberID, nil, commandPing)

	var stats map[string]any
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/stats", nil, &stats))
	assert.Contains(t, stats, "requests")
}

func TestAPI_Permissions(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	a := newLoggedInAPIClient(t, bot)
	role := "200000000000000050"

	var perms permissionsResponse
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/permissions", nil, &perms))
	assert.Equal(t, []string{testOwnerID}, perms.Config.Owners)
	assert.Equal(t, []string{testAdminRole}, perms.Config.RolesByLevel[permissions.Admin])
	assert.NotEmpty(t, perms.Commands)

	var reply httpReply
	assert.Equal(t, http.StatusOK, a.do(http.MethodPut, "/api/permissions/roles/moderator/"+role, nil, &reply))
	assert.Equal(t, "applied", reply.Message)
	assert.Equal(t, http.StatusOK, a.do(http.MethodPut, "/api/permissions/roles/moderator/"+role, nil, &reply))
	assert.Equal(t, "already present", reply.Message)

	// owner isn't a role level, and unknown levels are rejected
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPut, "/api/permissions/roles/owner/"+role, nil, nil))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPut, "/api/permissions/roles/superuser/"+role, nil, nil))

	assert.Equal(t, http.StatusOK, a.do(http.MethodDelete, "/api/permissions/roles/all/"+role, nil, &reply))
	assert.Equal(t, "applied", reply.Message)

	// the last owner can't be removed
	var apiErr httpError
	status := a.do(http.MethodDelete, "/api/permissions/owners/"+testOwnerID, nil, &apiErr)
	assert.Equal(t, http.StatusConflict, status)
	assert.NotEmpty(t, apiErr.Error)

	assert.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/permissions/owners/"+testAdminID, nil, nil))
	assert.Equal(t, http.StatusOK, a.do(http.MethodDelete, "/api/permissions/owners/"+testOwnerID, nil, nil))

	status = a.do(
		http.MethodPut, "/api/permissions/users/"+testMemberID,
		map[string]string{"level": "vip"}, &reply,
	)
	assert.Equal(t, http.StatusOK, status)
	status = a.do(
		http.MethodPut, "/api/permissions/users/"+testMemberID,
		map[string]string{"level": "superuser"}, nil,
	)
	assert.Equal(t, http.StatusBadRequest, status)

	status = a.do(
		http.MethodPut, "/api/permissions/commands/nope",
		map[string]string{"level": "admin"}, nil,
	)
	assert.Equal(t, http.StatusNotFound, status)
	status = a.do(
		http.MethodPut, "/api/permissions/commands/PING",
		map[string]string{"level": "admin"}, nil,
	)
	assert.Equal(t, http.StatusOK, status)

	// the override applies to Discord commands immediately
	handler := runSlash(t, bot, testMemberID, nil, commandPing)
	assert.Equal(t, "🔒 Access Denied", handler.lastEmbed(t).Title)

	assert.Equal(t, http.StatusOK, a.do(http.MethodPut, "/api/permissions/line/"+role, nil, nil))

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/permissions", nil, &perms))
	assert.Equal(t, []string{testAdminID}, perms.Config.Owners)
	assert.Equal(t, permissions.VIP, perms.Config.UserOverrides[testMemberID])
	assert.Equal(t, permissions.Admin, perms.Config.CommandOverrides[commandPing])
	assert.Contains(t, perms.Config.LineAccessRoles, role)
	for _, cmd := range perms.Commands {
		if cmd.Name == commandPing {
			assert.Equal(t, permissions.Everyone, cmd.Default)
			assert.Equal(t, permissions.Admin, cmd.Required)
		}
	}

	assert.Equal(t, http.StatusOK, a.do(http.MethodDelete, "/api/permissions/commands/ping", nil, nil))
	assert.Equal(t, http.StatusOK, a.do(http.MethodDelete, "/api/permissions/users/"+testMemberID, nil, nil))

	assert.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/permissions/reset", nil, nil))
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/permissions", nil, &perms))
	assert.Equal(t, []string{testAdminID}, perms.Config.Owners)
	assert.Equal(t, []string{testLineRole}, perms.Config.LineAccessRoles)
}

func TestAPI_PermissionsUnavailable(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	a := newLoggedInAPIClient(t, bot)

	store := permissions.NewMemoryStore(
		permissions.NewConfig([]string{testOwnerID}, bot.config.Permissions.Defaults()),
	)
	store.LoadErr = io.ErrUnexpectedEOF
	bot.perms = newPermissionService(store, bot.config.Permissions)

	assert.Equal(t, http.StatusServiceUnavailable, a.do(http.MethodGet, "/api/permissions", nil, nil))

	var health healthCheckResponse
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/healthz", nil, &health))
	assert.False(t, health.PermissionsAvailable)
}
