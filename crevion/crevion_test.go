package crevion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aslmdev/Crevion-Helper-Bot/permissions"
)

const (
	testOwnerID    = "100000000000000001"
	testAdminID    = "100000000000000002"
	testMemberID   = "100000000000000003"
	testAdminRole  = "200000000000000001"
	testHelperRole = "200000000000000002"
	testLineRole   = "200000000000000003"
	testGuildID    = "300000000000000001"
	testChannelID  = "400000000000000001"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	gin.DefaultWriter = io.Discard
	defaultLogWriter = io.Discard
	os.Exit(m.Run())
}

// newTestConfig returns a config using a temporary sqlite database, with
// the admin API disabled.
func newTestConfig(t testing.TB) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database = filepath.Join(t.TempDir(), "crevion_test.sqlite3")
	cfg.Discord.Token = "test-token"
	cfg.Discord.ApplicationID = "500000000000000001"
	cfg.API.Listen = ""
	cfg.API.Development = true
	cfg.API.Secret = "test-secret"
	cfg.AI.UserRateLimit = 0

	for _, lv := range []*slog.LevelVar{
		cfg.LogLevel,
		cfg.DatabaseLogLevel,
		cfg.Discord.LogLevel,
		cfg.Discord.DiscordGoLogLevel,
		cfg.API.LogLevel,
		cfg.AI.LogLevel,
		cfg.Permissions.LogLevel,
	} {
		lv.Set(slog.LevelWarn)
	}

	cfg.Permissions.Owners = []string{testOwnerID}
	cfg.Permissions.AdminRoles = []string{testAdminRole}
	cfg.Permissions.HelperRoles = []string{testHelperRole}
	cfg.Permissions.LineRoles = []string{testLineRole}
	return cfg
}

// newTestBot returns a bot with an initialized database and a mock
// Discord session. Nothing is connected.
func newTestBot(t testing.TB) (*Crevion, *mockDiscordSession) {
	t.Helper()
	return newTestBotWithConfig(t, newTestConfig(t))
}

func newTestBotWithConfig(t testing.TB, cfg *Config) (*Crevion, *mockDiscordSession) {
	t.Helper()
	bot, err := New(cfg)
	require.NoError(t, err)

	session := newMockDiscordSession()
	bot.discord.session = session
	bot.startedAt = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, bot.initDB(ctx))

	notifier, err := newDBNotifier(bot)
	require.NoError(t, err)
	bot.notifier = notifier

	t.Cleanup(
		func() {
			bot.runtimeWG.Wait()
			if sqlDB, dbErr := bot.db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
		},
	)
	return bot, session
}

// reloadedSettings waits for background writes, then reads the settings
// row.
func reloadedSettings(t testing.TB, bot *Crevion) *BotSettings {
	t.Helper()
	bot.runtimeWG.Wait()
	s, err := LoadBotSettings(context.Background(), bot.db)
	require.NoError(t, err)
	return s
}

type sentMessage struct {
	ChannelID string
	Message   *discordgo.MessageSend
}

type startedThread struct {
	ChannelID string
	Thread    *discordgo.ThreadStart
	Message   *discordgo.MessageSend
}

// mockDiscordSession implements DiscordSessionHandler, recording
// everything sent through it.
type mockDiscordSession struct {
	mu     sync.Mutex
	logger *slog.Logger

	latency  time.Duration
	channels map[string]*discordgo.Channel
	sendErr  error

	sent     []sentMessage
	deleted  []string
	typing   []string
	threads  []startedThread
	statuses []discordgo.UpdateStatusData
	commands []*discordgo.ApplicationCommand
	dms      []string
}

func newMockDiscordSession() *mockDiscordSession {
	return &mockDiscordSession{
		logger: slog.New(
			tint.NewHandler(io.Discard, &tint.Options{Level: slog.LevelDebug}),
		).With(loggerNameKey, "mock_discord"),
		latency:  42 * time.Millisecond,
		channels: map[string]*discordgo.Channel{},
	}
}

func (m *mockDiscordSession) Open() error {
	return nil
}

func (m *mockDiscordSession) Close() error {
	return nil
}

func (m *mockDiscordSession) AddHandler(_ any) func() {
	return func() {}
}

func (m *mockDiscordSession) HeartbeatLatency() time.Duration {
	return m.latency
}

func (m *mockDiscordSession) UpdateStatusComplex(data discordgo.UpdateStatusData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, data)
	return nil
}

func (m *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = commands
	return commands, nil
}

func (m *mockDiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	_ *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	m.logger.Debug("interaction response", "interaction_id", interaction.ID)
	return nil
}

func (m *mockDiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg := &discordgo.Message{ID: "edited-" + interaction.ID, ChannelID: interaction.ChannelID}
	if newresp.Content != nil {
		msg.Content = *newresp.Content
	}
	return msg, nil
}

func (m *mockDiscordSession) FollowupMessageCreate(
	interaction *discordgo.Interaction,
	_ bool,
	data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{
		ID:        "followup-" + interaction.ID,
		ChannelID: interaction.ChannelID,
		Content:   data.Content,
	}, nil
}

func (m *mockDiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return m.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Content: content}, options...)
}

func (m *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, sentMessage{ChannelID: channelID, Message: data})
	return &discordgo.Message{
		ID:        fmt.Sprintf("m_%d", len(m.sent)),
		ChannelID: channelID,
		Content:   data.Content,
		Embeds:    data.Embeds,
	}, nil
}

func (m *mockDiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, channelID+"/"+messageID)
	return nil
}

func (m *mockDiscordSession) ChannelTyping(channelID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing = append(m.typing, channelID)
	return nil
}

func (m *mockDiscordSession) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("unknown channel %s", channelID)
	}
	return ch, nil
}

func (m *mockDiscordSession) UserChannelCreate(
	recipientID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dms = append(m.dms, recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func (m *mockDiscordSession) ForumThreadStartComplex(
	channelID string,
	threadData *discordgo.ThreadStart,
	messageData *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = append(
		m.threads,
		startedThread{ChannelID: channelID, Thread: threadData, Message: messageData},
	)
	return &discordgo.Channel{
		ID:       fmt.Sprintf("thread_%d", len(m.threads)),
		ParentID: channelID,
		Name:     threadData.Name,
	}, nil
}

func (m *mockDiscordSession) sentMessages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

// sentEmbedTitles returns the titles of every embed sent to a channel, in
// order.
func (m *mockDiscordSession) sentEmbedTitles() []string {
	var titles []string
	for _, s := range m.sentMessages() {
		for _, e := range s.Message.Embeds {
			titles = append(titles, e.Title)
		}
	}
	return titles
}

// stubInteractionHandler implements InteractionHandler, recording
// responses instead of sending them.
type stubInteractionHandler struct {
	mu     sync.Mutex
	i      *discordgo.InteractionCreate
	logger *slog.Logger

	responses []*discordgo.InteractionResponse
	edits     []*discordgo.WebhookEdit
	followups []*discordgo.WebhookParams

	// embeds holds every embed sent, across responses, edits and
	// followups, in order
	embeds []*discordgo.MessageEmbed
	files  []*discordgo.File
}

func newStubInteractionHandler(i *discordgo.InteractionCreate) *stubInteractionHandler {
	return &stubInteractionHandler{
		i: i,
		logger: slog.New(
			tint.NewHandler(io.Discard, &tint.Options{Level: slog.LevelDebug}),
		),
	}
}

func (s *stubInteractionHandler) Respond(_ context.Context, r *discordgo.InteractionResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	if r.Data != nil {
		s.embeds = append(s.embeds, r.Data.Embeds...)
		s.files = append(s.files, r.Data.Files...)
	}
	return nil
}

func (s *stubInteractionHandler) Edit(
	_ context.Context,
	e *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, e)
	if e.Embeds != nil {
		s.embeds = append(s.embeds, *e.Embeds...)
	}
	s.files = append(s.files, e.Files...)
	return &discordgo.Message{ID: "edit-" + s.i.ID}, nil
}

func (s *stubInteractionHandler) Followup(
	_ context.Context,
	p *discordgo.WebhookParams,
) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followups = append(s.followups, p)
	s.embeds = append(s.embeds, p.Embeds...)
	s.files = append(s.files, p.Files...)
	return &discordgo.Message{ID: "followup-" + s.i.ID}, nil
}

func (s *stubInteractionHandler) GetInteraction() *discordgo.InteractionCreate {
	return s.i
}

func (s *stubInteractionHandler) Logger() *slog.Logger {
	return s.logger
}

func (s *stubInteractionHandler) embedTitles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	titles := make([]string, 0, len(s.embeds))
	for _, e := range s.embeds {
		titles = append(titles, e.Title)
	}
	return titles
}

// lastEmbed returns the most recent embed sent, failing the test if there
// wasn't one.
func (s *stubInteractionHandler) lastEmbed(t testing.TB) *discordgo.MessageEmbed {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.embeds, "expected an embed to be sent")
	return s.embeds[len(s.embeds)-1]
}

func stringOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func userOpt(name, userID string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionUser,
		Value: userID,
	}
}

func roleOpt(name, roleID string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionRole,
		Value: roleID,
	}
}

func boolOpt(name string, value bool) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionBoolean,
		Value: value,
	}
}

func subcommandOpt(
	name string,
	opts ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:    name,
		Type:    discordgo.ApplicationCommandOptionSubCommand,
		Options: opts,
	}
}

// slashInteraction builds a guild slash command interaction from userID,
// holding roles.
func slashInteraction(
	t testing.TB,
	userID string,
	roles []string,
	command string,
	opts ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	t.Helper()
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        fmt.Sprintf("i_%s_%s", command, t.Name()),
			AppID:     "500000000000000001",
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   testGuildID,
			ChannelID: testChannelID,
			Member: &discordgo.Member{
				User:  &discordgo.User{ID: userID, Username: "user_" + userID},
				Roles: roles,
			},
			Data: discordgo.ApplicationCommandInteractionData{
				ID:      "c_" + command,
				Name:    command,
				Options: opts,
			},
		},
	}
}

func componentInteraction(
	t testing.TB,
	userID string,
	customID string,
) *discordgo.InteractionCreate {
	t.Helper()
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        fmt.Sprintf("i_component_%s", t.Name()),
			Type:      discordgo.InteractionMessageComponent,
			GuildID:   testGuildID,
			ChannelID: testChannelID,
			Member: &discordgo.Member{
				User: &discordgo.User{ID: userID, Username: "user_" + userID},
			},
			Data: discordgo.MessageComponentInteractionData{
				CustomID:      customID,
				ComponentType: discordgo.ButtonComponent,
			},
		},
	}
}

func guildMessage(userID string, roles []string, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "600000000000000001",
			ChannelID: testChannelID,
			GuildID:   testGuildID,
			Content:   content,
			Author:    &discordgo.User{ID: userID, Username: "user_" + userID},
			Member:    &discordgo.Member{Roles: roles},
		},
	}
}

// runSlash dispatches a slash command and returns the handler that
// captured the response.
func runSlash(
	t testing.TB,
	bot *Crevion,
	userID string,
	roles []string,
	command string,
	opts ...*discordgo.ApplicationCommandInteractionDataOption,
) *stubInteractionHandler {
	t.Helper()
	handler := newStubInteractionHandler(slashInteraction(t, userID, roles, command, opts...))
	bot.handleInteraction(context.Background(), handler)
	return handler
}

func TestNew_InvalidDatabaseType(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)
	cfg.DatabaseType = "mysql"
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid database type")
}

func TestInitDB_SeedsPermissions(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)

	cfg, err := bot.perms.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{testOwnerID}, cfg.Owners)
	assert.Equal(t, []string{testAdminRole}, cfg.RolesByLevel[permissions.Admin])
	assert.Equal(t, []string{testHelperRole}, cfg.RolesByLevel[permissions.Helper])
	assert.Equal(t, []string{testLineRole}, cfg.LineAccessRoles)

	settings := bot.Settings()
	assert.Equal(t, DefaultPrefix, settings.Prefix)
	assert.Equal(t, DefaultBotName, settings.BotName)
}

func TestInitDB_KeepsExistingPermissions(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)
	bot, _ := newTestBotWithConfig(t, cfg)

	ctx := context.Background()
	res, err := bot.perms.AddOwner(ctx, testAdminID)
	require.NoError(t, err)
	assert.Equal(t, permissions.Applied, res)

	// a second bot over the same database must not reseed
	cfg2 := newTestConfig(t)
	cfg2.Database = cfg.Database
	cfg2.Permissions.Owners = []string{"999"}
	bot2, _ := newTestBotWithConfig(t, cfg2)

	snapshot, err := bot2.perms.Snapshot(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{testOwnerID, testAdminID}, snapshot.Owners)
}

func TestUpdateSettings_AppliesAndPersists(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	ctx := context.Background()

	prefix := "?"
	s, err := bot.UpdateSettings(ctx, BotSettingsUpdate{Prefix: &prefix})
	require.NoError(t, err)
	assert.Equal(t, "?", s.Prefix)
	assert.Equal(t, "?", bot.Settings().Prefix)
	assert.Equal(t, "?", reloadedSettings(t, bot).Prefix)

	// the sqlite notifier queues a refresh
	select {
	case <-bot.triggerSettingsRefreshCh:
	default:
		t.Fatal("expected a settings refresh to be queued")
	}
}

func TestUpdateSettings_Invalid(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)

	prefix := "toolong"
	_, err := bot.UpdateSettings(context.Background(), BotSettingsUpdate{Prefix: &prefix})
	require.Error(t, err)
	assert.Equal(t, DefaultPrefix, bot.Settings().Prefix)
	assert.Equal(t, DefaultPrefix, reloadedSettings(t, bot).Prefix)
}

func TestWatchSettings_Refresh(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() {
		done <- bot.watchSettings(ctx)
	}()

	// change the row behind the bot's back, then ask for a refresh
	require.NoError(
		t,
		bot.db.Model(&BotSettings{}).Where("1 = 1").Update("bot_name", "Refreshed").Error,
	)
	bot.requestSettingsRefresh()

	require.Eventually(
		t, func() bool {
			return bot.Settings().BotName == "Refreshed"
		}, 5*time.Second, 20*time.Millisecond,
	)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watchSettings didn't return")
	}
}
