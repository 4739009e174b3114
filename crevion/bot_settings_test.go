package crevion

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func TestBotSettingsUpdate_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		u       BotSettingsUpdate
		wantErr bool
	}{
		{name: "empty", u: BotSettingsUpdate{}},
		{name: "prefix", u: BotSettingsUpdate{Prefix: ptr("!")}},
		{name: "empty prefix", u: BotSettingsUpdate{Prefix: ptr("")}, wantErr: true},
		{name: "long prefix", u: BotSettingsUpdate{Prefix: ptr("123456")}, wantErr: true},
		{name: "status", u: BotSettingsUpdate{Status: ptr("dnd")}},
		{name: "bad status", u: BotSettingsUpdate{Status: ptr("away")}, wantErr: true},
		{name: "channel", u: BotSettingsUpdate{AIChannelID: ptr("400000000000000001")}},
		{name: "clear channel", u: BotSettingsUpdate{AIChannelID: ptr("")}},
		{name: "bad channel", u: BotSettingsUpdate{AIChannelID: ptr("general")}, wantErr: true},
		{name: "line url", u: BotSettingsUpdate{LineURL: ptr("https://cdn.example.com/line.png")}},
		{name: "bad line url", u: BotSettingsUpdate{LineURL: ptr("line.png")}, wantErr: true},
		{name: "clear line url", u: BotSettingsUpdate{LineURL: ptr("")}},
		{name: "color", u: BotSettingsUpdate{EmbedColor: ptr(0xFFFFFF)}},
		{name: "bad color", u: BotSettingsUpdate{EmbedColor: ptr(0x1000000)}, wantErr: true},
		{name: "log level", u: BotSettingsUpdate{LogLevel: ptr(DBLogLevel("DEBUG"))}},
		{name: "bad log level", u: BotSettingsUpdate{LogLevel: ptr(DBLogLevel("TRACE"))}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				err := tc.u.validate()
				if tc.wantErr {
					var validationErrs validator.ValidationErrors
					assert.ErrorAs(t, err, &validationErrs)
					return
				}
				assert.NoError(t, err)
			},
		)
	}
}

func TestBotSettingsUpdate_Columns(t *testing.T) {
	t.Parallel()
	cols, err := BotSettingsUpdate{
		Prefix:             ptr("!"),
		LineURL:            ptr(""),
		FeatureAIAssistant: ptr(false),
	}.columns()
	require.NoError(t, err)
	assert.Equal(
		t,
		map[string]any{"prefix": "!", "line_url": "", "feature_ai_assistant": false},
		cols,
	)
}

func TestBotSettings_Feature(t *testing.T) {
	t.Parallel()
	s := DefaultBotSettings()
	s.FeatureBackgroundRemover = false

	assert.True(t, s.Feature(featureAIAssistant))
	assert.False(t, s.Feature(featureBackgroundRemover))
	assert.False(t, s.Feature("nope"))
}

func TestBotSettings_Presence(t *testing.T) {
	t.Parallel()
	s := DefaultBotSettings()
	p := s.presence()
	assert.Equal(t, DefaultStatus, p.Status)
	assert.Empty(t, p.Activities)

	s.ActivityText = "Helping devs"
	p = s.presence()
	require.Len(t, p.Activities, 1)
	assert.Equal(t, discordgo.ActivityTypeCustom, p.Activities[0].Type)
	assert.Equal(t, "Helping devs", p.Activities[0].State)
}

func TestIncrementStat(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	ctx := context.Background()

	for range 3 {
		require.NoError(t, incrementStat(ctx, bot.writeDB, columnSettingsTotalCommands))
	}
	require.NoError(t, incrementStat(ctx, bot.writeDB, columnSettingsTotalErrors))

	s := reloadedSettings(t, bot)
	assert.Equal(t, int64(3), s.TotalCommands)
	assert.Equal(t, int64(1), s.TotalErrors)
}

func TestSetAdminCredentials(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	ctx := context.Background()

	_, err := SetAdminCredentials(ctx, bot.writeDB, "", "password")
	require.Error(t, err)

	s, err := SetAdminCredentials(ctx, bot.writeDB, "admin", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "admin", s.AdminUsername)
	assert.NotEqual(t, "correct horse", s.AdminPassword)

	stored := reloadedSettings(t, bot)
	assert.Equal(t, "admin", stored.AdminUsername)

	ok, err := verifyPassword(stored.AdminPassword, "correct horse")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword(stored.AdminPassword, "wrong horse")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = verifyPassword("not-a-hash", "x")
	assert.Error(t, err)
}

func TestCommandConfig(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)

	run := func(opt ...string) *stubInteractionHandler {
		t.Helper()
		var opts []*discordgo.ApplicationCommandInteractionDataOption
		for i := 1; i+1 < len(opt); i += 2 {
			opts = append(opts, stringOpt(opt[i], opt[i+1]))
		}
		return runSlash(t, bot, testOwnerID, nil, commandConfig, subcommandOpt(opt[0], opts...))
	}

	handler := run("set-prefix", "prefix", "!")
	assert.Equal(t, "✅ Settings updated", handler.lastEmbed(t).Title)
	assert.Equal(t, "!", bot.Settings().Prefix)

	handler = run("set-prefix", "prefix", "toolong")
	assert.Equal(t, "❌ Invalid setting", handler.lastEmbed(t).Title)
	assert.Equal(t, "!", bot.Settings().Prefix)
	// rejected settings aren't command errors
	assert.Equal(t, int64(0), reloadedSettings(t, bot).TotalErrors)

	handler = run("set-status", "status", "dnd", "activity", "Building")
	assert.Equal(t, "✅ Settings updated", handler.lastEmbed(t).Title)
	assert.Equal(t, "dnd", bot.Settings().Status)
	assert.Equal(t, "Building", bot.Settings().ActivityText)

	handler = run("set-channel", "kind", channelKindNotification, "channel", "400000000000000005")
	assert.Equal(t, "✅ Settings updated", handler.lastEmbed(t).Title)
	assert.Equal(t, "400000000000000005", bot.Settings().NotificationChannelID)

	handler = runSlash(
		t, bot, testOwnerID, nil, commandConfig,
		subcommandOpt("feature", stringOpt("name", featureAIAssistant), boolOpt("enabled", false)),
	)
	assert.Equal(t, "✅ Settings updated", handler.lastEmbed(t).Title)
	assert.False(t, reloadedSettings(t, bot).FeatureAIAssistant)

	// the AI command is now disabled
	handler = runSlash(t, bot, testMemberID, nil, commandAI, subcommandOpt("ask", stringOpt("question", "hi")))
	assert.Equal(t, "⚠️ Feature disabled", handler.lastEmbed(t).Title)

	handler = run("view")
	fields := map[string]string{}
	for _, f := range handler.lastEmbed(t).Fields {
		fields[f.Name] = f.Value
	}
	assert.NotEmpty(t, fields)

	handler = run("reload")
	assert.Equal(t, "✅ Settings reloaded", handler.lastEmbed(t).Title)

	handler = runSlash(t, bot, testAdminID, []string{testAdminRole}, commandConfig, subcommandOpt("view"))
	assert.Equal(t, "🔒 Access Denied", handler.lastEmbed(t).Title)
}
