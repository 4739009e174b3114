package crevion

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// handleMessage handles a message posted in a guild channel. In order:
// the line trigger, prefix commands, the AI channel and auto-replies.
// Auto-line channels get the line image after whichever of those ran.
func (c *Crevion) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	logger := c.logger.With(
		slog.Group(
			"message",
			"id", m.ID,
			"channel_id", m.ChannelID,
			"guild_id", m.GuildID,
		),
		slog.Group("user", "id", m.Author.ID, "username", m.Author.Username),
	)
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rc := recover(); rc != nil {
			c.handleRecover(ctx, rc)
		}
	}()

	if isLineTrigger(m.Content) {
		c.handleLineTrigger(ctx, m)
		return
	}

	if m.GuildID != "" && c.isAutoLineChannel(ctx, m.ChannelID) {
		defer c.postAutoLine(ctx, m.ChannelID)
	}

	settings := c.Settings()
	if name, args, ok := parsePrefixCommand(settings.Prefix, m.Content); ok {
		if cmd, found := c.commands[name]; found && cmd.prefix {
			c.runPrefixCommand(ctx, m, cmd, args)
			return
		}
	}

	if settings.FeatureAIAssistant &&
		settings.AIChannelID != "" &&
		m.ChannelID == settings.AIChannelID {
		c.handleAIMessage(ctx, m)
		return
	}

	c.handleAutoReply(ctx, m)
}

// parsePrefixCommand splits "<prefix>name arg..." into a lowercased
// command name and its arguments.
func parsePrefixCommand(prefix, content string) (name string, args []string, ok bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(content[len(prefix):])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

func (c *Crevion) runPrefixCommand(
	ctx context.Context,
	m *discordgo.MessageCreate,
	cmd *botCommand,
	args []string,
) {
	req := newPrefixRequest(m, cmd, args)
	rec := newPrefixInteractionLog(m, cmd.Name, args)
	defer c.recordInteraction(ctx, rec)
	c.dispatch(ctx, cmd.descriptor(req.subcommand), cmd.feature, cmd.run, req, rec)
}
