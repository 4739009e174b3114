package crevion

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"

	"github.com/aslmdev/Crevion-Helper-Bot/permissions"
)

// formatUptime renders d as "2d 3h 4m", dropping leading zero units.
func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	seconds := int(d / time.Second)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// parseHexColor parses "#370080", "370080" or "0x370080".
func parseHexColor(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "#")
	s = strings.TrimPrefix(s, "0x")
	v, err := strconv.ParseInt(s, 16, 32)
	if err != nil || v < 0 || v > 0xFFFFFF {
		return 0, fmt.Errorf("invalid color %q", s)
	}
	return int(v), nil
}

// visibleCommands returns the names of the commands m may run under cfg,
// sorted.
func (c *Crevion) visibleCommands(m permissions.Member, cfg permissions.Config) []string {
	var names []string
	for name, cmd := range c.commands {
		if permissions.IsAuthorized(m, cmd.Command, cfg) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (c *Crevion) commandHelp(ctx context.Context, r *commandRequest) error {
	cfg, err := c.perms.Snapshot(ctx)
	if err != nil {
		// an empty config resolves everyone to Everyone
		loggerFrom(ctx, c.logger).WarnContext(ctx, "help using empty permission config", tint.Err(err))
		cfg = permissions.Config{}
	}
	settings := c.Settings()

	if name := strings.ToLower(strings.TrimSpace(r.stringOption("command"))); name != "" {
		cmd, ok := c.commands[strings.TrimPrefix(name, settings.Prefix)]
		if !ok || !permissions.IsAuthorized(r.member, cmd.Command, cfg) {
			return r.respond(
				ctx, c, reply{
					embeds: []*discordgo.MessageEmbed{
						c.warningEmbed("⚠️ Unknown command", fmt.Sprintf("No command named `%s`", name)),
					},
					ephemeral: true,
				},
			)
		}
		return r.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.commandDetailEmbed(cmd, cfg, settings.Prefix)},
				ephemeral: true,
			},
		)
	}

	level := permissions.ResolveUserLevel(r.member, cfg)
	var sb strings.Builder
	for _, name := range c.visibleCommands(r.member, cfg) {
		cmd := c.commands[name]
		_, _ = fmt.Fprintf(&sb, "`/%s`", name)
		if cmd.prefix {
			_, _ = fmt.Fprintf(&sb, " · `%s%s`", settings.Prefix, name)
		}
		_, _ = fmt.Fprintf(&sb, " - %s\n", cmd.description)
	}
	if sb.Len() == 0 {
		sb.WriteString("No commands available.")
	}

	embed := c.embed("📚 Commands", sb.String(), settings.EmbedColor)
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Your level", Value: level.String(), Inline: true},
		{Name: "Prefix", Value: "`" + settings.Prefix + "`", Inline: true},
	}
	return r.respond(ctx, c, reply{embeds: []*discordgo.MessageEmbed{embed}, ephemeral: true})
}

func (c *Crevion) commandDetailEmbed(
	cmd *botCommand,
	cfg permissions.Config,
	prefix string,
) *discordgo.MessageEmbed {
	embed := c.embed("📖 /"+cmd.Name, cmd.description, c.Settings().EmbedColor)
	embed.Fields = append(
		embed.Fields,
		&discordgo.MessageEmbedField{
			Name:   "Required level",
			Value:  permissions.RequiredLevel(cmd.Command, cfg).String(),
			Inline: true,
		},
	)
	if cmd.prefix {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: "Prefix", Value: "`" + prefix + cmd.Name + "`", Inline: true},
		)
	}
	if cmd.feature != "" {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: "Feature", Value: "`" + cmd.feature + "`", Inline: true},
		)
	}
	if cmd.hasSubcommands() {
		var sb strings.Builder
		for _, sub := range cmd.options {
			required := permissions.RequiredLevel(cmd.descriptor(sub.Name), cfg)
			_, _ = fmt.Fprintf(&sb, "`%s` - %s (%s)\n", sub.Name, sub.Description, required)
		}
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: "Subcommands", Value: ellipsis(sb.String(), 1024)},
		)
	}
	return embed
}

func (c *Crevion) commandPing(ctx context.Context, r *commandRequest) error {
	latency := c.discord.session.HeartbeatLatency()
	return r.respond(
		ctx, c, reply{
			embeds: []*discordgo.MessageEmbed{
				c.successEmbed("🏓 Pong!", fmt.Sprintf("**Latency:** %dms", latency.Milliseconds())),
			},
		},
	)
}

func (c *Crevion) commandInfo(ctx context.Context, r *commandRequest) error {
	settings := c.Settings()
	embed := c.embed(
		"ℹ️ "+settings.BotName,
		"Helper bot for the Crévion developer and designer community.",
		settings.EmbedColor,
	)
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Version", Value: Version, Inline: true},
		{Name: "Commit", Value: CommitSHA, Inline: true},
		{Name: "Uptime", Value: formatUptime(time.Since(c.startedAt)), Inline: true},
		{Name: "Prefix", Value: "`" + settings.Prefix + "`", Inline: true},
		{Name: "Commands", Value: strconv.Itoa(len(c.commands)), Inline: true},
	}
	return r.respond(ctx, c, reply{embeds: []*discordgo.MessageEmbed{embed}})
}

// botStats are the counters shown by `/stats`.
type botStats struct {
	TotalCommands    int64 `json:"total_commands"`
	TotalErrors      int64 `json:"total_errors"`
	AutoReplies      int64 `json:"auto_replies"`
	AutoLineChannels int64 `json:"auto_line_channels"`
	Challenges       int64 `json:"challenges"`
	Interactions     int64 `json:"interactions"`
	Connects         int64 `json:"connects"`
	Disconnects      int64 `json:"disconnects"`
}

func (c *Crevion) stats(ctx context.Context) (botStats, error) {
	settings, err := LoadBotSettings(ctx, c.db)
	if err != nil {
		return botStats{}, err
	}
	s := botStats{
		TotalCommands: settings.TotalCommands,
		TotalErrors:   settings.TotalErrors,
		Connects:      c.discord.metricConnects.Load(),
		Disconnects:   c.discord.metricDisconnects.Load(),
	}
	db := c.db.WithContext(ctx)
	err = errors.Join(
		db.Model(&AutoReply{}).Count(&s.AutoReplies).Error,
		db.Model(&AutoLineChannel{}).Count(&s.AutoLineChannels).Error,
		db.Model(&Challenge{}).Count(&s.Challenges).Error,
		db.Model(&InteractionLog{}).Count(&s.Interactions).Error,
	)
	return s, err
}

func (c *Crevion) commandStats(ctx context.Context, r *commandRequest) error {
	s, err := c.stats(ctx)
	if err != nil {
		return err
	}
	successRate := 100.0
	if s.TotalCommands > 0 {
		successRate = float64(s.TotalCommands-s.TotalErrors) / float64(s.TotalCommands) * 100
	}
	embed := c.embed("📊 Bot statistics", "", c.Settings().EmbedColor)
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Commands", Value: strconv.FormatInt(s.TotalCommands, 10), Inline: true},
		{Name: "Errors", Value: strconv.FormatInt(s.TotalErrors, 10), Inline: true},
		{Name: "Success rate", Value: fmt.Sprintf("%.1f%%", successRate), Inline: true},
		{Name: "Auto-replies", Value: strconv.FormatInt(s.AutoReplies, 10), Inline: true},
		{Name: "Auto-line channels", Value: strconv.FormatInt(s.AutoLineChannels, 10), Inline: true},
		{Name: "Challenges posted", Value: strconv.FormatInt(s.Challenges, 10), Inline: true},
		{Name: "Uptime", Value: formatUptime(time.Since(c.startedAt)), Inline: true},
		{
			Name:   "Gateway",
			Value:  fmt.Sprintf("%d connects · %d disconnects", s.Connects, s.Disconnects),
			Inline: true,
		},
	}
	return r.respond(ctx, c, reply{embeds: []*discordgo.MessageEmbed{embed}})
}

func (c *Crevion) commandSay(ctx context.Context, r *commandRequest) error {
	channelID := r.idOption("channel")
	if channelID == "" {
		channelID = r.channelID
	}
	msg := &discordgo.MessageSend{
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{
				discordgo.AllowedMentionTypeUsers,
				discordgo.AllowedMentionTypeRoles,
			},
		},
	}

	switch r.subcommand {
	case "text":
		msg.Content = ellipsis(r.stringOption("message"), discordMaxMessageLength)
	case "embed":
		color := c.Settings().EmbedColor
		if s := r.stringOption("color"); s != "" {
			v, err := parseHexColor(s)
			if err != nil {
				return r.respond(
					ctx, c, reply{
						embeds: []*discordgo.MessageEmbed{
							c.errorEmbed("❌ Invalid color", "Use a hex color such as `#370080`."),
						},
						ephemeral: true,
					},
				)
			}
			color = v
		}
		msg.Embeds = []*discordgo.MessageEmbed{
			c.embed(r.stringOption("title"), r.stringOption("description"), color),
		}
	default:
		return errors.New("unknown say subcommand: " + r.subcommand)
	}

	if _, err := c.discord.session.ChannelMessageSendComplex(channelID, msg); err != nil {
		return fmt.Errorf("error sending message to %s: %w", channelID, err)
	}
	return r.respond(
		ctx, c, reply{
			embeds:    []*discordgo.MessageEmbed{c.successEmbed("✅ Sent", fmt.Sprintf("Message sent to <#%s>", channelID))},
			ephemeral: true,
		},
	)
}
