package crevion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
)

func (c *Crevion) commandConfig(ctx context.Context, r *commandRequest) error {
	switch r.subcommand {
	case "view":
		return c.configView(ctx, r)
	case "set-prefix":
		prefix := strings.TrimSpace(r.stringOption("prefix"))
		return c.configUpdate(
			ctx, r, BotSettingsUpdate{Prefix: &prefix},
			fmt.Sprintf("Prefix set to `%s`", prefix),
		)
	case "set-status":
		status := r.stringOption("status")
		activity := r.stringOption("activity")
		return c.configUpdate(
			ctx, r, BotSettingsUpdate{Status: &status, ActivityText: &activity},
			fmt.Sprintf("Status set to `%s`", status),
		)
	case "set-channel":
		kind := r.stringOption("kind")
		channelID := r.idOption("channel")
		u := BotSettingsUpdate{}
		switch kind {
		case channelKindAI:
			u.AIChannelID = &channelID
		case channelKindChallenge:
			u.ChallengeChannelID = &channelID
		case channelKindShowcase:
			u.ShowcaseChannelID = &channelID
		case channelKindNotification:
			u.NotificationChannelID = &channelID
		default:
			return fmt.Errorf("unknown channel kind %q", kind)
		}
		return c.configUpdate(ctx, r, u, fmt.Sprintf("%s channel set to <#%s>", kind, channelID))
	case "feature":
		name := r.stringOption("name")
		enabled, _ := r.boolOption("enabled")
		u := BotSettingsUpdate{}
		switch name {
		case featureAIAssistant:
			u.FeatureAIAssistant = &enabled
		case featureProblemSolving:
			u.FeatureProblemSolving = &enabled
		case featureBackgroundRemover:
			u.FeatureBackgroundRemover = &enabled
		case featureCommandLogging:
			u.FeatureCommandLogging = &enabled
		case featureErrorReporting:
			u.FeatureErrorReporting = &enabled
		default:
			return fmt.Errorf("unknown feature %q", name)
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		return c.configUpdate(ctx, r, u, fmt.Sprintf("`%s` %s", name, state))
	case "set-line":
		return c.lineSet(ctx, r)
	case "reload":
		if err := c.refreshSettings(ctx); err != nil {
			return err
		}
		if c.notifier != nil {
			c.notifier.ReloadSettings(ctx)
		}
		return r.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.successEmbed("✅ Settings reloaded", "")},
				ephemeral: true,
			},
		)
	default:
		return errors.New("unknown config subcommand: " + r.subcommand)
	}
}

// configUpdate applies u and reports the result. Validation failures are
// shown to the caller instead of being treated as command errors.
func (c *Crevion) configUpdate(
	ctx context.Context,
	r *commandRequest,
	u BotSettingsUpdate,
	success string,
) error {
	_, err := c.UpdateSettings(ctx, u)
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return r.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.errorEmbed("❌ Invalid setting", validationErrs.Error())},
				ephemeral: true,
			},
		)
	}
	if err != nil {
		return err
	}
	return r.respond(
		ctx, c, reply{
			embeds:    []*discordgo.MessageEmbed{c.successEmbed("✅ Settings updated", success)},
			ephemeral: true,
		},
	)
}

func channelMention(id string) string {
	if id == "" {
		return "Not set"
	}
	return "<#" + id + ">"
}

func enabledMark(b bool) string {
	if b {
		return "✅"
	}
	return "❌"
}

func (c *Crevion) configView(ctx context.Context, r *commandRequest) error {
	s := c.Settings()
	lineURL := s.LineURL
	if lineURL == "" {
		lineURL = "Not set"
	}
	activity := s.ActivityText
	if activity == "" {
		activity = "None"
	}

	var features strings.Builder
	for _, name := range []string{
		featureAIAssistant,
		featureProblemSolving,
		featureBackgroundRemover,
		featureCommandLogging,
		featureErrorReporting,
	} {
		_, _ = fmt.Fprintf(&features, "%s `%s`\n", enabledMark(s.Feature(name)), name)
	}

	embed := c.embed("⚙️ Settings", "", s.EmbedColor)
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Name", Value: s.BotName, Inline: true},
		{Name: "Prefix", Value: "`" + s.Prefix + "`", Inline: true},
		{Name: "Status", Value: s.Status, Inline: true},
		{Name: "Activity", Value: activity, Inline: true},
		{Name: "AI channel", Value: channelMention(s.AIChannelID), Inline: true},
		{Name: "Challenge forum", Value: channelMention(s.ChallengeChannelID), Inline: true},
		{Name: "Showcase", Value: channelMention(s.ShowcaseChannelID), Inline: true},
		{Name: "Notifications", Value: channelMention(s.NotificationChannelID), Inline: true},
		{Name: "Line", Value: ellipsis(lineURL, 1024)},
		{Name: "Features", Value: features.String()},
	}
	if next := c.challenges.NextRun(); !next.IsZero() {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:  "Next challenge",
				Value: fmt.Sprintf("<t:%d:R>", next.Unix()),
			},
		)
	}
	return r.respond(ctx, c, reply{embeds: []*discordgo.MessageEmbed{embed}, ephemeral: true})
}
