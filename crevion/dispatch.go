package crevion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"

	"github.com/aslmdev/Crevion-Helper-Bot/permissions"
)

// handleInteraction authorizes and runs a slash command or message
// component. Nothing runs until the member's level has been checked
// against the command's required level.
func (c *Crevion) handleInteraction(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	u := getDiscordUser(i)
	if u == nil {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}
	logger = logger.With(slog.Group("user", "id", u.ID, "username", u.Username))
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rc := recover(); rc != nil {
			c.handleRecover(ctx, rc)
		}
	}()

	if u.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring")
		return
	}

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong},
		)
	case discordgo.InteractionApplicationCommand:
		rec := newInteractionLog(i, u)
		defer c.recordInteraction(ctx, rec)

		req := newSlashRequest(handler)
		cmd, ok := c.commands[req.name]
		if !ok {
			logger.WarnContext(ctx, "unknown command", "command", req.name)
			_ = req.respond(ctx, c, reply{embeds: []*discordgo.MessageEmbed{c.commandErrorEmbed()}, ephemeral: true})
			return
		}
		c.dispatch(ctx, cmd.descriptor(req.subcommand), cmd.feature, cmd.run, req, rec)
	case discordgo.InteractionMessageComponent:
		rec := newInteractionLog(i, u)
		defer c.recordInteraction(ctx, rec)

		req := newComponentRequest(handler)
		for _, route := range componentRoutes() {
			if strings.HasPrefix(req.customID, route.prefix) {
				req.name = route.Name
				c.dispatch(ctx, route.Command, "", route.run, req, rec)
				return
			}
		}
		logger.WarnContext(ctx, "unknown component", "custom_id", req.customID)
	default:
		logger.DebugContext(ctx, "unhandled interaction type")
	}
}

// dispatch checks the member against desc and runs fn if allowed. A
// denied request gets the access denied embed and fn is never called.
func (c *Crevion) dispatch(
	ctx context.Context,
	desc permissions.Command,
	feature string,
	fn commandFunc,
	req *commandRequest,
	rec *InteractionLog,
) {
	logger := loggerFrom(ctx, c.logger)

	decision := c.perms.Authorize(ctx, req.member, desc)
	req.decision = decision
	if rec != nil {
		rec.setDecision(decision)
	}

	if !decision.Allowed {
		logger.InfoContext(
			ctx, "permission denied",
			"command", desc.Name,
			"user_level", decision.UserLevel,
			"required", decision.Required,
		)
		if err := req.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.accessDeniedEmbed(decision.Required)},
				ephemeral: true,
			},
		); err != nil {
			logger.ErrorContext(ctx, "error sending access denied", tint.Err(err))
		}
		return
	}

	if feature != "" && !c.Settings().Feature(feature) {
		_ = req.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.featureDisabledEmbed(feature)},
				ephemeral: true,
			},
		)
		return
	}

	err := fn(c, ctx, req)
	if statErr := incrementStat(ctx, c.writeDB, columnSettingsTotalCommands); statErr != nil {
		logger.ErrorContext(ctx, "error incrementing command count", tint.Err(statErr))
	}
	if err == nil {
		logger.InfoContext(ctx, "command completed", "command", desc.Name, "subcommand", req.subcommand)
		return
	}

	logger.ErrorContext(ctx, "command failed", "command", desc.Name, tint.Err(err))
	if rec != nil {
		rec.Error = err.Error()
	}
	if statErr := incrementStat(ctx, c.writeDB, columnSettingsTotalErrors); statErr != nil {
		logger.ErrorContext(ctx, "error incrementing error count", tint.Err(statErr))
	}
	if sendErr := req.send(
		ctx, c, reply{
			embeds:    []*discordgo.MessageEmbed{c.commandErrorEmbed()},
			ephemeral: true,
		},
	); sendErr != nil {
		logger.ErrorContext(ctx, "error sending error response", tint.Err(sendErr))
	}
	c.reportError(ctx, desc.Name, req, err)
}

// reportError posts a failed command to the notification channel when
// error reporting is enabled.
func (c *Crevion) reportError(ctx context.Context, command string, req *commandRequest, err error) {
	settings := c.Settings()
	if !settings.FeatureErrorReporting || settings.NotificationChannelID == "" {
		return
	}
	var userID string
	if req.user != nil {
		userID = req.user.ID
	}
	embed := c.errorEmbed(
		"❌ Command error",
		fmt.Sprintf(
			"**Command:** `%s`\n**User:** <@%s>\n**Channel:** <#%s>\n```\n%s\n```",
			strings.TrimSpace(command+" "+req.subcommand),
			userID,
			req.channelID,
			ellipsis(err.Error(), 1000),
		),
	)
	if _, sendErr := c.discord.session.ChannelMessageSendComplex(
		settings.NotificationChannelID,
		&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}},
	); sendErr != nil {
		loggerFrom(ctx, c.logger).ErrorContext(ctx, "error reporting command error", tint.Err(sendErr))
	}
}

// recordInteraction writes rec in the background, if command logging is
// enabled.
func (c *Crevion) recordInteraction(ctx context.Context, rec *InteractionLog) {
	if rec == nil || !c.Settings().FeatureCommandLogging || c.writeDB == nil {
		return
	}
	c.runtimeWG.Add(1)
	go func() {
		defer c.runtimeWG.Done()
		if _, err := c.writeDB.Create(context.WithoutCancel(ctx), rec); err != nil {
			loggerFrom(ctx, c.logger).ErrorContext(ctx, "error logging interaction", tint.Err(err))
		}
	}()
}
