package crevion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const autoLineCacheKey = "autoline:"

// AutoLineChannel is a channel where every message is followed by the
// line image.
type AutoLineChannel struct {
	ModelUintID
	ChannelID    string `json:"channel_id" gorm:"uniqueIndex;not null"`
	GuildID      string `json:"guild_id" gorm:"index"`
	AddedBy      string `json:"added_by"`
	MessageCount int64  `json:"message_count" gorm:"not null;default:0"`
	CreatedAt    int64  `json:"created_at" gorm:"autoCreateTime:milli"`
}

func (AutoLineChannel) TableName() string {
	return "auto_line_channels"
}

// isAutoLineChannel reports whether auto-line is enabled for channelID.
// Lookups are cached, since this runs for every message.
func (c *Crevion) isAutoLineChannel(ctx context.Context, channelID string) bool {
	key := autoLineCacheKey + channelID
	if v, ok := c.lookups.Get(key); ok {
		return v.(bool)
	}
	var count int64
	err := c.db.WithContext(ctx).Model(&AutoLineChannel{}).
		Where("channel_id = ?", channelID).
		Count(&count).Error
	if err != nil {
		loggerFrom(ctx, c.logger).ErrorContext(ctx, "error checking auto-line channel", tint.Err(err))
		return false
	}
	enabled := count > 0
	c.lookups.SetDefault(key, enabled)
	return enabled
}

// postAutoLine sends the line image after a message in an auto-line
// channel. Failures are logged and otherwise ignored.
func (c *Crevion) postAutoLine(ctx context.Context, channelID string) {
	logger := loggerFrom(ctx, c.logger)
	lineURL := c.Settings().LineURL
	if lineURL == "" {
		return
	}
	data, err := c.line.Fetch(ctx, lineURL, c.config.Line.AutoFetchTimeout)
	if err != nil {
		logger.WarnContext(ctx, "auto-line fetch failed", tint.Err(err))
		return
	}
	if _, err = c.discord.session.ChannelMessageSendComplex(
		channelID,
		&discordgo.MessageSend{Files: []*discordgo.File{lineFile(data)}},
	); err != nil {
		return
	}
	if _, err = c.writeDB.UpdatesWhere(
		ctx,
		&AutoLineChannel{},
		map[string]any{"message_count": gorm.Expr("message_count + ?", 1)},
		"channel_id = ?",
		channelID,
	); err != nil {
		logger.ErrorContext(ctx, "error incrementing auto-line count", tint.Err(err))
	}
}

func (c *Crevion) commandAutoLine(ctx context.Context, r *commandRequest) error {
	channelID := r.idOption("channel")
	if channelID == "" {
		channelID = r.channelID
	}

	switch r.subcommand {
	case "add":
		ch := AutoLineChannel{ChannelID: channelID, GuildID: r.guildID}
		if r.user != nil {
			ch.AddedBy = r.user.ID
		}
		var created int64
		err := c.writeDB.Transaction(
			ctx, func(tx *gorm.DB) error {
				rv := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ch)
				created = rv.RowsAffected
				return rv.Error
			},
		)
		if err != nil {
			return err
		}
		c.lookups.Delete(autoLineCacheKey + channelID)
		if created == 0 {
			return r.respond(
				ctx, c, reply{
					embeds: []*discordgo.MessageEmbed{
						c.warningEmbed("⚠️ Already enabled", fmt.Sprintf("Auto-line is already enabled in <#%s>", channelID)),
					},
					ephemeral: true,
				},
			)
		}
		return r.respond(
			ctx, c, reply{
				embeds: []*discordgo.MessageEmbed{
					c.successEmbed(
						"✅ Auto-line enabled",
						fmt.Sprintf("The line image will be posted after every message in <#%s>", channelID),
					),
				},
				ephemeral: true,
			},
		)
	case "remove":
		deleted, err := c.writeDB.Delete(ctx, &AutoLineChannel{}, "channel_id = ?", channelID)
		if err != nil {
			return err
		}
		c.lookups.Delete(autoLineCacheKey + channelID)
		if deleted == 0 {
			return r.respond(
				ctx, c, reply{
					embeds: []*discordgo.MessageEmbed{
						c.warningEmbed("⚠️ Not enabled", fmt.Sprintf("Auto-line isn't enabled in <#%s>", channelID)),
					},
					ephemeral: true,
				},
			)
		}
		return r.respond(
			ctx, c, reply{
				embeds: []*discordgo.MessageEmbed{
					c.successEmbed("✅ Auto-line disabled", fmt.Sprintf("Auto-line disabled in <#%s>", channelID)),
				},
				ephemeral: true,
			},
		)
	case "list":
		var channels []AutoLineChannel
		q := c.db.WithContext(ctx).Order("created_at")
		if r.guildID != "" {
			q = q.Where("guild_id = ?", r.guildID)
		}
		if err := q.Find(&channels).Error; err != nil {
			return err
		}
		if len(channels) == 0 {
			return r.respond(
				ctx, c, reply{
					embeds:    []*discordgo.MessageEmbed{c.warningEmbed("📏 Auto-line", "No auto-line channels.")},
					ephemeral: true,
				},
			)
		}
		var sb strings.Builder
		for _, ch := range channels {
			_, _ = fmt.Fprintf(&sb, "• <#%s> (%d messages)\n", ch.ChannelID, ch.MessageCount)
		}
		return r.respond(
			ctx, c, reply{
				embeds: []*discordgo.MessageEmbed{
					c.embed(
						fmt.Sprintf("📏 Auto-line channels (%d)", len(channels)),
						sb.String(),
						c.Settings().EmbedColor,
					),
				},
				ephemeral: true,
			},
		)
	default:
		return errors.New("unknown autoline subcommand: " + r.subcommand)
	}
}
