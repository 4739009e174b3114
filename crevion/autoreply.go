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

const autoReplyCacheKey = "autoreplies"

// AutoReply is a canned response sent when a message matches Trigger.
//
//nolint:lll // struct tags can't be split
type AutoReply struct {
	ModelUintID
	// Key is the lowercased trigger, used for matching and uniqueness
	Key      string `json:"key" gorm:"column:trigger_key;uniqueIndex;not null"`
	Trigger  string `json:"trigger" gorm:"column:trigger_text;not null" binding:"required,max=200"`
	Response string `json:"response" gorm:"not null" binding:"required,max=2000"`
	Mention  bool   `json:"mention"`
	Reply    bool   `json:"reply"`
	Exact    bool   `json:"exact"`
	Uses     int64  `json:"uses" gorm:"not null;default:0"`

	CreatedBy string `json:"created_by"`
	CreatedAt int64  `json:"created_at" gorm:"autoCreateTime:milli"`
}

func (AutoReply) TableName() string {
	return "auto_replies"
}

// Matches reports whether content (already lowercased) triggers the reply.
func (a AutoReply) Matches(content string) bool {
	if a.Exact {
		return content == a.Key
	}
	return strings.Contains(content, a.Key)
}

// autoReplies returns every auto-reply in creation order.
func (c *Crevion) autoReplies(ctx context.Context) ([]AutoReply, error) {
	if v, ok := c.lookups.Get(autoReplyCacheKey); ok {
		return v.([]AutoReply), nil
	}
	var replies []AutoReply
	if err := c.db.WithContext(ctx).Order("id").Find(&replies).Error; err != nil {
		return nil, err
	}
	c.lookups.SetDefault(autoReplyCacheKey, replies)
	return replies, nil
}

// matchAutoReply returns the first auto-reply matching content.
func matchAutoReply(replies []AutoReply, content string) (AutoReply, bool) {
	content = strings.ToLower(content)
	for _, a := range replies {
		if a.Matches(content) {
			return a, true
		}
	}
	return AutoReply{}, false
}

// handleAutoReply responds to m with the first matching auto-reply. It
// reports whether one matched.
func (c *Crevion) handleAutoReply(ctx context.Context, m *discordgo.MessageCreate) bool {
	logger := loggerFrom(ctx, c.logger)
	replies, err := c.autoReplies(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "error loading auto-replies", tint.Err(err))
		return false
	}
	a, ok := matchAutoReply(replies, m.Content)
	if !ok {
		return false
	}

	content := a.Response
	if a.Mention {
		content = m.Author.Mention() + " " + content
	}
	msg := &discordgo.MessageSend{Content: content}
	if a.Reply {
		msg.Reference = m.Reference()
		msg.AllowedMentions = &discordgo.MessageAllowedMentions{
			Parse:       []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
			RepliedUser: false,
		}
	}
	if _, err = c.discord.session.ChannelMessageSendComplex(m.ChannelID, msg); err != nil {
		return true
	}

	if _, err = c.writeDB.UpdatesWhere(
		ctx,
		&AutoReply{},
		map[string]any{"uses": gorm.Expr("uses + ?", 1)},
		"id = ?",
		a.ID,
	); err != nil {
		logger.ErrorContext(ctx, "error incrementing auto-reply uses", tint.Err(err))
	}
	logger.InfoContext(ctx, "auto-reply sent", "trigger", a.Trigger)
	return true
}

func (c *Crevion) commandAutoReply(ctx context.Context, r *commandRequest) error {
	defer c.lookups.Delete(autoReplyCacheKey)

	switch r.subcommand {
	case "add":
		return c.autoReplyAdd(ctx, r)
	case "remove":
		trigger := strings.TrimSpace(r.stringOption("trigger"))
		deleted, err := c.writeDB.Delete(ctx, &AutoReply{}, "trigger_key = ?", strings.ToLower(trigger))
		if err != nil {
			return err
		}
		if deleted == 0 {
			return r.respond(
				ctx, c, reply{
					embeds: []*discordgo.MessageEmbed{
						c.warningEmbed("⚠️ Not found", fmt.Sprintf("No auto-reply for `%s`", trigger)),
					},
					ephemeral: true,
				},
			)
		}
		return r.respond(
			ctx, c, reply{
				embeds: []*discordgo.MessageEmbed{
					c.successEmbed("✅ Auto-reply removed", fmt.Sprintf("Removed the auto-reply for `%s`", trigger)),
				},
				ephemeral: true,
			},
		)
	case "list":
		return c.autoReplyList(ctx, r)
	case "clear":
		deleted, err := c.writeDB.Delete(ctx, &AutoReply{}, "1 = 1")
		if err != nil {
			return err
		}
		return r.respond(
			ctx, c, reply{
				embeds: []*discordgo.MessageEmbed{
					c.successEmbed("✅ Auto-replies cleared", fmt.Sprintf("Removed %d auto-replies", deleted)),
				},
				ephemeral: true,
			},
		)
	default:
		return errors.New("unknown autoreply subcommand: " + r.subcommand)
	}
}

func (c *Crevion) autoReplyAdd(ctx context.Context, r *commandRequest) error {
	a := AutoReply{
		Trigger:  strings.TrimSpace(r.stringOption("trigger")),
		Response: r.stringOption("response"),
		Reply:    true,
	}
	a.Key = strings.ToLower(a.Trigger)
	if v, ok := r.boolOption("mention"); ok {
		a.Mention = v
	}
	if v, ok := r.boolOption("reply"); ok {
		a.Reply = v
	}
	if v, ok := r.boolOption("exact"); ok {
		a.Exact = v
	}
	if r.user != nil {
		a.CreatedBy = r.user.ID
	}
	if err := structValidator.Struct(a); err != nil {
		return r.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.errorEmbed("❌ Invalid auto-reply", err.Error())},
				ephemeral: true,
			},
		)
	}

	err := c.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(
				clause.OnConflict{
					Columns:   []clause.Column{{Name: "trigger_key"}},
					DoUpdates: clause.AssignmentColumns([]string{"trigger_text", "response", "mention", "reply", "exact"}),
				},
			).Create(&a).Error
		},
	)
	if err != nil {
		return err
	}

	return r.respond(
		ctx, c, reply{
			embeds: []*discordgo.MessageEmbed{
				c.successEmbed(
					"✅ Auto-reply saved",
					fmt.Sprintf(
						"**Trigger:** `%s`\n**Response:** %s\n**Mention:** %t · **Reply:** %t · **Exact:** %t",
						a.Trigger, ellipsis(a.Response, 500), a.Mention, a.Reply, a.Exact,
					),
				),
			},
			ephemeral: true,
		},
	)
}

func (c *Crevion) autoReplyList(ctx context.Context, r *commandRequest) error {
	var replies []AutoReply
	if err := c.db.WithContext(ctx).Order("id").Find(&replies).Error; err != nil {
		return err
	}
	if len(replies) == 0 {
		return r.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.warningEmbed("🤖 Auto-replies", "No auto-replies configured.")},
				ephemeral: true,
			},
		)
	}
	var sb strings.Builder
	for _, a := range replies {
		mode := "contains"
		if a.Exact {
			mode = "exact"
		}
		_, _ = fmt.Fprintf(
			&sb, "• `%s` (%s, %d uses) → %s\n",
			a.Trigger, mode, a.Uses, ellipsis(a.Response, 60),
		)
	}
	return r.respond(
		ctx, c, reply{
			embeds: []*discordgo.MessageEmbed{
				c.embed(
					fmt.Sprintf("🤖 Auto-replies (%d)", len(replies)),
					ellipsis(sb.String(), 4000),
					c.Settings().EmbedColor,
				),
			},
			ephemeral: true,
		},
	)
}
