package crevion

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"

	"github.com/aslmdev/Crevion-Helper-Bot/permissions"
)

// Sources an InteractionLog can be recorded from.
const (
	interactionSourceSlash     = "slash"
	interactionSourceComponent = "component"
	interactionSourcePrefix    = "prefix"
)

// InteractionLog records a command invocation along with the permission
// decision made for it.
//
//nolint:lll // struct tags can't be split
type InteractionLog struct {
	ModelUintID
	Source        string            `json:"source" gorm:"type:string;not null"`
	InteractionID string            `json:"interaction_id" gorm:"index"`
	Type          string            `json:"type" gorm:"type:string"`
	UserID        string            `json:"user_id" gorm:"index;not null"`
	Username      string            `json:"username" gorm:"type:string"`
	GuildID       string            `json:"guild_id" gorm:"type:string"`
	ChannelID     string            `json:"channel_id" gorm:"type:string"`
	Command       string            `json:"command" gorm:"index"`
	Options       string            `json:"options" gorm:"type:string"`
	Allowed       bool              `json:"allowed"`
	UserLevel     permissions.Level `json:"user_level"`
	RequiredLevel permissions.Level `json:"required_level"`
	Error         string            `json:"error,omitempty" gorm:"type:string"`
	CreatedAt     int64             `gorm:"autoCreateTime:milli;index" json:"created_at,omitempty"`
}

func newInteractionLog(i *discordgo.InteractionCreate, u *discordgo.User) *InteractionLog {
	rec := &InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
	}
	if u != nil {
		rec.UserID = u.ID
		rec.Username = u.String()
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		rec.Source = interactionSourceSlash
		data := i.ApplicationCommandData()
		rec.Command = data.Name
		if len(data.Options) > 0 {
			if p, err := json.Marshal(data.Options); err == nil {
				rec.Options = string(p)
			}
		}
	case discordgo.InteractionMessageComponent:
		rec.Source = interactionSourceComponent
		rec.Command = i.MessageComponentData().CustomID
	}
	return rec
}

func newPrefixInteractionLog(m *discordgo.MessageCreate, name string, args []string) *InteractionLog {
	rec := &InteractionLog{
		Source:        interactionSourcePrefix,
		InteractionID: m.ID,
		Type:          "Message",
		GuildID:       m.GuildID,
		ChannelID:     m.ChannelID,
		Command:       name,
	}
	if m.Author != nil {
		rec.UserID = m.Author.ID
		rec.Username = m.Author.String()
	}
	if len(args) > 0 {
		if p, err := json.Marshal(args); err == nil {
			rec.Options = string(p)
		}
	}
	return rec
}

// setDecision copies the outcome of an authorization check.
func (l *InteractionLog) setDecision(d permissions.Decision) {
	l.Allowed = d.Allowed
	l.UserLevel = d.UserLevel
	l.RequiredLevel = d.Required
	if d.Err != nil {
		l.Error = d.Err.Error()
	}
}

// InteractionHandler responds to a single Discord interaction. Commands are
// written against it so they can be exercised without a gateway session.
type InteractionHandler interface {
	// Respond sends the initial response.
	Respond(ctx context.Context, r *discordgo.InteractionResponse) error

	// Edit modifies the initial (possibly deferred) response.
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Followup sends an additional message after the initial response.
	Followup(ctx context.Context, p *discordgo.WebhookParams) (*discordgo.Message, error)

	GetInteraction() *discordgo.InteractionCreate
	Logger() *slog.Logger
}

// GatewayHandler implements [InteractionHandler] for interactions received
// over the gateway websocket.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(w.interaction.Interaction, response)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	} else {
		w.logger.DebugContext(ctx, "responded to interaction")
	}
	return err
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	wh *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(w.interaction.Interaction, wh, opts...)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) Followup(
	ctx context.Context,
	p *discordgo.WebhookParams,
) (*discordgo.Message, error) {
	msg, err := w.session.FollowupMessageCreate(w.interaction.Interaction, true, p)
	if err != nil {
		w.logger.ErrorContext(ctx, "error sending followup", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}
