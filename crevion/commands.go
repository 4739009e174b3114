package crevion

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/aslmdev/Crevion-Helper-Bot/permissions"
)

const (
	commandHelp        = "help"
	commandPing        = "ping"
	commandInfo        = "info"
	commandAI          = "ai"
	commandStats       = "stats"
	commandSay         = "say"
	commandAutoReply   = "autoreply"
	commandAutoLine    = "autoline"
	commandPermissions = "permissions"
	commandLine        = "line"
	commandConfig      = "config"
	commandChallenge   = "challenge"
	commandRemoveBG    = "removebg"

	// descriptor names that aren't top-level slash commands
	commandPermissionsOwner = "permissions owner"
	commandChallengeHint    = "challenge hint"
)

const (
	customIDAIClearContext = "ai_clear_context"
	customIDChallengeHint  = "challenge_hint:"
)

// commandFunc runs a command after it has been authorized.
type commandFunc func(c *Crevion, ctx context.Context, r *commandRequest) error

// botCommand is a registered command: its permission descriptor, its
// slash command definition and the function that runs it.
type botCommand struct {
	permissions.Command
	description string
	options     []*discordgo.ApplicationCommandOption

	// subcommandLevels holds descriptors for subcommands gated separately
	// from the command itself.
	subcommandLevels map[string]permissions.Command

	// feature must be enabled in BotSettings for the command to run
	feature string

	// prefix commands accept positional arguments, named per subcommand
	// ("" for commands without subcommands)
	prefix     bool
	prefixArgs map[string][]string

	run commandFunc
}

// descriptor returns the descriptor gating subcommand.
func (b *botCommand) descriptor(subcommand string) permissions.Command {
	if d, ok := b.subcommandLevels[subcommand]; ok {
		return d
	}
	return b.Command
}

func (b *botCommand) hasSubcommands() bool {
	return len(b.options) > 0 &&
		b.options[0].Type == discordgo.ApplicationCommandOptionSubCommand
}

func (b *botCommand) applicationCommand() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Type:        discordgo.ChatApplicationCommand,
		Name:        b.Name,
		Description: b.description,
		Options:     b.options,
	}
}

// componentRoute gates a message component by custom ID prefix.
type componentRoute struct {
	prefix string
	permissions.Command
	run commandFunc
}

func componentRoutes() []componentRoute {
	return []componentRoute{
		{
			prefix:  customIDAIClearContext,
			Command: permissions.Command{Name: commandAI, DefaultLevel: permissions.Everyone},
			run:     (*Crevion).componentAIClearContext,
		},
		{
			prefix: customIDChallengeHint,
			Command: permissions.Command{
				Name:         commandChallengeHint,
				DefaultLevel: permissions.Everyone,
			},
			run: (*Crevion).componentChallengeHint,
		},
	}
}

func levelChoices(levels []permissions.Level) []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(levels))
	for _, lvl := range levels {
		choices = append(
			choices,
			&discordgo.ApplicationCommandOptionChoice{Name: lvl.String(), Value: lvl.Key()},
		)
	}
	return choices
}

func subcommand(
	name, description string,
	options ...*discordgo.ApplicationCommandOption,
) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     options,
	}
}

func option(
	typ discordgo.ApplicationCommandOptionType,
	name, description string,
	required bool,
) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        typ,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

func levelOption(name string, levels []permissions.Level) *discordgo.ApplicationCommandOption {
	o := option(discordgo.ApplicationCommandOptionString, name, "Permission level", true)
	o.Choices = levelChoices(levels)
	return o
}

// newCommandRegistry returns every command keyed by name.
//
//nolint:funlen // command definitions
func newCommandRegistry() map[string]*botCommand {
	const (
		optString  = discordgo.ApplicationCommandOptionString
		optBool    = discordgo.ApplicationCommandOptionBoolean
		optUser    = discordgo.ApplicationCommandOptionUser
		optRole    = discordgo.ApplicationCommandOptionRole
		optChannel = discordgo.ApplicationCommandOptionChannel
		optFile    = discordgo.ApplicationCommandOptionAttachment
	)

	commands := []*botCommand{
		{
			Command:     permissions.Command{Name: commandHelp, DefaultLevel: permissions.Everyone},
			description: "Show the commands you can use",
			options: []*discordgo.ApplicationCommandOption{
				option(optString, "command", "Show details for a single command", false),
			},
			prefix:     true,
			prefixArgs: map[string][]string{"": {"command"}},
			run:        (*Crevion).commandHelp,
		},
		{
			Command:     permissions.Command{Name: commandPing, DefaultLevel: permissions.Everyone},
			description: "Check the bot's latency",
			prefix:      true,
			run:         (*Crevion).commandPing,
		},
		{
			Command:     permissions.Command{Name: commandInfo, DefaultLevel: permissions.Everyone},
			description: "About the bot",
			prefix:      true,
			run:         (*Crevion).commandInfo,
		},
		{
			Command:     permissions.Command{Name: commandAI, DefaultLevel: permissions.Everyone},
			description: "Ask the AI assistant",
			feature:     featureAIAssistant,
			options: []*discordgo.ApplicationCommandOption{
				subcommand("ask", "Ask a question", option(optString, "question", "Your question", true)),
				subcommand(
					"code", "Generate code",
					option(optString, "request", "What to build", true),
					option(optString, "language", "Programming language", false),
				),
				subcommand("explain", "Explain a concept", option(optString, "topic", "Topic to explain", true)),
				subcommand("debug", "Find bugs in code", option(optString, "code", "Code to debug", true)),
				subcommand("review", "Review code", option(optString, "code", "Code to review", true)),
				subcommand("optimize", "Optimize code", option(optString, "code", "Code to optimize", true)),
				subcommand("design", "UI/UX design advice", option(optString, "request", "Design question", true)),
			},
			run: (*Crevion).commandAI,
		},
		{
			Command:     permissions.Command{Name: commandRemoveBG, DefaultLevel: permissions.Everyone},
			description: "Remove the background from an image",
			feature:     featureBackgroundRemover,
			options: []*discordgo.ApplicationCommandOption{
				option(optFile, "image", "Image to process", true),
			},
			run: (*Crevion).commandRemoveBG,
		},
		{
			Command:     permissions.Command{Name: commandStats, DefaultLevel: permissions.Helper},
			description: "Bot statistics",
			prefix:      true,
			run:         (*Crevion).commandStats,
		},
		{
			Command:     permissions.Command{Name: commandSay, DefaultLevel: permissions.Admin},
			description: "Send a message as the bot",
			options: []*discordgo.ApplicationCommandOption{
				subcommand(
					"text", "Send plain text",
					option(optString, "message", "Message to send", true),
					option(optChannel, "channel", "Target channel", false),
				),
				subcommand(
					"embed", "Send an embed",
					option(optString, "description", "Embed description", true),
					option(optString, "title", "Embed title", false),
					option(optString, "color", "Hex color, e.g. #370080", false),
					option(optChannel, "channel", "Target channel", false),
				),
			},
			run: (*Crevion).commandSay,
		},
		{
			Command:     permissions.Command{Name: commandAutoReply, DefaultLevel: permissions.Admin},
			description: "Manage automatic replies",
			options: []*discordgo.ApplicationCommandOption{
				subcommand(
					"add", "Add an auto-reply",
					option(optString, "trigger", "Trigger text", true),
					option(optString, "response", "Response text", true),
					option(optBool, "mention", "Mention the author", false),
					option(optBool, "reply", "Reply to the message", false),
					option(optBool, "exact", "Match the whole message", false),
				),
				subcommand("remove", "Remove an auto-reply", option(optString, "trigger", "Trigger text", true)),
				subcommand("list", "List auto-replies"),
				subcommand("clear", "Remove every auto-reply"),
			},
			run: (*Crevion).commandAutoReply,
		},
		{
			Command:     permissions.Command{Name: commandAutoLine, DefaultLevel: permissions.Admin},
			description: "Post the line image after every message in a channel",
			options: []*discordgo.ApplicationCommandOption{
				subcommand("add", "Enable auto-line", option(optChannel, "channel", "Channel", false)),
				subcommand("remove", "Disable auto-line", option(optChannel, "channel", "Channel", false)),
				subcommand("list", "List auto-line channels"),
			},
			run: (*Crevion).commandAutoLine,
		},
		{
			Command:     permissions.Command{Name: commandPermissions, DefaultLevel: permissions.Admin},
			description: "Manage bot permissions",
			options: []*discordgo.ApplicationCommandOption{
				subcommand("view", "Show the permission configuration"),
				subcommand("check", "Show a user's level", option(optUser, "user", "User to check", false)),
				subcommand(
					"role-set", "Grant a level to a role",
					option(optRole, "role", "Role", true),
					levelOption("level", permissions.RoleLevels),
				),
				subcommand(
					"role-remove", "Remove a role from one or every level",
					option(optRole, "role", "Role", true),
					func() *discordgo.ApplicationCommandOption {
						o := levelOption("level", permissions.RoleLevels)
						o.Required = false
						return o
					}(),
				),
				subcommand(
					"user-set", "Set a user's level explicitly",
					option(optUser, "user", "User", true),
					levelOption("level", permissions.AllLevels),
				),
				subcommand("user-remove", "Remove a user's override", option(optUser, "user", "User", true)),
				subcommand(
					"command-set", "Override a command's required level",
					option(optString, "name", "Command name", true),
					levelOption("level", permissions.AllLevels),
				),
				subcommand(
					"command-remove", "Restore a command's default level",
					option(optString, "name", "Command name", true),
				),
				subcommand("line-add", "Allow a role to use the line", option(optRole, "role", "Role", true)),
				subcommand("line-remove", "Disallow a role from the line", option(optRole, "role", "Role", true)),
				subcommand("reset", "Restore default roles and overrides (owners are kept)"),
				subcommand("owner-add", "Add a bot owner", option(optUser, "user", "User", true)),
				subcommand("owner-remove", "Remove a bot owner", option(optUser, "user", "User", true)),
			},
			subcommandLevels: map[string]permissions.Command{
				"owner-add":    {Name: commandPermissionsOwner, DefaultLevel: permissions.Owner},
				"owner-remove": {Name: commandPermissionsOwner, DefaultLevel: permissions.Owner},
			},
			run: (*Crevion).commandPermissions,
		},
		{
			Command:     permissions.Command{Name: commandLine, DefaultLevel: permissions.Owner},
			description: "Manage the line image",
			options: []*discordgo.ApplicationCommandOption{
				subcommand("post", "Post the line image here"),
				subcommand("set", "Set the line image URL", option(optString, "url", "Direct image URL", true)),
				subcommand("view", "Show the current line image"),
				subcommand("test", "Check that the line image can be fetched"),
				subcommand("remove", "Remove the line image"),
			},
			prefix:     true,
			prefixArgs: map[string][]string{"set": {"url"}},
			run:        (*Crevion).commandLine,
		},
		{
			Command:     permissions.Command{Name: commandConfig, DefaultLevel: permissions.Owner},
			description: "Manage bot settings",
			options: []*discordgo.ApplicationCommandOption{
				subcommand("view", "Show the current settings"),
				subcommand(
					"set-prefix", "Set the message command prefix",
					&discordgo.ApplicationCommandOption{
						Type:        optString,
						Name:        "prefix",
						Description: "New prefix (1-5 characters)",
						Required:    true,
						MaxLength:   prefixMaxLength,
					},
				),
				subcommand(
					"set-status", "Set the bot's presence",
					&discordgo.ApplicationCommandOption{
						Type:        optString,
						Name:        "status",
						Description: "Presence",
						Required:    true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "Online", Value: string(discordgo.StatusOnline)},
							{Name: "Idle", Value: string(discordgo.StatusIdle)},
							{Name: "Do Not Disturb", Value: string(discordgo.StatusDoNotDisturb)},
							{Name: "Invisible", Value: string(discordgo.StatusInvisible)},
						},
					},
					&discordgo.ApplicationCommandOption{
						Type:        optString,
						Name:        "activity",
						Description: "Custom status text",
						MaxLength:   activityTextMaxRunes,
					},
				),
				subcommand(
					"set-channel", "Set a feature channel",
					&discordgo.ApplicationCommandOption{
						Type:        optString,
						Name:        "kind",
						Description: "Which channel",
						Required:    true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "AI assistant", Value: channelKindAI},
							{Name: "Daily challenge forum", Value: channelKindChallenge},
							{Name: "Showcase", Value: channelKindShowcase},
							{Name: "Notifications", Value: channelKindNotification},
						},
					},
					option(optChannel, "channel", "Channel", true),
				),
				subcommand(
					"feature", "Enable or disable a feature",
					&discordgo.ApplicationCommandOption{
						Type:        optString,
						Name:        "name",
						Description: "Feature",
						Required:    true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "AI assistant", Value: featureAIAssistant},
							{Name: "Daily challenge", Value: featureProblemSolving},
							{Name: "Background remover", Value: featureBackgroundRemover},
							{Name: "Command logging", Value: featureCommandLogging},
							{Name: "Error reporting", Value: featureErrorReporting},
						},
					},
					option(optBool, "enabled", "Enabled", true),
				),
				subcommand("set-line", "Set the line image URL", option(optString, "url", "Direct image URL", true)),
				subcommand("reload", "Reload settings on every instance"),
			},
			run: (*Crevion).commandConfig,
		},
		{
			Command:     permissions.Command{Name: commandChallenge, DefaultLevel: permissions.Owner},
			description: "Daily coding challenge",
			options: []*discordgo.ApplicationCommandOption{
				subcommand("post", "Post today's challenge now"),
				subcommand("status", "Show the schedule and the last posted challenge"),
			},
			run: (*Crevion).commandChallenge,
		},
	}

	registry := make(map[string]*botCommand, len(commands))
	for _, cmd := range commands {
		registry[cmd.Name] = cmd
	}
	return registry
}

// CommandDescriptors lists every permission descriptor the bot gates,
// sorted by name. Command overrides are keyed by these names.
func CommandDescriptors() []permissions.Command {
	seen := map[string]bool{}
	var descriptors []permissions.Command
	add := func(d permissions.Command) {
		if seen[d.Name] {
			return
		}
		seen[d.Name] = true
		descriptors = append(descriptors, d)
	}
	for _, cmd := range newCommandRegistry() {
		add(cmd.Command)
		for _, d := range cmd.subcommandLevels {
			add(d)
		}
	}
	for _, route := range componentRoutes() {
		add(route.Command)
	}
	sort.Slice(
		descriptors, func(i, j int) bool {
			return descriptors[i].Name < descriptors[j].Name
		},
	)
	return descriptors
}

// applicationCommands returns the slash command definitions, sorted by
// name.
func (c *Crevion) applicationCommands() []*discordgo.ApplicationCommand {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	slices.Sort(names)
	rv := make([]*discordgo.ApplicationCommand, 0, len(names))
	for _, name := range names {
		rv = append(rv, c.commands[name].applicationCommand())
	}
	return rv
}

// RegisterSlashCommands overwrites the application's commands with the
// registry.
func (c *Crevion) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return c.discord.registerCommands(c.applicationCommands(), options...)
}

// reply is a response to a command, sent as an interaction response or a
// channel message depending on how the command was invoked.
type reply struct {
	content    string
	embeds     []*discordgo.MessageEmbed
	files      []*discordgo.File
	components []discordgo.MessageComponent
	ephemeral  bool
}

// commandRequest is a single command invocation, from a slash command, a
// component or a prefix message.
type commandRequest struct {
	name       string
	subcommand string
	member     permissions.Member
	user       *discordgo.User
	guildID    string
	channelID  string
	decision   permissions.Decision

	interaction InteractionHandler
	options     map[string]*discordgo.ApplicationCommandInteractionDataOption
	resolved    *discordgo.ApplicationCommandInteractionDataResolved
	customID    string

	message *discordgo.MessageCreate
	args    map[string]string

	responded bool
	deferred  bool
}

func memberFromInteraction(i *discordgo.InteractionCreate) permissions.Member {
	m := permissions.Member{}
	if u := getDiscordUser(i); u != nil {
		m.ID = u.ID
	}
	if i.Member != nil {
		m.Roles = i.Member.Roles
	}
	return m
}

func memberFromMessage(m *discordgo.MessageCreate) permissions.Member {
	member := permissions.Member{}
	if m.Author != nil {
		member.ID = m.Author.ID
	}
	if m.Member != nil {
		member.Roles = m.Member.Roles
	}
	return member
}

func newSlashRequest(handler InteractionHandler) *commandRequest {
	i := handler.GetInteraction()
	data := i.ApplicationCommandData()
	r := &commandRequest{
		name:        data.Name,
		member:      memberFromInteraction(i),
		user:        getDiscordUser(i),
		guildID:     i.GuildID,
		channelID:   i.ChannelID,
		interaction: handler,
		resolved:    data.Resolved,
		options:     map[string]*discordgo.ApplicationCommandInteractionDataOption{},
	}
	opts := data.Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		r.subcommand = opts[0].Name
		opts = opts[0].Options
	}
	for _, o := range opts {
		r.options[o.Name] = o
	}
	return r
}

func newComponentRequest(handler InteractionHandler) *commandRequest {
	i := handler.GetInteraction()
	return &commandRequest{
		member:      memberFromInteraction(i),
		user:        getDiscordUser(i),
		guildID:     i.GuildID,
		channelID:   i.ChannelID,
		interaction: handler,
		customID:    i.MessageComponentData().CustomID,
	}
}

// newPrefixRequest builds a request from message arguments. For commands
// with subcommands the first argument names the subcommand, and the rest
// are assigned to the names in cmd.prefixArgs. The last name receives the
// remainder of the message.
func newPrefixRequest(
	m *discordgo.MessageCreate,
	cmd *botCommand,
	args []string,
) *commandRequest {
	r := &commandRequest{
		name:      cmd.Name,
		member:    memberFromMessage(m),
		user:      m.Author,
		guildID:   m.GuildID,
		channelID: m.ChannelID,
		message:   m,
		args:      map[string]string{},
	}
	if cmd.hasSubcommands() && len(args) > 0 {
		r.subcommand = strings.ToLower(args[0])
		args = args[1:]
	}
	names := cmd.prefixArgs[r.subcommand]
	for idx, name := range names {
		if idx >= len(args) {
			break
		}
		if idx == len(names)-1 {
			r.args[name] = strings.Join(args[idx:], " ")
			break
		}
		r.args[name] = args[idx]
	}
	return r
}

func (r *commandRequest) stringOption(name string) string {
	if o, ok := r.options[name]; ok {
		if s, ok := o.Value.(string); ok {
			return s
		}
	}
	return r.args[name]
}

func (r *commandRequest) boolOption(name string) (value bool, ok bool) {
	if o, found := r.options[name]; found {
		value, ok = o.Value.(bool)
	}
	return value, ok
}

// idOption returns the snowflake of a user, role or channel option.
func (r *commandRequest) idOption(name string) string {
	return r.stringOption(name)
}

func (r *commandRequest) resolvedAttachment(name string) *discordgo.MessageAttachment {
	id := r.stringOption(name)
	if id == "" || r.resolved == nil {
		return nil
	}
	return r.resolved.Attachments[id]
}

func (r *commandRequest) attachmentURL(name string) string {
	if a := r.resolvedAttachment(name); a != nil {
		return a.URL
	}
	return ""
}

// respond sends the first response to the request.
func (r *commandRequest) respond(ctx context.Context, c *Crevion, rep reply) error {
	if r.deferred {
		return r.edit(ctx, c, rep)
	}
	r.responded = true
	if r.interaction != nil {
		var flags discordgo.MessageFlags
		if rep.ephemeral {
			flags = discordgo.MessageFlagsEphemeral
		}
		return r.interaction.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content:    rep.content,
					Embeds:     rep.embeds,
					Files:      rep.files,
					Components: rep.components,
					Flags:      flags,
				},
			},
		)
	}
	_, err := c.discord.session.ChannelMessageSendComplex(
		r.channelID, &discordgo.MessageSend{
			Content:         rep.content,
			Embeds:          rep.embeds,
			Files:           rep.files,
			Components:      rep.components,
			Reference:       r.message.Reference(),
			AllowedMentions: &discordgo.MessageAllowedMentions{RepliedUser: false},
		},
	)
	return err
}

// deferResponse acknowledges a slow command. The eventual reply is sent
// with respond, which edits the deferred response.
func (r *commandRequest) deferResponse(ctx context.Context, c *Crevion, ephemeral bool) error {
	if r.responded {
		return nil
	}
	r.responded = true
	r.deferred = true
	if r.interaction == nil {
		return c.discord.session.ChannelTyping(r.channelID)
	}
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	return r.interaction.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: flags},
		},
	)
}

func (r *commandRequest) edit(ctx context.Context, c *Crevion, rep reply) error {
	if r.interaction == nil {
		r.deferred = false
		return r.respond(ctx, c, rep)
	}
	edit := &discordgo.WebhookEdit{Files: rep.files}
	if len(rep.embeds) > 0 {
		edit.Embeds = &rep.embeds
	}
	if rep.content != "" {
		edit.Content = &rep.content
	}
	if rep.components != nil {
		edit.Components = &rep.components
	}
	_, err := r.interaction.Edit(ctx, edit)
	return err
}

// followup sends an additional message after the first response.
func (r *commandRequest) followup(ctx context.Context, c *Crevion, rep reply) error {
	if r.interaction == nil {
		_, err := c.discord.session.ChannelMessageSendComplex(
			r.channelID, &discordgo.MessageSend{
				Content:    rep.content,
				Embeds:     rep.embeds,
				Files:      rep.files,
				Components: rep.components,
			},
		)
		return err
	}
	params := &discordgo.WebhookParams{
		Content:    rep.content,
		Embeds:     rep.embeds,
		Files:      rep.files,
		Components: rep.components,
	}
	if rep.ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	_, err := r.interaction.Followup(ctx, params)
	return err
}

// send replies or follows up, depending on whether a response was
// already sent.
func (r *commandRequest) send(ctx context.Context, c *Crevion, rep reply) error {
	if r.responded && !r.deferred {
		return r.followup(ctx, c, rep)
	}
	return r.respond(ctx, c, rep)
}

// embed builds an embed styled with the current settings.
func (c *Crevion) embed(title, description string, color int) *discordgo.MessageEmbed {
	settings := c.Settings()
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Footer:      &discordgo.MessageEmbedFooter{Text: settings.EmbedFooter},
	}
}

func (c *Crevion) successEmbed(title, description string) *discordgo.MessageEmbed {
	return c.embed(title, description, c.Settings().SuccessColor)
}

func (c *Crevion) errorEmbed(title, description string) *discordgo.MessageEmbed {
	return c.embed(title, description, c.Settings().ErrorColor)
}

func (c *Crevion) warningEmbed(title, description string) *discordgo.MessageEmbed {
	return c.embed(title, description, c.Settings().WarningColor)
}

// accessDeniedEmbed is shown when a member's level is below the level a
// command requires.
func (c *Crevion) accessDeniedEmbed(required permissions.Level) *discordgo.MessageEmbed {
	return c.errorEmbed(
		"🔒 Access Denied",
		fmt.Sprintf(
			"You don't have permission to use this command.\n\n"+
				"**Required Level:** %s\n\n"+
				"**Need help?** Contact a server administrator.",
			required,
		),
	)
}

func (c *Crevion) commandErrorEmbed() *discordgo.MessageEmbed {
	return c.errorEmbed("❌ Error", "Command failed. Try again.")
}

func (c *Crevion) featureDisabledEmbed(feature string) *discordgo.MessageEmbed {
	return c.warningEmbed(
		"⚠️ Feature disabled",
		fmt.Sprintf("The `%s` feature is currently disabled.", feature),
	)
}
