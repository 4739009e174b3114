package crevion

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/aslmdev/Crevion-Helper-Bot/permissions"
)

// permissionMessages are the replies for each mutation outcome.
type permissionMessages struct {
	applied string
	present string
	absent  string
}

func (c *Crevion) commandPermissions(ctx context.Context, r *commandRequest) error {
	switch r.subcommand {
	case "view":
		return c.permissionsView(ctx, r)
	case "check":
		return c.permissionsCheck(ctx, r)
	case "reset":
		if err := c.perms.ResetToDefaults(ctx); err != nil {
			return c.permissionResult(ctx, r, "reset", permissions.NotPresent, err, permissionMessages{})
		}
		c.permissionsChanged(ctx, "reset")
		return r.respond(
			ctx, c, reply{
				embeds: []*discordgo.MessageEmbed{
					c.successEmbed("✅ Permissions reset", "Roles and overrides restored to defaults. Owners were kept."),
				},
				ephemeral: true,
			},
		)
	}

	cfg, err := c.perms.Snapshot(ctx)
	if err != nil {
		return err
	}
	actor := permissions.ResolveUserLevel(r.member, cfg)

	var (
		res  permissions.Result
		msgs permissionMessages
	)
	role := r.idOption("role")
	user := r.idOption("user")

	switch r.subcommand {
	case "role-set":
		level, parseErr := permissions.ParseLevel(r.stringOption("level"))
		if parseErr != nil {
			err = parseErr
			break
		}
		if err = permissions.CheckActorLevel(actor, level); err != nil {
			break
		}
		res, err = c.perms.SetRoleLevel(ctx, role, level)
		msgs = permissionMessages{
			applied: fmt.Sprintf("<@&%s> now grants **%s**", role, level),
			present: fmt.Sprintf("<@&%s> already grants **%s**", role, level),
		}
	case "role-remove":
		if lvl := r.stringOption("level"); lvl != "" {
			level, parseErr := permissions.ParseLevel(lvl)
			if parseErr != nil {
				err = parseErr
				break
			}
			if err = permissions.CheckActorLevel(actor, level); err != nil {
				break
			}
			res, err = c.perms.RemoveRoleFromLevel(ctx, role, level)
			msgs = permissionMessages{
				applied: fmt.Sprintf("<@&%s> no longer grants **%s**", role, level),
				absent:  fmt.Sprintf("<@&%s> doesn't grant **%s**", role, level),
			}
			break
		}
		if err = permissions.CheckActorLevel(actor, cfg.LevelsOfRole(role)...); err != nil {
			break
		}
		res, err = c.perms.RemoveRoleEverywhere(ctx, role)
		msgs = permissionMessages{
			applied: fmt.Sprintf("<@&%s> removed from every level", role),
			absent:  fmt.Sprintf("<@&%s> isn't assigned to any level", role),
		}
	case "user-set":
		level, parseErr := permissions.ParseLevel(r.stringOption("level"))
		if parseErr != nil {
			err = parseErr
			break
		}
		target := permissions.ResolveUserLevel(r.checkedMember(), cfg)
		if err = permissions.CheckActorLevel(actor, level, target); err != nil {
			break
		}
		res, err = c.perms.SetUserOverride(ctx, user, level)
		msgs = permissionMessages{
			applied: fmt.Sprintf("<@%s> is now **%s**", user, level),
			present: fmt.Sprintf("<@%s> is already **%s**", user, level),
		}
	case "user-remove":
		// the target's level both with and without the override
		target := r.checkedMember()
		without := cfg.Clone()
		delete(without.UserOverrides, user)
		err = permissions.CheckActorLevel(
			actor,
			permissions.ResolveUserLevel(target, cfg),
			permissions.ResolveUserLevel(target, without),
		)
		if err != nil {
			break
		}
		res, err = c.perms.RemoveUserOverride(ctx, user)
		msgs = permissionMessages{
			applied: fmt.Sprintf("Override for <@%s> removed", user),
			absent:  fmt.Sprintf("<@%s> has no override", user),
		}
	case "command-set":
		name := strings.ToLower(strings.TrimSpace(r.stringOption("name")))
		descriptor, ok := commandDescriptor(name)
		if !ok {
			return r.respond(
				ctx, c, reply{
					embeds: []*discordgo.MessageEmbed{
						c.warningEmbed("⚠️ Unknown command", fmt.Sprintf("No command named `%s`", name)),
					},
					ephemeral: true,
				},
			)
		}
		level, parseErr := permissions.ParseLevel(r.stringOption("level"))
		if parseErr != nil {
			err = parseErr
			break
		}
		guard := permissions.CommandGuardLevel(descriptor, cfg)
		if err = permissions.CheckActorLevel(actor, guard, level); err != nil {
			break
		}
		res, err = c.perms.SetCommandOverride(ctx, name, level)
		msgs = permissionMessages{
			applied: fmt.Sprintf("`%s` now requires **%s**", name, level),
			present: fmt.Sprintf("`%s` already requires **%s**", name, level),
		}
	case "command-remove":
		name := strings.ToLower(strings.TrimSpace(r.stringOption("name")))
		if descriptor, ok := commandDescriptor(name); ok {
			err = permissions.CheckActorLevel(actor, permissions.CommandGuardLevel(descriptor, cfg))
			if err != nil {
				break
			}
		}
		res, err = c.perms.RemoveCommandOverride(ctx, name)
		msgs = permissionMessages{
			applied: fmt.Sprintf("`%s` restored to its default level", name),
			absent:  fmt.Sprintf("`%s` has no override", name),
		}
	case "line-add":
		res, err = c.perms.AddLineAccessRole(ctx, role)
		msgs = permissionMessages{
			applied: fmt.Sprintf("<@&%s> can now use the line", role),
			present: fmt.Sprintf("<@&%s> can already use the line", role),
		}
	case "line-remove":
		res, err = c.perms.RemoveLineAccessRole(ctx, role)
		msgs = permissionMessages{
			applied: fmt.Sprintf("<@&%s> can no longer use the line", role),
			absent:  fmt.Sprintf("<@&%s> doesn't have line access", role),
		}
	case "owner-add":
		res, err = c.perms.AddOwner(ctx, user)
		msgs = permissionMessages{
			applied: fmt.Sprintf("<@%s> is now an owner", user),
			present: fmt.Sprintf("<@%s> is already an owner", user),
		}
	case "owner-remove":
		var actorID string
		if r.user != nil {
			actorID = r.user.ID
		}
		res, err = c.perms.RemoveOwner(ctx, actorID, user)
		msgs = permissionMessages{
			applied: fmt.Sprintf("<@%s> is no longer an owner", user),
			absent:  fmt.Sprintf("<@%s> isn't an owner", user),
		}
	default:
		return errors.New("unknown permissions subcommand: " + r.subcommand)
	}

	return c.permissionResult(ctx, r, strings.ReplaceAll(r.subcommand, "-", "_"), res, err, msgs)
}

// permissionResult replies with the outcome of a mutation. Rejected
// operations get an explanation, storage failures are returned.
func (c *Crevion) permissionResult(
	ctx context.Context,
	r *commandRequest,
	operation string,
	res permissions.Result,
	err error,
	msgs permissionMessages,
) error {
	if err != nil {
		if !permissions.IsOperationError(err) {
			return err
		}
		return r.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.errorEmbed("❌ Not changed", permissionErrorMessage(err))},
				ephemeral: true,
			},
		)
	}

	var embed *discordgo.MessageEmbed
	switch res {
	case permissions.Applied:
		c.permissionsChanged(ctx, operation)
		embed = c.successEmbed("✅ Permissions updated", msgs.applied)
	case permissions.AlreadyPresent:
		embed = c.warningEmbed("⚠️ No change", msgs.present)
	default:
		embed = c.warningEmbed("⚠️ No change", msgs.absent)
	}
	return r.respond(ctx, c, reply{embeds: []*discordgo.MessageEmbed{embed}, ephemeral: true})
}

func permissionErrorMessage(err error) string {
	switch {
	case errors.Is(err, permissions.ErrLastOwner):
		return "The last owner can't be removed. Add another owner first."
	case errors.Is(err, permissions.ErrInvalidLevel):
		return "That level can't be used here: " + err.Error()
	case errors.Is(err, permissions.ErrEmptyID):
		return "A user, role or command is required."
	case errors.Is(err, permissions.ErrAboveActorLevel):
		return "You can't grant or change a level above your own."
	default:
		return err.Error()
	}
}

func commandDescriptor(name string) (permissions.Command, bool) {
	descriptors := CommandDescriptors()
	i := slices.IndexFunc(
		descriptors, func(d permissions.Command) bool {
			return d.Name == name
		},
	)
	if i < 0 {
		return permissions.Command{}, false
	}
	return descriptors[i], true
}

func mentionList(ids []string, format string) string {
	if len(ids) == 0 {
		return "None"
	}
	mentions := make([]string, 0, len(ids))
	for _, id := range ids {
		mentions = append(mentions, fmt.Sprintf(format, id))
	}
	return strings.Join(mentions, ", ")
}

func (c *Crevion) permissionsView(ctx context.Context, r *commandRequest) error {
	cfg, err := c.perms.Snapshot(ctx)
	if err != nil {
		return err
	}

	embed := c.embed("🔐 Permissions", "", c.Settings().EmbedColor)
	embed.Fields = append(
		embed.Fields,
		&discordgo.MessageEmbedField{Name: "👑 Owners", Value: mentionList(cfg.Owners, "<@%s>")},
	)
	for _, lvl := range permissions.RoleLevels {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:   lvl.String(),
				Value:  ellipsis(mentionList(cfg.RolesByLevel[lvl], "<@&%s>"), 1024),
				Inline: true,
			},
		)
	}

	if len(cfg.UserOverrides) > 0 {
		ids := make([]string, 0, len(cfg.UserOverrides))
		for id := range cfg.UserOverrides {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		var sb strings.Builder
		for _, id := range ids {
			_, _ = fmt.Fprintf(&sb, "<@%s>: %s\n", id, cfg.UserOverrides[id])
		}
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: "User overrides", Value: ellipsis(sb.String(), 1024)},
		)
	}
	if len(cfg.CommandOverrides) > 0 {
		names := make([]string, 0, len(cfg.CommandOverrides))
		for name := range cfg.CommandOverrides {
			names = append(names, name)
		}
		slices.Sort(names)
		var sb strings.Builder
		for _, name := range names {
			_, _ = fmt.Fprintf(&sb, "`%s`: %s\n", name, cfg.CommandOverrides[name])
		}
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: "Command overrides", Value: ellipsis(sb.String(), 1024)},
		)
	}
	embed.Fields = append(
		embed.Fields,
		&discordgo.MessageEmbedField{Name: "📏 Line access", Value: ellipsis(mentionList(cfg.LineAccessRoles, "<@&%s>"), 1024)},
	)
	return r.respond(ctx, c, reply{embeds: []*discordgo.MessageEmbed{embed}, ephemeral: true})
}

// checkedMember returns the member named by the user option, or the caller
// if it's absent.
func (r *commandRequest) checkedMember() permissions.Member {
	id := r.idOption("user")
	if id == "" || id == r.member.ID {
		return r.member
	}
	m := permissions.Member{ID: id}
	if r.resolved != nil {
		if gm, ok := r.resolved.Members[id]; ok && gm != nil {
			m.Roles = gm.Roles
		}
	}
	return m
}

func (c *Crevion) permissionsCheck(ctx context.Context, r *commandRequest) error {
	cfg, err := c.perms.Snapshot(ctx)
	if err != nil {
		return err
	}
	m := r.checkedMember()
	level := permissions.ResolveUserLevel(m, cfg)

	source := "roles"
	switch _, overridden := cfg.UserOverrides[m.ID]; {
	case cfg.IsOwner(m.ID):
		source = "owner"
	case overridden:
		source = "user override"
	case level == permissions.Everyone:
		source = "default"
	}

	embed := c.embed("🔍 Permission check", fmt.Sprintf("<@%s>", m.ID), c.Settings().EmbedColor)
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Level", Value: level.String(), Inline: true},
		{Name: "Source", Value: source, Inline: true},
		{Name: "Line access", Value: fmt.Sprintf("%t", permissions.CanUseLine(m, cfg)), Inline: true},
		{
			Name:  "Commands",
			Value: ellipsis(mentionList(c.visibleCommands(m, cfg), "`%s`"), 1024),
		},
	}
	return r.respond(ctx, c, reply{embeds: []*discordgo.MessageEmbed{embed}, ephemeral: true})
}
