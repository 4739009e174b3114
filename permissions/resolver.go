package permissions

import (
	"fmt"
	"slices"
)

// Member is the identity being checked: a user ID and the role IDs the
// user currently holds in the guild.
type Member struct {
	ID    string
	Roles []string
}

// Command identifies a command (or subcommand group) and the level it
// requires when no override is configured. The zero DefaultLevel is
// Everyone.
type Command struct {
	Name         string
	DefaultLevel Level
}

// ResolveUserLevel returns the effective level of m under cfg.
//
// Owners always resolve to Owner. Otherwise a user override wins, then the
// highest level for which m holds a role, then Everyone.
func ResolveUserLevel(m Member, cfg Config) Level {
	if cfg.IsOwner(m.ID) {
		return Owner
	}
	if lvl, ok := cfg.UserOverrides[m.ID]; ok {
		return lvl
	}
	for _, lvl := range RoleLevels {
		if holdsAny(m.Roles, cfg.RolesByLevel[lvl]) {
			return lvl
		}
	}
	return Everyone
}

// RequiredLevel returns the level needed to run cmd, honouring command
// overrides.
func RequiredLevel(cmd Command, cfg Config) Level {
	if lvl, ok := cfg.CommandOverrides[cmd.Name]; ok {
		return lvl
	}
	return cmd.DefaultLevel
}

// IsAuthorized reports whether m may run cmd under cfg.
func IsAuthorized(m Member, cmd Command, cfg Config) bool {
	return ResolveUserLevel(m, cfg) >= RequiredLevel(cmd, cfg)
}

// CheckActorLevel returns ErrAboveActorLevel if any of levels is above
// actor. Members can only hand out, or take back, what they hold themselves.
func CheckActorLevel(actor Level, levels ...Level) error {
	for _, lvl := range levels {
		if lvl > actor {
			return fmt.Errorf("%w: %s is above %s", ErrAboveActorLevel, lvl, actor)
		}
	}
	return nil
}

// CommandGuardLevel is the level needed to change the requirement of cmd:
// the higher of its default and any override in cfg.
func CommandGuardLevel(cmd Command, cfg Config) Level {
	return max(cmd.DefaultLevel, RequiredLevel(cmd, cfg))
}

// CanUseLine reports whether m may trigger the line image. Owners always
// can; everyone else needs one of the line access roles.
func CanUseLine(m Member, cfg Config) bool {
	if cfg.IsOwner(m.ID) {
		return true
	}
	return holdsAny(m.Roles, cfg.LineAccessRoles)
}

func holdsAny(held, wanted []string) bool {
	for _, r := range held {
		if slices.Contains(wanted, r) {
			return true
		}
	}
	return false
}
