package permissions

import (
	"maps"
	"slices"
)

// Config is the persisted permission aggregate. It is always handled as a
// snapshot: callers load it, use it for one operation, and drop it.
type Config struct {
	Owners           []string           `json:"owners"`
	RolesByLevel     map[Level][]string `json:"roles_by_level"`
	UserOverrides    map[string]Level   `json:"user_overrides"`
	CommandOverrides map[string]Level   `json:"command_overrides"`
	// LineAccessRoles gates the line image feature. It is independent of
	// the level hierarchy.
	LineAccessRoles []string `json:"line_access_roles"`
}

// Defaults is the baseline restored by [Service.ResetToDefaults]. Owners are
// not part of it.
type Defaults struct {
	RolesByLevel     map[Level][]string `json:"roles_by_level"`
	UserOverrides    map[string]Level   `json:"user_overrides"`
	CommandOverrides map[string]Level   `json:"command_overrides"`
	LineAccessRoles  []string           `json:"line_access_roles"`
}

// NewConfig returns an empty config with owners seeded and defaults applied.
func NewConfig(owners []string, d Defaults) Config {
	c := Config{Owners: dedupe(owners)}
	c.applyDefaults(d)
	return c
}

func (c *Config) applyDefaults(d Defaults) {
	c.RolesByLevel = make(map[Level][]string, len(d.RolesByLevel))
	for lvl, roles := range d.RolesByLevel {
		if !lvl.Grantable() {
			continue
		}
		if r := dedupe(roles); len(r) > 0 {
			c.RolesByLevel[lvl] = r
		}
	}
	c.UserOverrides = maps.Clone(d.UserOverrides)
	if c.UserOverrides == nil {
		c.UserOverrides = map[string]Level{}
	}
	c.CommandOverrides = maps.Clone(d.CommandOverrides)
	if c.CommandOverrides == nil {
		c.CommandOverrides = map[string]Level{}
	}
	c.LineAccessRoles = dedupe(d.LineAccessRoles)
}

// normalize replaces nil collections with empty ones, so a freshly decoded
// config can be mutated without nil checks.
func (c *Config) normalize() {
	if c.RolesByLevel == nil {
		c.RolesByLevel = map[Level][]string{}
	}
	if c.UserOverrides == nil {
		c.UserOverrides = map[string]Level{}
	}
	if c.CommandOverrides == nil {
		c.CommandOverrides = map[string]Level{}
	}
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := Config{
		Owners:           slices.Clone(c.Owners),
		UserOverrides:    maps.Clone(c.UserOverrides),
		CommandOverrides: maps.Clone(c.CommandOverrides),
		LineAccessRoles:  slices.Clone(c.LineAccessRoles),
	}
	if c.RolesByLevel != nil {
		out.RolesByLevel = make(map[Level][]string, len(c.RolesByLevel))
		for lvl, roles := range c.RolesByLevel {
			out.RolesByLevel[lvl] = slices.Clone(roles)
		}
	}
	return out
}

// IsOwner reports whether userID is a configured owner.
func (c Config) IsOwner(userID string) bool {
	return slices.Contains(c.Owners, userID)
}

// LevelsOfRole returns the levels roleID is attached to, highest first.
func (c Config) LevelsOfRole(roleID string) []Level {
	var levels []Level
	for _, lvl := range RoleLevels {
		if slices.Contains(c.RolesByLevel[lvl], roleID) {
			levels = append(levels, lvl)
		}
	}
	return levels
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
