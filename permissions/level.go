package permissions

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is a rank used to gate command execution. Higher levels include
// every capability of the levels below them.
type Level int

const (
	Everyone Level = iota
	LevelMember
	VIP
	Helper
	Moderator
	Admin
	Owner
)

var levelNames = [...]string{
	Everyone:    "everyone",
	LevelMember: "member",
	VIP:         "vip",
	Helper:      "helper",
	Moderator:   "moderator",
	Admin:       "admin",
	Owner:       "owner",
}

var levelTitles = [...]string{
	Everyone:    "Everyone",
	LevelMember: "Member",
	VIP:         "VIP",
	Helper:      "Helper",
	Moderator:   "Moderator",
	Admin:       "Admin",
	Owner:       "Owner",
}

// RoleLevels are the levels that may be granted through roles, checked
// highest first.
var RoleLevels = []Level{Admin, Moderator, Helper, VIP, LevelMember}

// AllLevels lists every valid level, lowest first.
var AllLevels = []Level{Everyone, LevelMember, VIP, Helper, Moderator, Admin, Owner}

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	return l >= Everyone && l <= Owner
}

// Grantable reports whether l may be attached to a role.
func (l Level) Grantable() bool {
	return l >= LevelMember && l <= Admin
}

// String returns the display name of the level, e.g. "Moderator".
func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelTitles[l]
}

// Key returns the lowercase name used in persisted state and user input.
func (l Level) Key() string {
	if !l.Valid() {
		return strconv.Itoa(int(l))
	}
	return levelNames[l]
}

// MarshalText implements encoding.TextMarshaler, so levels are stored by
// name both as JSON values and as JSON object keys.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, int(l))
	}
	return []byte(l.Key()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	v, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// ParseLevel parses a level name ("admin", "VIP") or its numeric value
// ("5"). Matching is case-insensitive.
func ParseLevel(s string) (Level, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for i, name := range levelNames {
		if key == name {
			return Level(i), nil
		}
	}
	if n, err := strconv.Atoi(key); err == nil {
		if l := Level(n); l.Valid() {
			return l, nil
		}
	}
	return Everyone, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}
