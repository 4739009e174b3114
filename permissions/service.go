package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed   bool
	UserLevel Level
	Required  Level
	// Err is set when the config could not be loaded, in which case the
	// decision was made as if the member had no privileges.
	Err error
}

// Service resolves permissions and applies administrative mutations
// against a [Store]. It holds no config of its own; every call loads a
// fresh snapshot.
type Service struct {
	store    Store
	defaults Defaults
	timeout  time.Duration
	logger   *slog.Logger

	// lastOverrides are the command overrides of the last config that was
	// read successfully. During an outage they can only raise a command's
	// required level.
	mu            sync.Mutex
	lastOverrides map[string]Level
}

type ServiceOption func(*Service)

// WithDefaults sets the baseline restored by ResetToDefaults.
func WithDefaults(d Defaults) ServiceOption {
	return func(s *Service) {
		s.defaults = d
	}
}

// WithTimeout bounds every store call whose context has no deadline.
func WithTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.timeout = d
	}
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		timeout: DefaultStoreTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// withTimeout bounds ctx by d unless it already has a deadline.
func withTimeout(ctx context.Context, d time.Duration) (
	context.Context,
	context.CancelFunc,
) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// Snapshot returns the current config.
func (s *Service) Snapshot(ctx context.Context) (Config, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfigUnavailable, err)
	}
	s.remember(cfg)
	return cfg, nil
}

func (s *Service) remember(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOverrides = maps.Clone(cfg.CommandOverrides)
}

// fallbackRequired is the level cmd requires when the config can't be
// read: its default, or a stricter override seen before the outage.
func (s *Service) fallbackRequired(cmd Command) Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(cmd.DefaultLevel, s.lastOverrides[cmd.Name])
}

// UserLevel resolves m's level. If the config can't be loaded, m resolves
// to Everyone and the error is returned alongside.
func (s *Service) UserLevel(ctx context.Context, m Member) (Level, error) {
	cfg, err := s.Snapshot(ctx)
	if err != nil {
		s.logger.WarnContext(
			ctx, "resolving user level failed closed",
			"user_id", m.ID, tint.Err(err),
		)
		return Everyone, err
	}
	return ResolveUserLevel(m, cfg), nil
}

// Authorize decides whether m may run cmd. On a storage error the member
// is treated as Everyone, so only commands requiring Everyone are allowed.
// Overrides that were in effect before the error still apply if they are
// stricter than the default.
func (s *Service) Authorize(
	ctx context.Context,
	m Member,
	cmd Command,
) Decision {
	cfg, err := s.Snapshot(ctx)
	if err != nil {
		s.logger.WarnContext(
			ctx, "authorization failed closed",
			"user_id", m.ID,
			"command", cmd.Name,
			tint.Err(err),
		)
		required := s.fallbackRequired(cmd)
		return Decision{
			Allowed:   required <= Everyone,
			UserLevel: Everyone,
			Required:  required,
			Err:       err,
		}
	}
	d := Decision{
		UserLevel: ResolveUserLevel(m, cfg),
		Required:  RequiredLevel(cmd, cfg),
	}
	d.Allowed = d.UserLevel >= d.Required
	return d
}

// LineAccess reports whether m may use the line image. Storage errors
// deny.
func (s *Service) LineAccess(ctx context.Context, m Member) (bool, error) {
	cfg, err := s.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return CanUseLine(m, cfg), nil
}

// mutate runs fn through the store. Errors produced by fn itself are
// returned untouched, anything else is reported as ErrConfigUnavailable.
func (s *Service) mutate(
	ctx context.Context,
	op string,
	fn func(*Config) (Result, error),
) (Result, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var result Result
	var opErr error
	cfg, err := s.store.Update(
		ctx, func(c *Config) (bool, error) {
			result, opErr = fn(c)
			if opErr != nil {
				return false, opErr
			}
			return result == Applied, nil
		},
	)
	if opErr != nil {
		return result, opErr
	}
	if err != nil {
		s.logger.ErrorContext(
			ctx, "permission update failed",
			"operation", op, tint.Err(err),
		)
		return result, fmt.Errorf("%w: %w", ErrConfigUnavailable, err)
	}
	s.remember(cfg)
	if result == Applied {
		s.logger.InfoContext(ctx, "permissions updated", "operation", op)
	}
	return result, nil
}

func checkID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyID, kind)
	}
	return nil
}

func (s *Service) AddOwner(ctx context.Context, userID string) (Result, error) {
	if err := checkID("user", userID); err != nil {
		return NotPresent, err
	}
	return s.mutate(
		ctx, "add_owner", func(c *Config) (Result, error) {
			if slices.Contains(c.Owners, userID) {
				return AlreadyPresent, nil
			}
			c.Owners = append(c.Owners, userID)
			return Applied, nil
		},
	)
}

// RemoveOwner removes userID from the owners. actorID is recorded in the
// log; removal of the last owner is refused no matter who asks.
func (s *Service) RemoveOwner(
	ctx context.Context,
	actorID string,
	userID string,
) (Result, error) {
	if err := checkID("user", userID); err != nil {
		return NotPresent, err
	}
	res, err := s.mutate(
		ctx, "remove_owner", func(c *Config) (Result, error) {
			idx := slices.Index(c.Owners, userID)
			if idx < 0 {
				return NotPresent, nil
			}
			if len(c.Owners) == 1 {
				return NotPresent, ErrLastOwner
			}
			c.Owners = slices.Delete(c.Owners, idx, idx+1)
			return Applied, nil
		},
	)
	if res == Applied {
		s.logger.InfoContext(
			ctx, "owner removed",
			"actor_id", actorID, "user_id", userID,
		)
	}
	return res, err
}

// SetRoleLevel grants level to roleID. The role keeps any other levels it
// already grants.
func (s *Service) SetRoleLevel(
	ctx context.Context,
	roleID string,
	level Level,
) (Result, error) {
	if err := checkID("role", roleID); err != nil {
		return NotPresent, err
	}
	if !level.Grantable() {
		return NotPresent, fmt.Errorf(
			"%w: %s cannot be granted through a role",
			ErrInvalidLevel, level,
		)
	}
	return s.mutate(
		ctx, "set_role_level", func(c *Config) (Result, error) {
			if slices.Contains(c.RolesByLevel[level], roleID) {
				return AlreadyPresent, nil
			}
			c.RolesByLevel[level] = append(c.RolesByLevel[level], roleID)
			return Applied, nil
		},
	)
}

func (s *Service) RemoveRoleFromLevel(
	ctx context.Context,
	roleID string,
	level Level,
) (Result, error) {
	if err := checkID("role", roleID); err != nil {
		return NotPresent, err
	}
	if !level.Grantable() {
		return NotPresent, fmt.Errorf("%w: %s", ErrInvalidLevel, level)
	}
	return s.mutate(
		ctx, "remove_role_from_level", func(c *Config) (Result, error) {
			if !removeFromLevel(c, roleID, level) {
				return NotPresent, nil
			}
			return Applied, nil
		},
	)
}

func (s *Service) RemoveRoleEverywhere(
	ctx context.Context,
	roleID string,
) (Result, error) {
	if err := checkID("role", roleID); err != nil {
		return NotPresent, err
	}
	return s.mutate(
		ctx, "remove_role_everywhere", func(c *Config) (Result, error) {
			removed := false
			for _, lvl := range RoleLevels {
				if removeFromLevel(c, roleID, lvl) {
					removed = true
				}
			}
			if !removed {
				return NotPresent, nil
			}
			return Applied, nil
		},
	)
}

func removeFromLevel(c *Config, roleID string, level Level) bool {
	roles := c.RolesByLevel[level]
	idx := slices.Index(roles, roleID)
	if idx < 0 {
		return false
	}
	roles = slices.Delete(roles, idx, idx+1)
	if len(roles) == 0 {
		delete(c.RolesByLevel, level)
	} else {
		c.RolesByLevel[level] = roles
	}
	return true
}

func (s *Service) SetUserOverride(
	ctx context.Context,
	userID string,
	level Level,
) (Result, error) {
	if err := checkID("user", userID); err != nil {
		return NotPresent, err
	}
	if !level.Valid() {
		return NotPresent, fmt.Errorf("%w: %d", ErrInvalidLevel, int(level))
	}
	return s.mutate(
		ctx, "set_user_override", func(c *Config) (Result, error) {
			if cur, ok := c.UserOverrides[userID]; ok && cur == level {
				return AlreadyPresent, nil
			}
			c.UserOverrides[userID] = level
			return Applied, nil
		},
	)
}

func (s *Service) RemoveUserOverride(
	ctx context.Context,
	userID string,
) (Result, error) {
	if err := checkID("user", userID); err != nil {
		return NotPresent, err
	}
	return s.mutate(
		ctx, "remove_user_override", func(c *Config) (Result, error) {
			if _, ok := c.UserOverrides[userID]; !ok {
				return NotPresent, nil
			}
			delete(c.UserOverrides, userID)
			return Applied, nil
		},
	)
}

func (s *Service) SetCommandOverride(
	ctx context.Context,
	command string,
	level Level,
) (Result, error) {
	command = strings.ToLower(strings.TrimSpace(command))
	if err := checkID("command", command); err != nil {
		return NotPresent, err
	}
	if !level.Valid() {
		return NotPresent, fmt.Errorf("%w: %d", ErrInvalidLevel, int(level))
	}
	return s.mutate(
		ctx, "set_command_override", func(c *Config) (Result, error) {
			if cur, ok := c.CommandOverrides[command]; ok && cur == level {
				return AlreadyPresent, nil
			}
			c.CommandOverrides[command] = level
			return Applied, nil
		},
	)
}

func (s *Service) RemoveCommandOverride(
	ctx context.Context,
	command string,
) (Result, error) {
	command = strings.ToLower(strings.TrimSpace(command))
	if err := checkID("command", command); err != nil {
		return NotPresent, err
	}
	return s.mutate(
		ctx, "remove_command_override", func(c *Config) (Result, error) {
			if _, ok := c.CommandOverrides[command]; !ok {
				return NotPresent, nil
			}
			delete(c.CommandOverrides, command)
			return Applied, nil
		},
	)
}

func (s *Service) AddLineAccessRole(
	ctx context.Context,
	roleID string,
) (Result, error) {
	if err := checkID("role", roleID); err != nil {
		return NotPresent, err
	}
	return s.mutate(
		ctx, "add_line_access_role", func(c *Config) (Result, error) {
			if slices.Contains(c.LineAccessRoles, roleID) {
				return AlreadyPresent, nil
			}
			c.LineAccessRoles = append(c.LineAccessRoles, roleID)
			return Applied, nil
		},
	)
}

func (s *Service) RemoveLineAccessRole(
	ctx context.Context,
	roleID string,
) (Result, error) {
	if err := checkID("role", roleID); err != nil {
		return NotPresent, err
	}
	return s.mutate(
		ctx, "remove_line_access_role", func(c *Config) (Result, error) {
			idx := slices.Index(c.LineAccessRoles, roleID)
			if idx < 0 {
				return NotPresent, nil
			}
			c.LineAccessRoles = slices.Delete(c.LineAccessRoles, idx, idx+1)
			return Applied, nil
		},
	)
}

// ResetToDefaults restores role levels, overrides and line access roles
// to the service defaults. Owners are kept.
func (s *Service) ResetToDefaults(ctx context.Context) error {
	_, err := s.mutate(
		ctx, "reset_to_defaults", func(c *Config) (Result, error) {
			owners := c.Owners
			c.applyDefaults(s.defaults)
			c.Owners = owners
			return Applied, nil
		},
	)
	return err
}

// IsOperationError reports whether err is a rejection of the requested
// change, as opposed to a storage failure.
func IsOperationError(err error) bool {
	return errors.Is(err, ErrLastOwner) ||
		errors.Is(err, ErrInvalidLevel) ||
		errors.Is(err, ErrEmptyID) ||
		errors.Is(err, ErrAboveActorLevel)
}
