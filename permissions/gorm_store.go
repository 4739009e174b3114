package permissions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultRecordName is the name of the single permission record.
	DefaultRecordName = "permissions"

	DefaultStoreTimeout = 5 * time.Second

	dialectPostgres = "postgres"
)

// Record is the database row holding the whole permission config.
type Record struct {
	Name             string             `gorm:"primaryKey;size:64" json:"name"`
	Owners           []string           `gorm:"serializer:json" json:"owners"`
	RolesByLevel     map[Level][]string `gorm:"serializer:json" json:"roles_by_level"`
	UserOverrides    map[string]Level   `gorm:"serializer:json" json:"user_overrides"`
	CommandOverrides map[string]Level   `gorm:"serializer:json" json:"command_overrides"`
	LineAccessRoles  []string           `gorm:"serializer:json" json:"line_access_roles"`
	Revision         int64              `gorm:"not null;default:0" json:"revision"`
	CreatedAt        int64              `gorm:"autoCreateTime:milli" json:"created_at"`
	UpdatedAt        int64              `gorm:"autoUpdateTime:milli" json:"updated_at"`
}

func (Record) TableName() string {
	return "permission_config"
}

func (r Record) config() Config {
	c := Config{
		Owners:           r.Owners,
		RolesByLevel:     r.RolesByLevel,
		UserOverrides:    r.UserOverrides,
		CommandOverrides: r.CommandOverrides,
		LineAccessRoles:  r.LineAccessRoles,
	}
	c.normalize()
	return c
}

func (r *Record) set(c Config) {
	r.Owners = c.Owners
	r.RolesByLevel = c.RolesByLevel
	r.UserOverrides = c.UserOverrides
	r.CommandOverrides = c.CommandOverrides
	r.LineAccessRoles = c.LineAccessRoles
}

// GormStore keeps the permission config in one row of the
// permission_config table.
//
// Updates run inside a transaction. On PostgreSQL the row is locked with
// SELECT ... FOR UPDATE; on SQLite, which has no row locks, writers in this
// process are serialized with a mutex and the database-level write lock
// covers other processes.
type GormStore struct {
	db      *gorm.DB
	name    string
	seed    Config
	timeout time.Duration
	mu      sync.Mutex
}

// NewGormStore returns a store for the record named name. seed is the
// config used when the record does not exist yet.
func NewGormStore(db *gorm.DB, name string, seed Config) *GormStore {
	if name == "" {
		name = DefaultRecordName
	}
	s := seed.Clone()
	s.normalize()
	return &GormStore{
		db:      db,
		name:    name,
		seed:    s,
		timeout: DefaultStoreTimeout,
	}
}

// SetTimeout sets the timeout applied to operations whose context has no
// deadline. Zero disables it.
func (s *GormStore) SetTimeout(d time.Duration) {
	s.timeout = d
}

// Migrate creates the permission table if needed.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Record{})
}

// Init creates the record from the seed config if it doesn't exist, and
// returns the stored config.
func (s *GormStore) Init(ctx context.Context) (Config, error) {
	return s.Update(
		ctx, func(*Config) (bool, error) {
			return false, nil
		},
	)
}

func (s *GormStore) Load(ctx context.Context) (Config, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var rec Record
	err := s.db.WithContext(ctx).Where("name = ?", s.name).Take(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.seed.Clone(), nil
	case err != nil:
		return Config{}, err
	}
	return rec.config(), nil
}

func (s *GormStore) Update(
	ctx context.Context,
	fn func(*Config) (bool, error),
) (Config, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	postgres := s.db.Dialector.Name() == dialectPostgres
	if !postgres {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	var result Config
	err := s.db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			q := tx.Where("name = ?", s.name)
			if postgres {
				q = q.Clauses(clause.Locking{Strength: "UPDATE"})
			}

			var rec Record
			err := q.Take(&rec).Error
			exists := true
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				exists = false
				rec = Record{Name: s.name}
				rec.set(s.seed.Clone())
			case err != nil:
				return err
			}

			working := rec.config().Clone()
			changed, err := fn(&working)
			if err != nil {
				return err
			}

			if changed {
				rec.set(working)
				rec.Revision++
			}
			switch {
			case !exists:
				if err = tx.Create(&rec).Error; err != nil {
					return fmt.Errorf("creating permission record: %w", err)
				}
			case changed:
				if err = tx.Save(&rec).Error; err != nil {
					return fmt.Errorf("saving permission record: %w", err)
				}
			}
			result = rec.config()
			return nil
		},
	)
	if err != nil {
		return Config{}, err
	}
	return result, nil
}
