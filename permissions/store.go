package permissions

import (
	"context"
	"sync"
)

// Store persists the permission [Config] as a single record.
type Store interface {
	// Load returns a fresh snapshot of the config.
	Load(ctx context.Context) (Config, error)

	// Update atomically applies fn to the current config. fn reports
	// whether it changed anything; only changed configs are written. An
	// error returned by fn aborts the update. Update returns the config
	// as it was left after fn.
	Update(ctx context.Context, fn func(*Config) (bool, error)) (Config, error)
}

// MemoryStore is an in-process [Store], used by tests and by the offline
// CLI when no database is configured.
type MemoryStore struct {
	mu  sync.Mutex
	cfg Config

	// LoadErr and UpdateErr, when set, are returned by the next calls to
	// Load and Update respectively.
	LoadErr   error
	UpdateErr error

	writes int
}

// NewMemoryStore returns a MemoryStore holding a copy of cfg.
func NewMemoryStore(cfg Config) *MemoryStore {
	c := cfg.Clone()
	c.normalize()
	return &MemoryStore{cfg: c}
}

func (s *MemoryStore) Load(ctx context.Context) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return Config{}, s.LoadErr
	}
	return s.cfg.Clone(), nil
}

func (s *MemoryStore) Update(
	ctx context.Context,
	fn func(*Config) (bool, error),
) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return Config{}, s.UpdateErr
	}
	working := s.cfg.Clone()
	working.normalize()
	changed, err := fn(&working)
	if err != nil {
		return s.cfg.Clone(), err
	}
	if changed {
		s.cfg = working
		s.writes++
	}
	return s.cfg.Clone(), nil
}

// Writes returns how many updates changed the stored config.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
