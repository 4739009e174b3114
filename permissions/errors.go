package permissions

import "errors"

var (
	// ErrConfigUnavailable is returned (wrapped) when the permission config
	// could not be read from or written to its store.
	ErrConfigUnavailable = errors.New("permission config unavailable")

	// ErrInvalidLevel is returned when a level is out of range, cannot be
	// parsed, or cannot be used for the requested mutation.
	ErrInvalidLevel = errors.New("invalid permission level")

	// ErrLastOwner is returned when a removal would leave no owners.
	ErrLastOwner = errors.New("cannot remove the last owner")

	// ErrEmptyID is returned when a user, role or command identifier is blank.
	ErrEmptyID = errors.New("identifier must not be empty")

	// ErrAboveActorLevel is returned when a change would grant, or touch,
	// a level above the level of whoever is making it.
	ErrAboveActorLevel = errors.New("level is above the actor's own")
)

// Result describes the outcome of an idempotent mutation.
type Result int

const (
	// Applied means the config changed and was persisted.
	Applied Result = iota
	// AlreadyPresent means the requested entry already existed, nothing
	// was written.
	AlreadyPresent
	// NotPresent means there was nothing to remove.
	NotPresent
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case AlreadyPresent:
		return "already present"
	case NotPresent:
		return "not present"
	default:
		return "unknown"
	}
}
