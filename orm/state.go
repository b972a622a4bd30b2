package orm

import "fmt"

// EntityState is the lifecycle state of an entity with respect to one entity manager.
type EntityState int

// Lifecycle states.
//
//	transient -> pending -> managed -> (dirty <-> managed) -> removed -> detached
//
// Clearing the entity manager detaches every entity without deleting it.
const (
	// Transient entities were never handed to the entity manager.
	Transient EntityState = iota
	// Pending entities are registered for insertion on the next flush.
	Pending
	// Managed entities are persistent and tracked in the identity map.
	Managed
	// Dirty entities are managed entities marked for an update on the next flush.
	Dirty
	// Removed entities are scheduled for deletion on the next flush.
	Removed
	// Detached entities have an identity but are no longer tracked.
	Detached
)

func (s EntityState) String() string {
	switch s {
	case Transient:
		return "transient"
	case Pending:
		return "pending"
	case Managed:
		return "managed"
	case Dirty:
		return "dirty"
	case Removed:
		return "removed"
	case Detached:
		return "detached"
	default:
		return fmt.Sprintf("EntityState(%d)", int(s))
	}
}

func errUnknownRelation(meta *EntityMeta, name string) error {
	return fmt.Errorf("%w: %s has no relation %q", ErrUnknownField, meta.Name, name)
}
