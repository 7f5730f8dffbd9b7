package pool

import "errors"

var (
	// ErrUnknownPool is returned when no pool with the given id exists.
	ErrUnknownPool = errors.New("pool: unknown pool")

	// ErrEmptyPool is returned when registering a pool with no members.
	ErrEmptyPool = errors.New("pool: pool has no members")

	// ErrDuplicateMember is returned when a pool is registered with the
	// same instance id twice.
	ErrDuplicateMember = errors.New("pool: duplicate member instance id")

	// ErrMembershipChanged is returned when a pool id is re-registered
	// with a different member set. Re-registering with the same members
	// is a no-op.
	ErrMembershipChanged = errors.New("pool: pool already registered with different membership")

	// ErrNotCheckedOut is returned when releasing a host that the pool
	// does not consider checked out.
	ErrNotCheckedOut = errors.New("pool: host is not checked out")

	// ErrClosed is returned by operations on a shut-down registry.
	ErrClosed = errors.New("pool: registry is shut down")
)
