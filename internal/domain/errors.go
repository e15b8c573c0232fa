package domain

import "errors"

var (
	// ErrConnect is returned when a backend factory cannot build a resource
	// (bad credentials, unreachable host, refused connection).
	ErrConnect = errors.New("backend connect failed")

	// ErrPoolExhausted is returned when global capacity is reached and no idle
	// entry is available for eviction.
	ErrPoolExhausted = errors.New("pool exhausted: no idle entry to evict")

	// ErrAcquireTimeout is returned when a caller-configured acquire wait expires.
	ErrAcquireTimeout = errors.New("acquire timed out waiting for capacity")

	// ErrStaleHandle is returned when releasing a handle whose entry has already
	// been force-closed.
	ErrStaleHandle = errors.New("stale handle: entry already closed")

	// ErrShutdown is returned for acquisitions attempted while the registry
	// is draining.
	ErrShutdown = errors.New("shutdown in progress")

	// ErrEntryBusy is returned when evicting an entry that still has
	// outstanding checkouts.
	ErrEntryBusy = errors.New("entry has outstanding checkouts")

	// ErrTenantNotFound is returned when the requested tenant record doesn't exist.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrInvalidConfig is returned when a backend configuration fails validation
	// at the store boundary.
	ErrInvalidConfig = errors.New("invalid backend configuration")

	// ErrUnsupportedBackend is returned for a backend type with no factory strategy.
	ErrUnsupportedBackend = errors.New("unsupported backend type")
)
