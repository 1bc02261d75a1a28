package service

import "github.com/pkg/errors"

var (
	// ErrInvalidRequest is returned when provisioning input fails
	// validation. The caller must fix the request, not retry it.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrIdentityCreateFailed is returned when the upstream identity
	// provider rejects the creation. Surfaced as-is, never retried
	// automatically.
	ErrIdentityCreateFailed = errors.New("identity creation failed")

	// ErrOwnerAlreadyBound is returned when the owner identity already
	// owns another tenant and holds no administrator access role.
	// Ownership is never silently shared.
	ErrOwnerAlreadyBound = errors.New("owner already bound to another tenant")

	// ErrSweepRunning is returned when a repair sweep is requested while
	// another one holds the sweep lock.
	ErrSweepRunning = errors.New("repair sweep already running")
)
