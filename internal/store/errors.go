package store

import "github.com/pkg/errors"

// Sentinel errors shared by every store implementation. Callers match them
// with errors.Is; implementations wrap them with context.
var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an insert loses to a uniqueness
	// constraint (tenant slug, identity email as ErrEmailTaken's cause).
	ErrConflict = errors.New("conflict")

	// ErrEmailTaken is returned by identity creation when the email is
	// already registered.
	ErrEmailTaken = errors.New("email already taken")

	// ErrAuditWriteFailed is returned when the audit row for a mutation
	// could not be appended. The mutation itself is rolled back: a write
	// to a sensitive table never succeeds unaudited.
	ErrAuditWriteFailed = errors.New("audit write failed")

	// ErrTerminalState is returned on an attempted transition out of a
	// terminal provisioning status.
	ErrTerminalState = errors.New("provisioning record is terminal")
)
