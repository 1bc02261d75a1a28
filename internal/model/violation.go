package model

import "github.com/google/uuid"

// Violation kinds reported by VerifyInvariants and the repair sweep.
const (
	ViolationOwnershipConflict   = "ownership-conflict"
	ViolationMissingOwner        = "missing-owner"
	ViolationUnboundProfile      = "unbound-profile"
	ViolationDuplicateCompletion = "duplicate-completion"
)

// Violation describes one detected invariant breach. It is informational:
// detection never mutates state.
type Violation struct {
	Kind       string      `json:"kind"`
	Message    string      `json:"message"`
	TenantIDs  []uuid.UUID `json:"tenant_ids,omitempty"`
	IdentityID *uuid.UUID  `json:"identity_id,omitempty"`
	ProfileID  *uuid.UUID  `json:"profile_id,omitempty"`
}
