package model

import (
	"time"

	"github.com/google/uuid"
)

// Identity represents an authenticated principal. Identities are created by
// the authentication subsystem; this service only creates them through the
// provisioning-time capability and never mutates them afterwards.
type Identity struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Confirmed bool      `json:"confirmed"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile represents the profiles table, binding an identity to the
// display email and role shown in the UI. IdentityID may lag behind
// identity creation; a null value with a matching confirmed identity is
// drift that the sweep repairs.
type Profile struct {
	ID         uuid.UUID  `json:"id"`
	IdentityID *uuid.UUID `json:"identity_id"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Profile roles.
const (
	RoleOwner         = "owner"
	RoleStaff         = "staff"
	RoleAdministrator = "administrator"
)
