package model

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents the tenants table. One row per restaurant account.
type Tenant struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Slug            string     `json:"slug"`
	ContactEmail    string     `json:"contact_email,omitempty"` // Plaintext (transient, not stored in DB)
	EncryptedEmail  []byte     `json:"-"`                       // Stored in DB
	EmailIV         []byte     `json:"-"`                       // Stored in DB
	OwnerIdentityID *uuid.UUID `json:"owner_identity_id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// Owned reports whether the tenant has reached a non-null owner.
func (t *Tenant) Owned() bool {
	return t.OwnerIdentityID != nil
}
