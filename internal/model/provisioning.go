package model

import (
	"time"

	"github.com/google/uuid"
)

// Provisioning ledger statuses. The machine is monotonic: pending may move
// to completed or failed, terminal states never transition again.
const (
	ProvisioningPending   = "pending"
	ProvisioningCompleted = "completed"
	ProvisioningFailed    = "failed"
)

// ProvisioningRecord represents the provisioning_records table: one durable
// row per attempt to stand up a tenant. The status column is the saga state
// for the provisioning workflow; a non-terminal row is the signal the
// repair sweep acts on.
type ProvisioningRecord struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       *uuid.UUID `json:"tenant_id"`
	IdentityID     uuid.UUID  `json:"identity_id"`
	RestaurantName string     `json:"restaurant_name"`
	RestaurantSlug string     `json:"restaurant_slug"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Terminal reports whether the record has left the pending state.
func (r *ProvisioningRecord) Terminal() bool {
	return r.Status == ProvisioningCompleted || r.Status == ProvisioningFailed
}

// AccessRole represents the access_roles table: elevated,
// tenant-independent privileges. Holding one never implies tenant
// ownership; it only exempts an identity from the single-ownership rule.
type AccessRole struct {
	IdentityID uuid.UUID `json:"identity_id"`
	Role       string    `json:"role"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// AccessRole statuses.
const (
	AccessRoleActive  = "active"
	AccessRoleRevoked = "revoked"
)
