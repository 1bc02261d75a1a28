package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/tablekeep/tenant-integrity-service/internal/model"
)

// Backend bundles the stores one deployment shares. Postgres and Memory
// both satisfy it.
type Backend interface {
	Identities() IdentityStore
	Tenants() TenantStore
	Profiles() ProfileStore
	Ledger() ProvisioningLedger
	Roles() AccessRoleStore
	AuditLog() AuditLog
	SweepLocker() SweepLocker
}

// IdentityStore reads principal records and exposes the provisioning-time
// creation capability. Identities are otherwise owned by the
// authentication subsystem.
type IdentityStore interface {
	// GetByEmail returns nil, nil when no identity has the email.
	GetByEmail(ctx context.Context, email string) (*model.Identity, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Identity, error)
	// Create registers a new confirmed identity. Returns ErrEmailTaken
	// when the email is already registered.
	Create(ctx context.Context, email string) (*model.Identity, error)
}

// TenantStore owns tenant rows. Slug uniqueness among active tenants is
// enforced at the store level, not by check-then-act in callers.
type TenantStore interface {
	// Create inserts the tenant. Returns ErrConflict when the slug is
	// already taken by an active tenant.
	Create(ctx context.Context, tenant *model.Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
	// GetBySlug returns nil, nil when no active tenant has the slug.
	GetBySlug(ctx context.Context, slug string) (*model.Tenant, error)
	// List returns all active tenants.
	List(ctx context.Context) ([]*model.Tenant, error)
	// ListByOwner returns active tenants owned by the identity.
	ListByOwner(ctx context.Context, identityID uuid.UUID) ([]*model.Tenant, error)
	// SetOwnerIfNull backfills the owner only while it is still null,
	// reporting whether the row was updated. The guard closes the window
	// between a sweep's scan and its repair write.
	SetOwnerIfNull(ctx context.Context, tenantID, identityID uuid.UUID) (bool, error)
	// Delete soft-deletes the tenant. Returns ErrNotFound when the
	// tenant does not exist or is already deleted.
	Delete(ctx context.Context, id uuid.UUID) error
}

// ProfileStore owns profile rows.
type ProfileStore interface {
	Create(ctx context.Context, profile *model.Profile) error
	// GetByIdentity returns nil, nil when the identity has no profile.
	GetByIdentity(ctx context.Context, identityID uuid.UUID) (*model.Profile, error)
	// GetByEmail returns nil, nil when no profile has the email.
	GetByEmail(ctx context.Context, email string) (*model.Profile, error)
	// ListUnbound returns profiles whose identity_id is null.
	ListUnbound(ctx context.Context) ([]*model.Profile, error)
	// BindIdentityIfNull binds the profile to the identity only while
	// identity_id is still null, reporting whether the row was updated.
	BindIdentityIfNull(ctx context.Context, profileID, identityID uuid.UUID) (bool, error)
}

// ProvisioningLedger owns the append-mostly record of provisioning
// attempts. Status transitions are monotonic: pending moves to completed
// or failed, terminal rows never change again.
type ProvisioningLedger interface {
	// Open appends a new record in the pending state.
	Open(ctx context.Context, rec *model.ProvisioningRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ProvisioningRecord, error)
	// MarkCompleted transitions pending -> completed and attaches the
	// tenant id. Returns ErrTerminalState if the record already left
	// pending.
	MarkCompleted(ctx context.Context, id, tenantID uuid.UUID) error
	// MarkFailed transitions pending -> failed with a reason. Returns
	// ErrTerminalState if the record already left pending.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	// LatestCompleted returns the most recent completed record for the
	// tenant, or nil, nil when none exists.
	LatestCompleted(ctx context.Context, tenantID uuid.UUID) (*model.ProvisioningRecord, error)
	// List returns every ledger record.
	List(ctx context.Context) ([]*model.ProvisioningRecord, error)
}

// AccessRoleStore holds elevated, tenant-independent role assignments.
type AccessRoleStore interface {
	HasRole(ctx context.Context, identityID uuid.UUID, role string) (bool, error)
	Grant(ctx context.Context, identityID uuid.UUID, role string) error
	Revoke(ctx context.Context, identityID uuid.UUID, role string) error
}

// AuditLog is the append-only sink for audit records. Implementations
// backing sensitive-table stores append within the mutation's transaction.
type AuditLog interface {
	Append(ctx context.Context, rec *model.AuditRecord) error
	// List returns audit records, newest first.
	List(ctx context.Context, table string, limit int) ([]*model.AuditRecord, error)
}

// SweepLocker serializes repair sweeps. TryLock reports false without
// blocking when another sweep holds the lock.
type SweepLocker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}
