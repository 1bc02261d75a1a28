package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tablekeep/tenant-integrity-service/internal/audit"
	"github.com/tablekeep/tenant-integrity-service/internal/model"
)

// Memory is an in-process implementation of every store interface. It
// backs the service tests and keeps the same contracts as Postgres:
// guarded CAS repairs, monotonic ledger transitions, audit appends that
// abort the mutation on failure, and a try-acquire sweep lock.
type Memory struct {
	mu sync.Mutex

	identities map[uuid.UUID]*model.Identity
	tenants    map[uuid.UUID]*model.Tenant
	profiles   map[uuid.UUID]*model.Profile
	records    map[uuid.UUID]*model.ProvisioningRecord
	roles      map[uuid.UUID]map[string]string // identity -> role -> status
	auditLog   []*model.AuditRecord

	engine    *audit.Engine
	sweepLock sync.Mutex

	// AuditErr, when set, makes the next audited mutation fail before
	// applying. Tests use it to check the fail-loudly contract.
	AuditErr error
}

// NewMemory creates an empty in-memory store auditing the default tables.
func NewMemory() *Memory {
	return &Memory{
		identities: make(map[uuid.UUID]*model.Identity),
		tenants:    make(map[uuid.UUID]*model.Tenant),
		profiles:   make(map[uuid.UUID]*model.Profile),
		records:    make(map[uuid.UUID]*model.ProvisioningRecord),
		roles:      make(map[uuid.UUID]map[string]string),
		engine:     audit.NewEngine(audit.DefaultSpecs()...),
	}
}

// Typed views, mirroring Postgres.
func (m *Memory) Identities() IdentityStore  { return memIdentities{m} }
func (m *Memory) Tenants() TenantStore       { return memTenants{m} }
func (m *Memory) Profiles() ProfileStore     { return memProfiles{m} }
func (m *Memory) Ledger() ProvisioningLedger { return memLedger{m} }
func (m *Memory) Roles() AccessRoleStore     { return memRoles{m} }
func (m *Memory) AuditLog() AuditLog         { return memAudit{m} }
func (m *Memory) SweepLocker() SweepLocker   { return m }

type memIdentities struct{ *Memory }
type memTenants struct{ *Memory }
type memProfiles struct{ *Memory }
type memLedger struct{ *Memory }
type memRoles struct{ *Memory }
type memAudit struct{ *Memory }

// TryLock serializes sweeps without blocking.
func (m *Memory) TryLock(context.Context) (func(), bool, error) {
	if !m.sweepLock.TryLock() {
		return nil, false, nil
	}
	return m.sweepLock.Unlock, true, nil
}

// appendAudit records the mutation's audit row, or reports that the
// mutation must not proceed. Callers hold m.mu.
func (m *Memory) appendAudit(ctx context.Context, table, rowID, op string, before, after map[string]any) error {
	if m.AuditErr != nil {
		return errors.Wrap(ErrAuditWriteFailed, m.AuditErr.Error())
	}
	if rec := m.engine.Record(table, rowID, audit.Actor(ctx), op, before, after); rec != nil {
		m.auditLog = append(m.auditLog, rec)
	}
	return nil
}

func (s memIdentities) GetByEmail(_ context.Context, email string) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range s.identities {
		if identity.Email == email {
			clone := *identity
			return &clone, nil
		}
	}
	return nil, nil
}

func (s memIdentities) GetByID(_ context.Context, id uuid.UUID) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "identity %s", id)
	}
	clone := *identity
	return &clone, nil
}

func (s memIdentities) Create(_ context.Context, email string) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range s.identities {
		if identity.Email == email {
			return nil, errors.Wrapf(ErrEmailTaken, "email %q", email)
		}
	}
	identity := &model.Identity{ID: uuid.New(), Email: email, Confirmed: true, CreatedAt: time.Now().UTC()}
	s.identities[identity.ID] = identity
	clone := *identity
	return &clone, nil
}

// AddIdentity seeds an identity directly, for tests.
func (m *Memory) AddIdentity(identity *model.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	m.identities[identity.ID] = identity
}

func (s memTenants) Create(ctx context.Context, tenant *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tenants {
		if existing.DeletedAt == nil && existing.Slug == tenant.Slug {
			return errors.Wrapf(ErrConflict, "slug %q already exists", tenant.Slug)
		}
	}
	tenant.ID = uuid.New()
	tenant.CreatedAt = time.Now().UTC()
	tenant.UpdatedAt = tenant.CreatedAt
	if err := s.appendAudit(ctx, "tenants", tenant.ID.String(), model.AuditInsert, nil, map[string]any{
		"name": tenant.Name, "slug": tenant.Slug, "owner_identity_id": tenant.OwnerIdentityID,
	}); err != nil {
		return err
	}
	clone := *tenant
	s.tenants[tenant.ID] = &clone
	return nil
}

func (s memTenants) GetByID(_ context.Context, id uuid.UUID) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.tenants[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "tenant %s", id)
	}
	clone := *tenant
	return &clone, nil
}

func (s memTenants) GetBySlug(_ context.Context, slug string) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tenant := range s.tenants {
		if tenant.DeletedAt == nil && tenant.Slug == slug {
			clone := *tenant
			return &clone, nil
		}
	}
	return nil, nil
}

func (s memTenants) List(_ context.Context) ([]*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tenants []*model.Tenant
	for _, tenant := range s.tenants {
		if tenant.DeletedAt == nil {
			clone := *tenant
			tenants = append(tenants, &clone)
		}
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].CreatedAt.Before(tenants[j].CreatedAt) })
	return tenants, nil
}

func (s memTenants) ListByOwner(_ context.Context, identityID uuid.UUID) ([]*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tenants []*model.Tenant
	for _, tenant := range s.tenants {
		if tenant.DeletedAt == nil && tenant.OwnerIdentityID != nil && *tenant.OwnerIdentityID == identityID {
			clone := *tenant
			tenants = append(tenants, &clone)
		}
	}
	return tenants, nil
}

func (s memTenants) SetOwnerIfNull(ctx context.Context, tenantID, identityID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.tenants[tenantID]
	if !ok || tenant.DeletedAt != nil || tenant.OwnerIdentityID != nil {
		return false, nil
	}
	if err := s.appendAudit(ctx, "tenants", tenantID.String(), model.AuditUpdate,
		map[string]any{"owner_identity_id": nil},
		map[string]any{"owner_identity_id": identityID.String()}); err != nil {
		return false, err
	}
	owner := identityID
	tenant.OwnerIdentityID = &owner
	tenant.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s memTenants) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.tenants[id]
	if !ok || tenant.DeletedAt != nil {
		return errors.Wrapf(ErrNotFound, "tenant %s", id)
	}
	now := time.Now().UTC()
	if err := s.appendAudit(ctx, "tenants", id.String(), model.AuditDelete, nil,
		map[string]any{"deleted_at": now}); err != nil {
		return err
	}
	tenant.DeletedAt = &now
	tenant.UpdatedAt = now
	return nil
}

// SetOwner force-sets an owner, for seeding drift scenarios in tests.
func (m *Memory) SetOwner(tenantID uuid.UUID, identityID *uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tenant, ok := m.tenants[tenantID]; ok {
		tenant.OwnerIdentityID = identityID
	}
}

func (s memProfiles) Create(ctx context.Context, profile *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile.ID = uuid.New()
	profile.CreatedAt = time.Now().UTC()
	profile.UpdatedAt = profile.CreatedAt
	if err := s.appendAudit(ctx, "profiles", profile.ID.String(), model.AuditInsert, nil, map[string]any{
		"email": profile.Email, "role": profile.Role, "identity_id": profile.IdentityID,
	}); err != nil {
		return err
	}
	clone := *profile
	s.profiles[profile.ID] = &clone
	return nil
}

func (s memProfiles) GetByIdentity(_ context.Context, identityID uuid.UUID) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, profile := range s.profiles {
		if profile.IdentityID != nil && *profile.IdentityID == identityID {
			clone := *profile
			return &clone, nil
		}
	}
	return nil, nil
}

func (s memProfiles) GetByEmail(_ context.Context, email string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, profile := range s.profiles {
		if profile.Email == email {
			clone := *profile
			return &clone, nil
		}
	}
	return nil, nil
}

func (s memProfiles) ListUnbound(_ context.Context) ([]*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var profiles []*model.Profile
	for _, profile := range s.profiles {
		if profile.IdentityID == nil {
			clone := *profile
			profiles = append(profiles, &clone)
		}
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].CreatedAt.Before(profiles[j].CreatedAt) })
	return profiles, nil
}

func (s memProfiles) BindIdentityIfNull(ctx context.Context, profileID, identityID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[profileID]
	if !ok || profile.IdentityID != nil {
		return false, nil
	}
	if err := s.appendAudit(ctx, "profiles", profileID.String(), model.AuditUpdate,
		map[string]any{"identity_id": nil},
		map[string]any{"identity_id": identityID.String()}); err != nil {
		return false, err
	}
	id := identityID
	profile.IdentityID = &id
	profile.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s memLedger) Open(ctx context.Context, rec *model.ProvisioningRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = uuid.New()
	rec.Status = model.ProvisioningPending
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	if err := s.appendAudit(ctx, "provisioning_records", rec.ID.String(), model.AuditInsert, nil, map[string]any{
		"identity_id": rec.IdentityID.String(), "restaurant_slug": rec.RestaurantSlug, "status": rec.Status,
	}); err != nil {
		return err
	}
	clone := *rec
	s.records[rec.ID] = &clone
	return nil
}

func (s memLedger) GetByID(_ context.Context, id uuid.UUID) (*model.ProvisioningRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "provisioning record %s", id)
	}
	clone := *rec
	return &clone, nil
}

func (s memLedger) MarkCompleted(ctx context.Context, id, tenantID uuid.UUID) error {
	return s.transition(ctx, id, model.ProvisioningCompleted, "", &tenantID)
}

func (s memLedger) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.transition(ctx, id, model.ProvisioningFailed, reason, nil)
}

func (s memLedger) transition(ctx context.Context, id uuid.UUID, status, reason string, tenantID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "provisioning record %s", id)
	}
	if rec.Status != model.ProvisioningPending {
		return errors.Wrapf(ErrTerminalState, "record %s", id)
	}
	if err := s.appendAudit(ctx, "provisioning_records", id.String(), model.AuditUpdate,
		map[string]any{"status": rec.Status},
		map[string]any{"status": status, "error": reason}); err != nil {
		return err
	}
	rec.Status = status
	rec.Error = reason
	if tenantID != nil {
		tid := *tenantID
		rec.TenantID = &tid
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s memLedger) LatestCompleted(_ context.Context, tenantID uuid.UUID) (*model.ProvisioningRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.ProvisioningRecord
	for _, rec := range s.records {
		if rec.Status != model.ProvisioningCompleted || rec.TenantID == nil || *rec.TenantID != tenantID {
			continue
		}
		if latest == nil || rec.UpdatedAt.After(latest.UpdatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	clone := *latest
	return &clone, nil
}

func (s memLedger) List(_ context.Context) ([]*model.ProvisioningRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []*model.ProvisioningRecord
	for _, rec := range s.records {
		clone := *rec
		recs = append(recs, &clone)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}

func (s memRoles) HasRole(_ context.Context, identityID uuid.UUID, role string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles[identityID][role] == model.AccessRoleActive, nil
}

func (s memRoles) Grant(ctx context.Context, identityID uuid.UUID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendAudit(ctx, "access_roles", identityID.String(), model.AuditInsert, nil, map[string]any{
		"identity_id": identityID.String(), "role": role, "status": model.AccessRoleActive,
	}); err != nil {
		return err
	}
	if s.roles[identityID] == nil {
		s.roles[identityID] = make(map[string]string)
	}
	s.roles[identityID][role] = model.AccessRoleActive
	return nil
}

func (s memRoles) Revoke(ctx context.Context, identityID uuid.UUID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roles[identityID][role] == "" {
		return errors.Wrapf(ErrNotFound, "role %s for identity %s", role, identityID)
	}
	if err := s.appendAudit(ctx, "access_roles", identityID.String(), model.AuditUpdate,
		map[string]any{"status": model.AccessRoleActive},
		map[string]any{"status": model.AccessRoleRevoked}); err != nil {
		return err
	}
	s.roles[identityID][role] = model.AccessRoleRevoked
	return nil
}

func (s memAudit) Append(ctx context.Context, rec *model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AuditErr != nil {
		return errors.Wrap(ErrAuditWriteFailed, s.AuditErr.Error())
	}
	s.auditLog = append(s.auditLog, rec)
	return nil
}

func (s memAudit) List(_ context.Context, table string, limit int) ([]*model.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []*model.AuditRecord
	for i := len(s.auditLog) - 1; i >= 0 && (limit <= 0 || len(recs) < limit); i-- {
		if s.auditLog[i].Table == table {
			recs = append(recs, s.auditLog[i])
		}
	}
	return recs, nil
}
