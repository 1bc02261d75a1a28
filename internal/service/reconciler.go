package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/tablekeep/tenant-integrity-service/internal/model"
	"github.com/tablekeep/tenant-integrity-service/internal/monitoring"
	"github.com/tablekeep/tenant-integrity-service/internal/store"
)

// Reconciler keeps the tenant, identity, profile, and ledger stores
// mutually consistent. Provisioning runs as a saga: every step is locally
// atomic, the ledger status is the durable saga state, and the repair
// sweep is the forward-recovery compensator. There is no distributed
// rollback.
type Reconciler struct {
	identities store.IdentityStore
	tenants    store.TenantStore
	profiles   store.ProfileStore
	ledger     store.ProvisioningLedger
	roles      store.AccessRoleStore
	locker     store.SweepLocker
	validate   *validator.Validate
}

// NewReconciler creates a Reconciler over the backend's stores.
func NewReconciler(backend store.Backend) *Reconciler {
	return &Reconciler{
		identities: backend.Identities(),
		tenants:    backend.Tenants(),
		profiles:   backend.Profiles(),
		ledger:     backend.Ledger(),
		roles:      backend.Roles(),
		locker:     backend.SweepLocker(),
		validate:   validator.New(),
	}
}

// ProvisionRequest is the input to Provision.
type ProvisionRequest struct {
	Name       string `json:"name" validate:"required"`
	Slug       string `json:"slug" validate:"required,min=1,max=63"`
	OwnerEmail string `json:"owner_email" validate:"required,email"`
}

// ProvisionResult identifies the rows a successful provision created.
type ProvisionResult struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	IdentityID uuid.UUID `json:"identity_id"`
	LedgerID   uuid.UUID `json:"ledger_id"`
}

// Provision stands up a tenant with its owner identity, profile, and
// ledger entry. Failures after the ledger entry opens roll it to failed
// and leave partially created rows for the sweep.
func (r *Reconciler) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		monitoring.ProvisionsTotal.WithLabelValues(outcome).Inc()
		monitoring.ProvisionDuration.Observe(time.Since(start).Seconds())
	}()

	if err := r.validate.Struct(req); err != nil {
		outcome = "invalid"
		return nil, errors.Wrap(ErrInvalidRequest, err.Error())
	}
	if !isValidSlug(req.Slug) {
		outcome = "invalid"
		return nil, errors.Wrapf(ErrInvalidRequest, "invalid slug %q", req.Slug)
	}

	// Fast-fail a taken slug before opening a ledger entry. The unique
	// index at insert time still closes the race this check leaves open.
	if existing, err := r.tenants.GetBySlug(ctx, req.Slug); err != nil {
		return nil, err
	} else if existing != nil {
		outcome = "conflict"
		return nil, errors.Wrapf(store.ErrConflict, "slug %q already exists", req.Slug)
	}

	identity, err := r.identities.GetByEmail(ctx, req.OwnerEmail)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		identity, err = r.identities.Create(ctx, req.OwnerEmail)
		if err != nil {
			log.Error().Err(err).Str("email", req.OwnerEmail).Msg("Identity creation failed")
			return nil, errors.Wrap(ErrIdentityCreateFailed, err.Error())
		}
	}

	rec := &model.ProvisioningRecord{
		IdentityID:     identity.ID,
		RestaurantName: req.Name,
		RestaurantSlug: req.Slug,
	}
	if err := r.ledger.Open(ctx, rec); err != nil {
		return nil, err
	}

	fail := func(cause error, reason string) error {
		if err := r.ledger.MarkFailed(ctx, rec.ID, reason); err != nil {
			log.Error().Err(err).Str("ledger_id", rec.ID.String()).Msg("Failed to roll ledger entry to failed")
		}
		return cause
	}

	if err := r.ensureProfile(ctx, identity); err != nil {
		return nil, fail(err, err.Error())
	}

	owned, err := r.tenants.ListByOwner(ctx, identity.ID)
	if err != nil {
		return nil, fail(err, err.Error())
	}
	if len(owned) > 0 {
		admin, err := r.roles.HasRole(ctx, identity.ID, model.RoleAdministrator)
		if err != nil {
			return nil, fail(err, err.Error())
		}
		if !admin {
			outcome = "owner_bound"
			return nil, fail(errors.Wrapf(ErrOwnerAlreadyBound, "identity %s owns tenant %s", identity.ID, owned[0].ID),
				"owner already bound")
		}
	}

	ownerID := identity.ID
	tenant := &model.Tenant{
		Name:            req.Name,
		Slug:            req.Slug,
		ContactEmail:    req.OwnerEmail,
		OwnerIdentityID: &ownerID,
	}
	if err := r.tenants.Create(ctx, tenant); err != nil {
		if errors.Is(err, store.ErrConflict) {
			outcome = "conflict"
		}
		return nil, fail(err, err.Error())
	}

	if err := r.ledger.MarkCompleted(ctx, rec.ID, tenant.ID); err != nil {
		// The tenant exists and is owned; only the ledger lags. Surface
		// the error, the record stays pending for the sweep's report.
		return nil, err
	}

	outcome = "completed"
	log.Info().
		Str("tenant_id", tenant.ID.String()).
		Str("identity_id", identity.ID.String()).
		Str("ledger_id", rec.ID.String()).
		Str("slug", req.Slug).
		Msg("Tenant provisioned")

	return &ProvisionResult{TenantID: tenant.ID, IdentityID: identity.ID, LedgerID: rec.ID}, nil
}

// ensureProfile locates or creates the owner's profile. An existing
// profile with a null identity linkage and a matching email is bound
// in place rather than duplicated.
func (r *Reconciler) ensureProfile(ctx context.Context, identity *model.Identity) error {
	profile, err := r.profiles.GetByIdentity(ctx, identity.ID)
	if err != nil {
		return err
	}
	if profile != nil {
		return nil
	}

	profile, err = r.profiles.GetByEmail(ctx, identity.Email)
	if err != nil {
		return err
	}
	if profile != nil && profile.IdentityID == nil {
		bound, err := r.profiles.BindIdentityIfNull(ctx, profile.ID, identity.ID)
		if err != nil {
			return err
		}
		if bound {
			log.Info().Str("profile_id", profile.ID.String()).Str("identity_id", identity.ID.String()).
				Msg("Bound orphaned profile during provisioning")
			return nil
		}
		// Lost a race to another binder; fall through and re-check.
		profile, err = r.profiles.GetByIdentity(ctx, identity.ID)
		if err != nil {
			return err
		}
		if profile != nil {
			return nil
		}
	}

	ownerID := identity.ID
	return r.profiles.Create(ctx, &model.Profile{
		IdentityID: &ownerID,
		Email:      identity.Email,
		Role:       model.RoleOwner,
	})
}

// isValidSlug checks the slug against ^[a-z0-9]([a-z0-9\-]{0,61}[a-z0-9])?$
func isValidSlug(slug string) bool {
	if len(slug) < 1 || len(slug) > 63 {
		return false
	}
	for i, r := range slug {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if i == 0 || i == len(slug)-1 {
			if !alnum {
				return false
			}
		} else if !alnum && r != '-' {
			return false
		}
	}
	return true
}
