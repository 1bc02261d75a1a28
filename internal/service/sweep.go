package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tablekeep/tenant-integrity-service/internal/model"
	"github.com/tablekeep/tenant-integrity-service/internal/monitoring"
)

// OwnerBackfill records one null owner repaired from the ledger.
type OwnerBackfill struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	IdentityID uuid.UUID `json:"identity_id"`
	LedgerID   uuid.UUID `json:"ledger_id"`
}

// OwnerGroup names an identity owning more than one tenant.
type OwnerGroup struct {
	IdentityID uuid.UUID   `json:"identity_id"`
	TenantIDs  []uuid.UUID `json:"tenant_ids"`
}

// ProfileBinding records one orphaned profile bound to its identity.
type ProfileBinding struct {
	ProfileID  uuid.UUID `json:"profile_id"`
	IdentityID uuid.UUID `json:"identity_id"`
}

// SweepError is one per-row failure the sweep collected instead of
// aborting on.
type SweepError struct {
	Subject string `json:"subject"`
	Error   string `json:"error"`
}

// Report is the outcome of one repair sweep.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	OwnerBackfills     []OwnerBackfill `json:"owner_backfills,omitempty"`
	Unprovisioned      []uuid.UUID     `json:"unprovisioned,omitempty"`
	OwnershipConflicts []OwnerGroup    `json:"ownership_conflicts,omitempty"`
	// AdminOwners lists administrator identities legitimately owning
	// several tenants. Visible for operators, never treated as drift.
	AdminOwners     []OwnerGroup     `json:"admin_owners,omitempty"`
	ProfileBindings []ProfileBinding `json:"profile_bindings,omitempty"`
	Errors          []SweepError     `json:"errors,omitempty"`
}

// Repaired reports whether the sweep changed anything. A second sweep over
// an unchanged store must return a report with Repaired() == false.
func (r *Report) Repaired() bool {
	return len(r.OwnerBackfills) > 0 || len(r.ProfileBindings) > 0
}

// RepairSweep detects and repairs drift across the four stores. At most
// one sweep runs at a time; rows may mutate mid-scan, so every repair
// re-checks its precondition at write time through the stores' guarded
// updates. Cancelling the context stops the sweep; repairs already
// committed stand.
func (r *Reconciler) RepairSweep(ctx context.Context) (*Report, error) {
	release, ok, err := r.locker.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSweepRunning
	}
	defer release()

	start := time.Now()
	defer func() {
		monitoring.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	report := &Report{StartedAt: start.UTC()}
	log.Info().Msg("Repair sweep started")

	if err := r.backfillOwners(ctx, report); err != nil {
		return report, err
	}
	if err := r.flagSharedOwners(ctx, report); err != nil {
		return report, err
	}
	if err := r.bindOrphanedProfiles(ctx, report); err != nil {
		return report, err
	}

	report.FinishedAt = time.Now().UTC()
	log.Info().
		Int("owner_backfills", len(report.OwnerBackfills)).
		Int("unprovisioned", len(report.Unprovisioned)).
		Int("ownership_conflicts", len(report.OwnershipConflicts)).
		Int("profile_bindings", len(report.ProfileBindings)).
		Int("errors", len(report.Errors)).
		Msg("Repair sweep finished")
	return report, nil
}

// backfillOwners repairs tenants with a null owner from their most recent
// completed ledger entry. Tenants with no completed entry are reported as
// unprovisioned; no synthetic owner is ever invented.
func (r *Reconciler) backfillOwners(ctx context.Context, report *Report) error {
	tenants, err := r.tenants.List(ctx)
	if err != nil {
		return err
	}
	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			return err
		}
		if tenant.Owned() {
			continue
		}
		rec, err := r.ledger.LatestCompleted(ctx, tenant.ID)
		if err != nil {
			report.Errors = append(report.Errors, SweepError{Subject: "tenant:" + tenant.ID.String(), Error: err.Error()})
			continue
		}
		if rec == nil {
			report.Unprovisioned = append(report.Unprovisioned, tenant.ID)
			continue
		}
		updated, err := r.tenants.SetOwnerIfNull(ctx, tenant.ID, rec.IdentityID)
		if err != nil {
			report.Errors = append(report.Errors, SweepError{Subject: "tenant:" + tenant.ID.String(), Error: err.Error()})
			continue
		}
		if !updated {
			// Owner arrived between scan and repair; nothing to do.
			continue
		}
		monitoring.SweepRepairsTotal.WithLabelValues("owner-backfill").Inc()
		report.OwnerBackfills = append(report.OwnerBackfills, OwnerBackfill{
			TenantID:   tenant.ID,
			IdentityID: rec.IdentityID,
			LedgerID:   rec.ID,
		})
		log.Info().Str("tenant_id", tenant.ID.String()).Str("identity_id", rec.IdentityID.String()).
			Msg("Backfilled tenant owner from ledger")
	}
	return nil
}

// flagSharedOwners reports identities owning several tenants. Without an
// administrator role that is an ownership conflict demanding manual
// resolution: the sweep cannot infer the correct assignment and never
// auto-splits.
func (r *Reconciler) flagSharedOwners(ctx context.Context, report *Report) error {
	tenants, err := r.tenants.List(ctx)
	if err != nil {
		return err
	}
	byOwner := make(map[uuid.UUID][]uuid.UUID)
	for _, tenant := range tenants {
		if tenant.Owned() {
			byOwner[*tenant.OwnerIdentityID] = append(byOwner[*tenant.OwnerIdentityID], tenant.ID)
		}
	}

	owners := make([]uuid.UUID, 0, len(byOwner))
	for owner := range byOwner {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].String() < owners[j].String() })

	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids := byOwner[owner]
		if len(ids) < 2 {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
		group := OwnerGroup{IdentityID: owner, TenantIDs: ids}

		admin, err := r.roles.HasRole(ctx, owner, model.RoleAdministrator)
		if err != nil {
			report.Errors = append(report.Errors, SweepError{Subject: "identity:" + owner.String(), Error: err.Error()})
			continue
		}
		if admin {
			report.AdminOwners = append(report.AdminOwners, group)
			continue
		}
		report.OwnershipConflicts = append(report.OwnershipConflicts, group)
		monitoring.Alert("shared tenant ownership requires manual resolution", map[string]string{
			"identity_id": owner.String(),
		})
	}
	return nil
}

// bindOrphanedProfiles binds profiles with a null identity linkage to the
// confirmed identity matching their email.
func (r *Reconciler) bindOrphanedProfiles(ctx context.Context, report *Report) error {
	profiles, err := r.profiles.ListUnbound(ctx)
	if err != nil {
		return err
	}
	for _, profile := range profiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		identity, err := r.identities.GetByEmail(ctx, profile.Email)
		if err != nil {
			report.Errors = append(report.Errors, SweepError{Subject: "profile:" + profile.ID.String(), Error: err.Error()})
			continue
		}
		if identity == nil || !identity.Confirmed {
			continue
		}
		bound, err := r.profiles.BindIdentityIfNull(ctx, profile.ID, identity.ID)
		if err != nil {
			report.Errors = append(report.Errors, SweepError{Subject: "profile:" + profile.ID.String(), Error: err.Error()})
			continue
		}
		if !bound {
			continue
		}
		monitoring.SweepRepairsTotal.WithLabelValues("profile-binding").Inc()
		report.ProfileBindings = append(report.ProfileBindings, ProfileBinding{
			ProfileID:  profile.ID,
			IdentityID: identity.ID,
		})
		log.Info().Str("profile_id", profile.ID.String()).Str("identity_id", identity.ID.String()).
			Msg("Bound orphaned profile to identity")
	}
	return nil
}
