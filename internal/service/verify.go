package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tablekeep/tenant-integrity-service/internal/model"
	"github.com/tablekeep/tenant-integrity-service/internal/monitoring"
)

// VerifyInvariants runs the read-only integrity check: single ownership
// unless administrator, eventual ownership, profile binding, and the
// at-most-one-completed ledger rule. It reports drift, it never repairs.
func (r *Reconciler) VerifyInvariants(ctx context.Context) ([]model.Violation, error) {
	var violations []model.Violation

	tenants, err := r.tenants.List(ctx)
	if err != nil {
		return nil, err
	}

	byOwner := make(map[uuid.UUID][]uuid.UUID)
	for _, tenant := range tenants {
		if !tenant.Owned() {
			violations = append(violations, model.Violation{
				Kind:      model.ViolationMissingOwner,
				Message:   fmt.Sprintf("tenant %s has no owner", tenant.ID),
				TenantIDs: []uuid.UUID{tenant.ID},
			})
			continue
		}
		byOwner[*tenant.OwnerIdentityID] = append(byOwner[*tenant.OwnerIdentityID], tenant.ID)
	}

	owners := make([]uuid.UUID, 0, len(byOwner))
	for owner := range byOwner {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].String() < owners[j].String() })

	for _, owner := range owners {
		ids := byOwner[owner]
		if len(ids) < 2 {
			continue
		}
		admin, err := r.roles.HasRole(ctx, owner, model.RoleAdministrator)
		if err != nil {
			return nil, err
		}
		if admin {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
		ownerID := owner
		violations = append(violations, model.Violation{
			Kind:       model.ViolationOwnershipConflict,
			Message:    fmt.Sprintf("identity %s owns %d tenants", owner, len(ids)),
			TenantIDs:  ids,
			IdentityID: &ownerID,
		})
	}

	records, err := r.ledger.List(ctx)
	if err != nil {
		return nil, err
	}
	completed := make(map[uuid.UUID]int)
	for _, rec := range records {
		if rec.Status == model.ProvisioningCompleted && rec.TenantID != nil {
			completed[*rec.TenantID]++
		}
	}
	completedTenants := make([]uuid.UUID, 0, len(completed))
	for tenantID := range completed {
		completedTenants = append(completedTenants, tenantID)
	}
	sort.Slice(completedTenants, func(i, j int) bool { return completedTenants[i].String() < completedTenants[j].String() })
	for _, tenantID := range completedTenants {
		if n := completed[tenantID]; n > 1 {
			violations = append(violations, model.Violation{
				Kind:      model.ViolationDuplicateCompletion,
				Message:   fmt.Sprintf("tenant %s has %d completed provisioning records", tenantID, n),
				TenantIDs: []uuid.UUID{tenantID},
			})
		}
	}

	unbound, err := r.profiles.ListUnbound(ctx)
	if err != nil {
		return nil, err
	}
	for _, profile := range unbound {
		identity, err := r.identities.GetByEmail(ctx, profile.Email)
		if err != nil {
			return nil, err
		}
		if identity == nil || !identity.Confirmed {
			continue
		}
		profileID := profile.ID
		identityID := identity.ID
		violations = append(violations, model.Violation{
			Kind:       model.ViolationUnboundProfile,
			Message:    fmt.Sprintf("profile %s matches confirmed identity %s but is unbound", profile.ID, identity.ID),
			ProfileID:  &profileID,
			IdentityID: &identityID,
		})
	}

	gaugeViolations(violations)
	return violations, nil
}

func gaugeViolations(violations []model.Violation) {
	counts := map[string]int{
		model.ViolationOwnershipConflict:   0,
		model.ViolationMissingOwner:        0,
		model.ViolationUnboundProfile:      0,
		model.ViolationDuplicateCompletion: 0,
	}
	for _, v := range violations {
		counts[v.Kind]++
	}
	for kind, n := range counts {
		monitoring.InvariantViolations.WithLabelValues(kind).Set(float64(n))
	}
}
