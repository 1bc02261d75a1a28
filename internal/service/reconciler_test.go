package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablekeep/tenant-integrity-service/internal/model"
	"github.com/tablekeep/tenant-integrity-service/internal/store"
)

func setupReconciler(t *testing.T) (*Reconciler, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return NewReconciler(mem), mem
}

func TestProvision_EmptyStore(t *testing.T) {
	reconciler, mem := setupReconciler(t)
	ctx := context.Background()

	result, err := reconciler.Provision(ctx, ProvisionRequest{
		Name:       "Nature Village",
		Slug:       "nature-village",
		OwnerEmail: "nv@example.com",
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	tenant, err := mem.Tenants().GetByID(ctx, result.TenantID)
	require.NoError(t, err)
	assert.Equal(t, "Nature Village", tenant.Name)
	assert.Equal(t, "nature-village", tenant.Slug)
	require.NotNil(t, tenant.OwnerIdentityID)
	assert.Equal(t, result.IdentityID, *tenant.OwnerIdentityID)

	identity, err := mem.Identities().GetByEmail(ctx, "nv@example.com")
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, result.IdentityID, identity.ID)

	profile, err := mem.Profiles().GetByIdentity(ctx, identity.ID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, model.RoleOwner, profile.Role)
	assert.Equal(t, "nv@example.com", profile.Email)

	rec, err := mem.Ledger().GetByID(ctx, result.LedgerID)
	require.NoError(t, err)
	assert.Equal(t, model.ProvisioningCompleted, rec.Status)
	require.NotNil(t, rec.TenantID)
	assert.Equal(t, result.TenantID, *rec.TenantID)
}

func TestProvision_InvalidRequest(t *testing.T) {
	reconciler, _ := setupReconciler(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  ProvisionRequest
	}{
		{"missing name", ProvisionRequest{Slug: "a-slug", OwnerEmail: "a@example.com"}},
		{"missing email", ProvisionRequest{Name: "A", Slug: "a-slug"}},
		{"bad email", ProvisionRequest{Name: "A", Slug: "a-slug", OwnerEmail: "not-an-email"}},
		{"uppercase slug", ProvisionRequest{Name: "A", Slug: "Bad-Slug", OwnerEmail: "a@example.com"}},
		{"leading hyphen", ProvisionRequest{Name: "A", Slug: "-slug", OwnerEmail: "a@example.com"}},
		{"trailing hyphen", ProvisionRequest{Name: "A", Slug: "slug-", OwnerEmail: "a@example.com"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reconciler.Provision(ctx, tc.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestProvision_SlugConflict(t *testing.T) {
	reconciler, _ := setupReconciler(t)
	ctx := context.Background()

	_, err := reconciler.Provision(ctx, ProvisionRequest{
		Name: "First", Slug: "taken", OwnerEmail: "first@example.com",
	})
	require.NoError(t, err)

	_, err = reconciler.Provision(ctx, ProvisionRequest{
		Name: "Second", Slug: "taken", OwnerEmail: "second@example.com",
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestProvision_ConcurrentSameSlug(t *testing.T) {
	reconciler, _ := setupReconciler(t)
	ctx := context.Background()

	const n = 8
	results := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = reconciler.Provision(ctx, ProvisionRequest{
				Name: "Raced", Slug: "raced",
				OwnerEmail: uuid.NewString() + "@example.com",
			})
		}(i)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, store.ErrConflict), errors.Is(err, ErrOwnerAlreadyBound):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
}

func TestProvision_OwnerAlreadyBound(t *testing.T) {
	reconciler, mem := setupReconciler(t)
	ctx := context.Background()

	first, err := reconciler.Provision(ctx, ProvisionRequest{
		Name: "First", Slug: "first", OwnerEmail: "owner@example.com",
	})
	require.NoError(t, err)

	_, err = reconciler.Provision(ctx, ProvisionRequest{
		Name: "Second", Slug: "second", OwnerEmail: "owner@example.com",
	})
	assert.ErrorIs(t, err, ErrOwnerAlreadyBound)

	// The failed attempt must leave a failed ledger entry, not a pending one.
	recs, err := mem.Ledger().List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	var failed int
	for _, rec := range recs {
		if rec.Status == model.ProvisioningFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	// The first tenant is untouched.
	tenant, err := mem.Tenants().GetByID(ctx, first.TenantID)
	require.NoError(t, err)
	assert.True(t, tenant.Owned())
}

func TestProvision_AdministratorOwnsSeveral(t *testing.T) {
	reconciler, mem := setupReconciler(t)
	ctx := context.Background()

	first, err := reconciler.Provision(ctx, ProvisionRequest{
		Name: "First", Slug: "admin-first", OwnerEmail: "admin@example.com",
	})
	require.NoError(t, err)
	require.NoError(t, mem.Roles().Grant(ctx, first.IdentityID, model.RoleAdministrator))

	second, err := reconciler.Provision(ctx, ProvisionRequest{
		Name: "Second", Slug: "admin-second", OwnerEmail: "admin@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, first.IdentityID, second.IdentityID)

	owned, err := mem.Tenants().ListByOwner(ctx, first.IdentityID)
	require.NoError(t, err)
	assert.Len(t, owned, 2)
}

func TestProvision_BindsOrphanedProfile(t *testing.T) {
	reconciler, mem := setupReconciler(t)
	ctx := context.Background()

	// A profile created by an earlier partial run, identity linkage lost.
	require.NoError(t, mem.Profiles().Create(ctx, &model.Profile{
		Email: "orphan@example.com",
		Role:  model.RoleOwner,
	}))
	orphan, err := mem.Profiles().GetByEmail(ctx, "orphan@example.com")
	require.NoError(t, err)
	require.Nil(t, orphan.IdentityID)

	result, err := reconciler.Provision(ctx, ProvisionRequest{
		Name: "Orphan Cafe", Slug: "orphan-cafe", OwnerEmail: "orphan@example.com",
	})
	require.NoError(t, err)

	// The existing profile was bound in place, not duplicated.
	bound, err := mem.Profiles().GetByIdentity(ctx, result.IdentityID)
	require.NoError(t, err)
	require.NotNil(t, bound)
	assert.Equal(t, orphan.ID, bound.ID)
}

func TestProvision_AuditFailureAbortsMutation(t *testing.T) {
	reconciler, mem := setupReconciler(t)
	ctx := context.Background()

	mem.AuditErr = errors.New("audit store down")
	_, err := reconciler.Provision(ctx, ProvisionRequest{
		Name: "Blocked", Slug: "blocked", OwnerEmail: "blocked@example.com",
	})
	assert.ErrorIs(t, err, store.ErrAuditWriteFailed)

	// Nothing audited was ever created.
	tenant, err := mem.Tenants().GetBySlug(ctx, "blocked")
	require.NoError(t, err)
	assert.Nil(t, tenant)
	recs, err := mem.Ledger().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestIsValidSlug(t *testing.T) {
	valid := []string{"a", "a1", "nature-village", "x-y-z", "0slug9"}
	for _, s := range valid {
		assert.True(t, isValidSlug(s), s)
	}
	invalid := []string{"", "-a", "a-", "UPPER", "with space", "under_score", "héllo"}
	for _, s := range invalid {
		assert.False(t, isValidSlug(s), s)
	}
}
