package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablekeep/tenant-integrity-service/internal/audit"
	"github.com/tablekeep/tenant-integrity-service/internal/crypto"
	"github.com/tablekeep/tenant-integrity-service/internal/model"
)

// setupPostgres connects to the database named by TIS_TEST_DATABASE_URL,
// or skips. The schema from scripts/migrations must already be applied.
func setupPostgres(t *testing.T) (*Postgres, func()) {
	t.Helper()
	dsn := os.Getenv("TIS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TIS_TEST_DATABASE_URL not set")
	}

	cipher, err := crypto.New([]byte("32-byte-key-for-aes-encryption!!"))
	require.NoError(t, err)

	pg, err := NewPostgres(context.Background(), dsn, PoolConfig{}, cipher, audit.NewEngine(audit.DefaultSpecs()...), nil)
	require.NoError(t, err)
	return pg, func() { pg.Close() }
}

func TestPostgres_TenantLifecycle(t *testing.T) {
	pg, teardown := setupPostgres(t)
	defer teardown()
	ctx := context.Background()

	identity, err := pg.Identities().Create(ctx, "pgtest-owner@example.com")
	require.NoError(t, err)
	defer func() {
		_, _ = pg.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, identity.ID)
	}()

	ownerID := identity.ID
	tenant := &model.Tenant{
		Name:            "PG Test Tenant",
		Slug:            "pgtest-tenant",
		ContactEmail:    "pgtest-owner@example.com",
		OwnerIdentityID: &ownerID,
	}
	require.NoError(t, pg.Tenants().Create(ctx, tenant))
	defer func() {
		_, _ = pg.pool.Exec(ctx, `DELETE FROM audit_log WHERE row_id = $1`, tenant.ID)
		_, _ = pg.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, tenant.ID)
	}()

	// The contact email round-trips through encryption.
	got, err := pg.Tenants().GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "pgtest-owner@example.com", got.ContactEmail)
	assert.NotEmpty(t, got.EncryptedEmail)

	// Duplicate slug among active tenants is rejected.
	err = pg.Tenants().Create(ctx, &model.Tenant{
		Name: "Dup", Slug: "pgtest-tenant", ContactEmail: "dup@example.com",
	})
	assert.ErrorIs(t, err, ErrConflict)

	// The mutation left an audit trail.
	recs, err := pg.AuditLog().List(ctx, "tenants", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, recs)

	require.NoError(t, pg.Tenants().Delete(ctx, tenant.ID))
	bySlug, err := pg.Tenants().GetBySlug(ctx, "pgtest-tenant")
	require.NoError(t, err)
	assert.Nil(t, bySlug)
}

func TestPostgres_LedgerTransitions(t *testing.T) {
	pg, teardown := setupPostgres(t)
	defer teardown()
	ctx := context.Background()

	identity, err := pg.Identities().Create(ctx, "pgtest-ledger@example.com")
	require.NoError(t, err)

	rec := &model.ProvisioningRecord{
		IdentityID:     identity.ID,
		RestaurantName: "Ledger Test",
		RestaurantSlug: "pgtest-ledger",
	}
	require.NoError(t, pg.Ledger().Open(ctx, rec))
	defer func() {
		_, _ = pg.pool.Exec(ctx, `DELETE FROM audit_log WHERE row_id = $1`, rec.ID)
		_, _ = pg.pool.Exec(ctx, `DELETE FROM provisioning_records WHERE id = $1`, rec.ID)
		_, _ = pg.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, identity.ID)
	}()

	require.NoError(t, pg.Ledger().MarkFailed(ctx, rec.ID, "simulated failure"))
	assert.ErrorIs(t, pg.Ledger().MarkFailed(ctx, rec.ID, "again"), ErrTerminalState)

	got, err := pg.Ledger().GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProvisioningFailed, got.Status)
	assert.Equal(t, "simulated failure", got.Error)
}

func TestPostgres_SweepLock(t *testing.T) {
	pg, teardown := setupPostgres(t)
	defer teardown()
	ctx := context.Background()

	release, ok, err := pg.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = pg.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release2, ok, err := pg.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}
