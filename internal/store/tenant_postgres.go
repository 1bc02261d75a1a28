package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/tablekeep/tenant-integrity-service/internal/audit"
	"github.com/tablekeep/tenant-integrity-service/internal/model"
)

const tenantCacheTTL = 1 * time.Hour

func tenantCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("tenant:%s", id.String())
}

// Create inserts a new tenant. The partial unique index on slug closes the
// check-then-act race: a lost race surfaces as ErrConflict here, not as a
// duplicate row.
func (p tenantPG) Create(ctx context.Context, tenant *model.Tenant) error {
	tenant.ID = uuid.New()
	tenant.CreatedAt = time.Now().UTC()
	tenant.UpdatedAt = tenant.CreatedAt

	if tenant.ContactEmail != "" && p.cipher != nil {
		encrypted, iv, err := p.cipher.Encrypt(tenant.ContactEmail)
		if err != nil {
			return errors.Wrap(err, "encrypt contact email")
		}
		tenant.EncryptedEmail = encrypted
		tenant.EmailIV = iv
	}

	err := p.audited(ctx, func(tx pgx.Tx) (*model.AuditRecord, error) {
		query := `INSERT INTO tenants (id, name, slug, encrypted_email, email_iv, owner_identity_id, created_at, updated_at)
                  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		_, err := tx.Exec(ctx, query, tenant.ID, tenant.Name, tenant.Slug, tenant.EncryptedEmail, tenant.EmailIV,
			tenant.OwnerIdentityID, tenant.CreatedAt, tenant.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, errors.Wrapf(ErrConflict, "slug %q already exists", tenant.Slug)
			}
			return nil, errors.Wrap(err, "insert tenant")
		}
		rec := p.audit.Record("tenants", tenant.ID.String(), audit.Actor(ctx), model.AuditInsert, nil, map[string]any{
			"name":              tenant.Name,
			"slug":              tenant.Slug,
			"owner_identity_id": tenant.OwnerIdentityID,
		})
		return rec, nil
	})
	if err != nil {
		return err
	}

	if p.redis != nil {
		p.redis.Del(ctx, tenantCacheKey(tenant.ID))
	}
	return nil
}

// GetByID retrieves a tenant, serving from the redis cache when possible.
func (p tenantPG) GetByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	key := tenantCacheKey(id)
	if p.redis != nil {
		if cached, err := p.redis.Get(ctx, key).Result(); err == nil {
			tenant := &model.Tenant{}
			if err := json.Unmarshal([]byte(cached), tenant); err == nil {
				return tenant, nil
			}
		}
	}

	query := `SELECT id, name, slug, encrypted_email, email_iv, owner_identity_id, created_at, updated_at, deleted_at
              FROM tenants WHERE id = $1`
	tenant := &model.Tenant{}
	err := p.pool.QueryRow(ctx, query, id).Scan(&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.EncryptedEmail,
		&tenant.EmailIV, &tenant.OwnerIdentityID, &tenant.CreatedAt, &tenant.UpdatedAt, &tenant.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "tenant %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query tenant")
	}
	if err := p.decryptEmail(tenant); err != nil {
		return nil, err
	}

	if p.redis != nil {
		if data, err := json.Marshal(tenant); err == nil {
			p.redis.SetEx(ctx, key, data, tenantCacheTTL)
		}
	}
	return tenant, nil
}

// GetBySlug retrieves an active tenant by slug, nil when absent.
func (p tenantPG) GetBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	query := `SELECT id, name, slug, encrypted_email, email_iv, owner_identity_id, created_at, updated_at, deleted_at
              FROM tenants WHERE slug = $1 AND deleted_at IS NULL`
	tenant := &model.Tenant{}
	err := p.pool.QueryRow(ctx, query, slug).Scan(&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.EncryptedEmail,
		&tenant.EmailIV, &tenant.OwnerIdentityID, &tenant.CreatedAt, &tenant.UpdatedAt, &tenant.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query tenant by slug")
	}
	if err := p.decryptEmail(tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

// List returns all active tenants.
func (p tenantPG) List(ctx context.Context) ([]*model.Tenant, error) {
	query := `SELECT id, name, slug, encrypted_email, email_iv, owner_identity_id, created_at, updated_at, deleted_at
              FROM tenants WHERE deleted_at IS NULL ORDER BY created_at`
	return p.queryTenants(ctx, query)
}

// ListByOwner returns active tenants owned by the identity.
func (p tenantPG) ListByOwner(ctx context.Context, identityID uuid.UUID) ([]*model.Tenant, error) {
	query := `SELECT id, name, slug, encrypted_email, email_iv, owner_identity_id, created_at, updated_at, deleted_at
              FROM tenants WHERE owner_identity_id = $1 AND deleted_at IS NULL ORDER BY created_at`
	return p.queryTenants(ctx, query, identityID)
}

// SetOwnerIfNull backfills the owner with a guard against concurrent
// writes: the update applies only while owner_identity_id is still null.
func (p tenantPG) SetOwnerIfNull(ctx context.Context, tenantID, identityID uuid.UUID) (bool, error) {
	var updated bool
	err := p.audited(ctx, func(tx pgx.Tx) (*model.AuditRecord, error) {
		query := `UPDATE tenants SET owner_identity_id = $2, updated_at = now()
                  WHERE id = $1 AND owner_identity_id IS NULL AND deleted_at IS NULL`
		tag, err := tx.Exec(ctx, query, tenantID, identityID)
		if err != nil {
			return nil, errors.Wrap(err, "backfill owner")
		}
		updated = tag.RowsAffected() > 0
		if !updated {
			return nil, nil
		}
		rec := p.audit.Record("tenants", tenantID.String(), audit.Actor(ctx), model.AuditUpdate,
			map[string]any{"owner_identity_id": nil},
			map[string]any{"owner_identity_id": identityID.String()})
		return rec, nil
	})
	if err != nil {
		return false, err
	}
	if updated && p.redis != nil {
		p.redis.Del(ctx, tenantCacheKey(tenantID))
	}
	return updated, nil
}

// Delete soft-deletes a tenant.
func (p tenantPG) Delete(ctx context.Context, id uuid.UUID) error {
	err := p.audited(ctx, func(tx pgx.Tx) (*model.AuditRecord, error) {
		query := `UPDATE tenants SET deleted_at = now(), updated_at = now()
                  WHERE id = $1 AND deleted_at IS NULL`
		tag, err := tx.Exec(ctx, query, id)
		if err != nil {
			return nil, errors.Wrap(err, "soft delete tenant")
		}
		if tag.RowsAffected() == 0 {
			return nil, errors.Wrapf(ErrNotFound, "tenant %s", id)
		}
		rec := p.audit.Record("tenants", id.String(), audit.Actor(ctx), model.AuditDelete, nil,
			map[string]any{"deleted_at": time.Now().UTC()})
		return rec, nil
	})
	if err != nil {
		return err
	}
	if p.redis != nil {
		p.redis.Del(ctx, tenantCacheKey(id))
	}
	return nil
}

func (p tenantPG) queryTenants(ctx context.Context, query string, args ...any) ([]*model.Tenant, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query tenants")
	}
	defer rows.Close()

	var tenants []*model.Tenant
	for rows.Next() {
		tenant := &model.Tenant{}
		if err := rows.Scan(&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.EncryptedEmail, &tenant.EmailIV,
			&tenant.OwnerIdentityID, &tenant.CreatedAt, &tenant.UpdatedAt, &tenant.DeletedAt); err != nil {
			return nil, errors.Wrap(err, "scan tenant")
		}
		if err := p.decryptEmail(tenant); err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

func (p tenantPG) decryptEmail(tenant *model.Tenant) error {
	if p.cipher == nil || len(tenant.EncryptedEmail) == 0 || len(tenant.EmailIV) == 0 {
		return nil
	}
	email, err := p.cipher.Decrypt(tenant.EncryptedEmail, tenant.EmailIV)
	if err != nil {
		return errors.Wrap(err, "decrypt contact email")
	}
	tenant.ContactEmail = email
	return nil
}
