package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/tablekeep/tenant-integrity-service/internal/audit"
	"github.com/tablekeep/tenant-integrity-service/internal/model"
)

// Open appends a new ledger record in the pending state.
func (p ledgerPG) Open(ctx context.Context, rec *model.ProvisioningRecord) error {
	rec.ID = uuid.New()
	rec.Status = model.ProvisioningPending
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt

	return p.audited(ctx, func(tx pgx.Tx) (*model.AuditRecord, error) {
		query := `INSERT INTO provisioning_records (id, tenant_id, identity_id, restaurant_name, restaurant_slug, status, error, created_at, updated_at)
                  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		if _, err := tx.Exec(ctx, query, rec.ID, rec.TenantID, rec.IdentityID, rec.RestaurantName,
			rec.RestaurantSlug, rec.Status, rec.Error, rec.CreatedAt, rec.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "insert provisioning record")
		}
		ar := p.audit.Record("provisioning_records", rec.ID.String(), audit.Actor(ctx), model.AuditInsert, nil, map[string]any{
			"identity_id":     rec.IdentityID.String(),
			"restaurant_slug": rec.RestaurantSlug,
			"status":          rec.Status,
		})
		return ar, nil
	})
}

// GetByID retrieves a ledger record.
func (p ledgerPG) GetByID(ctx context.Context, id uuid.UUID) (*model.ProvisioningRecord, error) {
	query := `SELECT id, tenant_id, identity_id, restaurant_name, restaurant_slug, status, error, created_at, updated_at
              FROM provisioning_records WHERE id = $1`
	rec := &model.ProvisioningRecord{}
	err := p.pool.QueryRow(ctx, query, id).Scan(&rec.ID, &rec.TenantID, &rec.IdentityID, &rec.RestaurantName,
		&rec.RestaurantSlug, &rec.Status, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "provisioning record %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query provisioning record")
	}
	return rec, nil
}

// MarkCompleted transitions pending -> completed. The status guard in the
// WHERE clause keeps terminal rows immutable.
func (p ledgerPG) MarkCompleted(ctx context.Context, id, tenantID uuid.UUID) error {
	return p.transition(ctx, id, model.ProvisioningCompleted, "", &tenantID)
}

// MarkFailed transitions pending -> failed with a reason.
func (p ledgerPG) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return p.transition(ctx, id, model.ProvisioningFailed, reason, nil)
}

func (p ledgerPG) transition(ctx context.Context, id uuid.UUID, status, reason string, tenantID *uuid.UUID) error {
	return p.audited(ctx, func(tx pgx.Tx) (*model.AuditRecord, error) {
		query := `UPDATE provisioning_records
                  SET status = $2, error = $3, tenant_id = COALESCE($4, tenant_id), updated_at = now()
                  WHERE id = $1 AND status = $5`
		tag, err := tx.Exec(ctx, query, id, status, reason, tenantID, model.ProvisioningPending)
		if err != nil {
			return nil, errors.Wrap(err, "update provisioning record")
		}
		if tag.RowsAffected() == 0 {
			return nil, errors.Wrapf(ErrTerminalState, "record %s", id)
		}
		ar := p.audit.Record("provisioning_records", id.String(), audit.Actor(ctx), model.AuditUpdate,
			map[string]any{"status": model.ProvisioningPending},
			map[string]any{"status": status, "error": reason})
		return ar, nil
	})
}

// LatestCompleted returns the most recent completed record for the tenant.
func (p ledgerPG) LatestCompleted(ctx context.Context, tenantID uuid.UUID) (*model.ProvisioningRecord, error) {
	query := `SELECT id, tenant_id, identity_id, restaurant_name, restaurant_slug, status, error, created_at, updated_at
              FROM provisioning_records
              WHERE tenant_id = $1 AND status = $2
              ORDER BY updated_at DESC LIMIT 1`
	rec := &model.ProvisioningRecord{}
	err := p.pool.QueryRow(ctx, query, tenantID, model.ProvisioningCompleted).Scan(&rec.ID, &rec.TenantID,
		&rec.IdentityID, &rec.RestaurantName, &rec.RestaurantSlug, &rec.Status, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query latest completed record")
	}
	return rec, nil
}

// List returns every ledger record, oldest first.
func (p ledgerPG) List(ctx context.Context) ([]*model.ProvisioningRecord, error) {
	query := `SELECT id, tenant_id, identity_id, restaurant_name, restaurant_slug, status, error, created_at, updated_at
              FROM provisioning_records ORDER BY created_at`
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "query provisioning records")
	}
	defer rows.Close()

	var recs []*model.ProvisioningRecord
	for rows.Next() {
		rec := &model.ProvisioningRecord{}
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.IdentityID, &rec.RestaurantName, &rec.RestaurantSlug,
			&rec.Status, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan provisioning record")
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
