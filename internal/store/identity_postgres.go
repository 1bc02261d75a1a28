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

// GetByEmail returns the identity with the email, nil when absent.
func (p identityPG) GetByEmail(ctx context.Context, email string) (*model.Identity, error) {
	query := `SELECT id, email, confirmed, created_at FROM identities WHERE email = $1`
	identity := &model.Identity{}
	err := p.pool.QueryRow(ctx, query, email).Scan(&identity.ID, &identity.Email, &identity.Confirmed, &identity.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query identity by email")
	}
	return identity, nil
}

// GetByID retrieves an identity by id.
func (p identityPG) GetByID(ctx context.Context, id uuid.UUID) (*model.Identity, error) {
	query := `SELECT id, email, confirmed, created_at FROM identities WHERE id = $1`
	identity := &model.Identity{}
	err := p.pool.QueryRow(ctx, query, id).Scan(&identity.ID, &identity.Email, &identity.Confirmed, &identity.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "identity %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query identity")
	}
	return identity, nil
}

// Create registers a new confirmed identity. The unique index on
// email turns a concurrent duplicate into ErrEmailTaken.
func (p identityPG) Create(ctx context.Context, email string) (*model.Identity, error) {
	identity := &model.Identity{
		ID:        uuid.New(),
		Email:     email,
		Confirmed: true,
		CreatedAt: time.Now().UTC(),
	}
	query := `INSERT INTO identities (id, email, confirmed, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := p.pool.Exec(ctx, query, identity.ID, identity.Email, identity.Confirmed, identity.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, errors.Wrapf(ErrEmailTaken, "email %q", email)
		}
		return nil, errors.Wrap(err, "insert identity")
	}
	return identity, nil
}

// Create inserts a profile row.
func (p profilePG) Create(ctx context.Context, profile *model.Profile) error {
	profile.ID = uuid.New()
	profile.CreatedAt = time.Now().UTC()
	profile.UpdatedAt = profile.CreatedAt

	return p.audited(ctx, func(tx pgx.Tx) (*model.AuditRecord, error) {
		query := `INSERT INTO profiles (id, identity_id, email, role, created_at, updated_at)
                  VALUES ($1, $2, $3, $4, $5, $6)`
		if _, err := tx.Exec(ctx, query, profile.ID, profile.IdentityID, profile.Email, profile.Role,
			profile.CreatedAt, profile.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "insert profile")
		}
		rec := p.audit.Record("profiles", profile.ID.String(), audit.Actor(ctx), model.AuditInsert, nil, map[string]any{
			"email":       profile.Email,
			"role":        profile.Role,
			"identity_id": profile.IdentityID,
		})
		return rec, nil
	})
}

// GetByIdentity returns the identity's profile, nil when absent.
func (p profilePG) GetByIdentity(ctx context.Context, identityID uuid.UUID) (*model.Profile, error) {
	query := `SELECT id, identity_id, email, role, created_at, updated_at FROM profiles WHERE identity_id = $1`
	return p.queryProfile(ctx, query, identityID)
}

// GetByEmail returns the profile with the email, nil when absent.
func (p profilePG) GetByEmail(ctx context.Context, email string) (*model.Profile, error) {
	query := `SELECT id, identity_id, email, role, created_at, updated_at FROM profiles WHERE email = $1`
	return p.queryProfile(ctx, query, email)
}

// ListUnbound returns profiles whose identity linkage is missing.
func (p profilePG) ListUnbound(ctx context.Context) ([]*model.Profile, error) {
	query := `SELECT id, identity_id, email, role, created_at, updated_at
              FROM profiles WHERE identity_id IS NULL ORDER BY created_at`
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "query unbound profiles")
	}
	defer rows.Close()

	var profiles []*model.Profile
	for rows.Next() {
		profile := &model.Profile{}
		if err := rows.Scan(&profile.ID, &profile.IdentityID, &profile.Email, &profile.Role,
			&profile.CreatedAt, &profile.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan profile")
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

// BindIdentityIfNull binds the profile to the identity only while the
// linkage is still null.
func (p profilePG) BindIdentityIfNull(ctx context.Context, profileID, identityID uuid.UUID) (bool, error) {
	var updated bool
	err := p.audited(ctx, func(tx pgx.Tx) (*model.AuditRecord, error) {
		query := `UPDATE profiles SET identity_id = $2, updated_at = now()
                  WHERE id = $1 AND identity_id IS NULL`
		tag, err := tx.Exec(ctx, query, profileID, identityID)
		if err != nil {
			return nil, errors.Wrap(err, "bind profile identity")
		}
		updated = tag.RowsAffected() > 0
		if !updated {
			return nil, nil
		}
		rec := p.audit.Record("profiles", profileID.String(), audit.Actor(ctx), model.AuditUpdate,
			map[string]any{"identity_id": nil},
			map[string]any{"identity_id": identityID.String()})
		return rec, nil
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

func (p profilePG) queryProfile(ctx context.Context, query string, arg any) (*model.Profile, error) {
	profile := &model.Profile{}
	err := p.pool.QueryRow(ctx, query, arg).Scan(&profile.ID, &profile.IdentityID, &profile.Email,
		&profile.Role, &profile.CreatedAt, &profile.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query profile")
	}
	return profile, nil
}

// HasRole reports whether the identity holds an active elevated role.
func (p rolePG) HasRole(ctx context.Context, identityID uuid.UUID, role string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM access_roles WHERE identity_id = $1 AND role = $2 AND status = $3)`
	var has bool
	if err := p.pool.QueryRow(ctx, query, identityID, role, model.AccessRoleActive).Scan(&has); err != nil {
		return false, errors.Wrap(err, "query access role")
	}
	return has, nil
}

// Grant assigns an elevated role, reactivating a previously revoked one.
func (p rolePG) Grant(ctx context.Context, identityID uuid.UUID, role string) error {
	return p.audited(ctx, func(tx pgx.Tx) (*model.AuditRecord, error) {
		query := `INSERT INTO access_roles (identity_id, role, status, created_at)
                  VALUES ($1, $2, $3, now())
                  ON CONFLICT (identity_id, role) DO UPDATE SET status = EXCLUDED.status`
		if _, err := tx.Exec(ctx, query, identityID, role, model.AccessRoleActive); err != nil {
			return nil, errors.Wrap(err, "grant access role")
		}
		rec := p.audit.Record("access_roles", identityID.String(), audit.Actor(ctx), model.AuditInsert, nil, map[string]any{
			"identity_id": identityID.String(),
			"role":        role,
			"status":      model.AccessRoleActive,
		})
		return rec, nil
	})
}

// Revoke marks an elevated role revoked.
func (p rolePG) Revoke(ctx context.Context, identityID uuid.UUID, role string) error {
	return p.audited(ctx, func(tx pgx.Tx) (*model.AuditRecord, error) {
		query := `UPDATE access_roles SET status = $3 WHERE identity_id = $1 AND role = $2`
		tag, err := tx.Exec(ctx, query, identityID, role, model.AccessRoleRevoked)
		if err != nil {
			return nil, errors.Wrap(err, "revoke access role")
		}
		if tag.RowsAffected() == 0 {
			return nil, errors.Wrapf(ErrNotFound, "role %s for identity %s", role, identityID)
		}
		rec := p.audit.Record("access_roles", identityID.String(), audit.Actor(ctx), model.AuditUpdate,
			map[string]any{"status": model.AccessRoleActive},
			map[string]any{"status": model.AccessRoleRevoked})
		return rec, nil
	})
}
