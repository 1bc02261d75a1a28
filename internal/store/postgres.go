package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/tablekeep/tenant-integrity-service/internal/audit"
	"github.com/tablekeep/tenant-integrity-service/internal/crypto"
	"github.com/tablekeep/tenant-integrity-service/internal/model"
)

// uniqueViolation is the postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// sweepLockKey is the advisory lock key serializing repair sweeps.
const sweepLockKey = 772010144

// RedisClient is the subset of the redis client the store uses, kept as an
// interface so tests can stub it.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// PoolConfig tunes the pgx connection pool.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Postgres implements every store interface on a single pgx pool. Writes
// to sensitive tables append their audit row inside the mutation's
// transaction; an audit failure rolls the mutation back.
type Postgres struct {
	pool   *pgxpool.Pool
	redis  RedisClient // nil disables the tenant cache
	cipher *crypto.Cipher
	audit  *audit.Engine
}

// NewPostgres connects to the database and returns the store. The cipher
// encrypts tenant contact emails at rest; rdb may be nil.
func NewPostgres(ctx context.Context, dsn string, pc PoolConfig, cipher *crypto.Cipher, engine *audit.Engine, rdb RedisClient) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse DSN")
	}
	if pc.MaxConns > 0 {
		config.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		config.MinConns = pc.MinConns
	}
	if pc.MaxConnLifetime > 0 {
		config.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = pc.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	return &Postgres{pool: pool, redis: rdb, cipher: cipher, audit: engine}, nil
}

// Typed views over the shared pool. Each satisfies one store interface.
func (p *Postgres) Identities() IdentityStore  { return identityPG{p} }
func (p *Postgres) Tenants() TenantStore       { return tenantPG{p} }
func (p *Postgres) Profiles() ProfileStore     { return profilePG{p} }
func (p *Postgres) Ledger() ProvisioningLedger { return ledgerPG{p} }
func (p *Postgres) Roles() AccessRoleStore     { return rolePG{p} }
func (p *Postgres) AuditLog() AuditLog         { return auditPG{p} }
func (p *Postgres) SweepLocker() SweepLocker   { return p }

type identityPG struct{ *Postgres }
type tenantPG struct{ *Postgres }
type profilePG struct{ *Postgres }
type ledgerPG struct{ *Postgres }
type rolePG struct{ *Postgres }
type auditPG struct{ *Postgres }

// Close releases the pool and the redis connection.
func (p *Postgres) Close() error {
	p.pool.Close()
	if p.redis != nil {
		return p.redis.Close()
	}
	return nil
}

// TryLock acquires the sweep advisory lock without blocking. The lock is
// session-scoped, so the underlying connection is held until release.
func (p *Postgres) TryLock(ctx context.Context) (func(), bool, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, false, errors.Wrap(err, "acquire connection")
	}
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, sweepLockKey).Scan(&locked); err != nil {
		conn.Release()
		return nil, false, errors.Wrap(err, "try advisory lock")
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}
	release := func() {
		// Unlock on a fresh context: the sweep's context may already be
		// cancelled when the release runs.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, sweepLockKey)
		conn.Release()
	}
	return release, true, nil
}

// Append writes a standalone audit record outside any mutation.
func (p auditPG) Append(ctx context.Context, rec *model.AuditRecord) error {
	return p.insertAudit(ctx, p.pool, rec)
}

// List returns audit records for the table, newest first.
func (p auditPG) List(ctx context.Context, table string, limit int) ([]*model.AuditRecord, error) {
	query := `SELECT id, table_name, row_id, actor, operation, before, after, recorded_at
              FROM audit_log WHERE table_name = $1 ORDER BY recorded_at DESC LIMIT $2`
	rows, err := p.pool.Query(ctx, query, table, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query audit log")
	}
	defer rows.Close()

	var recs []*model.AuditRecord
	for rows.Next() {
		rec := &model.AuditRecord{}
		var before, after []byte
		if err := rows.Scan(&rec.ID, &rec.Table, &rec.RowID, &rec.Actor, &rec.Operation, &before, &after, &rec.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scan audit record")
		}
		if len(before) > 0 {
			if err := json.Unmarshal(before, &rec.Before); err != nil {
				return nil, errors.Wrap(err, "decode before snapshot")
			}
		}
		if len(after) > 0 {
			if err := json.Unmarshal(after, &rec.After); err != nil {
				return nil, errors.Wrap(err, "decode after snapshot")
			}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// execer covers both the pool and an open transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (p *Postgres) insertAudit(ctx context.Context, db execer, rec *model.AuditRecord) error {
	if rec == nil {
		return nil
	}
	before, err := json.Marshal(rec.Before)
	if err != nil {
		return errors.Wrap(ErrAuditWriteFailed, err.Error())
	}
	after, err := json.Marshal(rec.After)
	if err != nil {
		return errors.Wrap(ErrAuditWriteFailed, err.Error())
	}
	query := `INSERT INTO audit_log (id, table_name, row_id, actor, operation, before, after, recorded_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := db.Exec(ctx, query, rec.ID, rec.Table, rec.RowID, rec.Actor, rec.Operation, before, after, rec.Timestamp); err != nil {
		return errors.Wrap(ErrAuditWriteFailed, err.Error())
	}
	return nil
}

// audited runs fn and the resulting audit append in one transaction.
func (p *Postgres) audited(ctx context.Context, fn func(tx pgx.Tx) (*model.AuditRecord, error)) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	rec, err := fn(tx)
	if err != nil {
		return err
	}
	if err := p.insertAudit(ctx, tx, rec); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
