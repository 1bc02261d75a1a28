package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/tablekeep/tenant-integrity-service/internal/model"
)

// TableSpec declares the auditable columns of one sensitive table. Only
// declared columns are ever read from a mutated row: a table without a
// status column is audited using its generic columns alone instead of
// crashing on a column it does not have.
type TableSpec struct {
	Name    string
	Columns []string
}

// Engine builds audit records for a configured set of sensitive tables.
// The table descriptors are resolved once at construction; no per-write
// schema inspection happens.
type Engine struct {
	tables map[string]map[string]struct{}
}

// NewEngine creates an engine auditing exactly the given tables.
func NewEngine(specs ...TableSpec) *Engine {
	tables := make(map[string]map[string]struct{}, len(specs))
	for _, spec := range specs {
		cols := make(map[string]struct{}, len(spec.Columns))
		for _, c := range spec.Columns {
			cols[c] = struct{}{}
		}
		tables[spec.Name] = cols
	}
	return &Engine{tables: tables}
}

// DefaultSpecs describes the sensitive tables of this service. The
// provisioning ledger and access roles carry a status column; tenants and
// profiles do not.
func DefaultSpecs() []TableSpec {
	return []TableSpec{
		{Name: "tenants", Columns: []string{"name", "slug", "owner_identity_id", "deleted_at"}},
		{Name: "profiles", Columns: []string{"email", "role", "identity_id"}},
		{Name: "provisioning_records", Columns: []string{"tenant_id", "identity_id", "restaurant_slug", "status", "error"}},
		{Name: "access_roles", Columns: []string{"identity_id", "role", "status"}},
	}
}

// Audited reports whether mutations to the table are intercepted.
func (e *Engine) Audited(table string) bool {
	_, ok := e.tables[table]
	return ok
}

// Record builds the audit record for one mutation, filtering before and
// after down to the table's declared columns. It returns nil for tables
// outside the sensitive set.
func (e *Engine) Record(table, rowID, actor, operation string, before, after map[string]any) *model.AuditRecord {
	cols, ok := e.tables[table]
	if !ok {
		return nil
	}
	return &model.AuditRecord{
		ID:        uuid.New(),
		Table:     table,
		RowID:     rowID,
		Actor:     actor,
		Operation: operation,
		Before:    filter(cols, before),
		After:     filter(cols, after),
		Timestamp: time.Now().UTC(),
	}
}

// Status reads the row's status column when, and only when, the table
// declares one.
func (e *Engine) Status(table string, row map[string]any) (string, bool) {
	cols, ok := e.tables[table]
	if !ok {
		return "", false
	}
	if _, declared := cols["status"]; !declared {
		return "", false
	}
	s, ok := row["status"].(string)
	return s, ok
}

func filter(cols map[string]struct{}, row map[string]any) map[string]any {
	if row == nil {
		return nil
	}
	out := make(map[string]any, len(cols))
	for c := range cols {
		if v, present := row[c]; present {
			out[c] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
