package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecord represents a row of the append-only audit_log table.
// Before and After carry only the columns declared auditable for the
// table; they are never a raw dump of the mutated row.
type AuditRecord struct {
	ID        uuid.UUID      `json:"id"`
	Table     string         `json:"table"`
	RowID     string         `json:"row_id"`
	Actor     string         `json:"actor"`
	Operation string         `json:"operation"`
	Before    map[string]any `json:"before,omitempty"`
	After     map[string]any `json:"after,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Audit operations.
const (
	AuditInsert = "insert"
	AuditUpdate = "update"
	AuditDelete = "delete"
)
