package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo persists audit entries.
//
// NOTE: This repository assumes the following table exists:
//
//	audit_entries (
//	  id UUID PRIMARY KEY,
//	  tenant_id TEXT NOT NULL,
//	  actor TEXT NOT NULL,
//	  action TEXT NOT NULL,
//	  resource_type TEXT NOT NULL,
//	  resource_id TEXT NOT NULL,
//	  old_value TEXT,
//	  new_value TEXT,
//	  payload_hash TEXT,
//	  occurred_at TIMESTAMPTZ NOT NULL
//	)
//
// with UNIQUE (tenant_id, action, resource_id, payload_hash) and an
// INSERT-only policy (no UPDATE/DELETE grants).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Entry) (bool, error) {
	const q = `
INSERT INTO audit_entries
  (id, tenant_id, actor, action, resource_type, resource_id, old_value, new_value, payload_hash, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (tenant_id, action, resource_id, payload_hash) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.TenantID,
		e.Actor,
		e.Action,
		e.ResourceType,
		e.ResourceID,
		e.OldValue,
		e.NewValue,
		e.PayloadHash,
		e.OccurredAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
