package compliance

import (
	"context"
	"database/sql"
	"errors"
)

// NOTE: These repositories assume the following tables exist:
//
//	compliance_decisions (
//	  id UUID PRIMARY KEY,
//	  tenant_id TEXT NOT NULL,
//	  subject_id TEXT NOT NULL,
//	  decision TEXT NOT NULL,
//	  reason_code TEXT,
//	  evaluated_at TIMESTAMPTZ NOT NULL
//	)  -- INSERT-only
//
//	subjects (
//	  tenant_id TEXT NOT NULL,
//	  subject_id TEXT NOT NULL,
//	  timezone TEXT NOT NULL DEFAULT 'UTC',
//	  hold_active BOOLEAN NOT NULL DEFAULT FALSE,
//	  hold_reason TEXT,
//	  PRIMARY KEY (tenant_id, subject_id)
//	)

// PostgresDecisions is the append-only decision store.
type PostgresDecisions struct {
	db *sql.DB
}

func NewPostgresDecisions(db *sql.DB) *PostgresDecisions { return &PostgresDecisions{db: db} }

func (r *PostgresDecisions) Append(ctx context.Context, d Decision) error {
	const q = `
INSERT INTO compliance_decisions (id, tenant_id, subject_id, decision, reason_code, evaluated_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err := r.db.ExecContext(ctx, q,
		d.ID,
		d.TenantID,
		d.SubjectID,
		d.Decision,
		d.ReasonCode,
		d.EvaluatedAt,
	)
	return err
}

// PostgresSubjects looks up per-subject policy state.
type PostgresSubjects struct {
	db *sql.DB
}

func NewPostgresSubjects(db *sql.DB) *PostgresSubjects { return &PostgresSubjects{db: db} }

func (r *PostgresSubjects) Lookup(ctx context.Context, tenantID, subjectID string) (Subject, bool, error) {
	const q = `
SELECT tenant_id, subject_id, timezone, hold_active, COALESCE(hold_reason, '')
FROM subjects
WHERE tenant_id = $1 AND subject_id = $2
`
	var s Subject
	err := r.db.QueryRowContext(ctx, q, tenantID, subjectID).Scan(
		&s.TenantID,
		&s.SubjectID,
		&s.Timezone,
		&s.HoldActive,
		&s.HoldReason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Subject{}, false, nil
	}
	if err != nil {
		return Subject{}, false, err
	}
	return s, true, nil
}
