package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callbridge/internal/event"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
	// ErrConflict means a compare-and-transition lost to a concurrent writer.
	ErrConflict = errors.New("calls: concurrent transition conflict")
)

// Repository is the persistence contract for call rows.
//
// Every method except FindByProviderRef takes an explicit tenantID; the
// provider-ref lookup is the single place tenancy is *resolved* rather than
// enforced, because webhook payloads carry no trustworthy tenant field.
type Repository interface {
	// Insert creates the call row. Inserting an existing provider ref is a
	// no-op returning the stored row (webhook redelivery).
	Insert(ctx context.Context, c Call) (Call, bool, error)

	// FindByProviderRef locates a row by call_control_id, falling back to
	// call_sid. The caller derives the tenant from the returned row.
	FindByProviderRef(ctx context.Context, ref event.CallRef) (Call, error)

	GetByID(ctx context.Context, tenantID, callID string) (Call, error)

	// TransitionStatus performs a compare-and-transition: the update applies
	// only if the row still holds from. Returns ErrConflict otherwise.
	TransitionStatus(ctx context.Context, tenantID, callID string, from, to CallStatus, failReason string, now time.Time) error

	SetRecordingURL(ctx context.Context, tenantID, callID, url string, now time.Time) error

	List(ctx context.Context, tenantID string, from, to time.Time) ([]Call, error)
}

// PostgresRepo implements Repository.
//
// NOTE: assumes the following table exists:
//
//	calls (
//	  call_id UUID PRIMARY KEY,
//	  tenant_id TEXT NOT NULL,
//	  call_control_id TEXT UNIQUE, -- NULL for calls blocked before dialing
//	  call_sid TEXT,
//	  direction TEXT NOT NULL,
//	  from_number TEXT NOT NULL,
//	  to_number TEXT NOT NULL,
//	  flow_type TEXT NOT NULL,
//	  status TEXT NOT NULL,
//	  fail_reason TEXT,
//	  recording_url TEXT,
//	  created_at TIMESTAMPTZ NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL
//	)
//
// with a partial UNIQUE index on call_sid where call_sid <> ''.
// Rows are never deleted.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `
call_id, tenant_id, COALESCE(call_control_id, ''), COALESCE(call_sid, ''), direction,
from_number, to_number, flow_type, status, COALESCE(fail_reason, ''),
COALESCE(recording_url, ''), created_at, updated_at`

func scanCall(row interface{ Scan(...any) error }) (Call, error) {
	var c Call
	err := row.Scan(
		&c.CallID,
		&c.TenantID,
		&c.CallControlID,
		&c.CallSid,
		&c.Direction,
		&c.From,
		&c.To,
		&c.FlowType,
		&c.Status,
		&c.FailReason,
		&c.RecordingURL,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

func (r *PostgresRepo) Insert(ctx context.Context, c Call) (Call, bool, error) {
	const q = `
INSERT INTO calls
  (call_id, tenant_id, call_control_id, call_sid, direction, from_number,
   to_number, flow_type, status, fail_reason, created_at, updated_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $11)
ON CONFLICT (call_control_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		c.CallID, c.TenantID, c.CallControlID, c.CallSid, c.Direction,
		c.From, c.To, c.FlowType, c.Status, c.FailReason, c.CreatedAt,
	)
	if err != nil {
		return Call{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Call{}, false, err
	}
	if n == 0 {
		existing, err := r.FindByProviderRef(ctx, event.CallRef{CallControlID: c.CallControlID, CallSid: c.CallSid})
		if err != nil {
			return Call{}, false, err
		}
		return existing, false, nil
	}
	return c, true, nil
}

func (r *PostgresRepo) FindByProviderRef(ctx context.Context, ref event.CallRef) (Call, error) {
	if ref.Empty() {
		return Call{}, ErrInvalidArgument
	}
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE ($1 <> '' AND call_control_id = $1)
   OR ($1 = '' AND call_sid = $2)
LIMIT 1
`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, ref.CallControlID, ref.CallSid))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, err
	}
	return c, nil
}

func (r *PostgresRepo) GetByID(ctx context.Context, tenantID, callID string) (Call, error) {
	if tenantID == "" || callID == "" {
		return Call{}, ErrInvalidArgument
	}
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE tenant_id = $1 AND call_id = $2
`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, tenantID, callID))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, err
	}
	return c, nil
}

func (r *PostgresRepo) TransitionStatus(ctx context.Context, tenantID, callID string, from, to CallStatus, failReason string, now time.Time) error {
	const q = `
UPDATE calls
SET status = $1, fail_reason = NULLIF($2, ''), updated_at = $3
WHERE tenant_id = $4 AND call_id = $5 AND status = $6
`
	res, err := r.db.ExecContext(ctx, q, to, failReason, now, tenantID, callID, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (r *PostgresRepo) SetRecordingURL(ctx context.Context, tenantID, callID, url string, now time.Time) error {
	const q = `
UPDATE calls
SET recording_url = $1, updated_at = $2
WHERE tenant_id = $3 AND call_id = $4
`
	res, err := r.db.ExecContext(ctx, q, url, now, tenantID, callID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, tenantID string, from, to time.Time) ([]Call, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
