package injection

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callbridge/internal/calls"
	"callbridge/pkg/utils"
)

var (
	ErrQueueFull = errors.New("injection: queue is full for this call")
	ErrNotFound  = errors.New("injection: item not found")
	// ErrConflict means a status update lost to a concurrent writer.
	ErrConflict        = errors.New("injection: concurrent status conflict")
	ErrInvalidArgument = errors.New("injection: invalid argument")
)

// Repository persists the per-call playback queue.
type Repository interface {
	// Enqueue appends the item unless the call already has maxDepth queued
	// clips, in which case it returns ErrQueueFull.
	Enqueue(ctx context.Context, item Item, maxDepth int) error

	// NextQueued returns the oldest queued clip for the call.
	NextQueued(ctx context.Context, tenantID, callID string) (Item, error)

	// Playing returns the clip currently marked playing, if any.
	Playing(ctx context.Context, tenantID, callID string) (Item, error)

	// UpdateStatus moves an item from one status to another; ErrConflict if
	// the item is no longer in from.
	UpdateStatus(ctx context.Context, tenantID, id string, from, to Status, now time.Time) error

	ListByCall(ctx context.Context, tenantID, callID string) ([]Item, error)
}

// PostgresRepo implements Repository over the audio_injections table.
//
// Enqueue runs in a transaction that locks the call row, so concurrent
// enqueues for one call serialize: two cannot both slip under the depth cap
// or race a hangup.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const itemColumns = `id, tenant_id, call_id, audio_ref, status, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.TenantID, &it.CallID, &it.AudioRef, &it.Status, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

func (r *PostgresRepo) Enqueue(ctx context.Context, item Item, maxDepth int) error {
	if item.TenantID == "" || item.CallID == "" || item.AudioRef == "" {
		return ErrInvalidArgument
	}
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		// The row lock serializes enqueues per call and pins the liveness
		// check: a hangup committing after this point waits for us.
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM calls WHERE tenant_id = $1 AND call_id = $2 FOR UPDATE`,
			item.TenantID, item.CallID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCallNotLive
		}
		if err != nil {
			return err
		}
		if !calls.CallStatus(status).Live() {
			return ErrCallNotLive
		}

		var depth int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM audio_injections WHERE call_id = $1 AND status = 'queued'`,
			item.CallID).Scan(&depth); err != nil {
			return err
		}
		if depth >= maxDepth {
			return ErrQueueFull
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO audio_injections (id, tenant_id, call_id, audio_ref, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
`,
			item.ID, item.TenantID, item.CallID, item.AudioRef, StatusQueued, item.CreatedAt)
		return err
	})
}

func (r *PostgresRepo) NextQueued(ctx context.Context, tenantID, callID string) (Item, error) {
	return r.oneByStatus(ctx, tenantID, callID, StatusQueued)
}

func (r *PostgresRepo) Playing(ctx context.Context, tenantID, callID string) (Item, error) {
	return r.oneByStatus(ctx, tenantID, callID, StatusPlaying)
}

func (r *PostgresRepo) oneByStatus(ctx context.Context, tenantID, callID string, status Status) (Item, error) {
	if tenantID == "" || callID == "" {
		return Item{}, ErrInvalidArgument
	}
	const q = `
SELECT ` + itemColumns + `
FROM audio_injections
WHERE tenant_id = $1 AND call_id = $2 AND status = $3
ORDER BY created_at, id
LIMIT 1
`
	it, err := scanItem(r.db.QueryRowContext(ctx, q, tenantID, callID, status))
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}
	return it, nil
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, tenantID, id string, from, to Status, now time.Time) error {
	const q = `
UPDATE audio_injections
SET status = $1, updated_at = $2
WHERE tenant_id = $3 AND id = $4 AND status = $5
`
	res, err := r.db.ExecContext(ctx, q, to, now, tenantID, id, from)
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

func (r *PostgresRepo) ListByCall(ctx context.Context, tenantID, callID string) ([]Item, error) {
	if tenantID == "" || callID == "" {
		return nil, ErrInvalidArgument
	}
	const q = `
SELECT ` + itemColumns + `
FROM audio_injections
WHERE tenant_id = $1 AND call_id = $2
ORDER BY created_at, id
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
