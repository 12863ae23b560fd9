package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrUnknownNumber = errors.New("tenants: number not assigned to any tenant")

// Directory resolves platform-owned phone numbers to tenants.
//
// This mapping is the only trusted source of tenancy for inbound webhooks,
// so a miss is a hard error, never a default tenant.
type Directory struct {
	db  *sql.DB
	rdb *redis.Client
	ttl time.Duration
}

func NewDirectory(db *sql.DB, rdb *redis.Client) *Directory {
	return &Directory{db: db, rdb: rdb, ttl: 5 * time.Minute}
}

// TenantForNumber returns the tenant owning number.
//
// Positive lookups are cached in redis; misses are not, so newly provisioned
// numbers work immediately.
func (d *Directory) TenantForNumber(ctx context.Context, number string) (string, error) {
	if number == "" {
		return "", ErrUnknownNumber
	}

	key := "tenant_number:" + number
	if d.rdb != nil {
		if tenantID, err := d.rdb.Get(ctx, key).Result(); err == nil && tenantID != "" {
			return tenantID, nil
		}
	}

	const q = `SELECT tenant_id FROM tenant_numbers WHERE number = $1`
	var tenantID string
	err := d.db.QueryRowContext(ctx, q, number).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUnknownNumber, number)
	}
	if err != nil {
		return "", fmt.Errorf("tenants: lookup %s: %w", number, err)
	}

	if d.rdb != nil {
		// Cache failures are non-fatal; the DB remains authoritative.
		_ = d.rdb.Set(ctx, key, tenantID, d.ttl).Err()
	}
	return tenantID, nil
}

// MemoryDirectory is a static map for tests.
type MemoryDirectory map[string]string

func (m MemoryDirectory) TenantForNumber(ctx context.Context, number string) (string, error) {
	if t, ok := m[number]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownNumber, number)
}
