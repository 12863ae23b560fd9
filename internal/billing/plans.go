package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrTenantNotFound = errors.New("billing: tenant has no plan")

// PlanService answers plan capability questions for tenants.
//
// Live translation is a paid capability; the pipeline checks it per call.
// Lookups are cached briefly in redis because they sit on the hot path of
// every transcription segment's call setup.
type PlanService struct {
	db  *sql.DB
	rdb *redis.Client
	ttl time.Duration
}

func NewPlanService(db *sql.DB, rdb *redis.Client) *PlanService {
	return &PlanService{db: db, rdb: rdb, ttl: time.Minute}
}

// LiveTranslationEnabled reports whether tenantID's plan includes the
// real-time translation capability.
func (s *PlanService) LiveTranslationEnabled(ctx context.Context, tenantID string) (bool, error) {
	key := "plan_live_translation:" + tenantID
	if s.rdb != nil {
		switch v, err := s.rdb.Get(ctx, key).Result(); {
		case err == nil && v == "1":
			return true, nil
		case err == nil && v == "0":
			return false, nil
		}
	}

	const q = `
SELECT p.live_translation
FROM tenant_plans tp
JOIN plans p ON p.plan_id = tp.plan_id
WHERE tp.tenant_id = $1`
	var enabled bool
	err := s.db.QueryRowContext(ctx, q, tenantID).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	if err != nil {
		return false, fmt.Errorf("billing: plan lookup for %s: %w", tenantID, err)
	}

	if s.rdb != nil {
		v := "0"
		if enabled {
			v = "1"
		}
		_ = s.rdb.Set(ctx, key, v, s.ttl).Err()
	}
	return enabled, nil
}

// StaticPlans is a fixed capability map for tests.
type StaticPlans map[string]bool

func (p StaticPlans) LiveTranslationEnabled(ctx context.Context, tenantID string) (bool, error) {
	enabled, ok := p[tenantID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	return enabled, nil
}
