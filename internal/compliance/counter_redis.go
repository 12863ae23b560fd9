package compliance

import (
	"context"
	"fmt"
	"time"

	"callbridge/internal/config"
	"callbridge/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCounter implements ContactCounter on a redis sliding window.
// One sorted set per (tenant, subject) holds attempt timestamps; the
// window slides with every evaluation rather than aligning to calendar days.
type RedisCounter struct {
	rdb *redis.Client
	cfg config.ComplianceConfig
}

func NewRedisCounter(rdb *redis.Client, cfg config.ComplianceConfig) *RedisCounter {
	return &RedisCounter{rdb: rdb, cfg: cfg}
}

func contactKey(tenantID, subjectID string) string {
	return fmt.Sprintf("contacts:%s:%s", tenantID, subjectID)
}

func (c *RedisCounter) RecordAttempt(ctx context.Context, tenantID, subjectID string, at time.Time) (bool, string, error) {
	attemptID := uuid.NewString()
	allowed, _, err := utils.RecordContactAttempt(ctx, c.rdb,
		contactKey(tenantID, subjectID),
		c.cfg.ContactCap, c.cfg.ContactWindow, at, attemptID)
	if err != nil {
		return false, "", err
	}
	return allowed, attemptID, nil
}

func (c *RedisCounter) Rollback(ctx context.Context, tenantID, subjectID, attemptID string) error {
	return c.rdb.ZRem(ctx, contactKey(tenantID, subjectID), attemptID).Err()
}
