package injection

import (
	"context"
	"sync"
	"time"

	"callbridge/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisLease implements SlotLease on the shared redis playback-slot scripts.
// Works across processes; the TTL reclaims slots leaked by a crash.
type RedisLease struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLease(rdb *redis.Client) *RedisLease {
	return &RedisLease{rdb: rdb, ttl: 2 * time.Minute}
}

func (l *RedisLease) Acquire(ctx context.Context, callID, holderID string) (bool, error) {
	return utils.AcquirePlaybackSlot(ctx, l.rdb, slotKey(callID), holderID, l.ttl)
}

func (l *RedisLease) Release(ctx context.Context, callID, holderID string) error {
	return utils.ReleasePlaybackSlot(ctx, l.rdb, slotKey(callID), holderID)
}

func slotKey(callID string) string { return "playback_slot:" + callID }

// MemoryLease is a single-process SlotLease for tests.
type MemoryLease struct {
	mu      sync.Mutex
	holders map[string]string // callID -> holderID
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{holders: make(map[string]string)}
}

func (l *MemoryLease) Acquire(ctx context.Context, callID, holderID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.holders[callID]; held {
		return false, nil
	}
	l.holders[callID] = holderID
	return true, nil
}

func (l *MemoryLease) Release(ctx context.Context, callID, holderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[callID] == holderID {
		delete(l.holders, callID)
	}
	return nil
}
