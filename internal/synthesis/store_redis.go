package synthesis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrAudioNotFound = errors.New("synthesis: audio reference not found")

// RedisStore holds synthesized audio in redis with a short TTL.
//
// Audio only needs to live long enough for the provider to fetch it for
// playback; anything older than the longest plausible call is garbage.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: time.Hour}
}

func (s *RedisStore) Put(ctx context.Context, ref string, audio []byte) error {
	return s.rdb.Set(ctx, "audio:"+ref, audio, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, ref string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, "audio:"+ref).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrAudioNotFound, ref)
	}
	return b, err
}

// MemoryStore is an in-memory AudioStore for tests.
type MemoryStore struct {
	mu    sync.Mutex
	audio map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{audio: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, ref string, audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio[ref] = audio
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.audio[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAudioNotFound, ref)
	}
	return b, nil
}
