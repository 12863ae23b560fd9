package audit

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory append-only repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu      sync.Mutex
	entries []Entry
	seen    map[string]struct{}
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{seen: make(map[string]struct{})}
}

func (r *MemoryRepo) Append(ctx context.Context, e Entry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := e.TenantID + "|" + string(e.Action) + "|" + e.ResourceID + "|" + e.PayloadHash
	if e.PayloadHash != "" {
		if _, dup := r.seen[key]; dup {
			return false, nil
		}
		r.seen[key] = struct{}{}
	}
	r.entries = append(r.entries, e)
	return true, nil
}

func (r *MemoryRepo) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
