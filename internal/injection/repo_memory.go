package injection

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu    sync.Mutex
	items []Item
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Enqueue(ctx context.Context, item Item, maxDepth int) error {
	if item.TenantID == "" || item.CallID == "" || item.AudioRef == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	queued := 0
	for _, it := range r.items {
		if it.CallID == item.CallID && it.Status == StatusQueued {
			queued++
		}
	}
	if queued >= maxDepth {
		return ErrQueueFull
	}
	item.Status = StatusQueued
	item.UpdatedAt = item.CreatedAt
	r.items = append(r.items, item)
	return nil
}

func (r *MemoryRepo) NextQueued(ctx context.Context, tenantID, callID string) (Item, error) {
	return r.oneByStatus(tenantID, callID, StatusQueued)
}

func (r *MemoryRepo) Playing(ctx context.Context, tenantID, callID string) (Item, error) {
	return r.oneByStatus(tenantID, callID, StatusPlaying)
}

func (r *MemoryRepo) oneByStatus(tenantID, callID string, status Status) (Item, error) {
	if tenantID == "" || callID == "" {
		return Item{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// Items are appended in order, so the first match is the oldest.
	for _, it := range r.items {
		if it.TenantID == tenantID && it.CallID == callID && it.Status == status {
			return it, nil
		}
	}
	return Item{}, ErrNotFound
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, tenantID, id string, from, to Status, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, it := range r.items {
		if it.TenantID == tenantID && it.ID == id {
			if it.Status != from {
				return ErrConflict
			}
			r.items[i].Status = to
			r.items[i].UpdatedAt = now
			return nil
		}
	}
	return ErrConflict
}

func (r *MemoryRepo) ListByCall(ctx context.Context, tenantID, callID string) ([]Item, error) {
	if tenantID == "" || callID == "" {
		return nil, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Item
	for _, it := range r.items {
		if it.TenantID == tenantID && it.CallID == callID {
			out = append(out, it)
		}
	}
	return out, nil
}
