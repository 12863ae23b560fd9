package calls

import (
	"context"
	"sync"
	"time"

	"callbridge/internal/event"
)

// MemoryRepo is an in-memory Repository for tests. Not for production use.
type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]Call // keyed by call_id
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: make(map[string]Call)}
}

func (r *MemoryRepo) Insert(ctx context.Context, c Call) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.calls {
		if c.CallControlID != "" && existing.CallControlID == c.CallControlID {
			return existing, false, nil
		}
	}
	c.UpdatedAt = c.CreatedAt
	r.calls[c.CallID] = c
	return c, true, nil
}

func (r *MemoryRepo) FindByProviderRef(ctx context.Context, ref event.CallRef) (Call, error) {
	if ref.Empty() {
		return Call{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if ref.CallControlID != "" && c.CallControlID == ref.CallControlID {
			return c, nil
		}
		if ref.CallControlID == "" && ref.CallSid != "" && c.CallSid == ref.CallSid {
			return c, nil
		}
	}
	return Call{}, ErrNotFound
}

func (r *MemoryRepo) GetByID(ctx context.Context, tenantID, callID string) (Call, error) {
	if tenantID == "" || callID == "" {
		return Call{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok || c.TenantID != tenantID {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) TransitionStatus(ctx context.Context, tenantID, callID string, from, to CallStatus, failReason string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok || c.TenantID != tenantID || c.Status != from {
		return ErrConflict
	}
	c.Status = to
	c.FailReason = failReason
	c.UpdatedAt = now
	r.calls[callID] = c
	return nil
}

func (r *MemoryRepo) SetRecordingURL(ctx context.Context, tenantID, callID, url string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok || c.TenantID != tenantID {
		return ErrNotFound
	}
	c.RecordingURL = url
	c.UpdatedAt = now
	r.calls[callID] = c
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, tenantID string, from, to time.Time) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.TenantID == tenantID && !c.CreatedAt.Before(from) && c.CreatedAt.Before(to) {
			out = append(out, c)
		}
	}
	return out, nil
}
