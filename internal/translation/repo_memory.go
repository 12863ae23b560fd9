package translation

import (
	"context"
	"sort"
	"sync"
)

// MemorySegments is an in-memory SegmentRepo for tests.
type MemorySegments struct {
	mu       sync.Mutex
	segments []Segment
}

func NewMemorySegments() *MemorySegments { return &MemorySegments{} }

func (r *MemorySegments) Append(ctx context.Context, s Segment) (bool, error) {
	if s.TenantID == "" || s.CallID == "" {
		return false, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.segments {
		if existing.CallID == s.CallID && existing.SegmentIndex == s.SegmentIndex {
			return false, nil
		}
	}
	r.segments = append(r.segments, s)
	return true, nil
}

func (r *MemorySegments) ListByCall(ctx context.Context, tenantID, callID string) ([]Segment, error) {
	return r.ListAfter(ctx, tenantID, callID, -1)
}

func (r *MemorySegments) ListAfter(ctx context.Context, tenantID, callID string, afterIndex int) ([]Segment, error) {
	if tenantID == "" || callID == "" {
		return nil, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Segment
	for _, s := range r.segments {
		if s.TenantID == tenantID && s.CallID == callID && s.SegmentIndex > afterIndex {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentIndex < out[j].SegmentIndex })
	return out, nil
}

// MemoryConfigs is an in-memory ConfigStore for tests.
type MemoryConfigs struct {
	mu   sync.Mutex
	cfgs map[string]CallConfig // keyed by tenant|call
}

func NewMemoryConfigs() *MemoryConfigs {
	return &MemoryConfigs{cfgs: make(map[string]CallConfig)}
}

func (r *MemoryConfigs) Get(ctx context.Context, tenantID, callID string) (CallConfig, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.cfgs[tenantID+"|"+callID]
	return cfg, ok, nil
}

func (r *MemoryConfigs) Set(ctx context.Context, cfg CallConfig) error {
	if cfg.TenantID == "" || cfg.CallID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfgs[cfg.TenantID+"|"+cfg.CallID] = cfg
	return nil
}
