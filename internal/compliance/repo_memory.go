package compliance

import (
	"context"
	"sync"
	"time"
)

// MemorySubjects is an in-memory SubjectDirectory for tests and local runs.
type MemorySubjects struct {
	mu       sync.Mutex
	subjects map[string]Subject
}

func NewMemorySubjects() *MemorySubjects {
	return &MemorySubjects{subjects: make(map[string]Subject)}
}

func (m *MemorySubjects) Put(s Subject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[s.TenantID+"|"+s.SubjectID] = s
}

func (m *MemorySubjects) Lookup(ctx context.Context, tenantID, subjectID string) (Subject, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[tenantID+"|"+subjectID]
	return s, ok, nil
}

// MemoryCounter is an in-memory sliding-window ContactCounter for tests.
type MemoryCounter struct {
	mu       sync.Mutex
	cap      int
	window   time.Duration
	attempts map[string][]memoryAttempt
}

type memoryAttempt struct {
	id string
	at time.Time
}

func NewMemoryCounter(cap int, window time.Duration) *MemoryCounter {
	return &MemoryCounter{cap: cap, window: window, attempts: make(map[string][]memoryAttempt)}
}

func (m *MemoryCounter) RecordAttempt(ctx context.Context, tenantID, subjectID string, at time.Time) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantID + "|" + subjectID
	cutoff := at.Add(-m.window)
	kept := m.attempts[key][:0]
	for _, a := range m.attempts[key] {
		if a.at.After(cutoff) {
			kept = append(kept, a)
		}
	}
	m.attempts[key] = kept

	if len(kept) >= m.cap {
		return false, "", nil
	}
	id := at.Format(time.RFC3339Nano) + "#" + string(rune('a'+len(kept)))
	m.attempts[key] = append(kept, memoryAttempt{id: id, at: at})
	return true, id, nil
}

func (m *MemoryCounter) Rollback(ctx context.Context, tenantID, subjectID, attemptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantID + "|" + subjectID
	kept := m.attempts[key][:0]
	for _, a := range m.attempts[key] {
		if a.id != attemptID {
			kept = append(kept, a)
		}
	}
	m.attempts[key] = kept
	return nil
}

// MemoryDecisions is an in-memory append-only DecisionRepo for tests.
type MemoryDecisions struct {
	mu        sync.Mutex
	decisions []Decision
}

func NewMemoryDecisions() *MemoryDecisions { return &MemoryDecisions{} }

func (m *MemoryDecisions) Append(ctx context.Context, d Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
	return nil
}

func (m *MemoryDecisions) Decisions() []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Decision, len(m.decisions))
	copy(out, m.decisions)
	return out
}
