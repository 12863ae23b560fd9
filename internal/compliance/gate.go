package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callbridge/internal/config"

	"github.com/google/uuid"
)

var ErrInvalidArgument = errors.New("compliance: invalid argument")

// SubjectDirectory resolves per-subject policy state.
// A subject with no stored record gets defaults (UTC, no hold).
type SubjectDirectory interface {
	Lookup(ctx context.Context, tenantID, subjectID string) (Subject, bool, error)
}

// ContactCounter enforces the rolling contact-frequency window.
//
// RecordAttempt atomically counts attempts in the window and records this
// one unless the cap is already reached. Rollback removes a recorded
// attempt when a later check blocks the contact, so a never-made contact
// does not consume budget.
type ContactCounter interface {
	RecordAttempt(ctx context.Context, tenantID, subjectID string, at time.Time) (allowed bool, attemptID string, err error)
	Rollback(ctx context.Context, tenantID, subjectID, attemptID string) error
}

// DecisionRepo persists decisions append-only.
type DecisionRepo interface {
	Append(ctx context.Context, d Decision) error
}

// Gate evaluates a contact attempt against policy.
//
// Checks run in fixed priority: hold/consent > frequency cap > time-of-day.
// When several would block, the recorded reason is the highest-priority one.
// The decision is persisted before Evaluate returns; a persistence failure
// is returned as an error so callers fail closed.
type Gate struct {
	Subjects  SubjectDirectory
	Counter   ContactCounter
	Decisions DecisionRepo

	Cfg config.ComplianceConfig

	Now func() time.Time
}

func NewGate(subjects SubjectDirectory, counter ContactCounter, decisions DecisionRepo, cfg config.ComplianceConfig) *Gate {
	return &Gate{Subjects: subjects, Counter: counter, Decisions: decisions, Cfg: cfg, Now: time.Now}
}

// Evaluate runs all checks for one contact attempt and records the outcome.
func (g *Gate) Evaluate(ctx context.Context, tenantID, subjectID string, at time.Time) (Decision, error) {
	if tenantID == "" || subjectID == "" {
		return Decision{}, ErrInvalidArgument
	}
	if at.IsZero() {
		at = g.Now().UTC()
	}

	subject, found, err := g.Subjects.Lookup(ctx, tenantID, subjectID)
	if err != nil {
		return Decision{}, fmt.Errorf("compliance: subject lookup: %w", err)
	}
	if !found {
		subject = Subject{TenantID: tenantID, SubjectID: subjectID, Timezone: "UTC"}
	}

	// 1) Hold/consent: highest priority, checked before any budget is spent.
	if subject.HoldActive {
		return g.record(ctx, tenantID, subjectID, at, OutcomeBlock, ReasonHoldActive)
	}

	// 2) Frequency cap: atomic count-and-record in the rolling window.
	allowed, attemptID, err := g.Counter.RecordAttempt(ctx, tenantID, subjectID, at)
	if err != nil {
		return Decision{}, fmt.Errorf("compliance: frequency counter: %w", err)
	}
	if !allowed {
		return g.record(ctx, tenantID, subjectID, at, OutcomeBlock, ReasonFrequencyCap)
	}

	// 3) Time-of-day in the subject's local timezone.
	if !g.withinWindow(subject.Timezone, at) {
		// This attempt never contacts the subject; give its budget back.
		if rbErr := g.Counter.Rollback(ctx, tenantID, subjectID, attemptID); rbErr != nil {
			return Decision{}, fmt.Errorf("compliance: counter rollback: %w", rbErr)
		}
		return g.record(ctx, tenantID, subjectID, at, OutcomeBlock, ReasonOutsideWindow)
	}

	return g.record(ctx, tenantID, subjectID, at, OutcomeAllow, "")
}

func (g *Gate) withinWindow(tz string, at time.Time) bool {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	hour := at.In(loc).Hour()
	return hour >= g.Cfg.WindowStartHour && hour < g.Cfg.WindowEndHour
}

func (g *Gate) record(ctx context.Context, tenantID, subjectID string, at time.Time, outcome Outcome, reason ReasonCode) (Decision, error) {
	d := Decision{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		SubjectID:   subjectID,
		Decision:    outcome,
		ReasonCode:  reason,
		EvaluatedAt: at,
	}
	if err := g.Decisions.Append(ctx, d); err != nil {
		return Decision{}, fmt.Errorf("compliance: decision append: %w", err)
	}
	return d, nil
}
