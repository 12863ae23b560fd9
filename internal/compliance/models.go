package compliance

import "time"

// Decision is the persisted outcome of one policy evaluation.
//
// Invariants:
// - Decisions are append-only; they are never mutated.
// - Every contact-initiating transition has exactly one decision recorded
//   before the transition proceeds.
type Decision struct {
	ID        string `json:"id" db:"id"`
	TenantID  string `json:"tenant_id" db:"tenant_id"`
	SubjectID string `json:"subject_id" db:"subject_id"`

	Decision   Outcome    `json:"decision" db:"decision"`
	ReasonCode ReasonCode `json:"reason_code,omitempty" db:"reason_code"`

	EvaluatedAt time.Time `json:"evaluated_at" db:"evaluated_at"`
}

type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeBlock Outcome = "block"
)

// ReasonCode identifies the first failing check in priority order:
// hold/consent > frequency cap > time-of-day.
type ReasonCode string

const (
	ReasonHoldActive    ReasonCode = "hold_active"
	ReasonFrequencyCap  ReasonCode = "frequency_cap"
	ReasonOutsideWindow ReasonCode = "outside_window"
)

// Subject is the per-contact policy state looked up before an attempt.
type Subject struct {
	TenantID  string `json:"tenant_id" db:"tenant_id"`
	SubjectID string `json:"subject_id" db:"subject_id"`

	// Timezone is an IANA name (e.g. "America/Chicago"). The calling window
	// is evaluated in the subject's local time, never the server locale.
	Timezone string `json:"timezone" db:"timezone"`

	// HoldActive covers dispute, cease-contact, and revoked consent flags.
	HoldActive bool   `json:"hold_active" db:"hold_active"`
	HoldReason string `json:"hold_reason,omitempty" db:"hold_reason"`
}
