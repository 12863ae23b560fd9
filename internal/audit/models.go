package audit

import "time"

// Entry is an immutable, append-only audit record of a state change or
// policy decision.
//
// Invariants:
// - Entries are never updated or deleted.
// - tenant_id is required for tenancy isolation.
// - Action names and the OldValue/NewValue pair are fixed across all call
//   sites; consumers depend on a stable shape.
//
// Storage recommendation (Postgres):
// - Table audit_entries with an INSERT-only policy.
// - UNIQUE (tenant_id, action, resource_id, payload_hash) to absorb
//   webhook redeliveries.
// - Optional: partition by time for retention.

type Entry struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	// Actor is "system" for webhook-driven changes, or a user id.
	Actor string `json:"actor" db:"actor"`

	Action       Action `json:"action" db:"action"`
	ResourceType string `json:"resource_type" db:"resource_type"`
	ResourceID   string `json:"resource_id" db:"resource_id"`

	OldValue string `json:"old_value,omitempty" db:"old_value"`
	NewValue string `json:"new_value,omitempty" db:"new_value"`

	// PayloadHash digests the triggering provider payload so redelivered
	// webhooks do not produce duplicate entries.
	PayloadHash string `json:"payload_hash,omitempty" db:"payload_hash"`

	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
}

type Action string

const (
	ActionCallInitiated      Action = "CALL_INITIATED"
	ActionCallStateChanged   Action = "CALL_STATE_CHANGED"
	ActionComplianceDecision Action = "COMPLIANCE_DECISION"
	ActionSegmentRecorded    Action = "SEGMENT_RECORDED"
	ActionInjectionEnqueued  Action = "INJECTION_ENQUEUED"
)

const (
	ActorSystem = "system"

	ResourceTypeCall     = "call"
	ResourceTypeSubject  = "subject"
	ResourceTypeSegment  = "translation_segment"
	ResourceTypeAudioRef = "audio_injection"
)
