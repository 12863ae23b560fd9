package calls

import "time"

// Call represents one tenant-scoped telephony session.
//
// Multi-tenant invariant: TenantID is required on every row, and the tenant
// is always re-derived from the stored row when handling webhooks. Provider
// payloads never decide tenancy.
//
// Rows are never deleted; calls are retained for audit and evidence.
type Call struct {
	CallID   string `json:"call_id" db:"call_id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	// CallControlID is the provider's primary identifier for this call.
	// CallSid is the legacy identifier some providers use instead; either
	// may locate the row, the control id wins when both are present.
	CallControlID string `json:"call_control_id" db:"call_control_id"`
	CallSid       string `json:"call_sid,omitempty" db:"call_sid"`

	Direction string `json:"direction" db:"direction"`
	From      string `json:"from" db:"from_number"`
	To        string `json:"to" db:"to_number"`

	FlowType FlowType   `json:"flow_type" db:"flow_type"`
	Status   CallStatus `json:"status" db:"status"`

	// FailReason is set when Status is failed (e.g. compliance_blocked).
	FailReason string `json:"fail_reason,omitempty" db:"fail_reason"`

	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallStatus string

const (
	CallStatusPending    CallStatus = "pending"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusBridged    CallStatus = "bridged"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusCanceled   CallStatus = "canceled"
)

// Terminal reports whether no further transitions are legal from s.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusCanceled:
		return true
	default:
		return false
	}
}

// Live reports whether audio may still be injected into the call.
func (s CallStatus) Live() bool {
	return s == CallStatusInProgress || s == CallStatusBridged
}

type FlowType string

const (
	FlowTypeDirect FlowType = "direct"
	FlowTypeBridge FlowType = "bridge"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

const FailReasonComplianceBlocked = "compliance_blocked"
