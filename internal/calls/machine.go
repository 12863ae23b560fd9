package calls

import "callbridge/internal/event"

// The call lifecycle is a single transition table rather than per-event SQL:
// every legal (status, event) pair is enumerated here, so an illegal
// transition is a lookup miss, not an accidental row update.
//
//	pending -> ringing -> in_progress -> bridged? -> completed | failed | canceled
//
// bridged is only reachable from in_progress on flow_type=bridge.

// Verdict classifies what an event means for a call in its current status.
type Verdict int

const (
	// VerdictApply: the transition is legal and should be attempted.
	VerdictApply Verdict = iota
	// VerdictNoop: the event changes nothing. Covers redeliveries against
	// terminal calls and event kinds that never move the state machine.
	VerdictNoop
	// VerdictIllegal: the pair is not in the table. Logged, acked with 200;
	// a provider retry cannot make an illegal transition legal.
	VerdictIllegal
)

type transitionKey struct {
	from CallStatus
	kind event.Kind
}

var transitions = map[transitionKey]CallStatus{
	{CallStatusPending, event.KindCallInitiated}: CallStatusRinging,

	{CallStatusRinging, event.KindCallAnswered}: CallStatusInProgress,
	// Providers occasionally deliver answered before the initiated event.
	{CallStatusPending, event.KindCallAnswered}: CallStatusInProgress,

	{CallStatusInProgress, event.KindCallBridged}: CallStatusBridged,

	{CallStatusInProgress, event.KindCallHangup}: CallStatusCompleted,
	{CallStatusBridged, event.KindCallHangup}:    CallStatusCompleted,
	{CallStatusPending, event.KindCallHangup}:    CallStatusCanceled,
	{CallStatusRinging, event.KindCallHangup}:    CallStatusCanceled,
}

// failureCauses are hangup causes that mean the call never succeeded.
var failureCauses = map[string]bool{
	"failed":    true,
	"busy":      true,
	"no-answer": true,
	"error":     true,
}

// Next returns the target status for ev against a call in status cur.
func Next(cur CallStatus, flow FlowType, ev event.Event) (CallStatus, Verdict) {
	switch ev.Kind() {
	case event.KindTranscriptionSegment, event.KindRecordingSaved,
		event.KindPlaybackEnded, event.KindUnknown:
		// Side-effect-only events; the lifecycle status is untouched.
		return cur, VerdictNoop
	}

	if cur.Terminal() {
		// Idempotent on terminal: providers redeliver webhooks.
		return cur, VerdictNoop
	}

	if ev.Kind() == event.KindCallInitiated && cur != CallStatusPending {
		// Redelivered initiated for a call that already advanced.
		return cur, VerdictNoop
	}

	next, ok := transitions[transitionKey{from: cur, kind: ev.Kind()}]
	if !ok {
		return cur, VerdictIllegal
	}

	if ev.Kind() == event.KindCallBridged && flow != FlowTypeBridge {
		return cur, VerdictIllegal
	}

	if hang, ok := ev.(event.CallHangup); ok && failureCauses[hang.Cause] {
		next = CallStatusFailed
	}

	return next, VerdictApply
}
