package event

import "time"

// Kind enumerates the lifecycle events this engine understands.
type Kind string

const (
	KindCallInitiated        Kind = "call_initiated"
	KindCallAnswered         Kind = "call_answered"
	KindCallBridged          Kind = "call_bridged"
	KindTranscriptionSegment Kind = "transcription_segment"
	KindRecordingSaved       Kind = "recording_saved"
	KindCallHangup           Kind = "call_hangup"
	KindPlaybackEnded        Kind = "playback_ended"
	KindUnknown              Kind = "unknown"
)

// CallRef identifies the call a provider event belongs to.
// CallControlID is the primary key; CallSid is the legacy fallback some
// providers send instead. Neither carries tenant information on purpose:
// the tenant is always re-derived from the stored call row.
type CallRef struct {
	CallControlID string
	CallSid       string
}

func (r CallRef) Empty() bool {
	return r.CallControlID == "" && r.CallSid == ""
}

// Event is a closed tagged union over provider lifecycle events.
// One variant exists per Kind; isEvent seals the set to this package.
type Event interface {
	Kind() Kind
	Ref() CallRef
	OccurredAt() time.Time
	// PayloadHash is a digest of the raw provider payload, used to
	// de-duplicate audit entries across webhook redeliveries.
	PayloadHash() string

	isEvent()
}

// Meta carries the fields shared by every variant.
type Meta struct {
	Call     CallRef
	Provider string
	At       time.Time
	Hash     string
}

func (m Meta) Ref() CallRef          { return m.Call }
func (m Meta) OccurredAt() time.Time { return m.At }
func (m Meta) PayloadHash() string   { return m.Hash }
func (Meta) isEvent()                {}

// CallInitiated is the first event of a call; it creates the call row.
type CallInitiated struct {
	Meta
	Direction string
	From      string
	To        string
	FlowType  string
}

func (CallInitiated) Kind() Kind { return KindCallInitiated }

type CallAnswered struct {
	Meta
}

func (CallAnswered) Kind() Kind { return KindCallAnswered }

// CallBridged is only legal for calls created with flow_type bridge.
type CallBridged struct {
	Meta
	BridgedTo string
}

func (CallBridged) Kind() Kind { return KindCallBridged }

type TranscriptionSegment struct {
	Meta
	SegmentIndex int
	Text         string
	Confidence   float64
}

func (TranscriptionSegment) Kind() Kind { return KindTranscriptionSegment }

type RecordingSaved struct {
	Meta
	RecordingURL string
}

func (RecordingSaved) Kind() Kind { return KindRecordingSaved }

type CallHangup struct {
	Meta
	Cause string
}

func (CallHangup) Kind() Kind { return KindCallHangup }

type PlaybackEnded struct {
	Meta
	AudioRef string
	Status   string
}

func (PlaybackEnded) Kind() Kind { return KindPlaybackEnded }

// Unknown is returned for event subtypes we do not handle. The webhook
// endpoint acknowledges these with a 200 so the provider does not retry,
// and logs RawType for visibility.
type Unknown struct {
	Meta
	RawType string
}

func (Unknown) Kind() Kind { return KindUnknown }
