package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ParseError marks a payload that could not be normalized at all.
// Distinct from Unknown: a malformed body is rejected (400), while a
// well-formed body with an unhandled subtype is acknowledged.
type ParseError struct {
	Provider string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("event: malformed %s payload: %s", e.Provider, e.Reason)
}

// jsonEnvelope is the shape of JSON call-event webhooks:
// {"data": {"event_type": "...", "occurred_at": "...", "payload": {...}}}
type jsonEnvelope struct {
	Data struct {
		EventType  string          `json:"event_type"`
		OccurredAt time.Time       `json:"occurred_at"`
		Payload    json.RawMessage `json:"payload"`
	} `json:"data"`
}

type jsonCallPayload struct {
	CallControlID string `json:"call_control_id"`
	CallSessionID string `json:"call_session_id"`
	CallSid       string `json:"call_sid"`
	Direction     string `json:"direction"`
	From          string `json:"from"`
	To            string `json:"to"`
	FlowType      string `json:"flow_type"`
	BridgedTo     string `json:"bridged_to"`
	HangupCause   string `json:"hangup_cause"`

	RecordingURL string `json:"recording_url"`
	RecordingURLs struct {
		MP3 string `json:"mp3"`
		WAV string `json:"wav"`
	} `json:"recording_urls"`

	TranscriptionData struct {
		Transcript     string  `json:"transcript"`
		Confidence     float64 `json:"confidence"`
		SequenceNumber int     `json:"sequence_number"`
	} `json:"transcription_data"`

	Playback struct {
		MediaURL string `json:"media_url"`
		Status   string `json:"status"`
	} `json:"playback"`
}

// NormalizeJSON maps a JSON-envelope provider payload to an internal Event.
func NormalizeJSON(provider string, rawBody []byte) (Event, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, &ParseError{Provider: provider, Reason: "invalid json"}
	}
	if env.Data.EventType == "" {
		return nil, &ParseError{Provider: provider, Reason: "missing event_type"}
	}

	var p jsonCallPayload
	if len(env.Data.Payload) > 0 {
		if err := json.Unmarshal(env.Data.Payload, &p); err != nil {
			return nil, &ParseError{Provider: provider, Reason: "invalid payload"}
		}
	}

	meta := Meta{
		Call: CallRef{
			CallControlID: p.CallControlID,
			CallSid:       firstNonEmpty(p.CallSid, p.CallSessionID),
		},
		Provider: provider,
		At:       occurredOrNow(env.Data.OccurredAt),
		Hash:     payloadHash(rawBody),
	}
	if meta.Call.Empty() && env.Data.EventType != "" && !isCallEventType(env.Data.EventType) {
		// Non-call events (e.g. number orders) have no call ref; treat as unknown.
		return Unknown{Meta: meta, RawType: env.Data.EventType}, nil
	}
	if meta.Call.Empty() {
		return nil, &ParseError{Provider: provider, Reason: "missing call identifier"}
	}

	switch env.Data.EventType {
	case "call.initiated":
		return CallInitiated{
			Meta:      meta,
			Direction: p.Direction,
			From:      p.From,
			To:        p.To,
			FlowType:  firstNonEmpty(p.FlowType, "direct"),
		}, nil
	case "call.answered":
		return CallAnswered{Meta: meta}, nil
	case "call.bridged":
		return CallBridged{Meta: meta, BridgedTo: p.BridgedTo}, nil
	case "call.transcription":
		return TranscriptionSegment{
			Meta:         meta,
			SegmentIndex: p.TranscriptionData.SequenceNumber,
			Text:         p.TranscriptionData.Transcript,
			Confidence:   p.TranscriptionData.Confidence,
		}, nil
	case "call.recording.saved":
		return RecordingSaved{
			Meta:         meta,
			RecordingURL: firstNonEmpty(p.RecordingURL, p.RecordingURLs.MP3, p.RecordingURLs.WAV),
		}, nil
	case "call.hangup":
		return CallHangup{Meta: meta, Cause: p.HangupCause}, nil
	case "call.playback.ended":
		return PlaybackEnded{
			Meta:     meta,
			AudioRef: p.Playback.MediaURL,
			Status:   p.Playback.Status,
		}, nil
	default:
		return Unknown{Meta: meta, RawType: env.Data.EventType}, nil
	}
}

// NormalizeForm maps a form-encoded status callback to an internal Event.
// These providers multiplex lifecycle stages through a CallStatus field.
func NormalizeForm(provider string, rawBody []byte, form url.Values, now time.Time) (Event, error) {
	callSid := strings.TrimSpace(form.Get("CallSid"))
	if callSid == "" {
		return nil, &ParseError{Provider: provider, Reason: "missing CallSid"}
	}

	meta := Meta{
		Call:     CallRef{CallSid: callSid},
		Provider: provider,
		At:       now,
		Hash:     payloadHash(rawBody),
	}

	if text := form.Get("TranscriptionText"); text != "" {
		idx, _ := strconv.Atoi(form.Get("SequenceNumber"))
		conf, _ := strconv.ParseFloat(form.Get("Confidence"), 64)
		return TranscriptionSegment{
			Meta:         meta,
			SegmentIndex: idx,
			Text:         text,
			Confidence:   conf,
		}, nil
	}
	if rec := form.Get("RecordingUrl"); rec != "" {
		return RecordingSaved{Meta: meta, RecordingURL: rec}, nil
	}

	status := strings.ToLower(strings.TrimSpace(form.Get("CallStatus")))
	switch status {
	case "initiated", "queued", "ringing":
		return CallInitiated{
			Meta:      meta,
			Direction: form.Get("Direction"),
			From:      form.Get("From"),
			To:        form.Get("To"),
			FlowType:  "direct",
		}, nil
	case "in-progress", "answered":
		return CallAnswered{Meta: meta}, nil
	case "bridged":
		return CallBridged{Meta: meta, BridgedTo: form.Get("To")}, nil
	case "completed", "busy", "no-answer", "failed", "canceled":
		return CallHangup{Meta: meta, Cause: status}, nil
	default:
		return Unknown{Meta: meta, RawType: status}, nil
	}
}

func isCallEventType(t string) bool {
	return strings.HasPrefix(t, "call.")
}

func payloadHash(rawBody []byte) string {
	sum := sha256.Sum256(rawBody)
	return hex.EncodeToString(sum[:])
}

func occurredOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
