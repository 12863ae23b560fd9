package translation

import "time"

// Segment is one persisted utterance with its translation.
//
// Segments are stored exactly as received from the transcription stream:
// arrival order is not guaranteed, so consumers order by SegmentIndex.
// (call_id, segment_index) is unique; a redelivered segment is a no-op.
type Segment struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	CallID   string `json:"call_id" db:"call_id"`

	SegmentIndex int    `json:"segment_index" db:"segment_index"`
	SourceText   string `json:"source_text" db:"source_text"`
	SourceLang   string `json:"source_lang,omitempty" db:"source_lang"`

	TranslatedText string `json:"translated_text" db:"translated_text"`
	TargetLang     string `json:"target_lang,omitempty" db:"target_lang"`

	// Confidence is the transcriber's score for the source text; 0 when the
	// translation step failed and the marker text was stored instead.
	Confidence float64 `json:"confidence" db:"confidence"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// UnavailableMarker prefixes the source text when translation fails; the
// segment still reaches the live stream rather than being dropped.
const UnavailableMarker = "[translation unavailable] "

// CallConfig enables translation for one call and fixes its language pair.
type CallConfig struct {
	TenantID string `json:"tenant_id" db:"tenant_id"`
	CallID   string `json:"call_id" db:"call_id"`

	Enabled    bool   `json:"enabled" db:"enabled"`
	SourceLang string `json:"source_lang" db:"source_lang"`
	TargetLang string `json:"target_lang" db:"target_lang"`

	// Synthesize queues translated audio back into the call.
	Synthesize bool   `json:"synthesize" db:"synthesize"`
	VoiceID    string `json:"voice_id,omitempty" db:"voice_id"`
}
