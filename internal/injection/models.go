package injection

import "time"

// Item is one synthesized audio clip queued for playback into a call.
//
// Per-call FIFO: clips play in enqueue order, one at a time. At most
// MaxDepth clips wait per call; beyond that new clips are rejected rather
// than letting translated audio lag arbitrarily far behind the conversation.
type Item struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	CallID   string `json:"call_id" db:"call_id"`

	AudioRef string `json:"audio_ref" db:"audio_ref"`
	Status   Status `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusQueued  Status = "queued"
	StatusPlaying Status = "playing"
	StatusPlayed  Status = "played"
	StatusFailed  Status = "failed"
)

// MaxDepth bounds queued (not yet playing) clips per call.
const MaxDepth = 10
