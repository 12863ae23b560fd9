package injection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callbridge/internal/audit"
	"callbridge/internal/calls"
	"callbridge/internal/event"
	"callbridge/pkg/logger"

	"github.com/google/uuid"
)

var ErrCallNotLive = errors.New("injection: call is not live")

// CallLookup re-checks call liveness and tenancy before audio enters the
// queue. Satisfied by the calls repository.
type CallLookup interface {
	GetByID(ctx context.Context, tenantID, callID string) (calls.Call, error)
}

// SlotLease guards the single playback slot per call. Playback is strictly
// serial: a clip starts only when the previous one reported ended.
type SlotLease interface {
	Acquire(ctx context.Context, callID, holderID string) (bool, error)
	Release(ctx context.Context, callID, holderID string) error
}

// Player streams a stored audio clip into the call at the provider.
type Player interface {
	Play(ctx context.Context, callControlID, audioRef string) error
}

// Queue is the per-call FIFO of synthesized audio awaiting playback.
type Queue struct {
	repo    Repository
	calls   CallLookup
	lease   SlotLease
	player  Player
	auditor *audit.Writer

	maxDepth int
	clock    func() time.Time
}

func NewQueue(repo Repository, callLookup CallLookup, lease SlotLease, player Player, auditor *audit.Writer) *Queue {
	return &Queue{
		repo:     repo,
		calls:    callLookup,
		lease:    lease,
		player:   player,
		auditor:  auditor,
		maxDepth: MaxDepth,
		clock:    time.Now,
	}
}

// Enqueue accepts one audio clip for playback into callID.
//
// The call row is re-read here: by the time synthesis finishes the call may
// have hung up, and audio must never be queued against a dead or
// foreign-tenant call.
func (q *Queue) Enqueue(ctx context.Context, tenantID, callID, audioRef string) error {
	call, err := q.calls.GetByID(ctx, tenantID, callID)
	if err != nil {
		return fmt.Errorf("injection: call lookup: %w", err)
	}
	if !call.Status.Live() {
		return fmt.Errorf("%w: %s is %s", ErrCallNotLive, callID, call.Status)
	}

	item := Item{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		CallID:    callID,
		AudioRef:  audioRef,
		Status:    StatusQueued,
		CreatedAt: q.clock().UTC(),
	}
	if err := q.repo.Enqueue(ctx, item, q.maxDepth); err != nil {
		return err
	}

	q.auditor.Record(audit.Entry{
		TenantID:     tenantID,
		Action:       audit.ActionInjectionEnqueued,
		ResourceType: audit.ResourceTypeAudioRef,
		ResourceID:   item.ID,
		NewValue:     audioRef,
		OccurredAt:   item.CreatedAt,
	})

	q.promote(ctx, call)
	return nil
}

// PlaybackEnded is the provider's signal that the playing clip finished.
// It closes out the clip, frees the slot, and starts the next one.
func (q *Queue) PlaybackEnded(ctx context.Context, call calls.Call, ev event.PlaybackEnded) error {
	log := logger.From(ctx)

	playing, err := q.repo.Playing(ctx, call.TenantID, call.CallID)
	if errors.Is(err, ErrNotFound) {
		// Redelivered playback webhook; nothing is playing.
		return nil
	}
	if err != nil {
		return err
	}
	if ev.AudioRef != "" && ev.AudioRef != playing.AudioRef {
		log.Warn("playback-ended for unexpected clip",
			"reported", ev.AudioRef, "playing", playing.AudioRef)
	}

	final := StatusPlayed
	if ev.Status == "failed" {
		final = StatusFailed
	}
	if err := q.repo.UpdateStatus(ctx, call.TenantID, playing.ID, StatusPlaying, final, q.clock().UTC()); err != nil {
		return err
	}
	if err := q.lease.Release(ctx, call.CallID, playing.ID); err != nil {
		log.Error("playback slot release failed", "err", err)
	}

	if call.Status.Live() {
		q.promote(ctx, call)
	}
	return nil
}

// promote starts the oldest queued clip if no clip holds the playback slot.
// Best-effort: a failure here leaves the clip queued for the next promote.
func (q *Queue) promote(ctx context.Context, call calls.Call) {
	log := logger.From(ctx)

	for {
		next, err := q.repo.NextQueued(ctx, call.TenantID, call.CallID)
		if errors.Is(err, ErrNotFound) {
			return
		}
		if err != nil {
			log.Error("injection promote: next lookup failed", "err", err)
			return
		}

		acquired, err := q.lease.Acquire(ctx, call.CallID, next.ID)
		if err != nil {
			log.Error("injection promote: slot acquire failed", "err", err)
			return
		}
		if !acquired {
			// Another clip is playing; PlaybackEnded will promote later.
			return
		}

		if err := q.repo.UpdateStatus(ctx, call.TenantID, next.ID, StatusQueued, StatusPlaying, q.clock().UTC()); err != nil {
			// Lost a race for this item; free the slot and let the winner run.
			_ = q.lease.Release(ctx, call.CallID, next.ID)
			return
		}

		if err := q.player.Play(ctx, call.CallControlID, next.AudioRef); err != nil {
			log.Error("injection playback start failed", "audio_ref", next.AudioRef, "err", err)
			_ = q.repo.UpdateStatus(ctx, call.TenantID, next.ID, StatusPlaying, StatusFailed, q.clock().UTC())
			_ = q.lease.Release(ctx, call.CallID, next.ID)
			continue
		}
		return
	}
}

// ListByCall exposes the queue state for the call detail endpoint.
func (q *Queue) ListByCall(ctx context.Context, tenantID, callID string) ([]Item, error) {
	return q.repo.ListByCall(ctx, tenantID, callID)
}
