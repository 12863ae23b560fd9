package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit entries.
//
// It MUST be append-only. No Update/Delete methods are provided by design.
type Repository interface {
	// Append stores the entry unless one with the same
	// (tenant_id, action, resource_id, payload_hash) already exists.
	// Returns false when the entry was a duplicate.
	Append(ctx context.Context, e Entry) (bool, error)
}

var ErrInvalidEntry = errors.New("audit: invalid entry")

// Writer records audit entries without ever blocking or failing the caller.
//
// Entries go through a bounded queue drained by a single background worker.
// A full queue or a failed append is logged and otherwise swallowed; audit
// is best-effort by contract, the primary operation must not depend on it.
type Writer struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time

	queue chan Entry

	stopOnce sync.Once
	stopped  chan struct{}
	drained  chan struct{}
}

const defaultQueueDepth = 256

func NewWriter(repo Repository, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	w := &Writer{
		repo:    repo,
		log:     log,
		clock:   time.Now,
		queue:   make(chan Entry, defaultQueueDepth),
		stopped: make(chan struct{}),
		drained: make(chan struct{}),
	}
	go w.run()
	return w
}

// Record submits an entry for asynchronous persistence. Fire-and-forget:
// invalid entries and queue overflow are logged, never returned.
func (w *Writer) Record(e Entry) {
	if e.TenantID == "" || e.Action == "" || e.ResourceID == "" {
		w.log.Error("audit entry dropped: missing required fields",
			"action", string(e.Action), "resource_id", e.ResourceID)
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Actor == "" {
		e.Actor = ActorSystem
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = w.clock().UTC()
	}

	// The queue channel is never closed, so this send cannot panic even
	// when Record races with Close; at worst a late entry is dropped once
	// the drain finishes.
	select {
	case <-w.stopped:
		w.log.Warn("audit entry dropped: writer stopped", "action", string(e.Action))
		return
	default:
	}
	select {
	case w.queue <- e:
	default:
		w.log.Error("audit entry dropped: queue full",
			"action", string(e.Action), "resource_id", e.ResourceID)
	}
}

// Close stops accepting entries and drains whatever is already queued.
func (w *Writer) Close(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopped) })
	select {
	case <-w.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) run() {
	defer close(w.drained)
	for {
		select {
		case e := <-w.queue:
			w.append(e)
		case <-w.stopped:
			for {
				select {
				case e := <-w.queue:
					w.append(e)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) append(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	inserted, err := w.repo.Append(ctx, e)
	cancel()
	if err != nil {
		w.log.Error("audit append failed",
			"action", string(e.Action), "resource_id", e.ResourceID, "err", err)
		return
	}
	if !inserted {
		w.log.Debug("audit entry deduplicated",
			"action", string(e.Action), "resource_id", e.ResourceID)
	}
}
