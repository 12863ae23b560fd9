package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"callbridge/internal/calls"
	"callbridge/internal/translation"
	"callbridge/pkg/logger"
)

// CallGetter reads the current call row. Satisfied by the calls repository.
type CallGetter interface {
	GetByID(ctx context.Context, tenantID, callID string) (calls.Call, error)
}

// SegmentSource pages translated segments by index. Satisfied by the
// translation segment repository.
type SegmentSource interface {
	ListAfter(ctx context.Context, tenantID, callID string, afterIndex int) ([]translation.Segment, error)
}

// Gateway streams a call's translated segments and status changes as
// server-sent events.
//
// The implementation polls per heartbeat instead of holding a subscription:
// no connection-scoped resource exists while the goroutine sleeps, so an
// abandoned client costs one goroutine and nothing else.
type Gateway struct {
	calls    CallGetter
	segments SegmentSource

	interval time.Duration
	// heartbeatCap bounds connection lifetime; clients reconnect and resume
	// from history.
	heartbeatCap int
}

func NewGateway(callGetter CallGetter, segments SegmentSource, interval time.Duration, heartbeatCap int) *Gateway {
	if interval <= 0 {
		interval = time.Second
	}
	if heartbeatCap <= 0 {
		heartbeatCap = 1800
	}
	return &Gateway{
		calls:        callGetter,
		segments:     segments,
		interval:     interval,
		heartbeatCap: heartbeatCap,
	}
}

type statusPayload struct {
	Status     string `json:"status"`
	FailReason string `json:"fail_reason,omitempty"`
}

// Stream writes SSE frames for the call until it reaches a terminal status,
// the client disconnects, or the heartbeat cap is reached. The final status
// event is always written before a terminal close.
func (g *Gateway) Stream(ctx context.Context, w io.Writer, flush func(), tenantID, callID string) error {
	log := logger.From(ctx)

	call, err := g.calls.GetByID(ctx, tenantID, callID)
	if err != nil {
		return err
	}

	lastIndex := -1
	lastStatus := calls.CallStatus("")

	emit := func() (done bool, err error) {
		segs, err := g.segments.ListAfter(ctx, tenantID, callID, lastIndex)
		if err != nil {
			return false, err
		}
		for _, s := range segs {
			if err := writeEvent(w, "segment", s); err != nil {
				return false, err
			}
			if s.SegmentIndex > lastIndex {
				lastIndex = s.SegmentIndex
			}
		}

		if call.Status != lastStatus {
			lastStatus = call.Status
			payload := statusPayload{Status: string(call.Status), FailReason: call.FailReason}
			if err := writeEvent(w, "status", payload); err != nil {
				return false, err
			}
		}
		flush()
		return call.Status.Terminal(), nil
	}

	// First frame immediately: already-terminal calls get their history and
	// final status without waiting out a heartbeat.
	if done, err := emit(); err != nil || done {
		return err
	}

	for beats := 0; beats < g.heartbeatCap; beats++ {
		select {
		case <-ctx.Done():
			// Client went away; nothing to clean up beyond returning.
			return nil
		case <-time.After(g.interval):
		}

		call, err = g.calls.GetByID(ctx, tenantID, callID)
		if err != nil {
			if errors.Is(err, calls.ErrNotFound) {
				return err
			}
			// Transient read failure; keep the stream alive.
			log.Error("stream poll failed", "err", err)
			continue
		}

		if done, err := emit(); err != nil || done {
			return err
		}
		if err := writeEvent(w, "heartbeat", nil); err != nil {
			return err
		}
		flush()
	}

	log.Info("stream closed at heartbeat cap", "call_id", callID)
	return nil
}

func writeEvent(w io.Writer, name string, payload any) error {
	if payload == nil {
		_, err := fmt.Fprintf(w, "event: %s\ndata: {}\n\n", name)
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
