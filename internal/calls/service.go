package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callbridge/internal/audit"
	"callbridge/internal/compliance"
	"callbridge/internal/event"
	"callbridge/pkg/logger"

	"github.com/google/uuid"
)

// ComplianceGate is the policy check run before any outbound contact. An
// error return means the gate is unavailable; callers must fail closed,
// never silently allow.
type ComplianceGate interface {
	Evaluate(ctx context.Context, tenantID, subjectID string, at time.Time) (compliance.Decision, error)
}

// ErrComplianceBlocked marks an outbound call refused by the compliance
// gate. The call row exists (failed, compliance_blocked); no dial happened.
var ErrComplianceBlocked = errors.New("calls: contact blocked by compliance policy")

// TenantResolver maps a platform-owned phone number to its tenant. Used only
// when a webhook references a call we have no row for yet; every later event
// derives the tenant from the stored row.
type TenantResolver interface {
	TenantForNumber(ctx context.Context, number string) (string, error)
}

// SegmentSink receives transcription segments for the translation pipeline.
type SegmentSink interface {
	ProcessSegment(ctx context.Context, call Call, seg event.TranscriptionSegment) error
}

// PlaybackSink is notified when queued audio finished playing into the call.
type PlaybackSink interface {
	PlaybackEnded(ctx context.Context, call Call, ev event.PlaybackEnded) error
}

// Originator starts a call at the telephony provider.
type Originator interface {
	Originate(ctx context.Context, from, to string, flow FlowType) (callControlID string, err error)
}

// Outcome classifies what Apply did with an event.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeNoop    Outcome = "noop"
	OutcomeIgnored Outcome = "ignored"
	OutcomeBlocked Outcome = "blocked"
)

type Result struct {
	Call    Call
	Outcome Outcome
	From    CallStatus
	To      CallStatus
}

// Service is the authoritative driver of the call lifecycle.
//
// Each webhook is applied independently; coordination between concurrent
// deliveries happens through compare-and-transition on the call row, not
// in-process locks.
type Service struct {
	repo    Repository
	gate    ComplianceGate
	tenants TenantResolver
	auditor *audit.Writer

	segments SegmentSink
	playback PlaybackSink

	origin Originator

	clock func() time.Time
}

func NewService(repo Repository, gate ComplianceGate, tenants TenantResolver, auditor *audit.Writer) *Service {
	return &Service{
		repo:    repo,
		gate:    gate,
		tenants: tenants,
		auditor: auditor,
		clock:   time.Now,
	}
}

// SetSegmentSink wires the translation pipeline. Optional; without it
// transcription events are acknowledged and dropped.
func (s *Service) SetSegmentSink(sink SegmentSink) { s.segments = sink }

// SetPlaybackSink wires the audio injection queue's playback notifications.
func (s *Service) SetPlaybackSink(sink PlaybackSink) { s.playback = sink }

// SetOriginator wires the outbound telephony adapter.
func (s *Service) SetOriginator(o Originator) { s.origin = o }

// Apply drives one normalized event through the state machine.
//
// An error return means the webhook must NOT be acknowledged, so the
// provider retries. Everything else is acked with 200.
func (s *Service) Apply(ctx context.Context, ev event.Event) (Result, error) {
	log := logger.From(ctx)

	if u, ok := ev.(event.Unknown); ok {
		log.Info("ignoring unknown provider event", "provider", u.Provider, "raw_type", u.RawType)
		return Result{Outcome: OutcomeIgnored}, nil
	}

	call, err := s.resolveCall(ctx, ev)
	if err != nil {
		return Result{}, err
	}
	ctx = logger.WithCall(ctx, call.TenantID, call.CallID)
	log = logger.From(ctx)

	// The tenant on the stored row is authoritative from here on. Whatever
	// tenant a forged payload claims is irrelevant: it was never read.

	switch e := ev.(type) {
	case event.TranscriptionSegment:
		if s.segments == nil {
			log.Warn("transcription segment dropped: no pipeline wired", "segment_index", e.SegmentIndex)
			return Result{Call: call, Outcome: OutcomeNoop}, nil
		}
		if err := s.segments.ProcessSegment(ctx, call, e); err != nil {
			return Result{}, fmt.Errorf("calls: segment pipeline: %w", err)
		}
		s.auditor.Record(audit.Entry{
			TenantID:     call.TenantID,
			Action:       audit.ActionSegmentRecorded,
			ResourceType: audit.ResourceTypeSegment,
			ResourceID:   fmt.Sprintf("%s#%d", call.CallID, e.SegmentIndex),
			NewValue:     e.Text,
			PayloadHash:  e.PayloadHash(),
			OccurredAt:   e.OccurredAt(),
		})
		return Result{Call: call, Outcome: OutcomeApplied}, nil

	case event.RecordingSaved:
		if e.RecordingURL != "" {
			if err := s.repo.SetRecordingURL(ctx, call.TenantID, call.CallID, e.RecordingURL, s.clock().UTC()); err != nil {
				return Result{}, fmt.Errorf("calls: save recording url: %w", err)
			}
		}
		return Result{Call: call, Outcome: OutcomeApplied}, nil

	case event.PlaybackEnded:
		if s.playback != nil {
			if err := s.playback.PlaybackEnded(ctx, call, e); err != nil {
				// Playback bookkeeping is advisory; the call proceeds.
				log.Error("playback-ended handling failed", "err", err)
			}
		}
		return Result{Call: call, Outcome: OutcomeNoop}, nil
	}

	return s.transition(ctx, call, ev)
}

// resolveCall locates the call row for ev, creating it for CallInitiated.
func (s *Service) resolveCall(ctx context.Context, ev event.Event) (Call, error) {
	call, err := s.repo.FindByProviderRef(ctx, ev.Ref())
	if err == nil {
		return call, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Call{}, fmt.Errorf("calls: lookup: %w", err)
	}

	ci, ok := ev.(event.CallInitiated)
	if !ok {
		// Event for a call we have never seen. Not acked: if the initiated
		// webhook is merely late, the provider retry will land after it.
		return Call{}, fmt.Errorf("%w: %s/%s", ErrNotFound, ev.Ref().CallControlID, ev.Ref().CallSid)
	}

	// Tenancy for a brand-new call comes from the platform-owned number,
	// never from any tenant field in the payload.
	ownNumber := ci.To
	direction := DirectionInbound
	if ci.Direction == "outgoing" || ci.Direction == DirectionOutbound {
		ownNumber = ci.From
		direction = DirectionOutbound
	}
	tenantID, err := s.tenants.TenantForNumber(ctx, ownNumber)
	if err != nil {
		return Call{}, fmt.Errorf("calls: tenant resolution for %q: %w", ownNumber, err)
	}

	// Outbound contact policy is evaluated exactly once, when the row is
	// created. Calls this service originates are gated in StartOutbound and
	// arrive here with an existing row; a provider-initiated outbound call
	// is gated now, before the row can advance anywhere. Either way, every
	// live outbound row carries a prior allow decision and no later
	// transition re-evaluates. A gate error nacks the webhook with no row
	// written, so the retry re-runs the evaluation.
	status := CallStatusPending
	failReason := ""
	if direction == DirectionOutbound {
		decision, err := s.evaluateContact(ctx, tenantID, ci.To, ci.OccurredAt(), ci.PayloadHash())
		if err != nil {
			return Call{}, err
		}
		if decision.Decision == compliance.OutcomeBlock {
			status = CallStatusFailed
			failReason = FailReasonComplianceBlocked
		}
	}

	now := s.clock().UTC()
	call, created, err := s.repo.Insert(ctx, Call{
		CallID:        uuid.NewString(),
		TenantID:      tenantID,
		CallControlID: ci.Ref().CallControlID,
		CallSid:       ci.Ref().CallSid,
		Direction:     direction,
		From:          ci.From,
		To:            ci.To,
		FlowType:      flowTypeOrDefault(FlowType(ci.FlowType)),
		Status:        status,
		FailReason:    failReason,
		CreatedAt:     now,
	})
	if err != nil {
		return Call{}, fmt.Errorf("calls: insert: %w", err)
	}
	if created {
		s.auditor.Record(audit.Entry{
			TenantID:     call.TenantID,
			Action:       audit.ActionCallInitiated,
			ResourceType: audit.ResourceTypeCall,
			ResourceID:   call.CallID,
			NewValue:     string(status),
			PayloadHash:  ci.PayloadHash(),
			OccurredAt:   ci.OccurredAt(),
		})
	}
	return call, nil
}

// evaluateContact runs the compliance gate for one outbound contact attempt
// and records the decision. An error means the gate was unavailable or the
// decision could not be persisted; the contact must not happen.
func (s *Service) evaluateContact(ctx context.Context, tenantID, subject string, at time.Time, payloadHash string) (compliance.Decision, error) {
	decision, err := s.gate.Evaluate(ctx, tenantID, subject, at)
	if err != nil {
		return compliance.Decision{}, fmt.Errorf("calls: compliance gate: %w", err)
	}
	if payloadHash == "" {
		// API-originated attempts have no webhook payload; the decision id
		// keeps each evaluation distinct in the audit dedupe key.
		payloadHash = decision.ID
	}
	s.auditor.Record(audit.Entry{
		TenantID:     tenantID,
		Action:       audit.ActionComplianceDecision,
		ResourceType: audit.ResourceTypeSubject,
		ResourceID:   subject,
		NewValue:     string(decision.Decision) + ":" + string(decision.ReasonCode),
		PayloadHash:  payloadHash,
		OccurredAt:   decision.EvaluatedAt,
	})
	return decision, nil
}

// transition applies a lifecycle event through the transition table.
func (s *Service) transition(ctx context.Context, call Call, ev event.Event) (Result, error) {
	log := logger.From(ctx)

	next, verdict := Next(call.Status, call.FlowType, ev)
	switch verdict {
	case VerdictNoop:
		if ev.Kind() == event.KindCallInitiated && call.FailReason == FailReasonComplianceBlocked {
			return Result{Call: call, Outcome: OutcomeBlocked}, nil
		}
		return Result{Call: call, Outcome: OutcomeNoop}, nil
	case VerdictIllegal:
		log.Warn("illegal call transition ignored",
			"status", string(call.Status), "event", string(ev.Kind()), "flow_type", string(call.FlowType))
		return Result{Call: call, Outcome: OutcomeNoop}, nil
	}

	// No compliance re-check here: an outbound row only exists in a live
	// status because its creation already carried an allow decision, and a
	// blocked row is terminal before any lifecycle event reaches it.
	return s.apply(ctx, call, ev, next, "", OutcomeApplied)
}

func (s *Service) apply(ctx context.Context, call Call, ev event.Event, next CallStatus, failReason string, outcome Outcome) (Result, error) {
	now := s.clock().UTC()
	err := s.repo.TransitionStatus(ctx, call.TenantID, call.CallID, call.Status, next, failReason, now)
	if errors.Is(err, ErrConflict) {
		// Lost a race with a concurrent delivery. Re-read; if someone else
		// already moved the call to (or past) our target, this is idempotent.
		current, gerr := s.repo.GetByID(ctx, call.TenantID, call.CallID)
		if gerr != nil {
			return Result{}, fmt.Errorf("calls: conflict re-read: %w", gerr)
		}
		if current.Status == next || current.Status.Terminal() {
			return Result{Call: current, Outcome: OutcomeNoop}, nil
		}
		return Result{}, fmt.Errorf("calls: transition %s->%s: %w", call.Status, next, ErrConflict)
	}
	if err != nil {
		return Result{}, fmt.Errorf("calls: transition write: %w", err)
	}

	action := audit.ActionCallStateChanged
	if ev.Kind() == event.KindCallInitiated {
		action = audit.ActionCallInitiated
	}
	s.auditor.Record(audit.Entry{
		TenantID:     call.TenantID,
		Action:       action,
		ResourceType: audit.ResourceTypeCall,
		ResourceID:   call.CallID,
		OldValue:     string(call.Status),
		NewValue:     string(next),
		PayloadHash:  ev.PayloadHash(),
		OccurredAt:   ev.OccurredAt(),
	})

	from := call.Status
	call.Status = next
	call.FailReason = failReason
	call.UpdatedAt = now
	return Result{Call: call, Outcome: outcome, From: from, To: next}, nil
}

// StartOutbound creates an outbound call and dials it at the provider.
// The provider's own call.initiated webhook advances it to ringing.
//
// The compliance gate runs before the dial. A block persists the call as
// failed/compliance_blocked without ever contacting the subject and returns
// ErrComplianceBlocked alongside the row; a gate error aborts with nothing
// dialed.
func (s *Service) StartOutbound(ctx context.Context, tenantID, from, to string, flow FlowType) (Call, error) {
	if tenantID == "" || from == "" || to == "" {
		return Call{}, ErrInvalidArgument
	}
	if s.origin == nil {
		return Call{}, errors.New("calls: originator not configured")
	}
	flow = flowTypeOrDefault(flow)
	now := s.clock().UTC()

	decision, err := s.evaluateContact(ctx, tenantID, to, now, "")
	if err != nil {
		return Call{}, err
	}
	if decision.Decision == compliance.OutcomeBlock {
		call, _, err := s.repo.Insert(ctx, Call{
			CallID:     uuid.NewString(),
			TenantID:   tenantID,
			Direction:  DirectionOutbound,
			From:       from,
			To:         to,
			FlowType:   flow,
			Status:     CallStatusFailed,
			FailReason: FailReasonComplianceBlocked,
			CreatedAt:  now,
		})
		if err != nil {
			return Call{}, fmt.Errorf("calls: insert blocked call: %w", err)
		}
		s.auditor.Record(audit.Entry{
			TenantID:     tenantID,
			Action:       audit.ActionCallInitiated,
			ResourceType: audit.ResourceTypeCall,
			ResourceID:   call.CallID,
			NewValue:     string(CallStatusFailed),
			PayloadHash:  decision.ID,
			OccurredAt:   now,
		})
		return call, fmt.Errorf("%w: %s", ErrComplianceBlocked, decision.ReasonCode)
	}

	controlID, err := s.origin.Originate(ctx, from, to, flow)
	if err != nil {
		return Call{}, fmt.Errorf("calls: originate: %w", err)
	}

	call, created, err := s.repo.Insert(ctx, Call{
		CallID:        uuid.NewString(),
		TenantID:      tenantID,
		CallControlID: controlID,
		Direction:     DirectionOutbound,
		From:          from,
		To:            to,
		FlowType:      flow,
		Status:        CallStatusPending,
		CreatedAt:     now,
	})
	if err != nil {
		return Call{}, fmt.Errorf("calls: insert originated call: %w", err)
	}
	if created {
		s.auditor.Record(audit.Entry{
			TenantID:     tenantID,
			Action:       audit.ActionCallInitiated,
			ResourceType: audit.ResourceTypeCall,
			ResourceID:   call.CallID,
			NewValue:     string(CallStatusPending),
			OccurredAt:   now,
		})
	}
	return call, nil
}

// GetCall is the tenant-scoped read used by client-facing endpoints.
func (s *Service) GetCall(ctx context.Context, tenantID, callID string) (Call, error) {
	return s.repo.GetByID(ctx, tenantID, callID)
}

// ListCalls returns a tenant's calls in a time range, oldest first.
func (s *Service) ListCalls(ctx context.Context, tenantID string, from, to time.Time) ([]Call, error) {
	return s.repo.List(ctx, tenantID, from, to)
}

func flowTypeOrDefault(f FlowType) FlowType {
	if f == FlowTypeBridge {
		return FlowTypeBridge
	}
	return FlowTypeDirect
}
