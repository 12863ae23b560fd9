package translation

import (
	"context"
	"fmt"
	"time"

	"callbridge/internal/calls"
	"callbridge/internal/event"
	"callbridge/pkg/logger"

	"github.com/google/uuid"
)

// PlanChecker answers whether a tenant's plan includes live translation.
type PlanChecker interface {
	LiveTranslationEnabled(ctx context.Context, tenantID string) (bool, error)
}

// Synthesizer turns text into a playable audio reference.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (audioRef string, err error)
}

// Enqueuer accepts synthesized audio for playback into a live call.
type Enqueuer interface {
	Enqueue(ctx context.Context, tenantID, callID, audioRef string) error
}

// Pipeline processes transcription segments: persist, translate, and
// optionally synthesize translated audio back into the call.
//
// The persistence step is the only one allowed to fail the webhook; a
// translation or synthesis failure degrades the segment, never drops it.
type Pipeline struct {
	segments   SegmentRepo
	configs    ConfigStore
	plans      PlanChecker
	translator Translator

	// synth and inject are optional; without them translated segments are
	// stream-only.
	synth  Synthesizer
	inject Enqueuer

	clock func() time.Time
}

func NewPipeline(segments SegmentRepo, configs ConfigStore, plans PlanChecker, translator Translator) *Pipeline {
	return &Pipeline{
		segments:   segments,
		configs:    configs,
		plans:      plans,
		translator: translator,
		clock:      time.Now,
	}
}

// SetSynthesis wires the synthesize-and-inject back half of the pipeline.
func (p *Pipeline) SetSynthesis(synth Synthesizer, inject Enqueuer) {
	p.synth = synth
	p.inject = inject
}

// ProcessSegment handles one transcription segment for a call.
func (p *Pipeline) ProcessSegment(ctx context.Context, call calls.Call, ev event.TranscriptionSegment) error {
	log := logger.From(ctx)

	cfg, translated := p.resolveConfig(ctx, call)

	seg := Segment{
		ID:           uuid.NewString(),
		TenantID:     call.TenantID,
		CallID:       call.CallID,
		SegmentIndex: ev.SegmentIndex,
		SourceText:   ev.Text,
		Confidence:   ev.Confidence,
		CreatedAt:    p.clock().UTC(),
	}

	// translateOK tracks whether a real translation was produced. Only that
	// gates synthesis; seg.Confidence is the STT's own score and a zero
	// there is still a translatable segment.
	translateOK := false
	if !translated {
		// Passthrough: the segment reaches history and the live stream
		// untranslated.
		seg.TranslatedText = ev.Text
	} else {
		seg.SourceLang = cfg.SourceLang
		seg.TargetLang = cfg.TargetLang
		out, err := p.translator.Translate(ctx, ev.Text, cfg.SourceLang, cfg.TargetLang)
		if err != nil {
			log.Error("segment translation failed, storing marker",
				"segment_index", ev.SegmentIndex, "err", err)
			seg.TranslatedText = UnavailableMarker + ev.Text
			seg.Confidence = 0
		} else {
			seg.TranslatedText = out
			translateOK = true
		}
	}

	inserted, err := p.segments.Append(ctx, seg)
	if err != nil {
		return fmt.Errorf("translation: persist segment %d: %w", ev.SegmentIndex, err)
	}
	if !inserted {
		// Redelivery: already persisted, and any synthesis already happened.
		return nil
	}

	if translateOK && cfg.Synthesize {
		p.synthesizeAndEnqueue(ctx, call, cfg, seg)
	}
	return nil
}

// resolveConfig decides whether this segment gets translated. Config misses,
// disabled configs, and plan restrictions all mean passthrough.
func (p *Pipeline) resolveConfig(ctx context.Context, call calls.Call) (CallConfig, bool) {
	log := logger.From(ctx)

	cfg, ok, err := p.configs.Get(ctx, call.TenantID, call.CallID)
	if err != nil {
		log.Error("translation config lookup failed, passing through", "err", err)
		return CallConfig{}, false
	}
	if !ok || !cfg.Enabled {
		return CallConfig{}, false
	}

	enabled, err := p.plans.LiveTranslationEnabled(ctx, call.TenantID)
	if err != nil {
		log.Error("plan capability lookup failed, passing through", "err", err)
		return CallConfig{}, false
	}
	if !enabled {
		log.Warn("translation configured but plan lacks the capability, passing through")
		return CallConfig{}, false
	}
	return cfg, true
}

// synthesizeAndEnqueue is best-effort: the segment is already persisted and
// streamed, so failures here are logged and swallowed.
func (p *Pipeline) synthesizeAndEnqueue(ctx context.Context, call calls.Call, cfg CallConfig, seg Segment) {
	log := logger.From(ctx)

	if p.synth == nil || p.inject == nil {
		return
	}
	if !call.Status.Live() {
		log.Info("skipping synthesis: call no longer live", "status", string(call.Status))
		return
	}

	audioRef, err := p.synth.Synthesize(ctx, seg.TranslatedText, cfg.VoiceID)
	if err != nil {
		log.Error("synthesis failed", "segment_index", seg.SegmentIndex, "err", err)
		return
	}
	if err := p.inject.Enqueue(ctx, call.TenantID, call.CallID, audioRef); err != nil {
		log.Error("injection enqueue failed", "segment_index", seg.SegmentIndex, "err", err)
	}
}
