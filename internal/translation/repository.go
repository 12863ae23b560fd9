package translation

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrInvalidArgument = errors.New("translation: invalid argument")

// SegmentRepo is the persistence contract for translated segments.
type SegmentRepo interface {
	// Append stores the segment unless (call_id, segment_index) already
	// exists. Returns false for the duplicate case.
	Append(ctx context.Context, s Segment) (bool, error)

	// ListByCall returns a call's segments ordered by segment_index.
	ListByCall(ctx context.Context, tenantID, callID string) ([]Segment, error)

	// ListAfter returns segments with index > afterIndex, ordered by index.
	// The live stream polls with this to pick up only new segments.
	ListAfter(ctx context.Context, tenantID, callID string, afterIndex int) ([]Segment, error)
}

// ConfigStore holds per-call translation configuration.
type ConfigStore interface {
	Get(ctx context.Context, tenantID, callID string) (CallConfig, bool, error)
	Set(ctx context.Context, cfg CallConfig) error
}

// PostgresSegments implements SegmentRepo.
//
// NOTE: assumes table translation_segments with
// UNIQUE (call_id, segment_index); rows are never updated or deleted.
type PostgresSegments struct {
	db *sql.DB
}

func NewPostgresSegments(db *sql.DB) *PostgresSegments { return &PostgresSegments{db: db} }

const segmentColumns = `
id, tenant_id, call_id, segment_index, source_text, COALESCE(source_lang, ''),
translated_text, COALESCE(target_lang, ''), confidence, created_at`

func (r *PostgresSegments) Append(ctx context.Context, s Segment) (bool, error) {
	if s.TenantID == "" || s.CallID == "" {
		return false, ErrInvalidArgument
	}
	const q = `
INSERT INTO translation_segments
  (id, tenant_id, call_id, segment_index, source_text, source_lang,
   translated_text, target_lang, confidence, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10)
ON CONFLICT (call_id, segment_index) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		s.ID, s.TenantID, s.CallID, s.SegmentIndex, s.SourceText, s.SourceLang,
		s.TranslatedText, s.TargetLang, s.Confidence, s.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresSegments) ListByCall(ctx context.Context, tenantID, callID string) ([]Segment, error) {
	return r.list(ctx, tenantID, callID, -1)
}

func (r *PostgresSegments) ListAfter(ctx context.Context, tenantID, callID string, afterIndex int) ([]Segment, error) {
	return r.list(ctx, tenantID, callID, afterIndex)
}

func (r *PostgresSegments) list(ctx context.Context, tenantID, callID string, afterIndex int) ([]Segment, error) {
	if tenantID == "" || callID == "" {
		return nil, ErrInvalidArgument
	}
	const q = `
SELECT ` + segmentColumns + `
FROM translation_segments
WHERE tenant_id = $1 AND call_id = $2 AND segment_index > $3
ORDER BY segment_index
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, callID, afterIndex)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var s Segment
		if err := rows.Scan(
			&s.ID, &s.TenantID, &s.CallID, &s.SegmentIndex, &s.SourceText, &s.SourceLang,
			&s.TranslatedText, &s.TargetLang, &s.Confidence, &s.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PostgresConfigs implements ConfigStore over call_translation_configs.
type PostgresConfigs struct {
	db *sql.DB
}

func NewPostgresConfigs(db *sql.DB) *PostgresConfigs { return &PostgresConfigs{db: db} }

func (r *PostgresConfigs) Get(ctx context.Context, tenantID, callID string) (CallConfig, bool, error) {
	const q = `
SELECT tenant_id, call_id, enabled, source_lang, target_lang, synthesize, COALESCE(voice_id, '')
FROM call_translation_configs
WHERE tenant_id = $1 AND call_id = $2
`
	var cfg CallConfig
	err := r.db.QueryRowContext(ctx, q, tenantID, callID).Scan(
		&cfg.TenantID, &cfg.CallID, &cfg.Enabled, &cfg.SourceLang,
		&cfg.TargetLang, &cfg.Synthesize, &cfg.VoiceID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return CallConfig{}, false, nil
	}
	if err != nil {
		return CallConfig{}, false, err
	}
	return cfg, true, nil
}

func (r *PostgresConfigs) Set(ctx context.Context, cfg CallConfig) error {
	if cfg.TenantID == "" || cfg.CallID == "" {
		return ErrInvalidArgument
	}
	const q = `
INSERT INTO call_translation_configs
  (tenant_id, call_id, enabled, source_lang, target_lang, synthesize, voice_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
ON CONFLICT (tenant_id, call_id) DO UPDATE SET
  enabled = EXCLUDED.enabled,
  source_lang = EXCLUDED.source_lang,
  target_lang = EXCLUDED.target_lang,
  synthesize = EXCLUDED.synthesize,
  voice_id = EXCLUDED.voice_id,
  updated_at = EXCLUDED.updated_at
`
	_, err := r.db.ExecContext(ctx, q,
		cfg.TenantID, cfg.CallID, cfg.Enabled, cfg.SourceLang,
		cfg.TargetLang, cfg.Synthesize, cfg.VoiceID, time.Now().UTC(),
	)
	return err
}
