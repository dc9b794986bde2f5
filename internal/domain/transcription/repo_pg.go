package transcription

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chiro/chiro/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const sessionCols = `id, encounter_id, provider_id, status, language, speaker_labels,
	full_transcript, accuracy, segment_count, medical_terms, started_at, paused_at,
	completed_at, audio_duration_sec, processing_ms, ai_provider, created_at, updated_at`

func (r *repoPG) scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.EncounterID, &s.ProviderID, &s.Status, &s.Language, &s.SpeakerLabels,
		&s.FullTranscript, &s.Accuracy, &s.SegmentCount, &s.MedicalTerms, &s.StartedAt, &s.PausedAt,
		&s.CompletedAt, &s.AudioDurationSec, &s.ProcessingMs, &s.AIProvider, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, db.Translate(err, "transcription session")
	}
	return &s, nil
}

// CreateSession relies on the partial unique index over active sessions per
// encounter; a concurrent start surfaces as a Conflict.
func (r *repoPG) CreateSession(ctx context.Context, s *Session) error {
	s.ID = uuid.New()
	if s.MedicalTerms == nil {
		s.MedicalTerms = []string{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO transcription_session (id, encounter_id, provider_id, status, language,
			speaker_labels, full_transcript, accuracy, segment_count, medical_terms, started_at, ai_provider)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		s.ID, s.EncounterID, s.ProviderID, s.Status, s.Language,
		s.SpeakerLabels, s.FullTranscript, s.Accuracy, s.SegmentCount, s.MedicalTerms, s.StartedAt, s.AIProvider,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return db.Translate(err, "transcription session")
}

func (r *repoPG) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.scanSession(r.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM transcription_session WHERE id = $1`, id))
}

func (r *repoPG) GetActiveByEncounter(ctx context.Context, encounterID uuid.UUID) (*Session, error) {
	return r.scanSession(r.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM transcription_session
		WHERE encounter_id = $1 AND status IN ('RECORDING','PAUSED')`, encounterID))
}

func (r *repoPG) GetLatestCompleted(ctx context.Context, encounterID uuid.UUID) (*Session, error) {
	return r.scanSession(r.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM transcription_session
		WHERE encounter_id = $1 AND status = 'COMPLETED'
		ORDER BY completed_at DESC LIMIT 1`, encounterID))
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Session, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+sessionCols+` FROM transcription_session
		WHERE encounter_id = $1 ORDER BY started_at DESC`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Session
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *repoPG) UpdateSession(ctx context.Context, s *Session) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE transcription_session SET status=$2, speaker_labels=$3, full_transcript=$4,
			accuracy=$5, segment_count=$6, medical_terms=$7, paused_at=$8, completed_at=$9,
			audio_duration_sec=$10, processing_ms=$11, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.Status, s.SpeakerLabels, s.FullTranscript,
		s.Accuracy, s.SegmentCount, s.MedicalTerms, s.PausedAt, s.CompletedAt,
		s.AudioDurationSec, s.ProcessingMs,
	).Scan(&s.UpdatedAt)
	return db.Translate(err, "transcription session")
}

func (r *repoPG) AppendSegment(ctx context.Context, seg *Segment) error {
	seg.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO transcription_segment (id, session_id, chunk_index, speaker, text,
			start_time, end_time, confidence)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		seg.ID, seg.SessionID, seg.ChunkIndex, seg.Speaker, seg.Text,
		seg.StartTime, seg.EndTime, seg.Confidence,
	).Scan(&seg.CreatedAt)
	return db.Translate(err, "transcription segment")
}

func (r *repoPG) ListSegments(ctx context.Context, sessionID uuid.UUID) ([]*Segment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, session_id, chunk_index, speaker, text, start_time, end_time, confidence, created_at
		FROM transcription_segment WHERE session_id = $1 ORDER BY created_at, chunk_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.ChunkIndex, &seg.Speaker, &seg.Text,
			&seg.StartTime, &seg.EndTime, &seg.Confidence, &seg.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &seg)
	}
	return items, rows.Err()
}
