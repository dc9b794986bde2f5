package draftnote

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chiro/chiro/internal/platform/db"
	"github.com/chiro/chiro/internal/soap"
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

const draftCols = `id, encounter_id, patient_id, provider_id, transcription_id, status,
	subjective, objective, assessment, plan, section_confidence, confidence,
	style_match_score, applied_style_elements, applied_preference_ids,
	edit_count, edits, edit_reasons, reviewed_by, reviewed_at, review_notes,
	ai_provider, processing_ms, generation_input, created_at, updated_at`

func (r *repoPG) scanDraft(row pgx.Row) (*DraftNote, error) {
	var d DraftNote
	err := row.Scan(&d.ID, &d.EncounterID, &d.PatientID, &d.ProviderID, &d.TranscriptionID, &d.Status,
		&d.Subjective, &d.Objective, &d.Assessment, &d.Plan, &d.SectionConfidence, &d.Confidence,
		&d.StyleMatchScore, &d.AppliedStyleElements, &d.AppliedPreferenceIDs,
		&d.EditCount, &d.Edits, &d.EditReasons, &d.ReviewedBy, &d.ReviewedAt, &d.ReviewNotes,
		&d.AIProvider, &d.ProcessingMs, &d.GenerationInput, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, db.Translate(err, "draft note")
	}
	return &d, nil
}

// normalize keeps NOT NULL array and json columns from receiving NULL.
func normalize(d *DraftNote) {
	if d.SectionConfidence == nil {
		d.SectionConfidence = map[soap.Section]float64{}
	}
	if d.AppliedStyleElements == nil {
		d.AppliedStyleElements = []string{}
	}
	if d.AppliedPreferenceIDs == nil {
		d.AppliedPreferenceIDs = []uuid.UUID{}
	}
	if d.Edits == nil {
		d.Edits = map[soap.Section]SectionEdit{}
	}
	if d.EditReasons == nil {
		d.EditReasons = []string{}
	}
}

func (r *repoPG) Create(ctx context.Context, d *DraftNote) error {
	d.ID = uuid.New()
	normalize(d)
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO draft_note (id, encounter_id, patient_id, provider_id, transcription_id, status,
			subjective, objective, assessment, plan, section_confidence, confidence,
			style_match_score, applied_style_elements, applied_preference_ids,
			edit_count, edits, edit_reasons, ai_provider, processing_ms, generation_input)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING created_at, updated_at`,
		d.ID, d.EncounterID, d.PatientID, d.ProviderID, d.TranscriptionID, d.Status,
		d.Subjective, d.Objective, d.Assessment, d.Plan, d.SectionConfidence, d.Confidence,
		d.StyleMatchScore, d.AppliedStyleElements, d.AppliedPreferenceIDs,
		d.EditCount, d.Edits, d.EditReasons, d.AIProvider, d.ProcessingMs, d.GenerationInput,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	return db.Translate(err, "draft note")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*DraftNote, error) {
	return r.scanDraft(r.conn(ctx).QueryRow(ctx, `SELECT `+draftCols+` FROM draft_note WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, d *DraftNote) error {
	normalize(d)
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE draft_note SET status=$2, subjective=$3, objective=$4, assessment=$5, plan=$6,
			section_confidence=$7, confidence=$8, style_match_score=$9, applied_style_elements=$10,
			applied_preference_ids=$11, edit_count=$12, edits=$13, edit_reasons=$14,
			reviewed_by=$15, reviewed_at=$16, review_notes=$17, ai_provider=$18, processing_ms=$19,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.Status, d.Subjective, d.Objective, d.Assessment, d.Plan,
		d.SectionConfidence, d.Confidence, d.StyleMatchScore, d.AppliedStyleElements,
		d.AppliedPreferenceIDs, d.EditCount, d.Edits, d.EditReasons,
		d.ReviewedBy, d.ReviewedAt, d.ReviewNotes, d.AIProvider, d.ProcessingMs,
	).Scan(&d.UpdatedAt)
	return db.Translate(err, "draft note")
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*DraftNote, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+draftCols+` FROM draft_note
		WHERE encounter_id = $1 ORDER BY created_at DESC`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*DraftNote
	for rows.Next() {
		d, err := r.scanDraft(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
