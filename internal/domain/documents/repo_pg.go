package documents

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

type noteRepoPG struct{ pool *pgxpool.Pool }

func NewClinicalNoteRepoPG(pool *pgxpool.Pool) ClinicalNoteRepository {
	return &noteRepoPG{pool: pool}
}

func (r *noteRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const noteCols = `id, encounter_id, patient_id, provider_id, status,
	subjective, objective, assessment, plan,
	source_draft_id, signed_by, signed_at, version_id, created_at, updated_at`

func (r *noteRepoPG) scanNote(row pgx.Row) (*ClinicalNote, error) {
	var n ClinicalNote
	err := row.Scan(&n.ID, &n.EncounterID, &n.PatientID, &n.ProviderID, &n.Status,
		&n.Subjective, &n.Objective, &n.Assessment, &n.Plan,
		&n.SourceDraftID, &n.SignedBy, &n.SignedAt, &n.VersionID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, db.Translate(err, "clinical note")
	}
	return &n, nil
}

func (r *noteRepoPG) Create(ctx context.Context, n *ClinicalNote) error {
	n.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinical_note (id, encounter_id, patient_id, provider_id, status,
			subjective, objective, assessment, plan, source_draft_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING version_id, created_at, updated_at`,
		n.ID, n.EncounterID, n.PatientID, n.ProviderID, n.Status,
		n.Subjective, n.Objective, n.Assessment, n.Plan, n.SourceDraftID,
	).Scan(&n.VersionID, &n.CreatedAt, &n.UpdatedAt)
	return db.Translate(err, "clinical note")
}

func (r *noteRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ClinicalNote, error) {
	return r.scanNote(r.conn(ctx).QueryRow(ctx, `SELECT `+noteCols+` FROM clinical_note WHERE id = $1`, id))
}

func (r *noteRepoPG) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*ClinicalNote, error) {
	return r.scanNote(r.conn(ctx).QueryRow(ctx, `SELECT `+noteCols+` FROM clinical_note WHERE encounter_id = $1`, encounterID))
}

func (r *noteRepoPG) Update(ctx context.Context, n *ClinicalNote) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE clinical_note SET status=$2, subjective=$3, objective=$4, assessment=$5, plan=$6,
			source_draft_id=$7, signed_by=$8, signed_at=$9,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1
		RETURNING version_id, updated_at`,
		n.ID, n.Status, n.Subjective, n.Objective, n.Assessment, n.Plan,
		n.SourceDraftID, n.SignedBy, n.SignedAt,
	).Scan(&n.VersionID, &n.UpdatedAt)
	return db.Translate(err, "clinical note")
}

func (r *noteRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*ClinicalNote, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ClinicalNote
	for rows.Next() {
		n, err := r.scanNote(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (r *noteRepoPG) ListSignedByProvider(ctx context.Context, providerID string, limit int) ([]*ClinicalNote, error) {
	return r.list(ctx, `SELECT `+noteCols+` FROM clinical_note
		WHERE provider_id = $1 AND status IN ('signed','amended')
		ORDER BY signed_at DESC NULLS LAST, created_at DESC LIMIT $2`, providerID, limit)
}

func (r *noteRepoPG) ListPriorByPatient(ctx context.Context, patientID, excludeEncounterID uuid.UUID, limit int) ([]*ClinicalNote, error) {
	return r.list(ctx, `SELECT `+noteCols+` FROM clinical_note
		WHERE patient_id = $1 AND encounter_id <> $2
		ORDER BY created_at DESC LIMIT $3`, patientID, excludeEncounterID, limit)
}
