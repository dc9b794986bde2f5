package coding

import (
	"context"
	"fmt"
	"strings"

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
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
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

const suggestionCols = `id, batch_id, encounter_id, provider_id, code_type, code, description, reasoning,
	confidence, model_confidence, rank, is_chiro_common, is_valid, specificity_ok, alternatives,
	modifiers, supporting_text, upcoding_risk, downcoding_risk, audit_risk, risk_reason, status,
	modified_code, decided_by, decided_at, ai_provider, created_at, updated_at`

func (r *repoPG) scanSuggestion(row pgx.Row) (*Suggestion, error) {
	var s Suggestion
	err := row.Scan(&s.ID, &s.BatchID, &s.EncounterID, &s.ProviderID, &s.CodeType, &s.Code, &s.Description, &s.Reasoning,
		&s.Confidence, &s.ModelConfidence, &s.Rank, &s.IsChiroCommon, &s.IsValid, &s.SpecificityOK, &s.Alternatives,
		&s.Modifiers, &s.SupportingText, &s.UpcodingRisk, &s.DowncodingRisk, &s.AuditRisk, &s.RiskReason, &s.Status,
		&s.ModifiedCode, &s.DecidedBy, &s.DecidedAt, &s.AIProvider, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, db.Translate(err, "code suggestion")
	}
	return &s, nil
}

// CreateBatch inserts the whole run in one round trip.
func (r *repoPG) CreateBatch(ctx context.Context, items []*Suggestion) error {
	if len(items) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, s := range items {
		s.ID = uuid.New()
		if s.Alternatives == nil {
			s.Alternatives = []string{}
		}
		if s.Modifiers == nil {
			s.Modifiers = []string{}
		}
		b.Queue(`
			INSERT INTO code_suggestion (id, batch_id, encounter_id, provider_id, code_type, code, description,
				reasoning, confidence, model_confidence, rank, is_chiro_common, is_valid, specificity_ok,
				alternatives, modifiers, supporting_text, upcoding_risk, downcoding_risk, audit_risk,
				risk_reason, status, ai_provider)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
			RETURNING created_at, updated_at`,
			s.ID, s.BatchID, s.EncounterID, s.ProviderID, s.CodeType, s.Code, s.Description,
			s.Reasoning, s.Confidence, s.ModelConfidence, s.Rank, s.IsChiroCommon, s.IsValid, s.SpecificityOK,
			s.Alternatives, s.Modifiers, s.SupportingText, s.UpcodingRisk, s.DowncodingRisk, s.AuditRisk,
			s.RiskReason, s.Status, s.AIProvider,
		)
	}
	br := r.conn(ctx).SendBatch(ctx, b)
	defer br.Close()
	for _, s := range items {
		if err := br.QueryRow().Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
			return db.Translate(err, "code suggestion")
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Suggestion, error) {
	return r.scanSuggestion(r.conn(ctx).QueryRow(ctx, `SELECT `+suggestionCols+` FROM code_suggestion WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, s *Suggestion) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE code_suggestion SET status=$2, modified_code=$3, decided_by=$4, decided_at=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.Status, s.ModifiedCode, s.DecidedBy, s.DecidedAt,
	).Scan(&s.UpdatedAt)
	return db.Translate(err, "code suggestion")
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID, f ListFilter) ([]*Suggestion, int, error) {
	where := []string{"encounter_id = $1"}
	args := []interface{}{encounterID}
	idx := 2
	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, f.Status)
		idx++
	}
	if f.CodeType != "" {
		where = append(where, fmt.Sprintf("code_type = $%d", idx))
		args = append(args, f.CodeType)
		idx++
	}
	whereSQL := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM code_suggestion"+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + suggestionCols + ` FROM code_suggestion` + whereSQL +
		` ORDER BY created_at DESC, code_type, rank`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", idx, idx+1)
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Suggestion
	for rows.Next() {
		s, err := r.scanSuggestion(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *repoPG) AcceptanceStats(ctx context.Context, providerID string) (map[string]Acceptance, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT code,
			COUNT(*) FILTER (WHERE status = 'ACCEPTED'),
			COUNT(*) FILTER (WHERE status = 'REJECTED')
		FROM code_suggestion
		WHERE provider_id = $1 AND status IN ('ACCEPTED','REJECTED')
		GROUP BY code`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stats := make(map[string]Acceptance)
	for rows.Next() {
		var code string
		var a Acceptance
		if err := rows.Scan(&code, &a.Accepted, &a.Rejected); err != nil {
			return nil, err
		}
		stats[code] = a
	}
	return stats, rows.Err()
}
