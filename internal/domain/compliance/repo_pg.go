package compliance

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

const checkCols = `id, encounter_id, provider_id, encounter_type, payer_type, score, audit_risk_score,
	billing_blocked, block_reason, critical_count, error_count, warning_count, info_count,
	ai_provider, created_at`

func (r *repoPG) scanCheck(row pgx.Row) (*Check, error) {
	var c Check
	err := row.Scan(&c.ID, &c.EncounterID, &c.ProviderID, &c.EncounterType, &c.PayerType, &c.Score, &c.AuditRiskScore,
		&c.BillingBlocked, &c.BlockReason, &c.CriticalCount, &c.ErrorCount, &c.WarningCount, &c.InfoCount,
		&c.AIProvider, &c.CreatedAt)
	if err != nil {
		return nil, db.Translate(err, "compliance check")
	}
	return &c, nil
}

const issueCols = `id, check_id, encounter_id, issue_type, severity, title, description, section,
	suggested_fix, auto_fixable, suggested_text, audit_risk_impact, denial_risk, resolved, dismissed,
	resolution, resolved_by, resolved_at, created_at`

func (r *repoPG) scanIssue(row pgx.Row) (*Issue, error) {
	var is Issue
	err := row.Scan(&is.ID, &is.CheckID, &is.EncounterID, &is.Type, &is.Severity, &is.Title, &is.Description, &is.Section,
		&is.SuggestedFix, &is.AutoFixable, &is.SuggestedText, &is.AuditRiskImpact, &is.DenialRisk, &is.Resolved, &is.Dismissed,
		&is.Resolution, &is.ResolvedBy, &is.ResolvedAt, &is.CreatedAt)
	if err != nil {
		return nil, db.Translate(err, "compliance issue")
	}
	return &is, nil
}

func (r *repoPG) CreateCheck(ctx context.Context, c *Check) error {
	c.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO compliance_check (id, encounter_id, provider_id, encounter_type, payer_type, score,
			audit_risk_score, billing_blocked, block_reason, critical_count, error_count, warning_count,
			info_count, ai_provider)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at`,
		c.ID, c.EncounterID, c.ProviderID, c.EncounterType, c.PayerType, c.Score,
		c.AuditRiskScore, c.BillingBlocked, c.BlockReason, c.CriticalCount, c.ErrorCount, c.WarningCount,
		c.InfoCount, c.AIProvider,
	).Scan(&c.CreatedAt)
	return db.Translate(err, "compliance check")
}

// CreateIssues inserts a run's issues in one round trip.
func (r *repoPG) CreateIssues(ctx context.Context, issues []*Issue) error {
	if len(issues) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, is := range issues {
		is.ID = uuid.New()
		b.Queue(`
			INSERT INTO compliance_issue (id, check_id, encounter_id, issue_type, severity, title, description,
				section, suggested_fix, auto_fixable, suggested_text, audit_risk_impact, denial_risk)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			RETURNING created_at`,
			is.ID, is.CheckID, is.EncounterID, is.Type, is.Severity, is.Title, is.Description,
			is.Section, is.SuggestedFix, is.AutoFixable, is.SuggestedText, is.AuditRiskImpact, is.DenialRisk,
		)
	}
	br := r.conn(ctx).SendBatch(ctx, b)
	defer br.Close()
	for _, is := range issues {
		if err := br.QueryRow().Scan(&is.CreatedAt); err != nil {
			return db.Translate(err, "compliance issue")
		}
	}
	return nil
}

func (r *repoPG) GetCheck(ctx context.Context, id uuid.UUID) (*Check, error) {
	return r.scanCheck(r.conn(ctx).QueryRow(ctx, `SELECT `+checkCols+` FROM compliance_check WHERE id = $1`, id))
}

func (r *repoPG) LatestCheck(ctx context.Context, encounterID uuid.UUID) (*Check, error) {
	return r.scanCheck(r.conn(ctx).QueryRow(ctx, `SELECT `+checkCols+` FROM compliance_check
		WHERE encounter_id = $1 ORDER BY created_at DESC LIMIT 1`, encounterID))
}

func (r *repoPG) ListChecks(ctx context.Context, encounterID uuid.UUID, limit, offset int) ([]*Check, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM compliance_check WHERE encounter_id = $1`,
		encounterID).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + checkCols + ` FROM compliance_check WHERE encounter_id = $1 ORDER BY created_at DESC`
	args := []interface{}{encounterID}
	if limit > 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Check
	for rows.Next() {
		c, err := r.scanCheck(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListIssues(ctx context.Context, checkIDs []uuid.UUID) ([]*Issue, error) {
	if len(checkIDs) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+issueCols+` FROM compliance_issue
		WHERE check_id = ANY($1) ORDER BY created_at, id`, checkIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Issue
	for rows.Next() {
		is, err := r.scanIssue(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, is)
	}
	return items, rows.Err()
}

func (r *repoPG) GetIssue(ctx context.Context, id uuid.UUID) (*Issue, error) {
	return r.scanIssue(r.conn(ctx).QueryRow(ctx, `SELECT `+issueCols+` FROM compliance_issue WHERE id = $1`, id))
}

// UpdateIssue writes the resolution fields; everything else is immutable.
func (r *repoPG) UpdateIssue(ctx context.Context, is *Issue) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE compliance_issue SET resolved=$2, dismissed=$3, resolution=$4, resolved_by=$5, resolved_at=$6
		WHERE id = $1`,
		is.ID, is.Resolved, is.Dismissed, is.Resolution, is.ResolvedBy, is.ResolvedAt)
	if err != nil {
		return db.Translate(err, "compliance issue")
	}
	if tag.RowsAffected() == 0 {
		return db.Translate(pgx.ErrNoRows, "compliance issue")
	}
	return nil
}
