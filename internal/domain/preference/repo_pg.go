package preference

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chiro/chiro/internal/platform/apperror"
	"github.com/chiro/chiro/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const prefCols = `id, provider_id, category, pref_key, value, confidence,
	learned_from, times_applied, times_accepted, times_rejected,
	examples, source, active, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Preference, error) {
	var p Preference
	err := row.Scan(&p.ID, &p.ProviderID, &p.Category, &p.Key, &p.Value, &p.Confidence,
		&p.LearnedFrom, &p.TimesApplied, &p.TimesAccepted, &p.TimesRejected,
		&p.Examples, &p.Source, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, db.Translate(err, "preference")
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Preference) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO provider_preference (id, provider_id, category, pref_key, value, confidence,
			learned_from, times_applied, times_accepted, times_rejected, examples, source, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		p.ID, p.ProviderID, p.Category, p.Key, p.Value, p.Confidence,
		p.LearnedFrom, p.TimesApplied, p.TimesAccepted, p.TimesRejected, p.Examples, p.Source, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return db.Translate(err, "preference")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Preference, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+prefCols+` FROM provider_preference WHERE id = $1`, id))
}

func (r *repoPG) GetByKey(ctx context.Context, providerID string, category Category, key string) (*Preference, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+prefCols+` FROM provider_preference
		WHERE provider_id = $1 AND category = $2 AND pref_key = $3 FOR UPDATE`, providerID, category, key))
}

func (r *repoPG) Update(ctx context.Context, p *Preference) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE provider_preference SET value=$2, confidence=$3, learned_from=$4,
			times_applied=$5, times_accepted=$6, times_rejected=$7,
			examples=$8, source=$9, active=$10, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Value, p.Confidence, p.LearnedFrom,
		p.TimesApplied, p.TimesAccepted, p.TimesRejected,
		p.Examples, p.Source, p.Active,
	).Scan(&p.UpdatedAt)
	return db.Translate(err, "preference")
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM provider_preference WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("preference not found")
	}
	return nil
}

func (r *repoPG) ListByProvider(ctx context.Context, providerID string, f ListFilter) ([]*Preference, error) {
	where := []string{"provider_id = $1"}
	args := []interface{}{providerID}
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "active")
	}
	if f.MinConfidence > 0 {
		args = append(args, f.MinConfidence)
		where = append(where, fmt.Sprintf("confidence >= $%d", len(args)))
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+prefCols+` FROM provider_preference
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY confidence DESC, updated_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Preference
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
