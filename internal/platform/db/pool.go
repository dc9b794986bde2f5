package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type PoolConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
	// SlowQuery is the threshold above which a query is logged at warn
	// level. Zero disables slow-query logging.
	SlowQuery time.Duration
	Logger    zerolog.Logger
}

func NewPool(ctx context.Context, pc PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(pc.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	if pc.SlowQuery > 0 {
		cfg.ConnConfig.Tracer = &QueryTracer{Threshold: pc.SlowQuery, Logger: pc.Logger}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

type queryStartKey struct{}

type queryStart struct {
	at  time.Time
	sql string
}

// QueryTracer logs queries slower than Threshold and every failed query.
type QueryTracer struct {
	Threshold time.Duration
	Logger    zerolog.Logger
}

func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: time.Now(), sql: data.SQL})
}

func (t *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	elapsed := time.Since(start.at)
	switch {
	case data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows):
		t.Logger.Debug().Err(data.Err).Dur("elapsed", elapsed).Str("tenant", TenantFromContext(ctx)).Msg("query failed")
	case elapsed >= t.Threshold:
		t.Logger.Warn().
			Dur("elapsed", elapsed).
			Str("tenant", TenantFromContext(ctx)).
			Str("sql", truncateSQL(start.sql)).
			Msg("slow query")
	}
}

func truncateSQL(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
