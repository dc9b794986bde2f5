package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) PoolStats {
	stat := pool.Stat()
	return PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Check is an extra readiness check. It returns a short state string and
// whether the dependency is usable.
type Check struct {
	Name string
	Run  func(ctx context.Context) (state string, ok bool)
}

type HealthReport struct {
	Status string            `json:"status"`
	Error  string            `json:"error,omitempty"`
	Pool   *PoolStats        `json:"pool,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthHandler pings the database and runs every check. Any failure turns
// the response into a 503.
func HealthHandler(pool *pgxpool.Pool, checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		var pingErr error
		var stats *PoolStats
		if pool != nil {
			pingErr = pool.Ping(ctx)
			s := GetPoolStats(pool)
			stats = &s
		}
		report := buildReport(ctx, pingErr, checks)
		report.Pool = stats

		code := http.StatusOK
		if report.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, report)
	}
}

func buildReport(ctx context.Context, pingErr error, checks []Check) HealthReport {
	report := HealthReport{Status: "healthy"}
	if pingErr != nil {
		report.Status = "unhealthy"
		report.Error = pingErr.Error()
	}
	if len(checks) > 0 {
		report.Checks = make(map[string]string, len(checks))
	}
	for _, ch := range checks {
		state, ok := ch.Run(ctx)
		report.Checks[ch.Name] = state
		if !ok {
			report.Status = "degraded"
			if pingErr != nil {
				report.Status = "unhealthy"
			}
		}
	}
	return report
}
