package db

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Pinger is the part of *pgxpool.Pool the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is an additional named readiness probe, e.g. the template directory.
type Check func(ctx context.Context) error

// HealthHandler pings the database, runs the extra checks and reports pool
// statistics when stats is non-nil.
func HealthHandler(p Pinger, stats func() *PoolStats, checks map[string]Check) echo.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		healthy := true
		body := map[string]interface{}{}

		if err := p.Ping(ctx); err != nil {
			healthy = false
			body["error"] = err.Error()
		}
		if stats != nil {
			s := stats()
			if !healthy {
				s.Healthy = false
			}
			body["pool"] = s
		}

		results := make(map[string]string, len(names))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				healthy = false
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		if len(results) > 0 {
			body["checks"] = results
		}

		if !healthy {
			body["status"] = "unhealthy"
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		body["status"] = "healthy"
		return c.JSON(http.StatusOK, body)
	}
}
