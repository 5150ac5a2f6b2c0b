package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
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
	}
}

// HealthReport is the /health/db body. The admission overlap constraint is
// a gist exclusion over (patient_id, tstzrange), so a database without
// btree_gist cannot enforce one stay per patient and reports unhealthy.
type HealthReport struct {
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	BtreeGist     bool       `json:"btree_gist"`
	SchemaVersion *int64     `json:"schema_version,omitempty"`
	Pool          *PoolStats `json:"pool,omitempty"`
}

// Healthy reports whether the handler should answer 200.
func (r *HealthReport) Healthy() bool { return r.Status == "healthy" }

type healthSource interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const btreeGistInstalled = `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'btree_gist')`

func checkHealth(ctx context.Context, src healthSource) *HealthReport {
	if err := src.Ping(ctx); err != nil {
		return &HealthReport{Status: "unhealthy", Error: err.Error()}
	}
	r := &HealthReport{Status: "healthy"}
	if err := src.QueryRow(ctx, btreeGistInstalled).Scan(&r.BtreeGist); err != nil {
		r.Status = "unhealthy"
		r.Error = "check btree_gist: " + err.Error()
		return r
	}
	if !r.BtreeGist {
		r.Status = "unhealthy"
		r.Error = "btree_gist extension is not installed"
	}
	return r
}

// HealthHandler pings the database, checks the extensions the admission
// schema depends on and reports pool statistics together with the schema
// version of the default facility.
func HealthHandler(pool *pgxpool.Pool, migrator *Migrator, defaultFacility string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		report := checkHealth(ctx, pool)
		report.Pool = GetPoolStats(pool)
		if report.Healthy() && migrator != nil {
			if v, err := migrator.Version(ctx, SchemaName(defaultFacility)); err == nil {
				report.SchemaVersion = &v
			}
		}
		return writeHealth(c, report)
	}
}

func writeHealth(c echo.Context, report *HealthReport) error {
	if !report.Healthy() {
		return c.JSON(http.StatusServiceUnavailable, report)
	}
	return c.JSON(http.StatusOK, report)
}
