package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	FacilityIDKey contextKey = "facility_id"
	DBConnKey     contextKey = "db_conn"
	DBTxKey       contextKey = "db_tx"
)

var facilityIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaName returns the Postgres schema that stores a facility's data.
func SchemaName(facilityID string) string {
	return fmt.Sprintf("facility_%s", facilityID)
}

// ErrInvalidFacility is returned for facility ids that are not safe schema
// name suffixes.
var ErrInvalidFacility = errors.New("invalid facility identifier")

// FacilityMiddleware pins one pooled connection per request with search_path
// set to the caller's facility schema.
func FacilityMiddleware(pool *pgxpool.Pool, defaultFacility string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			facilityID := extractFacilityID(c, defaultFacility)

			ctx, release, err := AcquireFacility(c.Request().Context(), pool, facilityID)
			if errors.Is(err, ErrInvalidFacility) {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable").SetInternal(err)
			}
			defer release()

			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("facility_id", facilityID)

			return next(c)
		}
	}
}

// AcquireFacility pins a pooled connection to the facility schema and returns
// a context carrying it. The caller must call release when done.
func AcquireFacility(ctx context.Context, pool *pgxpool.Pool, facilityID string) (context.Context, func(), error) {
	if !facilityIDPattern.MatchString(facilityID) {
		return nil, nil, ErrInvalidFacility
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(facilityID))); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("set search_path for %s: %w", facilityID, err)
	}

	ctx = context.WithValue(ctx, FacilityIDKey, facilityID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return ctx, conn.Release, nil
}

func extractFacilityID(c echo.Context, defaultFacility string) string {
	// 1. JWT claim (set by auth middleware)
	if fid, ok := c.Get("jwt_facility_id").(string); ok && fid != "" {
		return fid
	}

	// 2. X-Facility-ID header
	if fid := c.Request().Header.Get("X-Facility-ID"); fid != "" {
		return fid
	}

	// 3. Query parameter
	if fid := c.QueryParam("facility_id"); fid != "" {
		return fid
	}

	return defaultFacility
}

// WithFacility returns a context carrying only the facility id. Used by
// background callers that have no request connection.
func WithFacility(ctx context.Context, facilityID string) context.Context {
	return context.WithValue(ctx, FacilityIDKey, facilityID)
}

// ConnFromContext retrieves the facility-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// FacilityFromContext retrieves the facility ID from context.
func FacilityFromContext(ctx context.Context) string {
	fid, _ := ctx.Value(FacilityIDKey).(string)
	return fid
}

// CreateFacilitySchema creates the schema for a facility and, when migrator
// is non-nil, applies all migrations to it.
func CreateFacilitySchema(ctx context.Context, pool *pgxpool.Pool, facilityID string, migrator *Migrator) error {
	if !facilityIDPattern.MatchString(facilityID) {
		return fmt.Errorf("invalid facility identifier: %s", facilityID)
	}

	schema := SchemaName(facilityID)
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrator != nil {
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}
