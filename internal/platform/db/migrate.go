package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// MigrationStatus represents the status of a migration (applied or pending).
type MigrationStatus struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// Migrator applies goose migrations to a single facility schema at a time.
type Migrator struct {
	pool *pgxpool.Pool
	fsys fs.FS
}

// NewMigrator creates a Migrator that reads goose SQL files from fsys.
func NewMigrator(pool *pgxpool.Pool, fsys fs.FS) *Migrator {
	return &Migrator{pool: pool, fsys: fsys}
}

// openSchemaDB opens a database/sql handle whose connections all start with
// search_path pinned to schema. goose keeps its version table in the same
// schema, so every facility tracks migrations independently.
func (m *Migrator) openSchemaDB(schema string) (*sql.DB, error) {
	if !facilityIDPattern.MatchString(schema) {
		return nil, fmt.Errorf("invalid schema name: %s", schema)
	}
	if m.pool == nil {
		return nil, fmt.Errorf("migrator has no connection pool")
	}
	cc := m.pool.Config().ConnConfig.Copy()
	if cc.RuntimeParams == nil {
		cc.RuntimeParams = map[string]string{}
	}
	cc.RuntimeParams["search_path"] = schema + ", public"
	return stdlib.OpenDB(*cc), nil
}

func (m *Migrator) provider(schema string) (*goose.Provider, *sql.DB, error) {
	sqlDB, err := m.openSchemaDB(schema)
	if err != nil {
		return nil, nil, err
	}
	p, err := goose.NewProvider(goose.DialectPostgres, sqlDB, m.fsys)
	if err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("create goose provider: %w", err)
	}
	return p, sqlDB, nil
}

func (m *Migrator) ensureSchema(ctx context.Context, schema string) error {
	if _, err := m.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	return nil
}

// Up applies all pending migrations against schema and returns the count applied.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	p, sqlDB, err := m.provider(schema)
	if err != nil {
		return 0, err
	}
	defer sqlDB.Close()

	if err := m.ensureSchema(ctx, schema); err != nil {
		return 0, err
	}

	results, err := p.Up(ctx)
	if err != nil {
		return len(results), fmt.Errorf("apply migrations in %s: %w", schema, err)
	}
	return len(results), nil
}

// Version returns the highest applied migration version for schema.
func (m *Migrator) Version(ctx context.Context, schema string) (int64, error) {
	p, sqlDB, err := m.provider(schema)
	if err != nil {
		return 0, err
	}
	defer sqlDB.Close()

	v, err := p.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("get version in %s: %w", schema, err)
	}
	return v, nil
}

// Status returns applied and pending migrations for schema.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	p, sqlDB, err := m.provider(schema)
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()

	if err := m.ensureSchema(ctx, schema); err != nil {
		return nil, err
	}

	raw, err := p.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status in %s: %w", schema, err)
	}
	return convertStatus(raw), nil
}

func convertStatus(raw []*goose.MigrationStatus) []MigrationStatus {
	statuses := make([]MigrationStatus, 0, len(raw))
	for _, s := range raw {
		st := MigrationStatus{Version: s.Source.Version, Name: s.Source.Path}
		if s.State == goose.StateApplied {
			st.Applied = true
			at := s.AppliedAt
			st.AppliedAt = &at
		}
		statuses = append(statuses, st)
	}
	return statuses
}
