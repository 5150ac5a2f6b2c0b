package db

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres SQLSTATE codes the admission path cares about.
const (
	codeUniqueViolation      = "23505"
	codeExclusionViolation   = "23P01"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// ErrNoTx is returned by helpers that must run inside WithTx.
var ErrNoTx = errors.New("no transaction in context")

// Transactor runs a function inside a database transaction. The context
// handed to fn carries the transaction so repositories pick it up.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PoolTransactor is the pgx implementation of Transactor.
type PoolTransactor struct {
	pool     *pgxpool.Pool
	attempts int
}

// NewTransactor returns a Transactor that retries serialization failures and
// deadlocks up to attempts times.
func NewTransactor(pool *pgxpool.Pool, attempts int) *PoolTransactor {
	if attempts < 1 {
		attempts = 1
	}
	return &PoolTransactor{pool: pool, attempts: attempts}
}

func (t *PoolTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithTx(ctx, t.pool, t.attempts, fn)
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTx runs fn in a transaction. The request connection from the facility
// middleware is preferred so search_path applies; otherwise the pool is used.
// A transaction already present in ctx is reused without nesting.
func WithTx(ctx context.Context, pool *pgxpool.Pool, attempts int, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var b beginner
	switch c := ConnFromContext(ctx); {
	case c != nil:
		b = c
	case pool != nil:
		b = pool
	default:
		return fmt.Errorf("begin transaction: no connection available")
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = runTx(ctx, b, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return err
}

func runTx(ctx context.Context, b beginner, fn func(ctx context.Context) error) error {
	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, DBTxKey, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// TxFromContext retrieves the active transaction from context.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// AdvisoryLock takes transaction-scoped advisory locks on the given keys.
// Keys are deduplicated and acquired in sorted order so concurrent callers
// locking overlapping key sets cannot deadlock. Locks release at commit or
// rollback.
func AdvisoryLock(ctx context.Context, keys ...string) error {
	tx := TxFromContext(ctx)
	if tx == nil {
		return ErrNoTx
	}
	for _, key := range LockOrder(keys) {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("advisory lock %s: %w", key, err)
		}
	}
	return nil
}

// LockOrder returns keys sorted and without duplicates or empty entries.
func LockOrder(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsRetryable reports whether err is a serialization failure or deadlock.
func IsRetryable(err error) bool {
	code := pgCode(err)
	return code == codeSerializationFailure || code == codeDeadlockDetected
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

// IsExclusionViolation reports whether err is an exclusion constraint violation.
func IsExclusionViolation(err error) bool {
	return pgCode(err) == codeExclusionViolation
}

// ConstraintName returns the violated constraint name, or "" if err is not
// a Postgres constraint error.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
