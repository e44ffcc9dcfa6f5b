// Package postgres implements repository.Store on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UniqueViolationCode indicates a unique constraint violation.
const UniqueViolationCode = "23505"

//go:embed schema.sql
var schemaSQL string

// PoolOptions tunes the connection pool.
type PoolOptions struct {
	MaxConns int32
}

// NewPool parses dsn, connects and pings.
func NewPool(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return p, nil
}

// EnsureSchema creates the tables and indexes when they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	res, err := conn.Conn().PgConn().Exec(ctx, schemaSQL).ReadAll()
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	for _, r := range res {
		if r.Err != nil {
			return fmt.Errorf("apply schema: %w", r.Err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pe *pgconn.PgError
	return errors.As(err, &pe) && pe.Code == UniqueViolationCode
}
