// Package postgres backs the relational contracts (session.Store, run.Store,
// pages.Store) with PostgreSQL via pgx, grounded on the pack's own
// pgx-based relational schema approach: plain SQL migration files applied
// ahead of time, a connection pool shared across the three stores, and row
// scanning straight into the domain structs without an ORM layer.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps a pgxpool.Pool shared by SessionStore, RunStore, and PageStore
// so a single embedding service opens one connection pool regardless of how
// many of the three stores it uses.
type Pool struct {
	*pgxpool.Pool
}

// Open parses dsn and establishes a connection pool. Callers must call
// Close when done.
func Open(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Pool{pool}, nil
}

// Close releases the underlying pool.
func (p *Pool) Close() {
	if p != nil && p.Pool != nil {
		p.Pool.Close()
	}
}
