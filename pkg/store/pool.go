// Package store persists the domain entities to PostgreSQL via pgx. It
// provides one repository type per entity, each a thin wrapper around a
// shared *pgxpool.Pool; there is no ORM layer between the repositories and
// SQL.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps a pgx connection pool shared by every repository.
type Pool struct {
	pool *pgxpool.Pool
}

// Open creates a pool and verifies connectivity with a ping.
func Open(ctx context.Context, connString string) (*Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Pool{pool: pool}, nil
}

// Close releases all pooled connections.
func (p *Pool) Close() { p.pool.Close() }

// Raw exposes the underlying pgxpool.Pool; every repository and the
// notification listener run their queries through it.
func (p *Pool) Raw() *pgxpool.Pool { return p.pool }
