package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Pool = pgxpool.Pool

// PoolLimits sizes the connection pool. Zero values keep the driver
// defaults, so a bare DSN still works.
type PoolLimits struct {
	MaxConns int
	MinConns int
}

// Connect opens a pgx pool for the issuance store. Most load is short
// conditional updates on the orders table plus the worker's sweep queries,
// so a modest cap is enough; limits come from config, not the DSN.
func Connect(ctx context.Context, dsn string, limits PoolLimits) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if limits.MaxConns > 0 {
		cfg.MaxConns = int32(limits.MaxConns)
	}
	if limits.MinConns > 0 {
		cfg.MinConns = int32(limits.MinConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return pool, nil
}
