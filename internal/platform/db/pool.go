package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool connects to databaseURL. When schema is set every pooled
// connection starts with search_path pointing at it.
func NewPool(ctx context.Context, databaseURL, schema string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	if schema != "" {
		if !ValidSchema(schema) {
			return nil, fmt.Errorf("invalid schema name: %s", schema)
		}
		cfg.ConnConfig.RuntimeParams["search_path"] = schema + ", public"
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
