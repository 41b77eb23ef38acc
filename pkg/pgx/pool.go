package pgx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrEmptyConnString = errors.New("pgx: empty connection string")

// PoolConfig sizes the shared pool.
type PoolConfig struct {
	ConnString string
	// Tables is the number of changefeed consumers sharing the pool. Each
	// consumer holds one connection for its streaming query.
	Tables         int
	MinConns       int32
	MaxConns       int32
	ConnectTimeout time.Duration
	// MaxConnLifetime zero keeps connections open indefinitely.
	MaxConnLifetime time.Duration
}

// Size returns min and max connections: at least one connection per table,
// roughly two per table at most, never less than two.
func (c PoolConfig) Size() (minConns, maxConns int32) {
	tables := int32(max(c.Tables, 1)) //nolint:gosec // table lists are small
	minConns, maxConns = tables, 2*tables

	if c.MinConns > 0 {
		minConns = c.MinConns
	}
	if c.MaxConns > 0 {
		maxConns = c.MaxConns
	}
	maxConns = max(maxConns, minConns+1, 2)
	return minConns, maxConns
}

// NewPool creates a pool and verifies connectivity.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.ConnString == "" {
		return nil, ErrEmptyConnString
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("pgx: parse config: %w", err)
	}

	poolConfig.MinConns, poolConfig.MaxConns = cfg.Size()
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	} else {
		poolConfig.MaxConnLifetime = 100 * 365 * 24 * time.Hour
		poolConfig.MaxConnIdleTime = poolConfig.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("pgx: creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx: ping connection: %w", err)
	}

	return pool, nil
}
