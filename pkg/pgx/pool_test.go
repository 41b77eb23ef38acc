package pgx

import (
	"context"
	"testing"
	"time"

	"github.com/edgeflare/cfbridge/internal/testutil/pgtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfigSize(t *testing.T) {
	tests := []struct {
		name     string
		cfg      PoolConfig
		min, max int32
	}{
		{"no tables", PoolConfig{}, 1, 2},
		{"one table", PoolConfig{Tables: 1}, 1, 2},
		{"three tables", PoolConfig{Tables: 3}, 3, 6},
		{"explicit", PoolConfig{Tables: 3, MinConns: 2, MaxConns: 10}, 2, 10},
		{"max below min", PoolConfig{Tables: 4, MaxConns: 2}, 4, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minConns, maxConns := tt.cfg.Size()
			assert.Equal(t, tt.min, minConns)
			assert.Equal(t, tt.max, maxConns)
		})
	}
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, `"orders"`, Identifier("orders"))
	assert.Equal(t, `"shop"."orders"`, Identifier("shop.orders"))
	assert.Equal(t, `"we""ird"`, Identifier(`we"ird`))
	assert.Equal(t, `"orders"`, Identifier("Orders"))
	assert.Equal(t, `"Orders"`, Identifier(`"Orders"`))
	assert.Equal(t, `"shop"."Big""Orders"`, Identifier(`Shop."Big""Orders"`))
}

func TestNewPoolEmptyConnString(t *testing.T) {
	_, err := NewPool(context.Background(), PoolConfig{})
	assert.ErrorIs(t, err, ErrEmptyConnString)
}

func TestNewPool(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	cfg := pgtest.ParseConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, PoolConfig{ConnString: cfg.ConnString(), Tables: 2})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	assert.Equal(t, int32(4), pool.Config().MaxConns)
	assert.Equal(t, int32(2), pool.Config().MinConns)
	require.NoError(t, pool.Ping(ctx))
}
