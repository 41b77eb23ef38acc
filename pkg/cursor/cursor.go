// Package cursor persists changefeed resume tokens per table.
//
// A cursor is only used to resume after a process restart. The publisher is
// its single writer, so Put is an unconditional upsert.
package cursor

import (
	"context"
	"errors"
)

// DefaultTable is the backing table (or bucket) name.
const DefaultTable = "_amqp_bridge_cursors"

var (
	// ErrEmptyTable is returned when a cursor is requested for an empty table name.
	ErrEmptyTable = errors.New("cursor: empty table name")
	// ErrUnknownBackend is returned by Open for an unsupported backend.
	ErrUnknownBackend = errors.New("cursor: unknown backend")
)

// Store is durable table_name -> cursor token persistence.
type Store interface {
	// EnsureSchema idempotently creates the backing structure.
	EnsureSchema(ctx context.Context) error
	// Get returns the token for table. ok is false when none was stored,
	// which means the changefeed starts from the beginning.
	Get(ctx context.Context, table string) (token string, ok bool, err error)
	// Put stores token for table, overwriting any previous value.
	Put(ctx context.Context, table, token string) error
	// List returns all stored cursors ordered by table name.
	List(ctx context.Context) ([]Entry, error)
}

// Entry is one stored cursor.
type Entry struct {
	Table  string `json:"table"`
	Cursor string `json:"cursor"`
}

// Backend names accepted by config.
const (
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
	BackendMemory   = "memory"
)
