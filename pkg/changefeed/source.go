package changefeed

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	pg "github.com/edgeflare/cfbridge/pkg/pgx"
	"github.com/jackc/pgx/v5"
)

// Rows is the part of pgx.Rows a consumer reads.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Source executes a streaming query.
type Source interface {
	Stream(ctx context.Context, query string) (Rows, error)
}

// PoolSource streams over a pgx connection or pool. Each stream holds one
// connection until its rows are closed.
type PoolSource struct {
	Conn pg.Conn
}

func (s PoolSource) Stream(ctx context.Context, query string) (Rows, error) {
	// CHANGEFEED statements can not be prepared.
	return s.Conn.Query(ctx, query, pgx.QueryExecModeSimpleProtocol)
}

// IsConnectionLost reports whether err means the server connection dropped.
func IsConnectionLost(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
