package cursor

import (
	"cmp"
	"errors"
	"fmt"

	pg "github.com/edgeflare/cfbridge/pkg/pgx"
)

// Config selects and configures a Store backend.
type Config struct {
	// Backend is postgres (default), bolt or memory.
	Backend string `mapstructure:"backend" json:"backend"`
	// Table is the cursor table, or the bucket for bolt.
	Table   string  `mapstructure:"table" json:"table"`
	Dialect Dialect `mapstructure:"dialect" json:"dialect"`
	// Path is the bolt file.
	Path string `mapstructure:"path" json:"path"`
}

var errNoBoltPath = errors.New("cursor: bolt backend needs a path")

// Open returns the Store selected by cfg. conn is used by the postgres
// backend only. The returned close function releases backend resources and
// is never nil.
func Open(cfg Config, conn pg.Conn) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cmp.Or(cfg.Backend, BackendPostgres) {
	case BackendPostgres:
		if conn == nil {
			return nil, noop, errors.New("cursor: postgres backend needs a connection")
		}
		return NewPostgres(conn, WithTable(cfg.Table), WithDialect(cfg.Dialect)), noop, nil
	case BackendBolt:
		if cfg.Path == "" {
			return nil, noop, errNoBoltPath
		}
		b, err := OpenBolt(cfg.Path, cfg.Table)
		if err != nil {
			return nil, noop, err
		}
		return b, b.Close, nil
	case BackendMemory:
		return NewMemory(nil), noop, nil
	default:
		return nil, noop, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
