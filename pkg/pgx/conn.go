// Package pgx wraps github.com/jackc/pgx/v5 for the bridge: the shared
// connection pool, sized from the number of subscribed tables, and the small
// query surface the cursor store and changefeed consumers need.
package pgx

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Conn is the query surface shared by *pgx.Conn, *pgxpool.Conn and
// *pgxpool.Pool.
type Conn interface {
	// Exec executes a statement that returns no rows.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Query executes a query. For changefeeds the result set is unbounded and
	// the returned rows are read until the context is canceled.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Identifier quotes a possibly dotted (schema.table or db.schema.table) name.
// Parts are folded to lower case as the server folds unquoted names; a part
// written in double quotes keeps its case.
func Identifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if len(p) >= 2 && p[0] == '"' && p[len(p)-1] == '"' {
			parts[i] = strings.ReplaceAll(p[1:len(p)-1], `""`, `"`)
			continue
		}
		parts[i] = strings.ToLower(p)
	}
	return pgx.Identifier(parts).Sanitize()
}
