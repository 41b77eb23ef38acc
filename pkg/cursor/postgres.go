package cursor

import (
	"cmp"
	"context"
	"errors"
	"fmt"

	pg "github.com/edgeflare/cfbridge/pkg/pgx"
	"github.com/jackc/pgx/v5"
)

// Dialect selects the upsert statement.
type Dialect string

const (
	// DialectCockroach uses UPSERT INTO.
	DialectCockroach Dialect = "cockroach"
	// DialectPostgres uses INSERT ... ON CONFLICT DO UPDATE.
	DialectPostgres Dialect = "postgres"
)

// Postgres stores cursors in a table of the source database.
type Postgres struct {
	conn    pg.Conn
	table   string
	dialect Dialect
}

// PostgresOption configures a Postgres store.
type PostgresOption func(*Postgres)

// WithTable overrides DefaultTable. Dotted names are treated as schema.table.
func WithTable(name string) PostgresOption {
	return func(p *Postgres) {
		p.table = cmp.Or(name, p.table)
	}
}

// WithDialect sets the SQL dialect used for upserts.
func WithDialect(d Dialect) PostgresOption {
	return func(p *Postgres) {
		p.dialect = cmp.Or(d, p.dialect)
	}
}

// NewPostgres returns a store backed by conn, usually a *pgxpool.Pool.
func NewPostgres(conn pg.Conn, opts ...PostgresOption) *Postgres {
	p := &Postgres{
		conn:    conn,
		table:   DefaultTable,
		dialect: DialectCockroach,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Postgres) ident() string {
	return pg.Identifier(p.table)
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		"table_name" VARCHAR(100) PRIMARY KEY,
		"cursor" VARCHAR(30)
	)`, p.ident())

	if _, err := p.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("create cursor table: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, table string) (string, bool, error) {
	if table == "" {
		return "", false, ErrEmptyTable
	}

	query := fmt.Sprintf(`SELECT "cursor" FROM %s WHERE "table_name" = $1`, p.ident())

	var token *string
	err := p.conn.QueryRow(ctx, query, table).Scan(&token)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("get cursor for %s: %w", table, err)
	case token == nil:
		return "", false, nil
	}
	return *token, true, nil
}

func (p *Postgres) Put(ctx context.Context, table, token string) error {
	if table == "" {
		return ErrEmptyTable
	}

	var query string
	switch p.dialect {
	case DialectPostgres:
		query = fmt.Sprintf(`INSERT INTO %s ("table_name", "cursor") VALUES ($1, $2)
			ON CONFLICT ("table_name") DO UPDATE SET "cursor" = EXCLUDED."cursor"`, p.ident())
	default:
		query = fmt.Sprintf(`UPSERT INTO %s ("table_name", "cursor") VALUES ($1, $2)`, p.ident())
	}

	if _, err := p.conn.Exec(ctx, query, table, token); err != nil {
		return fmt.Errorf("save cursor for %s: %w", table, err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context) ([]Entry, error) {
	query := fmt.Sprintf(`SELECT "table_name", COALESCE("cursor", '') FROM %s ORDER BY "table_name"`, p.ident())

	rows, err := p.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.Table, &e.Cursor)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	return entries, nil
}
