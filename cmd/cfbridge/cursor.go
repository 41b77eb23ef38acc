package cfbridge

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/edgeflare/cfbridge/pkg/cursor"
	pg "github.com/edgeflare/cfbridge/pkg/pgx"
	"github.com/spf13/cobra"
)

var cursorCmd = &cobra.Command{
	Use:     "cursor",
	Aliases: []string{"c"},
	Short:   "Inspect or rewind stored changefeed cursors",
}

var cursorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stored cursor of every table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, s cursor.Store) error {
			entries, err := s.List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TABLE\tCURSOR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\n", e.Table, e.Cursor)
			}
			return w.Flush()
		})
	},
}

var cursorGetCmd = &cobra.Command{
	Use:   "get <table>",
	Short: "Print the stored cursor of a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, s cursor.Store) error {
			token, ok, err := s.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no cursor stored for %s", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		})
	},
}

var cursorSetCmd = &cobra.Command{
	Use:   "set <table> <cursor>",
	Short: "Store the cursor a table resumes from on the next run",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, s cursor.Store) error {
			if err := s.Put(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s resumes from %s\n", args[0], args[1])
			return nil
		})
	},
}

// openStore opens the configured store. The postgres backend gets a pool of
// its own, closed with the store.
func openStore(ctx context.Context) (cursor.Store, func() error, error) {
	if cfg.Cursor.Backend == "" || cfg.Cursor.Backend == cursor.BackendPostgres {
		if cfg.Database.URL == "" {
			return nil, nil, fmt.Errorf("postgres cursor store: %w", pg.ErrEmptyConnString)
		}
		pool, err := pg.NewPool(ctx, pg.PoolConfig{
			ConnString:     cfg.Database.URL,
			ConnectTimeout: cfg.Database.ConnectTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("can not create connection pool: %w", err)
		}
		store, closeStore, err := cursor.Open(cfg.Cursor, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, func() error {
			defer pool.Close()
			return closeStore()
		}, nil
	}
	return cursor.Open(cfg.Cursor, nil)
}

func withStore(ctx context.Context, fn func(context.Context, cursor.Store) error) error {
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("can not create cursor table: %w", err)
	}
	return fn(ctx, store)
}

func init() {
	cursorCmd.AddCommand(cursorListCmd, cursorGetCmd, cursorSetCmd)
}
