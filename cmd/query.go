package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/danthegoodman1/deltabase/store"
	"github.com/danthegoodman1/deltabase/table"
)

func newSQLCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sql <query>",
		Short: "Run a query over the registered tables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(ctx context.Context, st *store.Store) error {
				res, err := st.SQL(ctx, queryArg(args))
				if err != nil {
					return err
				}
				if res.Ambiguous {
					logger.Warn().Msg("query schema was ambiguous, result is empty")
				}
				return printJSON(res.Value())
			})
		},
	}
}

func newTablesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the registered tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(opts, func(ctx context.Context, st *store.Store) error {
				names := []string{}
				for _, id := range st.Tables() {
					names = append(names, id.String())
				}
				return printJSON(names)
			})
		},
	}
}

type historyEntry struct {
	Version     int64
	CommittedAt time.Time
	Tag         string `json:",omitempty"`
	Force       bool
	Schema      string
	Files       int
	Rows        int64
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <namespace.table>",
		Short: "List the persisted versions of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := table.ParseID(args[0])
			if err != nil {
				return err
			}
			return withStore(opts, func(ctx context.Context, st *store.Store) error {
				versions, err := st.History(ctx, id)
				if err != nil {
					return err
				}
				out := make([]historyEntry, len(versions))
				for i, v := range versions {
					out[i] = historyEntry{
						Version:     v.Version,
						CommittedAt: v.CommittedAt,
						Tag:         v.Tag,
						Force:       v.Force,
						Schema:      v.Schema().String(),
						Files:       len(v.Parts),
						Rows:        v.RowCount(),
					}
				}
				return printJSON(out)
			})
		},
	}
}
