// Package cmd is the deltabase command line.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danthegoodman1/deltabase/connector"
	"github.com/danthegoodman1/deltabase/crdb"
	"github.com/danthegoodman1/deltabase/gologger"
	"github.com/danthegoodman1/deltabase/metastore"
	"github.com/danthegoodman1/deltabase/migrations"
	"github.com/danthegoodman1/deltabase/store"
	"github.com/danthegoodman1/deltabase/utils"
)

var logger = gologger.NewLogger()

type rootOptions struct {
	root       string
	discover   bool
	output     string
	metastore  string
	crdbDSN    string
	migrate    bool
	connectors string
	threads    int64
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "deltabase",
		Short:         "Upsert capable, versioned tables on DuckDB and parquet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// flags override the environment
	rootCmd.PersistentFlags().StringVar(&opts.root, "root", utils.DELTA_ROOT, "store root, a directory or s3://bucket/prefix")
	rootCmd.PersistentFlags().BoolVar(&opts.discover, "discover", utils.DELTA_DISCOVER, "register persisted tables at startup")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", utils.DELTA_OUTPUT, "query output format (records, frame)")
	rootCmd.PersistentFlags().StringVar(&opts.metastore, "metastore", utils.METASTORE, "version log backend (log, crdb)")
	rootCmd.PersistentFlags().StringVar(&opts.crdbDSN, "crdb-dsn", utils.CRDB_DSN, "CockroachDB DSN for the crdb metastore")
	rootCmd.PersistentFlags().BoolVar(&opts.migrate, "migrate", true, "apply metastore migrations at startup")
	rootCmd.PersistentFlags().StringVar(&opts.connectors, "connectors", utils.CONNECTORS_FILE, "connectors YAML file")
	rootCmd.PersistentFlags().Int64Var(&opts.threads, "threads", utils.DUCKDB_THREADS, "DuckDB threads, 0 for the default")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newSQLCmd(opts))
	rootCmd.AddCommand(newTablesCmd(opts))
	rootCmd.AddCommand(newHistoryCmd(opts))

	return rootCmd
}

func (o *rootOptions) openStore(ctx context.Context) (*store.Store, error) {
	cfg := store.Config{
		Root:       o.root,
		Discover:   utils.Ptr(o.discover),
		Output:     store.OutputFormat(o.output),
		Threads:    o.threads,
		S3CacheDir: utils.S3_CACHE_DIR,
	}

	switch o.metastore {
	case "log":
	case "crdb":
		ms, err := o.crdbMetaStore(ctx)
		if err != nil {
			return nil, err
		}
		cfg.MetaStore = ms
	default:
		return nil, fmt.Errorf("unknown metastore %q, expected log or crdb", o.metastore)
	}

	if o.connectors != "" {
		connCfg, err := connector.LoadConfig(o.connectors)
		if err != nil {
			return nil, fmt.Errorf("error loading connectors: %w", err)
		}
		reg, err := connCfg.Build(ctx)
		if err != nil {
			return nil, err
		}
		cfg.Connectors = reg
	}

	return store.Connect(ctx, cfg)
}

func (o *rootOptions) crdbMetaStore(ctx context.Context) (metastore.MetaStore, error) {
	if o.crdbDSN == "" {
		return nil, fmt.Errorf("the crdb metastore needs --crdb-dsn or CRDB_DSN")
	}
	if o.migrate {
		if _, err := migrations.RunMigrations(o.crdbDSN); err != nil {
			return nil, err
		}
	} else if err := migrations.CheckMigrations(o.crdbDSN); err != nil {
		return nil, fmt.Errorf("error checking migrations: %w", err)
	}
	pool, err := crdb.ConnectToDB(ctx, o.crdbDSN)
	if err != nil {
		return nil, fmt.Errorf("error connecting to CRDB: %w", err)
	}
	return metastore.NewCRDBMetaStore(pool), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func withStore(opts *rootOptions, f func(ctx context.Context, st *store.Store) error) error {
	ctx := logger.WithContext(context.Background())
	st, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(ctx); err != nil {
			logger.Error().Err(err).Msg("error closing store")
		}
	}()
	return f(ctx, st)
}

// queryArg joins the args into one query so it can be given unquoted.
func queryArg(args []string) string {
	return strings.Join(args, " ")
}
