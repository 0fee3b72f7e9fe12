package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/pipeline"
	"github.com/roach88/sieve/internal/schema"
	"github.com/roach88/sieve/internal/sqlstore"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	filterFlags
	DB         string
	Projection []string
	Sort       []string
	Skip       int
	Limit      int
}

// QueryResult holds the records of a query.
type QueryResult struct {
	Collection string          `json:"collection"`
	Records    []schema.Record `json:"records"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <definitions-dir> <collection>",
		Short: "Query a SQLite database through the rewriting layers",
		Long: `Create the defined collections in a SQLite database (seeding empty
tables with the definitions' records), then run a filtered query through
the rewriting layers.

Examples:
  sieve query ./defs books --db library.db --filter 'author.firstName.startsWith("Isa")'
  sieve query ./defs books --db library.db --projection id,title --sort -id --limit 10`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], args[1], cmd)
		},
	}

	opts.filterFlags.register(cmd)
	cmd.Flags().StringVar(&opts.DB, "db", "sieve.db", "SQLite database path")
	cmd.Flags().StringSliceVar(&opts.Projection, "projection", nil, "fields to return (default: all columns)")
	cmd.Flags().StringSliceVar(&opts.Sort, "sort", nil, `sort fields, "-" prefixed for descending`)
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "records to skip")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum records to return")
	return cmd
}

func runQuery(opts *QueryOptions, dir, collection string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()

	tree, err := opts.tree()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeFilter, err.Error(), nil)
	}
	def, err := loadDefinitions(f, dir)
	if err != nil {
		return err
	}
	c := def.Collection(collection)
	if c == nil {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("collection %q is not defined", collection), nil)
	}

	store, err := sqlstore.Open(opts.DB, sqlstore.WithLogger(slog.Default()))
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	defer store.Close()
	if err := def.CreateTables(ctx, store); err != nil {
		return f.Fail(ExitFailure, ErrCodeDefinitions, err.Error(), nil)
	}
	f.VerboseLog("Opened %s", opts.DB)

	p, err := buildPipeline(def, store, nil)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeDefinitions, err.Error(), nil)
	}
	caller, err := newCaller(opts.RootOptions)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	filter := &datasource.Filter{ConditionTree: tree, Sort: parseSort(opts.Sort)}
	if opts.Skip > 0 || opts.Limit > 0 {
		filter.Page = &datasource.Page{Skip: opts.Skip, Limit: opts.Limit}
	}
	projection := schema.Projection(opts.Projection)
	if len(projection) == 0 {
		projection = columnsOf(c.Schema)
	}

	records, err := p.List(ctx, caller, collection, filter, projection)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeQuery, err.Error(), map[string]string{"code": pipeline.ErrorCode(err)})
	}

	result := QueryResult{Collection: collection, Records: records}
	return f.Success(result, func(w io.Writer) {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		for _, rec := range records {
			_ = enc.Encode(rec)
		}
		fmt.Fprintf(w, "(%d records)\n", len(records))
	})
}

// columnsOf lists the collection's columns, sorted.
func columnsOf(s schema.CollectionSchema) schema.Projection {
	var out schema.Projection
	for name, field := range s.Fields {
		if _, ok := field.(*schema.ColumnSchema); ok {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}
