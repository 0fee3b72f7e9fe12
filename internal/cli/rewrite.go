package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/decorator"
	"github.com/roach88/sieve/internal/pipeline"
	"github.com/roach88/sieve/internal/schema"
	"github.com/roach88/sieve/internal/wire"
)

// RewriteOptions holds flags for the rewrite command.
type RewriteOptions struct {
	*RootOptions
	filterFlags
	Out string // packed frame of the native filter
}

// RewriteResult is what a filter became on its way to the store.
type RewriteResult struct {
	Collection  string       `json:"collection"`
	Filter      any          `json:"filter"`
	Native      any          `json:"native"`
	Fingerprint string       `json:"fingerprint"`
	Calls       []CallReport `json:"calls"`
	Out         string       `json:"out,omitempty"`
}

// CallReport is one native call.
type CallReport struct {
	Collection string `json:"collection"`
	Filter     any    `json:"filter"`
	Rows       int    `json:"rows"`
}

// NewRewriteCommand creates the rewrite command.
func NewRewriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RewriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rewrite <definitions-dir> <collection>",
		Short: "Show the native filter a query turns into",
		Long: `Run a filter through the rewriting layers over the definitions' records
and show what reached the store, including in-memory emulation scans.

Examples:
  sieve rewrite ./defs books --filter 'title.startsWith("Foun")'
  sieve rewrite ./defs books --plain '{"field":"id","operator":"equal","value":2}'
  sieve rewrite ./defs books --filter 'id in [1, 2]' --out native.svt`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRewrite(opts, args[0], args[1], cmd)
		},
	}

	opts.filterFlags.register(cmd)
	cmd.Flags().StringVar(&opts.Out, "out", "", "write the native filter as a packed frame")
	return cmd
}

func runRewrite(opts *RewriteOptions, dir, collection string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

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
	native, err := def.NewMemory()
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeDefinitions, err.Error(), nil)
	}
	p, err := buildPipeline(def, native, &decorator.Journal{})
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeDefinitions, err.Error(), nil)
	}
	caller, err := newCaller(opts.RootOptions)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	explanation, err := p.Explain(cmd.Context(), caller, collection,
		&datasource.Filter{ConditionTree: tree},
		schema.Projection{}.WithPrimaryKeys(c.Schema))
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeQuery, err.Error(), map[string]string{"code": pipeline.ErrorCode(err)})
	}

	nativeTree := explanation.NativeFilter()
	fingerprint, err := wire.Fingerprint(nativeTree)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeGeneric, err.Error(), nil)
	}
	result := RewriteResult{
		Collection:  collection,
		Filter:      condtree.ToPlain(tree),
		Native:      condtree.ToPlain(nativeTree),
		Fingerprint: fingerprint,
		Calls:       make([]CallReport, len(explanation.Calls)),
	}
	for i, call := range explanation.Calls {
		result.Calls[i] = CallReport{Collection: call.Collection, Filter: condtree.ToPlain(call.Filter), Rows: call.Rows}
	}

	if opts.Out != "" {
		if err := writeFrame(opts.Out, nativeTree); err != nil {
			return f.Fail(ExitCommandError, ErrCodeWriteFailed, err.Error(), nil)
		}
		result.Out = opts.Out
		f.VerboseLog("Wrote native filter to %s", opts.Out)
	}

	return f.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "filter:      %s\n", condtree.Format(tree))
		fmt.Fprintf(w, "native:      %s\n", condtree.Format(nativeTree))
		fmt.Fprintf(w, "fingerprint: %s\n", fingerprint)
		fmt.Fprintln(w, "calls:")
		for _, call := range explanation.Calls {
			fmt.Fprintf(w, "  %s  %s  (%d rows)\n", call.Collection, condtree.Format(call.Filter), call.Rows)
		}
	})
}

func writeFrame(path string, tree condtree.Node) error {
	codec, err := wire.NewCodec()
	if err != nil {
		return err
	}
	defer codec.Close()
	frame, err := codec.Pack(tree)
	if err != nil {
		return err
	}
	return os.WriteFile(path, frame, 0o644)
}
