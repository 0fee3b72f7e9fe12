package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sieve/internal/celfilter"
	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/config"
	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/decorator"
	"github.com/roach88/sieve/internal/pipeline"
	"github.com/roach88/sieve/internal/wire"
)

// DefinitionError is a definitions failure as reported by validate.
type DefinitionError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

func toDefinitionError(err error) DefinitionError {
	var ce *config.CompileError
	if !errors.As(err, &ce) {
		return DefinitionError{Message: err.Error()}
	}
	out := DefinitionError{Path: ce.Path, Message: ce.Message}
	if ce.Pos.IsValid() {
		out.File = ce.Pos.Filename()
		out.Line = ce.Pos.Line()
	}
	return out
}

// loadDefinitions loads a definitions directory, reporting failures
// through f.
func loadDefinitions(f *OutputFormatter, dir string) (*config.Definition, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("definitions directory not found: %s", dir), nil)
	}
	f.VerboseLog("Loading definitions from %s", dir)
	def, err := config.Load(dir)
	if err != nil {
		return nil, f.Fail(ExitFailure, ErrCodeDefinitions, err.Error(), toDefinitionError(err))
	}
	return def, nil
}

// buildPipeline wraps native with the rewriting layers and registers the
// definitions' emulations and replacements.
func buildPipeline(def *config.Definition, native datasource.DataSource, journal *decorator.Journal) (*pipeline.Pipeline, error) {
	opts := []pipeline.Option{}
	if journal != nil {
		opts = append(opts, pipeline.WithJournal(journal))
	}
	p := pipeline.Build(native, opts...)
	if err := def.Apply(p); err != nil {
		return nil, err
	}
	p.Freeze()
	return p, nil
}

func newCaller(opts *RootOptions) (*datasource.Caller, error) {
	tz, err := opts.Location()
	if err != nil {
		return nil, err
	}
	return datasource.NewCaller("cli", tz, nil), nil
}

// filterFlags is the filter input shared by rewrite and query.
type filterFlags struct {
	Filter string // CEL
	Plain  string // plain-form JSON
	In     string // file with plain-form JSON or a packed frame
}

func (ff *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&ff.Filter, "filter", "", `CEL filter, e.g. 'title.startsWith("Foun")'`)
	cmd.Flags().StringVar(&ff.Plain, "plain", "", "plain-form JSON filter")
	cmd.Flags().StringVar(&ff.In, "in", "", "file holding a plain-form JSON filter or a packed frame")
	cmd.MarkFlagsMutuallyExclusive("filter", "plain", "in")
}

// tree parses whichever input was given. No input means no filter.
func (ff *filterFlags) tree() (condtree.Node, error) {
	switch {
	case ff.Filter != "":
		return celfilter.Parse(ff.Filter)
	case ff.Plain != "":
		return condtree.UnmarshalJSON([]byte(ff.Plain))
	case ff.In != "":
		data, err := os.ReadFile(ff.In)
		if err != nil {
			return nil, err
		}
		if !wire.IsFrame(data) {
			return condtree.UnmarshalJSON(data)
		}
		codec, err := wire.NewCodec()
		if err != nil {
			return nil, err
		}
		defer codec.Close()
		return codec.Unpack(data)
	default:
		return nil, nil
	}
}

// parseSort reads "field" and "-field" entries.
func parseSort(specs []string) datasource.Sort {
	var out datasource.Sort
	for _, s := range specs {
		field, desc := strings.CutPrefix(s, "-")
		out = append(out, datasource.SortClause{Field: field, Ascending: !desc})
	}
	return out
}
