package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sieve/internal/config"
	"github.com/roach88/sieve/internal/pipeline"
	"github.com/roach88/sieve/internal/schema"
)

// CollectionReport lists what each field of a collection can be filtered
// with, layer by layer.
type CollectionReport struct {
	Name   string        `json:"name"`
	Fields []FieldReport `json:"fields"`
}

// FieldReport is one field of a CollectionReport. Relations only carry
// Relation.
type FieldReport struct {
	Name       string   `json:"name"`
	Type       string   `json:"type,omitempty"`
	PrimaryKey bool     `json:"primaryKey,omitempty"`
	Relation   string   `json:"relation,omitempty"`
	Native     []string `json:"native,omitempty"`
	Emulated   []string `json:"emulated,omitempty"`
	Advertised []string `json:"advertised,omitempty"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema <definitions-dir> [collection]",
		Short: "Show the operators each field supports",
		Long: `Show, for every field, the operators the store evaluates natively, the
ones provided by emulation or replacement, and everything the outermost
layer advertises once equivalences are applied.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			return runSchema(rootOpts, args[0], name, cmd)
		},
	}
	return cmd
}

func runSchema(opts *RootOptions, dir, name string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	def, err := loadDefinitions(f, dir)
	if err != nil {
		return err
	}
	native, err := def.NewMemory()
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeDefinitions, err.Error(), nil)
	}
	p, err := buildPipeline(def, native, nil)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeDefinitions, err.Error(), nil)
	}

	var reports []CollectionReport
	for _, c := range def.Collections {
		if name != "" && c.Name != name {
			continue
		}
		report, err := describeCollection(p, c)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeGeneric, err.Error(), nil)
		}
		reports = append(reports, report)
	}
	if len(reports) == 0 {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("collection %q is not defined", name), nil)
	}

	return f.Success(reports, func(w io.Writer) {
		for i, r := range reports {
			if i > 0 {
				fmt.Fprintln(w)
			}
			writeCollectionReport(w, r)
		}
	})
}

func describeCollection(p *pipeline.Pipeline, c *config.Collection) (CollectionReport, error) {
	emulation, err := p.Emulation(c.Name)
	if err != nil {
		return CollectionReport{}, err
	}
	top, err := p.Collection(c.Name)
	if err != nil {
		return CollectionReport{}, err
	}
	emulated := emulation.Schema()
	advertised := top.Schema()

	names := make([]string, 0, len(c.Schema.Fields))
	for fieldName := range c.Schema.Fields {
		names = append(names, fieldName)
	}
	sort.Strings(names)

	report := CollectionReport{Name: c.Name}
	for _, fieldName := range names {
		switch field := c.Schema.Fields[fieldName].(type) {
		case *schema.RelationSchema:
			report.Fields = append(report.Fields, FieldReport{
				Name:     fieldName,
				Relation: fmt.Sprintf("%s -> %s", field.Type, field.ForeignCollection),
			})
		case *schema.ColumnSchema:
			native := field.FilterOperators
			fr := FieldReport{
				Name:       fieldName,
				Type:       string(field.ColumnType),
				PrimaryKey: field.IsPrimaryKey,
				Native:     native.Strings(),
				Advertised: advertised.Column(fieldName).FilterOperators.Strings(),
			}
			for _, op := range emulated.Column(fieldName).FilterOperators.Sorted() {
				if !native.Has(op) {
					fr.Emulated = append(fr.Emulated, string(op))
				}
			}
			report.Fields = append(report.Fields, fr)
		}
	}
	return report, nil
}

func writeCollectionReport(w io.Writer, r CollectionReport) {
	fmt.Fprintln(w, r.Name)
	for _, fr := range r.Fields {
		if fr.Relation != "" {
			fmt.Fprintf(w, "  %s  %s\n", fr.Name, fr.Relation)
			continue
		}
		pk := ""
		if fr.PrimaryKey {
			pk = " (pk)"
		}
		fmt.Fprintf(w, "  %s  %s%s\n", fr.Name, fr.Type, pk)
		fmt.Fprintf(w, "    native:     %s\n", joinOrDash(fr.Native))
		if len(fr.Emulated) > 0 {
			fmt.Fprintf(w, "    emulated:   %s\n", strings.Join(fr.Emulated, ", "))
		}
		fmt.Fprintf(w, "    advertised: %s\n", joinOrDash(fr.Advertised))
	}
}

func joinOrDash(ops []string) string {
	if len(ops) == 0 {
		return "-"
	}
	return strings.Join(ops, ", ")
}
