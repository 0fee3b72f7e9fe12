package config

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/sieve/internal/emulate"
	"github.com/roach88/sieve/internal/memstore"
	"github.com/roach88/sieve/internal/pipeline"
	"github.com/roach88/sieve/internal/sqlstore"
)

// Rules describes every declared replacement and the replacements its
// template may trigger, for static cycle analysis.
func (d *Definition) Rules() []emulate.RuleRef {
	var rules []emulate.RuleRef
	for _, c := range d.Collections {
		for _, r := range c.Replacements {
			ref := emulate.RuleRef{ID: emulate.ReplacementID(c.Name, r.Field, r.Operator)}
			for _, leaf := range r.Leaves() {
				target, field := d.resolve(c, leaf.Field)
				ref.Uses = append(ref.Uses, emulate.ReplacementID(target, field, leaf.Operator))
			}
			rules = append(rules, ref)
		}
	}
	return rules
}

// Warnings runs the cycle analysis over Rules.
func (d *Definition) Warnings() []emulate.CycleWarning {
	return emulate.AnalyzeCycles(d.Rules())
}

// resolve follows the relation part of a path to the collection owning the
// final field. Unknown relations resolve to the starting collection.
func (d *Definition) resolve(c *Collection, path string) (string, string) {
	owner := c
	parts := strings.Split(path, ":")
	for _, rel := range parts[:len(parts)-1] {
		r := owner.Schema.Relation(rel)
		if r == nil {
			return c.Name, path
		}
		next := d.Collection(r.ForeignCollection)
		if next == nil {
			return c.Name, path
		}
		owner = next
	}
	return owner.Name, parts[len(parts)-1]
}

// Apply registers the emulated operators and replacements on the pipeline.
// Whole-field emulation goes first so explicit entries override it.
func (d *Definition) Apply(p *pipeline.Pipeline) error {
	for _, c := range d.Collections {
		ec, err := p.Emulation(c.Name)
		if err != nil {
			return err
		}
		for _, field := range c.EmulateAll {
			if err := ec.EmulateFieldFiltering(field); err != nil {
				return fmt.Errorf("collection %s: %w", c.Name, err)
			}
		}
		fields := make([]string, 0, len(c.Emulate))
		for field := range c.Emulate {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			for _, op := range c.Emulate[field] {
				if err := ec.EmulateFieldOperator(field, op); err != nil {
					return fmt.Errorf("collection %s: %w", c.Name, err)
				}
			}
		}
		for _, r := range c.Replacements {
			if err := ec.ReplaceFieldOperator(r.Field, r.Operator, r.Handler()); err != nil {
				return fmt.Errorf("collection %s: %w", c.Name, err)
			}
		}
	}
	return nil
}

// NewMemory builds an in-memory data source holding the defined
// collections and their records.
func (d *Definition) NewMemory(opts ...memstore.Option) (*memstore.DataSource, error) {
	ds := memstore.New(opts...)
	for _, c := range d.Collections {
		if _, err := ds.AddCollection(c.Name, c.Schema, c.Records...); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// CreateTables creates the defined collections in a SQLite store. Records
// are inserted only into empty tables.
func (d *Definition) CreateTables(ctx context.Context, s *sqlstore.Store) error {
	for _, c := range d.Collections {
		coll, err := s.CreateCollection(ctx, c.Name, c.Schema)
		if err != nil {
			return err
		}
		if len(c.Records) == 0 {
			continue
		}
		n, err := coll.Count(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if err := coll.Insert(ctx, c.Records...); err != nil {
			return err
		}
	}
	return nil
}
