// Package equivalence widens what a collection advertises to every operator
// the transform table can express with the child's native operators, and
// rewrites incoming filters accordingly.
package equivalence

import (
	"context"
	"log/slog"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/decorator"
	"github.com/roach88/sieve/internal/schema"
)

// Option configures the layer.
type Option func(*options)

type options struct {
	clock datasource.Clock
}

// WithClock sets the clock relative-time rewrites are computed against.
func WithClock(c datasource.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// Collection is the equivalence layer over one child collection.
type Collection struct {
	decorator.Base
	clock datasource.Clock
}

// New wraps every collection of child.
func New(child datasource.DataSource, opts ...Option) *decorator.DataSource[*Collection] {
	o := options{clock: datasource.SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	return decorator.NewDataSource(child, func(c datasource.Collection, ds datasource.DataSource) *Collection {
		return &Collection{Base: decorator.NewBase(c, ds), clock: o.clock}
	})
}

// Schema implements datasource.Collection. It is recomputed from the
// child's schema on every call.
//
// Columns the child cannot filter at all stay unfilterable; the others
// advertise everything their native operators can express.
func (c *Collection) Schema() schema.CollectionSchema {
	child := c.Child().Schema()
	out := child.Clone()
	for name, field := range child.Fields {
		col, ok := field.(*schema.ColumnSchema)
		if !ok || len(col.FilterOperators) == 0 {
			continue
		}
		out.Fields[name] = col.WithOperators(condtree.SupportedOperators(col.FilterOperators, col.ColumnType))
	}
	return out
}

// List implements datasource.Collection.
func (c *Collection) List(ctx context.Context, caller *datasource.Caller, filter *datasource.Filter, projection schema.Projection) ([]schema.Record, error) {
	refined, err := c.RefineFilter(ctx, caller, filter)
	if err != nil {
		return nil, err
	}
	return c.Child().List(ctx, caller, refined, projection)
}

// RefineFilter rewrites every leaf the child does not support natively.
//
// Leaves without a rewrite are forwarded unchanged; the child rejects them
// with an unsupported-operator error when it validates the tree.
func (c *Collection) RefineFilter(ctx context.Context, caller *datasource.Caller, filter *datasource.Filter) (*datasource.Filter, error) {
	tree := filter.Tree()
	if tree == nil {
		return filter, nil
	}
	rctx := caller.ReplaceContext(c.clock.Now())

	out, err := condtree.ReplaceLeafsContext(ctx, tree, func(_ context.Context, leaf *condtree.Leaf) (condtree.Node, error) {
		col, err := datasource.GetColumn(c.Child(), leaf.Field)
		if err != nil {
			return nil, datasource.NewValidationError(c.Name(), leaf.Field, err)
		}
		replacer := condtree.GetReplacer(leaf.Operator, col.FilterOperators, col.ColumnType)
		if replacer == nil {
			return leaf, nil
		}
		replaced, err := replacer(leaf, rctx)
		if err != nil {
			return nil, datasource.NewValidationError(c.Name(), leaf.Field, err)
		}
		if replaced != condtree.Node(leaf) {
			slog.Debug("rewrote leaf",
				"collection", c.Name(),
				"from", leaf.String(),
				"to", condtree.Format(replaced),
			)
		}
		return replaced, nil
	})
	if err != nil {
		return nil, err
	}
	return filter.WithConditionTree(out), nil
}
