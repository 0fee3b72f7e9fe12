// Package emulate lets a collection owner provide operators the store lacks,
// either by rewriting them into other operators or by filtering records in
// memory and constraining the store query by primary key.
package emulate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/decorator"
	"github.com/roach88/sieve/internal/schema"
)

// Collection is the emulation layer over one child collection.
//
// Handlers are registered during setup. Once Freeze is called further
// registrations fail; after that the registry is only read, so queries
// may run concurrently.
type Collection struct {
	decorator.Base
	opts options

	mu       sync.RWMutex
	handlers map[string]map[schema.Operator]Handler
	frozen   bool
}

// New wraps every collection of child.
func New(child datasource.DataSource, opts ...Option) *decorator.DataSource[*Collection] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return decorator.NewDataSource(child, func(c datasource.Collection, ds datasource.DataSource) *Collection {
		return &Collection{
			Base:     decorator.NewBase(c, ds),
			opts:     o,
			handlers: map[string]map[schema.Operator]Handler{},
		}
	})
}

// Freeze seals the registries of every collection in ds.
func Freeze(ds *decorator.DataSource[*Collection]) {
	for _, c := range ds.Collections() {
		c.(*Collection).Freeze()
	}
}

// Freeze seals the registry.
func (c *Collection) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// EmulateFieldFiltering emulates every operator that suits the field's type
// and that the child does not support natively.
func (c *Collection) EmulateFieldFiltering(field string) error {
	col, err := c.checkRegistration(field)
	if err != nil {
		return err
	}
	for _, op := range schema.AllowedOperators(col.ColumnType).Sorted() {
		if col.FilterOperators.Has(op) {
			continue
		}
		if err := c.ReplaceFieldOperator(field, op, Emulate()); err != nil {
			return err
		}
	}
	return nil
}

// EmulateFieldOperator provides op on field by filtering in memory.
func (c *Collection) EmulateFieldOperator(field string, op schema.Operator) error {
	return c.ReplaceFieldOperator(field, op, Emulate())
}

// ReplaceFieldOperator registers h for op on field.
//
// The collection's primary key must natively support equal and in, and
// field must be a column. Both are checked here so a bad setup fails
// before the first query.
func (c *Collection) ReplaceFieldOperator(field string, op schema.Operator, h Handler) error {
	if !op.IsValid() {
		return datasource.NewConfigurationError(c.Name(), field, "unknown operator %q", op)
	}
	if _, err := c.checkRegistration(field); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return datasource.NewConfigurationError(c.Name(), field, "cannot register %s after the collection was frozen", op)
	}
	if c.handlers[field] == nil {
		c.handlers[field] = map[schema.Operator]Handler{}
	}
	c.handlers[field][op] = h

	slog.Debug("registered operator handler",
		"collection", c.Name(),
		"field", field,
		"operator", op,
		"emulated", h.IsEmulation(),
	)
	return nil
}

// checkRegistration enforces the setup preconditions and returns the
// child's column.
func (c *Collection) checkRegistration(field string) (*schema.ColumnSchema, error) {
	child := c.Child().Schema()

	pks := child.PrimaryKeys()
	if len(pks) == 0 {
		return nil, datasource.NewConfigurationError(c.Name(), field, "emulation needs a primary key")
	}
	for _, pk := range pks {
		if !child.Column(pk).FilterOperators.HasAll(schema.Equal, schema.In) {
			return nil, datasource.NewConfigurationError(c.Name(), field,
				"primary key %q must support %s and %s natively to emulate operators", pk, schema.Equal, schema.In)
		}
	}

	switch child.Fields[field].(type) {
	case *schema.ColumnSchema:
		return child.Column(field), nil
	case *schema.RelationSchema:
		return nil, datasource.NewConfigurationError(c.Name(), field, "cannot emulate operators on relation %q, register them on the target collection", field)
	default:
		return nil, datasource.NewConfigurationError(c.Name(), field, "field %q not found", field)
	}
}

func (c *Collection) handler(field string, op schema.Operator) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[field][op]
	return h, ok
}

// Schema implements datasource.Collection: the child's schema plus the
// registered operators.
func (c *Collection) Schema() schema.CollectionSchema {
	child := c.Child().Schema()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.handlers) == 0 {
		return child
	}
	out := child.Clone()
	for field, byOp := range c.handlers {
		col := child.Column(field)
		if col == nil {
			continue
		}
		ops := make([]schema.Operator, 0, len(byOp))
		for op := range byOp {
			ops = append(ops, op)
		}
		out.Fields[field] = col.WithOperators(col.FilterOperators.Union(ops...))
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

// RefineFilter replaces every leaf that has a registered handler.
func (c *Collection) RefineFilter(ctx context.Context, caller *datasource.Caller, filter *datasource.Filter) (*datasource.Filter, error) {
	tree := filter.Tree()
	if tree == nil {
		return filter, nil
	}
	out, err := condtree.ReplaceLeafsContext(ctx, tree, func(ctx context.Context, leaf *condtree.Leaf) (condtree.Node, error) {
		return c.replaceLeaf(ctx, caller, leaf, nil)
	})
	if err != nil {
		return nil, err
	}
	return filter.WithConditionTree(out), nil
}

// replaceLeaf rewrites one leaf. chain holds the replacement ids entered
// so far; it is extended by copy, never in place.
func (c *Collection) replaceLeaf(ctx context.Context, caller *datasource.Caller, leaf *condtree.Leaf, chain []string) (condtree.Node, error) {
	if head, rest, nested := strings.Cut(leaf.Field, ":"); nested {
		return c.replaceRelationLeaf(ctx, caller, leaf, head, rest, chain)
	}

	h, ok := c.handler(leaf.Field, leaf.Operator)
	if !ok {
		return leaf, nil
	}

	id := ReplacementID(c.Name(), leaf.Field, leaf.Operator)
	if slices.Contains(chain, id) {
		return nil, &ReplacementCycleError{Chain: append(slices.Clone(chain), id)}
	}
	chain = append(slices.Clip(chain), id)

	var equivalent condtree.Node
	if !h.IsEmulation() {
		tree, err := h.replace(ctx, leaf.Value, caller)
		if err != nil {
			return nil, fmt.Errorf("replacing %s on %s: %w", leaf.Operator, c.Name(), err)
		}
		equivalent = tree
	}
	if equivalent == nil {
		return c.emulateLeaf(ctx, caller, leaf)
	}

	rewritten, err := condtree.ReplaceLeafsContext(ctx, equivalent, func(ctx context.Context, sub *condtree.Leaf) (condtree.Node, error) {
		return c.replaceLeaf(ctx, caller, sub, chain)
	})
	if err != nil {
		return nil, err
	}
	if err := datasource.ValidateTree(rewritten, c.Child()); err != nil {
		return nil, fmt.Errorf("replacement for %s: %w", id, err)
	}
	return rewritten, nil
}

// replaceRelationLeaf hands a "relation:field" leaf to the emulation layer
// of the related collection and nests the result back.
func (c *Collection) replaceRelationLeaf(ctx context.Context, caller *datasource.Caller, leaf *condtree.Leaf, relation, rest string, chain []string) (condtree.Node, error) {
	rel := c.Child().Schema().Relation(relation)
	if rel == nil || !rel.IsToOne() {
		return leaf, nil
	}
	foreign, err := c.DataSource().GetCollection(rel.ForeignCollection)
	if err != nil {
		return nil, err
	}
	sibling, ok := foreign.(*Collection)
	if !ok {
		return leaf, nil
	}
	sub, err := sibling.replaceLeaf(ctx, caller, leaf.WithField(rest), chain)
	if err != nil {
		return nil, err
	}
	return condtree.Nest(sub, relation), nil
}

// emulateLeaf lists the child without a condition, matches leaf in memory
// and returns the matching records as a primary key condition.
func (c *Collection) emulateLeaf(ctx context.Context, caller *datasource.Caller, leaf *condtree.Leaf) (condtree.Node, error) {
	child := c.Child()
	childSchema := child.Schema()
	projection := schema.Projection{leaf.Field}.WithPrimaryKeys(childSchema)

	var filter *datasource.Filter
	if c.opts.maxFallbackRows > 0 {
		filter = &datasource.Filter{Page: &datasource.Page{Limit: c.opts.maxFallbackRows + 1}}
	}
	records, err := child.List(ctx, caller, filter, projection)
	if err != nil {
		return nil, fmt.Errorf("emulating %s on %s.%s: %w", leaf.Operator, c.Name(), leaf.Field, err)
	}
	if c.opts.maxFallbackRows > 0 && len(records) > c.opts.maxFallbackRows {
		slog.Warn("emulation fallback exceeded row cap",
			"collection", c.Name(),
			"field", leaf.Field,
			"operator", leaf.Operator,
			"limit", c.opts.maxFallbackRows,
		)
		return nil, &FallbackLimitError{
			Collection: c.Name(),
			Field:      leaf.Field,
			Operator:   leaf.Operator,
			Limit:      c.opts.maxFallbackRows,
		}
	}

	rctx := caller.ReplaceContext(c.opts.clock.Now())
	types := datasource.Types(c)
	var ids [][]any
	for _, rec := range records {
		ok, err := leaf.Match(rec, types, rctx)
		if err != nil {
			return nil, fmt.Errorf("emulating %s on %s.%s: %w", leaf.Operator, c.Name(), leaf.Field, err)
		}
		if ok {
			ids = append(ids, rec.PrimaryKey(childSchema))
		}
	}

	slog.Debug("emulated leaf in memory",
		"collection", c.Name(),
		"leaf", leaf.String(),
		"scanned", len(records),
		"matched", len(ids),
	)
	return condtree.MatchIDs(childSchema, ids)
}
