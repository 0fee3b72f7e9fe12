// Package decorator provides the base for collection layers that wrap a
// child collection and refine its schema or the filters sent to it.
package decorator

import (
	"context"
	"fmt"

	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/schema"
)

// Base forwards everything to the child collection.
//
// Layers embed Base and override Schema and List. Base keeps a pointer to
// the decorating data source so relation lookups from a layer reach the
// decorated siblings, not the raw children.
type Base struct {
	child      datasource.Collection
	dataSource datasource.DataSource
}

// NewBase creates a base over child, belonging to ds.
func NewBase(child datasource.Collection, ds datasource.DataSource) Base {
	return Base{child: child, dataSource: ds}
}

// Name implements datasource.Collection.
func (b *Base) Name() string { return b.child.Name() }

// Child returns the wrapped collection.
func (b *Base) Child() datasource.Collection { return b.child }

// DataSource implements datasource.Collection.
func (b *Base) DataSource() datasource.DataSource { return b.dataSource }

// Schema implements datasource.Collection.
func (b *Base) Schema() schema.CollectionSchema { return b.child.Schema() }

// List implements datasource.Collection.
func (b *Base) List(ctx context.Context, caller *datasource.Caller, filter *datasource.Filter, projection schema.Projection) ([]schema.Record, error) {
	return b.child.List(ctx, caller, filter, projection)
}

// Factory builds the layer for one child collection.
type Factory[T datasource.Collection] func(child datasource.Collection, ds datasource.DataSource) T

// DataSource wraps every collection of a child data source with the same
// layer type.
type DataSource[T datasource.Collection] struct {
	child  datasource.DataSource
	order  []string
	byName map[string]T
}

// NewDataSource wraps each collection of child with factory.
func NewDataSource[T datasource.Collection](child datasource.DataSource, factory Factory[T]) *DataSource[T] {
	d := &DataSource[T]{child: child, byName: map[string]T{}}
	for _, c := range child.Collections() {
		d.order = append(d.order, c.Name())
		d.byName[c.Name()] = factory(c, d)
	}
	return d
}

// Child returns the wrapped data source.
func (d *DataSource[T]) Child() datasource.DataSource { return d.child }

// Collection returns the typed layer for name.
func (d *DataSource[T]) Collection(name string) (T, error) {
	c, ok := d.byName[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", datasource.ErrUnknownCollection, name)
	}
	return c, nil
}

// Collections implements datasource.DataSource.
func (d *DataSource[T]) Collections() []datasource.Collection {
	out := make([]datasource.Collection, len(d.order))
	for i, name := range d.order {
		out[i] = d.byName[name]
	}
	return out
}

// GetCollection implements datasource.DataSource.
func (d *DataSource[T]) GetCollection(name string) (datasource.Collection, error) {
	c, err := d.Collection(name)
	if err != nil {
		return nil, err
	}
	return c, nil
}
