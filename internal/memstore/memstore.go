// Package memstore is a native collection adapter that keeps records in
// memory. It evaluates exactly the operators its schema declares and
// rejects everything else, like a real store would.
package memstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/schema"
)

// DataSource holds in-memory collections.
type DataSource struct {
	*datasource.Static
	clock datasource.Clock
}

// Option configures a DataSource.
type Option func(*DataSource)

// WithClock sets the clock used for relative-time operators a collection
// declares natively.
func WithClock(c datasource.Clock) Option {
	return func(d *DataSource) {
		d.clock = c
	}
}

// New creates an empty in-memory data source.
func New(opts ...Option) *DataSource {
	d := &DataSource{Static: datasource.NewStatic(), clock: datasource.SystemClock{}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddCollection registers a collection seeded with records.
func (d *DataSource) AddCollection(name string, s schema.CollectionSchema, records ...schema.Record) (*Collection, error) {
	c := &Collection{name: name, schema: s, dataSource: d}
	c.Insert(records...)
	if err := d.Add(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Collection is an in-memory native collection.
type Collection struct {
	name       string
	schema     schema.CollectionSchema
	dataSource *DataSource

	mu      sync.RWMutex
	records []schema.Record
}

// Name implements datasource.Collection.
func (c *Collection) Name() string { return c.name }

// Schema implements datasource.Collection.
func (c *Collection) Schema() schema.CollectionSchema { return c.schema }

// DataSource implements datasource.Collection.
func (c *Collection) DataSource() datasource.DataSource { return c.dataSource }

// Insert appends copies of records.
func (c *Collection) Insert(records ...schema.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		c.records = append(c.records, copyRecord(r))
	}
}

// Len returns the number of stored records.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

func (c *Collection) snapshot() []schema.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]schema.Record, len(c.records))
	for i, r := range c.records {
		out[i] = copyRecord(r)
	}
	return out
}

// List implements datasource.Collection.
func (c *Collection) List(ctx context.Context, caller *datasource.Caller, filter *datasource.Filter, projection schema.Projection) ([]schema.Record, error) {
	tree := filter.Tree()
	if err := datasource.ValidateTree(tree, c); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	needed := condtree.Projection(tree).Union(projection...)
	for _, s := range sortOf(filter) {
		needed = needed.Union(s.Field)
	}

	records := c.snapshot()
	for _, rec := range records {
		c.hydrate(rec, needed.Relations())
	}

	matched, err := condtree.Apply(tree, records, datasource.Types(c), caller.ReplaceContext(c.dataSource.clock.Now()))
	if err != nil {
		return nil, err
	}
	if matched == nil {
		matched = []schema.Record{}
	}

	sortRecords(matched, sortOf(filter))
	if filter != nil {
		matched = filter.Page.Apply(matched)
	}

	slog.Debug("memstore list",
		"collection", c.name,
		"filter", condtree.Format(tree),
		"rows", len(matched),
	)

	if len(projection) == 0 {
		return matched, nil
	}
	return projection.Apply(matched), nil
}

// hydrate embeds the to-one related records the paths need.
func (c *Collection) hydrate(rec schema.Record, relations map[string]schema.Projection) {
	for name, sub := range relations {
		rel := c.schema.Relation(name)
		if rel == nil || !rel.IsToOne() {
			continue
		}
		foreign, err := c.dataSource.GetCollection(rel.ForeignCollection)
		if err != nil {
			continue
		}
		fc, ok := foreign.(*Collection)
		if !ok {
			continue
		}

		var related schema.Record
		for _, candidate := range fc.snapshot() {
			if joins(rel, rec, candidate) {
				related = candidate
				break
			}
		}
		if related != nil {
			fc.hydrate(related, sub.Relations())
			rec[name] = related
		} else {
			rec[name] = nil
		}
	}
}

func joins(rel *schema.RelationSchema, origin, foreign schema.Record) bool {
	var key *condtree.Leaf
	switch rel.Type {
	case schema.ManyToOne:
		key = condtree.NewLeaf(rel.OriginKey, schema.Equal, origin[rel.ForeignKey])
	case schema.OneToOne:
		key = condtree.NewLeaf(rel.ForeignKey, schema.Equal, origin[rel.OriginKey])
	default:
		return false
	}
	if key.Value == nil {
		return false
	}
	ok, _ := key.Match(foreign, nil, condtree.ReplaceContext{})
	return ok
}

func sortOf(f *datasource.Filter) datasource.Sort {
	if f == nil {
		return nil
	}
	return f.Sort
}

// sortRecords orders records stably. Values that do not compare keep their
// relative order; nils sort first.
func sortRecords(records []schema.Record, s datasource.Sort) {
	if len(s) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, clause := range s {
			a, b := records[i].Value(clause.Field), records[j].Value(clause.Field)
			cmp, ok := condtree.Compare(a, b)
			if !ok {
				switch {
				case a == nil && b != nil:
					cmp = -1
				case a != nil && b == nil:
					cmp = 1
				default:
					continue
				}
			}
			if cmp == 0 {
				continue
			}
			if clause.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
}

func copyRecord(r schema.Record) schema.Record {
	out := make(schema.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
