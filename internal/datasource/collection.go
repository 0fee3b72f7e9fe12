// Package datasource defines the contract every collection layer honors,
// from a native store up to the outermost rewriting layer.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/schema"
)

// Collection is a named set of records with a schema.
//
// Schema advertises, per column, the operators a caller may use in a
// filter. List must only be called with trees that use advertised
// operators; a layer that advertises more than its child rewrites the
// difference before forwarding.
type Collection interface {
	Name() string
	Schema() schema.CollectionSchema

	// DataSource is the data source the collection belongs to. Relation
	// targets are looked up through it.
	DataSource() DataSource

	// List returns the records matching filter, projected to projection.
	// A nil filter or a nil condition tree lists everything.
	List(ctx context.Context, caller *Caller, filter *Filter, projection schema.Projection) ([]schema.Record, error)
}

// DataSource is a set of collections that may relate to each other.
type DataSource interface {
	Collections() []Collection
	GetCollection(name string) (Collection, error)
}

// ErrUnknownCollection is returned by GetCollection for a missing name.
var ErrUnknownCollection = errors.New("unknown collection")

// Filter selects records.
type Filter struct {
	// ConditionTree restricts the records. Nil means no restriction.
	ConditionTree condtree.Node

	// Sort orders the records. Empty means store order.
	Sort Sort

	// Page limits the records. Nil means all of them.
	Page *Page
}

// WithConditionTree returns a copy of f using tree. f may be nil.
func (f *Filter) WithConditionTree(tree condtree.Node) *Filter {
	out := Filter{}
	if f != nil {
		out = *f
	}
	out.ConditionTree = tree
	return &out
}

// Tree returns the condition tree of a possibly nil filter.
func (f *Filter) Tree() condtree.Node {
	if f == nil {
		return nil
	}
	return f.ConditionTree
}

// SortClause orders by one field.
type SortClause struct {
	Field     string
	Ascending bool
}

// Sort is a list of clauses, most significant first.
type Sort []SortClause

// Page is an offset/limit window.
type Page struct {
	Skip  int
	Limit int
}

// Apply cuts records down to the window.
func (p *Page) Apply(records []schema.Record) []schema.Record {
	if p == nil {
		return records
	}
	if p.Skip >= len(records) {
		return []schema.Record{}
	}
	records = records[p.Skip:]
	if p.Limit > 0 && p.Limit < len(records) {
		records = records[:p.Limit]
	}
	return records
}

// Caller identifies who issues a request and from which time zone.
type Caller struct {
	ID        string
	RequestID string

	// Timezone is used for relative-time operators. Nil means UTC.
	Timezone *time.Location
}

// NewCaller creates a caller with a fresh request id from gen.
func NewCaller(id string, tz *time.Location, gen RequestIDGenerator) *Caller {
	if gen == nil {
		gen = UUIDv7Generator{}
	}
	return &Caller{ID: id, RequestID: gen.Generate(), Timezone: tz}
}

// Location returns the caller's zone, UTC when unset. c may be nil.
func (c *Caller) Location() *time.Location {
	if c == nil || c.Timezone == nil {
		return time.UTC
	}
	return c.Timezone
}

// ReplaceContext builds the context relative rewrites run in.
func (c *Caller) ReplaceContext(now time.Time) condtree.ReplaceContext {
	return condtree.ReplaceContext{Timezone: c.Location(), Now: now}
}

// Static is a fixed in-memory DataSource. Native adapters use it to hold
// their collections.
type Static struct {
	order  []string
	byName map[string]Collection
}

// NewStatic creates an empty data source.
func NewStatic() *Static {
	return &Static{byName: map[string]Collection{}}
}

// Add registers a collection. Names must be unique.
func (s *Static) Add(c Collection) error {
	if _, ok := s.byName[c.Name()]; ok {
		return NewConfigurationError(c.Name(), "", "collection already registered")
	}
	s.order = append(s.order, c.Name())
	s.byName[c.Name()] = c
	return nil
}

// Collections implements DataSource in registration order.
func (s *Static) Collections() []Collection {
	out := make([]Collection, len(s.order))
	for i, name := range s.order {
		out[i] = s.byName[name]
	}
	return out
}

// GetCollection implements DataSource.
func (s *Static) GetCollection(name string) (Collection, error) {
	c, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return c, nil
}
