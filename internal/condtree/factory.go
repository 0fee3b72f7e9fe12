package condtree

import (
	"fmt"

	"github.com/roach88/sieve/internal/schema"
)

// MatchNone returns the tree that matches no record: an Or with no
// children.
func MatchNone() Node {
	return &Branch{Aggregator: Or, Conditions: []Node{}}
}

// MatchAll returns the tree that matches every record: an And with no
// children.
func MatchAll() Node {
	return &Branch{Aggregator: And, Conditions: []Node{}}
}

// IsMatchNone reports whether tree is an Or with no children.
func IsMatchNone(tree Node) bool {
	b, ok := tree.(*Branch)
	return ok && b.Aggregator == Or && len(b.Conditions) == 0
}

// IsMatchAll reports whether tree is an And with no children.
func IsMatchAll(tree Node) bool {
	b, ok := tree.(*Branch)
	return ok && b.Aggregator == And && len(b.Conditions) == 0
}

// Union combines trees with Or. Nested Or branches are flattened, nil trees
// are skipped, a single condition is returned as is, and no condition at
// all yields MatchNone.
func Union(trees ...Node) Node {
	return group(Or, trees)
}

// Intersect combines trees with And. Nested And branches are flattened,
// nil trees are skipped, a single condition is returned as is, and no
// condition at all yields MatchAll.
func Intersect(trees ...Node) Node {
	return group(And, trees)
}

func group(agg Aggregator, trees []Node) Node {
	conditions := []Node{}
	for _, t := range trees {
		if t == nil {
			continue
		}
		if b, ok := t.(*Branch); ok && b.Aggregator == agg {
			conditions = append(conditions, b.Conditions...)
			continue
		}
		conditions = append(conditions, t)
	}
	if len(conditions) == 1 {
		return conditions[0]
	}
	return &Branch{Aggregator: agg, Conditions: conditions}
}

// MatchIDs builds the tree selecting records by primary key. Each id holds
// one value per primary key column, in schema.PrimaryKeys order.
//
// A single-column key becomes "equal" for one id and "in" otherwise.
// Composite keys become a union of intersections, grouped on the first key
// column so shared prefixes are not repeated.
func MatchIDs(s schema.CollectionSchema, ids [][]any) (Node, error) {
	pks := s.PrimaryKeys()
	if len(pks) == 0 {
		return nil, fmt.Errorf("collection has no primary key")
	}
	for _, pk := range pks {
		col := s.Column(pk)
		if !col.FilterOperators.HasAll(schema.Equal, schema.In) {
			return nil, fmt.Errorf("primary key %q does not support %s and %s", pk, schema.Equal, schema.In)
		}
	}
	for _, id := range ids {
		if len(id) != len(pks) {
			return nil, fmt.Errorf("id %v has %d values, primary key has %d columns", id, len(id), len(pks))
		}
	}
	return matchFields(pks, ids), nil
}

func matchFields(fields []string, values [][]any) Node {
	if len(values) == 0 {
		return MatchNone()
	}
	if len(fields) == 1 {
		flat := make([]any, len(values))
		for i, v := range values {
			flat[i] = v[0]
		}
		if len(flat) == 1 {
			return NewLeaf(fields[0], schema.Equal, flat[0])
		}
		return NewLeaf(fields[0], schema.In, flat)
	}

	type group struct {
		value any
		rest  [][]any
	}
	first, rest := fields[0], fields[1:]
	var order []*group
	groups := map[string]*group{}
	for _, v := range values {
		// Key values may be slices or maps, which cannot be map keys.
		key := fmt.Sprintf("%T:%#v", v[0], v[0])
		g, seen := groups[key]
		if !seen {
			g = &group{value: v[0]}
			groups[key] = g
			order = append(order, g)
		}
		g.rest = append(g.rest, v[1:])
	}

	trees := make([]Node, len(order))
	for i, g := range order {
		trees[i] = Intersect(
			NewLeaf(first, schema.Equal, g.value),
			matchFields(rest, g.rest),
		)
	}
	return Union(trees...)
}
