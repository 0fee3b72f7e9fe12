package condtree

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/sieve/internal/schema"
)

// LeafReplacerContext is a LeafReplacer that may block, for example to
// call a user handler or list a collection.
type LeafReplacerContext func(context.Context, *Leaf) (Node, error)

// ReplaceLeafsContext is ReplaceLeafs for replacers that block. Leaves are
// visited in order and ctx is checked before each one.
func ReplaceLeafsContext(ctx context.Context, tree Node, fn LeafReplacerContext) (Node, error) {
	return tree.ReplaceLeafs(func(l *Leaf) (Node, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn(ctx, l)
	})
}

// ReplaceFields rewrites every leaf field path with fn. A nil tree stays
// nil.
func ReplaceFields(tree Node, fn func(string) string) Node {
	switch n := tree.(type) {
	case *Leaf:
		return n.WithField(fn(n.Field))
	case *Branch:
		conditions := make([]Node, len(n.Conditions))
		for i, c := range n.Conditions {
			conditions[i] = ReplaceFields(c, fn)
		}
		return &Branch{Aggregator: n.Aggregator, Conditions: conditions}
	case *Not:
		return &Not{Condition: ReplaceFields(n.Condition, fn)}
	default:
		return tree
	}
}

// Nest prefixes every field path with a relation name.
func Nest(tree Node, prefix string) Node {
	if prefix == "" {
		return tree
	}
	return ReplaceFields(tree, func(f string) string { return prefix + ":" + f })
}

// ErrCannotUnnest is returned when leaves do not share a relation prefix.
var ErrCannotUnnest = errors.New("cannot unnest condition tree")

// Unnest strips the relation prefix shared by every field path.
// It returns the stripped tree and the prefix.
func Unnest(tree Node) (Node, string, error) {
	var prefix string
	found := false
	tree.Some(func(l *Leaf) bool {
		prefix, _, found = strings.Cut(l.Field, ":")
		return true
	})
	if !found {
		return nil, "", ErrCannotUnnest
	}
	if !tree.Everything(func(l *Leaf) bool { return strings.HasPrefix(l.Field, prefix+":") }) {
		return nil, "", fmt.Errorf("%w: leaves do not share prefix %q", ErrCannotUnnest, prefix)
	}
	return ReplaceFields(tree, func(f string) string { return f[len(prefix)+1:] }), prefix, nil
}

// Projection returns the field paths referenced by the tree in first-seen
// order.
func Projection(tree Node) schema.Projection {
	var p schema.Projection
	if tree == nil {
		return p
	}
	tree.ForEachLeaf(func(l *Leaf) {
		p = p.Union(l.Field)
	})
	return p
}

// Apply returns the records the tree matches. A nil tree matches all.
func Apply(tree Node, records []schema.Record, types TypeResolver, rctx ReplaceContext) ([]schema.Record, error) {
	if tree == nil {
		return records, nil
	}
	var out []schema.Record
	for _, rec := range records {
		ok, err := tree.Match(rec, types, rctx)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Format renders a tree in a compact infix form for logs and the CLI.
func Format(tree Node) string {
	switch n := tree.(type) {
	case nil:
		return "<all>"
	case *Leaf:
		return n.String()
	case *Not:
		return "NOT (" + Format(n.Condition) + ")"
	case *Branch:
		if len(n.Conditions) == 0 {
			if n.Aggregator == Or {
				return "<none>"
			}
			return "<all>"
		}
		parts := make([]string, len(n.Conditions))
		for i, c := range n.Conditions {
			if b, ok := c.(*Branch); ok && len(b.Conditions) > 0 {
				parts[i] = "(" + Format(c) + ")"
			} else {
				parts[i] = Format(c)
			}
		}
		return strings.Join(parts, " "+strings.ToUpper(string(n.Aggregator))+" ")
	default:
		return fmt.Sprintf("%v", tree)
	}
}
