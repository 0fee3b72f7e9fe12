// Package condtree implements immutable condition trees over collection
// fields, the operator transform table, and the replacement resolver that
// rewrites a leaf into operators a store supports.
package condtree

import (
	"fmt"
	"strings"

	"github.com/roach88/sieve/internal/schema"
)

// Node is a condition tree.
//
// This is a sealed interface - only *Leaf, *Branch and *Not implement it.
// Trees are immutable: every transformation returns a new tree and never
// modifies its receiver, so a tree can be shared across goroutines.
type Node interface {
	conditionNode() // Marker method - seals interface to this package

	// Inverse returns the logical negation of the tree expressed without a
	// Not wrapper where possible.
	Inverse() (Node, error)

	// ReplaceLeafs rebuilds the tree, splicing in whatever fn returns for
	// each leaf. Branch and Not structure is preserved.
	ReplaceLeafs(fn LeafReplacer) (Node, error)

	// Everything reports whether fn holds for every leaf.
	Everything(fn func(*Leaf) bool) bool

	// Some reports whether fn holds for at least one leaf.
	Some(fn func(*Leaf) bool) bool

	// ForEachLeaf calls fn on each leaf in depth-first order.
	ForEachLeaf(fn func(*Leaf))

	// Match evaluates the tree against a record.
	Match(rec schema.Record, types TypeResolver, rctx ReplaceContext) (bool, error)
}

// LeafReplacer maps a leaf to the subtree that takes its place.
type LeafReplacer func(*Leaf) (Node, error)

// Aggregator combines the children of a Branch.
type Aggregator string

const (
	And Aggregator = "And"
	Or  Aggregator = "Or"
)

// ParseAggregator accepts "And"/"Or" in any case.
func ParseAggregator(s string) (Aggregator, error) {
	switch strings.ToLower(s) {
	case "and":
		return And, nil
	case "or":
		return Or, nil
	default:
		return "", fmt.Errorf("unknown aggregator %q", s)
	}
}

// Leaf compares one field with a value.
//
// Field is a path whose relation hops are separated by ':', for example
// "author:firstName". Value is nil for operators that take none.
type Leaf struct {
	Field    string
	Operator schema.Operator
	Value    any
}

// Branch combines two or more conditions.
//
// The two exceptions to the arity rule are MatchNone (Or with no children)
// and MatchAll (And with no children).
type Branch struct {
	Aggregator Aggregator
	Conditions []Node
}

// Not negates its condition.
type Not struct {
	Condition Node
}

func (*Leaf) conditionNode()   {}
func (*Branch) conditionNode() {}
func (*Not) conditionNode()    {}

// NewLeaf creates a leaf.
func NewLeaf(field string, op schema.Operator, value any) *Leaf {
	return &Leaf{Field: field, Operator: op, Value: value}
}

// NewBranch creates a branch. It fails when given fewer than two children;
// use Union or Intersect to build trees of arbitrary arity.
func NewBranch(agg Aggregator, conditions ...Node) (*Branch, error) {
	if agg != And && agg != Or {
		return nil, fmt.Errorf("unknown aggregator %q", agg)
	}
	if len(conditions) < 2 {
		return nil, fmt.Errorf("%s branch needs at least two conditions, got %d", agg, len(conditions))
	}
	for i, c := range conditions {
		if c == nil {
			return nil, fmt.Errorf("%s branch condition %d is nil", agg, i)
		}
	}
	return &Branch{Aggregator: agg, Conditions: append([]Node(nil), conditions...)}, nil
}

// NewNot creates a negation.
func NewNot(condition Node) *Not {
	return &Not{Condition: condition}
}

// Override returns a copy of the leaf with a different operator and value.
func (l *Leaf) Override(op schema.Operator, value any) *Leaf {
	return &Leaf{Field: l.Field, Operator: op, Value: value}
}

// WithField returns a copy of the leaf on another field.
func (l *Leaf) WithField(field string) *Leaf {
	return &Leaf{Field: field, Operator: l.Operator, Value: l.Value}
}

// String renders the leaf for logs and error messages.
func (l *Leaf) String() string {
	if l.Value == nil && schema.UniqueOperators.Has(l.Operator) {
		return fmt.Sprintf("%s %s", l.Field, l.Operator)
	}
	return fmt.Sprintf("%s %s %v", l.Field, l.Operator, l.Value)
}

// ReplaceLeafs implements Node.
func (l *Leaf) ReplaceLeafs(fn LeafReplacer) (Node, error) {
	out, err := fn(l)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("replacing %s: replacer returned no tree", l)
	}
	return out, nil
}

// ReplaceLeafs implements Node.
func (b *Branch) ReplaceLeafs(fn LeafReplacer) (Node, error) {
	out := make([]Node, len(b.Conditions))
	for i, c := range b.Conditions {
		replaced, err := c.ReplaceLeafs(fn)
		if err != nil {
			return nil, err
		}
		out[i] = replaced
	}
	return &Branch{Aggregator: b.Aggregator, Conditions: out}, nil
}

// ReplaceLeafs implements Node.
func (n *Not) ReplaceLeafs(fn LeafReplacer) (Node, error) {
	c, err := n.Condition.ReplaceLeafs(fn)
	if err != nil {
		return nil, err
	}
	return &Not{Condition: c}, nil
}

// Everything implements Node.
func (l *Leaf) Everything(fn func(*Leaf) bool) bool { return fn(l) }

// Everything implements Node.
func (b *Branch) Everything(fn func(*Leaf) bool) bool {
	for _, c := range b.Conditions {
		if !c.Everything(fn) {
			return false
		}
	}
	return true
}

// Everything implements Node.
func (n *Not) Everything(fn func(*Leaf) bool) bool { return n.Condition.Everything(fn) }

// Some implements Node.
func (l *Leaf) Some(fn func(*Leaf) bool) bool { return fn(l) }

// Some implements Node.
func (b *Branch) Some(fn func(*Leaf) bool) bool {
	for _, c := range b.Conditions {
		if c.Some(fn) {
			return true
		}
	}
	return false
}

// Some implements Node.
func (n *Not) Some(fn func(*Leaf) bool) bool { return n.Condition.Some(fn) }

// ForEachLeaf implements Node.
func (l *Leaf) ForEachLeaf(fn func(*Leaf)) { fn(l) }

// ForEachLeaf implements Node.
func (b *Branch) ForEachLeaf(fn func(*Leaf)) {
	for _, c := range b.Conditions {
		c.ForEachLeaf(fn)
	}
}

// ForEachLeaf implements Node.
func (n *Not) ForEachLeaf(fn func(*Leaf)) { n.Condition.ForEachLeaf(fn) }
