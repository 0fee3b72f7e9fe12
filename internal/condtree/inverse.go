package condtree

import "github.com/roach88/sieve/internal/schema"

// inverses maps operators with a direct negation.
var inverses = map[schema.Operator]schema.Operator{
	schema.Equal:              schema.NotEqual,
	schema.NotEqual:           schema.Equal,
	schema.In:                 schema.NotIn,
	schema.NotIn:              schema.In,
	schema.Contains:           schema.NotContains,
	schema.NotContains:        schema.Contains,
	schema.IContains:          schema.NotIContains,
	schema.NotIContains:       schema.IContains,
	schema.Blank:              schema.Present,
	schema.Present:            schema.Blank,
	schema.LessThanOrEqual:    schema.GreaterThan,
	schema.GreaterThanOrEqual: schema.LessThan,
}

// Inverse implements Node.
//
// Strict comparisons invert to "equal or the other side" so the result only
// uses operators a store is likely to have. Operators without a defined
// negation fail with ErrUnsupportedOperation; wrap the leaf in Not instead.
func (l *Leaf) Inverse() (Node, error) {
	if op, ok := inverses[l.Operator]; ok {
		return l.Override(op, l.Value), nil
	}
	switch l.Operator {
	case schema.LessThan:
		return Union(l.Override(schema.Equal, l.Value), l.Override(schema.GreaterThan, l.Value)), nil
	case schema.GreaterThan:
		return Union(l.Override(schema.Equal, l.Value), l.Override(schema.LessThan, l.Value)), nil
	}
	return nil, &OperationError{Operation: "inverse", Operator: l.Operator, Field: l.Field}
}

// Inverse implements Node using De Morgan's laws.
func (b *Branch) Inverse() (Node, error) {
	out := make([]Node, len(b.Conditions))
	for i, c := range b.Conditions {
		inv, err := c.Inverse()
		if err != nil {
			return nil, err
		}
		out[i] = inv
	}
	agg := And
	if b.Aggregator == And {
		agg = Or
	}
	return &Branch{Aggregator: agg, Conditions: out}, nil
}

// Inverse implements Node.
func (n *Not) Inverse() (Node, error) {
	return n.Condition, nil
}
