package condtree

import (
	"fmt"
	"slices"

	"github.com/roach88/sieve/internal/schema"
)

// Replacer rewrites a leaf into an equivalent tree.
type Replacer func(*Leaf, ReplaceContext) (Node, error)

// Alternative is one way to express an operator with others.
//
// The tree returned by Replacer may only contain leaves whose operator is
// listed in DependsOn. ForTypes restricts the rule to some column types;
// nil means every type.
type Alternative struct {
	DependsOn []schema.Operator
	ForTypes  []schema.PrimitiveType
	Replacer  Replacer
}

func (a *Alternative) appliesTo(t schema.PrimitiveType) bool {
	return a.ForTypes == nil || slices.Contains(a.ForTypes, t)
}

var (
	stringOnly = []schema.PrimitiveType{schema.TypeString}
	dateTypes  = []schema.PrimitiveType{schema.TypeDate, schema.TypeDateonly}
)

// alternatives is the transform table. It is built once and never
// modified. Order within an operator is the tie-break: the first
// alternative whose dependencies resolve wins.
var alternatives = buildAlternatives()

// Alternatives returns the transform table entries for op.
func Alternatives(op schema.Operator) []*Alternative {
	return slices.Clone(alternatives[op])
}

func buildAlternatives() map[schema.Operator][]*Alternative {
	table := map[schema.Operator][]*Alternative{}
	add := func(op schema.Operator, alts ...*Alternative) {
		table[op] = append(table[op], alts...)
	}

	// Equality and presence.
	add(schema.Blank,
		override(schema.In, stringOnly, func(*Leaf) any { return []any{nil, ""} }),
		override(schema.Missing, nil, nothing),
	)
	add(schema.Missing, override(schema.Equal, nil, nothing))
	add(schema.Present,
		override(schema.NotIn, stringOnly, func(*Leaf) any { return []any{nil, ""} }),
		override(schema.NotEqual, nil, nothing),
	)
	add(schema.Equal, override(schema.In, nil, func(l *Leaf) any { return []any{l.Value} }))
	add(schema.NotEqual, override(schema.NotIn, nil, func(l *Leaf) any { return []any{l.Value} }))
	add(schema.In, &Alternative{
		DependsOn: []schema.Operator{schema.Equal},
		Replacer:  spread(schema.Equal, Union),
	})
	add(schema.NotIn, &Alternative{
		DependsOn: []schema.Operator{schema.NotEqual},
		Replacer:  spread(schema.NotEqual, Intersect),
	})

	// Ordering.
	add(schema.LessThanOrEqual, orEqual(schema.LessThan))
	add(schema.GreaterThanOrEqual, orEqual(schema.GreaterThan))

	// Patterns. Containment ignores case, so it only has the i_like form.
	add(schema.Contains, likePattern(schema.ILike, "%", "%"))
	add(schema.StartsWith, likePattern(schema.Like, "", "%"))
	add(schema.EndsWith, likePattern(schema.Like, "%", ""))
	add(schema.IContains, likePattern(schema.ILike, "%", "%"))
	add(schema.IStartsWith, likePattern(schema.ILike, "", "%"))
	add(schema.IEndsWith, likePattern(schema.ILike, "%", ""))
	add(schema.NotContains, negation(schema.Contains))
	add(schema.NotIContains, negation(schema.IContains))
	add(schema.Like, likeMatch(true))
	add(schema.ILike, likeMatch(false))

	for op, alts := range timeAlternatives() {
		add(op, alts...)
	}
	return table
}

func nothing(*Leaf) any { return nil }

// override swaps the operator and computes a new value.
func override(op schema.Operator, forTypes []schema.PrimitiveType, value func(*Leaf) any) *Alternative {
	return &Alternative{
		DependsOn: []schema.Operator{op},
		ForTypes:  forTypes,
		Replacer: func(l *Leaf, _ ReplaceContext) (Node, error) {
			return l.Override(op, value(l)), nil
		},
	}
}

// spread turns a list leaf into one leaf per element combined by join.
func spread(op schema.Operator, join func(...Node) Node) Replacer {
	return func(l *Leaf, _ ReplaceContext) (Node, error) {
		values, ok := asList(l.Value)
		if !ok {
			return nil, fmt.Errorf("operator %s on %q needs a list value", l.Operator, l.Field)
		}
		trees := make([]Node, len(values))
		for i, v := range values {
			trees[i] = l.Override(op, v)
		}
		return join(trees...), nil
	}
}

func orEqual(strict schema.Operator) *Alternative {
	return &Alternative{
		DependsOn: []schema.Operator{strict, schema.Equal},
		Replacer: func(l *Leaf, _ ReplaceContext) (Node, error) {
			return Union(l.Override(strict, l.Value), l.Override(schema.Equal, l.Value)), nil
		},
	}
}

func likePattern(op schema.Operator, prefix, suffix string) *Alternative {
	return &Alternative{
		DependsOn: []schema.Operator{op},
		ForTypes:  stringOnly,
		Replacer: func(l *Leaf, _ ReplaceContext) (Node, error) {
			s, ok := l.Value.(string)
			if !ok {
				return nil, fmt.Errorf("operator %s on %q needs a string value", l.Operator, l.Field)
			}
			return l.Override(op, prefix+s+suffix), nil
		},
	}
}

func negation(op schema.Operator) *Alternative {
	return &Alternative{
		DependsOn: []schema.Operator{op},
		ForTypes:  stringOnly,
		Replacer: func(l *Leaf, _ ReplaceContext) (Node, error) {
			return NewNot(l.Override(op, l.Value)), nil
		},
	}
}

func likeMatch(caseSensitive bool) *Alternative {
	return &Alternative{
		DependsOn: []schema.Operator{schema.Match},
		ForTypes:  stringOnly,
		Replacer: func(l *Leaf, _ ReplaceContext) (Node, error) {
			s, ok := l.Value.(string)
			if !ok {
				return nil, fmt.Errorf("operator %s on %q needs a string value", l.Operator, l.Field)
			}
			return l.Override(schema.Match, likeToRegexp(s, caseSensitive)), nil
		},
	}
}
