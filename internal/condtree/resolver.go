package condtree

import (
	"fmt"
	"slices"

	"github.com/roach88/sieve/internal/schema"
)

// GetReplacer finds a rewrite of op into operators from supported.
//
// It returns the identity when op is supported. Otherwise it walks the
// transform table depth first: an alternative is usable when it applies to
// columnType, is not already on the current path, and every operator it
// depends on resolves in turn. The first usable alternative in table order
// wins. GetReplacer returns nil when no rewrite exists.
func GetReplacer(op schema.Operator, supported schema.OperatorSet, columnType schema.PrimitiveType) Replacer {
	return resolve(op, supported, columnType, nil)
}

// resolve carries the alternatives already on the path. The path is never
// mutated: each step appends to a clipped copy, so sibling branches of the
// search never see each other's entries.
func resolve(op schema.Operator, supported schema.OperatorSet, columnType schema.PrimitiveType, visited []*Alternative) Replacer {
	if supported.Has(op) {
		return identity
	}
	for _, alt := range alternatives[op] {
		if !alt.appliesTo(columnType) || slices.Contains(visited, alt) {
			continue
		}
		path := append(slices.Clip(visited), alt)
		deps := make([]Replacer, len(alt.DependsOn))
		complete := true
		for i, dep := range alt.DependsOn {
			if deps[i] = resolve(dep, supported, columnType, path); deps[i] == nil {
				complete = false
				break
			}
		}
		if complete {
			return compose(alt, deps, columnType)
		}
	}
	return nil
}

func identity(l *Leaf, _ ReplaceContext) (Node, error) {
	return l, nil
}

// compose applies alt, then rewrites each resulting leaf with the replacer
// resolved for its operator.
func compose(alt *Alternative, deps []Replacer, columnType schema.PrimitiveType) Replacer {
	return func(l *Leaf, rctx ReplaceContext) (Node, error) {
		rctx.ColumnType = columnType
		replaced, err := alt.Replacer(l, rctx)
		if err != nil {
			return nil, err
		}
		return replaced.ReplaceLeafs(func(sub *Leaf) (Node, error) {
			i := slices.Index(alt.DependsOn, sub.Operator)
			if i < 0 {
				return nil, fmt.Errorf("rewrite of %s produced undeclared operator %s", l.Operator, sub.Operator)
			}
			return deps[i](sub, rctx)
		})
	}
}

// EquivalentTree rewrites leaf into operators from supported. It returns a
// nil tree and no error when no rewrite exists.
func EquivalentTree(leaf *Leaf, supported schema.OperatorSet, columnType schema.PrimitiveType, rctx ReplaceContext) (Node, error) {
	r := GetReplacer(leaf.Operator, supported, columnType)
	if r == nil {
		return nil, nil
	}
	return r(leaf, rctx)
}

// SupportedOperators returns every operator expressible with supported on
// a column of type columnType. The result always contains supported.
func SupportedOperators(supported schema.OperatorSet, columnType schema.PrimitiveType) schema.OperatorSet {
	out := supported.Clone()
	for _, op := range schema.AllOperators {
		if !out.Has(op) && GetReplacer(op, supported, columnType) != nil {
			out = out.Union(op)
		}
	}
	return out
}
