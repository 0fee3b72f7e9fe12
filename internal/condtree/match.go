package condtree

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/roach88/sieve/internal/schema"
)

// TypeResolver returns the column type behind a field path.
type TypeResolver interface {
	ColumnType(field string) (schema.PrimitiveType, error)
}

// TypeMap is a TypeResolver backed by a map, handy for flat records.
type TypeMap map[string]schema.PrimitiveType

// ColumnType implements TypeResolver.
func (m TypeMap) ColumnType(field string) (schema.PrimitiveType, error) {
	t, ok := m[field]
	if !ok {
		return "", fmt.Errorf("unknown field %q", field)
	}
	return t, nil
}

// matchable are the operators Leaf.Match evaluates directly or through
// their inverse. Every other operator is first rewritten into these.
var matchable = schema.NewOperatorSet(
	schema.Equal, schema.NotEqual, schema.In, schema.NotIn,
	schema.LessThan, schema.GreaterThan, schema.Match,
	schema.Contains, schema.NotContains, schema.IContains, schema.NotIContains,
	schema.StartsWith, schema.EndsWith, schema.LongerThan, schema.ShorterThan,
	schema.IncludesAll, schema.IncludesNone,
)

var regexpCache sync.Map // pattern -> *regexp.Regexp

func compileCached(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexpCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexpCache.Store(pattern, re)
	return re, nil
}

// Match implements Node.
//
// Equality is loose so values decoded from JSON compare equal to native Go
// values. Containment ignores case. Operators without a direct matcher are
// rewritten with the transform table and the equivalent tree is matched;
// that needs types to know the column type.
func (l *Leaf) Match(rec schema.Record, types TypeResolver, rctx ReplaceContext) (bool, error) {
	v := rec.Value(l.Field)

	switch l.Operator {
	case schema.Equal:
		return looseEqual(v, l.Value), nil
	case schema.In:
		values, ok := asList(l.Value)
		if !ok {
			return false, fmt.Errorf("operator in on %q needs a list value", l.Field)
		}
		for _, candidate := range values {
			if looseEqual(v, candidate) {
				return true, nil
			}
		}
		return false, nil
	case schema.LessThan:
		c, ok := Compare(v, l.Value)
		return ok && c < 0, nil
	case schema.GreaterThan:
		c, ok := Compare(v, l.Value)
		return ok && c > 0, nil
	case schema.Match:
		s, ok := v.(string)
		pattern, pok := l.Value.(string)
		if !ok || !pok {
			return false, nil
		}
		re, err := compileCached(pattern)
		if err != nil {
			return false, fmt.Errorf("operator match on %q: %w", l.Field, err)
		}
		return re.MatchString(s), nil
	case schema.Contains, schema.IContains:
		s, ok := v.(string)
		sub, sok := l.Value.(string)
		fold := cases.Fold()
		return ok && sok && strings.Contains(fold.String(s), fold.String(sub)), nil
	case schema.StartsWith:
		s, ok := v.(string)
		prefix, pok := l.Value.(string)
		return ok && pok && strings.HasPrefix(s, prefix), nil
	case schema.EndsWith:
		s, ok := v.(string)
		suffix, sok := l.Value.(string)
		return ok && sok && strings.HasSuffix(s, suffix), nil
	case schema.LongerThan, schema.ShorterThan:
		s, ok := v.(string)
		n, nok := toNumber(l.Value)
		if !ok || !nok {
			return false, nil
		}
		length := float64(utf8.RuneCountInString(s))
		if l.Operator == schema.LongerThan {
			return length > n, nil
		}
		return length < n, nil
	case schema.IncludesAll, schema.IncludesNone:
		have, ok := asList(v)
		want, wok := asList(l.Value)
		if !ok || !wok {
			return false, nil
		}
		for _, w := range want {
			found := false
			for _, h := range have {
				if looseEqual(h, w) {
					found = true
					break
				}
			}
			if found != (l.Operator == schema.IncludesAll) {
				return false, nil
			}
		}
		return true, nil
	case schema.NotEqual, schema.NotIn, schema.NotContains, schema.NotIContains:
		inv, err := l.Inverse()
		if err != nil {
			return false, err
		}
		ok, err := inv.Match(rec, types, rctx)
		return !ok, err
	}

	return l.matchEquivalent(rec, types, rctx)
}

func (l *Leaf) matchEquivalent(rec schema.Record, types TypeResolver, rctx ReplaceContext) (bool, error) {
	var columnType schema.PrimitiveType
	if types != nil {
		t, err := types.ColumnType(l.Field)
		if err != nil {
			return false, err
		}
		columnType = t
	}
	equivalent, err := EquivalentTree(l, matchable, columnType, rctx)
	if err != nil {
		return false, err
	}
	if equivalent == nil {
		return false, &OperationError{Operation: "match", Operator: l.Operator, Field: l.Field}
	}
	return equivalent.Match(rec, types, rctx)
}

// Match implements Node. An empty And matches everything and an empty Or
// matches nothing.
func (b *Branch) Match(rec schema.Record, types TypeResolver, rctx ReplaceContext) (bool, error) {
	for _, c := range b.Conditions {
		ok, err := c.Match(rec, types, rctx)
		if err != nil {
			return false, err
		}
		if b.Aggregator == Or && ok {
			return true, nil
		}
		if b.Aggregator == And && !ok {
			return false, nil
		}
	}
	return b.Aggregator == And, nil
}

// Match implements Node.
func (n *Not) Match(rec schema.Record, types TypeResolver, rctx ReplaceContext) (bool, error) {
	ok, err := n.Condition.Match(rec, types, rctx)
	return !ok, err
}
