package condtree

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/sieve/internal/schema"
)

// ValidateValue checks that value has the shape op expects: nothing for
// value-less operators, a list for membership, a whole number for lengths
// and counts, a compilable pattern for match, and a scalar otherwise.
func ValidateValue(op schema.Operator, value any) error {
	switch {
	case schema.UniqueOperators.Has(op):
		if value != nil {
			return fmt.Errorf("operator %s takes no value, got %v", op, value)
		}
	case schema.ListOperators.Has(op):
		if _, ok := asList(value); !ok {
			return fmt.Errorf("operator %s needs a list value, got %T", op, value)
		}
	case schema.IntegerOperators.Has(op):
		n, ok := toNumber(value)
		if !ok || n != math.Trunc(n) {
			return fmt.Errorf("operator %s needs an integer value, got %v", op, value)
		}
	case op == schema.Match:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("operator %s needs a pattern string, got %T", op, value)
		}
		if _, err := regexp.Compile(s); err != nil {
			return fmt.Errorf("operator %s: %w", op, err)
		}
	default:
		if _, ok := asList(value); ok {
			return fmt.Errorf("operator %s needs a single value, got a list", op)
		}
		if _, ok := value.(map[string]any); ok && op != schema.Equal && op != schema.NotEqual {
			return fmt.Errorf("operator %s needs a scalar value, got an object", op)
		}
	}
	return nil
}

// asList returns the elements of a slice value of any element type.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case nil, string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// numericString parses strings such as "42" for loose comparisons.
func numericString(v any) (float64, bool) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", dateOnlyLayout}

const dateOnlyLayout = "2006-01-02"

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// looseEqual compares values the way a lenient store would: numbers of any
// Go type compare by value, numeric strings equal their number, and times
// compare by instant.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
		if bn, ok := numericString(b); ok {
			return an == bn
		}
		return false
	}
	if _, ok := toNumber(b); ok {
		return looseEqual(b, a)
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			if as == bs {
				return true
			}
			at, aok := toTime(as)
			bt, bok := toTime(bs)
			return aok && bok && at.Equal(bt)
		}
		if bb, ok := b.(bool); ok {
			return as == strconv.FormatBool(bb)
		}
	}
	if _, ok := b.(string); ok {
		if _, ok := a.(bool); ok {
			return looseEqual(b, a)
		}
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := toTime(b)
		return ok && at.Equal(bt)
	}
	if _, ok := b.(time.Time); ok {
		return looseEqual(b, a)
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders a against b. ok is false when the values are not
// comparable, in which case ordering operators do not match. Nil is not
// comparable to anything.
func Compare(a, b any) (cmp int, ok bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if an, aok := numberish(a); aok {
		if bn, bok := numberish(b); bok {
			return compareOrdered(an, bn), true
		}
	}
	at, aok := toTime(a)
	bt, bok := toTime(b)
	if aok && bok {
		return at.Compare(bt), true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func numberish(v any) (float64, bool) {
	if n, ok := toNumber(v); ok {
		return n, true
	}
	if _, isString := v.(string); isString {
		if _, isTime := toTime(v); isTime {
			return 0, false
		}
	}
	return numericString(v)
}

func compareOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// likeToRegexp translates a LIKE pattern ('%' any run, '_' one rune) into
// an anchored regular expression.
func likeToRegexp(pattern string, caseSensitive bool) string {
	var b strings.Builder
	if !caseSensitive {
		b.WriteString("(?i)")
	}
	b.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}
