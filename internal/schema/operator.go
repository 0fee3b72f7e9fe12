package schema

import (
	"fmt"
	"slices"
	"strings"
)

// Operator is a comparison semantic a condition tree leaf can use.
//
// Operators are pure tags. What they mean is defined by the transform
// table and the in-memory matcher in package condtree, and by whatever a
// native store does when it receives them.
type Operator string

// Equality and membership.
const (
	Equal    Operator = "equal"
	NotEqual Operator = "not_equal"
	In       Operator = "in"
	NotIn    Operator = "not_in"
)

// Presence.
const (
	Blank   Operator = "blank"
	Present Operator = "present"
	Missing Operator = "missing"
)

// Ordering.
const (
	LessThan           Operator = "less_than"
	GreaterThan        Operator = "greater_than"
	LessThanOrEqual    Operator = "less_than_or_equal"
	GreaterThanOrEqual Operator = "greater_than_or_equal"
)

// String patterns.
const (
	Contains     Operator = "contains"
	NotContains  Operator = "not_contains"
	IContains    Operator = "i_contains"
	NotIContains Operator = "not_i_contains"
	StartsWith   Operator = "starts_with"
	IStartsWith  Operator = "i_starts_with"
	EndsWith     Operator = "ends_with"
	IEndsWith    Operator = "i_ends_with"
	Like         Operator = "like"
	ILike        Operator = "i_like"
	Match        Operator = "match"
	LongerThan   Operator = "longer_than"
	ShorterThan  Operator = "shorter_than"
)

// Collection membership.
const (
	IncludesAll  Operator = "includes_all"
	IncludesNone Operator = "includes_none"
)

// Relative time.
const (
	Before                Operator = "before"
	After                 Operator = "after"
	Past                  Operator = "past"
	Future                Operator = "future"
	BeforeXHoursAgo       Operator = "before_x_hours_ago"
	AfterXHoursAgo        Operator = "after_x_hours_ago"
	Today                 Operator = "today"
	Yesterday             Operator = "yesterday"
	PreviousXDays         Operator = "previous_x_days"
	PreviousXDaysToDate   Operator = "previous_x_days_to_date"
	PreviousWeek          Operator = "previous_week"
	PreviousWeekToDate    Operator = "previous_week_to_date"
	PreviousMonth         Operator = "previous_month"
	PreviousMonthToDate   Operator = "previous_month_to_date"
	PreviousQuarter       Operator = "previous_quarter"
	PreviousQuarterToDate Operator = "previous_quarter_to_date"
	PreviousYear          Operator = "previous_year"
	PreviousYearToDate    Operator = "previous_year_to_date"
)

// AllOperators lists every operator in declaration order.
// Iteration over it is deterministic, which keeps widened schemas stable.
var AllOperators = []Operator{
	Equal, NotEqual, In, NotIn,
	Blank, Present, Missing,
	LessThan, GreaterThan, LessThanOrEqual, GreaterThanOrEqual,
	Contains, NotContains, IContains, NotIContains,
	StartsWith, IStartsWith, EndsWith, IEndsWith,
	Like, ILike, Match, LongerThan, ShorterThan,
	IncludesAll, IncludesNone,
	Before, After, Past, Future, BeforeXHoursAgo, AfterXHoursAgo,
	Today, Yesterday, PreviousXDays, PreviousXDaysToDate,
	PreviousWeek, PreviousWeekToDate, PreviousMonth, PreviousMonthToDate,
	PreviousQuarter, PreviousQuarterToDate, PreviousYear, PreviousYearToDate,
}

// UniqueOperators take no value.
var UniqueOperators = NewOperatorSet(
	Blank, Present, Missing, Past, Future, Today, Yesterday,
	PreviousWeek, PreviousWeekToDate, PreviousMonth, PreviousMonthToDate,
	PreviousQuarter, PreviousQuarterToDate, PreviousYear, PreviousYearToDate,
)

// ListOperators take a list value.
var ListOperators = NewOperatorSet(In, NotIn, IncludesAll, IncludesNone)

// IntegerOperators take a whole number (a length, a count of hours or days).
var IntegerOperators = NewOperatorSet(
	LongerThan, ShorterThan, BeforeXHoursAgo, AfterXHoursAgo,
	PreviousXDays, PreviousXDaysToDate,
)

// operatorsByKey indexes operators by their normalized name so both the
// wire form ("starts_with") and the Go-ish form ("StartsWith") parse.
var operatorsByKey = func() map[string]Operator {
	m := make(map[string]Operator, len(AllOperators))
	for _, op := range AllOperators {
		m[normalizeOperatorName(string(op))] = op
	}
	return m
}()

func normalizeOperatorName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", ""))
}

// ParseOperator returns the operator named by name.
// Names are matched ignoring case and underscores.
func ParseOperator(name string) (Operator, error) {
	op, ok := operatorsByKey[normalizeOperatorName(name)]
	if !ok {
		return "", fmt.Errorf("unknown operator %q", name)
	}
	return op, nil
}

// IsValid reports whether op belongs to the closed enumeration.
func (op Operator) IsValid() bool {
	known, ok := operatorsByKey[normalizeOperatorName(string(op))]
	return ok && known == op
}

// String implements fmt.Stringer.
func (op Operator) String() string {
	return string(op)
}

// OperatorSet is a set of operators.
// A nil set is empty and safe to read. Sets are treated as immutable
// values: Union and Clone return fresh sets.
type OperatorSet map[Operator]struct{}

// NewOperatorSet builds a set holding ops.
func NewOperatorSet(ops ...Operator) OperatorSet {
	s := make(OperatorSet, len(ops))
	for _, op := range ops {
		s[op] = struct{}{}
	}
	return s
}

// Has reports whether op is in the set.
func (s OperatorSet) Has(op Operator) bool {
	_, ok := s[op]
	return ok
}

// HasAll reports whether every op is in the set.
func (s OperatorSet) HasAll(ops ...Operator) bool {
	for _, op := range ops {
		if !s.Has(op) {
			return false
		}
	}
	return true
}

// Union returns a new set holding the operators of s and ops.
func (s OperatorSet) Union(ops ...Operator) OperatorSet {
	out := make(OperatorSet, len(s)+len(ops))
	for op := range s {
		out[op] = struct{}{}
	}
	for _, op := range ops {
		out[op] = struct{}{}
	}
	return out
}

// Clone returns a copy of s.
func (s OperatorSet) Clone() OperatorSet {
	return s.Union()
}

// Sorted returns the operators in AllOperators order.
func (s OperatorSet) Sorted() []Operator {
	out := make([]Operator, 0, len(s))
	for _, op := range AllOperators {
		if s.Has(op) {
			out = append(out, op)
		}
	}
	return out
}

// Strings returns the wire names in AllOperators order.
func (s OperatorSet) Strings() []string {
	ops := s.Sorted()
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = string(op)
	}
	return out
}

// Equal reports whether both sets hold the same operators.
func (s OperatorSet) Equal(other OperatorSet) bool {
	return len(s) == len(other) && s.HasAll(other.Sorted()...)
}

// commonOperators are allowed on every filterable column type.
var commonOperators = []Operator{Equal, NotEqual, In, NotIn, Present, Blank, Missing}

var orderingOperators = []Operator{LessThan, GreaterThan, LessThanOrEqual, GreaterThanOrEqual}

var stringOperators = []Operator{
	Contains, NotContains, IContains, NotIContains,
	StartsWith, IStartsWith, EndsWith, IEndsWith,
	Like, ILike, Match, LongerThan, ShorterThan,
}

var timeOperators = []Operator{
	Before, After, Past, Future, BeforeXHoursAgo, AfterXHoursAgo,
	Today, Yesterday, PreviousXDays, PreviousXDaysToDate,
	PreviousWeek, PreviousWeekToDate, PreviousMonth, PreviousMonthToDate,
	PreviousQuarter, PreviousQuarterToDate, PreviousYear, PreviousYearToDate,
}

// AllowedOperators returns the operators that make sense for a column type.
// Emulating a whole field only considers these.
func AllowedOperators(t PrimitiveType) OperatorSet {
	ops := slices.Clone(commonOperators)
	switch t {
	case TypeString:
		ops = append(ops, orderingOperators...)
		ops = append(ops, stringOperators...)
	case TypeNumber, TypeTimeonly:
		ops = append(ops, orderingOperators...)
	case TypeDate, TypeDateonly:
		ops = append(ops, orderingOperators...)
		ops = append(ops, timeOperators...)
	case TypeUUID:
		ops = append(ops, Like, Match)
	case TypeJSON:
		ops = append(ops, IncludesAll, IncludesNone)
	case TypeBoolean, TypeEnum:
	default:
		ops = []Operator{Equal, NotEqual, Present, Blank, Missing}
	}
	return NewOperatorSet(ops...)
}
