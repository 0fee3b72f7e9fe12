package condtree

import (
	"fmt"
	"math"
	"time"

	"github.com/roach88/sieve/internal/schema"
)

// ReplaceContext carries what relative rewrites depend on besides the leaf.
type ReplaceContext struct {
	// Timezone is the caller's zone. Day, week, month, quarter and year
	// boundaries are computed in it. Nil means UTC.
	Timezone *time.Location

	// Now is the reference instant. The zero value means time.Now().
	Now time.Time

	// ColumnType is the type of the leaf's column. The resolver sets it
	// before calling a replacer; dates are formatted accordingly.
	ColumnType schema.PrimitiveType
}

func (c ReplaceContext) location() *time.Location {
	if c.Timezone == nil {
		return time.UTC
	}
	return c.Timezone
}

func (c ReplaceContext) now() time.Time {
	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}
	return now.In(c.location())
}

// format renders an instant the way the column stores it.
func (c ReplaceContext) format(t time.Time) string {
	t = t.In(c.location())
	if c.ColumnType == schema.TypeDateonly {
		return t.Format(dateOnlyLayout)
	}
	return t.Format(time.RFC3339)
}

type period int

const (
	day period = iota
	week
	month
	quarter
	year
)

// startOf truncates t to the start of its period in t's location. Weeks
// start on Monday.
func startOf(t time.Time, p period) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch p {
	case week:
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
	case month:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case quarter:
		first := time.Month((int(m)-1)/3*3 + 1)
		return time.Date(y, first, 1, 0, 0, 0, 0, loc)
	case year:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

// ceilDay returns t when it is a midnight and the next midnight otherwise.
func ceilDay(t time.Time) time.Time {
	start := startOf(t, day)
	if start.Equal(t) {
		return t
	}
	return start.AddDate(0, 0, 1)
}

// minus steps t back n periods keeping the wall clock.
func minus(t time.Time, p period, n int) time.Time {
	switch p {
	case week:
		return t.AddDate(0, 0, -7*n)
	case month:
		return t.AddDate(0, -n, 0)
	case quarter:
		return t.AddDate(0, -3*n, 0)
	case year:
		return t.AddDate(-n, 0, 0)
	default:
		return t.AddDate(0, 0, -n)
	}
}

func intValue(l *Leaf) (int, error) {
	n, ok := toNumber(l.Value)
	if !ok || n != math.Trunc(n) {
		return 0, fmt.Errorf("operator %s on %q needs an integer value, got %v", l.Operator, l.Field, l.Value)
	}
	return int(n), nil
}

// compareTo rewrites to a single strict comparison against a computed
// instant.
func compareTo(op schema.Operator, instant func(l *Leaf, now time.Time) (time.Time, error)) *Alternative {
	return &Alternative{
		DependsOn: []schema.Operator{op},
		ForTypes:  dateTypes,
		Replacer: func(l *Leaf, rctx ReplaceContext) (Node, error) {
			t, err := instant(l, rctx.now())
			if err != nil {
				return nil, err
			}
			return l.Override(op, rctx.format(t)), nil
		},
	}
}

// interval rewrites to start <= field < end. The lower bound is itself
// expressed with greater_than_or_equal so the resolver can break it down
// further for stores without it. On date-only columns an end inside a day
// moves to the next midnight so that day stays included.
func interval(bounds func(l *Leaf, now time.Time) (start, end time.Time, err error)) *Alternative {
	return &Alternative{
		DependsOn: []schema.Operator{schema.GreaterThanOrEqual, schema.LessThan},
		ForTypes:  dateTypes,
		Replacer: func(l *Leaf, rctx ReplaceContext) (Node, error) {
			start, end, err := bounds(l, rctx.now())
			if err != nil {
				return nil, err
			}
			if rctx.ColumnType == schema.TypeDateonly {
				end = ceilDay(end)
			}
			return Intersect(
				l.Override(schema.GreaterThanOrEqual, rctx.format(start)),
				l.Override(schema.LessThan, rctx.format(end)),
			), nil
		},
	}
}

// previousPeriod covers the whole period before the current one.
func previousPeriod(p period) *Alternative {
	return interval(func(_ *Leaf, now time.Time) (time.Time, time.Time, error) {
		current := startOf(now, p)
		return minus(current, p, 1), current, nil
	})
}

// periodToDate covers the current period up to now.
func periodToDate(p period) *Alternative {
	return interval(func(_ *Leaf, now time.Time) (time.Time, time.Time, error) {
		return startOf(now, p), now, nil
	})
}

func valueInstant(l *Leaf, _ time.Time) (time.Time, error) {
	t, ok := toTime(l.Value)
	if !ok {
		return time.Time{}, fmt.Errorf("operator %s on %q needs a date value, got %v", l.Operator, l.Field, l.Value)
	}
	return t, nil
}

func nowInstant(_ *Leaf, now time.Time) (time.Time, error) {
	return now, nil
}

func hoursAgo(l *Leaf, now time.Time) (time.Time, error) {
	n, err := intValue(l)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-time.Duration(n) * time.Hour), nil
}

func timeAlternatives() map[schema.Operator][]*Alternative {
	return map[schema.Operator][]*Alternative{
		schema.Before:          {compareTo(schema.LessThan, valueInstant)},
		schema.After:           {compareTo(schema.GreaterThan, valueInstant)},
		schema.Past:            {compareTo(schema.LessThan, nowInstant)},
		schema.Future:          {compareTo(schema.GreaterThan, nowInstant)},
		schema.BeforeXHoursAgo: {compareTo(schema.LessThan, hoursAgo)},
		schema.AfterXHoursAgo:  {compareTo(schema.GreaterThan, hoursAgo)},

		schema.Today: {interval(func(_ *Leaf, now time.Time) (time.Time, time.Time, error) {
			start := startOf(now, day)
			return start, start.AddDate(0, 0, 1), nil
		})},
		schema.Yesterday: {previousPeriod(day)},
		schema.PreviousXDays: {interval(func(l *Leaf, now time.Time) (time.Time, time.Time, error) {
			n, err := intValue(l)
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
			today := startOf(now, day)
			return minus(today, day, n), today, nil
		})},
		schema.PreviousXDaysToDate: {interval(func(l *Leaf, now time.Time) (time.Time, time.Time, error) {
			n, err := intValue(l)
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
			return minus(startOf(now, day), day, n), now, nil
		})},

		schema.PreviousWeek:          {previousPeriod(week)},
		schema.PreviousWeekToDate:    {periodToDate(week)},
		schema.PreviousMonth:         {previousPeriod(month)},
		schema.PreviousMonthToDate:   {periodToDate(month)},
		schema.PreviousQuarter:       {previousPeriod(quarter)},
		schema.PreviousQuarterToDate: {periodToDate(quarter)},
		schema.PreviousYear:          {previousPeriod(year)},
		schema.PreviousYearToDate:    {periodToDate(year)},
	}
}
