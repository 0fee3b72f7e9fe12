package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/wire"
)

// AssertionError is returned when an expectation fails.
// It includes the native calls of the query to help debug the failure.
type AssertionError struct {
	Query    string
	Check    string
	Expected string
	Actual   string
	Trace    *QueryTrace
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Expectation failed: %s %s\n", e.Query, e.Check)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if e.Trace != nil && len(e.Trace.Calls) > 0 {
		fmt.Fprintf(&buf, "\nNative calls:\n")
		for i, call := range e.Trace.Calls {
			fmt.Fprintf(&buf, "  [%d] %s %s (%d rows)\n", i+1, call.Collection, condtree.Format(call.Filter), call.Rows)
		}
	}
	return buf.String()
}

// checkQuery compares a trace with the query's expectations. The first
// failing check is reported.
func checkQuery(q Query, trace *QueryTrace) error {
	fail := func(check, expected, actual string) error {
		return &AssertionError{Query: q.Name, Check: check, Expected: expected, Actual: actual, Trace: trace}
	}
	want := q.Expect

	if want.Error != "" {
		if trace.ErrorCode != want.Error {
			return fail("error", want.Error, describeOutcome(trace))
		}
	} else if trace.ErrorCode != "" {
		return fail("error", "no error", trace.Error)
	}

	if want.IDs != nil {
		expected, err := canonical(want.IDs)
		if err != nil {
			return fmt.Errorf("%s: expect.ids: %w", q.Name, err)
		}
		actual, err := canonical(trace.IDs)
		if err != nil {
			return fmt.Errorf("%s: ids: %w", q.Name, err)
		}
		if expected != actual {
			return fail("ids", expected, actual)
		}
	}

	if want.Count != nil && len(trace.IDs) != *want.Count {
		return fail("count", fmt.Sprint(*want.Count), fmt.Sprint(len(trace.IDs)))
	}

	if want.Native != nil {
		tree, err := condtree.FromPlain(want.Native)
		if err != nil {
			return fmt.Errorf("%s: expect.native: %w", q.Name, err)
		}
		expected, err := wire.MarshalCanonical(tree)
		if err != nil {
			return fmt.Errorf("%s: expect.native: %w", q.Name, err)
		}
		actual, err := wire.MarshalCanonical(trace.NativeFilter())
		if err != nil {
			return fmt.Errorf("%s: native filter: %w", q.Name, err)
		}
		if string(expected) != string(actual) {
			return fail("native", string(expected), string(actual))
		}
	}

	if want.Calls != nil && len(trace.Calls) != *want.Calls {
		return fail("calls", fmt.Sprint(*want.Calls), fmt.Sprint(len(trace.Calls)))
	}
	return nil
}

func describeOutcome(trace *QueryTrace) string {
	if trace.ErrorCode == "" {
		return fmt.Sprintf("success with %d records", len(trace.IDs))
	}
	return trace.Error
}

func canonical(v any) (string, error) {
	b, err := wire.MarshalCanonicalValue(v)
	return string(b), err
}
