package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/decorator"
	"github.com/roach88/sieve/internal/schema"
)

func sampleTrace() *QueryTrace {
	return &QueryTrace{
		Name:       "q",
		Collection: "books",
		Calls: []decorator.Call{
			{Collection: "persons", Rows: 2},
			{Collection: "books", Filter: condtree.NewLeaf("author:id", schema.Equal, int64(2)), Rows: 1},
		},
		IDs: []any{int64(2)},
	}
}

func TestCheckQuery(t *testing.T) {
	testCases := []struct {
		name   string
		expect Expectation
		check  string
	}{
		{name: "nothing expected", expect: Expectation{}},
		{name: "ids with other int width", expect: Expectation{IDs: []any{2}}},
		{name: "wrong ids", expect: Expectation{IDs: []any{1}}, check: "ids"},
		{name: "empty ids", expect: Expectation{IDs: []any{}}, check: "ids"},
		{name: "count", expect: Expectation{Count: intp(1)}},
		{name: "wrong count", expect: Expectation{Count: intp(0)}, check: "count"},
		{
			name:   "native",
			expect: Expectation{Native: map[string]any{"field": "author:id", "operator": "equal", "value": 2.0}},
		},
		{
			name:   "wrong native",
			expect: Expectation{Native: map[string]any{"field": "author:id", "operator": "in", "value": []any{2}}},
			check:  "native",
		},
		{name: "calls", expect: Expectation{Calls: intp(2)}},
		{name: "wrong calls", expect: Expectation{Calls: intp(1)}, check: "calls"},
		{name: "missing error", expect: Expectation{Error: "VALIDATION"}, check: "error"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := checkQuery(Query{Name: "q", Expect: tc.expect}, sampleTrace())
			if tc.check == "" {
				require.NoError(t, err)
				return
			}
			var ae *AssertionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tc.check, ae.Check)
		})
	}
}

func TestCheckQuery_Errors(t *testing.T) {
	trace := &QueryTrace{Name: "q", Collection: "books", ErrorCode: "VALIDATION", Error: "VALIDATION: bad"}

	require.NoError(t, checkQuery(Query{Name: "q", Expect: Expectation{Error: "VALIDATION"}}, trace))

	err := checkQuery(Query{Name: "q", Expect: Expectation{Error: "CONFIGURATION"}}, trace)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Actual: VALIDATION: bad")

	err = checkQuery(Query{Name: "q"}, trace)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: no error")
}

func TestAssertionError_ListsCalls(t *testing.T) {
	err := checkQuery(Query{Name: "q", Expect: Expectation{Calls: intp(5)}}, sampleTrace())
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "Native calls:")
	assert.Contains(t, msg, "[1] persons <all> (2 rows)")
	assert.Contains(t, msg, "[2] books")
}
