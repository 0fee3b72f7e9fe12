package condtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sieve/internal/schema"
)

var inversionRecords = []schema.Record{
	{"n": 1, "s": "Edward"},
	{"n": 5, "s": "Isaac"},
	{"n": 9.5, "s": ""},
	{"n": nil, "s": nil},
	{"n": "5", "s": "isaac asimov"},
	{},
}

func TestInverse_Involution(t *testing.T) {
	types := TypeMap{"n": schema.TypeNumber, "s": schema.TypeString}

	testCases := []*Leaf{
		NewLeaf("n", schema.Equal, 5),
		NewLeaf("n", schema.NotEqual, 5),
		NewLeaf("n", schema.In, []any{1, 9.5}),
		NewLeaf("n", schema.NotIn, []any{1, 9.5}),
		NewLeaf("n", schema.LessThan, 5),
		NewLeaf("n", schema.GreaterThan, 5),
		NewLeaf("n", schema.LessThanOrEqual, 5),
		NewLeaf("n", schema.GreaterThanOrEqual, 5),
		NewLeaf("n", schema.Blank, nil),
		NewLeaf("n", schema.Present, nil),
		NewLeaf("s", schema.Blank, nil),
		NewLeaf("s", schema.Present, nil),
		NewLeaf("s", schema.Contains, "saa"),
		NewLeaf("s", schema.NotContains, "saa"),
		NewLeaf("s", schema.IContains, "ISAAC"),
		NewLeaf("s", schema.NotIContains, "ISAAC"),
	}

	for _, leaf := range testCases {
		t.Run(leaf.String(), func(t *testing.T) {
			once, err := leaf.Inverse()
			require.NoError(t, err)
			twice, err := once.Inverse()
			require.NoError(t, err)

			for _, rec := range inversionRecords {
				want, err := leaf.Match(rec, types, ReplaceContext{})
				require.NoError(t, err)
				got, err := twice.Match(rec, types, ReplaceContext{})
				require.NoError(t, err)
				assert.Equal(t, want, got, "record %v", rec)
			}
		})
	}
}

func TestInverse_ComplementsOnComparableValues(t *testing.T) {
	records := []schema.Record{{"n": 1}, {"n": 5}, {"n": 7}}
	for _, leaf := range []*Leaf{
		NewLeaf("n", schema.Equal, 5),
		NewLeaf("n", schema.LessThan, 5),
		NewLeaf("n", schema.GreaterThanOrEqual, 5),
		NewLeaf("n", schema.In, []any{1, 7}),
	} {
		inv, err := leaf.Inverse()
		require.NoError(t, err)
		for _, rec := range records {
			a, err := leaf.Match(rec, nil, ReplaceContext{})
			require.NoError(t, err)
			b, err := inv.Match(rec, nil, ReplaceContext{})
			require.NoError(t, err)
			assert.NotEqual(t, a, b, "%s on %v", leaf, rec)
		}
	}
}

func TestInverse_Shapes(t *testing.T) {
	lt, err := NewLeaf("n", schema.LessThan, 5).Inverse()
	require.NoError(t, err)
	assert.Equal(t, Union(NewLeaf("n", schema.Equal, 5), NewLeaf("n", schema.GreaterThan, 5)), lt)

	branch, err := Intersect(NewLeaf("a", schema.Equal, 1), NewLeaf("b", schema.In, []any{2})).Inverse()
	require.NoError(t, err)
	assert.Equal(t, Union(NewLeaf("a", schema.NotEqual, 1), NewLeaf("b", schema.NotIn, []any{2})), branch)

	inner := NewLeaf("a", schema.Before, "2024-01-01")
	not, err := NewNot(inner).Inverse()
	require.NoError(t, err)
	assert.Same(t, inner, not)

	none, err := MatchNone().Inverse()
	require.NoError(t, err)
	assert.True(t, IsMatchAll(none))
}

func TestInverse_UnsupportedOperator(t *testing.T) {
	_, err := NewLeaf("d", schema.Before, "2024-01-01").Inverse()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, schema.Before, opErr.Operator)

	// The failure bubbles out of branches.
	_, err = Union(NewLeaf("a", schema.Equal, 1), NewLeaf("d", schema.Today, nil)).Inverse()
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}
