package condtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sieve/internal/schema"
)

func sampleTree() Node {
	return Intersect(
		NewLeaf("title", schema.Contains, "Found"),
		Union(
			NewLeaf("author:firstName", schema.In, []any{"Isaac", "Edward"}),
			NewNot(NewLeaf("publishedOn", schema.Blank, nil)),
		),
		NewLeaf("pages", schema.ShorterThan, 300),
	)
}

func TestPlain_RoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		tree Node
	}{
		{"leaf", NewLeaf("id", schema.Equal, 2)},
		{"leaf without value", NewLeaf("id", schema.Present, nil)},
		{"nested", sampleTree()},
		{"match none", MatchNone()},
		{"match all", MatchAll()},
		{"not", NewNot(NewLeaf("a", schema.Equal, true))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			back, err := FromPlain(ToPlain(tc.tree))
			require.NoError(t, err)
			assert.Equal(t, tc.tree, back)
		})
	}
}

func TestPlain_Shape(t *testing.T) {
	plain := ToPlain(Union(NewLeaf("a", schema.Equal, 1), NewLeaf("b", schema.Blank, nil)))
	assert.Equal(t, map[string]any{
		"aggregator": "Or",
		"conditions": []any{
			map[string]any{"field": "a", "operator": "equal", "value": 1},
			map[string]any{"field": "b", "operator": "blank"},
		},
	}, plain)

	assert.Nil(t, ToPlain(nil))
}

func TestPlain_JSONRoundTrip(t *testing.T) {
	data, err := MarshalJSON(sampleTree())
	require.NoError(t, err)

	back, err := UnmarshalJSON(data)
	require.NoError(t, err)

	// Numbers come back as float64; compare the re-encoded form.
	again, err := MarshalJSON(back)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestFromPlain_Lenient(t *testing.T) {
	// Go-style operator names and lower-case aggregators parse.
	tree, err := FromPlain(map[string]any{
		"aggregator": "and",
		"conditions": []any{
			map[string]any{"field": "a", "operator": "StartsWith", "value": "x"},
			map[string]any{"field": "b", "operator": "NOT_EQUAL", "value": 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, Intersect(NewLeaf("a", schema.StartsWith, "x"), NewLeaf("b", schema.NotEqual, 1)), tree)

	// A single-condition branch collapses.
	tree, err = FromPlain(map[string]any{
		"aggregator": "Or",
		"conditions": []any{map[string]any{"field": "a", "operator": "equal", "value": 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, NewLeaf("a", schema.Equal, 1), tree)

	// yaml.v2 style maps.
	tree, err = FromPlain(map[any]any{"field": "a", "operator": "present"})
	require.NoError(t, err)
	assert.Equal(t, NewLeaf("a", schema.Present, nil), tree)

	tree, err = FromPlain(nil)
	require.NoError(t, err)
	assert.Nil(t, tree)
}

func TestFromPlain_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		plain any
		path  string
	}{
		{"not an object", "equal", "$"},
		{"unknown shape", map[string]any{"foo": 1}, "$"},
		{"empty field", map[string]any{"field": "", "operator": "equal"}, "$.field"},
		{"unknown operator", map[string]any{"field": "a", "operator": "approximately"}, "$.operator"},
		{"bad aggregator", map[string]any{"aggregator": "Xor", "conditions": []any{}}, "$.aggregator"},
		{"conditions not a list", map[string]any{"aggregator": "And", "conditions": "x"}, "$.conditions"},
		{
			"nested error path",
			map[string]any{"aggregator": "And", "conditions": []any{
				map[string]any{"field": "a", "operator": "equal"},
				map[string]any{"field": "b"},
			}},
			"$.conditions[1].operator",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromPlain(tc.plain)
			require.Error(t, err)
			require.True(t, IsPlainError(err))
			var pe *PlainError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.path, pe.Path)
		})
	}
}
