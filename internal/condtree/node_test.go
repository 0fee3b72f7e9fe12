package condtree

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sieve/internal/schema"
)

func TestNewBranch_RequiresTwoConditions(t *testing.T) {
	_, err := NewBranch(And, NewLeaf("a", schema.Equal, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least two")

	_, err = NewBranch("Xor", NewLeaf("a", schema.Equal, 1), NewLeaf("b", schema.Equal, 2))
	require.Error(t, err)

	b, err := NewBranch(Or, NewLeaf("a", schema.Equal, 1), NewLeaf("b", schema.Equal, 2))
	require.NoError(t, err)
	assert.Len(t, b.Conditions, 2)
}

func TestReplaceLeafs_DoesNotMutateReceiver(t *testing.T) {
	original := Intersect(
		NewLeaf("a", schema.Equal, 1),
		NewNot(NewLeaf("b", schema.Contains, "x")),
	)
	before := ToPlain(original)

	replaced, err := original.ReplaceLeafs(func(l *Leaf) (Node, error) {
		return l.Override(schema.NotEqual, "changed"), nil
	})
	require.NoError(t, err)

	assert.Equal(t, before, ToPlain(original))
	assert.NotEqual(t, before, ToPlain(replaced))

	// Structure is preserved.
	b := replaced.(*Branch)
	assert.Equal(t, And, b.Aggregator)
	_, isNot := b.Conditions[1].(*Not)
	assert.True(t, isNot)
}

func TestReplaceLeafs_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	tree := Union(NewLeaf("a", schema.Equal, 1), NewLeaf("b", schema.Equal, 2))

	_, err := tree.ReplaceLeafs(func(l *Leaf) (Node, error) {
		if l.Field == "b" {
			return nil, boom
		}
		return l, nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestReplaceLeafs_NilResultIsAnError(t *testing.T) {
	_, err := NewLeaf("a", schema.Equal, 1).ReplaceLeafs(func(*Leaf) (Node, error) { return nil, nil })
	assert.Error(t, err)
}

func TestReplaceLeafsContext_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tree := Union(NewLeaf("a", schema.Equal, 1), NewLeaf("b", schema.Equal, 2))

	visited := 0
	_, err := ReplaceLeafsContext(ctx, tree, func(_ context.Context, l *Leaf) (Node, error) {
		visited++
		cancel()
		return l, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, visited)
}

func TestEverythingAndSome(t *testing.T) {
	tree := Intersect(NewLeaf("a", schema.Equal, 1), NewLeaf("b", schema.In, []any{1}))

	assert.True(t, tree.Everything(func(l *Leaf) bool { return l.Field != "" }))
	assert.False(t, tree.Everything(func(l *Leaf) bool { return l.Operator == schema.Equal }))
	assert.True(t, tree.Some(func(l *Leaf) bool { return l.Operator == schema.In }))
	assert.False(t, tree.Some(func(l *Leaf) bool { return l.Field == "c" }))

	assert.True(t, MatchNone().Everything(func(*Leaf) bool { return false }))
	assert.False(t, MatchAll().Some(func(*Leaf) bool { return true }))
}

func TestNestUnnest(t *testing.T) {
	tree := Union(NewLeaf("firstName", schema.Equal, "Isaac"), NewLeaf("id", schema.Equal, 2))

	nested := Nest(tree, "author")
	assert.Equal(t, schema.Projection{"author:firstName", "author:id"}, Projection(nested))

	unnested, prefix, err := Unnest(nested)
	require.NoError(t, err)
	assert.Equal(t, "author", prefix)
	assert.Equal(t, tree, unnested)

	_, _, err = Unnest(tree)
	assert.ErrorIs(t, err, ErrCannotUnnest)

	mixed := Union(NewLeaf("author:a", schema.Equal, 1), NewLeaf("publisher:b", schema.Equal, 1))
	_, _, err = Unnest(mixed)
	assert.ErrorIs(t, err, ErrCannotUnnest)
}

func TestReplaceFields_Nested(t *testing.T) {
	tree := Intersect(
		NewLeaf("a", schema.Equal, 1),
		NewNot(Union(NewLeaf("b", schema.Blank, nil), NewLeaf("c", schema.In, []any{1, 2}))),
	)
	out := ReplaceFields(tree, strings.ToUpper)

	expected := Intersect(
		NewLeaf("A", schema.Equal, 1),
		NewNot(Union(NewLeaf("B", schema.Blank, nil), NewLeaf("C", schema.In, []any{1, 2}))),
	)
	assert.Equal(t, expected, out)
	assert.Equal(t, NewLeaf("a", schema.Equal, 1), tree.(*Branch).Conditions[0], "input is not mutated")
	assert.Nil(t, ReplaceFields(nil, strings.ToUpper))
	assert.Nil(t, Nest(nil, "author"))
}

func TestProjection_Dedupes(t *testing.T) {
	tree := Intersect(
		NewLeaf("title", schema.Contains, "Found"),
		NewLeaf("title", schema.ShorterThan, 11),
		NewLeaf("author:id", schema.Equal, 1),
	)
	assert.Equal(t, schema.Projection{"title", "author:id"}, Projection(tree))
	assert.Empty(t, Projection(nil))
}

func TestFormat(t *testing.T) {
	tree := Intersect(
		NewLeaf("a", schema.Equal, 1),
		Union(NewLeaf("b", schema.Blank, nil), NewNot(NewLeaf("c", schema.Contains, "x"))),
	)
	assert.Equal(t, "a equal 1 AND (b blank OR NOT (c contains x))", Format(tree))
	assert.Equal(t, "<none>", Format(MatchNone()))
	assert.Equal(t, "<all>", Format(MatchAll()))
}
