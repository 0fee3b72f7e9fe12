package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/decorator"
	"github.com/roach88/sieve/internal/emulate"
	"github.com/roach88/sieve/internal/schema"
	"github.com/roach88/sieve/internal/testutil"
)

func newPipeline(t *testing.T) *Pipeline {
	t.Helper()
	clock := testutil.NewFixedClock(testutil.DefaultNow)
	return Build(testutil.NewLibrary(t, clock), WithJournal(&decorator.Journal{}), WithClock(clock))
}

func explain(t *testing.T, p *Pipeline, collection string, tree condtree.Node) *Explanation {
	t.Helper()
	e, err := p.Explain(context.Background(), testutil.Caller, collection, &datasource.Filter{ConditionTree: tree}, schema.Projection{"id"})
	require.NoError(t, err)
	return e
}

func recordIDs(records []schema.Record) []any {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = r["id"]
	}
	return out
}

func TestPipeline_EquivalenceRewritesToNative(t *testing.T) {
	p := newPipeline(t)

	e := explain(t, p, "books", condtree.NewLeaf("title", schema.StartsWith, "Foun"))
	assert.Equal(t, condtree.NewLeaf("title", schema.Like, "Foun%"), e.NativeFilter())
	assert.Equal(t, []any{2}, recordIDs(e.Records))
	assert.Len(t, e.Calls, 1)
}

func TestPipeline_EqualThroughIn(t *testing.T) {
	p := newPipeline(t)

	e := explain(t, p, "books", condtree.NewLeaf("title", schema.Equal, "Papillon"))
	assert.Equal(t, condtree.NewLeaf("title", schema.In, []any{"Papillon"}), e.NativeFilter())
	assert.Equal(t, []any{3}, recordIDs(e.Records))
}

func TestPipeline_RelativeTimeUsesClock(t *testing.T) {
	p := newPipeline(t)

	e := explain(t, p, "books", condtree.NewLeaf("publishedAt", schema.Today, nil))
	expected := condtree.Intersect(
		condtree.Union(
			condtree.NewLeaf("publishedAt", schema.GreaterThan, "2024-03-14T00:00:00Z"),
			condtree.NewLeaf("publishedAt", schema.Equal, "2024-03-14T00:00:00Z"),
		),
		condtree.NewLeaf("publishedAt", schema.LessThan, "2024-03-15T00:00:00Z"),
	)
	assert.Equal(t, expected, e.NativeFilter())
	assert.Equal(t, []any{3}, recordIDs(e.Records))
}

func TestPipeline_EmulationBelowEquivalence(t *testing.T) {
	p := newPipeline(t)
	persons, err := p.Emulation("persons")
	require.NoError(t, err)
	require.NoError(t, persons.EmulateFieldOperator("firstName", schema.StartsWith))
	p.Freeze()

	e := explain(t, p, "persons", condtree.NewLeaf("firstName", schema.StartsWith, "Isa"))
	assert.Equal(t, []any{2}, recordIDs(e.Records))
	require.Len(t, e.Calls, 2)
	assert.Nil(t, e.Calls[0].Filter)
	assert.Equal(t, condtree.NewLeaf("id", schema.Equal, 2), e.NativeFilter())
}

func TestPipeline_SchemaIsWidened(t *testing.T) {
	p := newPipeline(t)
	persons, err := p.Emulation("persons")
	require.NoError(t, err)
	require.NoError(t, persons.EmulateFieldOperator("firstName", schema.StartsWith))

	top, err := p.Collection("persons")
	require.NoError(t, err)
	ops := top.Schema().Column("firstName").FilterOperators
	assert.True(t, ops.HasAll(schema.Equal, schema.In, schema.Blank, schema.Missing, schema.StartsWith))
	assert.False(t, ops.Has(schema.Contains), "contains needs i_like, which firstName lacks")

	native, err := p.Native().GetCollection("persons")
	require.NoError(t, err)
	assert.True(t, native.Schema().Column("firstName").FilterOperators.Equal(schema.NewOperatorSet(schema.Equal)))
}

func TestPipeline_UnresolvableOperatorFails(t *testing.T) {
	p := newPipeline(t)

	_, err := p.List(context.Background(), testutil.Caller, "persons",
		&datasource.Filter{ConditionTree: condtree.NewLeaf("firstName", schema.IStartsWith, "isa")}, nil)
	require.Error(t, err)
	assert.True(t, datasource.IsUnsupportedOperatorError(err))
	calls := p.Journal().Calls()
	require.Len(t, calls, 1, "the leaf is forwarded as is and rejected by the store")
	assert.Equal(t, condtree.NewLeaf("firstName", schema.IStartsWith, "isa"), calls[0].Filter)
	assert.Zero(t, calls[0].Rows)
}

func TestPipeline_RelationPath(t *testing.T) {
	p := newPipeline(t)

	e := explain(t, p, "books", condtree.NewLeaf("author:firstName", schema.In, []any{"Edward"}))
	assert.Equal(t, condtree.NewLeaf("author:firstName", schema.Equal, "Edward"), e.NativeFilter())
	assert.Equal(t, []any{1, 3}, recordIDs(e.Records))
}

func TestPipeline_ExplainNeedsJournal(t *testing.T) {
	p := Build(testutil.NewLibrary(t, nil))
	assert.Nil(t, p.Journal())

	_, err := p.Explain(context.Background(), testutil.Caller, "books", nil, nil)
	require.Error(t, err)
}

func TestPipeline_UnknownCollection(t *testing.T) {
	p := newPipeline(t)

	_, err := p.List(context.Background(), testutil.Caller, "movies", nil, nil)
	require.ErrorIs(t, err, datasource.ErrUnknownCollection)
}

func TestErrorCode(t *testing.T) {
	testCases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{datasource.NewUnsupportedOperatorError("books", "title", schema.Match), "UNSUPPORTED_OPERATOR"},
		{fmt.Errorf("wrapped: %w", datasource.NewConfigurationError("books", "", "bad")), "CONFIGURATION"},
		{&emulate.ReplacementCycleError{Chain: []string{"a", "a"}}, emulate.ErrCodeReplacementCycle},
		{&emulate.FallbackLimitError{Collection: "books", Limit: 1}, emulate.ErrCodeFallbackLimit},
		{context.Canceled, "CANCELED"},
		{errors.New("disk on fire"), "ERROR"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, ErrorCode(tc.err), "%v", tc.err)
	}
}
