package emulate

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/decorator"
	"github.com/roach88/sieve/internal/memstore"
	"github.com/roach88/sieve/internal/schema"
)

var caller = &datasource.Caller{ID: "test"}

func idColumn() *schema.ColumnSchema {
	return &schema.ColumnSchema{
		ColumnType:      schema.TypeNumber,
		FilterOperators: schema.NewOperatorSet(schema.Equal, schema.In),
		IsPrimaryKey:    true,
	}
}

func stringColumn(ops ...schema.Operator) *schema.ColumnSchema {
	return &schema.ColumnSchema{ColumnType: schema.TypeString, FilterOperators: schema.NewOperatorSet(ops...)}
}

// fixture builds memstore <- recorder <- emulate with persons and books.
type fixture struct {
	journal *decorator.Journal
	ds      *decorator.DataSource[*Collection]
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := memstore.New()
	_, err := store.AddCollection("persons", schema.CollectionSchema{Fields: map[string]schema.FieldSchema{
		"id":        idColumn(),
		"firstName": stringColumn(schema.Equal),
	}},
		schema.Record{"id": 1, "firstName": "Edward"},
		schema.Record{"id": 2, "firstName": "Isaac"},
	)
	require.NoError(t, err)
	_, err = store.AddCollection("books", schema.CollectionSchema{Fields: map[string]schema.FieldSchema{
		"id":       idColumn(),
		"title":    stringColumn(schema.In),
		"authorId": &schema.ColumnSchema{ColumnType: schema.TypeNumber, FilterOperators: schema.NewOperatorSet(schema.Equal)},
		"author": &schema.RelationSchema{
			Type:              schema.ManyToOne,
			ForeignCollection: "persons",
			ForeignKey:        "authorId",
			OriginKey:         "id",
		},
	}},
		schema.Record{"id": 1, "title": "Beat the dealer", "authorId": 1},
		schema.Record{"id": 2, "title": "Foundation", "authorId": 2},
		schema.Record{"id": 3, "title": "Papillon", "authorId": 1},
	)
	require.NoError(t, err)

	journal := &decorator.Journal{}
	return &fixture{journal: journal, ds: New(decorator.NewRecording(store, journal), opts...)}
}

func (f *fixture) collection(t *testing.T, name string) *Collection {
	t.Helper()
	c, err := f.ds.Collection(name)
	require.NoError(t, err)
	return c
}

func list(t *testing.T, c *Collection, tree condtree.Node) ([]schema.Record, error) {
	t.Helper()
	return c.List(context.Background(), caller, &datasource.Filter{ConditionTree: tree}, schema.Projection{"id"})
}

func ids(records []schema.Record) []any {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = r["id"]
	}
	return out
}

func TestEmulate_FallbackFiltersInMemory(t *testing.T) {
	f := newFixture(t)
	persons := f.collection(t, "persons")
	require.NoError(t, persons.EmulateFieldOperator("firstName", schema.StartsWith))

	records, err := list(t, persons, condtree.NewLeaf("firstName", schema.StartsWith, "Isa"))
	require.NoError(t, err)
	assert.Equal(t, []any{2}, ids(records))

	calls := f.journal.Calls()
	require.Len(t, calls, 2)
	assert.Nil(t, calls[0].Filter, "fallback lists without a condition")
	assert.Equal(t, 2, calls[0].Rows)
	assert.Equal(t, condtree.NewLeaf("id", schema.Equal, 2), calls[1].Filter)
}

func TestEmulate_FallbackWithNoMatchIsMatchNone(t *testing.T) {
	f := newFixture(t)
	persons := f.collection(t, "persons")
	require.NoError(t, persons.EmulateFieldOperator("firstName", schema.StartsWith))

	records, err := list(t, persons, condtree.NewLeaf("firstName", schema.StartsWith, "Zed"))
	require.NoError(t, err)
	assert.Empty(t, records)

	calls := f.journal.Calls()
	require.Len(t, calls, 2)
	assert.True(t, condtree.IsMatchNone(calls[1].Filter))
}

func TestEmulate_ComposedReplacement(t *testing.T) {
	f := newFixture(t)
	books := f.collection(t, "books")
	require.NoError(t, books.EmulateFieldOperator("title", schema.Contains))
	require.NoError(t, books.EmulateFieldOperator("title", schema.ShorterThan))
	require.NoError(t, books.ReplaceFieldOperator("title", schema.Equal, Replace(
		func(_ context.Context, value any, _ *datasource.Caller) (condtree.Node, error) {
			s := value.(string)
			return condtree.Intersect(
				condtree.NewLeaf("title", schema.Contains, s),
				condtree.NewLeaf("title", schema.ShorterThan, len(s)+1),
			), nil
		},
	)))

	records, err := list(t, books, condtree.NewLeaf("title", schema.Equal, "Foundation"))
	require.NoError(t, err)
	assert.Equal(t, []any{2}, ids(records))

	for _, call := range f.journal.Calls() {
		if call.Filter == nil {
			continue
		}
		call.Filter.ForEachLeaf(func(l *condtree.Leaf) {
			assert.NotEqual(t, "title", l.Field, "title never reaches the store: %s", l)
		})
	}
}

func TestEmulate_ReplaceFuncNilTreeFallsBack(t *testing.T) {
	f := newFixture(t)
	books := f.collection(t, "books")
	require.NoError(t, books.ReplaceFieldOperator("title", schema.EndsWith, Replace(
		func(context.Context, any, *datasource.Caller) (condtree.Node, error) { return nil, nil },
	)))

	records, err := list(t, books, condtree.NewLeaf("title", schema.EndsWith, "lon"))
	require.NoError(t, err)
	assert.Equal(t, []any{3}, ids(records))
}

func TestEmulate_ReplacementCycle(t *testing.T) {
	f := newFixture(t)
	books := f.collection(t, "books")
	rewriteTo := func(op schema.Operator) Handler {
		return Replace(func(_ context.Context, value any, _ *datasource.Caller) (condtree.Node, error) {
			return condtree.NewLeaf("title", op, value), nil
		})
	}
	require.NoError(t, books.ReplaceFieldOperator("title", schema.StartsWith, rewriteTo(schema.Like)))
	require.NoError(t, books.ReplaceFieldOperator("title", schema.Like, rewriteTo(schema.StartsWith)))

	_, err := list(t, books, condtree.NewLeaf("title", schema.StartsWith, "Found"))
	require.Error(t, err)
	assert.True(t, IsReplacementCycleError(err))

	var cycle *ReplacementCycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{
		"books.title[starts_with]",
		"books.title[like]",
		"books.title[starts_with]",
	}, cycle.Chain)
	assert.Contains(t, err.Error(), "books.title[starts_with] -> books.title[like] -> books.title[starts_with]")
	assert.Empty(t, f.journal.Calls(), "nothing reaches the store")
}

func TestEmulate_HandlerOutputMustBeSupported(t *testing.T) {
	f := newFixture(t)
	books := f.collection(t, "books")
	require.NoError(t, books.ReplaceFieldOperator("title", schema.StartsWith, Replace(
		func(_ context.Context, value any, _ *datasource.Caller) (condtree.Node, error) {
			return condtree.NewLeaf("title", schema.Like, value.(string)+"%"), nil
		},
	)))

	_, err := list(t, books, condtree.NewLeaf("title", schema.StartsWith, "Found"))
	require.Error(t, err)
	assert.True(t, datasource.IsUnsupportedOperatorError(err))
}

func TestEmulate_HandlerErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	books := f.collection(t, "books")
	require.NoError(t, books.ReplaceFieldOperator("title", schema.StartsWith, Replace(
		func(context.Context, any, *datasource.Caller) (condtree.Node, error) {
			return nil, assert.AnError
		},
	)))

	_, err := list(t, books, condtree.NewLeaf("title", schema.StartsWith, "Found"))
	require.ErrorIs(t, err, assert.AnError)
}

func TestEmulate_RelationDelegatesToTarget(t *testing.T) {
	f := newFixture(t)
	persons := f.collection(t, "persons")
	books := f.collection(t, "books")
	require.NoError(t, persons.EmulateFieldOperator("firstName", schema.StartsWith))

	records, err := list(t, books, condtree.NewLeaf("author:firstName", schema.StartsWith, "Isa"))
	require.NoError(t, err)
	assert.Equal(t, []any{2}, ids(records))

	calls := f.journal.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "persons", calls[0].Collection)
	assert.Equal(t, "books", calls[1].Collection)
	assert.Equal(t, condtree.NewLeaf("author:id", schema.Equal, 2), calls[1].Filter)
}

func TestEmulate_UnregisteredLeavesPassThrough(t *testing.T) {
	f := newFixture(t)
	persons := f.collection(t, "persons")

	tree := condtree.NewLeaf("firstName", schema.Equal, "Edward")
	refined, err := persons.RefineFilter(context.Background(), caller, &datasource.Filter{ConditionTree: tree})
	require.NoError(t, err)
	assert.Same(t, tree, refined.ConditionTree)
}

func TestEmulate_NilFilter(t *testing.T) {
	f := newFixture(t)
	persons := f.collection(t, "persons")

	refined, err := persons.RefineFilter(context.Background(), caller, nil)
	require.NoError(t, err)
	assert.Nil(t, refined)
}

func TestEmulate_SchemaAdvertisesRegisteredOperators(t *testing.T) {
	f := newFixture(t)
	persons := f.collection(t, "persons")
	require.NoError(t, persons.EmulateFieldOperator("firstName", schema.StartsWith))

	got := persons.Schema().Column("firstName").FilterOperators
	assert.True(t, got.HasAll(schema.Equal, schema.StartsWith))
	assert.False(t, persons.Child().Schema().Column("firstName").FilterOperators.Has(schema.StartsWith),
		"child schema is not mutated")
}

func TestEmulate_EmulateFieldFiltering(t *testing.T) {
	f := newFixture(t)
	persons := f.collection(t, "persons")
	require.NoError(t, persons.EmulateFieldFiltering("firstName"))

	got := persons.Schema().Column("firstName").FilterOperators
	assert.True(t, got.Equal(schema.AllowedOperators(schema.TypeString)))

	records, err := list(t, persons, condtree.NewLeaf("firstName", schema.IContains, "WAR"))
	require.NoError(t, err)
	assert.Equal(t, []any{1}, ids(records))
}

func TestEmulate_ConfigurationErrors(t *testing.T) {
	store := memstore.New()
	_, err := store.AddCollection("tags", schema.CollectionSchema{Fields: map[string]schema.FieldSchema{
		"id":   &schema.ColumnSchema{ColumnType: schema.TypeNumber, FilterOperators: schema.NewOperatorSet(schema.Equal), IsPrimaryKey: true},
		"name": stringColumn(schema.Equal),
	}})
	require.NoError(t, err)
	tags, err := New(store).Collection("tags")
	require.NoError(t, err)

	err = tags.EmulateFieldOperator("name", schema.Contains)
	require.Error(t, err)
	assert.True(t, datasource.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "primary key")

	f := newFixture(t)
	books := f.collection(t, "books")

	testCases := []struct {
		name     string
		field    string
		op       schema.Operator
		contains string
	}{
		{name: "relation", field: "author", op: schema.Equal, contains: "relation"},
		{name: "missing field", field: "isbn", op: schema.Equal, contains: "not found"},
		{name: "unknown operator", field: "title", op: schema.Operator("resembles"), contains: "unknown operator"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := books.EmulateFieldOperator(tc.field, tc.op)
			require.Error(t, err)
			assert.True(t, datasource.IsConfigurationError(err))
			assert.Contains(t, err.Error(), tc.contains)
		})
	}
}

func TestEmulate_FreezeRejectsRegistration(t *testing.T) {
	f := newFixture(t)
	Freeze(f.ds)

	err := f.collection(t, "books").EmulateFieldOperator("title", schema.Contains)
	require.Error(t, err)
	assert.True(t, datasource.IsConfigurationError(err))
	assert.True(t, strings.Contains(err.Error(), "frozen"))
}

func TestEmulate_FallbackRowCap(t *testing.T) {
	f := newFixture(t, WithMaxFallbackRows(2))
	books := f.collection(t, "books")
	persons := f.collection(t, "persons")
	require.NoError(t, books.EmulateFieldOperator("title", schema.Contains))
	require.NoError(t, persons.EmulateFieldOperator("firstName", schema.Contains))

	_, err := list(t, books, condtree.NewLeaf("title", schema.Contains, "o"))
	require.Error(t, err)
	assert.True(t, IsFallbackLimitError(err))

	var limit *FallbackLimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, "books", limit.Collection)
	assert.Equal(t, 2, limit.Limit)

	records, err := list(t, persons, condtree.NewLeaf("firstName", schema.Contains, "ISA"))
	require.NoError(t, err, "two persons fit under the cap")
	assert.Equal(t, []any{2}, ids(records))
}

func TestEmulate_ContextCanceled(t *testing.T) {
	f := newFixture(t)
	persons := f.collection(t, "persons")
	require.NoError(t, persons.EmulateFieldOperator("firstName", schema.StartsWith))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := persons.List(ctx, caller, &datasource.Filter{
		ConditionTree: condtree.NewLeaf("firstName", schema.StartsWith, "Isa"),
	}, nil)
	require.ErrorIs(t, err, context.Canceled)
}
