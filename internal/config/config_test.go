package config

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/decorator"
	"github.com/roach88/sieve/internal/pipeline"
	"github.com/roach88/sieve/internal/schema"
	"github.com/roach88/sieve/internal/sqlstore"
	"github.com/roach88/sieve/internal/testutil"
)

func loadLibrary(t *testing.T) *Definition {
	t.Helper()
	d, err := Load(filepath.Join("testdata", "library"))
	require.NoError(t, err)
	return d
}

func TestLoad_Library(t *testing.T) {
	d := loadLibrary(t)

	require.Len(t, d.Collections, 2)
	assert.Equal(t, "books", d.Collections[0].Name)
	assert.Equal(t, "persons", d.Collections[1].Name)

	books := d.Collection("books")
	title := books.Schema.Column("title")
	require.NotNil(t, title)
	assert.Equal(t, schema.TypeString, title.ColumnType)
	assert.True(t, title.FilterOperators.Equal(schema.NewOperatorSet(schema.In, schema.Like)))
	assert.Equal(t, []string{"id"}, books.Schema.PrimaryKeys())

	author := books.Schema.Relation("author")
	require.NotNil(t, author)
	assert.Equal(t, &schema.RelationSchema{Type: schema.ManyToOne, ForeignCollection: "persons", ForeignKey: "authorId", OriginKey: "id"}, author)

	assert.Len(t, books.Records, 3)
	assert.Equal(t, "Foundation", books.Records[1]["title"])

	persons := d.Collection("persons")
	assert.Equal(t, map[string][]schema.Operator{"firstName": {schema.StartsWith}}, persons.Emulate)
	assert.Nil(t, d.Collection("movies"))
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestCompile_Errors(t *testing.T) {
	testCases := []struct {
		name     string
		src      string
		contains string
	}{
		{
			name:     "no collections",
			src:      `other: 1`,
			contains: "no collections defined",
		},
		{
			name:     "no fields",
			src:      `collection: books: {}`,
			contains: "at least one field is required",
		},
		{
			name:     "unknown type",
			src:      `collection: books: field: id: {type: "Float"}`,
			contains: `unknown column type "Float"`,
		},
		{
			name:     "unknown operator",
			src:      `collection: books: field: id: {type: "Number", operators: ["roughly"]}`,
			contains: "roughly",
		},
		{
			name:     "operator does not apply",
			src:      `collection: books: field: id: {type: "Number", operators: ["contains"]}`,
			contains: "operator contains does not apply to Number columns",
		},
		{
			name:     "enum without values",
			src:      `collection: books: field: kind: {type: "Enum"}`,
			contains: "enum columns need values",
		},
		{
			name: "unknown relation target",
			src: `collection: books: {
				field: authorId: {type: "Number"}
				relation: author: {type: "ManyToOne", collection: "persons", foreignKey: "authorId", originKey: "id"}
			}`,
			contains: `collection "persons" is not defined`,
		},
		{
			name: "relation key missing",
			src: `collection: books: {
				field: id: {type: "Number"}
				relation: author: {type: "ManyToOne", collection: "books", foreignKey: "authorId", originKey: "id"}
			}`,
			contains: `foreign key "authorId" is not a column of books`,
		},
		{
			name: "emulate on a relation",
			src: `collection: books: {
				field: id: {type: "Number"}
				emulate: author: ["equal"]
			}`,
			contains: `field "author" is not a column`,
		},
		{
			name: "emulate wildcard typo",
			src: `collection: books: {
				field: id: {type: "Number"}
				emulate: id: "all"
			}`,
			contains: `must be a list of operators or "*"`,
		},
		{
			name: "bad template",
			src: `collection: books: {
				field: title: {type: "String"}
				replace: title: starts_with: {field: "title", operator: "nearly", value: "$value"}
			}`,
			contains: "collection.books.replace.title.starts_with",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CompileString(tc.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.contains)
		})
	}
}

func TestCompile_EmulateWildcard(t *testing.T) {
	d, err := CompileString(`collection: books: {
		field: {
			id:    {type: "Number", primaryKey: true, operators: ["equal", "in"]}
			title: {type: "String", operators: ["equal"]}
		}
		emulate: title: "*"
	}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, d.Collection("books").EmulateAll)
}

func TestReplacement_Build(t *testing.T) {
	prefix, err := NewReplacement("title", schema.StartsWith, map[string]any{
		"field": "title", "operator": "like", "value": "$value%",
	})
	require.NoError(t, err)

	tree, err := prefix.Build("Foun")
	require.NoError(t, err)
	assert.Equal(t, condtree.NewLeaf("title", schema.Like, "Foun%"), tree)

	anyOf, err := NewReplacement("title", schema.Equal, map[string]any{
		"aggregator": "Or",
		"conditions": []any{
			map[string]any{"field": "title", "operator": "in", "value": "$value"},
			map[string]any{"field": "title", "operator": "missing"},
		},
	})
	require.NoError(t, err)

	tree, err = anyOf.Build([]any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, condtree.Union(
		condtree.NewLeaf("title", schema.In, []any{"a", "b"}),
		condtree.NewLeaf("title", schema.Missing, nil),
	), tree)
	assert.Equal(t, "$value", anyOf.Template.(map[string]any)["conditions"].([]any)[0].(map[string]any)["value"], "template is not mutated")

	assert.Len(t, anyOf.Leaves(), 2)
}

func TestWarnings_ReportCycles(t *testing.T) {
	d, err := CompileString(`collection: books: {
		field: {
			id:    {type: "Number", primaryKey: true, operators: ["equal", "in"]}
			title: {type: "String", operators: ["in"]}
		}
		replace: title: {
			starts_with: {field: "title", operator: "like", value: "$value%"}
			like:        {field: "title", operator: "starts_with", value: "$value"}
		}
	}`)
	require.NoError(t, err)

	warnings := d.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"books.title[like]", "books.title[starts_with]", "books.title[like]"}, warnings[0].Path)

	assert.Empty(t, loadLibrary(t).Warnings())
}

func TestRules_FollowRelations(t *testing.T) {
	d := loadLibrary(t)
	books := d.Collection("books")

	target, field := d.resolve(books, "author:firstName")
	assert.Equal(t, "persons", target)
	assert.Equal(t, "firstName", field)

	target, field = d.resolve(books, "publisher:name")
	assert.Equal(t, "books", target, "unknown relations stay on the collection")
	assert.Equal(t, "publisher:name", field)

	rules := d.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "books.title[starts_with]", rules[0].ID)
	assert.Equal(t, []string{"books.title[like]"}, rules[0].Uses)
}

func TestApply_OnMemory(t *testing.T) {
	d := loadLibrary(t)
	native, err := d.NewMemory()
	require.NoError(t, err)

	p := pipeline.Build(native, pipeline.WithJournal(&decorator.Journal{}), pipeline.WithClock(testutil.NewFixedClock(testutil.DefaultNow)))
	require.NoError(t, d.Apply(p))
	p.Freeze()

	e, err := p.Explain(context.Background(), testutil.Caller, "books",
		&datasource.Filter{ConditionTree: condtree.NewLeaf("title", schema.StartsWith, "Foun")}, schema.Projection{"id"})
	require.NoError(t, err)
	assert.Equal(t, condtree.NewLeaf("title", schema.Like, "Foun%"), e.NativeFilter())
	require.Len(t, e.Records, 1)
	assert.EqualValues(t, 2, e.Records[0]["id"])

	e, err = p.Explain(context.Background(), testutil.Caller, "persons",
		&datasource.Filter{ConditionTree: condtree.NewLeaf("firstName", schema.StartsWith, "Isa")}, schema.Projection{"id"})
	require.NoError(t, err)
	assert.Equal(t, condtree.NewLeaf("id", schema.Equal, 2), e.NativeFilter())
}

func TestApply_RejectsInvalidRegistrations(t *testing.T) {
	d, err := CompileString(`collection: notes: {
		field: body: {type: "String", operators: ["equal"]}
		emulate: body: ["contains"]
	}`)
	require.NoError(t, err)
	native, err := d.NewMemory()
	require.NoError(t, err)

	err = d.Apply(pipeline.Build(native))
	require.Error(t, err)
	assert.True(t, datasource.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "primary key")
}

func TestCreateTables_SeedsOnce(t *testing.T) {
	ctx := context.Background()
	d := loadLibrary(t)
	path := filepath.Join(t.TempDir(), "library.db")

	for i := 0; i < 2; i++ {
		s, err := sqlstore.Open(path)
		require.NoError(t, err)
		require.NoError(t, d.CreateTables(ctx, s))

		books, err := s.GetCollection("books")
		require.NoError(t, err)
		n, err := books.(*sqlstore.Collection).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		require.NoError(t, s.Close())
	}
}
