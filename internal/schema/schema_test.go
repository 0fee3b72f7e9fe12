package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperator(t *testing.T) {
	testCases := []struct {
		input    string
		expected Operator
	}{
		{"equal", Equal},
		{"starts_with", StartsWith},
		{"StartsWith", StartsWith},
		{"I_CONTAINS", IContains},
		{"PreviousXDaysToDate", PreviousXDaysToDate},
		{" today ", Today},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			op, err := ParseOperator(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, op)
		})
	}

	_, err := ParseOperator("approximately")
	assert.Error(t, err)
}

func TestOperator_IsValid(t *testing.T) {
	for _, op := range AllOperators {
		assert.True(t, op.IsValid(), op)
	}
	assert.False(t, Operator("StartsWith").IsValid())
	assert.False(t, Operator("nope").IsValid())
}

func TestOperatorSet(t *testing.T) {
	s := NewOperatorSet(In, Equal)
	assert.True(t, s.Has(Equal))
	assert.False(t, s.Has(Blank))
	assert.True(t, s.HasAll(Equal, In))
	assert.Equal(t, []Operator{Equal, In}, s.Sorted())
	assert.Equal(t, []string{"equal", "in"}, s.Strings())

	wider := s.Union(Blank)
	assert.False(t, s.Has(Blank), "union must not modify the receiver")
	assert.True(t, wider.Has(Blank))
	assert.True(t, s.Equal(NewOperatorSet(Equal, In)))
	assert.False(t, s.Equal(wider))

	var empty OperatorSet
	assert.False(t, empty.Has(Equal))
	assert.Empty(t, empty.Sorted())
}

func TestAllowedOperators(t *testing.T) {
	assert.True(t, AllowedOperators(TypeString).Has(StartsWith))
	assert.False(t, AllowedOperators(TypeNumber).Has(StartsWith))
	assert.True(t, AllowedOperators(TypeDate).Has(PreviousQuarter))
	assert.True(t, AllowedOperators(TypeBoolean).Has(In))
	assert.False(t, AllowedOperators(TypePoint).Has(In))
}

func booksSchema() CollectionSchema {
	return CollectionSchema{Fields: map[string]FieldSchema{
		"id":       &ColumnSchema{ColumnType: TypeNumber, IsPrimaryKey: true},
		"title":    &ColumnSchema{ColumnType: TypeString},
		"authorId": &ColumnSchema{ColumnType: TypeNumber},
		"author":   &RelationSchema{Type: ManyToOne, ForeignCollection: "persons", ForeignKey: "authorId", OriginKey: "id"},
	}}
}

func TestCollectionSchema_Accessors(t *testing.T) {
	s := booksSchema()
	assert.Equal(t, []string{"author", "authorId", "id", "title"}, s.FieldNames())
	assert.Equal(t, []string{"authorId", "id", "title"}, s.ColumnNames())
	assert.Equal(t, []string{"id"}, s.PrimaryKeys())
	assert.NotNil(t, s.Column("title"))
	assert.Nil(t, s.Column("author"))
	assert.NotNil(t, s.Relation("author"))
	assert.True(t, s.Relation("author").IsToOne())

	clone := s.Clone()
	delete(clone.Fields, "title")
	assert.NotNil(t, s.Column("title"))
}

func TestColumnSchema_WithOperators(t *testing.T) {
	col := &ColumnSchema{ColumnType: TypeString, FilterOperators: NewOperatorSet(Equal)}
	wider := col.WithOperators(NewOperatorSet(Equal, In))
	assert.False(t, col.FilterOperators.Has(In))
	assert.True(t, wider.FilterOperators.Has(In))
	assert.Equal(t, TypeString, wider.ColumnType)
}

func TestRecord_Value(t *testing.T) {
	rec := Record{
		"id":     1,
		"author": Record{"firstName": "Isaac", "publisher": map[string]any{"name": "Gnome"}},
	}
	assert.Equal(t, 1, rec.Value("id"))
	assert.Equal(t, "Isaac", rec.Value("author:firstName"))
	assert.Equal(t, "Gnome", rec.Value("author:publisher:name"))
	assert.Nil(t, rec.Value("author:lastName"))
	assert.Nil(t, rec.Value("id:nested"))
	assert.Equal(t, []any{1}, rec.PrimaryKey(booksSchema()))
}

func TestProjection(t *testing.T) {
	p := Projection{"title", "author:firstName"}.Union("title", "author:lastName").WithPrimaryKeys(booksSchema())
	assert.Equal(t, Projection{"title", "author:firstName", "author:lastName", "id"}, p)
	assert.Equal(t, []string{"title", "id"}, p.Columns())
	assert.Equal(t, map[string]Projection{"author": {"firstName", "lastName"}}, p.Relations())

	records := []Record{{
		"id": 1, "title": "Foundation", "pages": 255,
		"author": Record{"firstName": "Isaac", "lastName": "Asimov", "id": 9},
	}}
	assert.Equal(t, []Record{{
		"id": 1, "title": "Foundation",
		"author": Record{"firstName": "Isaac", "lastName": "Asimov"},
	}}, p.Apply(records))
}
