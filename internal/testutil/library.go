package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/memstore"
	"github.com/roach88/sieve/internal/schema"
)

// Caller is the caller used by package tests.
var Caller = &datasource.Caller{ID: "test", RequestID: "req-test"}

// LibrarySchemas returns the persons and books collections used across
// package tests. Native operators are deliberately narrow:
//
//   - persons.firstName: equal
//   - books.title: in, like
//   - books.publishedAt: equal, less_than, greater_than
func LibrarySchemas() map[string]schema.CollectionSchema {
	id := func() *schema.ColumnSchema {
		return &schema.ColumnSchema{
			ColumnType:      schema.TypeNumber,
			FilterOperators: schema.NewOperatorSet(schema.Equal, schema.In),
			IsPrimaryKey:    true,
			IsSortable:      true,
		}
	}
	return map[string]schema.CollectionSchema{
		"persons": {Fields: map[string]schema.FieldSchema{
			"id": id(),
			"firstName": &schema.ColumnSchema{
				ColumnType:      schema.TypeString,
				FilterOperators: schema.NewOperatorSet(schema.Equal),
				IsSortable:      true,
			},
		}},
		"books": {Fields: map[string]schema.FieldSchema{
			"id": id(),
			"title": &schema.ColumnSchema{
				ColumnType:      schema.TypeString,
				FilterOperators: schema.NewOperatorSet(schema.In, schema.Like),
				IsSortable:      true,
			},
			"publishedAt": &schema.ColumnSchema{
				ColumnType:      schema.TypeDate,
				FilterOperators: schema.NewOperatorSet(schema.Equal, schema.LessThan, schema.GreaterThan),
			},
			"authorId": &schema.ColumnSchema{
				ColumnType:      schema.TypeNumber,
				FilterOperators: schema.NewOperatorSet(schema.Equal, schema.In),
			},
			"author": &schema.RelationSchema{
				Type:              schema.ManyToOne,
				ForeignCollection: "persons",
				ForeignKey:        "authorId",
				OriginKey:         "id",
			},
		}},
	}
}

// LibraryRecords returns the seed records of LibrarySchemas.
func LibraryRecords() map[string][]schema.Record {
	return map[string][]schema.Record{
		"persons": {
			{"id": 1, "firstName": "Edward"},
			{"id": 2, "firstName": "Isaac"},
		},
		"books": {
			{"id": 1, "title": "Beat the dealer", "publishedAt": "1962-01-01T00:00:00Z", "authorId": 1},
			{"id": 2, "title": "Foundation", "publishedAt": "1951-06-01T00:00:00Z", "authorId": 2},
			{"id": 3, "title": "Papillon", "publishedAt": "2024-03-14T09:00:00Z", "authorId": 1},
		},
	}
}

// NewLibrary builds an in-memory data source seeded with the library.
func NewLibrary(t testing.TB, clock datasource.Clock) *memstore.DataSource {
	t.Helper()
	if clock == nil {
		clock = NewFixedClock(DefaultNow)
	}
	ds := memstore.New(memstore.WithClock(clock))
	schemas := LibrarySchemas()
	records := LibraryRecords()
	for _, name := range []string{"persons", "books"} {
		_, err := ds.AddCollection(name, schemas[name], records[name]...)
		require.NoError(t, err)
	}
	return ds
}
