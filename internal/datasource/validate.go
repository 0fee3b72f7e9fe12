package datasource

import (
	"fmt"
	"strings"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/schema"
)

// GetFieldSchema resolves a field path such as "author:firstName" on c,
// following to-one relations through c's data source.
func GetFieldSchema(c Collection, path string) (schema.FieldSchema, error) {
	head, rest, nested := strings.Cut(path, ":")
	field, ok := c.Schema().Fields[head]
	if !ok {
		return nil, fmt.Errorf("field %q not found in collection %q", head, c.Name())
	}
	if !nested {
		return field, nil
	}

	rel, ok := field.(*schema.RelationSchema)
	if !ok {
		return nil, fmt.Errorf("field %q of collection %q is not a relation", head, c.Name())
	}
	if !rel.IsToOne() {
		return nil, fmt.Errorf("relation %q of collection %q is %s and cannot be traversed", head, c.Name(), rel.Type)
	}
	foreign, err := c.DataSource().GetCollection(rel.ForeignCollection)
	if err != nil {
		return nil, err
	}
	return GetFieldSchema(foreign, rest)
}

// GetColumn is GetFieldSchema for paths that must end on a column.
func GetColumn(c Collection, path string) (*schema.ColumnSchema, error) {
	field, err := GetFieldSchema(c, path)
	if err != nil {
		return nil, err
	}
	col, ok := field.(*schema.ColumnSchema)
	if !ok {
		return nil, fmt.Errorf("field %q of collection %q is not a column", path, c.Name())
	}
	return col, nil
}

// Types adapts a collection to condtree.TypeResolver.
func Types(c Collection) condtree.TypeResolver {
	return collectionTypes{c}
}

type collectionTypes struct{ c Collection }

func (t collectionTypes) ColumnType(path string) (schema.PrimitiveType, error) {
	col, err := GetColumn(t.c, path)
	if err != nil {
		return "", err
	}
	return col.ColumnType, nil
}

// ValidateTree checks every leaf of tree against c: the field must resolve
// to a column, the column must advertise the operator, and the value must
// have the shape the operator expects. A nil tree is valid.
func ValidateTree(tree condtree.Node, c Collection) error {
	if tree == nil {
		return nil
	}
	var firstErr error
	tree.Some(func(l *condtree.Leaf) bool {
		firstErr = validateLeaf(l, c)
		return firstErr != nil
	})
	return firstErr
}

func validateLeaf(l *condtree.Leaf, c Collection) error {
	col, err := GetColumn(c, l.Field)
	if err != nil {
		return NewValidationError(c.Name(), l.Field, err)
	}
	if !col.FilterOperators.Has(l.Operator) {
		return NewUnsupportedOperatorError(c.Name(), l.Field, l.Operator)
	}
	if err := condtree.ValidateValue(l.Operator, l.Value); err != nil {
		return NewValidationError(c.Name(), l.Field, err)
	}
	return nil
}
