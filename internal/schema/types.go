package schema

import (
	"fmt"
	"sort"
)

// PrimitiveType is the storage type of a column.
type PrimitiveType string

const (
	TypeBoolean  PrimitiveType = "Boolean"
	TypeDate     PrimitiveType = "Date"
	TypeDateonly PrimitiveType = "Dateonly"
	TypeEnum     PrimitiveType = "Enum"
	TypeJSON     PrimitiveType = "Json"
	TypeNumber   PrimitiveType = "Number"
	TypePoint    PrimitiveType = "Point"
	TypeString   PrimitiveType = "String"
	TypeTimeonly PrimitiveType = "Timeonly"
	TypeUUID     PrimitiveType = "Uuid"
	TypeBinary   PrimitiveType = "Binary"
)

var primitiveTypes = []PrimitiveType{
	TypeBoolean, TypeDate, TypeDateonly, TypeEnum, TypeJSON, TypeNumber,
	TypePoint, TypeString, TypeTimeonly, TypeUUID, TypeBinary,
}

// ParsePrimitiveType returns the type named by name.
func ParsePrimitiveType(name string) (PrimitiveType, error) {
	for _, t := range primitiveTypes {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown column type %q", name)
}

// FieldSchema describes one field of a collection.
//
// This is a sealed interface: a field is either a column (*ColumnSchema)
// or a relation to another collection (*RelationSchema).
type FieldSchema interface {
	fieldSchema()
}

// ColumnSchema describes a column and its filter capability.
//
// FilterOperators is what the collection advertises to its caller. For a
// native collection it is what the store implements; a wrapping layer may
// advertise more than its child and rewrite the difference away.
type ColumnSchema struct {
	ColumnType      PrimitiveType
	FilterOperators OperatorSet
	IsPrimaryKey    bool
	IsReadOnly      bool
	IsSortable      bool
	EnumValues      []string
}

func (*ColumnSchema) fieldSchema() {}

// WithOperators returns a copy of the column advertising ops.
func (c *ColumnSchema) WithOperators(ops OperatorSet) *ColumnSchema {
	out := *c
	out.FilterOperators = ops
	return &out
}

// RelationType is the cardinality of a relation.
type RelationType string

const (
	ManyToOne  RelationType = "ManyToOne"
	OneToOne   RelationType = "OneToOne"
	OneToMany  RelationType = "OneToMany"
	ManyToMany RelationType = "ManyToMany"
)

// RelationSchema describes a link to another collection.
//
// ForeignKey lives on this collection for ManyToOne and on the foreign one
// for OneToOne and OneToMany. OriginKey is the key it points at. ManyToMany
// goes through ThroughCollection.
type RelationSchema struct {
	Type              RelationType
	ForeignCollection string
	ForeignKey        string
	OriginKey         string
	ThroughCollection string
}

func (*RelationSchema) fieldSchema() {}

// IsToOne reports whether following the relation yields at most one record.
// Only those relations can be traversed by a condition tree field path.
func (r *RelationSchema) IsToOne() bool {
	return r.Type == ManyToOne || r.Type == OneToOne
}

// CollectionSchema describes the fields of a collection.
type CollectionSchema struct {
	Fields map[string]FieldSchema
}

// Column returns the named column, or nil when the field is missing or is
// a relation.
func (s CollectionSchema) Column(name string) *ColumnSchema {
	col, _ := s.Fields[name].(*ColumnSchema)
	return col
}

// Relation returns the named relation, or nil.
func (s CollectionSchema) Relation(name string) *RelationSchema {
	rel, _ := s.Fields[name].(*RelationSchema)
	return rel
}

// FieldNames returns the field names sorted.
func (s CollectionSchema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ColumnNames returns the column names sorted.
func (s CollectionSchema) ColumnNames() []string {
	var names []string
	for _, name := range s.FieldNames() {
		if s.Column(name) != nil {
			names = append(names, name)
		}
	}
	return names
}

// PrimaryKeys returns the primary key column names sorted.
func (s CollectionSchema) PrimaryKeys() []string {
	var pks []string
	for _, name := range s.ColumnNames() {
		if s.Column(name).IsPrimaryKey {
			pks = append(pks, name)
		}
	}
	return pks
}

// Clone returns a shallow copy whose field map may be modified freely.
// Field values are shared; replace them rather than mutating them.
func (s CollectionSchema) Clone() CollectionSchema {
	fields := make(map[string]FieldSchema, len(s.Fields))
	for name, f := range s.Fields {
		fields[name] = f
	}
	return CollectionSchema{Fields: fields}
}
