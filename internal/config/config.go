// Package config compiles collection definitions written in CUE.
//
// A definition declares collections, what their store filters natively, and
// how the missing operators are provided:
//
//	collection: books: {
//		field: {
//			id:    {type: "Number", primaryKey: true, operators: ["equal", "in"]}
//			title: {type: "String", operators: ["in", "like"]}
//		}
//		relation: author: {type: "ManyToOne", collection: "persons", foreignKey: "authorId", originKey: "id"}
//		emulate: title: ["match"]
//		replace: title: starts_with: {field: "title", operator: "like", value: "$value%"}
//		records: [{id: 1, title: "Foundation"}]
//	}
//
// In a replacement template the string "$value" stands for the query value.
// Inside a longer string it is substituted textually.
package config

import (
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/sieve/internal/schema"
)

// Definition is a compiled set of collections.
type Definition struct {
	Collections []*Collection
}

// Collection returns the named collection definition, or nil.
func (d *Definition) Collection(name string) *Collection {
	for _, c := range d.Collections {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Collection is one collection definition.
type Collection struct {
	Name   string
	Schema schema.CollectionSchema

	// Emulate lists, per field, operators filtered in memory. A field in
	// EmulateAll gets every operator its type allows.
	Emulate    map[string][]schema.Operator
	EmulateAll []string

	Replacements []*Replacement
	Records      []schema.Record
}

// Load reads every CUE file of a directory as one instance and compiles it.
func Load(dir string) (*Definition, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("definitions directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}
	value := cuecontext.New().BuildInstance(inst)
	return Compile(value)
}

// CompileString compiles definitions from CUE source.
func CompileString(src string) (*Definition, error) {
	return Compile(cuecontext.New().CompileString(src))
}

// Compile compiles the "collection" struct of a CUE value. Collections come
// out sorted by name.
func Compile(v cue.Value) (*Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError("cue", err)
	}
	collections := v.LookupPath(cue.ParsePath("collection"))
	if !collections.Exists() {
		return nil, &CompileError{Path: "collection", Message: "no collections defined", Pos: v.Pos()}
	}
	iter, err := collections.Fields()
	if err != nil {
		return nil, formatCUEError("collection", err)
	}

	d := &Definition{}
	for iter.Next() {
		c, err := CompileCollection(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		d.Collections = append(d.Collections, c)
	}
	sort.Slice(d.Collections, func(i, j int) bool { return d.Collections[i].Name < d.Collections[j].Name })

	if err := d.checkRelations(); err != nil {
		return nil, err
	}
	return d, nil
}

// CompileCollection compiles one collection struct.
func CompileCollection(name string, v cue.Value) (*Collection, error) {
	path := "collection." + name
	if err := v.Err(); err != nil {
		return nil, formatCUEError(path, err)
	}
	c := &Collection{
		Name:    name,
		Schema:  schema.CollectionSchema{Fields: map[string]schema.FieldSchema{}},
		Emulate: map[string][]schema.Operator{},
	}

	fields := v.LookupPath(cue.ParsePath("field"))
	if !fields.Exists() {
		return nil, &CompileError{Path: path + ".field", Message: "at least one field is required", Pos: v.Pos()}
	}
	iter, err := fields.Fields()
	if err != nil {
		return nil, formatCUEError(path+".field", err)
	}
	for iter.Next() {
		col, err := compileColumn(path+".field."+iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		c.Schema.Fields[iter.Label()] = col
	}

	if relations := v.LookupPath(cue.ParsePath("relation")); relations.Exists() {
		iter, err := relations.Fields()
		if err != nil {
			return nil, formatCUEError(path+".relation", err)
		}
		for iter.Next() {
			fieldPath := path + ".relation." + iter.Label()
			if _, dup := c.Schema.Fields[iter.Label()]; dup {
				return nil, &CompileError{Path: fieldPath, Message: "name is already used by a field", Pos: iter.Value().Pos()}
			}
			rel, err := compileRelation(fieldPath, iter.Value())
			if err != nil {
				return nil, err
			}
			c.Schema.Fields[iter.Label()] = rel
		}
	}

	if err := c.compileEmulate(path+".emulate", v.LookupPath(cue.ParsePath("emulate"))); err != nil {
		return nil, err
	}
	if err := c.compileReplace(path+".replace", v.LookupPath(cue.ParsePath("replace"))); err != nil {
		return nil, err
	}

	if records := v.LookupPath(cue.ParsePath("records")); records.Exists() {
		var raw []map[string]any
		if err := records.Decode(&raw); err != nil {
			return nil, formatCUEError(path+".records", err)
		}
		for _, r := range raw {
			c.Records = append(c.Records, schema.Record(r))
		}
	}
	return c, nil
}

type columnDef struct {
	Type       string   `json:"type"`
	PrimaryKey bool     `json:"primaryKey"`
	ReadOnly   bool     `json:"readOnly"`
	Sortable   bool     `json:"sortable"`
	Operators  []string `json:"operators"`
	Enum       []string `json:"enum"`
}

func compileColumn(path string, v cue.Value) (*schema.ColumnSchema, error) {
	var def columnDef
	if err := v.Decode(&def); err != nil {
		return nil, formatCUEError(path, err)
	}
	t, err := schema.ParsePrimitiveType(def.Type)
	if err != nil {
		return nil, &CompileError{Path: path + ".type", Message: err.Error(), Pos: v.Pos()}
	}
	ops, err := parseOperators(def.Operators)
	if err != nil {
		return nil, &CompileError{Path: path + ".operators", Message: err.Error(), Pos: v.Pos()}
	}
	allowed := schema.AllowedOperators(t)
	for _, op := range ops {
		if !allowed.Has(op) {
			return nil, &CompileError{
				Path:    path + ".operators",
				Message: fmt.Sprintf("operator %s does not apply to %s columns", op, t),
				Pos:     v.Pos(),
			}
		}
	}
	if t == schema.TypeEnum && len(def.Enum) == 0 {
		return nil, &CompileError{Path: path + ".enum", Message: "enum columns need values", Pos: v.Pos()}
	}
	return &schema.ColumnSchema{
		ColumnType:      t,
		FilterOperators: schema.NewOperatorSet(ops...),
		IsPrimaryKey:    def.PrimaryKey,
		IsReadOnly:      def.ReadOnly,
		IsSortable:      def.Sortable,
		EnumValues:      def.Enum,
	}, nil
}

type relationDef struct {
	Type       string `json:"type"`
	Collection string `json:"collection"`
	ForeignKey string `json:"foreignKey"`
	OriginKey  string `json:"originKey"`
	Through    string `json:"through"`
}

func compileRelation(path string, v cue.Value) (*schema.RelationSchema, error) {
	var def relationDef
	if err := v.Decode(&def); err != nil {
		return nil, formatCUEError(path, err)
	}
	rel := &schema.RelationSchema{
		Type:              schema.RelationType(def.Type),
		ForeignCollection: def.Collection,
		ForeignKey:        def.ForeignKey,
		OriginKey:         def.OriginKey,
		ThroughCollection: def.Through,
	}
	switch rel.Type {
	case schema.ManyToOne, schema.OneToOne, schema.OneToMany:
	case schema.ManyToMany:
		if rel.ThroughCollection == "" {
			return nil, &CompileError{Path: path + ".through", Message: "ManyToMany relations need a through collection", Pos: v.Pos()}
		}
	default:
		return nil, &CompileError{Path: path + ".type", Message: fmt.Sprintf("unknown relation type %q", def.Type), Pos: v.Pos()}
	}
	if rel.ForeignCollection == "" || rel.ForeignKey == "" || rel.OriginKey == "" {
		return nil, &CompileError{Path: path, Message: "collection, foreignKey and originKey are required", Pos: v.Pos()}
	}
	return rel, nil
}

// compileEmulate reads "field: [ops]" or "field: \"*\"".
func (c *Collection) compileEmulate(path string, v cue.Value) error {
	if !v.Exists() {
		return nil
	}
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(path, err)
	}
	for iter.Next() {
		field := iter.Label()
		fieldPath := path + "." + field
		if c.Schema.Column(field) == nil {
			return &CompileError{Path: fieldPath, Message: fmt.Sprintf("field %q is not a column", field), Pos: iter.Value().Pos()}
		}
		if s, err := iter.Value().String(); err == nil {
			if s != "*" {
				return &CompileError{Path: fieldPath, Message: `must be a list of operators or "*"`, Pos: iter.Value().Pos()}
			}
			c.EmulateAll = append(c.EmulateAll, field)
			continue
		}
		var names []string
		if err := iter.Value().Decode(&names); err != nil {
			return formatCUEError(fieldPath, err)
		}
		ops, err := parseOperators(names)
		if err != nil {
			return &CompileError{Path: fieldPath, Message: err.Error(), Pos: iter.Value().Pos()}
		}
		c.Emulate[field] = ops
	}
	return nil
}

// compileReplace reads "field: operator: template".
func (c *Collection) compileReplace(path string, v cue.Value) error {
	if !v.Exists() {
		return nil
	}
	fields, err := v.Fields()
	if err != nil {
		return formatCUEError(path, err)
	}
	for fields.Next() {
		field := fields.Label()
		if c.Schema.Column(field) == nil {
			return &CompileError{Path: path + "." + field, Message: fmt.Sprintf("field %q is not a column", field), Pos: fields.Value().Pos()}
		}
		ops, err := fields.Value().Fields()
		if err != nil {
			return formatCUEError(path+"."+field, err)
		}
		for ops.Next() {
			opPath := path + "." + field + "." + ops.Label()
			op, err := schema.ParseOperator(ops.Label())
			if err != nil {
				return &CompileError{Path: opPath, Message: err.Error(), Pos: ops.Value().Pos()}
			}
			var template any
			if err := ops.Value().Decode(&template); err != nil {
				return formatCUEError(opPath, err)
			}
			r, err := NewReplacement(field, op, template)
			if err != nil {
				return &CompileError{Path: opPath, Message: err.Error(), Pos: ops.Value().Pos()}
			}
			c.Replacements = append(c.Replacements, r)
		}
	}
	return nil
}

// checkRelations verifies every relation points at a defined collection
// with the keys it names.
func (d *Definition) checkRelations() error {
	for _, c := range d.Collections {
		for _, name := range c.Schema.FieldNames() {
			rel := c.Schema.Relation(name)
			if rel == nil {
				continue
			}
			path := fmt.Sprintf("collection.%s.relation.%s", c.Name, name)
			foreign := d.Collection(rel.ForeignCollection)
			if foreign == nil {
				return &CompileError{Path: path, Message: fmt.Sprintf("collection %q is not defined", rel.ForeignCollection)}
			}
			origin, fk := c, foreign
			if rel.Type == schema.ManyToOne {
				origin, fk = foreign, c
			}
			if rel.Type == schema.ManyToMany {
				continue
			}
			if fk.Schema.Column(rel.ForeignKey) == nil {
				return &CompileError{Path: path, Message: fmt.Sprintf("foreign key %q is not a column of %s", rel.ForeignKey, fk.Name)}
			}
			if origin.Schema.Column(rel.OriginKey) == nil {
				return &CompileError{Path: path, Message: fmt.Sprintf("origin key %q is not a column of %s", rel.OriginKey, origin.Name)}
			}
		}
	}
	return nil
}

func parseOperators(names []string) ([]schema.Operator, error) {
	ops := make([]schema.Operator, 0, len(names))
	for _, name := range names {
		op, err := schema.ParseOperator(name)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}
