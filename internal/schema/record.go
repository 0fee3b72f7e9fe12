package schema

import (
	"slices"
	"strings"
)

// Record is one row returned by a collection. Related records are nested
// under the relation name as another Record.
type Record map[string]any

// Value returns the value at a field path such as "author:firstName".
// Missing fields and broken paths yield nil.
func (r Record) Value(path string) any {
	head, rest, nested := strings.Cut(path, ":")
	if !nested {
		return r[head]
	}
	switch sub := r[head].(type) {
	case Record:
		return sub.Value(rest)
	case map[string]any:
		return Record(sub).Value(rest)
	default:
		return nil
	}
}

// PrimaryKey returns the record's primary key values in pk order.
func (r Record) PrimaryKey(s CollectionSchema) []any {
	pks := s.PrimaryKeys()
	out := make([]any, len(pks))
	for i, pk := range pks {
		out[i] = r[pk]
	}
	return out
}

// Projection is the list of field paths a caller wants back.
type Projection []string

// Union returns the projection extended with the fields it lacks,
// keeping first-seen order.
func (p Projection) Union(fields ...string) Projection {
	out := slices.Clone(p)
	for _, f := range fields {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// WithPrimaryKeys adds the collection's primary keys.
func (p Projection) WithPrimaryKeys(s CollectionSchema) Projection {
	return p.Union(s.PrimaryKeys()...)
}

// Columns returns the paths that do not traverse a relation.
func (p Projection) Columns() []string {
	var out []string
	for _, f := range p {
		if !strings.Contains(f, ":") {
			out = append(out, f)
		}
	}
	return out
}

// Relations groups the nested paths by their first hop.
func (p Projection) Relations() map[string]Projection {
	out := map[string]Projection{}
	for _, f := range p {
		if head, rest, ok := strings.Cut(f, ":"); ok {
			out[head] = out[head].Union(rest)
		}
	}
	return out
}

// Apply keeps only the projected paths of each record.
func (p Projection) Apply(records []Record) []Record {
	out := make([]Record, len(records))
	for i, rec := range records {
		out[i] = p.applyOne(rec)
	}
	return out
}

func (p Projection) applyOne(rec Record) Record {
	if rec == nil {
		return nil
	}
	out := Record{}
	for _, col := range p.Columns() {
		out[col] = rec[col]
	}
	for rel, sub := range p.Relations() {
		switch nested := rec[rel].(type) {
		case Record:
			out[rel] = sub.applyOne(nested)
		case map[string]any:
			out[rel] = sub.applyOne(Record(nested))
		default:
			out[rel] = nil
		}
	}
	return out
}
