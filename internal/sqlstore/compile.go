package sqlstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/schema"
)

// NativeOperators returns the operators the SQL compiler evaluates for a
// column type. Relative-time operators are absent: they depend on the
// caller's clock and zone and are rewritten before reaching the store.
func NativeOperators(t schema.PrimitiveType) schema.OperatorSet {
	ops := []schema.Operator{
		schema.Equal, schema.NotEqual, schema.In, schema.NotIn,
		schema.Blank, schema.Present, schema.Missing,
	}
	switch t {
	case schema.TypeString:
		ops = append(ops,
			schema.LessThan, schema.GreaterThan, schema.LessThanOrEqual, schema.GreaterThanOrEqual,
			schema.Contains, schema.NotContains, schema.IContains, schema.NotIContains,
			schema.StartsWith, schema.IStartsWith, schema.EndsWith, schema.IEndsWith,
			schema.Like, schema.ILike, schema.Match, schema.LongerThan, schema.ShorterThan,
		)
	case schema.TypeNumber, schema.TypeDate, schema.TypeDateonly, schema.TypeTimeonly:
		ops = append(ops, schema.LessThan, schema.GreaterThan, schema.LessThanOrEqual, schema.GreaterThanOrEqual)
	case schema.TypeUUID:
		ops = append(ops, schema.Like, schema.Match)
	case schema.TypeJSON:
		ops = append(ops, schema.IncludesAll, schema.IncludesNone)
	}
	return schema.NewOperatorSet(ops...)
}

// selectQuery is a compiled List call.
//
// CRITICAL: All values are parameterized, never interpolated.
type selectQuery struct {
	SQL    string
	Params []any

	// Columns maps each selected column, in order, to its field path.
	Columns []string
}

// compiler turns a filter on one collection into a SELECT. Relation paths
// become LEFT JOINs, one per distinct relation prefix.
type compiler struct {
	root    *Collection
	aliases map[string]string // relation prefix -> table alias
	owners  map[string]*Collection
	joins   []string
	params  []any
}

func newCompiler(root *Collection) *compiler {
	return &compiler{
		root:    root,
		aliases: map[string]string{"": "t0"},
		owners:  map[string]*Collection{"": root},
	}
}

// compileList builds the query behind Collection.List.
//
// MANDATORY: Every query ends its ORDER BY with the primary key so paging
// is deterministic.
func compileList(root *Collection, filter *datasource.Filter, projection schema.Projection) (*selectQuery, error) {
	c := newCompiler(root)

	if len(projection) == 0 {
		projection = schema.Projection(root.schema.ColumnNames())
	}
	selected := make([]string, 0, len(projection))
	columns := make([]string, 0, len(projection))
	for _, path := range projection {
		ref, _, err := c.column(path)
		if err != nil {
			return nil, err
		}
		selected = append(selected, ref)
		columns = append(columns, path)
	}

	var where string
	if tree := filter.Tree(); tree != nil {
		pred, err := c.predicate(tree)
		if err != nil {
			return nil, fmt.Errorf("compile filter: %w", err)
		}
		where = " WHERE " + pred
	}

	order, err := c.orderBy(filter)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s AS t0", strings.Join(selected, ", "), quoteIdent(root.name))
	for _, j := range c.joins {
		b.WriteString(j)
	}
	b.WriteString(where)
	b.WriteString(" ORDER BY ")
	b.WriteString(order)

	if filter != nil && filter.Page != nil {
		limit := filter.Page.Limit
		if limit <= 0 {
			limit = -1
		}
		b.WriteString(" LIMIT ? OFFSET ?")
		c.params = append(c.params, limit, filter.Page.Skip)
	}

	return &selectQuery{SQL: b.String(), Params: c.params, Columns: columns}, nil
}

func (c *compiler) orderBy(filter *datasource.Filter) (string, error) {
	var parts []string
	if filter != nil {
		for _, s := range filter.Sort {
			ref, _, err := c.column(s.Field)
			if err != nil {
				return "", err
			}
			dir := "DESC"
			if s.Ascending {
				dir = "ASC"
			}
			// SQLite puts NULLs first when ascending, like memstore.
			parts = append(parts, fmt.Sprintf("%s %s", ref, dir))
		}
	}
	for _, pk := range c.root.schema.PrimaryKeys() {
		parts = append(parts, fmt.Sprintf("t0.%s ASC COLLATE BINARY", quoteIdent(pk)))
	}
	if len(parts) == 0 {
		parts = append(parts, "t0.rowid ASC")
	}
	return strings.Join(parts, ", "), nil
}

// column resolves a field path to a qualified column reference, adding the
// joins it needs.
func (c *compiler) column(path string) (string, *schema.ColumnSchema, error) {
	prefix := ""
	owner := c.root
	rest := path
	for {
		head, tail, nested := strings.Cut(rest, ":")
		if !nested {
			col := owner.schema.Column(head)
			if col == nil {
				return "", nil, fmt.Errorf("field %q not found in collection %q", path, c.root.name)
			}
			return fmt.Sprintf("%s.%s", c.aliases[prefix], quoteIdent(head)), col, nil
		}

		rel := owner.schema.Relation(head)
		if rel == nil || !rel.IsToOne() {
			return "", nil, fmt.Errorf("field %q of collection %q is not a to-one relation", head, owner.name)
		}
		next := head
		if prefix != "" {
			next = prefix + ":" + head
		}
		if _, ok := c.aliases[next]; !ok {
			foreign, err := c.root.store.collection(rel.ForeignCollection)
			if err != nil {
				return "", nil, err
			}
			alias := fmt.Sprintf("t%d", len(c.aliases))
			c.aliases[next] = alias
			c.owners[next] = foreign
			c.joins = append(c.joins, joinClause(rel, c.aliases[prefix], alias, foreign.name))
		}
		prefix, owner, rest = next, c.owners[next], tail
	}
}

func joinClause(rel *schema.RelationSchema, parent, alias, table string) string {
	var on string
	if rel.Type == schema.ManyToOne {
		on = fmt.Sprintf("%s.%s = %s.%s", parent, quoteIdent(rel.ForeignKey), alias, quoteIdent(rel.OriginKey))
	} else {
		on = fmt.Sprintf("%s.%s = %s.%s", alias, quoteIdent(rel.ForeignKey), parent, quoteIdent(rel.OriginKey))
	}
	return fmt.Sprintf(" LEFT JOIN %s AS %s ON %s", quoteIdent(table), alias, on)
}

func (c *compiler) predicate(n condtree.Node) (string, error) {
	switch node := n.(type) {
	case *condtree.Branch:
		if len(node.Conditions) == 0 {
			if node.Aggregator == condtree.And {
				return "1 = 1", nil
			}
			return "1 = 0", nil
		}
		parts := make([]string, len(node.Conditions))
		for i, child := range node.Conditions {
			sql, err := c.predicate(child)
			if err != nil {
				return "", err
			}
			parts[i] = sql
		}
		return "(" + strings.Join(parts, " "+strings.ToUpper(string(node.Aggregator))+" ") + ")", nil
	case *condtree.Not:
		sql, err := c.predicate(node.Condition)
		if err != nil {
			return "", err
		}
		// Two-valued like Match: a NULL comparison under NOT is true.
		return "NOT COALESCE(" + sql + ", 0)", nil
	case *condtree.Leaf:
		return c.leaf(node)
	default:
		return "", fmt.Errorf("unsupported node type: %T", n)
	}
}

// bind adds a parameter and returns its placeholder.
func (c *compiler) bind(col *schema.ColumnSchema, v any) (string, error) {
	p, err := toParam(col.ColumnType, v)
	if err != nil {
		return "", err
	}
	c.params = append(c.params, p)
	return "?", nil
}

func (c *compiler) leaf(l *condtree.Leaf) (string, error) {
	ref, col, err := c.column(l.Field)
	if err != nil {
		return "", err
	}

	switch l.Operator {
	case schema.Equal:
		if l.Value == nil {
			return ref + " IS NULL", nil
		}
		ph, err := c.bind(col, l.Value)
		return fmt.Sprintf("%s = %s", ref, ph), err
	case schema.NotEqual:
		if l.Value == nil {
			return ref + " IS NOT NULL", nil
		}
		ph, err := c.bind(col, l.Value)
		return fmt.Sprintf("(%s IS NULL OR %s <> %s)", ref, ref, ph), err
	case schema.In, schema.NotIn:
		return c.in(ref, col, l)
	case schema.Missing:
		return ref + " IS NULL", nil
	case schema.Blank:
		return fmt.Sprintf("(%s IS NULL OR %s = '')", ref, ref), nil
	case schema.Present:
		return fmt.Sprintf("(%s IS NOT NULL AND %s <> '')", ref, ref), nil
	case schema.LessThan, schema.GreaterThan, schema.LessThanOrEqual, schema.GreaterThanOrEqual:
		ph, err := c.bind(col, l.Value)
		return fmt.Sprintf("%s %s %s", ref, comparisons[l.Operator], ph), err
	case schema.Contains, schema.IContains:
		return c.glob(ref, true, "*"+globEscape(fold(l.Value))+"*")
	case schema.NotContains, schema.NotIContains:
		sql, err := c.glob(ref, true, "*"+globEscape(fold(l.Value))+"*")
		return fmt.Sprintf("(%s IS NULL OR NOT %s)", ref, sql), err
	case schema.StartsWith:
		return c.glob(ref, false, globEscape(str(l.Value))+"*")
	case schema.EndsWith:
		return c.glob(ref, false, "*"+globEscape(str(l.Value)))
	case schema.IStartsWith:
		return c.glob(ref, true, globEscape(fold(l.Value))+"*")
	case schema.IEndsWith:
		return c.glob(ref, true, "*"+globEscape(fold(l.Value)))
	case schema.Like:
		return c.glob(ref, false, likeToGlob(str(l.Value)))
	case schema.ILike:
		return c.glob(ref, true, likeToGlob(fold(l.Value)))
	case schema.Match:
		c.params = append(c.params, str(l.Value))
		return fmt.Sprintf("%s REGEXP ?", ref), nil
	case schema.LongerThan:
		c.params = append(c.params, l.Value)
		return fmt.Sprintf("length(%s) > ?", ref), nil
	case schema.ShorterThan:
		c.params = append(c.params, l.Value)
		return fmt.Sprintf("length(%s) < ?", ref), nil
	case schema.IncludesAll, schema.IncludesNone:
		return c.includes(ref, l)
	default:
		return "", datasource.NewUnsupportedOperatorError(c.root.name, l.Field, l.Operator)
	}
}

var comparisons = map[schema.Operator]string{
	schema.LessThan:           "<",
	schema.GreaterThan:        ">",
	schema.LessThanOrEqual:    "<=",
	schema.GreaterThanOrEqual: ">=",
}

// glob matches with GLOB, which is case-sensitive. Case-insensitive forms
// fold both sides with the registered fold() function.
func (c *compiler) glob(ref string, insensitive bool, pattern string) (string, error) {
	c.params = append(c.params, pattern)
	if insensitive {
		return fmt.Sprintf("fold(%s) GLOB ?", ref), nil
	}
	return fmt.Sprintf("%s GLOB ?", ref), nil
}

// in keeps the in-memory semantics for NULL: a NULL column is "not in" any
// list that does not contain nil.
func (c *compiler) in(ref string, col *schema.ColumnSchema, l *condtree.Leaf) (string, error) {
	values, err := listValue(l.Value)
	if err != nil {
		return "", err
	}
	hasNil := false
	placeholders := []string{}
	for _, v := range values {
		if v == nil {
			hasNil = true
			continue
		}
		ph, err := c.bind(col, v)
		if err != nil {
			return "", err
		}
		placeholders = append(placeholders, ph)
	}

	list := "1 = 0"
	if len(placeholders) > 0 {
		list = fmt.Sprintf("%s IN (%s)", ref, strings.Join(placeholders, ", "))
	}
	if l.Operator == schema.In {
		if hasNil {
			return fmt.Sprintf("(%s IS NULL OR %s)", ref, list), nil
		}
		return list, nil
	}
	if hasNil {
		return fmt.Sprintf("(%s IS NOT NULL AND NOT %s)", ref, list), nil
	}
	return fmt.Sprintf("(%s IS NULL OR NOT %s)", ref, list), nil
}

func (c *compiler) includes(ref string, l *condtree.Leaf) (string, error) {
	values, err := listValue(l.Value)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return ref + " IS NOT NULL", nil
	}
	exists := "EXISTS"
	if l.Operator == schema.IncludesNone {
		exists = "NOT EXISTS"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		c.params = append(c.params, v)
		parts[i] = fmt.Sprintf("%s (SELECT 1 FROM json_each(%s) WHERE json_each.value = ?)", exists, ref)
	}
	// A NULL column includes nothing and excludes nothing.
	return fmt.Sprintf("(%s IS NOT NULL AND %s)", ref, strings.Join(parts, " AND ")), nil
}

func listValue(v any) ([]any, error) {
	switch list := v.(type) {
	case []any:
		return list, nil
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, nil
	case []int:
		out := make([]any, len(list))
		for i, n := range list {
			out[i] = n
		}
		return out, nil
	case []float64:
		out := make([]any, len(list))
		for i, n := range list {
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list value, got %T", v)
	}
}

// storedDateLayout keeps Date columns in UTC with a fixed width so text
// order is time order.
const storedDateLayout = "2006-01-02T15:04:05.000Z"

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

// toParam converts a Go value to what the column stores.
func toParam(t schema.PrimitiveType, v any) (any, error) {
	switch t {
	case schema.TypeDate:
		switch d := v.(type) {
		case time.Time:
			return d.UTC().Format(storedDateLayout), nil
		case string:
			for _, layout := range dateLayouts {
				if parsed, err := time.Parse(layout, d); err == nil {
					return parsed.UTC().Format(storedDateLayout), nil
				}
			}
			return nil, fmt.Errorf("invalid date %q", d)
		}
	case schema.TypeDateonly:
		if d, ok := v.(time.Time); ok {
			return d.Format("2006-01-02"), nil
		}
	case schema.TypeJSON:
		if v == nil {
			return nil, nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return string(data), nil
	case schema.TypeBoolean:
		switch b := v.(type) {
		case bool:
			if b {
				return 1, nil
			}
			return 0, nil
		case string:
			switch strings.ToLower(b) {
			case "true":
				return 1, nil
			case "false":
				return 0, nil
			}
		}
	}
	return v, nil
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// fold applies Unicode case folding. A Caser is not safe for concurrent
// use, so one is made per call.
func fold(v any) string {
	return cases.Fold().String(str(v))
}

// globEscape quotes the GLOB metacharacters of s.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[':
			b.WriteByte('[')
			b.WriteRune(r)
			b.WriteByte(']')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// likeToGlob translates a LIKE pattern ('%' any run, '_' one rune).
func likeToGlob(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteByte('*')
		case '_':
			b.WriteByte('?')
		default:
			b.WriteString(globEscape(string(r)))
		}
	}
	return b.String()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
