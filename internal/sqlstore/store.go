// Package sqlstore is a native collection adapter over SQLite. Each
// collection is a table; condition trees compile to parameterized SQL.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/schema"
)

// driverName is the sqlite3 driver with the functions the compiler emits.
const driverName = "sieve_sqlite3"

// Schema version tracking:
// 1 - sieve_collections catalog
const currentSchemaVersion = 1

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("regexp", regexpFunc, true); err != nil {
				return fmt.Errorf("register regexp: %w", err)
			}
			if err := conn.RegisterFunc("fold", foldFunc, true); err != nil {
				return fmt.Errorf("register fold: %w", err)
			}
			return nil
		},
	})
}

var regexpCache sync.Map // pattern -> *regexp.Regexp

// regexpFunc backs "x REGEXP pattern", which SQLite calls as
// regexp(pattern, x).
func regexpFunc(pattern string, value any) (bool, error) {
	s, ok := value.(string)
	if !ok {
		if b, isBytes := value.([]byte); isBytes {
			s, ok = string(b), true
		}
	}
	if !ok {
		return false, nil
	}
	re, err := compileCached(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(s), nil
}

func compileCached(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexpCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexpCache.Store(pattern, re)
	return re, nil
}

func foldFunc(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return fold(string(v))
	default:
		return fold(v)
	}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger compiled queries are logged to at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Store is a SQLite-backed data source.
type Store struct {
	*datasource.Static
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens a SQLite database at the given path. ":memory:"
// opens a private in-memory database.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, and an in-memory database
	// exists per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{Static: datasource.NewStatic(), db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates the catalog and records the schema version.
func applySchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sieve_collections (
			name       TEXT PRIMARY KEY,
			definition TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create catalog: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

var sqlTypes = map[schema.PrimitiveType]string{
	schema.TypeBoolean:  "INTEGER",
	schema.TypeNumber:   "NUMERIC",
	schema.TypeJSON:     "TEXT",
	schema.TypeBinary:   "BLOB",
	schema.TypeString:   "TEXT",
	schema.TypeDate:     "TEXT",
	schema.TypeDateonly: "TEXT",
	schema.TypeTimeonly: "TEXT",
	schema.TypeEnum:     "TEXT",
	schema.TypeUUID:     "TEXT",
	schema.TypePoint:    "TEXT",
}

// CreateCollection creates the table behind a collection, or reuses it when
// a previous run created it with the same columns.
//
// Every declared filter operator must be one the compiler evaluates; see
// NativeOperators.
func (s *Store) CreateCollection(ctx context.Context, name string, cs schema.CollectionSchema) (*Collection, error) {
	columns := cs.ColumnNames()
	if len(columns) == 0 {
		return nil, datasource.NewConfigurationError(name, "", "collection has no columns")
	}

	definition := map[string]schema.PrimitiveType{}
	defs := make([]string, 0, len(columns)+1)
	for _, col := range columns {
		c := cs.Column(col)
		native := NativeOperators(c.ColumnType)
		for _, op := range c.FilterOperators.Sorted() {
			if !native.Has(op) {
				return nil, datasource.NewConfigurationError(name, col, "operator %s cannot be evaluated natively on a %s column", op, c.ColumnType)
			}
		}
		sqlType, ok := sqlTypes[c.ColumnType]
		if !ok {
			return nil, datasource.NewConfigurationError(name, col, "unsupported column type %q", c.ColumnType)
		}
		definition[col] = c.ColumnType
		defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(col), sqlType))
	}
	if pks := cs.PrimaryKeys(); len(pks) > 0 {
		quoted := make([]string, len(pks))
		for i, pk := range pks {
			quoted[i] = quoteIdent(pk)
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}

	// json.Marshal sorts map keys, so equal definitions encode equally.
	encoded, err := json.Marshal(definition)
	if err != nil {
		return nil, fmt.Errorf("encode definition: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, "SELECT definition FROM sieve_collections WHERE name = ?", name).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("create table %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO sieve_collections (name, definition) VALUES (?, ?)", name, string(encoded)); err != nil {
			return nil, fmt.Errorf("record collection %s: %w", name, err)
		}
	case err != nil:
		return nil, fmt.Errorf("read catalog: %w", err)
	case existing != string(encoded):
		return nil, datasource.NewConfigurationError(name, "", "table exists with different columns: %s", existing)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	c := &Collection{name: name, schema: cs, store: s}
	if err := s.Add(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) collection(name string) (*Collection, error) {
	c, err := s.GetCollection(name)
	if err != nil {
		return nil, err
	}
	sc, ok := c.(*Collection)
	if !ok {
		return nil, fmt.Errorf("collection %q is not stored in sqlite", name)
	}
	return sc, nil
}

// Collection is a SQLite table.
type Collection struct {
	name   string
	schema schema.CollectionSchema
	store  *Store
}

// Name implements datasource.Collection.
func (c *Collection) Name() string { return c.name }

// Schema implements datasource.Collection.
func (c *Collection) Schema() schema.CollectionSchema { return c.schema }

// DataSource implements datasource.Collection.
func (c *Collection) DataSource() datasource.DataSource { return c.store }

// Insert writes records in one transaction. Fields that are not columns
// are rejected.
func (c *Collection) Insert(ctx context.Context, records ...schema.Record) error {
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		cols := make([]string, 0, len(rec))
		for _, name := range c.schema.ColumnNames() {
			if _, ok := rec[name]; ok {
				cols = append(cols, name)
			}
		}
		if len(cols) != len(rec) {
			for field := range rec {
				if c.schema.Column(field) == nil {
					return datasource.NewValidationError(c.name, field, fmt.Errorf("field %q is not a column", field))
				}
			}
		}
		if len(cols) == 0 {
			continue
		}

		quoted := make([]string, len(cols))
		placeholders := make([]string, len(cols))
		params := make([]any, len(cols))
		for i, col := range cols {
			quoted[i] = quoteIdent(col)
			placeholders[i] = "?"
			p, err := toParam(c.schema.Column(col).ColumnType, rec[col])
			if err != nil {
				return datasource.NewValidationError(c.name, col, err)
			}
			params[i] = p
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoteIdent(c.name), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
		if _, err := tx.ExecContext(ctx, query, params...); err != nil {
			return fmt.Errorf("insert into %s: %w", c.name, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored records.
func (c *Collection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.store.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(c.name))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c.name, err)
	}
	return n, nil
}

// List implements datasource.Collection.
func (c *Collection) List(ctx context.Context, _ *datasource.Caller, filter *datasource.Filter, projection schema.Projection) ([]schema.Record, error) {
	if err := datasource.ValidateTree(filter.Tree(), c); err != nil {
		return nil, err
	}
	q, err := compileList(c, filter, projection)
	if err != nil {
		return nil, err
	}
	c.store.logger.Debug("sqlstore list",
		"collection", c.name,
		"sql", q.SQL,
		"params", len(q.Params),
	)

	rows, err := c.store.db.QueryContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.name, err)
	}
	defer rows.Close()

	records := []schema.Record{}
	for rows.Next() {
		values := make([]any, len(q.Columns))
		ptrs := make([]any, len(values))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.name, err)
		}
		rec, err := c.decode(q.Columns, values)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", c.name, err)
	}
	return records, nil
}

// decode builds a record from one row. Relation paths nest; a related
// record whose selected columns are all NULL decodes to nil.
func (c *Collection) decode(columns []string, values []any) (schema.Record, error) {
	rec := schema.Record{}
	for i, path := range columns {
		col, err := datasource.GetColumn(c, path)
		if err != nil {
			return nil, err
		}
		v, err := fromColumn(col.ColumnType, values[i])
		if err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", c.name, path, err)
		}
		setPath(rec, path, v)
	}
	pruneEmpty(rec)
	return rec, nil
}

func setPath(rec schema.Record, path string, v any) {
	head, rest, nested := strings.Cut(path, ":")
	if !nested {
		rec[head] = v
		return
	}
	sub, ok := rec[head].(schema.Record)
	if !ok {
		sub = schema.Record{}
		rec[head] = sub
	}
	setPath(sub, rest, v)
}

// pruneEmpty reports whether rec holds only nils, replacing such nested
// records with nil on the way.
func pruneEmpty(rec schema.Record) bool {
	empty := true
	for k, v := range rec {
		if sub, ok := v.(schema.Record); ok {
			if pruneEmpty(sub) {
				rec[k] = nil
				continue
			}
			empty = false
			continue
		}
		if v != nil {
			empty = false
		}
	}
	return empty
}

func fromColumn(t schema.PrimitiveType, v any) (any, error) {
	if b, ok := v.([]byte); ok && t != schema.TypeBinary {
		v = string(b)
	}
	if v == nil {
		return nil, nil
	}
	switch t {
	case schema.TypeBoolean:
		if n, ok := v.(int64); ok {
			return n != 0, nil
		}
	case schema.TypeJSON:
		if s, ok := v.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err != nil {
				return nil, err
			}
			return out, nil
		}
	}
	return v, nil
}
