// Package sqlstore is a storage adapter for PostgreSQL and SQLite. Each
// resource type maps onto one table; queries are compiled to SQL and
// staged writes are applied in one database transaction on commit.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" driver
	"go.uber.org/zap"

	"github.com/conduit-lang/japi/internal/orm/schema"
	"github.com/conduit-lang/japi/internal/orm/storage"
)

// DB is the subset of *sql.DB the store needs
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Store is a SQL storage.Adapter
type Store struct {
	db        DB
	dialect   Dialect
	registry  *schema.Registry
	tables    map[string]*Table
	evaluator *storage.Evaluator
	retry     RetryConfig
	log       *zap.Logger
	newID     func() string
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger for statement tracing
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// WithRetry overrides the commit retry policy
func WithRetry(config RetryConfig) Option {
	return func(s *Store) {
		s.retry = config
	}
}

// WithIDGenerator replaces the uuid generator used for new resources
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// New creates a store over an open database
func New(db DB, dialect Dialect, registry *schema.Registry, tables []*Table, opts ...Option) (*Store, error) {
	s := &Store{
		db:        db,
		dialect:   dialect,
		registry:  registry,
		tables:    make(map[string]*Table, len(tables)),
		evaluator: storage.NewEvaluator(registry),
		retry:     DefaultRetryConfig(),
		log:       zap.NewNop(),
		newID:     func() string { return uuid.New().String() },
	}
	for _, t := range tables {
		if !registry.Has(t.Type) {
			return nil, fmt.Errorf("table %s maps unknown type %s", t.Name, t.Type)
		}
		if _, dup := s.tables[t.Type]; dup {
			return nil, fmt.Errorf("type %s is mapped twice", t.Type)
		}
		s.tables[t.Type] = t
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open connects to the database named by driver and dsn
func Open(ctx context.Context, driver, dsn string) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, 0, err
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == SQLite {
		// One connection keeps in-memory databases alive and avoids
		// SQLITE_BUSY on concurrent writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, 0, fmt.Errorf("failed to connect to %s database: %w", dialect, err)
	}
	return db, dialect, nil
}

// Migrate creates the tables that do not exist yet
func (s *Store) Migrate(ctx context.Context) error {
	for _, name := range s.tableTypes() {
		stmt := s.tables[name].CreateStatement(s.dialect)
		s.log.Debug("migrate", zap.String("sql", stmt))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table %s: %w", s.tables[name].Name, err)
		}
	}
	return nil
}

func (s *Store) tableTypes() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// familyTables returns the tables of typename and its mapped subtypes
func (s *Store) familyTables(typename string) ([]*Table, error) {
	var out []*Table
	for _, name := range s.registry.Family(typename) {
		if t, ok := s.tables[name]; ok {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no table for type %s", typename)
	}
	return out, nil
}

func (s *Store) table(typename string) (*Table, error) {
	t, ok := s.tables[typename]
	if !ok {
		return nil, fmt.Errorf("no table for type %s", typename)
	}
	return t, nil
}

// Begin implements storage.Adapter
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	return &tx{store: s}, nil
}

func (s *Store) query(ctx context.Context, query string, args []any) ([]map[string]any, error) {
	s.log.Debug("query", zap.String("sql", query), zap.Int("args", len(args)))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *Store) materialize(t *Table, record map[string]any) (any, error) {
	data, err := decode(t, record)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s row: %w", t.Type, err)
	}
	rt, err := s.registry.Get(t.Type)
	if err != nil {
		return nil, err
	}
	r := rt.New()
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to decode %s row: %w", t.Type, err)
	}
	return r, nil
}

// selectFrom runs a filtered, sorted and paginated select on one table
func (s *Store) selectFrom(ctx context.Context, typename string, t *Table, q storage.Query) ([]any, error) {
	b := newBuilder(s.dialect, t)
	for _, f := range q.Filters {
		if err := b.filter(typename, f); err != nil {
			return nil, err
		}
	}
	for _, o := range q.Sort {
		if err := b.orderBy(typename, o); err != nil {
			return nil, err
		}
	}

	records, err := s.query(ctx, b.selectSQL(q.Limit, q.Offset), b.args)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(records))
	for _, rec := range records {
		r, err := s.materialize(t, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

type tx struct {
	store   *Store
	saves   []any
	deletes []any
	done    bool
}

// Query compiles q to SQL. Types with mapped subtypes are read table by
// table and merged, sorted and paginated in memory.
func (t *tx) Query(ctx context.Context, typename string, q storage.Query) ([]any, error) {
	s := t.store
	tables, err := s.familyTables(typename)
	if err != nil {
		return nil, err
	}
	if len(tables) == 1 {
		return s.selectFrom(ctx, typename, tables[0], q)
	}

	var merged []any
	for _, table := range tables {
		rows, err := s.selectFrom(ctx, typename, table, storage.Query{Filters: q.Filters, Sort: q.Sort})
		if err != nil {
			return nil, err
		}
		merged = append(merged, rows...)
	}
	sorts := q.Sort
	if len(sorts) == 0 {
		sorts = []storage.Sort{{Field: "id"}}
	}
	if err := s.evaluator.Sort(typename, merged, sorts); err != nil {
		return nil, err
	}
	return storage.Paginate(merged, q.Limit, q.Offset), nil
}

func (t *tx) QuerySize(ctx context.Context, typename string, filters []storage.Filter) (int, error) {
	s := t.store
	tables, err := s.familyTables(typename)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, table := range tables {
		b := newBuilder(s.dialect, table)
		for _, f := range filters {
			if err := b.filter(typename, f); err != nil {
				return 0, err
			}
		}
		var n int
		if err := s.db.QueryRowContext(ctx, b.countSQL(), b.args...).Scan(&n); err != nil {
			return 0, fmt.Errorf("count failed: %w", err)
		}
		total += n
	}
	return total, nil
}

// GetMany issues one select per table involved
func (t *tx) GetMany(ctx context.Context, ids []schema.Identifier) (map[schema.Identifier]any, error) {
	s := t.store

	// table type -> requested ids, in first-seen order
	wanted := make(map[string][]string)
	owners := make(map[schema.Identifier][]schema.Identifier)
	var order []string
	for _, id := range ids {
		tables, err := s.familyTables(id.Type)
		if err != nil {
			return nil, err
		}
		for _, table := range tables {
			key := schema.Identifier{Type: table.Type, ID: id.ID}
			if _, ok := wanted[table.Type]; !ok {
				order = append(order, table.Type)
			}
			if len(owners[key]) == 0 {
				wanted[table.Type] = append(wanted[table.Type], id.ID)
			}
			owners[key] = append(owners[key], id)
		}
	}

	result := make(map[schema.Identifier]any, len(ids))
	for _, typename := range order {
		table := s.tables[typename]
		b := newBuilder(s.dialect, table)
		b.whereIDs(wanted[typename])
		records, err := s.query(ctx, "SELECT * FROM "+b.from()+b.where(), b.args)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			r, err := s.materialize(table, rec)
			if err != nil {
				return nil, err
			}
			key := schema.Identifier{Type: typename, ID: textValue(rec["id"])}
			for _, owner := range owners[key] {
				if _, taken := result[owner]; !taken {
					result[owner] = r
				}
			}
		}
	}
	return result, nil
}

func (t *tx) Save(ctx context.Context, resources ...any) error {
	if t.done {
		return storage.ErrSessionClosed
	}
	t.saves = append(t.saves, resources...)
	return nil
}

func (t *tx) Delete(ctx context.Context, resources ...any) error {
	if t.done {
		return storage.ErrSessionClosed
	}
	t.deletes = append(t.deletes, resources...)
	return nil
}

type statement struct {
	sql  string
	args []any
}

// Commit runs every staged delete and upsert in one transaction
func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return storage.ErrSessionClosed
	}
	t.done = true
	s := t.store

	var stmts []statement
	for _, r := range t.deletes {
		rt, err := s.registry.TypeOf(r)
		if err != nil {
			return err
		}
		table, err := s.table(rt.Name)
		if err != nil {
			return err
		}
		b := newBuilder(s.dialect, table)
		stmts = append(stmts, statement{b.deleteSQL(rt.ID(r)), b.args})
	}
	for _, r := range t.saves {
		rt, err := s.registry.TypeOf(r)
		if err != nil {
			return err
		}
		table, err := s.table(rt.Name)
		if err != nil {
			return err
		}
		if rt.ID(r) == "" {
			if err := rt.SetID(r, s.newID()); err != nil {
				return err
			}
		}
		values, err := encode(table, r)
		if err != nil {
			return err
		}
		b := newBuilder(s.dialect, table)
		stmts = append(stmts, statement{b.upsertSQL(values), b.args})
	}
	t.saves, t.deletes = nil, nil

	if len(stmts) == 0 {
		return nil
	}
	return withRetry(ctx, s.db, s.retry, func(sqlTx *sql.Tx) error {
		for _, stmt := range stmts {
			s.log.Debug("exec", zap.String("sql", stmt.sql), zap.Int("args", len(stmt.args)))
			if _, err := sqlTx.ExecContext(ctx, stmt.sql, stmt.args...); err != nil {
				return fmt.Errorf("exec failed: %w", err)
			}
		}
		return nil
	})
}

func (t *tx) Rollback(ctx context.Context) error {
	t.done = true
	t.saves, t.deletes = nil, nil
	return nil
}
