package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/store"
)

// Dialect holds the differences between the SQL databases the store runs on.
type Dialect struct {
	Name string
	// Schema prefixes table names when set.
	Schema string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Returning reads new ids with RETURNING id instead of LastInsertId.
	Returning  bool
	IDColumn   string
	ColumnType func(f domain.FieldType, maxLength int) string
	// BoolAsInt stores booleans as 1/0.
	BoolAsInt bool
}

// Store is an EntityStore over database/sql. Tables follow the catalog: one table per
// entity with an integer id, foreign key columns for to-one relations and a link table
// per many-to-many relation.
type Store struct {
	db      *sql.DB
	catalog *domain.Catalog
	dialect Dialect
}

func New(db *sql.DB, catalog *domain.Catalog, dialect Dialect) *Store {
	return &Store{db: db, catalog: catalog, dialect: dialect}
}

var _ store.EntityStore = (*Store)(nil)

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Schema(entity string) (*domain.EntitySchema, error) {
	return s.catalog.Entity(entity)
}

func (s *Store) table(name string) string {
	if s.dialect.Schema != "" {
		return s.dialect.Schema + "." + name
	}
	return name
}

func (s *Store) placeholders(from, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s.dialect.Placeholder(from + i)
	}
	return out
}

// EnsureSchema creates missing entity and link tables plus lookup indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for i := range s.catalog.Entities {
		e := &s.catalog.Entities[i]
		cols := store.Columns(s.catalog, e)
		defs := []string{s.dialect.IDColumn}
		maxLen := make(map[string]int)
		for _, f := range e.Fields {
			maxLen[f.Name] = f.MaxLength
		}
		for _, c := range cols {
			defs = append(defs, fmt.Sprintf("%s %s", c.Name, s.dialect.ColumnType(c.Type, maxLen[c.Name])))
		}
		createSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.table(e.TableName()), strings.Join(defs, ", "))
		if _, err := s.db.ExecContext(ctx, createSQL); err != nil {
			return fmt.Errorf("create table %s: %w", e.TableName(), err)
		}

		indexed := append([]string{}, e.UniqueKeys...)
		for _, rel := range e.Relations {
			if rel.Kind == domain.RelationBelongsTo {
				indexed = append(indexed, rel.ForeignKeyFor(e.Name))
			}
		}
		for _, col := range indexed {
			idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", e.TableName(), col, s.table(e.TableName()), col)
			if _, err := s.db.ExecContext(ctx, idx); err != nil {
				return fmt.Errorf("create index on %s.%s: %w", e.TableName(), col, err)
			}
		}

		for _, rel := range e.Relations {
			if rel.Kind != domain.RelationManyToMany {
				continue
			}
			pivot, local, related := rel.Pivot(e.Name)
			pdefs := []string{local + " BIGINT NOT NULL", related + " BIGINT NOT NULL"}
			for _, f := range rel.PivotFields {
				pdefs = append(pdefs, f+" TEXT")
			}
			pdefs = append(pdefs, fmt.Sprintf("PRIMARY KEY (%s, %s)", local, related))
			pivotSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.table(pivot), strings.Join(pdefs, ", "))
			if _, err := s.db.ExecContext(ctx, pivotSQL); err != nil {
				return fmt.Errorf("create link table %s: %w", pivot, err)
			}
		}
	}
	return nil
}

type entityMeta struct {
	schema *domain.EntitySchema
	cols   []store.Column
	types  map[string]domain.FieldType
}

func (s *Store) meta(entity string) (*entityMeta, error) {
	schema, err := s.catalog.Entity(entity)
	if err != nil {
		return nil, err
	}
	cols := store.Columns(s.catalog, schema)
	types := make(map[string]domain.FieldType, len(cols)+1)
	types["id"] = domain.FieldTypeInt
	for _, c := range cols {
		types[c.Name] = c.Type
	}
	return &entityMeta{schema: schema, cols: cols, types: types}, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) encode(v any) any {
	switch t := v.(type) {
	case time.Time:
		if s.dialect.BoolAsInt {
			return t.Format(time.RFC3339)
		}
		return t
	case bool:
		if s.dialect.BoolAsInt {
			if t {
				return 1
			}
			return 0
		}
		return t
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return v
	}
}

func decode(t domain.FieldType, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch t {
	case domain.FieldTypeBool:
		if n, ok := v.(int64); ok {
			return n != 0
		}
	case domain.FieldTypeDate:
		if tm, ok := v.(time.Time); ok {
			return tm.Format("2006-01-02")
		}
	case domain.FieldTypeTimestamp:
		if tm, ok := v.(time.Time); ok {
			return tm.Format(time.RFC3339)
		}
	}
	return v
}

func (s *Store) Create(ctx context.Context, entity string, attrs map[string]any) (int64, error) {
	m, err := s.meta(entity)
	if err != nil {
		return 0, err
	}
	clean, err := store.Filter(m.cols, attrs)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", entity, err)
	}

	keys := sortedKeys(clean)
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = s.encode(clean[k])
	}
	var insertSQL string
	if len(keys) == 0 {
		insertSQL = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", s.table(m.schema.TableName()))
	} else {
		insertSQL = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			s.table(m.schema.TableName()), strings.Join(keys, ", "), strings.Join(s.placeholders(1, len(keys)), ", "))
	}

	if s.dialect.Returning {
		var id int64
		if err := s.db.QueryRowContext(ctx, insertSQL+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("create %s: %w", entity, err)
		}
		return id, nil
	}
	res, err := s.db.ExecContext(ctx, insertSQL, args...)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", entity, err)
	}
	return res.LastInsertId()
}

func (s *Store) Update(ctx context.Context, entity string, id int64, attrs map[string]any) error {
	m, err := s.meta(entity)
	if err != nil {
		return err
	}
	clean, err := store.Filter(m.cols, attrs)
	if err != nil {
		return fmt.Errorf("update %s: %w", entity, err)
	}
	if len(clean) == 0 {
		return nil
	}

	keys := sortedKeys(clean)
	sets := make([]string, len(keys))
	args := make([]any, 0, len(keys)+1)
	for i, k := range keys {
		sets[i] = k + " = " + s.dialect.Placeholder(i+1)
		args = append(args, s.encode(clean[k]))
	}
	args = append(args, id)
	updateSQL := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
		s.table(m.schema.TableName()), strings.Join(sets, ", "), s.dialect.Placeholder(len(keys)+1))

	res, err := s.db.ExecContext(ctx, updateSQL, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", entity, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s %d: %w", entity, id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) selectColumns(m *entityMeta) []string {
	names := make([]string, 0, len(m.cols)+1)
	names = append(names, "id")
	for _, c := range m.cols {
		names = append(names, c.Name)
	}
	return names
}

func (s *Store) query(ctx context.Context, m *entityMeta, where string, args ...any) ([]store.Record, error) {
	names := s.selectColumns(m)
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY id", strings.Join(names, ", "), s.table(m.schema.TableName()), where)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.Record, 0)
	for rows.Next() {
		vals := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(store.Record, len(names))
		for i, name := range names {
			rec[name] = decode(m.types[name], vals[i])
		}
		if id, ok := store.AsID(rec["id"]); ok {
			rec["id"] = id
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, entity string, id int64) (store.Record, error) {
	m, err := s.meta(entity)
	if err != nil {
		return nil, err
	}
	recs, err := s.query(ctx, m, "id = "+s.dialect.Placeholder(1), id)
	if err != nil {
		return nil, fmt.Errorf("get %s %d: %w", entity, id, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("get %s %d: %w", entity, id, store.ErrNotFound)
	}
	return recs[0], nil
}

func (s *Store) FindBy(ctx context.Context, entity, field string, value any) (store.Record, error) {
	recs, err := s.FindAllBy(ctx, entity, field, []any{value})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("find %s by %s: %w", entity, field, store.ErrNotFound)
	}
	return recs[0], nil
}

func (s *Store) FindAllBy(ctx context.Context, entity, field string, values []any) ([]store.Record, error) {
	m, err := s.meta(entity)
	if err != nil {
		return nil, err
	}
	if _, ok := m.types[field]; !ok {
		return nil, fmt.Errorf("find %s: unknown field: %s", entity, field)
	}
	if len(values) == 0 {
		return []store.Record{}, nil
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = s.encode(v)
	}
	where := fmt.Sprintf("%s IN (%s)", field, strings.Join(s.placeholders(1, len(values)), ", "))
	recs, err := s.query(ctx, m, where, args...)
	if err != nil {
		return nil, fmt.Errorf("find %s by %s: %w", entity, field, err)
	}
	return recs, nil
}

type pivotMeta struct {
	table, local, related string
	fields                []string
}

func (s *Store) pivot(entity, relation string) (pivotMeta, error) {
	schema, err := s.catalog.Entity(entity)
	if err != nil {
		return pivotMeta{}, err
	}
	rel, ok := schema.Relation(relation)
	if !ok || rel.Kind != domain.RelationManyToMany {
		return pivotMeta{}, fmt.Errorf("%s has no many_to_many relation %s", entity, relation)
	}
	table, local, related := rel.Pivot(schema.Name)
	return pivotMeta{table: s.table(table), local: local, related: related, fields: rel.PivotFields}, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) readLinks(ctx context.Context, q querier, p pivotMeta, id int64) ([]store.Link, error) {
	cols := append([]string{p.related}, p.fields...)
	rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s ORDER BY %s",
		strings.Join(cols, ", "), p.table, p.local, s.dialect.Placeholder(1), p.related), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.Link, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rid, _ := store.AsID(vals[0])
		attrs := make(map[string]any, len(p.fields))
		for i, f := range p.fields {
			if v := decode(domain.FieldTypeString, vals[i+1]); v != nil {
				attrs[f] = v
			}
		}
		out = append(out, store.Link{ID: rid, Attributes: attrs})
	}
	return out, rows.Err()
}

func (s *Store) Links(ctx context.Context, entity string, id int64, relation string) ([]store.Link, error) {
	p, err := s.pivot(entity, relation)
	if err != nil {
		return nil, err
	}
	return s.readLinks(ctx, s.db, p, id)
}

// SyncLinks reconciles the link table inside one transaction.
func (s *Store) SyncLinks(ctx context.Context, entity string, id int64, relation string, links []store.Link, mode domain.SyncMode) (store.SyncResult, error) {
	p, err := s.pivot(entity, relation)
	if err != nil {
		return store.SyncResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.SyncResult{}, err
	}
	defer tx.Rollback()

	current, err := s.readLinks(ctx, tx, p, id)
	if err != nil {
		return store.SyncResult{}, fmt.Errorf("read links %s.%s: %w", entity, relation, err)
	}
	plan, err := store.Reconcile(current, links, mode)
	if err != nil {
		return store.SyncResult{}, err
	}

	for _, rid := range plan.Detach {
		q := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s",
			p.table, p.local, s.dialect.Placeholder(1), p.related, s.dialect.Placeholder(2))
		if _, err := tx.ExecContext(ctx, q, id, rid); err != nil {
			return store.SyncResult{}, fmt.Errorf("detach %s.%s: %w", entity, relation, err)
		}
	}
	for _, l := range plan.Attach {
		cols := []string{p.local, p.related}
		args := []any{id, l.ID}
		for _, f := range p.fields {
			if v, ok := l.Attributes[f]; ok {
				cols = append(cols, f)
				args = append(args, fmt.Sprint(v))
			}
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", p.table, strings.Join(cols, ", "), strings.Join(s.placeholders(1, len(cols)), ", "))
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return store.SyncResult{}, fmt.Errorf("attach %s.%s: %w", entity, relation, err)
		}
	}
	for _, l := range plan.Update {
		var sets []string
		var args []any
		for _, f := range p.fields {
			if v, ok := l.Attributes[f]; ok {
				args = append(args, fmt.Sprint(v))
				sets = append(sets, f+" = "+s.dialect.Placeholder(len(args)))
			}
		}
		if len(sets) == 0 {
			continue
		}
		args = append(args, id, l.ID)
		q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s AND %s = %s", p.table, strings.Join(sets, ", "),
			p.local, s.dialect.Placeholder(len(args)-1), p.related, s.dialect.Placeholder(len(args)))
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return store.SyncResult{}, fmt.Errorf("update link %s.%s: %w", entity, relation, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return store.SyncResult{}, err
	}
	return plan.Result(), nil
}

// IsNotFound reports store.ErrNotFound or sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
