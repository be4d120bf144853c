package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/modelapi/core/fields"
	"github.com/artpar/modelapi/core/model"
)

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	opts    Options
}

// OpenSQLite opens (or creates) a SQLite database file. ":memory:" gives a
// private in-memory database held by a single connection.
func OpenSQLite(path string, opts Options) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	return NewSQLStore(db, SQLite, opts), nil
}

// OpenPostgres connects to PostgreSQL through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewSQLStore(db, Postgres, opts), nil
}

// NewSQLStore wraps an existing connection pool.
func NewSQLStore(db *sql.DB, d Dialect, opts Options) *SQLStore {
	return &SQLStore{db: db, dialect: d, opts: opts}
}

// DB returns the underlying connection pool.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Ping verifies the database connection is alive.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Dialect returns the store's SQL dialect.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// EnsureTable implements Migrator.
func (s *SQLStore) EnsureTable(ctx context.Context, m *model.Model) error {
	if _, err := s.db.ExecContext(ctx, BuildCreateTableSQL(s.dialect, m)); err != nil {
		return fmt.Errorf("create table %s: %w", m.Table, err)
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func selectList(m *model.Model) string {
	cols := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		cols[i] = quote(c.Name)
	}
	return strings.Join(cols, ", ")
}

func (s *SQLStore) query(ctx context.Context, m *model.Model, where string, args ...any) ([]*model.Instance, error) {
	pk := m.PrimaryKey()
	if pk == nil {
		return nil, fmt.Errorf("model %s has no primary key", m.Table)
	}

	q := fmt.Sprintf("SELECT %s FROM %s", selectList(m), quote(m.Table))
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY " + quote(pk.Name)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", m.Table, err)
	}
	defer rows.Close()

	out := []*model.Instance{}
	for rows.Next() {
		inst, err := scanInstance(rows, m)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", m.Table, err)
	}
	return out, nil
}

func scanInstance(rows *sql.Rows, m *model.Model) (*model.Instance, error) {
	raw := make([]any, len(m.Columns))
	ptrs := make([]any, len(m.Columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan %s: %w", m.Table, err)
	}

	inst := model.NewInstance(m)
	for i := range m.Columns {
		c := &m.Columns[i]
		v, err := fromDB(c, raw[i])
		if err != nil {
			return nil, fmt.Errorf("scan %s.%s: %w", m.Table, c.Name, err)
		}
		inst.Values[c.Name] = v
	}
	return inst, nil
}

// FetchAll implements Store.
func (s *SQLStore) FetchAll(ctx context.Context, m *model.Model) ([]*model.Instance, error) {
	return s.query(ctx, m, "")
}

// FetchWhere implements Store.
func (s *SQLStore) FetchWhere(ctx context.Context, m *model.Model, column string, value any) ([]*model.Instance, error) {
	c, ok := m.Column(column)
	if !ok {
		return nil, fmt.Errorf("query %s: unknown column %q", m.Table, column)
	}
	arg, err := toDB(c, value)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, m, quote(c.Name)+" = "+s.dialect.Placeholder(1), arg)
}

// FetchByKey implements Store.
func (s *SQLStore) FetchByKey(ctx context.Context, m *model.Model, key any) (*model.Instance, error) {
	k, err := normalizeKey(m, key)
	if err != nil || k == nil {
		return nil, nil
	}
	pk := m.PrimaryKey()
	arg, err := toDB(pk, k)
	if err != nil {
		return nil, err
	}

	found, err := s.query(ctx, m, quote(pk.Name)+" = "+s.dialect.Placeholder(1), arg)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

// Begin implements Store.
func (s *SQLStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &sqlTx{tx: tx, store: s}, nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sqlTx struct {
	tx    *sql.Tx
	store *SQLStore
}

func (t *sqlTx) Insert(ctx context.Context, inst *model.Instance) error {
	m := inst.Model
	if err := t.store.opts.generateKey(inst); err != nil {
		return err
	}
	pk := m.PrimaryKey()
	d := t.store.dialect

	var (
		cols, marks []string
		args        []any
	)
	for i := range m.Columns {
		c := &m.Columns[i]
		v, ok := inst.Values[c.Name]
		if !ok || (c == pk && v == nil) {
			continue
		}
		arg, err := toDB(c, v)
		if err != nil {
			return err
		}
		cols = append(cols, quote(c.Name))
		args = append(args, arg)
		marks = append(marks, d.Placeholder(len(args)))
	}

	var q string
	if len(cols) == 0 {
		q = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", quote(m.Table), quote(pk.Name))
	} else {
		q = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			quote(m.Table), strings.Join(cols, ", "), strings.Join(marks, ", "), quote(pk.Name))
	}

	var key any
	if err := t.tx.QueryRowContext(ctx, q, args...).Scan(&key); err != nil {
		return fmt.Errorf("insert %s: %w", m.Table, err)
	}
	k, err := fromDB(pk, key)
	if err != nil {
		return fmt.Errorf("insert %s: %w", m.Table, err)
	}
	inst.SetKey(k)
	return nil
}

func (t *sqlTx) Update(ctx context.Context, inst *model.Instance) error {
	m := inst.Model
	pk := m.PrimaryKey()
	d := t.store.dialect

	var (
		sets []string
		args []any
	)
	for i := range m.Columns {
		c := &m.Columns[i]
		if c.PrimaryKey {
			continue
		}
		v, ok := inst.Values[c.Name]
		if !ok {
			continue
		}
		arg, err := toDB(c, v)
		if err != nil {
			return err
		}
		args = append(args, arg)
		sets = append(sets, quote(c.Name)+" = "+d.Placeholder(len(args)))
	}
	if len(sets) == 0 {
		sets = append(sets, quote(pk.Name)+" = "+quote(pk.Name))
	}

	key, err := toDB(pk, inst.Key())
	if err != nil {
		return err
	}
	args = append(args, key)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		quote(m.Table), strings.Join(sets, ", "), quote(pk.Name), d.Placeholder(len(args)))

	return t.exec(ctx, "update", m, q, args...)
}

func (t *sqlTx) Delete(ctx context.Context, inst *model.Instance) error {
	m := inst.Model
	pk := m.PrimaryKey()
	key, err := toDB(pk, inst.Key())
	if err != nil {
		return err
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", quote(m.Table), quote(pk.Name), t.store.dialect.Placeholder(1))
	return t.exec(ctx, "delete", m, q, key)
}

func (t *sqlTx) exec(ctx context.Context, op string, m *model.Model, q string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, m.Table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, m.Table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, m.Table, ErrNotFound)
	}
	return nil
}

func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// toDB converts a normalized value into a driver argument.
func toDB(c *model.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Type {
	case model.TypeDate:
		if t, ok := v.(time.Time); ok {
			return t.Format(fields.DateLayout), nil
		}
	case model.TypeTime:
		if t, ok := v.(time.Time); ok {
			return t.Format(fields.TimeLayout), nil
		}
	case model.TypeDateTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}
	case model.TypeJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", c.Name, err)
		}
		return string(b), nil
	}
	return v, nil
}

// fromDB converts a driver value into the normalized value of column c.
func fromDB(c *model.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if c.Type == model.TypeJSON {
		var b []byte
		switch x := v.(type) {
		case []byte:
			b = x
		case string:
			b = []byte(x)
		default:
			return v, nil
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	if b, ok := v.([]byte); ok {
		if c.Type == model.TypeUUID && len(b) == 16 {
			id, err := uuid.FromBytes(b)
			if err != nil {
				return nil, err
			}
			return id.String(), nil
		}
		v = string(b)
	}
	if b, ok := v.([16]byte); ok {
		return uuid.UUID(b).String(), nil
	}

	switch c.Type {
	case model.TypeString, model.TypeText, model.TypeEmail, model.TypeURL, model.TypeSecret, model.TypeULID:
		return fmt.Sprint(v), nil
	case model.TypeTime:
		if s, ok := v.(string); ok {
			for _, layout := range []string{fields.TimeLayout, "15:04:05.999999999"} {
				if t, err := time.Parse(layout, s); err == nil {
					return t, nil
				}
			}
		}
	case model.TypeDateTime:
		if s, ok := v.(string); ok {
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
				if t, err := time.Parse(layout, s); err == nil {
					return t.UTC(), nil
				}
			}
		}
	}
	return c.Type.Kind().Deserialize(v)
}
