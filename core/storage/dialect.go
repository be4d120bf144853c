package storage

import (
	"fmt"
	"strings"

	"github.com/artpar/modelapi/core/model"
)

// Dialect captures the SQL differences between supported databases.
type Dialect interface {
	Name() string
	Placeholder(n int) string
	ColumnType(c *model.Column) string
	GeneratedKey(c *model.Column) string
}

// SQLite is the dialect of mattn/go-sqlite3.
var SQLite Dialect = sqliteDialect{}

// Postgres is the dialect of PostgreSQL through pgx.
var Postgres Dialect = postgresDialect{}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) ColumnType(c *model.Column) string {
	switch c.Type {
	case model.TypeInteger:
		return "INTEGER"
	case model.TypeFloat:
		return "REAL"
	case model.TypeBoolean:
		return "BOOLEAN"
	case model.TypeDate:
		return "DATE"
	case model.TypeDateTime:
		return "DATETIME"
	}
	// decimals stay TEXT so NUMERIC affinity does not round them
	return "TEXT"
}

func (sqliteDialect) GeneratedKey(c *model.Column) string {
	if c.Type == model.TypeInteger {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return "TEXT PRIMARY KEY"
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) ColumnType(c *model.Column) string {
	switch c.Type {
	case model.TypeInteger:
		return "BIGINT"
	case model.TypeFloat:
		return "DOUBLE PRECISION"
	case model.TypeDecimal:
		return "NUMERIC"
	case model.TypeString:
		if c.MaxLength > 0 {
			return fmt.Sprintf("VARCHAR(%d)", c.MaxLength)
		}
		return "TEXT"
	case model.TypeBoolean:
		return "BOOLEAN"
	case model.TypeDate:
		return "DATE"
	case model.TypeDateTime:
		return "TIMESTAMPTZ"
	case model.TypeTime:
		return "TIME"
	case model.TypeUUID:
		return "UUID"
	case model.TypeJSON:
		return "JSONB"
	}
	return "TEXT"
}

func (d postgresDialect) GeneratedKey(c *model.Column) string {
	if c.Type == model.TypeInteger {
		return "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
	}
	return d.ColumnType(c) + " PRIMARY KEY"
}

// quote quotes an identifier; both dialects accept double quotes.
func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// BuildCreateTableSQL generates CREATE TABLE IF NOT EXISTS for m.
func BuildCreateTableSQL(d Dialect, m *model.Model) string {
	defs := make([]string, 0, len(m.Columns))

	for i := range m.Columns {
		c := &m.Columns[i]
		var def string
		switch {
		case c.PrimaryKey && c.Generated():
			def = d.GeneratedKey(c)
		case c.PrimaryKey:
			def = d.ColumnType(c) + " PRIMARY KEY"
		default:
			def = d.ColumnType(c)
			if !c.Nullable {
				def += " NOT NULL"
			}
		}
		defs = append(defs, quote(c.Name)+" "+def)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", quote(m.Table), strings.Join(defs, ",\n  "))
}
