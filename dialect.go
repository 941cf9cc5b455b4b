package main

import (
	"database/sql"
	"fmt"
	"strings"
)

// Dialect abstracts the engine-specific parts of the tool so the drift
// analyzer, planner, executor, and verifier stay engine-neutral. Everything
// downstream of Open works against database/sql.
type Dialect interface {
	// Name returns a human-readable engine name ("SQLite", "MySQL", "PostgreSQL").
	Name() string

	// Open opens a connection with driver-specific options applied.
	Open(dsn string) (*sql.DB, error)

	// DatabaseName extracts a logical database name from the DSN, used for
	// catalog queries and logging.
	DatabaseName(dsn string) (string, error)

	// Inspect reads tables, columns, constraints, and indexes into a
	// Snapshot. Read-only; never mutates the database.
	Inspect(db *sql.DB, dbName string) (*Snapshot, error)

	// Quote quotes an identifier for use in SQL.
	Quote(name string) string

	// Placeholder returns the n-th (1-based) statement parameter marker.
	Placeholder(n int) string

	// CanonicalType normalizes a declared type so that driver-specific
	// aliases compare equal (e.g. MySQL "int(11)" vs model "INTEGER").
	CanonicalType(declared string) string

	// SupportsTransactionalDDL reports whether DDL statements take part in
	// transactions and roll back cleanly.
	SupportsTransactionalDDL() bool

	// AlterColumnSQL renders the statements changing a column's type or
	// nullability. Returns an error when the engine cannot express the
	// change without a table rebuild.
	AlterColumnSQL(table string, old, desired Column) ([]string, error)

	// AddForeignKeySQL renders the statements adding a foreign key to an
	// existing table, or errors when the engine cannot.
	AddForeignKeySQL(table string, fk ForeignKey) ([]string, error)

	// DropForeignKeySQL renders the statements dropping a named foreign
	// key, or errors when the engine cannot.
	DropForeignKeySQL(table string, fk ForeignKey) ([]string, error)
}

// newDialect returns the Dialect implementation for the given engine type.
func newDialect(engine string) (Dialect, error) {
	switch engine {
	case "sqlite":
		return &sqliteDialect{}, nil
	case "mysql":
		return &mysqlDialect{}, nil
	case "postgres":
		return &postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database type %q (must be sqlite, mysql or postgres)", engine)
	}
}

// quoteDouble quotes an identifier with double quotes (SQLite, PostgreSQL).
func quoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteBacktick quotes an identifier with backticks (MySQL).
func quoteBacktick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// canonicalize lowercases a declared type, collapses whitespace, and
// applies an alias map to the base name. Length/precision parameters are
// preserved for types where they matter and stripped for integer display
// widths (the aliases map decides by mapping the parameterless base).
func canonicalize(declared string, aliases map[string]string) string {
	t := strings.ToLower(strings.TrimSpace(declared))
	t = strings.Join(strings.Fields(t), " ")

	base, params := t, ""
	if i := strings.IndexByte(t, '('); i >= 0 {
		base = strings.TrimSpace(t[:i])
		params = t[i:]
	}

	if canon, ok := aliases[base]; ok {
		return canon
	}
	return base + params
}

// collectStrings collects a single-column string result set.
func collectStrings(db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
