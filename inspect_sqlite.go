package main

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

type sqliteDialect struct{}

func (s *sqliteDialect) Name() string { return "SQLite" }

func (s *sqliteDialect) Open(dsn string) (*sql.DB, error) {
	// In-memory databases make no sense for a maintenance tool: every
	// sql.Open would get its own empty database.
	if dsn == ":memory:" || dsn == "file::memory:" || strings.Contains(dsn, "mode=memory") {
		return nil, fmt.Errorf("in-memory SQLite databases are not supported")
	}

	path := sqlitePath(dsn)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("sqlite database %s: %w", path, err)
	}

	uri := dsn
	if !strings.HasPrefix(dsn, "file:") {
		uri = "file:" + dsn
	}
	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func (s *sqliteDialect) DatabaseName(dsn string) (string, error) {
	base := filepath.Base(sqlitePath(dsn))
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	if base == "" {
		return "sqlite", nil
	}
	return base, nil
}

// sqlitePath strips the file: URI prefix and query parameters from a DSN.
func sqlitePath(dsn string) string {
	path := dsn
	if strings.HasPrefix(dsn, "file:") {
		if u, err := url.Parse(dsn); err == nil {
			path = u.Path
			if path == "" {
				path = u.Opaque
			}
		} else {
			path = strings.TrimPrefix(dsn, "file:")
			if idx := strings.IndexByte(path, '?'); idx >= 0 {
				path = path[:idx]
			}
		}
	}
	return path
}

func (s *sqliteDialect) Quote(name string) string { return quoteDouble(name) }

func (s *sqliteDialect) Placeholder(int) string { return "?" }

var sqliteTypeAliases = map[string]string{
	"int":       "integer",
	"tinyint":   "integer",
	"smallint":  "integer",
	"mediumint": "integer",
	"bigint":    "integer",
	"bool":      "boolean",
	"float":     "real",
	"double":    "real",
	"clob":      "text",
	"timestamp": "datetime",
}

func (s *sqliteDialect) CanonicalType(declared string) string {
	if strings.TrimSpace(declared) == "" {
		return "blob" // no declared type = BLOB affinity
	}
	return canonicalize(declared, sqliteTypeAliases)
}

func (s *sqliteDialect) SupportsTransactionalDDL() bool { return true }

func (s *sqliteDialect) AlterColumnSQL(table string, old, desired Column) ([]string, error) {
	return nil, fmt.Errorf("SQLite cannot alter column %s.%s in place (%s -> %s): requires a table rebuild",
		table, old.Name, old.Type, desired.Type)
}

func (s *sqliteDialect) AddForeignKeySQL(table string, fk ForeignKey) ([]string, error) {
	return nil, fmt.Errorf("SQLite cannot add foreign key %s to existing table %s: requires a table rebuild", fk.Name, table)
}

func (s *sqliteDialect) DropForeignKeySQL(table string, fk ForeignKey) ([]string, error) {
	return nil, fmt.Errorf("SQLite cannot drop foreign key %s from table %s: requires a table rebuild", fk.Name, table)
}

// --- Introspection ---

func (s *sqliteDialect) Inspect(db *sql.DB, _ string) (*Snapshot, error) {
	names, err := collectStrings(db,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}

	var tables []Table
	for _, name := range names {
		t := Table{Name: name}

		cols, pk, err := introspectSQLiteColumns(db, name)
		if err != nil {
			return nil, fmt.Errorf("introspect columns for %s: %w", name, err)
		}
		t.Columns = cols
		t.PrimaryKey = pk

		if err := markSQLiteUniques(db, &t); err != nil {
			return nil, fmt.Errorf("introspect indexes for %s: %w", name, err)
		}

		fks, err := introspectSQLiteForeignKeys(db, name)
		if err != nil {
			return nil, fmt.Errorf("introspect foreign keys for %s: %w", name, err)
		}
		t.ForeignKeys = fks

		tables = append(tables, t)
	}

	return newSnapshot(tables)
}

func introspectSQLiteColumns(db *sql.DB, tableName string) ([]Column, []string, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteDouble(tableName)))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	type pkCol struct {
		name string
		pos  int
	}
	var cols []Column
	var pkCols []pkCol

	for rows.Next() {
		var cid, notnull, pk int
		var name, colType string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notnull, &dflt, &pk); err != nil {
			return nil, nil, err
		}

		col := Column{
			Name:       name,
			Type:       colType,
			Nullable:   notnull == 0,
			OrdinalPos: cid + 1,
		}
		if dflt.Valid {
			col.Default = &dflt.String
		}
		cols = append(cols, col)

		if pk > 0 {
			pkCols = append(pkCols, pkCol{name: name, pos: pk})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	slices.SortFunc(pkCols, func(a, b pkCol) int { return a.pos - b.pos })
	pk := make([]string, 0, len(pkCols))
	for _, pc := range pkCols {
		pk = append(pk, pc.name)
	}

	// table_info reports notnull=0 for columns whose NOT NULL comes only
	// from the PRIMARY KEY clause.
	for i := range cols {
		if slices.Contains(pk, cols[i].Name) {
			cols[i].Nullable = false
		}
	}
	return cols, pk, nil
}

// markSQLiteUniques sets Column.Unique for columns covered by a
// single-column unique index (UNIQUE constraints surface as origin 'u'
// indexes in PRAGMA index_list).
func markSQLiteUniques(db *sql.DB, t *Table) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA index_list(%s)", quoteDouble(t.Name)))
	if err != nil {
		return err
	}
	defer rows.Close()

	var uniqueIndexes []string
	for rows.Next() {
		var seq, unique, partial int
		var name, origin string
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return err
		}
		if unique == 1 && origin != "pk" {
			uniqueIndexes = append(uniqueIndexes, name)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, idxName := range uniqueIndexes {
		colRows, err := db.Query(fmt.Sprintf("PRAGMA index_info(%s)", quoteDouble(idxName)))
		if err != nil {
			return err
		}
		var idxCols []string
		for colRows.Next() {
			var seqno, cid int
			var colName sql.NullString
			if err := colRows.Scan(&seqno, &cid, &colName); err != nil {
				colRows.Close()
				return err
			}
			if colName.Valid {
				idxCols = append(idxCols, colName.String)
			}
		}
		colRows.Close()
		if err := colRows.Err(); err != nil {
			return err
		}

		if len(idxCols) == 1 {
			if col := t.Column(idxCols[0]); col != nil {
				col.Unique = true
			}
		}
	}
	return nil
}

func introspectSQLiteForeignKeys(db *sql.DB, tableName string) ([]ForeignKey, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteDouble(tableName)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var id, seq int
		var refTable, from string
		var to, onUpdate, onDelete, match sql.NullString
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}
		refColumn := "id"
		if to.Valid {
			refColumn = to.String
		}
		fks = append(fks, ForeignKey{
			Name:      fmt.Sprintf("fk_%s_%s", tableName, from),
			Column:    from,
			RefTable:  refTable,
			RefColumn: refColumn,
		})
	}
	return fks, rows.Err()
}
