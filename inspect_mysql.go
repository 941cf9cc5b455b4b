package main

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

type mysqlDialect struct{}

func (m *mysqlDialect) Name() string { return "MySQL" }

func (m *mysqlDialect) Open(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.InterpolateParams = true
	cfg.Loc = time.UTC
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return db, nil
}

func (m *mysqlDialect) DatabaseName(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	if cfg.DBName == "" {
		return "", fmt.Errorf("mysql dsn has no database name")
	}
	return cfg.DBName, nil
}

func (m *mysqlDialect) Quote(name string) string { return quoteBacktick(name) }

func (m *mysqlDialect) Placeholder(int) string { return "?" }

var mysqlTypeAliases = map[string]string{
	"int":        "integer",
	"bool":       "boolean",
	"double":     "real",
	"float":      "real",
	"timestamp":  "datetime",
	"mediumtext": "text",
	"longtext":   "text",
	"tinytext":   "text",
}

func (m *mysqlDialect) CanonicalType(declared string) string {
	t := strings.ToLower(strings.TrimSpace(declared))
	// MySQL reports BOOLEAN columns as tinyint(1).
	if t == "tinyint(1)" {
		return "boolean"
	}
	// Strip integer display widths: int(11) compares as integer.
	if base, _, found := strings.Cut(t, "("); found {
		switch base {
		case "tinyint", "smallint", "mediumint", "int", "integer", "bigint":
			t = base
		}
	}
	return canonicalize(t, mysqlTypeAliases)
}

// MySQL DDL commits implicitly; a failed plan leaves the statements that
// already ran applied.
func (m *mysqlDialect) SupportsTransactionalDDL() bool { return false }

func (m *mysqlDialect) AlterColumnSQL(table string, old, desired Column) ([]string, error) {
	def := desired.Type
	if !desired.Nullable {
		def += " NOT NULL"
	}
	if desired.Default != nil {
		def += " DEFAULT " + *desired.Default
	}
	return []string{fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s %s",
		m.Quote(table), m.Quote(old.Name), def)}, nil
}

func (m *mysqlDialect) AddForeignKeySQL(table string, fk ForeignKey) ([]string, error) {
	return []string{fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		m.Quote(table), m.Quote(fk.Name), m.Quote(fk.Column), m.Quote(fk.RefTable), m.Quote(fk.RefColumn))}, nil
}

func (m *mysqlDialect) DropForeignKeySQL(table string, fk ForeignKey) ([]string, error) {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s",
		m.Quote(table), m.Quote(fk.Name))}, nil
}

// --- Introspection ---

func (m *mysqlDialect) Inspect(db *sql.DB, dbName string) (*Snapshot, error) {
	names, err := collectStrings(db,
		`SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		 WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		 ORDER BY TABLE_NAME`, dbName)
	if err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}

	var tables []Table
	for _, name := range names {
		t := Table{Name: name}

		cols, err := introspectMySQLColumns(db, dbName, name)
		if err != nil {
			return nil, fmt.Errorf("introspect columns for %s: %w", name, err)
		}
		t.Columns = cols

		pk, err := introspectMySQLKeys(db, dbName, &t)
		if err != nil {
			return nil, fmt.Errorf("introspect indexes for %s: %w", name, err)
		}
		t.PrimaryKey = pk

		fks, err := introspectMySQLForeignKeys(db, dbName, name)
		if err != nil {
			return nil, fmt.Errorf("introspect foreign keys for %s: %w", name, err)
		}
		t.ForeignKeys = fks

		tables = append(tables, t)
	}

	return newSnapshot(tables)
}

func introspectMySQLColumns(db *sql.DB, dbName, tableName string) ([]Column, error) {
	rows, err := db.Query(
		`SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT, ORDINAL_POSITION
		 FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		 ORDER BY ORDINAL_POSITION`,
		dbName, tableName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		var nullable string
		var dflt sql.NullString
		if err := rows.Scan(&c.Name, &c.Type, &nullable, &dflt, &c.OrdinalPos); err != nil {
			return nil, err
		}
		c.Type = strings.ToLower(c.Type)
		c.Nullable = nullable == "YES"
		if dflt.Valid {
			c.Default = &dflt.String
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// introspectMySQLKeys returns the primary-key column list and marks
// columns covered by a single-column unique index.
func introspectMySQLKeys(db *sql.DB, dbName string, t *Table) ([]string, error) {
	rows, err := db.Query(
		`SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE, SEQ_IN_INDEX
		 FROM INFORMATION_SCHEMA.STATISTICS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		 ORDER BY INDEX_NAME, SEQ_IN_INDEX`,
		dbName, t.Name,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	indexCols := make(map[string][]string)
	unique := make(map[string]bool)
	for rows.Next() {
		var idxName, colName string
		var nonUnique, seq int
		if err := rows.Scan(&idxName, &colName, &nonUnique, &seq); err != nil {
			return nil, err
		}
		indexCols[idxName] = append(indexCols[idxName], colName)
		unique[idxName] = nonUnique == 0
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for idxName, cols := range indexCols {
		if idxName == "PRIMARY" || !unique[idxName] || len(cols) != 1 {
			continue
		}
		if col := t.Column(cols[0]); col != nil {
			col.Unique = true
		}
	}
	return indexCols["PRIMARY"], nil
}

func introspectMySQLForeignKeys(db *sql.DB, dbName, tableName string) ([]ForeignKey, error) {
	rows, err := db.Query(
		`SELECT kcu.CONSTRAINT_NAME, kcu.COLUMN_NAME,
		        kcu.REFERENCED_TABLE_NAME, kcu.REFERENCED_COLUMN_NAME
		 FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		 WHERE kcu.TABLE_SCHEMA = ? AND kcu.TABLE_NAME = ?
		   AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
		 ORDER BY kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`,
		dbName, tableName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Name, &fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}
