package main

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"
)

type postgresDialect struct{}

func (p *postgresDialect) Name() string { return "PostgreSQL" }

func (p *postgresDialect) Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

func (p *postgresDialect) DatabaseName(dsn string) (string, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return "", fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.Database == "" {
		return "", fmt.Errorf("postgres dsn has no database name")
	}
	return cfg.Database, nil
}

func (p *postgresDialect) Quote(name string) string { return quoteDouble(name) }

func (p *postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

var postgresTypeAliases = map[string]string{
	"int":                         "integer",
	"int4":                        "integer",
	"int8":                        "bigint",
	"int2":                        "smallint",
	"serial":                      "integer",
	"bigserial":                   "bigint",
	"bool":                        "boolean",
	"float8":                      "real",
	"double precision":            "real",
	"float":                       "real",
	"character varying":           "varchar",
	"varchar":                     "varchar",
	"character":                   "char",
	"timestamp without time zone": "datetime",
	"timestamp with time zone":    "timestamptz",
	"timestamp":                   "datetime",
	"datetime":                    "datetime",
}

func (p *postgresDialect) CanonicalType(declared string) string {
	t := strings.ToLower(strings.TrimSpace(declared))
	t = strings.Join(strings.Fields(t), " ")

	base, params := t, ""
	if i := strings.IndexByte(t, '('); i >= 0 {
		base = strings.TrimSpace(t[:i])
		params = t[i:]
	}
	if canon, ok := postgresTypeAliases[base]; ok {
		// Length parameters matter for varchar/char; keep them.
		if canon == "varchar" || canon == "char" {
			return canon + params
		}
		return canon
	}
	return base + params
}

func (p *postgresDialect) SupportsTransactionalDDL() bool { return true }

func (p *postgresDialect) AlterColumnSQL(table string, old, desired Column) ([]string, error) {
	var stmts []string
	if p.CanonicalType(old.Type) != p.CanonicalType(desired.Type) {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
			p.Quote(table), p.Quote(old.Name), desired.Type, p.Quote(old.Name), desired.Type))
	}
	if old.Nullable != desired.Nullable {
		if desired.Nullable {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL",
				p.Quote(table), p.Quote(old.Name)))
		} else {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL",
				p.Quote(table), p.Quote(old.Name)))
		}
	}
	return stmts, nil
}

func (p *postgresDialect) AddForeignKeySQL(table string, fk ForeignKey) ([]string, error) {
	return []string{fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		p.Quote(table), p.Quote(fk.Name), p.Quote(fk.Column), p.Quote(fk.RefTable), p.Quote(fk.RefColumn))}, nil
}

func (p *postgresDialect) DropForeignKeySQL(table string, fk ForeignKey) ([]string, error) {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s",
		p.Quote(table), p.Quote(fk.Name))}, nil
}

// --- Introspection ---

func (p *postgresDialect) Inspect(db *sql.DB, _ string) (*Snapshot, error) {
	names, err := collectStrings(db,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		 ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}

	var tables []Table
	for _, name := range names {
		t := Table{Name: name}

		cols, err := introspectPostgresColumns(db, name)
		if err != nil {
			return nil, fmt.Errorf("introspect columns for %s: %w", name, err)
		}
		t.Columns = cols

		pk, err := collectStrings(db,
			`SELECT a.attname
			 FROM pg_index i
			 JOIN pg_class c ON i.indrelid = c.oid
			 JOIN pg_namespace ns ON c.relnamespace = ns.oid
			 JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = ANY(i.indkey)
			 WHERE ns.nspname = 'public' AND c.relname = $1 AND i.indisprimary
			 ORDER BY array_position(i.indkey, a.attnum)`, name)
		if err != nil {
			return nil, fmt.Errorf("introspect primary key for %s: %w", name, err)
		}
		t.PrimaryKey = pk

		if err := markPostgresUniques(db, &t); err != nil {
			return nil, fmt.Errorf("introspect unique constraints for %s: %w", name, err)
		}

		fks, err := introspectPostgresForeignKeys(db, name)
		if err != nil {
			return nil, fmt.Errorf("introspect foreign keys for %s: %w", name, err)
		}
		t.ForeignKeys = fks

		tables = append(tables, t)
	}

	return newSnapshot(tables)
}

func introspectPostgresColumns(db *sql.DB, tableName string) ([]Column, error) {
	rows, err := db.Query(
		`SELECT column_name, data_type,
		        COALESCE(character_maximum_length, 0),
		        is_nullable = 'YES', column_default, ordinal_position
		 FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = $1
		 ORDER BY ordinal_position`, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		var maxLen int64
		var dflt sql.NullString
		if err := rows.Scan(&c.Name, &c.Type, &maxLen, &c.Nullable, &dflt, &c.OrdinalPos); err != nil {
			return nil, err
		}
		if maxLen > 0 {
			c.Type = fmt.Sprintf("%s(%d)", c.Type, maxLen)
		}
		if dflt.Valid {
			c.Default = &dflt.String
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func markPostgresUniques(db *sql.DB, t *Table) error {
	rows, err := db.Query(
		`SELECT a.attname
		 FROM pg_index i
		 JOIN pg_class c ON i.indrelid = c.oid
		 JOIN pg_namespace ns ON c.relnamespace = ns.oid
		 JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = ANY(i.indkey)
		 WHERE ns.nspname = 'public' AND c.relname = $1
		   AND i.indisunique AND NOT i.indisprimary
		   AND array_length(i.indkey, 1) = 1`, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var colName string
		if err := rows.Scan(&colName); err != nil {
			return err
		}
		if col := t.Column(colName); col != nil {
			col.Unique = true
		}
	}
	return rows.Err()
}

func introspectPostgresForeignKeys(db *sql.DB, tableName string) ([]ForeignKey, error) {
	rows, err := db.Query(
		`SELECT tc.constraint_name, kcu.column_name, rkcu.table_name, rkcu.column_name
		 FROM information_schema.table_constraints tc
		 JOIN information_schema.key_column_usage kcu
		   ON tc.constraint_name = kcu.constraint_name
		  AND tc.constraint_schema = kcu.constraint_schema
		 JOIN information_schema.referential_constraints rc
		   ON tc.constraint_name = rc.constraint_name
		  AND tc.constraint_schema = rc.constraint_schema
		 JOIN information_schema.key_column_usage rkcu
		   ON rc.unique_constraint_name = rkcu.constraint_name
		  AND rc.unique_constraint_schema = rkcu.constraint_schema
		  AND kcu.ordinal_position = rkcu.ordinal_position
		 WHERE tc.constraint_type = 'FOREIGN KEY'
		   AND tc.table_schema = 'public' AND tc.table_name = $1
		 ORDER BY tc.constraint_name, kcu.ordinal_position`, tableName)
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
