package main

import (
	"fmt"
	"strings"
)

// renderEntry produces the SQL statements applying one plan entry on the
// given engine. An error means the entry cannot be expressed on this
// engine; the executor reports it as an ExecutionError without running
// anything further.
func renderEntry(d Dialect, e Drift) ([]string, error) {
	switch e.Kind {
	case AddTable:
		return []string{renderCreateTable(d, *e.TableDef)}, nil
	case AddColumn:
		return renderAddColumn(d, e.Table, *e.Column)
	case AlterColumn:
		return d.AlterColumnSQL(e.Table, *e.Old, *e.Column)
	case AddConstraint:
		if e.FK != nil {
			return d.AddForeignKeySQL(e.Table, *e.FK)
		}
		return []string{fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
			d.Quote(uniqueIndexName(e.Table, e.Column.Name)), d.Quote(e.Table), d.Quote(e.Column.Name))}, nil
	case DropConstraint:
		if e.FK != nil {
			return d.DropForeignKeySQL(e.Table, *e.FK)
		}
		return nil, fmt.Errorf("dropping the unique constraint on %s.%s requires the live index name; drop it manually",
			e.Table, e.Column.Name)
	case DropColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
			d.Quote(e.Table), d.Quote(e.Old.Name))}, nil
	case DropTable:
		return []string{fmt.Sprintf("DROP TABLE %s", d.Quote(e.Table))}, nil
	}
	return nil, fmt.Errorf("no SQL for %s entry", e.Kind)
}

// renderCreateTable produces one CREATE TABLE statement with inline
// primary key, unique, and foreign key clauses.
func renderCreateTable(d Dialect, t Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", d.Quote(t.Name))

	var defs []string
	for _, col := range t.Columns {
		defs = append(defs, "  "+columnDef(d, col, t.IsPrimaryKey(col.Name)))
	}
	if len(t.PrimaryKey) > 0 {
		quoted := make([]string, len(t.PrimaryKey))
		for i, c := range t.PrimaryKey {
			quoted[i] = d.Quote(c)
		}
		defs = append(defs, fmt.Sprintf("  PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}
	for _, fk := range t.ForeignKeys {
		defs = append(defs, fmt.Sprintf("  FOREIGN KEY (%s) REFERENCES %s (%s)",
			d.Quote(fk.Column), d.Quote(fk.RefTable), d.Quote(fk.RefColumn)))
	}

	b.WriteString(strings.Join(defs, ",\n"))
	b.WriteString("\n)")
	return b.String()
}

// columnDef renders one column definition. Primary-key columns skip the
// redundant NOT NULL (the table-level PRIMARY KEY clause implies it).
func columnDef(d Dialect, col Column, inPK bool) string {
	var b strings.Builder
	b.WriteString(d.Quote(col.Name))
	b.WriteByte(' ')
	b.WriteString(col.Type)
	if !col.Nullable && !inPK {
		b.WriteString(" NOT NULL")
	}
	if col.Default != nil {
		b.WriteString(" DEFAULT ")
		b.WriteString(*col.Default)
	}
	if col.Unique {
		b.WriteString(" UNIQUE")
	}
	return b.String()
}

// renderAddColumn adds a column and, for NOT NULL columns with a default,
// backfills existing rows explicitly before the constraint matters.
// A NOT NULL column without a default cannot be added to a table that may
// hold rows.
func renderAddColumn(d Dialect, table string, col Column) ([]string, error) {
	if !col.Nullable && col.Default == nil {
		return nil, fmt.Errorf("cannot add NOT NULL column %s.%s without a default", table, col.Name)
	}

	// SQLite rejects UNIQUE inside ADD COLUMN; a separate unique index
	// works everywhere.
	unique := col.Unique
	col.Unique = false

	stmts := []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
		d.Quote(table), columnDef(d, col, false))}

	if !col.Nullable && col.Default != nil {
		stmts = append(stmts, fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL",
			d.Quote(table), d.Quote(col.Name), *col.Default, d.Quote(col.Name)))
	}
	if unique {
		stmts = append(stmts, fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
			d.Quote(uniqueIndexName(table, col.Name)), d.Quote(table), d.Quote(col.Name)))
	}
	return stmts, nil
}

func uniqueIndexName(table, column string) string {
	return fmt.Sprintf("uq_%s_%s", table, column)
}
