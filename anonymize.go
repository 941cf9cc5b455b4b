package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// pseudonymNamespace seeds the UUIDv5 derivation. Fixed so that repeated
// runs over the same row produce the same pseudonym.
var pseudonymNamespace = uuid.MustParse("3e4a1f6e-8b62-5c1d-9f3a-7d2b0c5e9a41")

// anonymizeData rewrites the declared sensitive columns to deterministic
// pseudonyms derived from each row's primary key, never from the original
// value. Join behavior is preserved: key columns are never touched, and a
// row keeps the same pseudonym across runs. Updates run in batches, each
// batch its own transaction; a failure loses only the failing batch.
func anonymizeData(ctx context.Context, db *sql.DB, d Dialect, snap *Snapshot, targets []string, batchSize int) (int, error) {
	byTable, err := groupTargets(snap, targets)
	if err != nil {
		return 0, err
	}

	total := 0
	tables := make([]string, 0, len(byTable))
	for name := range byTable {
		tables = append(tables, name)
	}
	slices.Sort(tables)

	for _, name := range tables {
		t := snap.Table(name)
		cols := byTable[name]

		n, err := anonymizeTable(ctx, db, d, *t, cols, batchSize)
		if err != nil {
			return total, err
		}
		log.Printf("  %s: %d rows anonymized (%s)", name, n, strings.Join(cols, ", "))
		total += n
	}
	return total, nil
}

// groupTargets parses and validates "table.column" targets. Unknown
// columns and key columns are rejected outright, before any data changes.
func groupTargets(snap *Snapshot, targets []string) (map[string][]string, error) {
	byTable := make(map[string][]string)
	for _, target := range targets {
		table, column, ok := strings.Cut(target, ".")
		if !ok {
			return nil, &AnonymizationError{Table: target, Err: fmt.Errorf("want table.column")}
		}
		t := snap.Table(table)
		if t == nil {
			return nil, &AnonymizationError{Table: table, Column: column, Err: fmt.Errorf("table does not exist")}
		}
		if t.Column(column) == nil {
			return nil, &AnonymizationError{Table: table, Column: column, Err: fmt.Errorf("column does not exist")}
		}
		if t.IsPrimaryKey(column) {
			return nil, &AnonymizationError{Table: table, Column: column, Err: fmt.Errorf("refusing to anonymize a primary key column")}
		}
		if t.IsForeignKey(column) {
			return nil, &AnonymizationError{Table: table, Column: column, Err: fmt.Errorf("refusing to anonymize a foreign key column")}
		}
		if len(t.PrimaryKey) == 0 {
			return nil, &AnonymizationError{Table: table, Column: column, Err: fmt.Errorf("table has no primary key to derive pseudonyms from")}
		}
		byTable[table] = append(byTable[table], column)
	}
	return byTable, nil
}

func anonymizeTable(ctx context.Context, db *sql.DB, d Dialect, t Table, columns []string, batchSize int) (int, error) {
	pk := t.PrimaryKey[0]
	qt, qpk := d.Quote(t.Name), d.Quote(pk)

	assigns := make([]string, len(columns))
	for i, col := range columns {
		assigns[i] = fmt.Sprintf("%s = %s", d.Quote(col), d.Placeholder(i+1))
	}
	update := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		qt, strings.Join(assigns, ", "), qpk, d.Placeholder(len(columns)+1))

	firstPage := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT %d", qpk, qt, qpk, batchSize)
	nextPage := fmt.Sprintf("SELECT %s FROM %s WHERE %s > %s ORDER BY %s LIMIT %d",
		qpk, qt, qpk, d.Placeholder(1), qpk, batchSize)

	total := 0
	var last any
	for {
		var keys []any
		var err error
		if last == nil {
			keys, err = collectKeys(ctx, db, firstPage)
		} else {
			keys, err = collectKeys(ctx, db, nextPage, last)
		}
		if err != nil {
			return total, &AnonymizationError{Table: t.Name, Err: err}
		}
		if len(keys) == 0 {
			return total, nil
		}

		if err := anonymizeBatch(ctx, db, t.Name, columns, update, keys); err != nil {
			return total, &AnonymizationError{Table: t.Name, Err: err}
		}
		total += len(keys)
		last = keys[len(keys)-1]
	}
}

func collectKeys(ctx context.Context, db *sql.DB, query string, args ...any) ([]any, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []any
	for rows.Next() {
		var k any
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		if b, ok := k.([]byte); ok {
			k = string(b)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// anonymizeBatch updates one batch inside a transaction, so a failure
// never leaves a half-rewritten batch behind.
func anonymizeBatch(ctx context.Context, db *sql.DB, table string, columns []string, update string, keys []any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, update)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, key := range keys {
		args := make([]any, 0, len(columns)+1)
		for _, col := range columns {
			args = append(args, pseudonym(table, col, key))
		}
		args = append(args, key)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// pseudonym derives a stable replacement value from the row's primary
// key. Email-shaped columns keep an address shape so format validation in
// the application still passes.
func pseudonym(table, column string, key any) string {
	seed := fmt.Sprintf("%s.%s|%v", table, column, key)
	id := uuid.NewSHA1(pseudonymNamespace, []byte(seed))

	if strings.Contains(strings.ToLower(column), "email") {
		return "u-" + strings.ReplaceAll(id.String(), "-", "")[:12] + "@redacted.invalid"
	}
	return "anon-" + id.String()
}
