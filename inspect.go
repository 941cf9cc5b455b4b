package main

import (
	"context"
	"database/sql"
)

// openDatabase opens and pings the live database. Failures here mean the
// database is unreachable or does not exist.
func openDatabase(ctx context.Context, d Dialect, dsn string) (*sql.DB, string, error) {
	dbName, err := d.DatabaseName(dsn)
	if err != nil {
		return nil, "", &InspectionError{Database: dsn, Err: err}
	}
	db, err := d.Open(dsn)
	if err != nil {
		return nil, "", &InspectionError{Database: dbName, Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", &InspectionError{Database: dbName, Err: err}
	}
	return db, dbName, nil
}

// inspectLive captures the live schema. Read-only; only catalog queries
// are issued.
func inspectLive(db *sql.DB, d Dialect, dbName string) (*Snapshot, error) {
	snap, err := d.Inspect(db, dbName)
	if err != nil {
		return nil, &InspectionError{Database: dbName, Err: err}
	}
	return snap, nil
}
