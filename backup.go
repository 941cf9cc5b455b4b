package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

const backupPrefix = "jfdb-backup-"

// BackupRecord identifies one pre-migration snapshot. Written once, never
// mutated; kept until pruned per backup_retention.
type BackupRecord struct {
	ID        uuid.UUID `toml:"id"`
	CreatedAt time.Time `toml:"created_at"`
	Path      string    `toml:"path"`
	Engine    string    `toml:"engine"`
	Source    string    `toml:"source"`
}

// createBackup snapshots the full data store into backup_dir before a
// structural plan executes. SQLite databases are snapshotted with VACUUM
// INTO (a consistent single-file copy); server engines get a SQL dump
// that restore replays. Any failure aborts the migration before a single
// change is applied.
func createBackup(ctx context.Context, db *sql.DB, d Dialect, cfg *Config, snap *Snapshot, source string) (*BackupRecord, error) {
	rec := &BackupRecord{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		Engine:    d.Name(),
		Source:    source,
	}

	stamp := rec.CreatedAt.Format("20060102-150405")
	ext := ".sql"
	if _, ok := d.(*sqliteDialect); ok {
		ext = ".db"
	}
	rec.Path = filepath.Join(cfg.BackupDir, backupPrefix+stamp+"-"+rec.ID.String()[:8]+ext)

	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return nil, &BackupError{Path: cfg.BackupDir, Err: err}
	}

	var err error
	if _, ok := d.(*sqliteDialect); ok {
		_, err = db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(rec.Path, "'", "''")))
	} else {
		err = dumpData(ctx, db, d, snap, rec.Path)
	}
	if err != nil {
		os.Remove(rec.Path)
		return nil, &BackupError{Path: rec.Path, Err: err}
	}

	if err := writeBackupRecord(rec); err != nil {
		os.Remove(rec.Path)
		return nil, &BackupError{Path: rec.Path, Err: err}
	}

	if cfg.BackupRetention > 0 {
		if err := pruneBackups(cfg.BackupDir, cfg.BackupRetention); err != nil {
			log.Printf("  WARN: prune backups: %v", err)
		}
	}

	log.Printf("  backup written to %s", rec.Path)
	return rec, nil
}

func writeBackupRecord(rec *BackupRecord) error {
	f, err := os.Create(rec.Path + ".toml")
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(rec)
}

// dumpData writes a replayable SQL dump: the pre-migration schema first
// (drops in reverse-dependency order, creates in dependency order), then
// one INSERT per row. Schema statements make the dump a full snapshot: a
// restore reverts structural changes too, not just data, which matters
// after a partially applied destructive migration.
func dumpData(ctx context.Context, db *sql.DB, d Dialect, snap *Snapshot, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	drops := make([]Drift, 0, len(snap.Tables))
	for _, name := range snap.TableNames() {
		def := *snap.Table(name)
		drops = append(drops, Drift{Kind: DropTable, Table: name, TableDef: &def})
	}
	for _, e := range orderDropTables(drops) {
		if _, err := fmt.Fprintf(f, "DROP TABLE IF EXISTS %s;\n", d.Quote(e.Table)); err != nil {
			return err
		}
	}

	adds := make([]Drift, 0, len(snap.Tables))
	for _, name := range snap.TableNames() {
		def := *snap.Table(name)
		adds = append(adds, Drift{Kind: AddTable, Table: name, TableDef: &def})
	}
	ordered, deferred, err := orderAddTables(adds)
	if err != nil {
		return err
	}

	// Referenced tables come first, so inserts in the same order satisfy
	// foreign keys on engines that enforce them.
	var insertOrder []string
	for _, e := range append(ordered, deferred...) {
		stmts, err := renderEntry(d, e)
		if err != nil {
			return fmt.Errorf("dump schema for %s: %w", e.Table, err)
		}
		for _, stmt := range stmts {
			if _, err := fmt.Fprintf(f, "%s;\n", stmt); err != nil {
				return err
			}
		}
		if e.Kind == AddTable {
			insertOrder = append(insertOrder, e.Table)
		}
	}

	for _, name := range insertOrder {
		t := snap.Table(name)

		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = d.Quote(c.Name)
		}
		colList := strings.Join(cols, ", ")

		rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", colList, d.Quote(name)))
		if err != nil {
			return fmt.Errorf("dump %s: %w", name, err)
		}

		vals := make([]any, len(t.Columns))
		ptrs := make([]any, len(t.Columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		for rows.Next() {
			if err := rows.Scan(ptrs...); err != nil {
				rows.Close()
				return fmt.Errorf("dump %s: %w", name, err)
			}
			lits := make([]string, len(vals))
			for i, v := range vals {
				lits[i] = sqlLiteral(v)
			}
			if _, err := fmt.Fprintf(f, "INSERT INTO %s (%s) VALUES (%s);\n",
				d.Quote(name), colList, strings.Join(lits, ", ")); err != nil {
				rows.Close()
				return err
			}
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("dump %s: %w", name, err)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("dump %s: %w", name, err)
		}
	}
	return nil
}

// sqlLiteral renders a scanned value as a SQL literal.
func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return "x'" + hex.EncodeToString(x) + "'"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case time.Time:
		return "'" + x.UTC().Format("2006-01-02 15:04:05") + "'"
	case bool:
		if x {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(x)
	}
}

// restoreBackup reverts the store to a snapshot. Operator-driven only;
// never triggered automatically. SQLite restores are full file copies;
// SQL dumps are replayed in one transaction.
func restoreBackup(ctx context.Context, db *sql.DB, d Dialect, rec *BackupRecord, dsn string) error {
	if _, ok := d.(*sqliteDialect); ok {
		db.Close()
		data, err := os.ReadFile(rec.Path)
		if err != nil {
			return &BackupError{Path: rec.Path, Err: err}
		}
		if err := os.WriteFile(sqlitePath(dsn), data, 0o644); err != nil {
			return &BackupError{Path: rec.Path, Err: err}
		}
		return nil
	}

	data, err := os.ReadFile(rec.Path)
	if err != nil {
		return &BackupError{Path: rec.Path, Err: err}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &BackupError{Path: rec.Path, Err: err}
	}
	defer tx.Rollback()

	for i, stmt := range splitStatements(string(data)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &BackupError{Path: rec.Path, Err: fmt.Errorf("statement %d: %w", i+1, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &BackupError{Path: rec.Path, Err: err}
	}
	return nil
}

// loadBackupRecord reads a sidecar record written by createBackup.
func loadBackupRecord(path string) (*BackupRecord, error) {
	var rec BackupRecord
	if _, err := toml.DecodeFile(path+".toml", &rec); err != nil {
		return nil, &BackupError{Path: path, Err: err}
	}
	return &rec, nil
}

// pruneBackups keeps the newest keep backups and removes the rest,
// sidecars included.
func pruneBackups(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var backups []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, backupPrefix) && !strings.HasSuffix(name, ".toml") {
			backups = append(backups, name)
		}
	}
	// Timestamped names sort chronologically.
	slices.Sort(backups)

	for len(backups) > keep {
		name := backups[0]
		backups = backups[1:]
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
		os.Remove(filepath.Join(dir, name+".toml"))
		log.Printf("  pruned backup %s", name)
	}
	return nil
}
