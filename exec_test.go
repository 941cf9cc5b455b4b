package main

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// nonTxDialect reuses the SQLite dialect but reports no transactional
// DDL, forcing the per-entry execution path onto a local store.
type nonTxDialect struct{ *sqliteDialect }

func (nonTxDialect) SupportsTransactionalDDL() bool { return false }

// migrateToModel runs the full inspect-drift-plan-apply pipeline against a
// live test database.
func migrateToModel(t *testing.T, db *testDB, desired *Snapshot, allowDestructive bool) ExecResult {
	t.Helper()
	current := mustInspect(t, db.conn, db.dialect)
	drifts := analyzeDrift(current, desired, db.dialect, allowDestructive)
	plan, err := buildPlan(drifts, current, desired)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	res, err := applyPlan(testCtx(), db.conn, db.dialect, plan)
	if err != nil {
		t.Fatalf("apply plan: %v", err)
	}
	return res
}

func TestApplyPlan_CreatesModelFromEmptyDatabase(t *testing.T) {
	db := newTestDB(t)
	desired := mustSnapshot(t, userTable(), orderTable())

	res := migrateToModel(t, db, desired, false)
	if res.Applied != 2 || res.Total != 2 {
		t.Fatalf("applied %d/%d, want 2/2", res.Applied, res.Total)
	}

	// The live schema must now match the model: a second run is a no-op.
	live := mustInspect(t, db.conn, db.dialect)
	if drifts := analyzeDrift(live, desired, db.dialect, false); len(drifts) != 0 {
		t.Fatalf("schema should be converged, still drifting: %v", drifts)
	}
}

func TestApplyPlan_AddColumnPreservesRows(t *testing.T) {
	db := newTestDB(t)
	base := mustSnapshot(t, userTable())
	migrateToModel(t, db, base, false)
	mustExec(t, db.conn,
		`INSERT INTO "user" (id, email, name) VALUES (1, 'alice@example.org', 'Alice')`)

	want := userTable()
	def := "'collaborateur'"
	want.Columns = append(want.Columns, Column{Name: "role", Type: "VARCHAR(20)", Default: &def, OrdinalPos: 4})
	migrateToModel(t, db, mustSnapshot(t, want), false)

	var role string
	if err := db.conn.QueryRow(`SELECT role FROM "user" WHERE id = 1`).Scan(&role); err != nil {
		t.Fatal(err)
	}
	if role != "collaborateur" {
		t.Errorf("existing row not backfilled: role = %q", role)
	}
}

func TestApplyPlan_EmptyPlanIsNoop(t *testing.T) {
	db := newTestDB(t)
	res, err := applyPlan(testCtx(), db.conn, db.dialect, &Plan{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 0 || res.Total != 0 {
		t.Errorf("empty plan result %+v", res)
	}
}

func TestApplyPlan_FailureRollsBackTransactionalEngine(t *testing.T) {
	db := newTestDB(t)
	migrateToModel(t, db, mustSnapshot(t, userTable()), false)

	// Second entry is unrenderable on SQLite; the first entry's table must
	// not survive the rollback.
	extra := Table{Name: "extra", PrimaryKey: []string{"id"},
		Columns: []Column{{Name: "id", Type: "INTEGER", OrdinalPos: 1}}}
	plan := &Plan{Entries: []Drift{
		{Kind: AddTable, Table: "extra", TableDef: &extra},
		{Kind: AlterColumn, Table: "user",
			Old:    &Column{Name: "name", Type: "VARCHAR(100)"},
			Column: &Column{Name: "name", Type: "TEXT"}},
	}}

	_, err := applyPlan(testCtx(), db.conn, db.dialect, plan)
	var eerr *ExecutionError
	if !errors.As(err, &eerr) {
		t.Fatalf("want ExecutionError, got %v", err)
	}
	if eerr.Index != 1 || !eerr.RolledBack {
		t.Errorf("error should carry index 1 and RolledBack, got %+v", eerr)
	}
	if !strings.Contains(eerr.Error(), "alter_column user.name") {
		t.Errorf("error should name the failing entry: %v", eerr)
	}

	live := mustInspect(t, db.conn, db.dialect)
	if live.Table("extra") != nil {
		t.Error("rolled-back plan left table behind")
	}
}

func TestApplyPlan_DuplicateDataFailsUniqueConstraint(t *testing.T) {
	db := newTestDB(t)
	have := userTable()
	have.Columns[1].Unique = false
	migrateToModel(t, db, mustSnapshot(t, have), false)
	mustExec(t, db.conn,
		`INSERT INTO "user" (id, email, name) VALUES (1, 'dup@example.org', 'A')`,
		`INSERT INTO "user" (id, email, name) VALUES (2, 'dup@example.org', 'B')`)

	// The model wants email unique; existing duplicates must abort the
	// migration, not be silently dropped.
	current := mustInspect(t, db.conn, db.dialect)
	desired := mustSnapshot(t, userTable())
	drifts := analyzeDrift(current, desired, db.dialect, false)
	plan, err := buildPlan(drifts, current, desired)
	if err != nil {
		t.Fatal(err)
	}

	_, err = applyPlan(testCtx(), db.conn, db.dialect, plan)
	var eerr *ExecutionError
	if !errors.As(err, &eerr) {
		t.Fatalf("want ExecutionError from the unique index build, got %v", err)
	}
}

func TestApplyPlan_CancelledContext(t *testing.T) {
	db := newTestDB(t)
	extra := Table{Name: "extra", PrimaryKey: []string{"id"},
		Columns: []Column{{Name: "id", Type: "INTEGER", OrdinalPos: 1}}}
	plan := &Plan{Entries: []Drift{{Kind: AddTable, Table: "extra", TableDef: &extra}}}

	ctx, cancel := context.WithCancel(testCtx())
	cancel()

	res, err := applyPlan(ctx, db.conn, db.dialect, plan)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if res.Applied != 0 {
		t.Errorf("nothing should apply after cancellation, applied %d", res.Applied)
	}
	live := mustInspect(t, db.conn, db.dialect)
	if live.Table("extra") != nil {
		t.Error("cancelled plan left a table behind")
	}
}

func TestApplyPlan_CancelledContextPerEntryPath(t *testing.T) {
	db := newTestDB(t)
	d := nonTxDialect{db.dialect}
	extra := Table{Name: "extra", PrimaryKey: []string{"id"},
		Columns: []Column{{Name: "id", Type: "INTEGER", OrdinalPos: 1}}}
	plan := &Plan{Entries: []Drift{{Kind: AddTable, Table: "extra", TableDef: &extra}}}

	ctx, cancel := context.WithCancel(testCtx())
	cancel()

	res, err := applyPlan(ctx, db.conn, d, plan)
	var eerr *ExecutionError
	if !errors.As(err, &eerr) {
		t.Fatalf("want ExecutionError, got %v", err)
	}
	if eerr.Index != 0 || eerr.RolledBack {
		t.Errorf("cancellation should halt at entry 0 without rollback claim, got %+v", eerr)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error should wrap context.Canceled: %v", err)
	}
	if res.Applied != 0 {
		t.Errorf("applied %d entries after cancellation", res.Applied)
	}
	live := mustInspect(t, db.conn, db.dialect)
	if live.Table("extra") != nil {
		t.Error("cancelled plan left a table behind")
	}
}

func TestApplyPlan_PartialApplicationWithoutTransactionalDDL(t *testing.T) {
	db := newTestDB(t)
	d := nonTxDialect{db.dialect}
	migrateToModel(t, db, mustSnapshot(t, userTable()), false)

	// First entry applies; the second cannot render. Without transactional
	// DDL the first entry stays applied and the error says how far it got.
	extra := Table{Name: "extra", PrimaryKey: []string{"id"},
		Columns: []Column{{Name: "id", Type: "INTEGER", OrdinalPos: 1}}}
	plan := &Plan{Entries: []Drift{
		{Kind: AddTable, Table: "extra", TableDef: &extra},
		{Kind: AlterColumn, Table: "user",
			Old:    &Column{Name: "name", Type: "VARCHAR(100)"},
			Column: &Column{Name: "name", Type: "TEXT"}},
	}}

	res, err := applyPlan(testCtx(), db.conn, d, plan)
	var eerr *ExecutionError
	if !errors.As(err, &eerr) {
		t.Fatalf("want ExecutionError, got %v", err)
	}
	if eerr.Index != 1 || eerr.RolledBack {
		t.Errorf("error should carry index 1 without rollback claim, got %+v", eerr)
	}
	if res.Applied != 1 {
		t.Errorf("applied %d entries, want 1", res.Applied)
	}
	live := mustInspect(t, db.conn, db.dialect)
	if live.Table("extra") == nil {
		t.Error("entries before the failure should stay applied")
	}
}

func TestApplyPlan_DropTableWithFlag(t *testing.T) {
	db := newTestDB(t)
	migrateToModel(t, db, mustSnapshot(t, userTable(), orderTable()), false)

	migrateToModel(t, db, mustSnapshot(t, userTable()), true)

	live := mustInspect(t, db.conn, db.dialect)
	if live.Table("order") != nil {
		t.Error("order table should be dropped")
	}
	if live.Table("user") == nil {
		t.Error("user table should survive")
	}
}

func TestInspectRoundTrip(t *testing.T) {
	// Every detail the renderer writes must come back from the inspector,
	// otherwise converged schemas would drift forever.
	db := newTestDB(t)
	desired := mustSnapshot(t, userTable(), orderTable())
	migrateToModel(t, db, desired, false)

	live := mustInspect(t, db.conn, db.dialect)

	user := live.Table("user")
	if user == nil {
		t.Fatal("user table missing")
	}
	if got := user.PrimaryKey; len(got) != 1 || got[0] != "id" {
		t.Errorf("user primary key = %v", got)
	}
	email := user.Column("email")
	if email == nil || !email.Unique {
		t.Errorf("email should be unique, got %+v", email)
	}
	if email.Nullable {
		t.Error("email should be NOT NULL")
	}

	order := live.Table("order")
	if order == nil {
		t.Fatal("order table missing")
	}
	if len(order.ForeignKeys) != 1 {
		t.Fatalf("order foreign keys = %v", order.ForeignKeys)
	}
	fk := order.ForeignKeys[0]
	if fk.Column != "user_id" || fk.RefTable != "user" || fk.RefColumn != "id" {
		t.Errorf("bad foreign key: %+v", fk)
	}
}
