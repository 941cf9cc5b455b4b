package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// ExecResult reports how far a plan got. Applied == Total on success;
// anything less is the documented partial-application state for engines
// without transactional DDL.
type ExecResult struct {
	Applied int
	Total   int
}

// applyPlan executes every plan entry in order. Where the engine supports
// transactional DDL the whole plan runs in one transaction, and a failure
// restores the pre-plan state; otherwise entries apply one at a time and
// the result carries the index of the last success. Cancellation is
// honored between entries, never mid-statement.
func applyPlan(ctx context.Context, db *sql.DB, d Dialect, plan *Plan) (ExecResult, error) {
	res := ExecResult{Total: len(plan.Entries)}
	if plan.Empty() {
		return res, nil
	}

	if d.SupportsTransactionalDDL() {
		return applyPlanTx(ctx, db, d, plan)
	}

	for i, e := range plan.Entries {
		if err := ctx.Err(); err != nil {
			return res, &ExecutionError{Index: i, Entry: e, Err: err}
		}
		if err := applyEntry(ctx, db, d, e); err != nil {
			return res, &ExecutionError{Index: i, Entry: e, Err: err}
		}
		res.Applied++
		log.Printf("  applied %d/%d: %s", i+1, res.Total, e)
	}
	return res, nil
}

func applyPlanTx(ctx context.Context, db *sql.DB, d Dialect, plan *Plan) (ExecResult, error) {
	res := ExecResult{Total: len(plan.Entries)}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, e := range plan.Entries {
		if err := ctx.Err(); err != nil {
			return res, &ExecutionError{Index: i, Entry: e, RolledBack: true, Err: err}
		}
		if err := applyEntryTx(ctx, tx, d, e); err != nil {
			return res, &ExecutionError{Index: i, Entry: e, RolledBack: true, Err: err}
		}
		log.Printf("  applied %d/%d: %s", i+1, res.Total, e)
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit plan: %w", err)
	}
	res.Applied = res.Total
	return res, nil
}

func applyEntry(ctx context.Context, db *sql.DB, d Dialect, e Drift) error {
	stmts, err := renderEntry(d, e)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

func applyEntryTx(ctx context.Context, tx *sql.Tx, d Dialect, e Drift) error {
	stmts, err := renderEntry(d, e)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
