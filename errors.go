package main

import "fmt"

// InspectionError means the live database is unreachable or the target
// catalog does not exist. Fatal; no recovery attempted.
type InspectionError struct {
	Database string
	Err      error
}

func (e *InspectionError) Error() string {
	return fmt.Sprintf("inspect %s: %v", e.Database, e.Err)
}

func (e *InspectionError) Unwrap() error { return e.Err }

// PlanningError means the drift list contains a structural conflict the
// planner cannot resolve, such as a foreign key to a table that exists in
// neither snapshot. Fatal; requires manual model correction.
type PlanningError struct {
	Table  string
	Reason string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("plan %s: %s", e.Table, e.Reason)
}

// BackupError means the pre-migration snapshot could not be written.
// Fatal; the migration aborts before any change is applied.
type BackupError struct {
	Path string
	Err  error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backup %s: %v", e.Path, e.Err)
}

func (e *BackupError) Unwrap() error { return e.Err }

// ExecutionError reports a plan entry that could not be applied. Index is
// the position of the failing entry; entries before it were applied (and
// rolled back where the dialect supports transactional DDL).
type ExecutionError struct {
	Index      int
	Entry      Drift
	RolledBack bool
	Err        error
}

func (e *ExecutionError) Error() string {
	state := "partial application, resume or restore from backup"
	if e.RolledBack {
		state = "rolled back"
	}
	return fmt.Sprintf("execute entry %d (%s): %v [%s]", e.Index, e.Entry, e.Err, state)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// AnonymizationError means a redaction run failed. Batches completed
// before the failure remain committed; the failing batch is rolled back.
type AnonymizationError struct {
	Table  string
	Column string
	Err    error
}

func (e *AnonymizationError) Error() string {
	return fmt.Sprintf("anonymize %s.%s: %v", e.Table, e.Column, e.Err)
}

func (e *AnonymizationError) Unwrap() error { return e.Err }
