package sync

import (
	"context"
	"errors"
	"fmt"
)

// ErrSyncInProgress is returned by manual triggers while a run holds the gate.
var ErrSyncInProgress = errors.New("sync already in progress")

// ConnectionError wraps a failure talking to the source or target database.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SchemaNotFoundError means the source catalog returned no columns for a table.
type SchemaNotFoundError struct {
	Table string
}

func (e *SchemaNotFoundError) Error() string {
	return fmt.Sprintf("no columns found for source table '%s'", e.Table)
}

// UpsertConflictError is a batch write that failed after all retries.
type UpsertConflictError struct {
	Table string
	Batch int
	Err   error
}

func (e *UpsertConflictError) Error() string {
	return fmt.Sprintf("upsert of batch %d into table '%s' failed: %v", e.Batch, e.Table, e.Err)
}

func (e *UpsertConflictError) Unwrap() error { return e.Err }

// DDLError is a failed CREATE TABLE on the target.
type DDLError struct {
	Table string
	DDL   string
	Err   error
}

func (e *DDLError) Error() string {
	return fmt.Sprintf("failed to create target table '%s': %v", e.Table, e.Err)
}

func (e *DDLError) Unwrap() error { return e.Err }

// errorKind maps an error to the "type" label of the errors_total metric.
func errorKind(err error) string {
	var (
		connErr     *ConnectionError
		notFoundErr *SchemaNotFoundError
		upsertErr   *UpsertConflictError
		ddlErr      *DDLError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.As(err, &notFoundErr):
		return "schema_not_found"
	case errors.As(err, &upsertErr):
		return "upsert_conflict"
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &ddlErr):
		return "ddl"
	default:
		return "data_sync"
	}
}
