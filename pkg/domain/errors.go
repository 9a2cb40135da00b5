package domain

import (
	"errors"
	"fmt"
)

// Error categories. Typed errors below unwrap to one of these so callers can
// branch with errors.Is.
var (
	// ErrConflict is an optimistic-lock violation: the stored version moved.
	ErrConflict = errors.New("optimistic lock conflict")
	// ErrTransient is an argument error: the record carries no metadata.
	ErrTransient = errors.New("record is transient")
	// ErrMissing is a state error: the targeted row no longer exists.
	ErrMissing = errors.New("record does not exist in store")
	// ErrNotFound is returned when a single-result query matched nothing.
	ErrNotFound = errors.New("no matching record")
	// ErrUnsupported is a dispatch-resolution failure.
	ErrUnsupported = errors.New("unsupported operation")
	// ErrStoreInvariant reports a store reply that breaks its contract, such as
	// a keyed update touching more than one row.
	ErrStoreInvariant = errors.New("store invariant violated")
	// ErrInvalidTable rejects table names that are not plain identifiers.
	ErrInvalidTable = errors.New("invalid table name")
)

// OptimisticLockError is returned when a conditional update matched no row.
// The caller must re-read and retry; the engine never retries.
type OptimisticLockError struct {
	Table    string
	Metadata Metadata
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("conflict updating %s identity %d: version %d is stale", e.Table, e.Metadata.Identity, e.Metadata.Version)
}

func (e *OptimisticLockError) Unwrap() error { return ErrConflict }

// ArgumentError is returned when an operation needs metadata the record lacks.
type ArgumentError struct {
	Op    string
	Table string
}

func (e *ArgumentError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("cannot %s a transient record", e.Op)
	}
	return fmt.Sprintf("cannot %s a transient record of %s", e.Op, e.Table)
}

func (e *ArgumentError) Unwrap() error { return ErrTransient }

// StateError is returned when a delete removed no row.
type StateError struct {
	Table    string
	Metadata Metadata
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot delete missing record of %s with %s", e.Table, e.Metadata)
}

func (e *StateError) Unwrap() error { return ErrMissing }

// NotFoundError is returned when a query required exactly one result.
type NotFoundError struct {
	Table string
	Query string
}

func (e *NotFoundError) Error() string {
	if e.Query == "" {
		return fmt.Sprintf("query on %s returned no results", e.Table)
	}
	return fmt.Sprintf("query %q on %s returned no results", e.Query, e.Table)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// UnsupportedError names a method the dispatcher could not resolve.
type UnsupportedError struct {
	Method string
	Reason string
}

func (e *UnsupportedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unsupported method %s", e.Method)
	}
	return fmt.Sprintf("unsupported method %s: %s", e.Method, e.Reason)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }
