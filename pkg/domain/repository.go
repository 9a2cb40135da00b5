package domain

import "context"

// Repository is the base contract every repository exposes. Engines
// implement it over a DocumentStore; declarative repositories built by the
// dispatch package pass these calls straight through.
type Repository[T Record] interface {
	// Table returns the table backing the repository.
	Table() string
	// Save inserts a transient record or performs a version-checked update
	// of a persistent one. A stale version yields an *OptimisticLockError.
	Save(ctx context.Context, record T) (T, error)
	// Delete removes the record by identity. Transient records yield an
	// *ArgumentError; an already missing row yields a *StateError.
	Delete(ctx context.Context, record T) error
	// DeleteAll wipes the table without any per-row lock. Concurrent inserts
	// may survive the wipe.
	DeleteAll(ctx context.Context) error
	// SearchAll returns every record matching the query fragment. An empty
	// fragment matches all; order is unspecified unless the fragment orders.
	SearchAll(ctx context.Context, query string, params ...any) ([]T, error)
	// SearchFirst returns the first record SearchAll would return.
	SearchFirst(ctx context.Context, query string, params ...any) (Optional[T], error)
	// SearchAllLike returns records whose document contains example.
	SearchAllLike(ctx context.Context, example any) ([]T, error)
	// SearchFirstLike returns the first record whose document contains example.
	SearchFirstLike(ctx context.Context, example any) (Optional[T], error)
}
