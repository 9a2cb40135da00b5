package repository

import (
	"context"

	"docrepo/pkg/domain"
)

// FindFirst is SearchFirst that reports an empty result as
// *domain.NotFoundError.
func FindFirst[T domain.Record](ctx context.Context, repo domain.Repository[T], query string, params ...any) (T, error) {
	found, err := repo.SearchFirst(ctx, query, params...)
	if err != nil {
		var zero T
		return zero, err
	}
	record, ok := found.Get()
	if !ok {
		return record, &domain.NotFoundError{Table: repo.Table(), Query: query}
	}
	return record, nil
}

// FindFirstLike is SearchFirstLike that reports an empty result as
// *domain.NotFoundError.
func FindFirstLike[T domain.Record](ctx context.Context, repo domain.Repository[T], example any) (T, error) {
	found, err := repo.SearchFirstLike(ctx, example)
	if err != nil {
		var zero T
		return zero, err
	}
	record, ok := found.Get()
	if !ok {
		return record, &domain.NotFoundError{Table: repo.Table()}
	}
	return record, nil
}

// Update returns a function that maps a record through f, carries the
// original record's metadata over to the result and saves it. A conflict is
// returned as is; the caller re-reads and retries.
func Update[T domain.Record](repo domain.Repository[T], f func(T) T) func(context.Context, T) (T, error) {
	return func(ctx context.Context, record T) (T, error) {
		return repo.Save(ctx, domain.AttachFrom(f(record), record))
	}
}
