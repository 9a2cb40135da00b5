// Package repository implements the optimistic-concurrency repository engine
// over a domain.DocumentStore.
//
// Save on a transient record inserts it with version 0. Save on a persistent
// record performs a conditional update keyed by identity and version; a stale
// version yields *domain.OptimisticLockError and is never retried. Delete is
// keyed by identity only. DeleteAll wipes the table without per-row locking.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"docrepo/internal/core"
	"docrepo/internal/jsondoc"
	"docrepo/pkg/domain"
)

// Engine is the Repository implementation for record type T, which must be a
// pointer to a struct (normally one embedding domain.Base).
type Engine[T domain.Record] struct {
	store   domain.DocumentStore
	table   string
	codec   domain.Codec
	logger  *slog.Logger
	metrics core.MetricsRecorder
	tracer  core.Tracer
	elem    reflect.Type
}

// New builds an engine for T over store. The table defaults to the snake
// case form of T's type name.
func New[T domain.Record](store domain.DocumentStore, opts ...Option) (*Engine[T], error) {
	if store == nil {
		return nil, fmt.Errorf("repository: nil document store")
	}
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("repository: record type %s must be a pointer to a struct", typ)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	table := o.table
	if table == "" {
		if override, ok := o.config.TableFor(typ.Elem().Name()); ok {
			table = override
		} else {
			table = domain.TableName(typ.Elem().Name())
		}
	}
	if err := domain.ValidateTable(table); err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}
	return &Engine[T]{
		store:   store,
		table:   table,
		codec:   o.codec,
		logger:  o.logger,
		metrics: o.metrics,
		tracer:  o.tracer,
		elem:    typ.Elem(),
	}, nil
}

// MustNew is New that panics on error.
func MustNew[T domain.Record](store domain.DocumentStore, opts ...Option) *Engine[T] {
	e, err := New[T](store, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Table implements domain.Repository.
func (e *Engine[T]) Table() string { return e.table }

// Store returns the backing document store.
func (e *Engine[T]) Store() domain.DocumentStore { return e.store }

func (e *Engine[T]) String() string { return "Engine[" + e.table + "]" }

// CreateTable creates the backing table if it does not exist.
func (e *Engine[T]) CreateTable(ctx context.Context) (err error) {
	ctx, done := e.observe(ctx, "create_table")
	defer func() { done(err) }()
	if err := e.store.CreateTable(ctx, e.table); err != nil {
		return fmt.Errorf("create table %s: %w", e.table, err)
	}
	return nil
}

// CreateIndex creates the document index where the store has one.
func (e *Engine[T]) CreateIndex(ctx context.Context) (err error) {
	ctx, done := e.observe(ctx, "create_index")
	defer func() { done(err) }()
	if err := e.store.CreateIndex(ctx, e.table); err != nil {
		return fmt.Errorf("create index %s: %w", e.table, err)
	}
	return nil
}

// Save implements domain.Repository.
func (e *Engine[T]) Save(ctx context.Context, record T) (out T, err error) {
	ctx, done := e.observe(ctx, "save")
	defer func() { done(err) }()

	if isNil(record) {
		return out, fmt.Errorf("save %s: nil record: %w", e.table, domain.ErrTransient)
	}
	doc, err := e.codec.Encode(record)
	if err != nil {
		return out, fmt.Errorf("save %s: %w", e.table, err)
	}
	meta, persistent := record.Metadata()
	if !persistent {
		e.logger.DebugContext(ctx, "insert", "table", e.table, "version", 0)
		id, err := e.store.Insert(ctx, e.table, 0, doc)
		if err != nil {
			return out, fmt.Errorf("insert %s: %w", e.table, err)
		}
		return domain.Attach(record, domain.NewMetadata(id, 0)), nil
	}

	e.logger.DebugContext(ctx, "update", "table", e.table, "identity", meta.Identity, "version", meta.Version)
	n, err := e.store.ConditionalUpdate(ctx, e.table, meta.Identity, meta.Version, doc)
	if err != nil {
		return out, fmt.Errorf("update %s: %w", e.table, err)
	}
	switch n {
	case 0:
		return out, &domain.OptimisticLockError{Table: e.table, Metadata: meta}
	case 1:
		next := meta.Next()
		return domain.Attach(record, &next), nil
	default:
		return out, fmt.Errorf("update %s identity %d touched %d rows: %w", e.table, meta.Identity, n, domain.ErrStoreInvariant)
	}
}

// Delete implements domain.Repository.
func (e *Engine[T]) Delete(ctx context.Context, record T) (err error) {
	ctx, done := e.observe(ctx, "delete")
	defer func() { done(err) }()

	if isNil(record) {
		return &domain.ArgumentError{Op: "delete", Table: e.table}
	}
	meta, persistent := record.Metadata()
	if !persistent {
		return &domain.ArgumentError{Op: "delete", Table: e.table}
	}
	e.logger.DebugContext(ctx, "delete", "table", e.table, "identity", meta.Identity, "version", meta.Version)
	n, err := e.store.Delete(ctx, e.table, meta.Identity)
	if err != nil {
		return fmt.Errorf("delete %s: %w", e.table, err)
	}
	switch n {
	case 0:
		return &domain.StateError{Table: e.table, Metadata: meta}
	case 1:
		return nil
	default:
		return fmt.Errorf("delete %s identity %d touched %d rows: %w", e.table, meta.Identity, n, domain.ErrStoreInvariant)
	}
}

// DeleteAll implements domain.Repository. It holds no lock; rows inserted
// concurrently may survive.
func (e *Engine[T]) DeleteAll(ctx context.Context) (err error) {
	ctx, done := e.observe(ctx, "delete_all")
	defer func() { done(err) }()
	e.logger.DebugContext(ctx, "delete all", "table", e.table)
	if err := e.store.DeleteAll(ctx, e.table); err != nil {
		return fmt.Errorf("delete all %s: %w", e.table, err)
	}
	return nil
}

// SearchAll implements domain.Repository.
func (e *Engine[T]) SearchAll(ctx context.Context, query string, params ...any) (out []T, err error) {
	ctx, done := e.observe(ctx, "search_all")
	defer func() { done(err) }()
	return e.search(ctx, domain.Query{Predicate: query, Params: params})
}

// SearchFirst implements domain.Repository.
func (e *Engine[T]) SearchFirst(ctx context.Context, query string, params ...any) (out domain.Optional[T], err error) {
	ctx, done := e.observe(ctx, "search_first")
	defer func() { done(err) }()
	return e.first(ctx, domain.Query{Predicate: query, Params: params, Limit: 1})
}

// SearchAllLike implements domain.Repository. example is encoded with the
// engine's codec, so null members are wildcards.
func (e *Engine[T]) SearchAllLike(ctx context.Context, example any) (out []T, err error) {
	ctx, done := e.observe(ctx, "search_all_like")
	defer func() { done(err) }()
	q, err := e.likeQuery(example, 0)
	if err != nil {
		return nil, err
	}
	return e.search(ctx, q)
}

// SearchFirstLike implements domain.Repository.
func (e *Engine[T]) SearchFirstLike(ctx context.Context, example any) (out domain.Optional[T], err error) {
	ctx, done := e.observe(ctx, "search_first_like")
	defer func() { done(err) }()
	q, err := e.likeQuery(example, 1)
	if err != nil {
		return out, err
	}
	return e.first(ctx, q)
}

func (e *Engine[T]) likeQuery(example any, limit int) (domain.Query, error) {
	doc, err := e.codec.Encode(example)
	if err == nil {
		// null members of an example match anything
		doc, err = jsondoc.StripNulls(doc)
	}
	if err != nil {
		return domain.Query{}, fmt.Errorf("like %s: %w", e.table, err)
	}
	return domain.Query{Predicate: e.store.LikePredicate(), Params: []any{string(doc)}, Limit: limit}, nil
}

func (e *Engine[T]) first(ctx context.Context, q domain.Query) (domain.Optional[T], error) {
	records, err := e.search(ctx, q)
	if err != nil || len(records) == 0 {
		return domain.None[T](), err
	}
	return domain.Some(records[0]), nil
}

func (e *Engine[T]) search(ctx context.Context, q domain.Query) ([]T, error) {
	rows, err := e.store.Search(ctx, e.table, q)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", e.table, err)
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		record, err := e.decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

func (e *Engine[T]) decode(row domain.Row) (T, error) {
	record := reflect.New(e.elem).Interface().(T)
	if err := e.codec.Decode(row.Document, record); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s identity %d: %w", e.table, row.Identity, err)
	}
	return domain.Attach(record, domain.NewMetadata(row.Identity, row.Version)), nil
}

func (e *Engine[T]) observe(ctx context.Context, op string) (context.Context, func(error)) {
	ctx = core.WithTable(ctx, e.table)
	ctx, span := e.tracer.Start(ctx, op)
	start := time.Now()
	return ctx, func(err error) {
		e.metrics.Observe(ctx, op, err == nil, time.Since(start))
		span.End(err)
	}
}

func isNil(r domain.Record) bool {
	if r == nil {
		return true
	}
	v := reflect.ValueOf(r)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
