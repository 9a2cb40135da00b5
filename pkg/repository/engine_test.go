package repository

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrepo/internal/core"
	"docrepo/internal/infra/persistence/bolt"
	"docrepo/internal/infra/persistence/memory"
	"docrepo/internal/infra/persistence/sqlite"
	"docrepo/pkg/domain"
)

type SomeEntity struct {
	domain.Base
	X    int    `json:"x,omitempty"`
	Y    int    `json:"y,omitempty"`
	Name string `json:"name,omitempty"`
}

var _ domain.Repository[*SomeEntity] = (*Engine[*SomeEntity])(nil)

type backend struct {
	name    string
	store   domain.DocumentStore
	ordered string // fragment ordering by identity
	xBelow  string // fragment "x < ?"
}

func backends(t *testing.T) []backend {
	t.Helper()
	sq, err := sqlite.NewStore(context.Background(), filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	bo, err := bolt.NewStore(filepath.Join(t.TempDir(), "docs.bolt"))
	require.NoError(t, err)
	out := []backend{
		{name: "memory", store: memory.NewStore(), ordered: "ORDER BY @id", xBelow: "x < ?"},
		{name: "sqlite", store: sq, ordered: "ORDER BY id", xBelow: "json_extract(data, '$.x') < ?"},
		{name: "bolt", store: bo, ordered: "ORDER BY @id", xBelow: "x < ?"},
	}
	t.Cleanup(func() {
		for _, b := range out {
			_ = b.store.Close()
		}
	})
	return out
}

func newEngine(t *testing.T, store domain.DocumentStore, opts ...Option) *Engine[*SomeEntity] {
	t.Helper()
	e, err := New[*SomeEntity](store, opts...)
	require.NoError(t, err)
	require.NoError(t, e.CreateTable(context.Background()))
	require.NoError(t, e.CreateIndex(context.Background()))
	return e
}

func TestSaveInsertAssignsVersionZero(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			e := newEngine(t, b.store)
			first, err := e.Save(ctx, &SomeEntity{X: 1})
			require.NoError(t, err)
			second, err := e.Save(ctx, &SomeEntity{X: 1})
			require.NoError(t, err)

			m1, ok := first.Metadata()
			require.True(t, ok)
			m2, ok := second.Metadata()
			require.True(t, ok)
			assert.Equal(t, int64(0), m1.Version)
			assert.Equal(t, int64(0), m2.Version)
			assert.NotEqual(t, m1.Identity, m2.Identity)
			assert.False(t, domain.Equal(first, second))
		})
	}
}

func TestSaveOptimisticLock(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			e := newEngine(t, b.store)
			saved, err := e.Save(ctx, &SomeEntity{X: 1, Name: "orig"})
			require.NoError(t, err)
			meta, _ := saved.Metadata()

			a, err := FindFirst[*SomeEntity](ctx, e, "")
			require.NoError(t, err)
			c, err := FindFirst[*SomeEntity](ctx, e, "")
			require.NoError(t, err)
			assert.True(t, domain.Equal(a, c))

			a.Name = "first"
			a, err = e.Save(ctx, a)
			require.NoError(t, err)
			got, _ := a.Metadata()
			assert.Equal(t, domain.Metadata{Identity: meta.Identity, Version: 1}, got)

			c.Name = "second"
			_, err = e.Save(ctx, c)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConflict)
			var lockErr *domain.OptimisticLockError
			require.ErrorAs(t, err, &lockErr)
			assert.Equal(t, meta, lockErr.Metadata)
			assert.Equal(t, "some_entity", lockErr.Table)

			stored, err := FindFirst[*SomeEntity](ctx, e, "")
			require.NoError(t, err)
			assert.Equal(t, "first", stored.Name)
			m, _ := stored.Metadata()
			assert.Equal(t, int64(1), m.Version)
		})
	}
}

func TestSaveConcurrentWritersOneWinner(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			e := newEngine(t, b.store)
			saved, err := e.Save(ctx, &SomeEntity{X: 1})
			require.NoError(t, err)
			meta, _ := saved.Metadata()

			const writers = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				wins      int
				conflicts int
			)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					copyRec := domain.Attach(&SomeEntity{X: i}, &meta)
					_, err := e.Save(ctx, copyRec)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						wins++
					case errors.Is(err, domain.ErrConflict):
						conflicts++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
			assert.Equal(t, writers-1, conflicts)
		})
	}
}

func TestDeleteRequiresIdentityAndExistingRow(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			e := newEngine(t, b.store)

			err := e.Delete(ctx, &SomeEntity{X: 1})
			assert.ErrorIs(t, err, domain.ErrTransient)
			var argErr *domain.ArgumentError
			assert.ErrorAs(t, err, &argErr)

			saved, err := e.Save(ctx, &SomeEntity{X: 1})
			require.NoError(t, err)
			require.NoError(t, e.Delete(ctx, saved))

			err = e.Delete(ctx, saved)
			assert.ErrorIs(t, err, domain.ErrMissing)
			var stateErr *domain.StateError
			require.ErrorAs(t, err, &stateErr)
			meta, _ := saved.Metadata()
			assert.Equal(t, meta, stateErr.Metadata)

			_, err = e.Save(ctx, saved)
			assert.ErrorIs(t, err, domain.ErrConflict, "update of a deleted row is a conflict")
		})
	}
}

func TestDeleteIgnoresVersion(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, memory.NewStore())
	saved, err := e.Save(ctx, &SomeEntity{X: 1})
	require.NoError(t, err)
	stale := domain.AttachFrom(&SomeEntity{}, saved)
	_, err = e.Save(ctx, saved)
	require.NoError(t, err)
	assert.NoError(t, e.Delete(ctx, stale))
}

func TestSearchAllLike(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			e := newEngine(t, b.store)
			for _, r := range []*SomeEntity{{X: 1, Y: 2}, {X: 2, Y: 5}, {X: 3, Y: 3}} {
				_, err := e.Save(ctx, r)
				require.NoError(t, err)
			}

			found, err := e.SearchAllLike(ctx, map[string]any{"x": 2})
			require.NoError(t, err)
			require.Len(t, found, 1)
			assert.Equal(t, 2, found[0].X)
			assert.Equal(t, 5, found[0].Y)
			_, persistent := found[0].Metadata()
			assert.True(t, persistent)

			byRecord, err := e.SearchAllLike(ctx, &SomeEntity{Y: 3})
			require.NoError(t, err)
			require.Len(t, byRecord, 1)
			assert.Equal(t, 3, byRecord[0].X)

			first, err := e.SearchFirstLike(ctx, map[string]any{"x": 9})
			require.NoError(t, err)
			assert.False(t, first.Present())

			all, err := e.SearchAllLike(ctx, map[string]any{})
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

type Labelled struct {
	domain.Base
	Name   string          `json:"name"`
	Labels map[string]*int `json:"labels"`
}

func TestNullMembersSurviveSaveAndActAsLikeWildcards(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			e, err := New[*Labelled](b.store)
			require.NoError(t, err)
			require.NoError(t, e.CreateTable(ctx))
			one := 1
			_, err = e.Save(ctx, &Labelled{Name: "a", Labels: map[string]*int{"unset": nil, "set": &one}})
			require.NoError(t, err)
			_, err = e.Save(ctx, &Labelled{Name: "b"})
			require.NoError(t, err)

			got, err := FindFirstLike(ctx, e, map[string]any{"name": "a"})
			require.NoError(t, err)
			require.Contains(t, got.Labels, "unset")
			assert.Nil(t, got.Labels["unset"])
			require.NotNil(t, got.Labels["set"])
			assert.Equal(t, 1, *got.Labels["set"])

			// Labels is null in the example, so it constrains nothing.
			like, err := e.SearchAllLike(ctx, &Labelled{Name: "b"})
			require.NoError(t, err)
			require.Len(t, like, 1)
			assert.Equal(t, "b", like[0].Name)
		})
	}
}

func TestSearchFragments(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			e := newEngine(t, b.store)
			for x := 1; x <= 4; x++ {
				_, err := e.Save(ctx, &SomeEntity{X: x})
				require.NoError(t, err)
			}

			all, err := e.SearchAll(ctx, b.ordered)
			require.NoError(t, err)
			require.Len(t, all, 4)
			for i, r := range all {
				assert.Equal(t, i+1, r.X)
			}

			below, err := e.SearchAll(ctx, b.xBelow, 3)
			require.NoError(t, err)
			assert.Len(t, below, 2)

			first, err := e.SearchFirst(ctx, b.xBelow, 3)
			require.NoError(t, err)
			rec, ok := first.Get()
			require.True(t, ok)
			assert.Less(t, rec.X, 3)

			none, err := e.SearchFirst(ctx, b.xBelow, 0)
			require.NoError(t, err)
			assert.False(t, none.Present())

			_, err = FindFirst[*SomeEntity](ctx, e, b.xBelow, 0)
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			e := newEngine(t, b.store)
			for x := 0; x < 3; x++ {
				_, err := e.Save(ctx, &SomeEntity{X: x})
				require.NoError(t, err)
			}
			require.NoError(t, e.DeleteAll(ctx))
			all, err := e.SearchAll(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, all)

			again, err := e.Save(ctx, &SomeEntity{X: 9})
			require.NoError(t, err)
			meta, _ := again.Metadata()
			assert.Equal(t, int64(0), meta.Version)
		})
	}
}

func TestNewTableNaming(t *testing.T) {
	store := memory.NewStore()

	e, err := New[*SomeEntity](store)
	require.NoError(t, err)
	assert.Equal(t, "some_entity", e.Table())
	assert.Equal(t, "Engine[some_entity]", e.String())
	assert.Same(t, store, e.Store())

	e, err = New[*SomeEntity](store, WithTable("entities"))
	require.NoError(t, err)
	assert.Equal(t, "entities", e.Table())

	cfg := core.DefaultConfig()
	cfg.Tables = map[string]string{"SomeEntity": "configured"}
	e, err = New[*SomeEntity](store, WithConfig(cfg))
	require.NoError(t, err)
	assert.Equal(t, "configured", e.Table())

	e, err = New[*SomeEntity](store, WithConfig(cfg), WithTable("explicit"))
	require.NoError(t, err)
	assert.Equal(t, "explicit", e.Table())

	_, err = New[*SomeEntity](store, WithTable("Some Entity; DROP"))
	assert.ErrorIs(t, err, domain.ErrInvalidTable)

	_, err = New[*SomeEntity](nil)
	assert.Error(t, err)

	assert.NotPanics(t, func() { MustNew[*SomeEntity](store, WithTable("")) }, "empty explicit table falls back to naming")
	assert.Panics(t, func() { MustNew[*SomeEntity](store, WithTable("Bad Name")) })
}

func TestSaveNilRecord(t *testing.T) {
	e := newEngine(t, memory.NewStore())
	_, err := e.Save(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.ErrorIs(t, e.Delete(context.Background(), nil), domain.ErrTransient)
}

// skewedStore reports more affected rows than a keyed write can touch.
type skewedStore struct {
	*memory.Store
}

func (skewedStore) ConditionalUpdate(context.Context, string, int64, int64, []byte) (int64, error) {
	return 2, nil
}

func (skewedStore) Delete(context.Context, string, int64) (int64, error) {
	return 2, nil
}

func TestStoreInvariantViolation(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, skewedStore{memory.NewStore()})
	rec := domain.Attach(&SomeEntity{}, domain.NewMetadata(1, 0))
	_, err := e.Save(ctx, rec)
	assert.ErrorIs(t, err, domain.ErrStoreInvariant)
	assert.ErrorIs(t, e.Delete(ctx, rec), domain.ErrStoreInvariant)
}

type failingStore struct {
	*memory.Store
}

var errBackend = errors.New("backend down")

func (failingStore) Insert(context.Context, string, int64, []byte) (int64, error) {
	return 0, errBackend
}

func (failingStore) Search(context.Context, string, domain.Query) ([]domain.Row, error) {
	return nil, errBackend
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, failingStore{memory.NewStore()})
	_, err := e.Save(ctx, &SomeEntity{})
	require.ErrorIs(t, err, errBackend)
	assert.Contains(t, err.Error(), "insert some_entity")
	_, err = e.SearchAll(ctx, "")
	require.ErrorIs(t, err, errBackend)
	assert.Contains(t, err.Error(), "search some_entity")
}

type corruptStore struct {
	*memory.Store
}

func (corruptStore) Search(context.Context, string, domain.Query) ([]domain.Row, error) {
	return []domain.Row{{Identity: 4, Version: 0, Document: []byte(`{"x":"not a number"}`)}}, nil
}

func TestDecodeFailureNamesRow(t *testing.T) {
	e := newEngine(t, corruptStore{memory.NewStore()})
	_, err := e.SearchAll(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode some_entity identity 4")
}

func TestEngineObservability(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	logger, err := core.NewLogger(core.LogConfig{Level: "debug"}, &logs)
	require.NoError(t, err)
	metrics := core.NewExpvarMetricsRecorder("")
	tracer := core.NewJSONTracer(nil)

	e := newEngine(t, memory.NewStore(), WithLogger(logger), WithMetrics(metrics), WithTracer(tracer))
	saved, err := e.Save(ctx, &SomeEntity{X: 1})
	require.NoError(t, err)
	require.NoError(t, e.Delete(ctx, saved))
	assert.Error(t, e.Delete(ctx, saved))

	out := logs.String()
	assert.Contains(t, out, "msg=insert")
	assert.Contains(t, out, "table=some_entity")
	assert.Contains(t, out, "identity=1")

	snap := metrics.Snapshot()
	assert.Equal(t, OpStats{Count: 1}, stripTiming(snap.Ops["some_entity.save"]))
	assert.Equal(t, OpStats{Count: 2, Errors: 1}, stripTiming(snap.Ops["some_entity.delete"]))

	var ops []string
	spans := tracer.Spans()
	for _, span := range spans {
		assert.Equal(t, "some_entity", span.Table)
		ops = append(ops, span.Operation)
	}
	assert.Equal(t, []string{"create_table", "create_index", "save", "delete", "delete"}, ops)
	assert.Equal(t, "missing", spans[len(spans)-1].ErrorKind)
}

func stripTiming(s OpStats) OpStats {
	s.TotalMS, s.MaxMS = 0, 0
	return s
}
