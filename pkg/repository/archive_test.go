package repository

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrepo/internal/blob"
	"docrepo/internal/infra/persistence/memory"
	"docrepo/internal/infra/persistence/sqlite"
	"docrepo/pkg/domain"
)

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newEngine(t, memory.NewStore())
	for x := 1; x <= 3; x++ {
		_, err := src.Save(ctx, &SomeEntity{X: x, Name: "n"})
		require.NoError(t, err)
	}
	blobs := blob.NewMemory()

	info, n, err := src.Export(ctx, blobs, "archives/some_entity.ndjson.zst")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, ArchiveContentType, info.ContentType)
	assert.Equal(t, "3", info.Metadata[ArchiveRowsKey])
	assert.Equal(t, "some_entity", info.Metadata[ArchiveTableKey])

	_, _, err = src.Export(ctx, blobs, "archives/some_entity.ndjson.zst")
	assert.ErrorIs(t, err, blob.ErrExists)

	sq, err := sqlite.NewStore(ctx, filepath.Join(t.TempDir(), "import.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	dst := newEngine(t, sq, WithTable("restored"))
	_, err = dst.Save(ctx, &SomeEntity{X: 100})
	require.NoError(t, err)

	imported, err := dst.Import(ctx, blobs, "archives/some_entity.ndjson.zst")
	require.NoError(t, err)
	assert.Equal(t, 3, imported)

	all, err := dst.SearchAll(ctx, "ORDER BY id")
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, r := range all[1:] {
		assert.Equal(t, i+1, r.X)
		meta, _ := r.Metadata()
		assert.Equal(t, int64(0), meta.Version)
	}
}

func TestExportImportThroughS3(t *testing.T) {
	ctx := context.Background()
	src := newEngine(t, memory.NewStore())
	for x := 1; x <= 2; x++ {
		_, err := src.Save(ctx, &SomeEntity{X: x})
		require.NoError(t, err)
	}
	blobs := blob.NewMockS3ForTests()

	_, n, err := src.Export(ctx, blobs, "archives/s3.ndjson.zst")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, _, err = src.Export(ctx, blobs, "archives/s3.ndjson.zst")
	assert.ErrorIs(t, err, blob.ErrExists)

	listed, err := blobs.List(ctx, "archives/")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "some_entity", listed[0].Metadata[ArchiveTableKey])
	assert.Equal(t, "2", listed[0].Metadata[ArchiveRowsKey])

	dst := newEngine(t, memory.NewStore(), WithTable("restored"))
	imported, err := dst.Import(ctx, blobs, "archives/s3.ndjson.zst")
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
}

func TestExportOrdersByIdentity(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	e := newEngine(t, store)
	var saved []*SomeEntity
	for x := 1; x <= 3; x++ {
		r, err := e.Save(ctx, &SomeEntity{X: x})
		require.NoError(t, err)
		saved = append(saved, r)
	}
	saved[0].Name = "touched"
	_, err := e.Save(ctx, saved[0])
	require.NoError(t, err)

	blobs := blob.NewMemory()
	_, _, err = Export(ctx, store, "some_entity", blobs, "a")
	require.NoError(t, err)

	target := memory.NewStore()
	require.NoError(t, target.CreateTable(ctx, "copy"))
	_, err = Import(ctx, target, "copy", blobs, "a")
	require.NoError(t, err)
	rows, err := target.Search(ctx, "copy", domain.Query{Predicate: "ORDER BY @id"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.JSONEq(t, `{"x":1,"name":"touched"}`, string(rows[0].Document))
	assert.JSONEq(t, `{"x":3}`, string(rows[2].Document))
}

func TestImportErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.CreateTable(ctx, "t"))
	blobs := blob.NewMemory()

	_, err := Import(ctx, store, "t", blobs, "missing")
	assert.ErrorIs(t, err, blob.ErrNotFound)

	_, err = blobs.Put(ctx, "plain", bytes.NewReader([]byte(`{"id":1}`)), blob.PutOptions{})
	require.NoError(t, err)
	_, err = Import(ctx, store, "t", blobs, "plain")
	assert.Error(t, err)

	_, err = Import(ctx, store, "Bad Table", blobs, "plain")
	assert.ErrorIs(t, err, domain.ErrInvalidTable)
	_, _, err = Export(ctx, store, "Bad Table", blobs, "x")
	assert.ErrorIs(t, err, domain.ErrInvalidTable)
}

func TestImportRejectsLineWithoutDocument(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.CreateTable(ctx, "t"))
	blobs := blob.NewMemory()

	var buf bytes.Buffer
	require.NoError(t, writeArchive(ctx, &buf, []domain.Row{{Identity: 1, Document: []byte(`{"x":1}`)}}))
	_, err := blobs.Put(ctx, "ok", bytes.NewReader(buf.Bytes()), blob.PutOptions{})
	require.NoError(t, err)
	n, err := Import(ctx, store, "t", blobs, "ok")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	buf.Reset()
	require.NoError(t, writeArchive(ctx, &buf, []domain.Row{{Identity: 1, Document: []byte(`{"x":1}`)}, {Identity: 2}}))
	_, err = blobs.Put(ctx, "broken", bytes.NewReader(buf.Bytes()), blob.PutOptions{})
	require.NoError(t, err)
	n, err = Import(ctx, store, "t", blobs, "broken")
	require.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestExportMissingTable(t *testing.T) {
	_, _, err := Export(context.Background(), memory.NewStore(), "absent", blob.NewMemory(), "k")
	assert.ErrorIs(t, err, memory.ErrNoTable)
}
