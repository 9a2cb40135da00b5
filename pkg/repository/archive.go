package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"docrepo/internal/blob"
	"docrepo/pkg/domain"
)

const (
	// ArchiveContentType is the content type archives are stored with.
	ArchiveContentType = "application/x-ndjson+zstd"
	// ArchiveTableKey and ArchiveRowsKey name the blob metadata entries
	// recording the source table and row count of an archive.
	ArchiveTableKey = "table"
	ArchiveRowsKey  = "rows"
)

// archiveLine is one row of an archive.
type archiveLine struct {
	ID       int64           `json:"id"`
	Version  int64           `json:"version"`
	Document json.RawMessage `json:"document"`
}

// Export streams every row of table, ordered by identity, into a new blob at
// key as zstd compressed NDJSON. Put is create-only, so an existing key fails
// with blob.ErrExists. It returns the blob info and the row count.
func Export(ctx context.Context, store domain.DocumentStore, table string, blobs blob.Store, key string) (blob.Info, int, error) {
	if err := domain.ValidateTable(table); err != nil {
		return blob.Info{}, 0, fmt.Errorf("export: %w", err)
	}
	rows, err := store.Search(ctx, table, domain.Query{})
	if err != nil {
		return blob.Info{}, 0, fmt.Errorf("export %s: %w", table, err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Identity < rows[j].Identity })

	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := writeArchive(gctx, pw, rows)
		_ = pw.CloseWithError(err)
		return err
	})
	var info blob.Info
	g.Go(func() error {
		var err error
		info, err = blobs.Put(gctx, key, pr, blob.PutOptions{
			ContentType: ArchiveContentType,
			Metadata:    map[string]string{ArchiveTableKey: table, ArchiveRowsKey: strconv.Itoa(len(rows))},
		})
		// unblock the writer when Put stops reading early
		_ = pr.CloseWithError(err)
		return err
	})
	if err := g.Wait(); err != nil {
		return blob.Info{}, 0, fmt.Errorf("export %s to %s: %w", table, key, err)
	}
	return info, len(rows), nil
}

func writeArchive(ctx context.Context, w io.Writer, rows []domain.Row) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(zw)
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			return err
		}
		if err := enc.Encode(archiveLine{ID: row.Identity, Version: row.Version, Document: row.Document}); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return zw.Close()
}

// Import reads the archive at key and inserts every document into table as a
// new record with a fresh identity and version 0. The table must exist. It
// returns the number of inserted rows; on error the rows inserted so far stay.
func Import(ctx context.Context, store domain.DocumentStore, table string, blobs blob.Store, key string) (int, error) {
	if err := domain.ValidateTable(table); err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}
	_, rc, err := blobs.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("import %s from %s: %w", table, key, err)
	}
	defer func() { _ = rc.Close() }()
	zr, err := zstd.NewReader(rc)
	if err != nil {
		return 0, fmt.Errorf("import %s from %s: %w", table, key, err)
	}
	defer zr.Close()

	dec := json.NewDecoder(zr)
	n := 0
	for {
		var line archiveLine
		err := dec.Decode(&line)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("import %s from %s: line %d: %w", table, key, n+1, err)
		}
		if doc := bytes.TrimSpace(line.Document); len(doc) == 0 || bytes.Equal(doc, []byte("null")) {
			return n, fmt.Errorf("import %s from %s: line %d: missing document", table, key, n+1)
		}
		if _, err := store.Insert(ctx, table, 0, line.Document); err != nil {
			return n, fmt.Errorf("import %s from %s: line %d: %w", table, key, n+1, err)
		}
		n++
	}
}

// Export writes the engine's table to key; see the package-level Export.
func (e *Engine[T]) Export(ctx context.Context, blobs blob.Store, key string) (info blob.Info, n int, err error) {
	ctx, done := e.observe(ctx, "export")
	defer func() { done(err) }()
	return Export(ctx, e.store, e.table, blobs, key)
}

// Import loads the archive at key into the engine's table.
func (e *Engine[T]) Import(ctx context.Context, blobs blob.Store, key string) (n int, err error) {
	ctx, done := e.observe(ctx, "import")
	defer func() { done(err) }()
	return Import(ctx, e.store, e.table, blobs, key)
}
