package domain

import "context"

// Row is one stored document with its identity and version columns.
type Row struct {
	Document []byte
	Identity int64
	Version  int64
}

// Query is a caller supplied predicate fragment with positional parameters.
// Limit 0 means no row limit.
type Query struct {
	Predicate string
	Params    []any
	Limit     int
}

// DocumentStore executes the storage primitives the engine needs against a
// table of (id, version, document) rows. Implementations acquire any
// connection per call and release it before returning.
type DocumentStore interface {
	// CreateTable creates the table if it does not exist.
	CreateTable(ctx context.Context, table string) error
	// CreateIndex creates the document index if the dialect has one.
	CreateIndex(ctx context.Context, table string) error
	// Insert stores doc with the given version and returns the generated identity.
	Insert(ctx context.Context, table string, version int64, doc []byte) (int64, error)
	// ConditionalUpdate replaces the document and increments the version of
	// the row matching identity and expected version. It returns rows affected.
	ConditionalUpdate(ctx context.Context, table string, identity, expected int64, doc []byte) (int64, error)
	// Delete removes the row by identity and returns rows affected.
	Delete(ctx context.Context, table string, identity int64) (int64, error)
	// DeleteAll removes every row.
	DeleteAll(ctx context.Context, table string) error
	// Search returns the rows matching q.
	Search(ctx context.Context, table string, q Query) ([]Row, error)
	// LikePredicate returns the dialect's containment predicate. It takes
	// exactly one parameter: the example document as a JSON string.
	LikePredicate() string
	// Close releases the store's resources.
	Close() error
}

// Codec converts records to and from documents.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}
