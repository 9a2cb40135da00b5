// Package sqlite provides a SQLite-backed document store using the pure Go
// modernc driver. Documents are kept as JSON text; Like queries call the
// json_contains function registered on the driver.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"docrepo/internal/infra/persistence/sqldoc"
	"docrepo/internal/jsondoc"

	"modernc.org/sqlite"
)

const (
	defaultPath  = "docrepo.db"
	containsFunc = "json_contains"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// Dialect is the SQLite SQL dialect.
type Dialect struct{}

var _ sqldoc.Dialect = Dialect{}

// Name implements sqldoc.Dialect.
func (Dialect) Name() string { return "sqlite" }

// CreateTableSQL implements sqldoc.Dialect.
func (Dialect) CreateTableSQL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL
	);`
}

// CreateIndexSQL implements sqldoc.Dialect. SQLite has no document index.
func (Dialect) CreateIndexSQL(string) string { return "" }

// Rebind implements sqldoc.Dialect.
func (Dialect) Rebind(query string) string { return query }

// ReturningID implements sqldoc.Dialect.
func (Dialect) ReturningID() bool { return true }

// LikePredicate implements sqldoc.Dialect.
func (Dialect) LikePredicate() string { return containsFunc + "(data, ?)" }

// Store is a sqldoc.Store speaking the SQLite dialect.
type Store struct {
	*sqldoc.Store
	path string
}

// NewStore opens (creating if needed) the SQLite database at path. An empty
// path falls back to defaultPath; ":memory:" keeps everything in process.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := registerContains(); err != nil {
		return nil, err
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{Store: sqldoc.New(db, Dialect{}), path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func registerContains() error {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction(containsFunc, 2, jsonContains)
		if registerErr != nil {
			registerErr = fmt.Errorf("register %s: %w", containsFunc, registerErr)
		}
	})
	return registerErr
}

func jsonContains(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	doc, ok := text(args[0])
	if !ok {
		return int64(0), nil
	}
	example, ok := text(args[1])
	if !ok {
		return int64(0), nil
	}
	if jsondoc.Contains(doc, example) {
		return int64(1), nil
	}
	return int64(0), nil
}

func text(v driver.Value) ([]byte, bool) {
	switch t := v.(type) {
	case string:
		return []byte(t), true
	case []byte:
		return t, true
	default:
		return nil, false
	}
}
