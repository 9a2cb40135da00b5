// Package postgres provides a Postgres-backed document store: each table keeps
// its documents in a JSONB column and Like queries use the @> operator.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"docrepo/internal/infra/persistence/sqldoc"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with core.Config defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/docrepo?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect is the Postgres SQL dialect.
type Dialect struct{}

var _ sqldoc.Dialect = Dialect{}

// Name implements sqldoc.Dialect.
func (Dialect) Name() string { return "postgres" }

// CreateTableSQL implements sqldoc.Dialect.
func (Dialect) CreateTableSQL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
		id BIGSERIAL PRIMARY KEY,
		version BIGINT NOT NULL DEFAULT 0,
		data JSONB NOT NULL
	);`
}

// CreateIndexSQL implements sqldoc.Dialect. The GIN index serves @> lookups.
func (Dialect) CreateIndexSQL(table string) string {
	return `CREATE INDEX IF NOT EXISTS ` + table + `_data_idx ON ` + table + ` USING GIN (data jsonb_path_ops);`
}

// Rebind implements sqldoc.Dialect.
func (Dialect) Rebind(query string) string { return sqldoc.RebindDollar(query) }

// ReturningID implements sqldoc.Dialect.
func (Dialect) ReturningID() bool { return true }

// LikePredicate implements sqldoc.Dialect.
func (Dialect) LikePredicate() string { return "data @> ?::jsonb" }

// Store is a sqldoc.Store speaking the Postgres dialect.
type Store struct {
	*sqldoc.Store
}

// NewStore opens a Postgres document store using the provided DSN (falls back
// to defaultDSN) and verifies the connection.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{Store: sqldoc.New(db, Dialect{})}, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
