// Package mysql provides a MySQL-backed document store. Documents live in a
// JSON column; Like queries use JSON_CONTAINS and generated identities come
// from LAST_INSERT_ID.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"docrepo/internal/infra/persistence/sqldoc"

	"github.com/go-sql-driver/mysql"
)

const (
	defaultDriver = "mysql"
	defaultDSN    = "root@tcp(localhost:3306)/docrepo"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect is the MySQL SQL dialect.
type Dialect struct{}

var _ sqldoc.Dialect = Dialect{}

// Name implements sqldoc.Dialect.
func (Dialect) Name() string { return "mysql" }

// CreateTableSQL implements sqldoc.Dialect.
func (Dialect) CreateTableSQL(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + table + ` (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		version BIGINT NOT NULL DEFAULT 0,
		data JSON NOT NULL
	);`
}

// CreateIndexSQL implements sqldoc.Dialect. JSON columns cannot carry a plain
// index, so there is nothing to create.
func (Dialect) CreateIndexSQL(string) string { return "" }

// Rebind implements sqldoc.Dialect.
func (Dialect) Rebind(query string) string { return query }

// ReturningID implements sqldoc.Dialect.
func (Dialect) ReturningID() bool { return false }

// LikePredicate implements sqldoc.Dialect.
func (Dialect) LikePredicate() string { return "JSON_CONTAINS(data, ?, '$')" }

// Store is a sqldoc.Store speaking the MySQL dialect.
type Store struct {
	*sqldoc.Store
}

// NewStore opens a MySQL document store. The DSN (falls back to defaultDSN) is
// parsed and normalised by the driver before the pool is opened.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, cfg.FormatDSN())
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
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
