package sqldoc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"docrepo/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.DocumentStore = (*Store)(nil)

var leadingClause = regexp.MustCompile(`(?i)^(WHERE|ORDER\s+BY)\b`)

// Store is a DocumentStore backed by a *sql.DB. Every call borrows a pooled
// connection and returns it before the call completes.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps db with the given dialect.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the store's dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// LikePredicate implements domain.DocumentStore.
func (s *Store) LikePredicate() string { return s.dialect.LikePredicate() }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// CreateTable implements domain.DocumentStore.
func (s *Store) CreateTable(ctx context.Context, table string) error {
	if err := domain.ValidateTable(table); err != nil {
		return err
	}
	return s.execDDL(ctx, "create table", table, s.dialect.CreateTableSQL(table))
}

// CreateIndex implements domain.DocumentStore.
func (s *Store) CreateIndex(ctx context.Context, table string) error {
	if err := domain.ValidateTable(table); err != nil {
		return err
	}
	return s.execDDL(ctx, "create index", table, s.dialect.CreateIndexSQL(table))
}

func (s *Store) execDDL(ctx context.Context, op, table, ddl string) error {
	for _, stmt := range SplitStatements(ddl) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s %s: %w", op, table, err)
		}
	}
	return nil
}

// Insert implements domain.DocumentStore.
func (s *Store) Insert(ctx context.Context, table string, version int64, doc []byte) (int64, error) {
	if err := domain.ValidateTable(table); err != nil {
		return 0, err
	}
	stmt := "INSERT INTO " + table + " (version, data) VALUES (?, ?)"
	if s.dialect.ReturningID() {
		var id int64
		if err := s.db.QueryRowContext(ctx, s.dialect.Rebind(stmt+" RETURNING id"), version, string(doc)).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert %s: %w", table, err)
		}
		return id, nil
	}
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(stmt), version, string(doc))
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert %s: generated id: %w", table, err)
	}
	return id, nil
}

// ConditionalUpdate implements domain.DocumentStore.
func (s *Store) ConditionalUpdate(ctx context.Context, table string, identity, expected int64, doc []byte) (int64, error) {
	if err := domain.ValidateTable(table); err != nil {
		return 0, err
	}
	stmt := "UPDATE " + table + " SET data = ?, version = version + 1 WHERE id = ? AND version = ?"
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(stmt), string(doc), identity, expected)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return affected(res, "update", table)
}

// Delete implements domain.DocumentStore.
func (s *Store) Delete(ctx context.Context, table string, identity int64) (int64, error) {
	if err := domain.ValidateTable(table); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind("DELETE FROM "+table+" WHERE id = ?"), identity)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return affected(res, "delete", table)
}

// DeleteAll implements domain.DocumentStore.
func (s *Store) DeleteAll(ctx context.Context, table string) error {
	if err := domain.ValidateTable(table); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("delete all %s: %w", table, err)
	}
	return nil
}

// Search implements domain.DocumentStore.
func (s *Store) Search(ctx context.Context, table string, q domain.Query) ([]domain.Row, error) {
	if err := domain.ValidateTable(table); err != nil {
		return nil, err
	}
	// The fragment may carry its own LIMIT, OFFSET or locking clause, so
	// q.Limit caps the scan instead of being appended to the statement.
	stmt := "SELECT id, version, data FROM " + table + Clause(q.Predicate)
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(stmt), q.Params...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Row
	for (q.Limit <= 0 || len(out) < q.Limit) && rows.Next() {
		var row domain.Row
		if err := rows.Scan(&row.Identity, &row.Version, &row.Document); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

// Clause places a caller fragment after the FROM clause. An empty fragment
// adds nothing, a fragment that already starts with WHERE or ORDER BY is kept
// as written, and anything else becomes a WHERE condition.
func Clause(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	switch {
	case fragment == "":
		return ""
	case leadingClause.MatchString(fragment):
		return " " + fragment
	default:
		return " WHERE " + fragment
	}
}

func affected(res sql.Result, op, table string) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s %s: rows affected: %w", op, table, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s %s: %w", op, table, errors.New("driver does not report rows affected"))
	}
	return n, nil
}
