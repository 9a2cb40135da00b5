// Package testutil provides a scripted stub database for SQL document store
// tests. It records every statement with its arguments and replays queued
// results in order.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"
	"time"
)

// Call is one statement received by the stub.
type Call struct {
	Query string
	Args  []any
}

// ExecResult scripts the reply to one Exec.
type ExecResult struct {
	LastInsertID int64
	RowsAffected int64
	Err          error
}

// QueryResult scripts the reply to one Query.
type QueryResult struct {
	Columns []string
	Values  [][]driver.Value
	Err     error
	RowsErr error
}

// StubConn records statements and replays scripted results. Unscripted Execs
// affect one row; unscripted Queries return no rows.
type StubConn struct {
	mu           sync.Mutex
	Execs        []Call
	Queries      []Call
	ExecResults  []ExecResult
	QueryResults []QueryResult
	FailPing     bool
	Closed       bool
}

// NewStubDB registers a sql.DB backed by a scripted stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{}
	name := fmt.Sprintf("stubdoc%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return db, conn
}

// QueueExec appends scripted Exec replies.
func (c *StubConn) QueueExec(results ...ExecResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ExecResults = append(c.ExecResults, results...)
}

// QueueQuery appends scripted Query replies.
func (c *StubConn) QueueQuery(results ...QueryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.QueryResults = append(c.QueryResults, results...)
}

// LastExec returns the most recent Exec call.
func (c *StubConn) LastExec() Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Execs) == 0 {
		return Call{}
	}
	return c.Execs[len(c.Execs)-1]
}

// LastQuery returns the most recent Query call.
func (c *StubConn) LastQuery() Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Queries) == 0 {
		return Call{}
	}
	return c.Queries[len(c.Queries)-1]
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return nil, fmt.Errorf("transactions not supported") }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, Call{Query: query, Args: values(args)})
	if len(c.ExecResults) == 0 {
		return stubResult{rows: 1}, nil
	}
	next := c.ExecResults[0]
	c.ExecResults = c.ExecResults[1:]
	if next.Err != nil {
		return nil, next.Err
	}
	return stubResult{id: next.LastInsertID, rows: next.RowsAffected}, nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queries = append(c.Queries, Call{Query: query, Args: values(args)})
	if len(c.QueryResults) == 0 {
		return &stubRows{cols: []string{"id", "version", "data"}}, nil
	}
	next := c.QueryResults[0]
	c.QueryResults = c.QueryResults[1:]
	if next.Err != nil {
		return nil, next.Err
	}
	return &stubRows{cols: next.Columns, rows: next.Values, err: next.RowsErr}, nil
}

func values(args []driver.NamedValue) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		out[i] = arg.Value
	}
	return out
}

type stubResult struct {
	id   int64
	rows int64
}

func (r stubResult) LastInsertId() (int64, error) { return r.id, nil }
func (r stubResult) RowsAffected() (int64, error) { return r.rows, nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
