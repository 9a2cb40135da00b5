package testutil

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
)

func TestStubRecordsAndReplays(t *testing.T) {
	db, conn := NewStubDB()
	defer func() { _ = db.Close() }()
	ctx := context.Background()

	conn.QueueExec(ExecResult{LastInsertID: 7, RowsAffected: 1}, ExecResult{Err: errors.New("boom")})
	res, err := db.ExecContext(ctx, "INSERT INTO t (version, data) VALUES (?, ?)", int64(0), "{}")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if id, _ := res.LastInsertId(); id != 7 {
		t.Fatalf("expected id 7, got %d", id)
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM t"); err == nil {
		t.Fatalf("expected scripted exec error")
	}
	res, err = db.ExecContext(ctx, "DELETE FROM t")
	if err != nil {
		t.Fatalf("default exec: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("expected default rows affected 1, got %d", n)
	}
	if got := conn.Execs[0].Args; len(got) != 2 || got[0] != int64(0) || got[1] != "{}" {
		t.Fatalf("unexpected recorded args %v", got)
	}

	conn.QueueQuery(QueryResult{Columns: []string{"id"}, Values: [][]driver.Value{{int64(1)}, {int64(2)}}})
	rows, err := db.QueryContext(ctx, "SELECT id FROM t WHERE x = ?", 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan: %v", err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if len(ids) != 2 || ids[1] != 2 {
		t.Fatalf("unexpected ids %v", ids)
	}
	if conn.LastQuery().Query != "SELECT id FROM t WHERE x = ?" {
		t.Fatalf("unexpected last query %q", conn.LastQuery().Query)
	}
}

func TestStubPingFailure(t *testing.T) {
	db, conn := NewStubDB()
	defer func() { _ = db.Close() }()
	conn.FailPing = true
	if err := db.PingContext(context.Background()); err == nil {
		t.Fatalf("expected ping failure")
	}
}
