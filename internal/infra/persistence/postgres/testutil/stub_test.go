package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"
)

func TestStubDBStoresAndQueriesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2"} {
		_, err := conn.ExecContext(ctx, "INSERT INTO runs (id, started_at) VALUES ($1,$2) ON CONFLICT (id) DO NOTHING", []driver.NamedValue{
			{Value: id},
			{Value: base.Add(time.Duration(i) * time.Hour)},
		})
		if err != nil {
			t.Fatalf("ExecContext insert: %v", err)
		}
	}
	if len(conn.Tables["runs"]) != 2 {
		t.Fatalf("expected two rows, got %v", conn.Tables["runs"])
	}

	rows, err := conn.QueryContext(ctx, "SELECT id FROM runs ORDER BY started_at DESC", nil)
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	dest := make([]driver.Value, 1)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != "r2" {
		t.Fatalf("expected newest row first, got %v", dest)
	}

	rows, err = conn.QueryContext(ctx, "SELECT id FROM runs WHERE id = $1", []driver.NamedValue{{Value: "r1"}})
	if err != nil {
		t.Fatalf("QueryContext where: %v", err)
	}
	if err := rows.Next(dest); err != nil || dest[0] != "r1" {
		t.Fatalf("expected r1, got %v (%v)", dest, err)
	}

	res, err := conn.ExecContext(ctx, "DELETE FROM runs WHERE id = $1", []driver.NamedValue{{Value: "r1"}})
	if err != nil {
		t.Fatalf("ExecContext delete: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("expected 1 row affected, got %d", n)
	}
	res, _ = conn.ExecContext(ctx, "DELETE FROM runs WHERE id = $1", []driver.NamedValue{{Value: "r1"}})
	if n, _ := res.RowsAffected(); n != 0 {
		t.Fatalf("expected 0 rows affected, got %d", n)
	}
}
