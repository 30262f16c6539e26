package postgres

import (
	"context"
	"database/sql"
	"dispensecore/internal/infra/persistence/postgres/testutil"
	"dispensecore/pkg/domain"
	"errors"
	"strings"
	"testing"
	"time"
)

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		if driverName != "pgx" {
			t.Fatalf("unexpected driver %s", driverName)
		}
		if dsn != DefaultDSN {
			t.Fatalf("expected default dsn, got %s", dsn)
		}
		return db, nil
	})
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, conn
}

func TestNewStoreAppliesSchema(t *testing.T) {
	_, conn := openStub(t)
	var sawTable, sawIndex bool
	for _, stmt := range conn.Execs {
		upper := strings.ToUpper(stmt)
		sawTable = sawTable || strings.Contains(upper, "CREATE TABLE IF NOT EXISTS RUNS")
		sawIndex = sawIndex || strings.Contains(upper, "CREATE INDEX")
	}
	if !sawTable || !sawIndex {
		t.Fatalf("expected schema statements, got %v", conn.Execs)
	}
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store, _ := openStub(t)
	base := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second"} {
		run := domain.Run{
			ID:          id,
			Name:        "cherrypick",
			Status:      domain.RunStatusSucceeded,
			Dispenses:   16,
			TotalVolume: 800,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := store.SaveRun(ctx, domain.Run{ID: "first", Name: "renamed", Status: domain.RunStatusFailed, StartedAt: base}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.GetRun(ctx, "first")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "renamed" || got.Status != domain.RunStatusFailed {
		t.Fatalf("upsert not visible: %+v", got)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "second" || runs[1].ID != "first" {
		t.Fatalf("unexpected order: %+v", runs)
	}

	deleted, err := store.DeleteRun(ctx, "second")
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	_, err = store.GetRun(ctx, "second")
	var nf domain.ErrRunNotFound
	if !errors.As(err, &nf) || nf.ID != "second" {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestNewStorePropagatesFailures(t *testing.T) {
	ctx := context.Background()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("boom") })
	if _, err := NewStore(ctx, "postgres://example"); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(ctx, ""); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestStoreSurfacesQueryErrors(t *testing.T) {
	ctx := context.Background()
	store, conn := openStub(t)
	conn.FailQuery = true
	if _, err := store.ListRuns(ctx); err == nil {
		t.Fatalf("expected list error")
	}
	conn.FailQuery = false
	conn.FailExec = true
	if err := store.SaveRun(ctx, domain.Run{ID: "x"}); err == nil {
		t.Fatalf("expected save error")
	}
	if err := store.SaveRun(ctx, domain.Run{}); err == nil {
		t.Fatalf("expected empty id error")
	}
}
