package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"ambuplan/internal/model"
	"ambuplan/internal/opt"
	"ambuplan/internal/sim"
)

// testStore exercises the Store contract. Planner names are unique per call
// so it can run against a shared database.
func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	tag := "p-" + uuid.NewString()[:8]

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRun(missing) err=%v, want ErrNotFound", err)
	}

	var ids []string
	for i := 0; i < 5; i++ {
		r, err := s.CreateRun(ctx, model.Run{Planner: tag, Name: "run"})
		if err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
		if r.ID == "" || r.CreatedAt.IsZero() || r.Status != model.RunRunning {
			t.Fatalf("CreateRun did not fill defaults: %+v", r)
		}
		ids = append(ids, r.ID)
	}

	done := time.Now().UTC()
	want := model.Run{
		ID: ids[0], Name: "run", Planner: tag, Status: model.RunCompleted, FinishedAt: &done,
		Metrics: sim.Metrics{Steps: 5, Actions: 5, Distance: 3, WaitingSteps: 1, Delivered: 1, Replans: 2},
	}
	if err := s.UpdateRun(ctx, want); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	got, err := s.GetRun(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.RunCompleted || got.Metrics != want.Metrics {
		t.Fatalf("GetRun = %+v, want %+v", got, want)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(done) {
		t.Fatalf("FinishedAt = %v, want %v", got.FinishedAt, done)
	}
	if err := s.UpdateRun(ctx, model.Run{ID: "missing", Planner: tag, Status: model.RunFailed}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateRun(missing) err=%v", err)
	}

	// page through with a cursor
	var seen []string
	cursor := ""
	for pages := 0; pages < 10; pages++ {
		items, next, err := s.ListRuns(ctx, tag, cursor, 2)
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		for _, r := range items {
			seen = append(seen, r.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if len(seen) != len(ids) {
		t.Fatalf("paged %d runs, want %d", len(seen), len(ids))
	}
	for i := range ids {
		if seen[i] != ids[i] {
			t.Fatalf("page order %v, want creation order %v", seen, ids)
		}
	}

	one := 1
	events := []sim.Event{
		{Type: sim.EventReplanned, Step: 0, Planner: tag, Queued: 4},
		{Type: sim.EventAction, Step: 0, Action: "move(A1 0 -> 1)", Kind: "move", Vehicle: &one, Node: &one, Distance: 1},
	}
	if err := s.AppendEvents(ctx, ids[1], events[:1]); err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}
	if err := s.AppendEvents(ctx, ids[1], events[1:]); err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}
	if err := s.AppendEvents(ctx, "missing", events); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AppendEvents(missing) err=%v", err)
	}
	back, err := s.ListEvents(ctx, ids[1])
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(back) != 2 || back[0].Type != sim.EventReplanned || back[1].Action != "move(A1 0 -> 1)" {
		t.Fatalf("ListEvents = %+v", back)
	}
	if back[1].Node == nil || *back[1].Node != 1 || back[0].Node != nil {
		t.Fatalf("ListEvents node fields = %v, %v", back[0].Node, back[1].Node)
	}

	pm := model.PlanMetrics{Run: ids[2], Planner: tag, Solves: 1, Metrics: opt.Metrics{Iterations: 40, BestCost: 12, Stop: opt.StopMaxIterations}}
	if err := s.SavePlanMetrics(ctx, pm); err != nil {
		t.Fatalf("SavePlanMetrics: %v", err)
	}
	pm.Solves, pm.Metrics.BestCost = 3, 9
	if err := s.SavePlanMetrics(ctx, pm); err != nil {
		t.Fatalf("SavePlanMetrics upsert: %v", err)
	}
	list, err := s.ListPlanMetrics(ctx, ids[2], "")
	if err != nil {
		t.Fatalf("ListPlanMetrics: %v", err)
	}
	if len(list) != 1 || list[0].Solves != 3 || list[0].Metrics.BestCost != 9 || list[0].Metrics.Stop != opt.StopMaxIterations {
		t.Fatalf("ListPlanMetrics = %+v", list)
	}
	if list, _ := s.ListPlanMetrics(ctx, "", tag); len(list) != 1 {
		t.Fatalf("filter by planner returned %d rows", len(list))
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()
	testStore(t, s)

	// reopening keeps the data and re-runs the idempotent schema
	s.Close()
	again, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	items, _, err := again.ListRuns(context.Background(), "", "", 100)
	if err != nil || len(items) != 5 {
		t.Fatalf("after reopen: %d runs, err=%v", len(items), err)
	}
}

func TestRebind(t *testing.T) {
	got := postgresDialect.rebind(`SELECT a FROM t WHERE x=? AND y IN (?, ?)`)
	if want := `SELECT a FROM t WHERE x=$1 AND y IN ($2, $3)`; got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
	if q := sqliteDialect.rebind(`x=?`); q != `x=?` {
		t.Fatalf("sqlite rebind changed query: %q", q)
	}
}
