package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/crossworlds/internal/agents"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eventlog-test.db")
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sqlx.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	l := New(db)
	if err := l.InitGlobalVersion(context.Background()); err != nil {
		t.Fatalf("InitGlobalVersion: %v", err)
	}
	return l
}

func TestAppendAssignsStrictlyIncreasingVersions(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	v1, err := l.Append(ctx, 1, "tick_end", nil, map[string]any{"tick": 1})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	v2, err := l.Append(ctx, 2, "tick_end", nil, map[string]any{"tick": 2})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if v2 <= v1 {
		t.Fatalf("version %d should be greater than previous version %d", v2, v1)
	}
	if l.CurrentVersion() != v2 {
		t.Fatalf("CurrentVersion() = %d, want %d", l.CurrentVersion(), v2)
	}
}

func TestInitGlobalVersionRecoversHighWaterMark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventlog-recover.db")
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sqlx.Open: %v", err)
	}
	defer db.Close()
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	l1 := New(db)
	if err := l1.InitGlobalVersion(context.Background()); err != nil {
		t.Fatalf("InitGlobalVersion: %v", err)
	}
	v, err := l1.Append(context.Background(), 1, "tick_end", nil, map[string]any{})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	l2 := New(db)
	if err := l2.InitGlobalVersion(context.Background()); err != nil {
		t.Fatalf("InitGlobalVersion (recovery): %v", err)
	}
	if l2.CurrentVersion() != v {
		t.Fatalf("recovered CurrentVersion() = %d, want %d", l2.CurrentVersion(), v)
	}

	next, err := l2.Append(context.Background(), 2, "tick_end", nil, map[string]any{})
	if err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	if next <= v {
		t.Fatalf("version after recovery (%d) should exceed pre-recovery version (%d)", next, v)
	}
}

func TestGetEventsAtTickOrdersByVersion(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, 5, "agent_moved", nil, map[string]any{"i": i}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if _, err := l.Append(ctx, 6, "agent_moved", nil, map[string]any{}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rows, err := l.GetEventsAtTick(ctx, 5)
	if err != nil {
		t.Fatalf("GetEventsAtTick: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Version <= rows[i-1].Version {
			t.Fatal("GetEventsAtTick should return ascending version order")
		}
	}
}

func TestGetEventsInRangeIsExclusiveLowerBound(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	v1, _ := l.Append(ctx, 1, "e", nil, map[string]any{})
	_, _ = l.Append(ctx, 2, "e", nil, map[string]any{})
	v3, _ := l.Append(ctx, 3, "e", nil, map[string]any{})

	rows, err := l.GetEventsInRange(ctx, v1, v3, 10)
	if err != nil {
		t.Fatalf("GetEventsInRange: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2 (exclusive of v1, inclusive of v3)", len(rows))
	}
	if rows[0].Version == v1 {
		t.Fatal("range should exclude the `from` version itself")
	}
}

func TestGetAgentTimelineFiltersByAgent(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	a1 := agents.ID("a1")
	a2 := agents.ID("a2")

	if _, err := l.Append(ctx, 1, "agent_moved", &a1, map[string]any{}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := l.Append(ctx, 1, "agent_moved", &a2, map[string]any{}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rows, err := l.GetAgentTimeline(ctx, a1, 10)
	if err != nil {
		t.Fatalf("GetAgentTimeline: %v", err)
	}
	if len(rows) != 1 || rows[0].AgentID == nil || *rows[0].AgentID != a1 {
		t.Fatalf("expected one event for a1, got %+v", rows)
	}
}

func TestGetDistinctTicksNewestFirst(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for _, tick := range []uint64{1, 1, 2, 5} {
		if _, err := l.Append(ctx, tick, "e", nil, map[string]any{}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	ticks, err := l.GetDistinctTicks(ctx, 10)
	if err != nil {
		t.Fatalf("GetDistinctTicks: %v", err)
	}
	want := []uint64{5, 2, 1}
	if len(ticks) != len(want) {
		t.Fatalf("ticks = %v, want %v", ticks, want)
	}
	for i, w := range want {
		if ticks[i] != w {
			t.Fatalf("ticks[%d] = %d, want %d", i, ticks[i], w)
		}
	}
}
