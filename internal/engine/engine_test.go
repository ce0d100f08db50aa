package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/eventlog"
	"github.com/talgya/crossworlds/internal/llm"
	"github.com/talgya/crossworlds/internal/projection"
	"github.com/talgya/crossworlds/internal/rng"
	"github.com/talgya/crossworlds/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "engine-test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	lg := eventlog.New(st.DB())
	if err := lg.InitGlobalVersion(context.Background()); err != nil {
		t.Fatalf("InitGlobalVersion: %v", err)
	}
	if err := st.InitWorldState(context.Background()); err != nil {
		t.Fatalf("InitWorldState: %v", err)
	}

	src := rng.New(1)
	registry := llm.NewRegistry(llm.NewFallbackAdapter(src))
	cache := projection.NewCache(nil)
	bus := projection.NewBroadcast()

	cfg := DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	eng := New(cfg, st, lg, cache, bus, registry, src)
	return eng, st
}

func TestCommitTickAdvancesWorldState(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	if err := eng.commitTick(ctx, 1); err != nil {
		t.Fatalf("commitTick: %v", err)
	}
	ws, err := st.GetWorldState(ctx)
	if err != nil {
		t.Fatalf("GetWorldState: %v", err)
	}
	if ws.CurrentTick != 1 {
		t.Fatalf("CurrentTick = %d, want 1", ws.CurrentTick)
	}
}

func TestCommitTickInvokesTickHookUnconditionally(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	var calledWith uint64
	calls := 0
	eng.SetTickHook(func(_ context.Context, tick uint64) {
		calls++
		calledWith = tick
	})

	if err := eng.commitTick(ctx, 5); err != nil {
		t.Fatalf("commitTick: %v", err)
	}
	if calls != 1 {
		t.Fatalf("tick hook called %d times, want 1", calls)
	}
	if calledWith != 5 {
		t.Fatalf("tick hook called with tick=%d, want 5", calledWith)
	}
}

func TestRunTickSkipsDecisionWhenNoAliveAgents(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	if err := eng.runTick(ctx); err != nil {
		t.Fatalf("runTick: %v", err)
	}
	ws, _ := st.GetWorldState(ctx)
	if ws.CurrentTick != 1 {
		t.Fatalf("CurrentTick = %d, want 1 even with zero agents", ws.CurrentTick)
	}
}

func TestRunTickAppliesFallbackDecisionsAndDecaysVitals(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	a := &agents.Agent{
		ID: "a1", PolicyType: "forager", X: 5, Y: 5,
		Hunger: 100, Energy: 100, Health: 100, Balance: 1000, State: agents.StateIdle,
	}
	if err := st.InsertAgent(ctx, a); err != nil {
		t.Fatalf("InsertAgent: %v", err)
	}

	if err := eng.runTick(ctx); err != nil {
		t.Fatalf("runTick: %v", err)
	}

	got, err := st.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Hunger >= 100 || got.Energy >= 100 {
		t.Fatalf("expected vitals decay after one tick, got hunger=%v energy=%v", got.Hunger, got.Energy)
	}
}

func TestRunTickIsANoOpWhenPaused(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()
	if err := st.PauseWorld(ctx); err != nil {
		t.Fatalf("PauseWorld: %v", err)
	}

	if err := eng.runTick(ctx); err != nil {
		t.Fatalf("runTick: %v", err)
	}
	ws, _ := st.GetWorldState(ctx)
	if ws.CurrentTick != 0 {
		t.Fatalf("CurrentTick = %d, want 0 (tick skipped while paused)", ws.CurrentTick)
	}
}

func TestApplyExternalIntentDispatchesThroughActionPipeline(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	a := &agents.Agent{ID: "a1", X: 0, Y: 0, State: agents.StateIdle, Hunger: 100, Energy: 100}
	if err := st.InsertAgent(ctx, a); err != nil {
		t.Fatalf("InsertAgent: %v", err)
	}

	res, err := eng.ApplyExternalIntent(ctx, "a1", llm.Decision{
		Action: llm.ActionMove, Params: map[string]any{"toX": 1.0, "toY": 0.0},
	})
	if err != nil {
		t.Fatalf("ApplyExternalIntent: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}

	got, err := st.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.X != 1 {
		t.Fatalf("X = %d, want 1 after external move", got.X)
	}
}

func TestBuildObservationReflectsCurrentTick(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()
	a := &agents.Agent{ID: "a1", X: 0, Y: 0, State: agents.StateIdle}
	if err := st.InsertAgent(ctx, a); err != nil {
		t.Fatalf("InsertAgent: %v", err)
	}
	if err := st.AdvanceTick(ctx, 9); err != nil {
		t.Fatalf("AdvanceTick: %v", err)
	}

	obs, err := eng.BuildObservation(ctx, "a1")
	if err != nil {
		t.Fatalf("BuildObservation: %v", err)
	}
	if obs.Tick != 9 {
		t.Fatalf("obs.Tick = %d, want 9", obs.Tick)
	}
	if obs.Self.ID != "a1" {
		t.Fatalf("obs.Self.ID = %v, want a1", obs.Self.ID)
	}
}

func TestWorldSizeReflectsConfig(t *testing.T) {
	eng, _ := newTestEngine(t)
	if got := eng.WorldSize(); got != DefaultConfig().WorldSize {
		t.Fatalf("WorldSize() = %v, want %v", got, DefaultConfig().WorldSize)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	eng, _ := newTestEngine(t)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if eng.State() != StateRunning {
		t.Fatalf("State() = %v, want running", eng.State())
	}
	if err := eng.Start(context.Background()); err == nil {
		t.Fatal("starting an already-running engine should fail its precondition")
	}

	eng.Stop()
	if eng.State() != StateStopped {
		t.Fatalf("State() = %v, want stopped", eng.State())
	}
}
