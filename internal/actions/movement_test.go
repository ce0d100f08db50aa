package actions

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/llm"
	"github.com/talgya/crossworlds/internal/store"
	"github.com/talgya/crossworlds/internal/world"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "actions-test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestApplyMoveRejectsNonAdjacentTarget(t *testing.T) {
	actor := &agents.Agent{ID: "a1", X: 0, Y: 0, State: agents.StateIdle}
	intent := llm.Decision{Action: llm.ActionMove, Params: map[string]any{"toX": 5.0, "toY": 5.0}}

	res := Apply(context.Background(), Deps{}, actor, intent, 1)

	if res.Success {
		t.Fatal("move to a non-adjacent cell should fail")
	}
}

func TestApplyMoveRejectsWhileSleeping(t *testing.T) {
	actor := &agents.Agent{ID: "a1", X: 0, Y: 0, State: agents.StateSleeping}
	intent := llm.Decision{Action: llm.ActionMove, Params: map[string]any{"toX": 1.0, "toY": 0.0}}

	res := Apply(context.Background(), Deps{}, actor, intent, 1)

	if res.Success {
		t.Fatal("move while sleeping should fail")
	}
}

func TestApplyMoveSucceedsToAdjacentCell(t *testing.T) {
	actor := &agents.Agent{ID: "a1", X: 0, Y: 0, State: agents.StateIdle}
	intent := llm.Decision{Action: llm.ActionMove, Params: map[string]any{"toX": 1.0, "toY": 0.0}}

	res := Apply(context.Background(), Deps{}, actor, intent, 1)

	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	change := res.Changes[actor.ID]
	if change.X == nil || *change.X != 1 || change.Y == nil || *change.Y != 0 {
		t.Fatalf("unexpected position change: %+v", change)
	}
	if len(res.Events) != 1 || res.Events[0].Type != "agent_moved" {
		t.Fatalf("expected one agent_moved event, got %+v", res.Events)
	}
}

func TestApplySleepRejectsOutOfRangeDuration(t *testing.T) {
	actor := &agents.Agent{ID: "a1", State: agents.StateIdle}
	intent := llm.Decision{Action: llm.ActionSleep, Params: map[string]any{"duration": 99.0}}

	res := Apply(context.Background(), Deps{}, actor, intent, 1)

	if res.Success {
		t.Fatal("sleep with out-of-range duration should fail")
	}
}

func TestApplySleepSetsUntilTick(t *testing.T) {
	actor := &agents.Agent{ID: "a1", State: agents.StateIdle}
	intent := llm.Decision{Action: llm.ActionSleep, Params: map[string]any{"duration": 3.0}}

	res := Apply(context.Background(), Deps{}, actor, intent, 10)

	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	change := res.Changes[actor.ID]
	if change.SleepUntilTick == nil || *change.SleepUntilTick != 13 {
		t.Fatalf("SleepUntilTick = %v, want 13", change.SleepUntilTick)
	}
}

func TestApplyWorkFailsWithoutEnoughEnergy(t *testing.T) {
	actor := &agents.Agent{ID: "a1", State: agents.StateIdle, Energy: 1, Hunger: 100}
	intent := llm.Decision{Action: llm.ActionWork, Params: map[string]any{"duration": 5.0}}

	res := Apply(context.Background(), Deps{}, actor, intent, 1)

	if res.Success {
		t.Fatal("work without enough energy should fail")
	}
}

func TestApplyWorkIncreasesBalance(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	if err := st.InsertShelter(ctx, world.Shelter{ID: "sh1", X: 0, Y: 0, CanSleep: true}); err != nil {
		t.Fatalf("InsertShelter: %v", err)
	}

	actor := &agents.Agent{ID: "a1", X: 0, Y: 0, State: agents.StateIdle, Energy: 100, Hunger: 100, Balance: 0}
	intent := llm.Decision{Action: llm.ActionWork, Params: map[string]any{"duration": 2.0}}

	res := Apply(ctx, Deps{Store: st}, actor, intent, 1)

	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	change := res.Changes[actor.ID]
	if change.Balance == nil || *change.Balance <= 0 {
		t.Fatalf("expected positive balance change, got %+v", change.Balance)
	}
}

func TestApplyWorkFailsWithoutShelter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	actor := &agents.Agent{ID: "a1", X: 0, Y: 0, State: agents.StateIdle, Energy: 100, Hunger: 100, Balance: 0}
	intent := llm.Decision{Action: llm.ActionWork, Params: map[string]any{"duration": 2.0}}

	res := Apply(ctx, Deps{Store: st}, actor, intent, 1)

	if res.Success {
		t.Fatal("work away from any shelter should fail")
	}
}
