package actions

import (
	"context"
	"testing"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/llm"
	"github.com/talgya/crossworlds/internal/store"
	"github.com/talgya/crossworlds/internal/world"
)

// TestApplyGatherSucceeds mirrors spec.md §8 scenario 1: agent at (50,50),
// energy=80, a food spawn with currentAmount=10 at the same cell, intent
// gather{quantity=2}.
func TestApplyGatherSucceeds(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	if err := st.InsertResourceSpawn(ctx, world.ResourceSpawn{
		ID: "s1", X: 50, Y: 50, Kind: world.ResourceFood, CurrentAmount: 10, MaxAmount: 10, RegenRate: 1,
	}); err != nil {
		t.Fatalf("InsertResourceSpawn: %v", err)
	}

	actor := &agents.Agent{ID: "a1", X: 50, Y: 50, Energy: 80, Hunger: 80}
	intent := llm.Decision{Action: llm.ActionGather, Params: map[string]any{"quantity": 2.0}}

	res := Apply(ctx, Deps{Store: st}, actor, intent, 1)

	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	change := res.Changes[actor.ID]
	if change.Energy == nil || *change.Energy != 78 {
		t.Fatalf("newEnergy = %v, want 78", change.Energy)
	}
	if len(res.Events) != 1 || res.Events[0].Type != "agent_gathered" {
		t.Fatalf("expected one agent_gathered event, got %+v", res.Events)
	}
	if res.Memory == nil {
		t.Fatal("expected a memory note to be attached to a successful gather")
	}

	spawns, err := st.GetResourceSpawnsAtPosition(ctx, 50, 50)
	if err != nil || len(spawns) != 1 {
		t.Fatalf("GetResourceSpawnsAtPosition: %v, %+v", err, spawns)
	}
	if spawns[0].CurrentAmount != 8 {
		t.Fatalf("spawn currentAmount = %v, want 8", spawns[0].CurrentAmount)
	}

	inv, err := st.GetInventory(ctx, actor.ID)
	if err != nil {
		t.Fatalf("GetInventory: %v", err)
	}
	if inv["food"] != 2 {
		t.Fatalf("inventory food = %d, want 2", inv["food"])
	}
}

// TestApplyGatherFailsOnDepletedSpawn mirrors spec.md §8 scenario 2.
func TestApplyGatherFailsOnDepletedSpawn(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	if err := st.InsertResourceSpawn(ctx, world.ResourceSpawn{
		ID: "s1", X: 50, Y: 50, Kind: world.ResourceFood, CurrentAmount: 0, MaxAmount: 10, RegenRate: 1,
	}); err != nil {
		t.Fatalf("InsertResourceSpawn: %v", err)
	}

	actor := &agents.Agent{ID: "a1", X: 50, Y: 50, Energy: 80}
	intent := llm.Decision{Action: llm.ActionGather, Params: map[string]any{"quantity": 2.0}}

	res := Apply(ctx, Deps{Store: st}, actor, intent, 1)

	if res.Success {
		t.Fatal("gather from a depleted spawn should fail")
	}
	inv, _ := st.GetInventory(ctx, actor.ID)
	if len(inv) != 0 {
		t.Fatalf("expected no inventory change, got %+v", inv)
	}
}

func TestApplyGatherRejectsOutOfRangeQuantity(t *testing.T) {
	actor := &agents.Agent{ID: "a1", Energy: 80}

	tooLow := llm.Decision{Action: llm.ActionGather, Params: map[string]any{"quantity": 0.0}}
	if res := Apply(context.Background(), Deps{}, actor, tooLow, 1); res.Success {
		t.Fatal("quantity=0 should be rejected before any store lookup")
	}

	tooHigh := llm.Decision{Action: llm.ActionGather, Params: map[string]any{"quantity": 6.0}}
	if res := Apply(context.Background(), Deps{}, actor, tooHigh, 1); res.Success {
		t.Fatal("quantity=6 should be rejected before any store lookup")
	}
}

// TestApplyShareInfoChainsReferralDepth exercises the referral-depth
// propagation spec.md §4.6 "Social actions" describes: a listener's new
// knowledge record depth is one more than the sharer's own prior depth.
func TestApplyShareInfoChainsReferralDepth(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	if err := st.InsertAgent(ctx, &agents.Agent{ID: "a2", State: agents.StateIdle}); err != nil {
		t.Fatalf("InsertAgent: %v", err)
	}
	referrer := "a0"
	prior := store.AgentKnowledge{
		AgentID: "a1", SubjectID: "subj", DiscoveryType: "referral",
		ReferredBy: &referrer, ReferralDepth: 2, InfoType: "location", RecordedAtTick: 5,
	}
	if err := st.InsertKnowledge(ctx, prior); err != nil {
		t.Fatalf("InsertKnowledge: %v", err)
	}

	actor := &agents.Agent{ID: "a1"}
	intent := llm.Decision{Action: llm.ActionShareInfo, Params: map[string]any{
		"targetAgentId": "a2", "subjectAgentId": "subj", "infoType": "location",
	}}

	res := Apply(ctx, Deps{Store: st}, actor, intent, 10)

	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	if res.Knowledge == nil || res.Knowledge.ReferralDepth != 3 {
		t.Fatalf("expected chained referral depth 3, got %+v", res.Knowledge)
	}
}
