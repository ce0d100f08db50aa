package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/talgya/crossworlds/internal/agents"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crossworlds-test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestInsertAndGetAgent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := &agents.Agent{
		ID: "a1", PolicyType: "forager", X: 1, Y: 2,
		Hunger: 80, Energy: 90, Health: 100, Balance: 50,
		State: agents.StateIdle, Color: "#fff",
	}
	if err := st.InsertAgent(ctx, a); err != nil {
		t.Fatalf("InsertAgent: %v", err)
	}

	got, err := st.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.X != 1 || got.Y != 2 || got.PolicyType != "forager" {
		t.Fatalf("unexpected agent: %+v", got)
	}
}

func TestUpdateAgentAppliesOnlyNonNilFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := &agents.Agent{ID: "a1", PolicyType: "forager", X: 1, Y: 2, Hunger: 80, Energy: 90, Health: 100, Balance: 50, State: agents.StateIdle}
	if err := st.InsertAgent(ctx, a); err != nil {
		t.Fatalf("InsertAgent: %v", err)
	}

	newX := 5
	if err := st.UpdateAgent(ctx, "a1", PartialAgent{X: &newX}); err != nil {
		t.Fatalf("UpdateAgent: %v", err)
	}

	got, err := st.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.X != 5 {
		t.Fatalf("X = %d, want 5", got.X)
	}
	if got.Y != 2 {
		t.Fatalf("Y = %d, want unchanged 2", got.Y)
	}
}

func TestGetAliveAgentsExcludesDead(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	alive := &agents.Agent{ID: "a1", State: agents.StateIdle}
	dead := &agents.Agent{ID: "a2", State: agents.StateDead}
	if err := st.InsertAgent(ctx, alive); err != nil {
		t.Fatalf("InsertAgent alive: %v", err)
	}
	if err := st.InsertAgent(ctx, dead); err != nil {
		t.Fatalf("InsertAgent dead: %v", err)
	}

	rows, err := st.GetAliveAgents(ctx)
	if err != nil {
		t.Fatalf("GetAliveAgents: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "a1" {
		t.Fatalf("expected only a1 alive, got %+v", rows)
	}
}

func TestInventoryAddAndRemove(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	agentID := agents.ID("a1")
	if err := st.InsertAgent(ctx, &agents.Agent{ID: agentID, State: agents.StateIdle}); err != nil {
		t.Fatalf("InsertAgent: %v", err)
	}

	if err := st.AddToInventory(ctx, agentID, "food", 3); err != nil {
		t.Fatalf("AddToInventory: %v", err)
	}
	inv, err := st.GetInventory(ctx, agentID)
	if err != nil {
		t.Fatalf("GetInventory: %v", err)
	}
	if inv["food"] != 3 {
		t.Fatalf("food qty = %d, want 3", inv["food"])
	}

	ok, err := st.RemoveFromInventory(ctx, agentID, "food", 5)
	if err != nil {
		t.Fatalf("RemoveFromInventory: %v", err)
	}
	if ok {
		t.Fatal("removing more than available should report ok=false")
	}

	ok, err = st.RemoveFromInventory(ctx, agentID, "food", 3)
	if err != nil {
		t.Fatalf("RemoveFromInventory: %v", err)
	}
	if !ok {
		t.Fatal("removing exactly the available quantity should succeed")
	}
	inv, _ = st.GetInventory(ctx, agentID)
	if _, exists := inv["food"]; exists {
		t.Fatal("food entry should be deleted once quantity reaches 0")
	}
}

func TestWorldStateLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.InitWorldState(ctx); err != nil {
		t.Fatalf("InitWorldState: %v", err)
	}
	// Idempotent re-init must not error.
	if err := st.InitWorldState(ctx); err != nil {
		t.Fatalf("InitWorldState (second call): %v", err)
	}

	if err := st.AdvanceTick(ctx, 7); err != nil {
		t.Fatalf("AdvanceTick: %v", err)
	}
	ws, err := st.GetWorldState(ctx)
	if err != nil {
		t.Fatalf("GetWorldState: %v", err)
	}
	if ws.CurrentTick != 7 {
		t.Fatalf("CurrentTick = %d, want 7", ws.CurrentTick)
	}

	if err := st.PauseWorld(ctx); err != nil {
		t.Fatalf("PauseWorld: %v", err)
	}
	ws, _ = st.GetWorldState(ctx)
	if !ws.IsPaused {
		t.Fatal("expected world to be paused")
	}
}

func TestExternalAgentRegistrationLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.InsertAgent(ctx, &agents.Agent{ID: "a1", State: agents.StateIdle}); err != nil {
		t.Fatalf("InsertAgent: %v", err)
	}
	ext := ExternalAgent{ID: "a1", AgentID: "a1", APIKeyHash: "hash", RateLimitPerTick: 1, IsActive: true}
	if err := st.InsertExternalAgent(ctx, ext); err != nil {
		t.Fatalf("InsertExternalAgent: %v", err)
	}

	got, err := st.GetExternalAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("GetExternalAgent: %v", err)
	}
	if !got.IsActive || got.APIKeyHash != "hash" {
		t.Fatalf("unexpected external agent: %+v", got)
	}

	if err := st.TouchExternalAgent(ctx, "a1", time.Now()); err != nil {
		t.Fatalf("TouchExternalAgent: %v", err)
	}
	if err := st.DeactivateExternalAgent(ctx, "a1"); err != nil {
		t.Fatalf("DeactivateExternalAgent: %v", err)
	}
	got, _ = st.GetExternalAgent(ctx, "a1")
	if got.IsActive {
		t.Fatal("expected external agent to be inactive after deregister")
	}
}

func TestExperimentAndVariantLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	exp := Experiment{ID: "e1", Name: "first", Status: ExperimentPlanning, CreatedAt: time.Now()}
	if err := st.InsertExperiment(ctx, exp); err != nil {
		t.Fatalf("InsertExperiment: %v", err)
	}

	v1 := Variant{ID: "v1", ExperimentID: "e1", Status: ExperimentPlanning, WorldSeed: 1, DurationTicks: 100, ConfigOverrides: "{}", AgentConfigs: "[]"}
	v2 := Variant{ID: "v2", ExperimentID: "e1", Status: ExperimentPlanning, WorldSeed: 2, DurationTicks: 100, ConfigOverrides: "{}", AgentConfigs: "[]"}
	if err := st.InsertVariant(ctx, v1); err != nil {
		t.Fatalf("InsertVariant v1: %v", err)
	}
	if err := st.InsertVariant(ctx, v2); err != nil {
		t.Fatalf("InsertVariant v2: %v", err)
	}

	next, err := st.NextPendingVariant(ctx, "e1")
	if err != nil {
		t.Fatalf("NextPendingVariant: %v", err)
	}
	if next == nil || next.ID != "v1" {
		t.Fatalf("expected v1 to be next pending (lowest sequence), got %+v", next)
	}

	if err := st.StartVariant(ctx, "v1", 0); err != nil {
		t.Fatalf("StartVariant: %v", err)
	}
	running, err := st.HasRunningVariant(ctx, "e1")
	if err != nil {
		t.Fatalf("HasRunningVariant: %v", err)
	}
	if !running {
		t.Fatal("expected a running variant after StartVariant")
	}

	if err := st.CompleteVariant(ctx, "v1", 100, `{"tick":100}`); err != nil {
		t.Fatalf("CompleteVariant: %v", err)
	}
	running, _ = st.HasRunningVariant(ctx, "e1")
	if running {
		t.Fatal("expected no running variant after CompleteVariant")
	}

	completed, err := st.GetVariant(ctx, "v1")
	if err != nil {
		t.Fatalf("GetVariant: %v", err)
	}
	if completed.ResultSnapshot == nil || *completed.ResultSnapshot != `{"tick":100}` {
		t.Fatalf("expected result snapshot to persist, got %+v", completed.ResultSnapshot)
	}

	next, err = st.NextPendingVariant(ctx, "e1")
	if err != nil {
		t.Fatalf("NextPendingVariant: %v", err)
	}
	if next == nil || next.ID != "v2" {
		t.Fatalf("expected v2 to be next pending, got %+v", next)
	}

	if err := st.DeleteExperiment(ctx, "e1"); err != nil {
		t.Fatalf("DeleteExperiment: %v", err)
	}
	if _, err := st.GetExperiment(ctx, "e1"); err == nil {
		t.Fatal("expected error fetching a deleted experiment")
	}
}

func TestMemoriesAreOrderedNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	agentID := agents.ID("a1")

	if err := st.InsertMemory(ctx, agentID, 1, "gathered food", 0.2); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}
	if err := st.InsertMemory(ctx, agentID, 2, "was attacked", 0.9); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}

	mems, err := st.GetMemories(ctx, agentID)
	if err != nil {
		t.Fatalf("GetMemories: %v", err)
	}
	if len(mems) != 2 || mems[0].Content != "was attacked" {
		t.Fatalf("expected newest-first order, got %+v", mems)
	}
}

func TestKnowledgeReferralDepthChainsFromPriorRecord(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.LatestKnowledge(ctx, "a2", "subject"); err != nil {
		t.Fatalf("LatestKnowledge on empty table should not error: %v", err)
	}

	referrer := "a1"
	first := AgentKnowledge{
		AgentID: "a2", SubjectID: "subject", DiscoveryType: "referral",
		ReferredBy: &referrer, ReferralDepth: 1, InfoType: "location", RecordedAtTick: 5,
	}
	if err := st.InsertKnowledge(ctx, first); err != nil {
		t.Fatalf("InsertKnowledge: %v", err)
	}

	got, err := st.LatestKnowledge(ctx, "a2", "subject")
	if err != nil {
		t.Fatalf("LatestKnowledge: %v", err)
	}
	if got == nil || got.ReferralDepth != 1 {
		t.Fatalf("expected referral depth 1, got %+v", got)
	}
}
