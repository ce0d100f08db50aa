package actions

import (
	"context"
	"testing"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/llm"
)

func TestApplyHarmRejectsSelfTarget(t *testing.T) {
	actor := &agents.Agent{ID: "a1", X: 0, Y: 0, State: agents.StateIdle}
	intent := llm.Decision{Action: llm.ActionHarm, Params: map[string]any{
		"targetAgentId": "a1", "intensity": "light",
	}}

	res := Apply(context.Background(), Deps{}, actor, intent, 1)

	if res.Success {
		t.Fatal("harming self should be rejected")
	}
}

func TestApplyHarmRejectsUnknownIntensity(t *testing.T) {
	actor := &agents.Agent{ID: "a1"}
	intent := llm.Decision{Action: llm.ActionHarm, Params: map[string]any{
		"targetAgentId": "a2", "intensity": "nuclear",
	}}

	res := Apply(context.Background(), Deps{}, actor, intent, 1)

	if res.Success {
		t.Fatal("unknown harm intensity should be rejected before any store lookup")
	}
}

func TestApplyStealRejectsSelfTarget(t *testing.T) {
	actor := &agents.Agent{ID: "a1"}
	intent := llm.Decision{Action: llm.ActionSteal, Params: map[string]any{"targetAgentId": "a1"}}

	res := Apply(context.Background(), Deps{}, actor, intent, 1)

	if res.Success {
		t.Fatal("stealing from self should be rejected")
	}
}

func TestApplyDeceiveRejectsSelfTargetAndShortClaims(t *testing.T) {
	actor := &agents.Agent{ID: "a1"}

	selfTarget := llm.Decision{Action: llm.ActionDeceive, Params: map[string]any{
		"targetAgentId": "a1", "claim": "this is a sufficiently long claim", "claimType": "other",
	}}
	if res := Apply(context.Background(), Deps{}, actor, selfTarget, 1); res.Success {
		t.Fatal("deceiving self should be rejected")
	}

	shortClaim := llm.Decision{Action: llm.ActionDeceive, Params: map[string]any{
		"targetAgentId": "a2", "claim": "hi", "claimType": "other",
	}}
	if res := Apply(context.Background(), Deps{}, actor, shortClaim, 1); res.Success {
		t.Fatal("a too-short claim should be rejected before any store lookup")
	}
}

func TestApplyShareInfoRejectsNonDistinctParticipants(t *testing.T) {
	actor := &agents.Agent{ID: "a1"}

	sameSubjectAndTarget := llm.Decision{Action: llm.ActionShareInfo, Params: map[string]any{
		"targetAgentId": "a2", "subjectAgentId": "a2", "infoType": "location",
	}}
	if res := Apply(context.Background(), Deps{}, actor, sameSubjectAndTarget, 1); res.Success {
		t.Fatal("subject == target should be rejected")
	}

	selfAsSubject := llm.Decision{Action: llm.ActionShareInfo, Params: map[string]any{
		"targetAgentId": "a2", "subjectAgentId": "a1", "infoType": "location",
	}}
	if res := Apply(context.Background(), Deps{}, actor, selfAsSubject, 1); res.Success {
		t.Fatal("actor as subject should be rejected")
	}
}

func TestApplyShareInfoRejectsOutOfRangeSentiment(t *testing.T) {
	actor := &agents.Agent{ID: "a1"}
	intent := llm.Decision{Action: llm.ActionShareInfo, Params: map[string]any{
		"targetAgentId": "a2", "subjectAgentId": "a3", "infoType": "location", "sentiment": 500.0,
	}}

	res := Apply(context.Background(), Deps{}, actor, intent, 1)

	if res.Success {
		t.Fatal("out-of-range sentiment should be rejected before any store lookup")
	}
}
