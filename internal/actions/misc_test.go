package actions

import (
	"context"
	"testing"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/llm"
)

func TestApplyNameLocationRejectsEmptyName(t *testing.T) {
	actor := &agents.Agent{ID: "a1", X: 3, Y: 4}
	intent := llm.Decision{Action: llm.ActionNameLocation, Params: map[string]any{}}

	res := Apply(context.Background(), Deps{}, actor, intent, 1)

	if res.Success {
		t.Fatal("name_location with no name should fail")
	}
}

func TestApplyNameLocationDefaultsToActorPosition(t *testing.T) {
	actor := &agents.Agent{ID: "a1", X: 3, Y: 4}
	intent := llm.Decision{Action: llm.ActionNameLocation, Params: map[string]any{"name": "Mill Creek"}}

	res := Apply(context.Background(), Deps{}, actor, intent, 1)

	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	payload := res.Events[0].Payload
	if payload["x"] != 3 || payload["y"] != 4 || payload["name"] != "Mill Creek" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestApplyUnknownActionFails(t *testing.T) {
	actor := &agents.Agent{ID: "a1"}
	intent := llm.Decision{Action: "teleport"}

	res := Apply(context.Background(), Deps{}, actor, intent, 1)

	if res.Success {
		t.Fatal("unknown action should fail")
	}
}
