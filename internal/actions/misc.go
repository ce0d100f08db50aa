package actions

import (
	"context"
	"fmt"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/llm"
)

// applyClaim lets an agent take ownership of an unclaimed shelter at its
// current cell — the only ownable entity in the data model
// (spec.md §3, Shelter.ownerAgent).
func applyClaim(ctx context.Context, deps Deps, actor *agents.Agent, intent llm.Decision) ActionResult {
	shelters, err := deps.Store.GetAllShelters(ctx)
	if err != nil {
		return fail("storage error")
	}
	shelterID := ""
	found := false
	for _, sh := range shelters {
		if sh.X != actor.X || sh.Y != actor.Y {
			continue
		}
		if sh.OwnerAgent != nil && *sh.OwnerAgent != string(actor.ID) {
			return fail("shelter already claimed")
		}
		shelterID, found = sh.ID, true
		break
	}
	if !found {
		return fail(fmt.Sprintf("No shelter at position (%d,%d)", actor.X, actor.Y))
	}
	if err := deps.Store.SetShelterOwner(ctx, shelterID, actor.ID); err != nil {
		return fail("storage error")
	}

	events := []EventSpec{{
		Type: "shelter_claimed", AgentID: &actor.ID,
		Payload: map[string]any{"shelterId": shelterID},
	}}
	return ActionResult{Success: true, Events: events}
}

// applyNameLocation is a narrative-only action: it does not mutate world
// state, only emits a record of the chosen name for a cell, surfaced
// through the event log and broadcast for the frontend/editor UI to
// render (spec.md §1, "canvas rendering, the editor UI ... out of scope").
func applyNameLocation(actor *agents.Agent, intent llm.Decision) ActionResult {
	name := stringParam(intent, "name", "")
	if name == "" {
		return fail("Invalid name")
	}
	x := intParam(intent, "x", actor.X)
	y := intParam(intent, "y", actor.Y)

	events := []EventSpec{{
		Type: "location_named", AgentID: &actor.ID,
		Payload: map[string]any{"x": x, "y": y, "name": name},
	}}
	return ActionResult{Success: true, Events: events}
}
