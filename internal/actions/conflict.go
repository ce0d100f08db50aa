package actions

import (
	"context"
	"fmt"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/llm"
	"github.com/talgya/crossworlds/internal/store"
	"github.com/talgya/crossworlds/internal/tuning"
	"github.com/talgya/crossworlds/internal/world"
)

// harmIntensityDamage maps the harm intensity enum to a health delta,
// grounded in spirit on the teacher's internal/engine/crime.go theft/fine
// scaling (light/moderate/severe stand in for its graduated deterrence
// penalties).
var harmIntensityDamage = map[string]float64{
	"light": 5, "moderate": 15, "severe": 35,
}

// witnesses returns every alive agent within the witness radius of
// position, excluding actor and target (spec.md §4.6 "Conflict actions").
func witnesses(ctx context.Context, deps Deps, position world.Position, actor, target agents.ID) ([]*agents.Agent, error) {
	alive, err := deps.Store.GetAliveAgents(ctx)
	if err != nil {
		return nil, err
	}
	var out []*agents.Agent
	for _, a := range alive {
		if a.ID == actor || a.ID == target {
			continue
		}
		if world.ChebyshevDistance(position, a.Position()) <= tuning.WitnessRadius {
			out = append(out, a)
		}
	}
	return out, nil
}

func reputationEvents(aboutAgent agents.ID, sentiment float64, witnessList []*agents.Agent, eventType string) []EventSpec {
	events := make([]EventSpec, 0, len(witnessList))
	for _, w := range witnessList {
		events = append(events, EventSpec{
			Type: eventType, AgentID: &w.ID,
			Payload: map[string]any{"aboutAgentId": aboutAgent, "sentiment": sentiment},
		})
	}
	return events
}

func applyHarm(ctx context.Context, deps Deps, actor *agents.Agent, intent llm.Decision, tick uint64) ActionResult {
	targetIDStr := stringParam(intent, "targetAgentId", "")
	intensity := stringParam(intent, "intensity", "")
	damage, knownIntensity := harmIntensityDamage[intensity]
	if targetIDStr == "" || !knownIntensity {
		return fail("Invalid harm params")
	}
	targetID := agents.ID(targetIDStr)
	if targetID == actor.ID {
		return fail("cannot harm self")
	}

	target, err := deps.Store.GetAgent(ctx, targetID)
	if err != nil {
		return fail("target not found")
	}
	if !target.Alive() {
		return fail("target is dead")
	}
	if world.ManhattanDistance(actor.Position(), target.Position()) > tuning.HarmMaxDistance {
		return fail("target too far away")
	}

	newHealth := clamp(target.Health-damage, 0, 100)
	changes := map[agents.ID]store.PartialAgent{targetID: {Health: &newHealth}}

	events := []EventSpec{{
		Type: "agent_harmed", AgentID: &actor.ID,
		Payload: map[string]any{"targetAgentId": targetID, "intensity": intensity, "damage": damage},
	}}
	ws, err := witnesses(ctx, deps, actor.Position(), actor.ID, targetID)
	if err == nil {
		events = append(events, reputationEvents(actor.ID, -0.5, ws, "reputation_witnessed")...)
	}

	return ActionResult{Success: true, Changes: changes, Events: events}
}

func applySteal(ctx context.Context, deps Deps, actor *agents.Agent, intent llm.Decision, tick uint64) ActionResult {
	targetIDStr := stringParam(intent, "targetAgentId", "")
	if targetIDStr == "" {
		return fail("Invalid steal params")
	}
	targetID := agents.ID(targetIDStr)
	if targetID == actor.ID {
		return fail("cannot steal from self")
	}

	target, err := deps.Store.GetAgent(ctx, targetID)
	if err != nil {
		return fail("target not found")
	}
	if !target.Alive() {
		return fail("target is dead")
	}
	if world.ManhattanDistance(actor.Position(), target.Position()) > tuning.StealMaxDistance {
		return fail("target too far away")
	}

	item := stringParam(intent, "itemType", "food")
	quantity := intParam(intent, "quantity", 1)
	if quantity < 1 {
		return fail("Invalid quantity")
	}

	ok, err := deps.Store.RemoveFromInventory(ctx, targetID, item, quantity)
	if err != nil {
		return fail("storage error")
	}
	if !ok {
		return fail(fmt.Sprintf("target has no %s to steal", item))
	}
	if err := deps.Store.AddToInventory(ctx, actor.ID, item, quantity); err != nil {
		return fail("storage error")
	}

	events := []EventSpec{{
		Type: "agent_stole", AgentID: &actor.ID,
		Payload: map[string]any{"targetAgentId": targetID, "itemType": item, "quantity": quantity},
	}}
	ws, err := witnesses(ctx, deps, actor.Position(), actor.ID, targetID)
	if err == nil {
		events = append(events, reputationEvents(actor.ID, -0.3, ws, "reputation_witnessed")...)
	}
	return ActionResult{Success: true, Events: events}
}

func applyDeceive(ctx context.Context, deps Deps, actor *agents.Agent, intent llm.Decision, tick uint64) ActionResult {
	targetIDStr := stringParam(intent, "targetAgentId", "")
	claim := stringParam(intent, "claim", "")
	claimType := stringParam(intent, "claimType", "")
	if targetIDStr == "" {
		return fail("Invalid deceive params")
	}
	if len(claim) < tuning.DeceiveClaimMinChars || len(claim) > tuning.DeceiveClaimMaxChars {
		return fail("claim must be 5-500 chars")
	}
	targetID := agents.ID(targetIDStr)
	if targetID == actor.ID {
		return fail("cannot deceive self")
	}

	target, err := deps.Store.GetAgent(ctx, targetID)
	if err != nil {
		return fail("target not found")
	}
	if !target.Alive() {
		return fail("target is dead")
	}
	if world.ManhattanDistance(actor.Position(), target.Position()) > tuning.DeceiveMaxDistance {
		return fail("target too far away")
	}

	events := []EventSpec{{
		Type: "agent_deceived", AgentID: &actor.ID,
		Payload: map[string]any{"targetAgentId": targetID, "claim": claim, "claimType": claimType},
	}}
	return ActionResult{Success: true, Events: events}
}

// applyShareInfo propagates a knowledge record to the target's record of
// the subject, tagging referral depth relative to the sharer's own
// knowledge of that subject (spec.md §4.6 "Social actions").
func applyShareInfo(ctx context.Context, deps Deps, actor *agents.Agent, intent llm.Decision, tick uint64) ActionResult {
	targetIDStr := stringParam(intent, "targetAgentId", "")
	subjectIDStr := stringParam(intent, "subjectAgentId", "")
	infoType := stringParam(intent, "infoType", "")
	sentiment := floatParam(intent, "sentiment", 0)

	if targetIDStr == "" || subjectIDStr == "" {
		return fail("Invalid share_info params")
	}
	targetID := agents.ID(targetIDStr)
	subjectID := agents.ID(subjectIDStr)
	if actor.ID == subjectID || actor.ID == targetID || subjectID == targetID {
		return fail("sharer, subject, and target must be distinct")
	}
	if sentiment < -100 || sentiment > 100 {
		return fail("sentiment must be in [-100,100]")
	}

	target, err := deps.Store.GetAgent(ctx, targetID)
	if err != nil {
		return fail("target not found")
	}
	if !target.Alive() {
		return fail("target is dead")
	}

	priorDepth := 0
	if prior, err := deps.Store.LatestKnowledge(ctx, actor.ID, subjectID); err == nil && prior != nil {
		priorDepth = prior.ReferralDepth
	}

	events := []EventSpec{{
		Type: "info_shared", AgentID: &actor.ID,
		Payload: map[string]any{
			"targetAgentId": targetID, "subjectAgentId": subjectID,
			"infoType": infoType, "sentiment": sentiment,
		},
	}}
	knowledge := &KnowledgeNote{
		HolderID: targetID, SubjectID: subjectID,
		DiscoveryType: "referral", ReferredBy: actor.ID, ReferralDepth: priorDepth + 1,
		InfoType: infoType, Sentiment: sentiment,
	}
	return ActionResult{Success: true, Events: events, Knowledge: knowledge}
}
