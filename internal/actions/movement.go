package actions

import (
	"context"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/llm"
	"github.com/talgya/crossworlds/internal/store"
	"github.com/talgya/crossworlds/internal/tuning"
	"github.com/talgya/crossworlds/internal/world"
)

// applyMove transitions idle -> walking for one tick, then -> idle on
// arrival; here "arrival" is immediate since a tick covers one step
// (spec.md §4.6 state machine).
func applyMove(ctx context.Context, deps Deps, actor *agents.Agent, intent llm.Decision) ActionResult {
	toX := intParam(intent, "toX", actor.X)
	toY := intParam(intent, "toY", actor.Y)

	from := actor.Position()
	to := world.Position{X: toX, Y: toY}
	if world.ChebyshevDistance(from, to) > 1 {
		return fail("move target must be an adjacent cell")
	}
	if actor.State == agents.StateSleeping {
		return fail("cannot move while sleeping")
	}

	idle := agents.StateIdle
	changes := map[agents.ID]store.PartialAgent{
		actor.ID: {X: &toX, Y: &toY, State: &idle},
	}
	events := []EventSpec{{
		Type: "agent_moved", AgentID: &actor.ID,
		Payload: map[string]any{"fromX": from.X, "fromY": from.Y, "toX": toX, "toY": toY},
	}}
	return ActionResult{Success: true, Changes: changes, Events: events}
}

// applySleep transitions idle/walking -> sleeping for duration ticks. The
// tick engine's environment phase is responsible for transitioning the
// agent back to idle once currentTick reaches SleepUntilTick.
func applySleep(actor *agents.Agent, intent llm.Decision, tick uint64) ActionResult {
	duration := intParam(intent, "duration", 1)
	if duration < 1 || duration > 10 {
		return fail("Invalid duration")
	}
	if actor.State == agents.StateDead {
		return fail("agent is dead")
	}

	sleeping := agents.StateSleeping
	until := tick + uint64(duration)
	changes := map[agents.ID]store.PartialAgent{
		actor.ID: {State: &sleeping, SleepUntilTick: &until},
	}
	events := []EventSpec{{
		Type: "agent_slept", AgentID: &actor.ID,
		Payload: map[string]any{"duration": duration, "untilTick": until},
	}}
	return ActionResult{Success: true, Changes: changes, Events: events}
}

// applyWork does not set state = working — an instantaneous-per-tick
// action; state remains idle or walking (spec.md §4.6, explicit redesign
// of an earlier bug that left agents permanently stuck in "working").
func applyWork(ctx context.Context, deps Deps, actor *agents.Agent, intent llm.Decision) ActionResult {
	if actor.State == agents.StateSleeping {
		return fail("cannot work while sleeping")
	}
	duration := intParam(intent, "duration", 1)
	if duration < 1 || duration > 5 {
		return fail("Invalid duration")
	}

	cost := effectiveCost(tuning.WorkEnergyPerTick*float64(duration), actor)
	if actor.Energy < cost {
		return fail("Not enough energy")
	}

	shelters, err := deps.Store.GetAllShelters(ctx)
	if err != nil {
		return fail("storage error")
	}
	atShelter := false
	for _, sh := range shelters {
		if sh.X == actor.X && sh.Y == actor.Y {
			atShelter = true
			break
		}
	}
	if !atShelter {
		return fail("must be at a shelter to work")
	}

	newEnergy := actor.Energy - cost
	newHunger := clamp(actor.Hunger-tuning.WorkHungerPerTick*float64(duration), 0, 100)
	newBalance := actor.Balance + int64(tuning.WorkBalancePerTick*float64(duration))

	changes := map[agents.ID]store.PartialAgent{
		actor.ID: {Energy: &newEnergy, Hunger: &newHunger, Balance: &newBalance},
	}
	events := []EventSpec{
		{Type: "agent_worked", AgentID: &actor.ID, Payload: map[string]any{"duration": duration}},
		{Type: "balance_changed", AgentID: &actor.ID, Payload: map[string]any{"delta": tuning.WorkBalancePerTick * float64(duration), "balance": newBalance}},
	}
	return ActionResult{Success: true, Changes: changes, Events: events}
}
