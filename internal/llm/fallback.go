package llm

import (
	"github.com/talgya/crossworlds/internal/observation"
	"github.com/talgya/crossworlds/internal/rng"
	"github.com/talgya/crossworlds/internal/tuning"
	"github.com/talgya/crossworlds/internal/world"
)

// Fallback computes the deterministic fallback decision: a pure function
// of vitals, position, inventory, nearby spawns, and nearby shelters,
// routing its one random choice (step 7's random 4-neighbor move) through
// the shared seeded source so replays stay reproducible (spec.md §4.4,
// §8 "TEST_MODE").
//
// Fallbacks are never cached — this is called directly by Decide on a
// cache miss followed by a parse/validation/timeout failure, and by every
// adapter when TEST_MODE is enabled.
func Fallback(obs observation.Observation, src *rng.Source) Decision {
	self := obs.Self

	if self.Hunger < tuning.FallbackHungerEatThreshold && obs.Inventory["food"] > 0 {
		return Decision{Action: ActionConsume, Params: map[string]any{"itemType": "food", "quantity": 1}}
	}

	if self.Hunger < tuning.FallbackHungerBuyThreshold && self.Balance >= int64(tuning.FallbackBuyMinBalance) && atShelter(obs) {
		return Decision{Action: ActionBuy, Params: map[string]any{"itemType": "food", "quantity": 1}}
	}

	if self.Hunger < tuning.FallbackHungerGatherThreshold {
		if spawn, ok := spawnAtCell(obs, self.Position(), world.ResourceFood); ok && spawn.CurrentAmount > 0 {
			return Decision{Action: ActionGather, Params: map[string]any{"resourceType": string(world.ResourceFood), "quantity": 1}}
		}
	}

	if self.Hunger < tuning.FallbackHungerMoveThreshold {
		if target, ok := nearestFoodSpawn(obs, self.Position()); ok {
			step := stepToward(self.Position(), target)
			return Decision{Action: ActionMove, Params: map[string]any{"toX": float64(step.X), "toY": float64(step.Y)}}
		}
	}

	if self.Energy < tuning.FallbackEnergySleepThreshold {
		return Decision{Action: ActionSleep, Params: map[string]any{"duration": float64(tuning.FallbackSleepDurationOnLowVital)}}
	}

	if float64(self.Balance) < tuning.FallbackBalanceWorkThreshold && self.Energy >= tuning.FallbackEnergyWorkThreshold {
		return Decision{Action: ActionWork, Params: map[string]any{"duration": float64(tuning.FallbackWorkDuration)}}
	}

	if self.Energy >= tuning.FallbackEnergyWanderThreshold {
		neighbors := self.Position().Neighbors4()
		next, _ := rng.Pick(src, neighbors)
		return Decision{Action: ActionMove, Params: map[string]any{"toX": float64(next.X), "toY": float64(next.Y)}}
	}

	return Decision{Action: ActionSleep, Params: map[string]any{"duration": float64(tuning.FallbackWanderSleepDuration)}}
}

func atShelter(obs observation.Observation) bool {
	for _, sh := range obs.NearbyShelters {
		if sh.X == obs.Self.X && sh.Y == obs.Self.Y {
			return true
		}
	}
	return false
}

func spawnAtCell(obs observation.Observation, pos world.Position, kind world.ResourceKind) (world.ResourceSpawn, bool) {
	for _, r := range obs.NearbyResourceSpawns {
		if r.X == pos.X && r.Y == pos.Y && r.Kind == kind {
			return r, true
		}
	}
	return world.ResourceSpawn{}, false
}

func nearestFoodSpawn(obs observation.Observation, from world.Position) (world.Position, bool) {
	best := -1
	var bestPos world.Position
	found := false
	for _, r := range obs.NearbyResourceSpawns {
		if r.Kind != world.ResourceFood || r.CurrentAmount <= 0 {
			continue
		}
		d := world.ManhattanDistance(from, r.Position())
		if !found || d < best {
			best, bestPos, found = d, r.Position(), true
		}
	}
	return bestPos, found
}

// stepToward returns the single orthogonal step from `from` that reduces
// Manhattan distance to `to` the most.
func stepToward(from, to world.Position) world.Position {
	dx, dy := to.X-from.X, to.Y-from.Y
	if abs(dx) >= abs(dy) && dx != 0 {
		if dx > 0 {
			return world.Position{X: from.X + 1, Y: from.Y}
		}
		return world.Position{X: from.X - 1, Y: from.Y}
	}
	if dy != 0 {
		if dy > 0 {
			return world.Position{X: from.X, Y: from.Y + 1}
		}
		return world.Position{X: from.X, Y: from.Y - 1}
	}
	return from
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
