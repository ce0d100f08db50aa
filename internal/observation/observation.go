// Package observation builds the per-agent, per-tick view an LLM policy
// reasons over: a pure function of a world snapshot, constrained to a
// visibility radius around the observing agent (spec.md §4.5).
//
// Grounded on the teacher's internal/gardener/observe.go, which built a
// comparable bounded local-context view for its tier-2 cognition prompt;
// generalized here from settlement/faction context to the grid-local
// nearby-agents/resource-spawns/shelters/events view this spec calls for.
package observation

import (
	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/eventlog"
	"github.com/talgya/crossworlds/internal/world"
)

// VisibilityMode selects the distance metric used to bound an agent's view.
type VisibilityMode int

const (
	VisibilityChebyshev VisibilityMode = iota
	VisibilityEuclidean
)

// Config parameterizes observation building.
type Config struct {
	Radius int
	Mode   VisibilityMode
}

// DefaultConfig returns a reasonable default visibility radius.
func DefaultConfig() Config {
	return Config{Radius: 8, Mode: VisibilityChebyshev}
}

// AgentSummary is the subset of an agent's fields visible to others.
type AgentSummary struct {
	ID      agents.ID     `json:"id"`
	X, Y    int           `json:"x"`
	State   agents.State  `json:"state"`
	Color   string        `json:"color,omitempty"`
}

// Observation is the complete per-tick view passed to an LLM adapter.
type Observation struct {
	Self                  *agents.Agent           `json:"self"`
	Inventory             agents.Inventory        `json:"inventory"`
	NearbyAgents          []AgentSummary          `json:"nearbyAgents"`
	NearbyResourceSpawns  []world.ResourceSpawn   `json:"nearbyResourceSpawns"`
	NearbyShelters        []world.Shelter         `json:"nearbyShelters"`
	RecentEvents          []eventlog.Event        `json:"recentEvents"`
	Tick                  uint64                  `json:"tick"`
	WorldSize             world.Position          `json:"worldSize"`
}

// WorldSnapshot is the read-only slice of world state an observation is
// built from — callers (the tick engine) assemble this once per tick and
// reuse it across every agent's Build call.
type WorldSnapshot struct {
	AllAgents      []*agents.Agent
	ResourceSpawns []world.ResourceSpawn
	Shelters       []world.Shelter
	RecentEvents   []eventlog.Event
	WorldSize      world.Position
}

func inRange(cfg Config, center, p world.Position) bool {
	switch cfg.Mode {
	case VisibilityEuclidean:
		return world.EuclideanDistance(center, p) <= float64(cfg.Radius)
	default:
		return world.ChebyshevDistance(center, p) <= cfg.Radius
	}
}

// Build returns the observation for agent a at the given tick, given a
// world snapshot and its pre-fetched inventory. It is a pure function:
// identical inputs always produce an identical Observation (spec.md §4.5).
func Build(cfg Config, a *agents.Agent, inv agents.Inventory, snap WorldSnapshot, tick uint64) Observation {
	center := a.Position()

	nearbyAgents := make([]AgentSummary, 0, len(snap.AllAgents))
	for _, other := range snap.AllAgents {
		if other.ID == a.ID || !other.Alive() {
			continue
		}
		if !inRange(cfg, center, other.Position()) {
			continue
		}
		nearbyAgents = append(nearbyAgents, AgentSummary{
			ID: other.ID, X: other.X, Y: other.Y, State: other.State, Color: other.Color,
		})
	}

	nearbySpawns := make([]world.ResourceSpawn, 0, len(snap.ResourceSpawns))
	for _, r := range snap.ResourceSpawns {
		if inRange(cfg, center, r.Position()) {
			nearbySpawns = append(nearbySpawns, r)
		}
	}

	nearbyShelters := make([]world.Shelter, 0, len(snap.Shelters))
	for _, sh := range snap.Shelters {
		if inRange(cfg, center, sh.Position()) {
			nearbyShelters = append(nearbyShelters, sh)
		}
	}

	positionByAgent := make(map[agents.ID]world.Position, len(snap.AllAgents))
	for _, other := range snap.AllAgents {
		positionByAgent[other.ID] = other.Position()
	}

	visibleEvents := make([]eventlog.Event, 0, len(snap.RecentEvents))
	for _, e := range snap.RecentEvents {
		if e.AgentID == nil {
			continue
		}
		if *e.AgentID == a.ID {
			visibleEvents = append(visibleEvents, e)
			continue
		}
		if pos, ok := positionByAgent[*e.AgentID]; ok && inRange(cfg, center, pos) {
			visibleEvents = append(visibleEvents, e)
		}
	}

	return Observation{
		Self:                 a,
		Inventory:            inv,
		NearbyAgents:         nearbyAgents,
		NearbyResourceSpawns: nearbySpawns,
		NearbyShelters:       nearbyShelters,
		RecentEvents:         visibleEvents,
		Tick:                 tick,
		WorldSize:            snap.WorldSize,
	}
}
