// Package spawn populates a freshly reset World Store with resource
// spawns, shelters, and an initial agent population — the step both
// internal/api's "POST /api/world/start" handler and the Experiment
// Controller's runVariant (spec.md §4.8 step 4, "spawn world per
// variant.agentConfigs") need.
//
// Grounded on the teacher's internal/agents/spawner.go Spawner
// (seeded *rand.Rand, sequential ID assignment, one spawnOne per agent),
// replaced here with this spec's vitals/balance/color fields in place of
// the teacher's age/sex/occupation/soul demographics, and on
// internal/world/settlement_placer.go's scatter-then-place approach for
// resource spawns and shelters.
package spawn

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/rng"
	"github.com/talgya/crossworlds/internal/store"
	"github.com/talgya/crossworlds/internal/world"
)

// AgentSpec describes one agent to create. Color defaults to a palette
// entry by index when empty; StartBalance defaults to 50 when zero.
type AgentSpec struct {
	PolicyType   string `json:"policyType"`
	Color        string `json:"color,omitempty"`
	StartBalance int64  `json:"startBalance,omitempty"`
}

// Config parameterizes a full world population (spec.md §4.8 step 4,
// "agentConfigs").
type Config struct {
	Grid               *world.Grid
	ResourceSpawnCount int
	ShelterCount       int
	Agents             []AgentSpec
}

// DefaultAgentPalette cycles through a small set of display colors for
// agents whose spec leaves Color empty, matching the teacher's
// settlement-tinted agent markers.
var DefaultAgentPalette = []string{"#e63946", "#457b9d", "#2a9d8f", "#f4a261", "#8338ec", "#ffb703"}

const defaultStartBalance = 50

// resourceKindWeights biases which kind a newly-placed spawn yields,
// loosely matching the teacher's biome-weighted resource tables.
var resourceKindWeights = []world.ResourceKind{
	world.ResourceFood, world.ResourceFood, world.ResourceEnergy, world.ResourceMaterial,
}

// Populate inserts resourceSpawnCount resource spawns, shelterCount
// shelters, and one agent per entry in cfg.Agents, each placed at a
// position drawn from src. Called against a store that has just been
// reset (spec.md §4.8 step 2-4).
func Populate(ctx context.Context, st *store.Store, src *rng.Source, cfg Config) error {
	g := cfg.Grid
	if g == nil {
		return fmt.Errorf("spawn: nil grid")
	}

	for i := 0; i < cfg.ResourceSpawnCount; i++ {
		pos := randomPosition(src, g)
		kind, _ := rng.Pick(src, resourceKindWeights)
		max := 20.0 + src.Float64()*30.0
		id, err := deterministicID(src)
		if err != nil {
			return fmt.Errorf("spawn: generate resource id: %w", err)
		}
		rs := world.ResourceSpawn{
			ID:            id,
			X:             pos.X,
			Y:             pos.Y,
			Kind:          kind,
			CurrentAmount: max,
			MaxAmount:     max,
			RegenRate:     1.0 + src.Float64()*2.0,
			Biome:         g.BiomeAt(pos).String(),
		}
		if err := st.InsertResourceSpawn(ctx, rs); err != nil {
			return fmt.Errorf("spawn: insert resource: %w", err)
		}
	}

	for i := 0; i < cfg.ShelterCount; i++ {
		pos := randomPosition(src, g)
		id, err := deterministicID(src)
		if err != nil {
			return fmt.Errorf("spawn: generate shelter id: %w", err)
		}
		sh := world.Shelter{ID: id, X: pos.X, Y: pos.Y, CanSleep: true}
		if err := st.InsertShelter(ctx, sh); err != nil {
			return fmt.Errorf("spawn: insert shelter: %w", err)
		}
	}

	for i, spec := range cfg.Agents {
		pos := randomPosition(src, g)
		color := spec.Color
		if color == "" {
			color = DefaultAgentPalette[i%len(DefaultAgentPalette)]
		}
		balance := spec.StartBalance
		if balance == 0 {
			balance = defaultStartBalance
		}
		id, err := deterministicID(src)
		if err != nil {
			return fmt.Errorf("spawn: generate agent id: %w", err)
		}
		a := &agents.Agent{
			ID:         agents.ID(id),
			PolicyType: spec.PolicyType,
			X:          pos.X,
			Y:          pos.Y,
			Hunger:     80 + src.Float64()*20,
			Energy:     80 + src.Float64()*20,
			Health:     100,
			Balance:    balance,
			State:      agents.StateIdle,
			Color:      color,
			SpawnIndex: i,
		}
		if err := st.InsertAgent(ctx, a); err != nil {
			return fmt.Errorf("spawn: insert agent %d: %w", i, err)
		}
	}
	return nil
}

func randomPosition(src *rng.Source, g *world.Grid) world.Position {
	return world.Position{X: src.Intn(g.Width), Y: src.Intn(g.Height)}
}

// deterministicID draws a v4 UUID from src instead of crypto/rand, so that
// entity ids assigned during Populate are a pure function of the world
// seed — required for the experiment controller's byte-identical replay
// guarantee (spec.md §8 scenario 5).
func deterministicID(src *rng.Source) (string, error) {
	id, err := uuid.NewRandomFromReader(src.Reader())
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
