// Package experiment implements the Experiment Controller: sequencing
// variants of an experiment through stop → reset → reseed → configure →
// spawn → run → snapshot-on-completion (spec.md §4.8).
//
// Grounded on the teacher's internal/engine/simulation.go lifecycle
// control (Start/Stop paired with Subscribe/EmitEvent for "tell the world
// something changed"), generalized from a single long-lived simulation to
// a controller that tears the engine down and rebuilds world state between
// runs — a pattern with no teacher analogue, since tobyjaguar-mini-world
// never re-seeds or resets; built fresh from spec.md's runVariant/
// stopVariant contract, reusing the teacher's Engine Stop/Start calls as
// the actual lifecycle primitives.
package experiment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/talgya/crossworlds/internal/apperrors"
	"github.com/talgya/crossworlds/internal/engine"
	"github.com/talgya/crossworlds/internal/projection"
	"github.com/talgya/crossworlds/internal/rng"
	"github.com/talgya/crossworlds/internal/spawn"
	"github.com/talgya/crossworlds/internal/store"
	"github.com/talgya/crossworlds/internal/world"
)

// ConfigOverrides is the JSON shape persisted in Variant.ConfigOverrides
// (spec.md §4.8 step 3). World generation fields default to
// world.DefaultGenConfig's dimensions when zero.
type ConfigOverrides struct {
	TickIntervalMs      *int `json:"tickIntervalMs,omitempty"`
	DecisionConcurrency *int `json:"decisionConcurrency,omitempty"`
	DecisionDeadlineMs  *int `json:"decisionDeadlineMs,omitempty"`
	WorldWidth          int  `json:"worldWidth,omitempty"`
	WorldHeight         int  `json:"worldHeight,omitempty"`
	ResourceSpawnCount  int  `json:"resourceSpawnCount,omitempty"`
	ShelterCount        int  `json:"shelterCount,omitempty"`
}

// StartDelay is the pause between spawning a variant's world and starting
// its engine, giving SSE subscribers time to reconnect to the fresh stream
// (spec.md §4.8 step 6).
const StartDelay = 500 * time.Millisecond

// Controller sequences an experiment's variants against a single shared
// engine and store (spec.md §1, "one engine instance owns one world").
type Controller struct {
	store  *store.Store
	engine *engine.Engine
	cache  *projection.Cache
	rng    *rng.Source

	now func() time.Time
}

// New constructs a Controller bound to the shared engine/store/cache/rng.
func New(st *store.Store, eng *engine.Engine, cache *projection.Cache, src *rng.Source) *Controller {
	return &Controller{store: st, engine: eng, cache: cache, rng: src, now: time.Now}
}

// CreateExperiment inserts a new planning-state experiment.
func (c *Controller) CreateExperiment(ctx context.Context, name string) (store.Experiment, error) {
	e := store.Experiment{ID: uuid.NewString(), Name: name, Status: store.ExperimentPlanning, CreatedAt: c.now()}
	if err := c.store.InsertExperiment(ctx, e); err != nil {
		return store.Experiment{}, err
	}
	return e, nil
}

// AddVariant appends a variant in the planning state.
func (c *Controller) AddVariant(ctx context.Context, experimentID string, worldSeed int64, durationTicks uint64, overrides ConfigOverrides, agents []spawn.AgentSpec) (store.Variant, error) {
	ovBody, err := json.Marshal(overrides)
	if err != nil {
		return store.Variant{}, apperrors.Validation("invalid configOverrides")
	}
	agentsBody, err := json.Marshal(agents)
	if err != nil {
		return store.Variant{}, apperrors.Validation("invalid agentConfigs")
	}
	v := store.Variant{
		ID: uuid.NewString(), ExperimentID: experimentID, Status: store.ExperimentPlanning,
		WorldSeed: worldSeed, DurationTicks: durationTicks,
		ConfigOverrides: string(ovBody), AgentConfigs: string(agentsBody),
	}
	if err := c.store.InsertVariant(ctx, v); err != nil {
		return store.Variant{}, err
	}
	return v, nil
}

// RunVariant runs the next pending variant of an experiment (spec.md
// §4.8 runVariant).
func (c *Controller) RunVariant(ctx context.Context, experimentID string) (store.Variant, error) {
	running, err := c.store.HasRunningVariant(ctx, experimentID)
	if err != nil {
		return store.Variant{}, err
	}
	if running {
		return store.Variant{}, apperrors.Precondition("a variant is already running")
	}

	variant, err := c.store.NextPendingVariant(ctx, experimentID)
	if err != nil {
		return store.Variant{}, err
	}
	if variant == nil {
		return store.Variant{}, apperrors.Precondition("no pending variant")
	}

	// Step 2: stop engine, clear cache, reset world, reseed RNG.
	c.engine.Stop()
	c.cache.Clear(ctx)
	if err := c.store.ResetWorldData(ctx); err != nil {
		return store.Variant{}, err
	}
	c.rng.Reseed(variant.WorldSeed)

	// Step 3: apply config overrides.
	var overrides ConfigOverrides
	if err := json.Unmarshal([]byte(variant.ConfigOverrides), &overrides); err != nil {
		return store.Variant{}, apperrors.Validation("corrupt configOverrides")
	}
	c.engine.ApplyOverrides(toEngineOverrides(overrides))

	// Step 4: spawn world per variant.agentConfigs.
	var agentSpecs []spawn.AgentSpec
	if err := json.Unmarshal([]byte(variant.AgentConfigs), &agentSpecs); err != nil {
		return store.Variant{}, apperrors.Validation("corrupt agentConfigs")
	}
	genCfg := world.DefaultGenConfig()
	genCfg.Seed = variant.WorldSeed
	if overrides.WorldWidth > 0 {
		genCfg.Width = overrides.WorldWidth
	}
	if overrides.WorldHeight > 0 {
		genCfg.Height = overrides.WorldHeight
	}
	grid := world.Generate(genCfg)

	spawnCfg := spawn.Config{
		Grid:               grid,
		ResourceSpawnCount: orDefault(overrides.ResourceSpawnCount, 200),
		ShelterCount:       orDefault(overrides.ShelterCount, 10),
		Agents:             agentSpecs,
	}
	if err := spawn.Populate(ctx, c.store, c.rng, spawnCfg); err != nil {
		return store.Variant{}, err
	}
	if err := c.store.InitWorldState(ctx); err != nil {
		return store.Variant{}, err
	}

	// Step 5: bind experiment context, mark running.
	ws, err := c.store.GetWorldState(ctx)
	if err != nil {
		return store.Variant{}, err
	}
	c.engine.SetExperimentContext(&engine.ExperimentContext{
		ExperimentID: experimentID, VariantID: variant.ID,
		DurationTicks: variant.DurationTicks, StartTick: ws.CurrentTick,
	}, c.onVariantComplete(experimentID))
	if err := c.store.StartVariant(ctx, variant.ID, ws.CurrentTick); err != nil {
		return store.Variant{}, err
	}

	// Step 6: start after a short delay so subscribers can reconnect.
	time.Sleep(StartDelay)
	if err := c.engine.Start(ctx); err != nil {
		return store.Variant{}, err
	}

	variant.Status = store.ExperimentRunning
	return *variant, nil
}

// StopVariant stops the engine, snapshots the running variant as
// completed, and marks the experiment completed once no variants remain
// pending (spec.md §4.8 stopVariant).
func (c *Controller) StopVariant(ctx context.Context, experimentID string) error {
	c.engine.Stop()

	running, err := c.store.GetRunningVariant(ctx, experimentID)
	if err != nil {
		return err
	}
	if running == nil {
		return apperrors.Precondition("no running variant")
	}

	ws, err := c.store.GetWorldState(ctx)
	if err != nil {
		return err
	}

	snapshotJSON, err := c.captureSnapshot(ctx, ws.CurrentTick)
	if err != nil {
		log.Error().Err(err).Str("variantId", running.ID).
			Msg("experiment controller: failed to capture completion snapshot, completing without one")
		snapshotJSON = ""
	}
	if err := c.store.CompleteVariant(ctx, running.ID, ws.CurrentTick, snapshotJSON); err != nil {
		return err
	}
	c.engine.SetExperimentContext(nil, nil)

	next, err := c.store.NextPendingVariant(ctx, experimentID)
	if err != nil {
		return err
	}
	if next == nil {
		return c.store.SetExperimentStatus(ctx, experimentID, store.ExperimentDone)
	}
	return nil
}

// onVariantComplete is invoked from the tick engine's commit phase when a
// running variant reaches its configured duration (spec.md §4.7 step 5,
// §4.8 stopVariant).
func (c *Controller) onVariantComplete(experimentID string) engine.OnVariantComplete {
	return func(ctx context.Context, tick uint64) {
		if err := c.StopVariant(ctx, experimentID); err != nil {
			log.Error().Err(err).Str("experimentId", experimentID).Uint64("tick", tick).
				Msg("experiment controller: failed to stop completed variant")
		}
	}
}

// captureSnapshot builds the {tick, agents, resourceSpawns, shelters} world
// snapshot and marshals it for persistence against the just-completed
// variant, before the next RunVariant call wipes the store (spec.md §2
// Experiment Controller, "capture snapshot on completion").
func (c *Controller) captureSnapshot(ctx context.Context, tick uint64) (string, error) {
	alive, err := c.store.GetAliveAgents(ctx)
	if err != nil {
		return "", err
	}
	spawns, err := c.store.GetAllResourceSpawns(ctx)
	if err != nil {
		return "", err
	}
	shelters, err := c.store.GetAllShelters(ctx)
	if err != nil {
		return "", err
	}
	snap := projection.WorldSnapshot{Tick: tick, Agents: alive, ResourceSpawns: spawns, Shelters: shelters}
	body, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func toEngineOverrides(ov ConfigOverrides) engine.Overrides {
	var out engine.Overrides
	if ov.TickIntervalMs != nil {
		d := time.Duration(*ov.TickIntervalMs) * time.Millisecond
		out.TickInterval = &d
	}
	if ov.DecisionConcurrency != nil {
		out.DecisionConcurrency = ov.DecisionConcurrency
	}
	if ov.DecisionDeadlineMs != nil {
		d := time.Duration(*ov.DecisionDeadlineMs) * time.Millisecond
		out.DecisionDeadline = &d
	}
	if ov.WorldWidth > 0 && ov.WorldHeight > 0 {
		out.WorldSize = &world.Position{X: ov.WorldWidth, Y: ov.WorldHeight}
	}
	return out
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
