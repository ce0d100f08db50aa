// Package engine implements the Tick Engine: the orchestrator that runs
// the tick loop — snapshot alive agents, gather decisions concurrently,
// apply actions in deterministic order, run environment updates, commit
// (spec.md §4.7).
//
// Grounded on the teacher's internal/engine/tick.go Engine (a speed-scaled
// Run loop dispatching OnTick/OnHour/OnDay callbacks) and simulation.go
// (Subscribe/EmitEvent, now projection.Broadcast): the same "loop holds
// Running/Tick state, step() does the work" shape is kept, generalized
// from the teacher's fixed hour/day/week/season cadence to this spec's
// five-phase single-tick algorithm with a bounded concurrent decision
// phase.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/apperrors"
	"github.com/talgya/crossworlds/internal/eventlog"
	"github.com/talgya/crossworlds/internal/llm"
	"github.com/talgya/crossworlds/internal/observation"
	"github.com/talgya/crossworlds/internal/projection"
	"github.com/talgya/crossworlds/internal/rng"
	"github.com/talgya/crossworlds/internal/store"
	"github.com/talgya/crossworlds/internal/world"
)

// State is the engine's own lifecycle state — distinct from any single
// agent's State (spec.md §4.7).
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
)

// ExperimentContext binds the engine to a running experiment variant. Set
// by the Experiment Controller; nil outside an experiment.
type ExperimentContext struct {
	ExperimentID  string
	VariantID     string
	DurationTicks uint64
	StartTick     uint64
}

// Config parameterizes a running engine.
type Config struct {
	TickInterval        time.Duration // minimum wall-time between tick starts
	DecisionConcurrency int           // bounded worker pool size for the decision phase
	DecisionDeadline    time.Duration // hard per-tick deadline for the decision phase
	Observation         observation.Config
	WorldSize           world.Position // grid dimensions, surfaced to observations
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:        500 * time.Millisecond,
		DecisionConcurrency: 8,
		DecisionDeadline:    3 * time.Second,
		Observation:         observation.DefaultConfig(),
		WorldSize:           world.Position{X: 100, Y: 100},
	}
}

// OnVariantComplete is invoked from the commit phase when a running
// experiment variant reaches its duration, letting the Experiment
// Controller snapshot and mark it completed without an import cycle.
type OnVariantComplete func(ctx context.Context, tick uint64)

// Engine is the tick orchestrator. One Engine instance owns one world
// (spec.md §1, Non-goals: "does not provide cross-instance clustering").
type Engine struct {
	cfg       Config
	store     *store.Store
	log       *eventlog.Log
	cache     *projection.Cache
	broadcast *projection.Broadcast
	registry  *llm.Registry
	rngSource *rng.Source
	worldSize world.Position

	mu          sync.Mutex
	state       State
	cancel      context.CancelFunc
	experiment  *ExperimentContext
	onComplete  OnVariantComplete
	onTick      func(ctx context.Context, tick uint64)
}

// SetTickHook registers a callback invoked at the end of every commit
// phase, regardless of whether an experiment is running. The External
// Agent Gateway uses this to reset its per-tick rate limiters (spec.md
// §4.9, §4.7 step 5).
func (e *Engine) SetTickHook(fn func(ctx context.Context, tick uint64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTick = fn
}

// New constructs a stopped engine.
func New(cfg Config, st *store.Store, lg *eventlog.Log, cache *projection.Cache, bus *projection.Broadcast, registry *llm.Registry, src *rng.Source) *Engine {
	return &Engine{
		cfg: cfg, store: st, log: lg, cache: cache, broadcast: bus,
		registry: registry, rngSource: src, worldSize: cfg.WorldSize, state: StateStopped,
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// WorldSize returns the grid dimensions the engine is currently configured
// for, used by the External Agent Gateway to place newly registered agents
// within bounds (spec.md §4.9 register).
func (e *Engine) WorldSize() world.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.worldSize
}

// Overrides carries the subset of Config an experiment variant may adjust
// (spec.md §4.8 step 3, "tick interval, decay rates, normalization
// settings"). Nil fields leave the current value untouched.
type Overrides struct {
	TickInterval        *time.Duration
	DecisionConcurrency *int
	DecisionDeadline    *time.Duration
	WorldSize           *world.Position
}

// ApplyOverrides mutates the engine's configuration in place. Must be
// called while the engine is stopped (spec.md §4.8 step 3 runs strictly
// between stop and start).
func (e *Engine) ApplyOverrides(ov Overrides) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ov.TickInterval != nil {
		e.cfg.TickInterval = *ov.TickInterval
	}
	if ov.DecisionConcurrency != nil {
		e.cfg.DecisionConcurrency = *ov.DecisionConcurrency
	}
	if ov.DecisionDeadline != nil {
		e.cfg.DecisionDeadline = *ov.DecisionDeadline
	}
	if ov.WorldSize != nil {
		e.cfg.WorldSize = *ov.WorldSize
		e.worldSize = *ov.WorldSize
	}
}

// SetExperimentContext binds the engine to a running variant; nil clears
// it (Experiment Controller, spec.md §4.8).
func (e *Engine) SetExperimentContext(ctx *ExperimentContext, onComplete OnVariantComplete) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiment = ctx
	e.onComplete = onComplete
}

// Start transitions stopped -> starting -> running and begins the tick
// loop in a background goroutine. Safe to call only from stopped.
func (e *Engine) Start(parent context.Context) error {
	e.mu.Lock()
	if e.state != StateStopped {
		e.mu.Unlock()
		return apperrors.Precondition("engine is not stopped")
	}
	e.state = StateStarting
	runCtx, cancel := context.WithCancel(parent)
	e.cancel = cancel
	e.state = StateRunning
	e.mu.Unlock()

	go e.runLoop(runCtx)
	return nil
}

// Pause transitions running -> paused; the loop keeps polling but skips
// ticks while paused.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return apperrors.Precondition("engine is not running")
	}
	e.state = StatePaused
	return nil
}

// Resume transitions paused -> running.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return apperrors.Precondition("engine is not paused")
	}
	e.state = StateRunning
	return nil
}

// Stop cancels the current decision phase and commits no further ticks.
// Safe to call at any time (spec.md §5).
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == StateStopped || e.state == StateStopping {
		e.mu.Unlock()
		return
	}
	e.state = StateStopping
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
}

func (e *Engine) runLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			state := e.state
			e.mu.Unlock()
			if state != StateRunning {
				continue
			}
			// Pacing: tickInterval is the minimum wall-time between tick
			// starts; if a tick overran, the next tick starts immediately
			// since the ticker channel has already buffered or will fire
			// again without our intervention (spec.md §4.7 "Pacing").
			if err := e.runTick(ctx); err != nil {
				log.Error().Err(err).Msg("tick failed")
			}
		}
	}
}

// deterministicOrder sorts agents by (spawn-index, id), the order the
// tick engine requires for both the application phase and event ordering
// within a tick (spec.md §4.7 step 1).
func deterministicOrder(list []*agents.Agent) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].SpawnIndex != list[j].SpawnIndex {
			return list[i].SpawnIndex < list[j].SpawnIndex
		}
		return list[i].ID < list[j].ID
	})
}
