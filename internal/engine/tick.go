// Phase implementations for the Tick Engine's five-phase algorithm:
// snapshot, decision (parallel, bounded), application (serial), environment,
// commit (spec.md §4.7).
//
// Grounded on the teacher's internal/engine/simulation.go TickMinute-style
// per-tick pass (needs decay, death checks) and internal/engine/crime.go's
// pattern of reading state, computing an outcome, and returning events to
// append — generalized here from the teacher's settlement/faction systems
// to this spec's agent/resource/shelter model and the deterministic
// concurrent-decision/serial-application split spec.md §4.7/§5 requires.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/talgya/crossworlds/internal/actions"
	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/eventlog"
	"github.com/talgya/crossworlds/internal/llm"
	"github.com/talgya/crossworlds/internal/observation"
	"github.com/talgya/crossworlds/internal/store"
	"github.com/talgya/crossworlds/internal/tuning"
)

// decisionPair is one agent's intent, collected from the decision phase.
type decisionPair struct {
	agent  *agents.Agent
	intent llm.Decision
}

// runTick executes one full tick: T = currentTick + 1 (spec.md §4.7).
func (e *Engine) runTick(ctx context.Context) error {
	ws, err := e.store.GetWorldState(ctx)
	if err != nil {
		return fmt.Errorf("runTick: read world state: %w", err)
	}
	if ws.IsPaused {
		return nil
	}
	tick := ws.CurrentTick + 1

	// Step 1: snapshot alive agents, deterministic order.
	alive, err := e.store.GetAliveAgents(ctx)
	if err != nil {
		return fmt.Errorf("runTick: snapshot agents: %w", err)
	}
	deterministicOrder(alive)
	if len(alive) == 0 {
		return e.commitTick(ctx, tick)
	}

	// Step 2: decision phase, parallel and bounded, hard deadline.
	pairs := e.decisionPhase(ctx, alive, tick)

	// Step 3: application phase, serial in the same deterministic order.
	e.applicationPhase(ctx, pairs, tick)

	// Step 4: environment phase.
	e.environmentPhase(ctx, tick)

	// Step 5: commit phase.
	return e.commitTick(ctx, tick)
}

// decisionPhase fans out obs-build + decide across a bounded worker pool.
// Adapter errors and deadline overruns both degrade to the fallback intent
// for that agent — a normal, non-fatal outcome (spec.md §4.7 step 2, §5).
func (e *Engine) decisionPhase(ctx context.Context, alive []*agents.Agent, tick uint64) []decisionPair {
	decCtx, cancel := context.WithTimeout(ctx, e.cfg.DecisionDeadline)
	defer cancel()

	snap, err := e.buildWorldSnapshot(ctx, alive, tick)
	if err != nil {
		log.Error().Err(err).Msg("decision phase: failed to build world snapshot, falling back for all agents")
	}

	results := make([]decisionPair, len(alive))
	sem := make(chan struct{}, e.cfg.DecisionConcurrency)
	var wg sync.WaitGroup

	for i, a := range alive {
		wg.Add(1)
		go func(i int, a *agents.Agent) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = decisionPair{agent: a, intent: e.decideFor(decCtx, a, snap, tick)}
		}(i, a)
	}
	wg.Wait()
	return results
}

// decideFor resolves one agent's intent, substituting the fallback on any
// adapter error, parse failure, or deadline overrun.
func (e *Engine) decideFor(ctx context.Context, a *agents.Agent, snap observation.WorldSnapshot, tick uint64) llm.Decision {
	inv, err := e.store.GetInventory(ctx, a.ID)
	if err != nil {
		inv = agents.Inventory{}
	}
	obs := observation.Build(e.cfg.Observation, a, inv, snap, tick)

	adapter := e.registry.Resolve(a.PolicyType)
	type res struct {
		d   llm.Decision
		err error
	}
	done := make(chan res, 1)
	go func() {
		d, err := adapter.Decide(ctx, obs)
		done <- res{d, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return llm.Fallback(obs, e.rngSource)
		}
		return r.d
	case <-ctx.Done():
		return llm.Fallback(obs, e.rngSource)
	}
}

// buildWorldSnapshot gathers the read-only slice every agent's observation
// is built from, fetched once per tick (spec.md §4.5 "WorldSnapshot").
func (e *Engine) buildWorldSnapshot(ctx context.Context, alive []*agents.Agent, tick uint64) (observation.WorldSnapshot, error) {
	spawns, err := e.store.GetAllResourceSpawns(ctx)
	if err != nil {
		return observation.WorldSnapshot{}, err
	}
	shelters, err := e.store.GetAllShelters(ctx)
	if err != nil {
		return observation.WorldSnapshot{}, err
	}
	recent := e.cache.RecentEvents()

	return observation.WorldSnapshot{
		AllAgents:      alive,
		ResourceSpawns: spawns,
		Shelters:       shelters,
		RecentEvents:   recent,
		WorldSize:      e.worldSize,
	}, nil
}

// applicationPhase runs each pair's handler in order, applying changes and
// appending events atomically per agent on success; on failure it emits
// action_failed and mutates nothing (spec.md §4.7 step 3).
func (e *Engine) applicationPhase(ctx context.Context, pairs []decisionPair, tick uint64) {
	deps := actions.Deps{Store: e.store}
	for _, pair := range pairs {
		actor := pair.agent
		if !actor.Alive() {
			continue
		}
		result := actions.Apply(ctx, deps, actor, pair.intent, tick)
		if !result.Success {
			e.appendEvent(ctx, tick, "action_failed", &actor.ID, map[string]any{
				"action": pair.intent.Action, "reason": result.Error,
			})
			continue
		}
		e.applyResult(ctx, tick, result)
	}
}

// applyResult commits one handler's proposed changes via UpdateAgent and
// appends its events in order, retrying storage failures once per agent
// before dropping the tick for that agent (spec.md §4.1 failure semantics).
func (e *Engine) applyResult(ctx context.Context, tick uint64, result actions.ActionResult) {
	for agentID, partial := range result.Changes {
		if err := e.updateAgentWithRetry(ctx, agentID, partial); err != nil {
			log.Error().Err(err).Str("agent", string(agentID)).Msg("dropping agent's tick: storage error")
			return
		}
	}
	for _, ev := range result.Events {
		e.appendEvent(ctx, tick, ev.Type, ev.AgentID, ev.Payload)
	}
	if m := result.Memory; m != nil {
		if err := e.store.InsertMemory(ctx, m.AgentID, tick, m.Content, m.Importance); err != nil {
			log.Error().Err(err).Str("agent", string(m.AgentID)).Msg("failed to store memory")
		}
	}
	if k := result.Knowledge; k != nil {
		referredBy := string(k.ReferredBy)
		rec := store.AgentKnowledge{
			AgentID: k.HolderID, SubjectID: k.SubjectID, DiscoveryType: k.DiscoveryType,
			ReferredBy: &referredBy, ReferralDepth: k.ReferralDepth,
			InfoType: k.InfoType, Sentiment: k.Sentiment, RecordedAtTick: tick,
		}
		if err := e.store.InsertKnowledge(ctx, rec); err != nil {
			log.Error().Err(err).Str("agent", string(k.HolderID)).Msg("failed to store knowledge")
		}
	}
}

// updateAgentWithRetry retries a storage failure exactly once before
// dropping the agent's tick (spec.md §4.1, §7 "Transient storage").
func (e *Engine) updateAgentWithRetry(ctx context.Context, id agents.ID, p store.PartialAgent) error {
	err := e.store.UpdateAgent(ctx, id, p)
	if err == nil {
		return nil
	}
	return e.store.UpdateAgent(ctx, id, p)
}

// appendEvent writes one event through the log, pushes it onto the
// projection cache, and publishes it to live subscribers.
func (e *Engine) appendEvent(ctx context.Context, tick uint64, eventType string, agentID *agents.ID, payload map[string]any) {
	version, err := e.log.Append(ctx, tick, eventType, agentID, payload)
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("failed to append event")
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte("{}")
	}
	evt := eventlog.Event{Version: version, Tick: tick, Type: eventType, AgentID: agentID, Payload: body}
	e.cache.OnEventAppended(ctx, evt)
	e.cache.Invalidate()
	e.broadcast.Publish(evt)
}

// environmentPhase runs regeneration, needs decay, and death checks for
// every resource spawn and alive agent (spec.md §4.7 step 4).
func (e *Engine) environmentPhase(ctx context.Context, tick uint64) {
	if err := e.store.RegenerateResources(ctx); err != nil {
		log.Error().Err(err).Msg("environment phase: regen failed")
	}

	alive, err := e.store.GetAliveAgents(ctx)
	if err != nil {
		log.Error().Err(err).Msg("environment phase: reload agents failed")
		return
	}

	for _, a := range alive {
		e.decayOne(ctx, tick, a)
	}
}

// decayOne applies needs decay and death checks to a single agent
// (spec.md §4.7 step 4, §4.6 "dead is terminal").
func (e *Engine) decayOne(ctx context.Context, tick uint64, a *agents.Agent) {
	newHunger := clampF(a.Hunger-tuning.HungerDecayPerTick, 0, 100)
	newEnergy := clampF(a.Energy-tuning.EnergyDecayPerTick, 0, 100)
	newHealth := a.Health
	newState := a.State

	if a.State == agents.StateSleeping && tick >= a.SleepUntilTick {
		newState = agents.StateIdle
	}

	var cause string
	if newHunger <= 0 || newEnergy <= 0 {
		newHealth = clampF(a.Health-tuning.BleedPerTick, 0, 100)
		if newHunger <= 0 {
			cause = "starvation"
		} else {
			cause = "exhaustion"
		}
	}

	partial := store.PartialAgent{Hunger: &newHunger, Energy: &newEnergy, Health: &newHealth}
	var diedAt *uint64
	if newHealth <= 0 {
		dead := agents.StateDead
		newState = dead
		t := tick
		diedAt = &t
		partial.State = &newState
		partial.DiedAt = diedAt
	} else if newState != a.State {
		partial.State = &newState
	}

	if err := e.updateAgentWithRetry(ctx, a.ID, partial); err != nil {
		log.Error().Err(err).Str("agent", string(a.ID)).Msg("environment phase: update failed")
		return
	}

	e.appendEvent(ctx, tick, "needs_updated", &a.ID, map[string]any{
		"hunger": newHunger, "energy": newEnergy, "health": newHealth,
	})
	if diedAt != nil {
		e.appendEvent(ctx, tick, "agent_died", &a.ID, map[string]any{"cause": cause, "tick": tick})
	}
}

// commitTick advances currentTick and checks for experiment-variant
// completion. A failure here aborts the tick without advancing the
// counter and pauses the engine (spec.md §7 "Fatal storage").
func (e *Engine) commitTick(ctx context.Context, tick uint64) error {
	if err := e.store.AdvanceTick(ctx, tick); err != nil {
		e.mu.Lock()
		e.state = StatePaused
		e.mu.Unlock()
		return fmt.Errorf("commit phase: advance tick: %w", err)
	}
	e.appendEvent(ctx, tick, "tick_end", nil, map[string]any{"tick": tick})

	e.mu.Lock()
	exp := e.experiment
	onComplete := e.onComplete
	onTick := e.onTick
	e.mu.Unlock()
	if onTick != nil {
		onTick(ctx, tick)
	}
	if exp != nil && tick-exp.StartTick >= exp.DurationTicks && onComplete != nil {
		onComplete(ctx, tick)
	}
	return nil
}

// ApplyExternalIntent runs intent through the action pipeline for one
// externally-controlled agent outside the tick loop, applying changes and
// appending events exactly as the application phase does (spec.md §4.9
// "dispatches through the same action pipeline as internal agents").
func (e *Engine) ApplyExternalIntent(ctx context.Context, agentID agents.ID, intent llm.Decision) (actions.ActionResult, error) {
	actor, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return actions.ActionResult{}, err
	}
	ws, err := e.store.GetWorldState(ctx)
	if err != nil {
		return actions.ActionResult{}, err
	}

	deps := actions.Deps{Store: e.store}
	result := actions.Apply(ctx, deps, actor, intent, ws.CurrentTick)
	if !result.Success {
		// Unlike the tick engine's internal application phase, a rejected
		// external decide() never happened from the world's point of view —
		// the caller gets the failure synchronously over HTTP, so no
		// action_failed event is appended (spec.md §8 scenario 4: self-target
		// harm -> 400, no event).
		return result, nil
	}
	e.applyResult(ctx, ws.CurrentTick, result)
	return result, nil
}

// BuildObservation returns the current observation for a single agent,
// used by the External Agent Gateway's observe() call (spec.md §4.9).
func (e *Engine) BuildObservation(ctx context.Context, agentID agents.ID) (observation.Observation, error) {
	actor, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return observation.Observation{}, err
	}
	alive, err := e.store.GetAliveAgents(ctx)
	if err != nil {
		return observation.Observation{}, err
	}
	ws, err := e.store.GetWorldState(ctx)
	if err != nil {
		return observation.Observation{}, err
	}
	snap, err := e.buildWorldSnapshot(ctx, alive, ws.CurrentTick)
	if err != nil {
		return observation.Observation{}, err
	}
	inv, err := e.store.GetInventory(ctx, agentID)
	if err != nil {
		inv = agents.Inventory{}
	}
	return observation.Build(e.cfg.Observation, actor, inv, snap, ws.CurrentTick), nil
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
