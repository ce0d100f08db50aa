// Package actions implements the Action Pipeline's per-action handlers:
// move, gather, consume, sleep, work, buy, trade, harm, steal, deceive,
// share_info, claim, and name_location (spec.md §4.6).
//
// Each handler validates its intent's preconditions, applies effects
// through the World Store's atomic primitives (harvestResource,
// inventory add/remove), and returns an ActionResult the tick engine
// commits — the same shape as the teacher's internal/engine/crime.go and
// market.go functions, which read simulation state, mutated agents
// in-place, and returned nothing; here the mutation is expressed as a
// returned Changes map so the tick engine can apply it atomically per
// agent (spec.md §3 "Ownership").
package actions

import (
	"context"
	"fmt"
	"math"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/llm"
	"github.com/talgya/crossworlds/internal/store"
	"github.com/talgya/crossworlds/internal/tuning"
)

// EventSpec describes one event a handler wants appended on success.
type EventSpec struct {
	Type    string
	AgentID *agents.ID
	Payload map[string]any
}

// MemoryNote is an "action" memory the handler wants stored at the
// actor's cell, per spec.md §4.6 Gather's "store an action memory".
type MemoryNote struct {
	AgentID    agents.ID
	Content    string
	Importance float64
}

// KnowledgeNote is a knowledge record share_info propagates to the
// listener's record of the subject, tagging referral depth relative to the
// sharer's own knowledge of that subject (spec.md §4.6 "Social actions").
type KnowledgeNote struct {
	HolderID      agents.ID // the listener who now holds this knowledge
	SubjectID     agents.ID
	DiscoveryType string // "direct" | "referral"
	ReferredBy    agents.ID
	ReferralDepth int
	InfoType      string
	Sentiment     float64
}

// ActionResult is what every handler returns. The tick engine applies
// Changes via store.UpdateAgent and appends Events atomically per agent
// on Success; on failure it emits action_failed{reason} and mutates
// nothing (spec.md §4.6, §4.7 step 3).
type ActionResult struct {
	Success   bool
	Error     string
	Changes   map[agents.ID]store.PartialAgent
	Events    []EventSpec
	Memory    *MemoryNote
	Knowledge *KnowledgeNote
}

func fail(reason string) ActionResult {
	return ActionResult{Success: false, Error: reason}
}

// Deps bundles the collaborators a handler needs beyond the actor and its
// intent: the store for atomic primitives and target lookups. Conflict
// actions take their witness radius from tuning.WitnessRadius, not from Deps.
type Deps struct {
	Store *store.Store
}

// Apply dispatches intent to its handler for actor at tick T. It is the
// single entrypoint the tick engine's application phase calls per
// (agent, intent) pair (spec.md §4.7 step 3).
func Apply(ctx context.Context, deps Deps, actor *agents.Agent, intent llm.Decision, tick uint64) ActionResult {
	switch intent.Action {
	case llm.ActionMove:
		return applyMove(ctx, deps, actor, intent)
	case llm.ActionGather:
		return applyGather(ctx, deps, actor, intent, tick)
	case llm.ActionConsume:
		return applyConsume(ctx, deps, actor, intent)
	case llm.ActionSleep:
		return applySleep(actor, intent, tick)
	case llm.ActionWork:
		return applyWork(ctx, deps, actor, intent)
	case llm.ActionBuy:
		return applyBuy(ctx, deps, actor, intent)
	case llm.ActionTrade:
		return applyTrade(ctx, deps, actor, intent)
	case llm.ActionHarm:
		return applyHarm(ctx, deps, actor, intent, tick)
	case llm.ActionSteal:
		return applySteal(ctx, deps, actor, intent, tick)
	case llm.ActionDeceive:
		return applyDeceive(ctx, deps, actor, intent, tick)
	case llm.ActionShareInfo:
		return applyShareInfo(ctx, deps, actor, intent, tick)
	case llm.ActionClaim:
		return applyClaim(ctx, deps, actor, intent)
	case llm.ActionNameLocation:
		return applyNameLocation(actor, intent)
	default:
		return fail(fmt.Sprintf("unknown action %q", intent.Action))
	}
}

// effectiveCost applies the progressive vitals penalty multiplier to a
// base energy cost: ceil(base * multiplier) (spec.md §4.6).
func effectiveCost(base float64, actor *agents.Agent) float64 {
	mult := tuning.VitalsPenaltyMultiplier(actor.Hunger, actor.Energy)
	return math.Ceil(base * mult)
}

func intParam(intent llm.Decision, key string, def int) int {
	v, ok := intent.Params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return def
}

func stringParam(intent llm.Decision, key string, def string) string {
	v, ok := intent.Params[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func floatParam(intent llm.Decision, key string, def float64) float64 {
	v, ok := intent.Params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return def
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
