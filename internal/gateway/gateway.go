// Package gateway implements the External Agent Gateway: register/observe/
// decide/deregister for remotely-controlled agents that are dispatched
// through the same action pipeline as internally-decided ones (spec.md
// §4.9).
//
// Grounded on the teacher's internal/api/ratelimit.go (IP-bucketed
// fixed-window counters guarding the HTTP layer), generalized here to one
// burst-1 golang.org/x/time/rate Limiter per external agent, reset every
// committed tick via the engine's tick hook rather than a fixed refill
// rate — an external agent gets exactly one decide() per tick, not a
// steady-state quota. Observe and Decide call straight into
// internal/engine/tick.go's BuildObservation and ApplyExternalIntent, the
// same entry points spec.md §4.9 says a gateway call must use; Deregister
// updates the store directly.
package gateway

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/apperrors"
	"github.com/talgya/crossworlds/internal/engine"
	"github.com/talgya/crossworlds/internal/llm"
	"github.com/talgya/crossworlds/internal/observation"
	"github.com/talgya/crossworlds/internal/rng"
	"github.com/talgya/crossworlds/internal/store"
	"github.com/talgya/crossworlds/internal/world"
)

// defaultStartBalance mirrors spawn.Populate's default for agents that
// don't specify one at registration time.
const defaultStartBalance = 50

// RegisterRequest is the input to Register (spec.md §4.9 register).
type RegisterRequest struct {
	Name          string
	Endpoint      string
	OwnerEmail    string
	SpawnPosition *world.Position
}

// RegisterResult carries the newly minted agent id and the raw API key.
// The key is returned exactly once; only its hash is persisted.
type RegisterResult struct {
	AgentID agents.ID
	APIKey  string
}

// DecideRequest is the body of an external decide() call.
type DecideRequest struct {
	Action    string
	Params    map[string]any
	Reasoning string
}

// Gateway mediates all HTTP-facing traffic for externally-controlled
// agents. One Gateway is bound to one engine/store pair, the same
// one-engine-one-world scoping the rest of the simulation uses.
type Gateway struct {
	store  *store.Store
	engine *engine.Engine
	rng    *rng.Source

	mu       sync.Mutex
	limiters map[agents.ID]*rate.Limiter
}

// New constructs a Gateway and registers its tick-reset hook on eng. Only
// one Gateway may be bound to a given engine, since SetTickHook holds a
// single callback slot.
func New(st *store.Store, eng *engine.Engine, src *rng.Source) *Gateway {
	g := &Gateway{store: st, engine: eng, rng: src, limiters: make(map[agents.ID]*rate.Limiter)}
	eng.SetTickHook(g.resetLimiters)
	return g
}

// resetLimiters replaces every tracked external agent's limiter with a
// fresh burst-1 one, giving each external agent exactly one decide() call
// for the tick that just started (spec.md §4.9, §4.7 step 5).
func (g *Gateway) resetLimiters(_ context.Context, _ uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id := range g.limiters {
		g.limiters[id] = rate.NewLimiter(rate.Limit(0), 1)
	}
}

func (g *Gateway) limiterFor(id agents.ID) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Limit(0), 1)
		g.limiters[id] = l
	}
	return l
}

// Register creates a simulation agent bound to an external controller and
// mints its API key. The raw key is never stored — only its hash (spec.md
// §4.9 register).
func (g *Gateway) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	pos := req.SpawnPosition
	if pos == nil {
		ws := g.engine.WorldSize()
		p := world.Position{X: g.rng.Intn(ws.X), Y: g.rng.Intn(ws.Y)}
		pos = &p
	}

	spawnIndex, err := g.store.CountAgents(ctx)
	if err != nil {
		return RegisterResult{}, err
	}

	agentID := agents.ID(uuid.NewString())
	a := &agents.Agent{
		ID:         agentID,
		PolicyType: "external",
		X:          pos.X,
		Y:          pos.Y,
		Hunger:     100,
		Energy:     100,
		Health:     100,
		Balance:    defaultStartBalance,
		State:      agents.StateIdle,
		Color:      "#ffffff",
		SpawnIndex: spawnIndex,
	}
	if err := g.store.InsertAgent(ctx, a); err != nil {
		return RegisterResult{}, err
	}

	apiKey, keyHash, err := generateAPIKey()
	if err != nil {
		return RegisterResult{}, apperrors.Fatal("generate api key", err)
	}

	var endpoint, owner *string
	if req.Endpoint != "" {
		endpoint = &req.Endpoint
	}
	if req.OwnerEmail != "" {
		owner = &req.OwnerEmail
	}
	ext := store.ExternalAgent{
		ID:               string(agentID),
		AgentID:          agentID,
		APIKeyHash:       keyHash,
		Endpoint:         endpoint,
		OwnerEmail:       owner,
		RateLimitPerTick: 1,
		IsActive:         true,
	}
	if err := g.store.InsertExternalAgent(ctx, ext); err != nil {
		return RegisterResult{}, err
	}

	g.limiterFor(agentID)
	return RegisterResult{AgentID: agentID, APIKey: apiKey}, nil
}

// authenticate loads the external agent bound to agentID and verifies
// apiKey against its stored hash, returning the standardized protocol
// errors spec.md §4.9 calls for.
func (g *Gateway) authenticate(ctx context.Context, agentID agents.ID, apiKey string) (*store.ExternalAgent, error) {
	ext, err := g.store.GetExternalAgent(ctx, string(agentID))
	if err != nil {
		return nil, apperrors.Protocol(404, "unknown agent")
	}
	if !ext.IsActive {
		return nil, apperrors.Protocol(403, "agent deregistered")
	}
	if apiKey == "" || subtle.ConstantTimeCompare([]byte(hashKey(apiKey)), []byte(ext.APIKeyHash)) != 1 {
		return nil, apperrors.Protocol(401, "invalid api key")
	}
	return ext, nil
}

// Observe returns the current observation for an authenticated external
// agent (spec.md §4.9 observe).
func (g *Gateway) Observe(ctx context.Context, agentID agents.ID, apiKey string) (observation.Observation, error) {
	ext, err := g.authenticate(ctx, agentID, apiKey)
	if err != nil {
		return observation.Observation{}, err
	}

	actor, err := g.store.GetAgent(ctx, agentID)
	if err != nil {
		return observation.Observation{}, apperrors.Protocol(404, "agent not found")
	}
	if !actor.Alive() {
		return observation.Observation{}, apperrors.Protocol(410, "agent is dead")
	}

	obs, err := g.engine.BuildObservation(ctx, agentID)
	if err != nil {
		return observation.Observation{}, err
	}
	_ = g.store.TouchExternalAgent(ctx, ext.ID, time.Now())
	return obs, nil
}

// Decide validates and dispatches one external decision through the same
// action pipeline internal agents use, rate-limited to one call per
// committed tick (spec.md §4.9 decide).
func (g *Gateway) Decide(ctx context.Context, agentID agents.ID, apiKey string, req DecideRequest) (llm.Decision, error) {
	ext, err := g.authenticate(ctx, agentID, apiKey)
	if err != nil {
		return llm.Decision{}, err
	}

	actor, err := g.store.GetAgent(ctx, agentID)
	if err != nil {
		return llm.Decision{}, apperrors.Protocol(404, "agent not found")
	}
	if !actor.Alive() {
		return llm.Decision{}, apperrors.Protocol(410, "agent is dead")
	}

	if !g.limiterFor(agentID).Allow() {
		return llm.Decision{}, apperrors.Protocol(429, "one decide() per tick")
	}

	decision := llm.Decision{
		Action:    llm.ActionType(req.Action),
		Params:    req.Params,
		Reasoning: req.Reasoning,
	}
	result, err := g.engine.ApplyExternalIntent(ctx, agentID, decision)
	if err != nil {
		return llm.Decision{}, err
	}
	if !result.Success {
		return llm.Decision{}, apperrors.Validation(result.Error)
	}
	_ = g.store.TouchExternalAgent(ctx, ext.ID, time.Now())
	return decision, nil
}

// Deregister marks the simulation agent dead and its external registration
// inactive (spec.md §4.9 deregister).
func (g *Gateway) Deregister(ctx context.Context, agentID agents.ID, apiKey string) error {
	ext, err := g.authenticate(ctx, agentID, apiKey)
	if err != nil {
		return err
	}

	dead := agents.StateDead
	if err := g.store.UpdateAgent(ctx, agentID, store.PartialAgent{State: &dead}); err != nil {
		return err
	}
	if err := g.store.DeactivateExternalAgent(ctx, ext.ID); err != nil {
		return err
	}

	g.mu.Lock()
	delete(g.limiters, agentID)
	g.mu.Unlock()
	return nil
}

func generateAPIKey() (raw string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(buf)
	return raw, hashKey(raw), nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
