// Package genesis specifies the meta-generation step that runs once
// before a simulation starts: turning a small brief into a concrete
// agent roster. spec.md §1 calls out Genesis as interface-only ("LLM
// meta-generation of agent specs ... specified only at the interface
// level"), so this package defines the contract and a cached wrapper
// around it rather than a prompt-engineered implementation.
//
// Grounded on the teacher's internal/llm/archetypes.go and biography.go
// (Haiku calls that produce structured JSON describing agents), reduced
// here to the interface those two concrete generators would implement,
// plus the write-through cache the teacher never had but spec.md §6's KV
// layout calls for ("genesis-cache:<policyType>:<hash>").
package genesis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/talgya/crossworlds/internal/projection"
	"github.com/talgya/crossworlds/internal/spawn"
)

// Brief is the small input a Generator expands into a concrete roster:
// how many agents of which policy type, and any free-form guidance.
type Brief struct {
	PolicyType string `json:"policyType"`
	Count      int    `json:"count"`
	Guidance   string `json:"guidance,omitempty"`
}

// Generator turns a Brief into concrete agent specs. Real implementations
// (an LLM meta-generation call) live outside this module's scope — only
// the contract and a deterministic stand-in are provided here.
type Generator interface {
	Generate(ctx context.Context, brief Brief) ([]spawn.AgentSpec, error)
}

// DeterministicGenerator produces a roster without any LLM call: count
// copies of policyType with palette colors cycled in order. It does no
// I/O and is always available, like the fallback ladder on the per-tick
// decision path (spec.md §4.4). Neither cmd/worldsim nor the Experiment
// Controller calls it; callers construct it themselves.
type DeterministicGenerator struct{}

func (DeterministicGenerator) Generate(_ context.Context, brief Brief) ([]spawn.AgentSpec, error) {
	out := make([]spawn.AgentSpec, brief.Count)
	for i := range out {
		out[i] = spawn.AgentSpec{
			PolicyType: brief.PolicyType,
			Color:      spawn.DefaultAgentPalette[i%len(spawn.DefaultAgentPalette)],
		}
	}
	return out, nil
}

// CachingGenerator wraps a Generator with the genesis response cache:
// identical briefs resolve to the same roster without repeating the
// (possibly LLM-backed) call underneath.
type CachingGenerator struct {
	Inner  Generator
	Cache  *projection.Cache
	Prefix string // e.g. "genesis-cache"; set by the caller, no environment variable reads it
	TTL    time.Duration
}

// Generate checks the cache under a fingerprint of brief before delegating
// to Inner, and writes the result through on a miss.
func (g CachingGenerator) Generate(ctx context.Context, brief Brief) ([]spawn.AgentSpec, error) {
	key := fingerprint(brief)
	if cached, ok := g.Cache.GetGenesisResult(ctx, g.Prefix, key); ok {
		var specs []spawn.AgentSpec
		if err := json.Unmarshal(cached, &specs); err == nil {
			return specs, nil
		}
	}

	specs, err := g.Inner.Generate(ctx, brief)
	if err != nil {
		return nil, err
	}

	if body, err := json.Marshal(specs); err == nil {
		_ = g.Cache.PutGenesisResult(ctx, g.Prefix, key, g.TTL, body)
	}
	return specs, nil
}

func fingerprint(brief Brief) string {
	body, _ := json.Marshal(brief)
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
