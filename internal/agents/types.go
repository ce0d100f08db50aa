// Package agents provides the agent data model: vitals, inventory,
// cognition policy type, and the bounded memory stream used as LLM
// decision context.
//
// Grounded on the teacher's internal/agents/types.go, generalized from the
// teacher's Maslow-needs/soul-coherence model to the simpler vitals model
// spec.md §3 specifies (hunger/energy/health/balance). needs.go, soul.go,
// archetype.go, behavior.go, and spawner.go are superseded by this file
// plus the actions and engine packages — see DESIGN.md.
package agents

import "github.com/talgya/crossworlds/internal/world"

// ID uniquely identifies an agent.
type ID string

// State is the agent's current activity, spec.md §4.6.
type State string

const (
	StateIdle     State = "idle"
	StateWalking  State = "walking"
	StateWorking  State = "working"
	StateSleeping State = "sleeping"
	StateDead     State = "dead"
)

// Personality is an optional pair of traits, trimmed from the teacher's
// richer archetype/soul model to two axes. It is carried on the Agent only:
// the prompt builder, the fallback ladder and the action handlers do not
// read it, and it is not persisted by the store.
type Personality struct {
	RiskTolerance float64 `json:"riskTolerance"` // 0..1 — willingness to harm/steal/deceive
	Sociability   float64 `json:"sociability"`   // 0..1 — propensity to share_info/trade
}

// Memory records a notable experience for use as LLM decision context.
// Grounded on the teacher's internal/agents/memory.go.
type Memory struct {
	Tick       uint64  `json:"tick"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}

// MaxMemories bounds the memory stream; lowest-importance entries are
// evicted once full (internal/agents/memory.go).
const MaxMemories = 50

// Knowledge is what an agent knows about another agent, propagated through
// share_info. ReferralDepth is 0 for directly-observed knowledge and
// increments by one hop for each referral (spec.md §4.6, GLOSSARY).
type Knowledge struct {
	SubjectID      ID      `json:"subjectId"`
	DiscoveryType  string  `json:"discoveryType"` // "direct" | "referral"
	ReferredBy     ID      `json:"referredBy,omitempty"`
	ReferralDepth  int     `json:"referralDepth"`
	InfoType       string  `json:"infoType"`
	Sentiment      float64 `json:"sentiment,omitempty"`
	RecordedAtTick uint64  `json:"recordedAtTick"`
}

// Agent is the core simulated entity.
type Agent struct {
	ID         ID     `json:"id" db:"id"`
	PolicyType string `json:"policyType" db:"policy_type"`

	X int `json:"x" db:"x"`
	Y int `json:"y" db:"y"`

	Hunger  float64 `json:"hunger" db:"hunger"`
	Energy  float64 `json:"energy" db:"energy"`
	Health  float64 `json:"health" db:"health"`
	Balance int64   `json:"balance" db:"balance"`

	State State  `json:"state" db:"state"`
	Color string `json:"color" db:"color"`

	Personality *Personality `json:"personality,omitempty" db:"-"`

	DiedAt *uint64 `json:"diedAt,omitempty" db:"died_at"`

	// SleepUntilTick is set while State == StateSleeping; the agent
	// returns to idle once currentTick reaches it (spec.md §4.6).
	SleepUntilTick uint64 `json:"sleepUntilTick,omitempty" db:"sleep_until_tick"`

	Memories  []Memory           `json:"memories,omitempty" db:"-"`
	Knowledge map[ID][]Knowledge `json:"-" db:"-"` // about-agent id -> accumulated knowledge records

	SpawnIndex int `json:"-" db:"spawn_index"`
}

// Position returns the agent's grid cell.
func (a *Agent) Position() world.Position { return world.Position{X: a.X, Y: a.Y} }

// Alive reports whether the agent has not transitioned to dead.
func (a *Agent) Alive() bool { return a.State != StateDead && a.DiedAt == nil }

// AddMemory appends a memory, evicting the lowest-importance entry once the
// stream is full — identical policy to internal/agents/memory.go.
func (a *Agent) AddMemory(tick uint64, content string, importance float64) {
	m := Memory{Tick: tick, Content: content, Importance: importance}
	if len(a.Memories) < MaxMemories {
		a.Memories = append(a.Memories, m)
		return
	}
	minIdx := 0
	for i := 1; i < len(a.Memories); i++ {
		if a.Memories[i].Importance < a.Memories[minIdx].Importance {
			minIdx = i
		}
	}
	if m.Importance > a.Memories[minIdx].Importance {
		a.Memories[minIdx] = m
	}
}

// RecordKnowledge appends a knowledge record about subjectID to the
// agent's knowledge map, used by share_info propagation (spec.md §4.6).
func (a *Agent) RecordKnowledge(k Knowledge) {
	if a.Knowledge == nil {
		a.Knowledge = make(map[ID][]Knowledge)
	}
	a.Knowledge[k.SubjectID] = append(a.Knowledge[k.SubjectID], k)
}

// Inventory maps a display item type to a quantity. Created on first
// deposit, removed at quantity 0 (spec.md §3).
type Inventory map[string]int

// Add increases qty of itemType, creating the entry if absent.
func (inv Inventory) Add(itemType string, qty int) {
	inv[itemType] += qty
}

// Remove decreases qty of itemType, deleting the entry if it reaches zero.
// Returns false if the inventory doesn't hold enough.
func (inv Inventory) Remove(itemType string, qty int) bool {
	if inv[itemType] < qty {
		return false
	}
	inv[itemType] -= qty
	if inv[itemType] <= 0 {
		delete(inv, itemType)
	}
	return true
}
