// Package store provides the World Store: the single transactional owner
// of agents, resource spawns, shelters, inventories, and the singleton
// world state. No other component mutates these entities directly —
// action handlers return proposed changes that the tick engine applies
// here (spec.md §3 "Ownership", §4.1).
//
// Grounded on the teacher's internal/persistence/db.go (sqlx +
// modernc.org/sqlite), replacing its settlement/faction/soul schema with
// the flatter agent/resource-spawn/shelter/inventory schema this spec's
// data model calls for, and adding the atomic harvestResource primitive
// the teacher's design never needed.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/apperrors"
	"github.com/talgya/crossworlds/internal/eventlog"
	"github.com/talgya/crossworlds/internal/world"
)

// WorldState is the store's singleton row.
type WorldState struct {
	CurrentTick       uint64 `db:"current_tick"`
	IsPaused          bool   `db:"is_paused"`
	GlobalEventVersion uint64 `db:"global_event_version"`
}

// PartialAgent carries only the fields a handler wants to change. Nil
// pointers are left untouched; UpdateAgent applies fields last-writer-wins
// within the same tick (spec.md §4.1).
type PartialAgent struct {
	X, Y           *int
	Hunger         *float64
	Energy         *float64
	Health         *float64
	Balance        *int64
	State          *agents.State
	DiedAt         *uint64
	SleepUntilTick *uint64
}

// Store wraps a SQLite connection guarding the World Store tables. A
// per-agent mutex map serializes UpdateAgent calls so partial updates
// within the same tick apply in a well-defined order (spec.md §5).
type Store struct {
	db *sqlx.DB

	agentLocksMu sync.Mutex
	agentLocks   map[agents.ID]*sync.Mutex

	// resourceMu guards harvestResource's compare-and-decrement so two
	// concurrent gathers on the same spawn never over-grant.
	resourceMu sync.Mutex
}

// Open opens or creates a SQLite database at path and runs migrations for
// both the store's own tables and the event log's table.
func Open(path string) (*Store, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &Store{db: conn, agentLocks: make(map[agents.ID]*sync.Mutex)}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := eventlog.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying connection for packages (eventlog) that share
// it, matching the teacher's single-connection design.
func (s *Store) DB() *sqlx.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		policy_type TEXT NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		hunger REAL NOT NULL,
		energy REAL NOT NULL,
		health REAL NOT NULL,
		balance INTEGER NOT NULL,
		state TEXT NOT NULL,
		color TEXT NOT NULL,
		died_at INTEGER,
		sleep_until_tick INTEGER NOT NULL DEFAULT 0,
		spawn_index INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS resource_spawns (
		id TEXT PRIMARY KEY,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		kind TEXT NOT NULL,
		current_amount REAL NOT NULL,
		max_amount REAL NOT NULL,
		regen_rate REAL NOT NULL,
		biome TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shelters (
		id TEXT PRIMARY KEY,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		can_sleep INTEGER NOT NULL,
		owner_agent TEXT
	);

	CREATE TABLE IF NOT EXISTS inventories (
		agent_id TEXT NOT NULL,
		item_type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		PRIMARY KEY (agent_id, item_type)
	);

	CREATE TABLE IF NOT EXISTS world_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		current_tick INTEGER NOT NULL,
		is_paused INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS external_agents (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		api_key_hash TEXT NOT NULL,
		endpoint TEXT,
		owner_email TEXT,
		rate_limit_per_tick INTEGER NOT NULL,
		last_seen_at TIMESTAMP,
		is_active INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS experiments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS variants (
		id TEXT PRIMARY KEY,
		experiment_id TEXT NOT NULL,
		status TEXT NOT NULL,
		world_seed INTEGER NOT NULL,
		duration_ticks INTEGER NOT NULL,
		config_overrides TEXT NOT NULL,
		agent_configs TEXT NOT NULL,
		start_tick INTEGER,
		end_tick INTEGER,
		sequence INTEGER NOT NULL,
		result_snapshot TEXT
	);

	CREATE TABLE IF NOT EXISTS agent_memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		content TEXT NOT NULL,
		importance REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agent_knowledge (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		discovery_type TEXT NOT NULL,
		referred_by TEXT,
		referral_depth INTEGER NOT NULL,
		info_type TEXT NOT NULL,
		sentiment REAL NOT NULL,
		recorded_at_tick INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_resource_spawns_pos ON resource_spawns(x, y);
	CREATE INDEX IF NOT EXISTS idx_shelters_pos ON shelters(x, y);
	CREATE INDEX IF NOT EXISTS idx_agents_alive ON agents(state);
	CREATE INDEX IF NOT EXISTS idx_variants_experiment ON variants(experiment_id, sequence);
	CREATE INDEX IF NOT EXISTS idx_agent_memories_agent ON agent_memories(agent_id, id);
	CREATE INDEX IF NOT EXISTS idx_agent_knowledge_lookup ON agent_knowledge(agent_id, subject_id, id);
	`)
	return err
}

func (s *Store) lockFor(id agents.ID) *sync.Mutex {
	s.agentLocksMu.Lock()
	defer s.agentLocksMu.Unlock()
	m, ok := s.agentLocks[id]
	if !ok {
		m = &sync.Mutex{}
		s.agentLocks[id] = m
	}
	return m
}

// GetAliveAgents returns every agent whose state is not dead, ordered by
// spawn index then id — the deterministic order the tick engine requires.
func (s *Store) GetAliveAgents(ctx context.Context) ([]*agents.Agent, error) {
	var rows []agents.Agent
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, policy_type, x, y, hunger, energy, health, balance, state, color, died_at, sleep_until_tick, spawn_index
		 FROM agents WHERE state != 'dead' ORDER BY spawn_index ASC, id ASC`)
	if err != nil {
		return nil, apperrors.NewStorageError("store.GetAliveAgents", err)
	}
	out := make([]*agents.Agent, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// CountAgents returns the total number of agents ever created, used to
// assign a trailing spawn index to agents registered after world start
// (the External Agent Gateway's register, spec.md §4.9).
func (s *Store) CountAgents(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM agents`)
	if err != nil {
		return 0, apperrors.NewStorageError("store.CountAgents", err)
	}
	return n, nil
}

// GetAgent fetches a single agent by id.
func (s *Store) GetAgent(ctx context.Context, id agents.ID) (*agents.Agent, error) {
	var a agents.Agent
	err := s.db.GetContext(ctx, &a,
		`SELECT id, policy_type, x, y, hunger, energy, health, balance, state, color, died_at, sleep_until_tick, spawn_index
		 FROM agents WHERE id = ?`, id)
	if err != nil {
		return nil, apperrors.NewStorageError("store.GetAgent", err)
	}
	return &a, nil
}

// GetResourceSpawnsAtPosition returns every resource spawn at (x, y).
func (s *Store) GetResourceSpawnsAtPosition(ctx context.Context, x, y int) ([]world.ResourceSpawn, error) {
	var rows []world.ResourceSpawn
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, x, y, kind, current_amount, max_amount, regen_rate, biome FROM resource_spawns WHERE x = ? AND y = ?`,
		x, y)
	if err != nil {
		return nil, apperrors.NewStorageError("store.GetResourceSpawnsAtPosition", err)
	}
	return rows, nil
}

// GetAllResourceSpawns returns every resource spawn in the world, used by
// the Observation Builder's per-tick world snapshot (spec.md §4.5).
func (s *Store) GetAllResourceSpawns(ctx context.Context) ([]world.ResourceSpawn, error) {
	var rows []world.ResourceSpawn
	err := s.db.SelectContext(ctx, &rows, `SELECT id, x, y, kind, current_amount, max_amount, regen_rate, biome FROM resource_spawns`)
	if err != nil {
		return nil, apperrors.NewStorageError("store.GetAllResourceSpawns", err)
	}
	return rows, nil
}

// GetAllShelters returns every shelter in the world.
func (s *Store) GetAllShelters(ctx context.Context) ([]world.Shelter, error) {
	var rows []world.Shelter
	err := s.db.SelectContext(ctx, &rows, `SELECT id, x, y, can_sleep, owner_agent FROM shelters`)
	if err != nil {
		return nil, apperrors.NewStorageError("store.GetAllShelters", err)
	}
	return rows, nil
}

// SetShelterOwner assigns ownership of a shelter — the only mutable field
// on an otherwise-immutable entity (spec.md §3).
func (s *Store) SetShelterOwner(ctx context.Context, shelterID string, owner agents.ID) error {
	ownerStr := string(owner)
	_, err := s.db.ExecContext(ctx, `UPDATE shelters SET owner_agent = ? WHERE id = ?`, ownerStr, shelterID)
	if err != nil {
		return apperrors.NewStorageError("store.SetShelterOwner", err)
	}
	return nil
}

// HarvestResource atomically decrements a spawn's currentAmount by at most
// wanted and returns the amount actually granted. Two concurrent calls
// never over-grant (spec.md §4.1).
func (s *Store) HarvestResource(ctx context.Context, spawnID string, wanted float64) (float64, error) {
	if wanted <= 0 {
		return 0, nil
	}
	s.resourceMu.Lock()
	defer s.resourceMu.Unlock()

	var current float64
	err := s.db.GetContext(ctx, &current, `SELECT current_amount FROM resource_spawns WHERE id = ?`, spawnID)
	if err != nil {
		return 0, apperrors.NewStorageError("store.HarvestResource.read", err)
	}
	if current <= 0 {
		return 0, nil
	}
	granted := wanted
	if current < wanted {
		granted = current
	}
	_, err = s.db.ExecContext(ctx, `UPDATE resource_spawns SET current_amount = current_amount - ? WHERE id = ?`, granted, spawnID)
	if err != nil {
		return 0, apperrors.NewStorageError("store.HarvestResource.write", err)
	}
	return granted, nil
}

// AddToInventory increases an agent's holding of itemType by qty, creating
// the row on first deposit.
func (s *Store) AddToInventory(ctx context.Context, agentID agents.ID, itemType string, qty int) error {
	lock := s.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inventories (agent_id, item_type, quantity) VALUES (?, ?, ?)
		 ON CONFLICT(agent_id, item_type) DO UPDATE SET quantity = quantity + excluded.quantity`,
		agentID, itemType, qty)
	if err != nil {
		return apperrors.NewStorageError("store.AddToInventory", err)
	}
	return nil
}

// RemoveFromInventory decreases an agent's holding of itemType by qty,
// deleting the row once quantity reaches zero. Returns false if the
// agent doesn't hold enough.
func (s *Store) RemoveFromInventory(ctx context.Context, agentID agents.ID, itemType string, qty int) (bool, error) {
	lock := s.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	var have int
	err := s.db.GetContext(ctx, &have,
		`SELECT quantity FROM inventories WHERE agent_id = ? AND item_type = ?`, agentID, itemType)
	if err != nil {
		return false, nil // no row means zero held — a precondition failure, not a storage error
	}
	if have < qty {
		return false, nil
	}
	remaining := have - qty
	if remaining <= 0 {
		_, err = s.db.ExecContext(ctx, `DELETE FROM inventories WHERE agent_id = ? AND item_type = ?`, agentID, itemType)
	} else {
		_, err = s.db.ExecContext(ctx, `UPDATE inventories SET quantity = ? WHERE agent_id = ? AND item_type = ?`, remaining, agentID, itemType)
	}
	if err != nil {
		return false, apperrors.NewStorageError("store.RemoveFromInventory", err)
	}
	return true, nil
}

// GetInventory returns an agent's full inventory.
func (s *Store) GetInventory(ctx context.Context, agentID agents.ID) (agents.Inventory, error) {
	type row struct {
		ItemType string `db:"item_type"`
		Quantity int    `db:"quantity"`
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `SELECT item_type, quantity FROM inventories WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, apperrors.NewStorageError("store.GetInventory", err)
	}
	inv := make(agents.Inventory, len(rows))
	for _, r := range rows {
		inv[r.ItemType] = r.Quantity
	}
	return inv, nil
}

// InsertMemory persists one action memory for agentID, the durable backing
// for agents.Agent.AddMemory (spec.md §4.6 gather handler: "store an action
// memory at the agent's cell").
func (s *Store) InsertMemory(ctx context.Context, agentID agents.ID, tick uint64, content string, importance float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_memories (agent_id, tick, content, importance) VALUES (?, ?, ?, ?)`,
		agentID, tick, content, importance)
	if err != nil {
		return apperrors.NewStorageError("store.InsertMemory", err)
	}
	return nil
}

// GetMemories returns an agent's most recent memories, newest first,
// bounded to MaxMemories entries (agents.MaxMemories).
func (s *Store) GetMemories(ctx context.Context, agentID agents.ID) ([]agents.Memory, error) {
	var rows []agents.Memory
	err := s.db.SelectContext(ctx,
		&rows, `SELECT tick, content, importance FROM agent_memories WHERE agent_id = ? ORDER BY id DESC LIMIT ?`,
		agentID, agents.MaxMemories)
	if err != nil {
		return nil, apperrors.NewStorageError("store.GetMemories", err)
	}
	return rows, nil
}

// InsertKnowledge records a knowledge entry agentID now holds about
// subjectID, the durable backing for agents.Agent.RecordKnowledge — used by
// share_info's referral-depth propagation (spec.md §4.6 "Social actions").
func (s *Store) InsertKnowledge(ctx context.Context, k AgentKnowledge) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_knowledge (agent_id, subject_id, discovery_type, referred_by, referral_depth, info_type, sentiment, recorded_at_tick)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		k.AgentID, k.SubjectID, k.DiscoveryType, k.ReferredBy, k.ReferralDepth, k.InfoType, k.Sentiment, k.RecordedAtTick)
	if err != nil {
		return apperrors.NewStorageError("store.InsertKnowledge", err)
	}
	return nil
}

// LatestKnowledge returns agentID's most recent knowledge record about
// subjectID, if any — used to compute the next hop's referral depth.
func (s *Store) LatestKnowledge(ctx context.Context, agentID, subjectID agents.ID) (*AgentKnowledge, error) {
	var k AgentKnowledge
	err := s.db.GetContext(ctx,
		&k, `SELECT agent_id, subject_id, discovery_type, referred_by, referral_depth, info_type, sentiment, recorded_at_tick
		     FROM agent_knowledge WHERE agent_id = ? AND subject_id = ? ORDER BY id DESC LIMIT 1`,
		agentID, subjectID)
	if err != nil {
		return nil, nil // no prior knowledge is not a storage error
	}
	return &k, nil
}

// AgentKnowledge is the persisted row backing agents.Knowledge, keyed by the
// holder (AgentID) and the agent it concerns (SubjectID).
type AgentKnowledge struct {
	AgentID       agents.ID `db:"agent_id"`
	SubjectID     agents.ID `db:"subject_id"`
	DiscoveryType string    `db:"discovery_type"`
	ReferredBy    *string   `db:"referred_by"`
	ReferralDepth int       `db:"referral_depth"`
	InfoType      string    `db:"info_type"`
	Sentiment     float64   `db:"sentiment"`
	RecordedAtTick uint64   `db:"recorded_at_tick"`
}

// UpdateAgent applies a partial update. Per-agent writes are serialized by
// the agent's lock, giving last-writer-wins semantics for concurrent
// callers within a tick (spec.md §4.1, §5).
func (s *Store) UpdateAgent(ctx context.Context, id agents.ID, p PartialAgent) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.getAgentLocked(ctx, id)
	if err != nil {
		return err
	}
	if p.X != nil {
		a.X = *p.X
	}
	if p.Y != nil {
		a.Y = *p.Y
	}
	if p.Hunger != nil {
		a.Hunger = *p.Hunger
	}
	if p.Energy != nil {
		a.Energy = *p.Energy
	}
	if p.Health != nil {
		a.Health = *p.Health
	}
	if p.Balance != nil {
		a.Balance = *p.Balance
	}
	if p.State != nil {
		a.State = *p.State
	}
	if p.DiedAt != nil {
		a.DiedAt = p.DiedAt
	}
	if p.SleepUntilTick != nil {
		a.SleepUntilTick = *p.SleepUntilTick
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE agents SET x=?, y=?, hunger=?, energy=?, health=?, balance=?, state=?, died_at=?, sleep_until_tick=? WHERE id=?`,
		a.X, a.Y, a.Hunger, a.Energy, a.Health, a.Balance, a.State, a.DiedAt, a.SleepUntilTick, id)
	if err != nil {
		return apperrors.NewStorageError("store.UpdateAgent", err)
	}
	return nil
}

func (s *Store) getAgentLocked(ctx context.Context, id agents.ID) (*agents.Agent, error) {
	var a agents.Agent
	err := s.db.GetContext(ctx, &a,
		`SELECT id, policy_type, x, y, hunger, energy, health, balance, state, color, died_at, sleep_until_tick, spawn_index
		 FROM agents WHERE id = ?`, id)
	if err != nil {
		return nil, apperrors.NewStorageError("store.getAgentLocked", err)
	}
	return &a, nil
}

// InsertAgent adds a newly spawned or genesis-created agent.
func (s *Store) InsertAgent(ctx context.Context, a *agents.Agent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, policy_type, x, y, hunger, energy, health, balance, state, color, died_at, sleep_until_tick, spawn_index)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PolicyType, a.X, a.Y, a.Hunger, a.Energy, a.Health, a.Balance, a.State, a.Color, a.DiedAt, a.SleepUntilTick, a.SpawnIndex)
	if err != nil {
		return apperrors.NewStorageError("store.InsertAgent", err)
	}
	return nil
}

// InsertResourceSpawn adds a resource spawn at world-init time.
func (s *Store) InsertResourceSpawn(ctx context.Context, r world.ResourceSpawn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resource_spawns (id, x, y, kind, current_amount, max_amount, regen_rate, biome) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.X, r.Y, r.Kind, r.CurrentAmount, r.MaxAmount, r.RegenRate, r.Biome)
	if err != nil {
		return apperrors.NewStorageError("store.InsertResourceSpawn", err)
	}
	return nil
}

// RegenerateResources applies the environment pass's regen step to every
// spawn: currentAmount = min(maxAmount, currentAmount + regenRate).
func (s *Store) RegenerateResources(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE resource_spawns SET current_amount = MIN(max_amount, current_amount + regen_rate)`)
	if err != nil {
		return apperrors.NewStorageError("store.RegenerateResources", err)
	}
	return nil
}

// InsertShelter adds a shelter at world-init time.
func (s *Store) InsertShelter(ctx context.Context, sh world.Shelter) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shelters (id, x, y, can_sleep, owner_agent) VALUES (?, ?, ?, ?, ?)`,
		sh.ID, sh.X, sh.Y, sh.CanSleep, sh.OwnerAgent)
	if err != nil {
		return apperrors.NewStorageError("store.InsertShelter", err)
	}
	return nil
}

// GetWorldState reads the singleton world state row.
func (s *Store) GetWorldState(ctx context.Context) (WorldState, error) {
	var ws WorldState
	err := s.db.GetContext(ctx, &ws, `SELECT current_tick, is_paused FROM world_state WHERE id = 1`)
	if err != nil {
		return WorldState{}, apperrors.NewStorageError("store.GetWorldState", err)
	}
	return ws, nil
}

// InitWorldState creates the singleton row if missing; idempotent.
func (s *Store) InitWorldState(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO world_state (id, current_tick, is_paused) VALUES (1, 0, 0) ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return apperrors.NewStorageError("store.InitWorldState", err)
	}
	return nil
}

// AdvanceTick sets currentTick, called exactly once per tick commit.
func (s *Store) AdvanceTick(ctx context.Context, tick uint64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE world_state SET current_tick = ? WHERE id = 1`, tick)
	if err != nil {
		return apperrors.NewStorageError("store.AdvanceTick", err)
	}
	return nil
}

// PauseWorld / ResumeWorld flip the singleton's isPaused flag.
func (s *Store) PauseWorld(ctx context.Context) error  { return s.setPaused(ctx, true) }
func (s *Store) ResumeWorld(ctx context.Context) error { return s.setPaused(ctx, false) }

func (s *Store) setPaused(ctx context.Context, paused bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE world_state SET is_paused = ? WHERE id = 1`, paused)
	if err != nil {
		return apperrors.NewStorageError("store.setPaused", err)
	}
	return nil
}

// ResetWorldData clears all entities but preserves store identity —
// InitWorldState must be called again afterward to recreate the singleton.
func (s *Store) ResetWorldData(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError("store.ResetWorldData", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM agents`,
		`DELETE FROM resource_spawns`,
		`DELETE FROM shelters`,
		`DELETE FROM inventories`,
		`DELETE FROM external_agents`,
		`DELETE FROM world_state`,
		`DELETE FROM events`,
		`DELETE FROM agent_memories`,
		`DELETE FROM agent_knowledge`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return apperrors.NewStorageError("store.ResetWorldData", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError("store.ResetWorldData", err)
	}
	return nil
}

// ExternalAgent is a gateway-registered remote controller bound to one
// simulation agent, keyed by a hashed API key (spec.md §4.9).
type ExternalAgent struct {
	ID               string     `json:"id" db:"id"`
	AgentID          agents.ID  `json:"agentId" db:"agent_id"`
	APIKeyHash       string     `json:"-" db:"api_key_hash"`
	Endpoint         *string    `json:"endpoint,omitempty" db:"endpoint"`
	OwnerEmail       *string    `json:"ownerEmail,omitempty" db:"owner_email"`
	RateLimitPerTick int        `json:"rateLimitPerTick" db:"rate_limit_per_tick"`
	LastSeenAt       *time.Time `json:"lastSeenAt,omitempty" db:"last_seen_at"`
	IsActive         bool       `json:"isActive" db:"is_active"`
}

// InsertExternalAgent registers a new external agent (spec.md §4.9 register).
func (s *Store) InsertExternalAgent(ctx context.Context, e ExternalAgent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO external_agents (id, agent_id, api_key_hash, endpoint, owner_email, rate_limit_per_tick, last_seen_at, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AgentID, e.APIKeyHash, e.Endpoint, e.OwnerEmail, e.RateLimitPerTick, e.LastSeenAt, e.IsActive)
	if err != nil {
		return apperrors.NewStorageError("store.InsertExternalAgent", err)
	}
	return nil
}

// GetExternalAgent fetches an external agent registration by its own id.
func (s *Store) GetExternalAgent(ctx context.Context, id string) (*ExternalAgent, error) {
	var e ExternalAgent
	err := s.db.GetContext(ctx, &e,
		`SELECT id, agent_id, api_key_hash, endpoint, owner_email, rate_limit_per_tick, last_seen_at, is_active
		 FROM external_agents WHERE id = ?`, id)
	if err != nil {
		return nil, apperrors.NewStorageError("store.GetExternalAgent", err)
	}
	return &e, nil
}

// TouchExternalAgent records the current time as the external agent's
// last-seen timestamp, called on every authenticated observe/decide call.
func (s *Store) TouchExternalAgent(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE external_agents SET last_seen_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return apperrors.NewStorageError("store.TouchExternalAgent", err)
	}
	return nil
}

// DeactivateExternalAgent marks the registration inactive (spec.md §4.9
// deregister) without deleting the row, preserving its id for audit reads.
func (s *Store) DeactivateExternalAgent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE external_agents SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return apperrors.NewStorageError("store.DeactivateExternalAgent", err)
	}
	return nil
}

// ExperimentStatus enumerates an experiment's or variant's lifecycle state
// (spec.md §3 "Experiment / Variant").
type ExperimentStatus string

const (
	ExperimentPlanning ExperimentStatus = "planning"
	ExperimentRunning  ExperimentStatus = "running"
	ExperimentDone     ExperimentStatus = "completed"
)

// Experiment groups a sequence of variants run one after another.
type Experiment struct {
	ID        string           `json:"id" db:"id"`
	Name      string           `json:"name" db:"name"`
	Status    ExperimentStatus `json:"status" db:"status"`
	CreatedAt time.Time        `json:"createdAt" db:"created_at"`
}

// Variant is one configured run of an experiment: its own seed, duration,
// and agent configuration (spec.md §3, §4.8).
type Variant struct {
	ID              string           `json:"id" db:"id"`
	ExperimentID    string           `json:"experimentId" db:"experiment_id"`
	Status          ExperimentStatus `json:"status" db:"status"`
	WorldSeed       int64            `json:"worldSeed" db:"world_seed"`
	DurationTicks   uint64           `json:"durationTicks" db:"duration_ticks"`
	ConfigOverrides string           `json:"configOverrides" db:"config_overrides"` // JSON object
	AgentConfigs    string           `json:"agentConfigs" db:"agent_configs"`       // JSON array
	StartTick       *uint64          `json:"startTick,omitempty" db:"start_tick"`
	EndTick         *uint64          `json:"endTick,omitempty" db:"end_tick"`
	Sequence        int              `json:"sequence" db:"sequence"`
	ResultSnapshot  *string          `json:"resultSnapshot,omitempty" db:"result_snapshot"` // JSON WorldSnapshot, set on completion
}

// InsertExperiment creates a new experiment in the planning state.
func (s *Store) InsertExperiment(ctx context.Context, e Experiment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO experiments (id, name, status, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.Name, e.Status, e.CreatedAt)
	if err != nil {
		return apperrors.NewStorageError("store.InsertExperiment", err)
	}
	return nil
}

// GetExperiment fetches an experiment by id.
func (s *Store) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	var e Experiment
	err := s.db.GetContext(ctx, &e, `SELECT id, name, status, created_at FROM experiments WHERE id = ?`, id)
	if err != nil {
		return nil, apperrors.NewStorageError("store.GetExperiment", err)
	}
	return &e, nil
}

// ListExperiments returns every experiment, newest first.
func (s *Store) ListExperiments(ctx context.Context) ([]Experiment, error) {
	var rows []Experiment
	err := s.db.SelectContext(ctx, &rows, `SELECT id, name, status, created_at FROM experiments ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperrors.NewStorageError("store.ListExperiments", err)
	}
	return rows, nil
}

// DeleteExperiment removes an experiment and its variants.
func (s *Store) DeleteExperiment(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError("store.DeleteExperiment", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM variants WHERE experiment_id = ?`, id); err != nil {
		return apperrors.NewStorageError("store.DeleteExperiment", err)
	}
	if _, err := tx.Exec(`DELETE FROM experiments WHERE id = ?`, id); err != nil {
		return apperrors.NewStorageError("store.DeleteExperiment", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError("store.DeleteExperiment", err)
	}
	return nil
}

// SetExperimentStatus updates an experiment's lifecycle status.
func (s *Store) SetExperimentStatus(ctx context.Context, id string, status ExperimentStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE experiments SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return apperrors.NewStorageError("store.SetExperimentStatus", err)
	}
	return nil
}

// InsertVariant appends a variant to an experiment, sequenced after any
// existing variants so runVariant can find "the next pending one" in order.
func (s *Store) InsertVariant(ctx context.Context, v Variant) error {
	var maxSeq int
	_ = s.db.GetContext(ctx, &maxSeq, `SELECT COALESCE(MAX(sequence), -1) FROM variants WHERE experiment_id = ?`, v.ExperimentID)
	v.Sequence = maxSeq + 1
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO variants (id, experiment_id, status, world_seed, duration_ticks, config_overrides, agent_configs, start_tick, end_tick, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ExperimentID, v.Status, v.WorldSeed, v.DurationTicks, v.ConfigOverrides, v.AgentConfigs, v.StartTick, v.EndTick, v.Sequence)
	if err != nil {
		return apperrors.NewStorageError("store.InsertVariant", err)
	}
	return nil
}

// GetVariant fetches a single variant by id.
func (s *Store) GetVariant(ctx context.Context, id string) (*Variant, error) {
	var v Variant
	err := s.db.GetContext(ctx, &v,
		`SELECT id, experiment_id, status, world_seed, duration_ticks, config_overrides, agent_configs, start_tick, end_tick, sequence
		 FROM variants WHERE id = ?`, id)
	if err != nil {
		return nil, apperrors.NewStorageError("store.GetVariant", err)
	}
	return &v, nil
}

// ListVariants returns every variant of an experiment in run order.
func (s *Store) ListVariants(ctx context.Context, experimentID string) ([]Variant, error) {
	var rows []Variant
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, experiment_id, status, world_seed, duration_ticks, config_overrides, agent_configs, start_tick, end_tick, sequence
		 FROM variants WHERE experiment_id = ? ORDER BY sequence ASC`, experimentID)
	if err != nil {
		return nil, apperrors.NewStorageError("store.ListVariants", err)
	}
	return rows, nil
}

// NextPendingVariant returns the earliest-sequenced planning variant of an
// experiment, or nil if none remain (spec.md §4.8 "run next pending
// variant").
func (s *Store) NextPendingVariant(ctx context.Context, experimentID string) (*Variant, error) {
	var v Variant
	err := s.db.GetContext(ctx, &v,
		`SELECT id, experiment_id, status, world_seed, duration_ticks, config_overrides, agent_configs, start_tick, end_tick, sequence
		 FROM variants WHERE experiment_id = ? AND status = ? ORDER BY sequence ASC LIMIT 1`,
		experimentID, ExperimentPlanning)
	if err != nil {
		return nil, nil //nolint:nilerr // no-rows is "none pending", not a storage failure
	}
	return &v, nil
}

// HasRunningVariant reports whether any variant of the experiment is
// currently running (spec.md §4.8 step 1, "reject if a variant is already
// running").
func (s *Store) HasRunningVariant(ctx context.Context, experimentID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM variants WHERE experiment_id = ? AND status = ?`, experimentID, ExperimentRunning)
	if err != nil {
		return false, apperrors.NewStorageError("store.HasRunningVariant", err)
	}
	return count > 0, nil
}

// GetRunningVariant returns the experiment's currently running variant, or
// nil if none is running.
func (s *Store) GetRunningVariant(ctx context.Context, experimentID string) (*Variant, error) {
	var v Variant
	err := s.db.GetContext(ctx, &v,
		`SELECT id, experiment_id, status, world_seed, duration_ticks, config_overrides, agent_configs, start_tick, end_tick, sequence
		 FROM variants WHERE experiment_id = ? AND status = ? LIMIT 1`,
		experimentID, ExperimentRunning)
	if err != nil {
		return nil, nil //nolint:nilerr // no-rows is "none running", not a storage failure
	}
	return &v, nil
}

// StartVariant marks a variant running and records its start tick.
func (s *Store) StartVariant(ctx context.Context, id string, startTick uint64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE variants SET status = ?, start_tick = ? WHERE id = ?`, ExperimentRunning, startTick, id)
	if err != nil {
		return apperrors.NewStorageError("store.StartVariant", err)
	}
	return nil
}

// CompleteVariant marks a variant completed, records its end tick, and
// persists the captured world-snapshot JSON (spec.md §4.8 step, "capture
// snapshot on completion") so a variant's final world state survives the
// next variant's reset.
func (s *Store) CompleteVariant(ctx context.Context, id string, endTick uint64, snapshotJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE variants SET status = ?, end_tick = ?, result_snapshot = ? WHERE id = ?`,
		ExperimentDone, endTick, snapshotJSON, id)
	if err != nil {
		return apperrors.NewStorageError("store.CompleteVariant", err)
	}
	return nil
}
