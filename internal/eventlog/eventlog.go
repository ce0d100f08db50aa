// Package eventlog provides the append-only WorldEvent stream: a
// monotonically increasing, gap-free global version counter backed by a
// relational table, with range scans by tick and by agent.
//
// Grounded on the teacher's internal/persistence/db.go SaveEvents/
// RecentEvents (sqlx + modernc.org/sqlite), generalized from the teacher's
// fire-and-forget event-description log to a durable, versioned append log
// that the tick engine commits to atomically per agent (spec.md §4.2).
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/apperrors"
)

// Event is a single committed world event.
type Event struct {
	Version   uint64     `json:"version" db:"version"`
	Tick      uint64     `json:"tick" db:"tick"`
	Type      string     `json:"type" db:"type"`
	AgentID   *agents.ID `json:"agentId,omitempty" db:"agent_id"`
	Payload   []byte     `json:"payload" db:"payload"` // JSON-encoded detail
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
}

// Log is the append-only event store. The in-memory counter is the source
// of truth for version assignment; it is seeded from the persisted
// high-water mark on startup via InitGlobalVersion so that version numbers
// remain strictly increasing across restarts (spec.md §4.2).
type Log struct {
	db      *sqlx.DB
	version atomic.Uint64
}

// New wraps an already-migrated sqlx connection. Call InitGlobalVersion
// once before the engine accepts new events.
func New(db *sqlx.DB) *Log {
	return &Log{db: db}
}

// InitGlobalVersion scans the persisted log's maximum version and re-seeds
// the in-memory counter. Must run before the first Append on startup.
func (l *Log) InitGlobalVersion(ctx context.Context) error {
	var maxVersion uint64
	err := l.db.GetContext(ctx, &maxVersion, `SELECT COALESCE(MAX(version), 0) FROM events`)
	if err != nil {
		return apperrors.NewStorageError("eventlog.InitGlobalVersion", err)
	}
	l.version.Store(maxVersion)
	return nil
}

// CurrentVersion returns the high-water mark, equal to the last version
// assigned by Append.
func (l *Log) CurrentVersion() uint64 {
	return l.version.Load()
}

// Append assigns the event a strictly greater version than any previously
// appended event and durably persists it, returning that version.
//
// Version assignment is serialized by the atomic counter; the insert uses
// the resulting value directly rather than relying on AUTOINCREMENT, so
// that InitGlobalVersion's recovery and this method agree on the same
// counter semantics (spec.md §5, "append must produce versions under a
// global lock or atomic counter").
func (l *Log) Append(ctx context.Context, tick uint64, eventType string, agentID *agents.ID, payload any) (uint64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, apperrors.Validation(fmt.Sprintf("marshal event payload: %v", err))
	}

	version := l.version.Add(1)
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO events (version, tick, type, agent_id, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		version, tick, eventType, agentID, string(body), time.Now(),
	)
	if err != nil {
		return 0, apperrors.NewStorageError("eventlog.Append", err)
	}
	return version, nil
}

// GetRecentEvents returns the most recently appended events, newest first.
func (l *Log) GetRecentEvents(ctx context.Context, limit int) ([]Event, error) {
	var rows []Event
	err := l.db.SelectContext(ctx, &rows,
		`SELECT version, tick, type, agent_id, payload, created_at FROM events ORDER BY version DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, apperrors.NewStorageError("eventlog.GetRecentEvents", err)
	}
	return rows, nil
}

// GetEventsAtTick returns all events committed during a single tick, in
// version order (which equals emission order within that tick).
func (l *Log) GetEventsAtTick(ctx context.Context, tick uint64) ([]Event, error) {
	var rows []Event
	err := l.db.SelectContext(ctx, &rows,
		`SELECT version, tick, type, agent_id, payload, created_at FROM events WHERE tick = ? ORDER BY version ASC`,
		tick,
	)
	if err != nil {
		return nil, apperrors.NewStorageError("eventlog.GetEventsAtTick", err)
	}
	return rows, nil
}

// GetEventsInRange returns events with version in (from, to], oldest first,
// capped at limit.
func (l *Log) GetEventsInRange(ctx context.Context, from, to uint64, limit int) ([]Event, error) {
	var rows []Event
	err := l.db.SelectContext(ctx, &rows,
		`SELECT version, tick, type, agent_id, payload, created_at FROM events
		 WHERE version > ? AND version <= ? ORDER BY version ASC LIMIT ?`,
		from, to, limit,
	)
	if err != nil {
		return nil, apperrors.NewStorageError("eventlog.GetEventsInRange", err)
	}
	return rows, nil
}

// GetDistinctTicks returns the most recent ticks that have at least one
// committed event, newest first, capped at limit — backs the replay
// surface's "list of ticks" index (spec.md §6 `/api/replay/ticks`).
func (l *Log) GetDistinctTicks(ctx context.Context, limit int) ([]uint64, error) {
	var rows []uint64
	err := l.db.SelectContext(ctx, &rows,
		`SELECT DISTINCT tick FROM events ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.NewStorageError("eventlog.GetDistinctTicks", err)
	}
	return rows, nil
}

// GetAgentTimeline returns the events that carry the given agent's id,
// newest first, capped at limit.
func (l *Log) GetAgentTimeline(ctx context.Context, agentID agents.ID, limit int) ([]Event, error) {
	var rows []Event
	err := l.db.SelectContext(ctx, &rows,
		`SELECT version, tick, type, agent_id, payload, created_at FROM events
		 WHERE agent_id = ? ORDER BY version DESC LIMIT ?`,
		agentID, limit,
	)
	if err != nil {
		return nil, apperrors.NewStorageError("eventlog.GetAgentTimeline", err)
	}
	return rows, nil
}

// Migrate creates the events table and its indexes. Called once from the
// store package's migration step so the two packages share a single
// connection and transaction lifecycle, matching the teacher's single
// db.migrate() entrypoint (internal/persistence/db.go).
func Migrate(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS events (
		version INTEGER PRIMARY KEY,
		tick INTEGER NOT NULL,
		type TEXT NOT NULL,
		agent_id TEXT,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_id);
	`)
	if err != nil {
		return apperrors.NewStorageError("eventlog.Migrate", err)
	}
	return nil
}
