// Package api provides the HTTP surface over the simulation: world
// lifecycle, read-only agent/event/replay queries, experiment CRUD, and the
// external agent gateway (spec.md §6).
//
// Grounded on the teacher's internal/api/server.go (GET endpoints public,
// POST endpoints behind a bearer admin token) and ratelimit.go's IP-bucketed
// limiter, generalized from the teacher's manual path-splitting router to
// go-chi/chi/v5 to carry the much larger path-parameterized surface this
// spec requires.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/apperrors"
	"github.com/talgya/crossworlds/internal/engine"
	"github.com/talgya/crossworlds/internal/eventlog"
	"github.com/talgya/crossworlds/internal/experiment"
	"github.com/talgya/crossworlds/internal/gateway"
	"github.com/talgya/crossworlds/internal/projection"
	"github.com/talgya/crossworlds/internal/rng"
	"github.com/talgya/crossworlds/internal/spawn"
	"github.com/talgya/crossworlds/internal/store"
	"github.com/talgya/crossworlds/internal/world"
)

// defaultEventsLimit and maxEventsLimit bound every events-returning query
// (spec.md §6, "recent events (≤200)").
const (
	defaultEventsLimit = 50
	maxEventsLimit     = 200
)

// Server wires every HTTP route to the shared engine/store/cache — the same
// collaborators cmd/worldsim assembles, threaded here as plain struct
// fields rather than request-context values (teacher's server.go style).
type Server struct {
	Store      *store.Store
	Engine     *engine.Engine
	Log        *eventlog.Log
	Cache      *projection.Cache
	Broadcast  *projection.Broadcast
	Experiment *experiment.Controller
	Gateway    *gateway.Gateway
	RNG        *rng.Source
	AdminKey   string // bearer token for the world-control and experiment POST/DELETE endpoints (not the /api/v1/agents gateway routes); empty disables them
	StartedAt  time.Time
}

// Router builds the full chi mux.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)

	r.Route("/api/world", func(r chi.Router) {
		r.Get("/state", s.handleWorldState)
		r.With(s.adminOnly).Post("/start", s.handleWorldStart)
		r.With(s.adminOnly).Post("/pause", s.handleWorldPause)
		r.With(s.adminOnly).Post("/resume", s.handleWorldResume)
		r.With(s.adminOnly).Post("/reset", s.handleWorldReset)
	})

	r.Route("/api/agents", func(r chi.Router) {
		r.Get("/", s.handleListAgents)
		r.Get("/{id}", s.handleGetAgent)
	})

	r.Route("/api/events", func(r chi.Router) {
		r.Get("/recent", s.handleRecentEvents)
		r.Get("/", s.handleEventStream)
	})

	r.Route("/api/experiments", func(r chi.Router) {
		r.With(s.adminOnly).Post("/", s.handleCreateExperiment)
		r.Get("/", s.handleListExperiments)
		r.With(s.adminOnly).Delete("/{id}", s.handleDeleteExperiment)
		r.With(s.adminOnly).Post("/{id}/variants", s.handleAddVariant)
		r.With(s.adminOnly).Post("/{id}/run", s.handleRunVariant)
		r.With(s.adminOnly).Post("/{id}/stop", s.handleStopVariant)
	})

	r.Route("/api/replay", func(r chi.Router) {
		r.Get("/ticks", s.handleReplayTicks)
		r.Get("/tick/{n}", s.handleReplayTick)
		r.Get("/tick/{n}/events", s.handleReplayTickEvents)
		r.Get("/events", s.handleReplayEventsRange)
		r.Get("/agent/{id}/history", s.handleAgentHistory)
		r.Get("/agent/{id}/timeline", s.handleAgentTimeline)
	})

	r.Route("/api/v1/agents", func(r chi.Router) {
		r.Post("/register", s.handleGatewayRegister)
		r.Get("/{id}/observe", s.handleGatewayObserve)
		r.With(decideRateLimit).Post("/{id}/decide", s.handleGatewayDecide)
		r.Delete("/{id}", s.handleGatewayDeregister)
	})

	return r
}

// decideLimiter guards the external decide() route with the teacher's
// IP-bucketed limiter (internal/api/ratelimit.go), layered in front of the
// gateway's own per-agent/per-tick limiter — an abusive caller is capped by
// IP before it ever reaches the per-agent accounting (spec.md §6).
var decideLimiter = NewRateLimiter(30, time.Minute)

func decideRateLimit(next http.Handler) http.Handler {
	return RateLimitMiddleware(decideLimiter, next.ServeHTTP)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminOnly guards POST/DELETE endpoints behind a bearer token, exactly the
// teacher's admin gate — an empty AdminKey disables every guarded route
// rather than leaving it open (spec.md §6).
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			writeError(w, apperrors.Protocol(http.StatusForbidden, "admin endpoints disabled"))
			return
		}
		got := r.Header.Get("Authorization")
		if got != "Bearer "+s.AdminKey {
			writeError(w, apperrors.Protocol(http.StatusUnauthorized, "missing or invalid admin token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ws, err := s.Store.GetWorldState(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"engineState":  s.Engine.State(),
		"currentTick":  ws.CurrentTick,
		"isPaused":     ws.IsPaused,
		"eventVersion": s.Log.CurrentVersion(),
		"subscribers":  s.Broadcast.SubscriberCount(),
		"uptime":       humanize.RelTime(s.StartedAt, time.Now(), "", ""),
	})
}

func (s *Server) handleWorldState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Cache.Snapshot(r.Context(), s.buildSnapshot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) buildSnapshot(ctx context.Context) (projection.WorldSnapshot, error) {
	ws, err := s.Store.GetWorldState(ctx)
	if err != nil {
		return projection.WorldSnapshot{}, err
	}
	alive, err := s.Store.GetAliveAgents(ctx)
	if err != nil {
		return projection.WorldSnapshot{}, err
	}
	spawns, err := s.Store.GetAllResourceSpawns(ctx)
	if err != nil {
		return projection.WorldSnapshot{}, err
	}
	shelters, err := s.Store.GetAllShelters(ctx)
	if err != nil {
		return projection.WorldSnapshot{}, err
	}
	return projection.WorldSnapshot{Tick: ws.CurrentTick, Agents: alive, ResourceSpawns: spawns, Shelters: shelters}, nil
}

// worldStartRequest is the body of POST /api/world/start (spec.md §4.8
// step 4's agentConfigs shape, reused here for a non-experiment start).
type worldStartRequest struct {
	Seed               int64             `json:"seed"`
	Width              int               `json:"width"`
	Height             int               `json:"height"`
	ResourceSpawnCount int               `json:"resourceSpawnCount"`
	ShelterCount       int               `json:"shelterCount"`
	Agents             []spawn.AgentSpec `json:"agents"`
}

func (s *Server) handleWorldStart(w http.ResponseWriter, r *http.Request) {
	var req worldStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Agents) == 0 {
		writeError(w, apperrors.Validation("agents must not be empty"))
		return
	}

	s.Engine.Stop()
	s.Cache.Clear(r.Context())
	if err := s.Store.ResetWorldData(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	if req.Seed != 0 {
		s.RNG.Reseed(req.Seed)
	}

	genCfg := world.DefaultGenConfig()
	if req.Seed != 0 {
		genCfg.Seed = req.Seed
	}
	if req.Width > 0 {
		genCfg.Width = req.Width
	}
	if req.Height > 0 {
		genCfg.Height = req.Height
	}
	grid := world.Generate(genCfg)

	spawnCfg := spawn.Config{
		Grid:               grid,
		ResourceSpawnCount: orDefault(req.ResourceSpawnCount, 200),
		ShelterCount:       orDefault(req.ShelterCount, 10),
		Agents:             req.Agents,
	}
	if err := spawn.Populate(r.Context(), s.Store, s.RNG, spawnCfg); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.InitWorldState(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Engine.Start(context.Background()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (s *Server) handleWorldPause(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.Pause(); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.PauseWorld(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleWorldResume(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.Resume(); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.ResumeWorld(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleWorldReset(w http.ResponseWriter, r *http.Request) {
	s.Engine.Stop()
	s.Cache.Clear(r.Context())
	if err := s.Store.ResetWorldData(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	alive, err := s.Store.GetAliveAgents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alive)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := agents.ID(chi.URLParam(r, "id"))
	a, err := s.Store.GetAgent(r.Context(), id)
	if err != nil {
		writeError(w, apperrors.Protocol(http.StatusNotFound, "agent not found"))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultEventsLimit, maxEventsLimit)
	rows, err := s.Log.GetRecentEvents(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func parseLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// handleEventStream serves the SSE live feed (spec.md §6 "connected is the
// first frame... ping every 30s").
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Fatal("streaming unsupported", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ws, err := s.Store.GetWorldState(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSSE(w, "connected", map[string]any{"tick": ws.CurrentTick, "timestamp": time.Now()})
	flusher.Flush()

	subID, ch := s.Broadcast.Subscribe()
	defer s.Broadcast.Unsubscribe(subID)

	ticker := time.NewTicker(projection.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, ev.Type, ev)
			flusher.Flush()
		case <-ticker.C:
			writeSSE(w, "ping", map[string]any{"time": time.Now()})
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte("{}")
	}
	w.Write([]byte("event: " + event + "\n"))
	w.Write([]byte("data: "))
	w.Write(body)
	w.Write([]byte("\n\n"))
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	exp, err := s.Experiment.CreateExperiment(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Store.ListExperiments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Store.GetExperiment(r.Context(), id); err != nil {
		writeError(w, apperrors.Protocol(http.StatusNotFound, "experiment not found"))
		return
	}
	if err := s.Store.DeleteExperiment(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAddVariant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		WorldSeed       int64                      `json:"worldSeed"`
		DurationTicks   uint64                     `json:"durationTicks"`
		ConfigOverrides experiment.ConfigOverrides `json:"configOverrides"`
		Agents          []spawn.AgentSpec          `json:"agents"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	v, err := s.Experiment.AddVariant(r.Context(), id, req.WorldSeed, req.DurationTicks, req.ConfigOverrides, req.Agents)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleRunVariant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := s.Experiment.RunVariant(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStopVariant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Experiment.StopVariant(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleReplayTicks(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultEventsLimit, maxEventsLimit)
	ticks, err := s.Log.GetDistinctTicks(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticks)
}

func (s *Server) handleReplayTick(w http.ResponseWriter, r *http.Request) {
	tick, err := strconv.ParseUint(chi.URLParam(r, "n"), 10, 64)
	if err != nil {
		writeError(w, apperrors.Validation("invalid tick"))
		return
	}
	rows, err := s.Log.GetEventsAtTick(r.Context(), tick)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tick": tick, "events": rows})
}

func (s *Server) handleReplayTickEvents(w http.ResponseWriter, r *http.Request) {
	tick, err := strconv.ParseUint(chi.URLParam(r, "n"), 10, 64)
	if err != nil {
		writeError(w, apperrors.Validation("invalid tick"))
		return
	}
	rows, err := s.Log.GetEventsAtTick(r.Context(), tick)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleReplayEventsRange(w http.ResponseWriter, r *http.Request) {
	from := parseUintQuery(r, "from", 0)
	to := parseUintQuery(r, "to", s.Log.CurrentVersion())
	limit := parseLimit(r, defaultEventsLimit, maxEventsLimit)
	rows, err := s.Log.GetEventsInRange(r.Context(), from, to, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func parseUintQuery(r *http.Request, key string, def uint64) uint64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) handleAgentHistory(w http.ResponseWriter, r *http.Request) {
	id := agents.ID(chi.URLParam(r, "id"))
	limit := parseLimit(r, defaultEventsLimit, maxEventsLimit)
	rows, err := s.Log.GetAgentTimeline(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleAgentTimeline(w http.ResponseWriter, r *http.Request) {
	id := agents.ID(chi.URLParam(r, "id"))
	limit := parseLimit(r, defaultEventsLimit, maxEventsLimit)
	rows, err := s.Log.GetAgentTimeline(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleGatewayRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string          `json:"name"`
		Endpoint      string          `json:"endpoint"`
		OwnerEmail    string          `json:"ownerEmail"`
		SpawnPosition *world.Position `json:"spawnPosition"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.Gateway.Register(r.Context(), gateway.RegisterRequest{
		Name:          req.Name,
		Endpoint:      req.Endpoint,
		OwnerEmail:    req.OwnerEmail,
		SpawnPosition: req.SpawnPosition,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("agentId", string(result.AgentID)).Msg("gateway: registered external agent")
	writeJSON(w, http.StatusCreated, map[string]string{"agentId": string(result.AgentID), "apiKey": result.APIKey})
}

func apiKeyFromRequest(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func (s *Server) handleGatewayObserve(w http.ResponseWriter, r *http.Request) {
	id := agents.ID(chi.URLParam(r, "id"))
	obs, err := s.Gateway.Observe(r.Context(), id, apiKeyFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

func (s *Server) handleGatewayDecide(w http.ResponseWriter, r *http.Request) {
	id := agents.ID(chi.URLParam(r, "id"))
	var req struct {
		Action    string         `json:"action"`
		Params    map[string]any `json:"params"`
		Reasoning string         `json:"reasoning"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	decision, err := s.Gateway.Decide(r.Context(), id, apiKeyFromRequest(r), gateway.DecideRequest{
		Action: req.Action, Params: req.Params, Reasoning: req.Reasoning,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleGatewayDeregister(w http.ResponseWriter, r *http.Request) {
	id := agents.ID(chi.URLParam(r, "id"))
	if err := s.Gateway.Deregister(r.Context(), id, apiKeyFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deregistered"})
}
