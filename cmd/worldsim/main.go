// Command worldsim wires the World Store, Event Log, Projection Cache,
// Broadcast Bus, LLM Adapter Layer, Tick Engine, Experiment Controller,
// External Agent Gateway, and HTTP API together and runs the simulation
// server (spec.md §2, §6 "Configuration").
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/talgya/crossworlds/internal/api"
	"github.com/talgya/crossworlds/internal/engine"
	"github.com/talgya/crossworlds/internal/eventlog"
	"github.com/talgya/crossworlds/internal/experiment"
	"github.com/talgya/crossworlds/internal/gateway"
	"github.com/talgya/crossworlds/internal/llm"
	"github.com/talgya/crossworlds/internal/projection"
	"github.com/talgya/crossworlds/internal/rng"
	"github.com/talgya/crossworlds/internal/spawn"
	"github.com/talgya/crossworlds/internal/store"
	"github.com/talgya/crossworlds/internal/world"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	testMode := getenvBool("TEST_MODE", false)
	dbPath := getenv("DB_PATH", "data/crossworlds.db")
	port := getenvInt("PORT", 8080)
	tickIntervalMs := getenvInt("TICK_INTERVAL_MS", 500)
	adminKey := os.Getenv("WORLDSIM_ADMIN_KEY")

	if err := os.MkdirAll("data", 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directory")
	}

	st, err := store.Open(dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()
	log.Info().Str("path", dbPath).Msg("store opened")

	evLog := eventlog.New(st.DB())
	if err := evLog.InitGlobalVersion(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize event log version")
	}

	redisClient := newRedisClient(os.Getenv("REDIS_URL"))
	cache := projection.NewCache(redisClient)
	broadcast := projection.NewBroadcast()

	seed := int64(getenvInt("WORLD_SEED", 42))
	rngSource := rng.New(seed)

	registry := buildLLMRegistry(testMode, cache, rngSource)

	cfg := engine.DefaultConfig()
	cfg.TickInterval = time.Duration(tickIntervalMs) * time.Millisecond

	eng := engine.New(cfg, st, evLog, cache, broadcast, registry, rngSource)
	exp := experiment.New(st, eng, cache, rngSource)
	gw := gateway.New(st, eng, rngSource)

	if err := bootstrapWorld(context.Background(), st, rngSource, seed); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap initial world")
	}

	srv := &api.Server{
		Store:      st,
		Engine:     eng,
		Log:        evLog,
		Cache:      cache,
		Broadcast:  broadcast,
		Experiment: exp,
		Gateway:    gw,
		RNG:        rngSource,
		AdminKey:   adminKey,
		StartedAt:  time.Now(),
	}

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: srv.Router(),
	}

	if err := eng.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to start engine")
	}

	go func() {
		log.Info().Int("port", port).Msg("worldsim listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	eng.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
}

// bootstrapWorld seeds a fresh store with a small default population so
// the API has something to serve immediately after startup, without
// requiring an operator to call POST /api/world/start first.
func bootstrapWorld(ctx context.Context, st *store.Store, src *rng.Source, seed int64) error {
	ws, err := st.GetWorldState(ctx)
	if err == nil && ws.CurrentTick > 0 {
		return nil
	}

	genCfg := world.DefaultGenConfig()
	genCfg.Seed = seed
	grid := world.Generate(genCfg)

	cfg := spawn.Config{
		Grid:               grid,
		ResourceSpawnCount: 200,
		ShelterCount:       10,
		Agents: []spawn.AgentSpec{
			{PolicyType: "forager"}, {PolicyType: "forager"},
			{PolicyType: "trader"}, {PolicyType: "trader"},
			{PolicyType: "wanderer"},
		},
	}
	if err := spawn.Populate(ctx, st, src, cfg); err != nil {
		return err
	}
	return st.InitWorldState(ctx)
}

// buildLLMRegistry wires one adapter per policy type plus the fallback
// default. Under TEST_MODE every policy type resolves to the pure,
// I/O-free fallback ladder for reproducible test runs (spec.md §6
// "Configuration", TEST_MODE).
func buildLLMRegistry(testMode bool, cache *projection.Cache, src *rng.Source) *llm.Registry {
	fallback := llm.NewFallbackAdapter(src)
	registry := llm.NewRegistry(fallback)
	if testMode {
		return registry
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	vocab := llm.VocabMap{}
	cap := llm.Capability{LatencyFloor: 200 * time.Millisecond, MaxTokens: 512}
	for _, policyType := range []string{"forager", "trader", "wanderer", "external"} {
		registry.Register(policyType, llm.NewAnthropicAdapter(policyType, apiKey, cache, vocab, cap, testMode, src))
	}
	return registry
}

func newRedisClient(url string) *redis.Client {
	if url == "" {
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Error().Err(err).Msg("invalid REDIS_URL, running without projection cache acceleration")
		return nil
	}
	return redis.NewClient(opt)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
